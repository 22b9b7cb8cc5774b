package rules

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable classification of a declined trading operation.
// Rule violations are expected, recoverable outcomes reported back to the
// caller — never fatal faults.
type Kind string

const (
	KindUserNotRegistered          Kind = "user_not_registered"
	KindQuoteUnavailable           Kind = "quote_unavailable"
	KindStockSuspended             Kind = "stock_suspended"
	KindPriceOutOfLimitBand        Kind = "price_out_of_limit_band"
	KindInsufficientFunds          Kind = "insufficient_funds"
	KindInsufficientSellableVolume Kind = "insufficient_sellable_volume"
	KindInvalidLotSize             Kind = "invalid_lot_size"
	KindBelowMinimumNotional       Kind = "below_minimum_notional"
	KindMarketClosedForOrderType   Kind = "market_closed_for_order_type"
	KindOrderNotFound              Kind = "order_not_found"
	KindOrderNotOwnedByCaller      Kind = "order_not_owned_by_caller"
	KindOrderNotCancellable        Kind = "order_not_cancellable"
	KindInvalidArgument            Kind = "invalid_argument"
)

// Error is a declined-trade outcome: a Kind for programs and a message for
// humans. It satisfies the error interface so it flows through normal error
// returns.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Errorf builds an Error with a formatted human-readable message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from an error chain. The second return is false
// for infrastructure errors that carry no rule classification.
func KindOf(err error) (Kind, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return "", false
}
