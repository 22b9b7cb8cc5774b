package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/model"
)

// defaultQuoteURL is the EastMoney realtime single-stock endpoint.
const defaultQuoteURL = "https://push2.eastmoney.com/api/qt/stock/get"

// quoteFields are the push2 field ids needed for simulated trading.
// Price-denominated fields arrive multiplied by 100.
const quoteFields = "f57,f58,f43,f44,f45,f46,f60,f47,f48,f169,f170,f51,f52,f86"

// EastMoneyClient implements RawProvider against the EastMoney push2 API.
// Every request carries a timeout so a hung feed surfaces as an
// ErrUnavailable rather than blocking order placement.
type EastMoneyClient struct {
	client  *http.Client
	baseURL string
}

// NewEastMoneyClient creates a feed client with the given request timeout.
func NewEastMoneyClient(timeout time.Duration) *EastMoneyClient {
	return &EastMoneyClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: defaultQuoteURL,
	}
}

type push2Response struct {
	Data map[string]json.RawMessage `json:"data"`
}

// Fetch retrieves the raw quote for a normalized 6-digit stock code.
func (c *EastMoneyClient) Fetch(ctx context.Context, code string) (*model.Quote, error) {
	params := url.Values{}
	params.Set("secid", secID(code))
	params.Set("fields", quoteFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrUnavailable, code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch %s: status %d", ErrUnavailable, code, resp.StatusCode)
	}

	var body push2Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, code, err)
	}
	if body.Data == nil {
		return nil, fmt.Errorf("%w: no data for %s", ErrUnavailable, code)
	}

	return parseQuote(code, body.Data), nil
}

// parseQuote maps push2 fields onto a Quote. Suspended or not-yet-traded
// stocks report "-" in price fields; those parse as zero, and the suspension
// heuristic mirrors the feed's behavior: no price, or no volume with a flat
// change.
func parseQuote(code string, data map[string]json.RawMessage) *model.Quote {
	q := &model.Quote{
		Code:          code,
		Name:          fieldString(data, "f58"),
		Current:       fieldPrice(data, "f43"),
		High:          fieldPrice(data, "f44"),
		Low:           fieldPrice(data, "f45"),
		Open:          fieldPrice(data, "f46"),
		PrevClose:     fieldPrice(data, "f60"),
		Volume:        fieldInt(data, "f47"),
		Turnover:      fieldDecimal(data, "f48"),
		ChangeAmount:  fieldPrice(data, "f169"),
		ChangePercent: fieldPrice(data, "f170"),
		LimitUp:       fieldPrice(data, "f51"),
		LimitDown:     fieldPrice(data, "f52"),
		AsOf:          time.Now(),
	}

	if ts := fieldInt(data, "f86"); ts > 0 {
		q.AsOf = time.Unix(ts, 0)
	}
	q.Suspended = !q.Current.IsPositive() ||
		(q.Volume == 0 && q.ChangeAmount.IsZero())
	return q
}

// secID maps a stock code to EastMoney's exchange-prefixed id:
// 1 for Shanghai (60/68), 0 for Shenzhen and BSE.
func secID(code string) string {
	if strings.HasPrefix(code, "60") || strings.HasPrefix(code, "68") {
		return "1." + code
	}
	return "0." + code
}

// --- field decoding: push2 mixes numbers with "-" placeholders ---

func fieldRaw(data map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := data[key]
	if !ok {
		return "", false
	}
	s := strings.Trim(string(raw), `"`)
	if s == "" || s == "-" {
		return "", false
	}
	return s, true
}

func fieldString(data map[string]json.RawMessage, key string) string {
	s, _ := fieldRaw(data, key)
	return s
}

func fieldDecimal(data map[string]json.RawMessage, key string) decimal.Decimal {
	s, ok := fieldRaw(data, key)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// fieldPrice reads a price-denominated field, scaling down by 100.
func fieldPrice(data map[string]json.RawMessage, key string) decimal.Decimal {
	return fieldDecimal(data, key).Shift(-2)
}

func fieldInt(data map[string]json.RawMessage, key string) int64 {
	s, ok := fieldRaw(data, key)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
