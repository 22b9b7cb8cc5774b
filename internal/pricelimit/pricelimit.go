// Package pricelimit computes the daily price-limit band (limit-up /
// limit-down) for A-share stocks and validates/normalizes stock codes.
//
// Band width depends on the stock's regulatory class: main-board ±10%,
// ST-named ±5%, ChiNext (300-prefix) and STAR (688-prefix) ±20%, BSE
// (43/83/87-prefix) ±30%.
package pricelimit

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Class is a stock's regulatory class for price-limit purposes.
type Class string

const (
	ClassNormal  Class = "normal"
	ClassST      Class = "st"
	ClassChiNext Class = "chinext"
	ClassSTAR    Class = "star"
	ClassBSE     Class = "bse"
)

var ratios = map[Class]decimal.Decimal{
	ClassNormal:  decimal.NewFromFloat(0.10),
	ClassST:      decimal.NewFromFloat(0.05),
	ClassChiNext: decimal.NewFromFloat(0.20),
	ClassSTAR:    decimal.NewFromFloat(0.20),
	ClassBSE:     decimal.NewFromFloat(0.30),
}

// Ratio returns the class's daily band width as a fraction of the base price.
func (c Class) Ratio() decimal.Decimal {
	if r, ok := ratios[c]; ok {
		return r
	}
	return ratios[ClassNormal]
}

// Classify determines a stock's regulatory class from its code prefix and
// name. ST status is carried in the name ("ST"/"*ST"), so the name check
// takes precedence over the code prefix.
func Classify(code, name string) Class {
	if strings.Contains(name, "ST") {
		return ClassST
	}
	switch {
	case hasPrefix(code, "43", "83", "87"):
		return ClassBSE
	case strings.HasPrefix(code, "688"):
		return ClassSTAR
	case strings.HasPrefix(code, "300"):
		return ClassChiNext
	default:
		return ClassNormal
	}
}

// Band computes (limitUp, limitDown) from the previous close. Prices round
// to the cent and the lower bound never drops below 0.01. A non-positive
// base yields a zero band, which callers must treat as "band unknown".
func Band(code, name string, prevClose decimal.Decimal) (up, down decimal.Decimal) {
	if !prevClose.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	r := Classify(code, name).Ratio()
	one := decimal.NewFromInt(1)
	up = prevClose.Mul(one.Add(r)).Round(2)
	down = prevClose.Mul(one.Sub(r)).Round(2)
	floor := decimal.New(1, -2)
	if down.LessThan(floor) {
		down = floor
	}
	return up, down
}

// ErrInvalidCode marks a symbol that is not a tradable A-share code.
var ErrInvalidCode = errors.New("pricelimit: invalid stock code")

// codePattern admits tradable A-share prefixes only; index tickers (39x)
// and funds fall outside it.
var codePattern = regexp.MustCompile(`^(00|30|60|68|43|83|87)\d{4}$`)

// NormalizeCode validates and canonicalizes a stock code: six digits with a
// recognized exchange prefix.
func NormalizeCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if !codePattern.MatchString(code) {
		return "", ErrInvalidCode
	}
	return code, nil
}

func hasPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
