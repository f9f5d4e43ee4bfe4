// Package pricing converts catalog price strings into decimal amounts and
// performs the cart's money arithmetic. All amounts are rounded to cents with
// round-half-up; binary floating point is never used.
package pricing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// CurrencySymbol prefixes every price string.
const CurrencySymbol = "$"

// Places is the number of fractional digits kept after rounding.
const Places = 2

var amountPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// ParseError reports a price string that is not a currency-prefixed,
// non-negative decimal.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed price %q: %s", e.Input, e.Reason)
}

// Unwrap lets callers match ParseError against apperrors.ErrUnprocessable.
func (e *ParseError) Unwrap() error {
	return apperrors.ErrUnprocessable
}

// ParsePrice strips the leading currency symbol from s and parses the rest as
// a non-negative decimal. Surrounding whitespace is not tolerated.
func ParsePrice(s string) (decimal.Decimal, error) {
	rest, ok := strings.CutPrefix(s, CurrencySymbol)
	if !ok {
		return decimal.Zero, &ParseError{Input: s, Reason: "missing currency symbol " + CurrencySymbol}
	}
	if rest == "" {
		return decimal.Zero, &ParseError{Input: s, Reason: "missing amount"}
	}
	if !amountPattern.MatchString(rest) {
		return decimal.Zero, &ParseError{Input: s, Reason: "amount is not a non-negative decimal"}
	}

	d, err := decimal.NewFromString(rest)
	if err != nil {
		return decimal.Zero, &ParseError{Input: s, Reason: err.Error()}
	}
	return d, nil
}

// MustParsePrice is ParsePrice for trusted constants. It panics on error.
func MustParsePrice(s string) decimal.Decimal {
	d, err := ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Round rounds d to cents, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Subtotal returns round(price × qty).
func Subtotal(price string, qty int) (decimal.Decimal, error) {
	unit, err := ParsePrice(price)
	if err != nil {
		return decimal.Zero, err
	}
	return Round(unit.Mul(decimal.NewFromInt(int64(qty)))), nil
}

// Sum adds already-rounded amounts and rounds the result.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return Round(total)
}

// Format renders d as a currency string with exactly two decimals, e.g. "$40.50".
func Format(d decimal.Decimal) string {
	return CurrencySymbol + Round(d).StringFixed(Places)
}
