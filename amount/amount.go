// Package amount implements the fixed-point decimal codec used for token
// amounts. All arithmetic is string/big.Int based; floating point is never
// used because the token carries 18 fractional digits.
package amount

import (
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the fixed fractional precision of the token.
const Decimals = 18

var scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// InvalidError reports a malformed or out-of-range decimal amount.
type InvalidError struct {
	Field string
	Value string
	Cause string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid amount %q for %s: %s", e.Value, e.Field, e.Cause)
}

// ParseDecimal validates a decimal token-amount string. The accepted grammar
// is digits[.digits] with at most 18 fractional digits, and the value must be
// strictly positive. The field label is carried into any error for caller
// diagnostics.
func ParseDecimal(value, field string) (string, error) {
	trimmed := strings.TrimSpace(value)
	whole, frac, err := splitDecimal(trimmed)
	if err != nil {
		return "", &InvalidError{Field: field, Value: value, Cause: err.Error()}
	}
	if isZero(whole) && isZero(frac) {
		return "", &InvalidError{Field: field, Value: value, Cause: "must be greater than zero"}
	}
	return trimmed, nil
}

// ToBaseUnits scales a validated decimal string by 10^18 losslessly.
func ToBaseUnits(value string) (*big.Int, error) {
	whole, frac, err := splitDecimal(strings.TrimSpace(value))
	if err != nil {
		return nil, &InvalidError{Field: "amount", Value: value, Cause: err.Error()}
	}
	// Right-pad the fractional part to the full precision so the
	// concatenation is the base-unit integer in decimal notation.
	padded := frac + strings.Repeat("0", Decimals-len(frac))
	units, ok := new(big.Int).SetString(whole+padded, 10)
	if !ok {
		return nil, &InvalidError{Field: "amount", Value: value, Cause: "not a decimal number"}
	}
	if units.Sign() <= 0 {
		return nil, &InvalidError{Field: "amount", Value: value, Cause: "must be greater than zero"}
	}
	return units, nil
}

// FromBaseUnits renders a base-unit integer as a decimal string, trimming
// trailing fractional zeros. The output never uses scientific notation.
func FromBaseUnits(units *big.Int) string {
	if units == nil || units.Sign() == 0 {
		return "0"
	}
	neg := units.Sign() < 0
	abs := new(big.Int).Abs(units)
	whole, frac := new(big.Int).QuoRem(abs, scale, new(big.Int))
	out := whole.String()
	if frac.Sign() != 0 {
		digits := fmt.Sprintf("%0*s", Decimals, frac.String())
		digits = strings.TrimRight(digits, "0")
		out += "." + digits
	}
	if neg {
		out = "-" + out
	}
	return out
}

func splitDecimal(value string) (whole, frac string, err error) {
	if value == "" {
		return "", "", fmt.Errorf("empty")
	}
	whole, frac, found := strings.Cut(value, ".")
	if !found {
		frac = ""
	}
	if whole == "" || !allDigits(whole) {
		return "", "", fmt.Errorf("not a decimal number")
	}
	if found && (frac == "" || !allDigits(frac)) {
		return "", "", fmt.Errorf("not a decimal number")
	}
	if len(frac) > Decimals {
		return "", "", fmt.Errorf("more than %d fractional digits", Decimals)
	}
	return whole, frac, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isZero(digits string) bool {
	return strings.Trim(digits, "0") == ""
}
