package paypal

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// zeroDecimalCurrencies lists ISO 4217 currencies that have no minor
// unit, matching the set PayPal treats as whole-number amounts.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {},
	"KMF": {}, "KRW": {}, "MGA": {}, "PYG": {}, "RWF": {},
	"UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {},
	"XPF": {},
}

// fractionDigits returns the number of decimal places used on the wire
// for the given currency.
func fractionDigits(currencyCode string) int {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currencyCode)]; ok {
		return 0
	}
	return 2
}

// FormatAmount renders an amount in minor units as the decimal string
// the gateway expects: "1234" stays "1234" for JPY and becomes "12.34"
// for USD. Integer arithmetic only, so every minor-unit amount survives
// a round trip through ToMinorUnits unchanged.
func FormatAmount(minorUnits int64, currencyCode string) string {
	if fractionDigits(currencyCode) == 0 {
		return strconv.FormatInt(minorUnits, 10)
	}
	sign := ""
	if minorUnits < 0 {
		sign = "-"
		minorUnits = -minorUnits
	}
	return fmt.Sprintf("%s%d.%02d", sign, minorUnits/100, minorUnits%100)
}

// ToMinorUnits parses a gateway decimal string back into minor units,
// rounding half away from zero when the string carries more precision
// than the currency does.
func ToMinorUnits(value, currencyCode string) (int64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	// ParseFloat accepts "NaN" and "Inf", and overflowing exponents
	// round to infinity. Converting those to int64 produces garbage
	// with no error, so they are rejected here.
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("amount %q is not a finite number", value)
	}
	scaled := math.Round(f * math.Pow10(fractionDigits(currencyCode)))
	if scaled >= math.MaxInt64 || scaled <= math.MinInt64 {
		return 0, fmt.Errorf("amount %q overflows minor units", value)
	}
	return int64(scaled), nil
}
