package paypal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		minor    int64
		currency string
		want     string
	}{
		{12345, "USD", "123.45"},
		{12345, "usd", "123.45"},
		{100, "EUR", "1.00"},
		{5, "GBP", "0.05"},
		{0, "USD", "0.00"},
		{-12345, "USD", "-123.45"},
		{12345, "JPY", "12345"},
		{500, "KRW", "500"},
		{-500, "JPY", "-500"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.minor, tt.currency), func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAmount(tt.minor, tt.currency))
		})
	}
}

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		value    string
		currency string
		want     int64
	}{
		{"123.45", "USD", 12345},
		{"0.05", "USD", 5},
		{"12345", "JPY", 12345},
		{"-123.45", "USD", -12345},
		// Extra precision rounds half away from zero.
		{"0.125", "USD", 13},
		{"-0.125", "USD", -13},
		{"0.5", "JPY", 1},
		{"-0.5", "JPY", -1},
		{" 10.00 ", "USD", 1000},
	}

	for _, tt := range tests {
		t.Run(tt.value+"_"+tt.currency, func(t *testing.T) {
			got, err := ToMinorUnits(tt.value, tt.currency)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ToMinorUnits("12,34", "USD")
		assert.Error(t, err)
		_, err = ToMinorUnits("", "USD")
		assert.Error(t, err)
	})

	t.Run("rejects non-finite and overflowing values", func(t *testing.T) {
		for _, value := range []string{"NaN", "nan", "Inf", "-Inf", "+Inf", "1e300", "-1e300", "1e999"} {
			got, err := ToMinorUnits(value, "USD")
			assert.Error(t, err, "value %q", value)
			assert.Zero(t, got, "value %q", value)
		}
	})

	t.Run("rejects amounts outside the int64 range", func(t *testing.T) {
		_, err := ToMinorUnits("92233720368547758.08", "USD")
		assert.Error(t, err)
	})
}

func TestAmountRoundTrip(t *testing.T) {
	amounts := []int64{0, 1, 5, 99, 100, 101, 12345, 999999999, -12345}
	for _, currency := range []string{"USD", "JPY"} {
		for _, minor := range amounts {
			formatted := FormatAmount(minor, currency)
			back, err := ToMinorUnits(formatted, currency)
			require.NoError(t, err)
			assert.Equal(t, minor, back, "round trip %d %s via %q", minor, currency, formatted)
		}
	}
}
