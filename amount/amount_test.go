package amount

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDecimal(t *testing.T) {
	valid := []string{"1", "0.1", "12.345", "0.000000000000000001", "1000000", "3.140000000000000000"}
	for _, v := range valid {
		if _, err := ParseDecimal(v, "entry"); err != nil {
			t.Fatalf("expected %q valid, got %v", v, err)
		}
	}

	invalid := []string{"", "0", "0.0", "-1", "1.", ".5", "1e18", "1.0000000000000000001", "abc", "1,5", "0x10"}
	for _, v := range invalid {
		if _, err := ParseDecimal(v, "entry"); err == nil {
			t.Fatalf("expected %q to be rejected", v)
		}
	}
}

func TestParseDecimalCarriesField(t *testing.T) {
	_, err := ParseDecimal("bogus", "payout")
	require.Error(t, err)
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "payout", invalid.Field)
}

func TestToBaseUnits(t *testing.T) {
	cases := map[string]string{
		"1":                    "1000000000000000000",
		"0.5":                  "500000000000000000",
		"0.000000000000000001": "1",
		"12.34":                "12340000000000000000",
	}
	for in, want := range cases {
		got, err := ToBaseUnits(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got.String(), in)
	}
}

func TestFromBaseUnitsTrimsZeros(t *testing.T) {
	units, _ := new(big.Int).SetString("500000000000000000", 10)
	require.Equal(t, "0.5", FromBaseUnits(units))
	require.Equal(t, "0", FromBaseUnits(big.NewInt(0)))
	require.Equal(t, "0", FromBaseUnits(nil))
}

func TestRoundTrip(t *testing.T) {
	values := []string{"1", "0.1", "0.000000000000000001", "123456789.987654321", "42.000000000000000042"}
	for _, v := range values {
		units, err := ToBaseUnits(v)
		require.NoError(t, err, v)
		require.Equal(t, v, FromBaseUnits(units), v)
	}
}
