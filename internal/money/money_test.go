package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestToMinor(t *testing.T) {
	t.Run("whole and fractional amounts", func(t *testing.T) {
		cases := map[string]int64{
			"200":    20000,
			"0.5":    50,
			"19.99":  1999,
			"100.10": 10010,
		}
		for in, want := range cases {
			if got := ToMinor(decimal.RequireFromString(in)); got != want {
				t.Errorf("ToMinor(%s) = %d, want %d", in, got, want)
			}
		}
	})

	t.Run("rounds instead of truncating", func(t *testing.T) {
		if got := ToMinor(decimal.RequireFromString("0.499")); got != 50 {
			t.Errorf("expected 50, got %d", got)
		}
		if got := ToMinor(decimal.RequireFromString("10.005")); got != 1001 {
			t.Errorf("expected 1001, got %d", got)
		}
		if got := ToMinor(decimal.RequireFromString("10.004")); got != 1000 {
			t.Errorf("expected 1000, got %d", got)
		}
	})
}

func TestRoundTrip(t *testing.T) {
	oneMinor := decimal.New(1, -2)
	for i := int64(0); i < 5000; i += 7 {
		// three decimal places exercise the rounding path
		amount := decimal.New(i*13+i%10, -3)
		back := FromMinor(ToMinor(amount))
		if back.Sub(amount).Abs().GreaterThan(oneMinor) {
			t.Fatalf("round trip of %s drifted to %s", amount, back)
		}
	}
}

func TestFromMinor(t *testing.T) {
	if got := FromMinor(20050); !got.Equal(decimal.RequireFromString("200.50")) {
		t.Errorf("expected 200.50, got %s", got)
	}
}

func TestFormat(t *testing.T) {
	if got := Format("GHS", decimal.NewFromInt(200)); got != "GHS 200.00" {
		t.Errorf("unexpected format: %s", got)
	}
}
