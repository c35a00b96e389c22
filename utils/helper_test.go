package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestPercentOfMinorUnits(t *testing.T) {
	cases := []struct {
		amount int64
		rate   string
		want   int64
	}{
		// referral rates on a ₦100,000 purchase
		{10_000_000, "15", 1_500_000},
		{10_000_000, "3", 300_000},
		{10_000_000, "2", 200_000},
		// fractional late-fee rate
		{7_000_000, "0.34", 23_800},
		// truncation toward zero, never rounding up
		{101, "15", 15},
		{1, "0.34", 0},
		{0, "15", 0},
	}
	for _, c := range cases {
		got := PercentOfMinorUnits(c.amount, decimal.RequireFromString(c.rate))
		if got != c.want {
			t.Fatalf("%d at %s%%: got %d, want %d", c.amount, c.rate, got, c.want)
		}
	}
}

func TestMinorUnitConversionsRoundTrip(t *testing.T) {
	for _, amount := range []int64{0, 1, 99, 100, 14_000_000} {
		d := MinorUnitsToDecimal(amount)
		if back := DecimalToMinorUnits(d); back != amount {
			t.Fatalf("round trip of %d came back as %d", amount, back)
		}
	}
	if s := MinorUnitsToDecimal(14_000_000).String(); s != "140000" {
		t.Fatalf("14000000 kobo should render as 140000, got %s", s)
	}
}

func TestSameHexAddress(t *testing.T) {
	mixed := "0x55d398326f99059fF775485246999027B3197955"
	lower := "0x55d398326f99059ff775485246999027b3197955"
	if !SameHexAddress(mixed, lower) {
		t.Fatal("case difference should not matter")
	}
	if !SameHexAddress(" "+mixed+" ", lower) {
		t.Fatal("surrounding whitespace should be trimmed")
	}
	if SameHexAddress(mixed, "0x0000000000000000000000000000000000000000") {
		t.Fatal("different addresses should not match")
	}
	if SameHexAddress("", "") {
		t.Fatal("empty addresses never match")
	}
}
