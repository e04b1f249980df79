package units

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad integer %q", s)
	}
	return v
}

func TestCouponDue(t *testing.T) {
	cases := []struct {
		supply string
		want   string
	}{
		{"500000000000000000000000", "5000000"},
		{"1000000000000000000", "10000"},
		{"99", "0"},
		{"0", "0"},
		{"123456789012345678901234", "1234567890"},
	}
	for _, tc := range cases {
		got := CouponDue(mustBig(t, tc.supply))
		if got.String() != tc.want {
			t.Errorf("CouponDue(%s) = %s, want %s", tc.supply, got, tc.want)
		}
	}
	if CouponDue(nil).Sign() != 0 {
		t.Error("nil supply should yield zero")
	}
}

func TestCouponDueRendersSixDecimals(t *testing.T) {
	due := CouponDue(mustBig(t, "500000000000000000000000"))
	if got := Format(due, StableDecimals, 2); got != "5.00" {
		t.Fatalf("expected 5.00, got %s", got)
	}
}

func TestToDecimalAndBack(t *testing.T) {
	wei := mustBig(t, "1500000000000000000")
	d := ToDecimal(wei, NativeDecimals)
	if !d.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("expected 1.5, got %s", d)
	}
	if FromDecimal(d, NativeDecimals).Cmp(wei) != 0 {
		t.Fatalf("round trip mismatch")
	}
	if FromDecimal(decimal.RequireFromString("1"), NativeDecimals).String() != "1000000000000000000" {
		t.Fatal("one native unit should be 1e18 wei")
	}
	if !ToDecimal(nil, 6).IsZero() {
		t.Fatal("nil should be zero")
	}
}
