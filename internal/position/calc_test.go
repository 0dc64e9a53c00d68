package position

import (
	"testing"
	"time"
)

func TestImpactFee(t *testing.T) {
	cases := []struct {
		size, price int64
		want        int64
	}{
		{20_000_000_000, 1_000_000, 6_003},
		{20_000_000_000, 1_200_000, 6_004},
		{20_000_000_000, 670_000, 6_002},
		{0, 1_000_000, 6_000},
	}
	for _, tc := range cases {
		expect(t, "impact fee", ImpactFee(n(tc.size), n(tc.price)), tc.want)
	}
}

func TestRepayAndFee_FundingRoundsUpToWholeHours(t *testing.T) {
	borrowed, entry := n(20_000_000_000), n(1_000_000)
	supply, held := n(100_000_006_003), n(80_000_000_000)

	_, oneHour, err := RepayAndFee(borrowed, entry, entry, supply, held, time.Hour)
	if err != nil {
		t.Fatalf("repay and fee: %v", err)
	}
	expect(t, "fee after 1h", oneHour, 4_012_008_000)

	// One second into the hour bills a fraction of an hour, not a full one.
	_, oneSecond, err := RepayAndFee(borrowed, entry, entry, supply, held, time.Second)
	if err != nil {
		t.Fatalf("repay and fee: %v", err)
	}
	if !oneSecond.GreaterThan(n(12_006_000)) || !oneSecond.LessThan(oneHour) {
		t.Errorf("fee after 1s = %s", oneSecond)
	}
}

func TestRepayAndFee_RejectsZeroPrice(t *testing.T) {
	if _, _, err := RepayAndFee(n(1), n(1), n(0), n(1), n(1), 0); err == nil {
		t.Fatal("expected error for zero price")
	}
	if _, _, err := RepayAndFee(n(1), n(1), n(1), n(1), n(0), 0); err == nil {
		t.Fatal("expected error for empty pool")
	}
}

func TestLiquidationPrice(t *testing.T) {
	threshold, always := LiquidationPrice(n(20_000_000_000), n(10_000_000_000), n(1_000_000))
	if always {
		t.Fatal("position reported always liquidatable")
	}
	expect(t, "threshold", threshold, 673_401)

	if _, always := LiquidationPrice(n(0), n(5_000), n(1_000_000)); !always {
		t.Error("position smaller than its fees should always be liquidatable")
	}
}

func TestLiquidationRepay(t *testing.T) {
	expect(t, "repay", LiquidationRepay(n(20_000_000_000), n(1_000_000), n(670_000)), 29_850_746_268)
	expect(t, "repay", LiquidationRepay(n(20_000_000_000), n(1_000_000), n(600_000)), 33_333_333_333)
}
