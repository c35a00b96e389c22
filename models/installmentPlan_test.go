package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestAddMonthsClampedShortMonths(t *testing.T) {
	jan31 := time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC)

	feb := AddMonthsClamped(jan31, 1)
	if feb.Month() != time.February || feb.Day() != 29 {
		t.Fatalf("Jan 31 + 1 month in a leap year should be Feb 29, got %s", feb.Format("2006-01-02"))
	}
	// Clamping does not stick: adding two months from the original anchor
	// lands back on the 31st.
	mar := AddMonthsClamped(jan31, 2)
	if mar.Month() != time.March || mar.Day() != 31 {
		t.Fatalf("Jan 31 + 2 months should be Mar 31, got %s", mar.Format("2006-01-02"))
	}

	jan31NonLeap := time.Date(2023, time.January, 31, 0, 0, 0, 0, time.UTC)
	if got := AddMonthsClamped(jan31NonLeap, 1); got.Day() != 28 {
		t.Fatalf("Jan 31 2023 + 1 month should clamp to Feb 28, got %s", got.Format("2006-01-02"))
	}

	mid := time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC)
	if got := AddMonthsClamped(mid, 3); got.Month() != time.September || got.Day() != 15 {
		t.Fatalf("Jun 15 + 3 months should be Sep 15, got %s", got.Format("2006-01-02"))
	}
}

func TestComputeScheduleResidueClosesSum(t *testing.T) {
	created := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)

	// 10_000_000 / 7 leaves a remainder that the final slot must absorb.
	slots := ComputeSchedule(created, 10_000_000, 7)
	if len(slots) != 7 {
		t.Fatalf("expected 7 slots, got %d", len(slots))
	}
	var sum int64
	for i, s := range slots {
		sum += s.ScheduledAmount
		if s.N != i+1 {
			t.Fatalf("slot %d has N=%d", i, s.N)
		}
		if s.Status != InstallmentStatusDue {
			t.Fatalf("slot %d created with status %s", s.N, s.Status)
		}
		if s.IsFirstPayment != (s.N == 1) {
			t.Fatalf("slot %d first-payment flag wrong", s.N)
		}
		want := AddMonthsClamped(created, s.N)
		if !s.DueDate.Equal(want) {
			t.Fatalf("slot %d due %s, want %s", s.N, s.DueDate, want)
		}
	}
	if sum != 10_000_000 {
		t.Fatalf("schedule sums to %d, want 10000000", sum)
	}
	if slots[6].ScheduledAmount <= slots[0].ScheduledAmount {
		t.Fatal("final slot should carry the division residue")
	}
}

func TestTermsForKind(t *testing.T) {
	regular := TermsFor(ShareKindRegular)
	if !regular.MinDownPaymentPct.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("regular down payment pct: %s", regular.MinDownPaymentPct)
	}
	if !regular.LateFeeRatePct.Equal(decimal.RequireFromString("0.34")) {
		t.Fatalf("regular late fee rate: %s", regular.LateFeeRatePct)
	}
	if !regular.LateFeeCapPct.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("regular late fee cap: %s", regular.LateFeeCapPct)
	}

	coFounder := TermsFor(ShareKindCoFounder)
	if !coFounder.MinDownPaymentPct.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("co-founder down payment pct: %s", coFounder.MinDownPaymentPct)
	}
	if !coFounder.LateFeeCapPct.Equal(decimal.RequireFromString("7.5")) {
		t.Fatalf("co-founder late fee cap: %s", coFounder.LateFeeCapPct)
	}
}

func TestRemainingBalance(t *testing.T) {
	plan := &InstallmentPlan{TotalPrice: 10_000_000, TotalPaid: 2_500_000}
	if got := plan.RemainingBalance(); got != 7_500_000 {
		t.Fatalf("remaining: %d", got)
	}
}
