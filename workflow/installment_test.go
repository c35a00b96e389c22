package workflow

// NOTE: These tests are intentionally DB-free. They exercise the pure math
// behind installment plans: payment validation, pro-rata share release, and
// late-fee accrual.

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/afrimobile/shares_backend/models"
	"github.com/afrimobile/shares_backend/utils"
)

func openPlan() *models.InstallmentPlan {
	return &models.InstallmentPlan{
		PlanId:         "PLAN-TEST",
		Status:         models.PlanStatusActive,
		TotalPrice:     10_000_000,
		TotalPaid:      0,
		MinDownPayment: 2_000_000,
		LateFeeRate:    decimal.RequireFromString("0.34"),
		LateFeeCapPct:  decimal.NewFromInt(5),
		CreatedAt:      time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestValidatePaymentAmount(t *testing.T) {
	plan := openPlan()

	if err := validatePaymentAmount(plan, 1_999_999); utils.KindOf(err) != utils.ErrorKindValidation {
		t.Fatalf("first payment one kobo below the down payment should be rejected, got %v", err)
	}
	if err := validatePaymentAmount(plan, 2_000_000); err != nil {
		t.Fatalf("exact down payment should pass: %v", err)
	}
	if err := validatePaymentAmount(plan, 0); utils.KindOf(err) != utils.ErrorKindValidation {
		t.Fatalf("zero amount should be rejected, got %v", err)
	}

	plan.TotalPaid = 2_000_000
	// after the down payment any positive amount up to the balance is fine
	if err := validatePaymentAmount(plan, 500); err != nil {
		t.Fatalf("small follow-up payment should pass: %v", err)
	}
	if err := validatePaymentAmount(plan, 8_000_001); utils.KindOf(err) != utils.ErrorKindValidation {
		t.Fatalf("overpayment should be rejected, got %v", err)
	}
	if err := validatePaymentAmount(plan, 8_000_000); err != nil {
		t.Fatalf("paying off the exact balance should pass: %v", err)
	}

	plan.Status = models.PlanStatusCancelled
	if err := validatePaymentAmount(plan, 500); utils.KindOf(err) != utils.ErrorKindConflict {
		t.Fatalf("cancelled plan should conflict, got %v", err)
	}
}

func TestNextOpenSlot(t *testing.T) {
	slots := []models.Installment{
		{N: 1, Status: models.InstallmentStatusPaid},
		{N: 2, Status: models.InstallmentStatusPartial},
		{N: 3, Status: models.InstallmentStatusDue},
	}
	if got := nextOpenSlot(slots); got == nil || *got != 2 {
		t.Fatalf("expected slot 2, got %v", got)
	}
	all := []models.Installment{{N: 1, Status: models.InstallmentStatusPaid}}
	if got := nextOpenSlot(all); got != nil {
		t.Fatalf("fully paid schedule should have no open slot, got %d", *got)
	}
}

func TestProRateReleaseFollowsPaymentFraction(t *testing.T) {
	var total models.TierBreakdown
	total.SetTier(1, 1000)
	total.SetTier(2, 200)

	var released models.TierBreakdown

	// 25% paid on a 1200-share plan releases 300 shares, tier 1 first
	delta := proRateRelease(total, released, 2_500_000, 10_000_000, 300)
	if delta.Sum() != 300 {
		t.Fatalf("delta sum %d, want 300", delta.Sum())
	}
	// per-tier floors: tier1 gets 1000×25% = 250, tier2 gets 200×25% = 50
	if delta.ForTier(1) != 250 || delta.ForTier(2) != 50 {
		t.Fatalf("delta %+v, want {250 50 0}", delta)
	}

	// full payment releases everything not yet released
	released.SetTier(1, 400)
	released.SetTier(2, 100)
	delta = proRateRelease(total, released, 10_000_000, 10_000_000, 700)
	if delta.ForTier(1) != 600 || delta.ForTier(2) != 100 {
		t.Fatalf("final release delta %+v, want {600 100 0}", delta)
	}
}

func TestProRateReleaseNeverExceedsWant(t *testing.T) {
	var total models.TierBreakdown
	total.SetTier(1, 100)
	total.SetTier(2, 100)
	var released models.TierBreakdown

	for _, paid := range []int64{1, 2_000_000, 5_000_000, 9_999_999} {
		delta := proRateRelease(total, released, paid, 10_000_000, total.Sum()*paid/10_000_000)
		want := total.Sum() * paid / 10_000_000
		if delta.Sum() != want {
			t.Fatalf("paid %d: released %d, want %d", paid, delta.Sum(), want)
		}
	}
}

func TestComputeLateFeeAccrual(t *testing.T) {
	plan := openPlan()
	plan.TotalPaid = 3_000_000
	lastPaid := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	plan.LastPaymentAt = &lastPaid

	// inside the 30-day window: nothing accrues
	fee, months := ComputeLateFee(plan, lastPaid.AddDate(0, 0, 30))
	if fee != 0 || months != 0 {
		t.Fatalf("day 30 should accrue nothing, got fee=%d months=%d", fee, months)
	}

	// 65 days after the last payment: two 30-day periods elapsed, so
	// 2 × 0.34% of the ₦70,000 balance = ₦476
	fee, months = ComputeLateFee(plan, lastPaid.AddDate(0, 0, 65))
	if months != 2 {
		t.Fatalf("expected 2 months late, got %d", months)
	}
	if fee != 47_600 {
		t.Fatalf("expected fee 47600 kobo, got %d", fee)
	}
}

func TestComputeLateFeeCapped(t *testing.T) {
	plan := openPlan()
	plan.TotalPaid = 3_000_000

	// years overdue: the fee stops at 5% of the plan's total price
	fee, months := ComputeLateFee(plan, plan.CreatedAt.AddDate(2, 0, 0))
	if months < 24 {
		t.Fatalf("expected many months late, got %d", months)
	}
	if fee != 500_000 {
		t.Fatalf("expected capped fee 500000 kobo, got %d", fee)
	}
}

func TestComputeLateFeeAnchorsOnLastPayment(t *testing.T) {
	plan := openPlan()
	plan.TotalPaid = 3_000_000

	// 40 days after creation with no payments: late against CreatedAt
	fee, months := ComputeLateFee(plan, plan.CreatedAt.AddDate(0, 0, 40))
	if months != 1 || fee == 0 {
		t.Fatalf("expected 1 month late, got fee=%d months=%d", fee, months)
	}

	// a payment 35 days in moves the anchor and clears the clock
	paid := plan.CreatedAt.AddDate(0, 0, 35)
	plan.LastPaymentAt = &paid
	fee, months = ComputeLateFee(plan, plan.CreatedAt.AddDate(0, 0, 40))
	if fee != 0 || months != 0 {
		t.Fatalf("anchor should follow the last payment, got fee=%d months=%d", fee, months)
	}
}

func TestComputeLateFeeZeroOnSettledPlan(t *testing.T) {
	plan := openPlan()
	plan.TotalPaid = plan.TotalPrice
	if fee, months := ComputeLateFee(plan, plan.CreatedAt.AddDate(1, 0, 0)); fee != 0 || months != 0 {
		t.Fatalf("fully paid plan accrues nothing, got fee=%d months=%d", fee, months)
	}
}
