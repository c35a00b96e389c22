package workflow

import (
	"context"
	"time"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/models"
	"github.com/afrimobile/shares_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// The installment engine wraps the purchase ledger: each payment toward a
// plan is its own ledger transaction (rail = Installment) that settles
// through SettlePurchase like any other. Plan bookkeeping, the share release
// and the slot updates all happen inside that same settle transaction.

// BeginInstallmentPayment opens a Pending ledger transaction for a payment
// toward a plan. Amount rules are checked here for a fast answer and again
// at settle time under the plan row lock; plan state may move between the
// two. Shares stay zero until settle computes the actual release.
func BeginInstallmentPayment(ctx context.Context, logger *logrus.Logger, planId string, amount int64, cardReference *string) (*models.PurchaseTransaction, error) {
	plan, err := models.GetInstallmentPlan(ctx, planId)
	if err != nil {
		return nil, err
	}
	if err := validatePaymentAmount(plan, amount); err != nil {
		return nil, err
	}

	nextSlot := nextOpenSlot(plan.Installments)
	txn := models.PurchaseTransaction{
		TransactionId:     models.GenerateTransactionId(plan.Kind, models.PaymentRailInstallment),
		UserId:            plan.UserId,
		Kind:              plan.Kind,
		Shares:            0,
		Currency:          plan.Currency,
		Amount:            amount,
		PricePerShare:     plan.TotalPrice / plan.TotalShares,
		Rail:              models.PaymentRailInstallment,
		Status:            models.PurchaseStatusPending,
		CardReference:     cardReference,
		InstallmentPlanId: &plan.PlanId,
		InstallmentNumber: nextSlot,
	}
	txn.AppendStatusChange(models.StatusChange{
		From:      "",
		To:        models.PurchaseStatusPending,
		Actor:     models.ActorUser,
		ActorId:   plan.UserId,
		Timestamp: time.Now().UTC(),
	})
	if err := config.GetDB().WithContext(ctx).Create(&txn).Error; err != nil {
		config.LogError(logger, "workflow", "BeginInstallmentPayment", "create payment transaction", planId, err)
		return nil, err
	}
	return &txn, nil
}

func validatePaymentAmount(plan *models.InstallmentPlan, amount int64) error {
	if !plan.Status.Open() {
		return utils.NewConflictError("plan %s is %s and accepts no payments", plan.PlanId, plan.Status)
	}
	if amount <= 0 {
		return utils.NewValidationError("payment amount must be positive, got %d", amount)
	}
	if plan.TotalPaid == 0 && amount < plan.MinDownPayment {
		return utils.NewValidationError("first payment must be at least the down payment %d, got %d", plan.MinDownPayment, amount)
	}
	if amount > plan.RemainingBalance() {
		return utils.NewValidationError("payment %d exceeds remaining balance %d", amount, plan.RemainingBalance())
	}
	return nil
}

func nextOpenSlot(slots []models.Installment) *int {
	for _, slot := range slots {
		if slot.Status != models.InstallmentStatusPaid {
			n := slot.N
			return &n
		}
	}
	return nil
}

// applyInstallmentSettlement runs inside SettlePurchase's DB transaction for
// rail = Installment. It moves the plan forward and commits only the newly
// released shares; the caller then emits commission for the paid amount and
// flips the transaction itself to completed.
func applyInstallmentSettlement(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, txn *models.PurchaseTransaction) error {
	if txn.InstallmentPlanId == nil {
		return utils.NewIntegrityError("", "installment transaction %s carries no plan id", txn.TransactionId)
	}
	plan, err := models.GetInstallmentPlanForUpdate(tx, *txn.InstallmentPlanId)
	if err != nil {
		return err
	}
	if err := validatePaymentAmount(plan, txn.Amount); err != nil {
		return err
	}

	now := time.Now().UTC()
	newTotalPaid := plan.TotalPaid + txn.Amount

	// P2: cumulative floor, so residual fractions release on the payment
	// that closes the sum, not before.
	targetReleased := plan.TotalShares * newTotalPaid / plan.TotalPrice
	releaseDelta := targetReleased - plan.SharesReleased
	var deltaBreakdown models.TierBreakdown
	if releaseDelta > 0 {
		if plan.Kind == models.ShareKindRegular {
			deltaBreakdown = proRateRelease(plan.TierBreakdown, plan.ReleasedBreakdown, newTotalPaid, plan.TotalPrice, releaseDelta)
		}
		if err := CommitShares(tx, logger, plan.Kind, releaseDelta, deltaBreakdown); err != nil {
			return err
		}
	}

	if err := applyPaymentToSlots(tx, plan, txn.Amount, txn.TransactionId, now); err != nil {
		return err
	}
	payment := models.InstallmentPayment{
		PlanRowId: plan.ID,
		Amount:    txn.Amount,
		TxId:      txn.TransactionId,
		PaidAt:    now,
	}
	if err := tx.Create(&payment).Error; err != nil {
		return err
	}

	previousStatus := plan.Status
	plan.TotalPaid = newTotalPaid
	plan.SharesReleased = targetReleased
	plan.ReleasedBreakdown.Tier1 += deltaBreakdown.Tier1
	plan.ReleasedBreakdown.Tier2 += deltaBreakdown.Tier2
	plan.ReleasedBreakdown.Tier3 += deltaBreakdown.Tier3
	plan.CurrentLateFee = 0
	plan.LastPaymentAt = &now
	switch {
	case plan.TotalPaid == plan.TotalPrice:
		plan.Status = models.PlanStatusCompleted
	default:
		plan.Status = models.PlanStatusActive
	}
	if err := tx.Omit("Installments", "FlexiblePayments").Save(plan).Error; err != nil {
		config.LogError(logger, "workflow", "applyInstallmentSettlement", "persist plan", plan.PlanId, err)
		return err
	}

	if previousStatus == models.PlanStatusPending && plan.Status != models.PlanStatusPending {
		if err := models.RecordPurchaseEvent(ctx, tx, models.EventPlanActivated, txn.TransactionId, plan.PlanId, plan.UserId, plan); err != nil {
			return err
		}
	}
	if plan.Status == models.PlanStatusCompleted {
		if err := models.RecordPurchaseEvent(ctx, tx, models.EventPlanCompleted, txn.TransactionId, plan.PlanId, plan.UserId, plan); err != nil {
			return err
		}
	}

	// Reflect the actual release on the ledger entry before it is saved.
	txn.Shares = releaseDelta
	txn.TierBreakdown = deltaBreakdown
	return nil
}

// proRateRelease splits a release of want shares across the plan's original
// tier breakdown. Per-tier floors can undershoot the cumulative target, so
// the shortfall tops up from the lowest tier that still has unreleased
// shares.
func proRateRelease(total models.TierBreakdown, released models.TierBreakdown, totalPaid, totalPrice, want int64) models.TierBreakdown {
	var delta models.TierBreakdown
	assigned := int64(0)
	for tier := 1; tier <= 3; tier++ {
		target := total.ForTier(tier) * totalPaid / totalPrice
		if target > total.ForTier(tier) {
			target = total.ForTier(tier)
		}
		d := target - released.ForTier(tier)
		if d < 0 {
			d = 0
		}
		delta.SetTier(tier, d)
		assigned += d
	}
	for tier := 1; tier <= 3 && assigned < want; tier++ {
		headroom := total.ForTier(tier) - released.ForTier(tier) - delta.ForTier(tier)
		if headroom <= 0 {
			continue
		}
		add := headroom
		if add > want-assigned {
			add = want - assigned
		}
		delta.SetTier(tier, delta.ForTier(tier)+add)
		assigned += add
	}
	return delta
}

// applyPaymentToSlots walks the schedule in order, filling unpaid slots with
// the flexible payment. A slot fills to Paid when its scheduled amount is
// covered, otherwise it sits Partial until a later payment tops it up.
func applyPaymentToSlots(tx *gorm.DB, plan *models.InstallmentPlan, amount int64, txId string, now time.Time) error {
	var slots []models.Installment
	if err := tx.Where("plan_row_id = ? AND status <> ?", plan.ID, models.InstallmentStatusPaid).
		Order("n ASC").Find(&slots).Error; err != nil {
		return err
	}
	remaining := amount
	for i := range slots {
		if remaining <= 0 {
			break
		}
		slot := &slots[i]
		need := slot.ScheduledAmount - slot.PaidAmount
		pay := need
		if pay > remaining {
			pay = remaining
		}
		// the final slot absorbs anything beyond its scheduled amount
		if i == len(slots)-1 {
			pay = remaining
		}
		slot.PaidAmount += pay
		remaining -= pay
		if slot.PaidAmount >= slot.ScheduledAmount {
			slot.Status = models.InstallmentStatusPaid
		} else {
			slot.Status = models.InstallmentStatusPartial
		}
		slot.PaidDate = &now
		slot.TxId = &txId
		if err := tx.Save(slot).Error; err != nil {
			return err
		}
	}
	return nil
}

/* Late fees */

// ComputeLateFee returns the accrued fee and months late for a plan at a
// point in time. Zero months means the plan is inside its 30-day window.
func ComputeLateFee(plan *models.InstallmentPlan, now time.Time) (int64, int) {
	if plan.TotalPaid >= plan.TotalPrice {
		return 0, 0
	}
	anchor := plan.CreatedAt
	if plan.LastPaymentAt != nil && plan.LastPaymentAt.After(anchor) {
		anchor = *plan.LastPaymentAt
	}
	deltaDays := int(now.Sub(anchor).Hours() / 24)
	if deltaDays <= 30 {
		return 0, 0
	}
	monthsLate := deltaDays / 30

	raw := utils.PercentOfMinorUnits(plan.RemainingBalance(), plan.LateFeeRate) * int64(monthsLate)
	cap := utils.PercentOfMinorUnits(plan.TotalPrice, plan.LateFeeCapPct)
	if raw > cap {
		raw = cap
	}
	return raw, monthsLate
}

// RunLateFeeSweep accrues late fees across all open plans. Fees only ever
// grow between payments, so re-running the sweep is harmless. Returns how
// many plans were marked or kept late.
func RunLateFeeSweep(ctx context.Context, logger *logrus.Logger, now time.Time) (int, error) {
	plans, err := models.ListOpenPlans(ctx)
	if err != nil {
		return 0, err
	}

	db := config.GetDB().WithContext(ctx)
	lateCount := 0
	for _, stale := range plans {
		planId := stale.PlanId
		err := db.Transaction(func(tx *gorm.DB) error {
			plan, err := models.GetInstallmentPlanForUpdate(tx, planId)
			if err != nil {
				return err
			}
			if !plan.Status.Open() {
				return nil
			}
			fee, monthsLate := ComputeLateFee(plan, now)
			if monthsLate == 0 {
				return nil
			}
			lateCount++
			if fee < plan.CurrentLateFee {
				fee = plan.CurrentLateFee
			}
			wasLate := plan.Status == models.PlanStatusLate
			updates := map[string]interface{}{
				"current_late_fee": fee,
				"status":           models.PlanStatusLate,
			}
			if err := tx.Model(&models.InstallmentPlan{}).
				Where("id = ?", plan.ID).Updates(updates).Error; err != nil {
				return err
			}
			if !wasLate {
				return models.RecordPurchaseEvent(ctx, tx, models.EventPlanLate, "", plan.PlanId, plan.UserId, plan)
			}
			return nil
		})
		if err != nil {
			config.LogError(logger, "workflow", "RunLateFeeSweep", "accrue late fee", planId, err)
			return lateCount, err
		}
	}
	return lateCount, nil
}

// CancelInstallmentPlan closes an open plan. The down payment is the floor:
// until it is paid the user cannot walk away keeping nothing on record.
// Shares already released stay with the user; nothing returns to inventory.
func CancelInstallmentPlan(ctx context.Context, logger *logrus.Logger, planId string, actor models.TransitionActor, actorId int, reason string) (*models.InstallmentPlan, error) {
	db := config.GetDB().WithContext(ctx)

	var cancelled *models.InstallmentPlan
	err := db.Transaction(func(tx *gorm.DB) error {
		plan, err := models.GetInstallmentPlanForUpdate(tx, planId)
		if err != nil {
			return err
		}
		if plan.Status == models.PlanStatusCancelled {
			cancelled = plan
			return nil
		}
		if !plan.Status.Open() {
			return utils.NewConflictError("plan %s cannot cancel from status %s", planId, plan.Status)
		}
		if plan.TotalPaid < plan.MinDownPayment {
			return utils.NewConflictError("plan %s cannot cancel before the down payment %d is met (paid %d)",
				planId, plan.MinDownPayment, plan.TotalPaid)
		}

		if err := tx.Model(&models.InstallmentPlan{}).
			Where("id = ?", plan.ID).Update("status", models.PlanStatusCancelled).Error; err != nil {
			return err
		}
		plan.Status = models.PlanStatusCancelled
		if err := models.RecordPurchaseEvent(ctx, tx, models.EventPlanCancelled, "", plan.PlanId, plan.UserId, plan); err != nil {
			return err
		}
		cancelled = plan
		return nil
	})
	if err != nil {
		config.LogError(logger, "workflow", "CancelInstallmentPlan", "cancel plan", planId, err)
		return nil, err
	}
	return cancelled, nil
}
