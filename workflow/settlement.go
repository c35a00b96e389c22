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

// Settlement is the one door through which a purchase reaches completed.
// Every rail adapter validates its own evidence first and then calls
// SettlePurchase; the money movement into inventory, the referral ledger and
// the outbox event all ride the same DB transaction.

// SettlePurchase moves a pending/verifying transaction to completed. A
// transaction that is already completed is returned unchanged, so gateway
// redeliveries and admin double-clicks converge on the same final state.
func SettlePurchase(ctx context.Context, logger *logrus.Logger, transactionId string, actor models.TransitionActor, actorId int, note string) (*models.PurchaseTransaction, error) {
	db := config.GetDB().WithContext(ctx)

	var settled *models.PurchaseTransaction
	var freshSettle bool
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := AcquireTransactionPostingLock(tx, transactionId); err != nil {
			return err
		}
		defer ReleaseTransactionPostingLock(tx, transactionId)

		txn, err := models.GetPurchaseTransactionForUpdate(tx, transactionId)
		if err != nil {
			return err
		}
		if txn.Status == models.PurchaseStatusCompleted {
			settled = txn
			return nil
		}
		if !txn.Status.CanSettle() {
			return utils.NewConflictError("transaction %s cannot settle from status %s", transactionId, txn.Status)
		}

		if txn.Rail == models.PaymentRailInstallment {
			if err := applyInstallmentSettlement(ctx, tx, logger, txn); err != nil {
				return err
			}
		} else {
			if err := CommitShares(tx, logger, txn.Kind, txn.Shares, txn.TierBreakdown); err != nil {
				return err
			}
		}

		if err := EmitReferralCommissions(ctx, tx, logger, txn); err != nil {
			return err
		}

		now := time.Now()
		txn.AppendStatusChange(models.StatusChange{
			From:      txn.Status,
			To:        models.PurchaseStatusCompleted,
			Actor:     actor,
			ActorId:   actorId,
			Reason:    note,
			Timestamp: now,
		})
		txn.Status = models.PurchaseStatusCompleted
		txn.CompletedAt = &now
		if actor == models.ActorAdmin && actorId != 0 {
			txn.VerifiedBy = &actorId
		}
		if note != "" {
			txn.AdminNote = note
		}
		if err := tx.Save(txn).Error; err != nil {
			config.LogError(logger, "workflow", "SettlePurchase", "persist completed transaction", transactionId, err)
			return err
		}

		planId := utils.DereferencePtr(txn.InstallmentPlanId)
		if err := models.RecordPurchaseEvent(ctx, tx, models.EventPurchaseCompleted, txn.TransactionId, planId, txn.UserId, txn); err != nil {
			return err
		}
		settled = txn
		freshSettle = true
		return nil
	})
	if err != nil {
		config.LogError(logger, "workflow", "SettlePurchase", "settle transaction", transactionId, err)
		return nil, err
	}
	if freshSettle {
		// Sold counters moved; drop the cached availability snapshot.
		if cacheErr := models.InvalidateShareConfigCache(); cacheErr != nil {
			config.LogError(logger, "workflow", "SettlePurchase", "invalidate share config cache", transactionId, cacheErr)
		}
	}
	return settled, nil
}

// MarkVerifying advances pending to verifying once external evidence has been
// submitted but not yet confirmed (chain hash posted, invoice issued, proof
// uploaded). Already-verifying is a no-op.
func MarkVerifying(ctx context.Context, logger *logrus.Logger, transactionId string, actor models.TransitionActor, actorId int, reason string) (*models.PurchaseTransaction, error) {
	return transitionTerminalOrHold(ctx, logger, transactionId, actor, actorId, reason,
		models.PurchaseStatusVerifying,
		[]models.PurchaseStatus{models.PurchaseStatusPending},
		"")
}

// FailPurchase marks a pending/verifying transaction failed with a reason.
// Terminal: a failed purchase is never retried, the user starts a new one.
func FailPurchase(ctx context.Context, logger *logrus.Logger, transactionId string, actor models.TransitionActor, actorId int, reason string) (*models.PurchaseTransaction, error) {
	return transitionTerminalOrHold(ctx, logger, transactionId, actor, actorId, reason,
		models.PurchaseStatusFailed,
		[]models.PurchaseStatus{models.PurchaseStatusPending, models.PurchaseStatusVerifying},
		models.EventPurchaseFailed)
}

// CancelPurchase abandons a not-yet-settled transaction. No inventory or
// referral state has moved, so cancellation is bookkeeping only.
func CancelPurchase(ctx context.Context, logger *logrus.Logger, transactionId string, actor models.TransitionActor, actorId int, reason string) (*models.PurchaseTransaction, error) {
	return transitionTerminalOrHold(ctx, logger, transactionId, actor, actorId, reason,
		models.PurchaseStatusCancelled,
		[]models.PurchaseStatus{models.PurchaseStatusPending, models.PurchaseStatusVerifying},
		"")
}

// transitionTerminalOrHold is the shared guard-and-write for the transitions
// that do not move inventory. Repeating a transition that already happened is
// a no-op; anything else from the wrong status is a conflict.
func transitionTerminalOrHold(ctx context.Context, logger *logrus.Logger, transactionId string, actor models.TransitionActor, actorId int, reason string, target models.PurchaseStatus, allowedFrom []models.PurchaseStatus, eventType models.PurchaseEventType) (*models.PurchaseTransaction, error) {
	db := config.GetDB().WithContext(ctx)

	var updated *models.PurchaseTransaction
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := AcquireTransactionPostingLock(tx, transactionId); err != nil {
			return err
		}
		defer ReleaseTransactionPostingLock(tx, transactionId)

		txn, err := models.GetPurchaseTransactionForUpdate(tx, transactionId)
		if err != nil {
			return err
		}
		if txn.Status == target {
			updated = txn
			return nil
		}
		allowed := false
		for _, from := range allowedFrom {
			if txn.Status == from {
				allowed = true
				break
			}
		}
		if !allowed {
			return utils.NewConflictError("transaction %s cannot move %s -> %s", transactionId, txn.Status, target)
		}

		txn.AppendStatusChange(models.StatusChange{
			From:      txn.Status,
			To:        target,
			Actor:     actor,
			ActorId:   actorId,
			Reason:    reason,
			Timestamp: time.Now(),
		})
		txn.Status = target
		if err := tx.Save(txn).Error; err != nil {
			return err
		}
		if eventType != "" {
			planId := utils.DereferencePtr(txn.InstallmentPlanId)
			if err := models.RecordPurchaseEvent(ctx, tx, eventType, txn.TransactionId, planId, txn.UserId, txn); err != nil {
				return err
			}
		}
		updated = txn
		return nil
	})
	if err != nil {
		config.LogError(logger, "workflow", "transitionTerminalOrHold", string(target), transactionId, err)
		return nil, err
	}
	return updated, nil
}

// RefundPurchase reverses a completed purchase: inventory goes back, every
// commission the purchase paid out gets a Reversed twin, and the transaction
// lands in refunded. Only completed transactions refund; installment partial
// payments are refused because their released shares belong to the plan.
func RefundPurchase(ctx context.Context, logger *logrus.Logger, transactionId string, adminId int, reason string) (*models.PurchaseTransaction, error) {
	db := config.GetDB().WithContext(ctx)

	var refunded *models.PurchaseTransaction
	var freshRefund bool
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := AcquireTransactionPostingLock(tx, transactionId); err != nil {
			return err
		}
		defer ReleaseTransactionPostingLock(tx, transactionId)

		txn, err := models.GetPurchaseTransactionForUpdate(tx, transactionId)
		if err != nil {
			return err
		}
		if txn.Status == models.PurchaseStatusRefunded {
			refunded = txn
			return nil
		}
		if txn.Status != models.PurchaseStatusCompleted {
			return utils.NewConflictError("transaction %s cannot refund from status %s", transactionId, txn.Status)
		}
		if txn.Rail == models.PaymentRailInstallment {
			return utils.NewConflictError("installment payment %s cannot be refunded individually; cancel the plan instead", transactionId)
		}

		if err := ReleaseShares(tx, logger, txn.Kind, txn.Shares, txn.TierBreakdown); err != nil {
			return err
		}
		if err := ReverseReferralCommissions(tx, logger, txn.TransactionId); err != nil {
			return err
		}

		txn.AppendStatusChange(models.StatusChange{
			From:      txn.Status,
			To:        models.PurchaseStatusRefunded,
			Actor:     models.ActorAdmin,
			ActorId:   adminId,
			Reason:    reason,
			Timestamp: time.Now(),
		})
		txn.Status = models.PurchaseStatusRefunded
		if reason != "" {
			txn.AdminNote = reason
		}
		if err := tx.Save(txn).Error; err != nil {
			return err
		}
		if err := models.RecordPurchaseEvent(ctx, tx, models.EventPurchaseRefunded, txn.TransactionId, "", txn.UserId, txn); err != nil {
			return err
		}
		refunded = txn
		freshRefund = true
		return nil
	})
	if err != nil {
		config.LogError(logger, "workflow", "RefundPurchase", "refund transaction", transactionId, err)
		return nil, err
	}
	if freshRefund {
		if cacheErr := models.InvalidateShareConfigCache(); cacheErr != nil {
			config.LogError(logger, "workflow", "RefundPurchase", "invalidate share config cache", transactionId, cacheErr)
		}
	}
	return refunded, nil
}
