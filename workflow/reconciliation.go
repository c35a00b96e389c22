package workflow

import (
	"context"
	"time"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/models"
	"github.com/sirupsen/logrus"
)

// StuckTransaction is one sweep finding for the admin report.
type StuckTransaction struct {
	TransactionId string                `json:"transaction_id"`
	Rail          models.PaymentRail    `json:"rail"`
	Status        models.PurchaseStatus `json:"status"`
	Age           time.Duration         `json:"age"`
	Requeried     bool                  `json:"requeried"`
}

// RunStuckTransactionSweep finds non-terminal transactions that have sat too
// long (1 h pending, 2 h verifying by default), re-queries the rails that can
// answer, and reports the rest for admin attention. It never auto-fails
// anything: settle and fail stay state-gated behind the rail's own evidence.
func RunStuckTransactionSweep(ctx context.Context, logger *logrus.Logger, now time.Time) ([]StuckTransaction, error) {
	db := config.GetDB().WithContext(ctx)

	pendingBefore := now.Add(-config.StuckPendingAge())
	verifyingBefore := now.Add(-config.StuckVerifyingAge())

	var stale []models.PurchaseTransaction
	err := db.
		Where("(status = ? AND created_at <= ?) OR (status = ? AND updated_at <= ?)",
			models.PurchaseStatusPending, pendingBefore,
			models.PurchaseStatusVerifying, verifyingBefore).
		Order("created_at ASC").
		Find(&stale).Error
	if err != nil {
		return nil, err
	}

	report := make([]StuckTransaction, 0, len(stale))
	for i := range stale {
		txn := &stale[i]
		finding := StuckTransaction{
			TransactionId: txn.TransactionId,
			Rail:          txn.Rail,
			Status:        txn.Status,
			Age:           now.Sub(txn.CreatedAt),
		}

		switch {
		case txn.Rail == models.PaymentRailCard && txn.CardReference != nil:
			finding.Requeried = true
			if _, err := ConfirmCardPayment(ctx, logger, *txn.CardReference); err != nil {
				config.LogError(logger, "workflow", "RunStuckTransactionSweep", "card requery", txn.TransactionId, err)
			}
		case txn.Rail == models.PaymentRailChain && txn.Status == models.PurchaseStatusVerifying && txn.ChainTxHash != nil:
			finding.Requeried = true
			if _, err := VerifyChainPayment(ctx, logger, txn.TransactionId); err != nil {
				config.LogError(logger, "workflow", "RunStuckTransactionSweep", "chain requery", txn.TransactionId, err)
			}
		case txn.Rail == models.PaymentRailInvoice && txn.InvoiceOrderId != nil:
			finding.Requeried = true
			if _, err := SyncInvoiceStatus(ctx, logger, txn.TransactionId); err != nil {
				config.LogError(logger, "workflow", "RunStuckTransactionSweep", "invoice requery", txn.TransactionId, err)
			}
		default:
			logger.WithFields(logrus.Fields{
				"module":        "workflow",
				"transactionId": txn.TransactionId,
				"rail":          txn.Rail,
				"status":        txn.Status,
				"ageHours":      finding.Age.Hours(),
			}).Warn("transaction stuck, needs admin attention")
		}
		report = append(report, finding)
	}
	return report, nil
}
