package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/models"
	"github.com/afrimobile/shares_backend/utils"
	"github.com/sirupsen/logrus"
)

// Manual rail: the user transfers money out of band, uploads proof, and an
// admin adjudicates. Approval settles; rejection fails; an approval made in
// error is undone with a refund, which also claws back commissions.

// BeginManualPurchase stores the payment proof and opens the transaction
// directly in verifying, since the evidence is already on file.
func BeginManualPurchase(ctx context.Context, logger *logrus.Logger, userId int, kind models.ShareKind, shares int64, currency models.Currency, method models.ManualPaymentMethod, proofImage string) (*models.PurchaseTransaction, error) {
	if !method.Valid() {
		return nil, utils.NewValidationError("unknown manual payment method %q", method)
	}
	if proofImage == "" {
		return nil, utils.NewValidationError("manual purchases require a payment proof")
	}
	quote, err := QuoteShares(ctx, kind, shares, currency)
	if err != nil {
		return nil, err
	}

	objectName := fmt.Sprintf("payment-proofs/%d-%d", userId, time.Now().UnixMilli())
	proofHandle, err := utils.SaveProofToGCS(ctx, objectName, proofImage)
	if err != nil {
		config.LogError(logger, "workflow", "BeginManualPurchase", "store proof", userId, err)
		return nil, err
	}

	txn, err := models.CreatePurchaseTransaction(ctx, nil, &models.NewPurchaseTransaction{
		UserId:            userId,
		Quote:             quote,
		Rail:              models.PaymentRailManual,
		ManualProofHandle: &proofHandle,
		ManualMethod:      &method,
	})
	if err != nil {
		return nil, err
	}
	return MarkVerifying(ctx, logger, txn.TransactionId, models.ActorUser, userId, "payment proof uploaded")
}

// ApproveManualPurchase is the admin confirming the money arrived.
func ApproveManualPurchase(ctx context.Context, logger *logrus.Logger, transactionId string, adminId int, note string) (*models.PurchaseTransaction, error) {
	txn, err := models.GetPurchaseTransaction(ctx, transactionId)
	if err != nil {
		return nil, err
	}
	// Chain purchases may also be approved by hand when automated receipt
	// verification cannot conclude (RPC outage, non-standard transfer).
	if txn.Rail != models.PaymentRailManual && txn.Rail != models.PaymentRailChain {
		return nil, utils.NewValidationError("transaction %s cannot be approved by hand on rail %s", transactionId, txn.Rail)
	}
	return SettlePurchase(ctx, logger, transactionId, models.ActorAdmin, adminId, note)
}

// RejectManualPurchase fails the transaction with the admin's reason.
func RejectManualPurchase(ctx context.Context, logger *logrus.Logger, transactionId string, adminId int, reason string) (*models.PurchaseTransaction, error) {
	if reason == "" {
		return nil, utils.NewValidationError("rejection requires a reason")
	}
	txn, err := models.GetPurchaseTransaction(ctx, transactionId)
	if err != nil {
		return nil, err
	}
	if txn.Rail != models.PaymentRailManual {
		return nil, utils.NewValidationError("transaction %s is not a manual purchase", transactionId)
	}
	return FailPurchase(ctx, logger, transactionId, models.ActorAdmin, adminId, reason)
}

// CancelManualApproval reverses a mistaken approval: shares return to
// inventory and commissions reverse, exactly as a refund.
func CancelManualApproval(ctx context.Context, logger *logrus.Logger, transactionId string, adminId int, reason string) (*models.PurchaseTransaction, error) {
	if reason == "" {
		return nil, utils.NewValidationError("cancelling an approval requires a reason")
	}
	return RefundPurchase(ctx, logger, transactionId, adminId, reason)
}

// GrantShares is the admin-grant rail: no money moves through the system,
// the transaction is created and settled in one call. Promotions, employee
// allocations, corrections.
func GrantShares(ctx context.Context, logger *logrus.Logger, userId int, kind models.ShareKind, shares int64, currency models.Currency, adminId int, note string) (*models.PurchaseTransaction, error) {
	if note == "" {
		return nil, utils.NewValidationError("a grant requires an admin note")
	}
	quote, err := QuoteShares(ctx, kind, shares, currency)
	if err != nil {
		return nil, err
	}
	txn, err := models.CreatePurchaseTransaction(ctx, nil, &models.NewPurchaseTransaction{
		UserId: userId,
		Quote:  quote,
		Rail:   models.PaymentRailAdminGrant,
	})
	if err != nil {
		return nil, err
	}
	return SettlePurchase(ctx, logger, txn.TransactionId, models.ActorAdmin, adminId, note)
}
