package workflow

import (
	"context"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/models"
	"github.com/afrimobile/shares_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const referralMaxGenerations = 3

func referralPurchaseKindFor(kind models.ShareKind) models.ReferralPurchaseKind {
	if kind == models.ShareKindCoFounder {
		return models.ReferralPurchaseCoFounder
	}
	return models.ReferralPurchaseRegular
}

// EmitReferralCommissions writes gen 1..3 commission entries for a purchase
// moving to completed, inside the caller's settle transaction, so the ledger
// and the purchase commit or roll back together. A buyer with no upline earns
// nobody anything; a hop whose computed commission truncates to zero is
// skipped entirely (no zero-amount entries).
func EmitReferralCommissions(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, txn *models.PurchaseTransaction) error {
	upline, err := models.Upline(tx.WithContext(ctx), txn.UserId, referralMaxGenerations)
	if err != nil {
		config.LogError(logger, "workflow", "EmitReferralCommissions", "upline walk", txn.TransactionId, err)
		return err
	}

	for i, beneficiary := range upline {
		generation := i + 1
		amount := utils.PercentOfMinorUnits(txn.Amount, config.ReferralRate(generation))
		if amount <= 0 {
			continue
		}
		entry := models.ReferralEntry{
			BeneficiaryUserId: beneficiary.ID,
			SourceUserId:      txn.UserId,
			SourceTxId:        &txn.TransactionId,
			Generation:        generation,
			PurchaseKind:      referralPurchaseKindFor(txn.Kind),
			Amount:            amount,
			Currency:          txn.Currency,
			Status:            models.ReferralEntryCompleted,
		}
		if err := tx.Create(&entry).Error; err != nil {
			config.LogError(logger, "workflow", "EmitReferralCommissions", "create entry", entry, err)
			return err
		}
		if err := models.ApplyToAggregate(tx, beneficiary.ID, generation, amount, 1); err != nil {
			return err
		}
	}
	return nil
}

// ReverseReferralCommissions compensates a refunded purchase: every Completed
// entry sourced by the transaction gets a Reversed twin and its beneficiary's
// aggregate is walked back. Entries are never rewritten. Calling this twice
// for the same transaction is a no-op.
func ReverseReferralCommissions(tx *gorm.DB, logger *logrus.Logger, transactionId string) error {
	already, err := models.ListReferralEntriesForTx(tx, transactionId, models.ReferralEntryReversed)
	if err != nil {
		return err
	}
	if len(already) > 0 {
		return nil
	}

	entries, err := models.ListReferralEntriesForTx(tx, transactionId, models.ReferralEntryCompleted)
	if err != nil {
		config.LogError(logger, "workflow", "ReverseReferralCommissions", "list entries", transactionId, err)
		return err
	}
	for _, entry := range entries {
		twin := models.ReferralEntry{
			BeneficiaryUserId: entry.BeneficiaryUserId,
			SourceUserId:      entry.SourceUserId,
			SourceTxId:        entry.SourceTxId,
			Generation:        entry.Generation,
			PurchaseKind:      entry.PurchaseKind,
			Amount:            entry.Amount,
			Currency:          entry.Currency,
			Status:            models.ReferralEntryReversed,
		}
		if err := tx.Create(&twin).Error; err != nil {
			config.LogError(logger, "workflow", "ReverseReferralCommissions", "create reversal", twin, err)
			return err
		}
		if err := models.ApplyToAggregate(tx, entry.BeneficiaryUserId, entry.Generation, -entry.Amount, -1); err != nil {
			return err
		}
	}
	return nil
}

// AddReferralAdjustment inserts an admin credit or debit (negative delta)
// against a beneficiary's referral earnings, anchored to no purchase. The
// audit fields record who did it and why.
func AddReferralAdjustment(ctx context.Context, logger *logrus.Logger, beneficiaryUserId int, generation int, amountDelta int64, currency models.Currency, adminId int, reason string) (*models.ReferralEntry, error) {
	if generation < 1 || generation > referralMaxGenerations {
		return nil, utils.NewValidationError("generation must be 1..%d, got %d", referralMaxGenerations, generation)
	}
	if amountDelta == 0 {
		return nil, utils.NewValidationError("adjustment amount must be non-zero")
	}
	if reason == "" {
		return nil, utils.NewValidationError("adjustment reason is required")
	}
	if err := utils.ValidateResourceId[models.User](ctx, beneficiaryUserId); err != nil {
		return nil, err
	}

	entry := models.ReferralEntry{
		BeneficiaryUserId: beneficiaryUserId,
		SourceUserId:      beneficiaryUserId,
		Generation:        generation,
		PurchaseKind:      models.ReferralPurchaseAdjustment,
		Amount:            amountDelta,
		Currency:          currency,
		Status:            models.ReferralEntryCompleted,
		AdjustedBy:        &adminId,
		Reason:            &reason,
	}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		return models.ApplyToAggregate(tx, beneficiaryUserId, generation, amountDelta, 0)
	})
	if err != nil {
		config.LogError(logger, "workflow", "AddReferralAdjustment", "adjustment transaction", entry, err)
		return nil, err
	}
	return &entry, nil
}

// applyReferralEdit mutates a single entry per an admin correction: a new
// amount (recording the original on first edit), a status flip, or both.
// Pure over the loaded entry; the caller persists and rebuilds the aggregate.
func applyReferralEdit(entry *models.ReferralEntry, newAmount *int64, newStatus *models.ReferralEntryStatus, adminId int, reason string) error {
	if reason == "" {
		return utils.NewValidationError("edit reason is required")
	}
	if newAmount == nil && newStatus == nil {
		return utils.NewValidationError("edit must change the amount or the status")
	}
	if newStatus != nil && *newStatus != models.ReferralEntryCompleted && *newStatus != models.ReferralEntryReversed {
		return utils.NewValidationError("unknown referral entry status %q", *newStatus)
	}
	if newAmount != nil {
		if *newAmount == 0 {
			return utils.NewValidationError("edited amount must be non-zero")
		}
		if entry.OriginalAmount == nil {
			original := entry.Amount
			entry.OriginalAmount = &original
		}
		entry.Amount = *newAmount
	}
	if newStatus != nil {
		entry.Status = *newStatus
	}
	entry.AdjustedBy = &adminId
	entry.Reason = &reason
	return nil
}

// EditReferralEntry corrects one entry's amount or status in place. The entry
// keeps its first pre-edit amount in OriginalAmount; the beneficiary's
// aggregate is rebuilt from the ledger in the same commit, so the projection
// can never drift from the corrected entries.
func EditReferralEntry(ctx context.Context, logger *logrus.Logger, entryId int, newAmount *int64, newStatus *models.ReferralEntryStatus, adminId int, reason string) (*models.ReferralEntry, error) {
	var edited *models.ReferralEntry
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := models.GetReferralEntryForUpdate(tx, entryId)
		if err != nil {
			return err
		}
		if err := applyReferralEdit(entry, newAmount, newStatus, adminId, reason); err != nil {
			return err
		}
		if err := tx.Save(entry).Error; err != nil {
			return err
		}
		if _, err := rebuildReferralAggregate(tx, entry.BeneficiaryUserId); err != nil {
			return err
		}
		edited = entry
		return nil
	})
	if err != nil {
		config.LogError(logger, "workflow", "EditReferralEntry", "edit entry", entryId, err)
		return nil, err
	}
	return edited, nil
}

// SyncReferralStats rebuilds one user's aggregate projection from the entry
// ledger. Reversed entries subtract what their Completed twins added, so the
// fold is a signed sum per generation.
func SyncReferralStats(ctx context.Context, logger *logrus.Logger, userId int) (*models.UserReferralAggregate, error) {
	var rebuilt *models.UserReferralAggregate
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rebuilt, err = rebuildReferralAggregate(tx, userId)
		return err
	})
	if err != nil {
		config.LogError(logger, "workflow", "SyncReferralStats", "rebuild projection", userId, err)
		return nil, err
	}
	return rebuilt, nil
}

func rebuildReferralAggregate(tx *gorm.DB, userId int) (*models.UserReferralAggregate, error) {
	var entries []*models.ReferralEntry
	if err := tx.Where("beneficiary_user_id = ?", userId).
		Order("id asc").Find(&entries).Error; err != nil {
		return nil, err
	}

	agg := models.UserReferralAggregate{UserId: userId}
	for _, entry := range entries {
		sign := int64(1)
		countDelta := int64(1)
		if entry.Status == models.ReferralEntryReversed {
			sign = -1
			countDelta = -1
		}
		if entry.PurchaseKind == models.ReferralPurchaseAdjustment {
			countDelta = 0
		}
		switch entry.Generation {
		case 1:
			agg.Gen1Earnings += sign * entry.Amount
			agg.Gen1Count += countDelta
		case 2:
			agg.Gen2Earnings += sign * entry.Amount
			agg.Gen2Count += countDelta
		case 3:
			agg.Gen3Earnings += sign * entry.Amount
			agg.Gen3Count += countDelta
		}
		agg.TotalEarnings += sign * entry.Amount
	}

	var existing models.UserReferralAggregate
	err := tx.Where("user_id = ?", userId).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if createErr := tx.Create(&agg).Error; createErr != nil {
			return nil, createErr
		}
		return &agg, nil
	}
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"gen1_earnings":  agg.Gen1Earnings,
		"gen1_count":     agg.Gen1Count,
		"gen2_earnings":  agg.Gen2Earnings,
		"gen2_count":     agg.Gen2Count,
		"gen3_earnings":  agg.Gen3Earnings,
		"gen3_count":     agg.Gen3Count,
		"total_earnings": agg.TotalEarnings,
	}
	if err := tx.Model(&models.UserReferralAggregate{}).
		Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	agg.ID = existing.ID
	return &agg, nil
}
