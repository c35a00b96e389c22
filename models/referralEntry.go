package models

import (
	"context"
	"time"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReferralEntry corrections come in two shapes: a purchase reversal inserts
// a Reversed twin next to the original, while an admin edit rewrites one
// entry in place keeping its first pre-edit amount in OriginalAmount. The
// per-user aggregate table is a projection rebuildable from entries.
type ReferralEntry struct {
	ID                int                  `gorm:"primary_key" json:"id"`
	BeneficiaryUserId int                  `gorm:"not null;index" json:"beneficiary_user_id"`
	SourceUserId      int                  `gorm:"not null;index" json:"source_user_id"`
	// SourceTxId is nil for admin adjustment entries.
	SourceTxId   *string              `gorm:"size:32;index" json:"source_tx_id"`
	Generation   int                  `gorm:"not null" json:"generation"`
	PurchaseKind ReferralPurchaseKind `gorm:"size:16;not null" json:"purchase_kind"`
	Amount       int64                `gorm:"not null" json:"amount"`
	Currency     Currency             `gorm:"size:8;not null" json:"currency"`
	Status       ReferralEntryStatus  `gorm:"size:16;not null;index" json:"status"`

	OriginalAmount *int64  `json:"original_amount"`
	AdjustedBy     *int    `json:"adjusted_by"`
	Reason         *string `gorm:"size:512" json:"reason"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type UserReferralAggregate struct {
	ID     int `gorm:"primary_key" json:"id"`
	UserId int `gorm:"not null;uniqueIndex" json:"user_id"`

	Gen1Earnings int64 `gorm:"not null;default:0" json:"gen1_earnings"`
	Gen1Count    int64 `gorm:"not null;default:0" json:"gen1_count"`
	Gen2Earnings int64 `gorm:"not null;default:0" json:"gen2_earnings"`
	Gen2Count    int64 `gorm:"not null;default:0" json:"gen2_count"`
	Gen3Earnings int64 `gorm:"not null;default:0" json:"gen3_earnings"`
	Gen3Count    int64 `gorm:"not null;default:0" json:"gen3_count"`

	TotalEarnings int64 `gorm:"not null;default:0" json:"total_earnings"`

	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *UserReferralAggregate) GenEarnings(generation int) int64 {
	switch generation {
	case 1:
		return a.Gen1Earnings
	case 2:
		return a.Gen2Earnings
	case 3:
		return a.Gen3Earnings
	}
	return 0
}

// getOrCreateAggregateForUpdate locks the projection row for this user,
// creating it when the user has never earned before.
func getOrCreateAggregateForUpdate(tx *gorm.DB, userId int) (*UserReferralAggregate, error) {
	var agg UserReferralAggregate
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userId).First(&agg).Error
	if err == nil {
		return &agg, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	agg = UserReferralAggregate{UserId: userId}
	if err := tx.Create(&agg).Error; err != nil {
		return nil, err
	}
	return &agg, nil
}

// ApplyToAggregate moves a beneficiary's materialized totals by a signed
// amount. countDelta is +1 on emission, -1 on reversal, 0 for amount edits.
func ApplyToAggregate(tx *gorm.DB, userId int, generation int, amountDelta int64, countDelta int64) error {
	agg, err := getOrCreateAggregateForUpdate(tx, userId)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{
		"total_earnings": gorm.Expr("total_earnings + ?", amountDelta),
	}
	switch generation {
	case 1:
		updates["gen1_earnings"] = gorm.Expr("gen1_earnings + ?", amountDelta)
		updates["gen1_count"] = gorm.Expr("gen1_count + ?", countDelta)
	case 2:
		updates["gen2_earnings"] = gorm.Expr("gen2_earnings + ?", amountDelta)
		updates["gen2_count"] = gorm.Expr("gen2_count + ?", countDelta)
	case 3:
		updates["gen3_earnings"] = gorm.Expr("gen3_earnings + ?", amountDelta)
		updates["gen3_count"] = gorm.Expr("gen3_count + ?", countDelta)
	default:
		return utils.NewValidationError("referral generation must be 1..3, got %d", generation)
	}
	return tx.Model(&UserReferralAggregate{}).Where("id = ?", agg.ID).Updates(updates).Error
}

func GetUserReferralAggregate(ctx context.Context, userId int) (*UserReferralAggregate, error) {
	agg, err := utils.FetchModelWhere[UserReferralAggregate](ctx, "user_id = ?", userId)
	if err != nil {
		// A user with no entries has an all-zero projection.
		return &UserReferralAggregate{UserId: userId}, nil
	}
	return agg, nil
}

func GetReferralEntryForUpdate(tx *gorm.DB, entryId int) (*ReferralEntry, error) {
	var entry ReferralEntry
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", entryId).First(&entry).Error
	if err == gorm.ErrRecordNotFound {
		return nil, utils.NewNotFoundError("referral entry %d not found", entryId)
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func ListReferralEntriesForTx(tx *gorm.DB, sourceTxId string, status ReferralEntryStatus) ([]*ReferralEntry, error) {
	var entries []*ReferralEntry
	err := tx.Where("source_tx_id = ? AND status = ?", sourceTxId, status).
		Order("generation ASC").Find(&entries).Error
	return entries, err
}

func ListUserReferralEntries(ctx context.Context, userId int) ([]*ReferralEntry, error) {
	db := config.GetDB()
	var entries []*ReferralEntry
	err := db.WithContext(ctx).Where("beneficiary_user_id = ?", userId).
		Order("created_at DESC").Find(&entries).Error
	return entries, err
}
