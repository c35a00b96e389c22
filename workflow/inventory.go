package workflow

import (
	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/models"
	"github.com/afrimobile/shares_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Inventory moves only here, inside settle/refund transactions. Every
// increment is a single guarded UPDATE so two concurrent settlements racing
// for the last shares cannot both win: the loser's statement matches zero
// rows and its whole transaction rolls back.

// CommitShares consumes inventory for a purchase moving to completed. For
// regular purchases the breakdown says how many shares each tier absorbs;
// for co-founder purchases the breakdown is ignored and the co-founder pool
// plus the equivalent regular capacity are consumed.
func CommitShares(tx *gorm.DB, logger *logrus.Logger, kind models.ShareKind, shares int64, breakdown models.TierBreakdown) error {
	if kind == models.ShareKindCoFounder {
		return commitCoFounderShares(tx, logger, shares)
	}
	return commitRegularShares(tx, logger, breakdown)
}

func commitRegularShares(tx *gorm.DB, logger *logrus.Logger, breakdown models.TierBreakdown) error {
	for tier := 1; tier <= 3; tier++ {
		qty := breakdown.ForTier(tier)
		if qty == 0 {
			continue
		}
		result := tx.Model(&models.ShareTier{}).
			Where("tier = ? AND sold_count + ? <= capacity", tier, qty).
			Update("sold_count", gorm.Expr("sold_count + ?", qty))
		if result.Error != nil {
			config.LogError(logger, "workflow", "commitRegularShares", "guarded tier update", breakdown, result.Error)
			return result.Error
		}
		if result.RowsAffected == 0 {
			return utils.NewCapacityError("tier %d cannot absorb %d more shares", tier, qty)
		}
	}
	return nil
}

func commitCoFounderShares(tx *gorm.DB, logger *logrus.Logger, shares int64) error {
	result := tx.Model(&models.CoFounderShareConfig{}).
		Where("sold_count + ? <= total_capacity", shares).
		Update("sold_count", gorm.Expr("sold_count + ?", shares))
	if result.Error != nil {
		config.LogError(logger, "workflow", "commitCoFounderShares", "guarded pool update", shares, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.NewCapacityError("co-founder pool cannot absorb %d more shares", shares)
	}

	// A co-founder share equals ratio regular shares, so the combined draw on
	// regular capacity must still fit after this sale. The ratio comes from
	// the same admin-editable row the quote and availability paths read.
	var regular models.RegularShareConfig
	if err := tx.First(&regular).Error; err != nil {
		return err
	}
	var regularSold int64
	if err := tx.Model(&models.ShareTier{}).
		Select("COALESCE(SUM(sold_count), 0)").Scan(&regularSold).Error; err != nil {
		return err
	}
	var coFounder models.CoFounderShareConfig
	if err := tx.First(&coFounder).Error; err != nil {
		return err
	}
	ratio := coFounder.ShareToRegularRatio
	if ratio <= 0 {
		ratio = config.CoFounderShareRatio()
	}
	if regularSold+coFounder.SoldCount*ratio > regular.TotalCapacity {
		return utils.NewCapacityError(
			"selling %d co-founder share(s) would exceed regular capacity at ratio %d", shares, ratio)
	}
	return nil
}

// ReleaseShares returns inventory on refund, mirroring CommitShares. Sold
// counters can never go negative; if a release would do that the ledger and
// the counters have diverged and the refund must not proceed.
func ReleaseShares(tx *gorm.DB, logger *logrus.Logger, kind models.ShareKind, shares int64, breakdown models.TierBreakdown) error {
	if kind == models.ShareKindCoFounder {
		result := tx.Model(&models.CoFounderShareConfig{}).
			Where("sold_count - ? >= 0", shares).
			Update("sold_count", gorm.Expr("sold_count - ?", shares))
		if result.Error != nil {
			config.LogError(logger, "workflow", "ReleaseShares", "co-founder pool release", shares, result.Error)
			return result.Error
		}
		if result.RowsAffected == 0 {
			return utils.NewIntegrityError("", "co-founder sold count would go negative releasing %d shares", shares)
		}
		return nil
	}

	for tier := 1; tier <= 3; tier++ {
		qty := breakdown.ForTier(tier)
		if qty == 0 {
			continue
		}
		result := tx.Model(&models.ShareTier{}).
			Where("tier = ? AND sold_count - ? >= 0", tier, qty).
			Update("sold_count", gorm.Expr("sold_count - ?", qty))
		if result.Error != nil {
			config.LogError(logger, "workflow", "ReleaseShares", "tier release", breakdown, result.Error)
			return result.Error
		}
		if result.RowsAffected == 0 {
			return utils.NewIntegrityError("", "tier %d sold count would go negative releasing %d shares", tier, qty)
		}
	}
	return nil
}
