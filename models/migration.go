package models

import (
	"log"

	"github.com/afrimobile/shares_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{},
		&RegularShareConfig{}, &ShareTier{}, &CoFounderShareConfig{},
		&PurchaseTransaction{},
		&InstallmentPlan{}, &Installment{}, &InstallmentPayment{},
		&ReferralEntry{}, &UserReferralAggregate{},
		&PurchaseEventRecord{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}

// SeedShareConfig creates the two inventory singletons when absent. Tier
// capacities and prices come from the caller (cmd/seed-share-config).
func SeedShareConfig(regular *RegularShareConfig, coFounder *CoFounderShareConfig) error {
	db := config.GetDB()

	var count int64
	if err := db.Model(&RegularShareConfig{}).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		if err := db.Create(regular).Error; err != nil {
			return err
		}
	}

	if err := db.Model(&CoFounderShareConfig{}).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		if err := db.Create(coFounder).Error; err != nil {
			return err
		}
	}
	return InvalidateShareConfigCache()
}
