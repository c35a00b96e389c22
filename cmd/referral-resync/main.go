package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/models"
	"github.com/afrimobile/shares_backend/workflow"
)

// Rebuilds referral aggregate projections from the entry ledger, for one
// user or for every user that has entries. Use after manual data surgery or
// when a reconciliation check flags drift.
func main() {
	userID := flag.Int("user-id", 0, "Optional: resync only this user")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	var userIds []int
	if *userID > 0 {
		userIds = []int{*userID}
	} else {
		if err := db.WithContext(ctx).Model(&models.ReferralEntry{}).
			Distinct("beneficiary_user_id").Pluck("beneficiary_user_id", &userIds).Error; err != nil {
			fmt.Fprintf(os.Stderr, "listing beneficiaries failed: %v\n", err)
			os.Exit(1)
		}
	}

	failed := 0
	for _, id := range userIds {
		if _, err := workflow.SyncReferralStats(ctx, logger, id); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "user %d: %v\n", id, err)
		}
	}
	fmt.Printf("resynced %d user(s), %d failed\n", len(userIds)-failed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
