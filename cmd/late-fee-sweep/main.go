package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/workflow"
)

// Accrues late fees across open installment plans. Run from cron; safe to
// run as often as you like.
func main() {
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	count, err := workflow.RunLateFeeSweep(ctx, logger, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "late fee sweep failed after %d late plans: %v\n", count, err)
		os.Exit(1)
	}
	fmt.Printf("late fee sweep done, %d plans late\n", count)
}
