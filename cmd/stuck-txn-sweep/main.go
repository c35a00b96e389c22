package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/workflow"
)

// Finds transactions stuck in pending/verifying, re-queries the rails that
// can answer, and prints the remainder for admin follow-up.
func main() {
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	report, err := workflow.RunStuckTransactionSweep(ctx, logger, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "stuck transaction sweep failed: %v\n", err)
		os.Exit(1)
	}
	for _, finding := range report {
		fmt.Printf("%s rail=%s status=%s age=%s requeried=%v\n",
			finding.TransactionId, finding.Rail, finding.Status, finding.Age.Round(time.Minute), finding.Requeried)
	}
	fmt.Printf("%d stuck transaction(s)\n", len(report))
}
