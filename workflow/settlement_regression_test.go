package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/models"
	"github.com/afrimobile/shares_backend/utils"
	"github.com/afrimobile/shares_backend/workflow"
)

// End-to-end settlement behavior against real MySQL and Redis. Covers the
// three properties a purely in-memory test cannot: settling twice must not
// double-commit inventory or commission, a chain hash can back only one
// transaction, and a refund restores inventory and reverses commission.

func TestSettlePurchaseIdempotentAcrossRetries(t *testing.T) {
	ctx, logger := setupIntegrationEnv(t)

	buyer := seedReferralChain(t, ctx)

	txn := createManualPurchase(t, ctx, buyer.ID, 1200)

	settled, err := workflow.SettlePurchase(ctx, logger, txn.TransactionId, models.ActorAdmin, 999, "bank transfer sighted")
	if err != nil {
		t.Fatalf("SettlePurchase: %v", err)
	}
	if settled.Status != models.PurchaseStatusCompleted {
		t.Fatalf("status after settle: %s", settled.Status)
	}
	if settled.CompletedAt == nil || settled.VerifiedBy == nil || *settled.VerifiedBy != 999 {
		t.Fatalf("settle audit fields not set: %+v", settled)
	}

	// A retried delivery settles the same transaction again.
	again, err := workflow.SettlePurchase(ctx, logger, txn.TransactionId, models.ActorAdmin, 999, "retry")
	if err != nil {
		t.Fatalf("second SettlePurchase: %v", err)
	}
	if again.Status != models.PurchaseStatusCompleted {
		t.Fatalf("status after retry: %s", again.Status)
	}

	db := config.GetDB()

	// 1200 shares across tiers 1 and 2, committed exactly once.
	var tiers []models.ShareTier
	if err := db.Order("tier ASC").Find(&tiers).Error; err != nil {
		t.Fatalf("load tiers: %v", err)
	}
	if tiers[0].SoldCount != 1000 || tiers[1].SoldCount != 200 || tiers[2].SoldCount != 0 {
		t.Fatalf("sold counts %d/%d/%d, want 1000/200/0", tiers[0].SoldCount, tiers[1].SoldCount, tiers[2].SoldCount)
	}

	// One commission entry per upline generation, none duplicated.
	var entryCount int64
	if err := db.Model(&models.ReferralEntry{}).Where("source_tx_id = ?", txn.TransactionId).Count(&entryCount).Error; err != nil {
		t.Fatalf("count referral entries: %v", err)
	}
	if entryCount != 3 {
		t.Fatalf("referral entries: %d, want 3", entryCount)
	}

	// Gen-1 beneficiary earned 15% of the purchase amount.
	gen1, err := models.GetUserReferralAggregate(ctx, *buyer.ReferrerId)
	if err != nil {
		t.Fatalf("gen1 aggregate: %v", err)
	}
	wantGen1 := settled.Amount * 15 / 100
	if gen1.Gen1Earnings != wantGen1 || gen1.Gen1Count != 1 {
		t.Fatalf("gen1 earnings %d count %d, want %d and 1", gen1.Gen1Earnings, gen1.Gen1Count, wantGen1)
	}

	// Exactly one completion event in the outbox.
	var eventCount int64
	if err := db.Model(&models.PurchaseEventRecord{}).
		Where("transaction_id = ? AND event_type = ?", txn.TransactionId, models.EventPurchaseCompleted).
		Count(&eventCount).Error; err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("completion events: %d, want 1", eventCount)
	}
}

func TestChainHashAcceptedOnlyOnce(t *testing.T) {
	ctx, logger := setupIntegrationEnv(t)
	buyer := seedReferralChain(t, ctx)

	first, _, err := workflow.BeginChainPurchase(ctx, logger, buyer.ID, models.ShareKindRegular, 10, "")
	if err != nil {
		t.Fatalf("BeginChainPurchase: %v", err)
	}
	second, _, err := workflow.BeginChainPurchase(ctx, logger, buyer.ID, models.ShareKindRegular, 10, "")
	if err != nil {
		t.Fatalf("BeginChainPurchase: %v", err)
	}

	hash := "0x" + strings.Repeat("ab", 32)
	if _, err := workflow.SubmitChainHash(ctx, logger, first.TransactionId, hash); err != nil {
		t.Fatalf("first SubmitChainHash: %v", err)
	}
	// Resubmitting the same hash on the same transaction is a no-op.
	if _, err := workflow.SubmitChainHash(ctx, logger, first.TransactionId, hash); err != nil {
		t.Fatalf("resubmit on same transaction: %v", err)
	}
	// The same hash on a different transaction is rejected.
	if _, err := workflow.SubmitChainHash(ctx, logger, second.TransactionId, hash); utils.KindOf(err) != utils.ErrorKindConflict {
		t.Fatalf("expected conflict reusing a hash, got %v", err)
	}
}

func TestRefundReleasesInventoryAndReversesCommission(t *testing.T) {
	ctx, logger := setupIntegrationEnv(t)
	buyer := seedReferralChain(t, ctx)

	txn := createManualPurchase(t, ctx, buyer.ID, 500)
	if _, err := workflow.SettlePurchase(ctx, logger, txn.TransactionId, models.ActorAdmin, 999, "approved"); err != nil {
		t.Fatalf("SettlePurchase: %v", err)
	}

	refunded, err := workflow.RefundPurchase(ctx, logger, txn.TransactionId, 999, "customer request")
	if err != nil {
		t.Fatalf("RefundPurchase: %v", err)
	}
	if refunded.Status != models.PurchaseStatusRefunded {
		t.Fatalf("status after refund: %s", refunded.Status)
	}

	db := config.GetDB()

	var tier1 models.ShareTier
	if err := db.Where("tier = ?", 1).First(&tier1).Error; err != nil {
		t.Fatalf("load tier 1: %v", err)
	}
	if tier1.SoldCount != 0 {
		t.Fatalf("tier 1 sold count after refund: %d, want 0", tier1.SoldCount)
	}

	// The reversal entries cancel the originals and the aggregate nets out.
	var reversed int64
	if err := db.Model(&models.ReferralEntry{}).
		Where("source_tx_id = ? AND status = ?", txn.TransactionId, models.ReferralEntryReversed).
		Count(&reversed).Error; err != nil {
		t.Fatalf("count reversals: %v", err)
	}
	if reversed != 3 {
		t.Fatalf("reversal entries: %d, want 3", reversed)
	}
	gen1, err := models.GetUserReferralAggregate(ctx, *buyer.ReferrerId)
	if err != nil {
		t.Fatalf("gen1 aggregate: %v", err)
	}
	if gen1.Gen1Earnings != 0 || gen1.TotalEarnings != 0 {
		t.Fatalf("aggregate not netted out: %+v", gen1)
	}

	// Rebuilding the projection from the entries reproduces the same state.
	resynced, err := workflow.SyncReferralStats(ctx, logger, *buyer.ReferrerId)
	if err != nil {
		t.Fatalf("SyncReferralStats: %v", err)
	}
	if resynced.Gen1Earnings != 0 || resynced.TotalEarnings != 0 || resynced.Gen1Count != 0 {
		t.Fatalf("resync drifted from the ledger: %+v", resynced)
	}

	// Refunding twice stays refunded.
	if again, err := workflow.RefundPurchase(ctx, logger, txn.TransactionId, 999, "retry"); err != nil || again.Status != models.PurchaseStatusRefunded {
		t.Fatalf("second refund: %+v, %v", again, err)
	}
}

func TestCoFounderCommitHonorsConfiguredRatio(t *testing.T) {
	ctx, logger := setupIntegrationEnv(t)

	// Shrink the regular pool to 450 equivalents and raise the ratio far
	// above the default: at ratio 100 even one co-founder sale must fail
	// the cross-pool check, proving the commit path reads the stored ratio
	// rather than the environment default.
	db := config.GetDB()
	if err := db.Model(&models.RegularShareConfig{}).Where("1 = 1").
		Update("total_capacity", 450).Error; err != nil {
		t.Fatalf("shrink regular capacity: %v", err)
	}
	for tier, capacity := range map[int]int64{1: 250, 2: 100, 3: 100} {
		if err := db.Model(&models.ShareTier{}).Where("tier = ?", tier).
			Update("capacity", capacity).Error; err != nil {
			t.Fatalf("shrink tier %d: %v", tier, err)
		}
	}
	if _, err := models.UpdateCoFounderPricing(ctx, &models.NewCoFounderPricing{
		Capacity:   50,
		PriceNaira: 145_000_00,
		PriceUSDT:  101_50,
		Ratio:      100,
	}); err != nil {
		t.Fatalf("raise ratio: %v", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return workflow.CommitShares(tx, logger, models.ShareKindCoFounder, 5, models.TierBreakdown{})
	})
	if utils.KindOf(err) != utils.ErrorKindInsufficientCapacity {
		t.Fatalf("expected capacity error at ratio 100, got %v", err)
	}

	// At the stored default ratio the same sale fits.
	if _, err := models.UpdateCoFounderPricing(ctx, &models.NewCoFounderPricing{
		Capacity:   50,
		PriceNaira: 145_000_00,
		PriceUSDT:  101_50,
		Ratio:      29,
	}); err != nil {
		t.Fatalf("restore ratio: %v", err)
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		return workflow.CommitShares(tx, logger, models.ShareKindCoFounder, 5, models.TierBreakdown{})
	})
	if err != nil {
		t.Fatalf("commit at ratio 29 should fit: %v", err)
	}
}

func TestUplineWalkReadsThroughTransaction(t *testing.T) {
	ctx, _ := setupIntegrationEnv(t)

	buyer := seedReferralChain(t, ctx)
	db := config.GetDB()

	err := db.Transaction(func(tx *gorm.DB) error {
		upline, err := models.Upline(tx.WithContext(ctx), buyer.ID, 3)
		if err != nil {
			return err
		}
		if len(upline) != 3 {
			t.Fatalf("expected 3 generations, got %d", len(upline))
		}
		for i, name := range []string{"gen1", "gen2", "gen3"} {
			if upline[i].Name != name {
				t.Fatalf("generation %d: expected %s, got %s", i+1, name, upline[i].Name)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("upline walk: %v", err)
	}

	// Close the chain into a cycle: the walk must stop at the repeated user
	// instead of looping or duplicating beneficiaries.
	gen1 := buyer.ReferrerId
	if err := db.Model(&models.User{}).Where("name = ?", "gen3").
		Update("referrer_id", *gen1).Error; err != nil {
		t.Fatalf("close cycle: %v", err)
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		upline, err := models.Upline(tx.WithContext(ctx), buyer.ID, 10)
		if err != nil {
			return err
		}
		if len(upline) != 3 {
			t.Fatalf("cyclic chain should stop at 3 generations, got %d", len(upline))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("cyclic upline walk: %v", err)
	}
}

/* Fixtures */

func setupIntegrationEnv(t *testing.T) (context.Context, *logrus.Logger) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}
	t.Helper()
	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "afrimobile_shares_test")
	t.Setenv("COMPANY_WALLET_ADDRESS", "0x1111111111111111111111111111111111111111")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	regular := &models.RegularShareConfig{
		TotalCapacity: 3000,
		Tiers: []models.ShareTier{
			{Tier: 1, Capacity: 1000, PriceNaira: 100_00, PriceUSDT: 50},
			{Tier: 2, Capacity: 1000, PriceNaira: 200_00, PriceUSDT: 100},
			{Tier: 3, Capacity: 1000, PriceNaira: 300_00, PriceUSDT: 150},
		},
	}
	coFounder := &models.CoFounderShareConfig{
		TotalCapacity:       50,
		PriceNaira:          145_000_00,
		PriceUSDT:           101_50,
		ShareToRegularRatio: 29,
	}
	if err := models.SeedShareConfig(regular, coFounder); err != nil {
		t.Fatalf("SeedShareConfig: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return ctx, logger
}

// seedReferralChain creates gen3 <- gen2 <- gen1 <- buyer and returns the
// buyer, whose ReferrerId points at the gen-1 beneficiary.
func seedReferralChain(t *testing.T, ctx context.Context) *models.User {
	t.Helper()
	db := config.GetDB()

	var prev *int
	var last *models.User
	for _, name := range []string{"gen3", "gen2", "gen1", "buyer"} {
		u := &models.User{
			Email:      fmt.Sprintf("%s-%d@test.local", name, time.Now().UnixNano()),
			Name:       name,
			ReferrerId: prev,
		}
		if err := db.WithContext(ctx).Create(u).Error; err != nil {
			t.Fatalf("create user %s: %v", name, err)
		}
		id := u.ID
		prev = &id
		last = u
	}
	return last
}

func createManualPurchase(t *testing.T, ctx context.Context, userId int, shares int64) *models.PurchaseTransaction {
	t.Helper()
	db := config.GetDB()

	regular, err := models.GetRegularShareConfig(ctx)
	if err != nil {
		t.Fatalf("load regular config: %v", err)
	}
	quote, err := regular.Quote(shares, models.CurrencyNaira)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	method := models.ManualMethodBank
	txn, err := models.CreatePurchaseTransaction(ctx, db, &models.NewPurchaseTransaction{
		UserId:       userId,
		Quote:        quote,
		Rail:         models.PaymentRailManual,
		ManualMethod: &method,
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return txn
}

/* Docker plumbing */

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("shares-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "redis-cli", "ping"); err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("shares-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=afrimobile_shares_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent"); err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
