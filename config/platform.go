package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Platform-level knobs for the share-purchase core. Everything is env-driven;
// defaults match production values.
//
// - REFERRAL_RATE_GEN1 / GEN2 / GEN3  commission percent per generation
// - COFOUNDER_SHARE_RATIO             regular shares per co-founder share
// - COMPANY_WALLET_ADDRESS            BSC wallet receiving USDT transfers
// - USDT_CONTRACT_ADDRESS             BEP-20 USDT contract
// - BSC_RPC_URL                       JSON-RPC endpoint
// - PAYSTACK_SECRET_KEY / PAYSTACK_BASE_URL
// - CENTIIV_API_KEY / CENTIIV_BASE_URL / CENTIIV_WEBHOOK_SECRET
// - STUCK_PENDING_MINUTES / STUCK_VERIFYING_MINUTES  reconciliation thresholds
// - CHAIN_VERIFY_DELAY_SECONDS        propagation delay before first receipt check

const defaultUSDTContract = "0x55d398326f99059fF775485246999027B3197955"

func ReferralRate(generation int) decimal.Decimal {
	switch generation {
	case 1:
		return decimalFromEnv("REFERRAL_RATE_GEN1", "15")
	case 2:
		return decimalFromEnv("REFERRAL_RATE_GEN2", "3")
	case 3:
		return decimalFromEnv("REFERRAL_RATE_GEN3", "2")
	}
	return decimal.Zero
}

// CoFounderShareRatio returns how many regular shares one co-founder share
// represents for inventory accounting.
func CoFounderShareRatio() int64 {
	return int64FromEnv("COFOUNDER_SHARE_RATIO", 29)
}

func CompanyWalletAddress() string {
	return strings.TrimSpace(os.Getenv("COMPANY_WALLET_ADDRESS"))
}

func USDTContractAddress() string {
	v := strings.TrimSpace(os.Getenv("USDT_CONTRACT_ADDRESS"))
	if v == "" {
		return defaultUSDTContract
	}
	return v
}

func BscRPCURL() string {
	v := strings.TrimSpace(os.Getenv("BSC_RPC_URL"))
	if v == "" {
		return "https://bsc-dataseed.binance.org"
	}
	return v
}

func PaystackSecretKey() string {
	return strings.TrimSpace(os.Getenv("PAYSTACK_SECRET_KEY"))
}

func PaystackBaseURL() string {
	v := strings.TrimSpace(os.Getenv("PAYSTACK_BASE_URL"))
	if v == "" {
		return "https://api.paystack.co"
	}
	return v
}

func CentiivAPIKey() string {
	return strings.TrimSpace(os.Getenv("CENTIIV_API_KEY"))
}

func CentiivBaseURL() string {
	v := strings.TrimSpace(os.Getenv("CENTIIV_BASE_URL"))
	if v == "" {
		return "https://api.centiiv.com"
	}
	return v
}

func CentiivWebhookSecret() string {
	return strings.TrimSpace(os.Getenv("CENTIIV_WEBHOOK_SECRET"))
}

func PaymentCallbackBaseURL() string {
	return strings.TrimRight(strings.TrimSpace(os.Getenv("PAYMENT_CALLBACK_BASE_URL")), "/")
}

// StuckPendingAge is how long a pending transaction may idle before the
// reconciliation sweep flags it.
func StuckPendingAge() time.Duration {
	return time.Duration(int64FromEnv("STUCK_PENDING_MINUTES", 60)) * time.Minute
}

func StuckVerifyingAge() time.Duration {
	return time.Duration(int64FromEnv("STUCK_VERIFYING_MINUTES", 120)) * time.Minute
}

func ChainVerifyDelay() time.Duration {
	return time.Duration(int64FromEnv("CHAIN_VERIFY_DELAY_SECONDS", 30)) * time.Second
}

func int64FromEnv(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func decimalFromEnv(key string, def string) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		d, _ = decimal.NewFromString(def)
	}
	return d
}
