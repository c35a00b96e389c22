package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/models"
)

// Seeds the two inventory singletons on a fresh database. Existing configs
// are left untouched, so re-running is harmless. All prices are integer
// minor units (kobo / USDT cents).
func main() {
	tier1Cap := flag.Int64("tier1-capacity", 1_000_000, "tier 1 capacity in shares")
	tier2Cap := flag.Int64("tier2-capacity", 2_000_000, "tier 2 capacity in shares")
	tier3Cap := flag.Int64("tier3-capacity", 2_000_000, "tier 3 capacity in shares")
	tier1Naira := flag.Int64("tier1-price-naira", 5_000_00, "tier 1 price, kobo")
	tier2Naira := flag.Int64("tier2-price-naira", 6_000_00, "tier 2 price, kobo")
	tier3Naira := flag.Int64("tier3-price-naira", 7_000_00, "tier 3 price, kobo")
	tier1USDT := flag.Int64("tier1-price-usdt", 3_50, "tier 1 price, USDT cents")
	tier2USDT := flag.Int64("tier2-price-usdt", 4_20, "tier 2 price, USDT cents")
	tier3USDT := flag.Int64("tier3-price-usdt", 4_90, "tier 3 price, USDT cents")

	coFounderCap := flag.Int64("cofounder-capacity", 500, "co-founder pool capacity in shares")
	coFounderNaira := flag.Int64("cofounder-price-naira", 145_000_00, "co-founder price, kobo")
	coFounderUSDT := flag.Int64("cofounder-price-usdt", 101_50, "co-founder price, USDT cents")
	ratio := flag.Int64("ratio", 29, "co-founder to regular share equivalence ratio")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	models.MigrateTable()

	regular := &models.RegularShareConfig{
		TotalCapacity: *tier1Cap + *tier2Cap + *tier3Cap,
		Tiers: []models.ShareTier{
			{Tier: 1, Capacity: *tier1Cap, PriceNaira: *tier1Naira, PriceUSDT: *tier1USDT},
			{Tier: 2, Capacity: *tier2Cap, PriceNaira: *tier2Naira, PriceUSDT: *tier2USDT},
			{Tier: 3, Capacity: *tier3Cap, PriceNaira: *tier3Naira, PriceUSDT: *tier3USDT},
		},
	}
	coFounder := &models.CoFounderShareConfig{
		TotalCapacity:       *coFounderCap,
		PriceNaira:          *coFounderNaira,
		PriceUSDT:           *coFounderUSDT,
		ShareToRegularRatio: *ratio,
	}

	if err := models.SeedShareConfig(regular, coFounder); err != nil {
		fmt.Fprintf(os.Stderr, "seeding share config failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("share config seeded")
}
