package models

import (
	"testing"

	"github.com/afrimobile/shares_backend/utils"
)

// DB-free quoting and availability math over in-memory configs.

func threeTierConfig(caps [3]int64, sold [3]int64, naira [3]int64) *RegularShareConfig {
	cfg := &RegularShareConfig{TotalCapacity: caps[0] + caps[1] + caps[2]}
	for i := 0; i < 3; i++ {
		cfg.Tiers = append(cfg.Tiers, ShareTier{
			Tier:       i + 1,
			Capacity:   caps[i],
			SoldCount:  sold[i],
			PriceNaira: naira[i],
			PriceUSDT:  naira[i] / 2,
		})
	}
	return cfg
}

func TestRegularQuoteSpansTierBoundary(t *testing.T) {
	// tier1 1000 @ ₦100, tier2 1000 @ ₦200, tier3 1000 @ ₦300, all unsold
	cfg := threeTierConfig(
		[3]int64{1000, 1000, 1000},
		[3]int64{0, 0, 0},
		[3]int64{100_00, 200_00, 300_00})

	quote, err := cfg.Quote(1200, CurrencyNaira)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if quote.TierBreakdown.Tier1 != 1000 || quote.TierBreakdown.Tier2 != 200 || quote.TierBreakdown.Tier3 != 0 {
		t.Fatalf("unexpected breakdown %+v", quote.TierBreakdown)
	}
	// 1000×₦100 + 200×₦200 = ₦140 000
	if quote.TotalPrice != 140_000_00 {
		t.Fatalf("expected total 14000000 kobo, got %d", quote.TotalPrice)
	}
	if quote.TierBreakdown.Sum() != quote.Shares {
		t.Fatalf("breakdown sum %d != shares %d", quote.TierBreakdown.Sum(), quote.Shares)
	}
}

func TestRegularQuoteSkipsSoldOutTier(t *testing.T) {
	cfg := threeTierConfig(
		[3]int64{100, 100, 100},
		[3]int64{100, 40, 0},
		[3]int64{100_00, 200_00, 300_00})

	quote, err := cfg.Quote(80, CurrencyNaira)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if quote.TierBreakdown.Tier1 != 0 || quote.TierBreakdown.Tier2 != 60 || quote.TierBreakdown.Tier3 != 20 {
		t.Fatalf("unexpected breakdown %+v", quote.TierBreakdown)
	}
	if quote.TotalPrice != 60*200_00+20*300_00 {
		t.Fatalf("unexpected total %d", quote.TotalPrice)
	}
}

func TestRegularQuoteInsufficientCapacity(t *testing.T) {
	cfg := threeTierConfig(
		[3]int64{10, 10, 10},
		[3]int64{5, 0, 0},
		[3]int64{100_00, 200_00, 300_00})

	_, err := cfg.Quote(26, CurrencyNaira)
	if err == nil {
		t.Fatal("expected capacity error")
	}
	if utils.KindOf(err) != utils.ErrorKindInsufficientCapacity {
		t.Fatalf("expected insufficient_capacity, got %v", utils.KindOf(err))
	}
}

func TestRegularQuoteRejectsNonPositiveQuantity(t *testing.T) {
	cfg := threeTierConfig([3]int64{10, 10, 10}, [3]int64{0, 0, 0}, [3]int64{100, 200, 300})
	for _, qty := range []int64{0, -5} {
		if _, err := cfg.Quote(qty, CurrencyNaira); err == nil {
			t.Fatalf("expected validation error for quantity %d", qty)
		}
	}
}

func TestCoFounderQuoteConsumesRegularCapacity(t *testing.T) {
	regular := threeTierConfig(
		[3]int64{250, 100, 100},
		[3]int64{0, 0, 0},
		[3]int64{100_00, 200_00, 300_00})
	coFounder := &CoFounderShareConfig{
		TotalCapacity:       20,
		SoldCount:           10,
		PriceNaira:          145_000_00,
		PriceUSDT:           101_50,
		ShareToRegularRatio: 29,
	}

	// 10 sold + 6 requested consume 16×29 = 464 regular-equivalents, over
	// the 450 regular capacity. 15×29 = 435 still fits.
	if _, err := coFounder.Quote(6, CurrencyNaira, regular); err == nil {
		t.Fatal("expected capacity error crossing the regular pool")
	}

	quote, err := coFounder.Quote(5, CurrencyNaira, regular)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if quote.TotalPrice != 5*145_000_00 {
		t.Fatalf("unexpected total %d", quote.TotalPrice)
	}
	if quote.TierBreakdown.Sum() != 0 {
		t.Fatalf("co-founder quotes must carry an empty breakdown, got %+v", quote.TierBreakdown)
	}
}

func TestCoFounderQuotePoolExhausted(t *testing.T) {
	regular := threeTierConfig([3]int64{100000, 0, 0}, [3]int64{0, 0, 0}, [3]int64{100, 0, 0})
	coFounder := &CoFounderShareConfig{TotalCapacity: 10, SoldCount: 10, PriceNaira: 100, PriceUSDT: 100, ShareToRegularRatio: 29}
	if _, err := coFounder.Quote(1, CurrencyNaira, regular); err == nil {
		t.Fatal("expected capacity error on exhausted pool")
	}
}

func TestEffectiveAvailabilityAllocatesFromTierOne(t *testing.T) {
	// ratio 29, coFounderSold 10 consumes 290 regular-equivalents:
	// tier1 absorbs its full 250, tier2 absorbs the remaining 40
	regular := threeTierConfig(
		[3]int64{250, 100, 100},
		[3]int64{0, 0, 0},
		[3]int64{100_00, 200_00, 300_00})
	coFounder := &CoFounderShareConfig{
		TotalCapacity:       50,
		SoldCount:           10,
		ShareToRegularRatio: 29,
	}

	avail := EffectiveAvailability(regular, coFounder)
	if len(avail) != 3 {
		t.Fatalf("expected 3 tiers, got %d", len(avail))
	}
	if avail[0].Available != 0 || avail[0].CoFounderAllocated != 250 {
		t.Fatalf("tier1: %+v", avail[0])
	}
	if avail[1].Available != 60 || avail[1].CoFounderAllocated != 40 {
		t.Fatalf("tier2: %+v", avail[1])
	}
	if avail[2].Available != 100 || avail[2].CoFounderAllocated != 0 {
		t.Fatalf("tier3: %+v", avail[2])
	}
}

func TestTierBreakdownAccessors(t *testing.T) {
	var b TierBreakdown
	b.SetTier(1, 5)
	b.SetTier(2, 7)
	b.SetTier(3, 9)
	if b.Sum() != 21 {
		t.Fatalf("sum: %d", b.Sum())
	}
	for tier, want := range map[int]int64{1: 5, 2: 7, 3: 9, 4: 0} {
		if got := b.ForTier(tier); got != want {
			t.Fatalf("tier %d: got %d want %d", tier, got, want)
		}
	}
}
