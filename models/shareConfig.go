package models

import (
	"context"
	"time"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/utils"
	"gorm.io/gorm"
)

// Share inventory is two singletons: the tiered regular config and the
// fixed-price co-founder config. Sold counters are the authoritative
// inventory; they move only inside settle/refund transactions.

const (
	regularConfigCacheKey   = "shareConfig:regular"
	coFounderConfigCacheKey = "shareConfig:coFounder"
	shareConfigCacheTTL     = 10 * time.Minute
)

type ShareTier struct {
	ID         int       `gorm:"primary_key" json:"id"`
	ConfigId   int       `gorm:"not null;index:uniq_tier,unique" json:"config_id"`
	Tier       int       `gorm:"not null;index:uniq_tier,unique" json:"tier"`
	Capacity   int64     `gorm:"not null" json:"capacity"`
	SoldCount  int64     `gorm:"not null;default:0" json:"sold_count"`
	PriceNaira int64     `gorm:"not null" json:"price_naira"`
	PriceUSDT  int64     `gorm:"not null" json:"price_usdt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t ShareTier) PriceFor(currency Currency) int64 {
	if currency == CurrencyUSDT {
		return t.PriceUSDT
	}
	return t.PriceNaira
}

func (t ShareTier) Remaining() int64 {
	return t.Capacity - t.SoldCount
}

type RegularShareConfig struct {
	ID            int         `gorm:"primary_key" json:"id"`
	TotalCapacity int64       `gorm:"not null" json:"total_capacity"`
	Tiers         []ShareTier `gorm:"foreignKey:ConfigId" json:"tiers"`
	CreatedAt     time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

type CoFounderShareConfig struct {
	ID                  int       `gorm:"primary_key" json:"id"`
	TotalCapacity       int64     `gorm:"not null" json:"total_capacity"`
	SoldCount           int64     `gorm:"not null;default:0" json:"sold_count"`
	PriceNaira          int64     `gorm:"not null" json:"price_naira"`
	PriceUSDT           int64     `gorm:"not null" json:"price_usdt"`
	ShareToRegularRatio int64     `gorm:"not null;default:29" json:"share_to_regular_ratio"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c CoFounderShareConfig) PriceFor(currency Currency) int64 {
	if currency == CurrencyUSDT {
		return c.PriceUSDT
	}
	return c.PriceNaira
}

// TierBreakdown records how a regular purchase splits across the three price
// bands. All zero for co-founder purchases.
type TierBreakdown struct {
	Tier1 int64 `gorm:"not null;default:0" json:"tier1"`
	Tier2 int64 `gorm:"not null;default:0" json:"tier2"`
	Tier3 int64 `gorm:"not null;default:0" json:"tier3"`
}

func (b TierBreakdown) Sum() int64 {
	return b.Tier1 + b.Tier2 + b.Tier3
}

func (b TierBreakdown) ForTier(tier int) int64 {
	switch tier {
	case 1:
		return b.Tier1
	case 2:
		return b.Tier2
	case 3:
		return b.Tier3
	}
	return 0
}

func (b *TierBreakdown) SetTier(tier int, qty int64) {
	switch tier {
	case 1:
		b.Tier1 = qty
	case 2:
		b.Tier2 = qty
	case 3:
		b.Tier3 = qty
	}
}

// ShareQuote is the priced answer to "what do n shares cost right now".
// Prices are captured onto the transaction at create time; later admin price
// edits never reprice a pending transaction.
type ShareQuote struct {
	Kind          ShareKind     `json:"kind"`
	Shares        int64         `json:"shares"`
	Currency      Currency      `json:"currency"`
	TotalPrice    int64         `json:"total_price"`
	PricePerShare int64         `json:"price_per_share"`
	TierBreakdown TierBreakdown `json:"tier_breakdown"`
}

// Quote walks the tiers in order, filling each tier's remaining capacity
// before moving on. Pure over the loaded config so pricing is unit-testable.
func (cfg *RegularShareConfig) Quote(quantity int64, currency Currency) (*ShareQuote, error) {
	if quantity <= 0 {
		return nil, utils.NewValidationError("share quantity must be positive, got %d", quantity)
	}
	if !currency.Valid() {
		return nil, utils.NewValidationError("unknown currency %q", currency)
	}

	quote := &ShareQuote{
		Kind:     ShareKindRegular,
		Shares:   quantity,
		Currency: currency,
	}
	remaining := quantity
	for _, tier := range cfg.Tiers {
		if remaining == 0 {
			break
		}
		available := tier.Remaining()
		if available <= 0 {
			continue
		}
		take := remaining
		if take > available {
			take = available
		}
		quote.TierBreakdown.SetTier(tier.Tier, take)
		quote.TotalPrice += take * tier.PriceFor(currency)
		remaining -= take
	}
	if remaining > 0 {
		return nil, utils.NewCapacityError("only %d regular shares available, requested %d", quantity-remaining, quantity)
	}
	// Blended per-share price; the per-tier sum above is authoritative and
	// may differ from shares*pricePerShare by up to one minor unit per tier.
	quote.PricePerShare = quote.TotalPrice / quantity
	return quote, nil
}

// Quote prices a co-founder purchase at the fixed price. Capacity is checked
// against both the co-founder pool and the regular capacity the purchase
// would consume at the equivalence ratio.
func (c *CoFounderShareConfig) Quote(quantity int64, currency Currency, regular *RegularShareConfig) (*ShareQuote, error) {
	if quantity <= 0 {
		return nil, utils.NewValidationError("share quantity must be positive, got %d", quantity)
	}
	if !currency.Valid() {
		return nil, utils.NewValidationError("unknown currency %q", currency)
	}
	if c.SoldCount+quantity > c.TotalCapacity {
		return nil, utils.NewCapacityError("only %d co-founder shares available, requested %d", c.TotalCapacity-c.SoldCount, quantity)
	}
	if regular != nil {
		var regularSold, regularCapacity int64
		for _, tier := range regular.Tiers {
			regularSold += tier.SoldCount
			regularCapacity += tier.Capacity
		}
		consumed := (c.SoldCount + quantity) * c.ShareToRegularRatio
		if regularSold+consumed > regularCapacity {
			return nil, utils.NewCapacityError("co-founder purchase of %d exceeds regular share capacity at ratio %d", quantity, c.ShareToRegularRatio)
		}
	}

	price := c.PriceFor(currency)
	return &ShareQuote{
		Kind:          ShareKindCoFounder,
		Shares:        quantity,
		Currency:      currency,
		TotalPrice:    quantity * price,
		PricePerShare: price,
	}, nil
}

// TierAvailability is the effective view of one tier after co-founder sales
// are charged against regular capacity from tier 1 upward.
type TierAvailability struct {
	Tier               int   `json:"tier"`
	Capacity           int64 `json:"capacity"`
	SoldCount          int64 `json:"sold_count"`
	CoFounderAllocated int64 `json:"co_founder_allocated"`
	Available          int64 `json:"available"`
}

// EffectiveAvailability deducts coFounderSold*ratio from the tiers starting
// at tier 1. Pure; inputs are the loaded configs.
func EffectiveAvailability(regular *RegularShareConfig, coFounder *CoFounderShareConfig) []TierAvailability {
	var coFounderShares int64
	var ratio int64 = 1
	if coFounder != nil {
		coFounderShares = coFounder.SoldCount
		ratio = coFounder.ShareToRegularRatio
	}
	toAllocate := coFounderShares * ratio

	out := make([]TierAvailability, 0, len(regular.Tiers))
	for _, tier := range regular.Tiers {
		avail := tier.Remaining()
		allocated := toAllocate
		if allocated > avail {
			allocated = avail
		}
		if allocated < 0 {
			allocated = 0
		}
		toAllocate -= allocated
		out = append(out, TierAvailability{
			Tier:               tier.Tier,
			Capacity:           tier.Capacity,
			SoldCount:          tier.SoldCount,
			CoFounderAllocated: allocated,
			Available:          avail - allocated,
		})
	}
	return out
}

/* DB access */

// GetRegularShareConfig reads the singleton, redis first then db.
func GetRegularShareConfig(ctx context.Context) (*RegularShareConfig, error) {
	var cfg RegularShareConfig
	exists, err := config.GetRedisObject(regularConfigCacheKey, &cfg)
	if err != nil {
		return nil, err
	}
	if exists && len(cfg.Tiers) > 0 {
		return &cfg, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Preload("Tiers", func(tx *gorm.DB) *gorm.DB { return tx.Order("tier ASC") }).
		First(&cfg).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := config.SetRedisObject(regularConfigCacheKey, &cfg, shareConfigCacheTTL); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func GetCoFounderShareConfig(ctx context.Context) (*CoFounderShareConfig, error) {
	var cfg CoFounderShareConfig
	exists, err := config.GetRedisObject(coFounderConfigCacheKey, &cfg)
	if err != nil {
		return nil, err
	}
	if exists && cfg.ID != 0 {
		return &cfg, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).First(&cfg).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := config.SetRedisObject(coFounderConfigCacheKey, &cfg, shareConfigCacheTTL); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// InvalidateShareConfigCache drops cached configs. Called after any admin
// edit and after every sold-count movement.
func InvalidateShareConfigCache() error {
	return config.RemoveRedisKey(regularConfigCacheKey, coFounderConfigCacheKey)
}

type NewTierPricing struct {
	Tier       int   `json:"tier" binding:"required"`
	Capacity   int64 `json:"capacity" binding:"required"`
	PriceNaira int64 `json:"price_naira" binding:"required"`
	PriceUSDT  int64 `json:"price_usdt" binding:"required"`
}

// UpdateTierPricing applies an admin price/capacity edit to one tier.
// Capacity may never drop below the tier's sold count. Pending transactions
// keep the price captured at quote time.
func UpdateTierPricing(ctx context.Context, input *NewTierPricing) (*ShareTier, error) {
	if input.Tier < 1 || input.Tier > 3 {
		return nil, utils.NewValidationError("tier must be 1..3, got %d", input.Tier)
	}
	if input.Capacity < 0 || input.PriceNaira <= 0 || input.PriceUSDT <= 0 {
		return nil, utils.NewValidationError("capacity and prices must be positive")
	}

	db := config.GetDB()
	var tier ShareTier
	if err := db.WithContext(ctx).Where("tier = ?", input.Tier).First(&tier).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if input.Capacity < tier.SoldCount {
		return nil, utils.NewValidationError("tier %d capacity %d is below sold count %d", input.Tier, input.Capacity, tier.SoldCount)
	}

	tier.Capacity = input.Capacity
	tier.PriceNaira = input.PriceNaira
	tier.PriceUSDT = input.PriceUSDT
	if err := db.WithContext(ctx).Save(&tier).Error; err != nil {
		return nil, err
	}
	if err := InvalidateShareConfigCache(); err != nil {
		return nil, err
	}
	return &tier, nil
}

type NewCoFounderPricing struct {
	Capacity   int64 `json:"capacity" binding:"required"`
	PriceNaira int64 `json:"price_naira" binding:"required"`
	PriceUSDT  int64 `json:"price_usdt" binding:"required"`
	Ratio      int64 `json:"ratio"`
}

func UpdateCoFounderPricing(ctx context.Context, input *NewCoFounderPricing) (*CoFounderShareConfig, error) {
	if input.Capacity < 0 || input.PriceNaira <= 0 || input.PriceUSDT <= 0 {
		return nil, utils.NewValidationError("capacity and prices must be positive")
	}

	db := config.GetDB()
	var cfg CoFounderShareConfig
	if err := db.WithContext(ctx).First(&cfg).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if input.Capacity < cfg.SoldCount {
		return nil, utils.NewValidationError("capacity %d is below sold count %d", input.Capacity, cfg.SoldCount)
	}

	cfg.TotalCapacity = input.Capacity
	cfg.PriceNaira = input.PriceNaira
	cfg.PriceUSDT = input.PriceUSDT
	if input.Ratio > 0 {
		cfg.ShareToRegularRatio = input.Ratio
	}
	if err := db.WithContext(ctx).Save(&cfg).Error; err != nil {
		return nil, err
	}
	if err := InvalidateShareConfigCache(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
