package models

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Plan terms by share kind. Rates are percent; the late fee accrues per
// 30-day month on the remaining balance and is capped as a percent of the
// total price.
var (
	regularPlanTerms = PlanTerms{
		MinDownPaymentPct: decimal.NewFromInt(20),
		LateFeeRatePct:    decimal.RequireFromString("0.34"),
		LateFeeCapPct:     decimal.NewFromInt(5),
	}
	coFounderPlanTerms = PlanTerms{
		MinDownPaymentPct: decimal.NewFromInt(25),
		LateFeeRatePct:    decimal.RequireFromString("0.5"),
		LateFeeCapPct:     decimal.RequireFromString("7.5"),
	}
)

type PlanTerms struct {
	MinDownPaymentPct decimal.Decimal
	LateFeeRatePct    decimal.Decimal
	LateFeeCapPct     decimal.Decimal
}

func TermsFor(kind ShareKind) PlanTerms {
	if kind == ShareKindCoFounder {
		return coFounderPlanTerms
	}
	return regularPlanTerms
}

type InstallmentPlan struct {
	ID     int    `gorm:"primary_key" json:"id"`
	PlanId string `gorm:"size:32;not null;uniqueIndex" json:"plan_id"`

	UserId      int       `gorm:"not null;index" json:"user_id"`
	Kind        ShareKind `gorm:"size:16;not null" json:"kind"`
	TotalShares int64     `gorm:"not null" json:"total_shares"`
	Currency    Currency  `gorm:"size:8;not null" json:"currency"`
	TotalPrice  int64     `gorm:"not null" json:"total_price"`
	Months      int       `gorm:"not null" json:"months"`

	// Captured tier split of the full purchase; releases are pro-rated
	// against it.
	TierBreakdown TierBreakdown `gorm:"embedded;embeddedPrefix:tier_breakdown_" json:"tier_breakdown"`

	MinDownPayment int64           `gorm:"not null" json:"min_down_payment"`
	LateFeeRate    decimal.Decimal `gorm:"type:decimal(8,4);not null" json:"late_fee_rate"`
	LateFeeCapPct  decimal.Decimal `gorm:"type:decimal(8,4);not null" json:"late_fee_cap_pct"`

	TotalPaid         int64         `gorm:"not null;default:0" json:"total_paid"`
	SharesReleased    int64         `gorm:"not null;default:0" json:"shares_released"`
	ReleasedBreakdown TierBreakdown `gorm:"embedded;embeddedPrefix:released_breakdown_" json:"released_breakdown"`
	CurrentLateFee    int64         `gorm:"not null;default:0" json:"current_late_fee"`
	Status            PlanStatus    `gorm:"size:16;not null;index" json:"status"`
	LastPaymentAt     *time.Time    `json:"last_payment_at"`

	Installments     []Installment        `gorm:"foreignKey:PlanRowId" json:"installments"`
	FlexiblePayments []InstallmentPayment `gorm:"foreignKey:PlanRowId" json:"flexible_payments"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Installment is one scheduled slot. Actual payments are flexible-amount and
// recorded separately; slots are marked off as paid money accumulates.
type Installment struct {
	ID              int               `gorm:"primary_key" json:"id"`
	PlanRowId       int               `gorm:"not null;index:uniq_slot,unique" json:"plan_row_id"`
	N               int               `gorm:"not null;index:uniq_slot,unique" json:"n"`
	ScheduledAmount int64             `gorm:"not null" json:"scheduled_amount"`
	DueDate         time.Time         `gorm:"not null" json:"due_date"`
	Status          InstallmentStatus `gorm:"size:16;not null;default:'Due'" json:"status"`
	PaidAmount      int64             `gorm:"not null;default:0" json:"paid_amount"`
	PaidDate        *time.Time        `json:"paid_date"`
	TxId            *string           `gorm:"size:32" json:"tx_id"`
	IsFirstPayment  bool              `gorm:"not null" json:"is_first_payment"`
}

// InstallmentPayment is one actually-applied payment, chronological.
type InstallmentPayment struct {
	ID        int       `gorm:"primary_key" json:"id"`
	PlanRowId int       `gorm:"not null;index" json:"plan_row_id"`
	Amount    int64     `gorm:"not null" json:"amount"`
	TxId      string    `gorm:"size:32;not null" json:"tx_id"`
	PaidAt    time.Time `gorm:"not null" json:"paid_at"`
}

func (p *InstallmentPlan) RemainingBalance() int64 {
	return p.TotalPrice - p.TotalPaid
}

/* Schedule math */

// AddMonthsClamped advances by n calendar months preserving the day of month,
// clamping to the last day when the target month is shorter. A plan created
// on Jan 31 is due Feb 28 (or 29), then Mar 31.
func AddMonthsClamped(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	firstOfTarget := time.Date(year, month+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// ComputeSchedule splits totalPrice over months equal slots, with division
// residue absorbed into the final slot so the sum always closes.
func ComputeSchedule(createdAt time.Time, totalPrice int64, months int) []Installment {
	base := totalPrice / int64(months)
	slots := make([]Installment, 0, months)
	var allocated int64
	for n := 1; n <= months; n++ {
		amount := base
		if n == months {
			amount = totalPrice - allocated
		}
		allocated += amount
		slots = append(slots, Installment{
			N:               n,
			ScheduledAmount: amount,
			DueDate:         AddMonthsClamped(createdAt, n),
			Status:          InstallmentStatusDue,
			IsFirstPayment:  n == 1,
		})
	}
	return slots
}

func GeneratePlanId() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	millis := time.Now().UnixMilli()
	return fmt.Sprintf("PLAN-%s-%06d", strings.ToUpper(hex.EncodeToString(buf)), millis%1000000)
}

/* Creation */

type NewInstallmentPlan struct {
	UserId   int       `json:"user_id" binding:"required"`
	Kind     ShareKind `json:"kind" binding:"required"`
	Shares   int64     `json:"shares" binding:"required"`
	Currency Currency  `json:"currency" binding:"required"`
	Months   int       `json:"months" binding:"required"`
}

// CreateInstallmentPlan opens a plan for the (user, kind) pair. No inventory
// moves here; shares are committed as the plan's payments settle.
func CreateInstallmentPlan(ctx context.Context, input *NewInstallmentPlan) (*InstallmentPlan, error) {
	if input.Months < 2 || input.Months > 12 {
		return nil, utils.NewValidationError("installment months must be within [2,12], got %d", input.Months)
	}
	if !input.Kind.Valid() {
		return nil, utils.NewValidationError("unknown share kind %q", input.Kind)
	}
	if !input.Currency.Valid() {
		return nil, utils.NewValidationError("unknown currency %q", input.Currency)
	}
	if input.Kind == ShareKindCoFounder && input.Shares != 1 {
		return nil, utils.NewValidationError("co-founder installment plans are restricted to 1 share")
	}
	if input.Shares <= 0 {
		return nil, utils.NewValidationError("share quantity must be positive, got %d", input.Shares)
	}
	if err := utils.ValidateResourceId[User](ctx, input.UserId); err != nil {
		return nil, utils.NewNotFoundError("user %d not found", input.UserId)
	}

	// Price the full purchase now; the plan keeps this quote even if admin
	// pricing changes mid-plan.
	var quote *ShareQuote
	regularCfg, err := GetRegularShareConfig(ctx)
	if err != nil {
		return nil, err
	}
	if input.Kind == ShareKindCoFounder {
		coFounderCfg, err := GetCoFounderShareConfig(ctx)
		if err != nil {
			return nil, err
		}
		quote, err = coFounderCfg.Quote(input.Shares, input.Currency, regularCfg)
		if err != nil {
			return nil, err
		}
	} else {
		quote, err = regularCfg.Quote(input.Shares, input.Currency)
		if err != nil {
			return nil, err
		}
	}

	terms := TermsFor(input.Kind)
	now := time.Now().UTC()
	plan := InstallmentPlan{
		PlanId:         GeneratePlanId(),
		UserId:         input.UserId,
		Kind:           input.Kind,
		TotalShares:    quote.Shares,
		Currency:       quote.Currency,
		TotalPrice:     quote.TotalPrice,
		Months:         input.Months,
		TierBreakdown:  quote.TierBreakdown,
		MinDownPayment: utils.PercentOfMinorUnits(quote.TotalPrice, terms.MinDownPaymentPct),
		LateFeeRate:    terms.LateFeeRatePct,
		LateFeeCapPct:  terms.LateFeeCapPct,
		Status:         PlanStatusPending,
		Installments:   ComputeSchedule(now, quote.TotalPrice, input.Months),
		CreatedAt:      now,
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// At most one open plan per (user, kind); re-checked inside the
		// transaction so two concurrent creates cannot both pass.
		var open int64
		if err := tx.Model(&InstallmentPlan{}).
			Where("user_id = ? AND kind = ? AND status IN ?", input.UserId, input.Kind,
				[]PlanStatus{PlanStatusPending, PlanStatusActive, PlanStatusLate}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return utils.NewConflictError("user %d already has an open %s installment plan", input.UserId, input.Kind)
		}
		return tx.Create(&plan).Error
	})
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

/* Lookup */

func GetInstallmentPlan(ctx context.Context, planId string) (*InstallmentPlan, error) {
	db := config.GetDB()
	var plan InstallmentPlan
	err := db.WithContext(ctx).Preload("Installments", func(tx *gorm.DB) *gorm.DB { return tx.Order("n ASC") }).
		Preload("FlexiblePayments", func(tx *gorm.DB) *gorm.DB { return tx.Order("paid_at ASC") }).
		Where("plan_id = ?", planId).First(&plan).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewNotFoundError("installment plan %s not found", planId)
		}
		return nil, err
	}
	return &plan, nil
}

// GetInstallmentPlanForUpdate locks the plan row inside the caller's DB
// transaction.
func GetInstallmentPlanForUpdate(tx *gorm.DB, planId string) (*InstallmentPlan, error) {
	var plan InstallmentPlan
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plan_id = ?", planId).First(&plan).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewNotFoundError("installment plan %s not found", planId)
		}
		return nil, err
	}
	return &plan, nil
}

func ListOpenPlans(ctx context.Context) ([]*InstallmentPlan, error) {
	return utils.FetchAllModelsWhere[InstallmentPlan](ctx, "status IN ?",
		[]PlanStatus{PlanStatusPending, PlanStatusActive, PlanStatusLate})
}
