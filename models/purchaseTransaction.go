package models

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PurchaseTransaction is one entry in the purchase ledger. Status transitions
// are performed only by the workflow package inside a DB transaction; model
// code here covers creation, lookup, and the immutable audit trail.
type PurchaseTransaction struct {
	ID            int    `gorm:"primary_key" json:"id"`
	TransactionId string `gorm:"size:32;not null;uniqueIndex" json:"transaction_id"`

	UserId   int         `gorm:"not null;index" json:"user_id"`
	Kind     ShareKind   `gorm:"size:16;not null" json:"kind"`
	Shares   int64       `gorm:"not null" json:"shares"`
	Currency Currency    `gorm:"size:8;not null" json:"currency"`
	// Amounts are integer minor units.
	Amount        int64         `gorm:"not null" json:"amount"`
	PricePerShare int64         `gorm:"not null" json:"price_per_share"`
	TierBreakdown TierBreakdown `gorm:"embedded;embeddedPrefix:tier_breakdown_" json:"tier_breakdown"`

	Rail   PaymentRail    `gorm:"size:16;not null;index" json:"rail"`
	Status PurchaseStatus `gorm:"size:16;not null;index" json:"status"`
	// StatusHistory is a JSON-serialized []StatusChange, append-only.
	StatusHistory []byte `gorm:"type:blob" json:"status_history"`

	// Rail metadata, present iff the rail matches. Pointers so the unique
	// indexes ignore rows of other rails (NULLs never collide).
	CardReference     *string              `gorm:"size:64;uniqueIndex" json:"card_reference"`
	ChainTxHash       *string              `gorm:"size:80;uniqueIndex" json:"chain_tx_hash"`
	ChainFromAddr     *string              `gorm:"size:64" json:"chain_from_addr"`
	ChainToAddr       *string              `gorm:"size:64" json:"chain_to_addr"`
	InvoiceOrderId    *string              `gorm:"size:64;index" json:"invoice_order_id"`
	InvoicePaymentId  *string              `gorm:"size:64" json:"invoice_payment_id"`
	ManualProofHandle *string              `gorm:"size:512" json:"manual_proof_handle"`
	ManualMethod      *ManualPaymentMethod `gorm:"size:16" json:"manual_method"`

	// Installment linkage for partial payments (rail = Installment).
	InstallmentPlanId *string `gorm:"size:32;index" json:"installment_plan_id"`
	InstallmentNumber *int    `json:"installment_number"`

	AdminNote   string     `gorm:"size:1024" json:"admin_note"`
	VerifiedBy  *int       `json:"verified_by"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type StatusChange struct {
	From      PurchaseStatus  `json:"from"`
	To        PurchaseStatus  `json:"to"`
	Actor     TransitionActor `json:"actor"`
	ActorId   int             `json:"actor_id,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// AppendStatusChange grows the audit trail in memory; the caller persists the
// row. A broken history blob is replaced rather than silently dropped.
func (txn *PurchaseTransaction) AppendStatusChange(change StatusChange) {
	var history []StatusChange
	if len(txn.StatusHistory) > 0 {
		if err := json.Unmarshal(txn.StatusHistory, &history); err != nil {
			history = []StatusChange{}
		}
	}
	history = append(history, change)
	blob, err := json.Marshal(history)
	if err == nil {
		txn.StatusHistory = blob
	}
}

func (txn *PurchaseTransaction) StatusChanges() []StatusChange {
	var history []StatusChange
	if len(txn.StatusHistory) > 0 {
		_ = json.Unmarshal(txn.StatusHistory, &history)
	}
	return history
}

/* Transaction id */

// Transaction ids look like TXN-9F3A21BC-482910: a kind/rail prefix, 8 hex
// chars of random bytes, and the last 6 digits of the creation epoch millis.
// The unique index on transaction_id backstops the negligible collision odds.
func GenerateTransactionId(kind ShareKind, rail PaymentRail) string {
	prefix := "TXN"
	switch {
	case kind == ShareKindCoFounder && rail == PaymentRailInstallment:
		prefix = "CFI"
	case kind == ShareKindCoFounder:
		prefix = "CFD"
	case rail == PaymentRailInstallment:
		prefix = "INST"
	}

	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is unrecoverable for id generation
		panic(err)
	}
	randomPart := strings.ToUpper(hex.EncodeToString(buf))

	millis := time.Now().UnixMilli()
	timePart := fmt.Sprintf("%06d", millis%1000000)

	return fmt.Sprintf("%s-%s-%s", prefix, randomPart, timePart)
}

/* Creation */

type NewPurchaseTransaction struct {
	UserId int
	Quote  *ShareQuote
	Rail   PaymentRail

	CardReference     *string
	ChainFromAddr     *string
	ChainToAddr       *string
	InvoiceOrderId    *string
	ManualProofHandle *string
	ManualMethod      *ManualPaymentMethod
	InstallmentPlanId *string
	InstallmentNumber *int
}

// CreatePurchaseTransaction writes a Pending ledger entry. Capacity is not
// reserved here; it is re-checked when the transaction settles.
func CreatePurchaseTransaction(ctx context.Context, tx *gorm.DB, input *NewPurchaseTransaction) (*PurchaseTransaction, error) {
	if input.Quote == nil || input.Quote.Shares <= 0 {
		return nil, utils.NewValidationError("purchase requires a priced quote")
	}
	if !input.Rail.Valid() {
		return nil, utils.NewValidationError("unknown payment rail %q", input.Rail)
	}
	if err := utils.ValidateResourceId[User](ctx, input.UserId); err != nil {
		return nil, utils.NewNotFoundError("user %d not found", input.UserId)
	}

	txn := PurchaseTransaction{
		TransactionId:     GenerateTransactionId(input.Quote.Kind, input.Rail),
		UserId:            input.UserId,
		Kind:              input.Quote.Kind,
		Shares:            input.Quote.Shares,
		Currency:          input.Quote.Currency,
		Amount:            input.Quote.TotalPrice,
		PricePerShare:     input.Quote.PricePerShare,
		TierBreakdown:     input.Quote.TierBreakdown,
		Rail:              input.Rail,
		Status:            PurchaseStatusPending,
		CardReference:     input.CardReference,
		ChainFromAddr:     input.ChainFromAddr,
		ChainToAddr:       input.ChainToAddr,
		InvoiceOrderId:    input.InvoiceOrderId,
		ManualProofHandle: input.ManualProofHandle,
		ManualMethod:      input.ManualMethod,
		InstallmentPlanId: input.InstallmentPlanId,
		InstallmentNumber: input.InstallmentNumber,
	}
	txn.AppendStatusChange(StatusChange{
		From:      "",
		To:        PurchaseStatusPending,
		Actor:     ActorUser,
		ActorId:   input.UserId,
		Timestamp: time.Now().UTC(),
	})

	if tx == nil {
		tx = config.GetDB().WithContext(ctx)
	}
	if err := tx.Create(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

/* Lookup */

func GetPurchaseTransaction(ctx context.Context, transactionId string) (*PurchaseTransaction, error) {
	return utils.FetchModelWhere[PurchaseTransaction](ctx, "transaction_id = ?", transactionId)
}

// GetPurchaseTransactionForUpdate re-reads the row inside the caller's DB
// transaction with a row lock, so state-machine guards cannot race.
func GetPurchaseTransactionForUpdate(tx *gorm.DB, transactionId string) (*PurchaseTransaction, error) {
	var txn PurchaseTransaction
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transaction_id = ?", transactionId).First(&txn).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewNotFoundError("transaction %s not found", transactionId)
		}
		return nil, err
	}
	return &txn, nil
}

func ListUserTransactions(ctx context.Context, userId int) ([]*PurchaseTransaction, error) {
	return utils.FetchAllModelsWhere[PurchaseTransaction](ctx, "user_id = ?", userId)
}

// ChainHashInUse reports whether a txHash has already been attached to any
// transaction other than the one given. Backstops the unique index with a
// readable error before the settle attempt.
func ChainHashInUse(tx *gorm.DB, txHash string, exceptTransactionId string) (bool, error) {
	var count int64
	err := tx.Model(&PurchaseTransaction{}).
		Where("chain_tx_hash = ? AND transaction_id <> ?", txHash, exceptTransactionId).
		Count(&count).Error
	return count > 0, err
}
