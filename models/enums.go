package models

// ShareKind distinguishes the two equity SKUs. Co-founder shares consume
// regular-share capacity at the configured equivalence ratio.
type ShareKind string

const (
	ShareKindRegular   ShareKind = "Regular"
	ShareKindCoFounder ShareKind = "CoFounder"
)

func (k ShareKind) Valid() bool {
	return k == ShareKindRegular || k == ShareKindCoFounder
}

type Currency string

const (
	CurrencyNaira Currency = "NGN"
	CurrencyUSDT  Currency = "USDT"
)

func (c Currency) Valid() bool {
	return c == CurrencyNaira || c == CurrencyUSDT
}

// PurchaseStatus is the purchase-transaction state machine.
//
//	pending -> verifying -> completed | failed
//	pending|verifying -> cancelled
//	completed -> refunded
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "Pending"
	PurchaseStatusVerifying PurchaseStatus = "Verifying"
	PurchaseStatusCompleted PurchaseStatus = "Completed"
	PurchaseStatusFailed    PurchaseStatus = "Failed"
	PurchaseStatusCancelled PurchaseStatus = "Cancelled"
	PurchaseStatusRefunded  PurchaseStatus = "Refunded"
)

// Terminal reports whether no further transition may leave this status.
func (s PurchaseStatus) Terminal() bool {
	switch s {
	case PurchaseStatusFailed, PurchaseStatusCancelled, PurchaseStatusRefunded:
		return true
	}
	return false
}

// CanSettle reports whether settle may be attempted from this status.
func (s PurchaseStatus) CanSettle() bool {
	return s == PurchaseStatusPending || s == PurchaseStatusVerifying
}

type PaymentRail string

const (
	PaymentRailCard        PaymentRail = "Card"
	PaymentRailChain       PaymentRail = "Chain"
	PaymentRailInvoice     PaymentRail = "Invoice"
	PaymentRailManual      PaymentRail = "Manual"
	PaymentRailAdminGrant  PaymentRail = "AdminGrant"
	PaymentRailInstallment PaymentRail = "Installment"
)

func (r PaymentRail) Valid() bool {
	switch r {
	case PaymentRailCard, PaymentRailChain, PaymentRailInvoice, PaymentRailManual, PaymentRailAdminGrant, PaymentRailInstallment:
		return true
	}
	return false
}

type ManualPaymentMethod string

const (
	ManualMethodBank  ManualPaymentMethod = "Bank"
	ManualMethodCash  ManualPaymentMethod = "Cash"
	ManualMethodOther ManualPaymentMethod = "Other"
)

func (m ManualPaymentMethod) Valid() bool {
	return m == ManualMethodBank || m == ManualMethodCash || m == ManualMethodOther
}

type PlanStatus string

const (
	PlanStatusPending   PlanStatus = "Pending"
	PlanStatusActive    PlanStatus = "Active"
	PlanStatusLate      PlanStatus = "Late"
	PlanStatusCompleted PlanStatus = "Completed"
	PlanStatusCancelled PlanStatus = "Cancelled"
)

// Open reports whether the plan still accepts payments. At most one open plan
// per (user, kind) may exist.
func (s PlanStatus) Open() bool {
	return s == PlanStatusPending || s == PlanStatusActive || s == PlanStatusLate
}

type InstallmentStatus string

const (
	InstallmentStatusDue     InstallmentStatus = "Due"
	InstallmentStatusPaid    InstallmentStatus = "Paid"
	InstallmentStatusPartial InstallmentStatus = "Partial"
	InstallmentStatusSkipped InstallmentStatus = "Skipped"
)

type ReferralEntryStatus string

const (
	ReferralEntryCompleted ReferralEntryStatus = "Completed"
	ReferralEntryReversed  ReferralEntryStatus = "Reversed"
)

// ReferralPurchaseKind tags a referral entry with the source purchase class.
// Adjustment entries are admin-inserted and anchored to no purchase.
type ReferralPurchaseKind string

const (
	ReferralPurchaseRegular    ReferralPurchaseKind = "Regular"
	ReferralPurchaseCoFounder  ReferralPurchaseKind = "CoFounder"
	ReferralPurchaseAdjustment ReferralPurchaseKind = "Adjustment"
)

// TransitionActor records who drove a status transition.
type TransitionActor string

const (
	ActorUser    TransitionActor = "User"
	ActorAdmin   TransitionActor = "Admin"
	ActorGateway TransitionActor = "Gateway"
	ActorChain   TransitionActor = "ChainVerifier"
	ActorWebhook TransitionActor = "Webhook"
	ActorSweeper TransitionActor = "Sweeper"
	ActorSystem  TransitionActor = "System"
)

type PurchaseEventType string

const (
	EventPurchaseCompleted PurchaseEventType = "purchase.completed"
	EventPurchaseFailed    PurchaseEventType = "purchase.failed"
	EventPurchaseRefunded  PurchaseEventType = "purchase.refunded"
	EventPlanActivated     PurchaseEventType = "plan.activated"
	EventPlanCompleted     PurchaseEventType = "plan.completed"
	EventPlanLate          PurchaseEventType = "plan.late"
	EventPlanCancelled     PurchaseEventType = "plan.cancelled"
)
