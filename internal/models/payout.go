package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMethod identifies the rail a payout is sent on.
type PaymentMethod string

const (
	PaymentMethodBank   PaymentMethod = "bank"
	PaymentMethodPayPal PaymentMethod = "paypal"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodBank || m == PaymentMethodPayPal
}

// PayoutMethod is a user's registered payout destination.
type PayoutMethod struct {
	ID             uuid.UUID         `json:"id"`
	UserID         uuid.UUID         `json:"user_id"`
	PaymentMethod  PaymentMethod     `json:"payment_method"`
	AccountDetails map[string]string `json:"account_details"`
	IsVerified     bool              `json:"is_verified"`
	IsActive       bool              `json:"is_active"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// PayoutStatus is the settlement state of a payout request.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s PayoutStatus) Terminal() bool {
	return s == PayoutStatusCompleted || s == PayoutStatusFailed
}

// Payout is a withdrawal request against reserved earnings.
type Payout struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        PayoutStatus    `json:"status"`
	PayoutInfoID  uuid.UUID       `json:"payout_info_id"`
	Notes         string          `json:"notes,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	RequestedAt   time.Time       `json:"requested_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	FailedAt      *time.Time      `json:"failed_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// UserEarnings holds a user's balances.
type UserEarnings struct {
	UserID    uuid.UUID       `json:"user_id"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
	Withdrawn decimal.Decimal `json:"withdrawn"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// EarningsKind classifies a balance movement.
type EarningsKind string

const (
	EarningsSale            EarningsKind = "sale"
	EarningsResale          EarningsKind = "resale"
	EarningsRoyalty         EarningsKind = "royalty"
	EarningsAdjustment      EarningsKind = "adjustment"
	EarningsPayoutReserved  EarningsKind = "payout_reserved"
	EarningsPayoutCompleted EarningsKind = "payout_completed"
	EarningsPayoutReleased  EarningsKind = "payout_released"
)

// EarningsEntry is an append-only record of a balance movement.
type EarningsEntry struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Kind        EarningsKind    `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID *uuid.UUID      `json:"reference_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// PayoutSummary flags what the payout screen needs to know.
type PayoutSummary struct {
	HasActivePayoutMethod   bool `json:"hasActivePayoutMethod"`
	HasVerifiedPayoutMethod bool `json:"hasVerifiedPayoutMethod"`
}

// PayoutInfo is the payout overview for a user.
type PayoutInfo struct {
	Methods  []*PayoutMethod `json:"methods"`
	Summary  PayoutSummary   `json:"summary"`
	Earnings *UserEarnings   `json:"earnings"`
}

// AddPayoutMethodRequest registers a payout destination.
type AddPayoutMethodRequest struct {
	PaymentMethod  PaymentMethod     `json:"payment_method" binding:"required,oneof=bank paypal"`
	AccountDetails map[string]string `json:"account_details" binding:"required"`
}

// RequestPayoutRequest asks for a withdrawal.
type RequestPayoutRequest struct {
	Amount       decimal.Decimal `json:"amount" binding:"required"`
	PayoutInfoID uuid.UUID       `json:"payout_info_id" binding:"required"`
	Notes        string          `json:"notes" binding:"max=500"`
}

// FailPayoutRequest carries the reason a payout failed.
type FailPayoutRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// CreditEarningsRequest credits a user's available balance.
type CreditEarningsRequest struct {
	UserID      uuid.UUID       `json:"user_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Kind        EarningsKind    `json:"kind" binding:"required,oneof=royalty adjustment"`
	ReferenceID *uuid.UUID      `json:"reference_id,omitempty"`
}
