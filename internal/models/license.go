package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PurchaseType determines what a buyer may do with a license.
type PurchaseType string

const (
	PurchaseTypeUse                 PurchaseType = "use"
	PurchaseTypeResale              PurchaseType = "resale"
	PurchaseTypeResaleWithInsurance PurchaseType = "resale_with_insurance"
)

// Valid reports whether t is a known purchase type.
func (t PurchaseType) Valid() bool {
	switch t {
	case PurchaseTypeUse, PurchaseTypeResale, PurchaseTypeResaleWithInsurance:
		return true
	}
	return false
}

// PermitsResale reports whether licenses of this type may ever be relisted.
func (t PurchaseType) PermitsResale() bool {
	return t == PurchaseTypeResale || t == PurchaseTypeResaleWithInsurance
}

// Insured reports whether the purchase carries a resale deadline.
func (t PurchaseType) Insured() bool {
	return t == PurchaseTypeResaleWithInsurance
}

// License is one purchased seat of a product, owned by exactly one user.
type License struct {
	ID                       uuid.UUID        `json:"id"`
	LicenseToken             string           `json:"license_token"`
	ProductID                uuid.UUID        `json:"product_id"`
	OwnerID                  uuid.UUID        `json:"owner_id"`
	PurchasedRound           int              `json:"purchased_round"`
	CurrentRound             int              `json:"current_round"`
	PurchaseType             PurchaseType     `json:"purchase_type"`
	PurchaseAmount           decimal.Decimal  `json:"purchase_amount"`
	ResaleEligible           bool             `json:"resale_eligible"`
	IsListedForResale        bool             `json:"is_listed_for_resale"`
	IsEnabledByUserForResale bool             `json:"is_enabled_by_user_for_resale"`
	ListedAt                 *time.Time       `json:"listed_at,omitempty"`
	InsuranceFee             *decimal.Decimal `json:"insurance_fee,omitempty"`
	InsuranceDeadline        *time.Time       `json:"insurance_deadline,omitempty"`
	OverdueNotifiedAt        *time.Time       `json:"overdue_notified_at,omitempty"`
	AcquiredAt               time.Time        `json:"acquired_at"`
	CreatedAt                time.Time        `json:"created_at"`
	UpdatedAt                time.Time        `json:"updated_at"`
}

// NewLicense creates a license for owner in the product's open round.
func NewLicense(p *Product, ownerID uuid.UUID, t PurchaseType, amount decimal.Decimal, now time.Time) (*License, error) {
	token, err := GenerateLicenseToken()
	if err != nil {
		return nil, err
	}
	return &License{
		ID:             uuid.New(),
		LicenseToken:   token,
		ProductID:      p.ID,
		OwnerID:        ownerID,
		PurchasedRound: p.CurrentRound,
		CurrentRound:   p.CurrentRound,
		PurchaseType:   t,
		PurchaseAmount: amount,
		AcquiredAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// GenerateLicenseToken returns a random 32-character hex token.
func GenerateLicenseToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate license token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Insure attaches a resale deadline and fee to the license.
func (l *License) Insure(fee decimal.Decimal, deadline time.Time) {
	l.InsuranceFee = &fee
	l.InsuranceDeadline = &deadline
}

// ClearInsurance removes any resale deadline.
func (l *License) ClearInsurance() {
	l.InsuranceFee = nil
	l.InsuranceDeadline = nil
	l.OverdueNotifiedAt = nil
}

// RoundClosed reports whether the product has moved past this license's round.
func (l *License) RoundClosed() bool {
	return l.CurrentRound > l.PurchasedRound
}

// CanEnableResale reports whether the owner may switch resale on.
func (l *License) CanEnableResale() bool {
	return l.RoundClosed() && l.ResaleEligible && l.PurchaseType.PermitsResale()
}

// LicenseTransfer records an ownership change caused by a resale purchase.
type LicenseTransfer struct {
	ID            uuid.UUID       `json:"id"`
	LicenseID     uuid.UUID       `json:"license_id"`
	FromUserID    uuid.UUID       `json:"from_user_id"`
	ToUserID      uuid.UUID       `json:"to_user_id"`
	Price         decimal.Decimal `json:"price"`
	Round         int             `json:"round"`
	TransferredAt time.Time       `json:"transferred_at"`
}

// ProductLicenses groups a user's licenses by product.
type ProductLicenses struct {
	Product  *ProductView `json:"product"`
	Licenses []*License   `json:"licenses"`
}

// PurchaseLicenseRequest is the body of a primary purchase.
type PurchaseLicenseRequest struct {
	PurchaseType PurchaseType `json:"purchase_type" binding:"required,oneof=use resale resale_with_insurance"`
}

// IssueLicensesRequest is the body of an administrative issuance.
type IssueLicensesRequest struct {
	Round        int          `json:"round" binding:"required,min=1"`
	Count        int          `json:"count" binding:"required,min=1"`
	PurchaseType PurchaseType `json:"purchase_type" binding:"required,oneof=use resale resale_with_insurance"`
	OwnerID      *uuid.UUID   `json:"owner_id,omitempty"`
}
