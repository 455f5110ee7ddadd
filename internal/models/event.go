package models

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEventType names a committed engine state change.
type LedgerEventType string

const (
	EventLicensePurchased  LedgerEventType = "license_purchased"
	EventLicenseResold     LedgerEventType = "license_resold"
	EventLicensesIssued    LedgerEventType = "licenses_issued"
	EventRoundTransitioned LedgerEventType = "round_transitioned"
	EventClaimCompleted    LedgerEventType = "royalty_claim_completed"
	EventClaimFailed       LedgerEventType = "royalty_claim_failed"
	EventPayoutRequested   LedgerEventType = "payout_requested"
	EventPayoutCompleted   LedgerEventType = "payout_completed"
	EventPayoutFailed      LedgerEventType = "payout_failed"
	EventInsuranceOverdue  LedgerEventType = "insurance_overdue"
)

// LedgerEvent is broadcast to live dashboards after a commit.
type LedgerEvent struct {
	ID        uuid.UUID       `json:"id"`
	Type      LedgerEventType `json:"type"`
	ProductID *uuid.UUID      `json:"product_id,omitempty"`
	UserID    *uuid.UUID      `json:"user_id,omitempty"`
	Data      map[string]any  `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewLedgerEvent creates an event stamped now.
func NewLedgerEvent(t LedgerEventType, productID, userID *uuid.UUID, data map[string]any) *LedgerEvent {
	return &LedgerEvent{
		ID:        uuid.New(),
		Type:      t,
		ProductID: productID,
		UserID:    userID,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}
