package models

import (
	"time"

	"github.com/google/uuid"
)

// RoyaltyClaimStatus is the lifecycle state of a royalty claim.
type RoyaltyClaimStatus string

const (
	RoyaltyClaimPending   RoyaltyClaimStatus = "pending"
	RoyaltyClaimCompleted RoyaltyClaimStatus = "completed"
	RoyaltyClaimFailed    RoyaltyClaimStatus = "failed"
	RoyaltyClaimCancelled RoyaltyClaimStatus = "cancelled"
)

// Active reports whether a claim in this status blocks another claim on
// the same license.
func (s RoyaltyClaimStatus) Active() bool {
	return s == RoyaltyClaimPending || s == RoyaltyClaimCompleted
}

// PlatformProduct holds an inventory of royalty licenses.
type PlatformProduct struct {
	ID                uuid.UUID  `json:"product_id"`
	ProductID         *uuid.UUID `json:"linked_product_id,omitempty"`
	Name              string     `json:"name"`
	TotalLicenses     int        `json:"total_licenses"`
	AvailableLicenses int        `json:"available_licenses"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewPlatformProduct creates an active platform product with a full inventory.
func NewPlatformProduct(name string, total int, productID *uuid.UUID, now time.Time) *PlatformProduct {
	return &PlatformProduct{
		ID:                uuid.New(),
		ProductID:         productID,
		Name:              name,
		TotalLicenses:     total,
		AvailableLicenses: total,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// RoyaltyClaim is a request to exchange an exit license for a royalty license.
type RoyaltyClaim struct {
	ID                   uuid.UUID          `json:"id"`
	UserID               uuid.UUID          `json:"user_id"`
	ExitLicenseID        uuid.UUID          `json:"exit_license_id"`
	PlatformProductID    uuid.UUID          `json:"platform_product_id"`
	Status               RoyaltyClaimStatus `json:"status"`
	RoyaltyLicensesCount int                `json:"royalty_licenses_count"`
	FailureReason        string             `json:"failure_reason,omitempty"`
	ProcessedAt          *time.Time         `json:"processed_at,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
}

// RoyaltyLicense is the immutable record of an assigned royalty license.
type RoyaltyLicense struct {
	ID                uuid.UUID `json:"id"`
	LicenseID         uuid.UUID `json:"license_id"`
	UserID            uuid.UUID `json:"user_id"`
	PlatformProductID uuid.UUID `json:"platform_product_id"`
	AssignedAt        time.Time `json:"assigned_at"`
}

// Eligibility is the answer to a royalty eligibility check.
type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

// SubmitClaimRequest is the body of a royalty claim.
type SubmitClaimRequest struct {
	LicenseID                 uuid.UUID `json:"licenseId" binding:"required"`
	SelectedPlatformProductID uuid.UUID `json:"selectedPlatformProductId" binding:"required"`
}

// CreatePlatformProductRequest registers a royalty inventory.
type CreatePlatformProductRequest struct {
	Name          string     `json:"name" binding:"required,min=1,max=255"`
	TotalLicenses int        `json:"total_licenses" binding:"required,min=1"`
	ProductID     *uuid.UUID `json:"linked_product_id,omitempty"`
}
