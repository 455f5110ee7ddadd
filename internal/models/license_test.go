package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestPurchaseTypes(t *testing.T) {
	tests := []struct {
		t       PurchaseType
		valid   bool
		resale  bool
		insured bool
	}{
		{PurchaseTypeUse, true, false, false},
		{PurchaseTypeResale, true, true, false},
		{PurchaseTypeResaleWithInsurance, true, true, true},
		{PurchaseType("gift"), false, false, false},
	}
	for _, tt := range tests {
		if tt.t.Valid() != tt.valid || tt.t.PermitsResale() != tt.resale || tt.t.Insured() != tt.insured {
			t.Errorf("%q: got valid=%v resale=%v insured=%v", tt.t, tt.t.Valid(), tt.t.PermitsResale(), tt.t.Insured())
		}
	}
}

func TestNewLicense(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	p := NewProduct(uuid.New(), "Synth Pack", 5, testPricing(), now)
	p.CurrentRound = 2
	owner := uuid.New()

	l, err := NewLicense(p, owner, PurchaseTypeResale, decimal.NewFromInt(75), now)
	if err != nil {
		t.Fatalf("NewLicense() error = %v", err)
	}
	if l.PurchasedRound != 2 || l.CurrentRound != 2 {
		t.Fatalf("expected round 2, got purchased=%d current=%d", l.PurchasedRound, l.CurrentRound)
	}
	if len(l.LicenseToken) != 32 {
		t.Fatalf("expected 32-char token, got %q", l.LicenseToken)
	}
	if l.RoundClosed() || l.CanEnableResale() {
		t.Fatal("license in the open round cannot enable resale")
	}

	l.CurrentRound = 3
	l.ResaleEligible = true
	if !l.CanEnableResale() {
		t.Fatal("eligible resale license in a closed round should enable resale")
	}

	l.PurchaseType = PurchaseTypeUse
	if l.CanEnableResale() {
		t.Fatal("use licenses never enable resale")
	}
}

func TestLicenseTokensUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := GenerateLicenseToken()
		if err != nil {
			t.Fatalf("GenerateLicenseToken() error = %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %s", tok)
		}
		seen[tok] = true
	}
}

func TestLicenseInsurance(t *testing.T) {
	l := &License{}
	deadline := time.Now().Add(7 * 24 * time.Hour)
	l.Insure(decimal.RequireFromString("7.50"), deadline)
	if l.InsuranceFee == nil || !l.InsuranceFee.Equal(decimal.RequireFromString("7.5")) {
		t.Fatalf("unexpected fee: %v", l.InsuranceFee)
	}
	if l.InsuranceDeadline == nil || !l.InsuranceDeadline.Equal(deadline) {
		t.Fatal("deadline not set")
	}

	notified := time.Now()
	l.OverdueNotifiedAt = &notified
	l.ClearInsurance()
	if l.InsuranceFee != nil || l.InsuranceDeadline != nil || l.OverdueNotifiedAt != nil {
		t.Fatal("ClearInsurance left fields set")
	}
}

func TestStatusHelpers(t *testing.T) {
	if !RoyaltyClaimPending.Active() || !RoyaltyClaimCompleted.Active() {
		t.Error("pending and completed claims are active")
	}
	if RoyaltyClaimFailed.Active() || RoyaltyClaimCancelled.Active() {
		t.Error("failed and cancelled claims are not active")
	}
	if PayoutStatusPending.Terminal() || PayoutStatusProcessing.Terminal() {
		t.Error("pending and processing payouts are not terminal")
	}
	if !PayoutStatusCompleted.Terminal() || !PayoutStatusFailed.Terminal() {
		t.Error("completed and failed payouts are terminal")
	}
	if !PaymentMethodBank.Valid() || !PaymentMethodPayPal.Valid() || PaymentMethod("crypto").Valid() {
		t.Error("unexpected payment method validity")
	}
}
