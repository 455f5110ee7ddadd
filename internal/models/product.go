package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RoundPricing is the four-slot price table fixed at approval time.
type RoundPricing struct {
	Newboom   decimal.Decimal `json:"newboom"`
	Blossom   decimal.Decimal `json:"blossom"`
	Evergreen decimal.Decimal `json:"evergreen"`
	Exit      decimal.Decimal `json:"exit"`
}

// PriceFor returns the license price for a stage.
func (p RoundPricing) PriceFor(s Stage) decimal.Decimal {
	switch s {
	case StageNewboom:
		return p.Newboom
	case StageBlossom:
		return p.Blossom
	case StageEvergreen:
		return p.Evergreen
	case StageExit:
		return p.Exit
	default:
		return decimal.Zero
	}
}

// Validate checks that every slot holds a positive price in whole cents.
func (p RoundPricing) Validate() error {
	for _, s := range Stages {
		price := p.PriceFor(s)
		if !price.IsPositive() {
			return fmt.Errorf("%w: %s price must be positive", ErrInvalidInput, s)
		}
		if !price.Equal(price.Round(2)) {
			return fmt.Errorf("%w: %s price %s has more than 2 decimals", ErrInvalidInput, s, price)
		}
	}
	return nil
}

// Product is a digital product sold in fixed-size rounds.
type Product struct {
	ID                uuid.UUID    `json:"id"`
	CreatorID         uuid.UUID    `json:"creator_id"`
	Name              string       `json:"name"`
	TotalLicenses     int          `json:"total_licenses"`
	RemainingLicenses int          `json:"remaining_licenses"`
	CurrentStage      Stage        `json:"current_stage"`
	CurrentRound      int          `json:"current_round"`
	RoundPricing      RoundPricing `json:"round_pricing"`
	Version           int64        `json:"version"`
	ApprovedAt        time.Time    `json:"approved_at"`
	ArchivedAt        *time.Time   `json:"archived_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// NewProduct creates an approved product in newboom, round 1, with a full pool.
func NewProduct(creatorID uuid.UUID, name string, totalLicenses int, pricing RoundPricing, now time.Time) *Product {
	return &Product{
		ID:                uuid.New(),
		CreatorID:         creatorID,
		Name:              name,
		TotalLicenses:     totalLicenses,
		RemainingLicenses: totalLicenses,
		CurrentStage:      StageNewboom,
		CurrentRound:      1,
		RoundPricing:      pricing,
		Version:           1,
		ApprovedAt:        now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// IsSaleable reports whether new purchases can be offered.
func (p *Product) IsSaleable() bool {
	return p.RemainingLicenses > 0 && p.ArchivedAt == nil
}

// CurrentPrice returns the price of a license in the open round.
func (p *Product) CurrentPrice() decimal.Decimal {
	return p.RoundPricing.PriceFor(p.CurrentStage)
}

// ExitClosed reports whether the exit round has sold out and been closed.
func (p *Product) ExitClosed() bool {
	return p.CurrentStage == StageExit && p.CurrentRound > ExitRound
}

// ProductView is the API projection of a product with derived badge data.
type ProductView struct {
	*Product
	IsSaleable   bool            `json:"is_saleable"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	StageLabel   string          `json:"stage_label"`
	StageColor   string          `json:"stage_color"`
}

// NewProductView projects a product for API responses.
func NewProductView(p *Product) *ProductView {
	return &ProductView{
		Product:      p,
		IsSaleable:   p.IsSaleable(),
		CurrentPrice: p.CurrentPrice(),
		StageLabel:   p.CurrentStage.Label(),
		StageColor:   p.CurrentStage.Color(),
	}
}

// RoundTransition records one step of the stage state machine.
type RoundTransition struct {
	ID                   uuid.UUID `json:"id"`
	ProductID            uuid.UUID `json:"product_id"`
	FromStage            Stage     `json:"from_stage"`
	ToStage              Stage     `json:"to_stage"`
	FromRound            int       `json:"from_round"`
	ToRound              int       `json:"to_round"`
	LicensesMadeEligible int64     `json:"licenses_made_eligible"`
	Minted               int       `json:"minted"`
	TransitionedAt       time.Time `json:"transitioned_at"`
}

// ApproveProductRequest seeds a product and its immutable price table.
type ApproveProductRequest struct {
	CreatorID     uuid.UUID    `json:"creator_id" binding:"required"`
	Name          string       `json:"name" binding:"required,min=1,max=255"`
	TotalLicenses int          `json:"total_licenses" binding:"required,min=1"`
	RoundPricing  RoundPricing `json:"round_pricing" binding:"required"`
}
