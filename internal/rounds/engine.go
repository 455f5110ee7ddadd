// Package rounds drives products through their pricing stages. A product
// advances exactly one stage each time its current round sells out; the
// step is applied inside the transaction of the sale that emptied the pool.
package rounds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MacJediWizard/roundledger/internal/events"
	"github.com/MacJediWizard/roundledger/internal/metrics"
	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/MacJediWizard/roundledger/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Plan returns the transition a sold-out product must take, or false when
// the product still has inventory or its exit round is already closed.
func Plan(p *models.Product, now time.Time) (*models.RoundTransition, bool) {
	if p.RemainingLicenses > 0 || p.ExitClosed() {
		return nil, false
	}

	t := &models.RoundTransition{
		ID:             uuid.New(),
		ProductID:      p.ID,
		FromStage:      p.CurrentStage,
		FromRound:      p.CurrentRound,
		ToRound:        p.CurrentRound + 1,
		TransitionedAt: now,
	}
	if next, ok := p.CurrentStage.Next(); ok {
		t.ToStage = next
		t.Minted = p.TotalLicenses
	} else {
		// Exit has no successor: the round is closed without a new pool.
		t.ToStage = models.StageExit
	}
	return t, true
}

// Apply moves p to the state described by t.
func Apply(p *models.Product, t *models.RoundTransition) {
	p.CurrentStage = t.ToStage
	p.CurrentRound = t.ToRound
	p.RemainingLicenses = t.Minted
	p.UpdatedAt = t.TransitionedAt
}

// Engine applies round transitions and owns product lifecycle operations.
type Engine struct {
	store   store.Store
	metrics *metrics.Metrics
	events  events.Publisher
	logger  zerolog.Logger
	now     func() time.Time
}

// NewEngine creates a new Engine.
func NewEngine(s store.Store, m *metrics.Metrics, pub events.Publisher, logger zerolog.Logger) *Engine {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Engine{
		store:   s,
		metrics: m,
		events:  pub,
		logger:  logger.With().Str("component", "round_engine").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// TransitionIfSoldOut advances p inside tx when its pool is empty. The
// caller must hold the product row lock. It returns nil when nothing moved.
func (e *Engine) TransitionIfSoldOut(ctx context.Context, tx store.Tx, p *models.Product) (*models.RoundTransition, error) {
	t, ok := Plan(p, e.now())
	if !ok {
		return nil, nil
	}

	Apply(p, t)
	if err := tx.UpdateProductState(ctx, p); err != nil {
		return nil, fmt.Errorf("advance product round: %w", err)
	}

	n, err := tx.MarkRoundResaleEligible(ctx, p.ID, t.FromRound)
	if err != nil {
		return nil, fmt.Errorf("mark round %d resale eligible: %w", t.FromRound, err)
	}
	t.LicensesMadeEligible = n

	if err := tx.CreateRoundTransition(ctx, t); err != nil {
		return nil, fmt.Errorf("record round transition: %w", err)
	}
	return t, nil
}

// Announce reports a committed transition. Call it only after commit.
func (e *Engine) Announce(t *models.RoundTransition) {
	if t == nil {
		return
	}
	e.metrics.RecordTransition(string(t.FromStage), string(t.ToStage))
	e.logger.Info().
		Str("product_id", t.ProductID.String()).
		Str("from_stage", string(t.FromStage)).
		Str("to_stage", string(t.ToStage)).
		Int("to_round", t.ToRound).
		Int64("made_eligible", t.LicensesMadeEligible).
		Msg("round transitioned")

	productID := t.ProductID
	e.events.Publish(models.NewLedgerEvent(models.EventRoundTransitioned, &productID, nil, map[string]any{
		"from_stage": t.FromStage,
		"to_stage":   t.ToStage,
		"from_round": t.FromRound,
		"to_round":   t.ToRound,
		"minted":     t.Minted,
	}))
}

// Advance runs a standalone transition check for a product. It is a no-op
// for products with inventory and for closed exit rounds.
func (e *Engine) Advance(ctx context.Context, productID uuid.UUID) (*models.RoundTransition, error) {
	var t *models.RoundTransition
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		t, err = e.TransitionIfSoldOut(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.Announce(t)
	return t, nil
}

// ApproveProduct creates a product with its immutable price table.
func (e *Engine) ApproveProduct(ctx context.Context, req models.ApproveProductRequest) (*models.Product, error) {
	if req.CreatorID == uuid.Nil || strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: creator and name are required", models.ErrInvalidInput)
	}
	if req.TotalLicenses < 1 {
		return nil, fmt.Errorf("%w: total_licenses must be positive", models.ErrInvalidInput)
	}
	if err := req.RoundPricing.Validate(); err != nil {
		return nil, err
	}

	p := models.NewProduct(req.CreatorID, strings.TrimSpace(req.Name), req.TotalLicenses, req.RoundPricing, e.now())
	if err := e.store.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateProduct(ctx, p)
	}); err != nil {
		return nil, fmt.Errorf("approve product: %w", err)
	}

	e.logger.Info().
		Str("product_id", p.ID.String()).
		Int("total_licenses", p.TotalLicenses).
		Msg("product approved")
	return p, nil
}

// GetProduct returns a product.
func (e *Engine) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var p *models.Product
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.GetProduct(ctx, id)
		return err
	})
	return p, err
}

// ListTransitions returns the stage history of a product, oldest first.
func (e *Engine) ListTransitions(ctx context.Context, productID uuid.UUID) ([]*models.RoundTransition, error) {
	var out []*models.RoundTransition
	err := e.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetProduct(ctx, productID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListRoundTransitions(ctx, productID)
		return err
	})
	return out, err
}

// ArchiveProduct soft-archives a product whose exit round is closed and
// whose royalty claims are all resolved. Archiving twice is a no-op.
func (e *Engine) ArchiveProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var p *models.Product
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if p.ArchivedAt != nil {
			return nil
		}
		if !p.ExitClosed() {
			return fmt.Errorf("%w: exit round is still open", models.ErrInvalidTransition)
		}
		pending, err := tx.CountPendingClaimsForProduct(ctx, productID)
		if err != nil {
			return fmt.Errorf("count pending claims: %w", err)
		}
		if pending > 0 {
			return fmt.Errorf("%w: %d royalty claims unresolved", models.ErrInvalidTransition, pending)
		}
		now := e.now()
		p.ArchivedAt = &now
		p.UpdatedAt = now
		return tx.UpdateProductState(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("product_id", productID.String()).Msg("product archived")
	return p, nil
}
