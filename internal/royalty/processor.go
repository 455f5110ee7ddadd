// Package royalty converts closed exit-round licenses into royalty
// licenses drawn from a platform product's inventory.
package royalty

import (
	"context"
	"errors"
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

// Failure reasons recorded on failed claims.
const (
	ReasonInsufficient = "no royalty licenses available"
	ReasonProcessing   = "claim processing error"
)

// Processor implements the royalty claim workflow.
type Processor struct {
	store   store.Store
	metrics *metrics.Metrics
	events  events.Publisher
	logger  zerolog.Logger
	now     func() time.Time
}

// NewProcessor creates a new Processor.
func NewProcessor(s store.Store, m *metrics.Metrics, pub events.Publisher, logger zerolog.Logger) *Processor {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Processor{
		store:   s,
		metrics: m,
		events:  pub,
		logger:  logger.With().Str("component", "royalty").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// evaluate returns nil when userID may claim against l, or a business error
// naming the first failed rule.
func evaluate(ctx context.Context, tx store.Tx, l *models.License, userID uuid.UUID) error {
	if l.OwnerID != userID {
		return models.ErrNotOwner
	}
	if l.PurchasedRound != models.ExitRound {
		return fmt.Errorf("%w: license was not purchased in the exit round", models.ErrNotEligible)
	}
	prod, err := tx.GetProduct(ctx, l.ProductID)
	if err != nil {
		return err
	}
	if prod.CurrentStage != models.StageExit {
		return fmt.Errorf("%w: product is not in the exit stage", models.ErrNotEligible)
	}
	if l.PurchasedRound >= prod.CurrentRound {
		return fmt.Errorf("%w: exit round has not closed", models.ErrNotEligible)
	}
	active, err := tx.GetActiveClaimForLicense(ctx, l.ID)
	if err != nil {
		return fmt.Errorf("check existing claims: %w", err)
	}
	if active != nil {
		return models.ErrAlreadyClaimed
	}
	return nil
}

func isRuleViolation(err error) bool {
	return models.ErrorCode(err) != "" && !errors.Is(err, models.ErrUnavailable)
}

// CheckEligibility reports whether the caller may claim a royalty license
// for licenseID. The answer is advisory; SubmitClaim re-checks everything.
func (p *Processor) CheckEligibility(ctx context.Context, licenseID, userID uuid.UUID) (*models.Eligibility, error) {
	var out *models.Eligibility
	err := p.store.View(ctx, func(tx store.Tx) error {
		l, err := tx.GetLicense(ctx, licenseID)
		if err != nil {
			return err
		}
		err = evaluate(ctx, tx, l, userID)
		switch {
		case err == nil:
			out = &models.Eligibility{Eligible: true}
		case isRuleViolation(err):
			out = &models.Eligibility{Reason: reasonText(err)}
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func reasonText(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 && errors.Is(err, models.ErrNotEligible) {
		return msg[i+2:]
	}
	return msg
}

// SubmitClaim exchanges an exit license for one royalty license. A claim
// against an empty inventory is kept as failed and reported as
// ErrInsufficient. Any other failure rolls back all writes, after which a
// failed claim is recorded on its own.
func (p *Processor) SubmitClaim(ctx context.Context, userID uuid.UUID, req models.SubmitClaimRequest) (*models.RoyaltyClaim, error) {
	var (
		claim        *models.RoyaltyClaim
		insufficient bool
	)
	err := p.store.InTx(ctx, func(tx store.Tx) error {
		claim, insufficient = nil, false

		l, err := tx.GetLicenseForUpdate(ctx, req.LicenseID)
		if err != nil {
			return err
		}
		if err := evaluate(ctx, tx, l, userID); err != nil {
			return err
		}
		pp, err := tx.GetPlatformProductForUpdate(ctx, req.SelectedPlatformProductID)
		if err != nil {
			return err
		}
		if !pp.IsActive {
			return fmt.Errorf("%w: platform product is not active", models.ErrNotEligible)
		}

		now := p.now()
		claim = &models.RoyaltyClaim{
			ID:                uuid.New(),
			UserID:            userID,
			ExitLicenseID:     l.ID,
			PlatformProductID: pp.ID,
			Status:            models.RoyaltyClaimPending,
			CreatedAt:         now,
		}
		if err := tx.CreateRoyaltyClaim(ctx, claim); err != nil {
			if errors.Is(err, models.ErrAlreadyClaimed) {
				claim = nil
				return err
			}
			return fmt.Errorf("create royalty claim: %w", err)
		}

		claim.ProcessedAt = &now
		if pp.AvailableLicenses == 0 {
			insufficient = true
			claim.Status = models.RoyaltyClaimFailed
			claim.FailureReason = ReasonInsufficient
			return tx.UpdateRoyaltyClaim(ctx, claim)
		}

		pp.AvailableLicenses--
		pp.UpdatedAt = now
		if err := tx.UpdatePlatformProductInventory(ctx, pp); err != nil {
			return fmt.Errorf("decrement royalty inventory: %w", err)
		}
		if err := tx.CreateRoyaltyLicense(ctx, &models.RoyaltyLicense{
			ID:                uuid.New(),
			LicenseID:         l.ID,
			UserID:            userID,
			PlatformProductID: pp.ID,
			AssignedAt:        now,
		}); err != nil {
			return fmt.Errorf("assign royalty license: %w", err)
		}
		claim.Status = models.RoyaltyClaimCompleted
		claim.RoyaltyLicensesCount = 1
		if err := tx.UpdateRoyaltyClaim(ctx, claim); err != nil {
			return fmt.Errorf("complete royalty claim: %w", err)
		}
		return nil
	})
	if err != nil {
		if claim != nil && !isRuleViolation(err) {
			p.recordFailure(ctx, userID, req, err)
		}
		return nil, err
	}

	p.metrics.RecordClaim(string(claim.Status))
	p.publish(claim)
	if insufficient {
		p.logger.Info().
			Str("claim_id", claim.ID.String()).
			Str("platform_product_id", claim.PlatformProductID.String()).
			Msg("royalty claim failed, inventory exhausted")
		return nil, models.ErrInsufficient
	}

	p.logger.Info().
		Str("claim_id", claim.ID.String()).
		Str("license_id", claim.ExitLicenseID.String()).
		Str("platform_product_id", claim.PlatformProductID.String()).
		Msg("royalty claim completed")
	return claim, nil
}

// recordFailure persists a failed claim after the claim transaction rolled
// back. Inventory is untouched.
func (p *Processor) recordFailure(ctx context.Context, userID uuid.UUID, req models.SubmitClaimRequest, cause error) {
	now := p.now()
	failed := &models.RoyaltyClaim{
		ID:                uuid.New(),
		UserID:            userID,
		ExitLicenseID:     req.LicenseID,
		PlatformProductID: req.SelectedPlatformProductID,
		Status:            models.RoyaltyClaimFailed,
		FailureReason:     ReasonProcessing,
		ProcessedAt:       &now,
		CreatedAt:         now,
	}
	bg := context.WithoutCancel(ctx)
	err := p.store.InTx(bg, func(tx store.Tx) error {
		return tx.CreateRoyaltyClaim(bg, failed)
	})
	if err != nil {
		p.logger.Error().Err(err).AnErr("cause", cause).
			Str("license_id", req.LicenseID.String()).
			Msg("failed to record failed royalty claim")
		return
	}
	p.metrics.RecordClaim(string(models.RoyaltyClaimFailed))
	p.publish(failed)
	p.logger.Warn().Err(cause).
		Str("claim_id", failed.ID.String()).
		Msg("royalty claim failed")
}

func (p *Processor) publish(c *models.RoyaltyClaim) {
	t := models.EventClaimCompleted
	if c.Status == models.RoyaltyClaimFailed {
		t = models.EventClaimFailed
	}
	userID := c.UserID
	p.events.Publish(models.NewLedgerEvent(t, nil, &userID, map[string]any{
		"claim_id":            c.ID,
		"license_id":          c.ExitLicenseID,
		"platform_product_id": c.PlatformProductID,
	}))
}

// CancelClaim withdraws one of the caller's pending claims. Cancelling a
// cancelled claim is a no-op.
func (p *Processor) CancelClaim(ctx context.Context, claimID, userID uuid.UUID) (*models.RoyaltyClaim, error) {
	var c *models.RoyaltyClaim
	err := p.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		c, err = tx.GetRoyaltyClaimForUpdate(ctx, claimID)
		if err != nil {
			return err
		}
		if c.UserID != userID {
			return fmt.Errorf("royalty claim %s: %w", claimID, models.ErrNotFound)
		}
		switch c.Status {
		case models.RoyaltyClaimCancelled:
			return nil
		case models.RoyaltyClaimPending:
		default:
			return fmt.Errorf("%w: claim is %s", models.ErrInvalidTransition, c.Status)
		}
		now := p.now()
		c.Status = models.RoyaltyClaimCancelled
		c.ProcessedAt = &now
		return tx.UpdateRoyaltyClaim(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListPlatformProducts returns every platform product.
func (p *Processor) ListPlatformProducts(ctx context.Context) ([]*models.PlatformProduct, error) {
	var out []*models.PlatformProduct
	err := p.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListPlatformProducts(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list platform products: %w", err)
	}
	if out == nil {
		out = []*models.PlatformProduct{}
	}
	return out, nil
}

// CreatePlatformProduct registers a royalty inventory.
func (p *Processor) CreatePlatformProduct(ctx context.Context, req models.CreatePlatformProductRequest) (*models.PlatformProduct, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrInvalidInput)
	}
	if req.TotalLicenses < 1 {
		return nil, fmt.Errorf("%w: total_licenses must be positive", models.ErrInvalidInput)
	}

	pp := models.NewPlatformProduct(name, req.TotalLicenses, req.ProductID, p.now())
	err := p.store.InTx(ctx, func(tx store.Tx) error {
		if req.ProductID != nil {
			if _, err := tx.GetProduct(ctx, *req.ProductID); err != nil {
				return err
			}
		}
		return tx.CreatePlatformProduct(ctx, pp)
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info().
		Str("platform_product_id", pp.ID.String()).
		Int("total_licenses", pp.TotalLicenses).
		Msg("platform product created")
	return pp, nil
}

// History returns the caller's claims of every status, newest first.
func (p *Processor) History(ctx context.Context, userID uuid.UUID, page models.Page) (*models.PageResult[*models.RoyaltyClaim], error) {
	res := &models.PageResult[*models.RoyaltyClaim]{Items: []*models.RoyaltyClaim{}}
	err := p.store.View(ctx, func(tx store.Tx) error {
		items, total, err := tx.ListRoyaltyClaimsByUser(ctx, userID, page.Limit, page.Offset())
		if err != nil {
			return fmt.Errorf("list royalty claims: %w", err)
		}
		if items != nil {
			res.Items = items
		}
		res.Pagination = models.NewPagination(page, total)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Acquired returns the caller's royalty licenses, newest first.
func (p *Processor) Acquired(ctx context.Context, userID uuid.UUID, page models.Page) (*models.PageResult[*models.RoyaltyLicense], error) {
	res := &models.PageResult[*models.RoyaltyLicense]{Items: []*models.RoyaltyLicense{}}
	err := p.store.View(ctx, func(tx store.Tx) error {
		items, total, err := tx.ListRoyaltyLicensesByUser(ctx, userID, page.Limit, page.Offset())
		if err != nil {
			return fmt.Errorf("list royalty licenses: %w", err)
		}
		if items != nil {
			res.Items = items
		}
		res.Pagination = models.NewPagination(page, total)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
