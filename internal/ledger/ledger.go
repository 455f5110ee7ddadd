// Package ledger issues, sells and relists product licenses. Every mutation
// holds the product row lock for its whole transaction, so the license pool
// can never go negative and the round transition caused by a sell-out
// commits together with the sale that caused it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/roundledger/internal/events"
	"github.com/MacJediWizard/roundledger/internal/metrics"
	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/MacJediWizard/roundledger/internal/payout"
	"github.com/MacJediWizard/roundledger/internal/rounds"
	"github.com/MacJediWizard/roundledger/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Sale channels used as metric labels.
const (
	ChannelPrimary = "primary"
	ChannelResale  = "resale"
	ChannelIssued  = "issued"
)

// Config holds insurance terms applied to insured purchases.
type Config struct {
	InsuranceWindow  time.Duration
	InsuranceFeeRate decimal.Decimal
}

// DefaultConfig returns the standard insurance terms: seven days at 10%.
func DefaultConfig() Config {
	return Config{
		InsuranceWindow:  7 * 24 * time.Hour,
		InsuranceFeeRate: decimal.RequireFromString("0.10"),
	}
}

// PurchaseResult is the outcome of a sale.
type PurchaseResult struct {
	License    *models.License         `json:"license"`
	Transition *models.RoundTransition `json:"transition,omitempty"`
}

// IssueResult is the outcome of an administrative issuance.
type IssueResult struct {
	Licenses   []*models.License       `json:"licenses"`
	Transition *models.RoundTransition `json:"transition,omitempty"`
}

// Ledger implements license issuance and consumption.
type Ledger struct {
	store   store.Store
	rounds  *rounds.Engine
	cfg     Config
	metrics *metrics.Metrics
	events  events.Publisher
	logger  zerolog.Logger
	now     func() time.Time
}

// NewLedger creates a new Ledger.
func NewLedger(s store.Store, engine *rounds.Engine, cfg Config, m *metrics.Metrics, pub events.Publisher, logger zerolog.Logger) *Ledger {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Ledger{
		store:   s,
		rounds:  engine,
		cfg:     cfg,
		metrics: m,
		events:  pub,
		logger:  logger.With().Str("component", "ledger").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Ledger) insure(lic *models.License, now time.Time) {
	lic.ClearInsurance()
	if !lic.PurchaseType.Insured() {
		return
	}
	fee := lic.PurchaseAmount.Mul(l.cfg.InsuranceFeeRate).Round(2)
	lic.Insure(fee, now.Add(l.cfg.InsuranceWindow))
}

// consume takes one license out of the product pool and advances the round
// when the pool empties.
func (l *Ledger) consume(ctx context.Context, tx store.Tx, p *models.Product, n int, now time.Time) (*models.RoundTransition, error) {
	p.RemainingLicenses -= n
	p.UpdatedAt = now
	if err := tx.UpdateProductState(ctx, p); err != nil {
		return nil, fmt.Errorf("update product pool: %w", err)
	}
	return l.rounds.TransitionIfSoldOut(ctx, tx, p)
}

// IssueLicenses mints count licenses in the product's open round for the
// given owner, or for the product creator when none is given.
func (l *Ledger) IssueLicenses(ctx context.Context, productID uuid.UUID, req models.IssueLicensesRequest) (*IssueResult, error) {
	if req.Count < 1 {
		return nil, fmt.Errorf("%w: count must be positive", models.ErrInvalidInput)
	}
	if !req.PurchaseType.Valid() {
		return nil, fmt.Errorf("%w: unknown purchase type %q", models.ErrInvalidInput, req.PurchaseType)
	}

	var res *IssueResult
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		res = &IssueResult{}
		p, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if p.ArchivedAt != nil || p.ExitClosed() || req.Round != p.CurrentRound {
			return fmt.Errorf("%w: round %d (open round is %d)", models.ErrRoundClosed, req.Round, p.CurrentRound)
		}
		issued, err := tx.CountLicensesInRound(ctx, p.ID, p.CurrentRound)
		if err != nil {
			return fmt.Errorf("count round licenses: %w", err)
		}
		// The round count and the pool must agree; either one running out
		// means the round is full.
		if issued+req.Count > p.TotalLicenses || req.Count > p.RemainingLicenses {
			return fmt.Errorf("%w: %d issued of %d, %d requested", models.ErrCapacityExceeded, issued, p.TotalLicenses, req.Count)
		}

		owner := p.CreatorID
		if req.OwnerID != nil && *req.OwnerID != uuid.Nil {
			owner = *req.OwnerID
		}
		now := l.now()
		for i := 0; i < req.Count; i++ {
			lic, err := models.NewLicense(p, owner, req.PurchaseType, decimal.Zero, now)
			if err != nil {
				return err
			}
			l.insure(lic, now)
			if err := tx.CreateLicense(ctx, lic); err != nil {
				return fmt.Errorf("create license: %w", err)
			}
			res.Licenses = append(res.Licenses, lic)
		}

		res.Transition, err = l.consume(ctx, tx, p, req.Count, now)
		if err != nil {
			return err
		}
		if res.Transition != nil {
			for _, lic := range res.Licenses {
				lic.CurrentRound = p.CurrentRound
				lic.ResaleEligible = lic.PurchaseType.PermitsResale()
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for range res.Licenses {
		l.metrics.RecordPurchase(ChannelIssued, string(req.PurchaseType))
	}
	l.rounds.Announce(res.Transition)
	l.events.Publish(models.NewLedgerEvent(models.EventLicensesIssued, &productID, nil, map[string]any{
		"round": req.Round,
		"count": req.Count,
	}))
	l.logger.Info().
		Str("product_id", productID.String()).
		Int("round", req.Round).
		Int("count", req.Count).
		Msg("licenses issued")
	return res, nil
}

// PurchaseLicense sells one license of the open round at the round price
// and credits the product creator.
func (l *Ledger) PurchaseLicense(ctx context.Context, productID, buyerID uuid.UUID, purchaseType models.PurchaseType) (*PurchaseResult, error) {
	if !purchaseType.Valid() {
		return nil, fmt.Errorf("%w: unknown purchase type %q", models.ErrInvalidInput, purchaseType)
	}

	var res *PurchaseResult
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if !p.IsSaleable() {
			return models.ErrSoldOut
		}

		now := l.now()
		price := p.CurrentPrice()
		lic, err := models.NewLicense(p, buyerID, purchaseType, price, now)
		if err != nil {
			return err
		}
		l.insure(lic, now)
		if err := tx.CreateLicense(ctx, lic); err != nil {
			return fmt.Errorf("create license: %w", err)
		}
		if err := payout.Credit(ctx, tx, p.CreatorID, price, models.EarningsSale, &lic.ID, now); err != nil {
			return fmt.Errorf("credit creator: %w", err)
		}

		res = &PurchaseResult{License: lic}
		res.Transition, err = l.consume(ctx, tx, p, 1, now)
		if err != nil {
			return err
		}
		if res.Transition != nil {
			if res.License, err = tx.GetLicense(ctx, lic.ID); err != nil {
				return err
			}
			res.License.CurrentRound = p.CurrentRound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrSoldOut) {
			l.logger.Debug().Str("product_id", productID.String()).Msg("purchase rejected, sold out")
		}
		return nil, err
	}

	l.metrics.RecordPurchase(ChannelPrimary, string(purchaseType))
	l.rounds.Announce(res.Transition)
	buyer := buyerID
	l.events.Publish(models.NewLedgerEvent(models.EventLicensePurchased, &productID, &buyer, map[string]any{
		"license_id":    res.License.ID,
		"round":         res.License.PurchasedRound,
		"purchase_type": purchaseType,
		"amount":        res.License.PurchaseAmount.StringFixed(2),
	}))
	l.logger.Info().
		Str("product_id", productID.String()).
		Str("license_id", res.License.ID.String()).
		Int("round", res.License.PurchasedRound).
		Str("purchase_type", string(purchaseType)).
		Msg("license purchased")
	return res, nil
}

// loadOwned locks a license and verifies the caller owns it. The license's
// current round is refreshed from its product.
func loadOwned(ctx context.Context, tx store.Tx, licenseID, ownerID uuid.UUID) (*models.License, *models.Product, error) {
	lic, err := tx.GetLicenseForUpdate(ctx, licenseID)
	if err != nil {
		return nil, nil, err
	}
	if lic.OwnerID != ownerID {
		return nil, nil, models.ErrNotOwner
	}
	p, err := tx.GetProduct(ctx, lic.ProductID)
	if err != nil {
		return nil, nil, err
	}
	lic.CurrentRound = p.CurrentRound
	return lic, p, nil
}

// EnableForResale switches resale on for lic. The license's round must have
// closed and been marked eligible.
func EnableForResale(lic *models.License) error {
	if lic.IsEnabledByUserForResale {
		return nil
	}
	if !lic.PurchaseType.PermitsResale() {
		return fmt.Errorf("%w: %s licenses cannot be resold", models.ErrNotEligible, lic.PurchaseType)
	}
	if !lic.CanEnableResale() {
		return fmt.Errorf("%w: round %d has not closed", models.ErrNotEligible, lic.PurchasedRound)
	}
	lic.IsEnabledByUserForResale = true
	return nil
}

// MarkListed lists lic on the resale market.
func MarkListed(lic *models.License, p *models.Product, now time.Time) error {
	if lic.IsListedForResale {
		return nil
	}
	if !lic.PurchaseType.PermitsResale() {
		return fmt.Errorf("%w: %s licenses cannot be resold", models.ErrNotEligible, lic.PurchaseType)
	}
	if !lic.IsEnabledByUserForResale {
		return fmt.Errorf("%w: resale is not enabled", models.ErrNotEligible)
	}
	if p.ArchivedAt != nil {
		return fmt.Errorf("%w: product is archived", models.ErrNotEligible)
	}
	lic.IsListedForResale = true
	lic.ListedAt = &now
	return nil
}

func (l *Ledger) updateOwned(ctx context.Context, licenseID, ownerID uuid.UUID, fn func(*models.License, *models.Product, time.Time) error) (*models.License, error) {
	var lic *models.License
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		var (
			p   *models.Product
			err error
		)
		lic, p, err = loadOwned(ctx, tx, licenseID, ownerID)
		if err != nil {
			return err
		}
		before := *lic
		now := l.now()
		if err := fn(lic, p, now); err != nil {
			return err
		}
		if before.IsEnabledByUserForResale == lic.IsEnabledByUserForResale &&
			before.IsListedForResale == lic.IsListedForResale {
			return nil
		}
		lic.UpdatedAt = now
		return tx.UpdateLicense(ctx, lic)
	})
	if err != nil {
		return nil, err
	}
	return lic, nil
}

// EnableResale lets the owner resell a license once its round has closed.
// Enabling an enabled license is a no-op.
func (l *Ledger) EnableResale(ctx context.Context, licenseID, ownerID uuid.UUID) (*models.License, error) {
	return l.updateOwned(ctx, licenseID, ownerID, func(lic *models.License, _ *models.Product, _ time.Time) error {
		return EnableForResale(lic)
	})
}

// ListForResale puts an enabled license on the resale market.
func (l *Ledger) ListForResale(ctx context.Context, licenseID, ownerID uuid.UUID) (*models.License, error) {
	return l.updateOwned(ctx, licenseID, ownerID, MarkListed)
}

// UnlistFromResale withdraws a listed license.
func (l *Ledger) UnlistFromResale(ctx context.Context, licenseID, ownerID uuid.UUID) (*models.License, error) {
	return l.updateOwned(ctx, licenseID, ownerID, func(lic *models.License, _ *models.Product, _ time.Time) error {
		lic.IsListedForResale = false
		lic.ListedAt = nil
		return nil
	})
}

// PurchaseResale sells a listed license to buyerID in place of a freshly
// minted one. The license moves into the open round at the round price,
// the seller is credited, and the open round's pool shrinks by one.
func (l *Ledger) PurchaseResale(ctx context.Context, licenseID, buyerID uuid.UUID, purchaseType models.PurchaseType) (*PurchaseResult, error) {
	if !purchaseType.Valid() {
		return nil, fmt.Errorf("%w: unknown purchase type %q", models.ErrInvalidInput, purchaseType)
	}

	var (
		res      *PurchaseResult
		sellerID uuid.UUID
		product  uuid.UUID
	)
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		peek, err := tx.GetLicense(ctx, licenseID)
		if err != nil {
			return err
		}
		// Lock order is product then license, as everywhere else.
		p, err := tx.GetProductForUpdate(ctx, peek.ProductID)
		if err != nil {
			return err
		}
		lic, err := tx.GetLicenseForUpdate(ctx, licenseID)
		if err != nil {
			return err
		}
		if !p.IsSaleable() {
			return models.ErrSoldOut
		}
		if !lic.IsListedForResale {
			return fmt.Errorf("%w: license is not listed", models.ErrNotEligible)
		}
		if lic.OwnerID == buyerID {
			return fmt.Errorf("%w: buyer already owns this license", models.ErrNotEligible)
		}

		now := l.now()
		price := p.CurrentPrice()
		sellerID = lic.OwnerID
		product = p.ID
		transfer := &models.LicenseTransfer{
			ID:            uuid.New(),
			LicenseID:     lic.ID,
			FromUserID:    sellerID,
			ToUserID:      buyerID,
			Price:         price,
			Round:         p.CurrentRound,
			TransferredAt: now,
		}

		lic.OwnerID = buyerID
		lic.PurchasedRound = p.CurrentRound
		lic.CurrentRound = p.CurrentRound
		lic.PurchaseType = purchaseType
		lic.PurchaseAmount = price
		lic.ResaleEligible = false
		lic.IsListedForResale = false
		lic.IsEnabledByUserForResale = false
		lic.ListedAt = nil
		lic.AcquiredAt = now
		lic.UpdatedAt = now
		l.insure(lic, now)
		if err := tx.UpdateLicense(ctx, lic); err != nil {
			return fmt.Errorf("transfer license: %w", err)
		}
		if err := tx.CreateLicenseTransfer(ctx, transfer); err != nil {
			return fmt.Errorf("record license transfer: %w", err)
		}
		if err := payout.Credit(ctx, tx, sellerID, price, models.EarningsResale, &lic.ID, now); err != nil {
			return fmt.Errorf("credit seller: %w", err)
		}

		res = &PurchaseResult{License: lic}
		res.Transition, err = l.consume(ctx, tx, p, 1, now)
		if err != nil {
			return err
		}
		if res.Transition != nil {
			if res.License, err = tx.GetLicense(ctx, lic.ID); err != nil {
				return err
			}
			res.License.CurrentRound = p.CurrentRound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.metrics.RecordPurchase(ChannelResale, string(purchaseType))
	l.rounds.Announce(res.Transition)
	buyer := buyerID
	l.events.Publish(models.NewLedgerEvent(models.EventLicenseResold, &product, &buyer, map[string]any{
		"license_id": licenseID,
		"seller_id":  sellerID,
		"round":      res.License.PurchasedRound,
		"amount":     res.License.PurchaseAmount.StringFixed(2),
	}))
	l.logger.Info().
		Str("license_id", licenseID.String()).
		Str("seller_id", sellerID.String()).
		Str("buyer_id", buyerID.String()).
		Msg("license resold")
	return res, nil
}

// GetLicense returns one of the caller's licenses with its current round
// refreshed.
func (l *Ledger) GetLicense(ctx context.Context, licenseID, ownerID uuid.UUID) (*models.License, error) {
	var lic *models.License
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		lic, err = tx.GetLicense(ctx, licenseID)
		if err != nil {
			return err
		}
		if lic.OwnerID != ownerID {
			return models.ErrNotOwner
		}
		p, err := tx.GetProduct(ctx, lic.ProductID)
		if err != nil {
			return err
		}
		lic.CurrentRound = p.CurrentRound
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lic, nil
}

// ListLicenses returns the caller's licenses grouped by product. Pages are
// counted in product groups.
func (l *Ledger) ListLicenses(ctx context.Context, ownerID uuid.UUID, page models.Page) (*models.PageResult[*models.ProductLicenses], error) {
	var groups []*models.ProductLicenses
	err := l.store.View(ctx, func(tx store.Tx) error {
		lics, err := tx.ListLicensesByOwner(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("list licenses: %w", err)
		}

		var ids []uuid.UUID
		byProduct := make(map[uuid.UUID]*models.ProductLicenses)
		for _, lic := range lics {
			if _, ok := byProduct[lic.ProductID]; !ok {
				ids = append(ids, lic.ProductID)
				byProduct[lic.ProductID] = &models.ProductLicenses{}
			}
		}
		products, err := tx.GetProductsByIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("load products: %w", err)
		}

		for _, lic := range lics {
			g := byProduct[lic.ProductID]
			if p, ok := products[lic.ProductID]; ok {
				lic.CurrentRound = p.CurrentRound
			}
			g.Licenses = append(g.Licenses, lic)
		}
		for _, id := range ids {
			p, ok := products[id]
			if !ok {
				continue
			}
			g := byProduct[id]
			g.Product = models.NewProductView(p)
			groups = append(groups, g)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res := models.Paginate(groups, page)
	return &res, nil
}
