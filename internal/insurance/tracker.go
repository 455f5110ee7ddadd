// Package insurance tracks resale deadlines of insured license purchases.
// Record status is derived on every read from the deadline, the listing
// state and the clock; it is never stored.
package insurance

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/MacJediWizard/roundledger/internal/events"
	"github.com/MacJediWizard/roundledger/internal/ledger"
	"github.com/MacJediWizard/roundledger/internal/metrics"
	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/MacJediWizard/roundledger/internal/notifications"
	"github.com/MacJediWizard/roundledger/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// Notifier delivers overdue notices to license owners.
type Notifier interface {
	NotifyOverdue(ctx context.Context, notice notifications.OverdueNotice) error
}

// DeriveStatus computes the tracker record of an insured license at now.
// A license listed on or before its deadline is resold; listing after the
// deadline does not cure the lapse.
func DeriveStatus(l *models.License, now time.Time) *models.InsuranceRecord {
	rec := &models.InsuranceRecord{License: l, InsuranceFee: decimal.Zero}
	if l.InsuranceFee != nil {
		rec.InsuranceFee = *l.InsuranceFee
	}
	if l.InsuranceDeadline == nil {
		rec.Status = models.InsuranceActive
		return rec
	}
	deadline := *l.InsuranceDeadline
	rec.Deadline = deadline

	switch {
	case l.IsListedForResale && l.ListedAt != nil && !l.ListedAt.After(deadline):
		rec.Status = models.InsuranceResold
	case now.Before(deadline):
		rec.Status = models.InsuranceActive
	default:
		rec.Status = models.InsuranceExpired
		if now.After(deadline) {
			rec.IsOverdue = true
			rec.DaysOverdue = int(now.Sub(deadline) / day)
		}
	}
	return rec
}

// Query selects tracker records.
type Query struct {
	Status        models.InsuranceStatusFilter
	IncludeResold bool
	OwnerID       *uuid.UUID
	ProductID     *uuid.UUID
	Page          models.Page
}

// Matches reports whether rec passes the status part of the query.
func (q Query) Matches(rec *models.InsuranceRecord) bool {
	if rec.Status == models.InsuranceResold {
		return q.IncludeResold
	}
	switch q.Status {
	case models.InsuranceFilterActive:
		return rec.Status == models.InsuranceActive
	case models.InsuranceFilterExpired:
		return rec.Status == models.InsuranceExpired
	default:
		return true
	}
}

// Tracker serves insurance views and administrative actions.
type Tracker struct {
	store    store.Store
	notifier Notifier
	metrics  *metrics.Metrics
	events   events.Publisher
	logger   zerolog.Logger
	now      func() time.Time
}

// NewTracker creates a new Tracker.
func NewTracker(s store.Store, n Notifier, m *metrics.Metrics, pub events.Publisher, logger zerolog.Logger) *Tracker {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Tracker{
		store:    s,
		notifier: n,
		metrics:  m,
		events:   pub,
		logger:   logger.With().Str("component", "insurance").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

func (t *Tracker) scan(ctx context.Context, filter store.InsuredFilter) ([]*models.InsuranceRecord, error) {
	var records []*models.InsuranceRecord
	err := t.store.View(ctx, func(tx store.Tx) error {
		lics, err := tx.ListInsuredLicenses(ctx, filter)
		if err != nil {
			return fmt.Errorf("list insured licenses: %w", err)
		}
		ids := make([]uuid.UUID, 0, len(lics))
		for _, l := range lics {
			ids = append(ids, l.ProductID)
		}
		products, err := tx.GetProductsByIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("load products: %w", err)
		}

		now := t.now()
		for _, l := range lics {
			if p, ok := products[l.ProductID]; ok {
				l.CurrentRound = p.CurrentRound
			}
			records = append(records, DeriveStatus(l, now))
		}
		return nil
	})
	return records, err
}

// ListRecords returns the page of records matching q. The summary covers
// every matching record, not only the page.
func (t *Tracker) ListRecords(ctx context.Context, q Query) (*models.InsuranceRecords, error) {
	if q.Status == "" {
		q.Status = models.InsuranceFilterAll
	}
	if !q.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status filter %q", models.ErrInvalidInput, q.Status)
	}
	q.Page = models.NewPage(q.Page.Page, q.Page.Limit)

	all, err := t.scan(ctx, store.InsuredFilter{OwnerID: q.OwnerID, ProductID: q.ProductID})
	if err != nil {
		return nil, err
	}

	matched := make([]*models.InsuranceRecord, 0, len(all))
	summary := models.InsuranceSummary{TotalInsuranceFees: decimal.Zero}
	for _, rec := range all {
		if !q.Matches(rec) {
			continue
		}
		matched = append(matched, rec)
		summary.Total++
		if rec.Status == models.InsuranceExpired {
			summary.Expired++
		}
		if rec.IsOverdue {
			summary.Overdue++
		}
		summary.TotalInsuranceFees = summary.TotalInsuranceFees.Add(rec.InsuranceFee)
	}
	slices.SortStableFunc(matched, func(a, b *models.InsuranceRecord) int {
		return a.Deadline.Compare(b.Deadline)
	})

	page := models.Paginate(matched, q.Page)
	return &models.InsuranceRecords{
		Records:    page.Items,
		Summary:    summary,
		Pagination: page.Pagination,
	}, nil
}

// TriggerResale lists an overdue license on the owner's behalf. The
// license's round must have closed so that resale can be enabled; the
// deadline is left untouched.
func (t *Tracker) TriggerResale(ctx context.Context, licenseID uuid.UUID) (*models.InsuranceRecord, error) {
	var rec *models.InsuranceRecord
	err := t.store.InTx(ctx, func(tx store.Tx) error {
		l, err := tx.GetLicenseForUpdate(ctx, licenseID)
		if err != nil {
			return err
		}
		if l.InsuranceDeadline == nil {
			return fmt.Errorf("%w: license is not insured", models.ErrNotEligible)
		}
		p, err := tx.GetProduct(ctx, l.ProductID)
		if err != nil {
			return err
		}
		l.CurrentRound = p.CurrentRound

		now := t.now()
		if !DeriveStatus(l, now).IsOverdue {
			return fmt.Errorf("%w: insurance is not overdue", models.ErrNotEligible)
		}
		if err := ledger.EnableForResale(l); err != nil {
			return err
		}
		if err := ledger.MarkListed(l, p, now); err != nil {
			return err
		}
		l.UpdatedAt = now
		if err := tx.UpdateLicense(ctx, l); err != nil {
			return fmt.Errorf("list license: %w", err)
		}
		rec = DeriveStatus(l, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info().
		Str("license_id", licenseID.String()).
		Int("days_overdue", rec.DaysOverdue).
		Msg("resale triggered for overdue license")
	return rec, nil
}

// NotifyOwner sends an overdue notice for the license and stamps when it
// was sent. The notice goes out before the stamp is written, so no row
// lock is held across the network call.
func (t *Tracker) NotifyOwner(ctx context.Context, licenseID uuid.UUID) (*models.InsuranceRecord, error) {
	var rec *models.InsuranceRecord
	err := t.store.View(ctx, func(tx store.Tx) error {
		l, err := tx.GetLicense(ctx, licenseID)
		if err != nil {
			return err
		}
		if l.InsuranceDeadline == nil {
			return fmt.Errorf("%w: license is not insured", models.ErrNotEligible)
		}
		rec = DeriveStatus(l, t.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !rec.IsOverdue {
		return nil, fmt.Errorf("%w: insurance is not overdue", models.ErrNotEligible)
	}
	if err := t.notify(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *Tracker) notify(ctx context.Context, rec *models.InsuranceRecord) error {
	l := rec.License
	notice := notifications.OverdueNotice{
		LicenseID:    l.ID,
		ProductID:    l.ProductID,
		OwnerID:      l.OwnerID,
		Deadline:     rec.Deadline,
		DaysOverdue:  rec.DaysOverdue,
		InsuranceFee: rec.InsuranceFee,
	}
	if err := t.notifier.NotifyOverdue(ctx, notice); err != nil {
		return fmt.Errorf("send overdue notice: %w", err)
	}

	now := t.now()
	err := t.store.InTx(ctx, func(tx store.Tx) error {
		cur, err := tx.GetLicenseForUpdate(ctx, l.ID)
		if err != nil {
			return err
		}
		cur.OverdueNotifiedAt = &now
		return tx.UpdateLicense(ctx, cur)
	})
	if err != nil {
		return fmt.Errorf("stamp overdue notice: %w", err)
	}
	l.OverdueNotifiedAt = &now

	productID, ownerID := l.ProductID, l.OwnerID
	t.events.Publish(models.NewLedgerEvent(models.EventInsuranceOverdue, &productID, &ownerID, map[string]any{
		"license_id":   l.ID,
		"days_overdue": rec.DaysOverdue,
	}))
	t.logger.Info().
		Str("license_id", l.ID.String()).
		Int("days_overdue", rec.DaysOverdue).
		Msg("overdue notice sent")
	return nil
}

// SweepResult counts what a sweep saw and did.
type SweepResult struct {
	Active   int `json:"active"`
	Expired  int `json:"expired"`
	Resold   int `json:"resold"`
	Overdue  int `json:"overdue"`
	Notified int `json:"notified"`
}

// Sweep recomputes the insurance gauges. When notify is set, owners of
// overdue licenses not notified within the last day are sent a notice.
func (t *Tracker) Sweep(ctx context.Context, notify bool) (*SweepResult, error) {
	records, err := t.scan(ctx, store.InsuredFilter{})
	if err != nil {
		return nil, err
	}

	res := &SweepResult{}
	now := t.now()
	for _, rec := range records {
		switch rec.Status {
		case models.InsuranceActive:
			res.Active++
		case models.InsuranceExpired:
			res.Expired++
		case models.InsuranceResold:
			res.Resold++
		}
		if !rec.IsOverdue {
			continue
		}
		res.Overdue++
		if !notify {
			continue
		}
		if last := rec.License.OverdueNotifiedAt; last != nil && now.Sub(*last) < day {
			continue
		}
		if err := t.notify(ctx, rec); err != nil {
			t.logger.Warn().Err(err).Str("license_id", rec.License.ID.String()).Msg("overdue notice failed")
			continue
		}
		res.Notified++
	}

	t.metrics.SetInsuranceCounts(map[string]int{
		string(models.InsuranceActive):  res.Active,
		string(models.InsuranceExpired): res.Expired,
		string(models.InsuranceResold):  res.Resold,
		"overdue":                       res.Overdue,
	})
	return res, nil
}
