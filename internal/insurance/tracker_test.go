package insurance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MacJediWizard/roundledger/internal/ledger"
	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/MacJediWizard/roundledger/internal/notifications"
	"github.com/MacJediWizard/roundledger/internal/rounds"
	"github.com/MacJediWizard/roundledger/internal/store/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notifications.OverdueNotice
	err     error
}

func (n *recordingNotifier) NotifyOverdue(_ context.Context, notice notifications.OverdueNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notices = append(n.notices, notice)
	return nil
}

type fixture struct {
	now      time.Time
	engine   *rounds.Engine
	ledger   *ledger.Ledger
	tracker  *Tracker
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	f := &fixture{
		now:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		notifier: &recordingNotifier{},
	}
	clock := func() time.Time { return f.now }
	f.engine = rounds.NewEngine(st, nil, nil, zerolog.Nop())
	f.engine.SetClock(clock)
	f.ledger = ledger.NewLedger(st, f.engine, ledger.DefaultConfig(), nil, nil, zerolog.Nop())
	f.ledger.SetClock(clock)
	f.tracker = NewTracker(st, f.notifier, nil, nil, zerolog.Nop())
	f.tracker.SetClock(clock)
	return f
}

func (f *fixture) product(t *testing.T, total int) *models.Product {
	t.Helper()
	p, err := f.engine.ApproveProduct(context.Background(), models.ApproveProductRequest{
		CreatorID:     uuid.New(),
		Name:          "Drum Kit",
		TotalLicenses: total,
		RoundPricing: models.RoundPricing{
			Newboom:   decimal.NewFromInt(40),
			Blossom:   decimal.NewFromInt(60),
			Evergreen: decimal.NewFromInt(80),
			Exit:      decimal.NewFromInt(100),
		},
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) buyInsured(t *testing.T, productID, owner uuid.UUID) *models.License {
	t.Helper()
	res, err := f.ledger.PurchaseLicense(context.Background(), productID, owner, models.PurchaseTypeResaleWithInsurance)
	require.NoError(t, err)
	return res.License
}

func TestDeriveStatus(t *testing.T) {
	deadline := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)
	fee := decimal.RequireFromString("4.00")
	before := deadline.Add(-time.Hour)
	after := deadline.Add(time.Hour)

	tests := []struct {
		name        string
		listedAt    *time.Time
		now         time.Time
		wantStatus  models.InsuranceStatus
		wantOverdue bool
		wantDays    int
	}{
		{"before deadline", nil, deadline.Add(-24 * time.Hour), models.InsuranceActive, false, 0},
		{"at deadline", nil, deadline, models.InsuranceExpired, false, 0},
		{"hours after", nil, deadline.Add(5 * time.Hour), models.InsuranceExpired, true, 0},
		{"one day after", nil, deadline.Add(25 * time.Hour), models.InsuranceExpired, true, 1},
		{"ten days after", nil, deadline.Add(10 * 24 * time.Hour), models.InsuranceExpired, true, 10},
		{"listed in time", &before, deadline.Add(48 * time.Hour), models.InsuranceResold, false, 0},
		{"listed late", &after, deadline.Add(48 * time.Hour), models.InsuranceExpired, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &models.License{
				PurchaseType:      models.PurchaseTypeResaleWithInsurance,
				InsuranceDeadline: &deadline,
				InsuranceFee:      &fee,
				IsListedForResale: tt.listedAt != nil,
				ListedAt:          tt.listedAt,
			}
			rec := DeriveStatus(l, tt.now)
			assert.Equal(t, tt.wantStatus, rec.Status)
			assert.Equal(t, tt.wantOverdue, rec.IsOverdue)
			assert.Equal(t, tt.wantDays, rec.DaysOverdue)
			assert.True(t, rec.InsuranceFee.Equal(fee))
		})
	}
}

func TestListRecords_DayEightIsOverdue(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, 10)
	lic := f.buyInsured(t, p.ID, uuid.New())

	f.now = f.now.Add(8 * 24 * time.Hour)
	res, err := f.tracker.ListRecords(context.Background(), Query{Status: models.InsuranceFilterExpired})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.Equal(t, lic.ID, rec.License.ID)
	assert.Equal(t, models.InsuranceExpired, rec.Status)
	assert.True(t, rec.IsOverdue)
	assert.Equal(t, 1, rec.DaysOverdue)

	assert.Equal(t, 1, res.Summary.Total)
	assert.Equal(t, 1, res.Summary.Expired)
	assert.Equal(t, 1, res.Summary.Overdue)
	assert.True(t, res.Summary.TotalInsuranceFees.Equal(decimal.RequireFromString("4")))
}

func TestListRecords_SummaryCoversAllPages(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, 10)
	owner := uuid.New()

	for i := 0; i < 5; i++ {
		f.buyInsured(t, p.ID, owner)
	}
	f.now = f.now.Add(3 * 24 * time.Hour)
	for i := 0; i < 2; i++ {
		f.buyInsured(t, p.ID, owner)
	}
	// The first five are expired, the last two still active.
	f.now = f.now.Add(5 * 24 * time.Hour)

	ctx := context.Background()
	res, err := f.tracker.ListRecords(ctx, Query{Status: models.InsuranceFilterAll, Page: models.NewPage(1, 2)})
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, 7, res.Summary.Total)
	assert.Equal(t, 5, res.Summary.Expired)
	assert.Equal(t, 5, res.Summary.Overdue)
	assert.True(t, res.Summary.TotalInsuranceFees.Equal(decimal.RequireFromString("28")))
	assert.Equal(t, models.Pagination{Page: 1, Limit: 2, Total: 7, TotalPages: 4}, res.Pagination)

	active, err := f.tracker.ListRecords(ctx, Query{Status: models.InsuranceFilterActive})
	require.NoError(t, err)
	assert.Equal(t, 2, active.Summary.Total)
	assert.Equal(t, 0, active.Summary.Expired)

	other := uuid.New()
	none, err := f.tracker.ListRecords(ctx, Query{OwnerID: &other})
	require.NoError(t, err)
	assert.Empty(t, none.Records)
	assert.Equal(t, 0, none.Summary.Total)

	_, err = f.tracker.ListRecords(ctx, Query{Status: "overdue"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestListRecords_ResoldExcludedUnlessRequested(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, 1)
	owner := uuid.New()
	ctx := context.Background()

	lic := f.buyInsured(t, p.ID, owner)
	// Round 1 sold out with that purchase, so resale can be enabled.
	_, err := f.ledger.EnableResale(ctx, lic.ID, owner)
	require.NoError(t, err)
	_, err = f.ledger.ListForResale(ctx, lic.ID, owner)
	require.NoError(t, err)

	f.now = f.now.Add(30 * 24 * time.Hour)

	res, err := f.tracker.ListRecords(ctx, Query{Status: models.InsuranceFilterExpired})
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, 0, res.Summary.Expired)

	res, err = f.tracker.ListRecords(ctx, Query{Status: models.InsuranceFilterExpired, IncludeResold: true})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, models.InsuranceResold, res.Records[0].Status)
	assert.Equal(t, 0, res.Summary.Expired)
	assert.Equal(t, 1, res.Summary.Total)
}

func TestTriggerResale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("not overdue", func(t *testing.T) {
		p := f.product(t, 1)
		lic := f.buyInsured(t, p.ID, uuid.New())
		_, err := f.tracker.TriggerResale(ctx, lic.ID)
		assert.ErrorIs(t, err, models.ErrNotEligible)
	})

	t.Run("round still open", func(t *testing.T) {
		p := f.product(t, 5)
		lic := f.buyInsured(t, p.ID, uuid.New())
		f.now = f.now.Add(10 * 24 * time.Hour)
		_, err := f.tracker.TriggerResale(ctx, lic.ID)
		assert.ErrorIs(t, err, models.ErrNotEligible)
	})

	t.Run("lists overdue license", func(t *testing.T) {
		p := f.product(t, 1)
		lic := f.buyInsured(t, p.ID, uuid.New())
		f.now = f.now.Add(9 * 24 * time.Hour)

		rec, err := f.tracker.TriggerResale(ctx, lic.ID)
		require.NoError(t, err)
		assert.True(t, rec.License.IsListedForResale)
		assert.True(t, rec.License.IsEnabledByUserForResale)
		assert.Equal(t, *lic.InsuranceDeadline, *rec.License.InsuranceDeadline, "deadline must not move")
	})

	t.Run("uninsured license", func(t *testing.T) {
		p := f.product(t, 2)
		res, err := f.ledger.PurchaseLicense(ctx, p.ID, uuid.New(), models.PurchaseTypeResale)
		require.NoError(t, err)
		_, err = f.tracker.TriggerResale(ctx, res.License.ID)
		assert.ErrorIs(t, err, models.ErrNotEligible)
	})
}

func TestNotifyOwner(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, 3)
	owner := uuid.New()
	lic := f.buyInsured(t, p.ID, owner)
	ctx := context.Background()

	_, err := f.tracker.NotifyOwner(ctx, lic.ID)
	assert.ErrorIs(t, err, models.ErrNotEligible)

	f.now = f.now.Add(9*24*time.Hour + time.Minute)
	rec, err := f.tracker.NotifyOwner(ctx, lic.ID)
	require.NoError(t, err)
	require.NotNil(t, rec.License.OverdueNotifiedAt)
	require.Len(t, f.notifier.notices, 1)
	assert.Equal(t, owner, f.notifier.notices[0].OwnerID)
	assert.Equal(t, 2, f.notifier.notices[0].DaysOverdue)

	f.notifier.err = errors.New("endpoint down")
	_, err = f.tracker.NotifyOwner(ctx, lic.ID)
	assert.Error(t, err)
}

func TestSweep_NotifiesOncePerDay(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, 10)
	ctx := context.Background()

	f.buyInsured(t, p.ID, uuid.New())
	f.buyInsured(t, p.ID, uuid.New())
	f.now = f.now.Add(8 * 24 * time.Hour)
	f.buyInsured(t, p.ID, uuid.New())

	res, err := f.tracker.Sweep(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, &SweepResult{Active: 1, Expired: 2, Overdue: 2}, res)
	assert.Empty(t, f.notifier.notices)

	res, err = f.tracker.Sweep(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Notified)

	f.now = f.now.Add(time.Hour)
	res, err = f.tracker.Sweep(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Notified, "owners notified within the last day are skipped")

	f.now = f.now.Add(24 * time.Hour)
	res, err = f.tracker.Sweep(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Notified)
	assert.Len(t, f.notifier.notices, 4)
}

func TestSweeper_StartStop(t *testing.T) {
	f := newFixture(t)
	s := NewSweeper(f.tracker, "@hourly", false, zerolog.Nop())

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "second start must fail")
	<-s.Stop().Done()
	<-s.Stop().Done()

	bad := NewSweeper(f.tracker, "not a schedule", false, zerolog.Nop())
	assert.Error(t, bad.Start())

	s.RunNow()
}
