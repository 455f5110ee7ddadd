package memory

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func cloneMethod(m models.PayoutMethod) *models.PayoutMethod {
	m.AccountDetails = maps.Clone(m.AccountDetails)
	return &m
}

func (t *tx) CreatePayoutMethod(_ context.Context, m *models.PayoutMethod) error {
	if err := t.write("CreatePayoutMethod"); err != nil {
		return err
	}
	if m.IsActive && m.PaymentMethod == models.PaymentMethodBank {
		for _, existing := range t.st.methods {
			if existing.UserID == m.UserID && existing.IsActive && existing.PaymentMethod == models.PaymentMethodBank {
				return models.ErrLimitExceeded
			}
		}
	}
	t.st.methods[m.ID] = *cloneMethod(*m)
	t.st.methodOrder = append(t.st.methodOrder, m.ID)
	return nil
}

func (t *tx) GetPayoutMethod(_ context.Context, id uuid.UUID) (*models.PayoutMethod, error) {
	m, ok := t.st.methods[id]
	if !ok {
		return nil, notFound("payout method", id)
	}
	return cloneMethod(m), nil
}

func (t *tx) UpdatePayoutMethod(_ context.Context, m *models.PayoutMethod) error {
	if err := t.write("UpdatePayoutMethod"); err != nil {
		return err
	}
	if _, ok := t.st.methods[m.ID]; !ok {
		return notFound("payout method", m.ID)
	}
	t.st.methods[m.ID] = *cloneMethod(*m)
	return nil
}

func (t *tx) ListPayoutMethodsByUser(_ context.Context, userID uuid.UUID) ([]*models.PayoutMethod, error) {
	var out []*models.PayoutMethod
	for _, id := range t.st.methodOrder {
		m := t.st.methods[id]
		if m.UserID == userID {
			out = append(out, cloneMethod(m))
		}
	}
	return out, nil
}

func (t *tx) GetEarningsForUpdate(_ context.Context, userID uuid.UUID) (*models.UserEarnings, error) {
	e, ok := t.st.earnings[userID]
	if !ok {
		if err := t.write("GetEarningsForUpdate"); err != nil {
			return nil, err
		}
		e = models.UserEarnings{
			UserID:    userID,
			Available: decimal.Zero,
			Reserved:  decimal.Zero,
			Withdrawn: decimal.Zero,
			UpdatedAt: time.Now().UTC(),
		}
		t.st.earnings[userID] = e
	}
	return &e, nil
}

func (t *tx) GetEarnings(_ context.Context, userID uuid.UUID) (*models.UserEarnings, error) {
	e, ok := t.st.earnings[userID]
	if !ok {
		return &models.UserEarnings{UserID: userID}, nil
	}
	return &e, nil
}

func (t *tx) UpdateEarnings(_ context.Context, e *models.UserEarnings) error {
	if err := t.write("UpdateEarnings"); err != nil {
		return err
	}
	t.st.earnings[e.UserID] = *e
	return nil
}

func (t *tx) CreateEarningsEntry(_ context.Context, e *models.EarningsEntry) error {
	if err := t.write("CreateEarningsEntry"); err != nil {
		return err
	}
	t.st.entries = append(t.st.entries, *e)
	return nil
}

func (t *tx) CreatePayout(_ context.Context, p *models.Payout) error {
	if err := t.write("CreatePayout"); err != nil {
		return err
	}
	t.st.payouts[p.ID] = *p
	t.st.payoutOrder = append(t.st.payoutOrder, p.ID)
	return nil
}

func (t *tx) GetPayout(_ context.Context, id uuid.UUID) (*models.Payout, error) {
	p, ok := t.st.payouts[id]
	if !ok {
		return nil, notFound("payout", id)
	}
	return &p, nil
}

func (t *tx) GetPayoutForUpdate(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	return t.GetPayout(ctx, id)
}

func (t *tx) UpdatePayout(_ context.Context, p *models.Payout) error {
	if err := t.write("UpdatePayout"); err != nil {
		return err
	}
	if _, ok := t.st.payouts[p.ID]; !ok {
		return notFound("payout", p.ID)
	}
	t.st.payouts[p.ID] = *p
	return nil
}

func (t *tx) ListPayoutsByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*models.Payout, int, error) {
	var all []*models.Payout
	for _, id := range slices.Backward(t.st.payoutOrder) {
		p := t.st.payouts[id]
		if p.UserID == userID {
			all = append(all, &p)
		}
	}
	return page(all, limit, offset), len(all), nil
}
