package payout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/MacJediWizard/roundledger/internal/store"
	"github.com/MacJediWizard/roundledger/internal/store/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	return NewService(st, Config{Minimum: dec("1.00")}, nil, nil, zerolog.Nop()), st
}

// seedUser gives a user a verified bank method and an available balance.
func seedUser(t *testing.T, svc *Service, st *memory.Store, available string) (uuid.UUID, *models.PayoutMethod) {
	t.Helper()
	ctx := context.Background()
	userID := uuid.New()

	m, err := svc.AddPayoutMethod(ctx, userID, models.AddPayoutMethodRequest{
		PaymentMethod:  models.PaymentMethodBank,
		AccountDetails: map[string]string{"iban": "DE89370400440532013000"},
	})
	require.NoError(t, err)
	m, err = svc.VerifyPayoutMethod(ctx, m.ID)
	require.NoError(t, err)

	if available != "" {
		require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
			return Credit(ctx, tx, userID, dec(available), models.EarningsSale, nil, time.Now().UTC())
		}))
	}
	return userID, m
}

func balances(t *testing.T, svc *Service, userID uuid.UUID) *models.UserEarnings {
	t.Helper()
	info, err := svc.GetPayoutInfo(context.Background(), userID)
	require.NoError(t, err)
	return info.Earnings
}

func TestRequestPayout_InsufficientFunds(t *testing.T) {
	svc, st := newService(t)
	userID, m := seedUser(t, svc, st, "100.00")

	_, err := svc.RequestPayout(context.Background(), userID, models.RequestPayoutRequest{
		Amount:       dec("150.00"),
		PayoutInfoID: m.ID,
	})
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	bal := balances(t, svc, userID)
	assert.True(t, bal.Available.Equal(dec("100.00")), "available changed: %s", bal.Available)
	assert.True(t, bal.Reserved.IsZero(), "reserved changed: %s", bal.Reserved)

	res, err := svc.ListPayouts(context.Background(), userID, models.NewPage(1, 20))
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestRequestPayout_Validation(t *testing.T) {
	svc, st := newService(t)
	userID, m := seedUser(t, svc, st, "100.00")
	ctx := context.Background()

	tests := []struct {
		name   string
		userID uuid.UUID
		req    models.RequestPayoutRequest
		want   error
	}{
		{"zero amount", userID, models.RequestPayoutRequest{Amount: decimal.Zero, PayoutInfoID: m.ID}, models.ErrInvalidInput},
		{"negative amount", userID, models.RequestPayoutRequest{Amount: dec("-5"), PayoutInfoID: m.ID}, models.ErrInvalidInput},
		{"below minimum", userID, models.RequestPayoutRequest{Amount: dec("0.50"), PayoutInfoID: m.ID}, models.ErrInvalidInput},
		{"sub-cent", userID, models.RequestPayoutRequest{Amount: dec("10.001"), PayoutInfoID: m.ID}, models.ErrInvalidInput},
		{"unknown method", userID, models.RequestPayoutRequest{Amount: dec("10"), PayoutInfoID: uuid.New()}, models.ErrNoVerifiedMethod},
		{"foreign method", uuid.New(), models.RequestPayoutRequest{Amount: dec("10"), PayoutInfoID: m.ID}, models.ErrNoVerifiedMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RequestPayout(ctx, tt.userID, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRequestPayout_UnverifiedMethod(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	userID := uuid.New()

	m, err := svc.AddPayoutMethod(ctx, userID, models.AddPayoutMethodRequest{
		PaymentMethod:  models.PaymentMethodPayPal,
		AccountDetails: map[string]string{"email": "creator@example.com"},
	})
	require.NoError(t, err)
	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
		return Credit(ctx, tx, userID, dec("50"), models.EarningsSale, nil, time.Now().UTC())
	}))

	_, err = svc.RequestPayout(ctx, userID, models.RequestPayoutRequest{Amount: dec("10"), PayoutInfoID: m.ID})
	assert.ErrorIs(t, err, models.ErrNoVerifiedMethod)

	_, err = svc.VerifyPayoutMethod(ctx, m.ID)
	require.NoError(t, err)
	_, err = svc.DeactivatePayoutMethod(ctx, userID, m.ID)
	require.NoError(t, err)

	_, err = svc.RequestPayout(ctx, userID, models.RequestPayoutRequest{Amount: dec("10"), PayoutInfoID: m.ID})
	assert.ErrorIs(t, err, models.ErrNoVerifiedMethod)
}

func TestRequestThenFail_RestoresBalance(t *testing.T) {
	svc, st := newService(t)
	userID, m := seedUser(t, svc, st, "100.00")
	ctx := context.Background()

	p, err := svc.RequestPayout(ctx, userID, models.RequestPayoutRequest{Amount: dec("40.00"), PayoutInfoID: m.ID})
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusPending, p.Status)

	bal := balances(t, svc, userID)
	assert.True(t, bal.Available.Equal(dec("60")))
	assert.True(t, bal.Reserved.Equal(dec("40")))

	failed, err := svc.FailPayout(ctx, p.ID, "bank rejected")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusFailed, failed.Status)
	assert.Equal(t, "bank rejected", failed.FailureReason)

	bal = balances(t, svc, userID)
	assert.True(t, bal.Available.Equal(dec("100")), "available: %s", bal.Available)
	assert.True(t, bal.Reserved.IsZero(), "reserved: %s", bal.Reserved)
	assert.True(t, bal.Withdrawn.IsZero(), "withdrawn: %s", bal.Withdrawn)

	// Failing again is a no-op.
	again, err := svc.FailPayout(ctx, p.ID, "duplicate")
	require.NoError(t, err)
	assert.Equal(t, "bank rejected", again.FailureReason)
	bal = balances(t, svc, userID)
	assert.True(t, bal.Available.Equal(dec("100")))

	_, err = svc.CompletePayout(ctx, p.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCompletePayout(t *testing.T) {
	svc, st := newService(t)
	userID, m := seedUser(t, svc, st, "100.00")
	ctx := context.Background()

	p, err := svc.RequestPayout(ctx, userID, models.RequestPayoutRequest{Amount: dec("25.50"), PayoutInfoID: m.ID})
	require.NoError(t, err)

	p, err = svc.MarkProcessing(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusProcessing, p.Status)
	assert.NotNil(t, p.ProcessedAt)

	p, err = svc.CompletePayout(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusCompleted, p.Status)

	bal := balances(t, svc, userID)
	assert.True(t, bal.Available.Equal(dec("74.50")))
	assert.True(t, bal.Reserved.IsZero())
	assert.True(t, bal.Withdrawn.Equal(dec("25.50")))

	_, err = svc.CompletePayout(ctx, p.ID)
	require.NoError(t, err)
	bal = balances(t, svc, userID)
	assert.True(t, bal.Withdrawn.Equal(dec("25.50")), "double complete moved funds")

	_, err = svc.FailPayout(ctx, p.ID, "late")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = svc.MarkProcessing(ctx, p.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestConcurrentRequests_NeverOverdraw(t *testing.T) {
	svc, st := newService(t)
	userID, m := seedUser(t, svc, st, "100.00")
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RequestPayout(ctx, userID, models.RequestPayoutRequest{Amount: dec("30"), PayoutInfoID: m.ID})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, models.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	bal := balances(t, svc, userID)
	assert.True(t, bal.Available.Equal(dec("10")))
	assert.True(t, bal.Reserved.Equal(dec("90")))
}

func TestAddPayoutMethod_BankLimit(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	userID := uuid.New()
	bank := models.AddPayoutMethodRequest{
		PaymentMethod:  models.PaymentMethodBank,
		AccountDetails: map[string]string{"iban": "GB33BUKB20201555555555"},
	}

	first, err := svc.AddPayoutMethod(ctx, userID, bank)
	require.NoError(t, err)

	_, err = svc.AddPayoutMethod(ctx, userID, bank)
	assert.ErrorIs(t, err, models.ErrLimitExceeded)

	_, err = svc.AddPayoutMethod(ctx, userID, models.AddPayoutMethodRequest{
		PaymentMethod:  models.PaymentMethodPayPal,
		AccountDetails: map[string]string{"email": "a@example.com"},
	})
	assert.NoError(t, err, "paypal is not limited")

	_, err = svc.DeactivatePayoutMethod(ctx, userID, first.ID)
	require.NoError(t, err)
	_, err = svc.AddPayoutMethod(ctx, userID, bank)
	assert.NoError(t, err, "bank allowed after deactivation")

	_, err = svc.AddPayoutMethod(ctx, userID, models.AddPayoutMethodRequest{PaymentMethod: "cheque", AccountDetails: map[string]string{"a": "b"}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestGetPayoutInfo_Summary(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	userID := uuid.New()

	info, err := svc.GetPayoutInfo(ctx, userID)
	require.NoError(t, err)
	assert.False(t, info.Summary.HasActivePayoutMethod)
	assert.False(t, info.Summary.HasVerifiedPayoutMethod)
	assert.True(t, info.Earnings.Available.IsZero())

	m, err := svc.AddPayoutMethod(ctx, userID, models.AddPayoutMethodRequest{
		PaymentMethod:  models.PaymentMethodPayPal,
		AccountDetails: map[string]string{"email": "a@example.com"},
	})
	require.NoError(t, err)

	info, err = svc.GetPayoutInfo(ctx, userID)
	require.NoError(t, err)
	assert.True(t, info.Summary.HasActivePayoutMethod)
	assert.False(t, info.Summary.HasVerifiedPayoutMethod)

	_, err = svc.VerifyPayoutMethod(ctx, m.ID)
	require.NoError(t, err)
	info, err = svc.GetPayoutInfo(ctx, userID)
	require.NoError(t, err)
	assert.True(t, info.Summary.HasVerifiedPayoutMethod)
	assert.Len(t, info.Methods, 1)
}

func TestCreditEarnings(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	userID := uuid.New()

	bal, err := svc.CreditEarnings(ctx, models.CreditEarningsRequest{UserID: userID, Amount: dec("12.34"), Kind: models.EarningsRoyalty})
	require.NoError(t, err)
	assert.True(t, bal.Available.Equal(dec("12.34")))

	_, err = svc.CreditEarnings(ctx, models.CreditEarningsRequest{UserID: userID, Amount: dec("1"), Kind: models.EarningsSale})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = svc.CreditEarnings(ctx, models.CreditEarningsRequest{UserID: userID, Amount: dec("-1"), Kind: models.EarningsAdjustment})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestCreditEarnings_StampsServiceClock(t *testing.T) {
	svc, _ := newService(t)
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return at })

	bal, err := svc.CreditEarnings(context.Background(), models.CreditEarningsRequest{
		UserID: uuid.New(),
		Amount: dec("5.00"),
		Kind:   models.EarningsAdjustment,
	})
	require.NoError(t, err)
	assert.True(t, bal.UpdatedAt.Equal(at), "updated_at = %v", bal.UpdatedAt)
}

func TestRequestPayout_RollsBackOnStoreFailure(t *testing.T) {
	svc, st := newService(t)
	userID, m := seedUser(t, svc, st, "100.00")
	ctx := context.Background()

	boom := errors.New("disk on fire")
	st.InjectFault("CreatePayout", boom)

	_, err := svc.RequestPayout(ctx, userID, models.RequestPayoutRequest{Amount: dec("40"), PayoutInfoID: m.ID})
	require.ErrorIs(t, err, boom)

	bal := balances(t, svc, userID)
	assert.True(t, bal.Available.Equal(dec("100")), "reservation leaked: %s", bal.Available)
	assert.True(t, bal.Reserved.IsZero())
}
