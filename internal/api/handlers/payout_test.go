package handlers

import (
	"net/http"
	"testing"

	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func (e *testEnv) verifiedMethod(t *testing.T, userID uuid.UUID) *models.PayoutMethod {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/payout/methods", map[string]any{
		"payment_method":  "paypal",
		"account_details": map[string]string{"email": "artist@example.com"},
	}, userID, "")
	expectStatus(t, w, http.StatusCreated)
	m := decode[*models.PayoutMethod](t, w)

	w = e.asAdmin(t, http.MethodPost, "/api/v1/admin/payout/methods/"+m.ID.String()+"/verify", nil)
	expectStatus(t, w, http.StatusOK)
	return decode[*models.PayoutMethod](t, w)
}

func TestPayout_RequestAndSettle(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()
	env.credit(t, user, "100")
	m := env.verifiedMethod(t, user)

	w := env.do(t, http.MethodPost, "/api/v1/payout/request",
		map[string]any{"amount": "150", "payout_info_id": m.ID}, user, "")
	expectCode(t, w, http.StatusConflict, "InsufficientFunds")

	w = env.do(t, http.MethodPost, "/api/v1/payout/request",
		map[string]any{"amount": "40.50", "payout_info_id": m.ID}, user, "")
	expectStatus(t, w, http.StatusCreated)
	p := decode[models.Payout](t, w)
	if p.Status != models.PayoutStatusPending {
		t.Fatalf("expected pending payout, got %s", p.Status)
	}

	w = env.do(t, http.MethodGet, "/api/v1/payout/info", nil, user, "")
	expectStatus(t, w, http.StatusOK)
	info := decode[models.PayoutInfo](t, w)
	if !info.Earnings.Available.Equal(decimal.RequireFromString("59.50")) ||
		!info.Earnings.Reserved.Equal(decimal.RequireFromString("40.50")) {
		t.Fatalf("unexpected balances: available %s reserved %s", info.Earnings.Available, info.Earnings.Reserved)
	}
	if !info.Summary.HasVerifiedPayoutMethod {
		t.Fatal("expected verified method in summary")
	}

	path := "/api/v1/admin/payouts/" + p.ID.String()
	expectStatus(t, env.asAdmin(t, http.MethodPost, path+"/processing", nil), http.StatusOK)

	w = env.asAdmin(t, http.MethodPost, path+"/fail", map[string]any{"reason": "bank rejected"})
	expectStatus(t, w, http.StatusOK)
	if got := decode[models.Payout](t, w); got.Status != models.PayoutStatusFailed || got.FailureReason != "bank rejected" {
		t.Fatalf("expected failed payout with reason, got %+v", got)
	}

	w = env.asAdmin(t, http.MethodPost, path+"/complete", nil)
	expectCode(t, w, http.StatusUnprocessableEntity, "InvalidTransition")

	w = env.do(t, http.MethodGet, "/api/v1/payout/info", nil, user, "")
	info = decode[models.PayoutInfo](t, w)
	if !info.Earnings.Available.Equal(decimal.RequireFromString("100")) || !info.Earnings.Reserved.IsZero() {
		t.Fatalf("expected balance restored, got available %s reserved %s", info.Earnings.Available, info.Earnings.Reserved)
	}

	w = env.do(t, http.MethodGet, "/api/v1/payout/history?limit=5", nil, user, "")
	expectStatus(t, w, http.StatusOK)
	if res := decode[models.PageResult[models.Payout]](t, w); res.Pagination.Total != 1 || res.Pagination.Limit != 5 {
		t.Fatalf("unexpected history pagination %+v", res.Pagination)
	}
}

func TestPayout_MethodRules(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()
	bank := map[string]any{
		"payment_method":  "bank",
		"account_details": map[string]string{"iban": "DE89370400440532013000"},
	}

	w := env.do(t, http.MethodPost, "/api/v1/payout/methods", bank, user, "")
	expectStatus(t, w, http.StatusCreated)
	first := decode[models.PayoutMethod](t, w)

	w = env.do(t, http.MethodPost, "/api/v1/payout/methods", bank, user, "")
	expectCode(t, w, http.StatusConflict, "LimitExceeded")

	w = env.do(t, http.MethodPost, "/api/v1/payout/methods",
		map[string]any{"payment_method": "cheque", "account_details": map[string]string{"a": "b"}}, user, "")
	expectStatus(t, w, http.StatusBadRequest)

	w = env.do(t, http.MethodDelete, "/api/v1/payout/methods/"+first.ID.String(), nil, uuid.New(), "")
	expectCode(t, w, http.StatusNotFound, "NotFound")

	w = env.do(t, http.MethodDelete, "/api/v1/payout/methods/"+first.ID.String(), nil, user, "")
	expectStatus(t, w, http.StatusOK)

	w = env.do(t, http.MethodPost, "/api/v1/payout/methods", bank, user, "")
	expectStatus(t, w, http.StatusCreated)

	env.credit(t, user, "10")
	w = env.do(t, http.MethodPost, "/api/v1/payout/request",
		map[string]any{"amount": "5", "payout_info_id": first.ID}, user, "")
	expectCode(t, w, http.StatusUnprocessableEntity, "NoVerifiedMethod")
}

func TestPayout_AdminCredit(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()

	w := env.asAdmin(t, http.MethodPost, "/api/v1/admin/earnings/credit", map[string]any{
		"user_id": user, "amount": "25.00", "kind": "adjustment",
	})
	expectStatus(t, w, http.StatusOK)
	if e := decode[models.UserEarnings](t, w); !e.Available.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("expected 25 available, got %s", e.Available)
	}

	w = env.asAdmin(t, http.MethodPost, "/api/v1/admin/earnings/credit", map[string]any{
		"user_id": user, "amount": "-5", "kind": "adjustment",
	})
	expectCode(t, w, http.StatusBadRequest, "InvalidInput")

	w = env.do(t, http.MethodPost, "/api/v1/admin/earnings/credit", map[string]any{
		"user_id": user, "amount": "25.00", "kind": "adjustment",
	}, user, "")
	expectStatus(t, w, http.StatusForbidden)
}
