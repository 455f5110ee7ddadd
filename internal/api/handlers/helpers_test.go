package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MacJediWizard/roundledger/internal/api/middleware"
	"github.com/MacJediWizard/roundledger/internal/insurance"
	"github.com/MacJediWizard/roundledger/internal/ledger"
	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/MacJediWizard/roundledger/internal/notifications"
	"github.com/MacJediWizard/roundledger/internal/payout"
	"github.com/MacJediWizard/roundledger/internal/rounds"
	"github.com/MacJediWizard/roundledger/internal/royalty"
	"github.com/MacJediWizard/roundledger/internal/store/memory"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type testEnv struct {
	store   *memory.Store
	engine  *rounds.Engine
	ledger  *ledger.Ledger
	tracker *insurance.Tracker
	royalty *royalty.Processor
	payouts *payout.Service
	router  *gin.Engine
	admin   uuid.UUID
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zerolog.Nop()

	e := &testEnv{
		store: memory.New(),
		admin: uuid.New(),
		now:   time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return e.now }

	e.engine = rounds.NewEngine(e.store, nil, nil, logger)
	e.engine.SetClock(clock)
	e.ledger = ledger.NewLedger(e.store, e.engine, ledger.DefaultConfig(), nil, nil, logger)
	e.ledger.SetClock(clock)
	e.tracker = insurance.NewTracker(e.store, notifications.NewLogNotifier(logger), nil, nil, logger)
	e.tracker.SetClock(clock)
	e.royalty = royalty.NewProcessor(e.store, nil, nil, logger)
	e.royalty.SetClock(clock)
	e.payouts = payout.NewService(e.store, payout.Config{Minimum: decimal.Zero}, nil, nil, logger)
	e.payouts.SetClock(clock)

	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(middleware.IdentityMiddleware(logger))
	admin := api.Group("/admin")
	admin.Use(middleware.RequireAdmin())

	products := NewProductsHandler(e.engine, e.ledger, logger)
	products.RegisterRoutes(api)
	products.RegisterAdminRoutes(admin)
	NewLicensesHandler(e.ledger, logger).RegisterRoutes(api)
	ins := NewInsuranceHandler(e.tracker, logger)
	ins.RegisterRoutes(api)
	ins.RegisterAdminRoutes(admin)
	roy := NewRoyaltyHandler(e.royalty, logger)
	roy.RegisterRoutes(api)
	roy.RegisterAdminRoutes(admin)
	pay := NewPayoutHandler(e.payouts, logger)
	pay.RegisterRoutes(api)
	pay.RegisterAdminRoutes(admin)

	e.router = r
	return e
}

func (e *testEnv) do(t *testing.T, method, path string, body any, user uuid.UUID, role string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, path, &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != uuid.Nil {
		req.Header.Set(middleware.UserIDHeader, user.String())
	}
	if role != "" {
		req.Header.Set(middleware.UserRoleHeader, role)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) asAdmin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, e.admin, middleware.RoleAdmin)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
}

func expectCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, w, status)
	resp := decode[ErrorResponse](t, w)
	if resp.Code != code {
		t.Fatalf("expected code %q, got %q (%s)", code, resp.Code, resp.Error)
	}
}

func approveBody(total int) map[string]any {
	return map[string]any{
		"creator_id":     uuid.New(),
		"name":           "Drum Kit",
		"total_licenses": total,
		"round_pricing": map[string]string{
			"newboom":   "50",
			"blossom":   "75",
			"evergreen": "100",
			"exit":      "150",
		},
	}
}

// approve creates a product through the admin API.
func (e *testEnv) approve(t *testing.T, total int) *models.ProductView {
	t.Helper()
	w := e.asAdmin(t, http.MethodPost, "/api/v1/admin/products", approveBody(total))
	expectStatus(t, w, http.StatusCreated)
	return decode[*models.ProductView](t, w)
}

func (e *testEnv) purchase(t *testing.T, productID, buyer uuid.UUID, pt models.PurchaseType) *ledger.PurchaseResult {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/products/"+productID.String()+"/purchase",
		map[string]any{"purchase_type": pt}, buyer, "")
	expectStatus(t, w, http.StatusCreated)
	return decode[*ledger.PurchaseResult](t, w)
}

// exitLicense drives a product with one license per round into its closed
// exit round and returns the exit-round license.
func (e *testEnv) exitLicense(t *testing.T, owner uuid.UUID) *models.License {
	t.Helper()
	p := e.approve(t, 1)
	for i := 0; i < 3; i++ {
		e.purchase(t, p.ID, uuid.New(), models.PurchaseTypeUse)
	}
	return e.purchase(t, p.ID, owner, models.PurchaseTypeUse).License
}

func (e *testEnv) credit(t *testing.T, userID uuid.UUID, amount string) {
	t.Helper()
	if _, err := e.payouts.CreditEarnings(context.Background(), models.CreditEarningsRequest{
		UserID: userID,
		Amount: decimal.RequireFromString(amount),
		Kind:   models.EarningsAdjustment,
	}); err != nil {
		t.Fatalf("failed to credit earnings: %v", err)
	}
}
