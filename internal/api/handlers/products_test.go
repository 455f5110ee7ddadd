package handlers

import (
	"net/http"
	"testing"

	"github.com/MacJediWizard/roundledger/internal/ledger"
	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/google/uuid"
)

func TestProducts_ApproveRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	t.Run("no identity", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/admin/products", approveBody(10), uuid.Nil, "")
		expectStatus(t, w, http.StatusUnauthorized)
	})

	t.Run("non-admin", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/admin/products", approveBody(10), uuid.New(), "")
		expectStatus(t, w, http.StatusForbidden)
	})

	t.Run("admin", func(t *testing.T) {
		p := env.approve(t, 10)
		if p.CurrentStage != models.StageNewboom || p.CurrentRound != 1 {
			t.Fatalf("expected newboom round 1, got %s round %d", p.CurrentStage, p.CurrentRound)
		}
		if !p.IsSaleable || p.RemainingLicenses != 10 {
			t.Fatalf("expected saleable product with 10 remaining, got %+v", p)
		}
		if p.StageLabel == "" || p.StageColor == "" {
			t.Fatal("expected stage label and color")
		}
	})
}

func TestProducts_ApproveValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing name", func(b map[string]any) { delete(b, "name") }},
		{"zero licenses", func(b map[string]any) { b["total_licenses"] = 0 }},
		{"zero price", func(b map[string]any) {
			b["round_pricing"] = map[string]string{"newboom": "0", "blossom": "1", "evergreen": "1", "exit": "1"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := approveBody(10)
			tt.mutate(body)
			w := env.asAdmin(t, http.MethodPost, "/api/v1/admin/products", body)
			expectCode(t, w, http.StatusBadRequest, "InvalidInput")
		})
	}
}

func TestProducts_PurchaseAdvancesRound(t *testing.T) {
	env := newTestEnv(t)
	p := env.approve(t, 2)

	first := env.purchase(t, p.ID, uuid.New(), models.PurchaseTypeResale)
	if first.Transition != nil {
		t.Fatal("did not expect a transition after the first sale")
	}
	if !first.License.PurchaseAmount.Equal(p.RoundPricing.Newboom) {
		t.Fatalf("expected newboom price, got %s", first.License.PurchaseAmount)
	}

	second := env.purchase(t, p.ID, uuid.New(), models.PurchaseTypeResale)
	if second.Transition == nil || second.Transition.ToStage != models.StageBlossom {
		t.Fatalf("expected transition to blossom, got %+v", second.Transition)
	}

	w := env.do(t, http.MethodGet, "/api/v1/products/"+p.ID.String(), nil, uuid.New(), "")
	expectStatus(t, w, http.StatusOK)
	got := decode[*models.ProductView](t, w)
	if got.CurrentStage != models.StageBlossom || got.RemainingLicenses != 2 {
		t.Fatalf("expected blossom with 2 remaining, got %s with %d", got.CurrentStage, got.RemainingLicenses)
	}

	w = env.do(t, http.MethodGet, "/api/v1/products/"+p.ID.String()+"/transitions", nil, uuid.New(), "")
	expectStatus(t, w, http.StatusOK)
	transitions := decode[map[string][]models.RoundTransition](t, w)["transitions"]
	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
}

func TestProducts_PurchaseErrors(t *testing.T) {
	env := newTestEnv(t)
	p := env.approve(t, 1)
	buyer := uuid.New()

	t.Run("invalid purchase type", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/products/"+p.ID.String()+"/purchase",
			map[string]any{"purchase_type": "gift"}, buyer, "")
		expectStatus(t, w, http.StatusBadRequest)
	})

	t.Run("invalid id", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/products/not-a-uuid/purchase",
			map[string]any{"purchase_type": "use"}, buyer, "")
		expectStatus(t, w, http.StatusBadRequest)
	})

	t.Run("unknown product", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/products/"+uuid.NewString()+"/purchase",
			map[string]any{"purchase_type": "use"}, buyer, "")
		expectCode(t, w, http.StatusNotFound, "NotFound")
	})

	t.Run("sold out", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			env.purchase(t, p.ID, uuid.New(), models.PurchaseTypeUse)
		}
		w := env.do(t, http.MethodPost, "/api/v1/products/"+p.ID.String()+"/purchase",
			map[string]any{"purchase_type": "use"}, buyer, "")
		expectCode(t, w, http.StatusConflict, "SoldOut")
	})
}

func TestProducts_IssueAndArchive(t *testing.T) {
	env := newTestEnv(t)
	p := env.approve(t, 3)
	path := "/api/v1/admin/products/" + p.ID.String()

	w := env.asAdmin(t, http.MethodPost, path+"/issue", map[string]any{
		"round": 1, "count": 5, "purchase_type": "use",
	})
	expectCode(t, w, http.StatusConflict, "CapacityExceeded")

	w = env.asAdmin(t, http.MethodPost, path+"/issue", map[string]any{
		"round": 1, "count": 2, "purchase_type": "resale",
	})
	expectStatus(t, w, http.StatusCreated)
	issued := decode[ledger.IssueResult](t, w)
	if len(issued.Licenses) != 2 {
		t.Fatalf("expected 2 issued licenses, got %d", len(issued.Licenses))
	}

	w = env.asAdmin(t, http.MethodPost, path+"/archive", nil)
	expectCode(t, w, http.StatusUnprocessableEntity, "InvalidTransition")
}
