package memory

import (
	"context"
	"fmt"

	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/google/uuid"
)

func (t *tx) CreateProduct(_ context.Context, p *models.Product) error {
	if err := t.write("CreateProduct"); err != nil {
		return err
	}
	t.st.products[p.ID] = *p
	return nil
}

func (t *tx) GetProduct(_ context.Context, id uuid.UUID) (*models.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, notFound("product", id)
	}
	return &p, nil
}

func (t *tx) GetProductForUpdate(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	return t.GetProduct(ctx, id)
}

func (t *tx) GetProductsByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error) {
	out := make(map[uuid.UUID]*models.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.st.products[id]; ok {
			out[id] = &p
		}
	}
	return out, nil
}

func (t *tx) UpdateProductState(_ context.Context, p *models.Product) error {
	if err := t.write("UpdateProductState"); err != nil {
		return err
	}
	cur, ok := t.st.products[p.ID]
	if !ok {
		return notFound("product", p.ID)
	}
	if cur.Version != p.Version {
		return fmt.Errorf("update product state: version %d is stale: %w", p.Version, models.ErrUnavailable)
	}
	cur.CurrentStage = p.CurrentStage
	cur.CurrentRound = p.CurrentRound
	cur.RemainingLicenses = p.RemainingLicenses
	cur.ArchivedAt = p.ArchivedAt
	cur.UpdatedAt = p.UpdatedAt
	cur.Version++
	t.st.products[p.ID] = cur
	p.Version = cur.Version
	return nil
}

func (t *tx) CreateRoundTransition(_ context.Context, rt *models.RoundTransition) error {
	if err := t.write("CreateRoundTransition"); err != nil {
		return err
	}
	t.st.transitions = append(t.st.transitions, *rt)
	return nil
}

func (t *tx) ListRoundTransitions(_ context.Context, productID uuid.UUID) ([]*models.RoundTransition, error) {
	var out []*models.RoundTransition
	for _, rt := range t.st.transitions {
		if rt.ProductID == productID {
			rt := rt
			out = append(out, &rt)
		}
	}
	return out, nil
}
