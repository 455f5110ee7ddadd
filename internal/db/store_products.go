package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const productColumns = `id, creator_id, name, total_licenses, remaining_licenses, current_stage,
	current_round, price_newboom, price_blossom, price_evergreen, price_exit, version,
	approved_at, archived_at, created_at, updated_at`

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	var stage string
	err := row.Scan(
		&p.ID, &p.CreatorID, &p.Name, &p.TotalLicenses, &p.RemainingLicenses, &stage,
		&p.CurrentRound, &p.RoundPricing.Newboom, &p.RoundPricing.Blossom,
		&p.RoundPricing.Evergreen, &p.RoundPricing.Exit, &p.Version,
		&p.ApprovedAt, &p.ArchivedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.CurrentStage = models.Stage(stage)
	return &p, nil
}

// CreateProduct inserts an approved product.
func (t *pgTx) CreateProduct(ctx context.Context, p *models.Product) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, p.ID, p.CreatorID, p.Name, p.TotalLicenses, p.RemainingLicenses, string(p.CurrentStage),
		p.CurrentRound, p.RoundPricing.Newboom, p.RoundPricing.Blossom,
		p.RoundPricing.Evergreen, p.RoundPricing.Exit, p.Version,
		p.ApprovedAt, p.ArchivedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

// GetProduct returns a product by ID.
func (t *pgTx) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		return nil, getErr(err, "product", id)
	}
	return p, nil
}

// GetProductForUpdate returns a product and locks its row.
func (t *pgTx) GetProductForUpdate(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, getErr(err, "product", id)
	}
	return p, nil
}

// GetProductsByIDs returns the products that exist among ids.
func (t *pgTx) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error) {
	out := make(map[uuid.UUID]*models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// UpdateProductState writes the mutable round state guarded by version.
func (t *pgTx) UpdateProductState(ctx context.Context, p *models.Product) error {
	var version int64
	err := t.tx.QueryRow(ctx, `
		UPDATE products
		SET current_stage = $2, current_round = $3, remaining_licenses = $4,
		    archived_at = $5, updated_at = $6, version = version + 1
		WHERE id = $1 AND version = $7
		RETURNING version
	`, p.ID, string(p.CurrentStage), p.CurrentRound, p.RemainingLicenses,
		p.ArchivedAt, p.UpdatedAt, p.Version).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := t.GetProduct(ctx, p.ID); err != nil {
			return err
		}
		return fmt.Errorf("update product state: version %d is stale: %w", p.Version, models.ErrUnavailable)
	}
	if err != nil {
		return fmt.Errorf("update product state: %w", err)
	}
	p.Version = version
	return nil
}

// CreateRoundTransition records a state machine step.
func (t *pgTx) CreateRoundTransition(ctx context.Context, rt *models.RoundTransition) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO round_transitions (id, product_id, from_stage, to_stage, from_round, to_round,
			licenses_made_eligible, minted, transitioned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rt.ID, rt.ProductID, string(rt.FromStage), string(rt.ToStage), rt.FromRound, rt.ToRound,
		rt.LicensesMadeEligible, rt.Minted, rt.TransitionedAt)
	if err != nil {
		return fmt.Errorf("create round transition: %w", err)
	}
	return nil
}

// ListRoundTransitions returns a product's transitions in order.
func (t *pgTx) ListRoundTransitions(ctx context.Context, productID uuid.UUID) ([]*models.RoundTransition, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, product_id, from_stage, to_stage, from_round, to_round,
			licenses_made_eligible, minted, transitioned_at
		FROM round_transitions
		WHERE product_id = $1
		ORDER BY from_round
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("list round transitions: %w", err)
	}
	defer rows.Close()

	var out []*models.RoundTransition
	for rows.Next() {
		var rt models.RoundTransition
		var from, to string
		if err := rows.Scan(&rt.ID, &rt.ProductID, &from, &to, &rt.FromRound, &rt.ToRound,
			&rt.LicensesMadeEligible, &rt.Minted, &rt.TransitionedAt); err != nil {
			return nil, fmt.Errorf("scan round transition: %w", err)
		}
		rt.FromStage = models.Stage(from)
		rt.ToStage = models.Stage(to)
		out = append(out, &rt)
	}
	return out, rows.Err()
}
