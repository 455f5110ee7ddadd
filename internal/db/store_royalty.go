package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const activeClaimIndex = "idx_royalty_claims_active_license"

const platformProductColumns = `id, product_id, name, total_licenses, available_licenses,
	is_active, created_at, updated_at`

func scanPlatformProduct(row rowScanner) (*models.PlatformProduct, error) {
	var pp models.PlatformProduct
	err := row.Scan(&pp.ID, &pp.ProductID, &pp.Name, &pp.TotalLicenses, &pp.AvailableLicenses,
		&pp.IsActive, &pp.CreatedAt, &pp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &pp, nil
}

// CreatePlatformProduct inserts a royalty inventory.
func (t *pgTx) CreatePlatformProduct(ctx context.Context, pp *models.PlatformProduct) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO platform_products (`+platformProductColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, pp.ID, pp.ProductID, pp.Name, pp.TotalLicenses, pp.AvailableLicenses,
		pp.IsActive, pp.CreatedAt, pp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create platform product: %w", err)
	}
	return nil
}

// GetPlatformProductForUpdate returns a platform product and locks its row.
func (t *pgTx) GetPlatformProductForUpdate(ctx context.Context, id uuid.UUID) (*models.PlatformProduct, error) {
	pp, err := scanPlatformProduct(t.tx.QueryRow(ctx,
		`SELECT `+platformProductColumns+` FROM platform_products WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, getErr(err, "platform product", id)
	}
	return pp, nil
}

// UpdatePlatformProductInventory writes the available count and active flag.
func (t *pgTx) UpdatePlatformProductInventory(ctx context.Context, pp *models.PlatformProduct) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE platform_products
		SET available_licenses = $2, is_active = $3, updated_at = $4
		WHERE id = $1
	`, pp.ID, pp.AvailableLicenses, pp.IsActive, pp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update platform product: %w", err)
	}
	return checkAffected(tag, "platform product", pp.ID)
}

// ListPlatformProducts returns every platform product oldest first.
func (t *pgTx) ListPlatformProducts(ctx context.Context) ([]*models.PlatformProduct, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+platformProductColumns+` FROM platform_products ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list platform products: %w", err)
	}
	defer rows.Close()

	var out []*models.PlatformProduct
	for rows.Next() {
		pp, err := scanPlatformProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan platform product: %w", err)
		}
		out = append(out, pp)
	}
	return out, rows.Err()
}

const claimColumns = `id, user_id, exit_license_id, platform_product_id, status,
	royalty_licenses_count, failure_reason, processed_at, created_at`

func scanClaim(row rowScanner) (*models.RoyaltyClaim, error) {
	var c models.RoyaltyClaim
	var status string
	err := row.Scan(&c.ID, &c.UserID, &c.ExitLicenseID, &c.PlatformProductID, &status,
		&c.RoyaltyLicensesCount, &c.FailureReason, &c.ProcessedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = models.RoyaltyClaimStatus(status)
	return &c, nil
}

// CreateRoyaltyClaim inserts a claim. The partial unique index on active
// claims turns a concurrent duplicate into ErrAlreadyClaimed.
func (t *pgTx) CreateRoyaltyClaim(ctx context.Context, c *models.RoyaltyClaim) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO royalty_claims (`+claimColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.UserID, c.ExitLicenseID, c.PlatformProductID, string(c.Status),
		c.RoyaltyLicensesCount, c.FailureReason, c.ProcessedAt, c.CreatedAt)
	if uniqueViolation(err, activeClaimIndex) {
		return models.ErrAlreadyClaimed
	}
	if err != nil {
		return fmt.Errorf("create royalty claim: %w", err)
	}
	return nil
}

// UpdateRoyaltyClaim writes a claim's status fields.
func (t *pgTx) UpdateRoyaltyClaim(ctx context.Context, c *models.RoyaltyClaim) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE royalty_claims
		SET status = $2, royalty_licenses_count = $3, failure_reason = $4, processed_at = $5
		WHERE id = $1
	`, c.ID, string(c.Status), c.RoyaltyLicensesCount, c.FailureReason, c.ProcessedAt)
	if uniqueViolation(err, activeClaimIndex) {
		return models.ErrAlreadyClaimed
	}
	if err != nil {
		return fmt.Errorf("update royalty claim: %w", err)
	}
	return checkAffected(tag, "royalty claim", c.ID)
}

// GetRoyaltyClaimForUpdate returns a claim and locks its row.
func (t *pgTx) GetRoyaltyClaimForUpdate(ctx context.Context, id uuid.UUID) (*models.RoyaltyClaim, error) {
	c, err := scanClaim(t.tx.QueryRow(ctx, `SELECT `+claimColumns+` FROM royalty_claims WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, getErr(err, "royalty claim", id)
	}
	return c, nil
}

// GetActiveClaimForLicense returns the pending or completed claim for a
// license, or nil when there is none.
func (t *pgTx) GetActiveClaimForLicense(ctx context.Context, licenseID uuid.UUID) (*models.RoyaltyClaim, error) {
	c, err := scanClaim(t.tx.QueryRow(ctx, `
		SELECT `+claimColumns+`
		FROM royalty_claims
		WHERE exit_license_id = $1 AND status IN ('pending', 'completed')
	`, licenseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active claim: %w", err)
	}
	return c, nil
}

// CountPendingClaimsForProduct counts pending claims against a product's licenses.
func (t *pgTx) CountPendingClaimsForProduct(ctx context.Context, productID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM royalty_claims c
		JOIN licenses l ON l.id = c.exit_license_id
		WHERE l.product_id = $1 AND c.status = 'pending'
	`, productID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending claims: %w", err)
	}
	return n, nil
}

// ListRoyaltyClaimsByUser returns a page of claims newest first and the total.
func (t *pgTx) ListRoyaltyClaimsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.RoyaltyClaim, int, error) {
	var total int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM royalty_claims WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count royalty claims: %w", err)
	}

	rows, err := t.tx.Query(ctx, `
		SELECT `+claimColumns+`
		FROM royalty_claims
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list royalty claims: %w", err)
	}
	defer rows.Close()

	var out []*models.RoyaltyClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan royalty claim: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// CreateRoyaltyLicense records an assigned royalty license.
func (t *pgTx) CreateRoyaltyLicense(ctx context.Context, rl *models.RoyaltyLicense) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO royalty_licenses (id, license_id, user_id, platform_product_id, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rl.ID, rl.LicenseID, rl.UserID, rl.PlatformProductID, rl.AssignedAt)
	if err != nil {
		return fmt.Errorf("create royalty license: %w", err)
	}
	return nil
}

// ListRoyaltyLicensesByUser returns a page of royalty licenses newest first.
func (t *pgTx) ListRoyaltyLicensesByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.RoyaltyLicense, int, error) {
	var total int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM royalty_licenses WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count royalty licenses: %w", err)
	}

	rows, err := t.tx.Query(ctx, `
		SELECT id, license_id, user_id, platform_product_id, assigned_at
		FROM royalty_licenses
		WHERE user_id = $1
		ORDER BY assigned_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list royalty licenses: %w", err)
	}
	defer rows.Close()

	var out []*models.RoyaltyLicense
	for rows.Next() {
		var rl models.RoyaltyLicense
		if err := rows.Scan(&rl.ID, &rl.LicenseID, &rl.UserID, &rl.PlatformProductID, &rl.AssignedAt); err != nil {
			return nil, 0, fmt.Errorf("scan royalty license: %w", err)
		}
		out = append(out, &rl)
	}
	return out, total, rows.Err()
}
