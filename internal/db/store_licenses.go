package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/MacJediWizard/roundledger/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const licenseColumns = `id, license_token, product_id, owner_id, purchased_round, current_round,
	purchase_type, purchase_amount, resale_eligible, is_listed_for_resale,
	is_enabled_by_user_for_resale, listed_at, insurance_fee, insurance_deadline,
	overdue_notified_at, acquired_at, created_at, updated_at`

func scanLicense(row rowScanner) (*models.License, error) {
	var l models.License
	var purchaseType string
	var fee decimal.NullDecimal
	err := row.Scan(
		&l.ID, &l.LicenseToken, &l.ProductID, &l.OwnerID, &l.PurchasedRound, &l.CurrentRound,
		&purchaseType, &l.PurchaseAmount, &l.ResaleEligible, &l.IsListedForResale,
		&l.IsEnabledByUserForResale, &l.ListedAt, &fee, &l.InsuranceDeadline,
		&l.OverdueNotifiedAt, &l.AcquiredAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.PurchaseType = models.PurchaseType(purchaseType)
	if fee.Valid {
		l.InsuranceFee = &fee.Decimal
	}
	return &l, nil
}

func scanLicenses(rows pgx.Rows) ([]*models.License, error) {
	defer rows.Close()
	var out []*models.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CreateLicense inserts a license.
func (t *pgTx) CreateLicense(ctx context.Context, l *models.License) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO licenses (`+licenseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, l.ID, l.LicenseToken, l.ProductID, l.OwnerID, l.PurchasedRound, l.CurrentRound,
		string(l.PurchaseType), l.PurchaseAmount, l.ResaleEligible, l.IsListedForResale,
		l.IsEnabledByUserForResale, l.ListedAt, l.InsuranceFee, l.InsuranceDeadline,
		l.OverdueNotifiedAt, l.AcquiredAt, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

// GetLicense returns a license by ID.
func (t *pgTx) GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error) {
	l, err := scanLicense(t.tx.QueryRow(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE id = $1`, id))
	if err != nil {
		return nil, getErr(err, "license", id)
	}
	return l, nil
}

// GetLicenseForUpdate returns a license and locks its row.
func (t *pgTx) GetLicenseForUpdate(ctx context.Context, id uuid.UUID) (*models.License, error) {
	l, err := scanLicense(t.tx.QueryRow(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, getErr(err, "license", id)
	}
	return l, nil
}

// UpdateLicense writes every mutable license column.
func (t *pgTx) UpdateLicense(ctx context.Context, l *models.License) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE licenses
		SET owner_id = $2, purchased_round = $3, current_round = $4, purchase_type = $5,
		    purchase_amount = $6, resale_eligible = $7, is_listed_for_resale = $8,
		    is_enabled_by_user_for_resale = $9, listed_at = $10, insurance_fee = $11,
		    insurance_deadline = $12, overdue_notified_at = $13, acquired_at = $14, updated_at = $15
		WHERE id = $1
	`, l.ID, l.OwnerID, l.PurchasedRound, l.CurrentRound, string(l.PurchaseType),
		l.PurchaseAmount, l.ResaleEligible, l.IsListedForResale,
		l.IsEnabledByUserForResale, l.ListedAt, l.InsuranceFee,
		l.InsuranceDeadline, l.OverdueNotifiedAt, l.AcquiredAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	return checkAffected(tag, "license", l.ID)
}

// CountLicensesInRound counts licenses purchased in a round.
func (t *pgTx) CountLicensesInRound(ctx context.Context, productID uuid.UUID, round int) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM licenses WHERE product_id = $1 AND purchased_round = $2
	`, productID, round).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count licenses in round: %w", err)
	}
	return n, nil
}

// MarkRoundResaleEligible flips resale eligibility for a closed round.
func (t *pgTx) MarkRoundResaleEligible(ctx context.Context, productID uuid.UUID, round int) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE licenses
		SET resale_eligible = TRUE
		WHERE product_id = $1 AND purchased_round = $2 AND NOT resale_eligible
		  AND purchase_type IN ('resale', 'resale_with_insurance')
	`, productID, round)
	if err != nil {
		return 0, fmt.Errorf("mark round resale eligible: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListLicensesByOwner returns an owner's licenses oldest first.
func (t *pgTx) ListLicensesByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.License, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE owner_id = $1
		ORDER BY created_at, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list licenses by owner: %w", err)
	}
	return scanLicenses(rows)
}

// ListInsuredLicenses returns every license that carries a resale deadline.
func (t *pgTx) ListInsuredLicenses(ctx context.Context, filter store.InsuredFilter) ([]*models.License, error) {
	where := []string{"insurance_deadline IS NOT NULL"}
	var args []any
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.ProductID != nil {
		args = append(args, *filter.ProductID)
		where = append(where, fmt.Sprintf("product_id = $%d", len(args)))
	}

	rows, err := t.tx.Query(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY insurance_deadline, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list insured licenses: %w", err)
	}
	return scanLicenses(rows)
}

// CreateLicenseTransfer records a resale ownership change.
func (t *pgTx) CreateLicenseTransfer(ctx context.Context, lt *models.LicenseTransfer) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO license_transfers (id, license_id, from_user_id, to_user_id, price, round, transferred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, lt.ID, lt.LicenseID, lt.FromUserID, lt.ToUserID, lt.Price, lt.Round, lt.TransferredAt)
	if err != nil {
		return fmt.Errorf("create license transfer: %w", err)
	}
	return nil
}
