package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const activeBankIndex = "idx_payout_methods_active_bank"

const payoutMethodColumns = `id, user_id, payment_method, account_details, is_verified,
	is_active, created_at, updated_at`

func scanPayoutMethod(row rowScanner) (*models.PayoutMethod, error) {
	var m models.PayoutMethod
	var method string
	var details []byte
	err := row.Scan(&m.ID, &m.UserID, &method, &details, &m.IsVerified,
		&m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.PaymentMethod = models.PaymentMethod(method)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &m.AccountDetails); err != nil {
			return nil, fmt.Errorf("parse account details: %w", err)
		}
	}
	return &m, nil
}

// CreatePayoutMethod inserts a payout destination. The partial unique index
// on active bank methods turns a second one into ErrLimitExceeded.
func (t *pgTx) CreatePayoutMethod(ctx context.Context, m *models.PayoutMethod) error {
	details, err := json.Marshal(m.AccountDetails)
	if err != nil {
		return fmt.Errorf("marshal account details: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO payout_methods (`+payoutMethodColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.UserID, string(m.PaymentMethod), details, m.IsVerified,
		m.IsActive, m.CreatedAt, m.UpdatedAt)
	if uniqueViolation(err, activeBankIndex) {
		return fmt.Errorf("%w: only one active bank method is allowed", models.ErrLimitExceeded)
	}
	if err != nil {
		return fmt.Errorf("create payout method: %w", err)
	}
	return nil
}

// GetPayoutMethod returns a payout method by ID.
func (t *pgTx) GetPayoutMethod(ctx context.Context, id uuid.UUID) (*models.PayoutMethod, error) {
	m, err := scanPayoutMethod(t.tx.QueryRow(ctx, `SELECT `+payoutMethodColumns+` FROM payout_methods WHERE id = $1`, id))
	if err != nil {
		return nil, getErr(err, "payout method", id)
	}
	return m, nil
}

// UpdatePayoutMethod writes the verification and active flags.
func (t *pgTx) UpdatePayoutMethod(ctx context.Context, m *models.PayoutMethod) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payout_methods
		SET is_verified = $2, is_active = $3, updated_at = $4
		WHERE id = $1
	`, m.ID, m.IsVerified, m.IsActive, m.UpdatedAt)
	if uniqueViolation(err, activeBankIndex) {
		return fmt.Errorf("%w: only one active bank method is allowed", models.ErrLimitExceeded)
	}
	if err != nil {
		return fmt.Errorf("update payout method: %w", err)
	}
	return checkAffected(tag, "payout method", m.ID)
}

// ListPayoutMethodsByUser returns a user's payout methods oldest first.
func (t *pgTx) ListPayoutMethodsByUser(ctx context.Context, userID uuid.UUID) ([]*models.PayoutMethod, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+payoutMethodColumns+`
		FROM payout_methods
		WHERE user_id = $1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list payout methods: %w", err)
	}
	defer rows.Close()

	var out []*models.PayoutMethod
	for rows.Next() {
		m, err := scanPayoutMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout method: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanEarnings(row rowScanner) (*models.UserEarnings, error) {
	var e models.UserEarnings
	if err := row.Scan(&e.UserID, &e.Available, &e.Reserved, &e.Withdrawn, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEarningsForUpdate locks the user's balance row, creating it if needed.
func (t *pgTx) GetEarningsForUpdate(ctx context.Context, userID uuid.UUID) (*models.UserEarnings, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_earnings (user_id, updated_at)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("ensure earnings row: %w", err)
	}
	e, err := scanEarnings(t.tx.QueryRow(ctx, `
		SELECT user_id, available, reserved, withdrawn, updated_at
		FROM user_earnings
		WHERE user_id = $1
		FOR UPDATE
	`, userID))
	if err != nil {
		return nil, fmt.Errorf("lock earnings: %w", err)
	}
	return e, nil
}

// GetEarnings returns the user's balances, all zero when none exist.
func (t *pgTx) GetEarnings(ctx context.Context, userID uuid.UUID) (*models.UserEarnings, error) {
	e, err := scanEarnings(t.tx.QueryRow(ctx, `
		SELECT user_id, available, reserved, withdrawn, updated_at
		FROM user_earnings
		WHERE user_id = $1
	`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.UserEarnings{UserID: userID, Available: decimal.Zero, Reserved: decimal.Zero, Withdrawn: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get earnings: %w", err)
	}
	return e, nil
}

// UpdateEarnings writes all three balances.
func (t *pgTx) UpdateEarnings(ctx context.Context, e *models.UserEarnings) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE user_earnings
		SET available = $2, reserved = $3, withdrawn = $4, updated_at = $5
		WHERE user_id = $1
	`, e.UserID, e.Available, e.Reserved, e.Withdrawn, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update earnings: %w", err)
	}
	return checkAffected(tag, "earnings", e.UserID)
}

// CreateEarningsEntry appends to the earnings journal.
func (t *pgTx) CreateEarningsEntry(ctx context.Context, e *models.EarningsEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO earnings_entries (id, user_id, kind, amount, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.UserID, string(e.Kind), e.Amount, e.ReferenceID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("create earnings entry: %w", err)
	}
	return nil
}

const payoutColumns = `id, user_id, amount, status, payout_info_id, notes, failure_reason,
	requested_at, processed_at, completed_at, failed_at, updated_at`

func scanPayout(row rowScanner) (*models.Payout, error) {
	var p models.Payout
	var status string
	err := row.Scan(&p.ID, &p.UserID, &p.Amount, &status, &p.PayoutInfoID, &p.Notes, &p.FailureReason,
		&p.RequestedAt, &p.ProcessedAt, &p.CompletedAt, &p.FailedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = models.PayoutStatus(status)
	return &p, nil
}

// CreatePayout inserts a payout request.
func (t *pgTx) CreatePayout(ctx context.Context, p *models.Payout) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payouts (`+payoutColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.UserID, p.Amount, string(p.Status), p.PayoutInfoID, p.Notes, p.FailureReason,
		p.RequestedAt, p.ProcessedAt, p.CompletedAt, p.FailedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create payout: %w", err)
	}
	return nil
}

// GetPayout returns a payout by ID.
func (t *pgTx) GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	p, err := scanPayout(t.tx.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
	if err != nil {
		return nil, getErr(err, "payout", id)
	}
	return p, nil
}

// GetPayoutForUpdate returns a payout and locks its row.
func (t *pgTx) GetPayoutForUpdate(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	p, err := scanPayout(t.tx.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, getErr(err, "payout", id)
	}
	return p, nil
}

// UpdatePayout writes a payout's settlement fields.
func (t *pgTx) UpdatePayout(ctx context.Context, p *models.Payout) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payouts
		SET status = $2, failure_reason = $3, processed_at = $4, completed_at = $5,
		    failed_at = $6, updated_at = $7
		WHERE id = $1
	`, p.ID, string(p.Status), p.FailureReason, p.ProcessedAt, p.CompletedAt, p.FailedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update payout: %w", err)
	}
	return checkAffected(tag, "payout", p.ID)
}

// ListPayoutsByUser returns a page of payouts newest first and the total.
func (t *pgTx) ListPayoutsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Payout, int, error) {
	var total int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM payouts WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payouts: %w", err)
	}

	rows, err := t.tx.Query(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE user_id = $1
		ORDER BY requested_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	var out []*models.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan payout: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
