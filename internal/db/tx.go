package db

import (
	"errors"
	"fmt"

	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/MacJediWizard/roundledger/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgTx implements store.Tx on top of a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

var _ store.Tx = (*pgTx)(nil)

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(what string, id uuid.UUID) error {
	return fmt.Errorf("%s %s: %w", what, id, models.ErrNotFound)
}

// getErr maps pgx.ErrNoRows to models.ErrNotFound.
func getErr(err error, what string, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(what, id)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

// uniqueViolation reports whether err violates the named unique index.
func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

func checkAffected(tag pgconn.CommandTag, what string, id uuid.UUID) error {
	if tag.RowsAffected() == 0 {
		return notFound(what, id)
	}
	return nil
}
