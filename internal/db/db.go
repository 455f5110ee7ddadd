// Package db provides PostgreSQL persistence using pgx.
package db

import (
	"cmp"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MacJediWizard/roundledger/internal/metrics"
	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/MacJediWizard/roundledger/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds database connection configuration.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// TxMaxAttempts bounds how often a transaction is run when it fails
	// with a transient error.
	TxMaxAttempts int
	// LockTimeout is applied to every read-write transaction.
	LockTimeout time.Duration
	// RetryBackoff is the delay before the first retry; it doubles after
	// each further attempt.
	RetryBackoff time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		TxMaxAttempts:   3,
		LockTimeout:     5 * time.Second,
		RetryBackoff:    50 * time.Millisecond,
	}
}

// DB wraps a pgxpool.Pool and implements store.Store.
type DB struct {
	Pool    *pgxpool.Pool
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

var _ store.Store = (*DB)(nil)

// New creates a new database connection pool.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if cfg.TxMaxAttempts < 1 {
		cfg.TxMaxAttempts = 1
	}

	db := &DB{
		Pool:   pool,
		cfg:    cfg,
		logger: logger.With().Str("component", "db").Logger(),
	}

	if err := db.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.logger.Info().Msg("database connection pool established")
	return db, nil
}

// SetMetrics attaches transaction metrics.
func (db *DB) SetMetrics(m *metrics.Metrics) {
	db.metrics = m
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.Pool.Close()
	db.logger.Info().Msg("database connection pool closed")
}

// Health returns basic health information about the connection pool.
func (db *DB) Health() map[string]any {
	stats := db.Pool.Stat()
	return map[string]any{
		"total_conns":      stats.TotalConns(),
		"acquired_conns":   stats.AcquiredConns(),
		"idle_conns":       stats.IdleConns(),
		"max_conns":        stats.MaxConns(),
		"empty_acquire":    stats.EmptyAcquireCount(),
		"canceled_acquire": stats.CanceledAcquireCount(),
		"acquire_duration": stats.AcquireDuration().String(),
	}
}

// InTx runs fn in a read-write transaction, retrying transient failures.
func (db *DB) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return db.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

// View runs fn in a read-only transaction.
func (db *DB) View(ctx context.Context, fn func(tx store.Tx) error) error {
	return db.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly}, fn)
}

func (db *DB) run(ctx context.Context, opts pgx.TxOptions, fn func(tx store.Tx) error) error {
	backoff := db.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := db.attempt(ctx, opts, fn)
		if err == nil {
			db.metrics.ObserveTx("committed", time.Since(start))
			return nil
		}

		reason := retryReason(err)
		if reason == "" {
			db.metrics.ObserveTx("failed", time.Since(start))
			return err
		}
		db.metrics.ObserveTx("retryable", time.Since(start))

		if attempt >= db.cfg.TxMaxAttempts {
			db.logger.Warn().Err(err).Int("attempts", attempt).Msg("transaction retries exhausted")
			if errors.Is(err, models.ErrUnavailable) {
				return err
			}
			return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
		}

		db.metrics.RecordTxRetry(reason)
		db.logger.Debug().Err(err).Str("reason", reason).Int("attempt", attempt).Msg("retrying transaction")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (db *DB) attempt(ctx context.Context, opts pgx.TxOptions, fn func(tx store.Tx) error) error {
	tx, err := db.Pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if opts.AccessMode != pgx.ReadOnly && db.cfg.LockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", db.cfg.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SQLSTATE codes the store reacts to.
const (
	pgerrSerialization  = "40001"
	pgerrDeadlock       = "40P01"
	pgerrLockNotAvail   = "55P03"
	pgerrUndefinedTable = "42P01"
)

// retryReason classifies err as transient and names why, or returns "".
func retryReason(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrSerialization:
			return "serialization_failure"
		case pgerrDeadlock:
			return "deadlock"
		case pgerrLockNotAvail:
			return "lock_timeout"
		}
		return ""
	}
	if errors.Is(err, models.ErrUnavailable) {
		return "stale_version"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ""
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return "connection"
	}
	return ""
}

// Migration is one embedded schema file, named NNN_description.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// GetMigrations returns the embedded migrations in version order.
func GetMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	migrations := make([]Migration, 0, len(entries))
	for _, entry := range entries {
		file := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(file, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(file, "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil {
			return nil, fmt.Errorf("migration %s: name must start with a version number", file)
		}
		body, err := fs.ReadFile(migrationsFS, "migrations/"+file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		migrations = append(migrations, Migration{
			Version: version,
			Name:    strings.TrimSuffix(file, ".sql"),
			SQL:     string(body),
		})
	}

	slices.SortFunc(migrations, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return migrations, nil
}

// migrationLockID keys the advisory lock that serializes migrators across
// server replicas and roundledgerctl.
const migrationLockID int64 = 0x726c6467 // "rldg"

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, each in its own transaction.
func (db *DB) Migrate(ctx context.Context) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID)
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := conn.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}
	applied, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}

	migrations, err := GetMigrations()
	if err != nil {
		return err
	}

	ran := 0
	for _, m := range migrations {
		if slices.Contains(applied, m.Version) {
			continue
		}
		log := db.logger.With().Int("version", m.Version).Str("name", m.Name).Logger()
		log.Info().Msg("applying migration")

		err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", m.Version, m.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		ran++
	}

	db.logger.Info().Int("applied", ran).Int("known", len(migrations)).Msg("schema up to date")
	return nil
}

// CurrentVersion returns the highest applied migration, or 0 on a fresh
// database.
func (db *DB) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := db.Pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return version, nil
	case errors.As(err, &pgErr) && pgErr.Code == pgerrUndefinedTable:
		return 0, nil
	default:
		return 0, fmt.Errorf("read schema version: %w", err)
	}
}
