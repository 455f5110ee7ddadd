// Package main applies the roundledger schema migrations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MacJediWizard/roundledger/internal/db"
	"github.com/rs/zerolog"
)

type options struct {
	dbURL   string
	list    bool
	status  bool
	pending bool
	timeout time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.dbURL, "db", "", "Database URL (or set DATABASE_URL env var)")
	flag.BoolVar(&opts.list, "list", false, "List embedded migrations without connecting")
	flag.BoolVar(&opts.status, "version", false, "Show the applied schema version")
	flag.BoolVar(&opts.pending, "pending", false, "Show migrations not yet applied")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Overall timeout for the run")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Str("component", "migrate").
		Logger()

	if err := run(opts, os.Stdout, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrate failed")
	}
}

func run(opts options, out io.Writer, logger zerolog.Logger) error {
	migrations, err := db.GetMigrations()
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	if opts.list {
		printMigrations(out, migrations, -1, false)
		return nil
	}

	url := opts.dbURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return errors.New("database URL required: use -db flag or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	cfg := db.DefaultConfig(url)
	cfg.MaxConns = 2
	cfg.MinConns = 1
	database, err := db.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer database.Close()

	if opts.status || opts.pending {
		version, err := database.CurrentVersion(ctx)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		if opts.status {
			fmt.Fprintf(out, "Current schema version: %d\n", version)
		}
		if opts.pending {
			printMigrations(out, migrations, version, true)
		}
		return nil
	}

	logger.Info().Int("available", len(migrations)).Msg("applying migrations")
	if err := database.Migrate(ctx); err != nil {
		return err
	}
	version, err := database.CurrentVersion(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("could not read schema version after migrating")
		return nil
	}
	logger.Info().Int("version", version).Msg("migrations complete")
	return nil
}

// printMigrations lists migrations, marking those at or below applied.
// With onlyPending, applied ones are skipped. applied < 0 means unknown.
func printMigrations(out io.Writer, migrations []db.Migration, applied int, onlyPending bool) {
	shown := 0
	for _, m := range migrations {
		done := applied >= 0 && m.Version <= applied
		if onlyPending && done {
			continue
		}
		mark := " "
		if done {
			mark = "x"
		}
		fmt.Fprintf(out, "  [%s] %s\n", mark, m.Name)
		shown++
	}
	if shown == 0 {
		if onlyPending {
			fmt.Fprintln(out, "Schema is up to date")
		} else {
			fmt.Fprintln(out, "No migrations found")
		}
	}
}
