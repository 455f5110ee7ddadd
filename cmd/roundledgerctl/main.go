// Package main is the entrypoint for the roundledger admin CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"runtime"
	"time"

	"github.com/MacJediWizard/roundledger/internal/config"
	"github.com/MacJediWizard/roundledger/internal/db"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globals are the persistent flags shared by every command.
type globals struct {
	dbURL   string
	verbose bool
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "roundledgerctl",
		Short: "Administer a roundledger deployment",
		Long: `roundledgerctl runs administrative operations directly against the
roundledger database: approving products, issuing licenses, settling
payouts and sweeping insurance records.

Connection settings come from the same CONFIG_FILE and environment
variables as the server; --db overrides the database URL.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&g.dbURL, "db", "", "Database URL (defaults to DATABASE_URL)")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 2*time.Minute, "Overall command timeout")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newMigrateCmd(g),
		newProductCmd(g),
		newPayoutCmd(g),
		newInsuranceCmd(g),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "roundledgerctl %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage server configuration files",
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a configuration file populated with the defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.ExampleFile().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective server configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Environment:       %s\n", cfg.Environment)
			fmt.Fprintf(out, "Listen address:    %s\n", cfg.Addr())
			fmt.Fprintf(out, "Store driver:      %s\n", cfg.StoreDriver)
			fmt.Fprintf(out, "Database URL:      %s\n", redactURL(cfg.DatabaseURL))
			fmt.Fprintf(out, "Redis URL:         %s\n", redactURL(cfg.RedisURL))
			fmt.Fprintf(out, "Insurance window:  %s\n", cfg.InsuranceWindow)
			fmt.Fprintf(out, "Insurance fee:     %s\n", cfg.InsuranceFeeRate)
			fmt.Fprintf(out, "Sweep schedule:    %s\n", orNone(cfg.InsuranceSweepSchedule))
			fmt.Fprintf(out, "Payout minimum:    %s\n", cfg.PayoutMinimum.StringFixed(2))
			fmt.Fprintf(out, "Rate limit:        %d per %s\n", cfg.RateLimit.Limit, cfg.RateLimit.Period)
			return nil
		},
	}
}

func newMigrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			database, err := g.connect(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			version, err := database.CurrentVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d\n", version)
			return nil
		},
	}
}

func (g *globals) logger() zerolog.Logger {
	level := zerolog.InfoLevel
	if g.verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// connect opens the configured Postgres store.
func (g *globals) connect(ctx context.Context) (*db.DB, error) {
	dsn := g.dbURL
	if dsn == "" {
		cfg, err := config.LoadServerConfig()
		if err != nil {
			return nil, err
		}
		if cfg.StoreDriver == config.StoreDriverMemory {
			return nil, errors.New("roundledgerctl requires the postgres store driver")
		}
		dsn = cfg.DatabaseURL
	}
	if dsn == "" {
		return nil, errors.New("database URL required: use --db or set DATABASE_URL")
	}

	dbCfg := db.DefaultConfig(dsn)
	dbCfg.MaxConns = 4
	dbCfg.MinConns = 1
	return db.New(ctx, dbCfg, g.logger())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func redactURL(raw string) string {
	if raw == "" {
		return "(none)"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "(invalid)"
	}
	return u.Redacted()
}

func orNone(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}
