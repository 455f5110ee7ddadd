package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/MacJediWizard/roundledger/internal/db"
	"github.com/MacJediWizard/roundledger/internal/insurance"
	"github.com/MacJediWizard/roundledger/internal/ledger"
	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/MacJediWizard/roundledger/internal/notifications"
	"github.com/MacJediWizard/roundledger/internal/payout"
	"github.com/MacJediWizard/roundledger/internal/rounds"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// withDB runs fn against a connected database inside the command timeout.
func (g *globals) withDB(cmd *cobra.Command, fn func(ctx context.Context, database *db.DB) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	defer cancel()

	database, err := g.connect(ctx)
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(ctx, database)
}

// parsePrices reads "newboom,blossom,evergreen,exit".
func parsePrices(raw string) (models.RoundPricing, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != len(models.Stages) {
		return models.RoundPricing{}, fmt.Errorf("expected %d comma-separated prices, got %d", len(models.Stages), len(parts))
	}
	prices := make([]decimal.Decimal, len(parts))
	for i, p := range parts {
		d, err := decimal.NewFromString(strings.TrimSpace(p))
		if err != nil {
			return models.RoundPricing{}, fmt.Errorf("invalid price %q: %w", p, err)
		}
		prices[i] = d
	}
	pricing := models.RoundPricing{
		Newboom:   prices[0],
		Blossom:   prices[1],
		Evergreen: prices[2],
		Exit:      prices[3],
	}
	return pricing, pricing.Validate()
}

func parseUUIDArg(what, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s ID %q", what, raw)
	}
	return id, nil
}

func newProductCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Approve products and issue licenses",
	}
	cmd.AddCommand(
		newProductApproveCmd(g),
		newProductIssueCmd(g),
		newProductAdvanceCmd(g),
	)
	return cmd
}

func newProductApproveCmd(g *globals) *cobra.Command {
	var (
		creator string
		name    string
		total   int
		prices  string
	)

	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve a product with its four-round price table",
		Example: `  roundledgerctl product approve --creator 6f1c... --name "Drum Kit" \
    --total 100 --prices 50,75,100,150`,
		RunE: func(cmd *cobra.Command, args []string) error {
			creatorID, err := parseUUIDArg("creator", creator)
			if err != nil {
				return err
			}
			pricing, err := parsePrices(prices)
			if err != nil {
				return err
			}
			return g.withDB(cmd, func(ctx context.Context, database *db.DB) error {
				engine := rounds.NewEngine(database, nil, nil, g.logger())
				p, err := engine.ApproveProduct(ctx, models.ApproveProductRequest{
					CreatorID:     creatorID,
					Name:          name,
					TotalLicenses: total,
					RoundPricing:  pricing,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), models.NewProductView(p))
			})
		},
	}

	cmd.Flags().StringVar(&creator, "creator", "", "Creator user ID (required)")
	cmd.Flags().StringVar(&name, "name", "", "Product name (required)")
	cmd.Flags().IntVar(&total, "total", 0, "Licenses per round (required)")
	cmd.Flags().StringVar(&prices, "prices", "", "Round prices: newboom,blossom,evergreen,exit (required)")
	for _, f := range []string{"creator", "name", "total", "prices"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newProductIssueCmd(g *globals) *cobra.Command {
	var (
		round        int
		count        int
		purchaseType string
		owner        string
	)

	cmd := &cobra.Command{
		Use:   "issue <product-id>",
		Short: "Mint licenses in the open round without payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := parseUUIDArg("product", args[0])
			if err != nil {
				return err
			}
			req := models.IssueLicensesRequest{
				Round:        round,
				Count:        count,
				PurchaseType: models.PurchaseType(purchaseType),
			}
			if owner != "" {
				ownerID, err := parseUUIDArg("owner", owner)
				if err != nil {
					return err
				}
				req.OwnerID = &ownerID
			}
			return g.withDB(cmd, func(ctx context.Context, database *db.DB) error {
				logger := g.logger()
				engine := rounds.NewEngine(database, nil, nil, logger)
				led := ledger.NewLedger(database, engine, ledger.DefaultConfig(), nil, nil, logger)
				res, err := led.IssueLicenses(ctx, productID, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	cmd.Flags().IntVar(&round, "round", 1, "Round the licenses belong to; must be the open round")
	cmd.Flags().IntVar(&count, "count", 1, "Number of licenses")
	cmd.Flags().StringVar(&purchaseType, "type", string(models.PurchaseTypeUse), "Purchase type: use, resale or resale_with_insurance")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner user ID (defaults to the product creator)")
	return cmd
}

func newProductAdvanceCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <product-id>",
		Short: "Re-run the sold-out check for a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := parseUUIDArg("product", args[0])
			if err != nil {
				return err
			}
			return g.withDB(cmd, func(ctx context.Context, database *db.DB) error {
				engine := rounds.NewEngine(database, nil, nil, g.logger())
				t, err := engine.Advance(ctx, productID)
				if err != nil {
					return err
				}
				if t == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "No transition: the open round still has inventory")
					return nil
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}
}

func newPayoutCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payout",
		Short: "Settle payout requests",
	}

	var reason string
	fail := &cobra.Command{
		Use:   "fail <payout-id>",
		Short: "Fail a payout and release the reserved amount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.settle(cmd, args[0], func(ctx context.Context, svc *payout.Service, id uuid.UUID) (*models.Payout, error) {
				return svc.FailPayout(ctx, id, reason)
			})
		},
	}
	fail.Flags().StringVar(&reason, "reason", "", "Failure reason recorded on the payout")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "processing <payout-id>",
			Short: "Mark a pending payout as processing",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.settle(cmd, args[0], func(ctx context.Context, svc *payout.Service, id uuid.UUID) (*models.Payout, error) {
					return svc.MarkProcessing(ctx, id)
				})
			},
		},
		&cobra.Command{
			Use:   "complete <payout-id>",
			Short: "Complete a payout",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.settle(cmd, args[0], func(ctx context.Context, svc *payout.Service, id uuid.UUID) (*models.Payout, error) {
					return svc.CompletePayout(ctx, id)
				})
			},
		},
		fail,
	)
	return cmd
}

func (g *globals) settle(cmd *cobra.Command, rawID string, fn func(context.Context, *payout.Service, uuid.UUID) (*models.Payout, error)) error {
	id, err := parseUUIDArg("payout", rawID)
	if err != nil {
		return err
	}
	return g.withDB(cmd, func(ctx context.Context, database *db.DB) error {
		svc := payout.NewService(database, payout.Config{}, nil, nil, g.logger())
		p, err := fn(ctx, svc, id)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	})
}

func newInsuranceCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insurance",
		Short: "Inspect and sweep insured licenses",
	}

	var notify bool
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Count insured licenses by status and optionally notify overdue owners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(cmd, func(ctx context.Context, database *db.DB) error {
				logger := g.logger()
				tracker := insurance.NewTracker(database, notifications.NewLogNotifier(logger), nil, nil, logger)
				res, err := tracker.Sweep(ctx, notify)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	sweep.Flags().BoolVar(&notify, "notify", false, "Send overdue notices")

	cmd.AddCommand(sweep)
	return cmd
}
