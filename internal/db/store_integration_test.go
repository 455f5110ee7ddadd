//go:build integration

package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/MacJediWizard/roundledger/internal/ledger"
	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/MacJediWizard/roundledger/internal/payout"
	"github.com/MacJediWizard/roundledger/internal/rounds"
	"github.com/MacJediWizard/roundledger/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *DB

func TestMain(m *testing.M) {
	if !dockerAvailable() {
		fmt.Println("Docker is not available, skipping integration tests")
		os.Exit(0)
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("roundledger_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		log.Fatalf("failed to get connection string: %v", err)
	}

	logger := zerolog.New(zerolog.NewConsoleWriter())
	cfg := DefaultConfig(connStr)
	cfg.MaxConns = 20
	cfg.MinConns = 1
	cfg.TxMaxAttempts = 5

	testDB, err = New(ctx, cfg, logger)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := testDB.Migrate(ctx); err != nil {
		testDB.Close()
		_ = pgContainer.Terminate(ctx)
		log.Fatalf("failed to run migrations: %v", err)
	}

	code := m.Run()

	testDB.Close()
	_ = pgContainer.Terminate(ctx)

	os.Exit(code)
}

// dockerAvailable returns true if a Docker daemon is reachable.
func dockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB returns the shared test database after cleaning all tables.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	_, err := testDB.Pool.Exec(context.Background(), `
		DO $$ DECLARE r RECORD;
		BEGIN
			FOR r IN (SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename != 'schema_migrations') LOOP
				EXECUTE 'TRUNCATE TABLE ' || quote_ident(r.tablename) || ' CASCADE';
			END LOOP;
		END $$;
	`)
	require.NoError(t, err)
	return testDB
}

func approve(t *testing.T, engine *rounds.Engine, total int) *models.Product {
	t.Helper()
	p, err := engine.ApproveProduct(context.Background(), models.ApproveProductRequest{
		CreatorID:     uuid.New(),
		Name:          "Icon Pack",
		TotalLicenses: total,
		RoundPricing: models.RoundPricing{
			Newboom:   decimal.NewFromInt(10),
			Blossom:   decimal.NewFromInt(20),
			Evergreen: decimal.NewFromInt(30),
			Exit:      decimal.NewFromInt(40),
		},
	})
	require.NoError(t, err)
	return p
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx))
	version, err := db.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestStore_ConcurrentPurchases(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	engine := rounds.NewEngine(db, nil, nil, zerolog.Nop())
	l := ledger.NewLedger(db, engine, ledger.DefaultConfig(), nil, nil, zerolog.Nop())
	p := approve(t, engine, 10)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		soldOut int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.PurchaseLicense(ctx, p.ID, uuid.New(), models.PurchaseTypeResale)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, models.ErrSoldOut):
				soldOut++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// The tenth sale opens blossom, so later buyers succeed in round 2.
	assert.Equal(t, 20, ok+soldOut)
	assert.Equal(t, 20, ok)

	got, err := engine.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageEvergreen, got.CurrentStage)
	assert.Equal(t, 10, got.RemainingLicenses)

	transitions, err := engine.ListTransitions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, int64(10), transitions[0].LicensesMadeEligible)

	var earned decimal.Decimal
	require.NoError(t, db.View(ctx, func(tx store.Tx) error {
		e, err := tx.GetEarnings(ctx, p.CreatorID)
		if err != nil {
			return err
		}
		earned = e.Available
		return nil
	}))
	assert.True(t, earned.Equal(decimal.NewFromInt(300)), "creator earned %s", earned)
}

func TestStore_ActiveClaimIndex(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	engine := rounds.NewEngine(db, nil, nil, zerolog.Nop())
	l := ledger.NewLedger(db, engine, ledger.DefaultConfig(), nil, nil, zerolog.Nop())
	p := approve(t, engine, 1)

	res, err := l.PurchaseLicense(ctx, p.ID, uuid.New(), models.PurchaseTypeUse)
	require.NoError(t, err)

	pp := models.NewPlatformProduct("Royalty Pool", 5, nil, time.Now().UTC())
	require.NoError(t, db.InTx(ctx, func(tx store.Tx) error {
		return tx.CreatePlatformProduct(ctx, pp)
	}))

	claim := func(status models.RoyaltyClaimStatus) *models.RoyaltyClaim {
		return &models.RoyaltyClaim{
			ID: uuid.New(), UserID: res.License.OwnerID, ExitLicenseID: res.License.ID,
			PlatformProductID: pp.ID, Status: status, CreatedAt: time.Now().UTC(),
		}
	}

	require.NoError(t, db.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateRoyaltyClaim(ctx, claim(models.RoyaltyClaimFailed))
	}))
	require.NoError(t, db.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateRoyaltyClaim(ctx, claim(models.RoyaltyClaimPending))
	}))
	err = db.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateRoyaltyClaim(ctx, claim(models.RoyaltyClaimCompleted))
	})
	assert.ErrorIs(t, err, models.ErrAlreadyClaimed)

	var active *models.RoyaltyClaim
	require.NoError(t, db.View(ctx, func(tx store.Tx) error {
		var err error
		active, err = tx.GetActiveClaimForLicense(ctx, res.License.ID)
		return err
	}))
	require.NotNil(t, active)
	assert.Equal(t, models.RoyaltyClaimPending, active.Status)
}

func TestStore_PayoutSettlement(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := payout.NewService(db, payout.Config{Minimum: decimal.NewFromInt(1)}, nil, nil, zerolog.Nop())
	userID := uuid.New()

	_, err := svc.CreditEarnings(ctx, models.CreditEarningsRequest{
		UserID: userID, Amount: decimal.NewFromInt(100), Kind: models.EarningsRoyalty,
	})
	require.NoError(t, err)

	method, err := svc.AddPayoutMethod(ctx, userID, models.AddPayoutMethodRequest{
		PaymentMethod:  models.PaymentMethodBank,
		AccountDetails: map[string]string{"iban": "DE89370400440532013000"},
	})
	require.NoError(t, err)
	_, err = svc.AddPayoutMethod(ctx, userID, models.AddPayoutMethodRequest{
		PaymentMethod:  models.PaymentMethodBank,
		AccountDetails: map[string]string{"iban": "GB33BUKB20201555555555"},
	})
	assert.ErrorIs(t, err, models.ErrLimitExceeded)

	_, err = svc.VerifyPayoutMethod(ctx, method.ID)
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RequestPayout(ctx, userID, models.RequestPayoutRequest{
				Amount: decimal.NewFromInt(30), PayoutInfoID: method.ID,
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			if !errors.Is(err, models.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, ok)

	info, err := svc.GetPayoutInfo(ctx, userID)
	require.NoError(t, err)
	assert.True(t, info.Earnings.Available.Equal(decimal.NewFromInt(10)))
	assert.True(t, info.Earnings.Reserved.Equal(decimal.NewFromInt(90)))
	require.Len(t, info.Methods, 1)
	assert.Equal(t, "DE89370400440532013000", info.Methods[0].AccountDetails["iban"])
}
