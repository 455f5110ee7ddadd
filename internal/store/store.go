// Package store defines the transactional persistence contract of the
// settlement engine. Every contended counter (product license pool,
// platform royalty inventory, user earnings) is mutated only through a Tx
// obtained from Store.InTx, which commits all writes as one unit.
package store

import (
	"context"

	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/google/uuid"
)

// Store runs work inside transactions.
type Store interface {
	// InTx runs fn in a read-write transaction. Transient failures are
	// retried with backoff; fn must therefore be safe to run more than once.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error
}

// InsuredFilter narrows the insured license scan of the insurance tracker.
type InsuredFilter struct {
	OwnerID   *uuid.UUID
	ProductID *uuid.UUID
}

// Tx is the set of operations available inside a transaction. Methods with
// a ForUpdate suffix take a row lock held until the transaction ends.
type Tx interface {
	ProductTx
	LicenseTx
	RoyaltyTx
	PayoutTx
}

// ProductTx covers products and their round transitions.
type ProductTx interface {
	CreateProduct(ctx context.Context, p *models.Product) error
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetProductForUpdate(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error)
	// UpdateProductState persists stage, round, remaining pool and archive
	// state. It fails with models.ErrUnavailable when p.Version is stale and
	// bumps p.Version on success. Pricing is never written.
	UpdateProductState(ctx context.Context, p *models.Product) error
	CreateRoundTransition(ctx context.Context, t *models.RoundTransition) error
	ListRoundTransitions(ctx context.Context, productID uuid.UUID) ([]*models.RoundTransition, error)
}

// LicenseTx covers licenses and their transfers.
type LicenseTx interface {
	CreateLicense(ctx context.Context, l *models.License) error
	GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error)
	GetLicenseForUpdate(ctx context.Context, id uuid.UUID) (*models.License, error)
	UpdateLicense(ctx context.Context, l *models.License) error
	CountLicensesInRound(ctx context.Context, productID uuid.UUID, round int) (int, error)
	// MarkRoundResaleEligible flips resale_eligible for the resale-type
	// licenses of a closed round and returns how many changed.
	MarkRoundResaleEligible(ctx context.Context, productID uuid.UUID, round int) (int64, error)
	ListLicensesByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.License, error)
	ListInsuredLicenses(ctx context.Context, filter InsuredFilter) ([]*models.License, error)
	CreateLicenseTransfer(ctx context.Context, t *models.LicenseTransfer) error
}

// RoyaltyTx covers platform inventories, claims and royalty licenses.
type RoyaltyTx interface {
	CreatePlatformProduct(ctx context.Context, pp *models.PlatformProduct) error
	GetPlatformProductForUpdate(ctx context.Context, id uuid.UUID) (*models.PlatformProduct, error)
	UpdatePlatformProductInventory(ctx context.Context, pp *models.PlatformProduct) error
	ListPlatformProducts(ctx context.Context) ([]*models.PlatformProduct, error)
	// CreateRoyaltyClaim fails with models.ErrAlreadyClaimed when the license
	// already has an active claim.
	CreateRoyaltyClaim(ctx context.Context, c *models.RoyaltyClaim) error
	UpdateRoyaltyClaim(ctx context.Context, c *models.RoyaltyClaim) error
	GetRoyaltyClaimForUpdate(ctx context.Context, id uuid.UUID) (*models.RoyaltyClaim, error)
	GetActiveClaimForLicense(ctx context.Context, licenseID uuid.UUID) (*models.RoyaltyClaim, error)
	CountPendingClaimsForProduct(ctx context.Context, productID uuid.UUID) (int, error)
	ListRoyaltyClaimsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.RoyaltyClaim, int, error)
	CreateRoyaltyLicense(ctx context.Context, rl *models.RoyaltyLicense) error
	ListRoyaltyLicensesByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.RoyaltyLicense, int, error)
}

// PayoutTx covers payout methods, payouts and earnings balances.
type PayoutTx interface {
	// CreatePayoutMethod fails with models.ErrLimitExceeded when it would
	// give the user a second active bank method.
	CreatePayoutMethod(ctx context.Context, m *models.PayoutMethod) error
	GetPayoutMethod(ctx context.Context, id uuid.UUID) (*models.PayoutMethod, error)
	UpdatePayoutMethod(ctx context.Context, m *models.PayoutMethod) error
	ListPayoutMethodsByUser(ctx context.Context, userID uuid.UUID) ([]*models.PayoutMethod, error)
	// GetEarningsForUpdate locks the user's balance row, creating a zero
	// row first when none exists.
	GetEarningsForUpdate(ctx context.Context, userID uuid.UUID) (*models.UserEarnings, error)
	GetEarnings(ctx context.Context, userID uuid.UUID) (*models.UserEarnings, error)
	UpdateEarnings(ctx context.Context, e *models.UserEarnings) error
	CreateEarningsEntry(ctx context.Context, e *models.EarningsEntry) error
	CreatePayout(ctx context.Context, p *models.Payout) error
	GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	GetPayoutForUpdate(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	UpdatePayout(ctx context.Context, p *models.Payout) error
	ListPayoutsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Payout, int, error)
}
