// Package memory provides an in-process implementation of store.Store.
// Transactions are serialized by a single mutex and run against a copy of
// the state that replaces the live state only on success.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/MacJediWizard/roundledger/internal/store"
	"github.com/google/uuid"
)

var errReadOnly = errors.New("write attempted in read-only transaction")

type state struct {
	products        map[uuid.UUID]models.Product
	transitions     []models.RoundTransition
	licenses        map[uuid.UUID]models.License
	licenseOrder    []uuid.UUID
	transfers       []models.LicenseTransfer
	platform        map[uuid.UUID]models.PlatformProduct
	platformOrder   []uuid.UUID
	claims          map[uuid.UUID]models.RoyaltyClaim
	claimOrder      []uuid.UUID
	royaltyLicenses []models.RoyaltyLicense
	methods         map[uuid.UUID]models.PayoutMethod
	methodOrder     []uuid.UUID
	earnings        map[uuid.UUID]models.UserEarnings
	entries         []models.EarningsEntry
	payouts         map[uuid.UUID]models.Payout
	payoutOrder     []uuid.UUID
}

func newState() *state {
	return &state{
		products: make(map[uuid.UUID]models.Product),
		licenses: make(map[uuid.UUID]models.License),
		platform: make(map[uuid.UUID]models.PlatformProduct),
		claims:   make(map[uuid.UUID]models.RoyaltyClaim),
		methods:  make(map[uuid.UUID]models.PayoutMethod),
		earnings: make(map[uuid.UUID]models.UserEarnings),
		payouts:  make(map[uuid.UUID]models.Payout),
	}
}

func (s *state) clone() *state {
	return &state{
		products:        maps.Clone(s.products),
		transitions:     slices.Clone(s.transitions),
		licenses:        maps.Clone(s.licenses),
		licenseOrder:    slices.Clone(s.licenseOrder),
		transfers:       slices.Clone(s.transfers),
		platform:        maps.Clone(s.platform),
		platformOrder:   slices.Clone(s.platformOrder),
		claims:          maps.Clone(s.claims),
		claimOrder:      slices.Clone(s.claimOrder),
		royaltyLicenses: slices.Clone(s.royaltyLicenses),
		methods:         maps.Clone(s.methods),
		methodOrder:     slices.Clone(s.methodOrder),
		earnings:        maps.Clone(s.earnings),
		entries:         slices.Clone(s.entries),
		payouts:         maps.Clone(s.payouts),
		payoutOrder:     slices.Clone(s.payoutOrder),
	}
}

// Store is an in-memory store.Store.
type Store struct {
	mu     sync.RWMutex
	st     *state
	faults map[string]error
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		st:     newState(),
		faults: make(map[string]error),
	}
}

// InjectFault makes the next call of the named Tx method return err.
func (s *Store) InjectFault(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = err
}

// InTx runs fn against a private copy of the state and publishes the copy
// only when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work, faults: s.faults}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// View runs fn against the live state; writes are rejected.
func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{st: s.st, readOnly: true})
}

// Ping reports whether the store is usable.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Health returns record counts for the health endpoint.
func (s *Store) Health() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"driver":   "memory",
		"products": len(s.st.products),
		"licenses": len(s.st.licenses),
		"claims":   len(s.st.claims),
		"payouts":  len(s.st.payouts),
	}
}

type tx struct {
	st       *state
	readOnly bool
	faults   map[string]error
}

var _ store.Tx = (*tx)(nil)

func (t *tx) write(method string) error {
	if t.readOnly {
		return fmt.Errorf("%s: %w", method, errReadOnly)
	}
	if err, ok := t.faults[method]; ok {
		delete(t.faults, method)
		return err
	}
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 || offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return slices.Clone(items[offset:end])
}

func notFound(what string, id uuid.UUID) error {
	return fmt.Errorf("%s %s: %w", what, id, models.ErrNotFound)
}
