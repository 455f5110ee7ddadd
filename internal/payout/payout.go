// Package payout settles creator earnings. A user's balance moves between
// three buckets: available (withdrawable), reserved (held by a pending or
// processing payout) and withdrawn (paid out). Every movement happens under
// the balance row lock and is journaled as an EarningsEntry.
package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/roundledger/internal/events"
	"github.com/MacJediWizard/roundledger/internal/metrics"
	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/MacJediWizard/roundledger/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Config holds settlement settings.
type Config struct {
	// Minimum is the smallest amount a payout may request.
	Minimum decimal.Decimal
}

// Service implements payout settlement.
type Service struct {
	store   store.Store
	cfg     Config
	metrics *metrics.Metrics
	events  events.Publisher
	logger  zerolog.Logger
	now     func() time.Time
}

// NewService creates a new Service.
func NewService(s store.Store, cfg Config, m *metrics.Metrics, pub events.Publisher, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		store:   s,
		cfg:     cfg,
		metrics: m,
		events:  pub,
		logger:  logger.With().Str("component", "payout").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Round(2))
}

// Credit adds amount to the user's available balance inside tx. Other
// packages call it from their own transactions so a sale and the
// creator's credit commit together; now is the caller's clock.
func Credit(ctx context.Context, tx store.PayoutTx, userID uuid.UUID, amount decimal.Decimal, kind models.EarningsKind, ref *uuid.UUID, now time.Time) error {
	if !validAmount(amount) {
		return fmt.Errorf("%w: credit amount must be positive with at most 2 decimals", models.ErrInvalidInput)
	}
	bal, err := tx.GetEarningsForUpdate(ctx, userID)
	if err != nil {
		return fmt.Errorf("lock earnings: %w", err)
	}
	bal.Available = bal.Available.Add(amount)
	bal.UpdatedAt = now
	if err := tx.UpdateEarnings(ctx, bal); err != nil {
		return fmt.Errorf("update earnings: %w", err)
	}
	return journal(ctx, tx, userID, kind, amount, ref, now)
}

func journal(ctx context.Context, tx store.PayoutTx, userID uuid.UUID, kind models.EarningsKind, amount decimal.Decimal, ref *uuid.UUID, now time.Time) error {
	entry := &models.EarningsEntry{
		ID:          uuid.New(),
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		ReferenceID: ref,
		CreatedAt:   now,
	}
	if err := tx.CreateEarningsEntry(ctx, entry); err != nil {
		return fmt.Errorf("record earnings entry: %w", err)
	}
	return nil
}

// CreditEarnings credits a royalty distribution or manual adjustment.
func (s *Service) CreditEarnings(ctx context.Context, req models.CreditEarningsRequest) (*models.UserEarnings, error) {
	if req.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", models.ErrInvalidInput)
	}
	if req.Kind != models.EarningsRoyalty && req.Kind != models.EarningsAdjustment {
		return nil, fmt.Errorf("%w: kind must be royalty or adjustment", models.ErrInvalidInput)
	}

	var bal *models.UserEarnings
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := Credit(ctx, tx, req.UserID, req.Amount, req.Kind, req.ReferenceID, s.now()); err != nil {
			return err
		}
		var err error
		bal, err = tx.GetEarnings(ctx, req.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", req.UserID.String()).
		Str("kind", string(req.Kind)).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("earnings credited")
	return bal, nil
}

// AddPayoutMethod registers a payout destination. A user may hold at most
// one active bank method.
func (s *Service) AddPayoutMethod(ctx context.Context, userID uuid.UUID, req models.AddPayoutMethodRequest) (*models.PayoutMethod, error) {
	if !req.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: unsupported payment method %q", models.ErrInvalidInput, req.PaymentMethod)
	}
	if len(req.AccountDetails) == 0 {
		return nil, fmt.Errorf("%w: account_details are required", models.ErrInvalidInput)
	}

	now := s.now()
	m := &models.PayoutMethod{
		ID:             uuid.New(),
		UserID:         userID,
		PaymentMethod:  req.PaymentMethod,
		AccountDetails: req.AccountDetails,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		// Serialize method changes for this user on the balance row.
		if _, err := tx.GetEarningsForUpdate(ctx, userID); err != nil {
			return fmt.Errorf("lock earnings: %w", err)
		}
		if m.PaymentMethod == models.PaymentMethodBank {
			existing, err := tx.ListPayoutMethodsByUser(ctx, userID)
			if err != nil {
				return fmt.Errorf("list payout methods: %w", err)
			}
			for _, e := range existing {
				if e.IsActive && e.PaymentMethod == models.PaymentMethodBank {
					return fmt.Errorf("%w: an active bank method already exists", models.ErrLimitExceeded)
				}
			}
		}
		return tx.CreatePayoutMethod(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", userID.String()).
		Str("method_id", m.ID.String()).
		Str("payment_method", string(m.PaymentMethod)).
		Msg("payout method added")
	return m, nil
}

// VerifyPayoutMethod marks an active method as verified.
func (s *Service) VerifyPayoutMethod(ctx context.Context, methodID uuid.UUID) (*models.PayoutMethod, error) {
	var m *models.PayoutMethod
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		m, err = tx.GetPayoutMethod(ctx, methodID)
		if err != nil {
			return err
		}
		if !m.IsActive {
			return fmt.Errorf("%w: payout method is inactive", models.ErrInvalidTransition)
		}
		if m.IsVerified {
			return nil
		}
		m.IsVerified = true
		m.UpdatedAt = s.now()
		return tx.UpdatePayoutMethod(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DeactivatePayoutMethod deactivates one of the caller's methods.
func (s *Service) DeactivatePayoutMethod(ctx context.Context, userID, methodID uuid.UUID) (*models.PayoutMethod, error) {
	var m *models.PayoutMethod
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		m, err = tx.GetPayoutMethod(ctx, methodID)
		if err != nil {
			return err
		}
		if m.UserID != userID {
			return fmt.Errorf("payout method %s: %w", methodID, models.ErrNotFound)
		}
		if !m.IsActive {
			return nil
		}
		m.IsActive = false
		m.UpdatedAt = s.now()
		return tx.UpdatePayoutMethod(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetPayoutInfo returns the caller's methods, their summary flags and
// balances.
func (s *Service) GetPayoutInfo(ctx context.Context, userID uuid.UUID) (*models.PayoutInfo, error) {
	info := &models.PayoutInfo{Methods: []*models.PayoutMethod{}}
	err := s.store.View(ctx, func(tx store.Tx) error {
		methods, err := tx.ListPayoutMethodsByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("list payout methods: %w", err)
		}
		for _, m := range methods {
			info.Methods = append(info.Methods, m)
			if m.IsActive {
				info.Summary.HasActivePayoutMethod = true
				if m.IsVerified {
					info.Summary.HasVerifiedPayoutMethod = true
				}
			}
		}
		info.Earnings, err = tx.GetEarnings(ctx, userID)
		if err != nil {
			return fmt.Errorf("get earnings: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// RequestPayout reserves amount from the caller's available balance and
// opens a pending payout to an active verified method.
func (s *Service) RequestPayout(ctx context.Context, userID uuid.UUID, req models.RequestPayoutRequest) (*models.Payout, error) {
	if !validAmount(req.Amount) {
		return nil, fmt.Errorf("%w: amount must be positive with at most 2 decimals", models.ErrInvalidInput)
	}
	if req.Amount.LessThan(s.cfg.Minimum) {
		return nil, fmt.Errorf("%w: amount is below the minimum payout of %s", models.ErrInvalidInput, s.cfg.Minimum.StringFixed(2))
	}

	var p *models.Payout
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		m, err := tx.GetPayoutMethod(ctx, req.PayoutInfoID)
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNoVerifiedMethod
		}
		if err != nil {
			return fmt.Errorf("get payout method: %w", err)
		}
		if m.UserID != userID || !m.IsActive || !m.IsVerified {
			return models.ErrNoVerifiedMethod
		}

		bal, err := tx.GetEarningsForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("lock earnings: %w", err)
		}
		if req.Amount.GreaterThan(bal.Available) {
			return fmt.Errorf("%w: requested %s, available %s", models.ErrInsufficientFunds,
				req.Amount.StringFixed(2), bal.Available.StringFixed(2))
		}

		now := s.now()
		bal.Available = bal.Available.Sub(req.Amount)
		bal.Reserved = bal.Reserved.Add(req.Amount)
		bal.UpdatedAt = now
		if err := tx.UpdateEarnings(ctx, bal); err != nil {
			return fmt.Errorf("update earnings: %w", err)
		}

		p = &models.Payout{
			ID:           uuid.New(),
			UserID:       userID,
			Amount:       req.Amount,
			Status:       models.PayoutStatusPending,
			PayoutInfoID: m.ID,
			Notes:        req.Notes,
			RequestedAt:  now,
			UpdatedAt:    now,
		}
		if err := tx.CreatePayout(ctx, p); err != nil {
			return fmt.Errorf("create payout: %w", err)
		}
		return journal(ctx, tx, userID, models.EarningsPayoutReserved, req.Amount, &p.ID, now)
	})
	if err != nil {
		return nil, err
	}

	amount, _ := req.Amount.Float64()
	s.metrics.ObservePayoutAmount(amount)
	s.metrics.RecordPayout(string(models.PayoutStatusPending))
	s.publish(models.EventPayoutRequested, p)
	s.logger.Info().
		Str("payout_id", p.ID.String()).
		Str("user_id", userID.String()).
		Str("amount", p.Amount.StringFixed(2)).
		Msg("payout requested")
	return p, nil
}

// MarkProcessing moves a pending payout to processing.
func (s *Service) MarkProcessing(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	return s.settle(ctx, payoutID, models.PayoutStatusProcessing, "")
}

// CompletePayout moves reserved funds to withdrawn. Completing a completed
// payout returns it unchanged.
func (s *Service) CompletePayout(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	return s.settle(ctx, payoutID, models.PayoutStatusCompleted, "")
}

// FailPayout releases reserved funds back to available. Failing a failed
// payout returns it unchanged.
func (s *Service) FailPayout(ctx context.Context, payoutID uuid.UUID, reason string) (*models.Payout, error) {
	return s.settle(ctx, payoutID, models.PayoutStatusFailed, reason)
}

func (s *Service) settle(ctx context.Context, payoutID uuid.UUID, to models.PayoutStatus, reason string) (*models.Payout, error) {
	var (
		p       *models.Payout
		changed bool
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.GetPayoutForUpdate(ctx, payoutID)
		if err != nil {
			return err
		}
		if p.Status == to {
			changed = false
			return nil
		}
		if p.Status.Terminal() || (to == models.PayoutStatusProcessing && p.Status != models.PayoutStatusPending) {
			return fmt.Errorf("%w: payout is %s", models.ErrInvalidTransition, p.Status)
		}

		now := s.now()
		if to != models.PayoutStatusProcessing {
			bal, err := tx.GetEarningsForUpdate(ctx, p.UserID)
			if err != nil {
				return fmt.Errorf("lock earnings: %w", err)
			}
			if bal.Reserved.LessThan(p.Amount) {
				return fmt.Errorf("reserved balance %s below payout amount %s", bal.Reserved.StringFixed(2), p.Amount.StringFixed(2))
			}
			bal.Reserved = bal.Reserved.Sub(p.Amount)
			kind := models.EarningsPayoutCompleted
			if to == models.PayoutStatusCompleted {
				bal.Withdrawn = bal.Withdrawn.Add(p.Amount)
			} else {
				bal.Available = bal.Available.Add(p.Amount)
				kind = models.EarningsPayoutReleased
			}
			bal.UpdatedAt = now
			if err := tx.UpdateEarnings(ctx, bal); err != nil {
				return fmt.Errorf("update earnings: %w", err)
			}
			if err := journal(ctx, tx, p.UserID, kind, p.Amount, &p.ID, now); err != nil {
				return err
			}
		}

		p.Status = to
		p.UpdatedAt = now
		switch to {
		case models.PayoutStatusProcessing:
			p.ProcessedAt = &now
		case models.PayoutStatusCompleted:
			p.CompletedAt = &now
		case models.PayoutStatusFailed:
			p.FailedAt = &now
			p.FailureReason = reason
		}
		if err := tx.UpdatePayout(ctx, p); err != nil {
			return fmt.Errorf("update payout: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return p, nil
	}

	s.metrics.RecordPayout(string(to))
	switch to {
	case models.PayoutStatusCompleted:
		s.publish(models.EventPayoutCompleted, p)
	case models.PayoutStatusFailed:
		s.publish(models.EventPayoutFailed, p)
	}
	s.logger.Info().
		Str("payout_id", p.ID.String()).
		Str("status", string(to)).
		Msg("payout settled")
	return p, nil
}

// ListPayouts returns the caller's payouts, newest first.
func (s *Service) ListPayouts(ctx context.Context, userID uuid.UUID, page models.Page) (*models.PageResult[*models.Payout], error) {
	var res models.PageResult[*models.Payout]
	err := s.store.View(ctx, func(tx store.Tx) error {
		items, total, err := tx.ListPayoutsByUser(ctx, userID, page.Limit, page.Offset())
		if err != nil {
			return fmt.Errorf("list payouts: %w", err)
		}
		res.Items = items
		res.Pagination = models.NewPagination(page, total)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Items == nil {
		res.Items = []*models.Payout{}
	}
	return &res, nil
}

func (s *Service) publish(t models.LedgerEventType, p *models.Payout) {
	userID := p.UserID
	s.events.Publish(models.NewLedgerEvent(t, nil, &userID, map[string]any{
		"payout_id": p.ID,
		"amount":    p.Amount.StringFixed(2),
		"status":    p.Status,
	}))
}
