package models

import "errors"

// Business rule violations. Callers receive these verbatim; a request that
// lost a race gets the same error as one that was never allowed.
var (
	ErrCapacityExceeded  = errors.New("license capacity exceeded for round")
	ErrSoldOut           = errors.New("product is sold out")
	ErrNotEligible       = errors.New("not eligible")
	ErrNotOwner          = errors.New("caller does not own this license")
	ErrInsufficient      = errors.New("insufficient royalty license inventory")
	ErrInsufficientFunds = errors.New("insufficient available earnings")
	ErrLimitExceeded     = errors.New("payout method limit exceeded")
	ErrNoVerifiedMethod  = errors.New("no active verified payout method")
	ErrAlreadyClaimed    = errors.New("license already has an active royalty claim")
	ErrRoundClosed       = errors.New("round is not open")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
)

// ErrUnavailable is returned when transient storage failures persist after
// the bounded retries.
var ErrUnavailable = errors.New("service temporarily unavailable")

// ErrorCode returns the stable wire code for a domain error, or "" when err
// is not one.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		return "CapacityExceeded"
	case errors.Is(err, ErrSoldOut):
		return "SoldOut"
	case errors.Is(err, ErrNotEligible):
		return "NotEligible"
	case errors.Is(err, ErrNotOwner):
		return "NotOwner"
	case errors.Is(err, ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, ErrInsufficient):
		return "Insufficient"
	case errors.Is(err, ErrLimitExceeded):
		return "LimitExceeded"
	case errors.Is(err, ErrNoVerifiedMethod):
		return "NoVerifiedMethod"
	case errors.Is(err, ErrAlreadyClaimed):
		return "AlreadyClaimed"
	case errors.Is(err, ErrRoundClosed):
		return "RoundClosed"
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrUnavailable):
		return "Unavailable"
	default:
		return ""
	}
}
