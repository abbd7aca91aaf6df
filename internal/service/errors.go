package service

import (
	"errors"
	"fmt"

	"github.com/papersim/internal/repository"
)

var (
	ErrValidation                = errors.New("validation error")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrInsufficientShortCapacity = errors.New("insufficient short capacity")
	ErrMarginLimitExceeded       = errors.New("margin limit exceeded")
	ErrPositionAlreadyClosed     = errors.New("position already closed")
	ErrSettlementConflict        = errors.New("settlement conflict")
	ErrPersistenceFailure        = errors.New("persistence failure")
	ErrPriceUnavailable          = errors.New("price unavailable")

	ErrAccountNotFound  = repository.ErrAccountNotFound
	ErrPositionNotFound = repository.ErrPositionNotFound
)

var domainErrors = []error{
	ErrValidation,
	ErrInsufficientFunds,
	ErrInsufficientShortCapacity,
	ErrMarginLimitExceeded,
	ErrPositionAlreadyClosed,
	ErrSettlementConflict,
	ErrPersistenceFailure,
	ErrPriceUnavailable,
	ErrAccountNotFound,
	ErrPositionNotFound,
}

// IsRetryable reports whether the operation failed without side effects for a
// reason that may clear up on its own
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistenceFailure) || errors.Is(err, ErrSettlementConflict)
}

// Reason returns a short label for the error class, used in metrics
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientShortCapacity):
		return "short_capacity"
	case errors.Is(err, ErrMarginLimitExceeded):
		return "margin_limit"
	case errors.Is(err, ErrPositionAlreadyClosed):
		return "already_closed"
	case errors.Is(err, ErrSettlementConflict):
		return "conflict"
	case errors.Is(err, ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrPositionNotFound):
		return "not_found"
	default:
		return "persistence"
	}
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// persistenceError passes domain errors through and wraps anything else the
// store returned as a retryable persistence failure
func persistenceError(err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
