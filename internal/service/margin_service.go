package service

import (
	"context"
	"fmt"
	"time"

	"github.com/papersim/internal/metrics"
	"github.com/papersim/internal/models"
	"github.com/papersim/internal/repository"
	"github.com/shopspring/decimal"
)

var (
	minLeverage = decimal.NewFromInt(1)
	maxLeverage = decimal.NewFromInt(10)
)

// MarginService manages borrowed margin. SetLeverage is the primary
// interface; Borrow and Payback adjust the borrowed amount directly.
type MarginService struct {
	store   *repository.Store
	locker  *AccountLocker
	metrics *metrics.Metrics
	monitor *ThresholdMonitor
}

// NewMarginService creates a new MarginService
func NewMarginService(store *repository.Store, locker *AccountLocker, m *metrics.Metrics, monitor *ThresholdMonitor) *MarginService {
	return &MarginService{
		store:   store,
		locker:  locker,
		metrics: m,
		monitor: monitor,
	}
}

// Borrow adds amount to both the borrowed margin and the simulated balance
func (s *MarginService) Borrow(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Account, error) {
	if !amount.IsPositive() {
		return nil, validationError("borrow amount must be positive, got %s", amount)
	}

	return s.apply(ctx, "borrow", accountID, func(settings *models.Settings, account *models.Account) (string, error) {
		available := settings.MarginLimit.Sub(settings.BorrowedMargin)
		if amount.GreaterThan(available) {
			return "", fmt.Errorf("%w: requested %s, available %s",
				ErrMarginLimitExceeded, amount.StringFixed(2), available.StringFixed(2))
		}
		settings.BorrowedMargin = settings.BorrowedMargin.Add(amount)
		account.SimulatedBalance = account.SimulatedBalance.Add(amount)
		return models.ActivityBorrow, nil
	})
}

// Payback removes amount from both the borrowed margin and the simulated balance
func (s *MarginService) Payback(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Account, error) {
	if !amount.IsPositive() {
		return nil, validationError("payback amount must be positive, got %s", amount)
	}

	return s.apply(ctx, "payback", accountID, func(settings *models.Settings, account *models.Account) (string, error) {
		if amount.GreaterThan(settings.BorrowedMargin) {
			return "", validationError("payback %s exceeds borrowed margin %s",
				amount.StringFixed(2), settings.BorrowedMargin.StringFixed(2))
		}
		if amount.GreaterThan(account.SimulatedBalance) {
			return "", fmt.Errorf("%w: payback %s exceeds simulated balance %s",
				ErrInsufficientFunds, amount.StringFixed(2), account.SimulatedBalance.StringFixed(2))
		}
		settings.BorrowedMargin = settings.BorrowedMargin.Sub(amount)
		account.SimulatedBalance = account.SimulatedBalance.Sub(amount)
		return models.ActivityPayback, nil
	})
}

// SetLeverage moves the borrowed margin to base*(multiplier-1), where base is
// the simulated balance net of what is already borrowed
func (s *MarginService) SetLeverage(ctx context.Context, accountID string, multiplier decimal.Decimal) (*models.Account, error) {
	if multiplier.LessThan(minLeverage) || multiplier.GreaterThan(maxLeverage) {
		return nil, validationError("leverage must be between 1 and 10, got %s", multiplier)
	}

	return s.apply(ctx, "leverage", accountID, func(settings *models.Settings, account *models.Account) (string, error) {
		base := account.SimulatedBalance.Sub(settings.BorrowedMargin)
		if !base.IsPositive() && multiplier.GreaterThan(minLeverage) {
			return "", validationError("cannot lever a base balance of %s", base.StringFixed(2))
		}

		target := base.Mul(multiplier.Sub(minLeverage))
		if target.GreaterThan(settings.MarginLimit) {
			return "", fmt.Errorf("%w: %sx needs %s, limit is %s",
				ErrMarginLimitExceeded, multiplier, target.StringFixed(2), settings.MarginLimit.StringFixed(2))
		}

		delta := target.Sub(settings.BorrowedMargin)
		settings.BorrowedMargin = target
		account.SimulatedBalance = account.SimulatedBalance.Add(delta)
		return models.ActivityLeverage, nil
	})
}

func (s *MarginService) apply(ctx context.Context, op, accountID string,
	fn func(settings *models.Settings, account *models.Account) (string, error)) (*models.Account, error) {
	start := time.Now()
	account, err := mutateAccount(ctx, s.store, s.locker, accountID, func(r *repository.Repos, account *models.Account) error {
		settings := account.Settings
		before := settings.BorrowedMargin

		action, err := fn(settings, account)
		if err != nil {
			return err
		}
		if err := checkBalances(account); err != nil {
			return err
		}

		if err := r.Accounts.UpdateBalances(account); err != nil {
			return fmt.Errorf("failed to update balances: %w", err)
		}
		if err := r.Accounts.SaveSettings(settings); err != nil {
			return fmt.Errorf("failed to update margin: %w", err)
		}

		details := fmt.Sprintf("borrowed margin %s -> %s, simulated balance %s",
			before.StringFixed(2), settings.BorrowedMargin.StringFixed(2), account.SimulatedBalance.StringFixed(2))
		return journal(r, accountID, settings.Now(), action, details, models.EventMarginChanged, map[string]interface{}{
			"op":                op,
			"borrowed_margin":   settings.BorrowedMargin,
			"simulated_balance": account.SimulatedBalance,
		})
	})
	s.metrics.ObserveOp(op, start, Reason(err))
	if err != nil {
		return nil, err
	}

	s.monitor.Observe(ctx, accountID)
	return account, nil
}
