package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/papersim/internal/metrics"
	"github.com/papersim/internal/models"
	"github.com/papersim/internal/repository"
	"github.com/shopspring/decimal"
)

// ClockState is the simulated clock of one account
type ClockState struct {
	AccountID        string                  `json:"account_id"`
	SimulatedTime    time.Time               `json:"simulated_time"`
	StartTime        time.Time               `json:"start_time"`
	Speed            float64                 `json:"speed"`
	Paused           bool                    `json:"paused"`
	LastProcessedDay string                  `json:"last_processed_day"`
	ThresholdOutcome models.ThresholdOutcome `json:"threshold_outcome"`
}

func clockStateOf(accountID string, s *models.Settings) *ClockState {
	return &ClockState{
		AccountID:        accountID,
		SimulatedTime:    s.SimulatedTime,
		StartTime:        s.StartTime,
		Speed:            s.Speed,
		Paused:           s.Paused,
		LastProcessedDay: s.LastProcessedDay,
		ThresholdOutcome: s.ThresholdOutcome,
	}
}

// FeeSweepResult reports the outcome of one end-of-day sweep
type FeeSweepResult struct {
	AccountID          string          `json:"account_id"`
	Day                string          `json:"day"`
	Applied            bool            `json:"applied"`
	Positions          int             `json:"positions"`
	HoldingCharged     decimal.Decimal `json:"holding_charged"`
	HoldingShortfall   decimal.Decimal `json:"holding_shortfall"`
	OvernightCharged   decimal.Decimal `json:"overnight_charged"`
	OvernightShortfall decimal.Decimal `json:"overnight_shortfall"`
}

// TickResult is the clock after a tick and the sweep it triggered, if any
type TickResult struct {
	Clock *ClockState     `json:"clock"`
	Sweep *FeeSweepResult `json:"sweep,omitempty"`
}

// ClockService advances each account's simulated clock and runs the
// end-of-day fee sweep when the simulated calendar day changes
type ClockService struct {
	store   *repository.Store
	locker  *AccountLocker
	metrics *metrics.Metrics
	monitor *ThresholdMonitor
	session *MarketSession
}

// NewClockService creates a new ClockService
func NewClockService(store *repository.Store, locker *AccountLocker, m *metrics.Metrics, monitor *ThresholdMonitor) *ClockService {
	return &ClockService{
		store:   store,
		locker:  locker,
		metrics: m,
		monitor: monitor,
	}
}

// SetMarketSession confines ticks to a trading session and rolls days over
// in its timezone. A nil session restores the linear UTC clock.
func (s *ClockService) SetMarketSession(session *MarketSession) {
	s.session = session
}

// Today returns the current simulated day of the account
func (s *ClockService) Today(ctx context.Context, accountID string) (string, error) {
	now, err := s.Now(ctx, accountID)
	if err != nil {
		return "", err
	}
	return s.session.Day(now), nil
}

// Now returns the simulated timestamp of the account
func (s *ClockService) Now(ctx context.Context, accountID string) (time.Time, error) {
	account, err := s.store.Repos(ctx).Accounts.GetByID(accountID)
	if err != nil {
		return time.Time{}, persistenceError(err)
	}
	return account.Settings.Now(), nil
}

// State returns the clock of the account
func (s *ClockService) State(ctx context.Context, accountID string) (*ClockState, error) {
	account, err := s.store.Repos(ctx).Accounts.GetByID(accountID)
	if err != nil {
		return nil, persistenceError(err)
	}
	return clockStateOf(accountID, account.Settings), nil
}

// Tick advances the simulated time by speed x elapsed while the clock runs.
// Moving into a later calendar day charges the end-of-day fees once, in the
// same transaction that records the new day. The first tick after the day
// was cleared only records the day it lands on.
func (s *ClockService) Tick(ctx context.Context, accountID string, elapsed time.Duration) (*TickResult, error) {
	if elapsed < 0 {
		return nil, validationError("elapsed time must not be negative, got %s", elapsed)
	}

	var sweep *FeeSweepResult
	account, err := mutateAccount(ctx, s.store, s.locker, accountID, func(r *repository.Repos, account *models.Account) error {
		settings := account.Settings
		if settings.Paused {
			return nil
		}

		if settings.SimulatedTime.IsZero() {
			settings.SimulatedTime = settings.StartTime
		}
		settings.SimulatedTime = s.session.Advance(settings.SimulatedTime, time.Duration(float64(elapsed)*settings.Speed))

		day := s.session.Day(settings.SimulatedTime)
		switch {
		case settings.LastProcessedDay == "":
			settings.LastProcessedDay = day
		case day > settings.LastProcessedDay:
			result, err := applyEndOfDay(r, account, day)
			if err != nil {
				return err
			}
			sweep = result
		}

		return r.Accounts.SaveSettings(settings)
	})
	if err != nil {
		return nil, err
	}

	if sweep != nil {
		s.metrics.FeeSweep()
	}
	return &TickResult{Clock: clockStateOf(accountID, account.Settings), Sweep: sweep}, nil
}

// EndOfDayCharges runs the fee sweep for day unless that day, or a later
// one, has already been processed
func (s *ClockService) EndOfDayCharges(ctx context.Context, accountID, day string) (*FeeSweepResult, error) {
	if _, err := time.Parse(models.DayLayout, day); err != nil {
		return nil, validationError("day must be formatted as %s, got %q", models.DayLayout, day)
	}

	start := time.Now()
	result := &FeeSweepResult{AccountID: accountID, Day: day}
	_, err := mutateAccount(ctx, s.store, s.locker, accountID, func(r *repository.Repos, account *models.Account) error {
		settings := account.Settings
		if settings.LastProcessedDay != "" && day <= settings.LastProcessedDay {
			return nil
		}

		applied, err := applyEndOfDay(r, account, day)
		if err != nil {
			return err
		}
		result = applied
		return r.Accounts.SaveSettings(settings)
	})
	s.metrics.ObserveOp("end_of_day", start, Reason(err))
	if err != nil {
		return nil, err
	}

	if result.Applied {
		s.metrics.FeeSweep()
		s.monitor.Observe(ctx, accountID)
	}
	return result, nil
}

// applyEndOfDay charges the flat holding cost once per open position and the
// flat overnight fee once when margin is borrowed, then records day as
// processed. The caller saves
// the settings. Charges are capped at the available balance of their pool
// and the uncollected remainder is reported as a shortfall.
func applyEndOfDay(r *repository.Repos, account *models.Account, day string) (*FeeSweepResult, error) {
	settings := account.Settings
	open, err := r.Positions.GetOpenByAccountID(account.ID)
	if err != nil {
		return nil, err
	}

	result := &FeeSweepResult{
		AccountID: account.ID,
		Day:       day,
		Applied:   true,
		Positions: len(open),
	}

	holding := settings.HoldingCostRate.Mul(decimal.NewFromInt(int64(len(open))))
	result.HoldingCharged, result.HoldingShortfall = chargeCapped(account, poolOf(settings.HoldingCostType), holding)

	result.OvernightCharged, result.OvernightShortfall = decimal.Zero, decimal.Zero
	if settings.BorrowedMargin.IsPositive() {
		result.OvernightCharged, result.OvernightShortfall = chargeCapped(account, poolOf(settings.OvernightFeeType), settings.OvernightFeeRate)
	}

	settings.LastProcessedDay = day

	if err := r.Accounts.UpdateBalances(account); err != nil {
		return nil, fmt.Errorf("failed to update balances: %w", err)
	}

	details := fmt.Sprintf("day %s: holding %s on %d positions, overnight %s",
		day, result.HoldingCharged.String(), result.Positions, result.OvernightCharged.String())
	if result.HoldingShortfall.IsPositive() || result.OvernightShortfall.IsPositive() {
		details += fmt.Sprintf(", uncollected holding %s overnight %s",
			result.HoldingShortfall.String(), result.OvernightShortfall.String())
		log.Printf("[Clock] Account %s could not cover end-of-day fees for %s: %s", account.ID, day, details)
	}
	if err := journal(r, account.ID, settings.Now(), models.ActivityEndOfDay, details, models.EventFeesCharged, result); err != nil {
		return nil, err
	}
	return result, nil
}

// chargeCapped debits amount from pool without taking it below zero
func chargeCapped(account *models.Account, pool models.BalanceType, amount decimal.Decimal) (charged, shortfall decimal.Decimal) {
	available := decimal.Max(account.Balance(pool), decimal.Zero)
	charged = decimal.Min(amount, available)
	account.Debit(pool, charged)
	return charged, amount.Sub(charged)
}

// SetPaused pauses or resumes the clock. Resuming starts a new pause cycle,
// so a latched win/lose outcome is cleared.
func (s *ClockService) SetPaused(ctx context.Context, accountID string, paused bool) (*ClockState, error) {
	return s.update(ctx, accountID, func(settings *models.Settings) (string, error) {
		settings.Paused = paused
		if !paused {
			settings.ThresholdOutcome = models.OutcomeNone
			return "clock resumed", nil
		}
		return "clock paused", nil
	})
}

// SetSpeed changes the simulated-time multiplier
func (s *ClockService) SetSpeed(ctx context.Context, accountID string, speed float64) (*ClockState, error) {
	if speed <= 0 {
		return nil, validationError("speed must be positive, got %v", speed)
	}
	return s.update(ctx, accountID, func(settings *models.Settings) (string, error) {
		settings.Speed = speed
		return fmt.Sprintf("clock speed set to %v", speed), nil
	})
}

// SetStartTime rewinds or forwards the clock to t and forgets the last
// processed day so stale day charges do not fire
func (s *ClockService) SetStartTime(ctx context.Context, accountID string, t time.Time) (*ClockState, error) {
	if t.IsZero() {
		return nil, validationError("start time is required")
	}
	return s.update(ctx, accountID, func(settings *models.Settings) (string, error) {
		resetClock(settings, t.UTC())
		return fmt.Sprintf("clock start set to %s", settings.StartTime.Format(time.RFC3339)), nil
	})
}

func resetClock(settings *models.Settings, t time.Time) {
	settings.StartTime = t
	settings.SimulatedTime = t
	settings.LastProcessedDay = ""
}

func (s *ClockService) update(ctx context.Context, accountID string, fn func(settings *models.Settings) (string, error)) (*ClockState, error) {
	account, err := mutateAccount(ctx, s.store, s.locker, accountID, func(r *repository.Repos, account *models.Account) error {
		details, err := fn(account.Settings)
		if err != nil {
			return err
		}
		if err := r.Accounts.SaveSettings(account.Settings); err != nil {
			return fmt.Errorf("failed to update clock: %w", err)
		}
		return journal(r, accountID, account.Settings.Now(), models.ActivityClock, details,
			models.EventClockChanged, clockStateOf(accountID, account.Settings))
	})
	if err != nil {
		return nil, err
	}
	return clockStateOf(accountID, account.Settings), nil
}
