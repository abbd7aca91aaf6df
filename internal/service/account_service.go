package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/papersim/internal/config"
	"github.com/papersim/internal/metrics"
	"github.com/papersim/internal/models"
	"github.com/papersim/internal/repository"
	"github.com/shopspring/decimal"
)

// AccountService handles account lifecycle and settings
type AccountService struct {
	store    *repository.Store
	locker   *AccountLocker
	defaults config.DefaultsConfig
	metrics  *metrics.Metrics
	monitor  *ThresholdMonitor
}

// NewAccountService creates a new AccountService
func NewAccountService(
	store *repository.Store,
	locker *AccountLocker,
	defaults config.DefaultsConfig,
	m *metrics.Metrics,
	monitor *ThresholdMonitor,
) *AccountService {
	return &AccountService{
		store:    store,
		locker:   locker,
		defaults: defaults,
		metrics:  m,
		monitor:  monitor,
	}
}

// CreateAccountRequest represents the create account request
type CreateAccountRequest struct {
	Name        string           `json:"name" binding:"max=100"`
	RealBalance *decimal.Decimal `json:"real_balance"`
	Settings    *SettingsPatch   `json:"settings"`
}

// SettingsPatch carries the settings fields to change. Nil fields are left as they are.
type SettingsPatch struct {
	CommissionRate          *decimal.Decimal    `json:"commission_rate"`
	CommissionType          *models.BalanceType `json:"commission_type"`
	HoldingCostRate         *decimal.Decimal    `json:"holding_cost_rate"`
	HoldingCostType         *models.BalanceType `json:"holding_cost_type"`
	MarginLimit             *decimal.Decimal    `json:"margin_limit"`
	OvernightFeeRate        *decimal.Decimal    `json:"overnight_fee_rate"`
	OvernightFeeType        *models.BalanceType `json:"overnight_fee_type"`
	PowerUpFee              *decimal.Decimal    `json:"power_up_fee"`
	PowerUpType             *models.BalanceType `json:"power_up_type"`
	GainRateThreshold       *decimal.Decimal    `json:"gain_rate_threshold"`
	DrawdownRateThreshold   *decimal.Decimal    `json:"drawdown_rate_threshold"`
	InitialSimulatedBalance *decimal.Decimal    `json:"initial_simulated_balance"`
	Speed                   *float64            `json:"speed"`
	Paused                  *bool               `json:"paused"`
	StartTime               *time.Time          `json:"start_time"`
}

// AccountView is an account with its current threshold picture
type AccountView struct {
	*models.Account
	Threshold *ThresholdSnapshot `json:"threshold"`
}

// DefaultSettings builds the settings given to a new account
func (s *AccountService) DefaultSettings() (*models.Settings, error) {
	start, err := s.defaults.ParseStartTime()
	if err != nil {
		return nil, err
	}
	d := s.defaults
	return &models.Settings{
		CommissionRate:          decimal.NewFromFloat(d.CommissionRate),
		CommissionType:          models.BalanceType(d.CommissionType),
		HoldingCostRate:         decimal.NewFromFloat(d.HoldingCostRate),
		HoldingCostType:         models.BalanceType(d.HoldingCostType),
		MarginLimit:             decimal.NewFromFloat(d.MarginLimit),
		BorrowedMargin:          decimal.Zero,
		OvernightFeeRate:        decimal.NewFromFloat(d.OvernightFeeRate),
		OvernightFeeType:        models.BalanceType(d.OvernightFeeType),
		PowerUpFee:              decimal.NewFromFloat(d.PowerUpFee),
		PowerUpType:             models.BalanceType(d.PowerUpType),
		GainRateThreshold:       decimal.NewFromFloat(d.GainRateThreshold),
		DrawdownRateThreshold:   decimal.NewFromFloat(d.DrawdownRateThreshold),
		InitialSimulatedBalance: decimal.NewFromFloat(d.InitialSimulatedBalance),
		Speed:                   d.Speed,
		StartTime:               start,
		SimulatedTime:           start,
	}, nil
}

// CreateAccount creates an account with default settings, overridden by
// any fields in req.Settings. The simulated balance starts at the initial
// simulated balance.
func (s *AccountService) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*models.Account, error) {
	if req == nil {
		req = &CreateAccountRequest{}
	}

	settings, err := s.DefaultSettings()
	if err != nil {
		return nil, fmt.Errorf("invalid default settings: %w", err)
	}
	if req.Settings != nil {
		if _, err := applySettingsPatch(settings, req.Settings); err != nil {
			return nil, err
		}
	}
	if err := validateSettings(settings); err != nil {
		return nil, err
	}

	realBalance := decimal.NewFromFloat(s.defaults.RealBalance)
	if req.RealBalance != nil {
		realBalance = *req.RealBalance
	}
	if realBalance.IsNegative() {
		return nil, validationError("real balance must not be negative")
	}

	account := &models.Account{
		Name:             strings.TrimSpace(req.Name),
		SimulatedBalance: settings.InitialSimulatedBalance,
		RealBalance:      realBalance,
		Settings:         settings,
	}

	err = s.store.Atomic(ctx, func(r *repository.Repos) error {
		if err := r.Accounts.Create(account); err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
		details := fmt.Sprintf("account created with simulated balance %s", account.SimulatedBalance.StringFixed(2))
		return journal(r, account.ID, settings.Now(), models.ActivitySettings, details, "", nil)
	})
	if err != nil {
		return nil, persistenceError(err)
	}
	return account, nil
}

// GetAccount retrieves an account with its settings and threshold snapshot
func (s *AccountService) GetAccount(ctx context.Context, accountID string) (*AccountView, error) {
	account, err := s.store.Repos(ctx).Accounts.GetByID(accountID)
	if err != nil {
		return nil, persistenceError(err)
	}
	view := &AccountView{Account: account}
	if s.monitor != nil {
		snap, err := s.monitor.Snapshot(ctx, accountID)
		if err != nil {
			return nil, err
		}
		view.Threshold = snap
	}
	return view, nil
}

// ListAccounts retrieves every account
func (s *AccountService) ListAccounts(ctx context.Context) ([]models.Account, error) {
	accounts, err := s.store.Repos(ctx).Accounts.List()
	if err != nil {
		return nil, persistenceError(err)
	}
	return accounts, nil
}

// UpdateSettings applies a settings patch. Changing the start time rewinds
// the clock; resuming clears a latched threshold outcome.
func (s *AccountService) UpdateSettings(ctx context.Context, accountID string, patch *SettingsPatch) (*models.Settings, error) {
	if patch == nil {
		return nil, validationError("empty settings patch")
	}

	start := time.Now()
	account, err := mutateAccount(ctx, s.store, s.locker, accountID, func(r *repository.Repos, account *models.Account) error {
		changed, err := applySettingsPatch(account.Settings, patch)
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			return validationError("settings patch changes nothing")
		}
		if err := validateSettings(account.Settings); err != nil {
			return err
		}
		if err := r.Accounts.SaveSettings(account.Settings); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		details := "updated " + strings.Join(changed, ", ")
		return journal(r, accountID, account.Settings.Now(), models.ActivitySettings, details, "", nil)
	})
	s.metrics.ObserveOp("settings", start, Reason(err))
	if err != nil {
		return nil, err
	}

	s.monitor.Observe(ctx, accountID)
	return account.Settings, nil
}

// ResetAccount restores the account to a fresh start in one transaction:
// every position is deleted, borrowed margin is cleared, the simulated
// balance returns to the initial amount and the clock goes back to its start
// time. An optional patch is applied to the settings first.
func (s *AccountService) ResetAccount(ctx context.Context, accountID string, patch *SettingsPatch) (*models.Account, error) {
	start := time.Now()
	account, err := mutateAccount(ctx, s.store, s.locker, accountID, func(r *repository.Repos, account *models.Account) error {
		settings := account.Settings
		if patch != nil {
			if _, err := applySettingsPatch(settings, patch); err != nil {
				return err
			}
		}

		removed, err := r.Positions.DeleteByAccountID(accountID)
		if err != nil {
			return fmt.Errorf("failed to delete positions: %w", err)
		}

		settings.BorrowedMargin = decimal.Zero
		settings.ThresholdOutcome = models.OutcomeNone
		resetClock(settings, settings.StartTime)
		account.SimulatedBalance = settings.InitialSimulatedBalance

		if err := validateSettings(settings); err != nil {
			return err
		}
		if err := r.Accounts.SaveSettings(settings); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		if err := r.Accounts.UpdateBalances(account); err != nil {
			return fmt.Errorf("failed to update balances: %w", err)
		}

		details := fmt.Sprintf("reset: removed %d positions, simulated balance %s", removed, account.SimulatedBalance.StringFixed(2))
		return journal(r, accountID, settings.Now(), models.ActivityReset, details, models.EventAccountReset, account)
	})
	s.metrics.ObserveOp("reset", start, Reason(err))
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ListPositions retrieves positions of an account, optionally by status
func (s *AccountService) ListPositions(ctx context.Context, accountID string, status models.PositionStatus) ([]models.Position, error) {
	if status != "" && status != models.PositionOpen && status != models.PositionClosed {
		return nil, validationError("status must be open or closed, got %q", status)
	}
	repos := s.store.Repos(ctx)
	if _, err := repos.Accounts.GetByID(accountID); err != nil {
		return nil, persistenceError(err)
	}
	positions, err := repos.Positions.GetByAccountID(accountID, status)
	if err != nil {
		return nil, persistenceError(err)
	}
	return positions, nil
}

// GetPosition retrieves one position
func (s *AccountService) GetPosition(ctx context.Context, positionID string) (*models.Position, error) {
	position, err := s.store.Repos(ctx).Positions.GetByID(positionID)
	if err != nil {
		return nil, persistenceError(err)
	}
	return position, nil
}

// ListTransactions retrieves the trade journal of an account, newest first
func (s *AccountService) ListTransactions(ctx context.Context, accountID string, page, pageSize int) ([]models.Transaction, int64, error) {
	txns, total, err := s.store.Repos(ctx).Transactions.GetByAccountIDPaginated(accountID, page, pageSize)
	if err != nil {
		return nil, 0, persistenceError(err)
	}
	return txns, total, nil
}

// ListActivity retrieves the activity log of an account, newest first
func (s *AccountService) ListActivity(ctx context.Context, accountID string, page, pageSize int) ([]models.ActivityLog, int64, error) {
	entries, total, err := s.store.Repos(ctx).Activity.GetByAccountIDPaginated(accountID, page, pageSize)
	if err != nil {
		return nil, 0, persistenceError(err)
	}
	return entries, total, nil
}

// applySettingsPatch copies the non-nil patch fields onto settings and
// returns the names of the fields it touched
func applySettingsPatch(settings *models.Settings, p *SettingsPatch) ([]string, error) {
	var changed []string
	setDecimal := func(name string, dst *decimal.Decimal, v *decimal.Decimal) {
		if v != nil {
			*dst = *v
			changed = append(changed, name)
		}
	}
	setPool := func(name string, dst *models.BalanceType, v *models.BalanceType) {
		if v != nil {
			*dst = *v
			changed = append(changed, name)
		}
	}

	setDecimal("commission_rate", &settings.CommissionRate, p.CommissionRate)
	setPool("commission_type", &settings.CommissionType, p.CommissionType)
	setDecimal("holding_cost_rate", &settings.HoldingCostRate, p.HoldingCostRate)
	setPool("holding_cost_type", &settings.HoldingCostType, p.HoldingCostType)
	setDecimal("margin_limit", &settings.MarginLimit, p.MarginLimit)
	setDecimal("overnight_fee_rate", &settings.OvernightFeeRate, p.OvernightFeeRate)
	setPool("overnight_fee_type", &settings.OvernightFeeType, p.OvernightFeeType)
	setDecimal("power_up_fee", &settings.PowerUpFee, p.PowerUpFee)
	setPool("power_up_type", &settings.PowerUpType, p.PowerUpType)
	setDecimal("gain_rate_threshold", &settings.GainRateThreshold, p.GainRateThreshold)
	setDecimal("drawdown_rate_threshold", &settings.DrawdownRateThreshold, p.DrawdownRateThreshold)
	setDecimal("initial_simulated_balance", &settings.InitialSimulatedBalance, p.InitialSimulatedBalance)

	if p.Speed != nil {
		settings.Speed = *p.Speed
		changed = append(changed, "speed")
	}
	if p.StartTime != nil {
		if p.StartTime.IsZero() {
			return nil, validationError("start time is required")
		}
		resetClock(settings, p.StartTime.UTC())
		changed = append(changed, "start_time")
	}
	if p.Paused != nil {
		settings.Paused = *p.Paused
		if !settings.Paused {
			settings.ThresholdOutcome = models.OutcomeNone
		}
		changed = append(changed, "paused")
	}

	return changed, nil
}

func validateSettings(s *models.Settings) error {
	nonNegative := map[string]decimal.Decimal{
		"commission_rate":           s.CommissionRate,
		"holding_cost_rate":         s.HoldingCostRate,
		"margin_limit":              s.MarginLimit,
		"overnight_fee_rate":        s.OvernightFeeRate,
		"power_up_fee":              s.PowerUpFee,
		"gain_rate_threshold":       s.GainRateThreshold,
		"drawdown_rate_threshold":   s.DrawdownRateThreshold,
		"initial_simulated_balance": s.InitialSimulatedBalance,
	}
	for name, v := range nonNegative {
		if v.IsNegative() {
			return validationError("%s must not be negative, got %s", name, v)
		}
	}
	if s.DrawdownRateThreshold.GreaterThan(hundred) {
		return validationError("drawdown_rate_threshold must not exceed 100, got %s", s.DrawdownRateThreshold)
	}

	pools := map[string]models.BalanceType{
		"commission_type":    s.CommissionType,
		"holding_cost_type":  s.HoldingCostType,
		"overnight_fee_type": s.OvernightFeeType,
		"power_up_type":      s.PowerUpType,
	}
	for name, v := range pools {
		if !v.Valid() {
			return validationError("%s must be sim or real, got %q", name, v)
		}
	}

	if s.Speed <= 0 {
		return validationError("speed must be positive, got %v", s.Speed)
	}
	if s.BorrowedMargin.GreaterThan(s.MarginLimit) {
		return validationError("margin_limit %s is below borrowed margin %s",
			s.MarginLimit.StringFixed(2), s.BorrowedMargin.StringFixed(2))
	}
	return nil
}
