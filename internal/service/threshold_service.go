package service

import (
	"context"
	"fmt"
	"log"

	"github.com/papersim/internal/market"
	"github.com/papersim/internal/metrics"
	"github.com/papersim/internal/models"
	"github.com/papersim/internal/repository"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ThresholdSnapshot is the profit picture of an account at current prices
type ThresholdSnapshot struct {
	AccountID            string                  `json:"account_id"`
	UnrealizedLongValue  decimal.Decimal         `json:"unrealized_long_value"`
	UnrealizedShortValue decimal.Decimal         `json:"unrealized_short_value"`
	Profit               decimal.Decimal         `json:"profit"`
	NetWorth             decimal.Decimal         `json:"net_worth"`
	WinAmount            decimal.Decimal         `json:"win_amount"`
	LoseAmount           decimal.Decimal         `json:"lose_amount"`
	Outcome              models.ThresholdOutcome `json:"outcome"`
	Latched              models.ThresholdOutcome `json:"latched"`
	UnpricedSymbols      []string                `json:"unpriced_symbols,omitempty"`
}

// ComputeThreshold evaluates the win/lose rules for an account. Positions
// whose symbol is missing from prices are left out of the unrealized sums.
func ComputeThreshold(account *models.Account, open []models.Position, prices map[string]decimal.Decimal) *ThresholdSnapshot {
	settings := account.Settings
	snap := &ThresholdSnapshot{
		AccountID:            account.ID,
		UnrealizedLongValue:  decimal.Zero,
		UnrealizedShortValue: decimal.Zero,
		Latched:              settings.ThresholdOutcome,
	}

	seen := make(map[string]bool)
	for i := range open {
		p := &open[i]
		if !p.IsOpen() {
			continue
		}
		price, ok := prices[p.Symbol]
		if !ok {
			if !seen[p.Symbol] {
				snap.UnpricedSymbols = append(snap.UnpricedSymbols, p.Symbol)
				seen[p.Symbol] = true
			}
			continue
		}
		value := price.Mul(p.OpenShares)
		if p.PositionType == models.PositionShort {
			snap.UnrealizedShortValue = snap.UnrealizedShortValue.Add(value)
		} else {
			snap.UnrealizedLongValue = snap.UnrealizedLongValue.Add(value)
		}
	}

	initial := settings.InitialSimulatedBalance
	snap.Profit = account.SimulatedBalance.
		Sub(snap.UnrealizedShortValue).
		Add(snap.UnrealizedLongValue).
		Sub(settings.BorrowedMargin).
		Sub(initial).
		Round(2)
	snap.NetWorth = snap.Profit.Add(initial)
	snap.WinAmount = initial.Mul(settings.GainRateThreshold).Div(hundred).Round(2)
	snap.LoseAmount = initial.Mul(hundred.Sub(settings.DrawdownRateThreshold)).Div(hundred).Round(2)

	// A threshold of zero or less disables that side
	switch {
	case settings.GainRateThreshold.IsPositive() && snap.Profit.GreaterThanOrEqual(snap.WinAmount):
		snap.Outcome = models.OutcomeWin
	case settings.DrawdownRateThreshold.IsPositive() && snap.NetWorth.LessThanOrEqual(snap.LoseAmount):
		snap.Outcome = models.OutcomeLose
	}
	return snap
}

// ThresholdMonitor detects win/lose outcomes and pauses the account clock
// when one fires. Each outcome is emitted at most once per pause cycle.
type ThresholdMonitor struct {
	store   *repository.Store
	prices  market.PriceFeed
	locker  *AccountLocker
	metrics *metrics.Metrics
}

// NewThresholdMonitor creates a new ThresholdMonitor
func NewThresholdMonitor(store *repository.Store, prices market.PriceFeed, locker *AccountLocker, m *metrics.Metrics) *ThresholdMonitor {
	return &ThresholdMonitor{
		store:   store,
		prices:  prices,
		locker:  locker,
		metrics: m,
	}
}

// Snapshot computes the current profit picture without changing anything
func (m *ThresholdMonitor) Snapshot(ctx context.Context, accountID string) (*ThresholdSnapshot, error) {
	repos := m.store.Repos(ctx)
	account, err := repos.Accounts.GetByID(accountID)
	if err != nil {
		return nil, persistenceError(err)
	}
	open, err := repos.Positions.GetOpenByAccountID(accountID)
	if err != nil {
		return nil, persistenceError(err)
	}
	return ComputeThreshold(account, open, m.priceMap(ctx, open)), nil
}

// Evaluate recomputes the thresholds and, when an outcome fires and none is
// latched yet, latches it, pauses the clock and records the event in one
// transaction. It returns the outcome emitted by this call, if any.
func (m *ThresholdMonitor) Evaluate(ctx context.Context, accountID string) (models.ThresholdOutcome, error) {
	emitted := models.OutcomeNone
	_, err := mutateAccount(ctx, m.store, m.locker, accountID, func(r *repository.Repos, account *models.Account) error {
		settings := account.Settings
		if settings.ThresholdOutcome != models.OutcomeNone {
			return nil
		}

		open, err := r.Positions.GetOpenByAccountID(accountID)
		if err != nil {
			return err
		}
		snap := ComputeThreshold(account, open, m.priceMap(ctx, open))
		if snap.Outcome == models.OutcomeNone {
			return nil
		}

		settings.ThresholdOutcome = snap.Outcome
		settings.Paused = true
		if err := r.Accounts.SaveSettings(settings); err != nil {
			return fmt.Errorf("failed to latch threshold: %w", err)
		}

		eventType := models.EventThresholdWin
		details := fmt.Sprintf("win: profit %s reached target %s", snap.Profit.StringFixed(2), snap.WinAmount.StringFixed(2))
		if snap.Outcome == models.OutcomeLose {
			eventType = models.EventThresholdLose
			details = fmt.Sprintf("lose: net worth %s fell to limit %s", snap.NetWorth.StringFixed(2), snap.LoseAmount.StringFixed(2))
		}
		if err := journal(r, accountID, settings.Now(), models.ActivityThreshold, details, eventType, snap); err != nil {
			return err
		}

		emitted = snap.Outcome
		return nil
	})
	if err != nil {
		return models.OutcomeNone, err
	}

	if emitted != models.OutcomeNone {
		m.metrics.ThresholdOutcome(string(emitted))
		log.Printf("[ThresholdMonitor] Account %s reached %s, clock paused", accountID, emitted)
	}
	return emitted, nil
}

// Observe runs Evaluate and logs failures. A nil monitor does nothing.
func (m *ThresholdMonitor) Observe(ctx context.Context, accountID string) {
	if m == nil {
		return
	}
	if _, err := m.Evaluate(ctx, accountID); err != nil {
		log.Printf("[ThresholdMonitor] Failed to evaluate account %s: %v", accountID, err)
	}
}

func (m *ThresholdMonitor) priceMap(ctx context.Context, open []models.Position) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal)
	for i := range open {
		symbol := open[i].Symbol
		if _, done := prices[symbol]; done {
			continue
		}
		if price, err := m.prices.LatestPrice(ctx, symbol); err == nil {
			prices[symbol] = price
		}
	}
	return prices
}
