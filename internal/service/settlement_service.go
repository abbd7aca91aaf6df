package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/papersim/internal/market"
	"github.com/papersim/internal/metrics"
	"github.com/papersim/internal/models"
	"github.com/papersim/internal/repository"
	"github.com/shopspring/decimal"
)

// OpenTradeRequest represents a request to open a position
type OpenTradeRequest struct {
	AccountID string
	Symbol    string
	Shares    decimal.Decimal
	Price     decimal.Decimal
	Direction models.PositionType
	Notes     string
}

// CloseTradeRequest represents a request to close a whole position
type CloseTradeRequest struct {
	PositionID   string
	CurrentPrice decimal.Decimal
	Notes        string
}

// TradeResult is the committed state after an open or close
type TradeResult struct {
	Position    *models.Position    `json:"position"`
	Transaction *models.Transaction `json:"transaction"`
	Account     *models.Account     `json:"account"`
}

// Flatten item statuses
const (
	FlattenClosed  = "closed"
	FlattenSkipped = "skipped"
	FlattenFailed  = "failed"
)

// FlattenItem reports what happened to one position during FlattenAll
type FlattenItem struct {
	PositionID string           `json:"position_id"`
	Symbol     string           `json:"symbol"`
	Status     string           `json:"status"`
	Attempts   int              `json:"attempts"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	RealizedPL *decimal.Decimal `json:"realized_pl,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// FlattenResult summarizes a FlattenAll batch
type FlattenResult struct {
	Total   int           `json:"total"`
	Closed  int           `json:"closed"`
	Skipped int           `json:"skipped"`
	Failed  int           `json:"failed"`
	Items   []FlattenItem `json:"items"`
}

// SettlementService executes open, close and power-up operations. Each one
// commits the position, transaction and balance changes as a single group.
type SettlementService struct {
	store   *repository.Store
	prices  market.PriceFeed
	locker  *AccountLocker
	metrics *metrics.Metrics
	monitor *ThresholdMonitor

	flattenAttempts int
	retryBackoff    time.Duration
}

// NewSettlementService creates a new SettlementService
func NewSettlementService(
	store *repository.Store,
	prices market.PriceFeed,
	locker *AccountLocker,
	m *metrics.Metrics,
) *SettlementService {
	return &SettlementService{
		store:           store,
		prices:          prices,
		locker:          locker,
		metrics:         m,
		flattenAttempts: 3,
		retryBackoff:    50 * time.Millisecond,
	}
}

// SetThresholdMonitor sets the monitor evaluated after every committed settlement
func (s *SettlementService) SetThresholdMonitor(monitor *ThresholdMonitor) {
	s.monitor = monitor
}

// SetFlattenPolicy configures how often FlattenAll retries a retryable failure
func (s *SettlementService) SetFlattenPolicy(maxAttempts int, backoff time.Duration) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	s.flattenAttempts = maxAttempts
	s.retryBackoff = backoff
}

// ShortCapacity returns how much new short notional the account can take on:
// max(0, simulated balance - 2 * notional of open shorts)
func ShortCapacity(simulatedBalance decimal.Decimal, open []models.Position) decimal.Decimal {
	existing := decimal.Zero
	for i := range open {
		if open[i].IsOpen() && open[i].PositionType == models.PositionShort {
			existing = existing.Add(open[i].Notional())
		}
	}
	capacity := simulatedBalance.Sub(existing.Mul(decimal.NewFromInt(2)))
	if capacity.IsNegative() {
		return decimal.Zero
	}
	return capacity
}

// OpenTrade opens a position at the given price
func (s *SettlementService) OpenTrade(ctx context.Context, req *OpenTradeRequest) (*TradeResult, error) {
	start := time.Now()
	result, err := s.openTrade(ctx, req)
	s.metrics.ObserveOp("open", start, Reason(err))
	if err != nil {
		return nil, err
	}

	s.metrics.TradeOpened(string(result.Position.PositionType))
	s.monitor.Observe(ctx, result.Account.ID)
	return result, nil
}

func (s *SettlementService) openTrade(ctx context.Context, req *OpenTradeRequest) (*TradeResult, error) {
	if req == nil {
		return nil, validationError("empty request")
	}
	symbol := market.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		return nil, validationError("symbol is required")
	}
	if !req.Shares.IsPositive() {
		return nil, validationError("shares must be positive, got %s", req.Shares)
	}
	if !req.Price.IsPositive() {
		return nil, validationError("price must be positive, got %s", req.Price)
	}
	if !req.Direction.Valid() {
		return nil, validationError("direction must be Long or Short, got %q", req.Direction)
	}

	var result *TradeResult
	_, err := mutateAccount(ctx, s.store, s.locker, req.AccountID, func(r *repository.Repos, account *models.Account) error {
		settings := account.Settings
		baseCost := req.Shares.Mul(req.Price)
		commission := baseCost.Mul(settings.CommissionRate).Abs()
		commissionType := poolOf(settings.CommissionType)

		if req.Direction == models.PositionShort {
			open, err := r.Positions.GetOpenByAccountID(account.ID)
			if err != nil {
				return err
			}
			capacity := ShortCapacity(account.SimulatedBalance, open)
			if baseCost.GreaterThan(capacity) {
				return fmt.Errorf("%w: short notional %s exceeds capacity %s",
					ErrInsufficientShortCapacity, baseCost.StringFixed(2), capacity.StringFixed(2))
			}
			account.SimulatedBalance = account.SimulatedBalance.Add(baseCost)
		} else {
			account.SimulatedBalance = account.SimulatedBalance.Sub(baseCost)
		}
		account.Debit(commissionType, commission)

		if err := checkBalances(account); err != nil {
			return err
		}

		at := settings.Now()
		position := &models.Position{
			ID:           uuid.NewString(),
			AccountID:    account.ID,
			Symbol:       symbol,
			PositionType: req.Direction,
			OpenPrice:    req.Price,
			OpenShares:   req.Shares,
			OpenTime:     at,
			Status:       models.PositionOpen,
		}
		txn := &models.Transaction{
			ID:                uuid.NewString(),
			AccountID:         account.ID,
			PositionID:        position.ID,
			Symbol:            symbol,
			Shares:            req.Shares,
			Price:             req.Price,
			Action:            models.OpenAction(req.Direction),
			CommissionCharged: commission,
			CommissionType:    commissionType,
			Timestamp:         at,
			Notes:             req.Notes,
		}
		position.OpenTransactionID = txn.ID

		if err := r.Transactions.Create(txn); err != nil {
			return fmt.Errorf("failed to append transaction: %w", err)
		}
		if err := r.Positions.Create(position); err != nil {
			return fmt.Errorf("failed to create position: %w", err)
		}
		if err := r.Accounts.UpdateBalances(account); err != nil {
			return fmt.Errorf("failed to update balances: %w", err)
		}

		details := fmt.Sprintf("%s %s %s @ %s, commission %s (%s)",
			txn.Action, req.Shares, symbol, req.Price, commission.StringFixed(2), commissionType)
		if err := journal(r, account.ID, at, models.ActivityTradeOpened, details, models.EventTradeOpened, txn); err != nil {
			return err
		}

		result = &TradeResult{Position: position, Transaction: txn, Account: account}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CloseTrade closes the whole position at currentPrice
func (s *SettlementService) CloseTrade(ctx context.Context, req *CloseTradeRequest) (*TradeResult, error) {
	start := time.Now()
	result, err := s.closeTrade(ctx, req)
	s.metrics.ObserveOp("close", start, Reason(err))
	if err != nil {
		return nil, err
	}

	s.metrics.TradeClosed(string(result.Position.PositionType))
	s.monitor.Observe(ctx, result.Account.ID)
	return result, nil
}

// CloseAtMarket closes the whole position at the latest feed price
func (s *SettlementService) CloseAtMarket(ctx context.Context, positionID, notes string) (*TradeResult, error) {
	position, err := s.store.Repos(ctx).Positions.GetByID(positionID)
	if err != nil {
		return nil, persistenceError(err)
	}
	if !position.IsOpen() {
		return nil, fmt.Errorf("%w: position %s", ErrPositionAlreadyClosed, positionID)
	}

	price, err := s.prices.LatestPrice(ctx, position.Symbol)
	if err != nil {
		return nil, err
	}
	return s.CloseTrade(ctx, &CloseTradeRequest{PositionID: positionID, CurrentPrice: price, Notes: notes})
}

func (s *SettlementService) closeTrade(ctx context.Context, req *CloseTradeRequest) (*TradeResult, error) {
	if req == nil {
		return nil, validationError("empty request")
	}
	if !req.CurrentPrice.IsPositive() {
		return nil, validationError("current price must be positive, got %s", req.CurrentPrice)
	}

	var result *TradeResult
	err := s.settlePosition(ctx, req.PositionID, func(r *repository.Repos, account *models.Account, position *models.Position) error {
		settings := account.Settings
		shares := position.OpenShares
		notional := req.CurrentPrice.Mul(shares)

		gross := notional
		if position.PositionType == models.PositionShort {
			gross = notional.Neg()
		}
		commission := notional.Mul(settings.CommissionRate).Abs()
		commissionType := poolOf(settings.CommissionType)

		if commissionType == models.BalanceReal {
			account.RealBalance = account.RealBalance.Sub(commission)
			account.SimulatedBalance = account.SimulatedBalance.Add(gross)
		} else {
			account.SimulatedBalance = account.SimulatedBalance.Add(gross.Sub(commission))
		}

		if account.RealBalance.IsNegative() {
			return fmt.Errorf("%w: real balance would be %s", ErrInsufficientFunds, account.RealBalance.StringFixed(2))
		}
		// Covering a short may overdraw the simulated pool; the capacity
		// check at open is what authorizes it.
		if account.SimulatedBalance.IsNegative() && position.PositionType != models.PositionShort {
			return fmt.Errorf("%w: simulated balance would be %s", ErrInsufficientFunds, account.SimulatedBalance.StringFixed(2))
		}

		at := settings.Now()
		txn := &models.Transaction{
			ID:                uuid.NewString(),
			AccountID:         account.ID,
			PositionID:        position.ID,
			Symbol:            position.Symbol,
			Shares:            shares,
			Price:             req.CurrentPrice,
			Action:            models.CloseAction(position.PositionType),
			CommissionCharged: commission,
			CommissionType:    commissionType,
			Timestamp:         at,
			Notes:             req.Notes,
		}

		realized := position.RealizedPLAt(req.CurrentPrice)
		position.Status = models.PositionClosed
		position.ClosePrice = decimal.NewNullDecimal(req.CurrentPrice)
		position.CloseShares = decimal.NewNullDecimal(shares)
		position.CloseTime = &at
		position.RealizedPL = decimal.NewNullDecimal(realized)

		if err := r.Transactions.Create(txn); err != nil {
			return fmt.Errorf("failed to append transaction: %w", err)
		}
		rows, err := r.Positions.MarkClosed(position)
		if err != nil {
			return fmt.Errorf("failed to close position: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: position %s changed during close", ErrSettlementConflict, position.ID)
		}
		if err := r.Accounts.UpdateBalances(account); err != nil {
			return fmt.Errorf("failed to update balances: %w", err)
		}

		details := fmt.Sprintf("%s %s %s @ %s, realized P&L %s, commission %s (%s)",
			txn.Action, shares, position.Symbol, req.CurrentPrice, realized.StringFixed(2), commission.StringFixed(2), commissionType)
		if err := journal(r, account.ID, at, models.ActivityTradeClosed, details, models.EventTradeClosed, position); err != nil {
			return err
		}

		result = &TradeResult{Position: position, Transaction: txn, Account: account}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PowerUp abandons an open position: the entry notional is refunded to the
// simulated balance, the power-up fee is charged and the position is removed
// without a transaction
func (s *SettlementService) PowerUp(ctx context.Context, positionID string) (*models.Account, error) {
	start := time.Now()
	var out *models.Account
	err := s.settlePosition(ctx, positionID, func(r *repository.Repos, account *models.Account, position *models.Position) error {
		settings := account.Settings
		refund := position.Notional()
		feeType := poolOf(settings.PowerUpType)

		account.SimulatedBalance = account.SimulatedBalance.Add(refund)
		account.Debit(feeType, settings.PowerUpFee)
		if account.Balance(feeType).IsNegative() {
			return fmt.Errorf("%w: power-up fee %s exceeds %s balance",
				ErrInsufficientFunds, settings.PowerUpFee.StringFixed(2), feeType)
		}

		rows, err := r.Positions.Delete(position.ID)
		if err != nil {
			return fmt.Errorf("failed to delete position: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: position %s changed during power-up", ErrSettlementConflict, position.ID)
		}
		if err := r.Accounts.UpdateBalances(account); err != nil {
			return fmt.Errorf("failed to update balances: %w", err)
		}

		details := fmt.Sprintf("powered up %s %s %s, refunded %s, fee %s (%s)",
			position.PositionType, position.OpenShares, position.Symbol, refund.StringFixed(2), settings.PowerUpFee.StringFixed(2), feeType)
		if err := journal(r, account.ID, settings.Now(), models.ActivityPowerUp, details, models.EventPositionPowerUp, position); err != nil {
			return err
		}

		out = account
		return nil
	})
	s.metrics.ObserveOp("power_up", start, Reason(err))
	if err != nil {
		return nil, err
	}

	s.metrics.PowerUp()
	s.monitor.Observe(ctx, out.ID)
	return out, nil
}

// DeletePosition removes a position without a transaction and without
// touching balances. Closed positions may be deleted too.
func (s *SettlementService) DeletePosition(ctx context.Context, positionID string) error {
	release, ok := s.locker.ClaimPosition(positionID)
	if !ok {
		return fmt.Errorf("%w: position %s is being settled", ErrSettlementConflict, positionID)
	}
	defer release()

	position, err := s.store.Repos(ctx).Positions.GetByID(positionID)
	if err != nil {
		return persistenceError(err)
	}

	account, err := mutateAccount(ctx, s.store, s.locker, position.AccountID, func(r *repository.Repos, account *models.Account) error {
		rows, err := r.Positions.Delete(position.ID)
		if err != nil {
			return fmt.Errorf("failed to delete position: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: position %s", ErrPositionNotFound, position.ID)
		}

		details := fmt.Sprintf("deleted %s %s position %s (%s)", position.PositionType, position.Symbol, position.ID, position.Status)
		return journal(r, account.ID, account.Settings.Now(), models.ActivityPositionDeleted, details, models.EventPositionDeleted, position)
	})
	if err != nil {
		return err
	}

	s.monitor.Observe(ctx, account.ID)
	return nil
}

// settlePosition claims the position, serializes on its account and runs fn
// with the position re-read inside the transaction
func (s *SettlementService) settlePosition(ctx context.Context, positionID string,
	fn func(r *repository.Repos, account *models.Account, position *models.Position) error) error {
	release, ok := s.locker.ClaimPosition(positionID)
	if !ok {
		return fmt.Errorf("%w: position %s is already being settled", ErrSettlementConflict, positionID)
	}
	defer release()

	position, err := s.store.Repos(ctx).Positions.GetByID(positionID)
	if err != nil {
		return persistenceError(err)
	}
	if !position.IsOpen() {
		return fmt.Errorf("%w: position %s", ErrPositionAlreadyClosed, positionID)
	}

	_, err = mutateAccount(ctx, s.store, s.locker, position.AccountID, func(r *repository.Repos, account *models.Account) error {
		current, err := r.Positions.GetByID(positionID)
		if err != nil {
			return err
		}
		if !current.IsOpen() {
			return fmt.Errorf("%w: position %s", ErrPositionAlreadyClosed, positionID)
		}
		return fn(r, account, current)
	})
	return err
}

// FlattenAll closes every open position of the account at its latest price,
// in stored order. Positions without a price are skipped; retryable failures
// are retried up to the configured number of attempts and the batch always
// runs to the end.
func (s *SettlementService) FlattenAll(ctx context.Context, accountID string) (*FlattenResult, error) {
	repos := s.store.Repos(ctx)
	if _, err := repos.Accounts.GetByID(accountID); err != nil {
		return nil, persistenceError(err)
	}
	positions, err := repos.Positions.GetOpenByAccountID(accountID)
	if err != nil {
		return nil, persistenceError(err)
	}

	result := &FlattenResult{Total: len(positions), Items: make([]FlattenItem, 0, len(positions))}
	for _, position := range positions {
		item := FlattenItem{PositionID: position.ID, Symbol: position.Symbol}

		price, err := s.prices.LatestPrice(ctx, position.Symbol)
		if err != nil {
			item.Status = FlattenSkipped
			item.Error = err.Error()
			result.Skipped++
			result.Items = append(result.Items, item)
			continue
		}
		item.Price = &price

		trade, attempts, err := s.closeWithRetry(ctx, position.ID, price)
		item.Attempts = attempts
		switch {
		case err == nil:
			pl := trade.Position.RealizedPL.Decimal
			item.Status = FlattenClosed
			item.RealizedPL = &pl
			result.Closed++
		case errors.Is(err, ErrPositionAlreadyClosed), errors.Is(err, ErrPositionNotFound):
			item.Status = FlattenSkipped
			item.Error = err.Error()
			result.Skipped++
		default:
			item.Status = FlattenFailed
			item.Error = err.Error()
			result.Failed++
			log.Printf("[Settlement] Flatten of position %s failed after %d attempts: %v", position.ID, attempts, err)
		}
		result.Items = append(result.Items, item)
	}

	log.Printf("[Settlement] Flattened account %s: total=%d closed=%d skipped=%d failed=%d",
		accountID, result.Total, result.Closed, result.Skipped, result.Failed)
	return result, nil
}

func (s *SettlementService) closeWithRetry(ctx context.Context, positionID string, price decimal.Decimal) (*TradeResult, int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.flattenAttempts; attempt++ {
		trade, err := s.CloseTrade(ctx, &CloseTradeRequest{
			PositionID:   positionID,
			CurrentPrice: price,
			Notes:        "flatten all",
		})
		if err == nil {
			return trade, attempt, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == s.flattenAttempts {
			return nil, attempt, err
		}

		select {
		case <-ctx.Done():
			return nil, attempt, fmt.Errorf("%w (retry aborted: %v)", lastErr, ctx.Err())
		case <-time.After(s.retryBackoff * time.Duration(attempt)):
		}
	}
	return nil, s.flattenAttempts, lastErr
}
