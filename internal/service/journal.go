package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/papersim/internal/models"
	"github.com/papersim/internal/repository"
)

// EventEnvelope is the JSON body stored in the outbox and relayed to sinks
type EventEnvelope struct {
	Type      string      `json:"type"`
	AccountID string      `json:"account_id"`
	At        time.Time   `json:"at"`
	Data      interface{} `json:"data"`
}

// journal writes the activity log entry and outbox event that accompany a
// ledger change. Both rows go through the caller's transaction.
func journal(r *repository.Repos, accountID string, at time.Time, action, details, eventType string, data interface{}) error {
	if err := r.Activity.Create(&models.ActivityLog{
		AccountID: accountID,
		Action:    action,
		Details:   details,
		Timestamp: at,
	}); err != nil {
		return fmt.Errorf("failed to write activity log: %w", err)
	}

	if eventType == "" {
		return nil
	}

	payload, err := json.Marshal(EventEnvelope{
		Type:      eventType,
		AccountID: accountID,
		At:        at,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := r.Outbox.Create(&models.OutboxEvent{
		AccountID: accountID,
		EventType: eventType,
		Payload:   string(payload),
	}); err != nil {
		return fmt.Errorf("failed to write outbox event: %w", err)
	}
	return nil
}

// mutateAccount runs fn against the row-locked account inside one transaction
// while holding the in-process writer lock for that account. The operation is
// detached from caller cancellation once started.
func mutateAccount(ctx context.Context, store *repository.Store, locker *AccountLocker, accountID string,
	fn func(r *repository.Repos, account *models.Account) error) (*models.Account, error) {
	unlock := locker.Lock(accountID)
	defer unlock()

	var out *models.Account
	err := store.Atomic(context.WithoutCancel(ctx), func(r *repository.Repos) error {
		account, err := r.Accounts.GetForUpdate(accountID)
		if err != nil {
			return err
		}
		if err := fn(r, account); err != nil {
			return err
		}
		out = account
		return nil
	})
	if err != nil {
		return nil, persistenceError(err)
	}
	return out, nil
}

// checkBalances rejects a mutation that leaves either pool negative
func checkBalances(account *models.Account) error {
	if account.SimulatedBalance.IsNegative() {
		return fmt.Errorf("%w: simulated balance would be %s", ErrInsufficientFunds, account.SimulatedBalance.StringFixed(2))
	}
	if account.RealBalance.IsNegative() {
		return fmt.Errorf("%w: real balance would be %s", ErrInsufficientFunds, account.RealBalance.StringFixed(2))
	}
	return nil
}

// poolOf maps an unset pool to the simulated one
func poolOf(t models.BalanceType) models.BalanceType {
	if t == models.BalanceReal {
		return models.BalanceReal
	}
	return models.BalanceSim
}
