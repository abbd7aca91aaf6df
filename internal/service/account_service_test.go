package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/papersim/internal/models"
	"github.com/papersim/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAccount_Defaults(t *testing.T) {
	env := newTestEnv(t)
	account := env.newAccount(t, nil)

	assert.NotEmpty(t, account.ID)
	assert.Equal(t, "test", account.Name)
	decEqual(t, "10000", account.SimulatedBalance)
	decEqual(t, "500", account.RealBalance)

	stored := env.reload(t, account.ID)
	s := stored.Settings
	decEqual(t, "0.01", s.CommissionRate)
	assert.Equal(t, models.BalanceSim, s.CommissionType)
	decEqual(t, "5000", s.MarginLimit)
	decEqual(t, "0", s.BorrowedMargin)
	assert.Equal(t, 1.0, s.Speed)
	assert.False(t, s.Paused)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC), s.StartTime.UTC())
	assert.Equal(t, models.OutcomeNone, s.ThresholdOutcome)
}

func TestCreateAccount_Overrides(t *testing.T) {
	env := newTestEnv(t)
	realPool := models.BalanceReal
	speed := 30.0

	account, err := env.accounts.CreateAccount(context.Background(), &service.CreateAccountRequest{
		Name:        "  desk  ",
		RealBalance: ptrDec("25"),
		Settings: &service.SettingsPatch{
			InitialSimulatedBalance: ptrDec("50000"),
			CommissionType:          &realPool,
			Speed:                   &speed,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "desk", account.Name)
	decEqual(t, "50000", account.SimulatedBalance)
	decEqual(t, "25", account.RealBalance)

	stored := env.reload(t, account.ID)
	assert.Equal(t, models.BalanceReal, stored.Settings.CommissionType)
	assert.Equal(t, 30.0, stored.Settings.Speed)
}

func TestCreateAccount_Invalid(t *testing.T) {
	bogus := models.BalanceType("bank")
	zero := 0.0

	tests := []struct {
		name string
		req  *service.CreateAccountRequest
	}{
		{"negative rate", &service.CreateAccountRequest{Settings: &service.SettingsPatch{CommissionRate: ptrDec("-0.1")}}},
		{"drawdown above 100", &service.CreateAccountRequest{Settings: &service.SettingsPatch{DrawdownRateThreshold: ptrDec("101")}}},
		{"unknown pool", &service.CreateAccountRequest{Settings: &service.SettingsPatch{PowerUpType: &bogus}}},
		{"zero speed", &service.CreateAccountRequest{Settings: &service.SettingsPatch{Speed: &zero}}},
		{"negative real balance", &service.CreateAccountRequest{RealBalance: ptrDec("-1")}},
	}

	env := newTestEnv(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.accounts.CreateAccount(context.Background(), tt.req)
			assert.ErrorIs(t, err, service.ErrValidation)
		})
	}

	accounts, err := env.accounts.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestUpdateSettings(t *testing.T) {
	env := newTestEnv(t)
	account := env.newAccount(t, nil)
	ctx := context.Background()

	_, err := env.accounts.UpdateSettings(ctx, account.ID, nil)
	assert.ErrorIs(t, err, service.ErrValidation)
	_, err = env.accounts.UpdateSettings(ctx, account.ID, &service.SettingsPatch{})
	assert.ErrorIs(t, err, service.ErrValidation)
	_, err = env.accounts.UpdateSettings(ctx, "missing", &service.SettingsPatch{CommissionRate: ptrDec("0")})
	assert.ErrorIs(t, err, service.ErrAccountNotFound)

	settings, err := env.accounts.UpdateSettings(ctx, account.ID, &service.SettingsPatch{
		CommissionRate:    ptrDec("0.002"),
		GainRateThreshold: ptrDec("50"),
	})
	require.NoError(t, err)
	decEqual(t, "0.002", settings.CommissionRate)

	stored := env.reload(t, account.ID)
	decEqual(t, "0.002", stored.Settings.CommissionRate)
	decEqual(t, "50", stored.Settings.GainRateThreshold)

	count, err := env.store.Repos(ctx).Activity.CountByAction(account.ID, models.ActivitySettings)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "creation and update are both logged")
}

func TestUpdateSettings_StartTimeRewindsClock(t *testing.T) {
	env := newTestEnv(t)
	account := env.newAccount(t, nil)
	ctx := context.Background()

	_, err := env.clock.Tick(ctx, account.ID, 30*time.Hour)
	require.NoError(t, err)

	start := time.Date(2024, 6, 3, 13, 0, 0, 0, time.UTC)
	settings, err := env.accounts.UpdateSettings(ctx, account.ID, &service.SettingsPatch{StartTime: &start})
	require.NoError(t, err)
	assert.True(t, settings.SimulatedTime.Equal(start))
	assert.Empty(t, settings.LastProcessedDay)
}

func TestUpdateSettings_MarginLimitBelowBorrowed(t *testing.T) {
	env := newTestEnv(t)
	account := env.newAccount(t, nil)
	ctx := context.Background()

	_, err := env.margin.Borrow(ctx, account.ID, d("3000"))
	require.NoError(t, err)

	_, err = env.accounts.UpdateSettings(ctx, account.ID, &service.SettingsPatch{MarginLimit: ptrDec("2999")})
	assert.ErrorIs(t, err, service.ErrValidation)
	decEqual(t, "5000", env.reload(t, account.ID).Settings.MarginLimit)
}

func TestResetAccount(t *testing.T) {
	env := newTestEnv(t)
	account := env.newAccount(t, nil)
	ctx := context.Background()

	env.open(t, account.ID, "AAPL", models.PositionLong, "10", "100")
	env.open(t, account.ID, "MSFT", models.PositionShort, "2", "50")
	_, err := env.margin.Borrow(ctx, account.ID, d("1000"))
	require.NoError(t, err)
	_, err = env.clock.Tick(ctx, account.ID, 40*time.Hour)
	require.NoError(t, err)

	reset, err := env.accounts.ResetAccount(ctx, account.ID, &service.SettingsPatch{
		InitialSimulatedBalance: ptrDec("20000"),
	})
	require.NoError(t, err)
	decEqual(t, "20000", reset.SimulatedBalance)

	stored := env.reload(t, account.ID)
	decEqual(t, "20000", stored.SimulatedBalance)
	decEqual(t, "500", stored.RealBalance)
	decEqual(t, "0", stored.Settings.BorrowedMargin)
	assert.True(t, stored.Settings.SimulatedTime.Equal(stored.Settings.StartTime))
	assert.Empty(t, stored.Settings.LastProcessedDay)

	positions, err := env.accounts.ListPositions(ctx, account.ID, "")
	require.NoError(t, err)
	assert.Empty(t, positions)

	_, err = env.accounts.ResetAccount(ctx, "missing", nil)
	assert.ErrorIs(t, err, service.ErrAccountNotFound)
}

func TestGetAccount(t *testing.T) {
	env := newTestEnv(t)
	env.feed.Set("AAPL", d("120"))
	account := env.newAccount(t, nil)
	ctx := context.Background()

	env.open(t, account.ID, "AAPL", models.PositionLong, "10", "100")

	view, err := env.accounts.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.ID, view.ID)
	require.NotNil(t, view.Settings)
	require.NotNil(t, view.Threshold)
	decEqual(t, "1200", view.Threshold.UnrealizedLongValue)
	decEqual(t, "190", view.Threshold.Profit)

	_, err = env.accounts.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, service.ErrAccountNotFound)
}

func TestListPositions(t *testing.T) {
	env := newTestEnv(t)
	account := env.newAccount(t, nil)
	ctx := context.Background()

	first := env.open(t, account.ID, "AAPL", models.PositionLong, "1", "100")
	env.open(t, account.ID, "MSFT", models.PositionLong, "1", "100")
	_, err := env.settlement.CloseTrade(ctx, &service.CloseTradeRequest{
		PositionID:   first.Position.ID,
		CurrentPrice: d("100"),
	})
	require.NoError(t, err)

	all, err := env.accounts.ListPositions(ctx, account.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	open, err := env.accounts.ListPositions(ctx, account.ID, models.PositionOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "MSFT", open[0].Symbol)

	closed, err := env.accounts.ListPositions(ctx, account.ID, models.PositionClosed)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "AAPL", closed[0].Symbol)

	_, err = env.accounts.ListPositions(ctx, account.ID, "pending")
	assert.ErrorIs(t, err, service.ErrValidation)
	_, err = env.accounts.ListPositions(ctx, "missing", "")
	assert.ErrorIs(t, err, service.ErrAccountNotFound)
}

func TestListTransactions_NewestFirst(t *testing.T) {
	env := newTestEnv(t)
	account := env.newAccount(t, nil)
	ctx := context.Background()

	opened := env.open(t, account.ID, "AAPL", models.PositionLong, "1", "100")
	_, err := env.clock.Tick(ctx, account.ID, time.Hour)
	require.NoError(t, err)
	_, err = env.settlement.CloseTrade(ctx, &service.CloseTradeRequest{
		PositionID:   opened.Position.ID,
		CurrentPrice: d("101"),
	})
	require.NoError(t, err)

	txns, total, err := env.accounts.ListTransactions(ctx, account.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, txns, 2)
	assert.Equal(t, models.ActionSell, txns[0].Action)
	assert.Equal(t, models.ActionBuy, txns[1].Action)

	page2, _, err := env.accounts.ListTransactions(ctx, account.ID, 2, 1)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, models.ActionBuy, page2[0].Action)

	entries, total, err := env.accounts.ListActivity(ctx, account.ID, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(len(entries)), total)
	assert.Equal(t, models.ActivityTradeClosed, entries[0].Action)
}
