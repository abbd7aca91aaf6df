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

func TestTick_AdvancesBySpeed(t *testing.T) {
	env := newTestEnv(t)
	account := env.newAccount(t, nil)
	ctx := context.Background()

	result, err := env.clock.Tick(ctx, account.ID, time.Hour)
	require.NoError(t, err)
	assert.Nil(t, result.Sweep)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC), result.Clock.SimulatedTime.UTC())
	assert.Equal(t, "2024-05-01", result.Clock.LastProcessedDay)

	_, err = env.clock.SetSpeed(ctx, account.ID, 60)
	require.NoError(t, err)
	result, err = env.clock.Tick(ctx, account.ID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 30, 0, 0, time.UTC), result.Clock.SimulatedTime.UTC())

	now, err := env.clock.Now(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, now.Equal(result.Clock.SimulatedTime))
}

func TestTick_PausedClockStandsStill(t *testing.T) {
	env := newTestEnv(t)
	account := env.newAccount(t, nil)
	ctx := context.Background()

	state, err := env.clock.SetPaused(ctx, account.ID, true)
	require.NoError(t, err)
	assert.True(t, state.Paused)

	result, err := env.clock.Tick(ctx, account.ID, 48*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, result.Sweep)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC), result.Clock.SimulatedTime.UTC())
}

func TestTick_DayCrossingChargesFeesOnce(t *testing.T) {
	env := newTestEnv(t)
	env.feed.Set("AAPL", d("100"))
	env.feed.Set("MSFT", d("100"))
	account := env.newAccount(t, &service.SettingsPatch{
		HoldingCostRate:  ptrDec("2.5"),
		OvernightFeeRate: ptrDec("1.25"),
	})
	ctx := context.Background()

	env.open(t, account.ID, "AAPL", models.PositionLong, "10", "100")
	env.open(t, account.ID, "MSFT", models.PositionLong, "5", "100")
	_, err := env.margin.Borrow(ctx, account.ID, d("1000"))
	require.NoError(t, err)
	decEqual(t, "9485", env.reload(t, account.ID).SimulatedBalance)

	result, err := env.clock.Tick(ctx, account.ID, 0)
	require.NoError(t, err)
	assert.Nil(t, result.Sweep)
	assert.Equal(t, "2024-05-01", result.Clock.LastProcessedDay)

	// 09:30 + 15h = 00:30 next day
	result, err = env.clock.Tick(ctx, account.ID, 15*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, result.Sweep)
	assert.True(t, result.Sweep.Applied)
	assert.Equal(t, "2024-05-02", result.Sweep.Day)
	assert.Equal(t, 2, result.Sweep.Positions)
	decEqual(t, "5", result.Sweep.HoldingCharged)
	decEqual(t, "1.25", result.Sweep.OvernightCharged)
	decEqual(t, "0", result.Sweep.HoldingShortfall)
	assert.Equal(t, "2024-05-02", result.Clock.LastProcessedDay)

	decEqual(t, "9478.75", env.reload(t, account.ID).SimulatedBalance)

	// Later the same day: nothing more
	result, err = env.clock.Tick(ctx, account.ID, 2*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, result.Sweep)

	// The explicit sweep for an already processed day is a no-op
	sweep, err := env.clock.EndOfDayCharges(ctx, account.ID, "2024-05-02")
	require.NoError(t, err)
	assert.False(t, sweep.Applied)

	decEqual(t, "9478.75", env.reload(t, account.ID).SimulatedBalance)
	count, err := env.store.Repos(ctx).Activity.CountByAction(account.ID, models.ActivityEndOfDay)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestEndOfDayCharges_ChargesFlatAmounts(t *testing.T) {
	env := newTestEnv(t)
	account := env.newAccount(t, nil)
	ctx := context.Background()

	env.open(t, account.ID, "AAPL", models.PositionLong, "10", "100")
	_, err := env.margin.Borrow(ctx, account.ID, d("1000"))
	require.NoError(t, err)

	sweep, err := env.clock.EndOfDayCharges(ctx, account.ID, "2024-05-01")
	require.NoError(t, err)
	assert.True(t, sweep.Applied)
	decEqual(t, "0.001", sweep.HoldingCharged)
	decEqual(t, "0.0005", sweep.OvernightCharged)
	decEqual(t, "9989.9985", env.reload(t, account.ID).SimulatedBalance)
}

func TestTick_FirstTickAfterRewindOnlyRecordsDay(t *testing.T) {
	env := newTestEnv(t)
	account := env.newAccount(t, nil)
	ctx := context.Background()
	env.open(t, account.ID, "AAPL", models.PositionLong, "10", "100")

	_, err := env.clock.SetStartTime(ctx, account.ID, time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	result, err := env.clock.Tick(ctx, account.ID, 2*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, result.Sweep)
	assert.Equal(t, "2024-06-02", result.Clock.LastProcessedDay)
	decEqual(t, "8990", env.reload(t, account.ID).SimulatedBalance)

	result, err = env.clock.Tick(ctx, account.ID, 24*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, result.Sweep)
	assert.Equal(t, "2024-06-03", result.Sweep.Day)
	decEqual(t, "8989.999", env.reload(t, account.ID).SimulatedBalance)
}

func TestTick_NewAccountFirstTickAcrossMidnight(t *testing.T) {
	env := newTestEnv(t)
	account := env.newAccount(t, nil)
	ctx := context.Background()
	env.open(t, account.ID, "AAPL", models.PositionLong, "10", "100")

	result, err := env.clock.Tick(ctx, account.ID, 15*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, result.Sweep)
	assert.Equal(t, "2024-05-02", result.Clock.LastProcessedDay)
	decEqual(t, "8990", env.reload(t, account.ID).SimulatedBalance)
}

func TestTick_MultiDayJumpChargesOnce(t *testing.T) {
	env := newTestEnv(t)
	account := env.newAccount(t, nil)
	ctx := context.Background()
	env.open(t, account.ID, "AAPL", models.PositionLong, "10", "100")

	_, err := env.clock.Tick(ctx, account.ID, 0)
	require.NoError(t, err)

	result, err := env.clock.Tick(ctx, account.ID, 72*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, result.Sweep)
	assert.Equal(t, "2024-05-04", result.Sweep.Day)
	decEqual(t, "0.001", result.Sweep.HoldingCharged)

	count, err := env.store.Repos(ctx).Activity.CountByAction(account.ID, models.ActivityEndOfDay)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestEndOfDayCharges_TwiceForSameDay(t *testing.T) {
	env := newTestEnv(t)
	account := env.newAccount(t, nil)
	ctx := context.Background()
	env.open(t, account.ID, "AAPL", models.PositionLong, "10", "100")

	first, err := env.clock.EndOfDayCharges(ctx, account.ID, "2024-05-01")
	require.NoError(t, err)
	assert.True(t, first.Applied)
	decEqual(t, "0.001", first.HoldingCharged)

	second, err := env.clock.EndOfDayCharges(ctx, account.ID, "2024-05-01")
	require.NoError(t, err)
	assert.False(t, second.Applied)

	decEqual(t, "8989.999", env.reload(t, account.ID).SimulatedBalance)

	// An earlier day is not charged after a later one
	earlier, err := env.clock.EndOfDayCharges(ctx, account.ID, "2024-04-30")
	require.NoError(t, err)
	assert.False(t, earlier.Applied)

	events, err := env.store.Repos(ctx).Outbox.GetByAccountID(account.ID)
	require.NoError(t, err)
	fees := 0
	for _, e := range events {
		if e.EventType == models.EventFeesCharged {
			fees++
		}
	}
	assert.Equal(t, 1, fees)
}

func TestEndOfDayCharges_CapsAtAvailableBalance(t *testing.T) {
	env := newTestEnv(t)
	realPool := models.BalanceReal
	account, err := env.accounts.CreateAccount(context.Background(), &service.CreateAccountRequest{
		RealBalance: ptrDec("0.4"),
		Settings:    &service.SettingsPatch{HoldingCostRate: ptrDec("1"), HoldingCostType: &realPool},
	})
	require.NoError(t, err)
	ctx := context.Background()
	env.open(t, account.ID, "AAPL", models.PositionLong, "10", "100")

	sweep, err := env.clock.EndOfDayCharges(ctx, account.ID, "2024-05-01")
	require.NoError(t, err)
	assert.True(t, sweep.Applied)
	decEqual(t, "0.4", sweep.HoldingCharged)
	decEqual(t, "0.6", sweep.HoldingShortfall)

	stored := env.reload(t, account.ID)
	decEqual(t, "0", stored.RealBalance)
	assert.False(t, stored.RealBalance.IsNegative())
}

func TestEndOfDayCharges_RejectsMalformedDay(t *testing.T) {
	env := newTestEnv(t)
	account := env.newAccount(t, nil)

	_, err := env.clock.EndOfDayCharges(context.Background(), account.ID, "May 1")
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestClockControls(t *testing.T) {
	env := newTestEnv(t)
	account := env.newAccount(t, nil)
	ctx := context.Background()

	_, err := env.clock.Tick(ctx, account.ID, -time.Second)
	assert.ErrorIs(t, err, service.ErrValidation)
	_, err = env.clock.SetSpeed(ctx, account.ID, 0)
	assert.ErrorIs(t, err, service.ErrValidation)
	_, err = env.clock.SetStartTime(ctx, account.ID, time.Time{})
	assert.ErrorIs(t, err, service.ErrValidation)

	_, err = env.clock.Tick(ctx, account.ID, 20*time.Hour)
	require.NoError(t, err)

	start := time.Date(2025, 1, 6, 14, 0, 0, 0, time.UTC)
	state, err := env.clock.SetStartTime(ctx, account.ID, start)
	require.NoError(t, err)
	assert.True(t, state.StartTime.Equal(start))
	assert.True(t, state.SimulatedTime.Equal(start))
	assert.Empty(t, state.LastProcessedDay)

	_, err = env.clock.State(ctx, "missing")
	assert.ErrorIs(t, err, service.ErrAccountNotFound)
}
