package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/papersim/internal/config"
	"github.com/papersim/internal/metrics"
	"github.com/papersim/internal/models"
	"github.com/papersim/internal/repository"
	"github.com/papersim/internal/service"
	"github.com/papersim/internal/testutil"
	"github.com/papersim/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Publish(ctx context.Context, event models.OutboxEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type recordingListener struct {
	ticks map[string][]*service.TickResult
}

func (l *recordingListener) OnTick(accountID string, result *service.TickResult) {
	l.ticks[accountID] = append(l.ticks[accountID], result)
}

func eventID(id string) interface{} {
	return mock.MatchedBy(func(e models.OutboxEvent) bool { return e.ID == id })
}

func TestOutboxRelay_DeliversInOrderAndHoldsBackFailedAccount(t *testing.T) {
	store := repository.NewStore(testutil.OpenSQLite(t))
	ctx := context.Background()
	r := store.Repos(ctx)

	a1 := &models.OutboxEvent{AccountID: "acc-1", EventType: models.EventTradeOpened, Payload: `{"n":1}`}
	a2 := &models.OutboxEvent{AccountID: "acc-1", EventType: models.EventTradeClosed, Payload: `{"n":2}`}
	b1 := &models.OutboxEvent{AccountID: "acc-2", EventType: models.EventTradeOpened, Payload: `{"n":3}`}
	for _, e := range []*models.OutboxEvent{a1, a2, b1} {
		require.NoError(t, r.Outbox.Create(e))
	}

	sink := &mockSink{}
	sink.On("Publish", mock.Anything, eventID(a1.ID)).Return(errors.New("broker down")).Once()
	sink.On("Publish", mock.Anything, mock.Anything).Return(nil)

	relay := worker.NewOutboxRelay(store, metrics.New(), time.Second, 10, sink)

	assert.Equal(t, 1, relay.RelayPending(ctx))
	sink.AssertNotCalled(t, "Publish", mock.Anything, eventID(a2.ID))

	pending, err := r.Outbox.GetPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, a1.ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)

	assert.Equal(t, 2, relay.RelayPending(ctx))
	assert.Equal(t, 0, relay.RelayPending(ctx))

	var order []string
	for _, call := range sink.Calls {
		order = append(order, call.Arguments.Get(1).(models.OutboxEvent).ID)
	}
	assert.Equal(t, []string{a1.ID, b1.ID, a1.ID, a2.ID}, order)
	sink.AssertExpectations(t)
}

func TestOutboxRelay_EverySinkReceivesEvent(t *testing.T) {
	store := repository.NewStore(testutil.OpenSQLite(t))
	ctx := context.Background()
	require.NoError(t, store.Repos(ctx).Outbox.Create(&models.OutboxEvent{
		AccountID: "acc-1", EventType: models.EventMarginChanged, Payload: `{}`,
	}))

	first, second := &mockSink{}, &mockSink{}
	first.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
	second.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	relay := worker.NewOutboxRelay(store, metrics.New(), 0, 0, first, second)
	assert.Equal(t, 1, relay.RelayPending(ctx))

	first.AssertExpectations(t)
	second.AssertExpectations(t)
}

type clockEnv struct {
	store    *repository.Store
	feed     *testutil.PriceFeed
	clock    *service.ClockService
	monitor  *service.ThresholdMonitor
	accounts *service.AccountService
	trades   *service.SettlementService
}

func newClockEnv(t *testing.T) *clockEnv {
	t.Helper()
	store := repository.NewStore(testutil.OpenSQLite(t))
	locker := service.NewAccountLocker()
	m := metrics.New()
	feed := testutil.NewPriceFeed(service.ErrPriceUnavailable)
	monitor := service.NewThresholdMonitor(store, feed, locker, m)

	defaults := config.Default().Defaults
	defaults.StartTime = "2024-05-01T09:30:00Z"
	defaults.Speed = 1

	trades := service.NewSettlementService(store, feed, locker, m)
	trades.SetThresholdMonitor(monitor)
	return &clockEnv{
		store:    store,
		feed:     feed,
		clock:    service.NewClockService(store, locker, m, monitor),
		monitor:  monitor,
		accounts: service.NewAccountService(store, locker, defaults, m, monitor),
		trades:   trades,
	}
}

func TestClockWorker_TickAll(t *testing.T) {
	env := newClockEnv(t)
	ctx := context.Background()

	running, err := env.accounts.CreateAccount(ctx, nil)
	require.NoError(t, err)
	paused, err := env.accounts.CreateAccount(ctx, nil)
	require.NoError(t, err)
	_, err = env.clock.SetPaused(ctx, paused.ID, true)
	require.NoError(t, err)

	listener := &recordingListener{ticks: make(map[string][]*service.TickResult)}
	w := worker.NewClockWorker(env.store, env.clock, env.monitor, time.Second)
	w.AddListener(listener)

	// The first tick records the current day, the second crosses midnight
	w.TickAll(ctx, 0)
	w.TickAll(ctx, 15*time.Hour)

	require.Len(t, listener.ticks[running.ID], 2)
	assert.Empty(t, listener.ticks[paused.ID])
	assert.Nil(t, listener.ticks[running.ID][0].Sweep)

	result := listener.ticks[running.ID][1]
	require.NotNil(t, result.Sweep)
	assert.Equal(t, "2024-05-02", result.Sweep.Day)
	assert.Equal(t, "2024-05-02", result.Clock.LastProcessedDay)

	state, err := env.clock.State(ctx, paused.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC), state.SimulatedTime.UTC())
}

func TestClockWorker_ThresholdPausesAccount(t *testing.T) {
	env := newClockEnv(t)
	ctx := context.Background()

	account, err := env.accounts.CreateAccount(ctx, nil)
	require.NoError(t, err)
	initial := account.SimulatedBalance

	// A long worth far more than the gain target once priced
	shares := initial.Div(testutil.D("200")).Floor()
	_, err = env.trades.OpenTrade(ctx, &service.OpenTradeRequest{
		AccountID: account.ID,
		Symbol:    "AAPL",
		Shares:    shares,
		Price:     testutil.D("100"),
		Direction: models.PositionLong,
	})
	require.NoError(t, err)
	env.feed.Set("AAPL", testutil.D("1000"))

	listener := &recordingListener{ticks: make(map[string][]*service.TickResult)}
	w := worker.NewClockWorker(env.store, env.clock, env.monitor, 0)
	w.AddListener(listener)

	w.TickAll(ctx, time.Minute)
	require.Len(t, listener.ticks[account.ID], 1)
	clock := listener.ticks[account.ID][0].Clock
	assert.True(t, clock.Paused)
	assert.Equal(t, models.OutcomeWin, clock.ThresholdOutcome)

	// Paused accounts drop out of the next round
	w.TickAll(ctx, time.Minute)
	assert.Len(t, listener.ticks[account.ID], 1)
}

func TestClockWorker_StartStop(t *testing.T) {
	env := newClockEnv(t)
	w := worker.NewClockWorker(env.store, env.clock, env.monitor, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Start()
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	w.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
