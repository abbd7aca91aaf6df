package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/papersim/internal/config"
	"github.com/papersim/internal/metrics"
	"github.com/papersim/internal/models"
	"github.com/papersim/internal/repository"
	"github.com/papersim/internal/service"
	"github.com/papersim/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var d = testutil.D

type testEnv struct {
	db         *gorm.DB
	store      *repository.Store
	locker     *service.AccountLocker
	metrics    *metrics.Metrics
	feed       *testutil.PriceFeed
	monitor    *service.ThresholdMonitor
	settlement *service.SettlementService
	margin     *service.MarginService
	clock      *service.ClockService
	accounts   *service.AccountService
}

func testDefaults() config.DefaultsConfig {
	return config.DefaultsConfig{
		InitialSimulatedBalance: 10000,
		RealBalance:             500,
		CommissionRate:          0.01,
		CommissionType:          "sim",
		HoldingCostRate:         0.001,
		HoldingCostType:         "sim",
		MarginLimit:             5000,
		OvernightFeeRate:        0.0005,
		OvernightFeeType:        "sim",
		PowerUpFee:              10,
		PowerUpType:             "sim",
		GainRateThreshold:       20,
		DrawdownRateThreshold:   25,
		StartTime:               "2024-05-01T09:30:00Z",
		Speed:                   1,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.OpenSQLite(t)
	store := repository.NewStore(db)
	locker := service.NewAccountLocker()
	m := metrics.New()
	feed := testutil.NewPriceFeed(service.ErrPriceUnavailable)

	monitor := service.NewThresholdMonitor(store, feed, locker, m)
	settlement := service.NewSettlementService(store, feed, locker, m)
	settlement.SetThresholdMonitor(monitor)
	settlement.SetFlattenPolicy(3, time.Millisecond)

	return &testEnv{
		db:         db,
		store:      store,
		locker:     locker,
		metrics:    m,
		feed:       feed,
		monitor:    monitor,
		settlement: settlement,
		margin:     service.NewMarginService(store, locker, m, monitor),
		clock:      service.NewClockService(store, locker, m, monitor),
		accounts:   service.NewAccountService(store, locker, testDefaults(), m, monitor),
	}
}

// newAccount creates an account with the test defaults, then applies patch
func (e *testEnv) newAccount(t *testing.T, patch *service.SettingsPatch) *models.Account {
	t.Helper()
	account, err := e.accounts.CreateAccount(context.Background(), &service.CreateAccountRequest{
		Name:     "test",
		Settings: patch,
	})
	require.NoError(t, err)
	return account
}

func (e *testEnv) reload(t *testing.T, accountID string) *models.Account {
	t.Helper()
	account, err := e.store.Repos(context.Background()).Accounts.GetByID(accountID)
	require.NoError(t, err)
	return account
}

func (e *testEnv) open(t *testing.T, accountID, symbol string, dir models.PositionType, shares, price string) *service.TradeResult {
	t.Helper()
	result, err := e.settlement.OpenTrade(context.Background(), &service.OpenTradeRequest{
		AccountID: accountID,
		Symbol:    symbol,
		Shares:    d(shares),
		Price:     d(price),
		Direction: dir,
	})
	require.NoError(t, err)
	return result
}

func decEqual(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, d(expected).Equal(actual), "expected %s, got %s %v", expected, actual.String(), msgAndArgs)
}

func ptrDec(s string) *decimal.Decimal {
	v := d(s)
	return &v
}
