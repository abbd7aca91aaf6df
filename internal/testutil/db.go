// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/papersim/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenSQLite opens a migrated in-memory database private to the test
func OpenSQLite(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:" + name + "?mode=memory&cache=shared&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps the shared in-memory database alive and
	// serializes writers the way SQLite expects
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

// D parses a decimal literal and panics on malformed input
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// PriceFeed is an in-memory price feed for tests. Missing symbols return
// an error wrapping Unavailable.
type PriceFeed struct {
	mu          sync.RWMutex
	prices      map[string]decimal.Decimal
	Unavailable error
}

// NewPriceFeed creates an empty feed whose misses wrap unavailable
func NewPriceFeed(unavailable error) *PriceFeed {
	return &PriceFeed{prices: make(map[string]decimal.Decimal), Unavailable: unavailable}
}

// Set stores the price of symbol
func (f *PriceFeed) Set(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

// Remove forgets the price of symbol
func (f *PriceFeed) Remove(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prices, symbol)
}

// LatestPrice implements market.PriceFeed
func (f *PriceFeed) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if p, ok := f.prices[symbol]; ok {
		return p, nil
	}
	return decimal.Zero, &missingPrice{symbol: symbol, err: f.Unavailable}
}

type missingPrice struct {
	symbol string
	err    error
}

func (e *missingPrice) Error() string {
	return "no price for " + e.symbol
}

func (e *missingPrice) Unwrap() error {
	return e.err
}
