package market

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Price sources
const (
	SourceReal   = "real"
	SourceReplay = "replay"
)

// PriceUpdate represents one price observation for a symbol
type PriceUpdate struct {
	Source    string          `json:"source"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// PriceSubscriber is an interface for components that receive price updates
type PriceSubscriber interface {
	OnPriceUpdate(update PriceUpdate)
}

// PriceFeed supplies the latest known price of a symbol. Implementations
// return an error wrapping the caller's "unavailable" sentinel when the
// symbol has never been priced.
type PriceFeed interface {
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// NormalizeSymbol returns the canonical form of a ticker
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
