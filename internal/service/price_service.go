package service

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/papersim/internal/market"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// PriceChannel is the Redis pub/sub channel carrying price updates between instances
const PriceChannel = "price_updates"

// PriceService keeps the latest price per symbol in memory and, when a Redis
// client is configured, mirrors it into a shared cache other instances read
type PriceService struct {
	redis     *redis.Client
	origin    string
	prices    map[string]market.PriceUpdate
	pricesMux sync.RWMutex

	subscribers []market.PriceSubscriber
	subsMux     sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPriceService creates a new PriceService. redisClient may be nil.
func NewPriceService(redisClient *redis.Client) *PriceService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PriceService{
		redis:  redisClient,
		origin: uuid.NewString(),
		prices: make(map[string]market.PriceUpdate),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start listens for updates published by other instances
func (s *PriceService) Start(ctx context.Context) error {
	if s.redis == nil {
		log.Printf("[PriceService] Started without Redis, prices are local to this process")
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	pubsub := s.redis.Subscribe(s.ctx, PriceChannel)
	if _, err := pubsub.Receive(s.ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", PriceChannel, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-s.ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s.handleRemote(msg.Payload)
			}
		}
	}()

	log.Printf("[PriceService] Started, listening on %s", PriceChannel)
	return nil
}

// AddSubscriber registers a component that is notified on every update
func (s *PriceService) AddSubscriber(sub market.PriceSubscriber) {
	s.subsMux.Lock()
	s.subscribers = append(s.subscribers, sub)
	s.subsMux.Unlock()
}

// Ingest validates and stores a batch of price observations
func (s *PriceService) Ingest(updates ...market.PriceUpdate) error {
	for i := range updates {
		u := updates[i]
		u.Symbol = market.NormalizeSymbol(u.Symbol)
		if u.Symbol == "" {
			return validationError("price update %d has no symbol", i)
		}
		if !u.Price.IsPositive() {
			return validationError("price for %s must be positive", u.Symbol)
		}
		if u.Source == "" {
			u.Source = market.SourceReal
		}
		if u.Timestamp == 0 {
			u.Timestamp = time.Now().UnixMilli()
		}
		s.OnPriceUpdate(u)
	}
	return nil
}

// OnPriceUpdate implements market.PriceSubscriber
func (s *PriceService) OnPriceUpdate(update market.PriceUpdate) {
	s.store(update)

	if s.redis != nil {
		key := "price:" + update.Symbol
		s.redis.HSet(s.ctx, key, map[string]interface{}{
			"price":     update.Price.String(),
			"source":    update.Source,
			"timestamp": update.Timestamp,
		})

		// Publish for other instances
		s.redis.Publish(s.ctx, PriceChannel, fmt.Sprintf("%s|%s|%s|%s|%d",
			s.origin, update.Source, update.Symbol, update.Price.String(), update.Timestamp))
	}

	s.notify(update)
}

func (s *PriceService) store(update market.PriceUpdate) {
	s.pricesMux.Lock()
	defer s.pricesMux.Unlock()

	// Out-of-order replays never move a symbol backwards in time
	if prev, ok := s.prices[update.Symbol]; ok && prev.Timestamp > update.Timestamp {
		return
	}
	s.prices[update.Symbol] = update
}

func (s *PriceService) notify(update market.PriceUpdate) {
	s.subsMux.RLock()
	subs := make([]market.PriceSubscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.subsMux.RUnlock()

	for _, sub := range subs {
		sub.OnPriceUpdate(update)
	}
}

// handleRemote applies an update published by another instance without
// republishing it
func (s *PriceService) handleRemote(payload string) {
	parts := strings.Split(payload, "|")
	if len(parts) != 5 || parts[0] == s.origin {
		return
	}
	price, err := decimal.NewFromString(parts[3])
	if err != nil {
		log.Printf("[PriceService] Dropping malformed update %q: %v", payload, err)
		return
	}
	ts, _ := strconv.ParseInt(parts[4], 10, 64)

	update := market.PriceUpdate{Source: parts[1], Symbol: parts[2], Price: price, Timestamp: ts}
	s.store(update)
	s.notify(update)
}

// LatestPrice implements market.PriceFeed
func (s *PriceService) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = market.NormalizeSymbol(symbol)

	// Try memory cache first
	s.pricesMux.RLock()
	update, ok := s.prices[symbol]
	s.pricesMux.RUnlock()
	if ok {
		return update.Price, nil
	}

	// Try Redis
	if s.redis != nil {
		raw, err := s.redis.HGet(ctx, "price:"+symbol, "price").Result()
		if err == nil {
			if price, err := decimal.NewFromString(raw); err == nil && price.IsPositive() {
				return price, nil
			}
		}
	}

	return decimal.Zero, fmt.Errorf("%w: no price for %s", ErrPriceUnavailable, symbol)
}

// GetPriceUpdate returns the full price update for a symbol
func (s *PriceService) GetPriceUpdate(symbol string) (*market.PriceUpdate, error) {
	symbol = market.NormalizeSymbol(symbol)

	s.pricesMux.RLock()
	defer s.pricesMux.RUnlock()

	if update, ok := s.prices[symbol]; ok {
		return &update, nil
	}
	return nil, fmt.Errorf("%w: no price for %s", ErrPriceUnavailable, symbol)
}

// GetAllPrices returns every symbol's latest price
func (s *PriceService) GetAllPrices() map[string]decimal.Decimal {
	s.pricesMux.RLock()
	defer s.pricesMux.RUnlock()

	result := make(map[string]decimal.Decimal, len(s.prices))
	for symbol, update := range s.prices {
		result[symbol] = update.Price
	}
	return result
}

// Stop stops the price service
func (s *PriceService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Printf("[PriceService] Stopped")
}
