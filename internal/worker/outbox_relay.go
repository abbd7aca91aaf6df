package worker

import (
	"context"
	"log"
	"time"

	"github.com/papersim/internal/messaging"
	"github.com/papersim/internal/metrics"
	"github.com/papersim/internal/repository"
)

// OutboxRelay delivers committed outbox events to the configured sinks
type OutboxRelay struct {
	store     *repository.Store
	sinks     []messaging.EventSink
	metrics   *metrics.Metrics
	batchSize int
	interval  time.Duration
	stopChan  chan struct{}
}

// NewOutboxRelay creates a new outbox relay
func NewOutboxRelay(store *repository.Store, m *metrics.Metrics, interval time.Duration, batchSize int, sinks ...messaging.EventSink) *OutboxRelay {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{
		store:     store,
		sinks:     sinks,
		metrics:   m,
		batchSize: batchSize,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the polling loop
func (w *OutboxRelay) Start() {
	log.Printf("[OutboxRelay] Started with interval: %v", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RelayPending(context.Background())
		case <-w.stopChan:
			log.Println("[OutboxRelay] Stopped")
			return
		}
	}
}

// Stop stops the polling loop
func (w *OutboxRelay) Stop() {
	close(w.stopChan)
}

// RelayPending publishes one batch of pending events and returns how many
// were delivered. Once an event of an account fails, later events of the
// same account wait for the next round so sinks see them in order.
func (w *OutboxRelay) RelayPending(ctx context.Context) int {
	repos := w.store.Repos(ctx)
	events, err := repos.Outbox.GetPending(w.batchSize)
	if err != nil {
		log.Printf("[OutboxRelay] Failed to load pending events: %v", err)
		return 0
	}

	blocked := make(map[string]bool)
	delivered := 0
	for _, event := range events {
		if blocked[event.AccountID] {
			continue
		}

		var publishErr error
		for _, sink := range w.sinks {
			if err := sink.Publish(ctx, event); err != nil {
				publishErr = err
				break
			}
		}

		if publishErr != nil {
			log.Printf("[OutboxRelay] Failed to publish event %s (%s): %v", event.ID, event.EventType, publishErr)
			blocked[event.AccountID] = true
			if err := repos.Outbox.MarkFailed(event.ID); err != nil {
				log.Printf("[OutboxRelay] Failed to record attempt for event %s: %v", event.ID, err)
			}
			continue
		}

		if err := repos.Outbox.MarkPublished(event.ID, time.Now().UTC()); err != nil {
			log.Printf("[OutboxRelay] Failed to mark event %s published: %v", event.ID, err)
			blocked[event.AccountID] = true
			continue
		}
		w.metrics.Published()
		delivered++
	}
	return delivered
}
