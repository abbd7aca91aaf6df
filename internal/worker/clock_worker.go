package worker

import (
	"context"
	"log"
	"time"

	"github.com/papersim/internal/repository"
	"github.com/papersim/internal/service"
)

// TickListener is notified after each account tick
type TickListener interface {
	OnTick(accountID string, result *service.TickResult)
}

// ClockWorker advances the simulated clock of every running account and
// checks the win/lose thresholds after each advance
type ClockWorker struct {
	store     *repository.Store
	clock     *service.ClockService
	monitor   *service.ThresholdMonitor
	listeners []TickListener
	interval  time.Duration
	stopChan  chan struct{}
	lastTick  time.Time
}

// NewClockWorker creates a new clock worker
func NewClockWorker(
	store *repository.Store,
	clock *service.ClockService,
	monitor *service.ThresholdMonitor,
	interval time.Duration,
) *ClockWorker {
	if interval <= 0 {
		interval = 1 * time.Second // Default 1 second tick
	}
	return &ClockWorker{
		store:    store,
		clock:    clock,
		monitor:  monitor,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// AddListener registers a tick listener. Call before Start.
func (w *ClockWorker) AddListener(l TickListener) {
	w.listeners = append(w.listeners, l)
}

// Start begins the tick loop
func (w *ClockWorker) Start() {
	log.Printf("[ClockWorker] Started with interval: %v", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.lastTick = time.Now()
	for {
		select {
		case now := <-ticker.C:
			elapsed := now.Sub(w.lastTick)
			w.lastTick = now
			w.TickAll(context.Background(), elapsed)
		case <-w.stopChan:
			log.Println("[ClockWorker] Stopped")
			return
		}
	}
}

// Stop stops the tick loop
func (w *ClockWorker) Stop() {
	close(w.stopChan)
}

// TickAll advances every running account by elapsed wall time.
// A failing account is logged and does not hold up the others.
func (w *ClockWorker) TickAll(ctx context.Context, elapsed time.Duration) {
	ids, err := w.store.Repos(ctx).Accounts.ListRunningIDs()
	if err != nil {
		log.Printf("[ClockWorker] Failed to list running accounts: %v", err)
		return
	}

	for _, id := range ids {
		result, err := w.clock.Tick(ctx, id, elapsed)
		if err != nil {
			log.Printf("[ClockWorker] Failed to tick account %s: %v", id, err)
			continue
		}

		if result.Sweep != nil && result.Sweep.Applied {
			log.Printf("[ClockWorker] Account %s: end-of-day fees charged for %s (holding=%s overnight=%s)",
				id, result.Sweep.Day, result.Sweep.HoldingCharged.String(), result.Sweep.OvernightCharged.String())
		}

		if outcome, err := w.monitor.Evaluate(ctx, id); err != nil {
			log.Printf("[ClockWorker] Failed to evaluate thresholds for account %s: %v", id, err)
		} else if outcome != "" {
			if state, err := w.clock.State(ctx, id); err == nil {
				result.Clock = state
			}
		}

		for _, l := range w.listeners {
			l.OnTick(id, result)
		}
	}
}
