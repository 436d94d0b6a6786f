package host

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler invokes Refresh on every registered coordinator at a fixed
// interval. It is the only retry mechanism: failed cycles are logged and
// simply retried on the next tick, with no backoff. Cycles for one
// instance never overlap because refreshes run sequentially within a tick.
type Scheduler struct {
	registry *Registry
	interval time.Duration
}

// NewScheduler creates a scheduler over the given registry.
func NewScheduler(registry *Registry, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 300 * time.Second
	}
	return &Scheduler{registry: registry, interval: interval}
}

// Run blocks until ctx is cancelled, refreshing all instances every
// interval. The eager first refresh already happened at setup, so the
// first tick fires one full interval in.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("refresh scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("refresh scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.refreshAll(ctx)
		}
	}
}

func (s *Scheduler) refreshAll(ctx context.Context) {
	for _, coordinator := range s.registry.All() {
		snap, err := coordinator.Refresh(ctx)
		if err != nil {
			slog.Error("refresh failed", "zip", coordinator.ZipCode(), "error", err)
			continue
		}
		slog.Debug("refresh complete",
			"zip", coordinator.ZipCode(),
			"current_price", snap.CurrentPrice,
			"today_entries", len(snap.PricesToday),
			"tomorrow_entries", len(snap.PricesTomorrow),
		)
	}
}
