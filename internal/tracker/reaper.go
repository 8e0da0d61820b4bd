package tracker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ventureforge/orchestd/internal/logging"
)

// Reaper periodically fails records stuck in running past the execution
// timeout, so no record stays running indefinitely even when the owning
// workflow task died without a terminal update.
type Reaper struct {
	store    DurableStore
	timeout  time.Duration
	interval time.Duration
	log      *logging.Logger
	now      func() time.Time
}

// NewReaper creates a reaper. Zero timeout defaults to 300s, zero interval
// to 30s. logger may be nil.
func NewReaper(store DurableStore, timeout, interval time.Duration, logger *logging.Logger) *Reaper {
	if timeout == 0 {
		timeout = 300 * time.Second
	}
	if interval == 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reaper{
		store:    store,
		timeout:  timeout,
		interval: interval,
		log:      logger.Named("reaper"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks, sweeping on the configured interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs a single pass.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := r.now().Add(-r.timeout)
	reaped, err := r.store.FailStaleRunning(ctx, cutoff, "timeout")
	if err != nil {
		r.log.Error(ctx, "reaper sweep failed", zap.Error(err))
		return
	}
	if reaped > 0 {
		r.log.Warn(ctx, "reaped stale running executions", zap.Int64("count", reaped))
	}
}
