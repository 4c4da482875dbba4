package worker

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper drops expired entries from an in-process cache
type Sweeper interface {
	Sweep() int
}

// CleanupWorker periodically sweeps expired entries out of in-process caches
// so that partitions which stop receiving traffic do not pin memory.
type CleanupWorker struct {
	sweepers map[string]Sweeper
	logger   *slog.Logger
	interval time.Duration
}

// NewCleanupWorker creates a new cleanup worker
func NewCleanupWorker(sweepers map[string]Sweeper, logger *slog.Logger, interval time.Duration) *CleanupWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &CleanupWorker{
		sweepers: sweepers,
		logger:   logger,
		interval: interval,
	}
}

// Start runs the sweep loop until ctx is cancelled
func (w *CleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("cleanup worker started", slog.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *CleanupWorker) sweep(ctx context.Context) int {
	total := 0
	for name, s := range w.sweepers {
		n := s.Sweep()
		total += n
		if n > 0 {
			w.logger.DebugContext(ctx, "swept expired cache entries",
				slog.String("cache", name),
				slog.Int("removed", n),
			)
		}
	}
	return total
}
