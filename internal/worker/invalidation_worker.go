package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/tenantrouter/internal/directory"
)

// Subscriber delivers pub/sub payloads until ctx is cancelled
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handle func(payload []byte)) error
}

// Evictor removes keys from the local cache level
type Evictor interface {
	Delete(ctx context.Context, key string) error
}

// InvalidationWorker evicts directory keys from this replica's local cache
// when any replica renames a tenant or changes its status.
type InvalidationWorker struct {
	sub     Subscriber
	local   Evictor
	logger  *slog.Logger
	backoff time.Duration
}

// NewInvalidationWorker creates a new invalidation worker
func NewInvalidationWorker(sub Subscriber, local Evictor, logger *slog.Logger) *InvalidationWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvalidationWorker{sub: sub, local: local, logger: logger, backoff: time.Second}
}

// Start subscribes to the invalidation channel and resubscribes after
// failures until ctx is cancelled.
func (w *InvalidationWorker) Start(ctx context.Context) {
	w.logger.Info("invalidation worker started", slog.String("channel", directory.InvalidationChannel))
	for {
		err := w.sub.Subscribe(ctx, directory.InvalidationChannel, func(payload []byte) {
			w.handle(ctx, payload)
		})
		if ctx.Err() != nil {
			w.logger.Info("invalidation worker stopped")
			return
		}
		if err != nil {
			w.logger.WarnContext(ctx, "invalidation subscription failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", w.backoff),
			)
		}
		select {
		case <-ctx.Done():
			w.logger.Info("invalidation worker stopped")
			return
		case <-time.After(w.backoff):
		}
	}
}

func (w *InvalidationWorker) handle(ctx context.Context, payload []byte) {
	var msg directory.Invalidation
	if err := json.Unmarshal(payload, &msg); err != nil {
		w.logger.WarnContext(ctx, "malformed invalidation message", slog.String("error", err.Error()))
		return
	}
	for _, key := range msg.Keys {
		if err := w.local.Delete(ctx, key); err != nil {
			w.logger.WarnContext(ctx, "local cache eviction failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
	w.logger.DebugContext(ctx, "evicted directory keys", slog.Int("count", len(msg.Keys)))
}
