// Package registry tracks which tables every tenant partition needs and creates
// the missing ones the first time a partition is used.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/observability/metrics"
	"github.com/aryan0dhankhar/tenantrouter/internal/observability/tracing"
	"github.com/aryan0dhankhar/tenantrouter/internal/partition"
	"github.com/aryan0dhankhar/tenantrouter/internal/reliability/retry"
	"github.com/aryan0dhankhar/tenantrouter/internal/storage"
	"github.com/aryan0dhankhar/tenantrouter/pkg/cache"
)

// Config bounds provisioning work
type Config struct {
	// CacheTTL is how long a partition stays verified before it is checked again.
	CacheTTL time.Duration
	// Timeout bounds one EnsureProvisioned call, retries included.
	Timeout time.Duration
	Retry   *retry.Config
}

type app struct {
	label string
	specs []storage.TableSpec
}

// Registry holds the partition-scoped tables declared at start-up
type Registry struct {
	mu      sync.RWMutex
	apps    []app
	tables  map[string]string // table -> app label
	version atomic.Uint64

	verified *cache.Cache[uint64]
	group    singleflight.Group
	cfg      Config
	logger   *slog.Logger
}

// New creates an empty registry
func New(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.Once()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
	}
	return &Registry{
		tables:   map[string]string{},
		verified: cache.New[uint64](),
		cfg:      cfg,
		logger:   logger,
	}
}

// Register declares the tables owned by appLabel. Every registration bumps the
// registry version, which makes previously verified partitions stale.
func (r *Registry) Register(appLabel string, specs ...storage.TableSpec) error {
	if appLabel == "" {
		return errors.New("app label is required")
	}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("register %s.%s: %w", appLabel, s.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range specs {
		if owner, ok := r.tables[s.Name]; ok {
			return fmt.Errorf("register %s.%s: table already registered by %s", appLabel, s.Name, owner)
		}
	}
	idx := -1
	for i := range r.apps {
		if r.apps[i].label == appLabel {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.apps = append(r.apps, app{label: appLabel})
		idx = len(r.apps) - 1
	}
	for _, s := range specs {
		r.apps[idx].specs = append(r.apps[idx].specs, s)
		r.tables[s.Name] = appLabel
	}
	r.version.Add(1)
	r.logger.Info("registered partition tables",
		slog.String("app", appLabel),
		slog.Int("tables", len(specs)),
		slog.Uint64("version", r.version.Load()),
	)
	return nil
}

// Version is incremented by every Register call
func (r *Registry) Version() uint64 {
	return r.version.Load()
}

// Specs returns the registered tables in registration order
func (r *Registry) Specs() []storage.TableSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []storage.TableSpec
	for _, a := range r.apps {
		out = append(out, a.specs...)
	}
	return out
}

// Verified reports whether partition is cached as provisioned for the current version
func (r *Registry) Verified(partitionName string) bool {
	v, ok := r.verified.Get(partitionName)
	return ok && v >= r.version.Load()
}

// Forget drops the verified flag for a partition
func (r *Registry) Forget(partitionName string) {
	r.verified.Delete(partitionName)
}

// EnsureProvisioned makes sure every registered table exists in the partition
// h is bound to. It is cheap once the partition has been verified. Concurrent
// callers for the same partition share one check.
func (r *Registry) EnsureProvisioned(ctx context.Context, h *partition.Handle) error {
	name := h.Partition()
	// version is read before the specs snapshot so the stamp never overstates it
	version := r.version.Load()
	if v, ok := r.verified.Get(name); ok && v >= version {
		return nil
	}
	specs := r.Specs()

	ctx, span := tracing.Tracer().Start(ctx, "registry.ensure_provisioned")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.partition", name),
		attribute.Int64("registry.version", int64(version)),
	)

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	key := name + "#" + strconv.FormatUint(version, 10)
	_, err, shared := r.group.Do(key, func() (any, error) {
		return nil, r.provisionWithRetry(ctx, h.Session(), name, specs)
	})
	// a leader whose own request was cancelled must not fail its followers
	if err != nil && shared && ctx.Err() == nil && errors.Is(err, context.Canceled) {
		err = r.provisionWithRetry(ctx, h.Session(), name, specs)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provisioning failed")
		result := "failed"
		wrapped := fmt.Errorf("%w: %s: %w", domain.ErrProvisioningFailed, name, err)
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
			wrapped = fmt.Errorf("%w: %w", domain.ErrStorageTimeout, wrapped)
		}
		metrics.ObserveProvision(result, time.Since(start))
		r.logger.ErrorContext(ctx, "provisioning failed",
			slog.Int64("tenant_id", h.Tenant().ID),
			slog.String("partition", name),
			slog.String("error", err.Error()),
		)
		return domain.NewTenantError(h.Tenant().Slug, wrapped)
	}

	r.verified.Update(name, r.cfg.CacheTTL, func(cur uint64, found bool) uint64 {
		if found && cur >= version {
			return cur
		}
		return version
	})
	metrics.ObserveProvision("ok", time.Since(start))
	return nil
}

func (r *Registry) provisionWithRetry(ctx context.Context, sess storage.Session, name string, specs []storage.TableSpec) error {
	return retry.DoErr(ctx, r.cfg.Retry, r.logger, "provision "+name, func(ctx context.Context) error {
		return r.provision(ctx, sess, name, specs)
	})
}

// provision creates missing tables one by one. Creation is additive: existing
// tables are never altered.
func (r *Registry) provision(ctx context.Context, sess storage.Session, name string, specs []storage.TableSpec) error {
	for _, spec := range specs {
		exists, err := sess.TableExists(ctx, spec.Name)
		if err != nil {
			return fmt.Errorf("check %s.%s: %w", name, spec.Name, err)
		}
		if exists {
			continue
		}
		if err := sess.CreateTable(ctx, spec); err != nil {
			// another request or replica may have created it in the meantime
			ok, cerr := sess.TableExists(ctx, spec.Name)
			if cerr == nil && ok {
				r.logger.DebugContext(ctx, "table created concurrently",
					slog.String("partition", name),
					slog.String("table", spec.Name),
				)
				continue
			}
			return fmt.Errorf("create %s.%s: %w", name, spec.Name, err)
		}
		metrics.IncTablesCreated()
		r.logger.InfoContext(ctx, "table created",
			slog.String("partition", name),
			slog.String("table", spec.Name),
		)
	}
	return nil
}

// Sweep drops expired verified flags and reports how many were removed
func (r *Registry) Sweep() int {
	return r.verified.Sweep()
}
