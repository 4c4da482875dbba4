// Package directory is the authoritative slug and alias to tenant lookup,
// with a read-through cache that is invalidated on every tenant change.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/observability/metrics"
	"github.com/aryan0dhankhar/tenantrouter/internal/observability/tracing"
	"github.com/aryan0dhankhar/tenantrouter/internal/reliability/circuitbreaker"
	"github.com/aryan0dhankhar/tenantrouter/internal/storage"
)

// InvalidationChannel carries the cache keys to evict in every replica
const InvalidationChannel = "tenantrouter:directory:invalidate"

// Cache is the byte cache the directory reads through
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Publisher fans invalidations out to other replicas
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Invalidation is the message published on InvalidationChannel
type Invalidation struct {
	Keys []string `json:"keys"`
}

// Config holds directory timeouts and cache lifetimes
type Config struct {
	LookupTimeout time.Duration
	CacheTTL      time.Duration
	// NegativeTTL is how long an unknown slug is remembered as unknown.
	NegativeTTL time.Duration
	// UnsharedTTL caps every cache entry when no Publisher is configured. Tenant
	// changes made by other processes cannot evict such a cache, so this bounds
	// how long a renamed or suspended tenant may still be routed.
	UnsharedTTL time.Duration
}

// Directory resolves slugs and aliases to tenants
type Directory struct {
	store     domain.TenantStore
	cache     Cache
	publisher Publisher
	breaker   *circuitbreaker.CircuitBreaker
	cfg       Config
	logger    *slog.Logger

	// generation counts invalidations; a lookup that overlaps one does not
	// write its result back to the cache.
	generation atomic.Uint64
}

// Option configures optional collaborators
type Option func(*Directory)

// WithCache enables read-through caching
func WithCache(c Cache) Option {
	return func(d *Directory) { d.cache = c }
}

// WithPublisher broadcasts invalidations to other replicas
func WithPublisher(p Publisher) Option {
	return func(d *Directory) { d.publisher = p }
}

// WithBreaker overrides the default circuit breaker around the store
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(d *Directory) { d.breaker = cb }
}

// New creates a directory over store
func New(store domain.TenantStore, cfg Config, logger *slog.Logger, opts ...Option) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = 30 * time.Second
	}
	if cfg.UnsharedTTL <= 0 {
		cfg.UnsharedTTL = 5 * time.Second
	}
	d := &Directory{store: store, cfg: cfg, logger: logger}
	for _, o := range opts {
		o(d)
	}
	if d.cache != nil && d.publisher == nil {
		d.cfg.CacheTTL = min(d.cfg.CacheTTL, d.cfg.UnsharedTTL)
		d.cfg.NegativeTTL = min(d.cfg.NegativeTTL, d.cfg.UnsharedTTL)
	}
	if d.breaker == nil {
		d.breaker = circuitbreaker.NewCircuitBreaker(5, 2, 10*time.Second)
	}
	d.breaker.SetStateChangeCallback(func(from, to circuitbreaker.State) {
		d.logger.Warn("directory circuit breaker state change",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	})
	return d
}

// SlugKey is the cache key for a slug lookup
func SlugKey(slug string) string { return "tenant:slug:" + slug }

// AliasKey is the cache key for an alias lookup
func AliasKey(alias string) string { return "tenant:alias:" + alias }

type entry struct {
	Tenant  *domain.Tenant `json:"tenant,omitempty"`
	Missing bool           `json:"missing,omitempty"`
}

// Lookup returns the tenant for key, trying aliases first and slugs second.
// Unknown keys return domain.ErrTenantNotFound wrapped in a *domain.TenantError.
func (d *Directory) Lookup(ctx context.Context, key string) (*domain.Tenant, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return nil, domain.NewTenantError(key, domain.ErrTenantNotFound)
	}

	ctx, span := tracing.Tracer().Start(ctx, "directory.lookup")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.slug", key))

	ctx, cancel := context.WithTimeout(ctx, d.cfg.LookupTimeout)
	defer cancel()

	t, err := d.cached(ctx, AliasKey(key), key, d.store.GetByAlias)
	if errors.Is(err, domain.ErrTenantNotFound) {
		t, err = d.cached(ctx, SlugKey(key), key, d.store.GetBySlug)
	}
	if err != nil {
		if !errors.Is(err, domain.ErrTenantNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "lookup failed")
		}
		return nil, domain.NewTenantError(key, d.classify(err))
	}
	return t, nil
}

func (d *Directory) classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrTenantNotFound):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: directory lookup: %w", domain.ErrStorageTimeout, err)
	case errors.Is(err, circuitbreaker.ErrOpen):
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	case errors.Is(err, context.Canceled):
		return err
	}
	return fmt.Errorf("%w: directory lookup: %w", domain.ErrStorageUnavailable, err)
}

func (d *Directory) cached(ctx context.Context, cacheKey, key string,
	get func(context.Context, string) (*domain.Tenant, error)) (*domain.Tenant, error) {
	if d.cache != nil {
		raw, ok, err := d.cache.Get(ctx, cacheKey)
		if err != nil {
			d.logger.WarnContext(ctx, "directory cache read failed",
				slog.String("key", cacheKey),
				slog.String("error", err.Error()),
			)
		}
		if ok {
			var e entry
			if err := json.Unmarshal(raw, &e); err == nil {
				if e.Missing {
					metrics.ObserveDirectoryCache("negative_hit")
					return nil, domain.ErrTenantNotFound
				}
				if e.Tenant != nil {
					metrics.ObserveDirectoryCache("hit")
					return e.Tenant, nil
				}
			}
		}
		metrics.ObserveDirectoryCache("miss")
	}

	started := d.generation.Load()
	var t *domain.Tenant
	var lookupErr error
	err := d.breaker.Execute(func() error {
		t, lookupErr = get(ctx, key)
		// only backend failures count against the breaker
		if lookupErr == nil || errors.Is(lookupErr, domain.ErrTenantNotFound) || errors.Is(lookupErr, context.Canceled) {
			return nil
		}
		return lookupErr
	})
	if err != nil {
		return nil, err
	}
	if lookupErr != nil && !errors.Is(lookupErr, domain.ErrTenantNotFound) {
		return nil, lookupErr
	}

	if d.cache != nil && d.generation.Load() == started {
		e, ttl := entry{Tenant: t}, d.cfg.CacheTTL
		if lookupErr != nil {
			e, ttl = entry{Missing: true}, d.cfg.NegativeTTL
		}
		if raw, err := json.Marshal(e); err == nil {
			if err := d.cache.Set(ctx, cacheKey, raw, ttl); err != nil {
				d.logger.WarnContext(ctx, "directory cache write failed",
					slog.String("key", cacheKey),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if lookupErr != nil {
		return nil, lookupErr
	}
	return t, nil
}

// Get returns a tenant by id, bypassing the cache
func (d *Directory) Get(ctx context.Context, id int64) (*domain.Tenant, error) {
	return d.store.GetByID(ctx, id)
}

// List returns every tenant
func (d *Directory) List(ctx context.Context) ([]*domain.Tenant, error) {
	return d.store.List(ctx)
}

// Create records a new tenant. The partition identifier is validated here so
// that an unsafe name never reaches storage.
func (d *Directory) Create(ctx context.Context, t *domain.Tenant) error {
	t.Slug = strings.ToLower(t.Slug)
	if !domain.ValidSlug(t.Slug) {
		return fmt.Errorf("invalid slug %q", t.Slug)
	}
	if !storage.ValidIdentifier(t.Partition) || t.Partition == domain.DefaultPartition {
		return domain.NewTenantError(t.Slug, domain.ErrInvalidPartitionIdentifier)
	}
	if t.Status == "" {
		t.Status = domain.TenantActive
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	if err := d.store.Create(ctx, t); err != nil {
		return err
	}
	d.invalidate(ctx, SlugKey(t.Slug), AliasKey(t.Slug))
	d.logger.InfoContext(ctx, "tenant created",
		slog.Int64("tenant_id", t.ID),
		slog.String("slug", t.Slug),
		slog.String("partition", t.Partition),
	)
	return nil
}

// Rename changes a tenant's slug and evicts every cached key for it
func (d *Directory) Rename(ctx context.Context, id int64, newSlug string) error {
	newSlug = strings.ToLower(newSlug)
	if !domain.ValidSlug(newSlug) {
		return fmt.Errorf("invalid slug %q", newSlug)
	}
	t, err := d.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := d.store.Rename(ctx, id, newSlug); err != nil {
		return err
	}
	keys, err := d.tenantKeys(ctx, t)
	if err != nil {
		return err
	}
	d.invalidate(ctx, append(keys, SlugKey(newSlug), AliasKey(newSlug))...)
	d.logger.InfoContext(ctx, "tenant renamed",
		slog.Int64("tenant_id", id),
		slog.String("from", t.Slug),
		slog.String("to", newSlug),
	)
	return nil
}

// SetStatus moves a tenant through its lifecycle and evicts its cached entries
func (d *Directory) SetStatus(ctx context.Context, id int64, status domain.TenantStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	t, err := d.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := d.store.SetStatus(ctx, id, status); err != nil {
		return err
	}
	keys, err := d.tenantKeys(ctx, t)
	if err != nil {
		return err
	}
	d.invalidate(ctx, keys...)
	d.logger.InfoContext(ctx, "tenant status changed",
		slog.Int64("tenant_id", id),
		slog.String("from", string(t.Status)),
		slog.String("to", string(status)),
	)
	return nil
}

// AddAlias maps an extra lookup key to a tenant
func (d *Directory) AddAlias(ctx context.Context, a domain.Alias) error {
	a.Alias = strings.ToLower(a.Alias)
	if !domain.ValidSlug(a.Alias) {
		return fmt.Errorf("invalid alias %q", a.Alias)
	}
	if err := d.store.AddAlias(ctx, a); err != nil {
		return err
	}
	d.invalidate(ctx, AliasKey(a.Alias))
	return nil
}

func (d *Directory) tenantKeys(ctx context.Context, t *domain.Tenant) ([]string, error) {
	aliases, err := d.store.ListAliases(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	keys := []string{SlugKey(t.Slug), AliasKey(t.Slug)}
	for _, a := range aliases {
		keys = append(keys, AliasKey(a))
	}
	return keys, nil
}

// invalidate evicts keys locally and tells the other replicas to do the same.
// The store write has already succeeded, so failures here are only logged.
func (d *Directory) invalidate(ctx context.Context, keys ...string) {
	d.generation.Add(1)
	if d.cache != nil {
		for _, k := range keys {
			if err := d.cache.Delete(ctx, k); err != nil {
				d.logger.WarnContext(ctx, "directory cache delete failed",
					slog.String("key", k),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if d.publisher == nil {
		return
	}
	payload, err := json.Marshal(Invalidation{Keys: keys})
	if err != nil {
		return
	}
	if err := d.publisher.Publish(ctx, InvalidationChannel, payload); err != nil {
		d.logger.WarnContext(ctx, "publish directory invalidation failed",
			slog.Int("keys", len(keys)),
			slog.String("error", err.Error()),
		)
	}
}
