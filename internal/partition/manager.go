// Package partition switches a request onto its tenant's schema. Each entry
// checks out its own storage session, so the "current partition" is a property
// of that session and never of shared process state.
package partition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/observability/metrics"
	"github.com/aryan0dhankhar/tenantrouter/internal/observability/tracing"
	"github.com/aryan0dhankhar/tenantrouter/internal/storage"
)

// Manager enters and exits tenant partitions
type Manager struct {
	pool          storage.Pool
	switchTimeout time.Duration
	logger        *slog.Logger
}

// NewManager creates a manager over pool. switchTimeout bounds checkout and the
// schema switch.
func NewManager(pool storage.Pool, switchTimeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if switchTimeout <= 0 {
		switchTimeout = 2 * time.Second
	}
	return &Manager{pool: pool, switchTimeout: switchTimeout, logger: logger}
}

// Handle binds one request to one tenant partition and one storage session
type Handle struct {
	tenant   domain.Tenant
	session  storage.Session
	previous string
	logger   *slog.Logger

	once   sync.Once
	mu     sync.RWMutex
	exited bool
}

// Enter validates the tenant's partition identifier, checks out a session and
// switches it into the partition. On any failure no session is left checked out.
func (m *Manager) Enter(ctx context.Context, t *domain.Tenant) (*Handle, error) {
	if t == nil {
		return nil, domain.ErrTenantNotFound
	}
	if !storage.ValidIdentifier(t.Partition) {
		metrics.ObservePartitionSwitch("invalid_identifier")
		m.logger.WarnContext(ctx, "rejected partition identifier",
			slog.Int64("tenant_id", t.ID),
			slog.String("slug", t.Slug),
		)
		return nil, domain.NewTenantError(t.Slug, domain.ErrInvalidPartitionIdentifier)
	}

	ctx, span := tracing.Tracer().Start(ctx, "partition.enter")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("tenant.id", t.ID),
		attribute.String("tenant.partition", t.Partition),
	)

	ectx, cancel := context.WithTimeout(ctx, m.switchTimeout)
	defer cancel()

	sess, err := m.pool.Acquire(ectx)
	if err != nil {
		return nil, m.switchFailed(ctx, span, t, "checkout", err)
	}

	previous, err := sess.CurrentPartition(ectx)
	if err == nil {
		err = sess.SetPartition(ectx, t.Partition)
	}
	if err != nil {
		if relErr := sess.Release(context.WithoutCancel(ctx)); relErr != nil {
			m.logger.ErrorContext(ctx, "release after failed enter", slog.String("error", relErr.Error()))
		}
		return nil, m.switchFailed(ctx, span, t, "switch", err)
	}

	metrics.ObservePartitionSwitch("ok")
	metrics.IncActiveContexts()
	m.logger.DebugContext(ctx, "partition entered",
		slog.Int64("tenant_id", t.ID),
		slog.String("partition", t.Partition),
	)
	return &Handle{
		tenant:   *t,
		session:  sess,
		previous: previous,
		logger:   m.logger,
	}, nil
}

func (m *Manager) switchFailed(ctx context.Context, span trace.Span, t *domain.Tenant, stage string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)

	result := "failed"
	wrapped := fmt.Errorf("%w: %s %s: %w", domain.ErrPartitionSwitchFailed, stage, t.Partition, err)
	if errors.Is(err, context.DeadlineExceeded) {
		result = "timeout"
		wrapped = fmt.Errorf("%w: %w", domain.ErrStorageTimeout, wrapped)
	}
	metrics.ObservePartitionSwitch(result)
	m.logger.ErrorContext(ctx, "partition switch failed",
		slog.Int64("tenant_id", t.ID),
		slog.String("partition", t.Partition),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
	return domain.NewTenantError(t.Slug, wrapped)
}

// Exit restores the default partition and returns the session to the pool. It
// runs at most once and does not depend on the request context, so a cancelled
// request still restores.
func (h *Handle) Exit() error {
	var err error
	h.once.Do(func() {
		h.mu.Lock()
		h.exited = true
		h.mu.Unlock()

		err = h.session.Release(context.Background())
		metrics.DecActiveContexts()
		if err != nil {
			h.logger.Error("partition exit failed; connection discarded",
				slog.Int64("tenant_id", h.tenant.ID),
				slog.String("partition", h.tenant.Partition),
				slog.String("error", err.Error()),
			)
		}
	})
	return err
}

// Run enters t, calls fn with a context carrying the handle, and exits on every
// path out of fn, panics included. The panic is re-raised after exit.
func (m *Manager) Run(ctx context.Context, t *domain.Tenant, fn func(ctx context.Context, h *Handle) error) error {
	h, err := m.Enter(ctx, t)
	if err != nil {
		return err
	}
	defer func() {
		_ = h.Exit()
	}()
	return fn(WithHandle(ctx, h), h)
}

// Tenant returns a copy of the bound tenant
func (h *Handle) Tenant() domain.Tenant {
	return h.tenant
}

// Partition returns the bound partition identifier
func (h *Handle) Partition() string {
	return h.tenant.Partition
}

// Previous is the partition the session was on before Enter
func (h *Handle) Previous() string {
	return h.previous
}

// Session is the request's storage session
func (h *Handle) Session() storage.Session {
	return h.session
}

// Exited reports whether Exit has run
func (h *Handle) Exited() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exited
}
