package partition

import (
	"context"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/storage"
)

type handleKey struct{}

// WithHandle stores h in ctx for business handlers
func WithHandle(ctx context.Context, h *Handle) context.Context {
	return context.WithValue(ctx, handleKey{}, h)
}

// FromContext returns the live handle stored in ctx. A handle that has already
// exited is not returned.
func FromContext(ctx context.Context) (*Handle, bool) {
	h, ok := ctx.Value(handleKey{}).(*Handle)
	if !ok || h == nil || h.Exited() {
		return nil, false
	}
	return h, true
}

// CurrentTenant is the read-only tenant accessor for business logic
func CurrentTenant(ctx context.Context) (domain.Tenant, bool) {
	h, ok := FromContext(ctx)
	if !ok {
		return domain.Tenant{}, false
	}
	return h.Tenant(), true
}

// CurrentPartition is the read-only partition accessor for business logic
func CurrentPartition(ctx context.Context) (string, bool) {
	h, ok := FromContext(ctx)
	if !ok {
		return "", false
	}
	return h.Partition(), true
}

// SessionFromContext returns the request's storage session
func SessionFromContext(ctx context.Context) (storage.Session, bool) {
	h, ok := FromContext(ctx)
	if !ok {
		return nil, false
	}
	return h.Session(), true
}
