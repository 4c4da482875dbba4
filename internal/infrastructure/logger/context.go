package logger

import "context"

type requestIDKey struct{}

type tenantKey struct{}

type tenantAttrs struct {
	slug      string
	partition string
}

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithTenant tags every record logged with ctx with the tenant slug and partition
func WithTenant(ctx context.Context, slug, partition string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantAttrs{slug: slug, partition: partition})
}
