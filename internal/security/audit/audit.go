package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/tenantrouter/internal/infrastructure/logger"
)

// Logger writes audit events as structured log records
type Logger struct {
	logger *slog.Logger
}

func NewLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{logger: l.With(slog.String("log_type", "audit"))}
}

func (al *Logger) LogAction(ctx context.Context, tenant, userID, action, resource, resourceID, status, details string) {
	al.logger.InfoContext(ctx, "audit",
		slog.String("action", action),
		slog.String("resource", resource),
		slog.String("resource_id", resourceID),
		slog.String("tenant", tenant),
		slog.String("user_id", userID),
		slog.String("status", status),
		slog.String("details", details),
		slog.String("request_id", logger.RequestID(ctx)),
		slog.Time("timestamp", time.Now()),
	)
}

// LogTenantChange records a directory mutation (create, rename, status, alias)
func (al *Logger) LogTenantChange(ctx context.Context, tenant, userID, change, details string) {
	al.LogAction(ctx, tenant, userID, "tenant_"+change, "tenant", tenant, "ok", details)
}

// LogMismatch records a credential replayed against another tenant's URL
func (al *Logger) LogMismatch(ctx context.Context, claimTenant, resolvedTenant, userID string) {
	al.LogAction(ctx, resolvedTenant, userID, "credential_mismatch", "api", "", "denied", "credential issued for "+claimTenant)
}

func (al *Logger) LogDenied(ctx context.Context, tenant, userID, reason string) {
	al.LogAction(ctx, tenant, userID, "access_denied", "api", "", "denied", reason)
}
