package middleware

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/aryan0dhankhar/tenantrouter/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/tenantrouter/internal/partition"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/audit"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/auth"
)

// RequestIDHeader is echoed on every response
const RequestIDHeader = "X-Request-ID"

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// RequestID accepts a well-formed incoming request id or mints a UUID, and
// stores it in the request context for logging.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !requestIDPattern.MatchString(id) {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

// AuditMiddleware records every mutating request made inside a tenant partition
func AuditMiddleware(auditLog *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			tenant := ""
			if t, ok := partition.CurrentTenant(r.Context()); ok {
				tenant = t.Slug
			}
			userID := ""
			if id, ok := auth.IdentityFromContext(r.Context()); ok {
				userID = id.UserID
			}
			auditLog.LogAction(r.Context(), tenant, userID, r.Method, r.URL.Path, "", "initiated", "")
			next.ServeHTTP(w, r)
		})
	}
}
