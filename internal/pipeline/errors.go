package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
)

// ErrorBody is the JSON error contract for API-shaped requests
type ErrorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

// Classify maps an error onto status, code and client-facing message. Messages
// never include internal detail such as partition names or driver errors.
func Classify(err error) ErrorBody {
	slug := domain.SlugOf(err)
	body := func(status int, code, msg string) ErrorBody {
		return ErrorBody{Error: code, Message: msg, StatusCode: status}
	}
	switch {
	case errors.Is(err, domain.ErrTenantNotFound), errors.Is(err, domain.ErrInvalidPartitionIdentifier):
		if slug == "" {
			return body(http.StatusNotFound, "tenant_not_found", "No tenant could be resolved for this request")
		}
		return body(http.StatusNotFound, "tenant_not_found", fmt.Sprintf("The tenant %q does not exist", slug))
	case errors.Is(err, domain.ErrRouteNotFound):
		return body(http.StatusNotFound, "not_found", "The requested resource does not exist")
	case errors.Is(err, domain.ErrTenantSuspended):
		return body(http.StatusForbidden, "tenant_suspended", fmt.Sprintf("The tenant %q is not active", slug))
	case errors.Is(err, domain.ErrCredentialTenantMismatch):
		return body(http.StatusUnauthorized, "credential_tenant_mismatch", fmt.Sprintf("The credential was not issued for tenant %q", slug))
	case errors.Is(err, domain.ErrInvalidCredential):
		return body(http.StatusUnauthorized, "invalid_credential", "The credential is missing, invalid or expired")
	case errors.Is(err, domain.ErrForbidden):
		return body(http.StatusForbidden, "permission_denied", "You do not have permission to perform this action")
	case errors.Is(err, domain.ErrRateLimited):
		return body(http.StatusTooManyRequests, "rate_limited", "Too many requests for this tenant")
	case errors.Is(err, domain.ErrStorageTimeout):
		return body(http.StatusGatewayTimeout, "storage_timeout", "The storage backend did not respond in time")
	case errors.Is(err, domain.ErrStorageUnavailable):
		return body(http.StatusServiceUnavailable, "storage_unavailable", "The storage backend is unavailable")
	case errors.Is(err, domain.ErrPartitionSwitchFailed):
		return body(http.StatusInternalServerError, "partition_switch_failed", "The tenant's data could not be opened")
	case errors.Is(err, domain.ErrProvisioningFailed):
		return body(http.StatusInternalServerError, "provisioning_failed", "The tenant's data could not be prepared")
	}
	return body(http.StatusInternalServerError, "internal_error", "An internal error occurred")
}

// IsAPIRequest reports whether the caller expects a JSON error body
func IsAPIRequest(r *http.Request) bool {
	p := r.URL.Path
	if p == "/api" || strings.HasPrefix(p, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json")
}

// WriteError renders err as JSON for API-shaped requests and as a small HTML
// page otherwise.
func WriteError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	b := Classify(err)
	if log == nil {
		log = slog.Default()
	}
	if b.StatusCode >= 500 {
		log.ErrorContext(r.Context(), "request failed",
			slog.String("code", b.Error),
			slog.String("slug", domain.SlugOf(err)),
			slog.String("error", err.Error()),
		)
	} else {
		log.DebugContext(r.Context(), "request rejected",
			slog.String("code", b.Error),
			slog.String("error", err.Error()),
		)
	}

	if b.StatusCode == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="tenantrouter"`)
	}
	if IsAPIRequest(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(b.StatusCode)
		_ = json.NewEncoder(w).Encode(b)
		return
	}

	title := http.StatusText(b.StatusCode)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(b.StatusCode)
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>\n",
		title, title, html.EscapeString(b.Message))
}
