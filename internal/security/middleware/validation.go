package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
)

// maxBodyBytes caps request bodies read for validation
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

func reject(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Message: message, StatusCode: status})
}

func hasBody(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// ValidateJSONContentType rejects non-empty POST/PUT/PATCH bodies that are not
// declared as application/json.
func ValidateJSONContentType(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasBody(r) || r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}

			contentType := r.Header.Get("Content-Type")
			mediaType, _, err := mime.ParseMediaType(contentType)
			if err != nil || mediaType != "application/json" {
				log.WarnContext(r.Context(), "invalid content type",
					slog.String("path", r.URL.Path),
					slog.String("content_type", contentType),
					slog.String("method", r.Method),
				)
				reject(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireJSONFields rejects bodies that are not a JSON object containing every
// listed field. The body is restored for the next handler.
func RequireJSONFields(log *slog.Logger, fields ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasBody(r) {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				reject(w, http.StatusBadRequest, "invalid_request", "Unable to read body")
				return
			}
			var payload map[string]json.RawMessage
			if err := json.Unmarshal(body, &payload); err != nil {
				log.WarnContext(r.Context(), "invalid json payload",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				reject(w, http.StatusBadRequest, "invalid_request", "Request body must be a JSON object")
				return
			}
			for _, field := range fields {
				if _, ok := payload[field]; !ok {
					log.WarnContext(r.Context(), "missing required field",
						slog.String("path", r.URL.Path),
						slog.String("field", field),
					)
					reject(w, http.StatusBadRequest, "invalid_request", "Missing required field: "+field)
					return
				}
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			next.ServeHTTP(w, r)
		})
	}
}
