package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/pipeline"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/ratelimit"
	"github.com/aryan0dhankhar/tenantrouter/internal/service"
)

// login attempts allowed per client IP per window
const (
	loginAttempts = 5
	loginWindow   = time.Minute
)

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginHandler handles platform user authentication
type LoginHandler struct {
	authService *service.AuthService
	limiter     *ratelimit.Limiter
	logger      *slog.Logger
}

// NewLoginHandler creates a new login handler. limiter may be nil.
func NewLoginHandler(authService *service.AuthService, limiter *ratelimit.Limiter, logger *slog.Logger) *LoginHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginHandler{
		authService: authService,
		limiter:     limiter,
		logger:      logger,
	}
}

// ServeHTTP handles POST /auth/login requests
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.AllowStrict("login:"+clientIP(r), loginAttempts, loginWindow) {
		pipeline.WriteError(w, r, h.logger, fmt.Errorf("%w: too many login attempts", domain.ErrRateLimited))
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(r.Context(), "failed to decode login request", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}

	result, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		pipeline.WriteError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
