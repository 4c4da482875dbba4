package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/security"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/auth"
)

// ErrWeakPassword is returned when a new password is too short
var ErrWeakPassword = errors.New("password must be at least 8 characters")

// AuthService handles platform user accounts and credential issuance
type AuthService struct {
	users    domain.UserRepository
	tokens   *auth.TokenManager
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewAuthService creates a new authentication service
func NewAuthService(
	users domain.UserRepository,
	tokens *auth.TokenManager,
	tokenTTL time.Duration,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if tokenTTL <= 0 {
		tokenTTL = 15 * time.Minute
	}

	return &AuthService{
		users:    users,
		tokens:   tokens,
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

// LoginResult represents login response
type LoginResult struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"` // seconds
	TokenType string `json:"token_type"`
}

// CreateUser adds a platform user with a bcrypt-hashed password
func (s *AuthService) CreateUser(ctx context.Context, email, password string, role security.Role) (*domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}
	if role == "" {
		role = security.RoleAdmin
	}
	if _, ok := security.RoleActions[role]; !ok && role != security.RoleAdmin {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to hash password", slog.String("error", err.Error()))
		return nil, errors.New("failed to create user")
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: string(hash),
		Role:         string(role),
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "platform user created",
		slog.String("user_id", user.ID),
		slog.String("role", user.Role),
	)
	return user, nil
}

// Login authenticates a platform user and returns a platform credential.
// Unknown emails, wrong passwords and disabled accounts are indistinguishable
// to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", domain.ErrInvalidCredential)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.logger.InfoContext(ctx, "login attempt with unknown email")
			return nil, fmt.Errorf("%w: invalid credentials", domain.ErrInvalidCredential)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.InfoContext(ctx, "login failed with wrong password", slog.String("user_id", user.ID))
		return nil, fmt.Errorf("%w: invalid credentials", domain.ErrInvalidCredential)
	}
	if !user.IsActive {
		s.logger.InfoContext(ctx, "login attempt for disabled user", slog.String("user_id", user.ID))
		return nil, fmt.Errorf("%w: invalid credentials", domain.ErrInvalidCredential)
	}

	token, err := s.tokens.GenerateToken(user.ID, "", user.Email, user.Role, s.tokenTTL)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to sign token", slog.String("error", err.Error()))
		return nil, errors.New("failed to generate token")
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))

	return &LoginResult{
		UserID:    user.ID,
		Email:     user.Email,
		Token:     token,
		ExpiresIn: int(s.tokenTTL.Seconds()),
		TokenType: "Bearer",
	}, nil
}

// MintTenantToken issues a tenant-scoped credential. Tenant users live inside
// tenant partitions, so no platform user lookup happens here.
func (s *AuthService) MintTenantToken(userID, tenantSlug string, role security.Role, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if !domain.ValidSlug(tenantSlug) {
		return "", fmt.Errorf("invalid tenant slug %q", tenantSlug)
	}
	if _, ok := security.RoleActions[role]; !ok {
		return "", fmt.Errorf("role %q cannot be scoped to a tenant", role)
	}
	if ttl <= 0 {
		ttl = s.tokenTTL
	}
	return s.tokens.GenerateToken(userID, tenantSlug, "", string(role), ttl)
}
