package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/observability/metrics"
)

// Identity is the authenticated caller
type Identity struct {
	UserID string
	Email  string
	Role   string
	// Tenant is the slug claim of a tenant-scoped credential; empty for platform users.
	Tenant string
}

// Platform reports whether the identity came from a platform credential
func (i *Identity) Platform() bool {
	return i.Tenant == ""
}

// Validator authenticates bearer credentials
type Validator struct {
	tokens        *TokenManager
	users         domain.UserRepository
	logger        *slog.Logger
	lookupTimeout time.Duration
}

// ValidatorOption configures a Validator
type ValidatorOption func(*Validator)

// WithLookupTimeout bounds the platform user lookup
func WithLookupTimeout(d time.Duration) ValidatorOption {
	return func(v *Validator) {
		if d > 0 {
			v.lookupTimeout = d
		}
	}
}

// NewValidator creates a validator. users is the non-partitioned store that
// platform credentials are checked against.
func NewValidator(tokens *TokenManager, users domain.UserRepository, logger *slog.Logger, opts ...ValidatorOption) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validator{tokens: tokens, users: users, logger: logger, lookupTimeout: time.Second}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Authenticate verifies credential and returns the identity it carries.
// Failures wrap domain.ErrInvalidCredential.
func (v *Validator) Authenticate(ctx context.Context, credential string) (*Identity, error) {
	claims, err := v.tokens.ValidateToken(credential)
	if err != nil {
		metrics.ObserveCredential("invalid")
		v.logger.DebugContext(ctx, "credential rejected", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidCredential, err)
	}

	if claims.Tenant != "" {
		metrics.ObserveCredential("tenant")
		return &Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role, Tenant: strings.ToLower(claims.Tenant)}, nil
	}

	if v.users == nil {
		metrics.ObserveCredential("invalid")
		return nil, fmt.Errorf("%w: platform credentials are not accepted", domain.ErrInvalidCredential)
	}
	// platform user ids are UUIDs; anything else cannot exist in the store
	if _, err := uuid.Parse(claims.UserID); err != nil {
		metrics.ObserveCredential("invalid")
		return nil, fmt.Errorf("%w: malformed platform user id", domain.ErrInvalidCredential)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
	defer cancel()
	u, err := v.users.GetByID(lookupCtx, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUserNotFound):
			metrics.ObserveCredential("invalid")
			return nil, fmt.Errorf("%w: unknown platform user", domain.ErrInvalidCredential)
		case errors.Is(err, context.DeadlineExceeded):
			metrics.ObserveCredential("error")
			return nil, fmt.Errorf("%w: platform user lookup: %w", domain.ErrStorageTimeout, err)
		}
		metrics.ObserveCredential("error")
		return nil, fmt.Errorf("%w: platform user lookup: %w", domain.ErrStorageUnavailable, err)
	}
	if !u.IsActive {
		metrics.ObserveCredential("invalid")
		return nil, fmt.Errorf("%w: platform user disabled", domain.ErrInvalidCredential)
	}
	metrics.ObserveCredential("platform")
	return &Identity{UserID: u.ID, Email: u.Email, Role: u.Role}, nil
}

// CheckTenant rejects a tenant-scoped identity whose claim matches none of the
// slugs the request was routed by (the resolved key and the tenant's canonical
// slug). Platform identities pass here and are kept out of partitions by the
// capability checks.
func CheckTenant(id *Identity, resolved ...string) error {
	if id == nil || id.Platform() {
		return nil
	}
	for _, s := range resolved {
		if s != "" && id.Tenant == s {
			return nil
		}
	}
	return domain.ErrCredentialTenantMismatch
}

type identityKey struct{}

// WithIdentity stores id in ctx
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the authenticated caller, if any
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}
