package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTenantNotFound             = errors.New("tenant not found")
	ErrTenantSuspended            = errors.New("tenant not active")
	ErrInvalidPartitionIdentifier = errors.New("invalid partition identifier")
	ErrPartitionSwitchFailed      = errors.New("partition switch failed")
	ErrProvisioningFailed         = errors.New("provisioning failed")
	ErrCredentialTenantMismatch   = errors.New("credential tenant mismatch")
	ErrInvalidCredential          = errors.New("invalid credential")
	ErrForbidden                  = errors.New("permission denied")
	ErrStorageTimeout             = errors.New("storage timeout")
	ErrStorageUnavailable         = errors.New("storage unavailable")
	ErrUserNotFound               = errors.New("user not found")
	ErrConflict                   = errors.New("already exists")
	ErrRateLimited                = errors.New("rate limit exceeded")
	ErrRouteNotFound              = errors.New("route not found")
)

// TenantError attaches the requested tenant slug to a directory or routing error
// so the HTTP layer can produce a message naming it.
type TenantError struct {
	Slug string
	Err  error
}

func (e *TenantError) Error() string {
	return fmt.Sprintf("tenant %q: %v", e.Slug, e.Err)
}

func (e *TenantError) Unwrap() error {
	return e.Err
}

// NewTenantError wraps err with the slug it concerns
func NewTenantError(slug string, err error) error {
	return &TenantError{Slug: slug, Err: err}
}

// SlugOf returns the slug carried by err, if any
func SlugOf(err error) string {
	var te *TenantError
	if errors.As(err, &te) {
		return te.Slug
	}
	return ""
}
