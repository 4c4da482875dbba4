package domain

import (
	"context"
	"regexp"
	"time"
)

// TenantStatus is the lifecycle state of a tenant
type TenantStatus string

const (
	TenantPending   TenantStatus = "pending"
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantArchived  TenantStatus = "archived"
)

// Valid reports whether s is one of the known lifecycle states
func (s TenantStatus) Valid() bool {
	switch s {
	case TenantPending, TenantActive, TenantSuspended, TenantArchived:
		return true
	}
	return false
}

// DefaultPartition is the shared, non-tenant schema.
const DefaultPartition = "public"

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// ValidSlug reports whether s can be used as a tenant slug or alias
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// Tenant represents an isolated customer organization
type Tenant struct {
	ID              int64        `json:"id"`
	Partition       string       `json:"partition"` // schema name, immutable once assigned
	Slug            string       `json:"slug"`      // url-facing, changed only through rename
	Status          TenantStatus `json:"status"`
	SubscriptionRef *string      `json:"subscription_ref,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Active reports whether requests may be routed into the tenant's partition
func (t *Tenant) Active() bool {
	return t.Status == TenantActive
}

// Alias is a secondary lookup key (folder or hostname) for a tenant
type Alias struct {
	Alias    string `json:"alias"`
	TenantID int64  `json:"tenant_id"`
}

// TenantStore defines data access for the tenant directory tables
type TenantStore interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id int64) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	GetByAlias(ctx context.Context, alias string) (*Tenant, error)
	Rename(ctx context.Context, id int64, newSlug string) error
	SetStatus(ctx context.Context, id int64, status TenantStatus) error
	AddAlias(ctx context.Context, alias Alias) error
	ListAliases(ctx context.Context, tenantID int64) ([]string, error)
	List(ctx context.Context) ([]*Tenant, error)
}
