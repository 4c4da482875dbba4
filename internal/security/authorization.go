package security

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/auth"
)

// Role represents a user role
type Role string

const (
	RoleAdmin       Role = "admin" // platform operator
	RoleTenantAdmin Role = "tenant_admin"
	RoleMember      Role = "member"
	RoleViewer      Role = "viewer"
)

// Action identifies what operation is being performed
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// RoleActions maps tenant roles to the actions they may perform on any
// resource of their tenant. Members may also delete what they own.
var RoleActions = map[Role][]Action{
	RoleTenantAdmin: {ActionRead, ActionWrite, ActionDelete},
	RoleMember:      {ActionRead, ActionWrite},
	RoleViewer:      {ActionRead},
}

// Resource describes what is being accessed. Tenant is empty for platform resources.
type Resource struct {
	Type    string
	ID      string
	Tenant  string
	OwnerID string
}

func (r Resource) key() string {
	return r.Tenant + "/" + r.Type + "/" + r.ID + "/" + r.OwnerID
}

// Authorizer answers capability checks
type Authorizer struct {
	logger *slog.Logger
}

// NewAuthorizer creates a new authorizer
func NewAuthorizer(logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{logger: logger}
}

// Check decides whether id may perform action on res. It is called explicitly at
// the start of each business operation. Decisions are memoised for the request
// when ctx carries a decision cache. Denials wrap domain.ErrForbidden.
func (a *Authorizer) Check(ctx context.Context, id *auth.Identity, res Resource, action Action) error {
	if id == nil {
		return fmt.Errorf("%w: no identity", domain.ErrForbidden)
	}
	cache, _ := ctx.Value(decisionKey{}).(*decisionCache)
	key := id.UserID + "|" + id.Tenant + "|" + res.key() + "|" + string(action)
	if cache != nil {
		if err, ok := cache.get(key); ok {
			return err
		}
	}

	err := a.decide(id, res, action)
	if err != nil {
		a.logger.WarnContext(ctx, "permission denied",
			slog.String("user_id", id.UserID),
			slog.String("role", id.Role),
			slog.String("resource", res.Type),
			slog.String("resource_id", res.ID),
			slog.String("action", string(action)),
		)
	}
	if cache != nil {
		cache.put(key, err)
	}
	return err
}

func (a *Authorizer) decide(id *auth.Identity, res Resource, action Action) error {
	if id.Platform() {
		// platform operators manage the platform; they are never let into a partition
		if res.Tenant == "" && Role(id.Role) == RoleAdmin {
			return nil
		}
		return fmt.Errorf("%w: platform credential cannot access tenant data", domain.ErrForbidden)
	}
	if res.Tenant != id.Tenant {
		return fmt.Errorf("%w: resource belongs to another tenant", domain.ErrForbidden)
	}
	role := Role(id.Role)
	if role == "" {
		role = RoleMember
	}
	for _, allowed := range RoleActions[role] {
		if allowed == action {
			return nil
		}
	}
	if action == ActionDelete && role == RoleMember && res.OwnerID != "" && res.OwnerID == id.UserID {
		return nil
	}
	return fmt.Errorf("%w: %s cannot %s %s", domain.ErrForbidden, role, action, res.Type)
}

type decisionKey struct{}

type decisionCache struct {
	mu        sync.Mutex
	decisions map[string]error
}

func (c *decisionCache) get(key string) (error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	err, ok := c.decisions[key]
	return err, ok
}

func (c *decisionCache) put(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions[key] = err
}

// WithDecisionCache returns a context that memoises Check results. The pipeline
// installs one per request so decisions never outlive the request.
func WithDecisionCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, decisionKey{}, &decisionCache{decisions: map[string]error{}})
}
