package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/auth"
)

func TestCheck(t *testing.T) {
	a := NewAuthorizer(nil)
	ctx := context.Background()
	order := Resource{Type: "order", ID: "7", Tenant: "acme", OwnerID: "u-1"}

	tests := []struct {
		name    string
		id      *auth.Identity
		res     Resource
		action  Action
		allowed bool
	}{
		{"viewer reads", &auth.Identity{UserID: "u-2", Tenant: "acme", Role: "viewer"}, order, ActionRead, true},
		{"viewer cannot write", &auth.Identity{UserID: "u-2", Tenant: "acme", Role: "viewer"}, order, ActionWrite, false},
		{"member writes", &auth.Identity{UserID: "u-2", Tenant: "acme", Role: "member"}, order, ActionWrite, true},
		{"member deletes own", &auth.Identity{UserID: "u-1", Tenant: "acme", Role: "member"}, order, ActionDelete, true},
		{"member cannot delete others", &auth.Identity{UserID: "u-2", Tenant: "acme", Role: "member"}, order, ActionDelete, false},
		{"empty role is member", &auth.Identity{UserID: "u-2", Tenant: "acme"}, order, ActionWrite, true},
		{"tenant admin deletes", &auth.Identity{UserID: "u-3", Tenant: "acme", Role: "tenant_admin"}, order, ActionDelete, true},
		{"other tenant denied", &auth.Identity{UserID: "u-4", Tenant: "beta", Role: "tenant_admin"}, order, ActionRead, false},
		{"platform admin kept out of partitions", &auth.Identity{UserID: "p-1", Role: "admin"}, order, ActionRead, false},
		{"platform admin on platform resource", &auth.Identity{UserID: "p-1", Role: "admin"}, Resource{Type: "tenant"}, ActionWrite, true},
		{"nil identity", nil, order, ActionRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Check(ctx, tt.id, tt.res, tt.action)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrForbidden)
			}
		})
	}
}

func TestDecisionCacheIsPerRequest(t *testing.T) {
	a := NewAuthorizer(nil)
	id := &auth.Identity{UserID: "u-1", Tenant: "acme", Role: "viewer"}
	res := Resource{Type: "order", Tenant: "acme"}

	ctx := WithDecisionCache(context.Background())
	assert.Error(t, a.Check(ctx, id, res, ActionWrite))

	// a role change mid-request is not observed; a new request sees it
	id.Role = "member"
	assert.Error(t, a.Check(ctx, id, res, ActionWrite))
	assert.NoError(t, a.Check(WithDecisionCache(context.Background()), id, res, ActionWrite))
}
