package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/tenantrouter/internal/resolver"
	"github.com/aryan0dhankhar/tenantrouter/pkg/config"
)

func TestResolverConfigKeepsBuiltInReservedPrefixes(t *testing.T) {
	cfg := ResolverConfig(config.RoutingConfig{
		APIPrefix:        "v1",
		ReservedPrefixes: []string{"docs", "/Admin/"},
	})
	assert.Equal(t, "v1", cfg.APIPrefix)
	assert.Equal(t, "X-Tenant-Name", cfg.TenantHeader)
	for _, p := range []string{"admin", "static", "media", "platform-admin", "healthz", "readyz", "metrics", "auth", "docs"} {
		assert.Contains(t, cfg.ReservedPrefixes, p)
	}
	assert.Len(t, cfg.ReservedPrefixes, 9, "duplicates are folded")

	res := resolver.New(cfg)
	for _, slug := range []string{"healthz", "admin", "docs", "v1", "null"} {
		require.Error(t, res.ValidateSlugs(slug), slug)
	}
	require.NoError(t, res.ValidateSlugs("acme", "api"))
}

func TestResolverConfigDefaults(t *testing.T) {
	cfg := ResolverConfig(config.RoutingConfig{})
	assert.Equal(t, resolver.DefaultConfig(), cfg)
}
