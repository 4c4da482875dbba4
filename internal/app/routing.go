package app

import (
	"strings"

	"github.com/aryan0dhankhar/tenantrouter/internal/resolver"
	"github.com/aryan0dhankhar/tenantrouter/pkg/config"
)

// ResolverConfig builds the routing rules both binaries validate slugs against.
// Configured reserved prefixes and placeholders are added to the built-in ones,
// never substituted for them.
func ResolverConfig(rc config.RoutingConfig) resolver.Config {
	out := resolver.DefaultConfig()
	if rc.APIPrefix != "" {
		out.APIPrefix = rc.APIPrefix
	}
	if rc.TenantHeader != "" {
		out.TenantHeader = rc.TenantHeader
	}
	out.ReservedPrefixes = union(out.ReservedPrefixes, rc.ReservedPrefixes)
	out.Placeholders = union(out.Placeholders, rc.Placeholders)
	return out
}

func union(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, v := range list {
			v = strings.ToLower(strings.Trim(strings.TrimSpace(v), "/"))
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
