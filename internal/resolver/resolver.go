// Package resolver works out which tenant a request is addressed to.
package resolver

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Source records where a slug came from
type Source string

const (
	SourcePath   Source = "path"
	SourceHeader Source = "header"
	SourceClaim  Source = "claim"
	SourceNone   Source = "none"
)

// Config controls path layout and fallbacks
type Config struct {
	// APIPrefix is the first path segment of API routes; the tenant is the segment after it.
	APIPrefix string
	// ReservedPrefixes are first path segments that never name a tenant.
	ReservedPrefixes []string
	// Placeholders are unresolved template tokens a client may leave in the tenant segment.
	Placeholders []string
	// TenantHeader is consulted only when the tenant segment is a placeholder.
	TenantHeader string
}

// DefaultConfig returns the standard routing layout
func DefaultConfig() Config {
	return Config{
		APIPrefix:        "api",
		ReservedPrefixes: []string{"admin", "static", "media", "platform-admin", "healthz", "readyz", "metrics", "auth"},
		Placeholders:     []string{"{tenant_slug}", "{tenant}", ":tenant", ":tenant_slug", "undefined", "null"},
		TenantHeader:     "X-Tenant-Name",
	}
}

// Resolution is the outcome of resolving one request
type Resolution struct {
	Slug    string
	Source  Source
	Rest    string // path after the tenant segment, without a leading slash
	Skipped bool   // platform path, resolution not attempted
}

// Found reports whether a tenant slug was resolved
func (r Resolution) Found() bool {
	return r.Slug != ""
}

// CanonicalPath is the single path shape handed to the router
func (r Resolution) CanonicalPath(apiPrefix string) string {
	return "/" + apiPrefix + "/" + r.Slug + "/" + r.Rest
}

// Resolver derives tenant slugs from requests
type Resolver struct {
	cfg          Config
	reserved     map[string]struct{}
	placeholders map[string]struct{}
}

// New builds a resolver, filling unset fields from DefaultConfig
func New(cfg Config) *Resolver {
	def := DefaultConfig()
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = def.APIPrefix
	}
	if cfg.ReservedPrefixes == nil {
		cfg.ReservedPrefixes = def.ReservedPrefixes
	}
	if cfg.Placeholders == nil {
		cfg.Placeholders = def.Placeholders
	}
	if cfg.TenantHeader == "" {
		cfg.TenantHeader = def.TenantHeader
	}
	r := &Resolver{
		cfg:          cfg,
		reserved:     make(map[string]struct{}, len(cfg.ReservedPrefixes)),
		placeholders: make(map[string]struct{}, len(cfg.Placeholders)),
	}
	for _, p := range cfg.ReservedPrefixes {
		r.reserved[strings.ToLower(p)] = struct{}{}
	}
	for _, p := range cfg.Placeholders {
		r.placeholders[strings.ToLower(p)] = struct{}{}
	}
	return r
}

// APIPrefix returns the configured API prefix
func (r *Resolver) APIPrefix() string {
	return r.cfg.APIPrefix
}

// IsPlatformPath reports whether path starts with a reserved prefix
func (r *Resolver) IsPlatformPath(path string) bool {
	first, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	_, ok := r.reserved[strings.ToLower(first)]
	return ok
}

// Resolve applies, highest first: the path segment, the tenant header (only when
// the segment is a placeholder), then claimSlug from an already validated
// credential. Platform paths are skipped without looking at anything else.
func (r *Resolver) Resolve(req *http.Request, claimSlug string) Resolution {
	if r.IsPlatformPath(req.URL.Path) {
		return Resolution{Source: SourceNone, Skipped: true}
	}

	segment, rest := r.split(req.URL.Path)
	res := Resolution{Source: SourceNone, Rest: rest}
	switch {
	case segment != "" && !r.isPlaceholder(segment):
		res.Slug, res.Source = strings.ToLower(segment), SourcePath
		return res
	case segment != "":
		if h := strings.TrimSpace(req.Header.Get(r.cfg.TenantHeader)); h != "" && !r.isPlaceholder(h) {
			res.Slug, res.Source = strings.ToLower(h), SourceHeader
			return res
		}
	}
	if c := strings.TrimSpace(claimSlug); c != "" {
		res.Slug, res.Source = strings.ToLower(c), SourceClaim
	}
	return res
}

// split returns the tenant segment and what follows it. /api/{t}/rest and
// /{t}/rest are both accepted.
func (r *Resolver) split(path string) (segment, rest string) {
	p := strings.TrimPrefix(path, "/")
	first, after, _ := strings.Cut(p, "/")
	if strings.EqualFold(first, r.cfg.APIPrefix) {
		p = after
	}
	segment, rest, _ = strings.Cut(p, "/")
	return segment, rest
}

func (r *Resolver) isPlaceholder(s string) bool {
	_, ok := r.placeholders[strings.ToLower(s)]
	return ok
}

// ValidateSlugs reports slugs that collide with a reserved prefix, the API prefix
// or a placeholder. Such tenants are unreachable by path and are a configuration
// error.
func (r *Resolver) ValidateSlugs(slugs ...string) error {
	var bad []string
	for _, s := range slugs {
		l := strings.ToLower(s)
		_, reserved := r.reserved[l]
		if reserved || l == strings.ToLower(r.cfg.APIPrefix) || r.isPlaceholder(l) {
			bad = append(bad, s)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	return fmt.Errorf("tenant slugs collide with reserved path prefixes: %s", strings.Join(bad, ", "))
}
