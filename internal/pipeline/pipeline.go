// Package pipeline is the per-request orchestration in front of the router:
// resolve the tenant, look it up, check the credential, enter the tenant's
// partition, make sure its tables exist, rewrite the path to its canonical
// form, dispatch, and always exit the partition before any error is written.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/tenantrouter/internal/observability/metrics"
	"github.com/aryan0dhankhar/tenantrouter/internal/partition"
	"github.com/aryan0dhankhar/tenantrouter/internal/resolver"
	"github.com/aryan0dhankhar/tenantrouter/internal/security"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/audit"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/auth"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/ratelimit"
)

// Directory looks tenants up by slug or alias
type Directory interface {
	Lookup(ctx context.Context, slug string) (*domain.Tenant, error)
}

// Provisioner creates a partition's tables on first use
type Provisioner interface {
	EnsureProvisioned(ctx context.Context, h *partition.Handle) error
}

// Authenticator validates bearer credentials
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*auth.Identity, error)
}

// Params wires the pipeline's collaborators. Validator, Limiter and Audit are optional.
type Params struct {
	Resolver   *resolver.Resolver
	Directory  Directory
	Partitions *partition.Manager
	Registry   Provisioner
	Validator  Authenticator
	Limiter    *ratelimit.Limiter
	Audit      *audit.Logger
	Logger     *slog.Logger
}

// Pipeline is the tenant routing middleware
type Pipeline struct {
	Params
}

// New creates a pipeline
func New(p Params) *Pipeline {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Pipeline{Params: p}
}

// Middleware wraps next, which receives only requests whose tenant partition
// is entered and whose path is in canonical /api/{slug}/... form. Platform
// paths pass straight through.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.Resolver.IsPlatformPath(r.URL.Path) {
			metrics.ObserveResolution(string(resolver.SourceNone), "skipped")
			next.ServeHTTP(w, r)
			return
		}
		if err := p.serve(w, r, next); err != nil {
			WriteError(w, r, p.Logger, err)
		}
	})
}

// serve runs one tenant-scoped request. Any error it returns is written by the
// caller after the partition has been exited.
func (p *Pipeline) serve(w http.ResponseWriter, r *http.Request, next http.Handler) error {
	ctx := r.Context()

	id, err := p.authenticate(ctx, r)
	if err != nil {
		return err
	}
	claim := ""
	if id != nil {
		claim = id.Tenant
		ctx = auth.WithIdentity(ctx, id)
	}

	res := p.Resolver.Resolve(r, claim)
	if !res.Found() {
		metrics.ObserveResolution(string(res.Source), "not_found")
		return domain.NewTenantError("", domain.ErrTenantNotFound)
	}

	t, err := p.Directory.Lookup(ctx, res.Slug)
	if err != nil {
		result := "error"
		if errors.Is(err, domain.ErrTenantNotFound) {
			result = "not_found"
		}
		metrics.ObserveResolution(string(res.Source), result)
		return err
	}
	if !t.Active() {
		metrics.ObserveResolution(string(res.Source), "inactive")
		return domain.NewTenantError(res.Slug, domain.ErrTenantSuspended)
	}
	metrics.ObserveResolution(string(res.Source), "found")

	if err := auth.CheckTenant(id, res.Slug, t.Slug); err != nil {
		if p.Audit != nil {
			p.Audit.LogMismatch(ctx, id.Tenant, t.Slug, id.UserID)
		}
		return domain.NewTenantError(res.Slug, err)
	}

	if p.Limiter != nil && !p.Limiter.Allow(t.Slug) {
		return domain.NewTenantError(t.Slug, domain.ErrRateLimited)
	}

	return p.Partitions.Run(ctx, t, func(ctx context.Context, h *partition.Handle) error {
		if err := p.Registry.EnsureProvisioned(ctx, h); err != nil {
			return err
		}
		ctx = logger.WithTenant(ctx, t.Slug, t.Partition)
		ctx = security.WithDecisionCache(ctx)
		ctx = context.WithValue(ctx, routedKey{}, res.Slug)

		// the router only ever sees /api/{slug}/... with the canonical slug,
		// whichever key or source the request used
		canonical := res
		canonical.Slug = t.Slug
		u := *r.URL
		u.Path = canonical.CanonicalPath(p.Resolver.APIPrefix())
		u.RawPath = ""
		dispatched := r.WithContext(ctx)
		dispatched.URL = &u

		next.ServeHTTP(w, dispatched)
		return nil
	})
}

func (p *Pipeline) authenticate(ctx context.Context, r *http.Request) (*auth.Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" || p.Validator == nil {
		return nil, nil
	}
	token, err := auth.ExtractToken(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidCredential, err)
	}
	return p.Validator.Authenticate(ctx, token)
}

// routedKey holds the key the request was routed by, which may be an alias
type routedKey struct{}

func routedSlug(ctx context.Context) string {
	s, _ := ctx.Value(routedKey{}).(string)
	return s
}

// RequireIdentity guards routes that need a tenant-scoped credential for the
// tenant the request is routed to.
func RequireIdentity(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				WriteError(w, r, log, fmt.Errorf("%w: credential required", domain.ErrInvalidCredential))
				return
			}
			t, ok := partition.CurrentTenant(r.Context())
			if !ok {
				WriteError(w, r, log, domain.NewTenantError("", domain.ErrTenantNotFound))
				return
			}
			if id.Platform() {
				WriteError(w, r, log, fmt.Errorf("%w: platform credential", domain.ErrForbidden))
				return
			}
			// same rule as the pipeline: the claim may name the routed key or the slug
			if err := auth.CheckTenant(id, routedSlug(r.Context()), t.Slug); err != nil {
				WriteError(w, r, log, domain.NewTenantError(t.Slug, err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
