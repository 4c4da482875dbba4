package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
)

// MemoryTenantRepository is a domain.TenantStore kept in process memory
type MemoryTenantRepository struct {
	mu      sync.RWMutex
	nextID  int64
	tenants map[int64]*domain.Tenant
	aliases map[string]int64
	// Err, when set, is returned by every read. Tests use it to simulate outages.
	Err error
}

// NewMemoryTenantRepository creates an empty repository
func NewMemoryTenantRepository() *MemoryTenantRepository {
	return &MemoryTenantRepository{tenants: map[int64]*domain.Tenant{}, aliases: map[string]int64{}}
}

func (r *MemoryTenantRepository) Create(_ context.Context, t *domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tenants {
		if existing.Slug == t.Slug || existing.Partition == t.Partition {
			return fmt.Errorf("%w: tenant %s or schema %s", domain.ErrConflict, t.Slug, t.Partition)
		}
	}
	r.nextID++
	now := time.Now().UTC()
	t.ID, t.CreatedAt, t.UpdatedAt = r.nextID, now, now
	cp := *t
	r.tenants[t.ID] = &cp
	return nil
}

func (r *MemoryTenantRepository) GetByID(_ context.Context, id int64) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.Err != nil {
		return nil, r.Err
	}
	t, ok := r.tenants[id]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *MemoryTenantRepository) GetBySlug(_ context.Context, slug string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for _, t := range r.tenants {
		if t.Slug == slug {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrTenantNotFound
}

func (r *MemoryTenantRepository) GetByAlias(_ context.Context, alias string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.Err != nil {
		return nil, r.Err
	}
	id, ok := r.aliases[alias]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	cp := *r.tenants[id]
	return &cp, nil
}

func (r *MemoryTenantRepository) Rename(_ context.Context, id int64, newSlug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return domain.ErrTenantNotFound
	}
	for _, other := range r.tenants {
		if other.ID != id && other.Slug == newSlug {
			return fmt.Errorf("%w: slug %s", domain.ErrConflict, newSlug)
		}
	}
	t.Slug, t.UpdatedAt = newSlug, time.Now().UTC()
	return nil
}

func (r *MemoryTenantRepository) SetStatus(_ context.Context, id int64, status domain.TenantStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return domain.ErrTenantNotFound
	}
	t.Status, t.UpdatedAt = status, time.Now().UTC()
	return nil
}

func (r *MemoryTenantRepository) AddAlias(_ context.Context, a domain.Alias) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[a.TenantID]; !ok {
		return domain.ErrTenantNotFound
	}
	if _, ok := r.aliases[a.Alias]; ok {
		return fmt.Errorf("%w: alias %s", domain.ErrConflict, a.Alias)
	}
	r.aliases[a.Alias] = a.TenantID
	return nil
}

func (r *MemoryTenantRepository) ListAliases(_ context.Context, tenantID int64) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for a, id := range r.aliases {
		if id == tenantID {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryTenantRepository) List(_ context.Context) ([]*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryUserRepository is a domain.UserRepository kept in process memory
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

// NewMemoryUserRepository creates an empty repository
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: map[string]*domain.User{}}
}

func (r *MemoryUserRepository) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u.Email = strings.ToLower(u.Email)
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return fmt.Errorf("%w: user %s", domain.ErrConflict, u.Email)
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email = strings.ToLower(email)
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}
