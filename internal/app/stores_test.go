package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/tenantrouter/internal/directory"
	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/tenantrouter/internal/repository"
	"github.com/aryan0dhankhar/tenantrouter/internal/storage/memory"
	"github.com/aryan0dhankhar/tenantrouter/pkg/config"
)

func TestPartitionName(t *testing.T) {
	assert.Equal(t, "tenant_acme", PartitionName("acme"))
	assert.Equal(t, "tenant_acme_corp", PartitionName("Acme-Corp"))
}

func TestCreateTenantCreatesPartitionThenRow(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	dir := directory.New(repository.NewMemoryTenantRepository(), directory.Config{}, nil)

	tn := &domain.Tenant{Slug: "acme"}
	require.NoError(t, CreateTenant(ctx, store, dir, tn))

	assert.Equal(t, "tenant_acme", tn.Partition)
	assert.Equal(t, domain.TenantActive, tn.Status)
	assert.NotZero(t, tn.ID)
	assert.Equal(t, 1, store.Idle(), "session returned to the pool")

	got, err := dir.Lookup(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, tn.ID, got.ID)
}

func TestCreateTenantRejectsUnsafePartition(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	dir := directory.New(repository.NewMemoryTenantRepository(), directory.Config{}, nil)

	for _, p := range []string{"public", "bad;name", "x y"} {
		err := CreateTenant(ctx, store, dir, &domain.Tenant{Slug: "acme", Partition: p})
		assert.True(t, errors.Is(err, domain.ErrInvalidPartitionIdentifier), p)
	}
	assert.Zero(t, store.Idle(), "no session acquired for rejected names")
}

type failingDir struct{}

func (failingDir) Create(context.Context, *domain.Tenant) error { return errors.New("duplicate slug") }

func TestCreateTenantSurfacesDirectoryError(t *testing.T) {
	store := memory.New()
	err := CreateTenant(context.Background(), store, failingDir{}, &domain.Tenant{Slug: "acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate slug")
	assert.Equal(t, 1, store.Idle())
}

func TestOpenStoresMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"

	stores, err := OpenStores(context.Background(), cfg, true, logger.NewLogger("error"))
	require.NoError(t, err)
	defer stores.Close()

	assert.Nil(t, stores.DB)
	assert.NotNil(t, stores.Pool)
	assert.NotNil(t, stores.Tenants)
	assert.NotNil(t, stores.Users)
}

func TestOpenStoresUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "sqlite"

	_, err := OpenStores(context.Background(), cfg, false, logger.NewLogger("error"))
	assert.Error(t, err)
}
