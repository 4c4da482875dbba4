package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/partition"
	"github.com/aryan0dhankhar/tenantrouter/internal/storage"
	"github.com/aryan0dhankhar/tenantrouter/internal/storage/memory"
)

var ordersTable = storage.TableSpec{
	Name: "orders",
	Columns: []storage.Column{
		{Name: "id", Type: "BIGSERIAL", PrimaryKey: true},
		{Name: "tenant_id", Type: "BIGINT", NotNull: true},
		{Name: "label", Type: "TEXT"},
	},
}

var productsTable = storage.TableSpec{
	Name: "products",
	Columns: []storage.Column{
		{Name: "id", Type: "BIGSERIAL", PrimaryKey: true},
		{Name: "tenant_id", Type: "BIGINT", NotNull: true},
	},
}

func acme() *domain.Tenant {
	return &domain.Tenant{ID: 1, Slug: "acme", Partition: "acme_db", Status: domain.TenantActive}
}

func enter(t *testing.T, mgr *partition.Manager, tenant *domain.Tenant) *partition.Handle {
	t.Helper()
	h, err := mgr.Enter(context.Background(), tenant)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Exit() })
	return h
}

func TestRegisterRejectsBadSpecs(t *testing.T) {
	r := New(Config{}, nil)

	require.NoError(t, r.Register("sales", ordersTable))
	assert.Equal(t, uint64(1), r.Version())

	err := r.Register("billing", ordersTable)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered by sales")

	err = r.Register("sales", storage.TableSpec{Name: "bad-name", Columns: ordersTable.Columns})
	require.ErrorIs(t, err, storage.ErrInvalidIdentifier)

	require.Error(t, r.Register("", productsTable))
	assert.Equal(t, uint64(1), r.Version())
}

func TestEnsureProvisionedIsIdempotent(t *testing.T) {
	store := memory.New()
	store.AddPartition("acme_db")
	mgr := partition.NewManager(store, time.Second, nil)
	r := New(Config{}, nil)
	require.NoError(t, r.Register("sales", ordersTable, productsTable))

	h := enter(t, mgr, acme())
	require.NoError(t, r.EnsureProvisioned(context.Background(), h))
	first := store.Tables("acme_db")

	r.Forget("acme_db")
	require.NoError(t, r.EnsureProvisioned(context.Background(), h))

	assert.Equal(t, first, store.Tables("acme_db"))
	assert.Equal(t, []string{"orders", "products"}, first)
	assert.Equal(t, 1, store.CreateCount("acme_db", "orders"))
	assert.Equal(t, 1, store.CreateCount("acme_db", "products"))
	assert.Empty(t, store.Tables(domain.DefaultPartition))
}

func TestNewRegistrationInvalidatesVerifiedPartitions(t *testing.T) {
	store := memory.New()
	store.AddPartition("acme_db")
	mgr := partition.NewManager(store, time.Second, nil)
	r := New(Config{}, nil)
	require.NoError(t, r.Register("sales", ordersTable))

	h := enter(t, mgr, acme())
	require.NoError(t, r.EnsureProvisioned(context.Background(), h))
	assert.True(t, r.Verified("acme_db"))

	require.NoError(t, r.Register("catalog", productsTable))
	assert.False(t, r.Verified("acme_db"))

	require.NoError(t, r.EnsureProvisioned(context.Background(), h))
	assert.True(t, r.Verified("acme_db"))
	assert.Equal(t, []string{"orders", "products"}, store.Tables("acme_db"))
	assert.Equal(t, 1, store.CreateCount("acme_db", "orders"))
}

func TestConcurrentFirstRequestsCreateOnce(t *testing.T) {
	store := memory.New()
	store.AddPartition("acme_db")
	store.CreateDelay = 20 * time.Millisecond
	mgr := partition.NewManager(store, time.Second, nil)

	// two registries stand in for two replicas sharing one database
	replicas := []*Registry{New(Config{}, nil), New(Config{}, nil)}
	for _, r := range replicas {
		require.NoError(t, r.Register("sales", ordersTable, productsTable))
	}

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- mgr.Run(context.Background(), acme(), func(ctx context.Context, h *partition.Handle) error {
				return replicas[i%2].EnsureProvisioned(ctx, h)
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, store.CreateCount("acme_db", "orders"))
	assert.Equal(t, 1, store.CreateCount("acme_db", "products"))
	assert.Equal(t, 0, store.Discarded())
}

func TestFailedCreateIsRetriedOnce(t *testing.T) {
	store := memory.New()
	store.AddPartition("acme_db")
	mgr := partition.NewManager(store, time.Second, nil)
	r := New(Config{}, nil)
	require.NoError(t, r.Register("sales", ordersTable))

	store.FailNextCreates(1)
	h := enter(t, mgr, acme())
	require.NoError(t, r.EnsureProvisioned(context.Background(), h))
	assert.Equal(t, 1, store.CreateCount("acme_db", "orders"))
}

func TestPersistentCreateFailureSurfaces(t *testing.T) {
	store := memory.New()
	store.AddPartition("acme_db")
	mgr := partition.NewManager(store, time.Second, nil)
	r := New(Config{}, nil)
	require.NoError(t, r.Register("sales", ordersTable))

	store.FailNextCreates(2)
	h := enter(t, mgr, acme())
	err := r.EnsureProvisioned(context.Background(), h)
	require.ErrorIs(t, err, domain.ErrProvisioningFailed)
	assert.Equal(t, "acme", domain.SlugOf(err))
	assert.False(t, r.Verified("acme_db"))
	assert.Empty(t, store.Tables("acme_db"))
}

func TestSlowStorageTimesOut(t *testing.T) {
	store := memory.New()
	store.AddPartition("acme_db")
	mgr := partition.NewManager(store, time.Second, nil)
	r := New(Config{Timeout: 30 * time.Millisecond}, nil)
	require.NoError(t, r.Register("sales", ordersTable))

	h := enter(t, mgr, acme())
	store.Latency = 200 * time.Millisecond

	start := time.Now()
	err := r.EnsureProvisioned(context.Background(), h)
	require.ErrorIs(t, err, domain.ErrStorageTimeout)
	require.ErrorIs(t, err, domain.ErrProvisioningFailed)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}
