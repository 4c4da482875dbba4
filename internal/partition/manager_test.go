package partition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/storage"
	"github.com/aryan0dhankhar/tenantrouter/internal/storage/memory"
)

func tenant(id int64, slug, part string) *domain.Tenant {
	return &domain.Tenant{ID: id, Slug: slug, Partition: part, Status: domain.TenantActive}
}

func newStore(partitions ...string) *memory.Store {
	s := memory.New()
	for _, p := range partitions {
		s.AddPartition(p)
	}
	return s
}

func TestRunRestoresDefaultPartition(t *testing.T) {
	store := newStore("acme_db")
	m := NewManager(store, time.Second, nil)

	err := m.Run(context.Background(), tenant(1, "acme", "acme_db"), func(ctx context.Context, h *Handle) error {
		assert.Equal(t, domain.DefaultPartition, h.Previous())
		p, ok := CurrentPartition(ctx)
		require.True(t, ok)
		assert.Equal(t, "acme_db", p)

		cur, err := h.Session().CurrentPartition(ctx)
		require.NoError(t, err)
		assert.Equal(t, "acme_db", cur)

		tn, ok := CurrentTenant(ctx)
		require.True(t, ok)
		assert.Equal(t, "acme", tn.Slug)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Idle())

	sess, err := store.Acquire(context.Background())
	require.NoError(t, err)
	cur, err := sess.CurrentPartition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPartition, cur)
	require.NoError(t, sess.Release(context.Background()))
}

func TestEnterRejectsUnsafeIdentifiers(t *testing.T) {
	store := newStore("acme_db")
	m := NewManager(store, time.Second, nil)

	for _, bad := range []string{"", "acme-db", "acme_db; DROP SCHEMA public", "1acme", "a\"b",
		"abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyzabcdefghijklm"} {
		t.Run(fmt.Sprintf("%q", bad), func(t *testing.T) {
			called := false
			err := m.Run(context.Background(), tenant(9, "evil", bad), func(context.Context, *Handle) error {
				called = true
				return nil
			})
			require.ErrorIs(t, err, domain.ErrInvalidPartitionIdentifier)
			assert.Equal(t, "evil", domain.SlugOf(err))
			assert.False(t, called)
		})
	}
	assert.Equal(t, 0, store.Idle())
}

func TestEnterMissingPartitionFailsFast(t *testing.T) {
	store := newStore()
	m := NewManager(store, time.Second, nil)

	h, err := m.Enter(context.Background(), tenant(2, "beta", "beta_db"))
	require.Nil(t, h)
	require.ErrorIs(t, err, domain.ErrPartitionSwitchFailed)
	require.ErrorIs(t, err, storage.ErrPartitionMissing)
	assert.Equal(t, 1, store.Idle())
}

func TestEnterTimesOutOnSlowStorage(t *testing.T) {
	store := newStore("acme_db")
	store.Latency = 200 * time.Millisecond
	m := NewManager(store, 20*time.Millisecond, nil)

	_, err := m.Enter(context.Background(), tenant(1, "acme", "acme_db"))
	require.ErrorIs(t, err, domain.ErrStorageTimeout)
	require.ErrorIs(t, err, domain.ErrPartitionSwitchFailed)
}

func TestRunExitsOnPanic(t *testing.T) {
	store := newStore("acme_db")
	m := NewManager(store, time.Second, nil)

	var inner context.Context
	assert.PanicsWithValue(t, "boom", func() {
		_ = m.Run(context.Background(), tenant(1, "acme", "acme_db"), func(ctx context.Context, h *Handle) error {
			inner = ctx
			panic("boom")
		})
	})

	_, ok := FromContext(inner)
	assert.False(t, ok)
	assert.Equal(t, 1, store.Idle())
}

func TestRunExitsWhenRequestCancelled(t *testing.T) {
	store := newStore("acme_db")
	m := NewManager(store, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCancelled := errors.New("client went away")
	err := m.Run(ctx, tenant(1, "acme", "acme_db"), func(ctx context.Context, h *Handle) error {
		cancel()
		<-ctx.Done()
		return errCancelled
	})
	require.ErrorIs(t, err, errCancelled)
	assert.Equal(t, 1, store.Idle())
	assert.Equal(t, 0, store.Discarded())
}

func TestFailedRestoreDiscardsSession(t *testing.T) {
	store := newStore("acme_db")
	m := NewManager(store, time.Second, nil)

	h, err := m.Enter(context.Background(), tenant(1, "acme", "acme_db"))
	require.NoError(t, err)

	store.FailNextResets(1)
	require.Error(t, h.Exit())
	require.NoError(t, h.Exit())
	assert.True(t, h.Exited())
	assert.Equal(t, 1, store.Discarded())
	assert.Equal(t, 0, store.Idle())
}

func TestConcurrentTenantsNeverSeeEachOthersRows(t *testing.T) {
	store := newStore("acme_db", "beta_db")
	m := NewManager(store, time.Second, nil)
	marker := storage.TableSpec{Name: "markers", Columns: []storage.Column{{Name: "owner", Type: "TEXT"}}}

	for _, tn := range []*domain.Tenant{tenant(1, "acme", "acme_db"), tenant(2, "beta", "beta_db")} {
		require.NoError(t, m.Run(context.Background(), tn, func(ctx context.Context, h *Handle) error {
			return h.Session().CreateTable(ctx, marker)
		}))
	}

	var wg sync.WaitGroup
	leaks := make(chan string, 400)
	for i := 0; i < 200; i++ {
		for _, tn := range []*domain.Tenant{tenant(1, "acme", "acme_db"), tenant(2, "beta", "beta_db")} {
			wg.Add(1)
			go func(tn *domain.Tenant) {
				defer wg.Done()
				err := m.Run(context.Background(), tn, func(ctx context.Context, h *Handle) error {
					if err := h.Session().Insert(ctx, "markers", storage.Row{"owner": tn.Slug}); err != nil {
						return err
					}
					rows, err := h.Session().Select(ctx, "markers", nil)
					if err != nil {
						return err
					}
					for _, r := range rows {
						if r["owner"] != tn.Slug {
							leaks <- fmt.Sprintf("%s saw %v", tn.Slug, r["owner"])
						}
					}
					return nil
				})
				assert.NoError(t, err)
			}(tn)
		}
	}
	wg.Wait()
	close(leaks)
	for l := range leaks {
		t.Error(l)
	}
}
