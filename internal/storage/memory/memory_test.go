package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/storage"
)

func TestAcquireNeverHandsOutDirtySession(t *testing.T) {
	s := New()
	s.AddPartition("acme_db")
	s.free = append(s.free, &Session{store: s, id: 99, current: "acme_db", released: true})

	sess, err := s.Acquire(context.Background())
	require.NoError(t, err)
	cur, err := sess.CurrentPartition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPartition, cur)
	assert.NotEqual(t, 99, sess.(*Session).ID())
	assert.Equal(t, 1, s.Discarded())
}

func TestReleasedSessionIsReused(t *testing.T) {
	s := New()
	s.AddPartition("acme_db")
	ctx := context.Background()

	first, err := s.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, first.SetPartition(ctx, "acme_db"))
	require.NoError(t, first.Release(ctx))
	assert.ErrorIs(t, first.Insert(ctx, "x", nil), storage.ErrSessionReleased)

	second, err := s.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.(*Session).ID(), second.(*Session).ID())
	cur, err := second.CurrentPartition(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPartition, cur)
}

func TestTablesArePerPartition(t *testing.T) {
	s := New()
	s.AddPartition("acme_db")
	s.AddPartition("beta_db")
	ctx := context.Background()
	spec := storage.TableSpec{Name: "orders", Columns: []storage.Column{{Name: "label", Type: "TEXT"}}}

	sess, err := s.Acquire(ctx)
	require.NoError(t, err)
	defer sess.Release(ctx)

	require.NoError(t, sess.SetPartition(ctx, "acme_db"))
	require.NoError(t, sess.CreateTable(ctx, spec))
	require.ErrorIs(t, sess.CreateTable(ctx, spec), storage.ErrAlreadyExists)
	require.NoError(t, sess.Insert(ctx, "orders", storage.Row{"label": "a"}))

	require.NoError(t, sess.SetPartition(ctx, "beta_db"))
	ok, err := sess.TableExists(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = sess.Select(ctx, "orders", nil)
	assert.Error(t, err)

	assert.ErrorIs(t, sess.SetPartition(ctx, "ghost_db"), storage.ErrPartitionMissing)
	assert.Equal(t, 1, s.CreateCount("acme_db", "orders"))
}
