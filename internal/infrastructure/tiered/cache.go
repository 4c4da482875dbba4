// Package tiered layers an in-process cache over a shared one.
package tiered

import (
	"context"
	"errors"
	"time"
)

// Level is one cache level
type Level interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Cache reads L1 then L2, backfilling L1 on an L2 hit. Writes and deletes go to
// both levels.
type Cache struct {
	l1, l2 Level
	l1TTL  time.Duration
}

// New creates a tiered cache. l1TTL caps how long backfilled entries live in L1.
func New(l1, l2 Level, l1TTL time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := c.l1.Get(ctx, key); err == nil && ok {
		return v, true, nil
	}
	v, ok, err := c.l2.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = c.l1.Set(ctx, key, v, c.l1TTL)
	return v, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := ttl
	if c.l1TTL > 0 && c.l1TTL < ttl {
		l1TTL = c.l1TTL
	}
	if err := c.l1.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	return c.l2.Set(ctx, key, value, ttl)
}

// Delete removes key from both levels. L1 is always cleared even if L2 fails.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return errors.Join(c.l1.Delete(ctx, key), c.l2.Delete(ctx, key))
}
