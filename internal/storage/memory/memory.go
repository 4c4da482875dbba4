// Package memory is an in-process implementation of the storage port. It keeps
// per-partition tables in maps and models connection checkout so that partition
// isolation and creation races behave like the Postgres adapter.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/storage"
)

type table struct {
	spec storage.TableSpec
	rows []storage.Row
}

// Store is a memory-backed storage.Pool
type Store struct {
	mu         sync.Mutex
	partitions map[string]map[string]*table
	creates    map[string]int
	free       []*Session
	nextID     int
	discarded  int

	// Latency is added to every operation; it honours context cancellation.
	Latency time.Duration
	// CreateDelay widens the window between the existence check and the insert
	// inside CreateTable.
	CreateDelay time.Duration
	failCreates int
	failResets  int
}

// New creates a store holding only the default partition
func New() *Store {
	return &Store{
		partitions: map[string]map[string]*table{domain.DefaultPartition: {}},
		creates:    map[string]int{},
	}
}

// AddPartition creates a schema directly, bypassing any session
func (s *Store) AddPartition(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[name]; !ok {
		s.partitions[name] = map[string]*table{}
	}
}

// CreateCount returns how many times table was successfully created in partition
func (s *Store) CreateCount(partition, tbl string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates[partition+"."+tbl]
}

// Tables lists the tables present in partition
func (s *Store) Tables(partition string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.partitions[partition]))
	for name := range s.partitions[partition] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FailNextCreates makes the next n CreateTable calls fail without creating anything
func (s *Store) FailNextCreates(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreates = n
}

// FailNextResets makes the next n ResetPartition calls fail
func (s *Store) FailNextResets(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failResets = n
}

// Discarded returns how many sessions were dropped instead of being pooled
func (s *Store) Discarded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discarded
}

// Idle returns the number of pooled sessions
func (s *Store) Idle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.free)
}

// Acquire checks out a session. Pooled sessions that are not on the default
// partition are discarded rather than handed out.
func (s *Store) Acquire(ctx context.Context) (storage.Session, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.free) > 0 {
		sess := s.free[len(s.free)-1]
		s.free = s.free[:len(s.free)-1]
		if sess.current != domain.DefaultPartition {
			s.discarded++
			continue
		}
		sess.released = false
		return sess, nil
	}
	s.nextID++
	return &Session{store: s, id: s.nextID, current: domain.DefaultPartition}, nil
}

// Ping always succeeds unless ctx is done
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close drops pooled sessions
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free = nil
	return nil
}

func (s *Store) wait(ctx context.Context) error {
	if s.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Session is a memory-backed storage.Session
type Session struct {
	store    *Store
	id       int
	current  string
	released bool
}

// ID identifies the underlying pooled connection
func (c *Session) ID() int {
	return c.id
}

func (c *Session) begin(ctx context.Context) error {
	if c.released {
		return storage.ErrSessionReleased
	}
	return c.store.wait(ctx)
}

func (c *Session) SetPartition(ctx context.Context, name string) error {
	if err := c.begin(ctx); err != nil {
		return err
	}
	if !storage.ValidIdentifier(name) {
		return storage.ErrInvalidIdentifier
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if _, ok := c.store.partitions[name]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrPartitionMissing, name)
	}
	c.current = name
	return nil
}

func (c *Session) ResetPartition(ctx context.Context) error {
	if c.released {
		return storage.ErrSessionReleased
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.store.failResets > 0 {
		c.store.failResets--
		return errors.New("injected reset failure")
	}
	c.current = domain.DefaultPartition
	return nil
}

func (c *Session) CurrentPartition(ctx context.Context) (string, error) {
	if err := c.begin(ctx); err != nil {
		return "", err
	}
	return c.current, nil
}

func (c *Session) PartitionExists(ctx context.Context, name string) (bool, error) {
	if err := c.begin(ctx); err != nil {
		return false, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	_, ok := c.store.partitions[name]
	return ok, nil
}

func (c *Session) CreatePartition(ctx context.Context, name string) error {
	if err := c.begin(ctx); err != nil {
		return err
	}
	if !storage.ValidIdentifier(name) {
		return storage.ErrInvalidIdentifier
	}
	c.store.AddPartition(name)
	return nil
}

func (c *Session) TableExists(ctx context.Context, name string) (bool, error) {
	if err := c.begin(ctx); err != nil {
		return false, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	_, ok := c.store.partitions[c.current][name]
	return ok, nil
}

func (c *Session) CreateTable(ctx context.Context, spec storage.TableSpec) error {
	if err := c.begin(ctx); err != nil {
		return err
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	c.store.mu.Lock()
	if c.store.failCreates > 0 {
		c.store.failCreates--
		c.store.mu.Unlock()
		return errors.New("injected create failure")
	}
	_, exists := c.store.partitions[c.current][spec.Name]
	delay := c.store.CreateDelay
	c.store.mu.Unlock()
	if exists {
		return fmt.Errorf("%w: %s.%s", storage.ErrAlreadyExists, c.current, spec.Name)
	}

	if delay > 0 {
		time.Sleep(delay)
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	tables := c.store.partitions[c.current]
	if _, ok := tables[spec.Name]; ok {
		return fmt.Errorf("%w: %s.%s", storage.ErrAlreadyExists, c.current, spec.Name)
	}
	tables[spec.Name] = &table{spec: spec}
	c.store.creates[c.current+"."+spec.Name]++
	return nil
}

func (c *Session) Insert(ctx context.Context, name string, row storage.Row) error {
	if err := c.begin(ctx); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	t, ok := c.store.partitions[c.current][name]
	if !ok {
		return fmt.Errorf("relation %q does not exist in %s", name, c.current)
	}
	t.rows = append(t.rows, copyRow(row))
	return nil
}

func (c *Session) Select(ctx context.Context, name string, where storage.Row) ([]storage.Row, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	t, ok := c.store.partitions[c.current][name]
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist in %s", name, c.current)
	}
	out := []storage.Row{}
	for _, r := range t.rows {
		if matches(r, where) {
			out = append(out, copyRow(r))
		}
	}
	return out, nil
}

// Release resets the session and returns it to the pool. A session whose
// reset fails is dropped.
func (c *Session) Release(ctx context.Context) error {
	if c.released {
		return nil
	}
	err := c.ResetPartition(ctx)
	c.released = true
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err != nil {
		c.store.discarded++
		return fmt.Errorf("reset on release: %w", err)
	}
	c.store.free = append(c.store.free, c)
	return nil
}

func matches(r, where storage.Row) bool {
	for k, v := range where {
		if r[k] != v {
			return false
		}
	}
	return true
}

func copyRow(r storage.Row) storage.Row {
	out := make(storage.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
