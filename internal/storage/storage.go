// Package storage defines the connection-per-request storage port used by the
// partition manager, the model registry and business handlers.
package storage

import (
	"context"
	"errors"
	"regexp"
)

var (
	// ErrAlreadyExists is returned by CreateTable when the table is already present,
	// including when a concurrent creator won the race.
	ErrAlreadyExists = errors.New("storage object already exists")
	// ErrPartitionMissing is returned when switching into a schema that does not exist.
	ErrPartitionMissing = errors.New("partition does not exist")
	// ErrSessionReleased is returned by any call made after Release.
	ErrSessionReleased = errors.New("session already released")
	// ErrInvalidIdentifier guards every name interpolated into DDL or DML.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidIdentifier reports whether name is safe to use as a schema, table or
// column name: letters, digits and underscores, at most 63 bytes.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// Column describes one column of a partition-scoped table
type Column struct {
	Name       string
	Type       string
	PrimaryKey bool
	NotNull    bool
	Default    string
}

// TableSpec declares a partition-scoped table
type TableSpec struct {
	Name    string
	Columns []Column
}

// Validate checks every identifier in the spec
func (t TableSpec) Validate() error {
	if !ValidIdentifier(t.Name) {
		return ErrInvalidIdentifier
	}
	if len(t.Columns) == 0 {
		return errors.New("table spec has no columns")
	}
	for _, c := range t.Columns {
		if !ValidIdentifier(c.Name) {
			return ErrInvalidIdentifier
		}
	}
	return nil
}

// Row is a single record keyed by column name
type Row map[string]any

// Session is one storage connection checked out for the lifetime of a request.
// A session is owned by a single goroutine and must not be shared.
type Session interface {
	SetPartition(ctx context.Context, name string) error
	ResetPartition(ctx context.Context) error
	CurrentPartition(ctx context.Context) (string, error)
	PartitionExists(ctx context.Context, name string) (bool, error)
	CreatePartition(ctx context.Context, name string) error
	TableExists(ctx context.Context, table string) (bool, error)
	CreateTable(ctx context.Context, spec TableSpec) error
	Insert(ctx context.Context, table string, row Row) error
	Select(ctx context.Context, table string, where Row) ([]Row, error)
	// Release resets the session to the default partition and returns it to the
	// pool, or discards it when the reset fails. It is safe to call more than once.
	Release(ctx context.Context) error
}

// Pool hands out sessions whose partition has been reset to the default.
type Pool interface {
	Acquire(ctx context.Context) (Session, error)
	Ping(ctx context.Context) error
	Close() error
}
