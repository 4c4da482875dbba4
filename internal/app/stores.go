// Package app opens the storage backends both binaries share.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/repository"
	"github.com/aryan0dhankhar/tenantrouter/internal/storage"
	"github.com/aryan0dhankhar/tenantrouter/internal/storage/memory"
	"github.com/aryan0dhankhar/tenantrouter/internal/storage/postgres"
	"github.com/aryan0dhankhar/tenantrouter/pkg/config"
	"github.com/aryan0dhankhar/tenantrouter/pkg/database"
)

// Stores are the opened backends
type Stores struct {
	Pool    storage.Pool
	Tenants domain.TenantStore
	Users   domain.UserRepository
	DB      *database.ConnectionPool // nil for the memory driver
}

// Close releases the backends
func (s *Stores) Close() error {
	var errs []error
	if s.Pool != nil {
		errs = append(errs, s.Pool.Close())
	}
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	return errors.Join(errs...)
}

// OpenStores connects the configured driver. For postgres the shared schema is
// migrated when migrate is set. An unreachable database is returned as an error.
func OpenStores(ctx context.Context, cfg *config.Config, migrate bool, log *slog.Logger) (*Stores, error) {
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn("using in-memory storage; data is lost on exit")
		return &Stores{
			Pool:    memory.New(),
			Tenants: repository.NewMemoryTenantRepository(),
			Users:   repository.NewMemoryUserRepository(),
		}, nil
	case "postgres":
		db, err := database.NewConnectionPool(ctx, &cfg.Storage.Database, log)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := database.Migrate(ctx, db.GetDB()); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return &Stores{
			Pool:    postgres.NewPool(db.GetDB(), cfg.Storage.SwitchTimeout, log),
			Tenants: repository.NewPostgresTenantRepository(db.GetDB(), log),
			Users:   repository.NewPostgresUserRepository(db.GetDB(), log),
			DB:      db,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// PartitionName derives the schema name for a new tenant slug
func PartitionName(slug string) string {
	return "tenant_" + strings.ReplaceAll(strings.ToLower(slug), "-", "_")
}

// Provisioner creates tenant rows together with their partitions
type Provisioner interface {
	Create(ctx context.Context, t *domain.Tenant) error
}

// CreateTenant records the tenant and creates its partition. The partition is
// created first so a tenant row never points at a missing schema.
func CreateTenant(ctx context.Context, pool storage.Pool, dir Provisioner, t *domain.Tenant) error {
	if t.Partition == "" {
		t.Partition = PartitionName(t.Slug)
	}
	if !storage.ValidIdentifier(t.Partition) || t.Partition == domain.DefaultPartition {
		return domain.NewTenantError(t.Slug, domain.ErrInvalidPartitionIdentifier)
	}

	sess, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	defer sess.Release(context.WithoutCancel(ctx))

	exists, err := sess.PartitionExists(ctx, t.Partition)
	if err != nil {
		return err
	}
	if !exists {
		if err := sess.CreatePartition(ctx, t.Partition); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("create partition %s: %w", t.Partition, err)
		}
	}
	return dir.Create(ctx, t)
}
