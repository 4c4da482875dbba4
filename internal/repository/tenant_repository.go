package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var tenantColumns = []string{"id", "schema_name", "slug", "status", "subscription_ref", "created_at", "updated_at"}

// PostgresTenantRepository implements domain.TenantStore on the public schema
type PostgresTenantRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresTenantRepository creates a new tenant repository
func NewPostgresTenantRepository(db *sql.DB, logger *slog.Logger) *PostgresTenantRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTenantRepository{db: db, logger: logger}
}

// Create inserts a tenant and fills in its id and timestamps
func (r *PostgresTenantRepository) Create(ctx context.Context, t *domain.Tenant) error {
	query, args, err := psql.Insert("tenants").
		Columns("schema_name", "slug", "status", "subscription_ref").
		Values(t.Partition, t.Slug, string(t.Status), t.SubscriptionRef).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build tenant insert: %w", err)
	}
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if pqCode(err) == codeUniqueViolation {
			return fmt.Errorf("%w: tenant %s or schema %s", domain.ErrConflict, t.Slug, t.Partition)
		}
		r.logger.ErrorContext(ctx, "failed to create tenant",
			slog.String("slug", t.Slug),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// GetByID retrieves a tenant by ID
func (r *PostgresTenantRepository) GetByID(ctx context.Context, id int64) (*domain.Tenant, error) {
	return r.getOne(ctx, psql.Select(tenantColumns...).From("tenants").Where(sq.Eq{"id": id}))
}

// GetBySlug retrieves a tenant by its current slug
func (r *PostgresTenantRepository) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	return r.getOne(ctx, psql.Select(tenantColumns...).From("tenants").Where(sq.Eq{"slug": slug}))
}

// GetByAlias retrieves the tenant an alias points to
func (r *PostgresTenantRepository) GetByAlias(ctx context.Context, alias string) (*domain.Tenant, error) {
	cols := make([]string, len(tenantColumns))
	for i, c := range tenantColumns {
		cols[i] = "t." + c
	}
	return r.getOne(ctx, psql.Select(cols...).
		From("tenants t").
		Join("tenant_aliases a ON a.tenant_id = t.id").
		Where(sq.Eq{"a.alias": alias}))
}

func (r *PostgresTenantRepository) getOne(ctx context.Context, b sq.SelectBuilder) (*domain.Tenant, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build tenant query: %w", err)
	}
	t, err := scanTenant(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(s scanner) (*domain.Tenant, error) {
	t := &domain.Tenant{}
	var status string
	var sub sql.NullString
	if err := s.Scan(&t.ID, &t.Partition, &t.Slug, &status, &sub, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = domain.TenantStatus(status)
	if sub.Valid {
		t.SubscriptionRef = &sub.String
	}
	return t, nil
}

// Rename changes the slug. The schema name is never updated.
func (r *PostgresTenantRepository) Rename(ctx context.Context, id int64, newSlug string) error {
	return r.update(ctx, id, "slug", newSlug)
}

// SetStatus updates the lifecycle status
func (r *PostgresTenantRepository) SetStatus(ctx context.Context, id int64, status domain.TenantStatus) error {
	return r.update(ctx, id, "status", string(status))
}

func (r *PostgresTenantRepository) update(ctx context.Context, id int64, column string, value any) error {
	query, args, err := psql.Update("tenants").
		Set(column, value).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build tenant update: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if pqCode(err) == codeUniqueViolation {
			return fmt.Errorf("%w: %s %v", domain.ErrConflict, column, value)
		}
		return fmt.Errorf("failed to update tenant %s: %w", column, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

// AddAlias inserts an alias row
func (r *PostgresTenantRepository) AddAlias(ctx context.Context, a domain.Alias) error {
	query, args, err := psql.Insert("tenant_aliases").
		Columns("alias", "tenant_id").
		Values(a.Alias, a.TenantID).
		ToSql()
	if err != nil {
		return fmt.Errorf("build alias insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		switch pqCode(err) {
		case codeUniqueViolation:
			return fmt.Errorf("%w: alias %s", domain.ErrConflict, a.Alias)
		case codeForeignKeyViolation:
			return domain.ErrTenantNotFound
		}
		return fmt.Errorf("failed to add alias: %w", err)
	}
	return nil
}

// ListAliases returns the aliases of a tenant in alphabetical order
func (r *PostgresTenantRepository) ListAliases(ctx context.Context, tenantID int64) ([]string, error) {
	query, args, err := psql.Select("alias").From("tenant_aliases").
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("alias").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build alias query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// List returns all tenants
func (r *PostgresTenantRepository) List(ctx context.Context) ([]*domain.Tenant, error) {
	query, args, err := psql.Select(tenantColumns...).From("tenants").OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build tenant list: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var out []*domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
