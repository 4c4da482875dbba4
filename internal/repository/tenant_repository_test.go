package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func tenantRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "schema_name", "slug", "status", "subscription_ref", "created_at", "updated_at"})
}

func TestGetBySlug(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTenantRepository(db, nil)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, schema_name, slug, status, subscription_ref, created_at, updated_at FROM tenants WHERE slug = $1`)).
		WithArgs("acme").
		WillReturnRows(tenantRows().AddRow(int64(1), "acme_db", "acme", "active", nil, now, now))

	tn, err := repo.GetBySlug(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tn.ID)
	assert.Equal(t, "acme_db", tn.Partition)
	assert.Equal(t, domain.TenantActive, tn.Status)
	assert.Nil(t, tn.SubscriptionRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByAliasJoinsAliasTable(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTenantRepository(db, nil)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM tenants t JOIN tenant_aliases a ON a.tenant_id = t.id WHERE a.alias = $1`)).
		WithArgs("acme-corp").
		WillReturnRows(tenantRows().AddRow(int64(1), "acme_db", "acme", "active", "sub_42", now, now))

	tn, err := repo.GetByAlias(context.Background(), "acme-corp")
	require.NoError(t, err)
	require.NotNil(t, tn.SubscriptionRef)
	assert.Equal(t, "sub_42", *tn.SubscriptionRef)
}

func TestGetMissingTenant(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTenantRepository(db, nil)

	mock.ExpectQuery(`FROM tenants WHERE slug`).WithArgs("ghost").WillReturnRows(tenantRows())

	_, err := repo.GetBySlug(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
}

func TestCreateTenant(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTenantRepository(db, nil)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO tenants (schema_name,slug,status,subscription_ref) VALUES ($1,$2,$3,$4) RETURNING id, created_at, updated_at`)).
		WithArgs("acme_db", "acme", "active", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(3), now, now))

	tn := &domain.Tenant{Partition: "acme_db", Slug: "acme", Status: domain.TenantActive}
	require.NoError(t, repo.Create(context.Background(), tn))
	assert.Equal(t, int64(3), tn.ID)
}

func TestCreateDuplicateTenant(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTenantRepository(db, nil)

	mock.ExpectQuery(`INSERT INTO tenants`).WillReturnError(&pq.Error{Code: codeUniqueViolation})

	err := repo.Create(context.Background(), &domain.Tenant{Partition: "acme_db", Slug: "acme", Status: domain.TenantActive})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRenameMissingTenant(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTenantRepository(db, nil)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tenants SET slug = $1, updated_at = now() WHERE id = $2`)).
		WithArgs("acme2", int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Rename(context.Background(), 9, "acme2")
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAliases(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTenantRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT alias FROM tenant_aliases WHERE tenant_id = $1 ORDER BY alias`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"alias"}).AddRow("acme-corp").AddRow("acme-eu"))

	aliases, err := repo.ListAliases(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme-corp", "acme-eu"}, aliases)
}

func TestAddAliasForUnknownTenant(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresTenantRepository(db, nil)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tenant_aliases (alias,tenant_id) VALUES ($1,$2)`)).
		WithArgs("acme-corp", int64(42)).
		WillReturnError(&pq.Error{Code: codeForeignKeyViolation})

	err := repo.AddAlias(context.Background(), domain.Alias{Alias: "acme-corp", TenantID: 42})
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
}

func TestUserRepositoryGetByEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepository(db, nil)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM platform_users WHERE email = $1`)).
		WithArgs("ops@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow("u-1", "ops@example.com", "hash", "admin", true, now, now))

	u, err := repo.GetByEmail(context.Background(), "Ops@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", u.ID)
	assert.True(t, u.IsActive)

	mock.ExpectQuery(`FROM platform_users WHERE id`).WithArgs("nope").WillReturnRows(sqlmock.NewRows(userColumns))
	_, err = repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}
