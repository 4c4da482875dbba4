package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/tenantrouter/internal/storage"
)

const (
	resetSQL   = `SET search_path TO "public"`
	currentSQL = `SELECT current_schema()`
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectCheckout(mock sqlmock.Sqlmock, schema string) {
	mock.ExpectExec(regexp.QuoteMeta(resetSQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(currentSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"current_schema"}).AddRow(schema))
}

func TestAcquireSwitchAndRelease(t *testing.T) {
	db, mock := newMock(t)
	pool := NewPool(db, time.Second, nil)
	ctx := context.Background()

	expectCheckout(mock, "public")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $1)`)).
		WithArgs("acme_db").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta(`SET search_path TO "acme_db"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(resetSQL)).WillReturnResult(sqlmock.NewResult(0, 0))

	sess, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.SetPartition(ctx, "acme_db"))
	require.NoError(t, sess.Release(ctx))
	require.NoError(t, sess.Release(ctx))

	_, err = sess.CurrentPartition(ctx)
	assert.ErrorIs(t, err, storage.ErrSessionReleased)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireRejectsConnectionStuckOnTenantSchema(t *testing.T) {
	db, mock := newMock(t)
	pool := NewPool(db, time.Second, nil)

	expectCheckout(mock, "beta_db")

	_, err := pool.Acquire(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"beta_db"`)
}

func TestSetPartitionMissingSchema(t *testing.T) {
	db, mock := newMock(t)
	pool := NewPool(db, time.Second, nil)
	ctx := context.Background()

	expectCheckout(mock, "public")
	mock.ExpectQuery(regexp.QuoteMeta(`FROM pg_namespace`)).
		WithArgs("ghost_db").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	sess, err := pool.Acquire(ctx)
	require.NoError(t, err)
	err = sess.SetPartition(ctx, "ghost_db")
	assert.ErrorIs(t, err, storage.ErrPartitionMissing)
}

func TestSetPartitionValidatesBeforeQuerying(t *testing.T) {
	db, mock := newMock(t)
	pool := NewPool(db, time.Second, nil)
	ctx := context.Background()

	expectCheckout(mock, "public")
	sess, err := pool.Acquire(ctx)
	require.NoError(t, err)

	err = sess.SetPartition(ctx, `acme"; DROP SCHEMA public; --`)
	assert.ErrorIs(t, err, storage.ErrInvalidIdentifier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseDiscardsWhenResetFails(t *testing.T) {
	db, mock := newMock(t)
	pool := NewPool(db, time.Second, nil)
	ctx := context.Background()

	expectCheckout(mock, "public")
	mock.ExpectExec(regexp.QuoteMeta(resetSQL)).WillReturnError(errors.New("connection reset by peer"))

	sess, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.Error(t, sess.Release(ctx))

	_, err = sess.CurrentPartition(ctx)
	assert.ErrorIs(t, err, storage.ErrSessionReleased)
}

func TestCreateTableMapsDuplicateToAlreadyExists(t *testing.T) {
	db, mock := newMock(t)
	pool := NewPool(db, time.Second, nil)
	ctx := context.Background()
	spec := storage.TableSpec{Name: "orders", Columns: []storage.Column{
		{Name: "id", Type: "BIGSERIAL", PrimaryKey: true},
		{Name: "tenant_id", Type: "BIGINT", NotNull: true},
	}}

	expectCheckout(mock, "public")
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE "orders" ("id" BIGSERIAL, "tenant_id" BIGINT NOT NULL, PRIMARY KEY ("id"))`)).
		WillReturnError(&pq.Error{Code: codeDuplicateTable})

	sess, err := pool.Acquire(ctx)
	require.NoError(t, err)
	err = sess.CreateTable(ctx, spec)
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableExistsUsesCurrentSchema(t *testing.T) {
	db, mock := newMock(t)
	pool := NewPool(db, time.Second, nil)
	ctx := context.Background()

	expectCheckout(mock, "public")
	mock.ExpectQuery(`table_schema = current_schema\(\) AND table_name = \$1`).
		WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	sess, err := pool.Acquire(ctx)
	require.NoError(t, err)
	ok, err := sess.TableExists(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInsertAndSelectQuoteIdentifiers(t *testing.T) {
	db, mock := newMock(t)
	pool := NewPool(db, time.Second, nil)
	ctx := context.Background()

	expectCheckout(mock, "public")
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "orders" ("label","tenant_id") VALUES ($1,$2)`)).
		WithArgs("first", int64(1)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE "tenant_id" = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "label"}).AddRow(int64(7), int64(1), []byte("first")))

	sess, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Insert(ctx, "orders", storage.Row{"tenant_id": int64(1), "label": "first"}))

	rows, err := sess.Select(ctx, "orders", storage.Row{"tenant_id": int64(1)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "first", rows[0]["label"])
	assert.Equal(t, int64(7), rows[0]["id"])

	assert.ErrorIs(t, sess.Insert(ctx, "orders", storage.Row{"bad col": 1}), storage.ErrInvalidIdentifier)
	assert.NoError(t, mock.ExpectationsWereMet())
}
