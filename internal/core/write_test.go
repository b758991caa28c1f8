package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/ormica/internal/errs"
)

// newMockDB wraps a sqlmock connection with the PostgreSQL dialect and exact
// statement matching.
func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := WrapDB(sqlDB, "postgres", WithoutStmtCache())
	require.NoError(t, err)
	require.NoError(t, db.Register(&testAccount{}, &testUser{}, &testDevice{}))
	return db, mock
}

func TestInsert_Returning(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`INSERT INTO "account" ("email", "password", "created_at", "updated_at") ` +
		`VALUES ($1, $2, $3::TIMESTAMPTZ, $4::TIMESTAMPTZ) RETURNING "id"`).
		WithArgs("a@example.com", "secret", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	acc := &testAccount{Email: "a@example.com", Password: "secret"}
	require.NoError(t, db.Model(acc).Insert(acc))

	assert.Equal(t, int64(42), acc.ID)
	assert.False(t, acc.CreatedAt.IsZero())
	assert.Equal(t, time.UTC, acc.CreatedAt.Location())
	assert.Equal(t, acc.CreatedAt, acc.UpdatedAt)
	assert.Zero(t, acc.CreatedAt.Nanosecond()%1000, "truncated to microseconds")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_ExplicitKey(t *testing.T) {
	db, mock := newMockDB(t)

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO "account" ("id", "email", "password", "created_at", "updated_at") ` +
		`VALUES ($1, $2, $3, $4::TIMESTAMPTZ, $5::TIMESTAMPTZ)`).
		WithArgs(int64(7), "b@example.com", "", "2024-01-02T03:04:05Z", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	acc := &testAccount{ID: 7, Email: "b@example.com", CreatedAt: created}
	require.NoError(t, db.Model(acc).Insert(acc))
	assert.Equal(t, created, acc.CreatedAt, "explicit create time is kept")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_WrongRecord(t *testing.T) {
	db, _ := newMockDB(t)

	err := db.Model(&testAccount{}).Insert(testAccount{})
	assert.ErrorIs(t, err, errs.ErrValidation)

	err = db.Model(&testAccount{}).Insert(&testUser{})
	assert.ErrorIs(t, err, errs.ErrTypeMismatch)
}

func TestInsertMany_Returning(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`INSERT INTO "account" ("email", "password", "created_at", "updated_at") ` +
		`VALUES ($1, $2, $3::TIMESTAMPTZ, $4::TIMESTAMPTZ), ($5, $6, $7::TIMESTAMPTZ, $8::TIMESTAMPTZ) RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7).AddRow(8))

	accounts := []*testAccount{{Email: "a@example.com"}, {Email: "b@example.com"}}
	require.NoError(t, db.Model(&testAccount{}).InsertMany(accounts))
	assert.Equal(t, int64(7), accounts[0].ID)
	assert.Equal(t, int64(8), accounts[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMany_MixedKeys(t *testing.T) {
	db, _ := newMockDB(t)

	err := db.Model(&testAccount{}).InsertMany([]testAccount{{ID: 1}, {}})
	assert.ErrorIs(t, err, errs.ErrValidation)

	assert.NoError(t, db.Model(&testAccount{}).InsertMany([]testAccount{}))
}

func TestUpdates(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE "account" SET "email" = $1, "password" = $2, "updated_at" = $3::TIMESTAMPTZ WHERE "id" = $4`).
		WithArgs("new@example.com", "pw", sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	acc := &testAccount{ID: 3, Email: "new@example.com", Password: "pw"}
	n, err := db.Model(acc).Where("id", acc.ID).Updates(acc)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.False(t, acc.UpdatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePartial(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE "user" SET "age" = $1, "name" = $2 WHERE "id" = $3 AND "deleted_at" IS NULL`).
		WithArgs(int64(5), "bob", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := db.Model(&testUser{}).Where("id", 1).UpdatePartial(map[string]any{"name": "bob", "age": 5})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = db.Model(&testUser{}).UpdatePartial(map[string]any{"nope": 1})
	assert.ErrorIs(t, err, errs.ErrUnknownColumn)

	_, err = db.Model(&testUser{}).UpdatePartial(map[string]any{"id": 2})
	assert.ErrorIs(t, err, errs.ErrValidation)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteVariants(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE "user" SET "deleted_at" = $1::TIMESTAMPTZ WHERE "name" = $2 AND "deleted_at" IS NULL`).
		WithArgs(sqlmock.AnyArg(), "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "user" SET "deleted_at" = $1::TIMESTAMPTZ WHERE "name" = $2`).
		WithArgs(sqlmock.AnyArg(), "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "user" WHERE "id" = $1 AND "deleted_at" IS NULL`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "user" SET "deleted_at" = NULL WHERE "id" = $1`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "account" WHERE "id" = $1`).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := db.Model(&testUser{}).Where("name", "alice").Delete()
	require.NoError(t, err)
	_, err = db.Model(&testUser{}).Where("name", "alice").WithDeleted().Delete()
	require.NoError(t, err)
	_, err = db.Model(&testUser{}).Where("id", 1).HardDelete()
	require.NoError(t, err)
	_, err = db.Model(&testUser{}).Where("id", 2).Restore()
	require.NoError(t, err)
	n, err := db.Model(&testAccount{}).Where("id", 3).Delete()
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionError(t *testing.T) {
	db, mock := newMockDB(t)

	boom := errors.New("connection reset")
	mock.ExpectExec(`DELETE FROM "account" WHERE "id" = $1`).WillReturnError(boom)

	_, err := db.Model(&testAccount{}).Where("id", 1).HardDelete()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrExecution)
	assert.ErrorIs(t, err, boom)

	var execErr *errs.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, `DELETE FROM "account" WHERE "id" = $1`, execErr.SQL)
}

func TestTransaction_Mock(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()

	t.Run("Commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "account" WHERE "id" = $1`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := db.Transactional(ctx, func(tx *Tx) error {
			_, err := tx.Model(&testAccount{}).Where("id", 1).HardDelete()
			return err
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		fail := errors.New("business rule")
		err := db.Transactional(ctx, func(*Tx) error { return fail })
		assert.ErrorIs(t, err, fail)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("BeginError", func(t *testing.T) {
		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		called := false
		err := db.Transactional(ctx, func(*Tx) error { called = true; return nil })
		assert.ErrorIs(t, err, errs.ErrExecution)
		assert.False(t, called)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CommitError", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err := db.Transactional(ctx, func(*Tx) error { return nil })
		assert.ErrorIs(t, err, errs.ErrExecution)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
