package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/coregx/ormica/internal/dialects"
)

type testAccount struct {
	ID        int64     `db:"id,pk,auto"`
	Email     string    `db:"email,unique,size=120"`
	Password  string    `db:"password"`
	CreatedAt time.Time `db:"created_at,create_time"`
	UpdatedAt time.Time `db:"updated_at,update_time"`
}

func (testAccount) TableName() string { return "account" }

type testUser struct {
	ID        int64      `db:"id,pk,auto"`
	AccountID *int64     `db:"account_id,fk=account.id"`
	Name      string     `db:"name,index"`
	Age       int32      `db:"age"`
	Score     float64    `db:"score"`
	Active    bool       `db:"active"`
	Bio       *string    `db:"bio,omit"`
	DeletedAt *time.Time `db:"deleted_at,soft_delete"`
}

func (testUser) TableName() string { return "user" }

type testDevice struct {
	ID    uuid.UUID       `db:"id,pk"`
	Label string          `db:"label"`
	Meta  json.RawMessage `db:"meta"`
	Born  time.Time       `db:"born,type=date"`
}

func (testDevice) TableName() string { return "device" }

// newTestDB opens an in-memory SQLite database with the fixture tables.
func newTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()

	db, err := Connect("sqlite::memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Register(&testAccount{}, &testUser{}, &testDevice{}))
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

// newCompileDB returns a handle with the fixture schema and no connection,
// for tests that only render SQL.
func newCompileDB(t *testing.T, dialect string) *DB {
	t.Helper()

	d, err := dialects.Lookup(dialect)
	require.NoError(t, err)
	db := newDB(nil, dialect, d, []Option{WithoutStmtCache()})
	require.NoError(t, db.Register(&testAccount{}, &testUser{}, &testDevice{}))
	return db
}

// seedUsers inserts n users named user01..userNN with ages 1..n.
func seedUsers(t *testing.T, db *DB, n int) []testUser {
	t.Helper()

	users := make([]testUser, n)
	for i := range users {
		users[i] = testUser{Name: userName(i + 1), Age: int32(i + 1), Score: float64(i+1) / 2, Active: i%2 == 0}
		require.NoError(t, db.Model(&testUser{}).Insert(&users[i]))
	}
	return users
}

func userName(i int) string {
	const digits = "0123456789"
	return "user" + string(digits[i/10%10]) + string(digits[i%10])
}
