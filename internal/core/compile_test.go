package core

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/ormica/internal/errs"
	"github.com/coregx/ormica/internal/schema"
)

func TestToSQL_Dialects(t *testing.T) {
	tests := []struct {
		dialect string
		want    string
	}{
		{
			dialect: "postgres",
			want: `SELECT "id", "account_id", "name", "age", "score", "active", to_json("deleted_at") #>> '{}' AS "deleted_at" ` +
				`FROM "user" WHERE "name" = $1 AND "age" > $2 AND "deleted_at" IS NULL ORDER BY "user"."age" DESC LIMIT $3 OFFSET $4`,
		},
		{
			dialect: "sqlite",
			want: `SELECT "id", "account_id", "name", "age", "score", "active", "deleted_at" ` +
				`FROM "user" WHERE "name" = ? AND "age" > ? AND "deleted_at" IS NULL ORDER BY "user"."age" DESC LIMIT ? OFFSET ?`,
		},
		{
			dialect: "mysql",
			want: "SELECT `id`, `account_id`, `name`, `age`, `score`, `active`, `deleted_at` " +
				"FROM `user` WHERE `name` = ? AND `age` > ? AND `deleted_at` IS NULL ORDER BY `user`.`age` DESC LIMIT ? OFFSET ?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			db := newCompileDB(t, tt.dialect)
			sql, args, err := db.Model(&testUser{}).
				Where("name", "alice").
				Filter("age", Gt, 30).
				Order("age DESC").
				Limit(10).
				Offset(20).
				ToSQL()
			require.NoError(t, err)
			assert.Equal(t, tt.want, sql)
			assert.Equal(t, []any{"alice", int64(30), int64(10), int64(20)}, args)
		})
	}
}

func TestToSQL_OrderBindsToColumn(t *testing.T) {
	db := newCompileDB(t, "postgres")

	sql, _, err := db.Model(&testDevice{}).Order("born DESC, id").ToSQL()
	require.NoError(t, err)
	assert.Contains(t, sql, `to_json("born") #>> '{}' AS "born"`)
	assert.Contains(t, sql, `"id"::text AS "id"`)
	assert.True(t, strings.HasSuffix(sql, `ORDER BY "device"."born" DESC, "device"."id" ASC`), sql)

	sql, _, err = db.Model(&testUser{}).WithDeleted().Order("deleted_at").ToSQL()
	require.NoError(t, err)
	assert.Contains(t, sql, `ORDER BY "user"."deleted_at" ASC`)
	assert.NotContains(t, sql, `ORDER BY "deleted_at"`)
}

func TestCompileProjection(t *testing.T) {
	db := newCompileDB(t, "postgres")

	type seen struct {
		Name      string     `db:"name"`
		DeletedAt *time.Time `db:"deleted_at"`
	}
	q := db.Model(&testUser{}).WithDeleted().Order("deleted_at DESC")
	plan, err := q.plan([]reflect.Type{reflect.TypeOf(seen{})})
	require.NoError(t, err)
	require.NotNil(t, plan.dto)
	st := q.compileProjection(plan.projs, q.order)
	assert.Equal(t,
		`SELECT "name", to_json("deleted_at") #>> '{}' AS "deleted_at" FROM "user" ORDER BY "user"."deleted_at" DESC`,
		st.sql)

	plan, err = q.plan([]reflect.Type{reflect.TypeOf(testUser{})})
	require.NoError(t, err)
	assert.Nil(t, plan.dto, "registered models keep their own projection")

	_, err = q.plan([]reflect.Type{reflect.TypeOf(seen{}), reflect.TypeOf(testAccount{})})
	assert.ErrorIs(t, err, errs.ErrUnknownModel, "projections cannot be tuple elements")
}

func TestToSQL_Filters(t *testing.T) {
	db := newCompileDB(t, "postgres")

	t.Run("In", func(t *testing.T) {
		sql, args, err := db.Model(&testUser{}).Filter("id", In, []int64{1, 2}).ToSQL()
		require.NoError(t, err)
		assert.Contains(t, sql, `WHERE "id" IN ($1, $2) AND "deleted_at" IS NULL`)
		assert.Equal(t, []any{int64(1), int64(2)}, args)
	})

	t.Run("EmptyIn", func(t *testing.T) {
		sql, args, err := db.Model(&testUser{}).Filter("id", In, []int64{}).ToSQL()
		require.NoError(t, err)
		assert.Contains(t, sql, `WHERE 1 = 0 AND "deleted_at" IS NULL`)
		assert.Empty(t, args)
	})

	t.Run("EmptyNotIn", func(t *testing.T) {
		sql, _, err := db.Model(&testUser{}).Filter("id", NotIn, []int64{}).ToSQL()
		require.NoError(t, err)
		assert.Contains(t, sql, `WHERE 1 = 1`)
	})

	t.Run("NullComparisons", func(t *testing.T) {
		sql, args, err := db.Model(&testUser{}).
			Where("account_id", nil).
			Filter("bio", Ne, nil).
			ToSQL()
		require.NoError(t, err)
		assert.Contains(t, sql, `WHERE "account_id" IS NULL AND "bio" IS NOT NULL`)
		assert.Empty(t, args)
	})

	t.Run("Like", func(t *testing.T) {
		sql, args, err := db.Model(&testUser{}).Filter("name", Like, "al%").ToSQL()
		require.NoError(t, err)
		assert.Contains(t, sql, `"name" LIKE $1`)
		assert.Equal(t, []any{"al%"}, args)
	})

	t.Run("WithDeleted", func(t *testing.T) {
		sql, _, err := db.Model(&testUser{}).WithDeleted().ToSQL()
		require.NoError(t, err)
		assert.NotContains(t, sql, "WHERE")
	})

	t.Run("OffsetOnly", func(t *testing.T) {
		sql, args, err := db.Model(&testUser{}).Offset(5).ToSQL()
		require.NoError(t, err)
		assert.Contains(t, sql, `LIMIT ALL OFFSET $1`)
		assert.Equal(t, []any{int64(5)}, args)
	})

	t.Run("TypedCasts", func(t *testing.T) {
		id := uuid.MustParse("0190b2d4-6b2a-7c3e-9a57-1f2e3d4c5b6a")
		born := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		sql, args, err := db.Model(&testDevice{}).
			Where("id", id).
			Filter("born", Gte, born).
			ToSQL()
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT "id"::text AS "id", "label", "meta"::text AS "meta", to_json("born") #>> '{}' AS "born" `+
				`FROM "device" WHERE "id" = $1::UUID AND "born" >= $2::DATE`,
			sql)
		assert.Equal(t, []any{id.String(), "2024-05-01"}, args)
	})
}

func TestToSQL_NoLimit(t *testing.T) {
	tests := map[string]string{
		"postgres": "LIMIT ALL",
		"sqlite":   "LIMIT -1",
		"mysql":    "LIMIT 18446744073709551615",
	}
	for dialect, want := range tests {
		t.Run(dialect, func(t *testing.T) {
			sql, _, err := newCompileDB(t, dialect).Model(&testUser{}).Offset(1).ToSQL()
			require.NoError(t, err)
			assert.Contains(t, sql, want)
		})
	}
}

func TestModelQuery_Validation(t *testing.T) {
	db := newCompileDB(t, "mysql")

	tests := []struct {
		name string
		q    *ModelQuery
		kind error
	}{
		{"UnknownColumn", db.Model(&testUser{}).Where("nope", 1), errs.ErrUnknownColumn},
		{"UnknownQualified", db.Model(&testUser{}).Where("account.email", "x"), errs.ErrUnknownColumn},
		{"TypeMismatch", db.Model(&testUser{}).Where("age", "old"), errs.ErrTypeMismatch},
		{"NullOrdering", db.Model(&testUser{}).Filter("age", Gt, nil), errs.ErrValidation},
		{"InNeedsSlice", db.Model(&testUser{}).Filter("id", In, 3), errs.ErrValidation},
		{"UnknownOperator", db.Model(&testUser{}).Filter("id", Operator("~"), 3), errs.ErrValidation},
		{"BadOrder", db.Model(&testUser{}).Order("age sideways"), errs.ErrValidation},
		{"NegativeLimit", db.Model(&testUser{}).Limit(-1), errs.ErrValidation},
		{"FullJoinOnMySQL", db.Model(&testUser{}).FullJoin(&testAccount{}, "user.account_id", "account.id"), errs.ErrValidation},
		{"DuplicateJoin", db.Model(&testUser{}).InnerJoin("user", "user.id", "user.id"), errs.ErrValidation},
		{"HavingLike", db.Model(&testUser{}).GroupBy("active").Having("COUNT(*)", Like, 1), errs.ErrValidation},
		{"UnknownTable", db.Table("nope"), errs.ErrUnknownModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.q.ToSQL()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestModelQuery_FirstErrorWins(t *testing.T) {
	db := newCompileDB(t, "sqlite")
	q := db.Model(&testUser{}).Where("nope", 1).Where("also_nope", 2)
	require.Error(t, q.Err())
	assert.Contains(t, q.Err().Error(), "nope")
	assert.NotContains(t, q.Err().Error(), "also_nope")
}

func TestCompileSelect_Tuple(t *testing.T) {
	db := newCompileDB(t, "sqlite")
	q := db.Model(&testUser{}).
		InnerJoin(&testAccount{}, "user.account_id", "account.id").
		Where("account.email", "a@example.com")
	require.NoError(t, q.Err())

	user, _ := db.registry.Table("user")
	account, _ := db.registry.Table("account")
	st := q.compileSelect([]*schema.Table{user, account}, nil)

	assert.Contains(t, st.sql, `"user"."id" AS "user__id"`)
	assert.Contains(t, st.sql, `"account"."email" AS "account__email"`)
	assert.Contains(t, st.sql, `FROM "user" INNER JOIN "account" ON "user"."account_id" = "account"."id"`)
	assert.Contains(t, st.sql, `WHERE "account"."email" = ? AND "user"."deleted_at" IS NULL`)
	assert.Equal(t, []string{"email"}, st.columns)
}

func TestCompileAggregate(t *testing.T) {
	db := newCompileDB(t, "postgres")

	t.Run("GroupedCount", func(t *testing.T) {
		st := db.Model(&testUser{}).GroupBy("active").compileAggregate("COUNT", nil)
		assert.Equal(t,
			`SELECT COUNT(*) FROM (SELECT "active" FROM "user" WHERE "deleted_at" IS NULL GROUP BY "active") AS "sub"`,
			st.sql)
	})

	t.Run("SumWithHaving", func(t *testing.T) {
		q := db.Model(&testUser{}).GroupBy("active").Having("COUNT(*)", Gt, 2).Order("active")
		age, _ := q.table.Column("age")
		st := q.compileAggregate("SUM", age)
		assert.Equal(t,
			`SELECT SUM("age") AS "sum" FROM "user" WHERE "deleted_at" IS NULL GROUP BY "active" HAVING COUNT(*) > $1 ORDER BY "user"."active" ASC`,
			st.sql)
		assert.Equal(t, []any{int64(2)}, st.args)
	})

	t.Run("MaxWrapsTemporal", func(t *testing.T) {
		q := db.Model(&testUser{}).WithDeleted()
		col, _ := q.table.Column("deleted_at")
		st := q.compileAggregate("MAX", col)
		assert.Equal(t, `SELECT to_json(MAX("deleted_at")) #>> '{}' AS "max" FROM "user"`, st.sql)
	})
}

func TestCheckWritable(t *testing.T) {
	db := newCompileDB(t, "sqlite")

	_, err := db.Model(&testUser{}).Limit(1).Update("name", "x")
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = db.Model(&testUser{}).InnerJoin(&testAccount{}, "user.account_id", "account.id").HardDelete()
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = db.Model(&testUser{}).GroupBy("active").Delete()
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = db.Model(&testAccount{}).Restore()
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = db.Model(&testUser{}).Update("id", 5)
	assert.ErrorIs(t, err, errs.ErrValidation)
}
