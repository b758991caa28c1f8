package ormica_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/ormica"
)

type author struct {
	ID        int64     `db:"id,pk,auto"`
	Name      string    `db:"name,unique,size=80"`
	Email     string    `db:"email"`
	Password  string    `db:"password"`
	CreatedAt time.Time `db:"created_at,create_time"`
}

type post struct {
	ID        int64      `db:"id,pk,auto"`
	AuthorID  int64      `db:"author_id,fk=author.id,index"`
	Title     string     `db:"title"`
	Views     int32      `db:"views"`
	UpdatedAt time.Time  `db:"updated_at,update_time"`
	DeletedAt *time.Time `db:"deleted_at,soft_delete"`
}

func openBlog(t *testing.T, opts ...ormica.Option) *ormica.DB {
	t.Helper()
	db, err := ormica.Connect("sqlite::memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Register(&author{}, &post{}))
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestDB_Wrapper(t *testing.T) {
	t.Run("Connect", func(t *testing.T) {
		db, err := ormica.Connect("sqlite::memory:")
		require.NoError(t, err)
		defer db.Close()
		assert.Equal(t, "sqlite", db.DriverName())
		assert.Equal(t, "sqlite", db.Dialect().Name())
	})

	t.Run("Open", func(t *testing.T) {
		db, err := ormica.Open("sqlite", ":memory:", ormica.WithMaxOpenConns(1))
		require.NoError(t, err)
		defer db.Close()
		assert.NoError(t, db.DB().Ping())
	})

	t.Run("WrapDB", func(t *testing.T) {
		sqlDB, err := sql.Open("sqlite", ":memory:")
		require.NoError(t, err)
		defer sqlDB.Close()

		db, err := ormica.WrapDB(sqlDB, "sqlite")
		require.NoError(t, err)
		assert.Same(t, sqlDB, db.DB())
	})

	t.Run("UnsupportedScheme", func(t *testing.T) {
		_, err := ormica.Connect("oracle://scott@localhost/orcl")
		assert.True(t, ormica.IsConfiguration(err))
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		_, err := ormica.Open("mssql", "sqlserver://localhost")
		assert.ErrorIs(t, err, ormica.ErrConfiguration)
	})
}

func TestModelRoundTrip(t *testing.T) {
	db := openBlog(t)

	a := &author{Name: "ada", Email: "ada@example.com", Password: "s3cret"}
	require.NoError(t, db.Model(a).Insert(a))
	require.Equal(t, int64(1), a.ID)
	assert.False(t, a.CreatedAt.IsZero())

	posts := []*post{
		{AuthorID: a.ID, Title: "engines", Views: 10},
		{AuthorID: a.ID, Title: "notes", Views: 3},
		{AuthorID: a.ID, Title: "letters", Views: 7},
	}
	require.NoError(t, db.Model(&post{}).InsertMany(posts))

	var popular []post
	err := db.Model(&post{}).Filter("views", ormica.Gte, 5).Order("views DESC").Scan(&popular)
	require.NoError(t, err)
	require.Len(t, popular, 2)
	assert.Equal(t, "engines", popular[0].Title)
	assert.Equal(t, "letters", popular[1].Title)

	n, err := db.Model(&post{}).Where("title", "notes").Delete()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := db.Model(&post{}).Count()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = db.Model(&post{}).WithDeleted().Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	var missing author
	err = db.Model(&author{}).Where("name", "grace").First(&missing)
	assert.True(t, ormica.IsNotFound(err))

	var nf *ormica.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestPaginate(t *testing.T) {
	db := openBlog(t)

	a := &author{Name: "ada"}
	require.NoError(t, db.Model(a).Insert(a))
	for i := 0; i < 7; i++ {
		p := &post{AuthorID: a.ID, Title: "p", Views: int32(i)}
		require.NoError(t, db.Model(p).Insert(p))
	}

	page, err := ormica.Paginate[post](db.Model(&post{}).Order("id"), 3, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(7), page.Total)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Data, 1)
	assert.Equal(t, int32(6), page.Data[0].Views)

	_, err = ormica.Paginate[post](db.Model(&post{}), 0, 3)
	assert.True(t, ormica.IsValidation(err))
}

func TestProjectionAndScalar(t *testing.T) {
	db := openBlog(t)

	a := &author{Name: "ada"}
	require.NoError(t, db.Model(a).Insert(a))
	for _, title := range []string{"engines", "notes", "looms"} {
		p := &post{AuthorID: a.ID, Title: title}
		require.NoError(t, db.Model(p).Insert(p))
	}

	type byline struct {
		Title  string `db:"title"`
		Author string `db:"author.name"`
	}
	size, err := ormica.ClampPageSize(50, 2, 1000)
	require.NoError(t, err)
	page, err := ormica.Paginate[byline](
		db.Model(&post{}).InnerJoin(&author{}, "post.author_id", "author.id").Order("post.id"), 1, size)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, []byline{{"engines", "ada"}, {"notes", "ada"}}, page.Data)

	var title string
	require.NoError(t, db.Model(&post{}).Select("title").Order("id DESC").Scalar(&title))
	assert.Equal(t, "looms", title)
}

func TestJoinTuple(t *testing.T) {
	db := openBlog(t)

	a := &author{Name: "ada"}
	require.NoError(t, db.Model(a).Insert(a))
	p := &post{AuthorID: a.ID, Title: "engines"}
	require.NoError(t, db.Model(p).Insert(p))

	var (
		gotPost   post
		gotAuthor author
	)
	err := db.Model(&post{}).
		Join(ormica.JoinInner, &author{}, "post.author_id", "author.id").
		First(&gotPost, &gotAuthor)
	require.NoError(t, err)
	assert.Equal(t, "engines", gotPost.Title)
	assert.Equal(t, "ada", gotAuthor.Name)
}

func TestRawAndTransactional(t *testing.T) {
	db := openBlog(t)

	err := db.Transactional(context.Background(), func(tx *ormica.Tx) error {
		a := &author{Name: "ada"}
		if err := tx.Model(a).Insert(a); err != nil {
			return err
		}
		_, err := tx.Raw("UPDATE {{author}} SET [[email]] = {:email} WHERE [[id]] = {:id}").
			Bind(ormica.Params{"email": "ada@example.com", "id": a.ID}).
			Execute()
		return err
	})
	require.NoError(t, err)

	var email string
	require.NoError(t, db.Raw("SELECT email FROM {{author}} WHERE [[name]] = ?", "ada").Scalar(&email))
	assert.Equal(t, "ada@example.com", email)

	rows, err := db.Raw("SELECT name, email FROM {{author}}").Maps()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ada", rows[0].String("name"))
}

func TestQueryHookMasksPasswords(t *testing.T) {
	var events []ormica.QueryEvent
	db := openBlog(t, ormica.WithQueryHook(func(_ context.Context, e ormica.QueryEvent) {
		events = append(events, e)
	}))
	events = nil

	a := &author{Name: "ada", Password: "s3cret"}
	require.NoError(t, db.Model(a).Insert(a))

	require.Len(t, events, 1)
	assert.NotContains(t, events[0].Args, "s3cret")
	assert.Contains(t, events[0].Args, "ada")
}

func TestOpenConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	cfg, err := ormica.ParseConfig([]byte(`
url: "sqlite::memory:"
stmt_cache_capacity: 4
sensitive_fields: [email]
`))
	require.NoError(t, err)

	var last ormica.QueryEvent
	db, err := ormica.OpenConfig(cfg, ormica.WithQueryHook(func(_ context.Context, e ormica.QueryEvent) {
		last = e
	}))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Register(&author{}, &post{}))
	require.NoError(t, db.Migrate(context.Background()))

	a := &author{Name: "ada", Email: "ada@example.com", Password: "visible"}
	require.NoError(t, db.Model(a).Insert(a))
	assert.NotContains(t, last.Args, "ada@example.com")
	assert.Contains(t, last.Args, "visible")
	assert.Equal(t, 4, db.CacheStats().Capacity)

	_, err = ormica.OpenConfig(&ormica.Config{})
	assert.ErrorIs(t, err, ormica.ErrConfiguration)
}
