package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/persist"
	"github.com/syssam/persist/cache/memory"
	"github.com/syssam/persist/dialect"
	persistsql "github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/hydrate"
	"github.com/syssam/persist/query"
	"github.com/syssam/persist/schema"
	"github.com/syssam/persist/txn"
	"github.com/syssam/persist/uow"
)

type Author struct {
	ID    int64
	Name  string
	Email string  `persist:",unique"`
	Books []*Book `rel:"one-to-many" cascade:"insert,remove" fetch:"eager"`
}

type Book struct {
	ID       int64
	Title    string
	AuthorID int64
	Author   *Author              `rel:"many-to-one" join:"author_id" fetch:"eager"`
	Tags     hydrate.Lazy[[]*Tag] `rel:"many-to-many" join:"book_tags(book_id,tag_id)"`
}

type Tag struct {
	ID   int64
	Name string
}

var ddl = []string{
	`CREATE TABLE authors (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, email TEXT NOT NULL UNIQUE)`,
	`CREATE TABLE books (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT NOT NULL, author_id INTEGER NOT NULL REFERENCES authors(id))`,
	`CREATE TABLE tags (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)`,
	`CREATE TABLE book_tags (book_id INTEGER NOT NULL REFERENCES books(id), tag_id INTEGER NOT NULL REFERENCES tags(id), PRIMARY KEY (book_id, tag_id))`,
}

var errBoom = errors.New("boom")

func newClient(t *testing.T, opts ...Option) (*Client, *persistsql.QueryStats) {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, schema.Initialize(reg, schema.Entity[Author](), schema.Entity[Book](), schema.Entity[Tag]()))
	dsn := "file:" + filepath.Join(t.TempDir(), "persist.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	drv, err := persistsql.Open(dialect.SQLite, dsn)
	require.NoError(t, err)
	for _, stmt := range ddl {
		_, err := drv.DB().Exec(stmt)
		require.NoError(t, err)
	}
	stats := persistsql.NewStatsDriver(drv)
	c, err := NewClient(stats, append([]Option{WithRegistry(reg)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, stats.QueryStats()
}

// seed stores an author with two books and returns it.
func seed(t *testing.T, c *Client) *Author {
	t.Helper()
	a := &Author{Name: "Ann", Email: "ann@example.com"}
	a.Books = []*Book{{Title: "First"}, {Title: "Second"}}
	require.NoError(t, c.Do(context.Background(), txn.Options{}, func(ctx context.Context) error {
		return MustFor[Author](c).Add(ctx, a)
	}))
	require.NotZero(t, a.ID)
	return a
}

func TestNewClientRequiresSealedRegistry(t *testing.T) {
	_, err := NewClient(nil, WithRegistry(schema.NewRegistry()))
	assert.ErrorIs(t, err, persist.ErrRegistryNotSealed)
}

func TestAddCascadesInsert(t *testing.T) {
	c, _ := newClient(t)
	a := seed(t, c)
	for _, b := range a.Books {
		assert.NotZero(t, b.ID)
		assert.Equal(t, a.ID, b.AuthorID)
	}
	n, err := MustFor[Book](c).Query().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestGetInTransaction(t *testing.T) {
	c, stats := newClient(t)
	a := seed(t, c)
	authors, books := MustFor[Author](c), MustFor[Book](c)
	stats.Reset()

	err := c.Do(context.Background(), txn.Options{}, func(ctx context.Context) error {
		got, err := authors.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.TotalQueries.Load(), "one select and one batched relation load")
		assert.Equal(t, uow.Managed, authors.State(ctx, got))
		require.Len(t, got.Books, 2)
		assert.Equal(t, "First", got.Books[0].Title)
		assert.Equal(t, "Second", got.Books[1].Title)
		assert.Same(t, got, got.Books[0].Author, "joined author resolves to the tracked instance")

		again, err := authors.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Same(t, got, again)
		book, err := books.Get(ctx, got.Books[1].ID)
		require.NoError(t, err)
		assert.Same(t, got.Books[1], book)
		assert.Equal(t, int64(2), stats.TotalQueries.Load(), "tracked instances are served from the identity map")
		return nil
	})
	require.NoError(t, err)
}

func TestGetWithoutTransaction(t *testing.T) {
	c, _ := newClient(t)
	a := seed(t, c)
	authors := MustFor[Author](c)
	ctx := context.Background()

	got, err := authors.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Name)
	require.Len(t, got.Books, 2)
	assert.Equal(t, "Ann", got.Books[0].Author.Name)
	assert.Equal(t, uow.Detached, authors.State(ctx, got))

	again, err := authors.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.NotSame(t, got, again)

	_, err = authors.Get(ctx, a.ID+100)
	assert.True(t, persist.IsNotFound(err))
	_, err = authors.Get(ctx, a.ID, 2)
	assert.Error(t, err)
	_, err = authors.Get(ctx, "x")
	assert.Error(t, err)
}

func TestWritesRequireTransaction(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	authors := MustFor[Author](c)
	a := &Author{Name: "Ann", Email: "ann@example.com"}
	assert.ErrorIs(t, authors.Add(ctx, a), persist.ErrNoActiveTransaction)
	assert.ErrorIs(t, authors.Remove(ctx, a), persist.ErrNoActiveTransaction)
	assert.ErrorIs(t, authors.Attach(ctx, a), persist.ErrNoActiveTransaction)
	assert.ErrorIs(t, authors.MarkField(ctx, a, "Name"), persist.ErrNoActiveTransaction)
	assert.ErrorIs(t, c.Flush(ctx), persist.ErrNoActiveTransaction)
}

func TestUpdateAndRemove(t *testing.T) {
	c, _ := newClient(t)
	a := seed(t, c)
	authors, books := MustFor[Author](c), MustFor[Book](c)
	ctx := context.Background()

	require.NoError(t, c.Do(ctx, txn.Options{}, func(ctx context.Context) error {
		got, err := authors.Get(ctx, a.ID)
		if err != nil {
			return err
		}
		got.Name = "Anne"
		return nil
	}))
	got, err := authors.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Anne", got.Name)

	require.NoError(t, c.Do(ctx, txn.Options{}, func(ctx context.Context) error {
		got, err := authors.Get(ctx, a.ID)
		require.NoError(t, err)
		require.NoError(t, authors.Remove(ctx, got))
		assert.Equal(t, uow.Removed, authors.State(ctx, got))
		_, err = authors.Get(ctx, a.ID)
		assert.True(t, persist.IsNotFound(err), "removed entities are not found")
		all, err := authors.Query().All(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
		return nil
	}))
	_, err = authors.Get(ctx, a.ID)
	assert.True(t, persist.IsNotFound(err))
	n, err := books.Query().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "books are removed with their author")
}

func TestQuery(t *testing.T) {
	c, _ := newClient(t)
	seed(t, c)
	authors, books := MustFor[Author](c), MustFor[Book](c)
	ctx := context.Background()
	require.NoError(t, c.Do(ctx, txn.Options{}, func(ctx context.Context) error {
		for _, name := range []string{"Bob", "Cid"} {
			if err := authors.Add(ctx, &Author{Name: name, Email: name + "@example.com"}); err != nil {
				return err
			}
		}
		return nil
	}))

	all, err := authors.Query().
		Where(query.StringField("name").NEQ("Ann")).
		OrderBy(query.Desc(query.C("name"))).
		All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Cid", all[0].Name)
	assert.Equal(t, "Bob", all[1].Name)

	n, err := authors.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	second, err := authors.Query().OrderBy(query.Asc(query.C("id"))).Offset(1).First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bob", second.Name)

	_, err = authors.Query().Where(query.StringField("name").EQ("Zed")).First(ctx)
	assert.True(t, persist.IsNotFound(err))
	ok, err := authors.Query().Where(query.StringField("email").HasSuffix("@example.com")).Exist(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// Filters may reference eagerly joined relations by alias.
	n, err = books.Query().Where(query.EQ(query.C("t1.name"), query.Arg(dialect.Text("Ann")))).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	page, err := books.Query().OrderBy(query.Asc(query.C("id"))).Limit(1).All(ctx)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "First", page[0].Title)
	assert.Equal(t, "Ann", page[0].Author.Name)
}

func TestLazyManyToMany(t *testing.T) {
	c, _ := newClient(t)
	authors, books, tags := MustFor[Author](c), MustFor[Book](c), MustFor[Tag](c)
	ctx := context.Background()

	var bookID int64
	require.NoError(t, c.Do(ctx, txn.Options{}, func(ctx context.Context) error {
		golang, db := &Tag{Name: "go"}, &Tag{Name: "db"}
		require.NoError(t, tags.Add(ctx, golang))
		require.NoError(t, tags.Add(ctx, db))
		a := &Author{Name: "Ann", Email: "ann@example.com"}
		require.NoError(t, authors.Add(ctx, a))
		b := &Book{Title: "Persist", Author: a}
		b.Tags.Set([]*Tag{golang, db})
		require.NoError(t, books.Add(ctx, b))
		require.NoError(t, c.Flush(ctx))
		bookID = b.ID
		assert.Equal(t, a.ID, b.AuthorID)
		return nil
	}))

	require.NoError(t, c.Do(ctx, txn.Options{}, func(ctx context.Context) error {
		b, err := books.Get(ctx, bookID)
		require.NoError(t, err)
		assert.False(t, b.Tags.Loaded())
		ts, err := b.Tags.Load(ctx)
		require.NoError(t, err)
		require.Len(t, ts, 2)
		assert.Equal(t, "go", ts[0].Name)
		assert.Equal(t, "db", ts[1].Name)
		tracked, err := tags.Get(ctx, ts[0].ID)
		require.NoError(t, err)
		assert.Same(t, ts[0], tracked)
		b.Tags.Set(ts[:1])
		return nil
	}))

	b, err := books.Get(ctx, bookID)
	require.NoError(t, err)
	ts, err := b.Tags.Load(ctx)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, "go", ts[0].Name)

	var (
		escaped *Book
		txCtx   context.Context
	)
	require.NoError(t, c.Do(ctx, txn.Options{}, func(ctx context.Context) error {
		escaped, err = books.Get(ctx, bookID)
		txCtx = ctx
		return err
	}))
	_, err = escaped.Tags.Load(txCtx)
	assert.ErrorIs(t, err, persist.ErrDetachedEntity)
}

func TestNestedRollsBackToSavepoint(t *testing.T) {
	c, _ := newClient(t)
	authors := MustFor[Author](c)
	ctx := context.Background()

	require.NoError(t, c.Do(ctx, txn.Options{}, func(ctx context.Context) error {
		require.NoError(t, authors.Add(ctx, &Author{Name: "Outer", Email: "outer@example.com"}))
		inner := &Author{Name: "Inner", Email: "inner@example.com"}
		err := c.Do(ctx, txn.Options{Propagation: txn.Nested}, func(ctx context.Context) error {
			require.NoError(t, authors.Add(ctx, inner))
			require.NoError(t, c.Flush(ctx))
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, uow.Detached, authors.State(ctx, inner))
		return nil
	}))

	all, err := authors.Query().All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Outer", all[0].Name)
}

func TestRequiresNewSurvivesOuterRollback(t *testing.T) {
	c, _ := newClient(t)
	authors := MustFor[Author](c)
	ctx := context.Background()

	err := c.Do(ctx, txn.Options{}, func(ctx context.Context) error {
		err := c.Do(ctx, txn.Options{Propagation: txn.RequiresNew}, func(ctx context.Context) error {
			return authors.Add(ctx, &Author{Name: "Inner", Email: "inner@example.com"})
		})
		require.NoError(t, err)
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	n, err := authors.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUniqueViolationRollsBack(t *testing.T) {
	c, _ := newClient(t)
	seed(t, c)
	authors := MustFor[Author](c)
	ctx := context.Background()

	err := c.Do(ctx, txn.Options{}, func(ctx context.Context) error {
		if err := authors.Add(ctx, &Author{Name: "Bob", Email: "bob@example.com"}); err != nil {
			return err
		}
		return authors.Add(ctx, &Author{Name: "Ann again", Email: "ann@example.com"})
	})
	require.Error(t, err)
	assert.True(t, persist.IsUniqueConstraintError(err))

	n, err := authors.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCache(t *testing.T) {
	mc, err := memory.New(0)
	require.NoError(t, err)
	c, stats := newClient(t, WithCache(mc, time.Minute))
	tags := MustFor[Tag](c)
	ctx := context.Background()

	tag := &Tag{Name: "go"}
	require.NoError(t, c.Do(ctx, txn.Options{}, func(ctx context.Context) error {
		return tags.Add(ctx, tag)
	}))
	key := persist.CacheKey{Table: "tags", Key: dialect.Integer(tag.ID).Key()}.String()
	stats.Reset()

	got, err := tags.Get(ctx, tag.ID)
	require.NoError(t, err)
	assert.Equal(t, "go", got.Name)
	assert.Equal(t, int64(1), stats.TotalQueries.Load())
	cached, err := mc.Get(ctx, key)
	require.NoError(t, err)
	assert.NotNil(t, cached)

	again, err := tags.Get(ctx, tag.ID)
	require.NoError(t, err)
	assert.Equal(t, "go", again.Name)
	assert.NotSame(t, got, again)
	assert.Equal(t, int64(1), stats.TotalQueries.Load(), "served from cache")

	require.NoError(t, c.Do(ctx, txn.Options{ReadOnly: true}, func(ctx context.Context) error {
		_, err := tags.Get(ctx, tag.ID)
		return err
	}))
	assert.Equal(t, int64(1), stats.TotalQueries.Load(), "read-only scopes use the cache")

	require.NoError(t, c.Do(ctx, txn.Options{}, func(ctx context.Context) error {
		got, err := tags.Get(ctx, tag.ID)
		if err != nil {
			return err
		}
		got.Name = "golang"
		return nil
	}))
	assert.Equal(t, int64(2), stats.TotalQueries.Load(), "writable scopes bypass the cache")
	cached, err = mc.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, cached, "commit invalidates written rows")

	got, err = tags.Get(ctx, tag.ID)
	require.NoError(t, err)
	assert.Equal(t, "golang", got.Name)
}

func TestCacheNotUpdatedOnRollback(t *testing.T) {
	mc, err := memory.New(0)
	require.NoError(t, err)
	c, _ := newClient(t, WithCache(mc, 0))
	tags := MustFor[Tag](c)
	ctx := context.Background()

	tag := &Tag{Name: "go"}
	require.NoError(t, c.Do(ctx, txn.Options{}, func(ctx context.Context) error {
		return tags.Add(ctx, tag)
	}))
	_, err = tags.Get(ctx, tag.ID)
	require.NoError(t, err)

	err = c.Do(ctx, txn.Options{}, func(ctx context.Context) error {
		got, err := tags.Get(ctx, tag.ID)
		if err != nil {
			return err
		}
		got.Name = "changed"
		if err := c.Flush(ctx); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	got, err := tags.Get(ctx, tag.ID)
	require.NoError(t, err)
	assert.Equal(t, "go", got.Name)
}

func TestInvalidateDependents(t *testing.T) {
	mc, err := memory.New(0)
	require.NoError(t, err)
	c, _ := newClient(t, WithCache(mc, 0))
	ctx := context.Background()
	authorDesc, err := schema.LookupOf[Author](c.Registry())
	require.NoError(t, err)
	bookDesc, err := schema.LookupOf[Book](c.Registry())
	require.NoError(t, err)
	assert.Equal(t, []*schema.EntityDescriptor{bookDesc}, c.dependents[authorDesc.Tag])
	assert.Empty(t, c.dependents[bookDesc.Tag])

	for _, k := range []string{"persist:authors:i:1", "persist:authors:i:2", "persist:books:i:1", "persist:books:i:2", "persist:tags:i:1"} {
		require.NoError(t, mc.Set(ctx, k, []byte(k), 0))
	}
	c.invalidate(ctx, []uow.IdentityKey{{Tag: authorDesc.Tag, Key: "i:1"}})
	for k, kept := range map[string]bool{
		"persist:authors:i:1": false,
		"persist:authors:i:2": true,
		"persist:books:i:1":   false,
		"persist:books:i:2":   false,
		"persist:tags:i:1":    true,
	} {
		v, err := mc.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, kept, v != nil, k)
	}
}

func TestRowEncoding(t *testing.T) {
	row := dialect.Row{
		"null":  dialect.Null,
		"text":  dialect.Text("x"),
		"int":   dialect.Integer(-7),
		"float": dialect.Float(1.5),
		"true":  dialect.Boolean(true),
		"false": dialect.Boolean(false),
		"bytes": dialect.Bytes([]byte{1, 2}),
		"json":  dialect.JSON([]byte(`{"a":1}`)),
		"time":  dialect.DateTime(time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)),
		"dec":   dialect.Decimal(decimal.RequireFromString("12.34")),
		"uuid":  dialect.Identifier(uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")),
	}
	b, err := encodeRow(row)
	require.NoError(t, err)
	got, err := decodeRow(b)
	require.NoError(t, err)
	require.Len(t, got, len(row))
	for k, v := range row {
		assert.True(t, v.Equal(got[k]), "%s: %v != %v", k, v, got[k])
	}

	_, err = decodeRow([]byte{0xc1})
	assert.Error(t, err)
}

func TestSelectFor(t *testing.T) {
	c, _ := newClient(t)
	bookDesc, err := schema.LookupOf[Book](c.Registry())
	require.NoError(t, err)
	text, _, err := query.Render(c.selectFor(bookDesc), c.Driver().Dialect())
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "t0"."id", "t0"."title", "t0"."author_id", "t1"."id" AS "Author__id", "t1"."name" AS "Author__name", "t1"."email" AS "Author__email" `+
			`FROM "books" AS "t0" LEFT JOIN "authors" AS "t1" ON "t1"."id" = "t0"."author_id"`,
		text)

	authorDesc, err := schema.LookupOf[Author](c.Registry())
	require.NoError(t, err)
	text, _, err = query.Render(c.selectFor(authorDesc), c.Driver().Dialect())
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t0"."id", "t0"."name", "t0"."email" FROM "authors" AS "t0"`, text)
}

func TestBatchHelpers(t *testing.T) {
	keys := make([]int, 1201)
	for i := range keys {
		keys[i] = i
	}
	var sizes []int
	for b := range batches(keys) {
		sizes = append(sizes, len(b))
	}
	assert.Equal(t, []int{500, 500, 201}, sizes)

	groups := groupByKey([]string{"a1", "b1", "a2", "-"}, func(s string) (byte, bool) {
		return s[0], s != "-"
	})
	assert.Equal(t, [][]string{{"a1", "a2"}, nil, {"b1"}}, orderGroupsByKeys([]byte{'a', 'c', 'b'}, groups))
}

type Shelf struct {
	ID    int64
	Label string
	Slots hydrate.Lazy[[]*Slot] `rel:"one-to-many" cascade:"insert,remove"`
}

type Slot struct {
	ID      int64
	Name    string
	ShelfID int64
	Shelf   hydrate.Lazy[*Shelf] `rel:"many-to-one" join:"shelf_id"`
	Pins    hydrate.Lazy[[]*Pin] `rel:"one-to-many" cascade:"remove"`
}

type Pin struct {
	ID     int64
	SlotID int64
	Slot   hydrate.Lazy[*Slot] `rel:"many-to-one" join:"slot_id"`
}

func TestRemoveCascadesUnloadedLazyRelations(t *testing.T) {
	reg := schema.NewRegistry()
	require.NoError(t, schema.Initialize(reg, schema.Entity[Shelf](), schema.Entity[Slot](), schema.Entity[Pin]()))
	dsn := "file:" + filepath.Join(t.TempDir(), "shelves.db") + "?_pragma=foreign_keys(1)"
	drv, err := persistsql.Open(dialect.SQLite, dsn)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE shelves (id INTEGER PRIMARY KEY AUTOINCREMENT, label TEXT NOT NULL)`,
		`CREATE TABLE slots (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, shelf_id INTEGER NOT NULL REFERENCES shelves(id))`,
		`CREATE TABLE pins (id INTEGER PRIMARY KEY AUTOINCREMENT, slot_id INTEGER NOT NULL REFERENCES slots(id))`,
	} {
		_, err := drv.DB().Exec(stmt)
		require.NoError(t, err)
	}
	c, err := NewClient(drv, WithRegistry(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	shelves, slots, pins := MustFor[Shelf](c), MustFor[Slot](c), MustFor[Pin](c)
	ctx := context.Background()

	var shelfID int64
	require.NoError(t, c.Do(ctx, txn.Options{}, func(ctx context.Context) error {
		s := &Shelf{Label: "top"}
		s.Slots.Set([]*Slot{{Name: "a"}, {Name: "b"}})
		require.NoError(t, shelves.Add(ctx, s))
		require.NoError(t, c.Flush(ctx))
		shelfID = s.ID
		ss, _ := s.Slots.Get()
		p := &Pin{}
		p.Slot.Set(ss[0])
		return pins.Add(ctx, p)
	}))

	require.NoError(t, c.Do(ctx, txn.Options{}, func(ctx context.Context) error {
		s, err := shelves.Get(ctx, shelfID)
		require.NoError(t, err)
		assert.False(t, s.Slots.Loaded())
		return shelves.Remove(ctx, s)
	}))

	for name, count := range map[string]func(context.Context) (int64, error){
		"shelves": shelves.Query().Count,
		"slots":   slots.Query().Count,
		"pins":    pins.Query().Count,
	} {
		n, err := count(ctx)
		require.NoError(t, err, name)
		assert.Zero(t, n, name)
	}
}

func TestRemoveWithUnboundLazyRelation(t *testing.T) {
	reg := schema.NewRegistry()
	require.NoError(t, schema.Initialize(reg, schema.Entity[Shelf](), schema.Entity[Slot](), schema.Entity[Pin]()))
	drv, err := persistsql.Open(dialect.SQLite, "file:"+filepath.Join(t.TempDir(), "unbound.db"))
	require.NoError(t, err)
	_, err = drv.DB().Exec(`CREATE TABLE shelves (id INTEGER PRIMARY KEY AUTOINCREMENT, label TEXT NOT NULL)`)
	require.NoError(t, err)
	c, err := NewClient(drv, WithRegistry(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	err = c.Do(context.Background(), txn.Options{}, func(ctx context.Context) error {
		s := &Shelf{ID: 1, Label: "detached"}
		require.NoError(t, MustFor[Shelf](c).Attach(ctx, s))
		return MustFor[Shelf](c).Remove(ctx, s)
	})
	assert.ErrorIs(t, err, persist.ErrDetachedEntity, "an unresolvable cascade is not skipped")
}
