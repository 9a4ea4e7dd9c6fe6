package hydrate

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/schema"
)

type Author struct {
	ID     int64
	Name   string
	Active bool
	Score  decimal.Decimal
	Ref    uuid.UUID
	Born   *time.Time
	Meta   map[string]string `persist:"meta,json"`
}

type Book struct {
	ID       int64
	Title    string
	AuthorID int64
	Author   *Author              `rel:"many-to-one" join:"author_id" fetch:"eager"`
	Reviews  Lazy[[]*Review]      `rel:"one-to-many" join:"book_id"`
	Editor   Lazy[*Author]        `rel:"many-to-one" join:"editor_id"`
	EditorID *int64
}

type Review struct {
	ID     int64
	BookID int64
	Body   string
}

func registry(t *testing.T) (author, book, review *schema.EntityDescriptor) {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, schema.Initialize(reg,
		schema.Entity[Author](),
		schema.Entity[Book](),
		schema.Entity[Review](),
	))
	var err error
	author, err = schema.LookupOf[Author](reg)
	require.NoError(t, err)
	book, err = schema.LookupOf[Book](reg)
	require.NoError(t, err)
	review, err = schema.LookupOf[Review](reg)
	require.NoError(t, err)
	return author, book, review
}

// scope is an identity map keyed by canonical key.
type scope struct {
	entities map[string]any
	closed   bool
	loads    int
}

func newScope() *scope { return &scope{entities: map[string]any{}} }

func (s *scope) Resolve(desc *schema.EntityDescriptor, key string, load func() (any, error)) (any, error) {
	k := desc.Name + "/" + key
	if e, ok := s.entities[k]; ok {
		return e, nil
	}
	e, err := load()
	if err != nil {
		return nil, err
	}
	s.loads++
	s.entities[k] = e
	return e, nil
}

func (s *scope) Closed() bool { return s.closed }

type scopeKey struct{}

type loader struct {
	calls int
	fetch func(rel *schema.RelationDescriptor) (any, error)
}

func (l *loader) Scope(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(*scope)
	if s == nil {
		return nil
	}
	return s
}

func (l *loader) LoadRelation(_ context.Context, _ *schema.EntityDescriptor, rel *schema.RelationDescriptor, _ reflect.Value) (any, error) {
	l.calls++
	return l.fetch(rel)
}

func TestHydrateCoercion(t *testing.T) {
	author, _, _ := registry(t)
	ref := uuid.New()
	row := dialect.Row{
		"id":     dialect.Integer(7),
		"name":   dialect.Bytes([]byte("ann")),
		"active": dialect.Integer(1),
		"score":  dialect.Text("12.50"),
		"ref":    dialect.Text(ref.String()),
		"born":   dialect.Text("2024-01-02 03:04:05"),
		"meta":   dialect.Text(`{"lang":"en"}`),
	}
	v, err := Hydrate(context.Background(), author, row)
	require.NoError(t, err)
	a := v.(*Author)
	assert.Equal(t, int64(7), a.ID)
	assert.Equal(t, "ann", a.Name)
	assert.True(t, a.Active)
	assert.True(t, decimal.RequireFromString("12.5").Equal(a.Score))
	assert.Equal(t, ref, a.Ref)
	require.NotNil(t, a.Born)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), *a.Born)
	assert.Equal(t, map[string]string{"lang": "en"}, a.Meta)
}

func TestHydrateNullable(t *testing.T) {
	author, _, _ := registry(t)
	row := dialect.Row{
		"id":     dialect.Integer(1),
		"name":   dialect.Text("bo"),
		"active": dialect.Boolean(false),
		"score":  dialect.Decimal(decimal.Zero),
		"ref":    dialect.Identifier(uuid.Nil),
		"born":   dialect.Null,
	}
	v, err := Hydrate(context.Background(), author, row)
	require.NoError(t, err)
	a := v.(*Author)
	assert.Nil(t, a.Born)
	assert.Nil(t, a.Meta)
}

func TestHydrateErrors(t *testing.T) {
	author, _, _ := registry(t)
	base := func() dialect.Row {
		return dialect.Row{
			"id":     dialect.Integer(1),
			"name":   dialect.Text("x"),
			"active": dialect.Boolean(true),
			"score":  dialect.Text("1"),
			"ref":    dialect.Identifier(uuid.New()),
		}
	}
	tests := []struct {
		name   string
		column string
		value  dialect.Value
	}{
		{"null in required column", "name", dialect.Null},
		{"missing required column", "id", dialect.Value{}},
		{"bad boolean", "active", dialect.Text("maybe")},
		{"bad decimal", "score", dialect.Text("twelve")},
		{"bad uuid", "ref", dialect.Text("not-a-uuid")},
		{"bad json", "meta", dialect.Text("{")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := base()
			row[tt.column] = tt.value
			_, err := Hydrate(context.Background(), author, row)
			var de *persist.DeserializationError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, "Author", de.Entity)
			assert.Equal(t, tt.column, de.Column)
		})
	}
}

func bookRow(id int64, authorID any) dialect.Row {
	row := dialect.Row{
		"id":        dialect.Integer(id),
		"title":     dialect.Text("t"),
		"author_id": dialect.Integer(1),
		"editor_id": dialect.Null,
	}
	if authorID == nil {
		row["Author__id"] = dialect.Null
		row["Author__name"] = dialect.Null
		return row
	}
	row["Author__id"] = dialect.MustFromAny(authorID)
	row["Author__name"] = dialect.Text("ann")
	row["Author__active"] = dialect.Integer(0)
	row["Author__score"] = dialect.Text("0")
	row["Author__ref"] = dialect.Identifier(uuid.Nil)
	return row
}

func TestHydrateEagerSegment(t *testing.T) {
	_, book, _ := registry(t)

	v, err := Hydrate(context.Background(), book, bookRow(10, int64(1)))
	require.NoError(t, err)
	b := v.(*Book)
	require.NotNil(t, b.Author)
	assert.Equal(t, int64(1), b.Author.ID)
	assert.Equal(t, "ann", b.Author.Name)

	v, err = Hydrate(context.Background(), book, bookRow(11, nil))
	require.NoError(t, err)
	assert.Nil(t, v.(*Book).Author, "outer join miss")
}

func TestHydrateIdentityMap(t *testing.T) {
	_, book, _ := registry(t)
	s := newScope()
	ctx := context.WithValue(context.Background(), scopeKey{}, s)
	h := New(WithLoader(&loader{}))

	b1, err := h.Hydrate(ctx, book, bookRow(1, int64(5)))
	require.NoError(t, err)
	b2, err := h.Hydrate(ctx, book, bookRow(2, int64(5)))
	require.NoError(t, err)
	assert.Same(t, b1.(*Book).Author, b2.(*Book).Author)
	assert.Equal(t, 1, s.loads)
}

func TestDehydrateRestore(t *testing.T) {
	author, _, _ := registry(t)
	born := time.Date(2000, 5, 6, 0, 0, 0, 0, time.UTC)
	a := &Author{ID: 3, Name: "cy", Active: true, Score: decimal.NewFromInt(4), Born: &born, Meta: map[string]string{"k": "v"}}

	snap, err := Dehydrate(author, a)
	require.NoError(t, err)
	require.Len(t, snap, len(author.Columns))
	assert.True(t, snap[0].Equal(dialect.Integer(3)))
	assert.True(t, snap[1].Equal(dialect.Text("cy")))
	assert.True(t, snap[2].Equal(dialect.Boolean(true)))
	assert.True(t, snap[5].Equal(dialect.DateTime(born)))
	assert.True(t, snap[6].Equal(dialect.JSON([]byte(`{"k":"v"}`))))

	a.Name, a.Born, a.Meta = "changed", nil, nil
	require.NoError(t, Restore(author, a, snap))
	assert.Equal(t, "cy", a.Name)
	require.NotNil(t, a.Born)
	assert.Equal(t, born, *a.Born)
	assert.Equal(t, map[string]string{"k": "v"}, a.Meta)

	_, err = Dehydrate(author, Author{})
	assert.Error(t, err)
	assert.Error(t, Restore(author, a, snap[:2]))
}

func TestKeyOfComposite(t *testing.T) {
	assert.Equal(t, "3:i:14:s:ab", KeyOf([]dialect.Value{dialect.Integer(1), dialect.Text("ab")}))

	left := KeyOf([]dialect.Value{dialect.Text("a"), dialect.Text("b\x00s:c")})
	right := KeyOf([]dialect.Value{dialect.Text("a\x00s:b"), dialect.Text("c")})
	assert.NotEqual(t, left, right, "NUL bytes inside a part do not shift part boundaries")
}

func TestPrimaryKey(t *testing.T) {
	author, _, _ := registry(t)
	a := &Author{}
	assert.False(t, HasKey(author, a), "zero generated key")
	a.ID = 9
	assert.True(t, HasKey(author, a))
	pk, err := PrimaryKey(author, a)
	require.NoError(t, err)
	assert.Equal(t, "i:9", KeyOf(pk))

	key, ok, err := RowKey(author, dialect.Row{"id": dialect.Text("9")}, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "i:9", key, "text keys coerce to the column kind")

	_, ok, err = RowKey(author, dialect.Row{}, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLazyLoad(t *testing.T) {
	_, book, _ := registry(t)
	s := newScope()
	ctx := context.WithValue(context.Background(), scopeKey{}, s)
	l := &loader{fetch: func(rel *schema.RelationDescriptor) (any, error) {
		return []*Review{{ID: 1, BookID: 1, Body: "good"}}, nil
	}}
	h := New(WithLoader(l))
	v, err := h.Hydrate(ctx, book, bookRow(1, nil))
	require.NoError(t, err)
	b := v.(*Book)
	assert.False(t, b.Reviews.Loaded())

	t.Run("other scope", func(t *testing.T) {
		other := context.WithValue(context.Background(), scopeKey{}, newScope())
		_, err := b.Reviews.Load(other)
		assert.ErrorIs(t, err, persist.ErrDetachedEntity)
		_, err = b.Reviews.Load(context.Background())
		assert.ErrorIs(t, err, persist.ErrDetachedEntity)
		assert.Zero(t, l.calls)
	})

	reviews, err := b.Reviews.Load(ctx)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "good", reviews[0].Body)
	_, err = b.Reviews.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, l.calls, "loaded once")

	s.closed = true
	_, err = b.Editor.Load(ctx)
	var de *persist.DetachedEntityError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "Book", de.Entity)
	assert.Equal(t, "Editor", de.Relation)
}

func TestLazyLoadReleasesCellDuringFetch(t *testing.T) {
	_, book, _ := registry(t)
	rel, ok := book.Relation("Reviews")
	require.True(t, ok)
	ctx := context.WithValue(context.Background(), scopeKey{}, newScope())
	var b *Book
	l := &loader{fetch: func(*schema.RelationDescriptor) (any, error) {
		// The unit of work reads lazy cells while holding its own lock.
		_, loaded := Related(reflect.ValueOf(b), rel)
		assert.False(t, loaded)
		return []*Review{{ID: 3, BookID: 1}}, nil
	}}
	v, err := New(WithLoader(l)).Hydrate(ctx, book, bookRow(1, nil))
	require.NoError(t, err)
	b = v.(*Book)

	done := make(chan error, 1)
	go func() {
		_, err := b.Reviews.Load(ctx)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Load held the cell lock while fetching")
	}
	targets, err := LoadRelated(ctx, reflect.ValueOf(b), rel)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, 1, l.calls)
}

func TestLazyUnbound(t *testing.T) {
	b := &Book{}
	_, err := b.Editor.Load(context.Background())
	assert.ErrorIs(t, err, persist.ErrDetachedEntity)

	b.Editor.Set(&Author{ID: 2})
	got, err := b.Editor.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID)
}

func TestRelated(t *testing.T) {
	_, book, _ := registry(t)
	b := &Book{}
	ent := reflect.ValueOf(b)
	author, _ := book.Relation("Author")
	reviews, _ := book.Relation("Reviews")
	editor, _ := book.Relation("Editor")

	targets, loaded := Related(ent, author)
	assert.True(t, loaded)
	assert.Empty(t, targets)

	_, loaded = Related(ent, reviews)
	assert.False(t, loaded)

	a := &Author{ID: 1}
	require.NoError(t, SetRelated(ent, author, []reflect.Value{reflect.ValueOf(a)}))
	assert.Same(t, a, b.Author)

	rs := []reflect.Value{reflect.ValueOf(&Review{ID: 1}), reflect.ValueOf(&Review{ID: 2})}
	require.NoError(t, SetRelated(ent, reviews, rs))
	got, ok := b.Reviews.Get()
	require.True(t, ok)
	assert.Len(t, got, 2)
	targets, loaded = Related(ent, reviews)
	assert.True(t, loaded)
	assert.Len(t, targets, 2)

	require.NoError(t, SetRelated(ent, editor, nil))
	ed, ok := b.Editor.Get()
	assert.True(t, ok)
	assert.Nil(t, ed)
	targets, loaded = Related(ent, editor)
	assert.True(t, loaded)
	assert.Empty(t, targets)

	assert.Error(t, SetRelated(ent, author, rs))
}
