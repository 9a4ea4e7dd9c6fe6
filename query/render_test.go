package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
)

var (
	pg   = dialect.MustLookup(dialect.Postgres)
	my   = dialect.MustLookup(dialect.MySQL)
	lite = dialect.MustLookup(dialect.SQLite)
)

func TestRenderSelect(t *testing.T) {
	users := T("users").As("u")
	posts := T("posts").As("p")
	s := SelectFrom(users, users.C("id"), users.C("name")).
		ColumnAs(posts.C("title"), "post__title").
		LeftJoin(posts, EQ(posts.C("author_id"), users.C("id"))).
		Where(EQ(users.C("name"), Arg(dialect.Text("a8m")))).
		Where(OrOf(
			GT(users.C("age"), Arg(dialect.Integer(18))),
			Null(users.C("age")),
		)).
		OrderBy(Desc(users.C("created_at")), Asc(users.C("id"))).
		Limit(10).
		Offset(20)

	tests := []struct {
		d    *dialect.Dialect
		want string
	}{
		{pg, `SELECT "u"."id", "u"."name", "p"."title" AS "post__title" FROM "users" AS "u" LEFT JOIN "posts" AS "p" ON "p"."author_id" = "u"."id" WHERE "u"."name" = $1 AND ("u"."age" > $2 OR "u"."age" IS NULL) ORDER BY "u"."created_at" DESC, "u"."id" LIMIT $3 OFFSET $4`},
		{my, "SELECT `u`.`id`, `u`.`name`, `p`.`title` AS `post__title` FROM `users` AS `u` LEFT JOIN `posts` AS `p` ON `p`.`author_id` = `u`.`id` WHERE `u`.`name` = ? AND (`u`.`age` > ? OR `u`.`age` IS NULL) ORDER BY `u`.`created_at` DESC, `u`.`id` LIMIT ? OFFSET ?"},
	}
	for _, tt := range tests {
		t.Run(tt.d.Name, func(t *testing.T) {
			text, args, err := Render(s, tt.d)
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
			require.Len(t, args, 4)
			assert.True(t, args[0].Equal(dialect.Text("a8m")))
			assert.True(t, args[1].Equal(dialect.Integer(18)))
			assert.True(t, args[2].Equal(dialect.Integer(10)))
			assert.True(t, args[3].Equal(dialect.Integer(20)))
		})
	}
}

func TestRenderDeterministic(t *testing.T) {
	s := SelectFrom(T("users")).Where(AndOf(
		StringField("name").In("a", "b"),
		NotOf(IntField("age").LT(3)),
	))
	for _, d := range []*dialect.Dialect{pg, my, lite} {
		text1, args1, err := Render(s, d)
		require.NoError(t, err)
		text2, args2, err := Render(s, d)
		require.NoError(t, err)
		assert.Equal(t, text1, text2)
		assert.Equal(t, args1, args2)
	}
}

func TestRenderDoesNotMutate(t *testing.T) {
	base := SelectFrom(T("users"))
	filtered := base.Where(IntField("id").EQ(1))
	text, args, err := Render(base, pg)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "users"`, text)
	assert.Empty(t, args)

	text, _, err = Render(filtered, pg)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "users" WHERE "id" = $1`, text)
}

func TestRenderPrecedence(t *testing.T) {
	a := IntField("a").EQ(1)
	b := IntField("b").EQ(2)
	c := IntField("c").EQ(3)

	text, _, err := Render(AndOf(OrOf(a, b), c), pg)
	require.NoError(t, err)
	assert.Equal(t, `("a" = $1 OR "b" = $2) AND "c" = $3`, text)

	text, _, err = Render(OrOf(a, AndOf(b, c)), pg)
	require.NoError(t, err)
	assert.Equal(t, `"a" = $1 OR ("b" = $2 AND "c" = $3)`, text)

	text, _, err = Render(AndOf(a, AndOf(b, c)), pg)
	require.NoError(t, err)
	assert.Equal(t, `"a" = $1 AND ("b" = $2 AND "c" = $3)`, text)

	text, _, err = Render(NotOf(OrOf(a, b)), pg)
	require.NoError(t, err)
	assert.Equal(t, `NOT ("a" = $1 OR "b" = $2)`, text)
}

func TestRenderSubqueries(t *testing.T) {
	sub := SelectFrom(T("posts"), C("author_id")).Where(BoolField("published").IsTrue())
	s := SelectFrom(T("users")).
		Where(IntField("age").GT(30)).
		Where(InSelect(C("id"), sub)).
		Where(ExistsOf(SelectFrom(T("tags")).Where(StringField("name").EQ("go"))))

	text, args, err := Render(s, lite)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "users" WHERE ("age" > ? AND "id" IN (SELECT "author_id" FROM "posts" WHERE "published" = 1)) AND EXISTS (SELECT * FROM "tags" WHERE "name" = ?)`, text)
	require.Len(t, args, 2)
	assert.True(t, args[0].Equal(dialect.Integer(30)))
	assert.True(t, args[1].Equal(dialect.Text("go")))
}

func TestRenderInsert(t *testing.T) {
	ins := InsertInto("users").
		Columns("name", "age").
		Values(Arg(dialect.Text("a")), Arg(dialect.Integer(1))).
		Values(Arg(dialect.Text("b")), Lit(dialect.KeywordNull)).
		Returning("id")

	text, args, err := Render(ins, pg)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "users" ("name", "age") VALUES ($1, $2), ($3, NULL) RETURNING "id"`, text)
	assert.Len(t, args, 3)

	_, _, err = Render(ins, my)
	require.Error(t, err)
	assert.True(t, errors.Is(err, persist.ErrUnsupportedFeature))

	text, _, err = Render(InsertInto("t"), my)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO `t` () VALUES ()", text)
	text, _, err = Render(InsertInto("t"), pg)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "t" DEFAULT VALUES`, text)
}

func TestRenderUpdateDelete(t *testing.T) {
	upd := UpdateTable("users").
		Set("age", Arg(dialect.Integer(2))).
		Set("updated_at", Lit(dialect.KeywordCurrentTimestamp)).
		Where(IntField("id").EQ(7))
	text, args, err := Render(upd, pg)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "users" SET "age" = $1, "updated_at" = CURRENT_TIMESTAMP WHERE "id" = $2`, text)
	require.Len(t, args, 2)
	assert.True(t, args[1].Equal(dialect.Integer(7)))

	text, args, err = Render(DeleteFrom("users").Where(IntField("id").In(1, 2)), my)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM `users` WHERE `id` IN (?, ?)", text)
	assert.Len(t, args, 2)
}

func TestRenderQuoting(t *testing.T) {
	text, _, err := Render(SelectFrom(T(`we"ird`), C(`co"l`)), pg)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "co""l" FROM "we""ird"`, text)
}

func TestRenderOffsetWithoutLimit(t *testing.T) {
	s := SelectFrom(T("t")).Offset(5)
	text, _, err := Render(s, pg)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "t" OFFSET $1`, text)

	text, args, err := Render(s, lite)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "t" LIMIT ? OFFSET ?`, text)
	assert.Len(t, args, 2)
}

func TestRenderCounting(t *testing.T) {
	users := T("users").As("u")
	posts := T("posts").As("p")
	s := SelectFrom(users, users.C("id")).
		Distinct().
		LeftJoin(posts, EQ(posts.C("author_id"), users.C("id"))).
		Where(EQ(posts.C("title"), Arg(dialect.Text("x")))).
		OrderBy(Asc(users.C("id"))).
		Limit(5).
		Offset(10)

	text, args, err := Render(s.Counting("n"), pg)
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) AS "n" FROM "users" AS "u" LEFT JOIN "posts" AS "p" ON "p"."author_id" = "u"."id" WHERE "p"."title" = $1`, text)
	assert.Len(t, args, 1)

	text, _, err = Render(s, pg)
	require.NoError(t, err)
	assert.Contains(t, text, "SELECT DISTINCT", "the source select is untouched")
}

func TestRenderErrors(t *testing.T) {
	tests := []struct {
		name string
		n    Node
		d    *dialect.Dialect
	}{
		{"update without set", UpdateTable("t"), pg},
		{"empty in", InValues(C("id")), pg},
		{"nil node", nil, pg},
		{"bad func", Fn("drop table", C("x")), pg},
		{"row mismatch", InsertInto("t").Columns("a", "b").Values(Arg(dialect.Integer(1))), pg},
		{"unsupported keyword", InsertInto("t").Columns("a").Values(Lit(dialect.KeywordDefault)), lite},
		{"empty and", &And{}, pg},
		{"join without on", SelectFrom(T("a")).Join(T("b"), nil), pg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Render(tt.n, tt.d)
			var re *RenderError
			require.ErrorAs(t, err, &re)
		})
	}
	_, _, err := Render(SelectFrom(T("t")), nil)
	require.Error(t, err)
}

func TestFields(t *testing.T) {
	tests := []struct {
		p    Predicate
		want string
	}{
		{StringField("email").HasSuffix("@x.io"), `"email" LIKE $1`},
		{StringField("email").EqualFold("A"), `LOWER("email") = LOWER($1)`},
		{StringField("u.email").NotNull(), `"u"."email" IS NOT NULL`},
		{StringField("name").NotIn("a"), `"name" NOT IN ($1)`},
		{TimeField("deleted_at").BeforeNow(), `"deleted_at" < CURRENT_TIMESTAMP`},
		{BoolField("active").IsFalse(), `"active" = FALSE`},
	}
	for _, tt := range tests {
		text, _, err := Render(tt.p, pg)
		require.NoError(t, err)
		assert.Equal(t, tt.want, text)
	}
	text, _, err := Render(SelectFrom(T("t"), Count()), pg)
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "t"`, text)
}

func TestQualify(t *testing.T) {
	p := AndOf(
		StringField("email").EqualFold("A@x.io"),
		OrOf(IntField("age").GT(18), NotOf(Null(C("p.deleted_at")))),
		InValues(C("id"), Arg(dialect.Integer(1))),
	)
	s := SelectFrom(T("users").As("t0")).Where(Qualify(p, "t0"))
	text, args, err := Render(s, pg)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "users" AS "t0" WHERE LOWER("t0"."email") = LOWER($1) AND ("t0"."age" > $2 OR NOT ("p"."deleted_at" IS NULL)) AND "t0"."id" IN ($3)`, text)
	assert.Len(t, args, 3)

	text, _, err = Render(p, pg)
	require.NoError(t, err)
	assert.Contains(t, text, `LOWER("email")`, "the original tree is unchanged")
	assert.Nil(t, Qualify(nil, "t0"))
}
