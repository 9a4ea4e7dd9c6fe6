package schema

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/persist/dialect"
	persistschema "github.com/syssam/persist/schema"
)

type Author struct {
	ID    int64
	Name  string
	Email string  `persist:",unique"`
	Books []*Book `rel:"one-to-many"`
}

type Book struct {
	ID       int64
	Title    string
	Subtitle *string
	AuthorID int64
	Author   *Author `rel:"many-to-one" join:"author_id"`
	Tags     []*Tag  `rel:"many-to-many" join:"book_tags(book_id,tag_id)"`
}

type Tag struct {
	ID   int64
	Name string
}

func registry(t *testing.T) *persistschema.Registry {
	t.Helper()
	reg := persistschema.NewRegistry()
	require.NoError(t, persistschema.Initialize(reg,
		persistschema.Entity[Author](),
		persistschema.Entity[Book](),
		persistschema.Entity[Tag](),
	))
	return reg
}

func table(t *testing.T, tables []*schema.Table, name string) *schema.Table {
	t.Helper()
	for _, tt := range tables {
		if tt.Name == name {
			return tt
		}
	}
	t.Fatalf("table %q not found", name)
	return nil
}

func hasAutoIncrement(attrs []schema.Attr) bool {
	for _, a := range attrs {
		if _, ok := a.(*sqlite.AutoIncrement); ok {
			return true
		}
	}
	return false
}

func TestTables(t *testing.T) {
	tables, err := Tables(registry(t), dialect.MustLookup(dialect.SQLite))
	require.NoError(t, err)
	names := make([]string, len(tables))
	for i, tt := range tables {
		names[i] = tt.Name
	}
	assert.Equal(t, []string{"authors", "books", "tags", "book_tags"}, names)

	authors := table(t, tables, "authors")
	require.NotNil(t, authors.PrimaryKey)
	id, ok := authors.Column("id")
	require.True(t, ok)
	assert.Equal(t, &schema.IntegerType{T: "integer"}, id.Type.Type)
	assert.True(t, hasAutoIncrement(id.Attrs))
	idx, ok := authors.Index("authors_email_key")
	require.True(t, ok)
	assert.True(t, idx.Unique)

	books := table(t, tables, "books")
	sub, ok := books.Column("subtitle")
	require.True(t, ok)
	assert.True(t, sub.Type.Null)
	require.Len(t, books.ForeignKeys, 1)
	fk := books.ForeignKeys[0]
	assert.Equal(t, "books_author_id_fkey", fk.Symbol)
	assert.Equal(t, "authors", fk.RefTable.Name)
	assert.Equal(t, "author_id", fk.Columns[0].Name)
	assert.Equal(t, "id", fk.RefColumns[0].Name)

	join := table(t, tables, "book_tags")
	require.Len(t, join.Columns, 2)
	assert.Len(t, join.PrimaryKey.Parts, 2)
	require.Len(t, join.ForeignKeys, 2)
	assert.Equal(t, "books", join.ForeignKeys[0].RefTable.Name)
	assert.Equal(t, "tags", join.ForeignKeys[1].RefTable.Name)
	assert.Equal(t, schema.Cascade, join.ForeignKeys[0].OnDelete)

	assert.False(t, Check(tables).HasErrors())
}

func TestTablesDialectTypes(t *testing.T) {
	tests := []struct {
		dialect string
		id      schema.Type
		fk      schema.Type
		text    schema.Type
	}{
		{dialect.Postgres, &postgres.SerialType{T: "bigserial"}, &schema.IntegerType{T: "bigint"}, &schema.StringType{T: "text"}},
		{dialect.MySQL, &schema.IntegerType{T: "bigint"}, &schema.IntegerType{T: "bigint"}, &schema.StringType{T: "varchar", Size: 255}},
		{dialect.SQLite, &schema.IntegerType{T: "integer"}, &schema.IntegerType{T: "integer"}, &schema.StringType{T: "text"}},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			tables, err := Tables(registry(t), dialect.MustLookup(tt.dialect))
			require.NoError(t, err)
			books := table(t, tables, "books")
			id, _ := books.Column("id")
			assert.Equal(t, tt.id, id.Type.Type)
			fk, _ := books.Column("author_id")
			assert.Equal(t, tt.fk, fk.Type.Type)
			title, _ := books.Column("title")
			assert.Equal(t, tt.text, title.Type.Type)
		})
	}
}

func TestTablesRequiresSealedRegistry(t *testing.T) {
	_, err := Tables(persistschema.NewRegistry(), dialect.MustLookup(dialect.SQLite))
	assert.Error(t, err)
}

func TestPlanEmptySchema(t *testing.T) {
	ctx := context.Background()
	d := dialect.MustLookup(dialect.SQLite)
	tables, err := Tables(registry(t), d)
	require.NoError(t, err)
	stmts, err := Plan(ctx, d, nil, tables)
	require.NoError(t, err)
	for _, name := range []string{"authors", "books", "tags", "book_tags"} {
		assert.True(t, containsStmt(stmts, "CREATE TABLE `"+name+"`"), "missing %s in %v", name, stmts)
	}
	assert.True(t, containsStmt(stmts, "authors_email_key"))
}

func TestInspectAndValidate(t *testing.T) {
	ctx := context.Background()
	d := dialect.MustLookup(dialect.SQLite)
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tables, err := Tables(registry(t), d)
	require.NoError(t, err)
	stmts, err := Plan(ctx, d, nil, tables)
	require.NoError(t, err)
	for _, stmt := range stmts {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	current, err := Inspect(ctx, db, d, "")
	require.NoError(t, err)
	assert.Equal(t, "main", current.Name)
	for _, name := range []string{"authors", "books", "tags", "book_tags"} {
		_, ok := current.Table(name)
		assert.True(t, ok, name)
	}
	books, _ := current.Table("books")
	assert.Len(t, books.ForeignKeys, 1)

	// Dropping tags removes two tables.
	desired := []*schema.Table{table(t, tables, "authors"), table(t, tables, "books")}
	changes, err := Diff(d, current, desired)
	require.NoError(t, err)
	res := Validate(changes)
	require.True(t, res.HasErrors())
	assert.True(t, res.HasBreakingChanges())
	assert.Contains(t, res.String(), "tags: table will be dropped")
	assert.Contains(t, res.String(), "book_tags: table will be dropped")

	res = Validate(changes, AllowDropTable())
	assert.False(t, res.HasErrors())
	assert.True(t, res.HasWarnings())
}

func TestValidate(t *testing.T) {
	str := func(name string, size int, null bool) *schema.Column {
		return schema.NewColumn(name).SetType(&schema.StringType{T: "varchar", Size: size}).SetNull(null)
	}
	users := schema.NewTable("users")
	tests := []struct {
		name     string
		changes  []schema.Change
		opts     []ValidateOption
		errors   []string
		warnings []string
	}{
		{
			name:    "add table",
			changes: []schema.Change{&schema.AddTable{T: users}},
		},
		{
			name:    "drop column",
			changes: []schema.Change{&schema.ModifyTable{T: users, Changes: []schema.Change{&schema.DropColumn{C: str("bio", 0, true)}}}},
			errors:  []string{"users.bio: column will be dropped"},
		},
		{
			name:     "drop column allowed",
			changes:  []schema.Change{&schema.ModifyTable{T: users, Changes: []schema.Change{&schema.DropColumn{C: str("bio", 0, true)}}}},
			opts:     []ValidateOption{AllowDropColumn()},
			warnings: []string{"users.bio: column will be dropped"},
		},
		{
			name:     "add not null column",
			changes:  []schema.Change{&schema.ModifyTable{T: users, Changes: []schema.Change{&schema.AddColumn{C: str("nick", 10, false)}}}},
			warnings: []string{"users.nick: new NOT NULL column without default value may fail if table has data"},
		},
		{
			name:    "add nullable column",
			changes: []schema.Change{&schema.ModifyTable{T: users, Changes: []schema.Change{&schema.AddColumn{C: str("nick", 10, true)}}}},
		},
		{
			name: "null to not null",
			changes: []schema.Change{&schema.ModifyTable{T: users, Changes: []schema.Change{
				&schema.ModifyColumn{From: str("name", 10, true), To: str("name", 10, false), Change: schema.ChangeNull},
			}}},
			errors: []string{"users.name: column changing from NULL to NOT NULL may fail if column has NULL values"},
		},
		{
			name: "null to not null allowed",
			changes: []schema.Change{&schema.ModifyTable{T: users, Changes: []schema.Change{
				&schema.ModifyColumn{From: str("name", 10, true), To: str("name", 10, false), Change: schema.ChangeNull},
			}}},
			opts:     []ValidateOption{AllowNullToNotNull()},
			warnings: []string{"users.name: column changing from NULL to NOT NULL may fail if column has NULL values"},
		},
		{
			name: "shrink column",
			changes: []schema.Change{&schema.ModifyTable{T: users, Changes: []schema.Change{
				&schema.ModifyColumn{From: str("name", 100, false), To: str("name", 10, false), Change: schema.ChangeType},
			}}},
			warnings: []string{
				"users.name: column type changing from varchar(100) to varchar(10)",
				"users.name: column size reducing from 100 to 10 may truncate data",
			},
		},
		{
			name:    "drop index",
			changes: []schema.Change{&schema.ModifyTable{T: users, Changes: []schema.Change{&schema.DropIndex{I: schema.NewIndex("users_name")}}}},
			errors:  []string{`users: index "users_name" will be dropped`},
		},
		{
			name:     "drop index allowed",
			changes:  []schema.Change{&schema.ModifyTable{T: users, Changes: []schema.Change{&schema.DropIndex{I: schema.NewIndex("users_name")}}}},
			opts:     []ValidateOption{AllowDropIndex()},
			warnings: []string{`users: index "users_name" will be dropped`},
		},
		{
			name:     "add unique index",
			changes:  []schema.Change{&schema.ModifyTable{T: users, Changes: []schema.Change{&schema.AddIndex{I: schema.NewUniqueIndex("users_email_key")}}}},
			warnings: []string{`users: adding unique index "users_email_key" may fail if duplicate values exist`},
		},
		{
			name:    "drop table",
			changes: []schema.Change{&schema.DropTable{T: users}},
			errors:  []string{"users: table will be dropped"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.changes, tt.opts...)
			assert.Equal(t, tt.errors, messages(res.Errors))
			assert.Equal(t, tt.warnings, messages(res.Warnings))
			if len(tt.errors) == 0 && len(tt.warnings) == 0 {
				assert.Equal(t, "No issues found", res.String())
			}
		})
	}
}

func TestCheck(t *testing.T) {
	id := schema.NewIntColumn("id", "integer")
	users := schema.NewTable("users").AddColumns(id, schema.NewIntColumn("id", "integer"))
	users.SetPrimaryKey(schema.NewPrimaryKey(id))
	users.AddIndexes(schema.NewIndex("users_ghost").AddColumns(schema.NewStringColumn("ghost", "text")))
	posts := schema.NewTable("posts").AddColumns(schema.NewIntColumn("user_id", "integer"))
	posts.AddForeignKeys(schema.NewForeignKey("posts_user_id_fkey").
		AddColumns(schema.NewIntColumn("user_id", "integer")).
		SetRefTable(schema.NewTable("accounts")))

	res := Check([]*schema.Table{users, posts})
	assert.Equal(t, []string{
		"users.id: duplicate column name",
		`users: index "users_ghost" references non-existent column "ghost"`,
		`posts: foreign key "posts_user_id_fkey" references non-existent table "accounts"`,
	}, messages(res.Errors))
	assert.Equal(t, []string{"posts: table has no primary key"}, messages(res.Warnings))
}

func messages(errs []*ValidationError) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}

func containsStmt(stmts []string, sub string) bool {
	for _, s := range stmts {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
