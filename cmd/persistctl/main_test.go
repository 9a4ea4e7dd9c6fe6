package main

import (
	"bytes"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usersManifest = `
entities:
  - name: User
    table: users
    columns:
      - {field: ID, kind: integer, pk: true, generated: true}
      - {field: Email, kind: text, unique: true}
      - {field: Age, kind: integer, nullable: true}
`

const usersWithoutEmail = `
entities:
  - name: User
    table: users
    columns:
      - {field: ID, kind: integer, pk: true, generated: true}
      - {field: Age, kind: integer, nullable: true}
`

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRender(t *testing.T) {
	manifest := write(t, "m.yaml", usersManifest)
	out, err := run(t, "render", "--manifest", manifest, "--entity", "User", "--dialect", "postgres",
		"--where", "email=ann@example.com", "--where", "Age=30", "--order", "-id", "--limit", "10")
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t0"."id", "t0"."email", "t0"."age" FROM "users" AS "t0" WHERE "t0"."email" = $1 AND "t0"."age" = $2 ORDER BY "t0"."id" DESC LIMIT $3
-- $1 = "ann@example.com"
-- $2 = 30
-- $3 = 10
`, out)

	out, err = run(t, "render", "--manifest", manifest, "--entity", "User", "--driver", "sqlite", "--where", "age=null")
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t0"."id", "t0"."email", "t0"."age" FROM "users" AS "t0" WHERE "t0"."age" IS NULL`+"\n", out)
}

func TestRenderErrors(t *testing.T) {
	manifest := write(t, "m.yaml", usersManifest)
	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"no manifest", []string{"render", "--entity", "User", "--dialect", "sqlite"}, "--manifest is required"},
		{"no dialect", []string{"render", "--manifest", manifest, "--entity", "User"}, "no dialect"},
		{"unknown field", []string{"render", "--manifest", manifest, "--entity", "User", "--dialect", "sqlite", "--where", "name=x"}, `has no field "name"`},
		{"bad filter", []string{"render", "--manifest", manifest, "--entity", "User", "--dialect", "sqlite", "--where", "email"}, "expected field=value"},
		{"bad value", []string{"render", "--manifest", manifest, "--entity", "User", "--dialect", "sqlite", "--where", "age=old"}, "--where age"},
		{"unknown entity", []string{"render", "--manifest", manifest, "--entity", "Post", "--dialect", "sqlite"}, "Post"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestSchemaPlan(t *testing.T) {
	manifest := write(t, "m.yaml", usersManifest)
	out, err := run(t, "schema", "plan", "--manifest", manifest, "--dialect", "sqlite")
	require.NoError(t, err)
	assert.Contains(t, out, "CREATE TABLE `users`")
	assert.Contains(t, out, "users_email_key")

	out, err = run(t, "schema", "plan", "--manifest", manifest, "--dialect", "postgres")
	require.NoError(t, err)
	assert.Contains(t, out, `CREATE TABLE "users"`)
	assert.Contains(t, out, "bigserial")
}

func TestPingAndLivePlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	dsn := "file:" + path
	db := []string{"--driver", "sqlite", "--dsn", dsn}

	out, err := run(t, append([]string{"ping"}, db...)...)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ok: sqlite"), out)

	manifest := write(t, "m.yaml", usersManifest)
	out, err = run(t, append([]string{"schema", "plan", "--live", "--manifest", manifest}, db...)...)
	require.NoError(t, err)
	require.Contains(t, out, "CREATE TABLE `users`")

	conn, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer conn.Close()
	for _, stmt := range strings.Split(strings.TrimSpace(out), ";\n") {
		_, err := conn.Exec(strings.TrimSuffix(stmt, ";"))
		require.NoError(t, err, stmt)
	}

	_, err = run(t, append([]string{"schema", "plan", "--live", "--manifest", write(t, "m2.yaml", usersWithoutEmail)}, db...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "users.email: column will be dropped")
}

func TestPingRequiresDatabase(t *testing.T) {
	_, err := run(t, "ping")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver and database.dsn are required")
}

func TestConfigFile(t *testing.T) {
	cfg := write(t, "persist.yaml", "log: {level: loud}\n")
	_, err := run(t, "--config", cfg, "ping")
	assert.Error(t, err)
}
