package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/keepsake/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want any
	}{
		{"null", "null", nil},
		{"true", "true", true},
		{"false", "false", false},
		{"integer", "42", int64(42)},
		{"negative integer", "-7", int64(-7)},
		{"float", "3.5", 3.5},
		{"time", "2024-05-01T10:00:00Z", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"string", "Alex", "Alex"},
		{"empty", "", ""},
		{"quoted number", `"42"`, "42"},
		{"quoted null", `"null"`, "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseValue(tt.raw))
		})
	}
}

func TestParseAssignment(t *testing.T) {
	tests := []struct {
		name      string
		arg       string
		wantName  string
		wantValue any
		wantErr   bool
	}{
		{"string", "name=Alex", "name", "Alex", false},
		{"integer", "age=31", "age", int64(31), false},
		{"value with equals", "expr=a=b", "expr", "a=b", false},
		{"empty value", "note=", "note", "", false},
		{"trimmed name", " city =London", "city", "London", false},
		{"missing equals", "name", "", nil, true},
		{"empty name", "=Alex", "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, value, err := parseAssignment(tt.arg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantValue, value)
		})
	}
}

func TestParseID(t *testing.T) {
	assert.Equal(t, int64(12), parseID("12"))
	assert.Equal(t, "abc-1", parseID("abc-1"))
}

func TestLoadFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
users:
  - name: Alex
    age: 31
  - name: Jake
notes:
  - body: hello
`), 0o644))

	fx, err := loadFixtures(path)
	require.NoError(t, err)
	require.Len(t, fx["users"], 2)
	assert.Equal(t, "Alex", fx["users"][0]["name"])
	assert.Equal(t, 31, fx["users"][0]["age"])
	assert.Len(t, fx["notes"], 1)

	t.Run("missing file", func(t *testing.T) {
		_, err := loadFixtures(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	argv := append([]string{"keepsake", "--backend", "sqlite", "--path", dbPath, "--log-level", "error"}, args...)
	err := app.Run(argv)
	return out.String(), err
}

func TestCommands_Lifecycle(t *testing.T) {
	db := filepath.Join(t.TempDir(), "keepsake.db")

	out, err := run(t, db, "create", "users", "name=Alex", "age=31")
	require.NoError(t, err)
	assert.Contains(t, out, "id: 1")
	assert.Contains(t, out, "name: Alex")

	out, err = run(t, db, "get", "users", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "name: Alex")
	assert.Contains(t, out, "age: 31")

	out, err = run(t, db, "update", "users", "1", "age=32", "city=London")
	require.NoError(t, err)
	assert.Contains(t, out, "age: 32")
	assert.Contains(t, out, "city: London")
	assert.Contains(t, out, "name: Alex")

	out, err = run(t, db, "delete", "users", "1")
	require.NoError(t, err)
	assert.Equal(t, "deleted users 1\n", out)

	_, err = run(t, db, "get", "users", "1")
	assert.ErrorIs(t, err, errNotFound)

	_, err = run(t, db, "delete", "users", "1")
	assert.ErrorIs(t, err, errNotFound)
}

func TestCommands_UpdateMissing(t *testing.T) {
	db := filepath.Join(t.TempDir(), "keepsake.db")

	_, err := run(t, db, "update", "users", "9", "name=Jake")
	assert.ErrorIs(t, err, errNotFound)
}

func TestCommands_ArgumentErrors(t *testing.T) {
	db := filepath.Join(t.TempDir(), "keepsake.db")

	tests := []struct {
		name string
		args []string
	}{
		{"create without type", []string{"create"}},
		{"create bad assignment", []string{"create", "users", "name"}},
		{"get without id", []string{"get", "users"}},
		{"update without assignment", []string{"update", "users", "1"}},
		{"delete without id", []string{"delete", "users"}},
		{"invalid type", []string{"create", "bad type", "name=x"}},
		{"seed without file", []string{"seed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, db, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestCommands_Seed(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "keepsake.db")
	path := filepath.Join(dir, "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
users:
  - {name: Alex}
  - {name: Jake}
  - {name: Sam}
  - {name: Kim}
notes:
  - {body: first}
  - {body: second}
`), 0o644))

	out, err := run(t, db, "seed", "--workers", "3", path)
	require.NoError(t, err)
	assert.Equal(t, "created 6 records\n", out)

	for _, id := range []string{"1", "2", "3", "4"} {
		_, err := run(t, db, "get", "users", id)
		assert.NoError(t, err, "users %s", id)
	}
	_, err = run(t, db, "get", "users", "5")
	assert.ErrorIs(t, err, errNotFound)

	out, err = run(t, db, "get", "notes", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "body:")
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	app := newApp()
	err := app.Run([]string{"keepsake", "--log-level", "loud", "get", "users", "1"})
	assert.Error(t, err)
}

func TestWarnIfEphemeral(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
		want bool
	}{
		{"memory", config.NewConfig(), true},
		{"badger in memory", config.NewConfig(config.WithBackend(config.BackendBadger), config.WithInMemory()), true},
		{"badger on disk", config.NewConfig(config.WithBackend(config.BackendBadger), config.WithPath("/tmp/db")), false},
		{"sqlite in memory", config.NewConfig(config.WithBackend(config.BackendSQLite), config.WithPath(":memory:")), true},
		{"sqlite on disk", config.NewConfig(config.WithBackend(config.BackendSQLite), config.WithPath("/tmp/k.db")), false},
		{"postgres", config.NewConfig(config.WithBackend(config.BackendPostgres), config.WithDSN("postgres://x")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			assert.Equal(t, tt.want, warnIfEphemeral(logger, tt.cfg))
			if tt.want {
				assert.Contains(t, buf.String(), "does not persist")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}
