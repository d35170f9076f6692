package keepsake

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/keepsake/config"
	"github.com/poiesic/keepsake/core"
	"github.com/poiesic/keepsake/repository"
	"github.com/poiesic/keepsake/storage/metrics"
	"github.com/poiesic/keepsake/storage/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() Option {
	return WithLogger(slog.New(slog.DiscardHandler))
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(t *testing.T) *config.Config
	}{
		{"default", func(*testing.T) *config.Config { return nil }},
		{"memory", func(*testing.T) *config.Config { return config.NewConfig() }},
		{"badger in memory", func(*testing.T) *config.Config {
			return config.NewConfig(config.WithBackend(config.BackendBadger), config.WithInMemory())
		}},
		{"badger on disk", func(t *testing.T) *config.Config {
			return config.NewConfig(config.WithBackend(config.BackendBadger), config.WithPath(t.TempDir()))
		}},
		{"sqlite", func(t *testing.T) *config.Config {
			return config.NewConfig(config.WithBackend(config.BackendSQLite),
				config.WithPath(filepath.Join(t.TempDir(), "keepsake.db")))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, err := Open(ctx, tt.cfg(t), quiet())
			require.NoError(t, err)
			defer store.Close()

			users, err := NewRepository(store, "users", repository.RecordFactory("id"))
			require.NoError(t, err)

			rec, err := users.NewItem()
			require.NoError(t, err)
			rec.Set("name", "Alex")
			_, err = users.Save(ctx, rec)
			require.NoError(t, err)
			require.True(t, rec.IsLoaded())

			found, err := users.FindByID(ctx, rec.Value("id"))
			require.NoError(t, err)
			assert.True(t, found.IsLoaded())
			assert.Equal(t, "Alex", found.Value("name"))
		})
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, err := Open(context.Background(), config.NewConfig(config.WithBackend("mongo")), quiet())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = Open(context.Background(), config.NewConfig(config.WithBackend(config.BackendSQLite)), quiet())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestOpen_BadPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not_a_dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := Open(context.Background(),
		config.NewConfig(config.WithBackend(config.BackendBadger), config.WithPath(file)), quiet())
	assert.Error(t, err)
}

func TestOpen_Decorators(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	cfg := config.NewConfig(
		config.WithRetry(2, time.Millisecond),
		config.WithMetrics("test"),
	)

	store, err := Open(ctx, cfg, quiet(), WithRegisterer(reg))
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, config.BackendMemory, store.Backend())
	_, isMetrics := store.Delegate().(*metrics.Delegate)
	assert.True(t, isMetrics)

	_, err = store.Delegate().Insert(ctx, "users", core.Fields{"name": "Alex"})
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "test_storage_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpen_RetryOnly(t *testing.T) {
	store, err := Open(context.Background(), config.NewConfig(config.WithRetry(2, time.Millisecond)), quiet())
	require.NoError(t, err)
	defer store.Close()

	_, isRetry := store.Delegate().(*retry.Delegate)
	assert.True(t, isRetry)
}

func TestOpen_DuplicateMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := config.NewConfig(config.WithMetrics(""))

	first, err := Open(context.Background(), cfg, quiet(), WithRegisterer(reg))
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(context.Background(), config.NewConfig(config.WithMetrics("")), quiet(), WithRegisterer(reg))
	assert.Error(t, err)
}

func TestStore_Close(t *testing.T) {
	store, err := Open(context.Background(),
		config.NewConfig(config.WithBackend(config.BackendBadger), config.WithPath(t.TempDir())), quiet())
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}
