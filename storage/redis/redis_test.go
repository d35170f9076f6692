package redis

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/poiesic/keepsake/storage"
	"github.com/poiesic/keepsake/storage/storagetest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelegate_Conformance(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping Redis tests")
	}

	storagetest.Run(t, func(t *testing.T) storage.Delegate {
		d, err := Open(context.Background(), redisURL, WithPrefix("keepsake_test"))
		require.NoError(t, err)
		return d
	})
}

func TestDelegate_Keys(t *testing.T) {
	d := New(redis.NewClient(&redis.Options{Addr: "localhost:0"}))
	defer d.Close()

	assert.Equal(t, "keepsake:users:rows", d.rowsKey("users"))
	assert.Equal(t, "keepsake:users:seq", d.seqKey("users"))

	d = New(redis.NewClient(&redis.Options{Addr: "localhost:0"}), WithPrefix("app"), WithPrefix(""))
	defer d.Close()
	assert.Equal(t, "app:users:rows", d.rowsKey("users"))
}

func TestDelegate_ClosedWithoutServer(t *testing.T) {
	d := New(redis.NewClient(&redis.Options{Addr: "localhost:0"}))
	require.NoError(t, d.Close())
	assert.NoError(t, d.Close())

	_, err := d.FindByPrimaryKey(context.Background(), "users", storage.PrimaryKey{Field: "id", Value: 1})
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestOpen_BadURL(t *testing.T) {
	_, err := Open(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"closed", redis.ErrClosed, storage.ErrStorageClosed},
		{"tx failed", redis.TxFailedErr, storage.ErrConflict},
		{"other", errors.New("boom"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapError(tt.in)
			assert.ErrorIs(t, got, tt.in)
			if tt.want != nil {
				assert.ErrorIs(t, got, tt.want)
			}
		})
	}
	assert.NoError(t, wrapError(nil))
}
