package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/poiesic/keepsake/core"
	"github.com/poiesic/keepsake/storage"
	"github.com/poiesic/keepsake/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelegate_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Delegate {
		d, err := Open(context.Background(), MemoryPath)
		require.NoError(t, err)
		return d
	})
}

func TestDelegate_FileConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Delegate {
		d, err := Open(context.Background(), filepath.Join(t.TempDir(), "keepsake.db"))
		require.NoError(t, err)
		return d
	})
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}

func TestDelegate_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keepsake.db")

	d, err := Open(ctx, path)
	require.NoError(t, err)
	key, err := d.Insert(ctx, "users", core.Fields{"name": "Alex"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), key)
	require.NoError(t, d.Close())

	d, err = Open(ctx, path)
	require.NoError(t, err)
	defer d.Close()

	got, err := d.FindByPrimaryKey(ctx, "users", storage.PrimaryKey{Field: "id", Value: key})
	require.NoError(t, err)
	assert.Equal(t, core.Fields{"id": int64(1), "name": "Alex"}, got)
}

func TestDelegate_NonIntegerKey(t *testing.T) {
	ctx := context.Background()
	d, err := Open(ctx, MemoryPath)
	require.NoError(t, err)
	defer d.Close()

	got, err := d.FindByPrimaryKey(ctx, "users", storage.PrimaryKey{Field: "id", Value: "abc"})
	require.NoError(t, err)
	assert.Nil(t, got)
}
