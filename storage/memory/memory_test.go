package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/poiesic/keepsake/core"
	"github.com/poiesic/keepsake/storage"
	"github.com/poiesic/keepsake/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelegate_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Delegate {
		return New()
	})
}

func TestDelegate_UUIDConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Delegate {
		return New(WithUUIDKeys())
	})
}

func TestDelegate_SequentialKeys(t *testing.T) {
	ctx := context.Background()
	d := New()
	defer d.Close()

	for want := int64(0); want < 3; want++ {
		key, err := d.Insert(ctx, "users", core.Fields{"name": "Alex"})
		require.NoError(t, err)
		assert.Equal(t, want, key)
	}

	// Sequences are per type.
	key, err := d.Insert(ctx, "posts", core.Fields{"title": "Hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), key)

	assert.Equal(t, 3, d.Len("users"))
	assert.Equal(t, 1, d.Len("posts"))
}

func TestDelegate_UUIDKeys(t *testing.T) {
	d := New(WithUUIDKeys())
	defer d.Close()

	key, err := d.Insert(context.Background(), "users", core.Fields{"name": "Alex"})
	require.NoError(t, err)

	s, ok := key.(string)
	require.True(t, ok)
	_, err = uuid.Parse(s)
	assert.NoError(t, err)
}

func TestDelegate_FindReturnsStoredKey(t *testing.T) {
	ctx := context.Background()
	d := New()
	defer d.Close()

	_, err := d.Insert(ctx, "users", core.Fields{"name": "Alex"})
	require.NoError(t, err)
	key, err := d.Insert(ctx, "users", core.Fields{"name": "Jake"})
	require.NoError(t, err)

	got, err := d.FindByPrimaryKey(ctx, "users", storage.PrimaryKey{Field: "user_id", Value: "1"})
	require.NoError(t, err)
	assert.Equal(t, core.Fields{"user_id": key, "name": "Jake"}, got)
}

func TestDelegate_KeepsArbitraryValues(t *testing.T) {
	ctx := context.Background()
	d := New()
	defer d.Close()

	tags := []string{"a", "b"}
	key, err := d.Insert(ctx, "users", core.Fields{"tags": tags})
	require.NoError(t, err)

	got, err := d.FindByPrimaryKey(ctx, "users", storage.PrimaryKey{Field: "id", Value: key})
	require.NoError(t, err)
	assert.Equal(t, tags, got["tags"])
}

func TestDelegate_CloseTwice(t *testing.T) {
	d := New()
	require.NoError(t, d.Close())
	assert.NoError(t, d.Close())
	assert.Zero(t, d.Len("users"))
}
