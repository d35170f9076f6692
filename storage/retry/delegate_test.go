package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/keepsake/core"
	"github.com/poiesic/keepsake/storage"
	"github.com/poiesic/keepsake/storage/memory"
	"github.com/poiesic/keepsake/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Delegate {
		d, err := Wrap(memory.New(), WithBaseDelay(time.Millisecond))
		require.NoError(t, err)
		return d
	})
}

func TestWrap_InvalidMaxAttempts(t *testing.T) {
	_, err := Wrap(memory.New(), WithMaxAttempts(0))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

// failing returns a func that fails n times with err and then succeeds.
func failing(n int, err error) func() error {
	return func() error {
		if n > 0 {
			n--
			return err
		}
		return nil
	}
}

func TestDelegate_RetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	pk := storage.PrimaryKey{Field: "id", Value: int64(1)}

	update := failing(2, storage.ErrConflict)
	del := failing(2, storage.ErrBackendUnavailable)
	find := failing(2, storage.ErrConflict)
	stub := &storagetest.Stub{
		UpdateFunc: func(context.Context, string, storage.PrimaryKey, core.Fields) (bool, error) {
			return true, update()
		},
		DeleteFunc: func(context.Context, string, storage.PrimaryKey) (bool, error) {
			return true, del()
		},
		FindFunc: func(context.Context, string, storage.PrimaryKey) (core.Fields, error) {
			if err := find(); err != nil {
				return nil, err
			}
			return core.Fields{"id": int64(1)}, nil
		},
	}

	d, err := Wrap(stub, WithBaseDelay(time.Millisecond))
	require.NoError(t, err)

	ok, err := d.Update(ctx, "users", pk, core.Fields{"a": 1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, stub.Count("update"))

	ok, err = d.Delete(ctx, "users", pk)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, stub.Count("delete"))

	fields, err := d.FindByPrimaryKey(ctx, "users", pk)
	require.NoError(t, err)
	assert.Equal(t, core.Fields{"id": int64(1)}, fields)
	assert.Equal(t, 3, stub.Count("find"))
}

func TestDelegate_GivesUp(t *testing.T) {
	stub := &storagetest.Stub{
		UpdateFunc: func(context.Context, string, storage.PrimaryKey, core.Fields) (bool, error) {
			return false, storage.ErrConflict
		},
	}

	d, err := Wrap(stub, WithMaxAttempts(4), WithBaseDelay(time.Millisecond))
	require.NoError(t, err)

	_, err = d.Update(context.Background(), "users", storage.PrimaryKey{Field: "id", Value: 1}, nil)
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.Equal(t, 4, stub.Count("update"))
}

func TestDelegate_PermanentErrorsNotRetried(t *testing.T) {
	stub := &storagetest.Stub{
		DeleteFunc: func(context.Context, string, storage.PrimaryKey) (bool, error) {
			return false, storage.ErrStorageClosed
		},
	}

	d, err := Wrap(stub, WithBaseDelay(time.Millisecond))
	require.NoError(t, err)

	_, err = d.Delete(context.Background(), "users", storage.PrimaryKey{Field: "id", Value: 1})
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.Equal(t, 1, stub.Count("delete"))
}

func TestDelegate_Inserts(t *testing.T) {
	newStub := func() *storagetest.Stub {
		fail := failing(1, storage.ErrBackendUnavailable)
		return &storagetest.Stub{
			InsertFunc: func(context.Context, string, core.Fields) (any, error) {
				if err := fail(); err != nil {
					return nil, err
				}
				return int64(9), nil
			},
		}
	}

	t.Run("not retried by default", func(t *testing.T) {
		stub := newStub()
		d, err := Wrap(stub, WithBaseDelay(time.Millisecond))
		require.NoError(t, err)

		_, err = d.Insert(context.Background(), "users", core.Fields{"a": 1})
		assert.ErrorIs(t, err, storage.ErrBackendUnavailable)
		assert.Equal(t, 1, stub.Count("insert"))
	})

	t.Run("retried when enabled", func(t *testing.T) {
		stub := newStub()
		d, err := Wrap(stub, WithBaseDelay(time.Millisecond), WithRetryInserts())
		require.NoError(t, err)

		key, err := d.Insert(context.Background(), "users", core.Fields{"a": 1})
		require.NoError(t, err)
		assert.Equal(t, int64(9), key)
		assert.Equal(t, 2, stub.Count("insert"))
	})
}

func TestDelegate_CustomRetryable(t *testing.T) {
	boom := errors.New("boom")
	fail := failing(1, boom)
	stub := &storagetest.Stub{
		FindFunc: func(context.Context, string, storage.PrimaryKey) (core.Fields, error) {
			return nil, fail()
		},
	}

	d, err := Wrap(stub, WithBaseDelay(time.Millisecond), WithRetryable(func(err error) bool {
		return errors.Is(err, boom)
	}))
	require.NoError(t, err)

	_, err = d.FindByPrimaryKey(context.Background(), "users", storage.PrimaryKey{Field: "id", Value: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, stub.Count("find"))
}

func TestDelegate_Close(t *testing.T) {
	stub := &storagetest.Stub{}
	d, err := Wrap(stub)
	require.NoError(t, err)

	require.NoError(t, d.Close())
	assert.Equal(t, 1, stub.Count("close"))
}
