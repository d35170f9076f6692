// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package storagetest provides a conformance suite for storage.Delegate
// implementations.
package storagetest

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/poiesic/keepsake/core"
	"github.com/poiesic/keepsake/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory creates a fresh delegate for a single test. The suite closes it.
type Factory func(t *testing.T) storage.Delegate

const pkField = core.DefaultPrimaryKey

// Run runs every conformance test against delegates built by factory.
// Each test writes under its own type hint, so backends shared between tests
// (a Redis database, a Postgres schema) do not need to be emptied.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		test func(t *testing.T, d storage.Delegate, typ string)
	}{
		{"InsertFind", testInsertFind},
		{"ValueKinds", testValueKinds},
		{"DistinctKeys", testDistinctKeys},
		{"FindMissing", testFindMissing},
		{"FindByKeyString", testFindByKeyString},
		{"FindReturnsCopy", testFindReturnsCopy},
		{"UpdateMerges", testUpdateMerges},
		{"UpdateMissing", testUpdateMissing},
		{"Delete", testDelete},
		{"TypeIsolation", testTypeIsolation},
		{"InvalidType", testInvalidType},
		{"ConcurrentInserts", testConcurrentInserts},
		{"Closed", testClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := factory(t)
			t.Cleanup(func() { _ = d.Close() })
			tt.test(t, d, TypeName())
		})
	}
}

// TypeName returns a unique, valid type hint.
func TypeName() string {
	return "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func pk(key any) storage.PrimaryKey {
	return storage.PrimaryKey{Field: pkField, Value: key}
}

func testInsertFind(t *testing.T, d storage.Delegate, typ string) {
	ctx := context.Background()

	key, err := d.Insert(ctx, typ, core.Fields{"name": "Alex", "age": int64(31)})
	require.NoError(t, err)
	require.NotNil(t, key)

	got, err := d.FindByPrimaryKey(ctx, typ, pk(key))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alex", got["name"])
	assert.Equal(t, int64(31), got["age"])
	assert.Equal(t, storage.KeyString(key), storage.KeyString(got[pkField]))
}

func testValueKinds(t *testing.T, d storage.Delegate, typ string) {
	ctx := context.Background()
	fields := core.Fields{
		"s": "text",
		"i": int64(-7),
		"f": 1.25,
		"b": true,
		"n": nil,
	}

	key, err := d.Insert(ctx, typ, fields)
	require.NoError(t, err)

	got, err := d.FindByPrimaryKey(ctx, typ, pk(key))
	require.NoError(t, err)
	for name, want := range fields {
		v, ok := got[name]
		assert.True(t, ok, "field %q missing", name)
		assert.Equal(t, want, v, "field %q", name)
	}
}

func testDistinctKeys(t *testing.T, d storage.Delegate, typ string) {
	ctx := context.Background()
	seen := make(map[string]bool)

	for i := 0; i < 5; i++ {
		key, err := d.Insert(ctx, typ, core.Fields{"n": int64(i)})
		require.NoError(t, err)
		ks := storage.KeyString(key)
		assert.False(t, seen[ks], "duplicate key %s", ks)
		seen[ks] = true
	}
}

func testFindMissing(t *testing.T, d storage.Delegate, typ string) {
	got, err := d.FindByPrimaryKey(context.Background(), typ, pk(int64(987654321)))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testFindByKeyString(t *testing.T, d storage.Delegate, typ string) {
	ctx := context.Background()

	key, err := d.Insert(ctx, typ, core.Fields{"name": "Alex"})
	require.NoError(t, err)

	got, err := d.FindByPrimaryKey(ctx, typ, pk(storage.KeyString(key)))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alex", got["name"])
}

func testFindReturnsCopy(t *testing.T, d storage.Delegate, typ string) {
	ctx := context.Background()
	in := core.Fields{"name": "Alex"}

	key, err := d.Insert(ctx, typ, in)
	require.NoError(t, err)
	in["name"] = "changed after insert"

	got, err := d.FindByPrimaryKey(ctx, typ, pk(key))
	require.NoError(t, err)
	got["name"] = "changed after find"

	again, err := d.FindByPrimaryKey(ctx, typ, pk(key))
	require.NoError(t, err)
	assert.Equal(t, "Alex", again["name"])
}

func testUpdateMerges(t *testing.T, d storage.Delegate, typ string) {
	ctx := context.Background()

	key, err := d.Insert(ctx, typ, core.Fields{"a": int64(1), "b": int64(2)})
	require.NoError(t, err)

	ok, err := d.Update(ctx, typ, pk(key), core.Fields{"b": int64(3), "c": "new"})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := d.FindByPrimaryKey(ctx, typ, pk(key))
	require.NoError(t, err)
	assert.Equal(t, int64(1), got["a"])
	assert.Equal(t, int64(3), got["b"])
	assert.Equal(t, "new", got["c"])
}

func testUpdateMissing(t *testing.T, d storage.Delegate, typ string) {
	ok, err := d.Update(context.Background(), typ, pk(int64(987654321)), core.Fields{"a": int64(1)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func testDelete(t *testing.T, d storage.Delegate, typ string) {
	ctx := context.Background()

	key, err := d.Insert(ctx, typ, core.Fields{"name": "Alex"})
	require.NoError(t, err)

	ok, err := d.Delete(ctx, typ, pk(key))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := d.FindByPrimaryKey(ctx, typ, pk(key))
	require.NoError(t, err)
	assert.Nil(t, got)

	ok, err = d.Delete(ctx, typ, pk(key))
	require.NoError(t, err)
	assert.False(t, ok)
}

func testTypeIsolation(t *testing.T, d storage.Delegate, typ string) {
	ctx := context.Background()
	other := TypeName()

	key, err := d.Insert(ctx, typ, core.Fields{"name": "Alex"})
	require.NoError(t, err)

	// Make sure the other type has a row at the same key, if keys are per type.
	_, err = d.Insert(ctx, other, core.Fields{"name": "Jake"})
	require.NoError(t, err)

	got, err := d.FindByPrimaryKey(ctx, typ, pk(key))
	require.NoError(t, err)
	assert.Equal(t, "Alex", got["name"])

	ok, err := d.Update(ctx, other, pk(key), core.Fields{"name": "Sam"})
	require.NoError(t, err)
	if ok {
		// Shared key space: the update must have landed in other, not typ.
		got, err = d.FindByPrimaryKey(ctx, typ, pk(key))
		require.NoError(t, err)
		assert.Equal(t, "Alex", got["name"])
	}
}

func testInvalidType(t *testing.T, d storage.Delegate, _ string) {
	ctx := context.Background()
	bad := "users; drop table users"

	_, err := d.Insert(ctx, bad, core.Fields{"name": "Alex"})
	assert.ErrorIs(t, err, storage.ErrInvalidType)

	_, err = d.FindByPrimaryKey(ctx, bad, pk(int64(1)))
	assert.ErrorIs(t, err, storage.ErrInvalidType)

	_, err = d.Update(ctx, bad, pk(int64(1)), core.Fields{"name": "Alex"})
	assert.ErrorIs(t, err, storage.ErrInvalidType)

	_, err = d.Delete(ctx, bad, pk(int64(1)))
	assert.ErrorIs(t, err, storage.ErrInvalidType)
}

func testConcurrentInserts(t *testing.T, d storage.Delegate, typ string) {
	const n = 20
	ctx := context.Background()

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		keys = make(map[string]bool)
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, err := d.Insert(ctx, typ, core.Fields{"n": int64(i)})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			keys[storage.KeyString(key)] = true
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, keys, n)
}

func testClosed(t *testing.T, d storage.Delegate, typ string) {
	ctx := context.Background()

	key, err := d.Insert(ctx, typ, core.Fields{"name": "Alex"})
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = d.Insert(ctx, typ, core.Fields{"name": "Jake"})
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	_, err = d.FindByPrimaryKey(ctx, typ, pk(key))
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	_, err = d.Update(ctx, typ, pk(key), core.Fields{"name": "Jake"})
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	_, err = d.Delete(ctx, typ, pk(key))
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
