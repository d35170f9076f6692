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


// Package memory provides an in-process storage.Delegate backed by maps.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/poiesic/keepsake/core"
	"github.com/poiesic/keepsake/storage"
)

// KeyFunc generates the key for a new record of the given type.
type KeyFunc func(typ string) any

// Delegate keeps records in memory. Keys are assigned per type from a
// counter starting at zero unless another KeyFunc is configured.
type Delegate struct {
	mu     sync.RWMutex
	tables map[string]map[string]storage.Row
	seq    map[string]int64
	keyFn  KeyFunc
	closed bool
}

var _ storage.Delegate = (*Delegate)(nil)

// Option configures a Delegate.
type Option func(*Delegate)

// WithKeyFunc replaces the sequential key generator.
func WithKeyFunc(fn KeyFunc) Option {
	return func(d *Delegate) {
		d.keyFn = fn
	}
}

// WithUUIDKeys assigns random UUID strings as keys.
func WithUUIDKeys() Option {
	return WithKeyFunc(func(string) any {
		return uuid.NewString()
	})
}

// New creates an empty in-memory delegate.
func New(opts ...Option) *Delegate {
	d := &Delegate{
		tables: make(map[string]map[string]storage.Row),
		seq:    make(map[string]int64),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// nextKey must be called with the write lock held.
func (d *Delegate) nextKey(typ string) any {
	if d.keyFn != nil {
		return d.keyFn(typ)
	}
	key := d.seq[typ]
	d.seq[typ] = key + 1
	return key
}

func (d *Delegate) Insert(ctx context.Context, typ string, fields core.Fields) (any, error) {
	if err := storage.ValidateType(typ); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, storage.ErrStorageClosed
	}

	table, ok := d.tables[typ]
	if !ok {
		table = make(map[string]storage.Row)
		d.tables[typ] = table
	}
	key := d.nextKey(typ)
	table[storage.KeyString(key)] = storage.Row{Key: key, Fields: fields.Clone()}
	return key, nil
}

func (d *Delegate) Update(ctx context.Context, typ string, pk storage.PrimaryKey, fields core.Fields) (bool, error) {
	if err := storage.ValidateType(typ); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, storage.ErrStorageClosed
	}

	row, ok := d.tables[typ][storage.KeyString(pk.Value)]
	if !ok {
		return false, nil
	}
	maps.Copy(row.Fields, fields)
	return true, nil
}

func (d *Delegate) Delete(ctx context.Context, typ string, pk storage.PrimaryKey) (bool, error) {
	if err := storage.ValidateType(typ); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, storage.ErrStorageClosed
	}

	table := d.tables[typ]
	key := storage.KeyString(pk.Value)
	if _, ok := table[key]; !ok {
		return false, nil
	}
	delete(table, key)
	return true, nil
}

func (d *Delegate) FindByPrimaryKey(ctx context.Context, typ string, pk storage.PrimaryKey) (core.Fields, error) {
	if err := storage.ValidateType(typ); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, storage.ErrStorageClosed
	}

	row, ok := d.tables[typ][storage.KeyString(pk.Value)]
	if !ok {
		return nil, nil
	}
	out := row.Fields.Clone()
	out[pk.Field] = row.Key
	return out, nil
}

// Len returns the number of records stored under typ.
func (d *Delegate) Len(typ string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tables[typ])
}

// Close drops all data. Further calls fail with storage.ErrStorageClosed.
func (d *Delegate) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.tables = nil
	d.seq = nil
	return nil
}
