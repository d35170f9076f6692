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


package badger

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/keepsake/core"
	"github.com/poiesic/keepsake/storage"
)

// Delegate implements storage.Delegate on BadgerDB. Each type gets its own
// key range and its own ID sequence; IDs start at 1.
type Delegate struct {
	backend *Backend
	logger  *slog.Logger

	mu     sync.Mutex
	seqs   map[string]*badger.Sequence
	closed atomic.Bool
}

var _ storage.Delegate = (*Delegate)(nil)

type config struct {
	inMemory bool
	logger   *slog.Logger
}

// Option configures Open.
type Option func(*config)

// WithInMemory keeps all data in memory. The path is ignored.
func WithInMemory() Option {
	return func(c *config) {
		c.inMemory = true
	}
}

// WithLogger sets the logger for the delegate and the underlying database.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Open opens (or creates) a database at path and returns a delegate using it.
func Open(path string, opts ...Option) (*Delegate, error) {
	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	backend, err := OpenBackend(path, cfg.inMemory, cfg.logger)
	if err != nil {
		return nil, err
	}
	return NewDelegate(backend), nil
}

// NewDelegate creates a delegate on an open backend. Closing the delegate
// closes the backend.
func NewDelegate(backend *Backend) *Delegate {
	return &Delegate{
		backend: backend,
		logger:  backend.logger,
		seqs:    make(map[string]*badger.Sequence),
	}
}

// nextID returns the next ID from typ's sequence, creating it on first use.
func (d *Delegate) nextID(typ string) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return 0, storage.ErrStorageClosed
	}
	seq, ok := d.seqs[typ]
	if !ok {
		var err error
		seq, err = d.backend.GetSequence(makeSequenceKey(typ))
		if err != nil {
			return 0, err
		}
		d.seqs[typ] = seq
	}

	nextID, err := seq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if nextID == 0 {
		nextID, err = seq.Next()
		if err != nil {
			return 0, err
		}
	}
	return nextID, nil
}

func (d *Delegate) check(typ string) error {
	if err := storage.ValidateType(typ); err != nil {
		return err
	}
	if d.closed.Load() {
		return storage.ErrStorageClosed
	}
	return nil
}

// recordID converts a primary key value to a record ID. Values that cannot
// name a record report false.
func recordID(v any) (uint64, bool) {
	id, ok := storage.IntKey(v)
	if !ok || id <= 0 {
		return 0, false
	}
	return uint64(id), true
}

func (d *Delegate) Insert(ctx context.Context, typ string, fields core.Fields) (any, error) {
	if err := d.check(typ); err != nil {
		return nil, err
	}

	id, err := d.nextID(typ)
	if err != nil {
		return nil, err
	}
	key := int64(id)

	value, err := storage.MarshalRow(storage.Row{Key: key, Fields: fields})
	if err != nil {
		return nil, err
	}

	err = d.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeRecordKey(typ, id), value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("inserted record", "type", typ, "id", key)
	return key, nil
}

func (d *Delegate) Update(ctx context.Context, typ string, pk storage.PrimaryKey, fields core.Fields) (bool, error) {
	if err := d.check(typ); err != nil {
		return false, err
	}
	id, ok := recordID(pk.Value)
	if !ok {
		return false, nil
	}

	found := false
	err := d.backend.WithTx(func(tx *badger.Txn) error {
		key := makeRecordKey(typ, id)
		row, err := readRow(tx, key)
		if err != nil || row == nil {
			return err
		}
		found = true

		if row.Fields == nil {
			row.Fields = make(core.Fields, len(fields))
		}
		maps.Copy(row.Fields, fields)
		value, err := storage.MarshalRow(*row)
		if err != nil {
			return err
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return false, err
	}
	return found, nil
}

func (d *Delegate) Delete(ctx context.Context, typ string, pk storage.PrimaryKey) (bool, error) {
	if err := d.check(typ); err != nil {
		return false, err
	}
	id, ok := recordID(pk.Value)
	if !ok {
		return false, nil
	}

	found := false
	err := d.backend.WithTx(func(tx *badger.Txn) error {
		key := makeRecordKey(typ, id)
		_, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		if err := tx.Delete(key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return false, err
	}
	return found, nil
}

func (d *Delegate) FindByPrimaryKey(ctx context.Context, typ string, pk storage.PrimaryKey) (core.Fields, error) {
	if err := d.check(typ); err != nil {
		return nil, err
	}
	id, ok := recordID(pk.Value)
	if !ok {
		return nil, nil
	}

	var row *storage.Row
	err := d.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		row, err = readRow(tx, makeRecordKey(typ, id))
		return err
	}, false)
	if err != nil || row == nil {
		return nil, err
	}

	fields := row.Fields
	if fields == nil {
		fields = make(core.Fields, 1)
	}
	fields[pk.Field] = row.Key
	return fields, nil
}

// Count returns the number of records stored under typ.
func (d *Delegate) Count(ctx context.Context, typ string) (int, error) {
	if err := d.check(typ); err != nil {
		return 0, err
	}

	count := 0
	err := d.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeTypePrefix(typ)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// Close releases the ID sequences and closes the database.
func (d *Delegate) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	d.mu.Lock()
	var errs []error
	for typ, seq := range d.seqs {
		if err := seq.Release(); err != nil {
			errs = append(errs, err)
			d.logger.Warn("failed to release sequence", "type", typ, "error", err)
		}
	}
	d.seqs = nil
	d.mu.Unlock()

	if err := d.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// readRow reads and decodes the row at key. Returns nil, nil if absent.
func readRow(tx *badger.Txn, key []byte) (*storage.Row, error) {
	item, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var row storage.Row
	err = item.Value(func(val []byte) error {
		row, err = storage.UnmarshalRow(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}
