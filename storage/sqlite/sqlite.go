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


// Package sqlite provides a storage.Delegate on SQLite.
//
// Each type is stored in its own table with an integer primary key and a data
// column holding the row encoded with storage.MarshalRow. Tables are created
// on first use.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/poiesic/keepsake/core"
	"github.com/poiesic/keepsake/storage"
	"modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const (
	sqliteBusy       = 5
	sqliteConstraint = 19
)

// Delegate implements storage.Delegate on a SQLite database.
type Delegate struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.Mutex
	tables map[string]bool
	closed atomic.Bool
}

var _ storage.Delegate = (*Delegate)(nil)

// Option configures a Delegate.
type Option func(*Delegate)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Delegate) {
		d.logger = logger
	}
}

// Open opens the database file at path, creating it if needed.
func Open(ctx context.Context, path string, opts ...Option) (*Delegate, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrBackendUnavailable, err)
	}
	// SQLite allows one writer at a time, and every connection to ":memory:"
	// is a separate database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", storage.ErrBackendUnavailable, wrapDBError(err))
	}

	d := &Delegate{
		db:     db,
		logger: slog.Default(),
		tables: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// wrapDBError maps SQLite engine errors onto storage errors.
func wrapDBError(err error) error {
	if err == nil {
		return nil
	}
	sqliteErr := &sqlite.Error{}
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqliteBusy:
			return fmt.Errorf("%w: %s", storage.ErrConflict, err.Error())
		case sqliteConstraint:
			return fmt.Errorf("constraint violation: %w", err)
		}
		return err
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", storage.ErrStorageClosed, err)
	}
	return err
}

// ensureTable creates typ's table if this delegate has not seen it yet.
func (d *Delegate) ensureTable(ctx context.Context, typ string) error {
	if err := storage.ValidateType(typ); err != nil {
		return err
	}
	if d.closed.Load() {
		return storage.ErrStorageClosed
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tables[typ] {
		return nil
	}

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		data BLOB NOT NULL
	)`, typ)
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return wrapDBError(err)
	}
	d.tables[typ] = true
	d.logger.Debug("ensured table", "type", typ)
	return nil
}

func (d *Delegate) Insert(ctx context.Context, typ string, fields core.Fields) (any, error) {
	if err := d.ensureTable(ctx, typ); err != nil {
		return nil, err
	}

	data, err := storage.MarshalFields(fields)
	if err != nil {
		return nil, err
	}

	res, err := d.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO "%s" (data) VALUES (?)`, typ), data)
	if err != nil {
		return nil, wrapDBError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, wrapDBError(err)
	}
	return id, nil
}

func (d *Delegate) Update(ctx context.Context, typ string, pk storage.PrimaryKey, fields core.Fields) (bool, error) {
	if err := d.ensureTable(ctx, typ); err != nil {
		return false, err
	}
	id, ok := storage.IntKey(pk.Value)
	if !ok {
		return false, nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapDBError(err)
	}
	defer tx.Rollback()

	stored, err := selectFields(ctx, tx, typ, id)
	if err != nil || stored == nil {
		return false, err
	}
	maps.Copy(stored, fields)

	data, err := storage.MarshalFields(stored)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE "%s" SET data = ? WHERE id = ?`, typ), data, id); err != nil {
		return false, wrapDBError(err)
	}
	if err := tx.Commit(); err != nil {
		return false, wrapDBError(err)
	}
	return true, nil
}

func (d *Delegate) Delete(ctx context.Context, typ string, pk storage.PrimaryKey) (bool, error) {
	if err := d.ensureTable(ctx, typ); err != nil {
		return false, err
	}
	id, ok := storage.IntKey(pk.Value)
	if !ok {
		return false, nil
	}

	res, err := d.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM "%s" WHERE id = ?`, typ), id)
	if err != nil {
		return false, wrapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError(err)
	}
	return n > 0, nil
}

func (d *Delegate) FindByPrimaryKey(ctx context.Context, typ string, pk storage.PrimaryKey) (core.Fields, error) {
	if err := d.ensureTable(ctx, typ); err != nil {
		return nil, err
	}
	id, ok := storage.IntKey(pk.Value)
	if !ok {
		return nil, nil
	}

	fields, err := selectFields(ctx, d.db, typ, id)
	if err != nil || fields == nil {
		return nil, err
	}
	fields[pk.Field] = id
	return fields, nil
}

// Close closes the database.
func (d *Delegate) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.db.Close()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// selectFields reads and decodes the row with the given id. Returns nil, nil
// if there is none.
func selectFields(ctx context.Context, q querier, typ string, id int64) (core.Fields, error) {
	var data []byte
	err := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM "%s" WHERE id = ?`, typ), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError(err)
	}

	fields, err := storage.UnmarshalFields(data)
	if err != nil {
		return nil, err
	}
	return fields, nil
}
