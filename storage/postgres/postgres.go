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


// Package postgres provides a storage.Delegate on PostgreSQL.
//
// Each type is stored in its own table with a BIGSERIAL primary key and a
// bytea column holding the row encoded with storage.MarshalRow. Tables are
// created on first use.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/poiesic/keepsake/core"
	"github.com/poiesic/keepsake/storage"
)

// SQLSTATE codes that mean the statement may succeed if tried again.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Delegate implements storage.Delegate on a pgx connection pool.
type Delegate struct {
	pool   *pgxpool.Pool
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

// Open connects to the database named by dsn and checks that it answers.
func Open(ctx context.Context, dsn string, opts ...Option) (*Delegate, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", storage.ErrBackendUnavailable, err)
	}
	return New(pool, opts...), nil
}

// New creates a delegate on an existing pool. Closing the delegate closes
// the pool.
func New(pool *pgxpool.Pool, opts ...Option) *Delegate {
	d := &Delegate{
		pool:   pool,
		logger: slog.Default(),
		tables: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func tableName(typ string) string {
	return pgx.Identifier{typ}.Sanitize()
}

// wrapError maps driver errors onto storage errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %w", storage.ErrConflict, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", storage.ErrBackendUnavailable, err)
	}
	return err
}

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

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		data BYTEA NOT NULL
	)`, tableName(typ))
	if _, err := d.pool.Exec(ctx, stmt); err != nil {
		return wrapError(err)
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

	var id int64
	err = d.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (data) VALUES ($1) RETURNING id`, tableName(typ)), data,
	).Scan(&id)
	if err != nil {
		return nil, wrapError(err)
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

	found := false
	err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		var data []byte
		err := tx.QueryRow(ctx,
			fmt.Sprintf(`SELECT data FROM %s WHERE id = $1 FOR UPDATE`, tableName(typ)), id,
		).Scan(&data)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true

		stored, err := storage.UnmarshalFields(data)
		if err != nil {
			return err
		}
		maps.Copy(stored, fields)
		data, err = storage.MarshalFields(stored)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET data = $1 WHERE id = $2`, tableName(typ)), data, id)
		return err
	})
	if err != nil {
		return false, wrapError(err)
	}
	return found, nil
}

func (d *Delegate) Delete(ctx context.Context, typ string, pk storage.PrimaryKey) (bool, error) {
	if err := d.ensureTable(ctx, typ); err != nil {
		return false, err
	}
	id, ok := storage.IntKey(pk.Value)
	if !ok {
		return false, nil
	}

	tag, err := d.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, tableName(typ)), id)
	if err != nil {
		return false, wrapError(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (d *Delegate) FindByPrimaryKey(ctx context.Context, typ string, pk storage.PrimaryKey) (core.Fields, error) {
	if err := d.ensureTable(ctx, typ); err != nil {
		return nil, err
	}
	id, ok := storage.IntKey(pk.Value)
	if !ok {
		return nil, nil
	}

	var data []byte
	err := d.pool.QueryRow(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = $1`, tableName(typ)), id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(err)
	}

	fields, err := storage.UnmarshalFields(data)
	if err != nil {
		return nil, err
	}
	fields[pk.Field] = id
	return fields, nil
}

// Close closes the pool.
func (d *Delegate) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.pool.Close()
	return nil
}
