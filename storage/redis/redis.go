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


// Package redis provides a storage.Delegate on Redis.
//
// Each type is one hash mapping record IDs to rows encoded with
// storage.MarshalRow, plus a counter supplying IDs. With the default prefix
// the keys for type "users" are "keepsake:users:rows" and "keepsake:users:seq".
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/poiesic/keepsake/core"
	"github.com/poiesic/keepsake/storage"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix   = "keepsake"
	maxWatchRetries = 3
)

// Delegate implements storage.Delegate on a Redis client.
type Delegate struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
	closed atomic.Bool
}

var _ storage.Delegate = (*Delegate)(nil)

// Option configures a Delegate.
type Option func(*Delegate)

// WithPrefix sets the namespace prepended to every key.
func WithPrefix(prefix string) Option {
	return func(d *Delegate) {
		if prefix != "" {
			d.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Delegate) {
		d.logger = logger
	}
}

// Open connects to the server at redisURL (redis://host:port/db) and checks
// that it answers.
func Open(ctx context.Context, redisURL string, opts ...Option) (*Delegate, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", storage.ErrBackendUnavailable, err)
	}
	return New(client, opts...), nil
}

// New creates a delegate on an existing client. Closing the delegate closes
// the client.
func New(client *redis.Client, opts ...Option) *Delegate {
	d := &Delegate{
		client: client,
		prefix: defaultPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Delegate) rowsKey(typ string) string {
	return d.prefix + ":" + typ + ":rows"
}

func (d *Delegate) seqKey(typ string) string {
	return d.prefix + ":" + typ + ":seq"
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

// wrapError maps client errors onto storage errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%w: %w", storage.ErrStorageClosed, err)
	}
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %w", storage.ErrConflict, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", storage.ErrBackendUnavailable, err)
	}
	return err
}

// field returns the hash field addressing pk. Keys that are not integers
// cannot address a row.
func field(pk storage.PrimaryKey) (string, int64, bool) {
	id, ok := storage.IntKey(pk.Value)
	if !ok {
		return "", 0, false
	}
	return strconv.FormatInt(id, 10), id, true
}

func (d *Delegate) Insert(ctx context.Context, typ string, fields core.Fields) (any, error) {
	if err := d.check(typ); err != nil {
		return nil, err
	}

	data, err := storage.MarshalFields(fields)
	if err != nil {
		return nil, err
	}

	id, err := d.client.Incr(ctx, d.seqKey(typ)).Result()
	if err != nil {
		return nil, wrapError(err)
	}
	if err := d.client.HSet(ctx, d.rowsKey(typ), strconv.FormatInt(id, 10), data).Err(); err != nil {
		return nil, wrapError(err)
	}
	return id, nil
}

func (d *Delegate) Update(ctx context.Context, typ string, pk storage.PrimaryKey, fields core.Fields) (bool, error) {
	if err := d.check(typ); err != nil {
		return false, err
	}
	f, _, ok := field(pk)
	if !ok {
		return false, nil
	}

	key := d.rowsKey(typ)
	found := false
	update := func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, key, f).Bytes()
		if errors.Is(err, redis.Nil) {
			found = false
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

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, f, data)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxWatchRetries; i++ {
		err = d.client.Watch(ctx, update, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		d.logger.Debug("optimistic update lost race", "type", typ, "key", f, "attempt", i+1)
	}
	if err != nil {
		return false, wrapError(err)
	}
	return found, nil
}

func (d *Delegate) Delete(ctx context.Context, typ string, pk storage.PrimaryKey) (bool, error) {
	if err := d.check(typ); err != nil {
		return false, err
	}
	f, _, ok := field(pk)
	if !ok {
		return false, nil
	}

	n, err := d.client.HDel(ctx, d.rowsKey(typ), f).Result()
	if err != nil {
		return false, wrapError(err)
	}
	return n > 0, nil
}

func (d *Delegate) FindByPrimaryKey(ctx context.Context, typ string, pk storage.PrimaryKey) (core.Fields, error) {
	if err := d.check(typ); err != nil {
		return nil, err
	}
	f, id, ok := field(pk)
	if !ok {
		return nil, nil
	}

	data, err := d.client.HGet(ctx, d.rowsKey(typ), f).Bytes()
	if errors.Is(err, redis.Nil) {
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

// Close closes the client.
func (d *Delegate) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.client.Close()
}
