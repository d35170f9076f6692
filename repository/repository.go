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


// Package repository persists change-tracking records through a storage
// delegate.
//
// A Repository decides whether a record needs creating or updating, hands the
// record's pending changes to its delegate, and commits the record once the
// delegate call succeeds. It holds no state besides its collaborators and is
// safe to share between goroutines; the records passed to it are not.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/keepsake/core"
	"github.com/poiesic/keepsake/storage"
)

// Factory builds an item from the raw fields returned by a delegate. It is
// also called with empty fields to build new items.
type Factory[T core.Item] func(raw core.Fields) T

// RecordFactory returns a factory for plain records using pk as their
// primary key field.
func RecordFactory(pk string) Factory[*core.Record] {
	return func(raw core.Fields) *core.Record {
		return core.NewRecord(core.WithPrimaryKey(pk)).Load(raw)
	}
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	primaryKey    string
	logger        *slog.Logger
	strictUpdates bool
}

// WithPrimaryKey sets the primary key field name. Defaults to core.DefaultPrimaryKey.
func WithPrimaryKey(field string) Option {
	return func(o *options) {
		o.primaryKey = field
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStrictUpdates makes Update fail with ErrNotUpdated, and leave the
// record uncommitted, when the delegate reports that nothing was updated.
// By default the record is committed anyway.
func WithStrictUpdates() Option {
	return func(o *options) {
		o.strictUpdates = true
	}
}

// Repository persists items of one type through a storage delegate.
type Repository[T core.Item] struct {
	delegate      storage.Delegate
	factory       Factory[T]
	typ           string
	primaryKey    string
	strictUpdates bool
	logger        *slog.Logger
}

// New creates a repository storing items under typ. The delegate is shared,
// not owned: closing it is the caller's job.
func New[T core.Item](delegate storage.Delegate, typ string, factory Factory[T], opts ...Option) (*Repository[T], error) {
	if typ == "" {
		return nil, ErrEmptyType
	}

	o := &options{
		primaryKey: core.DefaultPrimaryKey,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := core.ValidatePrimaryKey(o.primaryKey); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return &Repository[T]{
		delegate:      delegate,
		factory:       factory,
		typ:           typ,
		primaryKey:    o.primaryKey,
		strictUpdates: o.strictUpdates,
		logger:        o.logger.With("type", typ),
	}, nil
}

// Type returns the storage location hint passed to the delegate.
func (r *Repository[T]) Type() string {
	return r.typ
}

// PrimaryKey returns the primary key field name.
func (r *Repository[T]) PrimaryKey() string {
	return r.primaryKey
}

// Delegate returns the storage delegate.
func (r *Repository[T]) Delegate() storage.Delegate {
	return r.delegate
}

func (r *Repository[T]) pk(value any) storage.PrimaryKey {
	return storage.PrimaryKey{Field: r.primaryKey, Value: value}
}

// Save creates item if its primary key is unset and updates it otherwise.
// Whether the record was ever loaded is not considered, so an item given a
// key by hand is updated, not created.
func (r *Repository[T]) Save(ctx context.Context, item T) (T, error) {
	if item.AsRecord().IsSet(r.primaryKey) {
		return r.Update(ctx, item)
	}
	return r.Create(ctx, item)
}

// Create inserts item's pending changes, stores the returned key in the
// primary key field and commits the record. On error the record is left as
// it was and the delegate's error is returned unchanged.
func (r *Repository[T]) Create(ctx context.Context, item T) (T, error) {
	if r.delegate == nil {
		return item, ErrNoDelegateConfigured
	}

	rec := item.AsRecord()
	key, err := r.delegate.Insert(ctx, r.typ, rec.Changes())
	if err != nil {
		return item, err
	}

	rec.Set(r.primaryKey, key).Commit()
	r.logger.Debug("created record", "key", key)
	return item, nil
}

// Update writes item's pending changes to the record matching its primary
// key and commits the record.
//
// The record is committed even if the delegate reports that nothing matched;
// delegates must return an error to stop the commit. The mismatch is logged.
// Repositories created WithStrictUpdates return ErrNotUpdated instead.
func (r *Repository[T]) Update(ctx context.Context, item T) (T, error) {
	if r.delegate == nil {
		return item, ErrNoDelegateConfigured
	}

	rec := item.AsRecord()
	key, ok := rec.Get(r.primaryKey)
	if !ok {
		return item, ErrPrimaryKeyNotSet
	}

	updated, err := r.delegate.Update(ctx, r.typ, r.pk(key), rec.Changes())
	if err != nil {
		return item, err
	}
	if !updated {
		r.logger.Warn("delegate reported no record updated", "key", key, "strict", r.strictUpdates)
		if r.strictUpdates {
			return item, fmt.Errorf("%w: %s", ErrNotUpdated, r.pk(key))
		}
	}

	rec.Commit()
	r.logger.Debug("updated record", "key", key)
	return item, nil
}

// Delete removes the record matching item's primary key and reports whether
// the delegate found one. The item itself is not modified.
func (r *Repository[T]) Delete(ctx context.Context, item T) (bool, error) {
	if r.delegate == nil {
		return false, ErrNoDelegateConfigured
	}

	key, ok := item.AsRecord().Get(r.primaryKey)
	if !ok {
		return false, ErrPrimaryKeyNotSet
	}

	deleted, err := r.delegate.Delete(ctx, r.typ, r.pk(key))
	if err != nil {
		return false, err
	}
	r.logger.Debug("deleted record", "key", key, "found", deleted)
	return deleted, nil
}

// FindByID fetches the record whose primary key is id and builds an item
// from it. A missing record is not an error: the item is built from empty
// fields and its record reports IsLoaded() == false.
func (r *Repository[T]) FindByID(ctx context.Context, id any) (T, error) {
	var zero T
	if r.factory == nil {
		return zero, ErrNoFactoryConfigured
	}
	if r.delegate == nil {
		return zero, ErrNoDelegateConfigured
	}

	raw, err := r.delegate.FindByPrimaryKey(ctx, r.typ, r.pk(id))
	if errors.Is(err, storage.ErrNotFound) {
		raw, err = nil, nil
	}
	if err != nil {
		return zero, err
	}
	if raw == nil {
		raw = core.Fields{}
	}
	return r.factory(raw), nil
}

// NewItem builds a blank, unloaded item.
func (r *Repository[T]) NewItem() (T, error) {
	var zero T
	if r.factory == nil {
		return zero, ErrNoFactoryConfigured
	}
	return r.factory(core.Fields{}), nil
}
