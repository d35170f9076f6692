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


// Package retry wraps a storage.Delegate so that transient failures are
// retried with exponential backoff.
//
// Inserts are not retried unless WithRetryInserts is given: an insert whose
// reply was lost may already have been stored, and a second attempt would
// store it twice.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/poiesic/keepsake/core"
	"github.com/poiesic/keepsake/storage"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 50 * time.Millisecond
)

// Delegate retries the operations of the delegate it wraps.
type Delegate struct {
	next         storage.Delegate
	maxAttempts  int
	baseDelay    time.Duration
	retryable    func(error) bool
	retryInserts bool
	logger       *slog.Logger
}

var _ storage.Delegate = (*Delegate)(nil)

// Option configures a Delegate.
type Option func(*Delegate)

// WithMaxAttempts sets the total number of attempts per operation.
func WithMaxAttempts(n int) Option {
	return func(d *Delegate) {
		d.maxAttempts = n
	}
}

// WithBaseDelay sets the delay before the second attempt. Each later delay doubles.
func WithBaseDelay(delay time.Duration) Option {
	return func(d *Delegate) {
		d.baseDelay = delay
	}
}

// WithRetryable replaces Transient as the test for retryable errors.
func WithRetryable(fn func(error) bool) Option {
	return func(d *Delegate) {
		d.retryable = fn
	}
}

// WithRetryInserts retries inserts too.
func WithRetryInserts() Option {
	return func(d *Delegate) {
		d.retryInserts = true
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Delegate) {
		d.logger = logger
	}
}

// Wrap returns a retrying delegate around next.
func Wrap(next storage.Delegate, opts ...Option) (*Delegate, error) {
	d := &Delegate{
		next:        next,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		retryable:   Transient,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxAttempts <= 0 {
		return nil, ErrInvalidMaxAttempts
	}
	return d, nil
}

func (d *Delegate) do(ctx context.Context, op string, typ string, fn func() error) error {
	logger := d.logger.With("op", op, "type", typ)
	return WithBackoff(ctx, logger, fn, d.maxAttempts, d.baseDelay, d.retryable)
}

func (d *Delegate) Insert(ctx context.Context, typ string, fields core.Fields) (any, error) {
	if !d.retryInserts {
		return d.next.Insert(ctx, typ, fields)
	}
	var key any
	err := d.do(ctx, "insert", typ, func() error {
		var err error
		key, err = d.next.Insert(ctx, typ, fields)
		return err
	})
	return key, err
}

func (d *Delegate) Update(ctx context.Context, typ string, pk storage.PrimaryKey, fields core.Fields) (bool, error) {
	var ok bool
	err := d.do(ctx, "update", typ, func() error {
		var err error
		ok, err = d.next.Update(ctx, typ, pk, fields)
		return err
	})
	return ok, err
}

func (d *Delegate) Delete(ctx context.Context, typ string, pk storage.PrimaryKey) (bool, error) {
	var ok bool
	err := d.do(ctx, "delete", typ, func() error {
		var err error
		ok, err = d.next.Delete(ctx, typ, pk)
		return err
	})
	return ok, err
}

func (d *Delegate) FindByPrimaryKey(ctx context.Context, typ string, pk storage.PrimaryKey) (core.Fields, error) {
	var fields core.Fields
	err := d.do(ctx, "find", typ, func() error {
		var err error
		fields, err = d.next.FindByPrimaryKey(ctx, typ, pk)
		return err
	})
	return fields, err
}

// Close closes the wrapped delegate.
func (d *Delegate) Close() error {
	return d.next.Close()
}
