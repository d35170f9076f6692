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


// Package keepsake opens configured storage for change-tracking records.
//
// A Store owns one storage delegate, built from a config.Config and wrapped
// in the retry and metrics decorators the configuration asks for.
// Repositories for any number of types share it:
//
//	store, err := keepsake.Open(ctx, config.NewConfig(
//	    config.WithBackend(config.BackendSQLite),
//	    config.WithPath("app.db"),
//	))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	users, err := keepsake.NewRepository(store, "users", repository.RecordFactory("id"))
package keepsake

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/keepsake/config"
	"github.com/poiesic/keepsake/core"
	"github.com/poiesic/keepsake/repository"
	"github.com/poiesic/keepsake/storage"
	"github.com/poiesic/keepsake/storage/badger"
	"github.com/poiesic/keepsake/storage/memory"
	"github.com/poiesic/keepsake/storage/metrics"
	"github.com/poiesic/keepsake/storage/postgres"
	"github.com/poiesic/keepsake/storage/redis"
	"github.com/poiesic/keepsake/storage/retry"
	"github.com/poiesic/keepsake/storage/sqlite"
	"github.com/prometheus/client_golang/prometheus"
)

// Store holds the delegate stack for a configured backend.
type Store struct {
	cfg      config.Config
	delegate storage.Delegate
	logger   *slog.Logger
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
}

// WithLogger sets the logger used by the store, its delegates and the
// repositories created through NewRepository.
func WithLogger(logger *slog.Logger) Option {
	return func(o *openOptions) {
		o.logger = logger
	}
}

// WithRegisterer sets where storage metrics are registered when metrics are
// enabled. Defaults to prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *openOptions) {
		o.registerer = reg
	}
}

// Open validates cfg, opens its backend and wraps it in the configured
// decorators. Metrics wrap retries, so each attempt the caller sees is
// counted once.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Store, error) {
	o := &openOptions{
		logger:     slog.Default(),
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(o)
	}

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := openBackend(ctx, cfg, o.logger)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}

	delegate := base
	if cfg.Retry.Enabled {
		retryOpts := []retry.Option{
			retry.WithMaxAttempts(cfg.Retry.MaxAttempts),
			retry.WithBaseDelay(cfg.Retry.BaseDelay),
			retry.WithLogger(o.logger),
		}
		if cfg.Retry.Inserts {
			retryOpts = append(retryOpts, retry.WithRetryInserts())
		}
		delegate, err = retry.Wrap(delegate, retryOpts...)
		if err != nil {
			base.Close()
			return nil, err
		}
	}
	if cfg.Metrics.Enabled {
		collector, err := metrics.NewCollector(o.registerer, cfg.Metrics.Namespace)
		if err != nil {
			base.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		delegate = metrics.Wrap(delegate, collector)
	}

	o.logger.Debug("opened store", "backend", cfg.Backend,
		"retry", cfg.Retry.Enabled, "metrics", cfg.Metrics.Enabled)

	return &Store{
		cfg:      *cfg,
		delegate: delegate,
		logger:   o.logger,
	}, nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Delegate, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendBadger:
		opts := []badger.Option{badger.WithLogger(logger)}
		if cfg.InMemory {
			opts = append(opts, badger.WithInMemory())
		}
		return badger.Open(cfg.Path, opts...)
	case config.BackendSQLite:
		return sqlite.Open(ctx, cfg.Path, sqlite.WithLogger(logger))
	case config.BackendRedis:
		return redis.Open(ctx, cfg.DSN, redis.WithPrefix(cfg.Prefix), redis.WithLogger(logger))
	case config.BackendPostgres:
		return postgres.Open(ctx, cfg.DSN, postgres.WithLogger(logger))
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}

// Backend returns the name of the backend in use.
func (s *Store) Backend() string {
	return s.cfg.Backend
}

// Delegate returns the outermost delegate of the stack.
func (s *Store) Delegate() storage.Delegate {
	return s.delegate
}

// Close closes the backend.
func (s *Store) Close() error {
	if err := s.delegate.Close(); err != nil {
		s.logger.Error("error closing storage", "backend", s.cfg.Backend, "err", err)
		return err
	}
	return nil
}

// NewRepository creates a repository on the store's delegate using the
// store's logger unless opts set another.
func NewRepository[T core.Item](s *Store, typ string, factory repository.Factory[T], opts ...repository.Option) (*repository.Repository[T], error) {
	opts = append([]repository.Option{repository.WithLogger(s.logger)}, opts...)
	return repository.New(s.delegate, typ, factory, opts...)
}
