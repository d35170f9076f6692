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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/keepsake"
	"github.com/poiesic/keepsake/config"
	"github.com/poiesic/keepsake/core"
	"github.com/poiesic/keepsake/repository"
	"github.com/poiesic/keepsake/storage/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var errNotFound = errors.New("record not found")

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "keepsake",
		Usage: "Create, read, update and delete records in a keepsake store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML, TOML or JSON config file",
				EnvVars: []string{"KEEPSAKE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "backend",
				Aliases: []string{"b"},
				Usage:   "Storage backend: " + strings.Join(config.Backends, ", "),
			},
			&cli.StringFlag{
				Name:    "path",
				Aliases: []string{"p"},
				Usage:   "Database path for the badger and sqlite backends",
			},
			&cli.StringFlag{
				Name:  "dsn",
				Usage: "Connection URL for the redis and postgres backends",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "primary-key",
				Usage: "Primary key field name",
				Value: core.DefaultPrimaryKey,
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a record from field=value assignments",
				ArgsUsage: "<type> [field=value ...]",
				Action:    createCommand,
			},
			{
				Name:      "get",
				Usage:     "Print the record with the given id",
				ArgsUsage: "<type> <id>",
				Action:    getCommand,
			},
			{
				Name:      "update",
				Usage:     "Apply field=value assignments to an existing record",
				ArgsUsage: "<type> <id> field=value [field=value ...]",
				Action:    updateCommand,
			},
			{
				Name:      "delete",
				Usage:     "Delete the record with the given id",
				ArgsUsage: "<type> <id>",
				Action:    deleteCommand,
			},
			{
				Name:      "seed",
				Usage:     "Create records from a YAML fixture file",
				ArgsUsage: "<fixture.yaml>",
				Action:    seedCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "workers",
						Aliases: []string{"w"},
						Usage:   "Number of concurrent inserts",
						Value:   4,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N records",
						Value: 100,
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	level, err := config.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

// loadConfig reads the config file (if any) and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("backend") {
		cfg.Backend = c.String("backend")
	}
	if c.IsSet("path") {
		cfg.Path = c.String("path")
	}
	if c.IsSet("dsn") {
		cfg.DSN = c.String("dsn")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	warnIfEphemeral(slog.Default(), cfg)
	return cfg, nil
}

// warnIfEphemeral logs a warning when cfg keeps nothing past this process.
// Each CLI invocation opens a fresh store, so memory-backed writes are lost
// when the command exits.
func warnIfEphemeral(logger *slog.Logger, cfg *config.Config) bool {
	var ephemeral bool
	switch cfg.Backend {
	case config.BackendMemory:
		ephemeral = true
	case config.BackendBadger:
		ephemeral = cfg.InMemory
	case config.BackendSQLite:
		ephemeral = cfg.Path == sqlite.MemoryPath
	}
	if ephemeral {
		logger.Warn("backend does not persist between commands; use --backend badger or sqlite with --path",
			"backend", cfg.Backend)
	}
	return ephemeral
}

func openRepository(c *cli.Context, typ string) (*keepsake.Store, *repository.Repository[*core.Record], error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}

	// The CLI does not export metrics.
	store, err := keepsake.Open(c.Context, cfg, keepsake.WithRegisterer(prometheus.NewRegistry()))
	if err != nil {
		return nil, nil, err
	}

	pk := c.String("primary-key")
	repo, err := keepsake.NewRepository(store, typ, repository.RecordFactory(pk),
		repository.WithPrimaryKey(pk), repository.WithStrictUpdates())
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, repo, nil
}

func createCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("create requires a record type")
	}
	fields, err := parseAssignments(c.Args().Tail())
	if err != nil {
		return err
	}

	store, repo, err := openRepository(c, c.Args().First())
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := repo.NewItem()
	if err != nil {
		return err
	}
	rec.SetValues(fields)
	if _, err := repo.Create(c.Context, rec); err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	return printRecord(c.App.Writer, rec)
}

func getCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("get requires a record type and an id")
	}

	store, repo, err := openRepository(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := findExisting(c.Context, repo, c.Args().Get(1))
	if err != nil {
		return err
	}
	return printRecord(c.App.Writer, rec)
}

func updateCommand(c *cli.Context) error {
	if c.NArg() < 3 {
		return fmt.Errorf("update requires a record type, an id and at least one assignment")
	}
	fields, err := parseAssignments(c.Args().Slice()[2:])
	if err != nil {
		return err
	}

	store, repo, err := openRepository(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := findExisting(c.Context, repo, c.Args().Get(1))
	if err != nil {
		return err
	}
	rec.SetValues(fields)
	if _, err := repo.Update(c.Context, rec); err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return printRecord(c.App.Writer, rec)
}

func deleteCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("delete requires a record type and an id")
	}

	store, repo, err := openRepository(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	defer store.Close()

	id := parseID(c.Args().Get(1))
	rec, err := repo.NewItem()
	if err != nil {
		return err
	}
	rec.Load(core.Fields{repo.PrimaryKey(): id})

	deleted, err := repo.Delete(c.Context, rec)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if !deleted {
		return fmt.Errorf("%w: %s %v", errNotFound, repo.Type(), id)
	}
	fmt.Fprintf(c.App.Writer, "deleted %s %v\n", repo.Type(), id)
	return nil
}

func findExisting(ctx context.Context, repo *repository.Repository[*core.Record], raw string) (*core.Record, error) {
	id := parseID(raw)
	rec, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find record: %w", err)
	}
	if !rec.IsLoaded() {
		return nil, fmt.Errorf("%w: %s %v", errNotFound, repo.Type(), id)
	}
	return rec, nil
}

// fixtures maps record types to the records to create for them.
type fixtures map[string][]core.Fields

func loadFixtures(path string) (fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	var f fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures %s: %w", path, err)
	}
	return f, nil
}

func seedCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("seed requires a fixture file")
	}
	workers := c.Int("workers")
	if workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}

	fx, err := loadFixtures(c.Args().First())
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := keepsake.Open(c.Context, cfg, keepsake.WithRegisterer(prometheus.NewRegistry()))
	if err != nil {
		return err
	}
	defer store.Close()

	pool, err := ants.NewPool(workers)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	total := 0
	for _, records := range fx {
		total += len(records)
	}
	pk := c.String("primary-key")
	prog := newProgress(c.App.ErrWriter, total, c.Int("report-interval"))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for typ, records := range fx {
		repo, err := keepsake.NewRepository(store, typ, repository.RecordFactory(pk), repository.WithPrimaryKey(pk))
		if err != nil {
			wg.Wait()
			return err
		}
		for _, fields := range records {
			wg.Add(1)
			err := pool.Submit(func() {
				defer wg.Done()
				rec, err := repo.NewItem()
				if err == nil {
					_, err = repo.Create(c.Context, rec.SetValues(fields))
				}
				prog.record(err)
				if err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("%s: %w", typ, err))
					mu.Unlock()
				}
			})
			if err != nil {
				wg.Done()
				wg.Wait()
				return fmt.Errorf("failed to submit insert: %w", err)
			}
		}
	}
	wg.Wait()
	prog.finish()

	done, failed := prog.counts()
	slog.Info("seeding complete", "created", done-failed, "failed", failed, "elapsed", time.Since(prog.start))
	fmt.Fprintf(c.App.Writer, "created %d records\n", done-failed)
	return errors.Join(errs...)
}

func printRecord(w io.Writer, rec *core.Record) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any(rec.Snapshot())); err != nil {
		return err
	}
	return enc.Close()
}

func parseAssignments(args []string) (core.Fields, error) {
	fields := make(core.Fields, len(args))
	for _, arg := range args {
		name, value, err := parseAssignment(arg)
		if err != nil {
			return nil, err
		}
		fields[name] = value
	}
	return fields, nil
}

// parseAssignment splits "field=value" and types the value with parseValue.
func parseAssignment(arg string) (string, any, error) {
	name, raw, ok := strings.Cut(arg, "=")
	if !ok {
		return "", nil, fmt.Errorf("invalid assignment %q: want field=value", arg)
	}
	name = strings.TrimSpace(name)
	if err := core.ValidateFieldName(name); err != nil {
		return "", nil, fmt.Errorf("invalid assignment %q: %w", arg, err)
	}
	return name, parseValue(raw), nil
}

// parseValue reads null, booleans, integers, floats and RFC 3339 times.
// Anything else, or anything in double quotes, is a string.
func parseValue(raw string) any {
	if len(raw) >= 2 && strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) {
		return raw[1 : len(raw)-1]
	}
	switch raw {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	return raw
}

// parseID returns raw as an int64 when it is one. Backends with generated
// keys store int64s.
func parseID(raw string) any {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	return raw
}
