package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/tasksync/pkg/cache"
	"github.com/Sternrassler/tasksync/pkg/config"
	"github.com/Sternrassler/tasksync/pkg/connectivity"
	"github.com/Sternrassler/tasksync/pkg/logging"
	"github.com/Sternrassler/tasksync/pkg/mutation"
	"github.com/Sternrassler/tasksync/pkg/persist"
	"github.com/Sternrassler/tasksync/pkg/query"
	"github.com/Sternrassler/tasksync/pkg/storage"
	"github.com/Sternrassler/tasksync/pkg/task"
	"github.com/Sternrassler/tasksync/pkg/taskapi"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app wires the sync engine for one command invocation.
type app struct {
	cfg       config.Config
	logger    zerolog.Logger
	storage   storage.Storage
	store     *cache.Store
	tracker   *connectivity.Tracker
	client    *taskapi.Client
	queries   *query.Coordinator
	mutations *mutation.Coordinator
	persister *persist.Persister
	tasks     *task.Service

	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: logging.NewLogger("taskctl")}

	s, closeStorage, err := openStorage(ctx, cfg.Storage, logging.NewLogger("storage"))
	if err != nil {
		return nil, err
	}
	a.storage = s
	a.closers = append(a.closers, closeStorage)

	a.store = cache.NewStore()
	a.tracker = connectivity.NewTracker(cfg.Connectivity.FailureThreshold, logging.NewLogger("connectivity"))

	apiCfg := cfg.TaskAPI()
	apiCfg.Tracker = a.tracker
	if a.client, err = taskapi.New(apiCfg); err != nil {
		a.Close()
		return nil, fmt.Errorf("create task API client: %w", err)
	}
	a.closers = append(a.closers, a.client.Close)

	if a.queries, err = query.New(a.store, cfg.Queries()); err != nil {
		a.Close()
		return nil, fmt.Errorf("create query coordinator: %w", err)
	}
	a.closers = append(a.closers, a.queries.Close)
	a.tracker.OnChange(func(online bool) {
		a.queries.NetworkChanged(online)
	})

	if a.persister, err = persist.New(persist.Config{Store: a.store, Storage: s}); err != nil {
		a.Close()
		return nil, err
	}
	a.persister.Register(task.Lists(), persist.JSON[[]task.Task]())
	a.persister.Register(task.Details(), persist.JSON[task.Task]())
	a.persister.Register(task.Searches(), persist.JSON[[]task.Task]())

	if a.mutations, err = mutation.New(mutation.Config{Store: a.store, Queries: a.queries, Persister: a.persister}); err != nil {
		a.Close()
		return nil, fmt.Errorf("create mutation coordinator: %w", err)
	}
	a.persister.SetPending(a.mutations.Applying)

	if a.tasks, err = task.NewService(a.client, a.queries, a.mutations); err != nil {
		a.Close()
		return nil, err
	}

	if n, err := a.persister.Hydrate(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Ignoring unreadable query cache")
	} else {
		a.logger.Debug().Int("entries", n).Msg("Query cache restored")
	}

	return a, nil
}

// Close persists the query cache and releases every resource.
func (a *app) Close() error {
	var errs []error
	if a.persister != nil {
		if err := a.persister.Persist(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openStorage returns the configured backend and its close function.
func openStorage(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (storage.Storage, func() error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemory(), func() error { return nil }, nil

	case config.BackendSQLite:
		s, err := storage.OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to Redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
		return storage.NewRedis(client, cfg.RedisPrefix, logger), client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
