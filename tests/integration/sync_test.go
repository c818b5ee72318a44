//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/tasksync/internal/testutil"
	"github.com/Sternrassler/tasksync/pkg/apierr"
	"github.com/Sternrassler/tasksync/pkg/cache"
	"github.com/Sternrassler/tasksync/pkg/connectivity"
	"github.com/Sternrassler/tasksync/pkg/mutation"
	"github.com/Sternrassler/tasksync/pkg/persist"
	"github.com/Sternrassler/tasksync/pkg/query"
	"github.com/Sternrassler/tasksync/pkg/storage"
	"github.com/Sternrassler/tasksync/pkg/task"
	"github.com/Sternrassler/tasksync/pkg/taskapi"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// engine is one process worth of sync engine.
type engine struct {
	store     *cache.Store
	tracker   *connectivity.Tracker
	queries   *query.Coordinator
	persister *persist.Persister
	tasks     *task.Service
}

func newEngine(t *testing.T, baseURL string, backend storage.Storage) *engine {
	t.Helper()

	e := &engine{store: cache.NewStore()}
	e.tracker = connectivity.NewTracker(1, zerolog.Nop())

	cfg := taskapi.DefaultConfig(baseURL, "integration")
	cfg.ReadRetry = taskapi.RetryConfig{MaxAttempts: 2, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond, BackoffMultiplier: 2}
	cfg.RateLimit = 1000
	cfg.Tracker = e.tracker
	client, err := taskapi.New(cfg)
	if err != nil {
		t.Fatalf("taskapi.New() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	e.queries, err = query.New(e.store, query.DefaultConfig())
	if err != nil {
		t.Fatalf("query.New() error = %v", err)
	}
	t.Cleanup(func() { e.queries.Close() })
	e.tracker.OnChange(func(online bool) { e.queries.NetworkChanged(online) })

	e.persister, err = persist.New(persist.Config{Store: e.store, Storage: backend})
	if err != nil {
		t.Fatalf("persist.New() error = %v", err)
	}
	e.persister.Register(task.Lists(), persist.JSON[[]task.Task]())
	e.persister.Register(task.Details(), persist.JSON[task.Task]())

	mutations, err := mutation.New(mutation.Config{Store: e.store, Queries: e.queries, Persister: e.persister})
	if err != nil {
		t.Fatalf("mutation.New() error = %v", err)
	}
	e.persister.SetPending(mutations.Applying)
	e.tasks, err = task.NewService(client, e.queries, mutations)
	if err != nil {
		t.Fatalf("task.NewService() error = %v", err)
	}
	return e
}

func listTitles(t *testing.T, store *cache.Store) []string {
	t.Helper()
	e, ok := store.Get(task.Lists())
	if !ok {
		return nil
	}
	tasks, _ := cache.DataAs[[]task.Task](e)
	titles := make([]string, len(tasks))
	for i, tk := range tasks {
		titles[i] = tk.Title
	}
	return titles
}

// TestCreatePersistsAcrossRestart covers create → commit → persist → hydrate.
func TestCreatePersistsAcrossRestart(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockTaskAPI(task.Task{ID: "1", Title: "Walk dog", Status: task.StatusPending})
	defer mock.Close()

	backend := storage.NewRedis(redisClient, "it:", zerolog.Nop())
	ctx := context.Background()

	first := newEngine(t, mock.URL(), backend)
	if _, err := first.tasks.List(ctx); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	created, err := first.tasks.Create(ctx, task.Input{Title: "Buy milk", Status: task.StatusPending})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	second := newEngine(t, mock.URL(), backend)
	n, err := second.persister.Hydrate(ctx)
	if err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	if n == 0 {
		t.Fatal("Hydrate() restored nothing")
	}

	got := listTitles(t, second.store)
	if len(got) != 2 || got[1] != "Buy milk" {
		t.Errorf("hydrated list = %v, want [Walk dog Buy milk]", got)
	}
	if _, ok := second.store.Get(task.Detail(created.ID)); !ok {
		t.Errorf("detail of created task %s was not persisted", created.ID)
	}
}

// TestFailedUpdateRollsBack covers the server-error rollback against a real
// HTTP round trip.
func TestFailedUpdateRollsBack(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockTaskAPI(task.Task{ID: "7", Title: "Pay rent", Status: task.StatusPending})
	defer mock.Close()

	e := newEngine(t, mock.URL(), storage.NewRedis(redisClient, "it:", zerolog.Nop()))
	ctx := context.Background()

	if _, err := e.tasks.List(ctx); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	before, _ := e.store.Get(task.Lists())

	mock.SetResponse("PUT /tasks/7", testutil.NewServerErrorResponse())
	done := task.StatusComplete
	_, err := e.tasks.Update(ctx, "7", task.Patch{Status: &done})
	if !errors.Is(err, apierr.ErrServer) {
		t.Fatalf("Update() error = %v, want server error", err)
	}

	after, _ := e.store.Get(task.Lists())
	b, _ := cache.DataAs[[]task.Task](before)
	a, _ := cache.DataAs[[]task.Task](after)
	if len(a) != 1 || a[0].Status != b[0].Status {
		t.Errorf("list after rollback = %+v, want %+v", a, b)
	}
	if got := mock.Repo.Calls(testutil.OpUpdate); got != 0 {
		t.Errorf("repository updates = %d, want 0", got)
	}
}

// TestOfflineReadServesHydratedData covers stale-while-error across a restart.
func TestOfflineReadServesHydratedData(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockTaskAPI(task.Task{ID: "1", Title: "Walk dog", Status: task.StatusPending})
	backend := storage.NewRedis(redisClient, "it:", zerolog.Nop())
	ctx := context.Background()

	first := newEngine(t, mock.URL(), backend)
	if _, err := first.tasks.List(ctx); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if err := first.persister.Persist(ctx); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	mock.Close()

	second := newEngine(t, mock.URL(), backend)
	if _, err := second.persister.Hydrate(ctx); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	second.queries.InvalidateAndRefetch(cache.MatchPrefix(task.Lists()))

	tasks, err := second.tasks.List(ctx)
	if !errors.Is(err, apierr.ErrNetwork) {
		t.Errorf("List() error = %v, want network error", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "Walk dog" {
		t.Errorf("List() = %+v, want cached Walk dog", tasks)
	}
	if second.tracker.Online() {
		t.Error("tracker should be offline")
	}
}
