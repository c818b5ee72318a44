package persist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/tasksync/pkg/cache"
	"github.com/Sternrassler/tasksync/pkg/mutation"
	"github.com/Sternrassler/tasksync/pkg/storage"
	"github.com/Sternrassler/tasksync/pkg/task"
	"github.com/google/go-cmp/cmp"
)

var _ mutation.Persister = (*Persister)(nil)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var keyCmp = cmp.Comparer(func(a, b cache.Key) bool { return a.Equal(b) })

type failingStorage struct {
	storage.Storage
	err error
}

func (f failingStorage) Save(context.Context, string, []byte) error { return f.err }
func (f failingStorage) Load(context.Context, string) ([]byte, error) {
	return nil, f.err
}

func newPersister(t *testing.T, store *cache.Store, s storage.Storage) *Persister {
	t.Helper()
	p, err := New(Config{Store: store, Storage: s})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p.Register(task.Lists(), JSON[[]task.Task]())
	p.Register(task.Details(), JSON[task.Task]())
	return p
}

func newStore() *cache.Store {
	s := cache.NewStore()
	s.SetClock(func() time.Time { return t0 })
	return s
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing store", Config{Storage: storage.NewMemory()}},
		{"missing storage", Config{Store: cache.NewStore()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() should fail")
			}
		})
	}

	p, err := New(Config{Store: cache.NewStore(), Storage: storage.NewMemory()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.namespace != DefaultNamespace {
		t.Errorf("namespace = %q, want %q", p.namespace, DefaultNamespace)
	}
}

func TestPersistHydrate_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()

	list := []task.Task{
		{ID: "1", Title: "Walk dog", Status: task.StatusPending, CreatedAt: t0},
		{ID: "2", Title: "Buy milk", Status: task.StatusComplete, CreatedAt: t0.Add(time.Minute)},
	}
	detail := list[1]

	src := newStore()
	src.Batch(func(tx *cache.Tx) {
		tx.Put(cache.Entry{Key: task.List(nil), Data: list, Status: cache.StatusSuccess, LastUpdated: t0, StaleAt: t0.Add(5 * time.Minute)})
		tx.Put(cache.Entry{Key: task.Detail("2"), Data: detail, Status: cache.StatusError, Err: errors.New("boom"), LastUpdated: t0, StaleAt: t0})
		// skipped: fetch in flight, no data, no codec
		tx.Put(cache.Entry{Key: task.Detail("3"), Data: detail, Status: cache.StatusFetching})
		tx.Put(cache.Entry{Key: task.Detail("4"), Status: cache.StatusError, Err: errors.New("gone")})
		tx.Put(cache.Entry{Key: cache.K("other"), Data: "x", Status: cache.StatusSuccess, LastUpdated: t0})
	})

	if err := newPersister(t, src, mem).Persist(ctx); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	dst := newStore()
	n, err := newPersister(t, dst, mem).Hydrate(ctx)
	if err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Hydrate() = %d, want 2", n)
	}

	want := []cache.Entry{
		{Key: task.Detail("2"), Data: detail, Status: cache.StatusSuccess, LastUpdated: t0, StaleAt: t0},
		{Key: task.List(nil), Data: list, Status: cache.StatusSuccess, LastUpdated: t0, StaleAt: t0.Add(5 * time.Minute)},
	}
	if diff := cmp.Diff(want, dst.Entries(), keyCmp); diff != "" {
		t.Errorf("hydrated entries mismatch (-want +got):\n%s", diff)
	}
}

func TestHydrate_KeepsLiveData(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()

	src := newStore()
	src.Set(task.List(nil), func(e cache.Entry) cache.Entry {
		e.Data = []task.Task{{ID: "old", Title: "Old task"}}
		e.Status = cache.StatusSuccess
		return e
	})
	if err := newPersister(t, src, mem).Persist(ctx); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	fresh := []task.Task{{ID: "new", Title: "New task"}}
	dst := newStore()
	dst.Set(task.List(nil), func(e cache.Entry) cache.Entry {
		e.Data = fresh
		e.Status = cache.StatusSuccess
		return e
	})

	n, err := newPersister(t, dst, mem).Hydrate(ctx)
	if err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Hydrate() = %d, want 0", n)
	}
	e, _ := dst.Get(task.List(nil))
	if diff := cmp.Diff(fresh, e.Data); diff != "" {
		t.Errorf("live data overwritten (-want +got):\n%s", diff)
	}
}

func TestHydrate_Missing(t *testing.T) {
	n, err := newPersister(t, newStore(), storage.NewMemory()).Hydrate(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Hydrate() = %d, %v, want 0, nil", n, err)
	}
}

func TestHydrate_CorruptDocument(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	mem.Save(ctx, DefaultNamespace, []byte("not json"))

	if _, err := newPersister(t, newStore(), mem).Hydrate(ctx); err == nil {
		t.Error("Hydrate() should fail on a corrupt document")
	}
}

func TestHydrate_SkipsUndecodableEntries(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	mem.Save(ctx, DefaultNamespace, []byte(`{"version":1,"entries":[
		{"key":"tasks:detail:1","data":"not a task"},
		{"key":"tasks:detail:2","data":{"id":"2","title":"Buy milk","status":"pending"}}
	]}`))

	store := newStore()
	n, err := newPersister(t, store, mem).Hydrate(ctx)
	if err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Hydrate() = %d, want 1", n)
	}
	if _, ok := store.Get(task.Detail("1")); ok {
		t.Error("undecodable entry should be skipped")
	}
}

func TestHydrate_UnknownVersion(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	mem.Save(ctx, DefaultNamespace, []byte(`{"version":99,"entries":[{"key":"tasks:detail:2","data":{"id":"2"}}]}`))

	n, err := newPersister(t, newStore(), mem).Hydrate(ctx)
	if err != nil || n != 0 {
		t.Errorf("Hydrate() = %d, %v, want 0, nil", n, err)
	}
}

func TestPersist_StorageError(t *testing.T) {
	boom := errors.New("disk full")
	p := newPersister(t, newStore(), failingStorage{err: boom})

	if err := p.Persist(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Persist() error = %v, want %v", err, boom)
	}
	if _, err := p.Hydrate(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Hydrate() error = %v, want %v", err, boom)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	p := newPersister(t, newStore(), mem)

	if err := p.Persist(ctx); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if err := p.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := mem.Load(ctx, DefaultNamespace); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Load() after Clear error = %v, want ErrNotFound", err)
	}
}

func TestCodecFor_LongestPrefix(t *testing.T) {
	p := newPersister(t, newStore(), storage.NewMemory())
	p.Register(task.All(), JSON[string]())

	codec, ok := p.codecFor(task.Detail("7"))
	if !ok {
		t.Fatal("codecFor() found nothing")
	}
	v, err := codec([]byte(`{"id":"7","title":"Pay rent"}`))
	if err != nil {
		t.Fatalf("codec error = %v", err)
	}
	if _, isTask := v.(task.Task); !isTask {
		t.Errorf("codec decoded %T, want task.Task", v)
	}

	if _, ok := p.codecFor(cache.K("users")); ok {
		t.Error("codecFor() matched an unregistered key")
	}
}

func TestPersist_PendingKeysKeepPreviousRecord(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()

	committed := []task.Task{{ID: "1", Title: "Walk dog", Status: task.StatusPending, CreatedAt: t0}}
	provisional := append(append([]task.Task(nil), committed...), task.Task{ID: "tmp-1", Title: "Buy milk", Status: task.StatusPending, CreatedAt: t0})
	detail := committed[0]

	src := newStore()
	src.Batch(func(tx *cache.Tx) {
		tx.Put(cache.Entry{Key: task.List(nil), Data: committed, Status: cache.StatusSuccess, LastUpdated: t0, StaleAt: t0.Add(time.Minute)})
	})
	p := newPersister(t, src, mem)
	if err := p.Persist(ctx); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	// a mutation writes its optimistic data and a new key under the lists
	src.Batch(func(tx *cache.Tx) {
		tx.Put(cache.Entry{Key: task.List(nil), Data: provisional, Status: cache.StatusSuccess, LastUpdated: t0, StaleAt: t0.Add(time.Minute)})
		tx.Put(cache.Entry{Key: task.List(map[string]string{"status": "pending"}), Data: provisional, Status: cache.StatusSuccess, LastUpdated: t0})
		tx.Put(cache.Entry{Key: task.Detail("1"), Data: detail, Status: cache.StatusSuccess, LastUpdated: t0, StaleAt: t0})
	})
	p.SetPending(cache.MatchPrefix(task.Lists()))
	if err := p.Persist(ctx); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	dst := newStore()
	if _, err := newPersister(t, dst, mem).Hydrate(ctx); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}

	want := []cache.Entry{
		{Key: task.Detail("1"), Data: detail, Status: cache.StatusSuccess, LastUpdated: t0, StaleAt: t0},
		{Key: task.List(nil), Data: committed, Status: cache.StatusSuccess, LastUpdated: t0, StaleAt: t0.Add(time.Minute)},
	}
	if diff := cmp.Diff(want, dst.Entries(), keyCmp); diff != "" {
		t.Errorf("hydrated entries mismatch (-want +got):\n%s", diff)
	}
}
