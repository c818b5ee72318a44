package testutil

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/tasksync/pkg/apierr"
	"github.com/Sternrassler/tasksync/pkg/task"
)

// Repository operation names for failure injection and call counting.
const (
	OpList   = "list"
	OpGet    = "get"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// FakeRepository is an in-memory task.Repository with failure injection.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeRepository struct {
	mu      sync.Mutex
	tasks   map[string]task.Task
	nextID  int
	now     func() time.Time
	errs    map[string]error
	once    map[string]error
	calls   map[string]int
	gates   map[string]chan struct{}
	entered map[string]chan struct{}
}

// NewFakeRepository creates a repository holding seed. Server ids continue
// after the highest numeric seed id.
func NewFakeRepository(seed ...task.Task) *FakeRepository {
	f := &FakeRepository{
		tasks:   make(map[string]task.Task),
		nextID:  1,
		now:     time.Now,
		errs:    make(map[string]error),
		once:    make(map[string]error),
		calls:   make(map[string]int),
		gates:   make(map[string]chan struct{}),
		entered: make(map[string]chan struct{}),
	}
	for _, t := range seed {
		f.tasks[t.ID] = t
		if n, err := strconv.Atoi(t.ID); err == nil && n >= f.nextID {
			f.nextID = n + 1
		}
	}
	return f
}

// SetClock sets the time source for CreatedAt.
func (f *FakeRepository) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// SetNextID sets the id the next Create assigns.
func (f *FakeRepository) SetNextID(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID = n
}

// Fail makes every call of op return err until cleared with a nil err.
func (f *FakeRepository) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// FailNext makes only the next call of op return err.
func (f *FakeRepository) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.once[op] = err
}

// Hold parks calls of op until the returned release func is called. The
// entered channel receives once per parked call.
func (f *FakeRepository) Hold(op string) (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	gate := make(chan struct{})
	in := make(chan struct{}, 16)
	f.gates[op] = gate
	f.entered[op] = in

	var once sync.Once
	return in, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.gates, op)
			delete(f.entered, op)
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many times op was invoked.
func (f *FakeRepository) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Tasks returns the stored tasks ordered by CreatedAt, then id.
func (f *FakeRepository) Tasks() []task.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedLocked()
}

// List implements task.Repository.
func (f *FakeRepository) List(ctx context.Context) ([]task.Task, error) {
	if err := f.enter(ctx, OpList); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedLocked(), nil
}

// Get implements task.Repository.
func (f *FakeRepository) Get(ctx context.Context, id string) (task.Task, error) {
	if err := f.enter(ctx, OpGet); err != nil {
		return task.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tasks[id]
	if !ok {
		return task.Task{}, apierr.NotFound(id)
	}
	return t, nil
}

// Create implements task.Repository.
func (f *FakeRepository) Create(ctx context.Context, in task.Input) (task.Task, error) {
	if err := f.enter(ctx, OpCreate); err != nil {
		return task.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	t := task.Task{
		ID:          strconv.Itoa(f.nextID),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		CreatedAt:   f.now().UTC(),
	}
	f.nextID++
	f.tasks[t.ID] = t
	return t, nil
}

// Update implements task.Repository.
func (f *FakeRepository) Update(ctx context.Context, id string, patch task.Patch) (task.Task, error) {
	if err := f.enter(ctx, OpUpdate); err != nil {
		return task.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tasks[id]
	if !ok {
		return task.Task{}, apierr.NotFound(id)
	}
	t = patch.Apply(t)
	f.tasks[id] = t
	return t, nil
}

// Delete implements task.Repository.
func (f *FakeRepository) Delete(ctx context.Context, id string) error {
	if err := f.enter(ctx, OpDelete); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.tasks[id]; !ok {
		return apierr.NotFound(id)
	}
	delete(f.tasks, id)
	return nil
}

// enter counts the call, waits on a hold and returns an injected failure.
func (f *FakeRepository) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls[op]++
	gate := f.gates[op]
	in := f.entered[op]
	f.mu.Unlock()

	if gate != nil {
		select {
		case in <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return apierr.Network(ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.once[op]; ok {
		delete(f.once, op)
		return err
	}
	return f.errs[op]
}

func (f *FakeRepository) sortedLocked() []task.Task {
	out := make([]task.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
