// Package localstore keeps an offline-first task list in durable storage.
// It works without the task API: ids are generated locally and every
// change is saved before it becomes visible.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/tasksync/pkg/apierr"
	"github.com/Sternrassler/tasksync/pkg/storage"
	"github.com/Sternrassler/tasksync/pkg/task"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Namespace is the storage namespace of the local task list.
const Namespace = "task-storage"

type document struct {
	Tasks []task.Task `json:"tasks"`
}

// Store is a persisted task list. It is safe for concurrent use.
type Store struct {
	storage storage.Storage
	logger  zerolog.Logger

	mu    sync.RWMutex
	tasks []task.Task
	now   func() time.Time
	newID func() string
}

// New creates an empty Store backed by s. Call Load to read saved tasks.
func New(s storage.Storage, logger zerolog.Logger) *Store {
	return &Store{
		storage: s,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// SetClock replaces the time source (for testing).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Load replaces the in-memory list with the saved one. A missing document
// yields an empty list.
func (s *Store) Load(ctx context.Context) error {
	blob, err := s.storage.Load(ctx, Namespace)
	if errors.Is(err, storage.ErrNotFound) {
		s.mu.Lock()
		s.tasks = nil
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load local tasks: %w", err)
	}

	var doc document
	if err := json.Unmarshal(blob, &doc); err != nil {
		return fmt.Errorf("decode local tasks: %w", err)
	}

	s.mu.Lock()
	s.tasks = doc.Tasks
	s.mu.Unlock()

	s.logger.Info().Int("tasks", len(doc.Tasks)).Msg("Local tasks loaded")
	return nil
}

// Tasks returns a copy of the list in insertion order.
func (s *Store) Tasks() []task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]task.Task{}, s.tasks...)
}

// Exists reports whether a task with id is stored.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOf(s.tasks, id) >= 0
}

// Add validates in, assigns an id and creation time and appends the task.
func (s *Store) Add(ctx context.Context, in task.Input) (task.Task, error) {
	if err := in.Validate(); err != nil {
		return task.Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := task.Task{
		ID:          s.newID(),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		CreatedAt:   s.now().UTC(),
	}
	next := append(append(make([]task.Task, 0, len(s.tasks)+1), s.tasks...), t)
	if err := s.commit(ctx, next); err != nil {
		return task.Task{}, err
	}

	s.logger.Debug().Str("task_id", t.ID).Msg("Local task added")
	return t, nil
}

// Update merges patch into the task with id. ID and CreatedAt never change.
func (s *Store) Update(ctx context.Context, id string, patch task.Patch) (task.Task, error) {
	if err := patch.Validate(); err != nil {
		return task.Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.tasks, id)
	if i < 0 {
		return task.Task{}, apierr.NotFound(id)
	}

	next := append([]task.Task{}, s.tasks...)
	next[i] = patch.Apply(next[i])
	if err := s.commit(ctx, next); err != nil {
		return task.Task{}, err
	}
	return next[i], nil
}

// Delete removes the task with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.tasks, id)
	if i < 0 {
		return apierr.NotFound(id)
	}

	next := make([]task.Task, 0, len(s.tasks)-1)
	next = append(next, s.tasks[:i]...)
	next = append(next, s.tasks[i+1:]...)
	return s.commit(ctx, next)
}

// Clean removes every task.
func (s *Store) Clean(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, nil)
}

// commit saves next and, only once the save succeeded, makes it current.
// Callers hold s.mu.
func (s *Store) commit(ctx context.Context, next []task.Task) error {
	if next == nil {
		next = []task.Task{}
	}
	blob, err := json.Marshal(document{Tasks: next})
	if err != nil {
		return fmt.Errorf("encode local tasks: %w", err)
	}
	if err := s.storage.Save(ctx, Namespace, blob); err != nil {
		s.logger.Error().Err(err).Msg("Saving local tasks failed")
		return fmt.Errorf("save local tasks: %w", err)
	}
	s.tasks = next
	return nil
}

func indexOf(tasks []task.Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}
