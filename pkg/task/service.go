package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sternrassler/tasksync/pkg/cache"
	"github.com/Sternrassler/tasksync/pkg/mutation"
	"github.com/Sternrassler/tasksync/pkg/query"
	"github.com/google/uuid"
)

// ProvisionalPrefix marks ids assigned locally before the server answers.
const ProvisionalPrefix = "optimistic-"

// IsProvisional reports whether id was assigned by an optimistic create.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// Service runs cached task queries and optimistic task mutations.
type Service struct {
	repo      Repository
	queries   *query.Coordinator
	mutations *mutation.Coordinator
	store     *cache.Store
	newID     func() string
}

// NewService creates a task service.
func NewService(repo Repository, queries *query.Coordinator, mutations *mutation.Coordinator) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if queries == nil || mutations == nil {
		return nil, fmt.Errorf("query and mutation coordinators are required")
	}

	return &Service{
		repo:      repo,
		queries:   queries,
		mutations: mutations,
		store:     queries.Store(),
		newID:     func() string { return ProvisionalPrefix + uuid.NewString() },
	}, nil
}

// ObserveList subscribes to the task list and keeps it fresh.
func (s *Service) ObserveList() *cache.Subscription {
	return s.queries.Observe(Lists(), s.fetchList)
}

// ObserveDetail subscribes to one task and keeps it fresh.
func (s *Service) ObserveDetail(id string) *cache.Subscription {
	return s.queries.Observe(Detail(id), s.fetchDetail(id))
}

// List returns the task list, fetching it if missing or stale. On a failed
// fetch the last known tasks are returned together with the error.
func (s *Service) List(ctx context.Context) ([]Task, error) {
	e, err := s.queries.Fetch(ctx, Lists(), s.fetchList)
	tasks, _ := cache.DataAs[[]Task](e)
	return tasks, err
}

// ListByStatus returns the tasks with the given status, cached under its own
// filtered list key.
func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Task, error) {
	key := List(map[string]string{"status": string(status)})
	e, err := s.queries.Fetch(ctx, key, s.fetchFiltered(func(t Task) bool {
		return t.Status == status
	}))
	tasks, _ := cache.DataAs[[]Task](e)
	return tasks, err
}

// Search returns the tasks whose title contains q, ignoring case.
func (s *Service) Search(ctx context.Context, q string) ([]Task, error) {
	needle := strings.ToLower(q)
	e, err := s.queries.Fetch(ctx, Search(q), s.fetchFiltered(func(t Task) bool {
		return strings.Contains(strings.ToLower(t.Title), needle)
	}))
	tasks, _ := cache.DataAs[[]Task](e)
	return tasks, err
}

// Get returns one task, fetching it if missing or stale.
func (s *Service) Get(ctx context.Context, id string) (Task, error) {
	e, err := s.queries.Fetch(ctx, Detail(id), s.fetchDetail(id))
	t, _ := cache.DataAs[Task](e)
	return t, err
}

// Refetch invalidates every task list and search and refetches the
// observed ones.
func (s *Service) Refetch() []cache.Key {
	return s.queries.InvalidateAndRefetch(cache.MatchPrefix(Lists(), Searches()))
}

// Applying reports whether a mutation on task id is in flight.
func (s *Service) Applying(id string) bool {
	return s.mutations.Applying(Detail(id))
}

// Create adds a provisional task to the list, creates it remotely and
// replaces the provisional entry with the server's task.
func (s *Service) Create(ctx context.Context, in Input) (Task, error) {
	provisionalID := s.newID()

	return mutation.Perform(ctx, s.mutations, mutation.Mutation[Task]{
		Name:     "create_task",
		Keys:     []cache.Key{Lists(), Searches()},
		Validate: in.Validate,
		Optimistic: func(tx *cache.Tx) {
			provisional := Task{
				ID:          provisionalID,
				Title:       in.Title,
				Description: in.Description,
				Status:      in.Status,
				CreatedAt:   tx.Now(),
			}
			tx.Set(Lists(), func(e cache.Entry) cache.Entry {
				tasks, _ := cache.DataAs[[]Task](e)
				e.Data = append(cloneTasks(tasks), provisional)
				return e
			})
		},
		Run: func(ctx context.Context) (Task, error) {
			return s.repo.Create(ctx, in)
		},
		Commit: func(tx *cache.Tx, created Task) {
			if _, ok := tx.Get(Lists()); ok {
				tx.Set(Lists(), func(e cache.Entry) cache.Entry {
					tasks, _ := cache.DataAs[[]Task](e)
					e.Data = replaceProvisional(tasks, provisionalID, created)
					return e
				})
			}
			s.writeDetail(tx, created)
		},
	})
}

// Update merges patch into the cached list and detail, updates the task
// remotely and writes the server's task back.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (Task, error) {
	return mutation.Perform(ctx, s.mutations, mutation.Mutation[Task]{
		Name:     "update_task",
		Keys:     []cache.Key{Lists(), Searches(), Detail(id)},
		Validate: patch.Validate,
		Optimistic: func(tx *cache.Tx) {
			s.mapLists(tx, func(tasks []Task) []Task {
				out := cloneTasks(tasks)
				for i := range out {
					if out[i].ID == id {
						out[i] = patch.Apply(out[i])
					}
				}
				return out
			})
			if e, ok := tx.Get(Detail(id)); ok {
				if t, ok := cache.DataAs[Task](e); ok {
					tx.Set(Detail(id), func(e cache.Entry) cache.Entry {
						e.Data = patch.Apply(t)
						return e
					})
				}
			}
		},
		Run: func(ctx context.Context) (Task, error) {
			return s.repo.Update(ctx, id, patch)
		},
		Commit: func(tx *cache.Tx, updated Task) {
			s.mapLists(tx, func(tasks []Task) []Task {
				out := cloneTasks(tasks)
				for i := range out {
					if out[i].ID == updated.ID {
						out[i] = updated
					}
				}
				return out
			})
			s.writeDetail(tx, updated)
		},
	})
}

// Delete removes the task from the cached lists, deletes it remotely and
// drops its detail entry.
func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := mutation.Perform(ctx, s.mutations, mutation.Mutation[struct{}]{
		Name: "delete_task",
		Keys: []cache.Key{Lists(), Searches(), Detail(id)},
		Validate: func() error {
			if id == "" {
				return fmt.Errorf("task id is required")
			}
			return nil
		},
		Optimistic: func(tx *cache.Tx) {
			s.mapLists(tx, func(tasks []Task) []Task {
				return without(tasks, id)
			})
		},
		Run: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.repo.Delete(ctx, id)
		},
		Commit: func(tx *cache.Tx, _ struct{}) {
			tx.Remove(Detail(id))
		},
	})
	return err
}

func (s *Service) fetchList(ctx context.Context) (any, error) {
	return s.repo.List(ctx)
}

func (s *Service) fetchDetail(id string) query.Fetcher {
	return func(ctx context.Context) (any, error) {
		return s.repo.Get(ctx, id)
	}
}

func (s *Service) fetchFiltered(keep func(Task) bool) query.Fetcher {
	return func(ctx context.Context) (any, error) {
		tasks, err := s.repo.List(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]Task, 0, len(tasks))
		for _, t := range tasks {
			if keep(t) {
				out = append(out, t)
			}
		}
		return out, nil
	}
}

// mapLists rewrites every cached list and search result that holds tasks.
func (s *Service) mapLists(tx *cache.Tx, fn func([]Task) []Task) {
	for _, k := range tx.Keys(cache.MatchPrefix(Lists(), Searches())) {
		tx.Set(k, func(e cache.Entry) cache.Entry {
			if tasks, ok := cache.DataAs[[]Task](e); ok {
				e.Data = fn(tasks)
			}
			return e
		})
	}
}

// writeDetail stores t as a freshly fetched detail entry.
func (s *Service) writeDetail(tx *cache.Tx, t Task) {
	now := tx.Now()
	tx.Set(Detail(t.ID), func(e cache.Entry) cache.Entry {
		e.Data = t
		e.Status = cache.StatusSuccess
		e.Err = nil
		e.LastUpdated = now
		e.StaleAt = now.Add(s.queries.Config().StaleTime)
		return e
	})
}

// replaceProvisional swaps the provisional task for created so that created
// appears exactly once, wherever the list currently stands.
func replaceProvisional(tasks []Task, provisionalID string, created Task) []Task {
	out := make([]Task, 0, len(tasks)+1)
	placed := false
	for _, t := range tasks {
		switch t.ID {
		case provisionalID, created.ID:
			if !placed {
				out = append(out, created)
				placed = true
			}
		default:
			out = append(out, t)
		}
	}
	if !placed {
		out = append(out, created)
	}
	return out
}

func without(tasks []Task, id string) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

func cloneTasks(tasks []Task) []Task {
	return append([]Task(nil), tasks...)
}
