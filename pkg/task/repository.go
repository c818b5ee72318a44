package task

import "context"

// Repository performs the remote operations for tasks. Implementations
// enforce their own timeouts and return *apierr.Error values.
type Repository interface {
	List(ctx context.Context) ([]Task, error)
	Get(ctx context.Context, id string) (Task, error)
	Create(ctx context.Context, in Input) (Task, error)
	Update(ctx context.Context, id string, patch Patch) (Task, error)
	Delete(ctx context.Context, id string) error
}
