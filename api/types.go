package api

import (
	"context"

	"taskhub/domain"
	"taskhub/query"
	"taskhub/service"
)

// TaskService is the task use-case surface the handlers need.
type TaskService interface {
	Create(ctx context.Context, actor service.Actor, in service.CreateTaskInput) (domain.TaskDetails, error)
	Update(ctx context.Context, actor service.Actor, id string, patch service.TaskPatch) (domain.TaskDetails, error)
	Delete(ctx context.Context, actor service.Actor, id string) error
	Get(ctx context.Context, id string) (domain.TaskDetails, error)
	List(ctx context.Context, req query.Request) (query.Result, error)
}

type ProjectService interface {
	Create(ctx context.Context, name string) (domain.Project, error)
	Get(ctx context.Context, id string) (domain.Project, error)
	List(ctx context.Context) ([]domain.Project, error)
	Rename(ctx context.Context, id, name string) (domain.Project, error)
	Delete(ctx context.Context, id string) error
}

type UserService interface {
	Upsert(ctx context.Context, id, email, fullName string) (domain.User, error)
	Get(ctx context.Context, id string) (domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Delete(ctx context.Context, actor service.Actor, id string) error
}

// Authenticator is implemented by types able to resolve callers from headers.
type Authenticator interface {
	Authenticate(header string) (Identity, error)
}

// Deduper prevents processing of duplicate commands.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
