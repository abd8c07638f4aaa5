// Package storage persists tasks, projects and users. Every backend reports a
// missing entity as *domain.NotFoundError.
package storage

import (
	"context"

	"taskhub/domain"
	"taskhub/query"
)

// Store is the persistence contract shared by the memory, Azure Tables and
// SQL backends.
type Store interface {
	CreateTask(ctx context.Context, t domain.TaskRecord) error
	GetTask(ctx context.Context, id string) (domain.TaskRecord, error)
	UpdateTask(ctx context.Context, t domain.TaskRecord) error
	DeleteTask(ctx context.Context, id string) error
	QueryTasks(ctx context.Context, req query.Request) (query.Result, error)

	CreateProject(ctx context.Context, p domain.Project) error
	GetProject(ctx context.Context, id string) (domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	UpdateProject(ctx context.Context, p domain.Project) error
	DeleteProject(ctx context.Context, id string) error

	UpsertUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	DeleteUser(ctx context.Context, id string) error
}

const (
	entityTask    = "task"
	entityProject = "project"
	entityUser    = "user"
)

func notFound(entity, id string) error {
	return &domain.NotFoundError{Entity: entity, ID: id}
}
