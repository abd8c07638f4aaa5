package service

import (
	"context"
	"fmt"

	"taskhub/domain"
	"taskhub/query"
	"taskhub/storage"
)

type Projects struct {
	store storage.Store
	locks keyedMutex
}

func NewProjects(store storage.Store) *Projects {
	return &Projects{store: store}
}

func (s *Projects) Create(ctx context.Context, name string) (domain.Project, error) {
	p, err := domain.NewProject(name)
	if err != nil {
		return domain.Project{}, err
	}
	if err := s.store.CreateProject(ctx, *p); err != nil {
		return domain.Project{}, fmt.Errorf("create project: %w", err)
	}
	return *p, nil
}

func (s *Projects) Get(ctx context.Context, id string) (domain.Project, error) {
	return s.store.GetProject(ctx, id)
}

func (s *Projects) List(ctx context.Context) ([]domain.Project, error) {
	return s.store.ListProjects(ctx)
}

func (s *Projects) Rename(ctx context.Context, id, name string) (domain.Project, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := p.Rename(name); err != nil {
		return domain.Project{}, err
	}
	if err := s.store.UpdateProject(ctx, p); err != nil {
		return domain.Project{}, fmt.Errorf("rename project: %w", err)
	}
	return p, nil
}

// Delete removes an empty project. Projects still referenced by tasks are
// rejected.
func (s *Projects) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if _, err := s.store.GetProject(ctx, id); err != nil {
		return err
	}
	res, err := s.store.QueryTasks(ctx, query.Request{Filter: query.Filter{ProjectID: id}, Page: 1, PageSize: 1})
	if err != nil {
		return fmt.Errorf("count project tasks: %w", err)
	}
	if res.TotalCount > 0 {
		return &domain.ValidationError{Field: "id", Message: fmt.Sprintf("project still has %d tasks", res.TotalCount)}
	}
	return s.store.DeleteProject(ctx, id)
}

type Users struct {
	store storage.Store
}

func NewUsers(store storage.Store) *Users {
	return &Users{store: store}
}

// Upsert records the profile of an authenticated user.
func (s *Users) Upsert(ctx context.Context, id, email, fullName string) (domain.User, error) {
	hash := ""
	if existing, err := s.store.GetUser(ctx, id); err == nil {
		hash = existing.PasswordHash
	} else if !domain.IsNotFound(err) {
		return domain.User{}, err
	}
	u, err := domain.NewUser(id, email, fullName, hash)
	if err != nil {
		return domain.User{}, err
	}
	if err := s.store.UpsertUser(ctx, *u); err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return *u, nil
}

func (s *Users) Get(ctx context.Context, id string) (domain.User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *Users) List(ctx context.Context) ([]domain.User, error) {
	return s.store.ListUsers(ctx)
}

// Delete removes a stored profile. Callers may only delete their own.
func (s *Users) Delete(ctx context.Context, actor Actor, id string) error {
	if actor.UserID != id {
		if _, err := s.store.GetUser(ctx, id); err != nil {
			return err
		}
		return domain.ErrForbidden
	}
	return s.store.DeleteUser(ctx, id)
}
