// Package service runs task, project and user operations against a store and
// announces task changes to live clients.
package service

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"taskhub/domain"
	"taskhub/query"
	"taskhub/storage"
)

// Actor is the authenticated user performing an operation.
type Actor struct {
	UserID string
	Name   string
}

// Notifier receives committed task mutations.
type Notifier interface {
	TaskCreated(task domain.TaskDetails)
	TaskUpdated(task domain.TaskDetails, actorID, actorName string)
	TaskDeleted(taskID, projectID, actorID string)
}

type CreateTaskInput struct {
	Title            string
	Description      string
	ProjectID        string
	EstimatedHours   *float64
	AssignedToUserID *string
}

// TaskPatch lists the changes of one update. Nil fields are left alone. An
// empty Description clears it. Status names the target state and is applied
// after the field changes.
type TaskPatch struct {
	Title            *string
	Description      *string
	EstimatedHours   *float64
	AssignedToUserID *string
	Unassign         bool
	Status           *domain.Status
}

type Tasks struct {
	store    storage.Store
	notifier Notifier
	log      log.FieldLogger
	locks    keyedMutex
}

func NewTasks(store storage.Store, notifier Notifier, logger log.FieldLogger) *Tasks {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Tasks{store: store, notifier: notifier, log: logger}
}

func (s *Tasks) Create(ctx context.Context, actor Actor, in CreateTaskInput) (domain.TaskDetails, error) {
	task, err := domain.NewTask(in.Title, in.Description, in.ProjectID, actor.UserID)
	if err != nil {
		return domain.TaskDetails{}, err
	}
	if in.EstimatedHours != nil {
		if err := task.Reestimate(*in.EstimatedHours); err != nil {
			return domain.TaskDetails{}, err
		}
	}
	if in.AssignedToUserID != nil {
		if err := task.Assign(*in.AssignedToUserID); err != nil {
			return domain.TaskDetails{}, err
		}
	}
	rec := task.Record()
	// a new task has not been updated yet
	rec.UpdatedAt = nil
	if err := s.store.CreateTask(ctx, rec); err != nil {
		return domain.TaskDetails{}, fmt.Errorf("create task: %w", err)
	}
	details := s.details(ctx, rec)
	s.log.WithFields(log.Fields{"task": rec.ID, "project": rec.ProjectID, "user": actor.UserID}).Info("task created")
	s.notifier.TaskCreated(details)
	return details, nil
}

// Update applies patch to a private copy of the task and persists it only if
// every change is legal. Only the creator or the assignee may update.
func (s *Tasks) Update(ctx context.Context, actor Actor, id string, patch TaskPatch) (domain.TaskDetails, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	task, err := s.load(ctx, id)
	if err != nil {
		return domain.TaskDetails{}, err
	}
	if task.CreatedBy() != actor.UserID && !task.IsAssignedTo(actor.UserID) {
		return domain.TaskDetails{}, domain.ErrForbidden
	}
	if err := applyPatch(task, patch); err != nil {
		return domain.TaskDetails{}, err
	}
	rec := task.Record()
	if err := s.store.UpdateTask(ctx, rec); err != nil {
		return domain.TaskDetails{}, fmt.Errorf("update task: %w", err)
	}
	details := s.details(ctx, rec)
	s.log.WithFields(log.Fields{"task": id, "status": rec.Status, "user": actor.UserID}).Info("task updated")
	s.notifier.TaskUpdated(details, actor.UserID, actor.Name)
	return details, nil
}

func applyPatch(task *domain.Task, p TaskPatch) error {
	if p.Title != nil {
		if err := task.Retitle(*p.Title); err != nil {
			return err
		}
	}
	if p.Description != nil {
		task.Redescribe(*p.Description)
	}
	if p.EstimatedHours != nil {
		if err := task.Reestimate(*p.EstimatedHours); err != nil {
			return err
		}
	}
	switch {
	case p.Unassign && p.AssignedToUserID != nil:
		return &domain.ValidationError{Field: "assignedToUserId", Message: "cannot assign and unassign in one update"}
	case p.Unassign:
		task.Unassign()
	case p.AssignedToUserID != nil:
		if err := task.Assign(*p.AssignedToUserID); err != nil {
			return err
		}
	}
	if p.Status != nil {
		return task.TransitionTo(*p.Status)
	}
	return nil
}

// Delete removes a task. Only its creator may delete it.
func (s *Tasks) Delete(ctx context.Context, actor Actor, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if rec.CreatedByUserID != actor.UserID {
		return domain.ErrForbidden
	}
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	s.log.WithFields(log.Fields{"task": id, "user": actor.UserID}).Info("task deleted")
	s.notifier.TaskDeleted(id, rec.ProjectID, actor.UserID)
	return nil
}

func (s *Tasks) Get(ctx context.Context, id string) (domain.TaskDetails, error) {
	rec, err := s.store.GetTask(ctx, id)
	if err != nil {
		return domain.TaskDetails{}, err
	}
	return s.details(ctx, rec), nil
}

func (s *Tasks) List(ctx context.Context, req query.Request) (query.Result, error) {
	res, err := s.store.QueryTasks(ctx, req.Normalized())
	if err != nil {
		return query.Result{}, fmt.Errorf("query tasks: %w", err)
	}
	return res, nil
}

func (s *Tasks) load(ctx context.Context, id string) (*domain.Task, error) {
	rec, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	task, err := domain.RestoreTask(rec)
	if err != nil {
		return nil, fmt.Errorf("restore task %s: %w", id, err)
	}
	return task, nil
}

// details resolves display names. Missing references leave names empty.
func (s *Tasks) details(ctx context.Context, rec domain.TaskRecord) domain.TaskDetails {
	d := domain.TaskDetails{TaskRecord: rec}
	if p, err := s.store.GetProject(ctx, rec.ProjectID); err == nil {
		d.ProjectName = p.Name
	} else if !domain.IsNotFound(err) {
		s.log.WithError(err).WithField("project", rec.ProjectID).Warn("resolve project name")
	}
	d.CreatedByName = s.userName(ctx, rec.CreatedByUserID)
	if rec.AssignedToUserID != nil {
		d.AssignedToName = s.userName(ctx, *rec.AssignedToUserID)
	}
	return d
}

func (s *Tasks) userName(ctx context.Context, id string) string {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		var nf *domain.NotFoundError
		if !errors.As(err, &nf) {
			s.log.WithError(err).WithField("user", id).Warn("resolve user name")
		}
		return ""
	}
	return u.FullName
}
