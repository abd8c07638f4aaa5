package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxTitleLength = 200

	actionStart           = "start"
	actionSubmitForReview = "submit for review"
	actionComplete        = "complete"
)

var now = func() time.Time { return time.Now().UTC() }

// Task is a unit of work moving through the Pending -> InProgress -> InReview
// -> Done lifecycle. Status and the timestamps only change through its
// methods. A Task is not safe for concurrent use.
type Task struct {
	id          string
	title       string
	description *string
	status      Status
	estimate    *float64
	projectID   string
	createdBy   string
	assignedTo  *string
	createdAt   time.Time
	updatedAt   *time.Time
	completedAt *time.Time
}

// TaskRecord is the plain, serializable view of a Task used by storage,
// queries and events.
type TaskRecord struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      *string    `json:"description"`
	Status           Status     `json:"status"`
	EstimatedHours   *float64   `json:"estimatedHours"`
	ProjectID        string     `json:"projectId"`
	CreatedByUserID  string     `json:"createdByUserId"`
	AssignedToUserID *string    `json:"assignedToUserId"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        *time.Time `json:"updatedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// TaskDetails is a TaskRecord with the display names of its references.
type TaskDetails struct {
	TaskRecord
	ProjectName    string `json:"projectName"`
	CreatedByName  string `json:"createdByName"`
	AssignedToName string `json:"assignedToName,omitempty"`
}

// NewTask creates a pending task. Project and creator existence is the
// store's concern.
func NewTask(title, description, projectID, createdBy string) (*Task, error) {
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	if strings.TrimSpace(projectID) == "" {
		return nil, &ValidationError{Field: "projectId", Message: "project is required"}
	}
	if strings.TrimSpace(createdBy) == "" {
		return nil, &ValidationError{Field: "createdByUserId", Message: "creator is required"}
	}
	return &Task{
		id:          uuid.NewString(),
		title:       title,
		description: optional(description),
		status:      StatusPending,
		projectID:   projectID,
		createdBy:   createdBy,
		createdAt:   now(),
	}, nil
}

// RestoreTask rebuilds a Task from a persisted record.
func RestoreTask(rec TaskRecord) (*Task, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("restore task: missing id")
	}
	if !rec.Status.Valid() {
		return nil, fmt.Errorf("restore task %s: unknown status %q", rec.ID, rec.Status)
	}
	if (rec.Status == StatusDone) != (rec.CompletedAt != nil) {
		return nil, fmt.Errorf("restore task %s: completion timestamp does not match status %s", rec.ID, rec.Status)
	}
	return &Task{
		id:          rec.ID,
		title:       rec.Title,
		description: copyPtr(rec.Description),
		status:      rec.Status,
		estimate:    copyPtr(rec.EstimatedHours),
		projectID:   rec.ProjectID,
		createdBy:   rec.CreatedByUserID,
		assignedTo:  copyPtr(rec.AssignedToUserID),
		createdAt:   rec.CreatedAt.UTC(),
		updatedAt:   copyPtr(rec.UpdatedAt),
		completedAt: copyPtr(rec.CompletedAt),
	}, nil
}

// Record returns a detached copy of the task's state.
func (t *Task) Record() TaskRecord {
	return TaskRecord{
		ID:               t.id,
		Title:            t.title,
		Description:      copyPtr(t.description),
		Status:           t.status,
		EstimatedHours:   copyPtr(t.estimate),
		ProjectID:        t.projectID,
		CreatedByUserID:  t.createdBy,
		AssignedToUserID: copyPtr(t.assignedTo),
		CreatedAt:        t.createdAt,
		UpdatedAt:        copyPtr(t.updatedAt),
		CompletedAt:      copyPtr(t.completedAt),
	}
}

func (t *Task) ID() string { return t.id }
func (t *Task) Title() string { return t.title }
func (t *Task) Status() Status { return t.status }
func (t *Task) ProjectID() string { return t.projectID }
func (t *Task) CreatedBy() string { return t.createdBy }
func (t *Task) CreatedAt() time.Time { return t.createdAt }
func (t *Task) UpdatedAt() *time.Time { return copyPtr(t.updatedAt) }
func (t *Task) CompletedAt() *time.Time { return copyPtr(t.completedAt) }
func (t *Task) Description() *string { return copyPtr(t.description) }
func (t *Task) EstimatedHours() *float64 { return copyPtr(t.estimate) }
func (t *Task) AssignedTo() *string { return copyPtr(t.assignedTo) }

// IsAssignedTo reports whether userID is the current assignee.
func (t *Task) IsAssignedTo(userID string) bool {
	return t.assignedTo != nil && *t.assignedTo == userID
}

// Start moves a pending task into progress.
func (t *Task) Start() error {
	if t.status != StatusPending {
		return &IllegalTransitionError{Action: actionStart, From: t.status}
	}
	t.status = StatusInProgress
	t.touch()
	return nil
}

// SubmitForReview moves an in-progress task into review.
func (t *Task) SubmitForReview() error {
	if t.status != StatusInProgress {
		return &IllegalTransitionError{Action: actionSubmitForReview, From: t.status}
	}
	t.status = StatusInReview
	t.touch()
	return nil
}

// Complete finishes the task from any state but Done. Review is not required.
func (t *Task) Complete() error {
	if t.status == StatusDone {
		return &IllegalTransitionError{Action: actionComplete, From: t.status}
	}
	ts := now()
	t.status = StatusDone
	t.completedAt = &ts
	t.updatedAt = &ts
	return nil
}

// TransitionTo applies the transition that leads to target. Pending is
// accepted as a no-op since no transition leads back to it.
func (t *Task) TransitionTo(target Status) error {
	switch target {
	case StatusPending:
		return nil
	case StatusInProgress:
		return t.Start()
	case StatusInReview:
		return t.SubmitForReview()
	case StatusDone:
		return t.Complete()
	}
	return &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", target)}
}

// Retitle replaces the title after validating it.
func (t *Task) Retitle(title string) error {
	if err := validateTitle(title); err != nil {
		return err
	}
	t.title = title
	t.touch()
	return nil
}

// Redescribe replaces the description; an empty string clears it.
func (t *Task) Redescribe(description string) {
	t.description = optional(description)
	t.touch()
}

// Reestimate sets the estimate, which must be a positive number of hours.
func (t *Task) Reestimate(hours float64) error {
	if math.IsNaN(hours) || math.IsInf(hours, 0) || hours <= 0 {
		return &ValidationError{Field: "estimatedHours", Message: "estimated hours must be positive"}
	}
	t.estimate = &hours
	t.touch()
	return nil
}

// Assign makes userID the assignee.
func (t *Task) Assign(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return &ValidationError{Field: "assignedToUserId", Message: "assignee is required"}
	}
	t.assignedTo = &userID
	t.touch()
	return nil
}

// Unassign clears the assignee.
func (t *Task) Unassign() {
	t.assignedTo = nil
	t.touch()
}

func (t *Task) touch() {
	ts := now()
	t.updatedAt = &ts
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return &ValidationError{Field: "title", Message: "title cannot be empty"}
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return &ValidationError{Field: "title", Message: fmt.Sprintf("title cannot exceed %d characters", MaxTitleLength)}
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
