package realtime

import (
	"time"

	"taskhub/domain"
)

const (
	TaskCreatedEvent = "TaskCreated"
	TaskUpdatedEvent = "TaskUpdated"
	TaskDeletedEvent = "TaskDeleted"
)

// Event is one of TaskCreated, TaskUpdated or TaskDeleted.
type Event interface {
	// Name is the event kind as seen by clients.
	Name() string
	// At is the dispatch timestamp.
	At() time.Time
	isEvent()
}

type TaskCreated struct {
	EventType string             `json:"eventType"`
	Timestamp time.Time          `json:"timestamp"`
	Task      domain.TaskDetails `json:"task"`
}

type TaskUpdated struct {
	EventType       string             `json:"eventType"`
	Timestamp       time.Time          `json:"timestamp"`
	Task            domain.TaskDetails `json:"task"`
	UpdatedByUserID string             `json:"updatedByUserId"`
	UpdatedByName   string             `json:"updatedByName"`
}

type TaskDeleted struct {
	EventType       string    `json:"eventType"`
	Timestamp       time.Time `json:"timestamp"`
	TaskID          string    `json:"taskId"`
	ProjectID       string    `json:"projectId"`
	DeletedByUserID string    `json:"deletedByUserId"`
}

func (e TaskCreated) Name() string  { return TaskCreatedEvent }
func (e TaskCreated) At() time.Time { return e.Timestamp }
func (TaskCreated) isEvent()        {}

func (e TaskUpdated) Name() string  { return TaskUpdatedEvent }
func (e TaskUpdated) At() time.Time { return e.Timestamp }
func (TaskUpdated) isEvent()        {}

func (e TaskDeleted) Name() string  { return TaskDeletedEvent }
func (e TaskDeleted) At() time.Time { return e.Timestamp }
func (TaskDeleted) isEvent()        {}

// Envelope is the uniform wire shape for events leaving the process.
type Envelope struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Event     `json:"payload"`
}

func NewEnvelope(ev Event) Envelope {
	return Envelope{Name: ev.Name(), Timestamp: ev.At(), Payload: ev}
}
