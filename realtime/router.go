package realtime

import (
	"time"

	log "github.com/sirupsen/logrus"

	"taskhub/domain"
)

// Submitter accepts events for out-of-process mirroring.
type Submitter interface {
	Submit(ev Event) bool
}

type RouterOption func(*Router)

// WithSink mirrors every dispatched event once to s.
func WithSink(s Submitter) RouterOption {
	return func(r *Router) { r.sink = s }
}

// WithClock overrides the dispatch timestamp source.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// Router computes recipient groups for task mutations and delivers one event
// per group member. Delivery is best effort: a full or vanished connection
// simply misses the event.
type Router struct {
	registry *Registry
	sender   Sender
	sink     Submitter
	now      func() time.Time
	log      log.FieldLogger
}

func NewRouter(registry *Registry, sender Sender, logger log.FieldLogger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = log.StandardLogger()
	}
	r := &Router{
		registry: registry,
		sender:   sender,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) TaskCreated(task domain.TaskDetails) {
	ev := TaskCreated{EventType: TaskCreatedEvent, Timestamp: r.now(), Task: task}
	r.dispatch(ev, Targets(ev))
}

func (r *Router) TaskUpdated(task domain.TaskDetails, actorID, actorName string) {
	ev := TaskUpdated{
		EventType:       TaskUpdatedEvent,
		Timestamp:       r.now(),
		Task:            task,
		UpdatedByUserID: actorID,
		UpdatedByName:   actorName,
	}
	r.dispatch(ev, Targets(ev))
}

func (r *Router) TaskDeleted(taskID, projectID, actorID string) {
	ev := TaskDeleted{
		EventType:       TaskDeletedEvent,
		Timestamp:       r.now(),
		TaskID:          taskID,
		ProjectID:       projectID,
		DeletedByUserID: actorID,
	}
	r.dispatch(ev, Targets(ev))
}

// Targets lists the groups an event is sent to, in send order. Create and
// delete go to all_users and the project group, so a connection in both
// receives the event twice. Updates go to the project group plus the creator
// and assignee groups, skipping whichever of them is the actor.
func Targets(ev Event) []string {
	switch e := ev.(type) {
	case TaskCreated:
		return []string{AllUsersGroup, ProjectGroup(e.Task.ProjectID)}
	case TaskDeleted:
		return []string{AllUsersGroup, ProjectGroup(e.ProjectID)}
	case TaskUpdated:
		groups := []string{ProjectGroup(e.Task.ProjectID)}
		if e.Task.CreatedByUserID != e.UpdatedByUserID {
			groups = append(groups, UserGroup(e.Task.CreatedByUserID))
		}
		if a := e.Task.AssignedToUserID; a != nil && *a != "" && *a != e.UpdatedByUserID {
			groups = append(groups, UserGroup(*a))
		}
		return groups
	default:
		return nil
	}
}

func (r *Router) dispatch(ev Event, groups []string) {
	delivered, dropped := 0, 0
	for _, g := range groups {
		for _, connID := range r.registry.MembersOf(g) {
			if r.sender.Send(connID, ev) {
				delivered++
				continue
			}
			dropped++
			r.log.WithFields(log.Fields{"event": ev.Name(), "group": g, "connection": connID}).Debug("event dropped")
		}
	}
	if r.sink != nil && !r.sink.Submit(ev) {
		r.log.WithField("event", ev.Name()).Warn("event sink saturated, event not mirrored")
	}
	r.log.WithFields(log.Fields{"event": ev.Name(), "groups": groups, "delivered": delivered, "dropped": dropped}).Debug("event dispatched")
}
