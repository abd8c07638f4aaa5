package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskhub/domain"
)

type delivery struct {
	connID string
	event  string
}

type recordingSender struct {
	mu     sync.Mutex
	sent   []delivery
	events []Event
	reject map[string]bool
}

func (s *recordingSender) Send(connID string, ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject[connID] {
		return false
	}
	s.sent = append(s.sent, delivery{connID: connID, event: ev.Name()})
	s.events = append(s.events, ev)
	return true
}

func (s *recordingSender) to(connID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.sent {
		if d.connID == connID {
			n++
		}
	}
	return n
}

type countingSink struct {
	events []Event
	accept bool
}

func (s *countingSink) Submit(ev Event) bool {
	s.events = append(s.events, ev)
	return s.accept
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T, opts ...RouterOption) (*Router, *Registry, *recordingSender) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	reg := NewRegistry()
	sender := &recordingSender{}
	opts = append([]RouterOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewRouter(reg, sender, logger, opts...), reg, sender
}

func details(projectID, creator string, assignee *string) domain.TaskDetails {
	return domain.TaskDetails{TaskRecord: domain.TaskRecord{
		ID:               "t1",
		Title:            "Task",
		Status:           domain.StatusPending,
		ProjectID:        projectID,
		CreatedByUserID:  creator,
		AssignedToUserID: assignee,
	}}
}

func strPtr(s string) *string { return &s }

func TestTaskCreatedFanOut(t *testing.T) {
	router, reg, sender := newTestRouter(t)
	reg.OnConnect("in-project", "u1")
	reg.JoinProjectGroup("in-project", "P")
	reg.OnConnect("bystander", "u2")
	reg.OnConnect("other-project", "u3")
	reg.JoinProjectGroup("other-project", "Q")

	router.TaskCreated(details("P", "u1", nil))

	if got := sender.to("in-project"); got != 2 {
		t.Fatalf("expected project member to receive 2 events, got %d", got)
	}
	if got := sender.to("bystander"); got != 1 {
		t.Fatalf("expected bystander to receive 1 event, got %d", got)
	}
	if got := sender.to("other-project"); got != 1 {
		t.Fatalf("expected other project member to receive 1 event, got %d", got)
	}
	for _, ev := range sender.events {
		created, ok := ev.(TaskCreated)
		if !ok {
			t.Fatalf("unexpected event type %T", ev)
		}
		if !created.Timestamp.Equal(fixedNow) || created.EventType != TaskCreatedEvent {
			t.Fatalf("unexpected event %+v", created)
		}
	}
}

func TestTaskUpdatedSkipsActor(t *testing.T) {
	router, reg, sender := newTestRouter(t)
	reg.OnConnect("creator", "A")
	reg.OnConnect("assignee", "B")
	reg.OnConnect("watcher", "W")
	reg.JoinProjectGroup("watcher", "P")
	reg.OnConnect("bystander", "X")

	router.TaskUpdated(details("P", "A", strPtr("B")), "B", "Bea")

	want := map[string]int{"creator": 1, "assignee": 0, "watcher": 1, "bystander": 0}
	for conn, n := range want {
		if got := sender.to(conn); got != n {
			t.Fatalf("connection %s: expected %d events, got %d", conn, n, got)
		}
	}
	upd := sender.events[0].(TaskUpdated)
	if upd.UpdatedByUserID != "B" || upd.UpdatedByName != "Bea" {
		t.Fatalf("unexpected actor fields %+v", upd)
	}
}

func TestTargets(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want []string
	}{
		{name: "created", ev: TaskCreated{Task: details("P", "A", nil)}, want: []string{"all_users", "project:P"}},
		{name: "deleted", ev: TaskDeleted{TaskID: "t1", ProjectID: "P", DeletedByUserID: "A"}, want: []string{"all_users", "project:P"}},
		{name: "update by creator unassigned", ev: TaskUpdated{Task: details("P", "A", nil), UpdatedByUserID: "A"}, want: []string{"project:P"}},
		{name: "update by creator assigned", ev: TaskUpdated{Task: details("P", "A", strPtr("B")), UpdatedByUserID: "A"}, want: []string{"project:P", "user:B"}},
		{name: "update by assignee", ev: TaskUpdated{Task: details("P", "A", strPtr("B")), UpdatedByUserID: "B"}, want: []string{"project:P", "user:A"}},
		{name: "update by third party", ev: TaskUpdated{Task: details("P", "A", strPtr("B")), UpdatedByUserID: "C"}, want: []string{"project:P", "user:A", "user:B"}},
		{name: "self assigned creator by other", ev: TaskUpdated{Task: details("P", "A", strPtr("A")), UpdatedByUserID: "C"}, want: []string{"project:P", "user:A", "user:A"}},
		{name: "blank assignee", ev: TaskUpdated{Task: details("P", "A", strPtr("")), UpdatedByUserID: "A"}, want: []string{"project:P"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Targets(tt.ev)); diff != "" {
				t.Fatalf("unexpected targets (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTaskDeletedFanOut(t *testing.T) {
	router, reg, sender := newTestRouter(t)
	reg.OnConnect("c1", "u1")
	reg.JoinProjectGroup("c1", "P")

	router.TaskDeleted("t1", "P", "u1")

	if got := sender.to("c1"); got != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got)
	}
	del := sender.events[0].(TaskDeleted)
	if del.TaskID != "t1" || del.ProjectID != "P" || del.DeletedByUserID != "u1" {
		t.Fatalf("unexpected payload %+v", del)
	}
}

func TestDispatchToleratesFailedSends(t *testing.T) {
	router, reg, sender := newTestRouter(t)
	sender.reject = map[string]bool{"gone": true}
	reg.OnConnect("gone", "u1")
	reg.OnConnect("alive", "u2")

	router.TaskCreated(details("P", "u1", nil))

	if got := sender.to("alive"); got != 1 {
		t.Fatalf("expected live connection to receive event, got %d", got)
	}
}

func TestRouterMirrorsOncePerEvent(t *testing.T) {
	sink := &countingSink{accept: true}
	router, reg, _ := newTestRouter(t, WithSink(sink))
	reg.OnConnect("c1", "u1")
	reg.JoinProjectGroup("c1", "P")

	router.TaskCreated(details("P", "u1", nil))

	if len(sink.events) != 1 {
		t.Fatalf("expected one mirrored event, got %d", len(sink.events))
	}
}

func TestRouterWarnsWhenSinkSaturated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := &countingSink{accept: false}
	router := NewRouter(NewRegistry(), &recordingSender{}, logger, WithSink(sink))

	router.TaskDeleted("t1", "P", "u1")

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel && e.Data["event"] == TaskDeletedEvent {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected saturation warning")
	}
}

func TestIndependentRegistries(t *testing.T) {
	a, regA, sendA := newTestRouter(t)
	_, regB, sendB := newTestRouter(t)
	regA.OnConnect("c", "u")
	regB.OnConnect("c", "u")

	a.TaskCreated(details("P", "u", nil))

	if sendA.to("c") != 1 || sendB.to("c") != 0 {
		t.Fatalf("routers share state: a=%d b=%d", sendA.to("c"), sendB.to("c"))
	}
}
