package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func fixedClock(t *testing.T) *time.Time {
	t.Helper()
	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := now
	now = func() time.Time {
		current = current.Add(time.Second)
		return current
	}
	t.Cleanup(func() { now = prev })
	return &current
}

func newPendingTask(t *testing.T) *Task {
	t.Helper()
	task, err := NewTask("Refactor Auth", "", "p1", "u1")
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func TestNewTaskDefaults(t *testing.T) {
	fixedClock(t)
	task, err := NewTask("Write docs", "longer text", "p1", "u1")
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.ID() == "" {
		t.Fatal("expected generated id")
	}
	if task.Status() != StatusPending {
		t.Fatalf("expected Pending, got %s", task.Status())
	}
	if task.CreatedAt().Location() != time.UTC {
		t.Fatalf("expected UTC creation time, got %v", task.CreatedAt().Location())
	}
	if task.UpdatedAt() != nil || task.CompletedAt() != nil {
		t.Fatalf("expected no update/completion timestamps, got %v %v", task.UpdatedAt(), task.CompletedAt())
	}
	if d := task.Description(); d == nil || *d != "longer text" {
		t.Fatalf("unexpected description %v", d)
	}
}

func TestNewTaskTitleValidation(t *testing.T) {
	tests := []struct {
		name  string
		title string
		ok    bool
	}{
		{name: "empty", title: "", ok: false},
		{name: "blank", title: "   ", ok: false},
		{name: "max length", title: strings.Repeat("a", 200), ok: true},
		{name: "too long", title: strings.Repeat("a", 201), ok: false},
		{name: "multibyte at limit", title: strings.Repeat("é", 200), ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTask(tt.title, "", "p1", "u1")
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestNewTaskRequiresReferences(t *testing.T) {
	if _, err := NewTask("t", "", "", "u1"); !IsValidation(err) {
		t.Fatalf("expected validation error for missing project, got %v", err)
	}
	if _, err := NewTask("t", "", "p1", ""); !IsValidation(err) {
		t.Fatalf("expected validation error for missing creator, got %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	type op struct {
		name string
		fn   func(*Task) error
	}
	ops := []op{
		{name: "start", fn: (*Task).Start},
		{name: "submitForReview", fn: (*Task).SubmitForReview},
		{name: "complete", fn: (*Task).Complete},
	}
	// reach builds a task in the requested state through legal transitions.
	reach := func(t *testing.T, st Status) *Task {
		task := newPendingTask(t)
		path := map[Status][]func(*Task) error{
			StatusPending:    nil,
			StatusInProgress: {(*Task).Start},
			StatusInReview:   {(*Task).Start, (*Task).SubmitForReview},
			StatusDone:       {(*Task).Complete},
		}[st]
		for _, step := range path {
			if err := step(task); err != nil {
				t.Fatalf("reach %s: %v", st, err)
			}
		}
		return task
	}
	want := map[Status]map[string]Status{
		StatusPending:    {"start": StatusInProgress, "complete": StatusDone},
		StatusInProgress: {"submitForReview": StatusInReview, "complete": StatusDone},
		StatusInReview:   {"complete": StatusDone},
		StatusDone:       {},
	}
	for _, from := range Statuses() {
		for _, o := range ops {
			t.Run(string(from)+"/"+o.name, func(t *testing.T) {
				fixedClock(t)
				task := reach(t, from)
				err := o.fn(task)
				to, legal := want[from][o.name]
				if legal {
					if err != nil {
						t.Fatalf("expected success, got %v", err)
					}
					if task.Status() != to {
						t.Fatalf("expected %s, got %s", to, task.Status())
					}
					if task.UpdatedAt() == nil {
						t.Fatal("expected updated timestamp")
					}
					return
				}
				var illegal *IllegalTransitionError
				if !errors.As(err, &illegal) {
					t.Fatalf("expected illegal transition, got %v", err)
				}
				if illegal.From != from {
					t.Fatalf("expected From=%s, got %s", from, illegal.From)
				}
				if task.Status() != from {
					t.Fatalf("status changed on failure: %s", task.Status())
				}
			})
		}
	}
}

func TestCompleteSkipsReview(t *testing.T) {
	fixedClock(t)
	pending := newPendingTask(t)
	if err := pending.Complete(); err != nil {
		t.Fatalf("complete from pending: %v", err)
	}
	inProgress := newPendingTask(t)
	if err := inProgress.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := inProgress.Complete(); err != nil {
		t.Fatalf("complete from in progress: %v", err)
	}
	if err := inProgress.Complete(); !IsIllegalTransition(err) {
		t.Fatalf("expected second complete to fail, got %v", err)
	}
}

func TestCompletedAtTracksDone(t *testing.T) {
	fixedClock(t)
	actions := map[string]func(*Task) error{
		"start":    (*Task).Start,
		"review":   (*Task).SubmitForReview,
		"complete": (*Task).Complete,
		"retitle":  func(task *Task) error { return task.Retitle("renamed") },
		"estimate": func(task *Task) error { return task.Reestimate(2.5) },
		"assign":   func(task *Task) error { return task.Assign("u2") },
		"unassign": func(task *Task) error { task.Unassign(); return nil },
		"describe": func(task *Task) error { task.Redescribe("d"); return nil },
	}
	names := []string{"start", "review", "complete", "retitle", "estimate", "assign", "unassign", "describe"}

	// Every sequence of length three over the action set.
	for _, a := range names {
		for _, b := range names {
			for _, c := range names {
				task := newPendingTask(t)
				var completedAt *time.Time
				for _, step := range []string{a, b, c} {
					_ = actions[step](task)
					done := task.Status() == StatusDone
					if done != (task.CompletedAt() != nil) {
						t.Fatalf("%s/%s/%s: status %s with completedAt %v", a, b, c, task.Status(), task.CompletedAt())
					}
					if completedAt != nil && !task.CompletedAt().Equal(*completedAt) {
						t.Fatalf("%s/%s/%s: completedAt changed from %v to %v", a, b, c, completedAt, task.CompletedAt())
					}
					if done && completedAt == nil {
						completedAt = task.CompletedAt()
					}
				}
			}
		}
	}
}

func TestFieldMutationsDoNotChangeStatus(t *testing.T) {
	fixedClock(t)
	task := newPendingTask(t)
	if err := task.Retitle("new"); err != nil {
		t.Fatalf("retitle: %v", err)
	}
	if err := task.Reestimate(3); err != nil {
		t.Fatalf("reestimate: %v", err)
	}
	if err := task.Assign("u2"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	task.Redescribe("")
	if task.Status() != StatusPending {
		t.Fatalf("expected Pending, got %s", task.Status())
	}
	if task.Description() != nil {
		t.Fatalf("expected cleared description, got %q", *task.Description())
	}
	if !task.IsAssignedTo("u2") {
		t.Fatal("expected u2 to be assignee")
	}
	task.Unassign()
	if task.AssignedTo() != nil {
		t.Fatal("expected no assignee")
	}
}

func TestFieldMutationValidation(t *testing.T) {
	task := newPendingTask(t)
	for _, hours := range []float64{0, -1} {
		if err := task.Reestimate(hours); !IsValidation(err) {
			t.Fatalf("reestimate(%v): expected validation error, got %v", hours, err)
		}
	}
	if err := task.Retitle(strings.Repeat("x", 201)); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := task.Assign(" "); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if task.UpdatedAt() != nil {
		t.Fatal("failed mutations must not touch the update timestamp")
	}
}

func TestTransitionTo(t *testing.T) {
	task := newPendingTask(t)
	if err := task.TransitionTo(StatusPending); err != nil {
		t.Fatalf("pending should be a no-op, got %v", err)
	}
	if err := task.TransitionTo(StatusInReview); !IsIllegalTransition(err) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	if err := task.TransitionTo(StatusInProgress); err != nil {
		t.Fatalf("transition to in progress: %v", err)
	}
	if err := task.TransitionTo(Status("Archived")); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRestoreTaskRoundTrip(t *testing.T) {
	fixedClock(t)
	task := newPendingTask(t)
	_ = task.Assign("u2")
	_ = task.Complete()

	restored, err := RestoreTask(task.Record())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Status() != StatusDone || restored.CompletedAt() == nil || !restored.IsAssignedTo("u2") {
		t.Fatalf("unexpected restored task: %#v", restored.Record())
	}
}

func TestRestoreTaskRejectsInconsistentRecords(t *testing.T) {
	done := time.Now().UTC()
	tests := []TaskRecord{
		{ID: "", Status: StatusPending},
		{ID: "t1", Status: "Archived"},
		{ID: "t1", Status: StatusDone},
		{ID: "t1", Status: StatusInReview, CompletedAt: &done},
	}
	for _, rec := range tests {
		if _, err := RestoreTask(rec); err == nil {
			t.Fatalf("expected error restoring %#v", rec)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, in := range []string{"pending", "INPROGRESS", " InReview ", "done"} {
		if _, err := ParseStatus(in); err != nil {
			t.Fatalf("ParseStatus(%q): %v", in, err)
		}
	}
	if _, err := ParseStatus("finished"); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
