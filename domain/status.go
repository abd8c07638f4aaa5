package domain

import "strings"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusInReview   Status = "InReview"
	StatusDone       Status = "Done"
)

var statuses = [...]Status{StatusPending, StatusInProgress, StatusInReview, StatusDone}

// Statuses returns every valid status in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses[:])
	return out
}

// ParseStatus matches s against the known statuses ignoring case.
func ParseStatus(s string) (Status, error) {
	trimmed := strings.TrimSpace(s)
	for _, st := range statuses {
		if strings.EqualFold(trimmed, string(st)) {
			return st, nil
		}
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	return "", &ValidationError{
		Field:   "status",
		Message: "invalid status value, valid values are: " + strings.Join(names, ", "),
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, st := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }
