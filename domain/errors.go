package domain

import (
	"errors"
	"fmt"
)

// ErrForbidden is returned when the acting user may not touch the entity.
var ErrForbidden = errors.New("forbidden")

// ValidationError reports a malformed or out of range field value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// IllegalTransitionError reports a lifecycle rule violation.
type IllegalTransitionError struct {
	Action string
	From   Status
}

func (e *IllegalTransitionError) Error() string {
	switch e.Action {
	case actionStart:
		return "only pending tasks can be started"
	case actionSubmitForReview:
		return "only in-progress tasks can be moved to review"
	case actionComplete:
		return "task is already completed"
	}
	return fmt.Sprintf("cannot %s a task in status %s", e.Action, e.From)
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsIllegalTransition(err error) bool {
	var target *IllegalTransitionError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}
