// Package apperrors holds the error taxonomy shared by the workflow core and its adapters.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that the requested document or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the actor's role may not perform the requested action.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidTransition indicates the action is not legal from the document's current status.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrValidation indicates input failed validation (e.g. missing rejection reason).
	ErrValidation = errors.New("validation error")

	// ErrIntegrity indicates stored financial data is inconsistent. Never retried.
	ErrIntegrity = errors.New("integrity error")

	// ErrRateUnavailable indicates an exchange rate could not be resolved in time.
	ErrRateUnavailable = errors.New("exchange rate unavailable")
)

// TransitionError identifies the status and action of a rejected transition.
type TransitionError struct {
	DocumentID string
	Status     string
	Action     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s document %s in status %s", ErrInvalidTransition, e.Action, e.DocumentID, e.Status)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NewTransitionError builds a TransitionError.
func NewTransitionError(documentID, status, action string) error {
	return &TransitionError{DocumentID: documentID, Status: status, Action: action}
}

// Retryable reports whether the caller may retry the failed operation with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateUnavailable)
}
