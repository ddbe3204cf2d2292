package statemachine

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRetry is the root of every retry signal. Any error matching it with
	// errors.Is makes the engine re-run the event from a fresh read.
	ErrRetry = errors.New("retry event")

	// ErrTooBusy is returned by OnEvent once the retry budget is exhausted.
	// The entity is under contention; the caller should try again later.
	ErrTooBusy = errors.New("too busy: unable to process event")

	ErrEmptyStateName      = errors.New("state name must be a non-empty value")
	ErrEmptyEventName      = errors.New("event name must be a non-empty value")
	ErrNilState            = errors.New("state cannot be nil")
	ErrNilPersister        = errors.New("persister cannot be nil")
	ErrNilTransition       = errors.New("transition cannot be nil")
	ErrUnknownState        = errors.New("unknown state")
	ErrDuplicateState      = errors.New("duplicate state name")
	ErrInvalidEntityType   = errors.New("stateful entity must be a pointer to a struct")
	ErrStateFieldNotFound  = errors.New("unable to locate a state field")
	ErrAmbiguousStateField = errors.New("more than one field is tagged as state")
	ErrInvalidStateField   = errors.New("state field must be an exported string or *string")
	ErrIDFieldNotFound     = errors.New("no id field defined")
	ErrEntityNotFound      = errors.New("unable to locate stateful entity")
	ErrEntityNotCreated    = errors.New("unable to create stateful entity")
	ErrUnknownAction       = errors.New("unknown action")
)

// StaleStateError signals that the persisted state diverged from the state the
// caller expected when it tried to write. The entity's in-memory state has
// already been refreshed when this error is returned.
type StaleStateError struct {
	Expected string
	Next     string
	Actual   string
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("unable to update state, expected=%s, next=%s, actual=%s", e.Expected, e.Next, e.Actual)
}

func (e *StaleStateError) Unwrap() error {
	return ErrRetry
}

func NewStaleStateError(expected, next, actual string) *StaleStateError {
	return &StaleStateError{
		Expected: expected,
		Next:     next,
		Actual:   actual,
	}
}

// WaitAndRetryError asks the engine to sleep for Wait before retrying the event.
type WaitAndRetryError struct {
	Wait time.Duration
}

func (e *WaitAndRetryError) Error() string {
	return fmt.Sprintf("wait %s and retry", e.Wait)
}

func (e *WaitAndRetryError) Unwrap() error {
	return ErrRetry
}

func NewWaitAndRetryError(wait time.Duration) *WaitAndRetryError {
	return &WaitAndRetryError{Wait: wait}
}

func IsRetryError(err error) bool {
	return errors.Is(err, ErrRetry)
}

func IsStaleStateError(err error) bool {
	var e *StaleStateError
	return errors.As(err, &e)
}

func IsWaitAndRetryError(err error) bool {
	var e *WaitAndRetryError
	return errors.As(err, &e)
}

func IsTooBusyError(err error) bool {
	return errors.Is(err, ErrTooBusy)
}

// retryReason classifies a retry signal for logs and metrics.
func retryReason(err error) string {
	switch {
	case IsStaleStateError(err):
		return "stale"
	case IsWaitAndRetryError(err):
		return "wait"
	default:
		return "retry"
	}
}
