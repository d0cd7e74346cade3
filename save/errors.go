package save

import (
	"errors"
	"fmt"
)

// ErrScheduling marks failures of the owner dispatch itself, as opposed to
// failures of the flush.
var ErrScheduling = errors.New("save scheduling failed")

// ErrNoScheduler is returned when a confined context has no owner.
var ErrNoScheduler = errors.New("confined context has no scheduler")

// Error wraps the failure of one save call with the concurrency type the
// context declared. errors.Is and errors.As reach the flush error through it.
type Error struct {
	Type ConcurrencyType
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("save %s context: %v", e.Type, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func schedulingError(err error) error {
	return fmt.Errorf("%w: %w", ErrScheduling, err)
}
