package cancellation

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("subject not found")
	ErrInvalidState = errors.New("operation not valid in current deletion state")
	// ErrDependency matches every *DependencyError via errors.Is.
	ErrDependency = errors.New("dependency failure")
)

// DependencyError reports a failing store, queue or collaborator. The record
// is left as it was before the operation.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *DependencyError) Unwrap() error { return e.Err }

func (e *DependencyError) Is(target error) bool { return target == ErrDependency }

func dependency(op string, err error) error {
	return &DependencyError{Op: op, Err: err}
}
