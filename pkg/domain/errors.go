package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches any NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable matches any StoreError. Callers may retry with backoff.
	ErrStoreUnavailable = errors.New("event store unavailable")
	// ErrInvalidRecord matches any InvalidRecordError.
	ErrInvalidRecord = errors.New("invalid record")
)

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFound builds a NotFoundError.
func NewNotFound(entity EntityType, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// StoreError wraps a failure of the backing store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is reports whether target is ErrStoreUnavailable.
func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// InvalidRecordError reports a stored row that fails validation at the store boundary,
// such as an enum value outside the known set.
type InvalidRecordError struct {
	Entity EntityType
	ID     string
	Err    error
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid %s %s: %v", e.Entity, e.ID, e.Err)
}

func (e *InvalidRecordError) Unwrap() error { return e.Err }

// Is reports whether target is ErrInvalidRecord.
func (e *InvalidRecordError) Is(target error) bool { return target == ErrInvalidRecord }
