package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrJobNotRunning       = errors.New("job is not running")
	ErrJobTerminal         = errors.New("job already reached a terminal status")
	ErrLockNotAcquired     = errors.New("could not acquire lock")
	ErrOperationFailed     = errors.New("operation failed")
	ErrReadDatabaseRow     = errors.New("failed to read database row")
	ErrInvalidExecContext  = errors.New("invalid exec context")
	ErrUnsupportedPlatform = errors.New("unsupported publish platform")
)

// ItemGenerationError wraps a failure of a single work item. It never
// escapes the item it belongs to.
type ItemGenerationError struct {
	ItemID string
	Err    error
}

func (e *ItemGenerationError) Error() string {
	return fmt.Sprintf("item %s: %v", e.ItemID, e.Err)
}

func (e *ItemGenerationError) Unwrap() error { return e.Err }

// PersistenceError is raised when a job or work item record cannot be read
// or written. It is fatal to the running job.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// FatalEnumerationError means the item list of a job could not be resolved.
type FatalEnumerationError struct {
	Err error
}

func (e *FatalEnumerationError) Error() string {
	return fmt.Sprintf("enumerate work items: %v", e.Err)
}

func (e *FatalEnumerationError) Unwrap() error { return e.Err }
