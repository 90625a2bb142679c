package hnsw

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrInvalidDimension is returned when a vector's length doesn't match the index dimension
	ErrInvalidDimension = errors.New("invalid vector dimension")

	// ErrIndexSealed is returned when adding data or building after a model exists
	ErrIndexSealed = errors.New("index already has a trained model")

	// ErrNoModel is returned when searching or saving before a model exists
	ErrNoModel = errors.New("index has no model")

	// ErrNoData is returned when fitting an index with no data
	ErrNoData = errors.New("no data to fit")

	// ErrInvalidConfig is returned when a configuration key or value is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidNodeId is returned when a queried node id is out of range
	ErrInvalidNodeId = errors.New("node id out of range")
)

// IndexError wraps errors with operation context
type IndexError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *IndexError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("hnsw: %v", e.Err)
	}
	return fmt.Sprintf("hnsw: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *IndexError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *IndexError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IndexError{Op: op, Err: err}
}
