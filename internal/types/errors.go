package types

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput marks a row that could not be parsed for a stage
	ErrMalformedInput = errors.New("malformed input")
	// ErrStoreIO marks a storage-layer failure (backup, read or write)
	ErrStoreIO = errors.New("store i/o failure")
)

// MalformedInputError describes a column whose stored value has the wrong shape
type MalformedInputError struct {
	ID    int64
	Field string
	Value any
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("record %d: malformed %s value %v", e.ID, e.Field, e.Value)
}

func (e *MalformedInputError) Unwrap() error {
	return ErrMalformedInput
}

// StoreIOError wraps any failure reported by the record store
type StoreIOError struct {
	Op  string
	Err error
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Is lets errors.Is(err, ErrStoreIO) match while still unwrapping to the cause
func (e *StoreIOError) Is(target error) bool {
	return target == ErrStoreIO
}

func (e *StoreIOError) Unwrap() error {
	return e.Err
}

// NewStoreIOError wraps err unless it is nil
func NewStoreIOError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreIOError{Op: op, Err: err}
}
