package model

import (
	"errors"
	"fmt"
)

var (
	// ErrReadOnly is returned by Save and Remove on a read-only record
	ErrReadOnly = errors.New("this row has been marked read-only")

	// ErrNotModified is returned by Save on a stored record with no changes
	ErrNotModified = errors.New("this row hasn't been modified")

	// ErrNotStored is returned by operations that need a persisted row
	ErrNotStored = errors.New("this row is not stored")

	// ErrRefreshUnsupported is returned by Refresh when the persister
	// cannot read rows back
	ErrRefreshUnsupported = errors.New("persister does not support refresh")

	// ErrNotFound is returned by Table.Find and Refresh when no row
	// matches the primary key
	ErrNotFound = errors.New("row not found")
)

// RecordStateError reports an operation the record's state forbids.
// No persistence hook has run when it is returned.
type RecordStateError struct {
	Op  string
	Err error
}

func (e *RecordStateError) Error() string {
	return fmt.Sprintf("cannot %s record: %v", e.Op, e.Err)
}

func (e *RecordStateError) Unwrap() error {
	return e.Err
}

// IsRecordStateError reports whether err is a RecordStateError
func IsRecordStateError(err error) bool {
	var stateErr *RecordStateError
	return errors.As(err, &stateErr)
}
