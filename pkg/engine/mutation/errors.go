package mutation

import (
	"errors"
	"fmt"

	"github.com/shen2/MSM/pkg/engine"
)

// ErrUnsafeMutation is returned by UPDATE and DELETE builders without
// filters unless All was called
var ErrUnsafeMutation = errors.New("refusing to modify every row without a filter (call All to confirm)")

// ============================================================
// DATABASE CONSTRAINT ERRORS
// ============================================================
//
// Each type unwraps to the engine.DatabaseError it was built from.

// UniqueConstraintError represents a unique constraint violation
type UniqueConstraintError struct {
	Field      string
	Value      interface{}
	Table      string
	Suggestion string
	Err        *engine.DatabaseError
}

func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf(
		"unique constraint violation on field '%s' in table '%s'\n"+
			"Value: %v already exists\n"+
			"Suggestion: %s",
		e.Field, e.Table, e.Value, e.Suggestion,
	)
}

func (e *UniqueConstraintError) Unwrap() error { return e.Err }

// ForeignKeyError represents a foreign key constraint violation
type ForeignKeyError struct {
	Field           string
	Value           interface{}
	ReferencedTable string
	Suggestion      string
	Err             *engine.DatabaseError
}

func (e *ForeignKeyError) Error() string {
	return fmt.Sprintf(
		"foreign key constraint violation on field '%s'\n"+
			"Value: %v does not exist in %s\n"+
			"Suggestion: %s",
		e.Field, e.Value, e.ReferencedTable, e.Suggestion,
	)
}

func (e *ForeignKeyError) Unwrap() error { return e.Err }

// NotNullError represents a NOT NULL constraint violation
type NotNullError struct {
	Field      string
	Suggestion string
	Err        *engine.DatabaseError
}

func (e *NotNullError) Error() string {
	return fmt.Sprintf(
		"NOT NULL constraint violation on field '%s'\n"+
			"Suggestion: %s",
		e.Field, e.Suggestion,
	)
}

func (e *NotNullError) Unwrap() error { return e.Err }

// ConstraintError represents a CHECK constraint violation
type ConstraintError struct {
	Type       string
	Constraint string
	Suggestion string
	Err        *engine.DatabaseError
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf(
		"%s constraint violation: %s\n"+
			"Suggestion: %s",
		e.Type, e.Constraint, e.Suggestion,
	)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// UnknownTableError means the target table does not exist
type UnknownTableError struct {
	Table string
	Err   *engine.DatabaseError
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("table '%s' does not exist", e.Table)
}

func (e *UnknownTableError) Unwrap() error { return e.Err }

// UnknownFieldError means a column used by the statement does not exist
type UnknownFieldError struct {
	Table string
	Field string
	Err   *engine.DatabaseError
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field '%s' in table '%s'", e.Field, e.Table)
}

func (e *UnknownFieldError) Unwrap() error { return e.Err }
