package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
)

var (
	// ErrInvalidStatementState is returned when a statement is executed
	// while it is no longer waiting to be sent.
	ErrInvalidStatementState = errors.New("invalid statement state")

	// ErrForeignStatement is returned when a statement is handed to a
	// connection that did not create it.
	ErrForeignStatement = errors.New("statement belongs to another connection")

	// ErrQueueMisaligned means the server returned a different number of
	// result sets than statements were sent in the batch.
	ErrQueueMisaligned = errors.New("result sets do not match the fetching queue")

	// ErrBatchAborted marks statements that were sent in a batch but never
	// reached because an earlier statement of the batch failed.
	ErrBatchAborted = errors.New("batch aborted before statement was reached")

	// ErrConnectionClosed marks statements discarded by Close.
	ErrConnectionClosed = errors.New("connection closed")
)

// ============================================================
// CONNECTION ERRORS
// ============================================================

// ConnectionError reports a failure to establish or keep the physical link
type ConnectionError struct {
	Driver  string
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("%s connection failed: %v", e.Driver, e.Err)
	}
	return fmt.Sprintf("%s connection to %s failed: %v", e.Driver, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ============================================================
// DATABASE ERRORS
// ============================================================

// DatabaseError is an error reported by the server for a statement.
//
// Code is the driver's native code: the SQLSTATE for PostgreSQL, the error
// number for MySQL. SQLState is always the five character SQLSTATE when the
// driver reports one.
type DatabaseError struct {
	Code       string
	SQLState   string
	Message    string
	Detail     string
	Table      string
	Column     string
	Constraint string
	// Query is the SQL text of the statement the error was raised for
	Query string
	Err   error
}

func (e *DatabaseError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("database error: %s", e.Message)
	}
	return fmt.Sprintf("database error %s: %s", e.Code, e.Message)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// AsDatabaseError returns the DatabaseError wrapped in err, if any
func AsDatabaseError(err error) (*DatabaseError, bool) {
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr, true
	}
	return nil, false
}

// wrapError attaches the statement text to a transport error. Connection
// and database errors keep their type; anything else becomes a
// DatabaseError without a code.
func wrapError(err error, query string) error {
	if err == nil {
		return nil
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return err
	}

	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		if dbErr.Query == "" {
			dbErr.Query = query
		}
		return err
	}

	if errors.Is(err, ErrQueueMisaligned) || errors.Is(err, ErrBatchAborted) {
		return err
	}

	return &DatabaseError{
		Message: err.Error(),
		Query:   query,
		Err:     err,
	}
}

// FormatError renders an error as a colored multi-line report
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	var b strings.Builder
	errorColor := color.New(color.FgRed, color.Bold)
	locationColor := color.New(color.FgCyan)
	helpColor := color.New(color.FgYellow, color.Bold)

	var dbErr *DatabaseError
	var connErr *ConnectionError

	switch {
	case errors.As(err, &dbErr):
		errorColor.Fprintf(&b, "Error: ")
		fmt.Fprintf(&b, "%s\n", dbErr.Message)

		if dbErr.Code != "" {
			locationColor.Fprintf(&b, "  --> ")
			fmt.Fprintf(&b, "code %s", dbErr.Code)
			if dbErr.SQLState != "" && dbErr.SQLState != dbErr.Code {
				fmt.Fprintf(&b, " (SQLSTATE %s)", dbErr.SQLState)
			}
			b.WriteString("\n")
		}

		if dbErr.Query != "" {
			b.WriteString("\n")
			b.WriteString("  " + strings.ReplaceAll(dbErr.Query, "\n", "\n  "))
			b.WriteString("\n")
		}

		if dbErr.Detail != "" {
			b.WriteString("\n")
			helpColor.Fprintf(&b, "  Help: ")
			fmt.Fprintf(&b, "%s\n", dbErr.Detail)
		}

	case errors.As(err, &connErr):
		errorColor.Fprintf(&b, "Error: ")
		fmt.Fprintf(&b, "%v\n", connErr.Err)
		locationColor.Fprintf(&b, "  --> ")
		fmt.Fprintf(&b, "%s %s\n", connErr.Driver, connErr.Address)
		b.WriteString("\n")
		helpColor.Fprintf(&b, "  Help: ")
		b.WriteString("check the connection settings in .msm.yml or DATABASE_URL\n")

	default:
		errorColor.Fprintf(&b, "Error: ")
		fmt.Fprintf(&b, "%v\n", err)
	}

	return b.String()
}
