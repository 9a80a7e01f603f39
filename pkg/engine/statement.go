package engine

import (
	"context"
	"fmt"
)

// StatementState is the position of a Statement in the pipeline
type StatementState int

const (
	// StatementQueued: in the waiting queue, not sent yet
	StatementQueued StatementState = iota
	// StatementSent: transmitted in a batch, result set still on the wire
	StatementSent
	// StatementResolved: result set bound
	StatementResolved
	// StatementFailed: the server reported an error for the statement, or
	// the batch stopped before reaching it
	StatementFailed
)

func (s StatementState) String() string {
	switch s {
	case StatementQueued:
		return "queued"
	case StatementSent:
		return "sent"
	case StatementResolved:
		return "resolved"
	case StatementFailed:
		return "failed"
	default:
		return fmt.Sprintf("StatementState(%d)", int(s))
	}
}

// Statement is a unit of SQL text queued on a Connection and later bound
// to its result set. Statements are created by Connection.Enqueue.
type Statement struct {
	conn   *Connection
	sql    string
	state  StatementState
	result *ResultSet
	err    error
}

// SQL returns the statement text
func (s *Statement) SQL() string {
	return s.sql
}

func (s *Statement) String() string {
	return s.sql
}

// State returns the current pipeline state
func (s *Statement) State() StatementState {
	return s.state
}

// Err returns the error bound to a failed statement
func (s *Statement) Err() error {
	return s.err
}

// Result returns the statement's result set, sending or draining the
// pipeline as needed: a queued statement triggers a batch, a sent one
// drains the fetching queue up to itself.
func (s *Statement) Result(ctx context.Context) (*ResultSet, error) {
	switch s.state {
	case StatementQueued:
		if err := s.conn.Execute(ctx, s); err != nil && s.state != StatementFailed {
			return nil, err
		}
	case StatementSent:
		if err := s.conn.FlushQueue(ctx, s); err != nil && s.state != StatementFailed {
			return nil, err
		}
	}

	if s.state == StatementFailed {
		return nil, s.err
	}
	if s.state != StatementResolved {
		return nil, fmt.Errorf("%w: statement is %s", ErrInvalidStatementState, s.state)
	}
	return s.result, nil
}

func (s *Statement) resolve(rs *ResultSet) {
	s.state = StatementResolved
	s.result = rs
	s.err = nil
}

func (s *Statement) fail(err error) {
	s.state = StatementFailed
	s.result = nil
	s.err = err
}
