package sqlwire

import (
	"fmt"

	"github.com/shen2/MSM/pkg/engine"
)

// stream walks the result sets of a multi-statement query.
//
// database/sql only surfaces result sets that carry columns, so the stream
// pairs them with statements using ReturnsRows. Statements without a
// result set get an empty one once the driver has moved past them, which
// proves the server ran them. A statement that should return rows but
// finds none fails the stream with ErrQueueMisaligned rather than shifting
// later result sets onto the wrong statements. When the driver reports an
// error, it is charged to the first statement not confirmed yet; the server
// stops at the failing statement, so nothing after it ran either.
type stream struct {
	statements []string
	rows       cursor
	mapError   func(error) error

	started bool
	pending bool // positioned on an unread result set
	done    bool // no result sets left
	failure error

	next    int
	current *engine.ResultSet
	scan    bool
	err     error
	closed  bool
}

func newStream(statements []string, rows cursor, failure error, mapError func(error) error) *stream {
	return &stream{
		statements: statements,
		rows:       rows,
		mapError:   mapError,
		failure:    failure,
	}
}

// advance moves the driver to the next result set unless one is pending
func (s *stream) advance() {
	if s.pending || s.done || s.failure != nil {
		return
	}
	if s.rows == nil {
		s.done = true
		return
	}

	if !s.started {
		s.started = true
		columns, err := s.rows.Columns()
		if err != nil {
			s.failure = s.mapError(err)
			return
		}
		if len(columns) > 0 {
			s.pending = true
			return
		}
	} else if s.rows.NextResultSet() {
		s.pending = true
		return
	}

	if err := s.rows.Err(); err != nil {
		s.failure = s.mapError(err)
		return
	}
	s.done = true
}

func (s *stream) Next() bool {
	if s.closed || s.err != nil {
		return false
	}
	s.current, s.scan = nil, false
	s.advance()

	if s.failure != nil {
		s.err = s.failure
		return false
	}

	if s.next >= len(s.statements) {
		// any result set now belongs to no statement
		if s.pending {
			s.pending = false
			s.scan = true
			return true
		}
		return false
	}

	stmt := s.statements[s.next]
	s.next++

	if ReturnsRows(stmt) {
		if s.pending {
			s.pending = false
			s.scan = true
			return true
		}
		if resultShapeKnown(stmt) {
			s.err = fmt.Errorf("%w: %q returned no result set", engine.ErrQueueMisaligned, stmt)
			return false
		}
	}

	s.current = &engine.ResultSet{}
	return true
}

func (s *stream) Store() (*engine.ResultSet, error) {
	if !s.scan {
		return s.current, nil
	}
	s.scan = false

	rs, err := scanResultSet(s.rows)
	if err != nil {
		return nil, s.mapError(err)
	}
	return rs, nil
}

func (s *stream) Err() error {
	return s.err
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.rows == nil {
		return nil
	}
	return s.mapError(s.rows.Close())
}
