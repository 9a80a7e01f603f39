// Package enginetest provides an in-memory engine.Transport for tests.
//
// The fake answers every statement of a batch in order, so pipelining
// behaviour can be checked without a database.
package enginetest

import (
	"context"
	"errors"

	"github.com/shen2/MSM/pkg/engine"
)

// ErrBusy is returned when a request is issued while a batch still holds
// unread result sets
var ErrBusy = errors.New("commands out of sync: unread result sets on the link")

// Handler answers one statement. Returning (nil, nil) falls back to the
// scripted Results/Failures and then to the echo result.
type Handler func(sql string, params []engine.Param) (*engine.ResultSet, error)

// BoundQuery is one recorded QueryBind call
type BoundQuery struct {
	SQL    string
	Params []engine.Param
}

// Transport is a scripted engine.Transport
type Transport struct {
	DriverName string
	SQLDialect engine.Dialect

	// Results and Failures script answers by statement text
	Results  map[string]*engine.ResultSet
	Failures map[string]error
	Handler  Handler

	ConnectErr error
	SendErr    error

	// ExtraResultSets appends result sets to every batch response;
	// MissingResultSets withholds trailing ones
	ExtraResultSets   int
	MissingResultSets int

	// Recorded traffic
	Connects int
	Closes   int
	Batches  []string
	Queries  []string
	Bound    []BoundQuery
	Reads    int

	open *Stream
}

// New returns a postgres-flavoured fake
func New() *Transport {
	return &Transport{
		DriverName: "fake",
		SQLDialect: engine.PostgresDialect,
		Results:    make(map[string]*engine.ResultSet),
		Failures:   make(map[string]error),
	}
}

// Echo is the default result of a statement: one row holding its text
func Echo(sql string) *engine.ResultSet {
	return &engine.ResultSet{
		Columns: []string{"sql"},
		Rows:    []engine.Row{{"sql": sql}},
	}
}

func (t *Transport) Driver() string { return t.DriverName }

func (t *Transport) Dialect() engine.Dialect {
	if t.SQLDialect == nil {
		return engine.PostgresDialect
	}
	return t.SQLDialect
}

func (t *Transport) Connect(ctx context.Context) error {
	t.Connects++
	return t.ConnectErr
}

func (t *Transport) Close(ctx context.Context) error {
	t.Closes++
	t.open = nil
	return nil
}

// Busy reports whether a batch stream is still open
func (t *Transport) Busy() bool {
	return t.open != nil
}

// SendBatch implements engine.Transport
func (t *Transport) SendBatch(ctx context.Context, statements []string) (engine.ResultStream, error) {
	if t.open != nil {
		return nil, ErrBusy
	}
	if t.SendErr != nil {
		return nil, t.SendErr
	}
	t.Batches = append(t.Batches, engine.JoinStatements(statements))

	var entries []entry
	for _, stmt := range statements {
		rs, err := t.answer(stmt, nil)
		entries = append(entries, entry{rs: rs, err: err})
		if err != nil {
			break
		}
	}
	for i := 0; i < t.ExtraResultSets; i++ {
		entries = append(entries, entry{rs: &engine.ResultSet{}})
	}
	if n := len(entries) - t.MissingResultSets; n >= 0 && t.MissingResultSets > 0 {
		entries = entries[:n]
	}

	t.open = &Stream{transport: t, entries: entries}
	return t.open, nil
}

// Query implements engine.Transport
func (t *Transport) Query(ctx context.Context, sql string) (*engine.ResultSet, error) {
	if t.open != nil {
		return nil, ErrBusy
	}
	t.Queries = append(t.Queries, sql)
	return t.answer(sql, nil)
}

// QueryBind implements engine.Transport
func (t *Transport) QueryBind(ctx context.Context, sql string, params []engine.Param) (*engine.ResultSet, error) {
	if t.open != nil {
		return nil, ErrBusy
	}
	t.Bound = append(t.Bound, BoundQuery{SQL: sql, Params: params})
	return t.answer(sql, params)
}

func (t *Transport) Begin(ctx context.Context) error    { return t.command(ctx, "BEGIN") }
func (t *Transport) Commit(ctx context.Context) error   { return t.command(ctx, "COMMIT") }
func (t *Transport) Rollback(ctx context.Context) error { return t.command(ctx, "ROLLBACK") }

func (t *Transport) command(ctx context.Context, sql string) error {
	_, err := t.Query(ctx, sql)
	return err
}

func (t *Transport) answer(sql string, params []engine.Param) (*engine.ResultSet, error) {
	if t.Handler != nil {
		rs, err := t.Handler(sql, params)
		if rs != nil || err != nil {
			return rs, err
		}
	}
	if err, ok := t.Failures[sql]; ok {
		return nil, err
	}
	if rs, ok := t.Results[sql]; ok {
		return rs, nil
	}
	return Echo(sql), nil
}

type entry struct {
	rs  *engine.ResultSet
	err error
}

// Stream is the engine.ResultStream of a fake batch. A failing statement
// ends the stream, like a server that stops executing a multi-statement
// request at the first error.
type Stream struct {
	transport *Transport
	entries   []entry
	current   *engine.ResultSet
	err       error
	closed    bool
}

func (s *Stream) Next() bool {
	if s.closed || s.err != nil || len(s.entries) == 0 {
		return false
	}
	e := s.entries[0]
	s.entries = s.entries[1:]
	if e.err != nil {
		s.err = e.err
		return false
	}
	s.current = e.rs
	return true
}

func (s *Stream) Store() (*engine.ResultSet, error) {
	s.transport.Reads++
	rs := s.current
	s.current = nil
	return rs, nil
}

func (s *Stream) Err() error {
	return s.err
}

// Remaining returns the number of unread result sets
func (s *Stream) Remaining() int {
	return len(s.entries)
}

func (s *Stream) Close() error {
	s.closed = true
	if s.transport.open == s {
		s.transport.open = nil
	}
	return nil
}
