package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Connection wraps one physical link and pipelines statements over it.
//
// Statements created with Enqueue wait until one of them is needed. At
// that point every waiting statement goes out in a single multi-statement
// request: the needed one first, the others after it in enqueue order.
// The first result set is bound immediately; the rest stay on the wire and
// are bound in order by FlushQueue, which every direct query runs first.
//
// A Connection is not safe for concurrent use.
type Connection struct {
	config    ConnectorConfig
	transport Transport
	profiler  Profiler
	connected bool

	// waiting holds statements not sent yet; fetching holds statements
	// sent in the current batch whose result sets are still unread, in
	// the order the server returns them
	waiting  []*Statement
	fetching []*Statement
	stream   ResultStream

	// aborted is the error that stopped the current batch; statements
	// still in fetching will never get a result set
	aborted error

	// Debug context
	Debug *DebugContext
}

// NewConnection creates a connection over transport (does not connect yet)
func NewConnection(transport Transport, config ConnectorConfig) *Connection {
	c := &Connection{
		config:    config,
		transport: transport,
		Debug:     DefaultDebugContext(),
	}
	if config.Profiler {
		c.profiler = NewQueryProfiler()
	}
	return c
}

// WithDebug sets the debug level and returns the connection
func (c *Connection) WithDebug(level DebugLevel) *Connection {
	if c.Debug == nil {
		c.Debug = DefaultDebugContext()
	}
	c.Debug.Level = level
	return c
}

// Config returns the settings the connection was created with
func (c *Connection) Config() ConnectorConfig {
	return c.config
}

// Dialect returns the SQL dialect of the underlying transport
func (c *Connection) Dialect() Dialect {
	return c.transport.Dialect()
}

// Profiler returns the attached profiler, or nil
func (c *Connection) Profiler() Profiler {
	return c.profiler
}

// SetProfiler attaches p; nil detaches the current profiler
func (c *Connection) SetProfiler(p Profiler) {
	c.profiler = p
}

// IsConnected returns true once the link has been established
func (c *Connection) IsConnected() bool {
	return c.connected
}

// EnsureConnected establishes the link if it is not up yet
func (c *Connection) EnsureConnected(ctx context.Context) error {
	if c.connected {
		return nil
	}

	h := c.profileStart("connect", KindConnect)
	err := c.transport.Connect(ctx)
	c.profileEnd(h)

	if err != nil {
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			return err
		}
		return &ConnectionError{
			Driver:  c.transport.Driver(),
			Address: c.config.Address(),
			Err:     err,
		}
	}

	c.connected = true
	return nil
}

// ============================================================
// PIPELINE
// ============================================================

// Enqueue creates a statement and appends it to the waiting queue.
// Nothing is sent. Surrounding whitespace and trailing semicolons are
// trimmed so the batch payload never contains empty statements.
func (c *Connection) Enqueue(sql string) *Statement {
	stmt := &Statement{
		conn:  c,
		sql:   normalizeSQL(sql),
		state: StatementQueued,
	}
	c.waiting = append(c.waiting, stmt)
	return stmt
}

// Waiting returns a copy of the waiting queue
func (c *Connection) Waiting() []*Statement {
	return append([]*Statement(nil), c.waiting...)
}

// Fetching returns a copy of the fetching queue
func (c *Connection) Fetching() []*Statement {
	return append([]*Statement(nil), c.fetching...)
}

// Execute sends stmt together with every other waiting statement as one
// batch and binds the first result set to stmt. The other statements move
// to the fetching queue in their original order.
//
// Result sets of an earlier batch still on the wire are drained first.
// Statements that are not queued any more are rejected with
// ErrInvalidStatementState.
func (c *Connection) Execute(ctx context.Context, stmt *Statement) error {
	if stmt == nil || stmt.conn != c {
		return ErrForeignStatement
	}
	if stmt.state != StatementQueued {
		return fmt.Errorf("%w: cannot execute a %s statement", ErrInvalidStatementState, stmt.state)
	}

	if err := c.EnsureConnected(ctx); err != nil {
		return err
	}
	if err := c.FlushQueue(ctx, nil); err != nil {
		return err
	}

	// The trigger leaves the waiting queue before the payload is built so
	// it is never sent twice.
	c.removeWaiting(stmt)
	trailing := c.waiting
	c.waiting = nil

	statements := make([]string, 0, len(trailing)+1)
	statements = append(statements, stmt.sql)
	for _, s := range trailing {
		statements = append(statements, s.sql)
	}
	payload := JoinStatements(statements)
	c.Debug.Log(DebugSQL, "BATCH", "%d statement(s)\n%s", len(trailing)+1, payload)

	start := time.Now()
	h := c.profileStart(payload, InferQueryKind(stmt.sql))

	stream, err := c.transport.SendBatch(ctx, statements)
	if err != nil {
		c.profileEnd(h)
		// Nothing went out; the other statements can wait for the next batch.
		c.waiting = append(trailing, c.waiting...)
		err = wrapError(err, payload)
		stmt.fail(err)
		return err
	}

	for _, s := range trailing {
		s.state = StatementSent
	}
	c.fetching = trailing
	c.stream = stream

	var rs *ResultSet
	if stream.Next() {
		rs, err = stream.Store()
	} else if err = stream.Err(); err == nil {
		err = fmt.Errorf("%w: batch returned no result set", ErrQueueMisaligned)
	}
	c.profileEnd(h)
	c.Debug.Elapsed("BATCH", start)

	if err != nil {
		err = wrapError(err, stmt.sql)
		stmt.fail(err)
		c.Debug.Log(DebugSQL, "ERROR", "%v", err)
		if len(c.fetching) == 0 {
			c.closeStream()
		} else {
			c.aborted = err
		}
		return err
	}

	if rs == nil {
		rs = &ResultSet{}
	}
	stmt.resolve(rs)

	if len(c.fetching) == 0 {
		return c.finishBatch()
	}
	return nil
}

// FlushQueue binds the pending result sets of the last batch to the
// statements in the fetching queue, in order. With stopAt set, it returns
// as soon as that statement is resolved.
//
// When the server reports an error, the failing statement is marked failed
// and the error returned; statements behind it stay in the fetching queue.
// The server has not run them, so the next FlushQueue fails them all with
// ErrBatchAborted and empties the queue. Callers that cannot tolerate a
// partially applied batch should discard the connection instead.
//
// An empty fetching queue makes FlushQueue a no-op that never touches the
// wire.
func (c *Connection) FlushQueue(ctx context.Context, stopAt *Statement) error {
	if len(c.fetching) == 0 {
		return nil
	}
	if c.aborted != nil {
		return c.abandonFetching(c.aborted)
	}

	for len(c.fetching) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		stmt := c.fetching[0]
		h := c.profileStart(stmt.sql, KindAny)

		var rs *ResultSet
		var err error
		advanced := c.stream.Next()
		if advanced {
			rs, err = c.stream.Store()
		} else {
			err = c.stream.Err()
		}
		c.profileEnd(h)

		if !advanced && err == nil {
			return c.abandonFetching(fmt.Errorf("%w: server returned fewer result sets than statements sent", ErrQueueMisaligned))
		}
		c.fetching = c.fetching[1:]

		if err != nil {
			err = wrapError(err, stmt.sql)
			stmt.fail(err)
			c.Debug.Log(DebugSQL, "ERROR", "%v", err)
			if len(c.fetching) == 0 {
				c.closeStream()
			} else {
				c.aborted = err
			}
			return err
		}

		if rs == nil {
			rs = &ResultSet{}
		}
		stmt.resolve(rs)
		c.Debug.Log(DebugTrace, "FETCH", "%s (%d rows)", stmt.sql, rs.Count())

		if len(c.fetching) == 0 {
			return c.finishBatch()
		}
		if stmt == stopAt {
			return nil
		}
	}

	return nil
}

// abandonFetching fails every statement left in the fetching queue with
// cause and releases the stream
func (c *Connection) abandonFetching(cause error) error {
	err := cause
	if !errors.Is(cause, ErrQueueMisaligned) {
		err = fmt.Errorf("%w: %w", ErrBatchAborted, cause)
	}

	for _, s := range c.fetching {
		s.fail(err)
	}
	c.Debug.Log(DebugSQL, "ERROR", "%d pending statement(s) dropped: %v", len(c.fetching), err)

	c.fetching = nil
	c.closeStream()
	return err
}

// finishBatch closes the stream once every statement of the batch has its
// result set. A leftover result set means some statement text held more
// than one statement and the bindings cannot be trusted.
func (c *Connection) finishBatch() error {
	if c.stream == nil {
		return nil
	}
	extra := c.stream.Next()
	err := c.closeStream()
	if extra {
		return fmt.Errorf("%w: server returned more result sets than statements sent", ErrQueueMisaligned)
	}
	return wrapError(err, "")
}

func (c *Connection) closeStream() error {
	c.aborted = nil
	if c.stream == nil {
		return nil
	}
	err := c.stream.Close()
	c.stream = nil
	return err
}

func (c *Connection) removeWaiting(stmt *Statement) {
	for i, s := range c.waiting {
		if s == stmt {
			c.waiting = append(c.waiting[:i:i], c.waiting[i+1:]...)
			return
		}
	}
}

func normalizeSQL(sql string) string {
	sql = strings.TrimSpace(sql)
	for strings.HasSuffix(sql, ";") {
		sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	}
	return sql
}

// ============================================================
// DIRECT QUERIES
// ============================================================

// Query drains the fetching queue, then runs sql on its own
func (c *Connection) Query(ctx context.Context, sql string) (*ResultSet, error) {
	if err := c.prepareDirect(ctx); err != nil {
		return nil, err
	}

	c.Debug.Log(DebugSQL, "SQL", "%s", sql)
	start := time.Now()

	h := c.profileStart(sql, KindAny)
	rs, err := c.transport.Query(ctx, sql)
	c.profileEnd(h)

	c.Debug.Elapsed("SQL", start)
	if err != nil {
		return nil, wrapError(err, sql)
	}
	return rs, nil
}

// QueryBind drains the fetching queue, then prepares sql and executes it
// with params. Each parameter is tagged by InferParamType.
func (c *Connection) QueryBind(ctx context.Context, sql string, params ...interface{}) (*ResultSet, error) {
	if err := c.prepareDirect(ctx); err != nil {
		return nil, err
	}

	bound := BindParams(params)
	c.Debug.Log(DebugSQL, "SQL", "%s", sql)
	if len(bound) > 0 {
		c.Debug.Log(DebugSQL, "VALUES", "%s %v", TypeString(bound), Values(bound))
	}
	start := time.Now()

	h := c.profileStart(sql, KindAny)
	if rec, ok := c.profiler.(ParamRecorder); ok && h != NoProfile {
		rec.BindParams(h, params)
	}
	rs, err := c.transport.QueryBind(ctx, sql, bound)
	c.profileEnd(h)

	c.Debug.Elapsed("SQL", start)
	if err != nil {
		return nil, wrapError(err, sql)
	}
	return rs, nil
}

// Exec runs sql directly and returns the number of affected rows
func (c *Connection) Exec(ctx context.Context, sql string) (int64, error) {
	rs, err := c.Query(ctx, sql)
	if err != nil {
		return 0, err
	}
	return rs.RowsAffected, nil
}

func (c *Connection) prepareDirect(ctx context.Context) error {
	if err := c.EnsureConnected(ctx); err != nil {
		return err
	}
	return c.FlushQueue(ctx, nil)
}

// ============================================================
// TRANSACTIONS
// ============================================================

// BeginTransaction leaves autocommit mode
func (c *Connection) BeginTransaction(ctx context.Context) error {
	return c.transaction(ctx, "begin", c.transport.Begin)
}

// Commit commits the current transaction
func (c *Connection) Commit(ctx context.Context) error {
	return c.transaction(ctx, "commit", c.transport.Commit)
}

// Rollback rolls back the current transaction
func (c *Connection) Rollback(ctx context.Context) error {
	return c.transaction(ctx, "rollback", c.transport.Rollback)
}

func (c *Connection) transaction(ctx context.Context, label string, fn func(context.Context) error) error {
	if err := c.prepareDirect(ctx); err != nil {
		return err
	}

	c.Debug.Log(DebugSQL, "SQL", "%s", strings.ToUpper(label))
	h := c.profileStart(label, KindTransaction)
	err := fn(ctx)
	c.profileEnd(h)

	return wrapError(err, label)
}

// Close fails every statement still queued and closes the link
func (c *Connection) Close(ctx context.Context) error {
	for _, s := range c.waiting {
		s.fail(ErrConnectionClosed)
	}
	for _, s := range c.fetching {
		s.fail(ErrConnectionClosed)
	}
	c.waiting = nil
	c.fetching = nil
	c.closeStream()

	if !c.connected {
		return nil
	}
	c.connected = false
	return c.transport.Close(ctx)
}

// ============================================================
// PROFILING
// ============================================================

func (c *Connection) profileStart(label string, kind QueryKind) ProfileHandle {
	if c.profiler == nil {
		return NoProfile
	}
	return c.profiler.QueryStart(label, kind)
}

func (c *Connection) profileEnd(h ProfileHandle) {
	if c.profiler == nil || h == NoProfile {
		return
	}
	c.profiler.QueryEnd(h)
}
