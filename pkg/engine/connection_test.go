package engine_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shen2/MSM/pkg/engine"
	"github.com/shen2/MSM/pkg/engine/enginetest"
)

func newTestConnection() (*engine.Connection, *enginetest.Transport) {
	tr := enginetest.New()
	return engine.NewConnection(tr, engine.DefaultConfig()), tr
}

func sqlOf(t *testing.T, stmt *engine.Statement) string {
	t.Helper()
	rs, err := stmt.Result(context.Background())
	require.NoError(t, err)
	return rs.First().String("sql")
}

// ============================================================
// BATCHING
// ============================================================

func TestConnection_ExecuteSendsTriggerFirst(t *testing.T) {
	ctx := context.Background()
	conn, tr := newTestConnection()

	a := conn.Enqueue("SELECT 'a'")
	b := conn.Enqueue("SELECT 'b'")
	c := conn.Enqueue("SELECT 'c'")

	require.NoError(t, conn.Execute(ctx, b))

	require.Len(t, tr.Batches, 1)
	assert.Equal(t, "SELECT 'b';\nSELECT 'a';\nSELECT 'c'", tr.Batches[0])

	assert.Equal(t, engine.StatementResolved, b.State())
	assert.Equal(t, "SELECT 'b'", sqlOf(t, b))
	assert.Equal(t, []*engine.Statement{a, c}, conn.Fetching())
	assert.Empty(t, conn.Waiting())
	assert.Equal(t, engine.StatementSent, a.State())
	assert.Equal(t, engine.StatementSent, c.State())

	require.NoError(t, conn.FlushQueue(ctx, nil))

	assert.Equal(t, "SELECT 'a'", sqlOf(t, a))
	assert.Equal(t, "SELECT 'c'", sqlOf(t, c))
	assert.Empty(t, conn.Fetching())
	assert.False(t, tr.Busy())
	assert.Len(t, tr.Batches, 1)
}

func TestConnection_SingleStatementBatch(t *testing.T) {
	ctx := context.Background()
	conn, tr := newTestConnection()

	stmt := conn.Enqueue("SELECT 1")
	rs, err := stmt.Result(ctx)

	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", rs.First().String("sql"))
	assert.Equal(t, []string{"SELECT 1"}, tr.Batches)
	assert.Empty(t, conn.Fetching())
	assert.False(t, tr.Busy())
}

func TestConnection_EnqueueNormalizesText(t *testing.T) {
	conn, tr := newTestConnection()

	a := conn.Enqueue("  SELECT 1;  ")
	conn.Enqueue("SELECT 2;;\n")

	assert.Equal(t, "SELECT 1", a.SQL())
	require.NoError(t, conn.Execute(context.Background(), a))
	assert.Equal(t, "SELECT 1;\nSELECT 2", tr.Batches[0])
}

func TestConnection_EnqueueDoesNotTouchWire(t *testing.T) {
	conn, tr := newTestConnection()

	conn.Enqueue("SELECT 1")
	conn.Enqueue("SELECT 2")

	assert.Equal(t, 0, tr.Connects)
	assert.Empty(t, tr.Batches)
	assert.Len(t, conn.Waiting(), 2)
	assert.False(t, conn.IsConnected())
}

func TestConnection_FlushQueueIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, tr := newTestConnection()

	require.NoError(t, conn.FlushQueue(ctx, nil))
	assert.Equal(t, 0, tr.Connects)
	assert.Equal(t, 0, tr.Reads)

	conn.Enqueue("SELECT 1")
	conn.Enqueue("SELECT 2")
	_, err := conn.Waiting()[0].Result(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.FlushQueue(ctx, nil))
	reads := tr.Reads

	require.NoError(t, conn.FlushQueue(ctx, nil))
	require.NoError(t, conn.FlushQueue(ctx, nil))
	assert.Equal(t, reads, tr.Reads)
	assert.Len(t, tr.Batches, 1)
}

func TestConnection_FlushQueueStopsAt(t *testing.T) {
	ctx := context.Background()
	conn, _ := newTestConnection()

	a := conn.Enqueue("SELECT 'a'")
	b := conn.Enqueue("SELECT 'b'")
	c := conn.Enqueue("SELECT 'c'")

	_, err := a.Result(ctx)
	require.NoError(t, err)

	assert.Equal(t, "SELECT 'b'", sqlOf(t, b))
	assert.Equal(t, engine.StatementSent, c.State())
	assert.Equal(t, []*engine.Statement{c}, conn.Fetching())

	assert.Equal(t, "SELECT 'c'", sqlOf(t, c))
	assert.Empty(t, conn.Fetching())
}

func TestConnection_ResultOfLaterStatementResolvesEarlierOnes(t *testing.T) {
	ctx := context.Background()
	conn, _ := newTestConnection()

	a := conn.Enqueue("SELECT 'a'")
	b := conn.Enqueue("SELECT 'b'")
	c := conn.Enqueue("SELECT 'c'")
	require.NoError(t, conn.Execute(ctx, a))

	assert.Equal(t, "SELECT 'c'", sqlOf(t, c))
	assert.Equal(t, engine.StatementResolved, b.State())
	assert.Equal(t, "SELECT 'b'", sqlOf(t, b))
}

func TestConnection_ExecuteDrainsPreviousBatch(t *testing.T) {
	ctx := context.Background()
	conn, tr := newTestConnection()

	a := conn.Enqueue("SELECT 'a'")
	b := conn.Enqueue("SELECT 'b'")
	require.NoError(t, conn.Execute(ctx, a))

	d := conn.Enqueue("SELECT 'd'")
	require.NoError(t, conn.Execute(ctx, d))

	assert.Equal(t, engine.StatementResolved, b.State())
	assert.Equal(t, "SELECT 'b'", sqlOf(t, b))
	assert.Equal(t, []string{"SELECT 'a';\nSELECT 'b'", "SELECT 'd'"}, tr.Batches)
}

func TestConnection_ExecuteRejectsNonQueuedStatement(t *testing.T) {
	ctx := context.Background()
	conn, tr := newTestConnection()

	a := conn.Enqueue("SELECT 'a'")
	b := conn.Enqueue("SELECT 'b'")
	require.NoError(t, conn.Execute(ctx, a))

	err := conn.Execute(ctx, a)
	assert.ErrorIs(t, err, engine.ErrInvalidStatementState)

	err = conn.Execute(ctx, b)
	assert.ErrorIs(t, err, engine.ErrInvalidStatementState)

	assert.Len(t, tr.Batches, 1)
}

func TestConnection_ExecuteRejectsForeignStatement(t *testing.T) {
	conn, _ := newTestConnection()
	other, _ := newTestConnection()

	stmt := other.Enqueue("SELECT 1")
	err := conn.Execute(context.Background(), stmt)

	assert.ErrorIs(t, err, engine.ErrForeignStatement)
	assert.Equal(t, engine.StatementQueued, stmt.State())
}

// ============================================================
// DIRECT QUERIES
// ============================================================

func TestConnection_QueryFlushesFirst(t *testing.T) {
	ctx := context.Background()
	conn, tr := newTestConnection()

	a := conn.Enqueue("SELECT 'a'")
	b := conn.Enqueue("SELECT 'b'")
	require.NoError(t, conn.Execute(ctx, a))

	rs, err := conn.Query(ctx, "SELECT now()")
	require.NoError(t, err)

	assert.Equal(t, "SELECT now()", rs.First().String("sql"))
	assert.Equal(t, engine.StatementResolved, b.State())
	assert.Equal(t, []string{"SELECT now()"}, tr.Queries)
}

func TestConnection_QueryBindTagsParams(t *testing.T) {
	ctx := context.Background()
	conn, tr := newTestConnection()

	_, err := conn.QueryBind(ctx, "SELECT $1, $2, $3, $4", 42, "x", 1.5, true)
	require.NoError(t, err)

	require.Len(t, tr.Bound, 1)
	assert.Equal(t, "isds", engine.TypeString(tr.Bound[0].Params))
	assert.Equal(t, []interface{}{int64(42), "x", 1.5, "1"}, engine.Values(tr.Bound[0].Params))
}

func TestConnection_QueryBindFlushesFirst(t *testing.T) {
	ctx := context.Background()
	conn, tr := newTestConnection()

	a := conn.Enqueue("SELECT 'a'")
	b := conn.Enqueue("SELECT 'b'")
	require.NoError(t, conn.Execute(ctx, a))

	_, err := conn.QueryBind(ctx, "SELECT $1", 1)
	require.NoError(t, err)
	assert.Equal(t, engine.StatementResolved, b.State())
	assert.False(t, tr.Busy())
}

func TestConnection_QueryError(t *testing.T) {
	conn, tr := newTestConnection()
	tr.Failures["SELECT broken"] = &engine.DatabaseError{Code: "42601", Message: "syntax error"}

	_, err := conn.Query(context.Background(), "SELECT broken")

	dbErr, ok := engine.AsDatabaseError(err)
	require.True(t, ok)
	assert.Equal(t, "42601", dbErr.Code)
	assert.Equal(t, "SELECT broken", dbErr.Query)
}

func TestConnection_ExecReturnsRowsAffected(t *testing.T) {
	conn, tr := newTestConnection()
	tr.Results["DELETE FROM users"] = &engine.ResultSet{RowsAffected: 3}

	n, err := conn.Exec(context.Background(), "DELETE FROM users")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestConnection_Transactions(t *testing.T) {
	ctx := context.Background()
	conn, tr := newTestConnection()
	profiler := engine.NewQueryProfiler()
	conn.SetProfiler(profiler)

	require.NoError(t, conn.BeginTransaction(ctx))
	require.NoError(t, conn.Commit(ctx))
	require.NoError(t, conn.BeginTransaction(ctx))
	require.NoError(t, conn.Rollback(ctx))

	assert.Equal(t, []string{"BEGIN", "COMMIT", "BEGIN", "ROLLBACK"}, tr.Queries)
	assert.Equal(t, 4, profiler.TotalQueries(engine.KindTransaction))
}

// ============================================================
// CONNECTIVITY
// ============================================================

func TestConnection_ConnectsLazilyOnce(t *testing.T) {
	ctx := context.Background()
	conn, tr := newTestConnection()
	assert.False(t, conn.IsConnected())

	_, err := conn.Query(ctx, "SELECT 1")
	require.NoError(t, err)
	_, err = conn.Enqueue("SELECT 2").Result(ctx)
	require.NoError(t, err)

	assert.True(t, conn.IsConnected())
	assert.Equal(t, 1, tr.Connects)
}

func TestConnection_ConnectFailure(t *testing.T) {
	conn, tr := newTestConnection()
	tr.ConnectErr = errors.New("connection refused")

	stmt := conn.Enqueue("SELECT 1")
	_, err := stmt.Result(context.Background())

	var connErr *engine.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "fake", connErr.Driver)
	assert.Equal(t, "localhost:5432", connErr.Address)
	assert.Equal(t, engine.StatementQueued, stmt.State())
	assert.Empty(t, tr.Batches)
	assert.False(t, conn.IsConnected())
}

func TestConnection_CloseFailsPendingStatements(t *testing.T) {
	ctx := context.Background()
	conn, tr := newTestConnection()

	a := conn.Enqueue("SELECT 'a'")
	b := conn.Enqueue("SELECT 'b'")
	require.NoError(t, conn.Execute(ctx, a))
	c := conn.Enqueue("SELECT 'c'")

	require.NoError(t, conn.Close(ctx))

	assert.ErrorIs(t, b.Err(), engine.ErrConnectionClosed)
	assert.ErrorIs(t, c.Err(), engine.ErrConnectionClosed)
	assert.Equal(t, engine.StatementResolved, a.State())
	assert.Equal(t, 1, tr.Closes)
	assert.False(t, conn.IsConnected())
	assert.Empty(t, conn.Waiting())
	assert.Empty(t, conn.Fetching())
}

// ============================================================
// FAILURES
// ============================================================

func TestConnection_TriggerFailure(t *testing.T) {
	ctx := context.Background()
	conn, tr := newTestConnection()
	tr.Failures["SELECT 'a'"] = &engine.DatabaseError{Code: "42P01", Message: "relation does not exist"}

	a := conn.Enqueue("SELECT 'a'")
	b := conn.Enqueue("SELECT 'b'")

	_, err := a.Result(ctx)
	dbErr, ok := engine.AsDatabaseError(err)
	require.True(t, ok)
	assert.Equal(t, "42P01", dbErr.Code)
	assert.Equal(t, engine.StatementFailed, a.State())

	// b was sent but the server never reached it
	assert.Equal(t, []*engine.Statement{b}, conn.Fetching())

	_, err = b.Result(ctx)
	assert.ErrorIs(t, err, engine.ErrBatchAborted)
	assert.Equal(t, engine.StatementFailed, b.State())
	assert.Empty(t, conn.Fetching())
	assert.False(t, tr.Busy())

	_, err = conn.Query(ctx, "SELECT 1")
	assert.NoError(t, err)
}

func TestConnection_MidDrainFailure(t *testing.T) {
	ctx := context.Background()
	conn, tr := newTestConnection()
	tr.Failures["SELECT 'c'"] = &engine.DatabaseError{Code: "22012", Message: "division by zero"}

	a := conn.Enqueue("SELECT 'a'")
	b := conn.Enqueue("SELECT 'b'")
	c := conn.Enqueue("SELECT 'c'")
	d := conn.Enqueue("SELECT 'd'")
	require.NoError(t, conn.Execute(ctx, a))

	err := conn.FlushQueue(ctx, nil)
	dbErr, ok := engine.AsDatabaseError(err)
	require.True(t, ok)
	assert.Equal(t, "22012", dbErr.Code)
	assert.Equal(t, "SELECT 'c'", dbErr.Query)

	assert.Equal(t, engine.StatementResolved, b.State())
	assert.Equal(t, engine.StatementFailed, c.State())
	assert.Equal(t, []*engine.Statement{d}, conn.Fetching())

	err = conn.FlushQueue(ctx, nil)
	assert.ErrorIs(t, err, engine.ErrBatchAborted)
	_, ok = engine.AsDatabaseError(err)
	assert.True(t, ok, "abort error should carry the cause")

	assert.Equal(t, engine.StatementFailed, d.State())
	assert.ErrorIs(t, d.Err(), engine.ErrBatchAborted)
	assert.Empty(t, conn.Fetching())
	assert.False(t, tr.Busy())

	// resolved statements keep their result
	assert.Equal(t, "SELECT 'b'", sqlOf(t, b))
}

func TestConnection_LastStatementFailure(t *testing.T) {
	ctx := context.Background()
	conn, tr := newTestConnection()
	tr.Failures["SELECT 'b'"] = errors.New("boom")

	a := conn.Enqueue("SELECT 'a'")
	b := conn.Enqueue("SELECT 'b'")
	require.NoError(t, conn.Execute(ctx, a))

	_, err := b.Result(ctx)
	require.Error(t, err)
	_, ok := engine.AsDatabaseError(err)
	assert.True(t, ok)
	assert.Empty(t, conn.Fetching())
	assert.False(t, tr.Busy())
}

func TestConnection_SendFailureKeepsOthersWaiting(t *testing.T) {
	conn, tr := newTestConnection()
	tr.SendErr = errors.New("broken pipe")

	a := conn.Enqueue("SELECT 'a'")
	b := conn.Enqueue("SELECT 'b'")

	err := conn.Execute(context.Background(), a)
	require.Error(t, err)

	assert.Equal(t, engine.StatementFailed, a.State())
	assert.Equal(t, engine.StatementQueued, b.State())
	assert.Equal(t, []*engine.Statement{b}, conn.Waiting())
	assert.Empty(t, conn.Fetching())
}

func TestConnection_ExtraResultSetsAreMisaligned(t *testing.T) {
	conn, tr := newTestConnection()
	tr.ExtraResultSets = 1

	a := conn.Enqueue("SELECT 'a'; SELECT 'hidden'")
	err := conn.Execute(context.Background(), a)

	assert.ErrorIs(t, err, engine.ErrQueueMisaligned)
	assert.False(t, tr.Busy())
}

func TestConnection_MissingResultSetsAreMisaligned(t *testing.T) {
	ctx := context.Background()
	conn, tr := newTestConnection()
	tr.MissingResultSets = 1

	a := conn.Enqueue("SELECT 'a'")
	b := conn.Enqueue("SELECT 'b'")
	require.NoError(t, conn.Execute(ctx, a))

	err := conn.FlushQueue(ctx, nil)
	assert.ErrorIs(t, err, engine.ErrQueueMisaligned)
	assert.Equal(t, engine.StatementFailed, b.State())
	assert.Empty(t, conn.Fetching())
	assert.False(t, tr.Busy())
}

// ============================================================
// PROFILING & DEBUG
// ============================================================

func TestConnection_ProfilerWrapsEveryWireOperation(t *testing.T) {
	ctx := context.Background()
	tr := enginetest.New()
	config := engine.DefaultConfig()
	config.Profiler = true
	conn := engine.NewConnection(tr, config)

	profiler, ok := conn.Profiler().(*engine.QueryProfiler)
	require.True(t, ok)

	a := conn.Enqueue("SELECT 'a'")
	conn.Enqueue("UPDATE t SET x = 1")
	_, err := a.Result(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.FlushQueue(ctx, nil))
	_, err = conn.QueryBind(ctx, "DELETE FROM t WHERE id = $1", 7)
	require.NoError(t, err)

	assert.Equal(t, 1, profiler.TotalQueries(engine.KindConnect))
	assert.Equal(t, 1, profiler.TotalQueries(engine.KindSelect))
	assert.Equal(t, 1, profiler.TotalQueries(engine.KindUpdate))
	assert.Equal(t, 1, profiler.TotalQueries(engine.KindDelete))
	assert.Equal(t, 4, profiler.TotalQueries(engine.KindAny))

	last := profiler.LastProfile()
	require.NotNil(t, last)
	assert.Equal(t, "DELETE FROM t WHERE id = $1", last.Query)
	assert.Equal(t, []interface{}{7}, last.Params)
}

func TestConnection_NoProfilerByDefault(t *testing.T) {
	conn, _ := newTestConnection()
	assert.Nil(t, conn.Profiler())

	_, err := conn.Query(context.Background(), "SELECT 1")
	assert.NoError(t, err)
}

func TestConnection_DebugOutput(t *testing.T) {
	ctx := context.Background()
	conn, _ := newTestConnection()

	var buf bytes.Buffer
	conn.Debug = &engine.DebugContext{Level: engine.DebugTrace, Writer: &buf}

	a := conn.Enqueue("SELECT 'a'")
	conn.Enqueue("SELECT 'b'")
	_, err := a.Result(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.FlushQueue(ctx, nil))
	_, err = conn.QueryBind(ctx, "SELECT $1", "x")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "[BATCH] 2 statement(s)")
	assert.Contains(t, out, "[FETCH] SELECT 'b' (1 rows)")
	assert.Contains(t, out, "[SQL] SELECT $1")
	assert.Contains(t, out, "[VALUES] s [x]")
	assert.Contains(t, out, "[TRACE]")
}

func TestConnection_DebugOffIsSilent(t *testing.T) {
	conn, _ := newTestConnection()

	var buf bytes.Buffer
	conn.Debug = &engine.DebugContext{Level: engine.DebugOff, Writer: &buf}

	_, err := conn.Enqueue("SELECT 1").Result(context.Background())
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}
