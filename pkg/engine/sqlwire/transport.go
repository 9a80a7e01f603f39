// Package sqlwire implements engine.Transport over database/sql.
//
// The pool is pinned to a single *sql.Conn so every request of a
// Connection travels on the same session. MySQL goes through
// go-sql-driver/mysql with multiStatements enabled; PostgreSQL can also be
// reached through lib/pq.
package sqlwire

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shen2/MSM/pkg/engine"
)

// Transport is a database/sql link
type Transport struct {
	driver  string
	dialect engine.Dialect
	address string

	openDB   func() (*sql.DB, error)
	mapError func(error) error

	db   *sql.DB
	conn *sql.Conn
}

func (t *Transport) Driver() string { return t.driver }

func (t *Transport) Dialect() engine.Dialect { return t.dialect }

// DB returns the underlying pool, nil before Connect
func (t *Transport) DB() *sql.DB {
	return t.db
}

// Connect opens the pool and pins one connection
func (t *Transport) Connect(ctx context.Context) error {
	db, err := t.openDB()
	if err != nil {
		return t.connectionError(err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return t.connectionError(err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return t.connectionError(fmt.Errorf("ping failed: %w", err))
	}

	t.db = db
	t.conn = conn
	return nil
}

// Close releases the pinned connection and the pool
func (t *Transport) Close(ctx context.Context) error {
	if t.db == nil {
		return nil
	}
	connErr := t.conn.Close()
	dbErr := t.db.Close()
	t.conn, t.db = nil, nil
	if connErr != nil {
		return connErr
	}
	return dbErr
}

// SendBatch sends the statements as one multi-statement query
func (t *Transport) SendBatch(ctx context.Context, statements []string) (engine.ResultStream, error) {
	if t.conn == nil {
		return nil, t.notConnected()
	}
	if err := checkBatch(statements); err != nil {
		return nil, err
	}

	rows, err := t.conn.QueryContext(ctx, engine.JoinStatements(statements))
	if err != nil {
		// The first statement failed before any result set came back.
		return newStream(statements, nil, t.mapError(err), t.mapError), nil
	}
	return newStream(statements, rows, nil, t.mapError), nil
}

// Query runs a single statement
func (t *Transport) Query(ctx context.Context, sql string) (*engine.ResultSet, error) {
	return t.run(ctx, sql, nil)
}

// QueryBind prepares sql and executes it with params
func (t *Transport) QueryBind(ctx context.Context, sql string, params []engine.Param) (*engine.ResultSet, error) {
	return t.run(ctx, sql, engine.Values(params))
}

func (t *Transport) Begin(ctx context.Context) error    { return t.exec(ctx, "BEGIN") }
func (t *Transport) Commit(ctx context.Context) error   { return t.exec(ctx, "COMMIT") }
func (t *Transport) Rollback(ctx context.Context) error { return t.exec(ctx, "ROLLBACK") }

func (t *Transport) exec(ctx context.Context, sql string) error {
	_, err := t.run(ctx, sql, nil)
	return err
}

// run uses Exec for statements without a result set so affected rows and
// the insert id are reported, Query otherwise
func (t *Transport) run(ctx context.Context, query string, args []interface{}) (*engine.ResultSet, error) {
	if t.conn == nil {
		return nil, t.notConnected()
	}

	if !ReturnsRows(query) {
		res, err := t.conn.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, t.mapError(err)
		}
		rs := &engine.ResultSet{}
		rs.RowsAffected, _ = res.RowsAffected()
		// lib/pq does not support LastInsertId
		rs.LastInsertID, _ = res.LastInsertId()
		return rs, nil
	}

	rows, err := t.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, t.mapError(err)
	}
	defer rows.Close()

	rs, err := scanResultSet(rows)
	if err != nil {
		return nil, t.mapError(err)
	}
	return rs, nil
}

func (t *Transport) connectionError(err error) error {
	return &engine.ConnectionError{Driver: t.driver, Address: t.address, Err: err}
}

func (t *Transport) notConnected() error {
	return t.connectionError(fmt.Errorf("not connected"))
}

// ReturnsRows reports whether a statement produces a result set. Drivers
// on database/sql skip statements without one when walking the result sets
// of a multi-statement query, so batches need to know in advance.
func ReturnsRows(sql string) bool {
	switch engine.InferQueryKind(sql) {
	case engine.KindSelect:
		// SELECT ... INTO stores into variables or a new table
		return hasTopLevelWord(sql, "RETURNING") || !hasTopLevelWord(sql, "INTO")
	case engine.KindInsert, engine.KindUpdate, engine.KindDelete:
		return hasTopLevelWord(sql, "RETURNING")
	}

	return hasLeadingWord(sql, "call", "values", "table", "desc", "check", "analyze", "optimize")
}

// resultShapeKnown is false for statements whose number of result sets
// depends on server-side code, such as stored procedures.
func resultShapeKnown(sql string) bool {
	return !hasLeadingWord(sql, "call", "exec", "execute", "handler", "xa")
}

// checkBatch rejects batches the stream could not pair with their result
// sets.
func checkBatch(statements []string) error {
	if len(statements) < 2 {
		return nil
	}
	for _, stmt := range statements {
		if !resultShapeKnown(stmt) {
			return fmt.Errorf("%w: cannot tell how many result sets %q returns; run it on its own",
				engine.ErrQueueMisaligned, stmt)
		}
	}
	return nil
}

func hasLeadingWord(sql string, words ...string) bool {
	trimmed := strings.TrimLeft(engine.StripLeadingComments(sql), " \t\r\n(")
	for _, word := range words {
		if len(trimmed) >= len(word) && strings.EqualFold(trimmed[:len(word)], word) {
			rest := trimmed[len(word):]
			if rest == "" || strings.ContainsAny(rest[:1], " \t\r\n(;") {
				return true
			}
		}
	}
	return false
}

// hasTopLevelWord looks for a keyword outside quotes, comments and
// parentheses.
func hasTopLevelWord(sql, word string) bool {
	depth := 0
	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(sql, i)
		case c == '-' && strings.HasPrefix(sql[i:], "--"), c == '#':
			j := strings.IndexByte(sql[i:], '\n')
			if j < 0 {
				return false
			}
			i += j + 1
		case c == '/' && strings.HasPrefix(sql[i:], "/*"):
			j := strings.Index(sql[i+2:], "*/")
			if j < 0 {
				return false
			}
			i += j + 4
		case c == '(':
			depth++
			i++
		case c == ')':
			if depth > 0 {
				depth--
			}
			i++
		case isIdentChar(c):
			j := i
			for j < len(sql) && isIdentChar(sql[j]) {
				j++
			}
			if depth == 0 && strings.EqualFold(sql[i:j], word) {
				return true
			}
			i = j
		default:
			i++
		}
	}
	return false
}

// skipQuoted returns the index just past the quoted run starting at i.
// A doubled quote or a backslash escapes the quote character.
func skipQuoted(sql string, i int) int {
	quote := sql[i]
	for j := i + 1; j < len(sql); j++ {
		switch sql[j] {
		case '\\':
			j++
		case quote:
			if j+1 < len(sql) && sql[j+1] == quote {
				j++
				continue
			}
			return j + 1
		}
	}
	return len(sql)
}

func isIdentChar(c byte) bool {
	return c == '_' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

// ============================================================
// ROW SCANNING
// ============================================================

// cursor is the part of *sql.Rows the batch stream uses
type cursor interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...interface{}) error
	NextResultSet() bool
	Err() error
	Close() error
}

// scanResultSet buffers the current result set of rows
func scanResultSet(rows cursor) (*engine.ResultSet, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &engine.ResultSet{Columns: columns}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(engine.Row, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		rs.Rows = append(rs.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

// normalizeValue turns driver byte slices into strings; other driver
// values (int64, float64, bool, time.Time, nil) are kept
func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
