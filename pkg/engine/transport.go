package engine

import (
	"context"
	"strconv"
	"strings"
)

// StatementSeparator joins statement texts inside one batch payload
const StatementSeparator = ";\n"

// JoinStatements builds the wire payload of a batch
func JoinStatements(statements []string) string {
	return strings.Join(statements, StatementSeparator)
}

// Transport is the physical link a Connection drives.
//
// A Transport is used by a single goroutine. While a ResultStream returned
// by SendBatch still holds unread result sets, the only valid calls are on
// that stream.
type Transport interface {
	// Driver names the transport for errors and diagnostics
	Driver() string
	Dialect() Dialect

	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// SendBatch transmits statements as one multi-statement request. The
	// stream yields one result set per statement, in order.
	SendBatch(ctx context.Context, statements []string) (ResultStream, error)

	// Query runs a single statement without parameters
	Query(ctx context.Context, sql string) (*ResultSet, error)

	// QueryBind prepares sql and executes it with typed parameters
	QueryBind(ctx context.Context, sql string, params []Param) (*ResultSet, error)

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ResultStream yields the result sets of one batch in submission order
type ResultStream interface {
	// Next advances to the next result set. It returns false when the
	// response holds no more result sets or the server reported an error,
	// which Err then returns.
	Next() bool

	// Store buffers the current result set. A non-nil error is the error
	// the server reported for the statement that produced it.
	Store() (*ResultSet, error)

	// Err returns the error that stopped the stream, if any
	Err() error

	// Close discards unread result sets and frees the link for new requests
	Close() error
}

// ============================================================
// DIALECTS
// ============================================================

// Dialect holds the SQL spelling differences the engine cares about
type Dialect interface {
	Name() string
	// Placeholder returns the marker for the n-th (1-based) bound parameter
	Placeholder(n int) string
	QuoteIdentifier(ident string) string
	// SupportsReturning reports whether INSERT/UPDATE ... RETURNING is available
	SupportsReturning() bool
}

type postgresDialect struct{}

func (postgresDialect) Name() string             { return "postgres" }
func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (postgresDialect) SupportsReturning() bool  { return true }

func (postgresDialect) QuoteIdentifier(ident string) string {
	return quoteSegments(ident, `"`)
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string            { return "mysql" }
func (mysqlDialect) Placeholder(int) string  { return "?" }
func (mysqlDialect) SupportsReturning() bool { return false }

func (mysqlDialect) QuoteIdentifier(ident string) string {
	return quoteSegments(ident, "`")
}

var (
	PostgresDialect Dialect = postgresDialect{}
	MySQLDialect    Dialect = mysqlDialect{}
)

// quoteSegments quotes each dot-separated part of a qualified identifier
func quoteSegments(ident, q string) string {
	parts := strings.Split(ident, ".")
	for i, part := range parts {
		parts[i] = q + strings.ReplaceAll(part, q, q+q) + q
	}
	return strings.Join(parts, ".")
}
