// Package pgwire implements engine.Transport over a single pgx connection.
//
// Batches use the simple query protocol, which accepts several statements
// in one message and answers with one result per statement. Bound queries
// use the extended protocol through pgx.
package pgwire

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/shen2/MSM/pkg/engine"
)

// Transport is a PostgreSQL link
type Transport struct {
	config engine.ConnectorConfig
	conn   *pgx.Conn
}

// New creates a transport (does not connect yet)
func New(config engine.ConnectorConfig) *Transport {
	return &Transport{config: config}
}

func (t *Transport) Driver() string { return engine.DriverPostgres }

func (t *Transport) Dialect() engine.Dialect { return engine.PostgresDialect }

// Conn returns the underlying pgx connection, nil before Connect
func (t *Transport) Conn() *pgx.Conn {
	return t.conn
}

// Connect establishes the connection
func (t *Transport) Connect(ctx context.Context) error {
	pgConfig, err := pgx.ParseConfig(t.config.ConnectionString())
	if err != nil {
		return fmt.Errorf("invalid connection settings: %w", err)
	}

	conn, err := pgx.ConnectConfig(ctx, pgConfig)
	if err != nil {
		return &engine.ConnectionError{
			Driver:  t.Driver(),
			Address: t.config.Address(),
			Err:     err,
		}
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return &engine.ConnectionError{
			Driver:  t.Driver(),
			Address: t.config.Address(),
			Err:     fmt.Errorf("ping failed: %w", err),
		}
	}

	t.conn = conn
	return nil
}

// Close closes the connection
func (t *Transport) Close(ctx context.Context) error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close(ctx)
	t.conn = nil
	return err
}

// SendBatch sends the statements as one simple-protocol message. The
// server runs them in an implicit transaction unless they manage one
// themselves, so a failing statement also rolls back the ones before it.
func (t *Transport) SendBatch(ctx context.Context, statements []string) (engine.ResultStream, error) {
	if t.conn == nil {
		return nil, t.notConnected()
	}
	return &stream{
		mrr:     t.conn.PgConn().Exec(ctx, engine.JoinStatements(statements)),
		typeMap: t.conn.TypeMap(),
	}, nil
}

// Query runs sql with the simple protocol
func (t *Transport) Query(ctx context.Context, sql string) (*engine.ResultSet, error) {
	if t.conn == nil {
		return nil, t.notConnected()
	}

	rows, err := t.conn.Query(ctx, sql, pgx.QueryExecModeSimpleProtocol)
	if err != nil {
		return nil, mapError(err)
	}
	return scanRows(rows)
}

// QueryBind runs sql with the extended protocol
func (t *Transport) QueryBind(ctx context.Context, sql string, params []engine.Param) (*engine.ResultSet, error) {
	if t.conn == nil {
		return nil, t.notConnected()
	}

	rows, err := t.conn.Query(ctx, sql, engine.Values(params)...)
	if err != nil {
		return nil, mapError(err)
	}
	return scanRows(rows)
}

func (t *Transport) Begin(ctx context.Context) error    { return t.exec(ctx, "BEGIN") }
func (t *Transport) Commit(ctx context.Context) error   { return t.exec(ctx, "COMMIT") }
func (t *Transport) Rollback(ctx context.Context) error { return t.exec(ctx, "ROLLBACK") }

func (t *Transport) exec(ctx context.Context, sql string) error {
	if t.conn == nil {
		return t.notConnected()
	}
	_, err := t.conn.Exec(ctx, sql)
	return mapError(err)
}

func (t *Transport) notConnected() error {
	return &engine.ConnectionError{
		Driver:  t.Driver(),
		Address: t.config.Address(),
		Err:     fmt.Errorf("not connected"),
	}
}

// scanRows buffers pgx rows into a ResultSet
func scanRows(rows pgx.Rows) (*engine.ResultSet, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	rs := &engine.ResultSet{Columns: make([]string, len(fields))}
	for i, f := range fields {
		rs.Columns[i] = f.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(engine.Row, len(fields))
		for i, col := range rs.Columns {
			row[col] = values[i]
		}
		rs.Rows = append(rs.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	tag := rows.CommandTag()
	rs.CommandTag = tag.String()
	rs.RowsAffected = tag.RowsAffected()
	return rs, nil
}

// ============================================================
// BATCH STREAM
// ============================================================

type stream struct {
	mrr     *pgconn.MultiResultReader
	typeMap *pgtype.Map
	closed  bool
	err     error
}

func (s *stream) Next() bool {
	if s.closed {
		return false
	}
	if s.mrr.NextResult() {
		return true
	}
	// The reader stops on the first error; Close reports it.
	s.err = mapError(s.mrr.Close())
	s.closed = true
	return false
}

func (s *stream) Store() (*engine.ResultSet, error) {
	result := s.mrr.ResultReader().Read()
	if result.Err != nil {
		return nil, mapError(result.Err)
	}
	return decodeResult(s.typeMap, result)
}

func (s *stream) Err() error {
	return s.err
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return mapError(s.mrr.Close())
}

// decodeResult converts a buffered simple-protocol result. Values arrive as
// text and are decoded with the connection's type map; unknown types stay
// strings.
func decodeResult(m *pgtype.Map, result *pgconn.Result) (*engine.ResultSet, error) {
	rs := &engine.ResultSet{
		Columns:      make([]string, len(result.FieldDescriptions)),
		CommandTag:   result.CommandTag.String(),
		RowsAffected: result.CommandTag.RowsAffected(),
	}
	for i, f := range result.FieldDescriptions {
		rs.Columns[i] = f.Name
	}

	for _, raw := range result.Rows {
		row := make(engine.Row, len(raw))
		for i, src := range raw {
			f := result.FieldDescriptions[i]
			v, err := decodeValue(m, f, src)
			if err != nil {
				return nil, fmt.Errorf("failed to decode column %s: %w", f.Name, err)
			}
			row[f.Name] = v
		}
		rs.Rows = append(rs.Rows, row)
	}

	return rs, nil
}

func decodeValue(m *pgtype.Map, f pgconn.FieldDescription, src []byte) (interface{}, error) {
	if src == nil {
		return nil, nil
	}
	if typ, ok := m.TypeForOID(f.DataTypeOID); ok {
		return typ.Codec.DecodeValue(m, f.DataTypeOID, f.Format, src)
	}
	return string(src), nil
}
