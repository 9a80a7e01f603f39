// Package mutation builds single-table INSERT, UPDATE, DELETE and SELECT
// statements and runs them through engine.Connection.QueryBind.
package mutation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shen2/MSM/pkg/engine"
)

// InsertResult is the outcome of an INSERT
type InsertResult struct {
	// ID is the generated identity: the first RETURNING column named by
	// the builder's identity (PostgreSQL), or the last insert id (MySQL)
	ID interface{}
	// Record holds the stored row when the dialect supports RETURNING,
	// otherwise the values that were sent
	Record   map[string]interface{}
	Affected int64
}

// UpdateResult is the outcome of an UPDATE
type UpdateResult struct {
	// Records is only filled when the dialect supports RETURNING
	Records  []map[string]interface{}
	Affected int64
}

// DeleteResult is the outcome of a DELETE
type DeleteResult struct {
	Affected int64
}

// ============================================================
// INSERT BUILDER
// ============================================================

type InsertBuilder struct {
	conn     *engine.Connection
	table    string
	values   map[string]interface{}
	identity string

	// Debug settings
	debugLevel *engine.DebugLevel
}

// Insert starts an INSERT into table
func Insert(conn *engine.Connection, table string) *InsertBuilder {
	return &InsertBuilder{
		conn:     conn,
		table:    table,
		values:   make(map[string]interface{}),
		identity: "id",
	}
}

// Set assigns a column value
func (ib *InsertBuilder) Set(field string, value interface{}) *InsertBuilder {
	ib.values[field] = value
	return ib
}

// SetMap assigns several column values
func (ib *InsertBuilder) SetMap(values map[string]interface{}) *InsertBuilder {
	for field, value := range values {
		ib.values[field] = value
	}
	return ib
}

// Identity names the generated column reported as InsertResult.ID
func (ib *InsertBuilder) Identity(column string) *InsertBuilder {
	ib.identity = column
	return ib
}

// Debug writes the statement for this builder only
func (ib *InsertBuilder) Debug() *InsertBuilder {
	level := engine.DebugSQL
	ib.debugLevel = &level
	return ib
}

// ToSQL returns the statement and its ordered parameters
func (ib *InsertBuilder) ToSQL() (string, []interface{}) {
	d := ib.conn.Dialect()
	fields := sortedFields(ib.values)

	columns := make([]string, len(fields))
	placeholders := make([]string, len(fields))
	values := make([]interface{}, len(fields))
	for i, field := range fields {
		columns[i] = d.QuoteIdentifier(field)
		placeholders[i] = d.Placeholder(i + 1)
		values[i] = ib.values[field]
	}

	var sql string
	if len(fields) == 0 {
		sql = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", d.QuoteIdentifier(ib.table))
		if d.Name() == engine.MySQLDialect.Name() {
			sql = fmt.Sprintf("INSERT INTO %s () VALUES ()", d.QuoteIdentifier(ib.table))
		}
	} else {
		sql = fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s)",
			d.QuoteIdentifier(ib.table),
			strings.Join(columns, ", "),
			strings.Join(placeholders, ", "),
		)
	}
	if d.SupportsReturning() {
		sql += " RETURNING *"
	}

	return sql, values
}

// Execute runs the INSERT
func (ib *InsertBuilder) Execute(ctx context.Context) (*InsertResult, error) {
	start := time.Now()
	sql, orderedValues := ib.ToSQL()
	debugStatement(ib.conn, ib.debugLevel, "INSERT INTO "+ib.table, sql, orderedValues)

	rs, err := ib.conn.QueryBind(ctx, sql, orderedValues...)
	if err != nil {
		return nil, mapDatabaseError(err, ib.table, "INSERT", ib.values)
	}

	result := &InsertResult{Affected: 1}

	if ib.conn.Dialect().SupportsReturning() {
		// Parse RETURNING *
		row := rs.First()
		if row == nil {
			return nil, fmt.Errorf("INSERT executed but returned no rows")
		}
		result.Record = map[string]interface{}(row)
		result.ID = row[ib.identity]
	} else {
		result.Record = make(map[string]interface{}, len(ib.values))
		for k, v := range ib.values {
			result.Record[k] = v
		}
		if rs.LastInsertID != 0 {
			result.ID = rs.LastInsertID
			result.Record[ib.identity] = rs.LastInsertID
		} else {
			result.ID = ib.values[ib.identity]
		}
		result.Affected = rs.RowsAffected
	}

	debugTrace(ib.conn, ib.debugLevel, "INSERT on %s: %v, %d row(s)", ib.table, time.Since(start), result.Affected)
	return result, nil
}

// ============================================================
// UPDATE BUILDER
// ============================================================

type UpdateBuilder struct {
	conn    *engine.Connection
	table   string
	filters map[string]interface{}
	updates map[string]interface{}
	all     bool

	// Debug settings
	debugLevel *engine.DebugLevel
}

// Update starts an UPDATE of table
func Update(conn *engine.Connection, table string) *UpdateBuilder {
	return &UpdateBuilder{
		conn:    conn,
		table:   table,
		filters: make(map[string]interface{}),
		updates: make(map[string]interface{}),
	}
}

// Filter adds an equality condition; conditions are joined with AND
func (ub *UpdateBuilder) Filter(field string, value interface{}) *UpdateBuilder {
	ub.filters[field] = value
	return ub
}

// Set assigns a column value
func (ub *UpdateBuilder) Set(field string, value interface{}) *UpdateBuilder {
	ub.updates[field] = value
	return ub
}

// SetMap assigns several column values
func (ub *UpdateBuilder) SetMap(values map[string]interface{}) *UpdateBuilder {
	for field, value := range values {
		ub.updates[field] = value
	}
	return ub
}

// All allows an UPDATE without filters
func (ub *UpdateBuilder) All() *UpdateBuilder {
	ub.all = true
	return ub
}

// Debug writes the statement for this builder only
func (ub *UpdateBuilder) Debug() *UpdateBuilder {
	level := engine.DebugSQL
	ub.debugLevel = &level
	return ub
}

// ToSQL returns the statement and its ordered parameters
func (ub *UpdateBuilder) ToSQL() (string, []interface{}) {
	d := ub.conn.Dialect()

	var setClauses []string
	var values []interface{}
	for _, field := range sortedFields(ub.updates) {
		values = append(values, ub.updates[field])
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", d.QuoteIdentifier(field), d.Placeholder(len(values))))
	}

	where, values := whereClause(d, ub.filters, values)

	sql := fmt.Sprintf("UPDATE %s SET %s%s", d.QuoteIdentifier(ub.table), strings.Join(setClauses, ", "), where)
	if d.SupportsReturning() {
		sql += " RETURNING *"
	}
	return sql, values
}

// Execute runs the UPDATE
func (ub *UpdateBuilder) Execute(ctx context.Context) (*UpdateResult, error) {
	if len(ub.updates) == 0 {
		return nil, fmt.Errorf("UPDATE on %s has no fields to set", ub.table)
	}
	if len(ub.filters) == 0 && !ub.all {
		return nil, ErrUnsafeMutation
	}

	start := time.Now()
	sql, orderedValues := ub.ToSQL()
	debugStatement(ub.conn, ub.debugLevel, "UPDATE "+ub.table, sql, orderedValues)

	rs, err := ub.conn.QueryBind(ctx, sql, orderedValues...)
	if err != nil {
		return nil, mapDatabaseError(err, ub.table, "UPDATE", ub.updates)
	}

	result := &UpdateResult{Affected: rs.RowsAffected}
	if ub.conn.Dialect().SupportsReturning() {
		// Parse RETURNING * (all updated rows)
		for _, row := range rs.Rows {
			result.Records = append(result.Records, map[string]interface{}(row))
		}
		result.Affected = int64(len(result.Records))
	}

	debugTrace(ub.conn, ub.debugLevel, "UPDATE on %s: %v, %d row(s)", ub.table, time.Since(start), result.Affected)
	return result, nil
}

// ============================================================
// DELETE BUILDER
// ============================================================

type DeleteBuilder struct {
	conn    *engine.Connection
	table   string
	filters map[string]interface{}
	all     bool

	// Debug settings
	debugLevel *engine.DebugLevel
}

// Delete starts a DELETE from table
func Delete(conn *engine.Connection, table string) *DeleteBuilder {
	return &DeleteBuilder{
		conn:    conn,
		table:   table,
		filters: make(map[string]interface{}),
	}
}

// Filter adds an equality condition; conditions are joined with AND
func (db *DeleteBuilder) Filter(field string, value interface{}) *DeleteBuilder {
	db.filters[field] = value
	return db
}

// All allows a DELETE without filters
func (db *DeleteBuilder) All() *DeleteBuilder {
	db.all = true
	return db
}

// Debug writes the statement for this builder only
func (db *DeleteBuilder) Debug() *DeleteBuilder {
	level := engine.DebugSQL
	db.debugLevel = &level
	return db
}

// ToSQL returns the statement and its ordered parameters
func (db *DeleteBuilder) ToSQL() (string, []interface{}) {
	d := db.conn.Dialect()
	where, values := whereClause(d, db.filters, nil)
	return fmt.Sprintf("DELETE FROM %s%s", d.QuoteIdentifier(db.table), where), values
}

// Execute runs the DELETE
func (db *DeleteBuilder) Execute(ctx context.Context) (*DeleteResult, error) {
	if len(db.filters) == 0 && !db.all {
		return nil, ErrUnsafeMutation
	}

	start := time.Now()
	sql, orderedValues := db.ToSQL()
	debugStatement(db.conn, db.debugLevel, "DELETE FROM "+db.table, sql, orderedValues)

	rs, err := db.conn.QueryBind(ctx, sql, orderedValues...)
	if err != nil {
		return nil, mapDatabaseError(err, db.table, "DELETE", nil)
	}

	debugTrace(db.conn, db.debugLevel, "DELETE on %s: %v, %d row(s)", db.table, time.Since(start), rs.RowsAffected)
	return &DeleteResult{Affected: rs.RowsAffected}, nil
}

// ============================================================
// SELECT BUILDER
// ============================================================

type SelectBuilder struct {
	conn    *engine.Connection
	table   string
	columns []string
	filters map[string]interface{}
	orderBy []string
	limit   int

	// Debug settings
	debugLevel *engine.DebugLevel
}

// Select starts a SELECT from table
func Select(conn *engine.Connection, table string) *SelectBuilder {
	return &SelectBuilder{
		conn:    conn,
		table:   table,
		filters: make(map[string]interface{}),
	}
}

// Columns restricts the selected columns (default *)
func (sb *SelectBuilder) Columns(columns ...string) *SelectBuilder {
	sb.columns = append(sb.columns, columns...)
	return sb
}

// Filter adds an equality condition; conditions are joined with AND
func (sb *SelectBuilder) Filter(field string, value interface{}) *SelectBuilder {
	sb.filters[field] = value
	return sb
}

// OrderBy appends an ORDER BY column; prefix with "-" for descending
func (sb *SelectBuilder) OrderBy(column string) *SelectBuilder {
	sb.orderBy = append(sb.orderBy, column)
	return sb
}

// Limit caps the number of rows
func (sb *SelectBuilder) Limit(n int) *SelectBuilder {
	sb.limit = n
	return sb
}

// Debug writes the statement for this builder only
func (sb *SelectBuilder) Debug() *SelectBuilder {
	level := engine.DebugSQL
	sb.debugLevel = &level
	return sb
}

// ToSQL returns the statement and its ordered parameters
func (sb *SelectBuilder) ToSQL() (string, []interface{}) {
	d := sb.conn.Dialect()

	cols := "*"
	if len(sb.columns) > 0 {
		quoted := make([]string, len(sb.columns))
		for i, c := range sb.columns {
			quoted[i] = d.QuoteIdentifier(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	where, values := whereClause(d, sb.filters, nil)
	sql := fmt.Sprintf("SELECT %s FROM %s%s", cols, d.QuoteIdentifier(sb.table), where)

	if len(sb.orderBy) > 0 {
		order := make([]string, len(sb.orderBy))
		for i, c := range sb.orderBy {
			if strings.HasPrefix(c, "-") {
				order[i] = d.QuoteIdentifier(c[1:]) + " DESC"
			} else {
				order[i] = d.QuoteIdentifier(c)
			}
		}
		sql += " ORDER BY " + strings.Join(order, ", ")
	}
	if sb.limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", sb.limit)
	}

	return sql, values
}

// Execute runs the SELECT
func (sb *SelectBuilder) Execute(ctx context.Context) (*engine.ResultSet, error) {
	start := time.Now()
	sql, orderedValues := sb.ToSQL()
	debugStatement(sb.conn, sb.debugLevel, "SELECT FROM "+sb.table, sql, orderedValues)

	rs, err := sb.conn.QueryBind(ctx, sql, orderedValues...)
	if err != nil {
		return nil, mapDatabaseError(err, sb.table, "SELECT", nil)
	}

	debugTrace(sb.conn, sb.debugLevel, "SELECT on %s: %v, %d row(s)", sb.table, time.Since(start), rs.Count())
	return rs, nil
}

// First runs the SELECT with LIMIT 1 and returns the row, or nil
func (sb *SelectBuilder) First(ctx context.Context) (engine.Row, error) {
	rs, err := sb.Limit(1).Execute(ctx)
	if err != nil {
		return nil, err
	}
	return rs.First(), nil
}

// ============================================================
// UTILITIES
// ============================================================

func sortedFields(m map[string]interface{}) []string {
	fields := make([]string, 0, len(m))
	for field := range m {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// whereClause renders equality filters in sorted order, numbering
// placeholders after the values already collected. A nil filter value
// becomes IS NULL.
func whereClause(d engine.Dialect, filters map[string]interface{}, values []interface{}) (string, []interface{}) {
	if len(filters) == 0 {
		return "", values
	}

	clauses := make([]string, 0, len(filters))
	for _, field := range sortedFields(filters) {
		value := filters[field]
		if value == nil {
			clauses = append(clauses, d.QuoteIdentifier(field)+" IS NULL")
			continue
		}
		values = append(values, value)
		clauses = append(clauses, fmt.Sprintf("%s = %s", d.QuoteIdentifier(field), d.Placeholder(len(values))))
	}
	return " WHERE " + strings.Join(clauses, " AND "), values
}

// debugStatement writes the statement when the builder asked for debug
// output and the connection is not already writing it
func debugStatement(conn *engine.Connection, level *engine.DebugLevel, what, sql string, values []interface{}) {
	if level == nil || conn.Debug.Enabled(engine.DebugSQL) {
		return
	}
	d := builderDebug(conn, *level)
	d.Log(engine.DebugSQL, "SQL", "%s\n%s", what, sql)
	d.Log(engine.DebugSQL, "VALUES", "%v", values)
}

func debugTrace(conn *engine.Connection, level *engine.DebugLevel, format string, args ...interface{}) {
	d := conn.Debug
	if level != nil && !d.Enabled(*level) {
		d = builderDebug(conn, *level)
	}
	d.Log(engine.DebugTrace, "TRACE", format, args...)
}

func builderDebug(conn *engine.Connection, level engine.DebugLevel) *engine.DebugContext {
	d := engine.DefaultDebugContext()
	if conn.Debug != nil {
		*d = *conn.Debug
	}
	d.Level = level
	return d
}
