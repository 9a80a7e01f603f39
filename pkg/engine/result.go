package engine

import (
	"fmt"
	"strconv"
)

// Row represents a single result row as a map of column name → value
// Values are typed where the driver reports a type: string, int64, float64, bool, nil, time.Time
type Row map[string]interface{}

// Get returns the value of a field
func (r Row) Get(field string) interface{} {
	return r[field]
}

// String returns the string value of a field, or empty string if not found
func (r Row) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Int returns the int64 value of a field, or 0 if not found/not numeric
func (r Row) Int(field string) int64 {
	v, ok := r[field]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	case []byte:
		i, _ := strconv.ParseInt(string(n), 10, 64)
		return i
	default:
		return 0
	}
}

// Float returns the float64 value of a field, or 0 if not found/not numeric
func (r Row) Float(field string) float64 {
	v, ok := r[field]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	case []byte:
		f, _ := strconv.ParseFloat(string(n), 64)
		return f
	default:
		return 0
	}
}

// ResultSet is one fully buffered result of a statement.
//
// Statements that produce no rows (INSERT without RETURNING, DDL, ...) have
// no Columns; RowsAffected and LastInsertID are filled when the driver
// reports them for that statement.
type ResultSet struct {
	Columns      []string
	Rows         []Row
	RowsAffected int64
	LastInsertID int64
	// CommandTag is the server's completion tag when the protocol has one
	CommandTag string
}

// Count returns the number of rows in the result
func (rs *ResultSet) Count() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// IsEmpty returns true if no rows were returned
func (rs *ResultSet) IsEmpty() bool {
	return rs.Count() == 0
}

// First returns the first row, or nil for an empty result
func (rs *ResultSet) First() Row {
	if rs.IsEmpty() {
		return nil
	}
	return rs.Rows[0]
}
