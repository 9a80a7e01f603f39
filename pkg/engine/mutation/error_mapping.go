package mutation

import (
	"fmt"
	"strings"

	"github.com/shen2/MSM/pkg/engine"
)

// mapDatabaseError converts server errors to constraint error types.
// PostgreSQL reports SQLSTATEs, MySQL reports error numbers; both are
// matched on DatabaseError.Code. Other errors are returned with context.
func mapDatabaseError(err error, table string, operation string, values map[string]interface{}) error {
	if err == nil {
		return nil
	}

	dbErr, ok := engine.AsDatabaseError(err)
	if !ok {
		return fmt.Errorf("%s failed: %w", operation, err)
	}

	// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
	// and https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
	switch dbErr.Code {
	case "23505", "1062": // unique_violation, ER_DUP_ENTRY
		field := extractFieldFromDetail(dbErr.Detail)
		if field == "" {
			field = extractDuplicateKey(dbErr.Message)
		}
		return &UniqueConstraintError{
			Field:      field,
			Value:      extractValueForField(field, values),
			Table:      table,
			Suggestion: fmt.Sprintf("Use a different value for %s, or update the existing record", field),
			Err:        dbErr,
		}

	case "23503", "1451", "1452": // foreign_key_violation, ER_ROW_IS_REFERENCED_2, ER_NO_REFERENCED_ROW_2
		field := extractFieldFromDetail(dbErr.Detail)
		if field == "" {
			field = extractBetween(dbErr.Message, "FOREIGN KEY (`", "`)")
		}
		referenced := extractBetween(dbErr.Detail, `in table "`, `"`)
		if referenced == "" {
			referenced = extractBetween(dbErr.Message, "REFERENCES `", "`")
		}
		return &ForeignKeyError{
			Field:           field,
			Value:           extractValueForField(field, values),
			ReferencedTable: referenced,
			Suggestion:      fmt.Sprintf("Ensure the referenced %s row exists before writing this %s row", referenced, table),
			Err:             dbErr,
		}

	case "23502", "1048", "1364": // not_null_violation, ER_BAD_NULL_ERROR, ER_NO_DEFAULT_FOR_FIELD
		field := dbErr.Column
		if field == "" {
			field = extractQuoted(dbErr.Message)
		}
		return &NotNullError{
			Field:      field,
			Suggestion: fmt.Sprintf("Provide a value for %s (this field is required)", field),
			Err:        dbErr,
		}

	case "23514", "3819": // check_violation, ER_CHECK_CONSTRAINT_VIOLATED
		constraint := dbErr.Constraint
		if constraint == "" {
			constraint = extractQuoted(dbErr.Message)
		}
		return &ConstraintError{
			Type:       "check",
			Constraint: constraint,
			Suggestion: fmt.Sprintf("Value violates check constraint: %s", constraint),
			Err:        dbErr,
		}

	case "42P01", "1146": // undefined_table, ER_NO_SUCH_TABLE
		return &UnknownTableError{Table: table, Err: dbErr}

	case "42703", "1054": // undefined_column, ER_BAD_FIELD_ERROR
		return &UnknownFieldError{
			Table: table,
			Field: extractQuoted(dbErr.Message),
			Err:   dbErr,
		}

	default:
		return fmt.Errorf("%s failed: %w", operation, err)
	}
}

// ============================================================
// HELPER FUNCTIONS - Extract info from server messages
// ============================================================

// extractFieldFromDetail extracts field name from a PostgreSQL detail
// Input: "Key (email)=(test@mail.com) already exists."
// Output: "email"
func extractFieldFromDetail(detail string) string {
	return extractBetween(detail, "(", ")")
}

// extractDuplicateKey extracts the key name of a MySQL duplicate entry
// Input: "Duplicate entry 'a@b.c' for key 'users.email'"
// Output: "email"
func extractDuplicateKey(message string) string {
	key := extractBetween(message, "for key '", "'")
	if i := strings.LastIndex(key, "."); i >= 0 {
		key = key[i+1:]
	}
	return key
}

// extractValueForField gets the value from values map for a field
func extractValueForField(field string, values map[string]interface{}) interface{} {
	if field == "" {
		return nil
	}
	return values[field]
}

// extractQuoted returns the first quoted name of a message, accepting the
// double quotes of PostgreSQL and the single quotes of MySQL
// Input: `column "unknown_field" of relation "users" does not exist`
// Output: "unknown_field"
func extractQuoted(message string) string {
	dq := strings.Index(message, `"`)
	sq := strings.Index(message, `'`)

	switch {
	case dq >= 0 && (sq < 0 || dq < sq):
		return extractBetween(message, `"`, `"`)
	case sq >= 0:
		return extractBetween(message, `'`, `'`)
	default:
		return ""
	}
}

func extractBetween(s, open, close string) string {
	start := strings.Index(s, open)
	if start < 0 {
		return ""
	}
	rest := s[start+len(open):]
	end := strings.Index(rest, close)
	if end < 0 {
		return ""
	}
	return rest[:end]
}
