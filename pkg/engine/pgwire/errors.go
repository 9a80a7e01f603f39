package pgwire

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shen2/MSM/pkg/engine"
)

// mapError converts pgx errors to engine error kinds.
// Server errors become DatabaseErrors keyed by SQLSTATE; a dead link
// becomes a ConnectionError.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &engine.DatabaseError{
			Code:       pgErr.Code,
			SQLState:   pgErr.Code,
			Message:    pgErr.Message,
			Detail:     pgErr.Detail,
			Table:      pgErr.TableName,
			Column:     pgErr.ColumnName,
			Constraint: pgErr.ConstraintName,
			Err:        err,
		}
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return &engine.ConnectionError{Driver: engine.DriverPostgres, Err: err}
	}

	return err
}
