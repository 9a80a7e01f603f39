package sqlwire

import (
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/lib/pq"

	"github.com/shen2/MSM/pkg/engine"
)

// NewPostgres creates a PostgreSQL transport on lib/pq (does not connect yet)
func NewPostgres(config engine.ConnectorConfig) *Transport {
	dsn := config.ConnectionString()

	return &Transport{
		driver:  engine.DriverPQ,
		dialect: engine.PostgresDialect,
		address: config.Address(),
		openDB: func() (*sql.DB, error) {
			connector, err := pq.NewConnector(dsn)
			if err != nil {
				return nil, err
			}
			return sql.OpenDB(connector), nil
		},
		mapError: mapPQError,
	}
}

// mapPQError converts lib/pq errors to engine error kinds
func mapPQError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &engine.DatabaseError{
			Code:       string(pqErr.Code),
			SQLState:   string(pqErr.Code),
			Message:    pqErr.Message,
			Detail:     pqErr.Detail,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Constraint: pqErr.Constraint,
			Err:        err,
		}
	}

	if errors.Is(err, driver.ErrBadConn) {
		return &engine.ConnectionError{Driver: engine.DriverPQ, Err: err}
	}

	return err
}
