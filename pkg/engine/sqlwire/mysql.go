package sqlwire

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"github.com/shen2/MSM/pkg/engine"
)

// NewMySQL creates a MySQL transport (does not connect yet)
func NewMySQL(config engine.ConnectorConfig) (*Transport, error) {
	cfg, err := MySQLConfig(config)
	if err != nil {
		return nil, err
	}

	return &Transport{
		driver:  engine.DriverMySQL,
		dialect: engine.MySQLDialect,
		address: config.Address(),
		openDB: func() (*sql.DB, error) {
			connector, err := mysql.NewConnector(cfg)
			if err != nil {
				return nil, err
			}
			return sql.OpenDB(connector), nil
		},
		mapError: mapMySQLError,
	}, nil
}

// MySQLConfig converts connector settings to a driver config with
// multi-statement queries enabled
func MySQLConfig(config engine.ConnectorConfig) (*mysql.Config, error) {
	cfg := mysql.NewConfig()
	cfg.User = config.User
	cfg.Passwd = config.Password
	cfg.DBName = config.Database
	cfg.MultiStatements = true
	cfg.ParseTime = true
	cfg.Timeout = config.ConnectTimeout

	if config.Socket != "" {
		cfg.Net = "unix"
		cfg.Addr = config.Socket
	} else {
		cfg.Net = "tcp"
		cfg.Addr = config.Address()
	}

	if config.Charset != "" {
		if err := cfg.Apply(mysql.Charset(config.Charset, "")); err != nil {
			return nil, err
		}
	}

	if len(config.Params) > 0 {
		cfg.Params = make(map[string]string, len(config.Params))
		for k, v := range config.Params {
			cfg.Params[k] = v
		}
	}

	return cfg, nil
}

// mapMySQLError converts driver errors to engine error kinds
func mapMySQLError(err error) error {
	if err == nil {
		return nil
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		dbErr := &engine.DatabaseError{
			Code:    strconv.Itoa(int(myErr.Number)),
			Message: myErr.Message,
			Err:     err,
		}
		if myErr.SQLState != [5]byte{} {
			dbErr.SQLState = string(myErr.SQLState[:])
		}
		return dbErr
	}

	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, driver.ErrBadConn) {
		return &engine.ConnectionError{Driver: engine.DriverMySQL, Err: err}
	}

	return err
}
