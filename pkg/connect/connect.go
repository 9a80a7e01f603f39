// Package connect builds engine connections from configuration.
package connect

import (
	"fmt"

	"github.com/shen2/MSM/pkg/engine"
	"github.com/shen2/MSM/pkg/engine/pgwire"
	"github.com/shen2/MSM/pkg/engine/sqlwire"
)

// Transport returns the transport for config.Driver
func Transport(config engine.ConnectorConfig) (engine.Transport, error) {
	switch engine.NormalizeDriver(config.Driver) {
	case engine.DriverPostgres:
		return pgwire.New(config), nil
	case engine.DriverMySQL:
		return sqlwire.NewMySQL(config)
	case engine.DriverPQ:
		return sqlwire.NewPostgres(config), nil
	default:
		return nil, fmt.Errorf("unsupported driver %q (expected postgres, mysql or pq)", config.Driver)
	}
}

// Open returns a connection for config. Nothing is dialed until the first
// statement needs the link.
func Open(config engine.ConnectorConfig) (*engine.Connection, error) {
	config.Driver = engine.NormalizeDriver(config.Driver)

	transport, err := Transport(config)
	if err != nil {
		return nil, err
	}
	return engine.NewConnection(transport, config), nil
}

// OpenURL parses a connection URL and opens it
func OpenURL(raw string) (*engine.Connection, error) {
	config, err := engine.ParseConnectionString(raw)
	if err != nil {
		return nil, err
	}
	return Open(config)
}
