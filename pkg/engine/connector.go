package engine

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Driver names accepted in ConnectorConfig.Driver
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	// DriverPQ selects PostgreSQL through database/sql and lib/pq
	DriverPQ = "pq"
)

// ConnectorConfig holds connection settings
type ConnectorConfig struct {
	Driver   string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	// Socket is a unix socket path; it replaces Host/Port when set
	Socket  string
	Charset string

	ConnectTimeout time.Duration

	// Params are passed to the driver unchanged
	Params map[string]string

	// Profiler attaches a QueryProfiler to connections built from this config
	Profiler bool
}

// DefaultConfig returns sensible defaults
func DefaultConfig() ConnectorConfig {
	return ConnectorConfig{
		Driver:         DriverPostgres,
		Host:           "localhost",
		Port:           5432,
		Database:       "msm",
		User:           "postgres",
		Password:       "",
		ConnectTimeout: 10 * time.Second,
	}
}

// DefaultPort returns the conventional port of a driver
func DefaultPort(driver string) int {
	if NormalizeDriver(driver) == DriverMySQL {
		return 3306
	}
	return 5432
}

// NormalizeDriver maps driver aliases to their canonical name
func NormalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "postgres", "postgresql", "pgx":
		return DriverPostgres
	case "mysql", "mariadb":
		return DriverMySQL
	case "pq", "lib/pq":
		return DriverPQ
	default:
		return strings.ToLower(driver)
	}
}

// Address returns host:port, or the socket path when one is set
func (c ConnectorConfig) Address() string {
	if c.Socket != "" {
		return c.Socket
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort(c.Driver)
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// ConnectionString builds the libpq keyword/value connection string
func (c ConnectorConfig) ConnectionString() string {
	host := c.Host
	if c.Socket != "" {
		host = c.Socket
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort(DriverPostgres)
	}

	parts := []string{
		"host=" + quoteConnValue(host),
		fmt.Sprintf("port=%d", port),
		"dbname=" + quoteConnValue(c.Database),
		"user=" + quoteConnValue(c.User),
		"password=" + quoteConnValue(c.Password),
	}

	if _, ok := c.Params["sslmode"]; !ok {
		parts = append(parts, "sslmode=disable")
	}
	if c.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.Charset != "" {
		parts = append(parts, "client_encoding="+quoteConnValue(c.Charset))
	}
	for _, key := range sortedKeys(c.Params) {
		parts = append(parts, key+"="+quoteConnValue(c.Params[key]))
	}

	return strings.Join(parts, " ")
}

// ParseConnectionString parses a postgres://, postgresql:// or mysql:// URL
func ParseConnectionString(raw string) (ConnectorConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ConnectorConfig{}, fmt.Errorf("invalid connection URL: %w", err)
	}

	var config ConnectorConfig
	switch u.Scheme {
	case "postgres", "postgresql":
		config.Driver = DriverPostgres
	case "mysql", "mariadb":
		config.Driver = DriverMySQL
	case "pq":
		config.Driver = DriverPQ
	default:
		return ConnectorConfig{}, fmt.Errorf("unsupported connection URL scheme %q", u.Scheme)
	}

	config.Host = u.Hostname()
	if config.Host == "" {
		config.Host = "localhost"
	}
	config.Port = DefaultPort(config.Driver)
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return ConnectorConfig{}, fmt.Errorf("invalid port %q: %w", p, err)
		}
		config.Port = port
	}

	if u.User != nil {
		config.User = u.User.Username()
		config.Password, _ = u.User.Password()
	}
	config.Database = strings.TrimPrefix(u.Path, "/")

	for key, values := range u.Query() {
		if len(values) == 0 {
			continue
		}
		value := values[len(values)-1]
		switch key {
		case "charset", "client_encoding":
			config.Charset = value
		case "socket":
			config.Socket = value
		case "connect_timeout":
			secs, err := strconv.Atoi(value)
			if err != nil {
				return ConnectorConfig{}, fmt.Errorf("invalid connect_timeout %q: %w", value, err)
			}
			config.ConnectTimeout = time.Duration(secs) * time.Second
		case "profiler":
			config.Profiler = value == "1" || strings.EqualFold(value, "true")
		default:
			if config.Params == nil {
				config.Params = make(map[string]string)
			}
			config.Params[key] = value
		}
	}

	return config, nil
}

func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
