// Package config loads the .msm.yml project configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/shen2/MSM/pkg/engine"
)

// FileName is the configuration file looked up in the work dir
const FileName = ".msm.yml"

// Version is written into new configuration files
const Version = "1"

// Config is the content of .msm.yml
type Config struct {
	Version  string         `yaml:"version"`
	Database DatabaseConfig `yaml:"database"`
	Debug    DebugConfig    `yaml:"debug"`
}

// DatabaseConfig holds connection settings. ConnectionString, when set,
// wins over the discrete fields.
type DatabaseConfig struct {
	Driver           string            `yaml:"driver"`
	ConnectionString string            `yaml:"connection_string,omitempty"`
	Host             string            `yaml:"host,omitempty"`
	Port             int               `yaml:"port,omitempty"`
	Database         string            `yaml:"database,omitempty"`
	User             string            `yaml:"user,omitempty"`
	Password         string            `yaml:"password,omitempty"`
	Socket           string            `yaml:"socket,omitempty"`
	Charset          string            `yaml:"charset,omitempty"`
	ConnectTimeout   int               `yaml:"connect_timeout"` // seconds
	Params           map[string]string `yaml:"params,omitempty"`
	Profiler         bool              `yaml:"profiler"`
}

// DebugConfig controls SQL output
type DebugConfig struct {
	Level string `yaml:"level"` // off, sql or trace
	Color bool   `yaml:"color"`
}

// Loader reads and writes the configuration of one work dir
type Loader struct {
	fs       afero.Fs
	workDir  string
	filePath string
}

// NewLoader returns a loader for workDir on the OS filesystem
func NewLoader(workDir string) *Loader {
	return NewLoaderFs(afero.NewOsFs(), workDir)
}

// NewLoaderFs returns a loader for workDir on fs
func NewLoaderFs(fs afero.Fs, workDir string) *Loader {
	return &Loader{
		fs:       fs,
		workDir:  workDir,
		filePath: filepath.Join(workDir, FileName),
	}
}

// Path returns the configuration file path
func (l *Loader) Path() string {
	return l.filePath
}

// Exists reports whether the configuration file is present
func (l *Loader) Exists() bool {
	ok, err := afero.Exists(l.fs, l.filePath)
	return err == nil && ok
}

// Load reads the configuration file. .env and .env.local in the work dir
// are loaded into the environment first, then ${VAR} references in the
// file are expanded. DATABASE_URL overrides the connection string.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadEnv(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(l.fs, l.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", l.filePath)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := base()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", l.filePath, err)
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", l.filePath, err)
	}
	return cfg, nil
}

// LoadOrDefault loads the configuration file, or returns the defaults when
// it does not exist
func (l *Loader) LoadOrDefault() (*Config, error) {
	if !l.Exists() {
		if err := l.loadEnv(); err != nil {
			return nil, err
		}
		cfg := Defaults()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return l.Load()
}

// Save writes cfg to the configuration file
func (l *Loader) Save(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := l.fs.MkdirAll(l.workDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", l.workDir, err)
	}
	if err := afero.WriteFile(l.fs, l.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// WriteTemplate writes the commented template to the configuration file
func (l *Loader) WriteTemplate() error {
	if err := l.fs.MkdirAll(l.workDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", l.workDir, err)
	}
	return afero.WriteFile(l.fs, l.filePath, []byte(Template()), 0644)
}

// loadEnv loads .env without overriding the environment, then .env.local
// overriding it
func (l *Loader) loadEnv() error {
	for _, name := range []string{".env", ".env.local"} {
		path := filepath.Join(l.workDir, name)
		data, err := afero.ReadFile(l.fs, path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		vars, err := godotenv.Unmarshal(string(data))
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		override := name == ".env.local"
		for key, value := range vars {
			if _, set := os.LookupEnv(key); set && !override {
				continue
			}
			os.Setenv(key, value)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.ConnectionString = url
	}
}

// Validate checks the driver and debug level
func (c *Config) Validate() error {
	switch engine.NormalizeDriver(c.Database.Driver) {
	case engine.DriverPostgres, engine.DriverMySQL, engine.DriverPQ:
	default:
		return fmt.Errorf("unsupported driver %q", c.Database.Driver)
	}
	if _, err := engine.ParseDebugLevel(c.Debug.Level); err != nil {
		return err
	}
	return nil
}

// DebugLevel returns the parsed debug level (off when invalid)
func (c *Config) DebugLevel() engine.DebugLevel {
	level, _ := engine.ParseDebugLevel(c.Debug.Level)
	return level
}

// ConnectorConfig converts the database section to engine settings
func (c *Config) ConnectorConfig() (engine.ConnectorConfig, error) {
	db := c.Database

	if db.ConnectionString != "" {
		config, err := engine.ParseConnectionString(db.ConnectionString)
		if err != nil {
			return engine.ConnectorConfig{}, err
		}
		if db.Driver != "" && engine.NormalizeDriver(db.Driver) == engine.DriverPQ && config.Driver == engine.DriverPostgres {
			config.Driver = engine.DriverPQ
		}
		if config.ConnectTimeout == 0 && db.ConnectTimeout > 0 {
			config.ConnectTimeout = time.Duration(db.ConnectTimeout) * time.Second
		}
		config.Profiler = config.Profiler || db.Profiler
		return config, nil
	}

	config := engine.DefaultConfig()
	config.Driver = engine.NormalizeDriver(db.Driver)
	config.Port = engine.DefaultPort(config.Driver)
	if config.Driver == engine.DriverMySQL {
		config.User = "root"
	}

	if db.Host != "" {
		config.Host = db.Host
	}
	if db.Port != 0 {
		config.Port = db.Port
	}
	if db.Database != "" {
		config.Database = db.Database
	}
	if db.User != "" {
		config.User = db.User
	}
	config.Password = db.Password
	config.Socket = db.Socket
	config.Charset = db.Charset
	if db.ConnectTimeout > 0 {
		config.ConnectTimeout = time.Duration(db.ConnectTimeout) * time.Second
	}
	config.Params = db.Params
	config.Profiler = db.Profiler
	return config, nil
}

// base holds the values a file does not have to repeat; connection
// fields left out are filled per driver by ConnectorConfig
func base() *Config {
	return &Config{
		Version: Version,
		Database: DatabaseConfig{
			Driver:         engine.DriverPostgres,
			ConnectTimeout: 10,
		},
		Debug: DebugConfig{
			Level: "off",
			Color: true,
		},
	}
}

// Defaults returns the configuration used when no file exists
func Defaults() *Config {
	return &Config{
		Version: Version,
		Database: DatabaseConfig{
			Driver:         engine.DriverPostgres,
			Host:           "localhost",
			Port:           5432,
			Database:       "msm",
			User:           "postgres",
			ConnectTimeout: 10,
		},
		Debug: DebugConfig{
			Level: "off",
			Color: true,
		},
	}
}

// Template returns a commented .msm.yml
func Template() string {
	return `# MSM Configuration
version: "` + Version + `"

database:
  # postgres (pgx), mysql, or pq (PostgreSQL through database/sql)
  driver: "postgres"

  # A URL wins over the fields below. ${VAR} references are expanded,
  # and DATABASE_URL in the environment overrides this value.
  # connection_string: "${DATABASE_URL}"

  host: "localhost"
  port: 5432
  database: "msm"
  user: "postgres"
  password: "${MSM_DB_PASSWORD}"
  # socket: "/var/run/mysqld/mysqld.sock"
  # charset: "utf8mb4"
  connect_timeout: 10

  # Extra driver options, e.g. sslmode for PostgreSQL
  # params:
  #   sslmode: "require"

  # Record timings of every statement sent through a connection
  profiler: false

debug:
  # off, sql or trace
  level: "off"
  color: true
`
}
