package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shen2/MSM/internal/config"
	"github.com/shen2/MSM/pkg/connect"
	"github.com/shen2/MSM/pkg/engine"
)

var (
	verbose bool

	// newConnection builds the connection used by query, batch and status
	newConnection = connect.Open
)

var rootCmd = &cobra.Command{
	Use:   "msm",
	Short: "Pipelined SQL connections for PostgreSQL and MySQL",
	Long: `msm runs SQL through a connection that coalesces queued statements
into a single multi-statement round trip.

Configuration is read from .msm.yml in the work dir, then MSM_* environment
variables and flags.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("workdir", ".", "directory holding .msm.yml")
	flags.String("dsn", "", "connection URL (overrides the config file)")
	flags.String("debug", "", "SQL debug output: off, sql or trace")
	flags.Duration("timeout", 30*time.Second, "timeout of each command")
	flags.Bool("no-color", false, "disable colored output")

	for _, name := range []string{"workdir", "dsn", "debug", "timeout", "no-color"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

// initConfig binds MSM_* environment variables, e.g. MSM_DSN or MSM_NO_COLOR
func initConfig(cmd *cobra.Command, args []string) error {
	viper.SetEnvPrefix("MSM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if viper.GetBool("no-color") {
		color.NoColor = true
		pterm.DisableStyling()
	}
	return nil
}

// loadConfig reads .msm.yml from the work dir, falling back to defaults.
// --dsn and --debug override the file.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader(workDir())
	cfg, err := loader.LoadOrDefault()
	if err != nil {
		return nil, err
	}

	if dsn := viper.GetString("dsn"); dsn != "" {
		cfg.Database.ConnectionString = dsn
	}
	if level := viper.GetString("debug"); level != "" {
		if _, err := engine.ParseDebugLevel(level); err != nil {
			return nil, err
		}
		cfg.Debug.Level = level
	}
	return cfg, nil
}

// openConnection loads the configuration and returns a connection that
// has not dialed yet
func openConnection(cmd *cobra.Command) (*engine.Connection, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	connector, err := cfg.ConnectorConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	conn, err := newConnection(connector)
	if err != nil {
		return nil, nil, err
	}

	conn.WithDebug(cfg.DebugLevel())
	conn.Debug.Writer = cmd.OutOrStdout()
	conn.Debug.ColorOutput = cfg.Debug.Color && !color.NoColor
	return conn, cfg, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout := viper.GetDuration("timeout"); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func closeConnection(cmd *cobra.Command, conn *engine.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Close(ctx); err != nil && verbose {
		printWarning(cmd.ErrOrStderr(), "closing connection: %v", err)
	}
}

func workDir() string {
	if dir := viper.GetString("workdir"); dir != "" {
		return dir
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}
