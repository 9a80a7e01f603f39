package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/shen2/MSM/internal/config"
	"github.com/shen2/MSM/pkg/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and database connectivity",
	Long:  `Display the effective connection settings and ping the database.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	conn, cfg, err := openConnection(cmd)
	if err != nil {
		return err
	}
	defer closeConnection(cmd, conn)

	printTitle(out, "MSM Status")
	fmt.Fprintln(out)

	showConfiguration(out, cfg, conn.Config())
	fmt.Fprintln(out)

	return showConnectivity(cmd, out, conn)
}

func showConfiguration(w io.Writer, cfg *config.Config, connector engine.ConnectorConfig) {
	fmt.Fprintln(w, "Configuration:")

	source := config.FileName
	if !config.NewLoader(workDir()).Exists() {
		source = "built-in defaults"
	}
	if cfg.Database.ConnectionString != "" {
		source += " (connection URL)"
	}

	printField(w, "Source", source)
	printField(w, "Driver", connector.Driver)
	printField(w, "Address", connector.Address())
	printField(w, "Database", connector.Database)
	printField(w, "User", connector.User)
	if connector.Charset != "" {
		printField(w, "Charset", connector.Charset)
	}
	printField(w, "Profiler", connector.Profiler)
	printField(w, "Debug", cfg.DebugLevel())
}

func showConnectivity(cmd *cobra.Command, w io.Writer, conn *engine.Connection) error {
	fmt.Fprintln(w, "Database:")

	ctx, cancel := commandContext(cmd)
	defer cancel()

	start := time.Now()
	if err := conn.EnsureConnected(ctx); err != nil {
		printField(w, "Status", render(errorStyle, "✗ unreachable"))
		printField(w, "Error", err)
		return fmt.Errorf("database is not reachable")
	}
	printField(w, "Status", render(successStyle, "✓ connected"))
	printField(w, "Connect time", time.Since(start).Round(time.Millisecond))

	rs, err := conn.Query(ctx, "SELECT VERSION() AS version")
	if err != nil {
		printField(w, "Server", fmt.Sprintf("unknown (%v)", err))
		return nil
	}
	if row := rs.First(); row != nil {
		printField(w, "Server", row.String("version"))
	}
	return nil
}
