package main

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shen2/MSM/pkg/engine"
	"github.com/shen2/MSM/pkg/engine/enginetest"
)

// runCLI executes the root command with args in an empty work dir unless
// args name another one. Flag values are reset before and after the run.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")

	oldNoColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = oldNoColor })

	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--workdir", t.TempDir()}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// useFake routes every connection the commands open to transport
func useFake(t *testing.T, transport *enginetest.Transport) {
	t.Helper()
	old := newConnection
	newConnection = func(config engine.ConnectorConfig) (*engine.Connection, error) {
		return engine.NewConnection(transport, config), nil
	}
	t.Cleanup(func() { newConnection = old })
}
