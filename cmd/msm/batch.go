package main

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/shen2/MSM/pkg/engine"
)

var (
	batchFile    string
	batchProfile bool

	scriptFs = afero.NewOsFs()
)

var batchCmd = &cobra.Command{
	Use:   "batch [sql...]",
	Short: "Run statements as one pipelined batch",
	Long: `Queue every statement, then read the results in order.

The first result request sends all queued statements in a single
multi-statement round trip; the remaining results are read from the same
response. Statements come from the arguments or from a script file split
on semicolons.

Examples:
  msm batch "SELECT 1" "SELECT 2" "SELECT 3"
  msm batch --file seed.sql --profile`,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&batchFile, "file", "f", "", "read statements from a SQL script")
	batchCmd.Flags().BoolVar(&batchProfile, "profile", false, "print profiler totals")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	statements, err := batchStatements(args)
	if err != nil {
		return err
	}
	if len(statements) == 0 {
		return fmt.Errorf("no statements given (pass SQL arguments or --file)")
	}

	conn, _, err := openConnection(cmd)
	if err != nil {
		return err
	}
	defer closeConnection(cmd, conn)

	var profiler *engine.QueryProfiler
	if batchProfile {
		// reuse the profiler attached by "profiler: true"
		if attached, ok := conn.Profiler().(*engine.QueryProfiler); ok && attached != nil {
			profiler = attached
		} else {
			profiler = engine.NewQueryProfiler()
			conn.SetProfiler(profiler)
		}
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	queued := make([]*engine.Statement, len(statements))
	for i, sql := range statements {
		queued[i] = conn.Enqueue(sql)
	}

	failed := 0
	for i, stmt := range queued {
		fmt.Fprintf(out, "%s %s\n", render(titleStyle, fmt.Sprintf("[%d/%d]", i+1, len(queued))), stmt.SQL())

		rs, err := stmt.Result(ctx)
		if err != nil {
			failed++
			printError(out, "%v", err)
			if verbose {
				fmt.Fprintln(out, engine.FormatError(err))
			}
			continue
		}
		printResultSet(out, rs)
	}

	if profiler != nil {
		fmt.Fprintln(out)
		printTitle(out, "Profile")
		printProfiles(out, profiler)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d statement(s) failed", failed, len(queued))
	}
	printSuccess(out, "%d statement(s) executed", len(queued))
	return nil
}

func batchStatements(args []string) ([]string, error) {
	var statements []string
	for _, arg := range args {
		statements = append(statements, splitStatements(arg)...)
	}

	if batchFile != "" {
		data, err := afero.ReadFile(scriptFs, batchFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", batchFile, err)
		}
		statements = append(statements, splitStatements(string(data))...)
	}
	return statements, nil
}

// splitStatements splits a script on semicolons that are not inside
// quotes. Comments are dropped and empty statements skipped.
func splitStatements(script string) []string {
	var (
		statements []string
		current    strings.Builder
		quote      byte
	)

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			statements = append(statements, s)
		}
		current.Reset()
	}

	for i := 0; i < len(script); i++ {
		c := script[i]

		if quote != 0 {
			current.WriteByte(c)
			switch {
			case c == '\\' && quote != '`' && i+1 < len(script):
				i++
				current.WriteByte(script[i])
			case c == quote && i+1 < len(script) && script[i+1] == quote:
				i++
				current.WriteByte(script[i])
			case c == quote:
				quote = 0
			}
			continue
		}

		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			current.WriteByte(c)
		case c == '-' && strings.HasPrefix(script[i:], "--"), c == '#':
			for i < len(script) && script[i] != '\n' {
				i++
			}
			current.WriteByte('\n')
		case c == '/' && strings.HasPrefix(script[i:], "/*"):
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				i = len(script)
			} else {
				i += end + 3
			}
			current.WriteByte(' ')
		case c == ';':
			flush()
		default:
			current.WriteByte(c)
		}
	}
	flush()

	return statements
}
