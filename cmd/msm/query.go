package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shen2/MSM/pkg/engine"
)

var queryBinds []string

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run one statement directly",
	Long: `Run one statement directly and print its result.

With --bind the statement is prepared and each value is bound in order.
Integers and decimals are bound as numbers, "null" as NULL, anything else
as a string.

Examples:
  msm query "SELECT * FROM users"
  msm query "SELECT * FROM users WHERE id = $1" --bind 7
  msm query "UPDATE users SET name = ? WHERE id = ?" -b Ana -b 7`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringArrayVarP(&queryBinds, "bind", "b", nil, "bind a parameter (repeatable)")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	conn, _, err := openConnection(cmd)
	if err != nil {
		return err
	}
	defer closeConnection(cmd, conn)

	ctx, cancel := commandContext(cmd)
	defer cancel()

	var rs *engine.ResultSet
	if len(queryBinds) > 0 {
		params := make([]interface{}, len(queryBinds))
		for i, raw := range queryBinds {
			params[i] = parseBindValue(raw)
		}
		rs, err = conn.QueryBind(ctx, args[0], params...)
	} else {
		rs, err = conn.Query(ctx, args[0])
	}
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	printResultSet(cmd.OutOrStdout(), rs)
	return nil
}

// parseBindValue converts a command-line value to the Go type it is bound as
func parseBindValue(raw string) interface{} {
	if strings.EqualFold(raw, "null") {
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && strings.ContainsAny(raw, ".eE") {
		return f
	}
	return raw
}
