package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/pterm/pterm"

	"github.com/shen2/MSM/pkg/engine"
)

var (
	successColor   = lipgloss.Color("#00FF88")
	warningColor   = lipgloss.Color("#FFB800")
	errorColor     = lipgloss.Color("#FF4444")
	infoColor      = lipgloss.Color("#00D9FF")
	secondaryColor = lipgloss.Color("#6C757D")

	titleStyle     = lipgloss.NewStyle().Foreground(infoColor).Bold(true)
	successStyle   = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	warningStyle   = lipgloss.NewStyle().Foreground(warningColor).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	infoStyle      = lipgloss.NewStyle().Foreground(infoColor)
	secondaryStyle = lipgloss.NewStyle().Foreground(secondaryColor)

	labelColor = color.New(color.FgHiBlack)
)

func render(style lipgloss.Style, s string) string {
	if color.NoColor {
		return s
	}
	return style.Render(s)
}

func printTitle(w io.Writer, title string) {
	fmt.Fprintln(w, render(titleStyle, title))
	fmt.Fprintln(w, render(secondaryStyle, "────────────────────────────────────────────"))
}

func printSuccess(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, render(successStyle, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, render(errorStyle, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, render(warningStyle, "⚠ "+fmt.Sprintf(format, args...)))
}

func printInfo(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, render(infoStyle, "ℹ "+fmt.Sprintf(format, args...)))
}

// printField writes an aligned "  Label:  value" line
func printField(w io.Writer, label string, value interface{}) {
	fmt.Fprintf(w, "  %s %v\n", labelColor.Sprintf("%-16s", label+":"), value)
}

// printResultSet renders rows as a table, or the affected row count for
// statements without columns
func printResultSet(w io.Writer, rs *engine.ResultSet) {
	if rs == nil {
		rs = &engine.ResultSet{}
	}
	if len(rs.Columns) == 0 {
		msg := fmt.Sprintf("%d row(s) affected", rs.RowsAffected)
		if rs.LastInsertID != 0 {
			msg += fmt.Sprintf(", last insert id %d", rs.LastInsertID)
		}
		fmt.Fprintln(w, render(secondaryStyle, msg))
		return
	}

	data := pterm.TableData{rs.Columns}
	for _, row := range rs.Rows {
		line := make([]string, len(rs.Columns))
		for i, col := range rs.Columns {
			line[i] = formatValue(row[col])
		}
		data = append(data, line)
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		fmt.Fprintf(w, "%v\n", data)
		return
	}
	fmt.Fprintln(w, table)
	fmt.Fprintln(w, render(secondaryStyle, fmt.Sprintf("(%d row(s))", rs.Count())))
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}

var profileKinds = []engine.QueryKind{
	engine.KindConnect, engine.KindQuery, engine.KindInsert, engine.KindUpdate,
	engine.KindDelete, engine.KindSelect, engine.KindTransaction,
}

// printProfiles writes per-kind totals of a QueryProfiler
func printProfiles(w io.Writer, p *engine.QueryProfiler) {
	data := pterm.TableData{{"kind", "count", "elapsed"}}
	for _, kind := range profileKinds {
		if p.TotalQueries(kind) == 0 {
			continue
		}
		data = append(data, []string{
			kind.String(),
			fmt.Sprintf("%d", p.TotalQueries(kind)),
			p.TotalElapsed(kind).String(),
		})
	}
	data = append(data, []string{
		"total",
		fmt.Sprintf("%d", p.TotalQueries(engine.KindAny)),
		p.TotalElapsed(engine.KindAny).String(),
	})

	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		fmt.Fprintf(w, "%v\n", data)
		return
	}
	fmt.Fprintln(w, table)
}
