package engine

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

// DebugLevel controls how much the engine writes about the SQL it sends
type DebugLevel int

const (
	// DebugOff writes nothing
	DebugOff DebugLevel = iota
	// DebugSQL writes every batch payload and direct query
	DebugSQL
	// DebugTrace additionally writes timings and per-statement fetches
	DebugTrace
)

func (l DebugLevel) String() string {
	switch l {
	case DebugSQL:
		return "sql"
	case DebugTrace:
		return "trace"
	default:
		return "off"
	}
}

// ParseDebugLevel converts "off", "sql" or "trace" to a DebugLevel
func ParseDebugLevel(s string) (DebugLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "none":
		return DebugOff, nil
	case "sql":
		return DebugSQL, nil
	case "trace":
		return DebugTrace, nil
	default:
		return DebugOff, fmt.Errorf("unknown debug level %q (expected off, sql or trace)", s)
	}
}

// DebugContext holds debug output settings
type DebugContext struct {
	Level       DebugLevel
	Writer      io.Writer
	ColorOutput bool
}

// DefaultDebugContext returns a silent context writing to stdout
func DefaultDebugContext() *DebugContext {
	return &DebugContext{
		Level:       DebugOff,
		Writer:      os.Stdout,
		ColorOutput: true,
	}
}

// Enabled reports whether output at level is written
func (d *DebugContext) Enabled(level DebugLevel) bool {
	return d != nil && level != DebugOff && d.Level >= level
}

var tagColors = map[string]*color.Color{
	"SQL":    color.New(color.FgCyan, color.Bold),
	"BATCH":  color.New(color.FgMagenta, color.Bold),
	"FETCH":  color.New(color.FgBlue),
	"VALUES": color.New(color.FgYellow),
	"TRACE":  color.New(color.FgHiBlack),
	"ERROR":  color.New(color.FgRed, color.Bold),
}

// Log writes one tagged line when level is enabled
func (d *DebugContext) Log(level DebugLevel, tag string, format string, args ...interface{}) {
	if !d.Enabled(level) {
		return
	}

	w := d.Writer
	if w == nil {
		w = os.Stdout
	}

	label := "[" + tag + "]"
	if c, ok := tagColors[tag]; ok && d.ColorOutput {
		label = c.Sprint(label)
	}
	fmt.Fprintf(w, "%s %s\n", label, fmt.Sprintf(format, args...))
}

// Elapsed writes a [TRACE] line with the time spent since start
func (d *DebugContext) Elapsed(what string, start time.Time) {
	if !d.Enabled(DebugTrace) {
		return
	}
	d.Log(DebugTrace, "TRACE", "%s: %v", what, time.Since(start))
}
