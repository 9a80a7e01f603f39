package engine

import (
	"strings"
	"time"
)

// QueryKind classifies profiled operations. Kinds are bit flags so a
// filter can select several of them at once.
type QueryKind int

const (
	KindConnect     QueryKind = 1
	KindQuery       QueryKind = 2
	KindInsert      QueryKind = 4
	KindUpdate      QueryKind = 8
	KindDelete      QueryKind = 16
	KindSelect      QueryKind = 32
	KindTransaction QueryKind = 64

	// KindAny matches every kind in filters and totals
	KindAny QueryKind = 0
)

func (k QueryKind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindQuery:
		return "query"
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindSelect:
		return "select"
	case KindTransaction:
		return "transaction"
	default:
		return "any"
	}
}

// StripLeadingComments drops whitespace and any "--", "#" or "/* */"
// comments ahead of the first keyword. An unterminated block comment
// leaves nothing.
func StripLeadingComments(sql string) string {
	for {
		sql = strings.TrimLeft(sql, " \t\r\n")
		switch {
		case strings.HasPrefix(sql, "--"), strings.HasPrefix(sql, "#"):
			i := strings.IndexByte(sql, '\n')
			if i < 0 {
				return ""
			}
			sql = sql[i+1:]
		case strings.HasPrefix(sql, "/*"):
			i := strings.Index(sql[2:], "*/")
			if i < 0 {
				return ""
			}
			sql = sql[i+4:]
		default:
			return sql
		}
	}
}

// InferQueryKind derives the kind of a statement from its leading keyword
func InferQueryKind(sql string) QueryKind {
	trimmed := strings.TrimLeft(StripLeadingComments(sql), " \t\r\n(")
	end := strings.IndexAny(trimmed, " \t\r\n(;")
	if end < 0 {
		end = len(trimmed)
	}

	switch strings.ToLower(trimmed[:end]) {
	case "insert", "replace":
		return KindInsert
	case "update":
		return KindUpdate
	case "delete":
		return KindDelete
	case "select", "with", "show", "describe", "explain":
		return KindSelect
	case "begin", "start", "commit", "rollback", "savepoint", "release":
		return KindTransaction
	default:
		return KindQuery
	}
}

// ProfileHandle identifies one started profile
type ProfileHandle int

// NoProfile is returned by profilers that did not record a query
const NoProfile ProfileHandle = -1

// Profiler is notified around every wire operation of a Connection
type Profiler interface {
	QueryStart(label string, kind QueryKind) ProfileHandle
	QueryEnd(h ProfileHandle)
}

// ParamRecorder is implemented by profilers that keep bound parameters
type ParamRecorder interface {
	BindParams(h ProfileHandle, params []interface{})
}

// ============================================================
// QUERY PROFILER
// ============================================================

// QueryProfile is the timing record of a single operation
type QueryProfile struct {
	Query     string
	Kind      QueryKind
	Params    []interface{}
	StartedAt time.Time
	EndedAt   time.Time
}

// HasEnded reports whether QueryEnd was called for the profile
func (qp *QueryProfile) HasEnded() bool {
	return !qp.EndedAt.IsZero()
}

// Elapsed returns the duration of the operation, or zero while it runs
func (qp *QueryProfile) Elapsed() time.Duration {
	if !qp.HasEnded() {
		return 0
	}
	return qp.EndedAt.Sub(qp.StartedAt)
}

// QueryProfiler keeps QueryProfiles in memory
type QueryProfiler struct {
	enabled       bool
	filterElapsed time.Duration
	filterKinds   QueryKind
	profiles      []*QueryProfile

	now func() time.Time
}

// NewQueryProfiler returns an enabled profiler without filters
func NewQueryProfiler() *QueryProfiler {
	return &QueryProfiler{enabled: true, now: time.Now}
}

// SetEnabled turns recording on or off
func (p *QueryProfiler) SetEnabled(enabled bool) *QueryProfiler {
	p.enabled = enabled
	return p
}

// Enabled reports whether the profiler records queries
func (p *QueryProfiler) Enabled() bool {
	return p.enabled
}

// SetFilterElapsed discards profiles faster than min when they end.
// A zero duration disables the filter.
func (p *QueryProfiler) SetFilterElapsed(min time.Duration) *QueryProfiler {
	p.filterElapsed = min
	return p
}

// SetFilterKinds keeps only profiles whose kind is in kinds.
// KindAny disables the filter.
func (p *QueryProfiler) SetFilterKinds(kinds QueryKind) *QueryProfiler {
	p.filterKinds = kinds
	return p
}

// QueryStart implements Profiler
func (p *QueryProfiler) QueryStart(label string, kind QueryKind) ProfileHandle {
	if !p.enabled {
		return NoProfile
	}
	if kind == KindAny {
		kind = InferQueryKind(label)
	}

	p.profiles = append(p.profiles, &QueryProfile{
		Query:     label,
		Kind:      kind,
		StartedAt: p.now(),
	})
	return ProfileHandle(len(p.profiles) - 1)
}

// QueryEnd implements Profiler. Filters are applied here; a filtered
// profile is dropped and its handle becomes invalid.
func (p *QueryProfiler) QueryEnd(h ProfileHandle) {
	qp, ok := p.Profile(h)
	if !ok || qp.HasEnded() {
		return
	}

	qp.EndedAt = p.now()

	if p.filterElapsed > 0 && qp.Elapsed() < p.filterElapsed {
		p.profiles[h] = nil
		return
	}
	if p.filterKinds != KindAny && qp.Kind&p.filterKinds == 0 {
		p.profiles[h] = nil
	}
}

// BindParams implements ParamRecorder
func (p *QueryProfiler) BindParams(h ProfileHandle, params []interface{}) {
	if qp, ok := p.Profile(h); ok {
		qp.Params = append([]interface{}(nil), params...)
	}
}

// Profile returns the profile for a handle
func (p *QueryProfiler) Profile(h ProfileHandle) (*QueryProfile, bool) {
	if h < 0 || int(h) >= len(p.profiles) || p.profiles[h] == nil {
		return nil, false
	}
	return p.profiles[h], true
}

// Profiles returns recorded profiles matching kind, in start order
func (p *QueryProfiler) Profiles(kind QueryKind, includeUnfinished bool) []*QueryProfile {
	var out []*QueryProfile
	for _, qp := range p.profiles {
		if qp == nil {
			continue
		}
		if kind != KindAny && qp.Kind&kind == 0 {
			continue
		}
		if !includeUnfinished && !qp.HasEnded() {
			continue
		}
		out = append(out, qp)
	}
	return out
}

// TotalElapsed sums the elapsed time of finished profiles matching kind
func (p *QueryProfiler) TotalElapsed(kind QueryKind) time.Duration {
	var total time.Duration
	for _, qp := range p.Profiles(kind, false) {
		total += qp.Elapsed()
	}
	return total
}

// TotalQueries counts finished profiles matching kind
func (p *QueryProfiler) TotalQueries(kind QueryKind) int {
	return len(p.Profiles(kind, false))
}

// LastProfile returns the most recently started profile
func (p *QueryProfiler) LastProfile() *QueryProfile {
	for i := len(p.profiles) - 1; i >= 0; i-- {
		if p.profiles[i] != nil {
			return p.profiles[i]
		}
	}
	return nil
}

// Clear discards every profile
func (p *QueryProfiler) Clear() {
	p.profiles = nil
}
