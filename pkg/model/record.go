// Package model provides dirty-tracking records and a table-backed row
// type that persists them through an engine.Connection.
package model

import (
	"context"
	"sort"
)

// State is the persistence state of a Record
type State int

const (
	// Unsaved rows have never been persisted; Save inserts them
	Unsaved State = iota
	// SavedClean rows are persisted and unchanged since the last save
	SavedClean
	// SavedDirty rows are persisted with at least one pending change
	SavedDirty
)

func (s State) String() string {
	switch s {
	case SavedClean:
		return "saved-clean"
	case SavedDirty:
		return "saved-dirty"
	default:
		return "unsaved"
	}
}

// Persister supplies the storage operations of a Record
type Persister interface {
	DoInsert(ctx context.Context, r *Record) (interface{}, error)
	DoUpdate(ctx context.Context, r *Record) (interface{}, error)
	DoDelete(ctx context.Context, r *Record) (interface{}, error)
}

// Refresher is implemented by persisters that can read a stored row back
type Refresher interface {
	Refresh(ctx context.Context, r *Record) (map[string]interface{}, error)
}

// Record is a field map with change tracking.
//
// diff is nil while the row is unsaved, empty when it is stored and
// unchanged, and holds every field assigned since the last save otherwise.
type Record struct {
	data      map[string]interface{}
	diff      map[string]interface{}
	readOnly  bool
	persister Persister
	plugins   []Plugin
}

// NewRecord wraps data. stored marks a row that already exists in the
// database (SavedClean); otherwise the row is Unsaved.
func NewRecord(p Persister, data map[string]interface{}, stored, readOnly bool) *Record {
	r := &Record{
		data:      make(map[string]interface{}, len(data)),
		persister: p,
		readOnly:  readOnly,
	}
	for k, v := range data {
		r.data[k] = v
	}
	if stored {
		r.diff = map[string]interface{}{}
	}
	return r
}

// Use appends plugins run around Save
func (r *Record) Use(plugins ...Plugin) *Record {
	r.plugins = append(r.plugins, plugins...)
	return r
}

// ============================================================
// FIELDS
// ============================================================

// Get returns a field value, or nil
func (r *Record) Get(name string) interface{} {
	return r.data[name]
}

// Has reports whether the field is present
func (r *Record) Has(name string) bool {
	_, ok := r.data[name]
	return ok
}

// Set assigns a field. On a stored row the assignment is also recorded in
// the diff, replacing an earlier pending value for the same field.
func (r *Record) Set(name string, value interface{}) {
	if r.diff != nil {
		r.diff[name] = value
	}
	r.data[name] = value
}

// SetFromMap assigns every entry through Set, in key order. Fields are not
// checked against any column list.
func (r *Record) SetFromMap(values map[string]interface{}) *Record {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		r.Set(k, values[k])
	}
	return r
}

// Hydrate stores values read from the database without tracking them
func (r *Record) Hydrate(values map[string]interface{}) {
	for k, v := range values {
		r.data[k] = v
	}
}

// Data returns a copy of the field map
func (r *Record) Data() map[string]interface{} {
	out := make(map[string]interface{}, len(r.data))
	for k, v := range r.data {
		out[k] = v
	}
	return out
}

// Fields returns the field names in order
func (r *Record) Fields() []string {
	fields := make([]string, 0, len(r.data))
	for k := range r.data {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// Diff returns a copy of the pending changes, or nil for an unsaved row
func (r *Record) Diff() map[string]interface{} {
	if r.diff == nil {
		return nil
	}
	out := make(map[string]interface{}, len(r.diff))
	for k, v := range r.diff {
		out[k] = v
	}
	return out
}

// ============================================================
// STATE
// ============================================================

// State returns the persistence state
func (r *Record) State() State {
	switch {
	case r.diff == nil:
		return Unsaved
	case len(r.diff) == 0:
		return SavedClean
	default:
		return SavedDirty
	}
}

// IsModified reports whether Save has anything to write: the row is
// unsaved or has pending changes
func (r *Record) IsModified() bool {
	return r.State() != SavedClean
}

// IsStored reports whether the row has been persisted
func (r *Record) IsStored() bool {
	return r.diff != nil
}

// IsReadOnly reports whether Save and Remove are blocked
func (r *Record) IsReadOnly() bool {
	return r.readOnly
}

// SetReadOnly blocks or unblocks Save and Remove
func (r *Record) SetReadOnly(readOnly bool) {
	r.readOnly = readOnly
}

// ============================================================
// PERSISTENCE
// ============================================================

// Save inserts an unsaved row or updates a dirty one and returns the
// hook's result. On success the row is SavedClean. When the hook fails the
// row keeps its previous state.
func (r *Record) Save(ctx context.Context) (interface{}, error) {
	if r.readOnly {
		return nil, &RecordStateError{Op: "save", Err: ErrReadOnly}
	}
	if r.State() == SavedClean {
		return nil, &RecordStateError{Op: "save", Err: ErrNotModified}
	}

	for _, p := range r.plugins {
		if err := p.BeforeSave(ctx, r); err != nil {
			return nil, err
		}
	}

	var result interface{}
	var err error
	if r.diff == nil {
		result, err = r.persister.DoInsert(ctx, r)
	} else {
		result, err = r.persister.DoUpdate(ctx, r)
	}
	if err != nil {
		return nil, err
	}
	r.diff = map[string]interface{}{}

	for _, p := range r.plugins {
		if err := p.AfterSave(ctx, r, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Remove deletes the row and returns the hook's result. The record's
// state is left as is; callers drop the reference afterwards.
func (r *Record) Remove(ctx context.Context) (interface{}, error) {
	if r.readOnly {
		return nil, &RecordStateError{Op: "remove", Err: ErrReadOnly}
	}
	return r.persister.DoDelete(ctx, r)
}

// Refresh re-reads a stored row and discards pending changes
func (r *Record) Refresh(ctx context.Context) error {
	if r.diff == nil {
		return &RecordStateError{Op: "refresh", Err: ErrNotStored}
	}
	refresher, ok := r.persister.(Refresher)
	if !ok {
		return &RecordStateError{Op: "refresh", Err: ErrRefreshUnsupported}
	}

	values, err := refresher.Refresh(ctx, r)
	if err != nil {
		return err
	}
	r.Hydrate(values)
	r.diff = map[string]interface{}{}
	return nil
}
