package model

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/shen2/MSM/pkg/engine"
	"github.com/shen2/MSM/pkg/engine/mutation"
)

// Sequence selects how new primary key values are produced
type Sequence int

const (
	// SequenceAuto lets the database generate the identity column
	SequenceAuto Sequence = iota
	// SequenceNone requires callers to provide the key
	SequenceNone
	// SequenceUUID generates a random UUID client-side
	SequenceUUID
)

// TableConfig describes a table-backed entity
type TableConfig struct {
	// Entity is the registry key, e.g. "OrderItem"; it defaults to the
	// singular PascalCase of Name
	Entity string
	// Name defaults to the snake_case plural of Entity
	Name   string
	Schema string

	// Primary lists the key columns (default ["id"]); Identity is the
	// position in Primary of the generated column
	Primary  []string
	Identity int
	Sequence Sequence

	// Defaults are copied into every row made by CreateRow
	Defaults map[string]interface{}

	// RefreshOnSave re-reads the row after each save so values set by the
	// database (defaults, triggers) are visible
	RefreshOnSave bool

	// IdentityMap makes Find return the same *Row for the same key
	IdentityMap bool

	Plugins []Plugin
}

// Table creates and finds rows of one table
type Table struct {
	conn       *engine.Connection
	config     TableConfig
	plugins    []Plugin
	identities *IdentityMap
}

// NewTable binds config to conn
func NewTable(conn *engine.Connection, config TableConfig) (*Table, error) {
	if config.Name == "" {
		if config.Entity == "" {
			return nil, fmt.Errorf("table config needs a Name or an Entity")
		}
		config.Name = mutation.TableName(config.Entity)
	}
	if config.Entity == "" {
		config.Entity = mutation.EntityName(config.Name)
	}
	if len(config.Primary) == 0 {
		config.Primary = []string{"id"}
	}
	if config.Identity < 0 || config.Identity >= len(config.Primary) {
		return nil, fmt.Errorf("identity %d is out of range for primary key %v", config.Identity, config.Primary)
	}

	t := &Table{
		conn:    conn,
		config:  config,
		plugins: append([]Plugin(nil), config.Plugins...),
	}
	if config.IdentityMap {
		t.identities = NewIdentityMap()
	}
	return t, nil
}

// Name returns the table name, qualified by its schema when one is set
func (t *Table) Name() string {
	if t.config.Schema == "" {
		return t.config.Name
	}
	return t.config.Schema + "." + t.config.Name
}

func (t *Table) Config() TableConfig {
	return t.config
}

func (t *Table) Conn() *engine.Connection {
	return t.conn
}

// RegisterPlugin adds a plugin to rows created after the call
func (t *Table) RegisterPlugin(p Plugin) {
	t.plugins = append(t.plugins, p)
}

func (t *Table) identityColumn() string {
	return t.config.Primary[t.config.Identity]
}

// CreateRow returns an unsaved row holding the table defaults overlaid
// with data
func (t *Table) CreateRow(data map[string]interface{}) *Row {
	row := t.newRow(t.config.Defaults, false, false)
	row.SetFromMap(data)
	return row
}

// Wrap returns a row for data that is already stored
func (t *Table) Wrap(data map[string]interface{}, readOnly bool) *Row {
	row := t.newRow(data, true, readOnly)
	row.store.capture(row.Record)
	return row
}

func (t *Table) newRow(data map[string]interface{}, stored, readOnly bool) *Row {
	p := &rowPersister{table: t}
	rec := NewRecord(p, data, stored, readOnly)
	rec.Use(t.plugins...)
	p.row = &Row{Record: rec, table: t, store: p}
	return p.row
}

// Find loads the row whose primary key equals key, given in Primary order
func (t *Table) Find(ctx context.Context, key ...interface{}) (*Row, error) {
	if len(key) != len(t.config.Primary) {
		return nil, fmt.Errorf("%s: expected %d key value(s), got %d", t.Name(), len(t.config.Primary), len(key))
	}
	if t.identities != nil {
		if row, ok := t.identities.Get(key); ok {
			return row, nil
		}
	}

	sel := mutation.Select(t.conn, t.Name())
	for i, col := range t.config.Primary {
		sel.Filter(col, key[i])
	}
	found, err := sel.First(ctx)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%s %v: %w", t.Name(), key, ErrNotFound)
	}

	row := t.Wrap(found, false)
	if t.identities != nil {
		t.identities.Put(row)
	}
	return row, nil
}

// ============================================================
// ROW
// ============================================================

// Row is a Record stored in a Table
type Row struct {
	*Record
	table *Table
	store *rowPersister
}

// Table returns the table the row belongs to
func (r *Row) Table() *Table {
	return r.table
}

// Key returns the stored primary key values in Primary order, or nil when
// the row has not been stored
func (r *Row) Key() []interface{} {
	if r.store.key == nil {
		return nil
	}
	return append([]interface{}(nil), r.store.key...)
}

// rowPersister writes one row through the mutation builders. key is the
// primary key as last read from or written to the database, so updates
// and deletes still target the right row after a key column is assigned.
type rowPersister struct {
	table *Table
	row   *Row
	key   []interface{}
}

func (p *rowPersister) capture(r *Record) {
	key := make([]interface{}, len(p.table.config.Primary))
	for i, col := range p.table.config.Primary {
		key[i] = r.Get(col)
	}
	p.key = key
}

// result is the primary key: a scalar for a single column, a map for a
// compound key
func (p *rowPersister) result() interface{} {
	if len(p.key) == 1 {
		return p.key[0]
	}
	out := make(map[string]interface{}, len(p.key))
	for i, col := range p.table.config.Primary {
		out[col] = p.key[i]
	}
	return out
}

func (p *rowPersister) DoInsert(ctx context.Context, r *Record) (interface{}, error) {
	t := p.table
	values := r.Data()
	identity := t.identityColumn()

	if values[identity] == nil {
		switch t.config.Sequence {
		case SequenceUUID:
			values[identity] = uuid.NewString()
		case SequenceAuto:
			delete(values, identity)
		}
	}

	res, err := mutation.Insert(t.conn, t.Name()).
		Identity(identity).
		SetMap(values).
		Execute(ctx)
	if err != nil {
		return nil, err
	}

	r.Hydrate(values)
	r.Hydrate(res.Record)
	if res.ID != nil {
		r.Hydrate(map[string]interface{}{identity: res.ID})
	}
	p.capture(r)
	if t.identities != nil {
		t.identities.Put(p.row)
	}

	if err := p.refreshOnSave(ctx, r); err != nil {
		return nil, err
	}
	return p.result(), nil
}

func (p *rowPersister) DoUpdate(ctx context.Context, r *Record) (interface{}, error) {
	if p.key == nil {
		return nil, &RecordStateError{Op: "save", Err: ErrNotStored}
	}
	t := p.table

	upd := mutation.Update(t.conn, t.Name()).SetMap(r.Diff())
	for i, col := range t.config.Primary {
		upd.Filter(col, p.key[i])
	}

	res, err := upd.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Records) > 0 {
		r.Hydrate(res.Records[0])
	}

	old := p.key
	p.capture(r)
	if t.identities != nil && keyString(old) != keyString(p.key) {
		t.identities.Evict(old)
		t.identities.Put(p.row)
	}

	if err := p.refreshOnSave(ctx, r); err != nil {
		return nil, err
	}
	return p.result(), nil
}

func (p *rowPersister) DoDelete(ctx context.Context, r *Record) (interface{}, error) {
	if p.key == nil {
		return nil, &RecordStateError{Op: "remove", Err: ErrNotStored}
	}
	t := p.table

	del := mutation.Delete(t.conn, t.Name())
	for i, col := range t.config.Primary {
		del.Filter(col, p.key[i])
	}

	res, err := del.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if t.identities != nil {
		t.identities.Evict(p.key)
	}
	return res.Affected, nil
}

// Refresh implements Refresher
func (p *rowPersister) Refresh(ctx context.Context, r *Record) (map[string]interface{}, error) {
	if p.key == nil {
		return nil, &RecordStateError{Op: "refresh", Err: ErrNotStored}
	}
	t := p.table

	sel := mutation.Select(t.conn, t.Name())
	for i, col := range t.config.Primary {
		sel.Filter(col, p.key[i])
	}

	found, err := sel.First(ctx)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%s %v: %w", t.Name(), p.key, ErrNotFound)
	}
	return found, nil
}

func (p *rowPersister) refreshOnSave(ctx context.Context, r *Record) error {
	if !p.table.config.RefreshOnSave {
		return nil
	}
	values, err := p.Refresh(ctx, r)
	if err != nil {
		return fmt.Errorf("refresh after save: %w", err)
	}
	r.Hydrate(values)
	return nil
}
