package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// IdentityMap keeps one *Row per primary key so repeated lookups of the
// same table return the same object
type IdentityMap struct {
	rows map[string]*Row
}

func NewIdentityMap() *IdentityMap {
	return &IdentityMap{
		rows: make(map[string]*Row),
	}
}

// Get returns the row cached for key
func (im *IdentityMap) Get(key []interface{}) (*Row, bool) {
	id := keyString(key)
	if id == "" {
		return nil, false
	}
	row, ok := im.rows[id]
	return row, ok
}

// Put caches row under its current primary key. Rows without a complete
// key are ignored.
func (im *IdentityMap) Put(row *Row) {
	if id := keyString(row.Key()); id != "" {
		im.rows[id] = row
	}
}

// Evict drops the row cached for key
func (im *IdentityMap) Evict(key []interface{}) {
	delete(im.rows, keyString(key))
}

// Len returns the number of cached rows
func (im *IdentityMap) Len() int {
	return len(im.rows)
}

// keyString converts key values to a stable map key. It returns "" when
// any part is missing.
func keyString(key []interface{}) string {
	if len(key) == 0 {
		return ""
	}

	parts := make([]string, len(key))
	for i, v := range key {
		switch id := v.(type) {
		case nil:
			return ""
		case string:
			parts[i] = id
		case []byte:
			parts[i] = string(id)
		case [16]byte:
			parts[i] = uuid.UUID(id).String()
		case int, int32, int64, uint, uint32, uint64:
			parts[i] = fmt.Sprintf("%d", id)
		default:
			parts[i] = fmt.Sprintf("%v", id)
		}
	}
	return strings.Join(parts, "\x00")
}
