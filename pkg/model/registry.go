package model

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shen2/MSM/pkg/engine"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]TableConfig{}
)

// Register makes config available under config.Entity. Registering the
// same entity twice is an error; call Unregister first to replace it.
func Register(config TableConfig) error {
	if config.Entity == "" {
		return fmt.Errorf("cannot register a table config without an Entity")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, ok := registry[config.Entity]; ok {
		return fmt.Errorf("entity %q is already registered", config.Entity)
	}
	registry[config.Entity] = config
	return nil
}

// Lookup returns the config registered for entity
func Lookup(entity string) (TableConfig, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	config, ok := registry[entity]
	return config, ok
}

// Unregister removes entity from the registry
func Unregister(entity string) {
	registryMu.Lock()
	defer registryMu.Unlock()

	delete(registry, entity)
}

// ResetRegistry removes every registered entity
func ResetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry = map[string]TableConfig{}
}

// Registered returns the registered entity names in order
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open binds the config registered for entity to conn
func Open(conn *engine.Connection, entity string) (*Table, error) {
	config, ok := Lookup(entity)
	if !ok {
		return nil, fmt.Errorf("entity %q is not registered", entity)
	}
	return NewTable(conn, config)
}
