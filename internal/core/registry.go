package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[string]ProfileDefinition)
	registryMu sync.RWMutex
)

// Register adds a profile to the registry.
// Panics if a profile with the same key is already registered.
func Register(def ProfileDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if def.Info.Key == "" || def.Build == nil {
		panic(fmt.Sprintf("invalid profile definition: %q", def.Info.Key))
	}
	if _, exists := registry[def.Info.Key]; exists {
		panic(fmt.Sprintf("profile already registered: %s", def.Info.Key))
	}
	registry[def.Info.Key] = def
}

// Get returns a profile by key.
func Get(key string) (ProfileDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[key]
	return def, ok
}

// All returns every registered profile sorted by key.
func All() []ProfileDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]ProfileDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Info.Key < result[j].Info.Key
	})
	return result
}

// unregister removes a profile. Only used by tests.
func unregister(key string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, key)
}
