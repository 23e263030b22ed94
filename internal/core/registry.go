package core

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultAdapterKey is the adapter used when no registered adapter detects the headers.
const DefaultAdapterKey = "global_sector"

var (
	registry   = make(map[string]Adapter)
	registryMu sync.RWMutex
)

// Register adds an adapter to the registry.
// Panics if an adapter with the same key is already registered.
func Register(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[a.Key()]; exists {
		panic(fmt.Sprintf("adapter already registered: %s", a.Key()))
	}
	registry[a.Key()] = a
}

// Get returns an adapter by key.
// Returns false if not found.
func Get(key string) (Adapter, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	a, ok := registry[key]
	return a, ok
}

// All returns all registered adapters in detection order:
// priority descending, then key for a stable tie-break.
func All() []Adapter {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Adapter, 0, len(registry))
	for _, a := range registry {
		result = append(result, a)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority() != result[j].Priority() {
			return result[i].Priority() > result[j].Priority()
		}
		return result[i].Key() < result[j].Key()
	})

	return result
}

// DetectAdapter returns the first adapter whose Detect accepts headers.
// When none does, the default adapter is returned so that its per-row
// validation reports what is wrong with the file.
func DetectAdapter(headers []string) (Adapter, error) {
	for _, a := range All() {
		if a.Detect(headers) {
			return a, nil
		}
	}
	if a, ok := Get(DefaultAdapterKey); ok {
		return a, nil
	}
	return nil, ErrNoAdapter
}

// Clear removes all registered adapters.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Adapter)
}
