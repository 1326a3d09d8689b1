package scraper

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vanevents/harvester/internal/interfaces"
)

// Modules are registered at compile time from init functions; the dispatcher
// selects one by the source's module_key. No filesystem discovery.
var (
	registryMu sync.RWMutex
	registry   = make(map[string]func() interfaces.ScraperModule)
)

// Register binds a module factory to a key. Duplicate keys panic at init so
// collisions surface immediately.
func Register(key string, factory func() interfaces.ScraperModule) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[key]; exists {
		panic(fmt.Sprintf("scraper module %q registered twice", key))
	}
	registry[key] = factory
}

// Get returns a fresh module instance for key.
func Get(key string) (interfaces.ScraperModule, bool) {
	registryMu.RLock()
	factory, ok := registry[key]
	registryMu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(), true
}

// Keys lists the registered module keys, sorted.
func Keys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for key := range registry {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
