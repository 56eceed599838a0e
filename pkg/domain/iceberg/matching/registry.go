package matching

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrStrategyNotFound = errors.New("matching strategy not found")

var (
	mu       sync.RWMutex
	registry = make(map[string]Strategy)
)

// Register a strategy with a given name.
func Register(name string, s Strategy) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = s
}

// Get a strategy by its name.
func Get(name string) (Strategy, error) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, name)
	}
	return s, nil
}

// Names returns the registered strategy names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
