package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/config"
)

// Driver is a function that opens a connection and returns a Store.
type Driver func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Driver{}
)

// Register adds a named driver to the global registry.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = d
}

// Open selects the driver specified in cfg.Driver and returns its Store.
func Open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (Store, error) {
	registryMu.RLock()
	d, ok := registry[cfg.Driver]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, registeredNames())
	}
	return d(ctx, cfg, clk)
}

func registeredNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
