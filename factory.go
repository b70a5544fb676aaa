package filesync

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DriverFactory creates a FileSystem for a parsed URL. Cloud drivers return
// a FileSystem rooted at the bucket; the local driver one rooted at the
// URL's directory.
type DriverFactory func(ctx context.Context, u *StorageURL, cfg *Config) (FileSystem, error)

var (
	driverFactories = make(map[string]DriverFactory)
	factoryMutex    sync.RWMutex
)

// RegisterDriver registers a driver factory function for a URL scheme
func RegisterDriver(scheme string, factory DriverFactory) {
	factoryMutex.Lock()
	defer factoryMutex.Unlock()
	driverFactories[scheme] = factory
}

// Open creates a driver instance for the URL's scheme
func Open(ctx context.Context, u *StorageURL, cfg *Config) (FileSystem, error) {
	factoryMutex.RLock()
	factory, exists := driverFactories[u.Scheme]
	factoryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no driver registered for scheme %q (registered: %v)", u.Scheme, Schemes())
	}

	return factory(ctx, u, cfg)
}

// Schemes returns the registered schemes in sorted order.
func Schemes() []string {
	factoryMutex.RLock()
	defer factoryMutex.RUnlock()

	out := make([]string, 0, len(driverFactories))
	for s := range driverFactories {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
