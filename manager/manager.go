// Package manager keeps a process-wide registry of named
// ConnectionPools, the role the spec's `PoolManager` plays for
// whatever process embeds it (§2, §6).
package manager

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/gwinstanley/dbpool/dbpool"
)

var (
	mu    sync.Mutex
	pools = map[string]*dbpool.ConnectionPool{}
)

// Register adds cp to the registry under name, generating a uuid if
// name is empty. Returns the name actually used.
func Register(name string, cp *dbpool.ConnectionPool) (string, error) {
	mu.Lock()
	defer mu.Unlock()
	if name == "" {
		name = uuid.NewString()
	}
	if _, exists := pools[name]; exists {
		return "", fmt.Errorf("manager: pool %q already registered", name)
	}
	pools[name] = cp
	return name, nil
}

// Lookup returns the pool registered under name, if any.
func Lookup(name string) (*dbpool.ConnectionPool, bool) {
	mu.Lock()
	defer mu.Unlock()
	cp, ok := pools[name]
	return cp, ok
}

// Unregister removes name from the registry without releasing it.
func Unregister(name string) {
	mu.Lock()
	delete(pools, name)
	mu.Unlock()
}

// Names returns every currently registered pool name.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(pools))
	for name := range pools {
		out = append(out, name)
	}
	return out
}

// ShutdownAll releases every registered pool and empties the
// registry. forced is passed through to each pool's Release.
func ShutdownAll(forced bool) {
	mu.Lock()
	all := make([]*dbpool.ConnectionPool, 0, len(pools))
	for _, cp := range pools {
		all = append(all, cp)
	}
	pools = map[string]*dbpool.ConnectionPool{}
	mu.Unlock()

	for _, cp := range all {
		cp.Release(forced)
	}
}
