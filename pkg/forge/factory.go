package forge

import (
	"fmt"
	"sync"
)

// Target identifies the repository a client is built for.
type Target struct {
	Owner string
	Repo  string
	Token string
}

// Factory builds a client for a repository.
type Factory func(target Target) (Client, error)

//nolint:gochecknoglobals // Factory pattern requires global registration
var (
	factoriesMu sync.RWMutex
	factories   = map[Provider]Factory{}
)

// Register installs the factory for a provider. Provider packages call it from init.
func Register(provider Provider, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[provider] = factory
}

// NewClient builds a client for target using the registered provider factory.
func NewClient(provider Provider, target Target) (Client, error) {
	if target.Owner == "" || target.Repo == "" {
		return nil, fmt.Errorf("forge target requires owner and repo")
	}

	factoriesMu.RLock()
	factory, ok := factories[provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("forge provider %q not registered", provider)
	}
	return factory(target)
}
