package cache

import (
	"fmt"
	"sync"
)

// ProviderConfig selects and configures a cache backend.
type ProviderConfig struct {
	Type     string `yaml:"type" json:"type"`
	Addr     string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// ProviderFactory builds a Store from provider configuration.
type ProviderFactory func(cfg ProviderConfig) (Store, error)

var (
	registry = make(map[string]ProviderFactory)
	mu       sync.RWMutex
)

// RegisterProvider registers a store factory for a provider type. Backends
// self-register from their init functions.
func RegisterProvider(providerType string, factory ProviderFactory) {
	mu.Lock()
	defer mu.Unlock()
	registry[providerType] = factory
}

// NewStore creates a Store from provider configuration.
func NewStore(cfg ProviderConfig) (Store, error) {
	mu.RLock()
	factory, ok := registry[cfg.Type]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown cache provider type: %s", cfg.Type)
	}
	return factory(cfg)
}
