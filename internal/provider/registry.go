package provider

import (
	"fmt"
	"sort"
	"strings"
)

// Factory creates a store instance from opaque config (provider-specific).
type Factory func(any) (Store, error)

var registry = map[string]Factory{}

// Register binds a provider name to its factory.
func Register(name string, f Factory) {
	registry[name] = f
}

// New returns a store instance by name.
func New(name string, cfg any) (Store, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(cfg)
}

// Names lists the registered providers.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
