package reasoning

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/tjfontaine/agent-router/internal/core/ports"
	"github.com/tjfontaine/agent-router/internal/pkg/config"
)

// Factory creates a reasoning client for one provider type.
type Factory struct {
	// Type is the provider name used in configuration (openai, ollama, gemini).
	Type        string
	Description string

	// Create builds the client. httpClient may be nil.
	Create func(cfg config.ReasoningConfig, httpClient *http.Client) (ports.ReasoningClient, error)

	// ValidateConfig is optional.
	ValidateConfig func(cfg config.ReasoningConfig) error
}

var (
	factoryMu  sync.RWMutex
	factoryMap = make(map[string]Factory)
)

// RegisterFactory registers f. Panics on an empty or duplicate type.
func RegisterFactory(f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if f.Type == "" {
		panic("reasoning factory type cannot be empty")
	}
	if f.Create == nil {
		panic(fmt.Sprintf("reasoning factory %q must have a Create function", f.Type))
	}
	if _, exists := factoryMap[f.Type]; exists {
		panic(fmt.Sprintf("reasoning factory %q already registered", f.Type))
	}
	factoryMap[f.Type] = f
}

// IsRegistered reports whether a provider type has a factory.
func IsRegistered(providerType string) bool {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	_, ok := factoryMap[providerType]
	return ok
}

// ListTypes returns the registered provider types, sorted.
func ListTypes() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	types := make([]string, 0, len(factoryMap))
	for t := range factoryMap {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New creates the reasoning client configured by cfg.
func New(cfg config.ReasoningConfig, httpClient *http.Client) (ports.ReasoningClient, error) {
	factoryMu.RLock()
	f, ok := factoryMap[cfg.Provider]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown reasoning provider: %s (registered: %v)", cfg.Provider, ListTypes())
	}

	if f.ValidateConfig != nil {
		if err := f.ValidateConfig(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration for reasoning provider %s: %w", cfg.Provider, err)
		}
	}
	return f.Create(cfg, httpClient)
}

// ClearFactories removes all registered factories (for testing only).
func ClearFactories() {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factoryMap = make(map[string]Factory)
}
