// Package registration wires the built-in backends into their registries.
package registration

import (
	"sync"

	"github.com/tjfontaine/agent-router/internal/adapters/reasoning/gemini"
	"github.com/tjfontaine/agent-router/internal/adapters/reasoning/ollama"
	"github.com/tjfontaine/agent-router/internal/adapters/reasoning/openai"
)

var once sync.Once

// RegisterBuiltins registers built-in reasoning backends explicitly.
// This replaces init-based side effects and is called by the runtime before
// it resolves the configured provider. Repeated calls are no-ops.
func RegisterBuiltins() {
	once.Do(func() {
		openai.RegisterFactory()
		ollama.RegisterFactory()
		gemini.RegisterFactory()
	})
}
