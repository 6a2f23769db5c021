// Package apikey provides API key-based authentication.
package apikey

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
	"github.com/tjfontaine/agent-router/internal/pkg/auth"
	"github.com/tjfontaine/agent-router/internal/pkg/config"
)

// Provider implements ports.AuthProvider using hashed API keys from config.
type Provider struct {
	mu   sync.RWMutex
	keys map[string]config.APIKeyConfig // keyHash -> key
}

var _ ports.AuthProvider = (*Provider)(nil)

// NewProvider creates a new API key auth provider.
func NewProvider(cfg config.AuthConfig) (*Provider, error) {
	p := &Provider{}
	if err := p.ReloadFromConfig(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Authenticate validates an API key.
func (p *Provider) Authenticate(ctx context.Context, token string) (*ports.AuthContext, error) {
	keyHash := auth.HashAPIKey(token)

	p.mu.RLock()
	key, ok := p.keys[keyHash]
	p.mu.RUnlock()

	if !ok || subtle.ConstantTimeCompare([]byte(keyHash), []byte(key.KeyHash)) != 1 {
		return nil, domain.ErrAuthentication("invalid API key").WithCode(domain.ErrorCodeInvalidAPIKey)
	}

	return &ports.AuthContext{
		KeyID: keyHash[:12],
		Metadata: map[string]string{
			"description": key.Description,
		},
	}, nil
}

// ReloadFromConfig swaps the key set. Called when the config file changes.
func (p *Provider) ReloadFromConfig(cfg config.AuthConfig) error {
	keys := make(map[string]config.APIKeyConfig, len(cfg.APIKeys))
	for i, k := range cfg.APIKeys {
		if len(k.KeyHash) != 64 {
			return fmt.Errorf("api key %d: key_hash must be a hex sha-256 digest", i)
		}
		keys[k.KeyHash] = k
	}

	p.mu.Lock()
	p.keys = keys
	p.mu.Unlock()
	return nil
}

// Len returns the number of configured keys.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys)
}
