// Package tools aggregates tool servers into one catalog the router calls through.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
)

type entry struct {
	client ports.ToolClient
	desc   domain.ToolDescriptor
}

// Catalog routes tool calls by name to the server that advertised the tool.
// It implements ports.ToolClient.
type Catalog struct {
	mu      sync.RWMutex
	clients []ports.ToolClient
	byName  map[string]entry
	sorted  []domain.ToolDescriptor

	timeout time.Duration
	logger  *slog.Logger
}

var _ ports.ToolClient = (*Catalog)(nil)

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithCallTimeout bounds every tool call. Zero disables the bound.
func WithCallTimeout(d time.Duration) CatalogOption {
	return func(c *Catalog) {
		c.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CatalogOption {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// NewCatalog creates a catalog over clients. Call Refresh to discover tools.
func NewCatalog(clients []ports.ToolClient, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		clients: clients,
		byName:  make(map[string]entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Catalog) Name() string {
	return "catalog"
}

// Refresh re-discovers tools from every server. A failing server is skipped
// and reported in the returned error; tools from healthy servers stay usable.
// When two servers advertise the same name the first configured one wins.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.mu.RLock()
	clients := append([]ports.ToolClient(nil), c.clients...)
	c.mu.RUnlock()

	byName := make(map[string]entry)
	var errs []error

	for _, client := range clients {
		descs, err := client.ListTools(ctx)
		if err != nil {
			c.logger.Warn("tool discovery failed",
				slog.String("server", client.Name()),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", client.Name(), err))
			continue
		}
		for _, d := range descs {
			if prev, dup := byName[d.Name]; dup {
				c.logger.Warn("duplicate tool name, keeping first",
					slog.String("tool", d.Name),
					slog.String("kept", prev.client.Name()),
					slog.String("ignored", client.Name()))
				continue
			}
			d.Server = client.Name()
			byName[d.Name] = entry{client: client, desc: d}
		}
	}

	sorted := make([]domain.ToolDescriptor, 0, len(byName))
	for _, e := range byName {
		sorted = append(sorted, e.desc)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	c.mu.Lock()
	c.byName = byName
	c.sorted = sorted
	c.mu.Unlock()

	c.logger.Info("tool catalog refreshed",
		slog.Int("servers", len(clients)),
		slog.Int("tools", len(sorted)))

	return errors.Join(errs...)
}

// Replace swaps the server set, closes the previous clients and refreshes.
func (c *Catalog) Replace(ctx context.Context, clients []ports.ToolClient) error {
	c.mu.Lock()
	old := c.clients
	c.clients = clients
	c.mu.Unlock()

	for _, client := range old {
		if err := client.Close(); err != nil {
			c.logger.Warn("failed to close tool client",
				slog.String("server", client.Name()),
				slog.String("error", err.Error()))
		}
	}

	return c.Refresh(ctx)
}

// ListTools returns the discovered tools sorted by name.
func (c *Catalog) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.ToolDescriptor(nil), c.sorted...), nil
}

// Descriptor looks up a single tool.
func (c *Catalog) Descriptor(name string) (domain.ToolDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byName[name]
	return e.desc, ok
}

// Subset returns the descriptors for names that exist, in the given order.
func (c *Catalog) Subset(names []string) []domain.ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.ToolDescriptor, 0, len(names))
	for _, n := range names {
		if e, ok := c.byName[n]; ok {
			out = append(out, e.desc)
		}
	}
	return out
}

// CallTool validates args against the tool's schema and executes it.
func (c *Catalog) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	c.mu.RLock()
	e, ok := c.byName[name]
	c.mu.RUnlock()
	if !ok {
		return "", domain.ErrToolNotFound(name)
	}

	if err := ValidateArgs(e.desc.ArgSchema, args); err != nil {
		return "", err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, err := e.client.CallTool(ctx, name, args)
	if err == nil {
		return out, nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if !domain.IsType(err, domain.ErrorTypeToolTimeout) {
			return "", domain.ErrToolTimeout(fmt.Sprintf("tool %q timed out", name)).WithCause(err)
		}
		return "", err
	}
	if domain.ErrorTypeOf(err) == "" {
		return "", domain.ErrToolExecution(err.Error()).WithCause(err)
	}
	return "", err
}

// Close closes every tool client.
func (c *Catalog) Close() error {
	c.mu.Lock()
	clients := c.clients
	c.clients = nil
	c.mu.Unlock()

	var errs []error
	for _, client := range clients {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", client.Name(), err))
		}
	}
	return errors.Join(errs...)
}
