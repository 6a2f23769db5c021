package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
)

// Store is an in-memory implementation of ports.StorageProvider
type Store struct {
	mu        sync.RWMutex
	processes map[string]*domain.RouterProcess
	events    map[string][]*domain.LifecycleEvent
}

var _ ports.StorageProvider = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		processes: make(map[string]*domain.RouterProcess),
		events:    make(map[string][]*domain.LifecycleEvent),
	}
}

func (s *Store) SaveProcess(ctx context.Context, p *domain.RouterProcess) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processes[p.ContextID] = p.Clone()
	return nil
}

func (s *Store) GetProcess(ctx context.Context, contextID string) (*domain.RouterProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.processes[contextID]
	if !exists {
		return nil, domain.ErrNotFound(fmt.Sprintf("process %s not found", contextID))
	}

	return p.Clone(), nil
}

func (s *Store) ListProcesses(ctx context.Context, opts ports.ListOptions) ([]domain.ProcessSummary, error) {
	s.mu.RLock()
	result := make([]domain.ProcessSummary, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p.Summary())
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ContextID < result[j].ContextID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	// Simple pagination
	start := opts.Offset
	if start >= len(result) {
		return []domain.ProcessSummary{}, nil
	}

	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) AppendLifecycleEvent(ctx context.Context, event *domain.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := *event
	s.events[event.ContextID] = append(s.events[event.ContextID], &ev)
	return nil
}

func (s *Store) ListLifecycleEvents(ctx context.Context, contextID string) ([]*domain.LifecycleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]*domain.LifecycleEvent(nil), s.events[contextID]...), nil
}

func (s *Store) Close() error {
	return nil
}
