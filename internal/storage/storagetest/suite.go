// Package storagetest provides a conformance suite shared by the storage backends.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
)

// SampleProcess builds a completed two-iteration trace with a nested agent call.
func SampleProcess(id string, createdAt time.Time) *domain.RouterProcess {
	p := domain.NewRouterProcess(id, domain.Question{
		Text: "What's the weather in Paris?",
		PreviousContext: []domain.ContextMessage{
			{Role: domain.RoleUser, Content: "hi"},
		},
	}, 5)
	p.CreatedAt = createdAt

	child := domain.NewRouterProcess(id+"-child", domain.Question{Text: "look up Paris"}, 2)
	child.Depth = 1
	child.Complete("found it")

	p.IterationHistory = append(p.IterationHistory,
		domain.RouterIteration{
			Iteration:              1,
			NaturalLanguageThought: "I should check the weather.",
			StructuredThought: domain.StructuredThought{
				FunctionCalls: []domain.ToolCallWithResult{
					{Function: "get_weather", Type: domain.CallTypeTool, Args: map[string]any{"city": "Paris"}, Result: "Sunny, 22C"},
					{Function: "researcher", Type: domain.CallTypeAgent, Args: map[string]any{"question": "look up Paris"}, Result: "found it", InternalRouterProcess: child},
				},
			},
			Response: "get_weather: Sunny, 22C",
		},
		domain.RouterIteration{
			Iteration:              2,
			NaturalLanguageThought: "Done.",
			StructuredThought:      domain.StructuredThought{IsFinished: true},
			Response:               "It is sunny in Paris.",
			Answer:                 "It is sunny in Paris.",
		},
	)
	p.Complete("It is sunny in Paris.")
	return p
}

// Run exercises a ports.StorageProvider implementation. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) ports.StorageProvider) {
	t.Run("save and get", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		p := SampleProcess("ctx-1", time.Now().UTC())
		require.NoError(t, store.SaveProcess(ctx, p))

		got, err := store.GetProcess(ctx, "ctx-1")
		require.NoError(t, err)
		assert.Equal(t, p.ContextID, got.ContextID)
		assert.Equal(t, domain.ProcessStatusCompleted, got.Status)
		assert.Equal(t, "It is sunny in Paris.", got.Response)
		require.Len(t, got.IterationHistory, 2)
		assert.Equal(t, 1, got.IterationHistory[0].Iteration)
		assert.Equal(t, 2, got.IterationHistory[1].Iteration)

		calls := got.IterationHistory[0].StructuredThought.FunctionCalls
		require.Len(t, calls, 2)
		assert.Equal(t, "Paris", calls[0].Args["city"])
		require.NotNil(t, calls[1].InternalRouterProcess)
		assert.Equal(t, "found it", calls[1].InternalRouterProcess.Response)
	})

	t.Run("save replaces", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		p := SampleProcess("ctx-2", time.Now().UTC())
		require.NoError(t, store.SaveProcess(ctx, p))

		p.PersistenceDegraded = true
		p.Fail(domain.ErrModelUnavailable("down"))
		require.NoError(t, store.SaveProcess(ctx, p))

		got, err := store.GetProcess(ctx, "ctx-2")
		require.NoError(t, err)
		assert.Equal(t, domain.ProcessStatusFailed, got.Status)
		assert.Empty(t, got.Response)
		assert.Equal(t, domain.ErrorTypeModelUnavailable, got.ErrorType)
	})

	t.Run("get missing", func(t *testing.T) {
		store := newStore(t)

		_, err := store.GetProcess(context.Background(), "missing")
		require.Error(t, err)
		assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound))
	})

	t.Run("list pages newest first", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			p := SampleProcess(fmt.Sprintf("ctx-%d", i), base.Add(time.Duration(i)*time.Minute))
			require.NoError(t, store.SaveProcess(ctx, p))
		}

		page, err := store.ListProcesses(ctx, ports.ListOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "ctx-4", page[0].ContextID)
		assert.Equal(t, "ctx-3", page[1].ContextID)
		assert.Equal(t, 2, page[0].IterationCount)

		page, err = store.ListProcesses(ctx, ports.ListOptions{Limit: 2, Offset: 4})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "ctx-0", page[0].ContextID)

		page, err = store.ListProcesses(ctx, ports.ListOptions{Limit: 2, Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, page)
	})

	t.Run("lifecycle events keep order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		types := []domain.LifecycleEventType{
			domain.LifecycleEventStarted,
			domain.LifecycleEventIteration,
			domain.LifecycleEventCompleted,
		}
		for _, typ := range types {
			require.NoError(t, store.AppendLifecycleEvent(ctx, &domain.LifecycleEvent{
				Type:      typ,
				ContextID: "ctx-ev",
				Timestamp: time.Now().UTC(),
				Data:      domain.LifecycleIterationData{Iteration: 1},
			}))
		}
		require.NoError(t, store.AppendLifecycleEvent(ctx, &domain.LifecycleEvent{
			Type:      domain.LifecycleEventStarted,
			ContextID: "other",
		}))

		events, err := store.ListLifecycleEvents(ctx, "ctx-ev")
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, ev := range events {
			assert.Equal(t, types[i], ev.Type)
			assert.Equal(t, "ctx-ev", ev.ContextID)
		}
	})
}
