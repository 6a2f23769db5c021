package direct

import (
	"context"
	"testing"
	"time"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/storage/memory"
)

func TestNewPublisher_NilStorage(t *testing.T) {
	_, err := NewPublisher(nil)
	if err == nil {
		t.Fatal("Expected error for nil storage")
	}
	if err.Error() != "event store required" {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestPublish(t *testing.T) {
	store := memory.New()
	defer store.Close()

	publisher, err := NewPublisher(store)
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	ctx := context.Background()

	events := []*domain.LifecycleEvent{
		{
			Type:      domain.LifecycleEventStarted,
			ContextID: "run-123",
			Timestamp: time.Now(),
			Data:      domain.LifecycleStartedData{Question: "q", MaxIterations: 3},
		},
		{
			Type:      domain.LifecycleEventCompleted,
			ContextID: "run-123",
			Timestamp: time.Now(),
			Data:      domain.LifecycleFinishedData{Status: domain.ProcessStatusCompleted, Iterations: 1},
		},
	}
	for _, ev := range events {
		if err := publisher.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	got, err := store.ListLifecycleEvents(ctx, "run-123")
	if err != nil {
		t.Fatalf("ListLifecycleEvents failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[1].Type != domain.LifecycleEventCompleted {
		t.Errorf("second event = %s, want %s", got[1].Type, domain.LifecycleEventCompleted)
	}
}

func TestPublish_RequiresContextID(t *testing.T) {
	publisher, _ := NewPublisher(memory.New())
	err := publisher.Publish(context.Background(), &domain.LifecycleEvent{Type: domain.LifecycleEventStarted})
	if err == nil {
		t.Error("Expected error for event without context id")
	}
}
