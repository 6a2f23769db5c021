package tokens

import (
	"strings"
	"testing"

	"github.com/tjfontaine/agent-router/internal/core/domain"
)

func TestEstimator_CountText(t *testing.T) {
	e := NewEstimator()

	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"single char", "a", 1},
		{"eight chars", "abcdefgh", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.CountText(tt.text); got != tt.want {
				t.Errorf("CountText(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestTiktokenCounter(t *testing.T) {
	c, err := NewTiktokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("NewTiktokenCounter() error = %v", err)
	}

	n := c.CountText("Hello, how are you?")
	if n < 3 || n > 10 {
		t.Errorf("CountText() = %d, want between 3 and 10", n)
	}

	// Unknown models fall back to a family encoding.
	if _, err := NewTiktokenCounter("llama3.2"); err != nil {
		t.Errorf("NewTiktokenCounter(llama3.2) error = %v", err)
	}
}

func TestBudget_Trim(t *testing.T) {
	msgs := []domain.ContextMessage{
		{Role: domain.RoleUser, Content: strings.Repeat("a", 40)},
		{Role: domain.RoleAssistant, Content: strings.Repeat("b", 40)},
		{Role: domain.RoleUser, Content: strings.Repeat("c", 40)},
	}
	// Each turn costs 10 + 4 = 14 with the estimator.

	tests := []struct {
		name      string
		limit     int
		wantFirst string
		wantLen   int
	}{
		{"disabled", 0, "a", 3},
		{"fits all", 100, "a", 3},
		{"keeps newest two", 30, "b", 2},
		{"keeps newest one", 14, "c", 1},
		{"fits none", 5, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewBudget(NewEstimator(), tt.limit).Trim(msgs)
			if len(got) != tt.wantLen {
				t.Fatalf("Trim() len = %d, want %d", len(got), tt.wantLen)
			}
			if tt.wantLen > 0 && got[0].Content[:1] != tt.wantFirst {
				t.Errorf("Trim() first = %q, want prefix %q", got[0].Content[:1], tt.wantFirst)
			}
		})
	}

	if len(msgs) != 3 || msgs[0].Content[:1] != "a" {
		t.Error("Trim() modified its input")
	}
}
