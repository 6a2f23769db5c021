// Package tokens bounds the prior conversation carried into a run.
package tokens

import (
	"log/slog"

	"github.com/tjfontaine/agent-router/internal/core/domain"
)

// Counter counts tokens in text.
type Counter interface {
	CountText(text string) int
}

// Estimator approximates token counts from character length. It is the
// fallback when no tiktoken encoding can be loaded.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

func (e *Estimator) CountText(text string) int {
	if text == "" {
		return 0
	}
	n := int(float64(len(text))/e.CharsPerToken + 0.5)
	if n < 1 {
		n = 1
	}
	return n
}

// NewCounter returns a tiktoken counter for model, or an Estimator if the
// encoding is unavailable.
func NewCounter(model string, logger *slog.Logger) Counter {
	c, err := NewTiktokenCounter(model)
	if err != nil {
		if logger != nil {
			logger.Warn("tiktoken unavailable, estimating token counts",
				slog.String("model", model),
				slog.String("error", err.Error()))
		}
		return NewEstimator()
	}
	return c
}

// perMessageOverhead approximates role and separator tokens per chat turn.
const perMessageOverhead = 4

// Budget trims prior conversation turns to a token budget.
type Budget struct {
	counter Counter
	limit   int
}

// NewBudget creates a budget. A limit <= 0 disables trimming.
func NewBudget(counter Counter, limit int) *Budget {
	if counter == nil {
		counter = NewEstimator()
	}
	return &Budget{counter: counter, limit: limit}
}

// Trim keeps the most recent turns whose combined cost fits the budget, in
// their original order. The input slice is never modified.
func (b *Budget) Trim(msgs []domain.ContextMessage) []domain.ContextMessage {
	if b == nil || b.limit <= 0 || len(msgs) == 0 {
		return msgs
	}

	used := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := b.counter.CountText(msgs[i].Content) + perMessageOverhead
		if used+cost > b.limit {
			break
		}
		used += cost
		start = i
	}

	return append([]domain.ContextMessage(nil), msgs[start:]...)
}

// Count returns the cost of msgs as Trim would compute it.
func (b *Budget) Count(msgs []domain.ContextMessage) int {
	total := 0
	for _, m := range msgs {
		total += b.counter.CountText(m.Content) + perMessageOverhead
	}
	return total
}
