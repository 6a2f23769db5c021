package router

import (
	"fmt"
	"time"

	"github.com/tjfontaine/agent-router/internal/core/domain"
)

// Request validation errors. All are rejected before a run starts.
var (
	ErrInvalidMaxIterations = domain.ErrConfiguration("max_iterations must be >= 1").
				WithCode(domain.ErrorCodeInvalidMaxIterations).
				WithParam("max_iterations")

	ErrEmptyQuestion = domain.ErrConfiguration("question must not be empty").
				WithCode(domain.ErrorCodeEmptyQuestion).
				WithParam("question")
)

func errAboveCeiling(requested, ceiling int) error {
	return domain.ErrConfiguration(fmt.Sprintf("max_iterations %d exceeds the ceiling of %d", requested, ceiling)).
		WithCode(domain.ErrorCodeInvalidMaxIterations).
		WithParam("max_iterations")
}

func errRunTimeout(d time.Duration) error {
	return domain.ErrServer(fmt.Sprintf("run timed out after %s", d)).
		WithCode(domain.ErrorCodeRunTimeout)
}

func errReasoningFailed(err error) error {
	return fmt.Errorf("reasoning failed after repair retry: %w", err)
}
