package router

import (
	"context"
	"sync"

	"github.com/tjfontaine/agent-router/internal/core/domain"
)

// Run is a handle to a run started with Start. Iterations are produced once,
// in order; the channel is buffered to MaxIterations so the engine never
// blocks on a consumer that stops reading.
type Run struct {
	contextID  string
	iterations chan domain.RouterIteration
	done       chan struct{}
	cancel     context.CancelFunc

	mu      sync.Mutex
	process *domain.RouterProcess
	err     error
}

// Start validates req and runs it in the background.
// The run stops when ctx is cancelled or Cancel is called.
func (e *Engine) Start(ctx context.Context, req RunRequest) (*Run, error) {
	if err := e.Validate(req); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &Run{
		contextID:  req.ContextID,
		iterations: make(chan domain.RouterIteration, req.MaxIterations),
		done:       make(chan struct{}),
		cancel:     cancel,
	}

	go func() {
		defer cancel()
		proc, err := e.Run(runCtx, req, func(it domain.RouterIteration) {
			r.iterations <- it
		})
		r.mu.Lock()
		r.process, r.err = proc, err
		r.mu.Unlock()
		close(r.iterations)
		close(r.done)
	}()

	return r, nil
}

// ContextID returns the run's id.
func (r *Run) ContextID() string {
	return r.contextID
}

// Iterations yields each iteration as soon as it is appended and is closed
// when the run reaches a terminal state.
func (r *Run) Iterations() <-chan domain.RouterIteration {
	return r.iterations
}

// Done is closed once the run is terminal.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Cancel requests cancellation. The run ends cancelled after any in-flight
// iteration completes.
func (r *Run) Cancel() {
	r.cancel()
}

// Process returns the terminal trace, or nil while the run is still going.
func (r *Run) Process() *domain.RouterProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.process
}

// Wait blocks until the run is terminal or ctx is done.
func (r *Run) Wait(ctx context.Context) (*domain.RouterProcess, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.process, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
