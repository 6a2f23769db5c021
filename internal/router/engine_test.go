package router

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcpadapter "github.com/tjfontaine/agent-router/internal/adapters/tools/mcp"
	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
	rt "github.com/tjfontaine/agent-router/internal/reasoning/reasoningtest"
	"github.com/tjfontaine/agent-router/internal/tools"
	"github.com/tjfontaine/agent-router/internal/tools/demo"
)

type toolFunc func(args map[string]any) (string, error)

type fakeTools struct {
	mu    sync.Mutex
	funcs map[string]toolFunc
	calls []string
}

func newFakeTools(funcs map[string]toolFunc) *fakeTools {
	return &fakeTools{funcs: funcs}
}

func (f *fakeTools) Name() string { return "fake" }

func (f *fakeTools) ListTools(context.Context) ([]domain.ToolDescriptor, error) {
	var out []domain.ToolDescriptor
	for name := range f.funcs {
		out = append(out, domain.ToolDescriptor{Name: name, ArgSchema: map[string]any{"type": "object"}})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeTools) CallTool(_ context.Context, name string, args map[string]any) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	fn, ok := f.funcs[name]
	f.mu.Unlock()
	if !ok {
		return "", domain.ErrToolNotFound(name)
	}
	return fn(args)
}

func (f *fakeTools) Close() error { return nil }

func demoCatalog(t *testing.T) *tools.Catalog {
	t.Helper()
	c := tools.NewCatalog([]ports.ToolClient{mcpadapter.NewInProcess("demo", demo.NewServer("test"))})
	require.NoError(t, c.Refresh(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func request(question string, max int) RunRequest {
	return RunRequest{ContextID: "ctx-1", Question: domain.Question{Text: question}, MaxIterations: max}
}

func assertGapless(t *testing.T, proc *domain.RouterProcess) {
	t.Helper()
	for i, it := range proc.IterationHistory {
		assert.Equal(t, i+1, it.Iteration)
	}
}

func TestEngine_ParisWeather(t *testing.T) {
	reasoner := rt.New(
		rt.Call("I should check the weather in Paris.", rt.Tool("get_weather", map[string]any{"city": "Paris"})),
		rt.Answer("The tool says it is sunny.", "It is sunny in Paris, 22°C."),
	)
	e := New(reasoner, demoCatalog(t))

	var seen []int
	proc, err := e.Run(context.Background(), request("What's the weather in Paris?", 5), func(it domain.RouterIteration) {
		seen = append(seen, it.Iteration)
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ProcessStatusCompleted, proc.Status)
	assert.Equal(t, "It is sunny in Paris, 22°C.", proc.Response)
	assert.Empty(t, proc.Error)
	require.Len(t, proc.IterationHistory, 2)
	assert.Equal(t, []int{1, 2}, seen)

	call := proc.IterationHistory[0].StructuredThought.FunctionCalls[0]
	assert.Equal(t, "get_weather", call.Function)
	assert.Equal(t, "Paris: Sunny, 22°C", call.Result)
	assert.False(t, call.Error)
	assert.True(t, proc.IterationHistory[1].StructuredThought.IsFinished)

	// The second thought saw the first observation.
	reqs := reasoner.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].History, 1)
	assert.Len(t, reqs[0].Tools, 2)
}

func TestEngine_SingleIterationBudget(t *testing.T) {
	reasoner := rt.New(rt.Call("check", rt.Tool("get_weather", map[string]any{"city": "Paris"})))
	e := New(reasoner, demoCatalog(t))

	proc, err := e.Run(context.Background(), request("What's the weather in Paris?", 1), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.ProcessStatusCompleted, proc.Status)
	require.Len(t, proc.IterationHistory, 1)
	assert.Equal(t, "get_weather: Paris: Sunny, 22°C", proc.Response)
	assert.Len(t, reasoner.Requests(), 1)
}

func TestEngine_DoubleReasoningFailure(t *testing.T) {
	reasoner := rt.New(
		rt.Fail(domain.ErrMalformedOutput("reply contains no JSON object")),
		rt.Fail(domain.ErrMalformedOutput("invalid JSON")),
	)
	e := New(reasoner, newFakeTools(nil))

	proc, err := e.Run(context.Background(), request("q", 3), nil)
	require.Error(t, err)
	require.NotNil(t, proc)

	assert.Equal(t, domain.ProcessStatusFailed, proc.Status)
	assert.Empty(t, proc.IterationHistory)
	assert.Empty(t, proc.Response)
	assert.NotEmpty(t, proc.Error)
	assert.Equal(t, domain.ErrorTypeMalformedOutput, proc.ErrorType)
	assert.True(t, domain.IsType(err, domain.ErrorTypeMalformedOutput))

	reqs := reasoner.Requests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].RepairHint)
	assert.Contains(t, reqs[1].RepairHint, "reply contains no JSON object")
}

func TestEngine_RepairRetrySucceeds(t *testing.T) {
	reasoner := rt.New(
		rt.Fail(domain.ErrModelUnavailable("503")),
		rt.Answer("ok", "42"),
	)
	e := New(reasoner, newFakeTools(nil))

	proc, err := e.Run(context.Background(), request("q", 3), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessStatusCompleted, proc.Status)
	require.Len(t, proc.IterationHistory, 1)
	assert.Equal(t, 1, proc.IterationHistory[0].Iteration)
	assert.Equal(t, "42", proc.Response)
}

func TestEngine_ExhaustsBudget(t *testing.T) {
	for _, max := range []int{2, 4, 7} {
		reasoner := rt.New(rt.Call("again", rt.Tool("echo", map[string]any{})))
		e := New(reasoner, newFakeTools(map[string]toolFunc{
			"echo": func(map[string]any) (string, error) { return "echoed", nil },
		}))

		proc, err := e.Run(context.Background(), request("loop forever", max), nil)
		require.NoError(t, err)
		assert.Equal(t, domain.ProcessStatusCompleted, proc.Status)
		assert.Len(t, proc.IterationHistory, max)
		assertGapless(t, proc)
	}
}

func TestEngine_AnswerWithoutCallsFinishes(t *testing.T) {
	reasoner := rt.New(func(ports.ThinkRequest) (*domain.Thought, error) {
		return &domain.Thought{NaturalLanguageThought: "easy", Answer: "4"}, nil
	})
	e := New(reasoner, newFakeTools(nil))

	proc, err := e.Run(context.Background(), request("2+2?", 5), nil)
	require.NoError(t, err)
	assert.Len(t, proc.IterationHistory, 1)
	assert.Equal(t, "4", proc.Response)
}

func TestEngine_InlineToolFailure(t *testing.T) {
	reasoner := rt.New(
		rt.Call("try both",
			rt.Tool("missing", nil),
			rt.Tool("flaky", map[string]any{}),
			rt.Tool("ok", map[string]any{}),
		),
		rt.Answer("done", "partial"),
	)
	e := New(reasoner, newFakeTools(map[string]toolFunc{
		"flaky": func(map[string]any) (string, error) { return "", domain.ErrToolExecution("boom") },
		"ok":    func(map[string]any) (string, error) { return "fine", nil },
	}))

	proc, err := e.Run(context.Background(), request("q", 3), nil)
	require.NoError(t, err)
	require.Len(t, proc.IterationHistory, 2)

	calls := proc.IterationHistory[0].StructuredThought.FunctionCalls
	require.Len(t, calls, 3)
	assert.True(t, calls[0].Error)
	assert.Contains(t, calls[0].Result, "error: tool_not_found")
	assert.True(t, calls[1].Error)
	assert.Contains(t, calls[1].Result, "boom")
	assert.False(t, calls[2].Error)
	assert.Equal(t, "fine", calls[2].Result)
}

func TestEngine_BatchKeepsRequestOrder(t *testing.T) {
	delays := map[string]time.Duration{"slow": 60 * time.Millisecond, "medium": 30 * time.Millisecond, "fast": 0}
	funcs := map[string]toolFunc{}
	for name, d := range delays {
		funcs[name] = func(map[string]any) (string, error) {
			time.Sleep(d)
			return name, nil
		}
	}
	reasoner := rt.New(
		rt.Call("all at once", rt.Tool("slow", nil), rt.Tool("medium", nil), rt.Tool("fast", nil)),
		rt.Answer("done", "ok"),
	)
	e := New(reasoner, newFakeTools(funcs), WithToolConcurrency(3))

	proc, err := e.Run(context.Background(), request("q", 2), nil)
	require.NoError(t, err)

	calls := proc.IterationHistory[0].StructuredThought.FunctionCalls
	require.Len(t, calls, 3)
	for i, want := range []string{"slow", "medium", "fast"} {
		assert.Equal(t, want, calls[i].Function)
		assert.Equal(t, want, calls[i].Result)
	}
}

func TestEngine_Validate(t *testing.T) {
	e := New(rt.New(rt.Answer("", "x")), newFakeTools(nil), WithMaxIterationsCeiling(10))

	tests := []struct {
		name string
		req  RunRequest
		want error
	}{
		{"empty question", request("  ", 3), ErrEmptyQuestion},
		{"zero iterations", request("q", 0), ErrInvalidMaxIterations},
		{"negative iterations", request("q", -1), ErrInvalidMaxIterations},
		{"above ceiling", request("q", 11), ErrInvalidMaxIterations},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc, err := e.Run(context.Background(), tt.req, nil)
			assert.Nil(t, proc)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, domain.IsType(err, domain.ErrorTypeConfiguration))

			_, err = e.Start(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEngine_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reasoner := rt.New(rt.Answer("", "x"))
	proc, err := New(reasoner, newFakeTools(nil)).Run(ctx, request("q", 3), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessStatusCancelled, proc.Status)
	assert.Empty(t, proc.Response)
	assert.Empty(t, proc.Error)
	assert.Empty(t, reasoner.Requests())
}

func TestEngine_InFlightIterationCompletesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reasoner := rt.New(func(ports.ThinkRequest) (*domain.Thought, error) {
		cancel()
		return &domain.Thought{
			NaturalLanguageThought: "working",
			StructuredThought: domain.StructuredThought{FunctionCalls: []domain.ToolCallWithResult{
				rt.Tool("echo", nil),
			}},
		}, nil
	})
	e := New(reasoner, newFakeTools(map[string]toolFunc{
		"echo": func(map[string]any) (string, error) { return "still ran", nil },
	}))

	proc, err := e.Run(ctx, request("q", 5), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessStatusCancelled, proc.Status)
	require.Len(t, proc.IterationHistory, 1)
	assert.Equal(t, "still ran", proc.IterationHistory[0].StructuredThought.FunctionCalls[0].Result)
}

type blockingReasoner struct{}

func (blockingReasoner) Name() string { return "blocking" }
func (blockingReasoner) Think(ctx context.Context, _ ports.ThinkRequest) (*domain.Thought, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEngine_RunTimeout(t *testing.T) {
	e := New(blockingReasoner{}, newFakeTools(nil), WithRunTimeout(50*time.Millisecond))

	proc, err := e.Run(context.Background(), request("q", 3), nil)
	require.Error(t, err)
	assert.Equal(t, domain.ProcessStatusFailed, proc.Status)
	assert.ErrorIs(t, err, &domain.APIError{Type: domain.ErrorTypeServer, Code: domain.ErrorCodeRunTimeout})
}

func TestEngine_AgentCall(t *testing.T) {
	reasoner := rt.New(
		rt.Call("delegate", rt.Agent("researcher", "What time is it in Tokyo?")),
		rt.Answer("child done", "It is noon in Tokyo."),
		rt.Answer("parent done", "The researcher says it is noon in Tokyo."),
	)
	e := New(reasoner, newFakeTools(map[string]toolFunc{
		"get_time": func(map[string]any) (string, error) { return "12:00", nil },
		"secret":   func(map[string]any) (string, error) { return "nope", nil },
	}), WithAgents([]domain.AgentDescriptor{{
		Name:          "researcher",
		Description:   "Looks things up",
		Tools:         []string{"get_time"},
		MaxIterations: 2,
	}}))

	proc, err := e.Run(context.Background(), request("Ask the researcher", 3), nil)
	require.NoError(t, err)
	assert.Equal(t, "The researcher says it is noon in Tokyo.", proc.Response)

	call := proc.IterationHistory[0].StructuredThought.FunctionCalls[0]
	assert.Equal(t, domain.CallTypeAgent, call.Type)
	assert.Equal(t, "It is noon in Tokyo.", call.Result)
	require.NotNil(t, call.InternalRouterProcess)
	child := call.InternalRouterProcess
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, 2, child.MaxIterations)
	assert.Equal(t, domain.ProcessStatusCompleted, child.Status)

	reqs := reasoner.Requests()
	require.Len(t, reqs, 3)
	assert.Len(t, reqs[0].Agents, 1)
	require.Len(t, reqs[1].Tools, 1, "sub-agent only sees its allow-listed tools")
	assert.Equal(t, "get_time", reqs[1].Tools[0].Name)
}

func TestEngine_AgentDepthLimit(t *testing.T) {
	reasoner := rt.New(
		rt.Call("delegate", rt.Agent("researcher", "q")),
		rt.Answer("done", "fallback"),
	)
	e := New(reasoner, newFakeTools(nil),
		WithMaxDepth(0),
		WithAgents([]domain.AgentDescriptor{{Name: "researcher"}}))

	proc, err := e.Run(context.Background(), request("q", 2), nil)
	require.NoError(t, err)

	call := proc.IterationHistory[0].StructuredThought.FunctionCalls[0]
	assert.True(t, call.Error)
	assert.Contains(t, call.Result, "depth limit")
	assert.Nil(t, call.InternalRouterProcess)
	assert.Empty(t, reasoner.Requests()[0].Agents)
}

type denyPolicy struct{ blocked string }

func (p denyPolicy) Evaluate(_ context.Context, in ports.PolicyInput) (ports.PolicyDecision, error) {
	if in.Tool == p.blocked {
		return ports.PolicyDecision{Allow: false, Reason: "tool is blocked"}, nil
	}
	return ports.PolicyDecision{Allow: true}, nil
}

func TestEngine_PolicyBlock(t *testing.T) {
	reasoner := rt.New(
		rt.Call("try", rt.Tool("rm_rf", nil), rt.Tool("ok", nil)),
		rt.Answer("done", "done"),
	)
	tools := newFakeTools(map[string]toolFunc{
		"rm_rf": func(map[string]any) (string, error) { return "deleted", nil },
		"ok":    func(map[string]any) (string, error) { return "fine", nil },
	})
	e := New(reasoner, tools, WithPolicy(denyPolicy{blocked: "rm_rf"}))

	proc, err := e.Run(context.Background(), request("q", 2), nil)
	require.NoError(t, err)

	calls := proc.IterationHistory[0].StructuredThought.FunctionCalls
	assert.True(t, calls[0].Error)
	assert.Contains(t, calls[0].Result, "blocked by policy")
	assert.Equal(t, "fine", calls[1].Result)
	assert.Equal(t, []string{"ok"}, tools.calls)
}

func TestEngine_Start(t *testing.T) {
	reasoner := rt.New(
		rt.Call("one", rt.Tool("echo", nil)),
		rt.Call("two", rt.Tool("echo", nil)),
		rt.Answer("three", "done"),
	)
	e := New(reasoner, newFakeTools(map[string]toolFunc{
		"echo": func(map[string]any) (string, error) { return "x", nil },
	}))

	run, err := e.Start(context.Background(), request("q", 5))
	require.NoError(t, err)

	var got []int
	for it := range run.Iterations() {
		got = append(got, it.Iteration)
	}
	<-run.Done()

	assert.Equal(t, []int{1, 2, 3}, got)
	proc, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessStatusCompleted, proc.Status)
	assert.Same(t, proc, run.Process())
}

func TestEngine_StartUnreadConsumerDoesNotBlock(t *testing.T) {
	reasoner := rt.New(rt.Call("again", rt.Tool("echo", nil)))
	e := New(reasoner, newFakeTools(map[string]toolFunc{
		"echo": func(map[string]any) (string, error) { return "x", nil },
	}))

	run, err := e.Start(context.Background(), request("q", 4))
	require.NoError(t, err)

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run blocked on an unread iterations channel")
	}
	assert.Len(t, run.Process().IterationHistory, 4)
}

func TestEngine_StartCancel(t *testing.T) {
	release := make(chan struct{})
	reasoner := rt.New(func(ports.ThinkRequest) (*domain.Thought, error) {
		<-release
		return &domain.Thought{StructuredThought: domain.StructuredThought{
			FunctionCalls: []domain.ToolCallWithResult{rt.Tool("echo", nil)},
		}}, nil
	})
	e := New(reasoner, newFakeTools(map[string]toolFunc{
		"echo": func(map[string]any) (string, error) { return "x", nil },
	}))

	run, err := e.Start(context.Background(), request("q", 5))
	require.NoError(t, err)
	run.Cancel()
	close(release)

	proc, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessStatusCancelled, proc.Status)
	assert.LessOrEqual(t, len(proc.IterationHistory), 1)
}

func TestEngine_TerminalInvariant(t *testing.T) {
	scripts := map[string][]rt.Step{
		"completed": {rt.Answer("", "yes")},
		"failed":    {rt.Fail(errors.New("down")), rt.Fail(errors.New("still down"))},
	}
	for name, steps := range scripts {
		t.Run(name, func(t *testing.T) {
			proc, _ := New(rt.New(steps...), newFakeTools(nil)).Run(context.Background(), request("q", 2), nil)
			require.NotNil(t, proc)
			require.True(t, proc.Status.IsTerminal())
			require.NotNil(t, proc.CompletedAt)
			switch proc.Status {
			case domain.ProcessStatusCompleted:
				assert.NotEmpty(t, proc.Response)
				assert.Empty(t, proc.Error)
			case domain.ProcessStatusFailed:
				assert.Empty(t, proc.Response)
				assert.NotEmpty(t, proc.Error)
				assert.Equal(t, domain.ErrorTypeServer, proc.ErrorType)
			}
		})
	}
}
