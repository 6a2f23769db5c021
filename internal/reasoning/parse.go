package reasoning

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/tjfontaine/agent-router/internal/core/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type wireCall struct {
	Function string         `json:"function"`
	Type     string         `json:"type"`
	Args     map[string]any `json:"args"`
}

type wireThought struct {
	Thought       string     `json:"thought"`
	FunctionCalls []wireCall `json:"function_calls"`
	IsFinished    bool       `json:"is_finished"`
	Answer        string     `json:"answer"`
}

// ParseThought decodes a model reply into a Thought. Code fences and prose
// around the JSON object are tolerated; anything else is MalformedOutput.
func ParseThought(raw string) (*domain.Thought, error) {
	body := extractObject(raw)
	if body == "" {
		return nil, domain.ErrMalformedOutput("reply contains no JSON object")
	}

	var w wireThought
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return nil, domain.ErrMalformedOutput(fmt.Sprintf("invalid JSON: %v", err)).WithCause(err)
	}

	calls := make([]domain.ToolCallWithResult, 0, len(w.FunctionCalls))
	for i, c := range w.FunctionCalls {
		name := strings.TrimSpace(c.Function)
		if name == "" {
			return nil, domain.ErrMalformedOutput(fmt.Sprintf("function_calls[%d]: missing function name", i))
		}
		callType := domain.CallTypeTool
		switch c.Type {
		case "", string(domain.CallTypeTool):
		case string(domain.CallTypeAgent):
			callType = domain.CallTypeAgent
		default:
			return nil, domain.ErrMalformedOutput(fmt.Sprintf("function_calls[%d]: unknown type %q", i, c.Type))
		}
		args := c.Args
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, domain.ToolCallWithResult{Function: name, Args: args, Type: callType})
	}

	if w.IsFinished && len(calls) == 0 && strings.TrimSpace(w.Answer) == "" {
		return nil, domain.ErrMalformedOutput("is_finished without an answer")
	}

	return &domain.Thought{
		NaturalLanguageThought: w.Thought,
		StructuredThought: domain.StructuredThought{
			FunctionCalls: calls,
			IsFinished:    w.IsFinished,
		},
		Answer: strings.TrimSpace(w.Answer),
	}, nil
}

// extractObject returns the outermost {...} span of s, or "".
func extractObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
