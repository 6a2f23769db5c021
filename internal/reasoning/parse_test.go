package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/agent-router/internal/core/domain"
)

func TestParseThought(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantCalls int
		wantDone  bool
		wantAns   string
		wantErr   bool
	}{
		{
			name:      "tool call",
			raw:       `{"thought":"need weather","function_calls":[{"function":"get_weather","args":{"city":"Paris"}}],"is_finished":false}`,
			wantCalls: 1,
		},
		{
			name:     "final answer in fences",
			raw:      "```json\n{\"thought\":\"done\",\"is_finished\":true,\"answer\":\"Sunny\"}\n```",
			wantDone: true,
			wantAns:  "Sunny",
		},
		{
			name:    "answer without finishing",
			raw:     `Sure. {"thought":"easy","function_calls":[],"answer":"4"}`,
			wantAns: "4",
		},
		{name: "prose only", raw: "I think it is sunny.", wantErr: true},
		{name: "truncated", raw: `{"thought": "x", "function_calls": [`, wantErr: true},
		{name: "missing function name", raw: `{"function_calls":[{"args":{}}]}`, wantErr: true},
		{name: "unknown call type", raw: `{"function_calls":[{"function":"x","type":"rpc"}]}`, wantErr: true},
		{name: "finished without answer", raw: `{"thought":"x","is_finished":true}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseThought(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, domain.IsType(err, domain.ErrorTypeMalformedOutput))
				return
			}
			require.NoError(t, err)
			assert.Len(t, got.StructuredThought.FunctionCalls, tt.wantCalls)
			assert.Equal(t, tt.wantDone, got.StructuredThought.IsFinished)
			assert.Equal(t, tt.wantAns, got.Answer)
		})
	}
}

func TestParseThought_CallDefaults(t *testing.T) {
	got, err := ParseThought(`{"function_calls":[{"function":"get_time"},{"function":"researcher","type":"agent","args":{"question":"q"}}]}`)
	require.NoError(t, err)

	calls := got.StructuredThought.FunctionCalls
	require.Len(t, calls, 2)
	assert.Equal(t, domain.CallTypeTool, calls[0].Type)
	assert.NotNil(t, calls[0].Args)
	assert.Empty(t, calls[0].Result)
	assert.Equal(t, domain.CallTypeAgent, calls[1].Type)
	assert.Equal(t, "q", calls[1].Args["question"])
}
