// Package reasoning holds the provider-neutral half of the reasoning client:
// the prompt template, thought parsing and the backend factory registry.
package reasoning

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
)

// Message is a provider-neutral chat turn.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var systemTemplate = template.Must(template.New("system").Funcs(template.FuncMap{
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return "{}"
		}
		return string(b)
	},
}).Parse(`You are a routing agent. You answer the user's question by reasoning step by step and calling tools when they help.

Each turn you MUST reply with a single JSON object and nothing else:
{
  "thought": "<your reasoning for this step>",
  "function_calls": [{"function": "<name>", "type": "tool" | "agent", "args": {...}}],
  "is_finished": true | false,
  "answer": "<final answer when you have one>"
}

Rules:
- Request every call you need for this step in function_calls; they run in parallel.
- Set is_finished to true only when "answer" holds the final answer.
- If no call is needed, leave function_calls empty and give the answer.
- This is step {{.Iteration}} of at most {{.MaxIterations}}.{{if eq .Iteration .MaxIterations}} This is the last step: answer now.{{end}}
{{if .Tools}}
Tools (type "tool"):
{{range .Tools}}- {{.Name}}: {{.Description}} args schema: {{json .ArgSchema}}
{{end}}{{end}}{{if .Agents}}
Agents (type "agent", args: {"question": "<sub-question>"}):
{{range .Agents}}- {{.Name}}: {{.Description}}
{{end}}{{end}}`))

// BuildMessages renders the conversation sent to the model for one iteration.
func BuildMessages(req ports.ThinkRequest) ([]Message, error) {
	var sys strings.Builder
	if err := systemTemplate.Execute(&sys, req); err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}

	msgs := make([]Message, 0, len(req.PreviousContext)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: sys.String()})

	for _, m := range req.PreviousContext {
		role := RoleUser
		if m.Role == domain.RoleAssistant {
			role = RoleAssistant
		}
		msgs = append(msgs, Message{Role: role, Content: m.Content})
	}

	msgs = append(msgs, Message{Role: RoleUser, Content: renderTurn(req)})
	return msgs, nil
}

// renderTurn states the question and everything observed so far.
func renderTurn(req ports.ThinkRequest) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(req.Question)
	b.WriteString("\n")

	for _, it := range req.History {
		fmt.Fprintf(&b, "\nStep %d thought: %s\n", it.Iteration, it.NaturalLanguageThought)
		for _, call := range it.StructuredThought.FunctionCalls {
			fmt.Fprintf(&b, "- %s(%s) -> %s\n", call.Function, compactJSON(call.Args), call.Result)
		}
		if it.Response != "" {
			fmt.Fprintf(&b, "Observation: %s\n", it.Response)
		}
	}

	if req.RepairHint != "" {
		b.WriteString("\nYour previous reply could not be used: ")
		b.WriteString(req.RepairHint)
		b.WriteString("\nReply again with one valid JSON object.\n")
	}
	return b.String()
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
