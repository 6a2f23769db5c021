package domain

// ToolDescriptor describes one callable tool discovered from a tool server.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	// ArgSchema is the JSON schema object describing the tool's arguments.
	ArgSchema map[string]any `json:"arg_schema,omitempty"`

	// Server is the configured tool server that owns the tool.
	Server string `json:"server,omitempty"`
}

// AgentDescriptor describes a sub-agent callable through an agent-typed tool call.
type AgentDescriptor struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Tools         []string `json:"tools,omitempty"`
	MaxIterations int      `json:"max_iterations"`
}

// Thought is one reasoning-model output for a single iteration.
type Thought struct {
	NaturalLanguageThought string            `json:"natural_language_thought"`
	StructuredThought      StructuredThought `json:"structured_thought"`

	// Answer is the textual answer, present when the model is ready to respond.
	Answer string `json:"answer,omitempty"`
}
