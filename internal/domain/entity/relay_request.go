package entity

// RelayRole is the dialect-neutral speaker role for one conversation turn.
type RelayRole string

const (
	RoleSystem    RelayRole = "system"
	RoleUser      RelayRole = "user"
	RoleAssistant RelayRole = "assistant"
	RoleTool      RelayRole = "tool"
)

// RelayToolCall is one function invocation carried on an assistant turn,
// in either direction: parsed from an inbound history, or produced by the
// translation engine for an outbound response.
type RelayToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON object text
}

// RelayToolResult is the tool role's payload: the output of one prior
// RelayToolCall, matched by ToolCallID.
type RelayToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// RelayMessage is one dialect-neutral conversation turn.
type RelayMessage struct {
	Role       RelayRole
	Text       string
	ToolCalls  []RelayToolCall  // assistant turns only
	ToolResult *RelayToolResult // tool turns only
}

// RelayToolSchema is one tool definition offered to the model, translated
// from whichever dialect's schema shape the caller used.
type RelayToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON Schema object
}

// RelayRequest is the dialect-neutral request the Request Transformer
// normalizes and the upstream client serializes. Dialect adapters
// (internal/infrastructure/dialect/...) are solely responsible for
// populating one of these from their own wire format.
type RelayRequest struct {
	Model        string
	System       string
	Messages     []RelayMessage
	Tools        []RelayToolSchema
	Stream       bool
	MaxTokens    int
	Temperature  *float64
	ReasoningMode ReasoningMode
}
