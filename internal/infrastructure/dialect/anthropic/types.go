// Package anthropic implements the Anthropic Messages wire dialect: wire
// structs, request parsing into entity.RelayRequest, and response framing
// from entity.OutboundEvent — generalized from the teacher's llm/anthropic
// sub-package, direction reversed since this relay is the server of this
// dialect rather than a client calling an Anthropic-compatible upstream.
package anthropic

// Request is the Anthropic Messages API request format.
type Request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// Message is one Anthropic conversation turn: role plus content blocks.
type Message struct {
	Role    string         `json:"role"` // "user" | "assistant"
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a polymorphic content element: text, tool_use, tool_result,
// or thinking, distinguished by Type.
type ContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`

	Thinking string `json:"thinking,omitempty"`
}

// Tool is an Anthropic tool definition.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Response is the non-streaming Anthropic Messages API response.
type Response struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamEvent is one typed SSE event in Anthropic's streaming protocol.
// Unlike OpenAI's flat chunk stream, Anthropic frames each content block's
// lifecycle explicitly: message_start, content_block_start/_delta/_stop
// (repeated per block), message_delta (usage/stop_reason), message_stop.
type StreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index,omitempty"`

	ContentBlock *ContentBlock `json:"content_block,omitempty"`
	Delta        *DeltaBlock   `json:"delta,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
	Message      *Response     `json:"message,omitempty"`
}

// DeltaBlock is the incremental payload of a content_block_delta or
// message_delta event.
type DeltaBlock struct {
	Type        string `json:"type"` // "text_delta" | "input_json_delta" | "thinking_delta" | "signature_delta"
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// ErrorResponse is the Anthropic-compatible error body.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the type/message pair Anthropic clients expect.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
