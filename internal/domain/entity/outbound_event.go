package entity

// EventKind enumerates the internal, dialect-neutral events the translation
// state machine emits. Dialect adapters (internal/infrastructure/dialect/...)
// each know how to frame every kind in their own wire format.
type EventKind int

const (
	EventRoleAssistant EventKind = iota // first frame of a response: role announcement
	EventTextDelta                      // answer-phase text delta
	EventReasoningStart                 // reasoning content block opened
	EventReasoningDelta                 // reasoning-phase text delta
	EventReasoningStop                  // reasoning content block closed
	EventReasoningSignature             // signed reasoning buffer (think/raw render + millis signature)
	EventToolOpen                       // a new tool call was opened
	EventToolArgsDelta                  // a ≤100-byte fragment of a tool call's canonical JSON arguments
	EventToolStop                       // a tool call closed successfully
	EventToolError                      // a tool call closed with a JSON parse failure
	EventUsage                          // usage update (buffered, not necessarily final)
	EventFinish                         // terminal event: carries the one finish_reason/stop_reason
	EventErr                            // unrecoverable stream error; terminal
)

// OutboundEvent is one unit on the bounded queue between the translation
// state machine and the dialect-specific writer. Seq is assigned in strict
// emission order and must never be reordered downstream.
type OutboundEvent struct {
	Seq  uint64
	Kind EventKind

	Text string // EventTextDelta, EventReasoningDelta, EventReasoningSignature (rendered text)

	ToolIndex int    // EventToolOpen, EventToolArgsDelta, EventToolStop, EventToolError
	ToolID    string // EventToolOpen
	ToolName  string // EventToolOpen
	ArgsDelta string // EventToolArgsDelta: one fragment, ≤100 bytes
	ToolErr   string // EventToolError: human-readable cause (the JSON error)

	SignatureMillis  int64 // EventReasoningSignature
	ReasoningSeconds int64 // EventReasoningSignature, raw mode only

	PromptTokens     int // EventUsage / EventFinish
	CompletionTokens int // EventUsage / EventFinish
	TotalTokens      int // EventUsage / EventFinish
	UsageIsExplicit  bool

	FinishReason string // EventFinish: "stop" | "tool_calls" | "tool_use" | "end_turn" | ...

	ErrKind    string // EventErr
	ErrMessage string // EventErr
}
