package entity

// Phase is the upstream-supplied tag on each decoded SSE frame.
type Phase string

const (
	PhaseThinking Phase = "thinking"
	PhaseAnswer   Phase = "answer"
	PhaseToolCall Phase = "tool_call"
	PhaseOther    Phase = "other"
)

// UpstreamUsage carries token accounting reported by the upstream, when present.
type UpstreamUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns the sum of input and output tokens.
func (u *UpstreamUsage) Total() int {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens
}

// UpstreamFrame is one decoded `data:` line from the upstream's SSE response,
// after unwrapping the outer envelope and decoding the nested `data` object.
// On tool_call phase frames, EditContent carries zero or more <glm_block>-
// wrapped payloads; the Tool-Call Assembler owns decoding them (id, name and
// arguments all live inside the block, not as frame-level fields).
type UpstreamFrame struct {
	Phase        Phase          `json:"phase"`
	DeltaContent string         `json:"delta_content,omitempty"`
	EditContent  string         `json:"edit_content,omitempty"`
	Usage        *UpstreamUsage `json:"usage,omitempty"`
	Done         bool           `json:"done,omitempty"`
}
