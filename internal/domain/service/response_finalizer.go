package service

import (
	"strings"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
)

// FinalizedResponse is the aggregated result of draining one Engine's
// OutboundEvent stream for a non-streaming caller.
type FinalizedResponse struct {
	Text          string
	ReasoningText string
	ToolCalls     []entity.ToolCall
	FinishReason  string

	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	UsageIsExplicit  bool

	ErrKind    string
	ErrMessage string
}

// Finalizer aggregates a streamed OutboundEvent sequence into one complete
// response, mirroring the teacher's ParseSSEStream non-streaming
// accumulation path (openai/sse.go): a content builder plus a per-index
// tool-call map, generalized to also respect the suppression rule already
// enforced upstream by the Engine — the Finalizer only ever sees events the
// Engine already decided to emit, so it aggregates, it never re-suppresses.
type Finalizer struct {
	textBuilder      strings.Builder
	reasoningBuilder strings.Builder
	toolArgs         map[int]*strings.Builder
	toolIndex        []int
	toolMeta         map[int]entity.ToolCall
}

// NewFinalizer returns an empty Finalizer ready to consume one response's
// events in order.
func NewFinalizer() *Finalizer {
	return &Finalizer{
		toolArgs: make(map[int]*strings.Builder),
		toolMeta: make(map[int]entity.ToolCall),
	}
}

// Apply folds one OutboundEvent into the aggregate. Call in strict Seq
// order; the caller (the HTTP handler's non-streaming path) is responsible
// for draining the channel in order, same as for a streaming caller.
func (f *Finalizer) Apply(ev entity.OutboundEvent) {
	switch ev.Kind {
	case entity.EventTextDelta:
		f.textBuilder.WriteString(ev.Text)

	case entity.EventReasoningSignature:
		// Rendered, signed reasoning text — a separate field (OpenAI's
		// reasoning_content, Anthropic's thinking block), never folded
		// into the answer content (spec.md §4.6: only text deltas
		// concatenate into content).
		f.reasoningBuilder.WriteString(ev.Text)

	case entity.EventToolOpen:
		f.toolArgs[ev.ToolIndex] = &strings.Builder{}
		f.toolIndex = append(f.toolIndex, ev.ToolIndex)
		f.toolMeta[ev.ToolIndex] = entity.ToolCall{
			Index: ev.ToolIndex,
			ID:    ev.ToolID,
			Name:  ev.ToolName,
			State: entity.ToolCallOpen,
		}

	case entity.EventToolArgsDelta:
		if b, ok := f.toolArgs[ev.ToolIndex]; ok {
			b.WriteString(ev.ArgsDelta)
		}

	case entity.EventToolStop:
		meta := f.toolMeta[ev.ToolIndex]
		meta.State = entity.ToolCallClosed
		f.toolMeta[ev.ToolIndex] = meta

	case entity.EventToolError:
		meta := f.toolMeta[ev.ToolIndex]
		meta.State = entity.ToolCallClosed
		f.toolMeta[ev.ToolIndex] = meta
	}
}

// Result returns the final aggregated response. finishReason and usage come
// from the terminal EventFinish (or EventErr); callers pass those fields in
// directly since Apply does not special-case the terminal event itself.
func (f *Finalizer) Result(finishReason string, promptTokens, completionTokens, totalTokens int, usageExplicit bool) FinalizedResponse {
	text := f.textBuilder.String()

	if !usageExplicit {
		promptTokens = 0
		completionTokens = estimateTokens(text)
		totalTokens = promptTokens + completionTokens
	}

	result := FinalizedResponse{
		Text:             text,
		ReasoningText:    f.reasoningBuilder.String(),
		FinishReason:     finishReason,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      totalTokens,
		UsageIsExplicit:  usageExplicit,
	}

	for _, idx := range f.toolIndex {
		tc := f.toolMeta[idx]
		tc.ArgumentsBuffer = f.toolArgs[idx].String()
		result.ToolCalls = append(result.ToolCalls, tc)
	}

	return result
}

// estimateTokens is the length/4 fallback spec.md §1 calls out as
// sufficient when upstream never reports usage, rounded up so a
// non-empty response never estimates to zero tokens.
func estimateTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
