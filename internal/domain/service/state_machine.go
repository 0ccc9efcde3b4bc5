package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
	"go.uber.org/zap"
)

// ReasoningMode re-exports entity.ReasoningMode so callers constructing an
// Engine don't need to import the entity package just for this one type.
type ReasoningMode = entity.ReasoningMode

// Clock returns the current wall-clock time in unix milliseconds. Tests
// substitute a deterministic clock; production uses time.Now().
type Clock func() int64

func wallClockMillis() int64 { return time.Now().UnixMilli() }

// Engine is the phase-driven translation state machine (spec §4.4). One
// Engine is created per inbound request; it owns exactly one
// ResponseState, one ReasoningBuffer, and one ToolSession, and is mutated
// by a single goroutine — the one running Run. Reads of State() from other
// goroutines (e.g. a cancellation watchdog) are the only concurrent access,
// hence the narrow RWMutex, mirroring the teacher's StateMachine.
type Engine struct {
	mu    sync.RWMutex
	state entity.ResponseState

	reasoning *entity.ReasoningBuffer
	tools     *entity.ToolSession
	mode      ReasoningMode
	now       Clock

	seq          uint64
	finishSent   bool
	usagePrompt  int
	usageComplete int
	usageExplicit bool

	logger *zap.Logger
}

// NewEngine creates an Engine starting in StateInit.
func NewEngine(mode ReasoningMode, logger *zap.Logger) *Engine {
	return &Engine{
		state:     entity.StateInit,
		reasoning: &entity.ReasoningBuffer{},
		tools:     entity.NewToolSession(),
		mode:      mode,
		now:       wallClockMillis,
		logger:    logger,
	}
}

// State returns the current state (thread-safe read).
func (e *Engine) State() entity.ResponseState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) transition(to entity.ResponseState) error {
	from := e.state
	if from == to {
		return nil
	}
	if !entity.CanTransition(from, to) {
		err := fmt.Errorf("invalid response state transition: %s -> %s", from, to)
		e.logger.Error("state machine violation", zap.Error(err))
		return err
	}
	e.mu.Lock()
	e.state = to
	e.mu.Unlock()
	e.logger.Debug("response state transition", zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

func (e *Engine) nextSeq() uint64 {
	e.seq++
	return e.seq
}

// Run consumes frames until the channel closes or a terminal state is
// reached, pushing OutboundEvents onto out in strict emission order. Run
// returns when the engine reaches StateDone or StateError, or when ctx is
// cancelled — in which case it emits a single EventErr terminator before
// returning, honoring the "exactly one finish_reason/stop_reason" invariant.
func (e *Engine) Run(ctx context.Context, frames <-chan entity.UpstreamFrame, out chan<- entity.OutboundEvent) error {
	emitted := false

	send := func(evt entity.OutboundEvent) bool {
		evt.Seq = e.nextSeq()
		select {
		case out <- evt:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			e.emitErrorTerminator(send, ctx.Err())
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				e.finishIfNeeded(send, "stop")
				_ = e.transition(entity.StateDone)
				return nil
			}
			if entity.IsTerminal(e.state) {
				// After DONE/ERROR, further frames are discarded (spec §4.4).
				continue
			}
			if !emitted {
				emitted = true
				send(entity.OutboundEvent{Kind: entity.EventRoleAssistant})
			}
			if err := e.handleFrame(send, frame); err != nil {
				return err
			}
			if frame.Done {
				e.finishIfNeeded(send, "stop")
				_ = e.transition(entity.StateDone)
				return nil
			}
		}
	}
}

func (e *Engine) emitErrorTerminator(send func(entity.OutboundEvent) bool, cause error) {
	if e.finishSent {
		return
	}
	e.finishSent = true
	_ = e.transition(entity.StateError)
	send(entity.OutboundEvent{
		Kind:       entity.EventErr,
		ErrKind:    "InternalError",
		ErrMessage: cause.Error(),
	})
}

func (e *Engine) finishIfNeeded(send func(entity.OutboundEvent) bool, reason string) {
	if e.finishSent {
		return
	}
	e.finishSent = true
	if e.tools.Len() > 0 {
		reason = "tool_calls"
	}
	send(entity.OutboundEvent{
		Kind:             entity.EventFinish,
		FinishReason:     reason,
		PromptTokens:     e.usagePrompt,
		CompletionTokens: e.usageComplete,
		TotalTokens:      e.usagePrompt + e.usageComplete,
		UsageIsExplicit:  e.usageExplicit,
	})
}

// handleFrame applies one upstream frame per the transition table in
// spec.md §4.4, returning a non-nil error for an invalid transition or for
// a closed <glm_block> whose payload does not decode as JSON (well-formed
// upstream streams trigger neither).
func (e *Engine) handleFrame(send func(entity.OutboundEvent) bool, frame entity.UpstreamFrame) error {
	if frame.Usage != nil {
		e.usagePrompt = frame.Usage.InputTokens
		e.usageComplete = frame.Usage.OutputTokens
		e.usageExplicit = true
		send(entity.OutboundEvent{
			Kind:             entity.EventUsage,
			PromptTokens:     e.usagePrompt,
			CompletionTokens: e.usageComplete,
			TotalTokens:      e.usagePrompt + e.usageComplete,
			UsageIsExplicit:  true,
		})
	}

	switch frame.Phase {
	case entity.PhaseThinking:
		return e.handleThinking(send, frame)
	case entity.PhaseAnswer:
		return e.handleAnswer(send, frame)
	case entity.PhaseToolCall:
		return e.handleToolCall(send, frame)
	case entity.PhaseOther:
		return e.handleOther(send, frame)
	}
	return nil
}

func (e *Engine) handleThinking(send func(entity.OutboundEvent) bool, frame entity.UpstreamFrame) error {
	if frame.DeltaContent == "" {
		return nil
	}
	wasStarted := e.reasoning.Started()
	e.reasoning.Begin(e.now())
	e.reasoning.Append(frame.DeltaContent)

	if !wasStarted {
		if err := e.transition(entity.StateStreamingThink); err != nil {
			return err
		}
		send(entity.OutboundEvent{Kind: entity.EventReasoningStart})
	}
	send(entity.OutboundEvent{Kind: entity.EventReasoningDelta, Text: frame.DeltaContent})
	return nil
}

func (e *Engine) handleAnswer(send func(entity.OutboundEvent) bool, frame entity.UpstreamFrame) error {
	// A reasoning buffer in flight freezes at the first answer frame whose
	// edit_content carries the closing terminator (spec §3, §4.4).
	if e.reasoning.Started() && !e.reasoning.Frozen() && containsDetailsTerminator(frame.EditContent) {
		e.reasoning.Freeze(e.now())
		if err := e.transition(entity.StatePostThinkBridge); err != nil {
			return err
		}
		send(entity.OutboundEvent{Kind: entity.EventReasoningStop})
		rendered := RenderReasoning(e.reasoning, e.mode, e.now())
		sig, _ := e.reasoning.Signature()
		send(entity.OutboundEvent{
			Kind:            entity.EventReasoningSignature,
			Text:            rendered,
			SignatureMillis: sig,
			ReasoningSeconds: e.reasoning.ElapsedSeconds(sig),
		})
	}

	if frame.DeltaContent == "" {
		return nil
	}

	// Suppression rule: while any tool call is active, including one whose
	// <glm_block> is still awaiting its closer, answer text never reaches
	// the caller (spec §4.4, critical invariant).
	if e.tools.AnyActive || e.tools.PendingBlock != "" {
		return nil
	}

	if e.state != entity.StateStreamingAnswer {
		if err := e.transition(entity.StateStreamingAnswer); err != nil {
			return err
		}
	}

	// Defense in depth: some upstream models inline a stray <think> tag even
	// in answer-phase content instead of using the thinking phase. Strip it
	// so reasoning content never reaches the caller outside the dedicated
	// reasoning events.
	text := StripReasoningTags(frame.DeltaContent)
	if text == "" {
		return nil
	}
	send(entity.OutboundEvent{Kind: entity.EventTextDelta, Text: text})
	return nil
}

func (e *Engine) handleToolCall(send func(entity.OutboundEvent) bool, frame entity.UpstreamFrame) error {
	if e.state != entity.StateToolCall {
		if err := e.transition(entity.StateToolCall); err != nil {
			return err
		}
	}
	return AssembleToolCallFrame(e.tools, frame, send)
}

func (e *Engine) handleOther(send func(entity.OutboundEvent) bool, frame entity.UpstreamFrame) error {
	if !isToolTerminator(frame.EditContent) {
		return nil
	}
	if !e.tools.AnyActive {
		// Open question (a): a null,-prefixed other frame with no active
		// calls is treated as a no-op.
		return nil
	}
	closed := e.tools.CloseAll()
	for _, tc := range closed {
		if err := ValidateToolArguments(tc); err != nil {
			tc.Err = err
			send(entity.OutboundEvent{Kind: entity.EventToolError, ToolIndex: tc.Index, ToolErr: err.Error()})
			continue
		}
		send(entity.OutboundEvent{Kind: entity.EventToolStop, ToolIndex: tc.Index})
	}
	return nil
}

func containsDetailsTerminator(s string) bool {
	return strings.Contains(s, "</details>\n")
}

func isToolTerminator(editContent string) bool {
	return strings.HasPrefix(editContent, "null,")
}
