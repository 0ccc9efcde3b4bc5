package anthropic

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
)

// ToRelayRequest translates one inbound Request into the dialect-neutral
// entity.RelayRequest. System is already a top-level field in this dialect,
// unlike OpenAI where it must be pulled out of the messages array.
func ToRelayRequest(req Request, mode entity.ReasoningMode) entity.RelayRequest {
	out := entity.RelayRequest{
		Model:         req.Model,
		System:        req.System,
		Stream:        req.Stream,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		ReasoningMode: mode,
	}

	for _, m := range req.Messages {
		rm := entity.RelayMessage{Role: entity.RelayRole(m.Role)}

		for _, block := range m.Content {
			switch block.Type {
			case "text":
				if rm.Text != "" {
					rm.Text += "\n"
				}
				rm.Text += block.Text
			case "tool_use":
				args, _ := json.Marshal(block.Input)
				rm.ToolCalls = append(rm.ToolCalls, entity.RelayToolCall{
					ID:        block.ID,
					Name:      block.Name,
					Arguments: string(args),
				})
			case "tool_result":
				rm.Role = entity.RoleTool
				rm.ToolResult = &entity.RelayToolResult{
					ToolCallID: block.ToolUseID,
					Content:    block.Content,
				}
			}
		}

		out.Messages = append(out.Messages, rm)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, entity.RelayToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  ConvertSchema(t.InputSchema),
		})
	}

	return out
}

// ConvertSchema ensures a tool parameter schema has a proper JSON Schema
// object shape, ported verbatim from the teacher's anthropic.ConvertSchema.
func ConvertSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}
	result := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		result[k] = v
	}
	if _, ok := result["type"]; !ok {
		result["type"] = "object"
	}
	return result
}

// blockKind enumerates which content block is currently open on the stream.
type blockKind int

const (
	blockNone blockKind = iota
	blockThinking
	blockText
	blockToolUse
)

// StreamWriter frames entity.OutboundEvent values as Anthropic's
// message_start / content_block_start / content_block_delta /
// content_block_stop / message_delta / message_stop event sequence. Unlike
// OpenAI's flat delta stream, Anthropic requires each content block's
// lifecycle to be explicit and non-overlapping, so the writer tracks which
// block kind (if any) is currently open and closes it before opening the
// next one.
type StreamWriter struct {
	w        io.Writer
	model    string
	nextIdx  int
	current  blockKind
	curIdx   int
	started  bool
}

// NewStreamWriter builds a StreamWriter for one response.
func NewStreamWriter(w io.Writer, model string) *StreamWriter {
	return &StreamWriter{w: w, model: model}
}

// Write translates one OutboundEvent into zero or more Anthropic SSE events.
func (s *StreamWriter) Write(ev entity.OutboundEvent) error {
	switch ev.Kind {
	case entity.EventRoleAssistant:
		return s.writeMessageStart()

	case entity.EventReasoningStart:
		return s.openBlock(blockThinking, ContentBlock{Type: "thinking"})

	case entity.EventReasoningDelta:
		if ev.Text == "" {
			return nil
		}
		if s.current != blockThinking {
			if err := s.openBlock(blockThinking, ContentBlock{Type: "thinking"}); err != nil {
				return err
			}
		}
		return s.writeEvent(StreamEvent{
			Type:  "content_block_delta",
			Index: s.curIdx,
			Delta: &DeltaBlock{Type: "thinking_delta", Thinking: ev.Text},
		})

	case entity.EventReasoningStop:
		return s.closeCurrentBlock()

	case entity.EventReasoningSignature:
		// The thinking block already closed on EventReasoningStop; the
		// signed, rendered text was only needed for dialects (or render
		// modes) that fold reasoning into plain text — native Anthropic
		// thinking blocks carry no separate signature frame here.
		return nil

	case entity.EventTextDelta:
		if ev.Text == "" {
			return nil
		}
		if s.current != blockText {
			if err := s.closeCurrentBlock(); err != nil {
				return err
			}
			if err := s.openBlock(blockText, ContentBlock{Type: "text"}); err != nil {
				return err
			}
		}
		return s.writeEvent(StreamEvent{
			Type:  "content_block_delta",
			Index: s.curIdx,
			Delta: &DeltaBlock{Type: "text_delta", Text: ev.Text},
		})

	case entity.EventToolOpen:
		if err := s.closeCurrentBlock(); err != nil {
			return err
		}
		return s.openBlock(blockToolUse, ContentBlock{
			Type: "tool_use",
			ID:   ev.ToolID,
			Name: ev.ToolName,
		})

	case entity.EventToolArgsDelta:
		return s.writeEvent(StreamEvent{
			Type:  "content_block_delta",
			Index: s.curIdx,
			Delta: &DeltaBlock{Type: "input_json_delta", PartialJSON: ev.ArgsDelta},
		})

	case entity.EventToolStop, entity.EventToolError:
		return s.closeCurrentBlock()

	case entity.EventFinish:
		if err := s.closeCurrentBlock(); err != nil {
			return err
		}
		reason := mapStopReason(ev.FinishReason)
		if err := s.writeEvent(StreamEvent{
			Type: "message_delta",
			Delta: &DeltaBlock{StopReason: reason},
			Usage: &Usage{InputTokens: ev.PromptTokens, OutputTokens: ev.CompletionTokens},
		}); err != nil {
			return err
		}
		return s.writeEvent(StreamEvent{Type: "message_stop"})

	case entity.EventErr:
		return nil
	}
	return nil
}

func (s *StreamWriter) writeMessageStart() error {
	s.started = true
	msg := &Response{
		ID:      fmt.Sprintf("msg_%s", uuid.NewString()),
		Type:    "message",
		Role:    "assistant",
		Model:   s.model,
		Content: []ContentBlock{},
	}
	return s.writeEvent(StreamEvent{Type: "message_start", Message: msg})
}

func (s *StreamWriter) openBlock(kind blockKind, block ContentBlock) error {
	if err := s.closeCurrentBlock(); err != nil {
		return err
	}
	idx := s.nextIdx
	s.nextIdx++
	s.current = kind
	s.curIdx = idx
	return s.writeEvent(StreamEvent{Type: "content_block_start", Index: idx, ContentBlock: &block})
}

func (s *StreamWriter) closeCurrentBlock() error {
	if s.current == blockNone {
		return nil
	}
	idx := s.curIdx
	s.current = blockNone
	return s.writeEvent(StreamEvent{Type: "content_block_stop", Index: idx})
}

func (s *StreamWriter) writeEvent(ev StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	return nil
}

// mapStopReason translates the engine's dialect-neutral finish reason into
// Anthropic's vocabulary.
func mapStopReason(reason string) string {
	switch reason {
	case "tool_calls", "tool_use":
		return "tool_use"
	case "length", "max_tokens":
		return "max_tokens"
	case "stop", "":
		return "end_turn"
	default:
		return reason
	}
}

// BuildNonStreamResponse aggregates a finished Finalizer result into a
// single Response, mirroring the teacher's anthropic type shapes.
func BuildNonStreamResponse(model, text, reasoningText string, toolUses []ContentBlock, stopReason string, usage Usage) Response {
	content := make([]ContentBlock, 0, len(toolUses)+2)
	if reasoningText != "" {
		content = append(content, ContentBlock{Type: "thinking", Thinking: reasoningText})
	}
	if text != "" {
		content = append(content, ContentBlock{Type: "text", Text: text})
	}
	content = append(content, toolUses...)

	return Response{
		ID:         fmt.Sprintf("msg_%s", uuid.NewString()),
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      model,
		StopReason: mapStopReason(stopReason),
		Usage:      usage,
	}
}
