package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
)

// ToRelayRequest translates one inbound ChatCompletionRequest into the
// dialect-neutral entity.RelayRequest, generalizing the teacher's
// Provider.buildAPIRequest — run in reverse, since this relay is the server
// of the OpenAI dialect rather than its client.
func ToRelayRequest(req ChatCompletionRequest, mode entity.ReasoningMode) entity.RelayRequest {
	out := entity.RelayRequest{
		Model:         req.Model,
		Stream:        req.Stream,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		ReasoningMode: mode,
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			if out.System != "" {
				out.System += "\n\n"
			}
			out.System += m.Content
			continue
		}

		rm := entity.RelayMessage{
			Role: entity.RelayRole(m.Role),
			Text: m.Content,
		}

		if m.Role == "tool" {
			rm.ToolResult = &entity.RelayToolResult{
				ToolCallID: m.ToolCallID,
				Content:    m.Content,
			}
		}

		for _, tc := range m.ToolCalls {
			rm.ToolCalls = append(rm.ToolCalls, entity.RelayToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}

		out.Messages = append(out.Messages, rm)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, entity.RelayToolSchema{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  ConvertSchema(t.Function.Parameters),
		})
	}

	return out
}

// ConvertSchema ensures a tool parameter schema has a proper JSON Schema
// object shape, ported verbatim from the teacher's openai.ConvertSchema.
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

// StreamWriter frames entity.OutboundEvent values as OpenAI
// chat.completion.chunk SSE events.
type StreamWriter struct {
	w            io.Writer
	completionID string
	model        string
	created      int64
}

// NewStreamWriter builds a StreamWriter for one response, keyed by model.
func NewStreamWriter(w io.Writer, model string) *StreamWriter {
	return &StreamWriter{
		w:            w,
		completionID: fmt.Sprintf("chatcmpl-%s", uuid.NewString()),
		model:        model,
		created:      time.Now().Unix(),
	}
}

// Write translates one OutboundEvent into zero or more SSE chunks.
func (s *StreamWriter) Write(ev entity.OutboundEvent) error {
	switch ev.Kind {
	case entity.EventRoleAssistant:
		return s.emit(StreamDelta{Role: "assistant"}, nil)

	case entity.EventTextDelta:
		if ev.Text == "" {
			return nil
		}
		return s.emit(StreamDelta{Content: ev.Text}, nil)

	case entity.EventReasoningDelta, entity.EventReasoningSignature:
		if ev.Text == "" {
			return nil
		}
		return s.emit(StreamDelta{ReasoningContent: ev.Text}, nil)

	case entity.EventToolOpen:
		delta := StreamDelta{ToolCalls: []ToolCall{{
			Index: ev.ToolIndex,
			ID:    ev.ToolID,
			Type:  "function",
			Function: ToolCallFunc{
				Name: ev.ToolName,
			},
		}}}
		return s.emit(delta, nil)

	case entity.EventToolArgsDelta:
		delta := StreamDelta{ToolCalls: []ToolCall{{
			Index:    ev.ToolIndex,
			Function: ToolCallFunc{Arguments: ev.ArgsDelta},
		}}}
		return s.emit(delta, nil)

	case entity.EventFinish:
		reason := mapFinishReason(ev.FinishReason)
		return s.emit(StreamDelta{}, &reason)

	case entity.EventErr:
		// Error terminator: the handler writes an error body separately;
		// nothing further to frame here.
		return nil
	}
	return nil
}

func (s *StreamWriter) emit(delta StreamDelta, finishReason *string) error {
	chunk := StreamChunk{
		ID:      s.completionID,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []StreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal stream chunk: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}

// WriteDone writes the terminal `data: [DONE]` marker OpenAI clients expect.
func (s *StreamWriter) WriteDone() error {
	_, err := io.WriteString(s.w, "data: [DONE]\n\n")
	return err
}

// mapFinishReason translates the engine's dialect-neutral finish reason
// into OpenAI's vocabulary.
func mapFinishReason(reason string) string {
	switch reason {
	case "tool_use", "tool_calls":
		return "tool_calls"
	case "end_turn", "stop", "":
		return "stop"
	case "max_tokens", "length":
		return "length"
	default:
		return reason
	}
}

// BuildNonStreamResponse aggregates a finished Finalizer result into a
// single ChatCompletionResponse, mirroring the teacher's
// Provider.parseAPIResponse field mapping (content/tool-calls/usage).
func BuildNonStreamResponse(model, text, reasoningText string, toolCalls []ToolCall, finishReason string, usage Usage) ChatCompletionResponse {
	msg := Message{
		Role:             "assistant",
		Content:          text,
		ReasoningContent: reasoningText,
	}
	msg.ToolCalls = toolCalls

	return ChatCompletionResponse{
		ID:      fmt.Sprintf("chatcmpl-%s", uuid.NewString()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: mapFinishReason(finishReason),
		}},
		Usage: &usage,
	}
}
