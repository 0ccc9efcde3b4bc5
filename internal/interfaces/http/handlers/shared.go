// Package handlers implements the dialect-facing HTTP endpoints: the
// OpenAI Chat Completions handler, the Anthropic Messages handler, and the
// small health/models endpoints, all sharing the upstream wire-body
// encoding and the common error envelope below.
package handlers

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
	"github.com/Baozhi888/zai2api-go/internal/domain/service"
)

type dialect int

const (
	dialectOpenAI dialect = iota
	dialectAnthropic
)

// upstreamMessage is the common-form chat message the upstream's own
// OpenAI-compatible endpoint expects (spec.md §6: "request body is the
// common-form chat request"), grounded on the teacher's own outbound
// message shape in openai.Provider.buildAPIRequest.
type upstreamMessage struct {
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolCalls  []upstreamToolCall `json:"tool_calls,omitempty"`
}

type upstreamToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Function upstreamToolCallFunc `json:"function"`
}

type upstreamToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type upstreamTool struct {
	Type     string               `json:"type"`
	Function upstreamToolFunction `json:"function"`
}

type upstreamToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type upstreamRequestBody struct {
	Model       string            `json:"model"`
	Messages    []upstreamMessage `json:"messages"`
	Tools       []upstreamTool    `json:"tools,omitempty"`
	Stream      bool              `json:"stream"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
}

// buildUpstreamBody serializes a normalized RelayRequest into the JSON body
// the upstream chat endpoint expects. Always sent with stream:true, since
// every inbound request — streaming or not — is translated by consuming the
// upstream's SSE response; non-streaming callers simply get it aggregated
// by the Response Finalizer instead of framed incrementally.
func buildUpstreamBody(req entity.RelayRequest) ([]byte, error) {
	body := upstreamRequestBody{
		Model:       req.Model,
		Stream:      true,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	for _, m := range req.Messages {
		um := upstreamMessage{Role: string(m.Role), Content: m.Text}
		if m.ToolResult != nil {
			um.ToolCallID = m.ToolResult.ToolCallID
			um.Content = m.ToolResult.Content
		}
		for _, tc := range m.ToolCalls {
			um.ToolCalls = append(um.ToolCalls, upstreamToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: upstreamToolCallFunc{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		body.Messages = append(body.Messages, um)
	}

	for _, t := range req.Tools {
		body.Tools = append(body.Tools, upstreamTool{
			Type: "function",
			Function: upstreamToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	return json.Marshal(body)
}

// writeDialectError renders err as the OpenAI-shaped error envelope both
// dialects share (spec.md §6), at the HTTP status its RelayKind maps to.
func writeDialectError(c *gin.Context, err error, _ dialect) {
	relayErr, ok := err.(*service.RelayError)
	if !ok {
		relayErr = service.NewRelayError(service.KindInternalError, err.Error(), err)
	}
	status := relayErr.Kind.HTTPStatus()
	if status == 0 {
		status = 500
	}
	c.JSON(status, gin.H{
		"error": gin.H{
			"message": relayErr.Message,
			"type":    relayErr.Kind.String(),
			"code":    relayErr.Kind.String(),
			"param":   nil,
		},
	})
}

// decodeToolArguments parses a closed tool call's canonical JSON arguments
// buffer back into a map for dialects (Anthropic) whose wire format wants
// structured input rather than a raw JSON string. An unparseable buffer
// (should not happen post-validation) yields an empty object rather than
// failing the whole response.
func decodeToolArguments(raw string) map[string]interface{} {
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

// drainUntilClosed forwards every event from events to the returned channel
// until events closes, then reports the Engine's terminal error (if any) via
// a trailing synthetic EventErr, and closes the returned channel. errCh
// carries the single error Engine.Run returns; the synthetic EventErr is
// only added when the Engine did not already emit one of its own (as it
// does on cancellation), so a response never carries two.
func drainUntilClosed(events <-chan entity.OutboundEvent, errCh <-chan error) <-chan entity.OutboundEvent {
	out := make(chan entity.OutboundEvent, cap(events))
	go func() {
		defer close(out)
		sawErr := false
		for ev := range events {
			if ev.Kind == entity.EventErr {
				sawErr = true
			}
			out <- ev
		}
		if err := <-errCh; err != nil && !sawErr {
			out <- entity.OutboundEvent{Kind: entity.EventErr, ErrKind: "InternalError", ErrMessage: err.Error()}
		}
	}()
	return out
}
