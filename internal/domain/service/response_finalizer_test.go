package service

import (
	"testing"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
)

func TestFinalizerConcatenatesTextDeltasOnly(t *testing.T) {
	f := NewFinalizer()
	f.Apply(entity.OutboundEvent{Kind: entity.EventRoleAssistant})
	f.Apply(entity.OutboundEvent{Kind: entity.EventReasoningSignature, Text: "because the sky scatters blue light"})
	f.Apply(entity.OutboundEvent{Kind: entity.EventTextDelta, Text: "The sky "})
	f.Apply(entity.OutboundEvent{Kind: entity.EventTextDelta, Text: "is blue."})

	result := f.Result("stop", 10, 5, 15, true)
	if result.Text != "The sky is blue." {
		t.Fatalf("expected answer text only, got %q", result.Text)
	}
	if result.ReasoningText != "because the sky scatters blue light" {
		t.Fatalf("expected reasoning text kept separate, got %q", result.ReasoningText)
	}
}

func TestFinalizerUsesExplicitUsageWhenPresent(t *testing.T) {
	f := NewFinalizer()
	f.Apply(entity.OutboundEvent{Kind: entity.EventTextDelta, Text: "hi"})
	result := f.Result("stop", 7, 3, 10, true)

	if result.PromptTokens != 7 || result.CompletionTokens != 3 || result.TotalTokens != 10 {
		t.Fatalf("expected explicit usage to pass through unchanged, got %+v", result)
	}
}

func TestFinalizerEstimatesUsageWhenUpstreamOmitsIt(t *testing.T) {
	f := NewFinalizer()
	f.Apply(entity.OutboundEvent{Kind: entity.EventTextDelta, Text: "twelve characters"})
	result := f.Result("stop", 99, 99, 99, false)

	if result.PromptTokens != 0 {
		t.Fatalf("expected prompt tokens to be zero on an estimate, got %d", result.PromptTokens)
	}
	wantCompletion := (len([]rune("twelve characters")) + 3) / 4
	if result.CompletionTokens != wantCompletion {
		t.Fatalf("expected ceil(chars/4) completion estimate %d, got %d", wantCompletion, result.CompletionTokens)
	}
	if result.TotalTokens != result.CompletionTokens {
		t.Fatalf("expected total to equal completion when prompt is unknown, got %+v", result)
	}
}

func TestFinalizerAssemblesToolCallsInOpenOrder(t *testing.T) {
	f := NewFinalizer()
	f.Apply(entity.OutboundEvent{Kind: entity.EventToolOpen, ToolIndex: 1, ToolID: "call_b", ToolName: "b"})
	f.Apply(entity.OutboundEvent{Kind: entity.EventToolOpen, ToolIndex: 0, ToolID: "call_a", ToolName: "a"})
	f.Apply(entity.OutboundEvent{Kind: entity.EventToolArgsDelta, ToolIndex: 0, ArgsDelta: `{"x":`})
	f.Apply(entity.OutboundEvent{Kind: entity.EventToolArgsDelta, ToolIndex: 0, ArgsDelta: `1}`})
	f.Apply(entity.OutboundEvent{Kind: entity.EventToolStop, ToolIndex: 0})
	f.Apply(entity.OutboundEvent{Kind: entity.EventToolArgsDelta, ToolIndex: 1, ArgsDelta: `{}`})
	f.Apply(entity.OutboundEvent{Kind: entity.EventToolStop, ToolIndex: 1})

	result := f.Result("tool_calls", 0, 0, 0, true)
	if len(result.ToolCalls) != 2 {
		t.Fatalf("expected two tool calls, got %d", len(result.ToolCalls))
	}
	if result.ToolCalls[0].ID != "call_b" || result.ToolCalls[0].ArgumentsBuffer != "{}" {
		t.Fatalf("expected tool call opened first (index 1) to come first, got %+v", result.ToolCalls[0])
	}
	if result.ToolCalls[1].ID != "call_a" || result.ToolCalls[1].ArgumentsBuffer != `{"x":1}` {
		t.Fatalf("expected tool call opened second (index 0) with its assembled arguments, got %+v", result.ToolCalls[1])
	}
	for _, tc := range result.ToolCalls {
		if tc.State != entity.ToolCallClosed {
			t.Fatalf("expected every tool call closed after EventToolStop, got %+v", tc)
		}
	}
}

func TestFinalizerMarksToolCallClosedOnError(t *testing.T) {
	f := NewFinalizer()
	f.Apply(entity.OutboundEvent{Kind: entity.EventToolOpen, ToolIndex: 0, ToolID: "call_1", ToolName: "broken"})
	f.Apply(entity.OutboundEvent{Kind: entity.EventToolArgsDelta, ToolIndex: 0, ArgsDelta: "{not json"})
	f.Apply(entity.OutboundEvent{Kind: entity.EventToolError, ToolIndex: 0, ToolErr: "invalid JSON"})

	result := f.Result("tool_calls", 0, 0, 0, true)
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].State != entity.ToolCallClosed {
		t.Fatalf("expected the errored tool call closed, got %+v", result.ToolCalls)
	}
}
