package service

import (
	"testing"
	"time"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
)

func TestTransformMapsExactModelAlias(t *testing.T) {
	tr := NewRequestTransformer(ModelAlias{"gpt-4": "glm-4.6"}, nil)
	out := tr.Transform(entity.RelayRequest{Model: "gpt-4"})
	if out.Model != "glm-4.6" {
		t.Fatalf("expected exact alias to win, got %q", out.Model)
	}
}

func TestTransformMapsModelPrefix(t *testing.T) {
	tr := NewRequestTransformer(nil, []ModelPrefixAlias{{Prefix: "claude-", Target: "glm-4.6"}})
	out := tr.Transform(entity.RelayRequest{Model: "claude-3-opus"})
	if out.Model != "glm-4.6" {
		t.Fatalf("expected prefix alias to map claude-* model, got %q", out.Model)
	}
}

func TestTransformLeavesUnknownModelUnchanged(t *testing.T) {
	tr := NewRequestTransformer(nil, nil)
	out := tr.Transform(entity.RelayRequest{Model: "unknown-model"})
	if out.Model != "unknown-model" {
		t.Fatalf("expected unknown model to pass through, got %q", out.Model)
	}
}

func TestTransformExpandsSystemTemplateVariables(t *testing.T) {
	fixed := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	tr := NewRequestTransformer(nil, nil)
	tr.Now = func() time.Time { return fixed }

	out := tr.Transform(entity.RelayRequest{
		System:   "Today is {{DATE}} at {{TIME}}",
		Messages: []entity.RelayMessage{{Role: entity.RoleUser, Text: "hi"}},
	})
	want := "[SYSTEM] Today is 2026-01-15 at 10:30:00\n\n[USER PROMPT FOLLOWS]\nhi"
	if out.Messages[0].Text != want {
		t.Fatalf("unexpected expanded+coerced system prompt: %q", out.Messages[0].Text)
	}
}

func TestTransformCoercesSystemMessageIntoLeadingUserMessage(t *testing.T) {
	tr := NewRequestTransformer(nil, nil)
	out := tr.Transform(entity.RelayRequest{
		System: "Be terse",
		Messages: []entity.RelayMessage{
			{Role: entity.RoleUser, Text: "Hi"},
		},
	})
	if len(out.Messages) != 1 {
		t.Fatalf("expected system folded into the single user message, got %d messages", len(out.Messages))
	}
	want := "[SYSTEM] Be terse\n\n[USER PROMPT FOLLOWS]\nHi"
	if out.Messages[0].Text != want {
		t.Fatalf("unexpected coerced message: %q", out.Messages[0].Text)
	}
	if out.System != "" {
		t.Fatalf("expected System field cleared after coercion, got %q", out.System)
	}
}

func TestTransformLeavesPlainUserPromptUnchanged(t *testing.T) {
	tr := NewRequestTransformer(nil, nil)
	out := tr.Transform(entity.RelayRequest{
		Messages: []entity.RelayMessage{{Role: entity.RoleUser, Text: "no templates here"}},
	})
	if out.Messages[0].Text != "no templates here" {
		t.Fatalf("expected plain user prompt unchanged, got %q", out.Messages[0].Text)
	}
}

func TestTransformStripsOrphanToolCallsFromTrailingAssistant(t *testing.T) {
	tr := NewRequestTransformer(nil, nil)
	req := entity.RelayRequest{
		Messages: []entity.RelayMessage{
			{Role: entity.RoleUser, Text: "weather?"},
			{Role: entity.RoleAssistant, ToolCalls: []entity.RelayToolCall{{ID: "call_1", Name: "get_weather"}}},
		},
	}
	out := tr.Transform(req)
	last := out.Messages[len(out.Messages)-1]
	if len(last.ToolCalls) != 0 {
		t.Fatalf("expected orphan tool calls stripped, got %+v", last.ToolCalls)
	}
}

func TestTransformKeepsAnsweredToolCalls(t *testing.T) {
	tr := NewRequestTransformer(nil, nil)
	req := entity.RelayRequest{
		Messages: []entity.RelayMessage{
			{Role: entity.RoleUser, Text: "weather?"},
			{Role: entity.RoleAssistant, ToolCalls: []entity.RelayToolCall{{ID: "call_1", Name: "get_weather"}}},
			{Role: entity.RoleTool, ToolResult: &entity.RelayToolResult{ToolCallID: "call_1", Content: "sunny"}},
		},
	}
	out := tr.Transform(req)
	assistantMsg := out.Messages[1]
	if len(assistantMsg.ToolCalls) != 1 {
		t.Fatalf("expected answered tool call kept, got %+v", assistantMsg.ToolCalls)
	}
}
