package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
	"github.com/Baozhi888/zai2api-go/internal/domain/service"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/dialect/openai"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/monitoring"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/upstream"
)

func testLogger() *zap.Logger { return zap.NewNop() }

// fakeUpstream spins up an httptest.Server that speaks the same SSE wire
// envelope upstream.FrameReader expects (phase/delta_content/edit_content),
// so the full handler -> upstream.Client -> service.Engine -> dialect
// adapter path runs without ever touching the real GLM backend.
func fakeUpstream(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func newChatHandlerForTest(t *testing.T, upstreamURL string, mode entity.ReasoningMode) *ChatHandler {
	t.Helper()
	client := upstream.New(upstream.Options{BaseURL: upstreamURL, Token: "test-token"}, testLogger())
	transformer := service.NewRequestTransformer(nil, nil)
	monitor := monitoring.NewMonitor(testLogger())
	tracer := monitoring.NewTracer("zai2api-test", testLogger())
	return NewChatHandler(client, transformer, mode, "glm-4", monitor, tracer, testLogger())
}

func postChatCompletions(t *testing.T, h *ChatHandler, reqBody string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(reqBody))
	c.Request.Header.Set("Content-Type", "application/json")
	h.ChatCompletions(c)
	return rec
}

// spec.md §8 scenario: a plain answer-phase stream, no thinking, no tools.
func TestChatCompletionsSimpleEcho(t *testing.T) {
	srv := fakeUpstream(t, []string{
		`{"type":"chat","data":{"phase":"answer","delta_content":"The sky "}}`,
		`{"type":"chat","data":{"phase":"answer","delta_content":"is blue.","done":true}}`,
	})
	defer srv.Close()

	h := newChatHandlerForTest(t, srv.URL, entity.ReasoningThink)
	rec := postChatCompletions(t, h, `{"model":"glm-4","messages":[{"role":"user","content":"why is the sky blue"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "The sky is blue." {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Choices[0].Message.ReasoningContent != "" {
		t.Fatalf("expected no reasoning content for an answer-only stream, got %q", resp.Choices[0].Message.ReasoningContent)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("expected stop finish reason, got %q", resp.Choices[0].FinishReason)
	}
}

// spec.md §8 scenario: thinking followed by answer, in "think" mode, must
// keep reasoning_content separate from content (the bug response_finalizer.go
// used to have).
func TestChatCompletionsThinkingThenAnswerKeepsReasoningSeparate(t *testing.T) {
	srv := fakeUpstream(t, []string{
		`{"type":"chat","data":{"phase":"thinking","delta_content":"considering Rayleigh scattering"}}`,
		`{"type":"chat","data":{"phase":"answer","edit_content":"</details>\n","delta_content":"Because of Rayleigh scattering.","done":true}}`,
	})
	defer srv.Close()

	h := newChatHandlerForTest(t, srv.URL, entity.ReasoningThink)
	rec := postChatCompletions(t, h, `{"model":"glm-4","messages":[{"role":"user","content":"why is the sky blue"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	msg := resp.Choices[0].Message
	if msg.Content != "Because of Rayleigh scattering." {
		t.Fatalf("expected answer text only in content, got %q", msg.Content)
	}
	if !strings.Contains(msg.ReasoningContent, "Rayleigh scattering") {
		t.Fatalf("expected reasoning text preserved separately, got %q", msg.ReasoningContent)
	}
}

// spec.md §8 scenario: a single tool call stream assembles into one
// complete, parseable tool call.
func TestChatCompletionsSingleToolCall(t *testing.T) {
	srv := fakeUpstream(t, []string{
		`{"type":"chat","data":{"phase":"tool_call","edit_content":"<glm_block >{\"type\":\"tool_call\",\"data\":{\"metadata\":{\"id\":\"call_1\",\"name\":\"get_weather\",\"arguments\":{\"city\":\"Beijing\"}}}}</glm_block>"}}`,
		`{"type":"chat","data":{"phase":"other","edit_content":"null,","done":true}}`,
	})
	defer srv.Close()

	h := newChatHandlerForTest(t, srv.URL, entity.ReasoningThink)
	rec := postChatCompletions(t, h, `{"model":"glm-4","messages":[{"role":"user","content":"weather in Beijing"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("expected exactly one tool call, got %+v", msg.ToolCalls)
	}
	if msg.ToolCalls[0].ID != "call_1" {
		t.Fatalf("expected tool id call_1, got %q", msg.ToolCalls[0].ID)
	}
	if msg.ToolCalls[0].Function.Name != "get_weather" {
		t.Fatalf("expected tool name get_weather, got %q", msg.ToolCalls[0].Function.Name)
	}
	if msg.ToolCalls[0].Function.Arguments != `{"city":"Beijing"}` {
		t.Fatalf("expected arguments to be exactly the canonical metadata.arguments value, got %q", msg.ToolCalls[0].Function.Arguments)
	}
	if resp.Choices[0].FinishReason != "tool_calls" {
		t.Fatalf("expected tool_calls finish reason, got %q", resp.Choices[0].FinishReason)
	}
}

// spec.md §8 scenario: two parallel tool calls keep distinct indices and
// argument buffers.
func TestChatCompletionsTwoParallelToolCalls(t *testing.T) {
	srv := fakeUpstream(t, []string{
		`{"type":"chat","data":{"phase":"tool_call","edit_content":"<glm_block >{\"type\":\"tool_call\",\"data\":{\"metadata\":{\"id\":\"call_1\",\"name\":\"a\",\"arguments\":{\"x\":1}}}}</glm_block><glm_block >{\"type\":\"tool_call\",\"data\":{\"metadata\":{\"id\":\"call_2\",\"name\":\"b\",\"arguments\":{\"y\":2}}}}</glm_block>"}}`,
		`{"type":"chat","data":{"phase":"other","edit_content":"null,","done":true}}`,
	})
	defer srv.Close()

	h := newChatHandlerForTest(t, srv.URL, entity.ReasoningThink)
	rec := postChatCompletions(t, h, `{"model":"glm-4","messages":[{"role":"user","content":"do two things"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) != 2 {
		t.Fatalf("expected two tool calls, got %+v", msg.ToolCalls)
	}
	if msg.ToolCalls[0].Index == msg.ToolCalls[1].Index {
		t.Fatalf("expected distinct indices for parallel tool calls, got %+v", msg.ToolCalls)
	}
}

// spec.md §4.2/§6: a system-role message is pulled out of the messages
// array and folded into the first user turn behind a "[SYSTEM] " prefix,
// so no system-role turn reaches the upstream.
func TestChatCompletionsCoercesSystemMessage(t *testing.T) {
	var capturedBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		capturedBody = string(raw)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `data: {"type":"chat","data":{"phase":"answer","delta_content":"ok","done":true}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	h := newChatHandlerForTest(t, srv.URL, entity.ReasoningThink)
	rec := postChatCompletions(t, h, `{"model":"glm-4","messages":[{"role":"system","content":"be terse"},{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(capturedBody, `"role":"system"`) {
		t.Fatalf("expected system role not to appear as a chat turn in the upstream body, got %s", capturedBody)
	}
}

func TestChatCompletionsRejectsEmptyMessages(t *testing.T) {
	h := newChatHandlerForTest(t, "http://unused.invalid", entity.ReasoningThink)
	rec := postChatCompletions(t, h, `{"model":"glm-4","messages":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty messages, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestChatCompletionsStreamingWritesDoneMarker(t *testing.T) {
	srv := fakeUpstream(t, []string{
		`{"type":"chat","data":{"phase":"answer","delta_content":"hi","done":true}}`,
	})
	defer srv.Close()

	h := newChatHandlerForTest(t, srv.URL, entity.ReasoningThink)
	rec := postChatCompletions(t, h, `{"model":"glm-4","stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "data: [DONE]") {
		t.Fatalf("expected terminal [DONE] marker in streamed body, got %s", body)
	}
	if !strings.Contains(body, `"content":"hi"`) {
		t.Fatalf("expected streamed delta content, got %s", body)
	}
}
