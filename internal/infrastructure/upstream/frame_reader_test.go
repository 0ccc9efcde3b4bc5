package upstream

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
	"go.uber.org/zap"
)

func collectFrames(t *testing.T, body string, timeout time.Duration) ([]entity.UpstreamFrame, error) {
	t.Helper()
	r := NewFrameReader(strings.NewReader(body), timeout, zap.NewNop())
	out := make(chan entity.UpstreamFrame, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(context.Background(), out) }()

	var frames []entity.UpstreamFrame
	for f := range out {
		frames = append(frames, f)
	}
	return frames, <-errCh
}

func TestFrameReaderStopsOnDoneMarker(t *testing.T) {
	body := `data: {"type":"chat","data":{"phase":"answer","delta_content":"hi"}}
data: [DONE]
`
	frames, err := collectFrames(t, body, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 || frames[0].DeltaContent != "hi" {
		t.Fatalf("expected single answer frame, got %+v", frames)
	}
}

func TestFrameReaderStopsOnFrameDoneField(t *testing.T) {
	body := `data: {"type":"chat","data":{"phase":"answer","delta_content":"hi","done":true}}
data: {"type":"chat","data":{"phase":"answer","delta_content":"unreachable"}}
`
	frames, err := collectFrames(t, body, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected reader to stop at done=true, got %d frames", len(frames))
	}
}

func TestFrameReaderPassesEditContentThroughForToolCallFrames(t *testing.T) {
	body := `data: {"type":"chat","data":{"phase":"tool_call","edit_content":"<glm_block >{\"type\":\"tool_call\",\"data\":{\"metadata\":{\"id\":\"call_1\",\"name\":\"a\",\"arguments\":{}}}}</glm_block>"}}
data: {"type":"chat","data":{"phase":"other","edit_content":"null,","done":true}}
`
	frames, err := collectFrames(t, body, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Phase != entity.PhaseToolCall || !strings.Contains(frames[0].EditContent, `"call_1"`) {
		t.Fatalf("expected edit_content to be passed through untouched, got %+v", frames[0])
	}
	if frames[1].Phase != entity.PhaseOther || frames[1].EditContent != "null," {
		t.Fatalf("expected other-phase edit_content passed through untouched, got %+v", frames[1])
	}
}

func TestFrameReaderSkipsUnparseableLines(t *testing.T) {
	body := `data: not json at all
data: {"type":"chat","data":{"phase":"answer","delta_content":"ok"}}
data: [DONE]
`
	frames, err := collectFrames(t, body, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 || frames[0].DeltaContent != "ok" {
		t.Fatalf("expected malformed line to be skipped, got %+v", frames)
	}
}

func TestFrameReaderIgnoresNonDataLines(t *testing.T) {
	body := ": heartbeat comment
data: {"type":"chat","data":{"phase":"answer","delta_content":"ok"}}
data: [DONE]
`
	frames, err := collectFrames(t, body, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected only the data line to produce a frame, got %+v", frames)
	}
}
