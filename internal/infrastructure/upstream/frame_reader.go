package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
	"github.com/Baozhi888/zai2api-go/internal/domain/service"
	"go.uber.org/zap"
)

// wireFrame is the upstream's own envelope: a `data: ` line wraps one JSON
// object with a phase tag and a nested delta payload.
type wireFrame struct {
	Type string `json:"type"`
	Data struct {
		Phase        string                `json:"phase"`
		DeltaContent string                `json:"delta_content"`
		EditContent  string                `json:"edit_content"`
		EditIndex    int                   `json:"edit_index"`
		Usage        *entity.UpstreamUsage `json:"usage"`
		Done         bool                  `json:"done"`
	} `json:"data"`
}

// FrameReader decodes the upstream's text/event-stream body into
// entity.UpstreamFrame values, generalizing the teacher's ParseSSEStream
// scan loop (openai/sse.go) — "data: " prefix strip, "[DONE]" terminator —
// and reusing its timedReader idle-timeout wrapper verbatim in spirit.
type FrameReader struct {
	scanner     *bufio.Scanner
	idleTimeout time.Duration
	logger      *zap.Logger
}

// NewFrameReader wraps body in an idle-timeout reader and a line scanner.
func NewFrameReader(body io.Reader, idleTimeout time.Duration, logger *zap.Logger) *FrameReader {
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}
	tr := &timedReader{r: body, timeout: idleTimeout}
	scanner := bufio.NewScanner(tr)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &FrameReader{scanner: scanner, idleTimeout: idleTimeout, logger: logger}
}

// Run decodes frames until EOF, [DONE], a frame with done=true, or an idle
// timeout, pushing each onto out. It closes out before returning. Frames are
// passed through verbatim — decoding the glm_block payloads a tool_call
// phase frame's edit_content carries is the Tool-Call Assembler's job
// (service.AssembleToolCallFrame), one level above this reader, mirroring how
// the teacher keeps its own ParseSSEStream a pure line-oriented scanner.
func (r *FrameReader) Run(ctx context.Context, out chan<- entity.UpstreamFrame) error {
	defer close(out)

	for r.scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := r.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}

		var wf wireFrame
		if err := json.Unmarshal([]byte(data), &wf); err != nil {
			r.logger.Debug("skipping unparseable upstream frame", zap.Error(err))
			continue
		}

		frame := entity.UpstreamFrame{
			Phase:        entity.Phase(wf.Data.Phase),
			DeltaContent: wf.Data.DeltaContent,
			EditContent:  wf.Data.EditContent,
			Usage:        wf.Data.Usage,
			Done:         wf.Data.Done,
		}

		select {
		case out <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}

		if frame.Done {
			return nil
		}
	}

	if err := r.scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			return service.ErrIdleTimeout()
		}
		return fmt.Errorf("upstream stream read error: %w", err)
	}
	return nil
}

// --- idle timeout support, ported from the teacher's timedReader ---

var errIdleTimeout = fmt.Errorf("upstream read idle timeout")

type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "upstream read idle timeout")
}
