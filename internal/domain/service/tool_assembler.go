package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
)

// maxArgFragmentBytes bounds the size of a single EventToolArgsDelta fragment,
// mirroring OpenAI's own tool-call-argument chunking behavior.
const maxArgFragmentBytes = 100

const (
	glmBlockOpen  = "<glm_block >"
	glmBlockClose = "</glm_block>"
)

// glmBlockEnvelope is the JSON shape upstream wraps inside one <glm_block>
// pair (spec.md §4.3): the tool call's id/name/arguments all live under
// data.metadata, not at the envelope's top level.
type glmBlockEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Metadata struct {
			ID        string          `json:"id"`
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"metadata"`
	} `json:"data"`
}

// AssembleToolCallFrame applies one tool_call-phase upstream frame to sess.
// edit_content may contain any number of complete <glm_block> payloads plus,
// at most, one trailing opener still awaiting its closer; the latter is
// buffered on sess.PendingBlock until a later frame completes it (spec.md
// §4.3: "only closed blocks are processed in the frame they arrive").
func AssembleToolCallFrame(sess *entity.ToolSession, frame entity.UpstreamFrame, send func(entity.OutboundEvent) bool) error {
	buf := sess.PendingBlock + frame.EditContent
	sess.PendingBlock = ""

	for {
		inner, rest, closed := nextGLMBlock(buf)
		if !closed {
			sess.PendingBlock = rest
			return nil
		}
		if err := assembleClosedBlock(sess, inner, send); err != nil {
			return err
		}
		buf = rest
	}
}

// nextGLMBlock scans buf for the next <glm_block>...</glm_block> pair. Text
// before an opener (stray separators upstream emits between blocks) is
// discarded. closed is false when buf holds an opener with no closer yet, in
// which case rest is the unconsumed tail (from the opener onward) to retry
// once more content arrives.
func nextGLMBlock(buf string) (inner, rest string, closed bool) {
	start := strings.Index(buf, glmBlockOpen)
	if start < 0 {
		return "", "", false
	}
	afterOpen := buf[start+len(glmBlockOpen):]
	end := strings.Index(afterOpen, glmBlockClose)
	if end < 0 {
		return "", buf[start:], false
	}
	return afterOpen[:end], afterOpen[end+len(glmBlockClose):], true
}

// assembleClosedBlock decodes one closed glm_block's inner JSON, opens its
// ToolCall (assigning the next ordinal index and, if upstream omitted one,
// synthesizing an id), and chunks the canonical re-serialization of its
// arguments onto send as tool-args-delta events — satisfying the spec.md §8
// round-trip invariant, since the fragments concatenate back to exactly that
// canonical JSON value.
func assembleClosedBlock(sess *entity.ToolSession, inner string, send func(entity.OutboundEvent) bool) error {
	var env glmBlockEnvelope
	if err := json.Unmarshal([]byte(inner), &env); err != nil {
		return fmt.Errorf("decode glm_block payload: %w", err)
	}

	index := sess.Len()
	tc := sess.Open(index, env.Data.Metadata.ID, env.Data.Metadata.Name)
	send(entity.OutboundEvent{
		Kind:      entity.EventToolOpen,
		ToolIndex: tc.Index,
		ToolID:    tc.ID,
		ToolName:  tc.Name,
	})

	canonical, err := json.Marshal(env.Data.Metadata.Arguments)
	if err != nil {
		return fmt.Errorf("re-marshal arguments for tool call %d (%s): %w", index, tc.Name, err)
	}
	args := string(canonical)
	tc.ArgumentsBuffer = args

	for len(args) > 0 {
		n := maxArgFragmentBytes
		if n > len(args) {
			n = len(args)
		}
		send(entity.OutboundEvent{
			Kind:      entity.EventToolArgsDelta,
			ToolIndex: tc.Index,
			ArgsDelta: args[:n],
		})
		args = args[n:]
	}
	return nil
}

// ValidateToolArguments verifies that a closed tool call's accumulated
// ArgumentsBuffer — the canonical JSON the assembler re-serialized the
// upstream's arguments as — is well-formed, satisfying the round-trip
// invariant in spec.md §8.
func ValidateToolArguments(tc *entity.ToolCall) error {
	if tc.ArgumentsBuffer == "" {
		return nil
	}
	var probe json.RawMessage
	if err := json.Unmarshal([]byte(tc.ArgumentsBuffer), &probe); err != nil {
		return fmt.Errorf("tool call %d (%s) arguments are not valid JSON: %w", tc.Index, tc.Name, err)
	}
	return nil
}
