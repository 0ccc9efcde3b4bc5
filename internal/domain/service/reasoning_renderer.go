package service

import (
	"fmt"
	"strings"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
)

// RenderReasoning converts a frozen entity.ReasoningBuffer into the text the
// caller receives, per the three render modes spec.md §4.2 names. The
// dispatch is a closed switch over ReasoningMode, not a type hierarchy,
// matching the teacher's preference for small enums over interfaces where
// the branch count is fixed and unlikely to grow (reasoning_tags.go takes
// the same shape with StripMode/TrimMode).
func RenderReasoning(buf *entity.ReasoningBuffer, mode entity.ReasoningMode, nowMillis int64) string {
	switch mode {
	case entity.ReasoningPure:
		body := stripQuoteMarkers(stripWrappers(buf.Text()))
		return prefixQuoteMarkers(body)
	case entity.ReasoningRaw:
		seconds := buf.ElapsedSeconds(nowMillis)
		return renderRawDetails(buf.Text(), seconds)
	case entity.ReasoningThink:
		fallthrough
	default:
		body := stripQuoteMarkers(stripWrappers(buf.Text()))
		return "🤔\n\n" + body
	}
}

// stripWrappers removes a leading "<details ...>" opener, a trailing
// "</details>" closer, and any "<summary>...</summary>" block upstream may
// have wrapped the thinking text in. Stripping only removes markup that is
// actually present, which is what keeps every mode's strip step idempotent.
func stripWrappers(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "<details") && strings.HasSuffix(trimmed, ">"):
			continue
		case trimmed == "</details>":
			continue
		case strings.HasPrefix(trimmed, "<summary>") && strings.HasSuffix(trimmed, "</summary>"):
			continue
		default:
			out = append(out, line)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// stripQuoteMarkers removes a leading "> " or ">" marker from every line of
// upstream's markdown-blockquoted thinking content, preserving internal
// formatting (code fences, nested lists) untouched. Per spec.md §4.2's
// tie-break, callers strip wrappers first, then quote markers.
func stripQuoteMarkers(s string) string {
	if s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimPrefix(line, "> ")
		if trimmed == line {
			trimmed = strings.TrimPrefix(line, ">")
		}
		lines[i] = trimmed
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// prefixQuoteMarkers adds a "> " marker to every non-empty line, the
// inverse of stripQuoteMarkers. Because RenderReasoning always strips
// before prefixing, calling it twice on its own output is a no-op beyond
// the first pass: the second pass strips the markers this pass just added,
// then re-adds the identical markers.
func prefixQuoteMarkers(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

// renderRawDetails wraps the unmodified accumulated text in the collapsible
// <details> presentation upstream's own first-party clients use, so "raw"
// mode callers see byte-for-byte what upstream intended. Cutting the fixed
// opener and everything from the closing "\n\n</div>" onward recovers the
// original buffer, satisfying spec.md §8's reversibility property.
func renderRawDetails(text string, elapsedSeconds int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<details type=\"reasoning\" open><div>\n\n%s\n\n</div><summary>Thought for %d seconds</summary></details>", text, elapsedSeconds)
	return b.String()
}
