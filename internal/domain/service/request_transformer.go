package service

import (
	"strconv"
	"strings"
	"time"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
)

// ModelAlias maps a caller-facing model name onto the single upstream model
// id the relay actually targets. Unknown names fall through unchanged.
type ModelAlias map[string]string

// ModelPrefixAlias maps any caller-facing model name starting with Prefix
// onto Target, checked in order after the exact ModelAlias table. This
// replaces the teacher's per-model ModelPolicies substring match with a
// literal ordered prefix table — e.g. any "claude-*" name from an Anthropic
// client maps onto the one upstream model this relay actually targets.
type ModelPrefixAlias struct {
	Prefix string
	Target string
}

// UserFields carries the handful of caller-identity variables
// {{USER_NAME}}/{{USER_LOCATION}}/{{USER_LANG}}/{{TZ}} may expand to. Empty
// fields leave the corresponding placeholder untouched, same as any other
// unknown {{...}} token.
type UserFields struct {
	Name     string
	Location string
	Lang     string
	TZ       string
}

// RequestTransformer normalizes a dialect-neutral RelayRequest before it is
// serialized for upstream: it repairs orphan tool calls left over from a
// truncated history, coerces system-role handling for dialects that don't
// support it, expands template variables in message content, and maps
// caller model names onto the upstream model id.
type RequestTransformer struct {
	Aliases       ModelAlias
	PrefixAliases []ModelPrefixAlias
	User          UserFields
	Now           func() time.Time
}

// NewRequestTransformer builds a transformer with a real wall clock.
func NewRequestTransformer(aliases ModelAlias, prefixAliases []ModelPrefixAlias) *RequestTransformer {
	return &RequestTransformer{Aliases: aliases, PrefixAliases: prefixAliases, Now: time.Now}
}

// Transform mutates a copy of req into the form the upstream client sends,
// returning the normalized request. Order matters (spec.md §4.5): system
// coercion first, then template expansion, then model mapping, then orphan
// tool-call repair.
func (t *RequestTransformer) Transform(req entity.RelayRequest) entity.RelayRequest {
	out := req
	out.Messages = coerceSystemToUser(req.System, req.Messages, t.expandTemplate)
	out.System = ""
	for i := range out.Messages {
		out.Messages[i].Text = t.expandTemplate(out.Messages[i].Text)
	}
	out.Model = t.mapModel(req.Model)
	out.Messages = sanitizeOrphanToolCalls(out.Messages)
	return out
}

// coerceSystemToUser folds a dialect's top-level system prompt into the
// first user message, since the upstream has no system role of its own: the
// concatenated system text is prefixed with "[SYSTEM] " and suffixed with
// "\n\n[USER PROMPT FOLLOWS]\n" ahead of that message's own content. Any
// system-role messages already present in the history are folded in the
// same way and then dropped. A request with no user message gets one
// synthesized to carry the system text alone.
func coerceSystemToUser(system string, messages []entity.RelayMessage, expand func(string) string) []entity.RelayMessage {
	var systemParts []string
	if system != "" {
		systemParts = append(systemParts, system)
	}

	out := make([]entity.RelayMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == entity.RoleSystem {
			if m.Text != "" {
				systemParts = append(systemParts, m.Text)
			}
			continue
		}
		out = append(out, m)
	}

	if len(systemParts) == 0 {
		return out
	}

	combined := expand(strings.Join(systemParts, "\n\n"))
	prefix := "[SYSTEM] " + combined + "\n\n[USER PROMPT FOLLOWS]\n"

	for i := range out {
		if out[i].Role == entity.RoleUser {
			out[i].Text = prefix + out[i].Text
			return out
		}
	}

	return append([]entity.RelayMessage{{Role: entity.RoleUser, Text: prefix}}, out...)
}

func (t *RequestTransformer) mapModel(model string) string {
	if t.Aliases != nil {
		if mapped, ok := t.Aliases[model]; ok {
			return mapped
		}
	}
	for _, pa := range t.PrefixAliases {
		if strings.HasPrefix(model, pa.Prefix) {
			return pa.Target
		}
	}
	return model
}

// expandTemplate substitutes the {{...}} variables spec.md §4.5 names using
// the process's current wall clock and configured user fields; unknown
// placeholders are left literal.
func (t *RequestTransformer) expandTemplate(text string) string {
	if text == "" || !strings.Contains(text, "{{") {
		return text
	}
	now := t.Now()
	pairs := []string{
		"{{DATE}}", now.Format("2006-01-02"),
		"{{TIME}}", now.Format("15:04:05"),
		"{{DAY}}", now.Format("Monday"),
		"{{DATETIME}}", now.Format(time.RFC3339),
		"{{UNIX_TIME}}", strconv.FormatInt(now.Unix(), 10),
	}
	for _, f := range [][2]string{
		{"{{USER_NAME}}", t.User.Name},
		{"{{USER_LOCATION}}", t.User.Location},
		{"{{USER_LANG}}", t.User.Lang},
		{"{{TZ}}", t.User.TZ},
	} {
		if f[1] != "" {
			pairs = append(pairs, f[0], f[1])
		}
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// sanitizeOrphanToolCalls strips ToolCalls from a trailing assistant message
// that lack a matching tool-role result, mirroring the teacher's
// sanitizeMessages: upstream rejects a history whose last assistant turn
// requests calls nothing ever answered (e.g. after the caller truncated
// their own history before resending it).
func sanitizeOrphanToolCalls(messages []entity.RelayMessage) []entity.RelayMessage {
	if len(messages) == 0 {
		return messages
	}

	resultIDs := make(map[string]bool)
	for _, msg := range messages {
		if msg.Role == entity.RoleTool && msg.ToolResult != nil {
			resultIDs[msg.ToolResult.ToolCallID] = true
		}
	}

	out := make([]entity.RelayMessage, len(messages))
	copy(out, messages)

	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role != entity.RoleAssistant || len(out[i].ToolCalls) == 0 {
			continue
		}
		allAnswered := true
		for _, tc := range out[i].ToolCalls {
			if !resultIDs[tc.ID] {
				allAnswered = false
				break
			}
		}
		if !allAnswered {
			out[i].ToolCalls = nil
		}
		break
	}

	return out
}
