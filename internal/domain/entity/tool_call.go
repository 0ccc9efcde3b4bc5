package entity

import "github.com/google/uuid"

// ToolCallState is the lifecycle state of one tool invocation.
type ToolCallState string

const (
	ToolCallOpen   ToolCallState = "open"
	ToolCallClosed ToolCallState = "closed"
)

// ToolCall tracks one function invocation the model is requesting, keyed by
// its ordinal index within the response. Once Closed, no further argument
// bytes may be appended and ArgumentsBuffer must be a complete JSON value.
type ToolCall struct {
	Index           int
	ID              string
	Name            string
	ArgumentsBuffer string
	State           ToolCallState
	Err             error // set when argument validation fails on close
}

// ToolSession is the ordered collection of tool calls for one response.
// Created lazily on the first tool_call phase frame.
type ToolSession struct {
	calls     map[int]*ToolCall
	order     []int
	AnyActive bool

	// PendingBlock holds a <glm_block > opener seen without its closer yet,
	// carried across frame boundaries until the block completes (spec.md
	// §4.3: "an unclosed trailing block is buffered until the next frame").
	PendingBlock string
}

// NewToolSession returns an empty session.
func NewToolSession() *ToolSession {
	return &ToolSession{calls: make(map[int]*ToolCall)}
}

// Get returns the call at index, or nil if it has not been opened yet.
func (s *ToolSession) Get(index int) *ToolCall {
	return s.calls[index]
}

// Open creates a new OPEN tool call at index with the given id/name,
// synthesizing a call_<random> id when upstream didn't assign one
// (spec.md §3). No-op (returns the existing call) if index is already
// present.
func (s *ToolSession) Open(index int, id, name string) *ToolCall {
	if tc, ok := s.calls[index]; ok {
		return tc
	}
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	tc := &ToolCall{Index: index, ID: id, Name: name, State: ToolCallOpen}
	s.calls[index] = tc
	s.order = append(s.order, index)
	s.AnyActive = true
	return tc
}

// Ordered returns tool calls in the order they were opened.
func (s *ToolSession) Ordered() []*ToolCall {
	out := make([]*ToolCall, 0, len(s.order))
	for _, idx := range s.order {
		out = append(out, s.calls[idx])
	}
	return out
}

// CloseAll transitions every OPEN call to CLOSED and clears AnyActive.
// Returns the calls that were transitioned.
func (s *ToolSession) CloseAll() []*ToolCall {
	var closed []*ToolCall
	for _, idx := range s.order {
		tc := s.calls[idx]
		if tc.State == ToolCallOpen {
			tc.State = ToolCallClosed
			closed = append(closed, tc)
		}
	}
	s.AnyActive = false
	return closed
}

// Len returns the number of tool calls opened so far.
func (s *ToolSession) Len() int {
	return len(s.order)
}
