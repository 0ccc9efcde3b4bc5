package entity

// ResponseState is the state variable driving the translation state machine.
type ResponseState string

const (
	StateInit             ResponseState = "init"
	StateStreamingAnswer  ResponseState = "streaming_answer"
	StateStreamingThink   ResponseState = "streaming_think"
	StateToolCall         ResponseState = "tool_call"
	StatePostThinkBridge  ResponseState = "post_think_bridge"
	StateDone             ResponseState = "done"
	StateError            ResponseState = "error"
)

// validResponseTransitions enumerates the allowed state transitions for the
// translation state machine (spec.md §4.4). Terminal states have no
// outgoing transitions.
var validResponseTransitions = map[ResponseState]map[ResponseState]bool{
	StateInit: {
		StateStreamingAnswer: true,
		StateStreamingThink:  true,
		StateToolCall:        true,
		StateDone:            true,
		StateError:           true,
	},
	StateStreamingAnswer: {
		StateStreamingThink: true,
		StateToolCall:       true,
		StateDone:           true,
		StateError:          true,
	},
	StateStreamingThink: {
		StateStreamingThink:  true,
		StatePostThinkBridge: true,
		StateToolCall:        true,
		StateDone:            true,
		StateError:           true,
	},
	StatePostThinkBridge: {
		StateStreamingAnswer: true,
		StateToolCall:        true,
		StateDone:            true,
		StateError:           true,
	},
	StateToolCall: {
		StateToolCall:        true,
		StateDone:            true,
		StateStreamingAnswer: true,
		StateError:           true,
	},
	StateDone:  {},
	StateError: {},
}

// CanTransition reports whether moving from `from` to `to` is allowed.
func CanTransition(from, to ResponseState) bool {
	targets, ok := validResponseTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether a state has no outgoing transitions.
func IsTerminal(s ResponseState) bool {
	targets, ok := validResponseTransitions[s]
	return ok && len(targets) == 0
}
