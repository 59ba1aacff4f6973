// Package domain provides the core value types of the rewrite engine:
// flow status, transaction direction, evaluation bindings and error types.
package domain

// Flow is the per-transaction control signal that decides whether rule
// evaluation and downstream dispatch continue.
//
// Flows form a small hierarchy: FlowForward is a kind of FlowHandled and
// FlowInclude is a kind of FlowContinue. Use Is to test membership rather
// than comparing values directly.
type Flow int

const (
	// FlowContinue lets evaluation and downstream dispatch proceed.
	FlowContinue Flow = iota
	// FlowHandled stops rule evaluation and skips downstream dispatch.
	FlowHandled
	// FlowAbortRequest terminates the transaction: no further rules,
	// no downstream dispatch and no further output.
	FlowAbortRequest
	// FlowForward is a handled flow that re-enters the engine with a new target.
	FlowForward
	// FlowInclude marks a pass that embedded another resource and continues.
	FlowInclude
)

var flowParents = map[Flow]Flow{
	FlowForward: FlowHandled,
	FlowInclude: FlowContinue,
}

var flowNames = map[Flow]string{
	FlowContinue:     "CONTINUE",
	FlowHandled:      "HANDLED",
	FlowAbortRequest: "ABORT_REQUEST",
	FlowForward:      "FORWARD",
	FlowInclude:      "INCLUDE",
}

// Is reports whether f equals target or descends from it.
func (f Flow) Is(target Flow) bool {
	for cur, ok := f, true; ok; cur, ok = flowParents[cur] {
		if cur == target {
			return true
		}
	}
	return false
}

// Terminal reports whether f ends rule evaluation for the current pass.
func (f Flow) Terminal() bool {
	return f.Is(FlowHandled) || f.Is(FlowAbortRequest)
}

func (f Flow) String() string {
	if name, ok := flowNames[f]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseFlow converts a flow name (as produced by String) back into a Flow.
func ParseFlow(s string) (Flow, bool) {
	for f, name := range flowNames {
		if name == s {
			return f, true
		}
	}
	return FlowContinue, false
}

// Direction tells whether a rewrite concerns an inbound request or an
// outbound URL produced by the application.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)
