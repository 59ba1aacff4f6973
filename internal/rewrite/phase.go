package rewrite

// Phase is the lifecycle state of a transaction pass.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseWrapped
	PhaseEvaluated
	PhaseDispatchedOrAborted
	PhaseResultHandled
	PhaseEnd
)

var phaseNames = [...]string{
	PhaseStart:               "START",
	PhaseWrapped:             "WRAPPED",
	PhaseEvaluated:           "EVALUATED",
	PhaseDispatchedOrAborted: "DISPATCHED_OR_ABORTED",
	PhaseResultHandled:       "RESULT_HANDLED",
	PhaseEnd:                 "END",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "UNKNOWN"
	}
	return phaseNames[p]
}
