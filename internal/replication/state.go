package replication

// pushState names the states of a single push attempt, per spec.md
// §4.5.7: Idle -> Fetched -> Clean -> Staged -> Committed -> Pushed |
// Rejected -> Idle (retry) | Failed. Knots represents this as a plain enum
// with a String method for logging rather than a generic FSM library,
// matching the teacher's own choice not to use one for its (larger)
// pipeline state machine.
type pushState int

const (
	pushIdle pushState = iota
	pushFetched
	pushClean
	pushStaged
	pushCommitted
	pushPushed
	pushRejected
	pushFailed
)

func (s pushState) String() string {
	switch s {
	case pushIdle:
		return "idle"
	case pushFetched:
		return "fetched"
	case pushClean:
		return "clean"
	case pushStaged:
		return "staged"
	case pushCommitted:
		return "committed"
	case pushPushed:
		return "pushed"
	case pushRejected:
		return "rejected"
	default:
		return "failed"
	}
}
