// Package supervisor tracks dispatched jobs through their health state
// machine. A job has no existence beyond its artifact set: every poll
// reconstructs state from disk and from the process table, so
// supervision survives orchestrator restarts without any in-memory
// registry.
package supervisor

// State is a job health state.
type State string

const (
	// StateLaunching means dispatch has begun but no pid is recorded yet.
	StateLaunching State = "launching"

	// StateWaitingFirstOutput means the process is alive but no progress
	// signal has been observed since launch.
	StateWaitingFirstOutput State = "waiting_first_output"

	// StateHealthy means a progress signal landed within the stall
	// threshold.
	StateHealthy State = "healthy"

	// StateStalled means the process is alive but silent past the stall
	// threshold.
	StateStalled State = "stalled"

	// StateSlowStart means the startup grace elapsed with zero signal.
	// Distinct from stalled: the job never produced anything, rather
	// than going quiet after progress.
	StateSlowStart State = "slow_start"

	// StateExitedOK is a clean exit with observed effect.
	StateExitedOK State = "exited_ok"

	// StateExitedErr is a nonzero exit. Never auto-retried.
	StateExitedErr State = "exited_err"

	// StateNoOpSuccess is a clean exit with zero observed effect.
	StateNoOpSuccess State = "no_op_success"

	// StateStopped is an explicit operator stop.
	StateStopped State = "stopped"

	// StateBlocked means supervision gave up: retry budget exhausted,
	// restart disabled, or contract drift. Never auto-clears.
	StateBlocked State = "blocked"
)

// Terminal reports whether a state ends supervision. Terminal states
// are never reopened by polling; only an explicit restart creates a new
// attempt.
func (s State) Terminal() bool {
	switch s {
	case StateExitedOK, StateExitedErr, StateNoOpSuccess, StateStopped, StateBlocked:
		return true
	}
	return false
}

// transitions is the static legality table. Absence means illegal.
var transitions = map[State]map[State]bool{
	StateLaunching: {
		StateWaitingFirstOutput: true,
		StateHealthy:            true,
		StateExitedOK:           true,
		StateExitedErr:          true,
		StateNoOpSuccess:        true,
		StateStopped:            true,
		StateBlocked:            true,
	},
	StateWaitingFirstOutput: {
		StateHealthy:     true,
		StateSlowStart:   true,
		StateExitedOK:    true,
		StateExitedErr:   true,
		StateNoOpSuccess: true,
		StateStopped:     true,
		StateBlocked:     true,
	},
	StateHealthy: {
		StateStalled:     true,
		StateExitedOK:    true,
		StateExitedErr:   true,
		StateNoOpSuccess: true,
		StateStopped:     true,
		StateBlocked:     true,
	},
	StateStalled: {
		StateHealthy:     true,
		StateExitedOK:    true,
		StateExitedErr:   true,
		StateNoOpSuccess: true,
		StateStopped:     true,
		StateBlocked:     true,
	},
	StateSlowStart: {
		StateHealthy:     true,
		StateStalled:     true,
		StateExitedOK:    true,
		StateExitedErr:   true,
		StateNoOpSuccess: true,
		StateStopped:     true,
		StateBlocked:     true,
	},
	// Terminal states have no outgoing edges.
	StateExitedOK:    {},
	StateExitedErr:   {},
	StateNoOpSuccess: {},
	StateStopped:     {},
	StateBlocked:     {},
}

// CanTransition reports whether moving from one state to another is
// legal. Self-transitions are always legal (a poll that observes no
// change).
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	return transitions[from][to]
}
