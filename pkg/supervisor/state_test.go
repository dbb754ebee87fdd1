package supervisor

import "testing"

func TestTerminalStates(t *testing.T) {
	terminal := []State{StateExitedOK, StateExitedErr, StateNoOpSuccess, StateStopped, StateBlocked}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}

	live := []State{StateLaunching, StateWaitingFirstOutput, StateHealthy, StateStalled, StateSlowStart}
	for _, s := range live {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	all := []State{
		StateLaunching, StateWaitingFirstOutput, StateHealthy, StateStalled, StateSlowStart,
		StateExitedOK, StateExitedErr, StateNoOpSuccess, StateStopped, StateBlocked,
	}
	for _, from := range all {
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			if from == to {
				continue
			}
			if CanTransition(from, to) {
				t.Fatalf("terminal %s must not transition to %s", from, to)
			}
		}
	}
}

func TestHealthyStalledOscillation(t *testing.T) {
	if !CanTransition(StateHealthy, StateStalled) {
		t.Fatal("healthy -> stalled must be legal")
	}
	if !CanTransition(StateStalled, StateHealthy) {
		t.Fatal("stalled -> healthy must be legal")
	}
}

func TestIllegalSkips(t *testing.T) {
	if CanTransition(StateHealthy, StateWaitingFirstOutput) {
		t.Fatal("healthy must not regress to waiting_first_output")
	}
	if CanTransition(StateHealthy, StateSlowStart) {
		t.Fatal("healthy must not regress to slow_start")
	}
	if CanTransition(StateStalled, StateWaitingFirstOutput) {
		t.Fatal("stalled must not regress to waiting_first_output")
	}
}

func TestSelfTransitionAlwaysLegal(t *testing.T) {
	for _, s := range []State{StateHealthy, StateStalled, StateBlocked} {
		if !CanTransition(s, s) {
			t.Fatalf("self transition for %s must be legal", s)
		}
	}
}
