package supervisor

import (
	"time"

	"github.com/3leaps/dxrunner/pkg/artifact"
)

// Defaults for the health classification knobs.
const (
	DefaultStallThreshold = 30 * time.Minute
	DefaultStartupGrace   = 90 * time.Second
)

// Signals is one poll's observation of a live process, diffed against
// the persisted heartbeat baselines.
type Signals struct {
	// Now is the observation time.
	Now time.Time

	// LogBytes is the current size of the job log.
	LogBytes int64

	// CPUTicks is the summed utime+stime across the job's process
	// group. CPUTicksOK is false when the group could not be read; the
	// CPU signal is then ignored rather than treated as zero progress.
	CPUTicks   uint64
	CPUTicksOK bool

	// MutationCount is the observed workspace mutation count.
	MutationCount int
}

// Assessment is the result of classifying one poll.
type Assessment struct {
	// State is the classified health state.
	State State

	// Progress reports whether any signal advanced past its baseline.
	Progress bool

	// Source names the signal that advanced (heartbeat source constant),
	// empty without progress.
	Source string
}

// Classify derives the health state of a live process from this poll's
// signals and the previous heartbeat. Pure: no I/O, fully determined by
// its inputs.
//
// CPU tick increase counts as progress even with zero log growth —
// agents commonly think for long stretches without printing. A
// heartbeat still at its launch source means no signal has ever
// arrived: within the startup grace that is waiting_first_output,
// past it slow_start. After first signal, silence past the stall
// threshold is stalled.
func Classify(prev *artifact.Heartbeat, sig Signals, startupGrace, stallThreshold time.Duration) Assessment {
	if startupGrace <= 0 {
		startupGrace = DefaultStartupGrace
	}
	if stallThreshold <= 0 {
		stallThreshold = DefaultStallThreshold
	}

	source := ""
	switch {
	case sig.CPUTicksOK && sig.CPUTicks > prev.CPUTicks:
		source = artifact.HeartbeatCPU
	case sig.LogBytes > prev.LogBytes:
		source = artifact.HeartbeatLog
	case sig.MutationCount > prev.MutationCount:
		source = artifact.HeartbeatMutation
	}
	if source != "" {
		return Assessment{State: StateHealthy, Progress: true, Source: source}
	}

	silence := sig.Now.Sub(prev.At)

	if prev.Source == artifact.HeartbeatLaunch {
		if silence <= startupGrace {
			return Assessment{State: StateWaitingFirstOutput}
		}
		return Assessment{State: StateSlowStart}
	}

	if silence > stallThreshold {
		return Assessment{State: StateStalled}
	}
	return Assessment{State: StateHealthy}
}
