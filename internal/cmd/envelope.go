package cmd

import (
	"encoding/json"
	"os"
)

// Envelope is the stable machine-readable result shape emitted by
// commands under --json.
type Envelope struct {
	OK              bool           `json:"ok"`
	Command         string         `json:"command"`
	Result          any            `json:"result,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
	RecoveryCommand string         `json:"recovery_command,omitempty"`
}

// emitEnvelope writes one envelope line to stdout.
func emitEnvelope(command string, ok bool, result any, details map[string]any, recovery string) error {
	env := Envelope{
		OK:              ok,
		Command:         command,
		Result:          result,
		Details:         details,
		RecoveryCommand: recovery,
	}
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(env)
}
