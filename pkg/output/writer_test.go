package output

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "gt-1042", "ccglm")

	assert.NotNil(t, w)
	assert.Equal(t, "gt-1042", w.task)
	assert.Equal(t, "ccglm", w.provider)
}

func TestJSONLWriter_WriteDispatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "gt-1042", "ccglm")

	d := &DispatchRecord{
		AttemptID:  "7e0f0f9a-0b92-4d0e-8f0e-1c2d3e4f5a6b",
		PID:        40213,
		Workspace:  "/srv/work/gt-1042",
		Model:      "glm-4.6",
		ModelBasis: "preferred",
		LaunchMode: "detached",
	}

	err := w.WriteDispatch(context.Background(), d)
	require.NoError(t, err)

	var record Record
	err = json.Unmarshal(buf.Bytes(), &record)
	require.NoError(t, err)

	assert.Equal(t, TypeDispatch, record.Type)
	assert.Equal(t, "gt-1042", record.Task)
	assert.Equal(t, "ccglm", record.Provider)
	assert.False(t, record.TS.IsZero())

	var data DispatchRecord
	err = json.Unmarshal(record.Data, &data)
	require.NoError(t, err)

	assert.Equal(t, 40213, data.PID)
	assert.Equal(t, "glm-4.6", data.Model)
	assert.Equal(t, "preferred", data.ModelBasis)
	assert.Empty(t, data.FallbackReason)
}

func TestJSONLWriter_WriteOutcome(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "gt-1042", "opencode")

	code := 0
	out := &OutcomeRecord{
		State:      "no_op_success",
		ExitCode:   &code,
		ReasonCode: CodeNoOp,
		Detail:     "exit 0 with zero workspace mutations and no heartbeat",
	}

	err := w.WriteOutcome(context.Background(), out)
	require.NoError(t, err)

	var record Record
	err = json.Unmarshal(buf.Bytes(), &record)
	require.NoError(t, err)

	assert.Equal(t, TypeOutcome, record.Type)

	var data OutcomeRecord
	err = json.Unmarshal(record.Data, &data)
	require.NoError(t, err)

	assert.Equal(t, "no_op_success", data.State)
	require.NotNil(t, data.ExitCode)
	assert.Equal(t, 0, *data.ExitCode)
	assert.Equal(t, CodeNoOp, data.ReasonCode)
}

func TestJSONLWriter_WriteGate(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "gt-1042", "gemini")

	g := &GateRecord{
		Operation: "dispatch",
		Gate:      "model_drift",
		Passed:    false,
		Severity:  "error",
		Code:      CodeModelDrift,
		Reason:    "MODEL_DRIFT_VIOLATION requested=gemini-1.5-flash canonical=gemini-2.5-pro",
	}

	err := w.WriteGate(context.Background(), g)
	require.NoError(t, err)

	var record Record
	err = json.Unmarshal(buf.Bytes(), &record)
	require.NoError(t, err)

	assert.Equal(t, TypeGate, record.Type)

	var data GateRecord
	err = json.Unmarshal(record.Data, &data)
	require.NoError(t, err)

	assert.False(t, data.Passed)
	assert.Equal(t, CodeModelDrift, data.Code)
	assert.Contains(t, data.Reason, "MODEL_DRIFT_VIOLATION")
}

func TestJSONLWriter_NewlineTerminated(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "gt-1042", "ccglm")

	err := w.WriteTransition(context.Background(), &TransitionRecord{From: "launching", To: "waiting_first_output"})
	require.NoError(t, err)

	err = w.WriteTransition(context.Background(), &TransitionRecord{From: "waiting_first_output", To: "healthy"})
	require.NoError(t, err)

	// Output should be two lines
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)

	// Each line should be valid JSON
	for _, line := range lines {
		var record Record
		err := json.Unmarshal([]byte(line), &record)
		assert.NoError(t, err)
	}
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "gt-1042", "ccglm")

	err := w.Close()
	require.NoError(t, err)

	// Writing after close should fail
	err = w.WriteError(context.Background(), &ErrorRecord{Code: CodeStartFailed, Message: "spawn failed"})
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "", "ccglm")

	const numWriters = 10
	const writesPerWriter = 100

	var wg sync.WaitGroup
	wg.Add(numWriters)

	for i := 0; i < numWriters; i++ {
		go func(writerID int) {
			defer wg.Done()
			for j := 0; j < writesPerWriter; j++ {
				tr := &TransitionRecord{
					From:   "healthy",
					To:     "stalled",
					Reason: CodeStalled,
				}
				_ = w.WriteTransition(context.Background(), tr)
			}
		}(i)
	}

	wg.Wait()

	// Verify all lines are complete JSON objects (no interleaving)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, numWriters*writesPerWriter)

	for i, line := range lines {
		var record Record
		err := json.Unmarshal([]byte(line), &record)
		assert.NoError(t, err, "line %d should be valid JSON: %s", i, line)
	}
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "gt-1042", "ccglm")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteTransition(ctx, &TransitionRecord{From: "healthy", To: "stalled"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, buf.Len())
}
