package ingot

import (
	"sync/atomic"
	"time"
)

type EvalOutcome string

const (
	EvalOutcomeSuccess EvalOutcome = "success"
	EvalOutcomeError   EvalOutcome = "error"
)

// MetricsRecorder observes every evaluation. source names what was
// evaluated (a page path, or "inline" for ad-hoc code).
type MetricsRecorder interface {
	RecordEval(source string, duration time.Duration, outcome EvalOutcome, codeBytes int)
}

type noopMetrics struct{}

func (noopMetrics) RecordEval(string, time.Duration, EvalOutcome, int) {}

// recorderSlot keeps the stored type constant across SetMetricsRecorder calls.
type recorderSlot struct {
	MetricsRecorder
}

var metricsRecorder atomic.Value

func init() {
	metricsRecorder.Store(recorderSlot{noopMetrics{}})
}

// SetMetricsRecorder configures a process-wide recorder; pass nil to reset to no-op.
func SetMetricsRecorder(recorder MetricsRecorder) {
	if recorder == nil {
		recorder = noopMetrics{}
	}
	metricsRecorder.Store(recorderSlot{recorder})
}

func evalWithMetrics[T any](source string, codeBytes int, eval func() (T, error)) (T, error) {
	start := time.Now()
	value, err := eval()
	outcome := EvalOutcomeSuccess
	if err != nil {
		outcome = EvalOutcomeError
	}
	recordEval(source, time.Since(start), outcome, codeBytes)
	return value, err
}

func recordEval(source string, duration time.Duration, outcome EvalOutcome, codeBytes int) {
	rec := metricsRecorder.Load()
	if rec == nil {
		return
	}
	slot, ok := rec.(recorderSlot)
	if !ok {
		return
	}
	slot.RecordEval(source, duration, outcome, codeBytes)
}
