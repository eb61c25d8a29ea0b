// Package metrics records per-request token and latency figures and keeps
// process-wide totals.
package metrics

import (
	"sync"
	"time"

	"satlegal-backend/models"
)

// Tracker accumulates the step metrics of a single request
type Tracker struct {
	mu    sync.Mutex
	start time.Time
	steps []models.StepMetrics
}

// NewTracker creates a tracker for one request
func NewTracker() *Tracker {
	return &Tracker{start: time.Now()}
}

// Record appends one step
func (t *Tracker) Record(step models.StepMetrics) {
	step.ElapsedSeconds = step.Elapsed.Seconds()
	if len(step.Attempts) > 0 {
		step.Attempts = append([]models.Attempt(nil), step.Attempts...)
	}

	t.mu.Lock()
	t.steps = append(t.steps, step)
	t.mu.Unlock()
}

// Snapshot returns the recorded steps with totals computed from them
func (t *Tracker) Snapshot() models.Metrics {
	t.mu.Lock()
	steps := append([]models.StepMetrics(nil), t.steps...)
	t.mu.Unlock()

	return Summarize(steps)
}

// Since returns the wall-clock time since the tracker was created
func (t *Tracker) Since() time.Duration {
	return time.Since(t.start)
}

// Summarize totals a list of steps
func Summarize(steps []models.StepMetrics) models.Metrics {
	m := models.Metrics{Steps: steps}
	if m.Steps == nil {
		m.Steps = []models.StepMetrics{}
	}
	for _, s := range steps {
		m.InputTokens += s.InputTokens
		m.OutputTokens += s.OutputTokens
		m.Elapsed += s.Elapsed
		m.Estimated = m.Estimated || s.Estimated
	}
	m.TotalTokens = m.InputTokens + m.OutputTokens
	m.ElapsedSeconds = m.Elapsed.Seconds()
	return m
}
