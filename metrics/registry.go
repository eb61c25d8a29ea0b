package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"satlegal-backend/models"
)

// Registry keeps process-wide totals. It only ever receives finished
// snapshots, so requests never share a mutable Tracker.
type Registry struct {
	started time.Time

	requests        atomic.Int64
	failures        atomic.Int64
	inputTokens     atomic.Int64
	outputTokens    atomic.Int64
	estimatedTokens atomic.Int64
	elapsedNanos    atomic.Int64

	mu               sync.Mutex
	providerFailures map[string]int64
}

// Totals is a point-in-time view of a Registry
type Totals struct {
	Requests         int64            `json:"requests"`
	Failures         int64            `json:"failures"`
	InputTokens      int64            `json:"input_tokens"`
	OutputTokens     int64            `json:"output_tokens"`
	TotalTokens      int64            `json:"total_tokens"`
	EstimatedTokens  int64            `json:"estimated_tokens"`
	ElapsedSeconds   float64          `json:"elapsed_seconds"`
	ProviderFailures map[string]int64 `json:"provider_failures"`
	UptimeSeconds    float64          `json:"uptime_seconds"`
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		started:          time.Now(),
		providerFailures: make(map[string]int64),
	}
}

// Observe adds a finished request
func (r *Registry) Observe(m models.Metrics) {
	r.requests.Add(1)
	r.inputTokens.Add(int64(m.InputTokens))
	r.outputTokens.Add(int64(m.OutputTokens))
	r.elapsedNanos.Add(int64(m.Elapsed))

	var failed []string
	for _, s := range m.Steps {
		if s.Estimated {
			r.estimatedTokens.Add(int64(s.InputTokens + s.OutputTokens))
		}
		for _, a := range s.Attempts {
			if a.Error != "" {
				failed = append(failed, a.Provider)
			}
		}
	}
	r.countProviderFailures(failed)
}

// ObserveFailure counts a request that produced no result
func (r *Registry) ObserveFailure(attempts []models.Attempt) {
	r.failures.Add(1)
	var failed []string
	for _, a := range attempts {
		if a.Error != "" {
			failed = append(failed, a.Provider)
		}
	}
	r.countProviderFailures(failed)
}

func (r *Registry) countProviderFailures(providers []string) {
	if len(providers) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range providers {
		r.providerFailures[p]++
	}
}

// Totals returns the current totals
func (r *Registry) Totals() Totals {
	t := Totals{
		Requests:         r.requests.Load(),
		Failures:         r.failures.Load(),
		InputTokens:      r.inputTokens.Load(),
		OutputTokens:     r.outputTokens.Load(),
		EstimatedTokens:  r.estimatedTokens.Load(),
		ElapsedSeconds:   time.Duration(r.elapsedNanos.Load()).Seconds(),
		ProviderFailures: make(map[string]int64),
		UptimeSeconds:    time.Since(r.started).Seconds(),
	}
	t.TotalTokens = t.InputTokens + t.OutputTokens

	r.mu.Lock()
	for p, n := range r.providerFailures {
		t.ProviderFailures[p] = n
	}
	r.mu.Unlock()
	return t
}
