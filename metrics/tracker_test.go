package metrics

import (
	"sync"
	"testing"
	"time"

	"satlegal-backend/models"
)

func TestSnapshotTotalsEqualStepSums(t *testing.T) {
	tr := NewTracker()
	tr.Record(models.StepMetrics{Step: "analyze", InputTokens: 100, OutputTokens: 30, Elapsed: time.Second})
	tr.Record(models.StepMetrics{Step: "identify_arguments", InputTokens: 150, OutputTokens: 85, Elapsed: 2 * time.Second, Estimated: true})
	tr.Record(models.StepMetrics{Step: "formulate_final", InputTokens: 240, OutputTokens: 225, Elapsed: 3 * time.Second})

	m := tr.Snapshot()
	if len(m.Steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(m.Steps))
	}

	var in, out int
	var elapsed time.Duration
	for _, s := range m.Steps {
		in += s.InputTokens
		out += s.OutputTokens
		elapsed += s.Elapsed
	}
	if m.InputTokens != in || m.OutputTokens != out || m.TotalTokens != in+out {
		t.Errorf("totals %d/%d/%d, want %d/%d/%d", m.InputTokens, m.OutputTokens, m.TotalTokens, in, out, in+out)
	}
	if m.Elapsed != elapsed || m.ElapsedSeconds != 6 {
		t.Errorf("elapsed = %v (%vs), want 6s", m.Elapsed, m.ElapsedSeconds)
	}
	if !m.Estimated {
		t.Error("Estimated = false, want true when any step is estimated")
	}
	if m.Steps[1].ElapsedSeconds != 2 {
		t.Errorf("step ElapsedSeconds = %v, want 2", m.Steps[1].ElapsedSeconds)
	}
}

func TestEmptySnapshot(t *testing.T) {
	m := NewTracker().Snapshot()
	if m.Steps == nil || len(m.Steps) != 0 || m.TotalTokens != 0 {
		t.Errorf("empty snapshot = %+v", m)
	}
}

func TestTrackersAreIndependent(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr := NewTracker()
			for s := 0; s < 3; s++ {
				tr.Record(models.StepMetrics{Step: "step", InputTokens: i, OutputTokens: 1})
			}
			m := tr.Snapshot()
			if len(m.Steps) != 3 || m.InputTokens != 3*i || m.OutputTokens != 3 {
				t.Errorf("request %d saw %+v", i, m)
			}
			reg.Observe(m)
		}(i)
	}
	wg.Wait()

	totals := reg.Totals()
	if totals.Requests != 20 {
		t.Errorf("Requests = %d, want 20", totals.Requests)
	}
	// sum of 3*i for i in [0,20)
	if totals.InputTokens != 570 || totals.OutputTokens != 60 || totals.TotalTokens != 630 {
		t.Errorf("totals = %+v", totals)
	}
}

func TestRegistryCountsProviderFailures(t *testing.T) {
	reg := NewRegistry()
	reg.Observe(models.Metrics{Steps: []models.StepMetrics{{
		InputTokens: 10, OutputTokens: 5, Estimated: true,
		Attempts: []models.Attempt{
			{Provider: "deepseek", Error: "timeout"},
			{Provider: "anthropic", Fallback: true},
		},
	}}, InputTokens: 10, OutputTokens: 5})
	reg.ObserveFailure([]models.Attempt{{Provider: "deepseek", Error: "timeout"}})

	totals := reg.Totals()
	if totals.ProviderFailures["deepseek"] != 2 || totals.ProviderFailures["anthropic"] != 0 {
		t.Errorf("ProviderFailures = %v", totals.ProviderFailures)
	}
	if totals.EstimatedTokens != 15 || totals.Failures != 1 {
		t.Errorf("totals = %+v", totals)
	}
}
