package stats

import (
	"testing"
	"time"
)

func collectionWithVariance(v float64) *DataPointCollection {
	c := &DataPointCollection{}
	c.GenomeComplexityVariance.Summed = v
	return c
}

func TestPeakDetector_KeepsMaximum(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pd := NewPeakDetector[int](MetricGenomeComplexityVariance, 30*time.Second, nil)
	pd.Reset(start)

	captures := 0
	capture := func(payload int) func() int {
		return func() int {
			captures++
			return payload
		}
	}

	steps := []struct {
		value   float64
		payload int
		want    PeakOutcome
	}{
		{1.0, 1, PeakReplaced},
		{3.0, 2, PeakReplaced},
		{2.0, 3, PeakDiscarded},
		{3.0, 4, PeakDiscarded},
		{4.5, 5, PeakReplaced},
	}

	for i, s := range steps {
		now := start.Add(time.Duration(i+1) * 30 * time.Second)
		got := pd.Tick(now, collectionWithVariance(s.value), capture(s.payload))
		if got != s.want {
			t.Errorf("step %d: outcome = %v, want %v", i, got, s.want)
		}
		if pd.State() != PeakIdle {
			t.Errorf("step %d: state not idle after tick", i)
		}
	}

	c, ok := pd.Candidate()
	if !ok {
		t.Fatal("expected a candidate")
	}
	if c.Value != 4.5 || c.Payload != 5 {
		t.Errorf("candidate = %+v, want value 4.5 payload 5", c)
	}
	if captures != 3 {
		t.Errorf("captures = %d, want 3 (only winners)", captures)
	}
}

func TestPeakDetector_RespectsCadence(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pd := NewPeakDetector[string](MetricGenomeComplexityVariance, 30*time.Second, nil)
	pd.Reset(start)

	capture := func() string { return "snap" }

	if got := pd.Tick(start.Add(10*time.Second), collectionWithVariance(1), capture); got != PeakSkipped {
		t.Errorf("early tick = %v, want skipped", got)
	}
	if got := pd.Tick(start.Add(30*time.Second), collectionWithVariance(1), capture); got != PeakReplaced {
		t.Errorf("tick at cadence = %v, want replaced", got)
	}
	if got := pd.Tick(start.Add(45*time.Second), collectionWithVariance(9), capture); got != PeakSkipped {
		t.Errorf("tick before next cadence = %v, want skipped", got)
	}
}

func TestPeakDetector_DisabledAndNil(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pd := NewPeakDetector[int](MetricGenomeComplexityVariance, time.Second, nil)
	pd.Reset(start)

	if got := pd.Tick(start.Add(time.Hour), nil, func() int { return 1 }); got != PeakSkipped {
		t.Errorf("nil collection = %v, want skipped", got)
	}

	pd.SetEnabled(false)
	if got := pd.Tick(start.Add(2*time.Hour), collectionWithVariance(5), func() int { return 1 }); got != PeakSkipped {
		t.Errorf("disabled = %v, want skipped", got)
	}
	if _, ok := pd.Candidate(); ok {
		t.Error("disabled detector should not hold a candidate")
	}
}

func TestPeakDetector_ClonesPayload(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clone := func(s []int) []int { return append([]int(nil), s...) }
	pd := NewPeakDetector(MetricGenomeComplexityVariance, time.Second, clone)
	pd.Reset(start)

	live := []int{1, 2, 3}
	pd.Tick(start.Add(time.Second), collectionWithVariance(1), func() []int { return live })
	live[0] = 100

	c, _ := pd.Candidate()
	if c.Payload[0] != 1 {
		t.Errorf("payload aliased live state: %v", c.Payload)
	}
}

func TestPeakDetector_TakeClears(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pd := NewPeakDetector[int](MetricNumCells, time.Second, nil)
	pd.Reset(start)

	c := &DataPointCollection{}
	c.NumCells.Summed = 10
	pd.Tick(start.Add(time.Second), c, func() int { return 7 })

	got, ok := pd.Take()
	if !ok || got.Payload != 7 {
		t.Errorf("Take = %+v, %v", got, ok)
	}
	if _, ok := pd.Candidate(); ok {
		t.Error("candidate should be cleared after Take")
	}
}

func TestPeakDetector_StateAndLastOutcome(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var during []PeakState
	var pd *PeakDetector[int]
	clone := func(v int) int {
		during = append(during, pd.State())
		return v
	}
	pd = NewPeakDetector[int](MetricGenomeComplexityVariance, time.Second, clone)
	pd.Reset(start)

	capture := func() int {
		during = append(during, pd.State())
		return 1
	}

	tests := []struct {
		at    time.Duration
		value float64
		want  PeakOutcome
	}{
		{500 * time.Millisecond, 5, PeakSkipped},
		{time.Second, 5, PeakReplaced},
		{2 * time.Second, 1, PeakDiscarded},
	}
	for _, tt := range tests {
		pd.Tick(start.Add(tt.at), collectionWithVariance(tt.value), capture)
		if pd.LastOutcome() != tt.want {
			t.Errorf("at %v: last outcome = %v, want %v", tt.at, pd.LastOutcome(), tt.want)
		}
		if pd.State() != PeakIdle {
			t.Errorf("at %v: state after tick = %v, want idle", tt.at, pd.State())
		}
	}

	if len(during) != 2 || during[0] != PeakSampling || during[1] != PeakSampling {
		t.Errorf("states seen while capturing = %v, want two sampling", during)
	}

	pd.Reset(start)
	if pd.LastOutcome() != PeakSkipped {
		t.Errorf("last outcome after reset = %v", pd.LastOutcome())
	}
}
