package stats

import "time"

// DefaultPeakInterval is the default sampling cadence of a PeakDetector.
const DefaultPeakInterval = 30 * time.Second

// PeakState is the phase of the peak detector.
type PeakState uint8

const (
	// PeakIdle is the state between cadence ticks.
	PeakIdle PeakState = iota
	// PeakSampling is the state while a due tick compares the sample and,
	// if it wins, captures and clones the payload.
	PeakSampling
)

// PeakOutcome is the result of one PeakDetector.Tick.
type PeakOutcome uint8

const (
	// PeakSkipped means no sample was taken (disabled, too early or no data).
	PeakSkipped PeakOutcome = iota
	// PeakReplaced means the sample became the new candidate.
	PeakReplaced
	// PeakDiscarded means the held candidate was better.
	PeakDiscarded
)

func (o PeakOutcome) String() string {
	switch o {
	case PeakReplaced:
		return "replaced"
	case PeakDiscarded:
		return "discarded"
	default:
		return "skipped"
	}
}

// PeakCandidate is the best sample seen so far.
type PeakCandidate[T any] struct {
	Value   float64
	Time    float64
	Payload T
}

// PeakDetector keeps the simulation state that scored highest on one metric,
// sampling at a fixed wall-clock cadence. It only decides what to keep;
// saving the payload is up to the caller.
type PeakDetector[T any] struct {
	metric   Metric
	interval time.Duration
	clone    func(T) T

	enabled    bool
	state      PeakState
	last       PeakOutcome
	lastSample time.Time
	candidate  *PeakCandidate[T]
}

// NewPeakDetector creates an enabled detector. clone deep-copies captured
// payloads; nil keeps them as returned by the capture function.
func NewPeakDetector[T any](metric Metric, interval time.Duration, clone func(T) T) *PeakDetector[T] {
	if interval <= 0 {
		interval = DefaultPeakInterval
	}
	return &PeakDetector[T]{
		metric:   metric,
		interval: interval,
		clone:    clone,
		enabled:  true,
	}
}

// Metric returns the metric the detector maximizes.
func (pd *PeakDetector[T]) Metric() Metric {
	return pd.metric
}

// SetEnabled turns sampling on or off. A disabled detector skips every tick
// but keeps its candidate.
func (pd *PeakDetector[T]) SetEnabled(enabled bool) {
	pd.enabled = enabled
}

// Enabled reports whether the detector samples.
func (pd *PeakDetector[T]) Enabled() bool {
	return pd.enabled
}

// State returns the current phase. It reads PeakSampling only from inside
// the capture or clone function of a Tick.
func (pd *PeakDetector[T]) State() PeakState {
	return pd.state
}

// LastOutcome returns the outcome of the most recent Tick.
func (pd *PeakDetector[T]) LastOutcome() PeakOutcome {
	return pd.last
}

// Tick samples latest if the cadence interval has elapsed since the last
// sample (or reset). capture is only called when the sample wins.
func (pd *PeakDetector[T]) Tick(now time.Time, latest *DataPointCollection, capture func() T) PeakOutcome {
	pd.last = pd.tick(now, latest, capture)
	return pd.last
}

func (pd *PeakDetector[T]) tick(now time.Time, latest *DataPointCollection, capture func() T) PeakOutcome {
	if !pd.enabled || latest == nil {
		return PeakSkipped
	}
	if pd.lastSample.IsZero() {
		pd.lastSample = now
		return PeakSkipped
	}
	if now.Sub(pd.lastSample) < pd.interval {
		return PeakSkipped
	}
	pd.lastSample = now

	pd.state = PeakSampling
	defer func() { pd.state = PeakIdle }()

	value := latest.Get(pd.metric).Summed
	if pd.candidate != nil && value <= pd.candidate.Value {
		return PeakDiscarded
	}

	payload := capture()
	if pd.clone != nil {
		payload = pd.clone(payload)
	}
	pd.candidate = &PeakCandidate[T]{
		Value:   value,
		Time:    latest.Time,
		Payload: payload,
	}
	return PeakReplaced
}

// Candidate returns the held candidate, if any.
func (pd *PeakDetector[T]) Candidate() (PeakCandidate[T], bool) {
	if pd.candidate == nil {
		return PeakCandidate[T]{}, false
	}
	return *pd.candidate, true
}

// Take returns the held candidate and clears it.
func (pd *PeakDetector[T]) Take() (PeakCandidate[T], bool) {
	c, ok := pd.Candidate()
	pd.candidate = nil
	return c, ok
}

// Reset drops the candidate and restarts the cadence at now.
func (pd *PeakDetector[T]) Reset(now time.Time) {
	pd.candidate = nil
	pd.lastSample = now
	pd.state = PeakIdle
	pd.last = PeakSkipped
}
