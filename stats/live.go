package stats

import (
	"log/slog"
	"time"
)

const (
	// DefaultLiveHistory is the default live window length in seconds.
	DefaultLiveHistory = 10.0
	// MaxLiveHistory is the longest live window in seconds.
	MaxLiveHistory = 240.0
)

// Clock supplies wall-clock time to the live timeline.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// LiveTimeline keeps a bounded window of recent collections for live plots.
// It is owned by the simulation thread and is not safe for concurrent use.
type LiveTimeline struct {
	clock Clock
	start time.Time

	timepoint float64 // seconds since start
	history   float64 // window length in seconds

	data            StatisticsHistoryData
	last            *TimelineCounters
	lastTimestep    *uint64
	discontinuities int
}

// NewLiveTimeline creates a live timeline with the given window length in
// seconds. A nil clock uses the system clock.
func NewLiveTimeline(clock Clock, history float64) *LiveTimeline {
	if clock == nil {
		clock = SystemClock()
	}
	lt := &LiveTimeline{
		clock: clock,
		start: clock.Now(),
	}
	lt.SetHistory(history)
	return lt
}

// SetHistory sets the window length, clamped to MaxLiveHistory.
// Non-positive values select DefaultLiveHistory.
func (lt *LiveTimeline) SetHistory(seconds float64) {
	switch {
	case seconds <= 0:
		seconds = DefaultLiveHistory
	case seconds > MaxLiveHistory:
		seconds = MaxLiveHistory
	}
	lt.history = seconds
}

// History returns the window length in seconds.
func (lt *LiveTimeline) History() float64 {
	return lt.history
}

// Timepoint returns the seconds elapsed at the latest Add.
func (lt *LiveTimeline) Timepoint() float64 {
	return lt.timepoint
}

// Add converts counters against the previously added counters, appends the
// result and trims the window. The new collection is returned.
func (lt *LiveTimeline) Add(counters TimelineCounters, timestep uint64) DataPointCollection {
	now := lt.clock.Now().Sub(lt.start).Seconds()
	if now < lt.timepoint {
		now = lt.timepoint
	}
	lt.timepoint = now

	if lt.last != nil {
		if n := Discontinuities(counters, *lt.last); n > 0 {
			lt.discontinuities += n
			slog.Warn("statistics discontinuity",
				"timestep", timestep,
				"fields", n,
				"total", lt.discontinuities,
			)
		}
	}

	collection := Convert(counters, timestep, lt.timepoint, lt.last, lt.lastTimestep)
	lt.data = append(lt.data, collection)

	last := counters
	ts := timestep
	lt.last = &last
	lt.lastTimestep = &ts

	lt.Truncate()
	return collection
}

// Truncate drops the leading entries older than the window.
func (lt *LiveTimeline) Truncate() {
	cutoff := lt.timepoint - lt.history
	n := 0
	for n < len(lt.data) && lt.data[n].Time < cutoff {
		n++
	}
	if n == 0 {
		return
	}
	// Shift in place so the backing array does not grow without bound.
	lt.data = append(lt.data[:0], lt.data[n:]...)
}

// Window returns a copy of the retained collections, oldest first.
func (lt *LiveTimeline) Window() StatisticsHistoryData {
	out := make(StatisticsHistoryData, len(lt.data))
	copy(out, lt.data)
	return out
}

// Len returns the number of retained collections.
func (lt *LiveTimeline) Len() int {
	return len(lt.data)
}

// Latest returns the most recent collection, if any.
func (lt *LiveTimeline) Latest() (DataPointCollection, bool) {
	if len(lt.data) == 0 {
		return DataPointCollection{}, false
	}
	return lt.data[len(lt.data)-1], true
}

// Discontinuities returns how many decreasing accumulator values were seen.
func (lt *LiveTimeline) Discontinuities() int {
	return lt.discontinuities
}

// Reset clears the window and restarts the timepoint at zero.
func (lt *LiveTimeline) Reset() {
	lt.start = lt.clock.Now()
	lt.timepoint = 0
	lt.data = lt.data[:0]
	lt.last = nil
	lt.lastTimestep = nil
	lt.discontinuities = 0
}
