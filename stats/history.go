package stats

import (
	"errors"
	"sync"
)

// ErrOutOfOrder is returned by History.Append for a collection older than the last one stored.
var ErrOutOfOrder = errors.New("stats: collection older than history tail")

// History is the full-resolution record of a run.
//
// A single writer appends while readers take copies. Direct access to the
// underlying slice is only available inside Locked, so no reference to it
// outlives the critical section.
type History struct {
	mu   sync.Mutex
	data StatisticsHistoryData
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Append adds c at the end. Collections must arrive in non-decreasing time order.
func (h *History) Append(c DataPointCollection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.data); n > 0 && c.Time < h.data[n-1].Time {
		return ErrOutOfOrder
	}
	h.data = append(h.data, c)
	return nil
}

// CopiedData returns a copy of the whole history.
func (h *History) CopiedData() StatisticsHistoryData {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(StatisticsHistoryData, len(h.data))
	copy(out, h.data)
	return out
}

// Locked runs fn while holding the lock. data must not be retained after fn returns.
func (h *History) Locked(fn func(data *StatisticsHistoryData)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.data)
}

// Replace swaps in data wholesale, e.g. after loading a snapshot.
// The slice is copied.
func (h *History) Replace(data StatisticsHistoryData) {
	cp := make(StatisticsHistoryData, len(data))
	copy(cp, data)

	h.mu.Lock()
	h.data = cp
	h.mu.Unlock()
}

// Clear removes all entries.
func (h *History) Clear() {
	h.mu.Lock()
	h.data = nil
	h.mu.Unlock()
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.data)
}

// Last returns the newest entry, if any.
func (h *History) Last() (DataPointCollection, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.data) == 0 {
		return DataPointCollection{}, false
	}
	return h.data[len(h.data)-1], true
}
