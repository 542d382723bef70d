package stats

import (
	"errors"
	"sync"
	"testing"
)

func TestHistory_AppendAndCopy(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 5; i++ {
		if err := h.Append(DataPointCollection{Time: float64(i)}); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}

	data := h.CopiedData()
	if len(data) != 5 {
		t.Fatalf("len = %d, want 5", len(data))
	}

	// Mutating the copy must not affect the store.
	data[0].Time = 99
	if first := h.CopiedData()[0].Time; first != 0 {
		t.Errorf("store modified through copy: first time = %v", first)
	}
}

func TestHistory_RejectsOutOfOrder(t *testing.T) {
	h := NewHistory()
	_ = h.Append(DataPointCollection{Time: 2})

	if err := h.Append(DataPointCollection{Time: 1}); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("err = %v, want ErrOutOfOrder", err)
	}
	if err := h.Append(DataPointCollection{Time: 2}); err != nil {
		t.Errorf("equal time should be accepted, got %v", err)
	}
	if h.Len() != 2 {
		t.Errorf("len = %d, want 2", h.Len())
	}
}

func TestHistory_LockedReplaceClear(t *testing.T) {
	h := NewHistory()
	h.Replace(StatisticsHistoryData{{Time: 1}, {Time: 2}, {Time: 3}})

	h.Locked(func(data *StatisticsHistoryData) {
		*data = (*data)[1:]
	})
	if last, ok := h.Last(); !ok || last.Time != 3 {
		t.Errorf("last = %v (%v), want 3", last.Time, ok)
	}
	if h.Len() != 2 {
		t.Errorf("len = %d, want 2", h.Len())
	}

	h.Clear()
	if h.Len() != 0 {
		t.Errorf("len after clear = %d, want 0", h.Len())
	}
	if _, ok := h.Last(); ok {
		t.Error("expected no last entry after clear")
	}
}

func TestHistory_ConcurrentCopyIsConsistentPrefix(t *testing.T) {
	h := NewHistory()
	const n = 2000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			c := DataPointCollection{Time: float64(i)}
			c.NumCells.Summed = float64(i)
			if err := h.Append(c); err != nil {
				t.Errorf("Append(%d): %v", i, err)
				return
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 200; k++ {
				data := h.CopiedData()
				for i, c := range data {
					if c.Time != float64(i) || c.NumCells.Summed != float64(i) {
						t.Errorf("torn copy at %d: time=%v cells=%v", i, c.Time, c.NumCells.Summed)
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	if h.Len() != n {
		t.Errorf("len = %d, want %d", h.Len(), n)
	}
}
