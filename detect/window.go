package detect

import (
	"fmt"
	"time"

	"warden/core"
)

// windowEntry is one observation held by a WindowTracker
type windowEntry struct {
	ts   time.Time
	attr string
}

// windowState holds the entries for a single key, oldest first
type windowState struct {
	entries []windowEntry
	latest  time.Time
}

// WindowTracker counts observations per key inside a sliding time window.
// Entries older than latest-window are evicted before every count.
// A tracker is owned by a single engine and is not safe for concurrent use.
type WindowTracker struct {
	window time.Duration
	state  map[string]*windowState
}

// NewWindowTracker creates a tracker with the given window duration
func NewWindowTracker(window time.Duration) *WindowTracker {
	return &WindowTracker{
		window: window,
		state:  make(map[string]*windowState),
	}
}

// Window returns the configured window duration
func (w *WindowTracker) Window() time.Duration {
	return w.window
}

// Record evicts stale entries for key, appends ts and returns the windowed count.
func (w *WindowTracker) Record(key string, ts time.Time) (int, error) {
	st, err := w.insert(key, ts, "")
	if err != nil {
		return 0, err
	}
	return len(st.entries), nil
}

// RecordWithAttribute behaves like Record but returns the number of distinct
// attribute values currently inside the window.
func (w *WindowTracker) RecordWithAttribute(key string, ts time.Time, attr string) (int, error) {
	st, err := w.insert(key, ts, attr)
	if err != nil {
		return 0, err
	}
	return len(distinct(st.entries)), nil
}

// Attributes returns the distinct attribute values for key in first-appearance order
func (w *WindowTracker) Attributes(key string) []string {
	st, ok := w.state[key]
	if !ok {
		return nil
	}
	return distinct(st.entries)
}

// Previous returns the attribute of the entry recorded just before the latest one,
// provided it is still inside the window.
func (w *WindowTracker) Previous(key string) (string, bool) {
	st, ok := w.state[key]
	if !ok || len(st.entries) < 2 {
		return "", false
	}
	return st.entries[len(st.entries)-2].attr, true
}

// Len returns the number of entries currently held for key
func (w *WindowTracker) Len(key string) int {
	if st, ok := w.state[key]; ok {
		return len(st.entries)
	}
	return 0
}

// Oldest returns the oldest timestamp held for key
func (w *WindowTracker) Oldest(key string) (time.Time, bool) {
	st, ok := w.state[key]
	if !ok || len(st.entries) == 0 {
		return time.Time{}, false
	}
	return st.entries[0].ts, true
}

// Keys returns the number of keys tracked so far
func (w *WindowTracker) Keys() int {
	return len(w.state)
}

// TotalEntries returns the number of entries across all keys
func (w *WindowTracker) TotalEntries() int {
	total := 0
	for _, st := range w.state {
		total += len(st.entries)
	}
	return total
}

func (w *WindowTracker) insert(key string, ts time.Time, attr string) (*windowState, error) {
	st, ok := w.state[key]
	if !ok {
		st = &windowState{entries: make([]windowEntry, 0, 4)}
		w.state[key] = st
	}

	// Eviction must stay monotonic per key
	if ts.Before(st.latest) {
		return nil, fmt.Errorf("%w: key %q got %s after %s", core.ErrOutOfOrder, key,
			ts.Format(time.RFC3339), st.latest.Format(time.RFC3339))
	}
	st.latest = ts

	cutoff := ts.Add(-w.window)
	drop := 0
	for drop < len(st.entries) && st.entries[drop].ts.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		// Copy down so the backing array does not grow without bound
		n := copy(st.entries, st.entries[drop:])
		st.entries = st.entries[:n]
	}

	st.entries = append(st.entries, windowEntry{ts: ts, attr: attr})
	return st, nil
}

func distinct(entries []windowEntry) []string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.attr]; ok {
			continue
		}
		seen[e.attr] = struct{}{}
		out = append(out, e.attr)
	}
	return out
}
