package inspect

import (
	"time"

	"github.com/tturner/modsim/internal/modbus"
)

// Fingerprint identifies a packet for replay detection.
type Fingerprint struct {
	Source   string
	Function modbus.FunctionCode
	Value    int
}

// FingerprintOf returns the replay key for p.
func FingerprintOf(p modbus.Packet) Fingerprint {
	return Fingerprint{Source: p.Source, Function: p.Function, Value: p.Value}
}

// ReplayCache is a fixed-capacity FIFO of fingerprints with O(1) membership.
// Not safe for concurrent use; the engine serialises access.
type ReplayCache struct {
	order []Fingerprint
	head  int
	size  int
	index map[Fingerprint]struct{}
}

// NewReplayCache returns a cache holding at most capacity fingerprints.
func NewReplayCache(capacity int) *ReplayCache {
	if capacity < 1 {
		capacity = 1
	}
	return &ReplayCache{
		order: make([]Fingerprint, capacity),
		index: make(map[Fingerprint]struct{}, capacity),
	}
}

// Contains reports whether fp is cached.
func (c *ReplayCache) Contains(fp Fingerprint) bool {
	_, ok := c.index[fp]
	return ok
}

// Insert adds fp, evicting the oldest entry when full. Inserting a
// fingerprint that is already present is a no-op.
func (c *ReplayCache) Insert(fp Fingerprint) {
	if c.Contains(fp) {
		return
	}
	if c.size == len(c.order) {
		delete(c.index, c.order[c.head])
		c.order[c.head] = fp
		c.head = (c.head + 1) % len(c.order)
	} else {
		c.order[(c.head+c.size)%len(c.order)] = fp
		c.size++
	}
	c.index[fp] = struct{}{}
}

// Len returns the number of cached fingerprints.
func (c *ReplayCache) Len() int {
	return c.size
}

// RateWindow is a fixed-capacity FIFO of arrival timestamps.
type RateWindow struct {
	times []time.Time
	head  int
	size  int
}

// NewRateWindow returns a window holding at most capacity timestamps.
func NewRateWindow(capacity int) *RateWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &RateWindow{times: make([]time.Time, capacity)}
}

// Record appends an arrival, dropping the oldest when full.
func (w *RateWindow) Record(t time.Time) {
	if w.size == len(w.times) {
		w.times[w.head] = t
		w.head = (w.head + 1) % len(w.times)
		return
	}
	w.times[(w.head+w.size)%len(w.times)] = t
	w.size++
}

// Span returns the time between the newest and the k-th newest arrival.
// ok is false when fewer than k arrivals are held.
func (w *RateWindow) Span(k int) (span time.Duration, ok bool) {
	if k < 1 || w.size < k {
		return 0, false
	}
	newest := w.times[(w.head+w.size-1)%len(w.times)]
	kth := w.times[(w.head+w.size-k)%len(w.times)]
	return newest.Sub(kth), true
}

// Len returns the number of held timestamps.
func (w *RateWindow) Len() int {
	return w.size
}
