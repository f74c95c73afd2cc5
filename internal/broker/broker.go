package broker

// Thread-safe sliding-window store for throughput samples and the
// accepted-value chart series.

import (
	"sync"
	"time"
)

// DefaultChartSize is the number of accepted values kept for charting.
const DefaultChartSize = 200

// Sample is one packets-per-second observation.
type Sample struct {
	Time          time.Time `json:"time"`
	PacketsPerSec int       `json:"packets_per_sec"`
}

// Broker holds bounded histories written by the responder and pipeline and
// read by observers. Every read returns a copy.
type Broker struct {
	mu        sync.RWMutex
	samples   ring[Sample]
	values    ring[int]
	lastRate  int
	lastValue int
	now       func() time.Time
}

// New returns a broker holding historySeconds*2 samples and chartSize values.
func New(historySeconds, chartSize int) *Broker {
	if historySeconds < 1 {
		historySeconds = 1
	}
	if chartSize < 1 {
		chartSize = DefaultChartSize
	}
	return &Broker{
		samples: newRing[Sample](historySeconds * 2),
		values:  newRing[int](chartSize),
		now:     time.Now,
	}
}

// UpdatePackets records the latest per-second packet rate.
func (b *Broker) UpdatePackets(pps int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastRate = pps
	b.samples.push(Sample{Time: b.now(), PacketsPerSec: pps})
}

// History returns the retained samples, oldest first.
func (b *Broker) History() []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.samples.snapshot()
}

// Last returns the most recently published rate.
func (b *Broker) Last() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastRate
}

// RecordValue appends an accepted packet value to the chart series.
func (b *Broker) RecordValue(v int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastValue = v
	b.values.push(v)
}

// Values returns the chart series, oldest first.
func (b *Broker) Values() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.values.snapshot()
}

// LastValue returns the newest charted value and whether any exists.
func (b *Broker) LastValue() (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastValue, b.values.len() > 0
}

// ring is a fixed-capacity FIFO that overwrites its oldest element.
type ring[T any] struct {
	buf   []T
	start int
	size  int
}

func newRing[T any](capacity int) ring[T] {
	return ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring[T]) len() int { return r.size }

func (r *ring[T]) snapshot() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
