package traffic

// Request/echo correlation by transaction ID.

import (
	"sync"
	"time"
)

// EchoStats summarises echoes observed on one connection.
type EchoStats struct {
	Echoed    uint64
	Unmatched uint64
	Malformed uint64
	LastRTT   time.Duration
	AvgRTT    time.Duration
}

// echoTracker matches echoed frames to their send time. Keys are 16-bit
// transaction IDs, so the map is bounded by the ID space.
type echoTracker struct {
	mu       sync.Mutex
	inFlight map[uint16]time.Time
	stats    EchoStats
	totalRTT time.Duration
}

func newEchoTracker() *echoTracker {
	return &echoTracker{inFlight: make(map[uint16]time.Time)}
}

func (t *echoTracker) sent(tid uint16, at time.Time) {
	t.mu.Lock()
	t.inFlight[tid] = at
	t.mu.Unlock()
}

func (t *echoTracker) echoed(tid uint16, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sentAt, ok := t.inFlight[tid]
	if !ok {
		t.stats.Unmatched++
		return
	}
	delete(t.inFlight, tid)
	rtt := at.Sub(sentAt)
	t.stats.Echoed++
	t.stats.LastRTT = rtt
	t.totalRTT += rtt
	t.stats.AvgRTT = t.totalRTT / time.Duration(t.stats.Echoed)
}

func (t *echoTracker) malformed() {
	t.mu.Lock()
	t.stats.Malformed++
	t.mu.Unlock()
}

func (t *echoTracker) snapshot() EchoStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
