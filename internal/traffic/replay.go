package traffic

import (
	"math/rand"
	"sync"

	"github.com/tturner/modsim/internal/modbus"
)

// ReplayBuffer keeps the most recent packets a generator built, for forged
// and explicit replays. Safe for concurrent use.
type ReplayBuffer struct {
	mu    sync.Mutex
	buf   []modbus.Packet
	start int
	size  int
}

// NewReplayBuffer returns a buffer holding at most capacity packets.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ReplayBuffer{buf: make([]modbus.Packet, capacity)}
}

// Add appends p, overwriting the oldest packet when full.
func (r *ReplayBuffer) Add(p modbus.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = p
		r.size++
		return
	}
	r.buf[r.start] = p
	r.start = (r.start + 1) % len(r.buf)
}

// Len returns the number of retained packets.
func (r *ReplayBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Sample returns a uniformly chosen retained packet.
func (r *ReplayBuffer) Sample(rng *rand.Rand) (modbus.Packet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return modbus.Packet{}, false
	}
	return r.buf[(r.start+rng.Intn(r.size))%len(r.buf)], true
}

// Snapshot returns the retained packets, oldest first.
func (r *ReplayBuffer) Snapshot() []modbus.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]modbus.Packet, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
