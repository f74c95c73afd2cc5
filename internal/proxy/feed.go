package proxy

// Synthetic field devices feeding the pipeline directly, without a socket.

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tturner/modsim/internal/attack"
	"github.com/tturner/modsim/internal/modbus"
	"github.com/tturner/modsim/internal/traffic"
)

// DefaultDevices are the stock device labels.
var DefaultDevices = []string{"PLC1", "PLC2", "SCADA1", "RTU7"}

// FeedConfig configures a DeviceFeed.
type FeedConfig struct {
	Devices      []string
	Interval     time.Duration
	Functions    []int
	ValueMax     int
	AddressMax   int
	UnitID       uint8
	ReplayBuffer int
}

// DeviceFeed emits one packet per interval from a random device. While the
// effective mode for the chosen device is DOS it emits a burst and then
// pauses for max(100ms, interval/5).
type DeviceFeed struct {
	cfg      FeedConfig
	pipeline *Pipeline
	mutator  *attack.Mutator
	replay   *traffic.ReplayBuffer

	tid  atomic.Uint32
	sent atomic.Uint64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewDeviceFeed creates a feed. mutator supplies DOS burst sizes.
func NewDeviceFeed(cfg FeedConfig, pipeline *Pipeline, mutator *attack.Mutator, rng *rand.Rand) *DeviceFeed {
	if len(cfg.Devices) == 0 {
		cfg.Devices = DefaultDevices
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if len(cfg.Functions) == 0 {
		cfg.Functions = []int{1, 3, 5}
	}
	if cfg.ValueMax <= 0 {
		cfg.ValueMax = 100
	}
	if cfg.AddressMax <= 0 {
		cfg.AddressMax = 50
	}
	if cfg.UnitID == 0 {
		cfg.UnitID = 1
	}
	if cfg.ReplayBuffer < 1 {
		cfg.ReplayBuffer = 500
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &DeviceFeed{
		cfg:      cfg,
		pipeline: pipeline,
		mutator:  mutator,
		replay:   traffic.NewReplayBuffer(cfg.ReplayBuffer),
		rng:      rng,
	}
}

// Run emits packets until ctx is cancelled.
func (f *DeviceFeed) Run(ctx context.Context) error {
	for {
		_, burst := f.Tick()
		wait := f.cfg.Interval
		if burst {
			wait = f.cfg.Interval / 5
			if wait < 100*time.Millisecond {
				wait = 100 * time.Millisecond
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tick emits one round of packets and returns how many were admitted and
// whether the round was a DOS burst.
func (f *DeviceFeed) Tick() (admitted int, burst bool) {
	first := f.build()
	count := 1
	if f.pipeline.State().ModeFor(first.Source) == attack.ModeDOS {
		count = f.mutator.BurstSize()
		burst = true
	}
	pkt := first
	for i := 0; i < count; i++ {
		if i > 0 {
			pkt = f.buildFrom(first.Source)
		}
		f.replay.Add(pkt)
		f.sent.Add(1)
		if _, ok := f.pipeline.Admit(pkt, f); ok {
			admitted++
		}
	}
	return admitted, burst
}

// Sent returns the number of packets emitted.
func (f *DeviceFeed) Sent() uint64 { return f.sent.Load() }

// Len implements traffic.Replayer.
func (f *DeviceFeed) Len() int { return f.replay.Len() }

// Sample implements traffic.Replayer.
func (f *DeviceFeed) Sample(rng *rand.Rand) (modbus.Packet, bool) { return f.replay.Sample(rng) }

// NextTransactionID implements traffic.Replayer.
func (f *DeviceFeed) NextTransactionID() uint16 { return uint16(f.tid.Add(1)) }

func (f *DeviceFeed) build() modbus.Packet {
	f.rngMu.Lock()
	src := f.cfg.Devices[f.rng.Intn(len(f.cfg.Devices))]
	f.rngMu.Unlock()
	return f.buildFrom(src)
}

func (f *DeviceFeed) buildFrom(src string) modbus.Packet {
	f.rngMu.Lock()
	fc := f.cfg.Functions[f.rng.Intn(len(f.cfg.Functions))]
	addr := f.rng.Intn(f.cfg.AddressMax + 1)
	value := f.rng.Intn(f.cfg.ValueMax + 1)
	f.rngMu.Unlock()
	return modbus.Packet{
		TransactionID: f.NextTransactionID(),
		UnitID:        f.cfg.UnitID,
		Function:      modbus.FunctionCode(fc),
		Address:       addr,
		Value:         value,
		Source:        src,
		Timestamp:     time.Now(),
	}
}
