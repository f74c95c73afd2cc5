package inspect

// Stateful packet inspection.
//
// Rules are evaluated in a fixed order and the first match decides the
// classification:
//
//  1. source on the block list       -> BLOCKED (state untouched)
//  2. function code not allowed      -> INJECTION
//  3. value above the ceiling        -> INJECTION
//  4. fingerprint in replay cache    -> REPLAY; otherwise the fingerprint is cached
//  5. K arrivals inside the window   -> DOS
//  6. accept

import (
	"sync"
	"time"

	"github.com/tturner/modsim/internal/modbus"
)

// Config holds the engine's tuning constants.
type Config struct {
	AllowedFunctions []int
	MaxValue         int
	ReplayCacheSize  int
	RateWindowSize   int
	DoSArrivals      int
	DoSWindow        time.Duration

	// ReplayIgnoreSource drops the source from the replay fingerprint, so
	// identical (function, value) pairs from different sources collide.
	ReplayIgnoreSource bool
}

// DefaultConfig returns the stock detection thresholds.
func DefaultConfig() Config {
	return Config{
		AllowedFunctions: []int{1, 3, 5},
		MaxValue:         150,
		ReplayCacheSize:  20,
		RateWindowSize:   40,
		DoSArrivals:      10,
		DoSWindow:        time.Second,
	}
}

// Engine applies the inspection rules. It is safe for concurrent use; calls
// are serialised so cache and window updates stay atomic per packet.
type Engine struct {
	mu       sync.Mutex
	allowed  modbus.FunctionSet
	maxValue int
	k        int
	window   time.Duration
	replay   *ReplayCache
	rate     *RateWindow
	blocks   *BlockList
	global   bool
	now      func() time.Time
}

// NewEngine builds an engine. blocks may be nil when no block list is used.
func NewEngine(cfg Config, blocks *BlockList) *Engine {
	k := cfg.DoSArrivals
	if k < 2 {
		k = 2
	}
	windowSize := cfg.RateWindowSize
	if windowSize < k {
		windowSize = k
	}
	return &Engine{
		allowed:  modbus.NewFunctionSet(cfg.AllowedFunctions),
		maxValue: cfg.MaxValue,
		k:        k,
		window:   cfg.DoSWindow,
		replay:   NewReplayCache(cfg.ReplayCacheSize),
		rate:     NewRateWindow(windowSize),
		blocks:   blocks,
		global:   cfg.ReplayIgnoreSource,
		now:      time.Now,
	}
}

// Inspect classifies p.
func (e *Engine) Inspect(p modbus.Packet) Verdict {
	if e.blocks != nil && e.blocks.Contains(p.Source) {
		return reject(ClassBlocked, ReasonBlocked)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.allowed.Contains(p.Function) {
		return reject(ClassInjection, ReasonInvalidFunction)
	}
	if p.Value > e.maxValue {
		return reject(ClassInjection, ReasonValueRange)
	}

	fp := FingerprintOf(p)
	if e.global {
		fp.Source = ""
	}
	if e.replay.Contains(fp) {
		return reject(ClassReplay, ReasonReplay)
	}
	e.replay.Insert(fp)

	e.rate.Record(e.now())
	if span, ok := e.rate.Span(e.k); ok && span < e.window {
		return reject(ClassDoS, ReasonRate)
	}

	return Accept
}

// ReplayCacheLen returns the number of cached fingerprints.
func (e *Engine) ReplayCacheLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replay.Len()
}
