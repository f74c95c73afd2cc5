package proxy

// Per-packet path: mutate for the active attack mode, inspect, then either
// count the packet or raise a security event.

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/tturner/modsim/internal/attack"
	"github.com/tturner/modsim/internal/inspect"
	"github.com/tturner/modsim/internal/logging"
	"github.com/tturner/modsim/internal/metrics"
	"github.com/tturner/modsim/internal/modbus"
	"github.com/tturner/modsim/internal/notify"
	"github.com/tturner/modsim/internal/traffic"
)

// ValueRecorder receives the value of every accepted packet.
type ValueRecorder interface {
	RecordValue(v int)
}

// PacketWriter persists accepted packets.
type PacketWriter interface {
	WritePacket(p modbus.Packet) error
}

// Counters is a snapshot of pipeline totals.
type Counters struct {
	Inspected uint64 `json:"inspected"`
	Accepted  uint64 `json:"accepted"`
	Rejected  uint64 `json:"rejected"`
}

// Pipeline runs every generated packet through the mutator and the
// inspection engine. It implements traffic.Gate.
type Pipeline struct {
	state    *State
	engine   *inspect.Engine
	mutator  *attack.Mutator
	listener notify.Listener
	values   ValueRecorder
	capture  PacketWriter
	sink     *metrics.Sink
	logger   *logging.Logger

	inspected atomic.Uint64
	accepted  atomic.Uint64
	rejected  atomic.Uint64
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithListener sets the notification listener.
func WithListener(l notify.Listener) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.listener = l
		}
	}
}

// WithValueRecorder records accepted values, typically into the broker.
func WithValueRecorder(v ValueRecorder) Option {
	return func(p *Pipeline) { p.values = v }
}

// WithCapture writes accepted packets to w.
func WithCapture(w PacketWriter) Option {
	return func(p *Pipeline) { p.capture = w }
}

// WithMetrics records every verdict into sink.
func WithMetrics(sink *metrics.Sink) Option {
	return func(p *Pipeline) { p.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline assembles a pipeline.
func NewPipeline(state *State, engine *inspect.Engine, mutator *attack.Mutator, opts ...Option) *Pipeline {
	p := &Pipeline{
		state:    state,
		engine:   engine,
		mutator:  mutator,
		listener: notify.Nop{},
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Admit implements traffic.Gate. Explicitly replayed packets skip mutation.
func (p *Pipeline) Admit(pkt modbus.Packet, src traffic.Replayer) (modbus.Packet, bool) {
	if pkt.Tag != modbus.TagReplay {
		var rs attack.ReplaySource
		if src != nil {
			rs = src
		}
		pkt = p.mutator.Apply(pkt, p.state.ModeFor(pkt.Source), rs)
	}
	return pkt, p.Process(pkt)
}

// Process inspects an already-mutated packet and dispatches the outcome.
func (p *Pipeline) Process(pkt modbus.Packet) bool {
	v := p.engine.Inspect(pkt)
	p.inspected.Add(1)
	p.record(pkt, v)

	if !v.Accepted {
		p.rejected.Add(1)
		ev := notify.SecurityEvent{
			Time:   pkt.Timestamp,
			Class:  v.Class.String(),
			Reason: v.Reason,
			Source: pkt.Source,
			Details: map[string]string{
				"function_code":  strconv.Itoa(int(pkt.Function)),
				"value":          strconv.Itoa(pkt.Value),
				"transaction_id": strconv.Itoa(int(pkt.TransactionID)),
				"attack_tag":     pkt.Tag.String(),
			},
		}
		if err := p.listener.OnSecurityEvent(ev); err != nil {
			p.logger.Debug("security event delivery: %v", err)
		}
		return false
	}

	p.accepted.Add(1)
	p.mutator.Observe(pkt.Value)
	if p.values != nil {
		p.values.RecordValue(pkt.Value)
	}
	if p.capture != nil {
		if err := p.capture.WritePacket(pkt); err != nil {
			p.logger.Error("capture: %v", err)
		}
	}
	if err := p.listener.OnPacket(pkt); err != nil {
		p.logger.Debug("packet delivery: %v", err)
	}
	if p.logger.Sampled("accept:" + pkt.Source) {
		p.logger.Verbose("%s fc=%d value=%d tag=%s accepted", pkt.Source, pkt.Function, pkt.Value, pkt.Tag)
	}
	return true
}

// Counters returns the pipeline totals.
func (p *Pipeline) Counters() Counters {
	return Counters{
		Inspected: p.inspected.Load(),
		Accepted:  p.accepted.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// State returns the shared state.
func (p *Pipeline) State() *State { return p.state }

// Engine returns the inspection engine.
func (p *Pipeline) Engine() *inspect.Engine { return p.engine }

func (p *Pipeline) record(pkt modbus.Packet, v inspect.Verdict) {
	if p.sink == nil {
		return
	}
	err := p.sink.Record(metrics.Metric{
		Timestamp: pkt.Timestamp,
		Source:    pkt.Source,
		Function:  uint8(pkt.Function),
		Value:     pkt.Value,
		Tag:       pkt.Tag.String(),
		Accepted:  v.Accepted,
		Class:     v.Class.String(),
		Reason:    v.Reason,
	})
	if err != nil {
		p.logger.Error("%v", fmt.Errorf("record metric: %w", err))
	}
}
