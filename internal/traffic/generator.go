package traffic

// Rate-controlled Modbus/TCP request generator.
//
// Each generator owns one connection and one cadence loop. The loop keeps a
// next-send deadline: when it has passed, one packet is built, screened by
// the gate and written, and the deadline advances by 1/rate; otherwise the
// loop sleeps until the deadline or one tick, whichever is sooner. Falling
// behind is corrected by sending back to back rather than resetting.

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	mserrors "github.com/tturner/modsim/internal/errors"
	"github.com/tturner/modsim/internal/logging"
	"github.com/tturner/modsim/internal/modbus"
)

// Replayer exposes a generator's retained packets to the mutation stage.
type Replayer interface {
	Len() int
	Sample(rng *rand.Rand) (modbus.Packet, bool)
	NextTransactionID() uint16
}

// Gate screens a packet before it is written. Returning false drops it.
type Gate interface {
	Admit(p modbus.Packet, src Replayer) (modbus.Packet, bool)
}

type passGate struct{}

func (passGate) Admit(p modbus.Packet, _ Replayer) (modbus.Packet, bool) { return p, true }

// LogSink receives human-readable log notifications.
type LogSink interface {
	OnLog(text string) error
}

// Config describes one generator.
type Config struct {
	ID             int
	Source         string
	Address        string
	Rate           int
	ConnectTimeout time.Duration
	Tick           time.Duration
	ReplayBuffer   int
	UnitID         uint8
	Functions      []int
	ValueMax       int
	AddressMax     int
}

func (c *Config) applyDefaults() {
	if c.Source == "" {
		c.Source = fmt.Sprintf("client-%d", c.ID)
	}
	if c.Rate < 1 {
		c.Rate = 1
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 2 * time.Second
	}
	if c.Tick <= 0 {
		c.Tick = 10 * time.Millisecond
	}
	if c.ReplayBuffer < 1 {
		c.ReplayBuffer = 500
	}
	if c.UnitID == 0 {
		c.UnitID = 1
	}
	if len(c.Functions) == 0 {
		c.Functions = []int{1, 3, 5}
	}
	if c.ValueMax <= 0 {
		c.ValueMax = 100
	}
	if c.AddressMax <= 0 {
		c.AddressMax = 50
	}
}

// Stats is a snapshot of a generator's counters.
type Stats struct {
	ID          int           `json:"id"`
	Source      string        `json:"source"`
	Rate        int           `json:"rate"`
	Running     bool          `json:"running"`
	SentSession uint64        `json:"sent_session"`
	SentTotal   uint64        `json:"sent_total"`
	Dropped     uint64        `json:"dropped"`
	Echoed      uint64        `json:"echoed_total"`
	Malformed   uint64        `json:"malformed"`
	AvgRTT      time.Duration `json:"avg_rtt_ns"`
}

// Generator emits synthetic requests at a configurable rate.
type Generator struct {
	cfg    Config
	gate   Gate
	logger *logging.Logger
	sink   LogSink

	rate atomic.Int64
	tid  atomic.Uint32

	sentSession atomic.Uint64
	sentTotal   atomic.Uint64
	dropped     atomic.Uint64

	replay  *ReplayBuffer
	tracker *echoTracker

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	conn    net.Conn
	done    chan struct{}

	writeMu sync.Mutex
}

// GeneratorOption customises a Generator.
type GeneratorOption func(*Generator)

// WithGate routes every packet through gate before transmission.
func WithGate(gate Gate) GeneratorOption {
	return func(g *Generator) {
		if gate != nil {
			g.gate = gate
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// WithLogSink sets the log notification sink.
func WithLogSink(s LogSink) GeneratorOption {
	return func(g *Generator) { g.sink = s }
}

// WithRand sets the random source used to build packets.
func WithRand(rng *rand.Rand) GeneratorOption {
	return func(g *Generator) { g.rng = rng }
}

// NewGenerator creates a stopped generator.
func NewGenerator(cfg Config, opts ...GeneratorOption) *Generator {
	cfg.applyDefaults()
	g := &Generator{
		cfg:     cfg,
		gate:    passGate{},
		replay:  NewReplayBuffer(cfg.ReplayBuffer),
		tracker: newEchoTracker(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.ID)))
	}
	if g.logger == nil {
		g.logger = logging.NewNop()
	}
	g.rate.Store(int64(cfg.Rate))
	g.tid.Store(uint32(g.rng.Intn(1 << 16)))
	return g
}

// ID returns the generator id.
func (g *Generator) ID() int { return g.cfg.ID }

// Source returns the generator's source label.
func (g *Generator) Source() string { return g.cfg.Source }

// Rate returns the configured packets per second.
func (g *Generator) Rate() int { return int(g.rate.Load()) }

// SetRate changes the rate, clamped to at least 1 pps. The next send
// decision uses the new interval.
func (g *Generator) SetRate(pps int) {
	if pps < 1 {
		pps = 1
	}
	g.rate.Store(int64(pps))
}

// Interval returns the current inter-send interval.
func (g *Generator) Interval() time.Duration {
	return time.Second / time.Duration(g.rate.Load())
}

// NextTransactionID returns the next transaction id, wrapping at 16 bits.
func (g *Generator) NextTransactionID() uint16 {
	return uint16(g.tid.Add(1))
}

// Len returns the number of packets in the replay buffer.
func (g *Generator) Len() int { return g.replay.Len() }

// Sample returns a random packet from the replay buffer.
func (g *Generator) Sample(rng *rand.Rand) (modbus.Packet, bool) {
	return g.replay.Sample(rng)
}

// ReplayBuffer returns the retained packets, oldest first.
func (g *Generator) ReplayBuffer() []modbus.Packet {
	return g.replay.Snapshot()
}

// Running reports whether the cadence loop is active.
func (g *Generator) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Stats returns a snapshot of the generator's counters.
func (g *Generator) Stats() Stats {
	echo := g.tracker.snapshot()
	return Stats{
		ID:          g.cfg.ID,
		Source:      g.cfg.Source,
		Rate:        g.Rate(),
		Running:     g.Running(),
		SentSession: g.sentSession.Load(),
		SentTotal:   g.sentTotal.Load(),
		Dropped:     g.dropped.Load(),
		Echoed:      echo.Echoed,
		Malformed:   echo.Malformed,
		AvgRTT:      echo.AvgRTT,
	}
}

// Start connects and begins sending. It is a no-op when already running.
// A failed connection ends the task; it is not retried.
func (g *Generator) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	g.running = true
	g.cancel = cancel
	g.done = done
	g.sentSession.Store(0)
	go g.run(ctx, done)
}

// Stop halts the cadence loop, closes the connection and waits for the
// loop to exit.
func (g *Generator) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	g.cancel()
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
	done := g.done
	g.mu.Unlock()

	<-done
}

// InjectReplay re-sends a retained packet with its original transaction id,
// tagged REPLAY, through the gate. admitted reports whether the gate let it
// through.
func (g *Generator) InjectReplay() (p modbus.Packet, admitted bool, err error) {
	g.rngMu.Lock()
	p, ok := g.replay.Sample(g.rng)
	g.rngMu.Unlock()
	if !ok {
		return modbus.Packet{}, false, mserrors.EmptyReplayBuffer(g.cfg.Source)
	}
	p.Tag = modbus.TagReplay
	p.Timestamp = time.Now()

	p, admitted = g.gate.Admit(p, g)
	if !admitted {
		g.dropped.Add(1)
		return p, false, nil
	}

	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return p, true, mserrors.Connection(errors.New("not connected"), "replay from "+g.cfg.Source)
	}
	return p, true, g.transmit(conn, p)
}

func (g *Generator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer g.markStopped(done)

	dialer := net.Dialer{Timeout: g.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", g.cfg.Address)
	if err != nil {
		if ctx.Err() == nil {
			g.report("%s: connect to %s failed: %v", g.cfg.Source, g.cfg.Address, err)
		}
		return
	}

	g.mu.Lock()
	if ctx.Err() != nil {
		g.mu.Unlock()
		conn.Close()
		return
	}
	g.conn = conn
	g.mu.Unlock()

	g.logger.Verbose("%s connected to %s at %d pps", g.cfg.Source, g.cfg.Address, g.Rate())

	var drainWG sync.WaitGroup
	drainWG.Add(1)
	go func() {
		defer drainWG.Done()
		g.drain(conn)
	}()

	err = g.cadence(ctx, conn)
	if err != nil && ctx.Err() == nil {
		g.report("%s: connection to %s lost: %v", g.cfg.Source, g.cfg.Address, err)
	}

	g.mu.Lock()
	if g.conn == conn {
		g.conn = nil
	}
	g.mu.Unlock()
	conn.Close()
	drainWG.Wait()
}

func (g *Generator) cadence(ctx context.Context, conn net.Conn) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	next := time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		now := time.Now()
		if !now.Before(next) {
			if err := g.sendNext(conn); err != nil {
				return err
			}
			next = next.Add(g.Interval())
			continue
		}

		wait := next.Sub(now)
		if wait > g.cfg.Tick {
			wait = g.cfg.Tick
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

func (g *Generator) sendNext(conn net.Conn) error {
	p := g.build()
	g.replay.Add(p)

	p, ok := g.gate.Admit(p, g)
	if !ok {
		g.dropped.Add(1)
		return nil
	}
	return g.transmit(conn, p)
}

func (g *Generator) build() modbus.Packet {
	g.rngMu.Lock()
	fc := g.cfg.Functions[g.rng.Intn(len(g.cfg.Functions))]
	addr := g.rng.Intn(g.cfg.AddressMax + 1)
	value := g.rng.Intn(g.cfg.ValueMax + 1)
	g.rngMu.Unlock()

	return modbus.Packet{
		TransactionID: g.NextTransactionID(),
		UnitID:        g.cfg.UnitID,
		Function:      modbus.FunctionCode(fc),
		Address:       addr,
		Value:         value,
		Source:        g.cfg.Source,
		Timestamp:     time.Now(),
	}
}

func (g *Generator) transmit(conn net.Conn, p modbus.Packet) error {
	frame := modbus.Encode(p)

	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	now := time.Now()
	_ = conn.SetWriteDeadline(now.Add(g.cfg.ConnectTimeout))
	g.tracker.sent(p.TransactionID, now)
	if _, err := conn.Write(frame); err != nil {
		return mserrors.Connection(err, "write to "+g.cfg.Address)
	}
	g.sentSession.Add(1)
	g.sentTotal.Add(1)
	if g.logger.Sampled("send:" + g.cfg.Source) {
		g.logger.LogHex(fmt.Sprintf("%s tx tid=%d", g.cfg.Source, p.TransactionID), frame)
	}
	return nil
}

// drain consumes the responder's echoes until the connection closes.
func (g *Generator) drain(conn net.Conn) {
	buffer := make([]byte, 0, 1024)
	readBuf := make([]byte, 4096)
	for {
		n, err := conn.Read(readBuf)
		if err != nil {
			return
		}
		buffer = append(buffer, readBuf[:n]...)

		frames, rest, err := modbus.SplitFrames(buffer)
		now := time.Now()
		for _, frame := range frames {
			pkt, derr := modbus.Decode(frame)
			if derr != nil {
				g.tracker.malformed()
				g.logger.Debug("%v", mserrors.WrapFrameError(derr, conn.RemoteAddr().String()))
				continue
			}
			g.tracker.echoed(pkt.TransactionID, now)
		}
		if err != nil {
			g.tracker.malformed()
			g.logger.Debug("%v", mserrors.WrapFrameError(err, conn.RemoteAddr().String()))
			buffer = buffer[:0]
			continue
		}
		buffer = rest
	}
}

func (g *Generator) markStopped(done chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done == done {
		g.running = false
		g.cancel()
	}
}

func (g *Generator) report(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	g.logger.Error("%s", msg)
	if g.sink != nil {
		if err := g.sink.OnLog(msg); err != nil {
			g.logger.Debug("log notification failed: %v", err)
		}
	}
}
