package server

// Modbus/TCP echo responder.
//
// Every complete MBAP frame read from a connection is written back
// unchanged. A sampler publishes the number of frames echoed in each
// interval to the broker and resets the counter; it is the only source of
// the packets-per-second observable.

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/tturner/modsim/internal/logging"
)

// Config describes the responder endpoint.
type Config struct {
	ListenIP       string
	TCPPort        int
	MaxConnections int
	IdleTimeout    time.Duration
	SampleInterval time.Duration
}

// RateSink receives the per-interval packet count.
type RateSink interface {
	UpdatePackets(pps int)
}

// LogSink receives human-readable log notifications.
type LogSink interface {
	OnLog(text string) error
}

// Option customises a Server.
type Option func(*Server)

// WithLogSink reports connection failures to l, once per failed connection.
func WithLogSink(l LogSink) Option {
	return func(s *Server) { s.logSink = l }
}

// Server is the echo responder.
type Server struct {
	config  Config
	logger  *logging.Logger
	sink    RateSink
	logSink LogSink
	pool    *ants.Pool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	listener net.Listener

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	active   atomic.Int64
	total    atomic.Uint64
	counter  atomic.Int64
	lastRate atomic.Int64
}

// NewServer creates a responder. sink may be nil.
func NewServer(cfg Config, sink RateSink, logger *logging.Logger, opts ...Option) (*Server, error) {
	if cfg.MaxConnections < 1 {
		cfg.MaxConnections = 20
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		config: cfg,
		logger: logger,
		sink:   sink,
		conns:  make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	pool, err := ants.NewPool(cfg.MaxConnections,
		ants.WithPreAlloc(true),
		ants.WithMaxBlockingTasks(cfg.MaxConnections),
		ants.WithPanicHandler(func(p interface{}) {
			s.logger.Error("connection handler panic: %v", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	s.pool = pool
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// ActiveConnections returns the number of open client connections.
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}

// TotalPackets returns the number of frames echoed since start.
func (s *Server) TotalPackets() uint64 {
	return s.total.Load()
}

// LastRate returns the most recent per-interval sample.
func (s *Server) LastRate() int {
	return int(s.lastRate.Load())
}

// sampleLoop publishes and resets the packet counter once per interval.
func (s *Server) sampleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			n := int(s.counter.Swap(0))
			s.lastRate.Store(int64(n))
			if s.sink != nil {
				s.sink.UpdatePackets(n)
			}
			s.logger.Debug("responder: %d pkt/s, %d connections", n, s.ActiveConnections())
		}
	}
}

// report logs a connection failure and forwards it to the log sink.
func (s *Server) report(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.logger.Error("%s", msg)
	if s.logSink != nil {
		if err := s.logSink.OnLog(msg); err != nil {
			s.logger.Debug("log notification failed: %v", err)
		}
	}
}
