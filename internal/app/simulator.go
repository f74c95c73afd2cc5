package app

// Simulator is the composition root: responder, generators, pipeline,
// orchestrator, device feed and notification fan-out, plus the command set
// collaborators drive them with.

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/tturner/modsim/internal/attack"
	"github.com/tturner/modsim/internal/broker"
	"github.com/tturner/modsim/internal/capture"
	"github.com/tturner/modsim/internal/config"
	mserrors "github.com/tturner/modsim/internal/errors"
	"github.com/tturner/modsim/internal/inspect"
	"github.com/tturner/modsim/internal/logging"
	"github.com/tturner/modsim/internal/metrics"
	"github.com/tturner/modsim/internal/modbus"
	"github.com/tturner/modsim/internal/notify"
	"github.com/tturner/modsim/internal/proxy"
	"github.com/tturner/modsim/internal/server"
	"github.com/tturner/modsim/internal/traffic"
)

// Status is a point-in-time view of the whole simulator.
type Status struct {
	Running           bool                 `json:"running"`
	ListenAddr        string               `json:"listen_addr"`
	Uptime            string               `json:"uptime"`
	PacketsPerSec     int                  `json:"packets_per_sec"`
	ActiveConnections int                  `json:"active_connections"`
	EchoedTotal       uint64               `json:"echoed_total"`
	AttackMode        string               `json:"attack_mode"`
	SourceModes       map[string]string    `json:"source_modes"`
	Blocked           []string             `json:"blocked"`
	ActiveClients     int                  `json:"active_clients"`
	TotalSent         uint64               `json:"total_sent"`
	TotalRate         int                  `json:"total_rate"`
	Clients           []traffic.Stats      `json:"clients"`
	Pipeline          proxy.Counters       `json:"pipeline"`
	ReplayCache       int                  `json:"replay_cache"`
	DevicePackets     uint64               `json:"device_packets"`
	SecurityEvents    map[string]uint64    `json:"security_events"`
	Sessions          []attack.SessionInfo `json:"sessions"`
	RunID             string               `json:"run_id,omitempty"`
}

// Option customises a Simulator.
type Option func(*Simulator)

// WithListener registers an extra notification listener.
func WithListener(l notify.Listener) Option {
	return func(s *Simulator) { s.hub.Add(l) }
}

// WithSeed makes mutation, session and device randomness deterministic.
func WithSeed(seed int64) Option {
	return func(s *Simulator) { s.seed = seed }
}

// Simulator wires every component together.
type Simulator struct {
	cfg    *config.Config
	logger *logging.Logger
	seed   int64

	broker    *broker.Broker
	hub       *notify.Hub
	recorder  *notify.Recorder
	publisher *notify.NATSPublisher
	sink      *metrics.Sink
	writer    *metrics.Writer
	capture   *capture.Writer

	state    *proxy.State
	engine   *inspect.Engine
	mutator  *attack.Mutator
	pipeline *proxy.Pipeline
	feed     *proxy.DeviceFeed
	server   *server.Server
	orch     *attack.Orchestrator

	mu        sync.Mutex
	clients   *traffic.Manager
	running   bool
	stopped   bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a stopped simulator from cfg.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Simulator, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Simulator{
		cfg:      cfg,
		logger:   logger,
		seed:     time.Now().UnixNano(),
		broker:   broker.New(cfg.Server.HistorySeconds, broker.DefaultChartSize),
		hub:      notify.NewHub(logger.Named("notify")),
		recorder: notify.NewRecorder(cfg.Notify.EventBuffer),
	}
	s.hub.Add(s.recorder)
	s.hub.Add(notify.NewLogListener(logger.Named("events")))
	for _, opt := range opts {
		opt(s)
	}

	if err := s.openOutputs(); err != nil {
		s.closeOutputs()
		return nil, err
	}

	s.state = proxy.NewState(nil)
	s.engine = inspect.NewEngine(inspectConfig(cfg), s.state.Blocks())
	s.mutator = attack.NewMutator(mutatorConfig(cfg), rand.New(rand.NewSource(s.seed)))

	popts := []proxy.Option{
		proxy.WithListener(s.hub),
		proxy.WithValueRecorder(s.broker),
		proxy.WithMetrics(s.sink),
		proxy.WithLogger(logger.Named("pipeline")),
	}
	if s.capture != nil {
		popts = append(popts, proxy.WithCapture(s.capture))
	}
	s.pipeline = proxy.NewPipeline(s.state, s.engine, s.mutator, popts...)

	if cfg.Devices.Enabled {
		s.feed = proxy.NewDeviceFeed(proxy.FeedConfig{
			Devices:      cfg.Devices.Sources,
			Interval:     ms(cfg.Devices.IntervalMs),
			Functions:    cfg.Clients.FunctionCodes,
			ValueMax:     cfg.Clients.ValueMax,
			AddressMax:   cfg.Clients.AddressMax,
			UnitID:       cfg.Clients.UnitID,
			ReplayBuffer: cfg.Clients.ReplayBuffer,
		}, s.pipeline, s.mutator, rand.New(rand.NewSource(s.seed+1)))
	}

	srv, err := server.NewServer(serverConfig(cfg), s.broker, logger.Named("server"), server.WithLogSink(s.hub))
	if err != nil {
		s.closeOutputs()
		return nil, err
	}
	s.server = srv

	s.orch = attack.NewOrchestrator(s.lookupTarget, cfg.Attack.MaxSessions,
		attack.WithPolicies(policies(cfg)),
		attack.WithEvents(s.hub),
		attack.WithRand(rand.New(rand.NewSource(s.seed+2))),
		attack.WithLogger(logger.Named("attack")),
	)

	mode, err := attack.ParseMode(cfg.Attack.Mode)
	if err != nil {
		s.closeOutputs()
		return nil, err
	}
	s.state.SetMode(mode)
	return s, nil
}

func (s *Simulator) openOutputs() error {
	if s.cfg.Notify.NATSURL != "" {
		pub, err := notify.NewNATSPublisher(s.cfg.Notify.NATSURL, s.cfg.Notify.Subject)
		if err != nil {
			return err
		}
		s.publisher = pub
		s.hub.Add(pub)
		s.logger.Info("Publishing events to %s on %s (run %s)", s.cfg.Notify.NATSURL, s.cfg.Notify.Subject, pub.RunID())
	}

	if s.cfg.Capture.MetricsCSV != "" || s.cfg.Capture.MetricsJSON != "" {
		w, err := metrics.NewWriter(s.cfg.Capture.MetricsCSV, s.cfg.Capture.MetricsJSON)
		if err != nil {
			return err
		}
		s.writer = w
	}
	s.sink = metrics.NewSink(s.writer)

	if s.cfg.Capture.PCAPFile != "" {
		w, err := capture.Create(s.cfg.Capture.PCAPFile)
		if err != nil {
			return err
		}
		s.capture = w
	}
	return nil
}

func (s *Simulator) closeOutputs() {
	if s.capture != nil {
		if err := s.capture.Close(); err != nil {
			s.logger.Error("close pcap: %v", err)
		}
	}
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			s.logger.Error("close metrics: %v", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("close NATS: %v", err)
		}
	}
}

// Start binds the responder, launches the initial clients and the device
// feed.
func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.stopped {
		return fmt.Errorf("simulator already stopped")
	}
	if err := s.server.Start(); err != nil {
		return err
	}

	opts := []traffic.GeneratorOption{
		traffic.WithGate(s.pipeline),
		traffic.WithLogger(s.logger.Named("traffic")),
		traffic.WithLogSink(s.hub),
	}
	s.clients = traffic.NewManager(generatorTemplate(s.cfg, s.server.Addr().String()), s.cfg.Clients.MaxClients, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.startedAt = time.Now()

	for i := 0; i < s.cfg.Clients.InitialClients; i++ {
		if _, err := s.clients.AddClient(s.cfg.Clients.DefaultRate); err != nil {
			s.logger.Error("add client: %v", err)
			break
		}
	}

	if s.feed != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.feed.Run(ctx)
		}()
	}

	s.logger.LogStartup("simulation", s.cfg.Server.ListenIP, s.cfg.Server.TCPPort,
		s.cfg.Clients.InitialClients, s.cfg.Clients.DefaultRate, "")
	s.emitLog(fmt.Sprintf("Simulation started on %s", s.server.Addr()))
	return nil
}

// Stop halts sessions, generators, the device feed and the responder, then
// closes all outputs. It is safe to call more than once.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	wasRunning := s.running
	s.running = false
	s.stopped = true
	clients := s.clients
	cancel := s.cancel
	s.mu.Unlock()

	if wasRunning {
		s.orch.StopAll()
		s.orch.Wait()
		clients.StopAll()
		cancel()
		s.wg.Wait()
	}

	err := s.server.Stop()
	if wasRunning {
		s.emitLog("Simulation stopped")
	}
	s.closeOutputs()
	return err
}

// Running reports whether Start has been called and Stop has not.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Simulator) manager(op string) (*traffic.Manager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, mserrors.NotRunning(op)
	}
	return s.clients, nil
}

func (s *Simulator) generator(op string, id int) (*traffic.Generator, error) {
	m, err := s.manager(op)
	if err != nil {
		return nil, err
	}
	g, ok := m.Get(id)
	if !ok {
		return nil, mserrors.UnknownGenerator(id)
	}
	return g, nil
}

func (s *Simulator) lookupTarget(index int) (attack.Target, bool) {
	m, err := s.manager("lookup target")
	if err != nil {
		return nil, false
	}
	g, ok := m.Get(index)
	if !ok {
		return nil, false
	}
	return g, true
}

func (s *Simulator) emitLog(text string) {
	if err := s.hub.OnLog(text); err != nil {
		s.logger.Debug("log notification: %v", err)
	}
}

// StartTraffic starts the generator at id.
func (s *Simulator) StartTraffic(id int) error {
	g, err := s.generator("start traffic", id)
	if err != nil {
		return err
	}
	g.Start()
	return nil
}

// StopTraffic stops the generator at id.
func (s *Simulator) StopTraffic(id int) error {
	g, err := s.generator("stop traffic", id)
	if err != nil {
		return err
	}
	g.Stop()
	return nil
}

// SetRate changes the rate of the generator at id.
func (s *Simulator) SetRate(id, pps int) error {
	m, err := s.manager("set rate")
	if err != nil {
		return err
	}
	return m.SetClientRate(id, pps)
}

// AddClient starts a new generator at rate.
func (s *Simulator) AddClient(rate int) (traffic.Stats, error) {
	m, err := s.manager("add client")
	if err != nil {
		return traffic.Stats{}, err
	}
	g, err := m.AddClient(rate)
	if err != nil {
		return traffic.Stats{}, err
	}
	s.emitLog(fmt.Sprintf("Client %s added at %d pps", g.Source(), g.Rate()))
	return g.Stats(), nil
}

// RemoveLastClient stops the newest generator and any session targeting it.
// It returns false when there is no client.
func (s *Simulator) RemoveLastClient() (bool, error) {
	m, err := s.manager("remove client")
	if err != nil {
		return false, err
	}
	last := m.ActiveClients() - 1
	if last < 0 {
		return false, nil
	}
	for _, info := range s.orch.List() {
		if info.Target == last {
			s.orch.Stop(info.ID)
		}
	}
	if !m.RemoveLastClient() {
		return false, nil
	}
	s.emitLog(fmt.Sprintf("Client %d removed", last))
	return true, nil
}

// SetAttackMode sets the global attack mode.
func (s *Simulator) SetAttackMode(mode attack.Mode) {
	prev := s.state.SetMode(mode)
	if prev == mode {
		return
	}
	if prev != attack.ModeNone {
		if err := s.hub.OnAttackStopped(prev.String()); err != nil {
			s.logger.Debug("attack stopped notification: %v", err)
		}
	}
	if mode != attack.ModeNone {
		if err := s.hub.OnAttackStarted(mode.String()); err != nil {
			s.logger.Debug("attack started notification: %v", err)
		}
	}
	s.emitLog(fmt.Sprintf("Attack mode set to %s", mode))
}

// SetSourceAttackMode overrides the attack mode for one source label.
func (s *Simulator) SetSourceAttackMode(source string, mode attack.Mode) {
	s.state.SetSourceMode(source, mode)
	s.emitLog(fmt.Sprintf("Attack mode for %s set to %s", source, mode))
}

// StartSession launches a rate-driving attack session against the
// generator at target.
func (s *Simulator) StartSession(target int, kind attack.Kind) (uint64, error) {
	if _, err := s.manager("start session"); err != nil {
		return 0, err
	}
	return s.orch.Start(target, kind)
}

// StopSession stops session id.
func (s *Simulator) StopSession(id uint64) error {
	if !s.orch.Stop(id) {
		return mserrors.UnknownSession(id)
	}
	return nil
}

// Sessions lists active sessions.
func (s *Simulator) Sessions() []attack.SessionInfo {
	return s.orch.List()
}

// BlockSource adds label to the block list. It reports whether the label
// was newly blocked.
func (s *Simulator) BlockSource(label string) bool {
	added := s.state.Block(label)
	if added {
		s.emitLog(fmt.Sprintf("Blocked source %s", label))
	}
	return added
}

// UnblockSource removes label from the block list.
func (s *Simulator) UnblockSource(label string) bool {
	removed := s.state.Unblock(label)
	if removed {
		s.emitLog(fmt.Sprintf("Unblocked source %s", label))
	}
	return removed
}

// ReplayPacket re-sends a retained packet from generator id, tagged REPLAY.
func (s *Simulator) ReplayPacket(id int) (modbus.Packet, bool, error) {
	g, err := s.generator("replay packet", id)
	if err != nil {
		return modbus.Packet{}, false, err
	}
	return g.InjectReplay()
}

// ReplayBuffer returns generator id's retained packets.
func (s *Simulator) ReplayBuffer(id int) ([]modbus.Packet, error) {
	g, err := s.generator("replay buffer", id)
	if err != nil {
		return nil, err
	}
	return g.ReplayBuffer(), nil
}

// History returns the throughput samples.
func (s *Simulator) History() []broker.Sample { return s.broker.History() }

// Values returns the charted accepted values.
func (s *Simulator) Values() []int { return s.broker.Values() }

// Events returns recent notifications, oldest first.
func (s *Simulator) Events() []notify.Event { return s.recorder.Events() }

// Summary returns the verdict summary.
func (s *Simulator) Summary() *metrics.Summary { return s.sink.GetSummary() }

// CapturedPackets returns the number of packets written to the pcap file.
func (s *Simulator) CapturedPackets() int {
	if s.capture == nil {
		return 0
	}
	return s.capture.Count()
}

// Status returns a snapshot of the simulator.
func (s *Simulator) Status() Status {
	s.mu.Lock()
	running := s.running
	clients := s.clients
	startedAt := s.startedAt
	s.mu.Unlock()

	st := Status{
		Running:           running,
		PacketsPerSec:     s.broker.Last(),
		ActiveConnections: s.server.ActiveConnections(),
		EchoedTotal:       s.server.TotalPackets(),
		AttackMode:        s.state.Mode().String(),
		SourceModes:       s.state.SourceModes(),
		Blocked:           s.state.Blocks().List(),
		Pipeline:          s.pipeline.Counters(),
		ReplayCache:       s.engine.ReplayCacheLen(),
		SecurityEvents:    s.recorder.SecurityCounts(),
		Sessions:          s.orch.List(),
		Clients:           []traffic.Stats{},
	}
	if addr := s.server.Addr(); addr != nil {
		st.ListenAddr = addr.String()
	}
	if running {
		st.Uptime = time.Since(startedAt).Truncate(time.Second).String()
	}
	if clients != nil {
		st.Clients = clients.Stats()
		st.ActiveClients = clients.ActiveClients()
		st.TotalSent = clients.TotalSent()
		st.TotalRate = clients.TotalRate()
	}
	if s.feed != nil {
		st.DevicePackets = s.feed.Sent()
	}
	if s.publisher != nil {
		st.RunID = s.publisher.RunID()
	}
	return st
}
