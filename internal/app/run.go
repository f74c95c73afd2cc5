package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tturner/modsim/internal/attack"
	"github.com/tturner/modsim/internal/config"
	"github.com/tturner/modsim/internal/logging"
	"github.com/tturner/modsim/internal/metrics"
	"github.com/tturner/modsim/internal/progress"
)

// Service is a long-running front end served next to the simulation, such
// as the HTTP control API.
type Service interface {
	ListenAndServe(ctx context.Context, addr string) error
}

// ServiceFactory builds a Service bound to a started simulator.
type ServiceFactory func(sim *Simulator, logger *logging.Logger) Service

// RunOptions configures a full simulation run.
type RunOptions struct {
	ConfigPath    string
	Clients       int
	Rate          int
	AttackMode    string
	Session       string
	SessionTarget int
	Devices       bool
	Duration      time.Duration
	PCAPFile      string
	MetricsFile   string
	APIAddr       string
	LogLevel      string
	LogFormat     string
	LogFile       string
	Seed          int64
	Progress      bool

	// API builds the control API served on api.listen_addr. Nil disables it.
	API ServiceFactory
}

// Report summarises a finished run.
type Report struct {
	Duration        time.Duration
	Status          Status
	Summary         *metrics.Summary
	PCAPFile        string
	CapturedPackets int
	MetricsFile     string
}

// ApplyRunOverrides applies command-line flags over the loaded config.
func ApplyRunOverrides(cfg *config.Config, opts RunOptions) error {
	if opts.Clients > 0 {
		if opts.Clients > cfg.Clients.MaxClients {
			cfg.Clients.MaxClients = opts.Clients
		}
		cfg.Clients.InitialClients = opts.Clients
	}
	if opts.Rate > 0 {
		cfg.Clients.DefaultRate = opts.Rate
	}
	if opts.AttackMode != "" {
		if _, err := attack.ParseMode(opts.AttackMode); err != nil {
			return err
		}
		cfg.Attack.Mode = opts.AttackMode
	}
	if opts.Devices {
		cfg.Devices.Enabled = true
	}
	if opts.PCAPFile != "" {
		cfg.Capture.PCAPFile = opts.PCAPFile
	}
	if opts.MetricsFile != "" {
		cfg.Capture.MetricsCSV = opts.MetricsFile
	}
	if opts.APIAddr != "" {
		cfg.API.ListenAddr = opts.APIAddr
	}
	applyLogOverrides(cfg, opts.LogLevel, opts.LogFormat, opts.LogFile)
	return config.Validate(cfg)
}

// RunSimulation runs responder, generators, pipeline and orchestrator until
// the duration elapses or SIGINT/SIGTERM arrives.
func RunSimulation(opts RunOptions) (*Report, error) {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := ApplyRunOverrides(cfg, opts); err != nil {
		return nil, fmt.Errorf("apply flags: %w", err)
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	defer logger.Close()

	var simOpts []Option
	if opts.Seed != 0 {
		simOpts = append(simOpts, WithSeed(opts.Seed))
	}
	sim, err := New(cfg, logger, simOpts...)
	if err != nil {
		return nil, fmt.Errorf("create simulator: %w", err)
	}
	if err := sim.Start(); err != nil {
		_ = sim.Stop()
		return nil, fmt.Errorf("start simulator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiErr := make(chan error, 1)
	if cfg.API.ListenAddr != "" && opts.API != nil {
		srv := opts.API(sim, logger.Named("api"))
		go func() { apiErr <- srv.ListenAndServe(ctx, cfg.API.ListenAddr) }()
		fmt.Fprintf(os.Stdout, "Control API on http://%s/api/v1\n", cfg.API.ListenAddr)
	}

	if opts.Session != "" {
		kind, err := attack.ParseKind(opts.Session)
		if err != nil {
			_ = sim.Stop()
			return nil, err
		}
		id, err := sim.StartSession(opts.SessionTarget, kind)
		if err != nil {
			_ = sim.Stop()
			return nil, fmt.Errorf("start session: %w", err)
		}
		logger.Info("Session %d (%s) running against client %d", id, kind, opts.SessionTarget)
	}

	start := time.Now()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var timeout <-chan time.Time
	if opts.Duration > 0 {
		timer := time.NewTimer(opts.Duration)
		defer timer.Stop()
		timeout = timer.C
	}

	display := newRunDisplay(opts)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-sigChan:
			fmt.Fprintf(os.Stdout, "\nShutting down simulation...\n")
			break wait
		case <-timeout:
			break wait
		case err := <-apiErr:
			if err != nil {
				logger.Error("control API: %v", err)
			}
			break wait
		case <-ticker.C:
			display.update(time.Since(start), sim.Status())
		}
	}
	display.finish()
	cancel()

	status := sim.Status()
	if err := sim.Stop(); err != nil {
		logger.Error("stop simulator: %v", err)
	}
	return &Report{
		Duration:        time.Since(start),
		Status:          status,
		Summary:         sim.Summary(),
		PCAPFile:        cfg.Capture.PCAPFile,
		CapturedPackets: sim.CapturedPackets(),
		MetricsFile:     cfg.Capture.MetricsCSV,
	}, nil
}

// runDisplay drives the terminal progress output of a run: a bar when the
// run has a fixed duration, a packet counter otherwise.
type runDisplay struct {
	bar     *progress.Bar
	counter *progress.Counter
}

func newRunDisplay(opts RunOptions) *runDisplay {
	d := &runDisplay{}
	if !opts.Progress {
		return d
	}
	if opts.Duration > 0 {
		d.bar = progress.NewBar(opts.Duration, "Simulating")
	} else {
		d.counter = progress.NewCounter("Simulating", time.Second)
	}
	return d
}

func (d *runDisplay) update(elapsed time.Duration, st Status) {
	status := fmt.Sprintf("%d pkt/s, %d accepted, %d rejected",
		st.PacketsPerSec, st.Pipeline.Accepted, st.Pipeline.Rejected)
	switch {
	case d.bar != nil:
		d.bar.Set(elapsed, status)
	case d.counter != nil:
		d.counter.Update(st.Pipeline.Inspected, status)
	}
}

func (d *runDisplay) finish() {
	switch {
	case d.bar != nil:
		d.bar.Finish()
	case d.counter != nil:
		d.counter.Finish()
	}
}
