package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tturner/modsim/internal/broker"
	"github.com/tturner/modsim/internal/config"
	"github.com/tturner/modsim/internal/logging"
	"github.com/tturner/modsim/internal/server"
)

// ServerOptions configures the standalone echo responder.
type ServerOptions struct {
	ConfigPath string
	ListenIP   string
	ListenPort int
	LogLevel   string
	LogFormat  string
	LogFile    string
}

// RunServer runs the echo responder until SIGINT or SIGTERM.
func RunServer(opts ServerOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load config: %v\n", err)
		return fmt.Errorf("load config: %w", err)
	}
	ApplyServerOverrides(cfg, opts)

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	fmt.Fprintf(os.Stdout, "modsim responder starting...\n")

	b := broker.New(cfg.Server.HistorySeconds, broker.DefaultChartSize)
	srv, err := server.NewServer(serverConfig(cfg), b, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to start server: %v\n", err)
		return fmt.Errorf("start server: %w", err)
	}
	fmt.Fprintf(os.Stdout, "Responder listening on %s\n", srv.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(ms(cfg.Server.SampleIntervalMs))
	defer ticker.Stop()

loop:
	for {
		select {
		case <-sigChan:
			break loop
		case <-ticker.C:
			if logger.GetLevel() >= logging.LogLevelVerbose {
				logger.Verbose("%d pkt/s, %d connections, %d echoed", b.Last(), srv.ActiveConnections(), srv.TotalPackets())
			}
		}
	}

	fmt.Fprintf(os.Stdout, "\nShutting down server...\n")
	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	fmt.Fprintf(os.Stdout, "Frames echoed: %d\n", srv.TotalPackets())
	return nil
}

// ApplyServerOverrides applies command-line flags over the loaded config.
func ApplyServerOverrides(cfg *config.Config, opts ServerOptions) {
	if opts.ListenIP != "" {
		cfg.Server.ListenIP = opts.ListenIP
	}
	if opts.ListenPort != 0 {
		cfg.Server.TCPPort = opts.ListenPort
	}
	applyLogOverrides(cfg, opts.LogLevel, opts.LogFormat, opts.LogFile)
}

func applyLogOverrides(cfg *config.Config, level, format, file string) {
	if level != "" {
		cfg.Logging.Level = level
	}
	if format != "" {
		cfg.Logging.Format = format
	}
	if file != "" {
		cfg.Logging.File = file
	}
}

// loadConfig loads path, or the defaults plus environment when path is
// empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.CreateDefaultConfig()
		if err := config.ApplyEnv(cfg); err != nil {
			return nil, err
		}
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.LoadConfig(path, false)
}
