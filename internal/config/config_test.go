package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateDefaultConfig(t *testing.T) {
	cfg := CreateDefaultConfig()

	if cfg.Server.ListenIP != "127.0.0.1" || cfg.Server.TCPPort != 15020 {
		t.Errorf("listen: got %s:%d, want 127.0.0.1:15020", cfg.Server.ListenIP, cfg.Server.TCPPort)
	}
	if cfg.Server.HistorySeconds != 300 || cfg.Server.MaxConnections != 20 {
		t.Errorf("server defaults: %+v", cfg.Server)
	}
	if cfg.Clients.MaxClients != 10 || cfg.Clients.DefaultRate != 10 || cfg.Clients.ReplayBuffer != 500 {
		t.Errorf("clients defaults: %+v", cfg.Clients)
	}
	if cfg.Inspection.MaxValue != 150 || cfg.Inspection.ReplayCacheSize != 20 || cfg.Inspection.DoSArrivals != 10 {
		t.Errorf("inspection defaults: %+v", cfg.Inspection)
	}
	if got := cfg.Inspection.AllowedFunctionCodes; len(got) != 3 || got[0] != 1 || got[1] != 3 || got[2] != 5 {
		t.Errorf("allowed function codes: got %v, want [1 3 5]", got)
	}
	if cfg.Attack.ModifyDeltaMin != -15 || cfg.Attack.ModifyDeltaMax != 20 {
		t.Errorf("modify delta: got %d..%d, want -15..20", cfg.Attack.ModifyDeltaMin, cfg.Attack.ModifyDeltaMax)
	}
	if cfg.Attack.ReplayCloneProbability != 0.3 || cfg.Attack.DoSSpikeProbability != 0.15 {
		t.Errorf("probabilities: %v %v", cfg.Attack.ReplayCloneProbability, cfg.Attack.DoSSpikeProbability)
	}
	if cfg.Attack.SynFlood.Step != 5 || cfg.Attack.SynFlood.PeriodMs != 300 {
		t.Errorf("syn_flood: %+v", cfg.Attack.SynFlood)
	}
	if cfg.Attack.RandomPackets.Min != 5 || cfg.Attack.RandomPackets.Max != 50 {
		t.Errorf("random_packets: %+v", cfg.Attack.RandomPackets)
	}
	if cfg.Attack.Slowloris.PeriodMs != 1000 {
		t.Errorf("slowloris period: %d", cfg.Attack.Slowloris.PeriodMs)
	}
	if len(cfg.Devices.Sources) != 4 || cfg.Devices.IntervalMs != 500 {
		t.Errorf("devices: %+v", cfg.Devices)
	}
	if cfg.Notify.Subject != "modsim.events" {
		t.Errorf("subject: %q", cfg.Notify.Subject)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modsim.yaml")
	content := `
server:
  tcp_port: 16000
clients:
  default_rate: 25
inspection:
  allowed_function_codes: [1, 3, 5, 6]
  replay_ignore_source: true
attack:
  mode: dos
  modify_delta_min: 0
  syn_flood:
    step: 8
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.TCPPort != 16000 {
		t.Errorf("tcp_port: got %d, want 16000", cfg.Server.TCPPort)
	}
	if cfg.Server.ListenIP != "127.0.0.1" {
		t.Errorf("listen_ip default lost: %q", cfg.Server.ListenIP)
	}
	if cfg.Clients.DefaultRate != 25 {
		t.Errorf("default_rate: got %d, want 25", cfg.Clients.DefaultRate)
	}
	if len(cfg.Inspection.AllowedFunctionCodes) != 4 {
		t.Errorf("allowed codes: %v", cfg.Inspection.AllowedFunctionCodes)
	}
	if !cfg.Inspection.ReplayIgnoreSource {
		t.Errorf("replay_ignore_source not applied")
	}
	if cfg.Attack.ModifyDeltaMin != 0 {
		t.Errorf("explicit zero overwritten: %d", cfg.Attack.ModifyDeltaMin)
	}
	if cfg.Attack.SynFlood.Step != 8 || cfg.Attack.SynFlood.PeriodMs != 300 {
		t.Errorf("syn_flood: %+v", cfg.Attack.SynFlood)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	if _, err := LoadConfig(path, false); err == nil {
		t.Fatalf("expected error for missing file")
	}

	cfg, err := LoadConfig(path, true)
	if err != nil {
		t.Fatalf("LoadConfig autoCreate: %v", err)
	}
	if cfg.Server.TCPPort != 15020 {
		t.Errorf("tcp_port: got %d, want 15020", cfg.Server.TCPPort)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MODSIM_LISTEN_PORT", "17000")
	t.Setenv("MODSIM_LOG_LEVEL", "debug")
	t.Setenv("MODSIM_NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("MODSIM_API_ADDR", "127.0.0.1:8088")

	cfg, err := Parse([]byte("server:\n  tcp_port: 16000\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.TCPPort != 17000 {
		t.Errorf("tcp_port: got %d, want 17000 from env", cfg.Server.TCPPort)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level: got %q", cfg.Logging.Level)
	}
	if cfg.Notify.NATSURL != "nats://127.0.0.1:4222" || cfg.API.ListenAddr != "127.0.0.1:8088" {
		t.Errorf("notify/api: %+v %+v", cfg.Notify, cfg.API)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Server.TCPPort = 0 }, "tcp_port"},
		{"port too high", func(c *Config) { c.Server.TCPPort = 70000 }, "tcp_port"},
		{"rate zero", func(c *Config) { c.Clients.DefaultRate = 0 }, "default_rate"},
		{"initial above max", func(c *Config) { c.Clients.InitialClients = 11 }, "initial_clients"},
		{"k below two", func(c *Config) { c.Inspection.DoSArrivals = 1 }, "dos_arrivals"},
		{"window below k", func(c *Config) { c.Inspection.RateWindowSize = 5 }, "rate_window_size"},
		{"empty codes", func(c *Config) { c.Inspection.AllowedFunctionCodes = nil }, "allowed_function_codes"},
		{"code out of range", func(c *Config) { c.Inspection.AllowedFunctionCodes = []int{0} }, "outside 1..255"},
		{"burst inverted", func(c *Config) { c.Attack.BurstMin = 40 }, "burst_min"},
		{"unknown mode", func(c *Config) { c.Attack.Mode = "FLOOD" }, "attack.mode"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"probability", func(c *Config) { c.Attack.ReplayCloneProbability = 1.5 }, "probabilities"},
		{"random range", func(c *Config) { c.Attack.RandomPackets.Min = 60 }, "random_packets"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := CreateDefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Marshal(CreateDefaultConfig())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), "tcp_port: 15020") {
		t.Fatalf("rendered YAML missing tcp_port:\n%s", data)
	}
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse rendered default: %v", err)
	}
	if cfg.Attack.Mode != "NONE" {
		t.Fatalf("mode: %q", cfg.Attack.Mode)
	}
}
