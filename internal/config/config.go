package config

// Configuration loading and validation for modsim

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"

	"github.com/tturner/modsim/internal/errors"
)

// DefaultPath is the config file used when none is given.
const DefaultPath = "modsim.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MODSIM"

// Config is the complete simulator configuration.
type Config struct {
	Server     ServerSection     `yaml:"server"`
	Clients    ClientsSection    `yaml:"clients"`
	Inspection InspectionSection `yaml:"inspection"`
	Attack     AttackSection     `yaml:"attack"`
	Devices    DevicesSection    `yaml:"devices"`
	Logging    LoggingSection    `yaml:"logging"`
	API        APISection        `yaml:"api"`
	Notify     NotifySection     `yaml:"notify"`
	Capture    CaptureSection    `yaml:"capture"`
}

// ServerSection configures the echo responder.
type ServerSection struct {
	ListenIP         string `yaml:"listen_ip" default:"127.0.0.1"`
	TCPPort          int    `yaml:"tcp_port" default:"15020"`
	HistorySeconds   int    `yaml:"history_seconds" default:"300"`
	MaxConnections   int    `yaml:"max_connections" default:"20"`
	IdleTimeoutMs    int    `yaml:"idle_timeout_ms" default:"30000"`
	SampleIntervalMs int    `yaml:"sample_interval_ms" default:"1000"`
}

// ClientsSection configures the traffic generators.
type ClientsSection struct {
	MaxClients       int   `yaml:"max_clients" default:"10"`
	InitialClients   int   `yaml:"initial_clients" default:"1"`
	DefaultRate      int   `yaml:"default_rate" default:"10"`
	ConnectTimeoutMs int   `yaml:"connect_timeout_ms" default:"2000"`
	ReplayBuffer     int   `yaml:"replay_buffer" default:"500"`
	TickMs           int   `yaml:"tick_ms" default:"10"`
	UnitID           uint8 `yaml:"unit_id" default:"1"`
	ValueMax         int   `yaml:"value_max" default:"100"`
	AddressMax       int   `yaml:"address_max" default:"50"`
	FunctionCodes    []int `yaml:"function_codes"`
}

// InspectionSection configures the detection thresholds.
type InspectionSection struct {
	AllowedFunctionCodes []int `yaml:"allowed_function_codes"`
	MaxValue             int   `yaml:"max_value" default:"150"`
	ReplayCacheSize      int   `yaml:"replay_cache_size" default:"20"`
	RateWindowSize       int   `yaml:"rate_window_size" default:"40"`
	DoSArrivals          int   `yaml:"dos_arrivals" default:"10"`
	DoSWindowMs          int   `yaml:"dos_window_ms" default:"1000"`
	ReplayIgnoreSource   bool  `yaml:"replay_ignore_source"`
}

// AttackSection configures mutation and session policies.
type AttackSection struct {
	Mode        string `yaml:"mode" default:"NONE"`
	MaxSessions int    `yaml:"max_sessions" default:"16"`

	ModifyDeltaMin int `yaml:"modify_delta_min" default:"-15"`
	ModifyDeltaMax int `yaml:"modify_delta_max" default:"20"`

	ReplayValues           []int   `yaml:"replay_values"`
	ReplayCloneProbability float64 `yaml:"replay_clone_probability" default:"0.3"`
	ReplayCloneMinBuffered int     `yaml:"replay_clone_min_buffered" default:"5"`

	DoSCeiling          int     `yaml:"dos_ceiling" default:"250"`
	DoSSeedMin          int     `yaml:"dos_seed_min" default:"140"`
	DoSSeedMax          int     `yaml:"dos_seed_max" default:"220"`
	DoSSpikeProbability float64 `yaml:"dos_spike_probability" default:"0.15"`
	DoSSpikeMin         int     `yaml:"dos_spike_min" default:"40"`
	DoSSpikeMax         int     `yaml:"dos_spike_max" default:"90"`
	DoSStepMin          int     `yaml:"dos_step_min" default:"-20"`
	DoSStepMax          int     `yaml:"dos_step_max" default:"35"`

	BurstMin int `yaml:"burst_min" default:"10"`
	BurstMax int `yaml:"burst_max" default:"30"`

	SynFlood      PolicySection `yaml:"syn_flood"`
	FunctionSpam  PolicySection `yaml:"function_spam"`
	RandomPackets PolicySection `yaml:"random_packets"`
	Slowloris     PolicySection `yaml:"slowloris"`
}

// PolicySection configures one session kind. Step is a decrement for
// slowloris; Min and Max apply to random_packets.
type PolicySection struct {
	PeriodMs int `yaml:"period_ms"`
	Step     int `yaml:"step,omitempty"`
	Min      int `yaml:"min,omitempty"`
	Max      int `yaml:"max,omitempty"`
}

// DevicesSection configures the synthetic field devices.
type DevicesSection struct {
	Enabled    bool     `yaml:"enabled"`
	Sources    []string `yaml:"sources"`
	IntervalMs int      `yaml:"interval_ms" default:"500"`
}

// LoggingSection configures the logger.
type LoggingSection struct {
	Level     string `yaml:"level" default:"info"`
	File      string `yaml:"file,omitempty"`
	Format    string `yaml:"format" default:"text"`
	LogEveryN int    `yaml:"log_every_n" default:"100"`
}

// APISection configures the HTTP control API. An empty address disables it.
type APISection struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// NotifySection configures event fan-out.
type NotifySection struct {
	NATSURL     string `yaml:"nats_url,omitempty"`
	Subject     string `yaml:"subject" default:"modsim.events"`
	EventBuffer int    `yaml:"event_buffer" default:"500"`
}

// CaptureSection configures traffic and verdict export.
type CaptureSection struct {
	PCAPFile    string `yaml:"pcap_file,omitempty"`
	MetricsCSV  string `yaml:"metrics_csv,omitempty"`
	MetricsJSON string `yaml:"metrics_json,omitempty"`
}

// EnvOverrides holds values read from MODSIM_* environment variables. Zero
// values leave the file configuration untouched.
type EnvOverrides struct {
	ListenIP    string `envconfig:"LISTEN_IP"`
	ListenPort  int    `envconfig:"LISTEN_PORT"`
	MaxClients  int    `envconfig:"MAX_CLIENTS"`
	DefaultRate int    `envconfig:"DEFAULT_RATE"`
	AttackMode  string `envconfig:"ATTACK_MODE"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	LogFile     string `envconfig:"LOG_FILE"`
	LogFormat   string `envconfig:"LOG_FORMAT"`
	NATSURL     string `envconfig:"NATS_URL"`
	NATSSubject string `envconfig:"NATS_SUBJECT"`
	APIAddr     string `envconfig:"API_ADDR"`
	PCAPFile    string `envconfig:"PCAP_FILE"`
}

// CreateDefaultConfig creates a configuration with every default applied.
func CreateDefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	applySliceDefaults(cfg)
	return cfg
}

func applySliceDefaults(cfg *Config) {
	if len(cfg.Clients.FunctionCodes) == 0 {
		cfg.Clients.FunctionCodes = []int{1, 3, 5}
	}
	if len(cfg.Inspection.AllowedFunctionCodes) == 0 {
		cfg.Inspection.AllowedFunctionCodes = []int{1, 3, 5}
	}
	if len(cfg.Attack.ReplayValues) == 0 {
		cfg.Attack.ReplayValues = []int{5, 10, 20, 40}
	}
	if len(cfg.Devices.Sources) == 0 {
		cfg.Devices.Sources = []string{"PLC1", "PLC2", "SCADA1", "RTU7"}
	}
	applyPolicyDefault(&cfg.Attack.SynFlood, PolicySection{PeriodMs: 300, Step: 5})
	applyPolicyDefault(&cfg.Attack.FunctionSpam, PolicySection{PeriodMs: 200, Step: 1})
	applyPolicyDefault(&cfg.Attack.RandomPackets, PolicySection{PeriodMs: 200, Min: 5, Max: 50})
	applyPolicyDefault(&cfg.Attack.Slowloris, PolicySection{PeriodMs: 1000, Step: 1})
}

func applyPolicyDefault(p *PolicySection, def PolicySection) {
	if p.PeriodMs == 0 {
		p.PeriodMs = def.PeriodMs
	}
	if p.Step == 0 {
		p.Step = def.Step
	}
	if p.Min == 0 && p.Max == 0 {
		p.Min = def.Min
		p.Max = def.Max
	}
}

// WriteDefaultConfig writes a default configuration to a file
func WriteDefaultConfig(path string) error {
	data, err := Marshal(CreateDefaultConfig())
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// LoadConfig loads a configuration from a YAML file, then applies
// environment overrides and validates the result.
// If the file doesn't exist and autoCreate is true, a default config file is
// written first.
func LoadConfig(path string, autoCreate bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if !autoCreate {
				return nil, errors.WrapConfigError(
					fmt.Errorf("config file not found: %s", path),
					path,
				)
			}
			if err := WriteDefaultConfig(path); err != nil {
				return nil, fmt.Errorf("create default config: %w", err)
			}
			data, err = os.ReadFile(path)
			if err != nil {
				return nil, errors.WrapConfigError(
					fmt.Errorf("read created config file: %w", err),
					path,
				)
			}
		} else {
			return nil, errors.WrapConfigError(
				fmt.Errorf("read config file: %w", err),
				path,
			)
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.WrapConfigError(err, path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults, applies environment overrides and
// validates.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	applySliceDefaults(cfg)

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv merges MODSIM_* environment variables into cfg.
func ApplyEnv(cfg *Config) error {
	var env EnvOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	env.apply(cfg)
	return nil
}

func (e EnvOverrides) apply(cfg *Config) {
	if e.ListenIP != "" {
		cfg.Server.ListenIP = e.ListenIP
	}
	if e.ListenPort != 0 {
		cfg.Server.TCPPort = e.ListenPort
	}
	if e.MaxClients != 0 {
		cfg.Clients.MaxClients = e.MaxClients
	}
	if e.DefaultRate != 0 {
		cfg.Clients.DefaultRate = e.DefaultRate
	}
	if e.AttackMode != "" {
		cfg.Attack.Mode = e.AttackMode
	}
	if e.LogLevel != "" {
		cfg.Logging.Level = e.LogLevel
	}
	if e.LogFile != "" {
		cfg.Logging.File = e.LogFile
	}
	if e.LogFormat != "" {
		cfg.Logging.Format = e.LogFormat
	}
	if e.NATSURL != "" {
		cfg.Notify.NATSURL = e.NATSURL
	}
	if e.NATSSubject != "" {
		cfg.Notify.Subject = e.NATSSubject
	}
	if e.APIAddr != "" {
		cfg.API.ListenAddr = e.APIAddr
	}
	if e.PCAPFile != "" {
		cfg.Capture.PCAPFile = e.PCAPFile
	}
}

var attackModes = map[string]bool{
	"NONE":        true,
	"MITM_MODIFY": true,
	"MITM_REPLAY": true,
	"DOS":         true,
}

// Validate validates a configuration
func Validate(cfg *Config) error {
	if cfg.Server.TCPPort < 1 || cfg.Server.TCPPort > 65535 {
		return fmt.Errorf("server.tcp_port must be 1-65535, got %d", cfg.Server.TCPPort)
	}
	if cfg.Server.HistorySeconds < 1 {
		return fmt.Errorf("server.history_seconds must be >= 1")
	}
	if cfg.Server.MaxConnections < 1 {
		return fmt.Errorf("server.max_connections must be >= 1")
	}
	if cfg.Server.IdleTimeoutMs < 0 {
		return fmt.Errorf("server.idle_timeout_ms must be >= 0")
	}
	if cfg.Server.SampleIntervalMs < 1 {
		return fmt.Errorf("server.sample_interval_ms must be >= 1")
	}

	if cfg.Clients.MaxClients < 1 {
		return fmt.Errorf("clients.max_clients must be >= 1")
	}
	if cfg.Clients.InitialClients < 0 || cfg.Clients.InitialClients > cfg.Clients.MaxClients {
		return fmt.Errorf("clients.initial_clients must be 0-%d, got %d", cfg.Clients.MaxClients, cfg.Clients.InitialClients)
	}
	if cfg.Clients.DefaultRate < 1 {
		return fmt.Errorf("clients.default_rate must be >= 1")
	}
	if cfg.Clients.ConnectTimeoutMs < 1 || cfg.Clients.TickMs < 1 {
		return fmt.Errorf("clients.connect_timeout_ms and clients.tick_ms must be >= 1")
	}
	if cfg.Clients.ReplayBuffer < 1 {
		return fmt.Errorf("clients.replay_buffer must be >= 1")
	}
	if err := validateFunctionCodes(cfg.Clients.FunctionCodes, "clients.function_codes"); err != nil {
		return err
	}

	if err := validateFunctionCodes(cfg.Inspection.AllowedFunctionCodes, "inspection.allowed_function_codes"); err != nil {
		return err
	}
	if cfg.Inspection.ReplayCacheSize < 1 {
		return fmt.Errorf("inspection.replay_cache_size must be >= 1")
	}
	if cfg.Inspection.DoSArrivals < 2 {
		return fmt.Errorf("inspection.dos_arrivals must be >= 2")
	}
	if cfg.Inspection.RateWindowSize < cfg.Inspection.DoSArrivals {
		return fmt.Errorf("inspection.rate_window_size must be >= dos_arrivals (%d)", cfg.Inspection.DoSArrivals)
	}
	if cfg.Inspection.DoSWindowMs < 1 {
		return fmt.Errorf("inspection.dos_window_ms must be >= 1")
	}

	if !attackModes[strings.ToUpper(cfg.Attack.Mode)] {
		return fmt.Errorf("attack.mode must be one of NONE, MITM_MODIFY, MITM_REPLAY, DOS, got %q", cfg.Attack.Mode)
	}
	if cfg.Attack.MaxSessions < 1 {
		return fmt.Errorf("attack.max_sessions must be >= 1")
	}
	if cfg.Attack.ModifyDeltaMin > cfg.Attack.ModifyDeltaMax {
		return fmt.Errorf("attack.modify_delta_min must be <= modify_delta_max")
	}
	if cfg.Attack.BurstMin < 1 || cfg.Attack.BurstMin > cfg.Attack.BurstMax {
		return fmt.Errorf("attack.burst_min must be >= 1 and <= burst_max")
	}
	if cfg.Attack.DoSCeiling < 0 || cfg.Attack.DoSSeedMin > cfg.Attack.DoSSeedMax ||
		cfg.Attack.DoSSpikeMin > cfg.Attack.DoSSpikeMax || cfg.Attack.DoSStepMin > cfg.Attack.DoSStepMax {
		return fmt.Errorf("attack.dos_* ranges must have min <= max")
	}
	for _, p := range []float64{cfg.Attack.ReplayCloneProbability, cfg.Attack.DoSSpikeProbability} {
		if p < 0 || p > 1 {
			return fmt.Errorf("attack probabilities must be within 0..1, got %v", p)
		}
	}
	policies := map[string]PolicySection{
		"syn_flood":      cfg.Attack.SynFlood,
		"function_spam":  cfg.Attack.FunctionSpam,
		"random_packets": cfg.Attack.RandomPackets,
		"slowloris":      cfg.Attack.Slowloris,
	}
	for name, p := range policies {
		if p.PeriodMs < 1 {
			return fmt.Errorf("attack.%s.period_ms must be >= 1", name)
		}
	}
	if cfg.Attack.RandomPackets.Min < 1 || cfg.Attack.RandomPackets.Min > cfg.Attack.RandomPackets.Max {
		return fmt.Errorf("attack.random_packets requires 1 <= min <= max")
	}

	if cfg.Devices.IntervalMs < 1 {
		return fmt.Errorf("devices.interval_ms must be >= 1")
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.LogEveryN < 1 {
		return fmt.Errorf("logging.log_every_n must be >= 1")
	}
	if cfg.Notify.NATSURL != "" && cfg.Notify.Subject == "" {
		return fmt.Errorf("notify.subject is required when notify.nats_url is set")
	}
	return nil
}

func validateFunctionCodes(codes []int, field string) error {
	if len(codes) == 0 {
		return fmt.Errorf("%s must not be empty", field)
	}
	for _, c := range codes {
		if c < 1 || c > 255 {
			return fmt.Errorf("%s: function code %d outside 1..255", field, c)
		}
	}
	return nil
}
