package app

import (
	"fmt"
	"time"

	"github.com/tturner/modsim/internal/attack"
	"github.com/tturner/modsim/internal/config"
	"github.com/tturner/modsim/internal/inspect"
	"github.com/tturner/modsim/internal/logging"
	"github.com/tturner/modsim/internal/server"
	"github.com/tturner/modsim/internal/traffic"
)

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func inspectConfig(cfg *config.Config) inspect.Config {
	in := cfg.Inspection
	return inspect.Config{
		AllowedFunctions: append([]int(nil), in.AllowedFunctionCodes...),
		MaxValue:         in.MaxValue,
		ReplayCacheSize:  in.ReplayCacheSize,
		RateWindowSize:   in.RateWindowSize,
		DoSArrivals:      in.DoSArrivals,
		DoSWindow:        ms(in.DoSWindowMs),

		ReplayIgnoreSource: in.ReplayIgnoreSource,
	}
}

func mutatorConfig(cfg *config.Config) attack.MutatorConfig {
	a := cfg.Attack
	return attack.MutatorConfig{
		ModifyDeltaMin:         a.ModifyDeltaMin,
		ModifyDeltaMax:         a.ModifyDeltaMax,
		ReplayValues:           append([]int(nil), a.ReplayValues...),
		ReplayCloneProbability: a.ReplayCloneProbability,
		ReplayCloneMinBuffered: a.ReplayCloneMinBuffered,
		DoSCeiling:             a.DoSCeiling,
		DoSSeedMin:             a.DoSSeedMin,
		DoSSeedMax:             a.DoSSeedMax,
		DoSSpikeProbability:    a.DoSSpikeProbability,
		DoSSpikeMin:            a.DoSSpikeMin,
		DoSSpikeMax:            a.DoSSpikeMax,
		DoSStepMin:             a.DoSStepMin,
		DoSStepMax:             a.DoSStepMax,
		BurstMin:               a.BurstMin,
		BurstMax:               a.BurstMax,
	}
}

func policies(cfg *config.Config) map[attack.Kind]attack.Policy {
	a := cfg.Attack
	return map[attack.Kind]attack.Policy{
		attack.KindSynFlood:      {Kind: attack.KindSynFlood, Period: ms(a.SynFlood.PeriodMs), Step: a.SynFlood.Step},
		attack.KindFunctionSpam:  {Kind: attack.KindFunctionSpam, Period: ms(a.FunctionSpam.PeriodMs), Step: a.FunctionSpam.Step},
		attack.KindRandomPackets: {Kind: attack.KindRandomPackets, Period: ms(a.RandomPackets.PeriodMs), Min: a.RandomPackets.Min, Max: a.RandomPackets.Max},
		attack.KindSlowloris:     {Kind: attack.KindSlowloris, Period: ms(a.Slowloris.PeriodMs), Step: a.Slowloris.Step},
	}
}

func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		ListenIP:       cfg.Server.ListenIP,
		TCPPort:        cfg.Server.TCPPort,
		MaxConnections: cfg.Server.MaxConnections,
		IdleTimeout:    ms(cfg.Server.IdleTimeoutMs),
		SampleInterval: ms(cfg.Server.SampleIntervalMs),
	}
}

func generatorTemplate(cfg *config.Config, address string) traffic.Config {
	c := cfg.Clients
	return traffic.Config{
		Address:        address,
		Rate:           c.DefaultRate,
		ConnectTimeout: ms(c.ConnectTimeoutMs),
		Tick:           ms(c.TickMs),
		ReplayBuffer:   c.ReplayBuffer,
		UnitID:         c.UnitID,
		Functions:      append([]int(nil), c.FunctionCodes...),
		ValueMax:       c.ValueMax,
		AddressMax:     c.AddressMax,
	}
}

// NewLogger builds the logger described by the logging section.
func NewLogger(section config.LoggingSection) (*logging.Logger, error) {
	level, err := logging.ParseLevel(section.Level)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLoggerWithOptions(level, section.File, section.Format, section.LogEveryN)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}
