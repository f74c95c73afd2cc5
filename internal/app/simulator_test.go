package app

import (
	"errors"
	"testing"
	"time"

	"github.com/tturner/modsim/internal/attack"
	"github.com/tturner/modsim/internal/config"
	mserrors "github.com/tturner/modsim/internal/errors"
	"github.com/tturner/modsim/internal/notify"
)

func testConfig() *config.Config {
	cfg := config.CreateDefaultConfig()
	cfg.Server.ListenIP = "127.0.0.1"
	cfg.Server.TCPPort = 0
	cfg.Clients.InitialClients = 0
	cfg.Devices.Enabled = false
	return cfg
}

func startSimulator(t *testing.T, cfg *config.Config) *Simulator {
	t.Helper()
	sim, err := New(cfg, nil, WithSeed(7))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := sim.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = sim.Stop() })
	return sim
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	waitWithin(t, 3*time.Second, what, cond)
}

func waitWithin(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCommandsBeforeStart(t *testing.T) {
	sim, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer sim.Stop()

	if _, err := sim.AddClient(5); !errors.Is(err, mserrors.ErrNotRunning) {
		t.Errorf("AddClient() error = %v, want ErrNotRunning", err)
	}
	if err := sim.SetRate(0, 5); !errors.Is(err, mserrors.ErrNotRunning) {
		t.Errorf("SetRate() error = %v, want ErrNotRunning", err)
	}
	if _, err := sim.StartSession(0, attack.KindSynFlood); !errors.Is(err, mserrors.ErrNotRunning) {
		t.Errorf("StartSession() error = %v, want ErrNotRunning", err)
	}
	if st := sim.Status(); st.Running || st.ActiveClients != 0 {
		t.Errorf("Status() = %+v, want idle", st)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	sim, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := sim.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := sim.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := sim.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if err := sim.Start(); err == nil {
		t.Fatal("Start() after Stop() should fail")
	}
}

func TestClientLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.Clients.MaxClients = 2
	sim := startSimulator(t, cfg)

	st, err := sim.AddClient(20)
	if err != nil {
		t.Fatalf("AddClient() error = %v", err)
	}
	if st.ID != 0 || st.Rate != 20 {
		t.Errorf("AddClient() = %+v", st)
	}
	if _, err := sim.AddClient(20); err != nil {
		t.Fatalf("second AddClient() error = %v", err)
	}
	if _, err := sim.AddClient(20); !errors.Is(err, mserrors.ErrCapacityExceeded) {
		t.Errorf("third AddClient() error = %v, want ErrCapacityExceeded", err)
	}
	if err := sim.StopTraffic(9); !errors.Is(err, mserrors.ErrUnknownGenerator) {
		t.Errorf("StopTraffic(9) error = %v, want ErrUnknownGenerator", err)
	}

	waitFor(t, "echoed traffic", func() bool { return sim.Status().EchoedTotal > 0 })
	waitFor(t, "accepted packets", func() bool { return sim.Summary().Accepted > 0 })

	removed, err := sim.RemoveLastClient()
	if err != nil || !removed {
		t.Fatalf("RemoveLastClient() = %v, %v", removed, err)
	}
	if got := sim.Status().ActiveClients; got != 1 {
		t.Errorf("ActiveClients = %d, want 1", got)
	}
}

func TestSessionRestoresRate(t *testing.T) {
	sim := startSimulator(t, testConfig())
	if _, err := sim.AddClient(10); err != nil {
		t.Fatalf("AddClient() error = %v", err)
	}

	id, err := sim.StartSession(0, attack.KindSynFlood)
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	waitFor(t, "rate increase", func() bool { return sim.Status().Clients[0].Rate > 10 })

	if err := sim.StopSession(id); err != nil {
		t.Fatalf("StopSession() error = %v", err)
	}
	if got := sim.Status().Clients[0].Rate; got != 10 {
		t.Errorf("rate after stop = %d, want 10", got)
	}
	if err := sim.StopSession(id + 100); !errors.Is(err, mserrors.ErrUnknownSession) {
		t.Errorf("StopSession(unknown) error = %v, want ErrUnknownSession", err)
	}
	waitFor(t, "session removal", func() bool { return len(sim.Sessions()) == 0 })
}

func TestRemoveLastClientStopsItsSessions(t *testing.T) {
	sim := startSimulator(t, testConfig())
	if _, err := sim.AddClient(10); err != nil {
		t.Fatalf("AddClient() error = %v", err)
	}
	if _, err := sim.StartSession(0, attack.KindSlowloris); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if removed, err := sim.RemoveLastClient(); err != nil || !removed {
		t.Fatalf("RemoveLastClient() = %v, %v", removed, err)
	}
	waitFor(t, "session removal", func() bool { return len(sim.Sessions()) == 0 })

	if removed, err := sim.RemoveLastClient(); err != nil || removed {
		t.Errorf("RemoveLastClient() on empty = %v, %v", removed, err)
	}
}

func TestAttackModeEvents(t *testing.T) {
	sim := startSimulator(t, testConfig())

	sim.SetAttackMode(attack.ModeDOS)
	sim.SetAttackMode(attack.ModeDOS)
	sim.SetAttackMode(attack.ModeNone)
	sim.SetSourceAttackMode("PLC2", attack.ModeMITMModify)

	var started, stopped []string
	for _, ev := range sim.Events() {
		switch ev.Type {
		case notify.TypeAttackStarted:
			started = append(started, ev.Kind)
		case notify.TypeAttackStopped:
			stopped = append(stopped, ev.Kind)
		}
	}
	if len(started) != 1 || started[0] != "DOS" {
		t.Errorf("started = %v, want [DOS]", started)
	}
	if len(stopped) != 1 || stopped[0] != "DOS" {
		t.Errorf("stopped = %v, want [DOS]", stopped)
	}

	st := sim.Status()
	if st.AttackMode != "NONE" {
		t.Errorf("AttackMode = %q, want NONE", st.AttackMode)
	}
	if st.SourceModes["PLC2"] != "MITM_MODIFY" {
		t.Errorf("SourceModes = %v", st.SourceModes)
	}
}

func TestBlockSource(t *testing.T) {
	sim := startSimulator(t, testConfig())
	if !sim.BlockSource("client-0") {
		t.Fatal("BlockSource() = false on first call")
	}
	if sim.BlockSource("client-0") {
		t.Error("BlockSource() = true on repeat")
	}
	if _, err := sim.AddClient(20); err != nil {
		t.Fatalf("AddClient() error = %v", err)
	}
	waitFor(t, "blocked verdicts", func() bool { return sim.Summary().ByClass["BLOCKED"] > 0 })
	if sim.Summary().Accepted != 0 {
		t.Errorf("Accepted = %d, want 0 for a blocked source", sim.Summary().Accepted)
	}
	if !sim.UnblockSource("client-0") {
		t.Error("UnblockSource() = false")
	}
}

func TestMITMReplayIsDetectedEndToEnd(t *testing.T) {
	sim := startSimulator(t, testConfig())
	if _, err := sim.AddClient(5); err != nil {
		t.Fatalf("AddClient() error = %v", err)
	}
	sim.SetAttackMode(attack.ModeMITMReplay)

	replayEvent := func() bool {
		for _, ev := range sim.Events() {
			if ev.Type == notify.TypeSecurity && ev.Security != nil && ev.Security.Class == "REPLAY" {
				return true
			}
		}
		return false
	}
	waitWithin(t, 8*time.Second, "a REPLAY security event", replayEvent)

	if n := sim.Summary().ByClass["REPLAY"]; n == 0 {
		t.Error("summary has no REPLAY verdicts")
	}
	if st := sim.Status(); st.EchoedTotal == 0 {
		t.Error("responder echoed nothing")
	}
}
