package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tturner/modsim/internal/app"
	"github.com/tturner/modsim/internal/config"
	"github.com/tturner/modsim/internal/metrics"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "modsim version dev") {
		t.Fatalf("unexpected version output: %s", out)
	}
}

func TestRootHelpListsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, name := range []string{"run", "server", "config", "report", "version"} {
		if !strings.Contains(out, name) {
			t.Errorf("help output missing %q: %s", name, out)
		}
	}
}

func TestServerHelpDoesNotStart(t *testing.T) {
	out, err := execute(t, "server", "help")
	if err != nil {
		t.Fatalf("server help failed: %v", err)
	}
	if !strings.Contains(out, "listen-port") {
		t.Fatalf("expected server usage, got: %s", out)
	}
}

func TestConfigPrintDefault(t *testing.T) {
	out, err := execute(t, "config", "print-default")
	if err != nil {
		t.Fatalf("print-default failed: %v", err)
	}
	var cfg config.Config
	if err := yaml.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}
	if cfg.Server.TCPPort != config.CreateDefaultConfig().Server.TCPPort {
		t.Fatalf("tcp_port = %d", cfg.Server.TCPPort)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modsim.yaml")
	if _, err := execute(t, "config", "init", "--config", path); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	out, err := execute(t, "config", "validate", "--config", path)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "Config OK") {
		t.Fatalf("unexpected validate output: %s", out)
	}
	if _, err := execute(t, "config", "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("validate of a missing file should fail")
	}
}

func TestReportCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	w, err := metrics.NewWriter(path, "")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	base := time.Unix(1700000000, 0)
	rows := []metrics.Metric{
		{Timestamp: base, Source: "PLC1", Function: 3, Value: 40, Tag: "NONE", Accepted: true, Class: "NONE"},
		{Timestamp: base.Add(time.Second), Source: "PLC1", Function: 3, Value: 240, Tag: "DOS", Class: "INJECTION", Reason: "value out of range"},
	}
	for _, m := range rows {
		if err := w.WriteMetric(m); err != nil {
			t.Fatalf("WriteMetric: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out, err := execute(t, "report", path)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	for _, want := range []string{"Inspected Packets: 2", "Accepted: 1 (50.0%)", "INJECTION: 1", "PLC1: 2 packets"} {
		if !strings.Contains(out, want) {
			t.Errorf("report output missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, "report"); err == nil {
		t.Fatal("report without a file should fail")
	}
}

func TestRenderReport(t *testing.T) {
	report := &app.Report{
		Duration: 1500 * time.Millisecond,
		Status: app.Status{
			AttackMode:    "DOS",
			ActiveClients: 2,
			TotalRate:     40,
			TotalSent:     12345,
		},
		Summary: &metrics.Summary{
			Total:    1200,
			Accepted: 900,
			Rejected: 300,
			ByClass:  map[string]int{"DOS": 300},
		},
		PCAPFile:        "dos.pcap",
		CapturedPackets: 900,
	}
	out := renderReport(report)
	for _, want := range []string{"Simulation complete", "DOS", "12,345", "1,200", "dos.pcap (900 packets)"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered report missing %q:\n%s", want, out)
		}
	}
}
