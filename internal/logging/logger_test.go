package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		l, err := NewLogger(LogLevelInfo, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer l.Close()
		if l.GetLevel() != LogLevelInfo {
			t.Errorf("level = %d, want %d", l.GetLevel(), LogLevelInfo)
		}
		if l.file != nil {
			t.Error("file should be nil when no path given")
		}
	})

	t.Run("invalid path", func(t *testing.T) {
		_, err := NewLogger(LogLevelInfo, "/nonexistent/dir/test.log")
		if err == nil {
			t.Error("expected error for invalid path")
		}
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := NewLoggerWithOptions(LogLevelInfo, "", "xml", 1)
		if err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestLoggerLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := NewLogger(LogLevelInfo, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.Error("error msg")
	l.Info("info msg")
	l.Verbose("verbose msg")
	l.Debug("debug msg")
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)

	if !strings.Contains(content, "ERROR") || !strings.Contains(content, "error msg") {
		t.Error("log should contain error message")
	}
	if !strings.Contains(content, "info msg") {
		t.Error("log should contain info message")
	}
	if strings.Contains(content, "verbose msg") {
		t.Error("log should NOT contain verbose message at Info level")
	}
	if strings.Contains(content, "debug msg") {
		t.Error("log should NOT contain debug message at Info level")
	}
}

func TestLoggerSilentLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := NewLogger(LogLevelSilent, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.Error("should not appear")
	l.Info("should not appear")
	l.Close()

	data, _ := os.ReadFile(path)
	if len(strings.TrimSpace(string(data))) > 0 {
		t.Error("silent logger should produce no output")
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := NewLoggerWithOptions(LogLevelDebug, path, "json", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Named("inspect").Verbose("rejected %s", "PLC1")
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["level"] != "VERBOSE" {
		t.Errorf("level = %v, want VERBOSE", entry["level"])
	}
	if entry["component"] != "inspect" {
		t.Errorf("component = %v, want inspect", entry["component"])
	}
	if entry["msg"] != "rejected PLC1" {
		t.Errorf("msg = %v, want %q", entry["msg"], "rejected PLC1")
	}
}

func TestLoggerNamedSharesLevel(t *testing.T) {
	l := NewNop()
	child := l.Named("traffic")
	l.SetLevel(LogLevelDebug)
	if child.GetLevel() != LogLevelDebug {
		t.Errorf("child level = %d, want %d", child.GetLevel(), LogLevelDebug)
	}
}

func TestLoggerNamedAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modsim.log")
	l, err := NewLogger(LogLevelInfo, path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	child := l.Named("server")
	child.Info("before close")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	child.Info("after close")
	child.Error("after close error")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "before close") {
		t.Errorf("log missing entry written before Close: %q", data)
	}
	if strings.Contains(string(data), "after close") {
		t.Errorf("child wrote to the file after Close: %q", data)
	}
}

func TestLoggerSampled(t *testing.T) {
	l, err := NewLoggerWithOptions(LogLevelInfo, "", "text", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	emitted := 0
	for i := 0; i < 9; i++ {
		if l.Sampled("packet") {
			emitted++
		}
	}
	if emitted != 3 {
		t.Errorf("emitted = %d, want 3", emitted)
	}
	if !l.Sampled("other") {
		t.Error("first call for a new key should be emitted")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"silent":  LogLevelSilent,
		"ERROR":   LogLevelError,
		"":        LogLevelInfo,
		"verbose": LogLevelVerbose,
		"debug":   LogLevelDebug,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %d, want %d", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
