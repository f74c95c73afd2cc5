package api

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/tturner/modsim/internal/app"
	"github.com/tturner/modsim/internal/config"
	mserrors "github.com/tturner/modsim/internal/errors"
)

func newSimulator(t *testing.T, start bool, mutate func(*config.Config)) *app.Simulator {
	t.Helper()
	cfg := config.CreateDefaultConfig()
	cfg.Server.TCPPort = 0
	cfg.Clients.InitialClients = 0
	cfg.Devices.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	sim, err := app.New(cfg, nil, app.WithSeed(1))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	if start {
		if err := sim.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	t.Cleanup(func() { _ = sim.Stop() })
	return sim
}

func newTestServer(t *testing.T, sim *app.Simulator) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewServer(sim, nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path, body string) (int, string) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(data)
}

func expectStatus(t *testing.T, got, want int, body string) {
	t.Helper()
	if got != want {
		t.Fatalf("status = %d, want %d (body %q)", got, want, body)
	}
}

func TestStatusAndClients(t *testing.T) {
	ts := newTestServer(t, newSimulator(t, true, nil))

	code, body := do(t, ts, "GET", "/api/v1/status", "")
	expectStatus(t, code, http.StatusOK, body)
	if !gjson.Get(body, "running").Bool() || gjson.Get(body, "active_clients").Int() != 0 {
		t.Fatalf("unexpected status: %s", body)
	}
	if got := gjson.Get(body, "attack_mode").String(); got != "NONE" {
		t.Fatalf("attack_mode = %q, want NONE", got)
	}

	code, body = do(t, ts, "POST", "/api/v1/clients", `{"rate":5}`)
	expectStatus(t, code, http.StatusCreated, body)
	if gjson.Get(body, "rate").Int() != 5 || gjson.Get(body, "source").String() != "client-0" {
		t.Fatalf("unexpected client: %s", body)
	}

	code, body = do(t, ts, "PUT", "/api/v1/clients/0/rate", `{"pps":20}`)
	expectStatus(t, code, http.StatusNoContent, body)
	_, body = do(t, ts, "GET", "/api/v1/status", "")
	if got := gjson.Get(body, "clients.0.rate").Int(); got != 20 {
		t.Fatalf("clients.0.rate = %d, want 20", got)
	}
	if got := gjson.Get(body, "total_rate").Int(); got != 20 {
		t.Fatalf("total_rate = %d, want 20", got)
	}

	code, body = do(t, ts, "PUT", "/api/v1/clients/7/rate", `{"pps":20}`)
	expectStatus(t, code, http.StatusNotFound, body)

	code, body = do(t, ts, "POST", "/api/v1/clients/0/stop", "")
	expectStatus(t, code, http.StatusNoContent, body)
	code, body = do(t, ts, "POST", "/api/v1/clients/0/start", "")
	expectStatus(t, code, http.StatusNoContent, body)

	code, body = do(t, ts, "GET", "/api/v1/clients/0/replay", "")
	expectStatus(t, code, http.StatusOK, body)
	if !gjson.Get(body, "packets").IsArray() {
		t.Fatalf("packets is not an array: %s", body)
	}

	code, body = do(t, ts, "DELETE", "/api/v1/clients/last", "")
	expectStatus(t, code, http.StatusNoContent, body)
	code, body = do(t, ts, "DELETE", "/api/v1/clients/last", "")
	expectStatus(t, code, http.StatusNotFound, body)
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t, newSimulator(t, true, nil))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"malformed json", "POST", "/api/v1/clients", `{`},
		{"zero rate", "POST", "/api/v1/clients", `{"rate":0}`},
		{"unknown field", "POST", "/api/v1/clients", `{"pps":3}`},
		{"bad mode", "PUT", "/api/v1/attack-mode", `{"mode":"FLOOD"}`},
		{"bad kind", "POST", "/api/v1/sessions", `{"target":0,"kind":"teardrop"}`},
		{"empty source", "POST", "/api/v1/blocks", `{"source":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, ts, tt.method, tt.path, tt.body)
			expectStatus(t, code, http.StatusBadRequest, body)
		})
	}
}

func TestCapacityAndNotRunning(t *testing.T) {
	ts := newTestServer(t, newSimulator(t, true, func(c *config.Config) { c.Clients.MaxClients = 1 }))
	code, body := do(t, ts, "POST", "/api/v1/clients", `{"rate":2}`)
	expectStatus(t, code, http.StatusCreated, body)
	code, body = do(t, ts, "POST", "/api/v1/clients", `{"rate":2}`)
	expectStatus(t, code, http.StatusConflict, body)

	idle := newTestServer(t, newSimulator(t, false, nil))
	code, body = do(t, idle, "POST", "/api/v1/clients", `{"rate":2}`)
	expectStatus(t, code, http.StatusConflict, body)
}

func TestSessions(t *testing.T) {
	ts := newTestServer(t, newSimulator(t, true, nil))
	do(t, ts, "POST", "/api/v1/clients", `{"rate":10}`)

	code, body := do(t, ts, "POST", "/api/v1/sessions", `{"target":5,"kind":"SYN_FLOOD"}`)
	expectStatus(t, code, http.StatusNotFound, body)

	code, body = do(t, ts, "POST", "/api/v1/sessions", `{"target":0,"kind":"syn flood"}`)
	expectStatus(t, code, http.StatusCreated, body)
	id := gjson.Get(body, "id").String()
	if id != "1" || gjson.Get(body, "kind").String() != "SYN_FLOOD" {
		t.Fatalf("unexpected session: %s", body)
	}

	_, body = do(t, ts, "GET", "/api/v1/sessions", "")
	if n := gjson.Get(body, "sessions.#").Int(); n != 1 {
		t.Fatalf("sessions = %d, want 1 (%s)", n, body)
	}

	code, body = do(t, ts, "DELETE", "/api/v1/sessions/"+id, "")
	expectStatus(t, code, http.StatusNoContent, body)
	_, body = do(t, ts, "GET", "/api/v1/status", "")
	if got := gjson.Get(body, "clients.0.rate").Int(); got != 10 {
		t.Fatalf("rate after stop = %d, want 10", got)
	}

	code, body = do(t, ts, "DELETE", "/api/v1/sessions/99", "")
	expectStatus(t, code, http.StatusNotFound, body)

	_, body = do(t, ts, "GET", "/api/v1/events", "")
	if kind := gjson.Get(body, `events.#(type=="attack_started").kind`).String(); kind != "SYN_FLOOD" {
		t.Fatalf("attack_started kind = %q (%s)", kind, body)
	}
}

func TestAttackModeAndBlocks(t *testing.T) {
	ts := newTestServer(t, newSimulator(t, true, nil))

	code, body := do(t, ts, "PUT", "/api/v1/attack-mode", `{"mode":"dos"}`)
	expectStatus(t, code, http.StatusOK, body)
	code, body = do(t, ts, "PUT", "/api/v1/attack-mode", `{"mode":"MITM_REPLAY","source":"PLC1"}`)
	expectStatus(t, code, http.StatusOK, body)

	_, body = do(t, ts, "GET", "/api/v1/status", "")
	if got := gjson.Get(body, "attack_mode").String(); got != "DOS" {
		t.Fatalf("attack_mode = %q, want DOS", got)
	}
	if got := gjson.Get(body, "source_modes.PLC1").String(); got != "MITM_REPLAY" {
		t.Fatalf("source_modes.PLC1 = %q", got)
	}

	code, body = do(t, ts, "POST", "/api/v1/blocks", `{"source":"PLC1"}`)
	expectStatus(t, code, http.StatusCreated, body)
	code, body = do(t, ts, "POST", "/api/v1/blocks", `{"source":"PLC1"}`)
	expectStatus(t, code, http.StatusOK, body)

	_, body = do(t, ts, "GET", "/api/v1/blocks", "")
	if got := gjson.Get(body, "blocked.0").String(); got != "PLC1" {
		t.Fatalf("blocked = %s", body)
	}

	code, body = do(t, ts, "DELETE", "/api/v1/blocks/PLC1", "")
	expectStatus(t, code, http.StatusNoContent, body)
	code, body = do(t, ts, "DELETE", "/api/v1/blocks/PLC1", "")
	expectStatus(t, code, http.StatusNotFound, body)

	_, body = do(t, ts, "GET", "/api/v1/events", "")
	if kind := gjson.Get(body, `events.#(type=="attack_started").kind`).String(); kind != "DOS" {
		t.Fatalf("attack_started kind = %q", kind)
	}

	code, body = do(t, ts, "GET", "/api/v1/history", "")
	expectStatus(t, code, http.StatusOK, body)
	if !gjson.Get(body, "samples").IsArray() && gjson.Get(body, "samples").Type != gjson.Null {
		t.Fatalf("unexpected history: %s", body)
	}

	code, body = do(t, ts, "GET", "/api/v1/summary", "")
	expectStatus(t, code, http.StatusOK, body)
	if !gjson.Get(body, "total").Exists() {
		t.Fatalf("summary missing total: %s", body)
	}
}

func TestWriteErrorStatus(t *testing.T) {
	s := NewServer(nil, nil)
	tests := []struct {
		err  error
		want int
	}{
		{mserrors.InvalidTarget(3), http.StatusNotFound},
		{mserrors.UnknownGenerator(3), http.StatusNotFound},
		{mserrors.UnknownSession(3), http.StatusNotFound},
		{mserrors.CapacityExceeded("clients", 1), http.StatusConflict},
		{mserrors.NotRunning("add client"), http.StatusConflict},
		{mserrors.EmptyReplayBuffer("client-0"), http.StatusConflict},
		{mserrors.Connection(errors.New("reset"), "replay"), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.writeError(rec, tt.err)
		if rec.Code != tt.want {
			t.Errorf("writeError(%v) status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}
