package api

// HTTP control surface over the simulator's command set.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tturner/modsim/internal/app"
	"github.com/tturner/modsim/internal/attack"
	"github.com/tturner/modsim/internal/broker"
	mserrors "github.com/tturner/modsim/internal/errors"
	"github.com/tturner/modsim/internal/logging"
	"github.com/tturner/modsim/internal/metrics"
	"github.com/tturner/modsim/internal/modbus"
	"github.com/tturner/modsim/internal/notify"
	"github.com/tturner/modsim/internal/traffic"
)

// Controller is the command set the API exposes.
type Controller interface {
	Status() app.Status
	History() []broker.Sample
	Values() []int
	Events() []notify.Event
	Summary() *metrics.Summary

	AddClient(rate int) (traffic.Stats, error)
	RemoveLastClient() (bool, error)
	StartTraffic(id int) error
	StopTraffic(id int) error
	SetRate(id, pps int) error
	ReplayPacket(id int) (modbus.Packet, bool, error)
	ReplayBuffer(id int) ([]modbus.Packet, error)

	SetAttackMode(mode attack.Mode)
	SetSourceAttackMode(source string, mode attack.Mode)
	BlockSource(label string) bool
	UnblockSource(label string) bool

	StartSession(target int, kind attack.Kind) (uint64, error)
	StopSession(id uint64) error
	Sessions() []attack.SessionInfo
}

// Server serves the control API.
type Server struct {
	ctrl   Controller
	logger *logging.Logger
	router *mux.Router
}

// NewServer builds the router for ctrl.
func NewServer(ctrl Controller, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{ctrl: ctrl, logger: logger, router: mux.NewRouter()}

	r := s.router.PathPrefix("/api/v1").Subrouter()
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/history", s.historyHandler).Methods("GET")
	r.HandleFunc("/events", s.eventsHandler).Methods("GET")
	r.HandleFunc("/summary", s.summaryHandler).Methods("GET")

	r.HandleFunc("/clients", s.addClientHandler).Methods("POST")
	r.HandleFunc("/clients/last", s.removeClientHandler).Methods("DELETE")
	r.HandleFunc("/clients/{id:[0-9]+}/start", s.startClientHandler).Methods("POST")
	r.HandleFunc("/clients/{id:[0-9]+}/stop", s.stopClientHandler).Methods("POST")
	r.HandleFunc("/clients/{id:[0-9]+}/rate", s.rateHandler).Methods("PUT")
	r.HandleFunc("/clients/{id:[0-9]+}/replay", s.replayBufferHandler).Methods("GET")
	r.HandleFunc("/clients/{id:[0-9]+}/replay", s.replayHandler).Methods("POST")

	r.HandleFunc("/attack-mode", s.attackModeHandler).Methods("PUT")
	r.HandleFunc("/blocks", s.listBlocksHandler).Methods("GET")
	r.HandleFunc("/blocks", s.blockHandler).Methods("POST")
	r.HandleFunc("/blocks/{source}", s.unblockHandler).Methods("DELETE")

	r.HandleFunc("/sessions", s.listSessionsHandler).Methods("GET")
	r.HandleFunc("/sessions", s.startSessionHandler).Methods("POST")
	r.HandleFunc("/sessions/{id:[0-9]+}", s.stopSessionHandler).Methods("DELETE")
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen on %s: %w", addr, err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown API server: %w", err)
	}
	return <-errCh
}

type rateRequest struct {
	Rate int `json:"rate"`
}

type ppsRequest struct {
	PPS int `json:"pps"`
}

type modeRequest struct {
	Mode   string `json:"mode"`
	Source string `json:"source,omitempty"`
}

type blockRequest struct {
	Source string `json:"source"`
}

type sessionRequest struct {
	Target int    `json:"target"`
	Kind   string `json:"kind"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"samples": s.ctrl.History(),
		"values":  s.ctrl.Values(),
	})
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": s.ctrl.Events()})
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Summary())
}

func (s *Server) addClientHandler(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Rate < 1 {
		http.Error(w, "rate must be >= 1", http.StatusBadRequest)
		return
	}
	st, err := s.ctrl.AddClient(req.Rate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) removeClientHandler(w http.ResponseWriter, r *http.Request) {
	removed, err := s.ctrl.RemoveLastClient()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !removed {
		http.Error(w, "no clients", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startClientHandler(w http.ResponseWriter, r *http.Request) {
	s.clientCommand(w, r, s.ctrl.StartTraffic)
}

func (s *Server) stopClientHandler(w http.ResponseWriter, r *http.Request) {
	s.clientCommand(w, r, s.ctrl.StopTraffic)
}

func (s *Server) clientCommand(w http.ResponseWriter, r *http.Request, fn func(int) error) {
	id, ok := pathInt(w, r)
	if !ok {
		return
	}
	if err := fn(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) rateHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r)
	if !ok {
		return
	}
	var req ppsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.ctrl.SetRate(id, req.PPS); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) replayBufferHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r)
	if !ok {
		return
	}
	packets, err := s.ctrl.ReplayBuffer(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]*notify.PacketView, len(packets))
	for i, p := range packets {
		views[i] = notify.ViewOf(p)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"packets": views})
}

func (s *Server) replayHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r)
	if !ok {
		return
	}
	p, admitted, err := s.ctrl.ReplayPacket(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"admitted": admitted,
		"packet":   notify.ViewOf(p),
	})
}

func (s *Server) attackModeHandler(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !decode(w, r, &req) {
		return
	}
	mode, err := attack.ParseMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Source != "" {
		s.ctrl.SetSourceAttackMode(req.Source, mode)
	} else {
		s.ctrl.SetAttackMode(mode)
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": mode.String(), "source": req.Source})
}

func (s *Server) listBlocksHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"blocked": s.ctrl.Status().Blocked})
}

func (s *Server) blockHandler(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Source == "" {
		http.Error(w, "source is required", http.StatusBadRequest)
		return
	}
	status := http.StatusOK
	if s.ctrl.BlockSource(req.Source) {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]string{"source": req.Source})
}

func (s *Server) unblockHandler(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	if !s.ctrl.UnblockSource(source) {
		http.Error(w, fmt.Sprintf("source %q is not blocked", source), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": s.ctrl.Sessions()})
}

func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decode(w, r, &req) {
		return
	}
	kind, err := attack.ParseKind(req.Kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := s.ctrl.StartSession(req.Target, kind)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "target": req.Target, "kind": kind.String()})
}

func (s *Server) stopSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	if err := s.ctrl.StopSession(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, mserrors.ErrInvalidTarget),
		errors.Is(err, mserrors.ErrUnknownGenerator),
		errors.Is(err, mserrors.ErrUnknownSession):
		status = http.StatusNotFound
	case errors.Is(err, mserrors.ErrCapacityExceeded),
		errors.Is(err, mserrors.ErrNotRunning),
		errors.Is(err, mserrors.ErrEmptyReplayBuffer):
		status = http.StatusConflict
	case errors.Is(err, mserrors.ErrConnection):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("API command failed: %v", err)
	}
	http.Error(w, err.Error(), status)
}

func pathInt(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
