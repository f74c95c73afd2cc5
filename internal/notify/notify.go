package notify

// Core-to-collaborator notifications.
//
// A failed delivery is returned to the caller as an error value; the Hub
// logs it and keeps delivering to the remaining listeners.

import (
	"errors"
	"sync"
	"time"

	"github.com/tturner/modsim/internal/logging"
	"github.com/tturner/modsim/internal/modbus"
)

// SecurityEvent describes one dropped packet.
type SecurityEvent struct {
	Time    time.Time         `json:"time"`
	Class   string            `json:"class"`
	Reason  string            `json:"reason"`
	Source  string            `json:"source"`
	Details map[string]string `json:"details,omitempty"`
}

// Listener consumes notifications from the core.
type Listener interface {
	OnLog(text string) error
	OnSecurityEvent(ev SecurityEvent) error
	OnPacket(p modbus.Packet) error
	OnAttackStarted(kind string) error
	OnAttackStopped(kind string) error
}

// Nop implements Listener with no-ops; embed it to handle a subset.
type Nop struct{}

func (Nop) OnLog(string) error                  { return nil }
func (Nop) OnSecurityEvent(SecurityEvent) error { return nil }
func (Nop) OnPacket(modbus.Packet) error        { return nil }
func (Nop) OnAttackStarted(string) error        { return nil }
func (Nop) OnAttackStopped(string) error        { return nil }

// Hub fans notifications out to registered listeners.
type Hub struct {
	mu        sync.RWMutex
	listeners []Listener
	logger    *logging.Logger
}

// NewHub creates a hub. logger may be nil.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{logger: logger}
}

// Add registers a listener.
func (h *Hub) Add(l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, l)
}

func (h *Hub) each(kind string, fn func(Listener) error) error {
	h.mu.RLock()
	listeners := h.listeners
	h.mu.RUnlock()

	var errs []error
	for _, l := range listeners {
		if err := fn(l); err != nil {
			h.logger.Error("%s notification failed: %v", kind, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Hub) OnLog(text string) error {
	return h.each("log", func(l Listener) error { return l.OnLog(text) })
}

func (h *Hub) OnSecurityEvent(ev SecurityEvent) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	return h.each("security", func(l Listener) error { return l.OnSecurityEvent(ev) })
}

func (h *Hub) OnPacket(p modbus.Packet) error {
	return h.each("packet", func(l Listener) error { return l.OnPacket(p) })
}

func (h *Hub) OnAttackStarted(kind string) error {
	return h.each("attack_started", func(l Listener) error { return l.OnAttackStarted(kind) })
}

func (h *Hub) OnAttackStopped(kind string) error {
	return h.each("attack_stopped", func(l Listener) error { return l.OnAttackStopped(kind) })
}
