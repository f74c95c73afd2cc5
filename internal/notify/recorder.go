package notify

import (
	"sync"
	"time"

	"github.com/tturner/modsim/internal/modbus"
)

// Event types.
const (
	TypeLog           = "log"
	TypeSecurity      = "security_event"
	TypePacket        = "packet"
	TypeAttackStarted = "attack_started"
	TypeAttackStopped = "attack_stopped"
)

// Event is a recorded notification.
type Event struct {
	Type     string         `json:"type"`
	Time     time.Time      `json:"time"`
	Text     string         `json:"text,omitempty"`
	Security *SecurityEvent `json:"security,omitempty"`
	Packet   *PacketView    `json:"packet,omitempty"`
	Kind     string         `json:"kind,omitempty"`
}

// PacketView is the JSON form of an accepted packet.
type PacketView struct {
	TransactionID uint16 `json:"transaction_id"`
	UnitID        uint8  `json:"unit_id"`
	Function      uint8  `json:"function_code"`
	Address       int    `json:"address"`
	Value         int    `json:"value"`
	Source        string `json:"source"`
	Tag           string `json:"attack_tag"`
}

// ViewOf converts p for serialisation.
func ViewOf(p modbus.Packet) *PacketView {
	return &PacketView{
		TransactionID: p.TransactionID,
		UnitID:        p.UnitID,
		Function:      uint8(p.Function),
		Address:       p.Address,
		Value:         p.Value,
		Source:        p.Source,
		Tag:           p.Tag.String(),
	}
}

// Recorder keeps the most recent notifications in memory.
// Packet notifications are counted but not stored.
type Recorder struct {
	mu       sync.Mutex
	events   []Event
	limit    int
	packets  uint64
	security map[string]uint64
	now      func() time.Time
}

// NewRecorder keeps at most limit events.
func NewRecorder(limit int) *Recorder {
	if limit < 1 {
		limit = 500
	}
	return &Recorder{limit: limit, security: make(map[string]uint64), now: time.Now}
}

func (r *Recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.Time.IsZero() {
		ev.Time = r.now()
	}
	r.events = append(r.events, ev)
	if over := len(r.events) - r.limit; over > 0 {
		r.events = append(r.events[:0:0], r.events[over:]...)
	}
}

func (r *Recorder) OnLog(text string) error {
	r.add(Event{Type: TypeLog, Text: text})
	return nil
}

func (r *Recorder) OnSecurityEvent(ev SecurityEvent) error {
	r.mu.Lock()
	r.security[ev.Class]++
	r.mu.Unlock()
	r.add(Event{Type: TypeSecurity, Time: ev.Time, Security: &ev})
	return nil
}

func (r *Recorder) OnPacket(modbus.Packet) error {
	r.mu.Lock()
	r.packets++
	r.mu.Unlock()
	return nil
}

func (r *Recorder) OnAttackStarted(kind string) error {
	r.add(Event{Type: TypeAttackStarted, Kind: kind})
	return nil
}

func (r *Recorder) OnAttackStopped(kind string) error {
	r.add(Event{Type: TypeAttackStopped, Kind: kind})
	return nil
}

// Events returns recorded events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// SecurityCounts returns security events seen per classification.
func (r *Recorder) SecurityCounts() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(r.security))
	for k, v := range r.security {
		out[k] = v
	}
	return out
}

// Packets returns the number of accepted-packet notifications.
func (r *Recorder) Packets() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.packets
}
