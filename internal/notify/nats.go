package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/tturner/modsim/internal/modbus"
)

// DefaultSubject is the NATS subject events are published on.
const DefaultSubject = "modsim.events"

// Envelope is the JSON document published for every notification.
type Envelope struct {
	RunID string    `json:"run_id"`
	Type  string    `json:"type"`
	Time  time.Time `json:"time"`
	Event
}

// NATSPublisher publishes every notification to a NATS subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	runID   string
	publish func(subject string, data []byte) error
	now     func() time.Time
}

// NewNATSPublisher connects to url and publishes on subject.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("modsim"), nats.Timeout(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect NATS %s: %w", url, err)
	}
	p := newPublisher(subject, nc.Publish)
	p.nc = nc
	return p, nil
}

func newPublisher(subject string, publish func(string, []byte) error) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{
		subject: subject,
		runID:   uuid.NewString(),
		publish: publish,
		now:     time.Now,
	}
}

// RunID identifies this process's event stream.
func (p *NATSPublisher) RunID() string { return p.runID }

func (p *NATSPublisher) send(ev Event) error {
	env := Envelope{RunID: p.runID, Type: ev.Type, Time: p.now(), Event: ev}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	if err := p.publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

func (p *NATSPublisher) OnLog(text string) error {
	return p.send(Event{Type: TypeLog, Text: text})
}

func (p *NATSPublisher) OnSecurityEvent(ev SecurityEvent) error {
	return p.send(Event{Type: TypeSecurity, Security: &ev})
}

func (p *NATSPublisher) OnPacket(pkt modbus.Packet) error {
	return p.send(Event{Type: TypePacket, Packet: ViewOf(pkt)})
}

func (p *NATSPublisher) OnAttackStarted(kind string) error {
	return p.send(Event{Type: TypeAttackStarted, Kind: kind})
}

func (p *NATSPublisher) OnAttackStopped(kind string) error {
	return p.send(Event{Type: TypeAttackStopped, Kind: kind})
}

// Close drains and closes the NATS connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
