package notify

import (
	"github.com/tturner/modsim/internal/logging"
	"github.com/tturner/modsim/internal/modbus"
)

// LogListener writes notifications to a logger.
type LogListener struct {
	logger *logging.Logger
}

// NewLogListener creates a listener that logs through logger.
func NewLogListener(logger *logging.Logger) *LogListener {
	return &LogListener{logger: logger}
}

func (l *LogListener) OnLog(text string) error {
	l.logger.Verbose("%s", text)
	return nil
}

func (l *LogListener) OnSecurityEvent(ev SecurityEvent) error {
	if l.logger.Sampled("security:" + ev.Class) {
		l.logger.Info("[%s] %s from %s", ev.Class, ev.Reason, ev.Source)
	}
	return nil
}

func (l *LogListener) OnPacket(p modbus.Packet) error {
	if l.logger.Sampled("packet:" + p.Source) {
		l.logger.Debug("accepted %s fc=%d value=%d tid=%d tag=%s", p.Source, p.Function, p.Value, p.TransactionID, p.Tag)
	}
	return nil
}

func (l *LogListener) OnAttackStarted(kind string) error {
	l.logger.Info("Attack started: %s", kind)
	return nil
}

func (l *LogListener) OnAttackStopped(kind string) error {
	l.logger.Info("Attack stopped: %s", kind)
	return nil
}
