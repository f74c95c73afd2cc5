package attack

// Packet mutation applied strictly before inspection. The inspection engine
// classifies by symptom, so a DOS-tagged packet whose value overshoots the
// ceiling is reported as an injection.

import (
	"math/rand"
	"sync"
	"time"

	"github.com/tturner/modsim/internal/modbus"
)

// ReplaySource exposes a generator's recent packets for forged replays.
type ReplaySource interface {
	Len() int
	Sample(rng *rand.Rand) (modbus.Packet, bool)
	NextTransactionID() uint16
}

// MutatorConfig holds the mutation constants.
type MutatorConfig struct {
	ModifyDeltaMin int
	ModifyDeltaMax int

	ReplayValues           []int
	ReplayCloneProbability float64
	ReplayCloneMinBuffered int

	DoSCeiling          int
	DoSSeedMin          int
	DoSSeedMax          int
	DoSSpikeProbability float64
	DoSSpikeMin         int
	DoSSpikeMax         int
	DoSStepMin          int
	DoSStepMax          int

	BurstMin int
	BurstMax int
}

// DefaultMutatorConfig returns the stock mutation constants.
func DefaultMutatorConfig() MutatorConfig {
	return MutatorConfig{
		ModifyDeltaMin:         -15,
		ModifyDeltaMax:         20,
		ReplayValues:           []int{5, 10, 20, 40},
		ReplayCloneProbability: 0.3,
		ReplayCloneMinBuffered: 5,
		DoSCeiling:             250,
		DoSSeedMin:             140,
		DoSSeedMax:             220,
		DoSSpikeProbability:    0.15,
		DoSSpikeMin:            40,
		DoSSpikeMax:            90,
		DoSStepMin:             -20,
		DoSStepMax:             35,
		BurstMin:               10,
		BurstMax:               30,
	}
}

// Mutator rewrites packets for the active attack mode. Safe for concurrent
// use.
type Mutator struct {
	mu       sync.Mutex
	cfg      MutatorConfig
	rng      *rand.Rand
	last     int
	observed int
}

// NewMutator creates a mutator. A nil rng is replaced by a time-seeded one.
func NewMutator(cfg MutatorConfig, rng *rand.Rand) *Mutator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if len(cfg.ReplayValues) == 0 {
		cfg.ReplayValues = DefaultMutatorConfig().ReplayValues
	}
	return &Mutator{cfg: cfg, rng: rng}
}

// Observe feeds an accepted value into the DOS random walk.
func (m *Mutator) Observe(value int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = value
	if m.observed < 2 {
		m.observed++
	}
}

// Apply returns p mutated for mode. src may be nil; replay cloning is then
// skipped.
func (m *Mutator) Apply(p modbus.Packet, mode Mode, src ReplaySource) modbus.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch mode {
	case ModeMITMModify:
		p.Value += m.between(m.cfg.ModifyDeltaMin, m.cfg.ModifyDeltaMax)
	case ModeMITMReplay:
		if src != nil && src.Len() >= m.cfg.ReplayCloneMinBuffered && m.rng.Float64() < m.cfg.ReplayCloneProbability {
			if prior, ok := src.Sample(m.rng); ok {
				prior.TransactionID = src.NextTransactionID()
				prior.Source = p.Source
				prior.Timestamp = p.Timestamp
				p = prior
				break
			}
		}
		p.Value = m.cfg.ReplayValues[m.rng.Intn(len(m.cfg.ReplayValues))]
	case ModeDOS:
		p.Value = m.dosValue()
	default:
		return p
	}
	p.Tag = mode.Tag()
	return p
}

// BurstSize returns the number of packets a DOS burst emits.
func (m *Mutator) BurstSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.between(m.cfg.BurstMin, m.cfg.BurstMax)
}

func (m *Mutator) dosValue() int {
	if m.observed < 2 {
		return m.between(m.cfg.DoSSeedMin, m.cfg.DoSSeedMax)
	}
	var v int
	if m.rng.Float64() < m.cfg.DoSSpikeProbability {
		v = m.between(m.cfg.DoSSpikeMin, m.cfg.DoSSpikeMax)
	} else {
		v = m.last + m.between(m.cfg.DoSStepMin, m.cfg.DoSStepMax)
	}
	if v < 0 {
		return 0
	}
	if v > m.cfg.DoSCeiling {
		return m.cfg.DoSCeiling
	}
	return v
}

// between returns a uniform integer in [lo, hi].
func (m *Mutator) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + m.rng.Intn(hi-lo+1)
}
