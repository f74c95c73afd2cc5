package attack

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/tturner/modsim/internal/modbus"
)

// Mode is a traffic mutation applied before inspection.
type Mode int

const (
	ModeNone Mode = iota
	ModeMITMModify
	ModeMITMReplay
	ModeDOS
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeMITMModify:
		return "MITM_MODIFY"
	case ModeMITMReplay:
		return "MITM_REPLAY"
	case ModeDOS:
		return "DOS"
	default:
		return "NONE"
	}
}

// Tag returns the packet tag a mutation in this mode applies.
func (m Mode) Tag() modbus.AttackTag {
	switch m {
	case ModeMITMModify:
		return modbus.TagMITMModify
	case ModeMITMReplay:
		return modbus.TagMITMReplay
	case ModeDOS:
		return modbus.TagDOS
	default:
		return modbus.TagNone
	}
}

// ParseMode parses a mode name; the empty string means NONE.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return ModeNone, nil
	case "MITM_MODIFY":
		return ModeMITMModify, nil
	case "MITM_REPLAY":
		return ModeMITMReplay, nil
	case "DOS":
		return ModeDOS, nil
	default:
		return ModeNone, fmt.Errorf("unknown attack mode %q", s)
	}
}

// Kind is a rate-driving attack session type.
type Kind int

const (
	KindSynFlood Kind = iota
	KindFunctionSpam
	KindRandomPackets
	KindSlowloris
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSynFlood:
		return "SYN_FLOOD"
	case KindFunctionSpam:
		return "FUNCTION_SPAM"
	case KindRandomPackets:
		return "RANDOM_PACKETS"
	case KindSlowloris:
		return "SLOWLORIS"
	default:
		return "unknown"
	}
}

// ParseKind parses a session kind. Spaces and dashes are accepted in place
// of underscores so "SYN Flood" and "syn-flood" both work.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch norm {
	case "SYN_FLOOD":
		return KindSynFlood, nil
	case "FUNCTION_SPAM":
		return KindFunctionSpam, nil
	case "RANDOM_PACKETS":
		return KindRandomPackets, nil
	case "SLOWLORIS":
		return KindSlowloris, nil
	default:
		return 0, fmt.Errorf("unknown attack kind %q", s)
	}
}

// Policy is the per-tick rate mutation for one session kind.
type Policy struct {
	Kind   Kind
	Period time.Duration
	Step   int // increment for floods and spam, decrement for slowloris
	Min    int // random range, RANDOM_PACKETS only
	Max    int
}

// Next returns the rate after one tick.
func (p Policy) Next(rate int, rng *rand.Rand) int {
	switch p.Kind {
	case KindSynFlood, KindFunctionSpam:
		return rate + p.Step
	case KindRandomPackets:
		if p.Max <= p.Min {
			return p.Min
		}
		return p.Min + rng.Intn(p.Max-p.Min+1)
	case KindSlowloris:
		if next := rate - p.Step; next > 1 {
			return next
		}
		return 1
	default:
		return rate
	}
}

// DefaultPolicies returns the stock session policies.
func DefaultPolicies() map[Kind]Policy {
	return map[Kind]Policy{
		KindSynFlood:      {Kind: KindSynFlood, Period: 300 * time.Millisecond, Step: 5},
		KindFunctionSpam:  {Kind: KindFunctionSpam, Period: 200 * time.Millisecond, Step: 1},
		KindRandomPackets: {Kind: KindRandomPackets, Period: 200 * time.Millisecond, Min: 5, Max: 50},
		KindSlowloris:     {Kind: KindSlowloris, Period: time.Second, Step: 1},
	}
}
