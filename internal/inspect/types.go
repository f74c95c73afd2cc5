package inspect

// Verdict and classification types produced by the inspection engine.
//
// A rejected packet is a routine outcome, not a fault: callers receive a
// Verdict value and decide whether to emit a security event.

// Classification names the symptom that caused a rejection.
type Classification int

const (
	// ClassNone is used for accepted packets.
	ClassNone Classification = iota
	// ClassInjection covers disallowed function codes and out-of-range values.
	ClassInjection
	// ClassReplay marks a fingerprint already present in the replay cache.
	ClassReplay
	// ClassDoS marks an arrival rate above the configured threshold.
	ClassDoS
	// ClassBlocked marks a packet from a block-listed source.
	ClassBlocked
)

// String returns the event label for the classification.
func (c Classification) String() string {
	switch c {
	case ClassInjection:
		return "INJECTION"
	case ClassReplay:
		return "REPLAY"
	case ClassDoS:
		return "DOS"
	case ClassBlocked:
		return "BLOCKED"
	default:
		return "NONE"
	}
}

// Rejection reasons.
const (
	ReasonInvalidFunction = "invalid function code"
	ReasonValueRange      = "value out of range"
	ReasonReplay          = "replayed packet fingerprint"
	ReasonRate            = "abnormal packet rate"
	ReasonBlocked         = "source blocked"
)

// Verdict is the outcome of inspecting one packet.
type Verdict struct {
	Accepted bool
	Class    Classification
	Reason   string
}

// Accept is the verdict for a packet that passed every rule.
var Accept = Verdict{Accepted: true}

func reject(class Classification, reason string) Verdict {
	return Verdict{Class: class, Reason: reason}
}
