package attack

import (
	"math/rand"
	"testing"

	"github.com/tturner/modsim/internal/modbus"
)

type fakeReplay struct {
	packets []modbus.Packet
	tid     uint16
}

func (f *fakeReplay) Len() int { return len(f.packets) }

func (f *fakeReplay) Sample(rng *rand.Rand) (modbus.Packet, bool) {
	if len(f.packets) == 0 {
		return modbus.Packet{}, false
	}
	return f.packets[rng.Intn(len(f.packets))], true
}

func (f *fakeReplay) NextTransactionID() uint16 {
	f.tid++
	return f.tid
}

func TestMutatorModifyBounds(t *testing.T) {
	m := NewMutator(DefaultMutatorConfig(), rand.New(rand.NewSource(7)))
	for i := 0; i < 500; i++ {
		p := m.Apply(modbus.Packet{Value: 50}, ModeMITMModify, nil)
		if p.Value < 35 || p.Value > 70 {
			t.Fatalf("modified value %d outside [35, 70]", p.Value)
		}
		if p.Tag != modbus.TagMITMModify {
			t.Fatalf("tag = %v, want MITM_MODIFY", p.Tag)
		}
	}
}

func TestMutatorReplayValues(t *testing.T) {
	m := NewMutator(DefaultMutatorConfig(), rand.New(rand.NewSource(3)))
	allowed := map[int]bool{5: true, 10: true, 20: true, 40: true}
	for i := 0; i < 200; i++ {
		p := m.Apply(modbus.Packet{Value: 77, Source: "client-0"}, ModeMITMReplay, nil)
		if !allowed[p.Value] {
			t.Fatalf("replay value %d not in fixed set", p.Value)
		}
		if p.Tag != modbus.TagMITMReplay {
			t.Fatalf("tag = %v, want MITM_REPLAY", p.Tag)
		}
	}
}

func TestMutatorReplayClone(t *testing.T) {
	cfg := DefaultMutatorConfig()
	cfg.ReplayCloneProbability = 1
	m := NewMutator(cfg, rand.New(rand.NewSource(3)))
	src := &fakeReplay{tid: 100}
	for i := 0; i < 5; i++ {
		src.packets = append(src.packets, modbus.Packet{TransactionID: uint16(i), Function: modbus.FcReadCoils, Value: 90 + i})
	}
	p := m.Apply(modbus.Packet{Value: 1, Source: "client-3"}, ModeMITMReplay, src)
	if p.Value < 90 || p.Value > 94 {
		t.Fatalf("cloned value = %d, want a buffered value", p.Value)
	}
	if p.TransactionID != 101 {
		t.Errorf("transaction id = %d, want fresh id 101", p.TransactionID)
	}
	if p.Source != "client-3" || p.Tag != modbus.TagMITMReplay {
		t.Errorf("clone = %+v", p)
	}

	// Fewer than the minimum buffered packets falls back to the fixed set.
	src.packets = src.packets[:4]
	p = m.Apply(modbus.Packet{Value: 1}, ModeMITMReplay, src)
	if p.Value >= 90 {
		t.Errorf("value = %d, want fixed-set fallback", p.Value)
	}
}

func TestMutatorDoSWalk(t *testing.T) {
	m := NewMutator(DefaultMutatorConfig(), rand.New(rand.NewSource(11)))
	p := m.Apply(modbus.Packet{}, ModeDOS, nil)
	if p.Value < 140 || p.Value > 220 {
		t.Fatalf("seed value = %d, want 140..220", p.Value)
	}
	m.Observe(100)
	m.Observe(245)
	for i := 0; i < 500; i++ {
		p = m.Apply(modbus.Packet{}, ModeDOS, nil)
		if p.Value < 0 || p.Value > 250 {
			t.Fatalf("walk value %d outside [0, 250]", p.Value)
		}
		if p.Tag != modbus.TagDOS {
			t.Fatalf("tag = %v, want DOS", p.Tag)
		}
		m.Observe(p.Value)
	}
}

func TestMutatorNoneIsIdentity(t *testing.T) {
	m := NewMutator(DefaultMutatorConfig(), nil)
	in := modbus.Packet{TransactionID: 9, Value: 12, Source: "PLC1"}
	if out := m.Apply(in, ModeNone, nil); out != in {
		t.Fatalf("Apply(NONE) = %+v, want %+v", out, in)
	}
}

func TestMutatorBurstSize(t *testing.T) {
	m := NewMutator(DefaultMutatorConfig(), rand.New(rand.NewSource(5)))
	for i := 0; i < 100; i++ {
		if n := m.BurstSize(); n < 10 || n > 30 {
			t.Fatalf("burst size %d outside [10, 30]", n)
		}
	}
}

func TestPolicyNext(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := DefaultPolicies()
	if got := p[KindSynFlood].Next(10, rng); got != 15 {
		t.Errorf("SYN_FLOOD next = %d, want 15", got)
	}
	if got := p[KindFunctionSpam].Next(10, rng); got != 11 {
		t.Errorf("FUNCTION_SPAM next = %d, want 11", got)
	}
	if got := p[KindSlowloris].Next(1, rng); got != 1 {
		t.Errorf("SLOWLORIS next at floor = %d, want 1", got)
	}
	for i := 0; i < 100; i++ {
		if got := p[KindRandomPackets].Next(10, rng); got < 5 || got > 50 {
			t.Fatalf("RANDOM_PACKETS next = %d, want 5..50", got)
		}
	}
}

func TestParseKindAndMode(t *testing.T) {
	for in, want := range map[string]Kind{"SYN Flood": KindSynFlood, "function-spam": KindFunctionSpam, "SLOWLORIS": KindSlowloris} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v,%v, want %v", in, got, err, want)
		}
	}
	if _, err := ParseKind("teardrop"); err == nil {
		t.Error("expected error for unknown kind")
	}
	if m, err := ParseMode("mitm_replay"); err != nil || m != ModeMITMReplay {
		t.Errorf("ParseMode = %v,%v", m, err)
	}
	if m, _ := ParseMode(""); m != ModeNone {
		t.Errorf("ParseMode(\"\") = %v, want NONE", m)
	}
}
