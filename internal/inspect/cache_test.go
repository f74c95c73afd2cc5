package inspect

import (
	"testing"
	"time"

	"github.com/tturner/modsim/internal/modbus"
)

func TestReplayCacheEvictsOldest(t *testing.T) {
	c := NewReplayCache(3)
	fps := []Fingerprint{
		{Source: "a", Function: modbus.FcReadCoils, Value: 1},
		{Source: "a", Function: modbus.FcReadCoils, Value: 2},
		{Source: "a", Function: modbus.FcReadCoils, Value: 3},
		{Source: "a", Function: modbus.FcReadCoils, Value: 4},
	}
	for _, fp := range fps {
		c.Insert(fp)
	}
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	if c.Contains(fps[0]) {
		t.Error("oldest fingerprint should be evicted")
	}
	for _, fp := range fps[1:] {
		if !c.Contains(fp) {
			t.Errorf("missing %+v", fp)
		}
	}
}

func TestReplayCacheDuplicateInsert(t *testing.T) {
	c := NewReplayCache(2)
	fp := Fingerprint{Source: "x", Value: 1}
	c.Insert(fp)
	c.Insert(fp)
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestRateWindowSpan(t *testing.T) {
	w := NewRateWindow(4)
	base := time.Unix(0, 0)
	if _, ok := w.Span(2); ok {
		t.Fatal("Span on empty window should not be ok")
	}
	for i := 0; i < 6; i++ {
		w.Record(base.Add(time.Duration(i) * time.Second))
	}
	if w.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", w.Len())
	}
	span, ok := w.Span(4)
	if !ok || span != 3*time.Second {
		t.Errorf("Span(4) = %v,%v, want 3s,true", span, ok)
	}
	if _, ok := w.Span(5); ok {
		t.Error("Span(5) should not be ok with capacity 4")
	}
}

func TestBlockListList(t *testing.T) {
	b := NewBlockList()
	if !b.Block("PLC2") || !b.Block("PLC1") {
		t.Fatal("Block returned false for new source")
	}
	if b.Block("PLC1") {
		t.Error("Block returned true for duplicate source")
	}
	got := b.List()
	if len(got) != 2 || got[0] != "PLC1" || got[1] != "PLC2" {
		t.Errorf("List() = %v, want [PLC1 PLC2]", got)
	}
	if b.Unblock("RTU7") {
		t.Error("Unblock returned true for unknown source")
	}
}
