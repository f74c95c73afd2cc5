package traffic

import (
	"errors"
	"testing"

	mserrors "github.com/tturner/modsim/internal/errors"
)

func TestManagerCapacityAndRemoval(t *testing.T) {
	addr := startEcho(t)
	m := NewManager(Config{Address: addr}, 2)

	a, err := m.AddClient(10)
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	b, err := m.AddClient(20)
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	if _, err := m.AddClient(5); !errors.Is(err, mserrors.ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
	if a.Source() == b.Source() {
		t.Errorf("duplicate source label %q", a.Source())
	}
	if m.TotalRate() != 30 || m.ActiveClients() != 2 {
		t.Errorf("rate/active = %d/%d, want 30/2", m.TotalRate(), m.ActiveClients())
	}

	if !m.RemoveLastClient() {
		t.Fatal("RemoveLastClient returned false")
	}
	if b.Running() {
		t.Error("removed generator still running")
	}
	if g, ok := m.Get(0); !ok || g != a {
		t.Error("Get(0) should return the first generator")
	}
	if _, ok := m.Get(1); ok {
		t.Error("Get(1) should fail after removal")
	}

	m.StopAll()
	if m.RemoveLastClient() {
		t.Error("RemoveLastClient on empty pool returned true")
	}
}

func TestManagerSetClientRate(t *testing.T) {
	m := NewManager(Config{Address: closedAddr(t)}, 10)
	if err := m.SetClientRate(0, 5); !errors.Is(err, mserrors.ErrUnknownGenerator) {
		t.Fatalf("err = %v, want ErrUnknownGenerator", err)
	}
	g, _ := m.AddClient(10)
	if err := m.SetClientRate(0, 25); err != nil {
		t.Fatalf("SetClientRate: %v", err)
	}
	if g.Rate() != 25 {
		t.Errorf("Rate() = %d, want 25", g.Rate())
	}
	m.StopAll()
}
