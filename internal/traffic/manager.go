package traffic

import (
	"sync"

	mserrors "github.com/tturner/modsim/internal/errors"
)

// Manager owns an ordered pool of generators sharing one template config.
// Generators are addressed by their position in the pool.
type Manager struct {
	mu         sync.Mutex
	gens       []*Generator
	nextID     int
	template   Config
	maxClients int
	opts       []GeneratorOption
}

// NewManager creates an empty pool. Each added generator copies template,
// gets a fresh id and source label, and is built with opts.
func NewManager(template Config, maxClients int, opts ...GeneratorOption) *Manager {
	return &Manager{
		template:   template,
		maxClients: maxClients,
		opts:       opts,
	}
}

// AddClient creates and starts a generator at the given rate.
func (m *Manager) AddClient(rate int) (*Generator, error) {
	m.mu.Lock()
	if m.maxClients > 0 && len(m.gens) >= m.maxClients {
		m.mu.Unlock()
		return nil, mserrors.CapacityExceeded("clients", m.maxClients)
	}
	cfg := m.template
	cfg.ID = m.nextID
	cfg.Source = ""
	cfg.Rate = rate
	m.nextID++
	g := NewGenerator(cfg, m.opts...)
	m.gens = append(m.gens, g)
	m.mu.Unlock()

	g.Start()
	return g, nil
}

// RemoveLastClient stops and removes the newest generator. It returns
// false when the pool is empty.
func (m *Manager) RemoveLastClient() bool {
	m.mu.Lock()
	if len(m.gens) == 0 {
		m.mu.Unlock()
		return false
	}
	g := m.gens[len(m.gens)-1]
	m.gens = m.gens[:len(m.gens)-1]
	m.mu.Unlock()

	g.Stop()
	return true
}

// Get returns the generator at index.
func (m *Manager) Get(index int) (*Generator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.gens) {
		return nil, false
	}
	return m.gens[index], true
}

// SetClientRate changes the rate of the generator at index.
func (m *Manager) SetClientRate(index, pps int) error {
	g, ok := m.Get(index)
	if !ok {
		return mserrors.UnknownGenerator(index)
	}
	g.SetRate(pps)
	return nil
}

// StopAll stops every generator and empties the pool.
func (m *Manager) StopAll() {
	m.mu.Lock()
	gens := m.gens
	m.gens = nil
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, g := range gens {
		wg.Add(1)
		go func(g *Generator) {
			defer wg.Done()
			g.Stop()
		}(g)
	}
	wg.Wait()
}

// Clients returns the generators in pool order.
func (m *Manager) Clients() []*Generator {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Generator, len(m.gens))
	copy(out, m.gens)
	return out
}

// Stats returns per-generator snapshots in pool order.
func (m *Manager) Stats() []Stats {
	gens := m.Clients()
	out := make([]Stats, len(gens))
	for i, g := range gens {
		out[i] = g.Stats()
	}
	return out
}

// ActiveClients returns the pool size.
func (m *Manager) ActiveClients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.gens)
}

// TotalSent returns the summed lifetime sent count.
func (m *Manager) TotalSent() uint64 {
	var total uint64
	for _, g := range m.Clients() {
		total += g.sentTotal.Load()
	}
	return total
}

// TotalRate returns the summed configured rate.
func (m *Manager) TotalRate() int {
	total := 0
	for _, g := range m.Clients() {
		total += g.Rate()
	}
	return total
}
