package proxy

import (
	"sort"
	"sync"

	"github.com/tturner/modsim/internal/attack"
	"github.com/tturner/modsim/internal/inspect"
)

// State is the pipeline state shared between the command path and the
// packet path: the block list and the attack modes.
type State struct {
	blocks *inspect.BlockList

	mu        sync.RWMutex
	global    attack.Mode
	perSource map[string]attack.Mode
}

// NewState creates a state around blocks. A nil block list is replaced by an
// empty one.
func NewState(blocks *inspect.BlockList) *State {
	if blocks == nil {
		blocks = inspect.NewBlockList()
	}
	return &State{
		blocks:    blocks,
		perSource: make(map[string]attack.Mode),
	}
}

// Blocks returns the block list consulted by the inspection engine.
func (s *State) Blocks() *inspect.BlockList { return s.blocks }

// Block adds src to the block list. It reports whether src was newly added.
func (s *State) Block(src string) bool { return s.blocks.Block(src) }

// Unblock removes src from the block list.
func (s *State) Unblock(src string) bool { return s.blocks.Unblock(src) }

// SetMode sets the global attack mode and returns the previous one.
func (s *State) SetMode(m attack.Mode) attack.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.global
	s.global = m
	return prev
}

// Mode returns the global attack mode.
func (s *State) Mode() attack.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global
}

// SetSourceMode overrides the mode for one source. ModeNone clears the
// override.
func (s *State) SetSourceMode(src string, m attack.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m == attack.ModeNone {
		delete(s.perSource, src)
		return
	}
	s.perSource[src] = m
}

// ModeFor returns the effective mode for src.
func (s *State) ModeFor(src string) attack.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.perSource[src]; ok {
		return m
	}
	return s.global
}

// SourceModes returns the per-source overrides keyed by source.
func (s *State) SourceModes() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.perSource))
	for src, m := range s.perSource {
		out[src] = m.String()
	}
	return out
}

// OverriddenSources returns the sources with a per-source mode, sorted.
func (s *State) OverriddenSources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.perSource))
	for src := range s.perSource {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}
