package inspect

import (
	"sort"
	"sync"
)

// BlockList is a concurrent set of source labels. Commands mutate it while
// the pipeline reads it on every packet.
type BlockList struct {
	mu      sync.RWMutex
	sources map[string]struct{}
}

// NewBlockList returns an empty block list.
func NewBlockList() *BlockList {
	return &BlockList{sources: make(map[string]struct{})}
}

// Block adds src. It returns false if src was already blocked.
func (b *BlockList) Block(src string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sources[src]; ok {
		return false
	}
	b.sources[src] = struct{}{}
	return true
}

// Unblock removes src. It returns false if src was not blocked.
func (b *BlockList) Unblock(src string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sources[src]; !ok {
		return false
	}
	delete(b.sources, src)
	return true
}

// Contains reports whether src is blocked.
func (b *BlockList) Contains(src string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.sources[src]
	return ok
}

// List returns the blocked sources in sorted order.
func (b *BlockList) List() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.sources))
	for src := range b.sources {
		out = append(out, src)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}
