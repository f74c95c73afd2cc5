package metrics

// Verdict metrics for inspected packets

import (
	"sort"
	"sync"
	"time"
)

// Metric represents one inspected packet
type Metric struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Function  uint8     `json:"function_code"`
	Value     int       `json:"value"`
	Tag       string    `json:"attack_tag"`
	Accepted  bool      `json:"accepted"`
	Class     string    `json:"class"`
	Reason    string    `json:"reason,omitempty"`
}

// Summary contains aggregated statistics
type Summary struct {
	Total     int                     `json:"total"`
	Accepted  int                     `json:"accepted"`
	Rejected  int                     `json:"rejected"`
	Divergent int                     `json:"divergent"`
	FirstSeen time.Time               `json:"first_seen"`
	LastSeen  time.Time               `json:"last_seen"`
	ByClass   map[string]int          `json:"by_class"`
	BySource  map[string]*SourceStats `json:"by_source"`
	ByTag     map[string]*TagStats    `json:"by_tag"`
}

// SourceStats contains statistics for one source label
type SourceStats struct {
	Count    int `json:"count"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// TagStats records how packets carrying one attack tag were classified
type TagStats struct {
	Count    int            `json:"count"`
	Accepted int            `json:"accepted"`
	ByClass  map[string]int `json:"by_class"`
}

// expectedClass maps an attack tag to the classification it aims to trigger.
var expectedClass = map[string]string{
	"MITM_MODIFY": "INJECTION",
	"MITM_REPLAY": "REPLAY",
	"REPLAY":      "REPLAY",
	"DOS":         "DOS",
}

// Sink collects and aggregates metrics
type Sink struct {
	mu      sync.RWMutex
	summary *Summary
	writer  *Writer
}

func newSummary() *Summary {
	return &Summary{
		ByClass:  make(map[string]int),
		BySource: make(map[string]*SourceStats),
		ByTag:    make(map[string]*TagStats),
	}
}

// NewSink creates a new metrics sink. w may be nil.
func NewSink(w *Writer) *Sink {
	return &Sink{summary: newSummary(), writer: w}
}

// Record records a new metric and streams it to the writer, if any.
func (s *Sink) Record(m Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summary.update(m)
	if s.writer != nil {
		return s.writer.WriteMetric(m)
	}
	return nil
}

// GetSummary returns a deep copy of the aggregated summary
func (s *Sink) GetSummary() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary.clone()
}

// Summarize aggregates a slice of metrics.
func Summarize(ms []Metric) *Summary {
	sum := newSummary()
	for _, m := range ms {
		sum.update(m)
	}
	return sum
}

func (sum *Summary) update(m Metric) {
	sum.Total++
	if sum.FirstSeen.IsZero() || m.Timestamp.Before(sum.FirstSeen) {
		sum.FirstSeen = m.Timestamp
	}
	if m.Timestamp.After(sum.LastSeen) {
		sum.LastSeen = m.Timestamp
	}

	src, ok := sum.BySource[m.Source]
	if !ok {
		src = &SourceStats{}
		sum.BySource[m.Source] = src
	}
	src.Count++

	if m.Accepted {
		sum.Accepted++
		src.Accepted++
	} else {
		sum.Rejected++
		src.Rejected++
		sum.ByClass[m.Class]++
	}

	if m.Tag == "" || m.Tag == "NONE" {
		return
	}
	tag, ok := sum.ByTag[m.Tag]
	if !ok {
		tag = &TagStats{ByClass: make(map[string]int)}
		sum.ByTag[m.Tag] = tag
	}
	tag.Count++
	if m.Accepted {
		tag.Accepted++
		return
	}
	tag.ByClass[m.Class]++
	if want, ok := expectedClass[m.Tag]; ok && want != m.Class {
		sum.Divergent++
	}
}

func (sum *Summary) clone() *Summary {
	out := &Summary{
		Total:     sum.Total,
		Accepted:  sum.Accepted,
		Rejected:  sum.Rejected,
		Divergent: sum.Divergent,
		FirstSeen: sum.FirstSeen,
		LastSeen:  sum.LastSeen,
		ByClass:   make(map[string]int, len(sum.ByClass)),
		BySource:  make(map[string]*SourceStats, len(sum.BySource)),
		ByTag:     make(map[string]*TagStats, len(sum.ByTag)),
	}
	for k, v := range sum.ByClass {
		out.ByClass[k] = v
	}
	for k, v := range sum.BySource {
		cp := *v
		out.BySource[k] = &cp
	}
	for k, v := range sum.ByTag {
		cp := &TagStats{Count: v.Count, Accepted: v.Accepted, ByClass: make(map[string]int, len(v.ByClass))}
		for c, n := range v.ByClass {
			cp.ByClass[c] = n
		}
		out.ByTag[k] = cp
	}
	return out
}

// Sources returns the source labels in sorted order.
func (sum *Summary) Sources() []string {
	out := make([]string, 0, len(sum.BySource))
	for k := range sum.BySource {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
