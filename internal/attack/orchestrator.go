package attack

// Attack session orchestration.
//
// Each session runs one control loop that rewrites its target's rate once per
// policy period. Stopping a session restores the target's rate and releases
// its hold on the target's restore point immediately; the loop then removes
// the session from the active set.

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	mserrors "github.com/tturner/modsim/internal/errors"
	"github.com/tturner/modsim/internal/logging"
)

// Target is a generator whose rate a session drives.
type Target interface {
	Rate() int
	SetRate(pps int)
}

// TargetLookup resolves a target index to a live generator.
type TargetLookup func(index int) (Target, bool)

// Events receives session start/stop notifications.
type Events interface {
	OnAttackStarted(kind string) error
	OnAttackStopped(kind string) error
}

// SessionInfo is a snapshot of one active session.
type SessionInfo struct {
	ID        uint64    `json:"id"`
	Target    int       `json:"target"`
	Kind      string    `json:"kind"`
	StartedAt time.Time `json:"started_at"`
	Running   bool      `json:"running"`
}

type session struct {
	id        uint64
	target    int
	kind      Kind
	startedAt time.Time
	tgt       Target

	// restoreRate is the target's rate before the first overlapping session
	// started. released is guarded by Orchestrator.mu.
	restoreRate int
	released    bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

type restorePoint struct {
	rate int
	refs int
}

// Orchestrator manages concurrently running attack sessions.
type Orchestrator struct {
	mu          sync.Mutex
	sessions    map[uint64]*session
	restore     map[int]*restorePoint
	nextID      uint64
	maxSessions int

	lookup   TargetLookup
	policies map[Kind]Policy
	events   Events
	logger   *logging.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	wg sync.WaitGroup
}

// OrchestratorOption customises an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPolicies replaces the session policies.
func WithPolicies(p map[Kind]Policy) OrchestratorOption {
	return func(o *Orchestrator) { o.policies = p }
}

// WithEvents sets the start/stop notification sink.
func WithEvents(e Events) OrchestratorOption {
	return func(o *Orchestrator) { o.events = e }
}

// WithRand sets the random source used by RANDOM_PACKETS.
func WithRand(rng *rand.Rand) OrchestratorOption {
	return func(o *Orchestrator) { o.rng = rng }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an orchestrator that resolves targets with lookup
// and runs at most maxSessions sessions at once.
func NewOrchestrator(lookup TargetLookup, maxSessions int, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		sessions:    make(map[uint64]*session),
		restore:     make(map[int]*restorePoint),
		nextID:      1,
		maxSessions: maxSessions,
		lookup:      lookup,
		policies:    DefaultPolicies(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	return o
}

// Start launches a session of kind against target and returns its id.
func (o *Orchestrator) Start(target int, kind Kind) (uint64, error) {
	tgt, ok := o.lookup(target)
	if !ok {
		return 0, mserrors.InvalidTarget(target)
	}
	policy, ok := o.policies[kind]
	if !ok {
		return 0, fmt.Errorf("no policy for attack kind %s", kind)
	}

	o.mu.Lock()
	if o.maxSessions > 0 && len(o.sessions) >= o.maxSessions {
		o.mu.Unlock()
		return 0, mserrors.CapacityExceeded("sessions", o.maxSessions)
	}
	rp, ok := o.restore[target]
	if ok {
		rp.refs++
	} else {
		rp = &restorePoint{rate: tgt.Rate(), refs: 1}
		o.restore[target] = rp
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:          o.nextID,
		target:      target,
		kind:        kind,
		startedAt:   time.Now(),
		tgt:         tgt,
		restoreRate: rp.rate,
		running:     true,
		cancel:      cancel,
	}
	o.nextID++
	o.sessions[s.id] = s
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.Info("Attack session %d started: %s on target %d", s.id, kind, target)
	o.notify(true, kind)

	go o.run(ctx, s, policy)
	return s.id, nil
}

// Stop halts a session and restores its target's rate. It returns false if
// id is not active.
func (o *Orchestrator) Stop(id uint64) bool {
	o.mu.Lock()
	s, ok := o.sessions[id]
	o.mu.Unlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()
	s.cancel()

	if wasRunning && o.release(s) {
		o.logger.Info("Attack session %d stop requested", id)
	}
	return true
}

// StopAll halts every active session.
func (o *Orchestrator) StopAll() {
	for _, info := range o.List() {
		o.Stop(info.ID)
	}
}

// Wait blocks until every session loop has exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// List returns a snapshot of active sessions ordered by id.
func (o *Orchestrator) List() []SessionInfo {
	o.mu.Lock()
	out := make([]SessionInfo, 0, len(o.sessions))
	for _, s := range o.sessions {
		s.mu.Lock()
		out = append(out, SessionInfo{
			ID:        s.id,
			Target:    s.target,
			Kind:      s.kind.String(),
			StartedAt: s.startedAt,
			Running:   s.running,
		})
		s.mu.Unlock()
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Active returns the number of sessions in the active set.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// run is the session control loop. The rate is rewritten under the session
// lock so no mutation lands after Stop has flipped the flag.
func (o *Orchestrator) run(ctx context.Context, s *session, policy Policy) {
	defer o.wg.Done()

	ticker := time.NewTicker(policy.Period)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			break
		}
		o.rngMu.Lock()
		next := policy.Next(s.tgt.Rate(), o.rng)
		o.rngMu.Unlock()
		s.tgt.SetRate(next)
		s.mu.Unlock()

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	o.release(s)
	o.remove(s)
	o.logger.Info("Attack session %d finished: %s on target %d", s.id, s.kind, s.target)
	o.notify(false, s.kind)
}

// release restores s's target rate and drops its reference on the restore
// point. Both happen under o.mu so a session starting on the same target sees
// the restored rate. It reports whether this call did the release.
func (o *Orchestrator) release(s *session) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s.released {
		return false
	}
	s.released = true
	s.tgt.SetRate(s.restoreRate)
	if rp, ok := o.restore[s.target]; ok {
		rp.refs--
		if rp.refs <= 0 {
			delete(o.restore, s.target)
		}
	}
	return true
}

func (o *Orchestrator) remove(s *session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, s.id)
}

func (o *Orchestrator) notify(started bool, kind Kind) {
	if o.events == nil {
		return
	}
	var err error
	if started {
		err = o.events.OnAttackStarted(kind.String())
	} else {
		err = o.events.OnAttackStopped(kind.String())
	}
	if err != nil {
		o.logger.Error("attack notification failed: %v", err)
	}
}
