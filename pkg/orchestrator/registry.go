package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// RegistryDeps are the dependencies shared by every Orchestrator the
// registry starts.
type RegistryDeps struct {
	Transcriber Transcriber
	Generator   ResponseGenerator
	Buffers     *TranscriptBufferManager
	Logger      Logger
	Meter       Meter
}

type sessionMap = map[SessionID]*Orchestrator

// SessionRegistry is the process-wide SessionID -> Orchestrator mapping
// (§3, §4.1), grounded on kylesean's Manager{sessions map[string]*Session}
// with the concurrent-session cap expressed as a weighted semaphore
// instead of a bare counter, per DESIGN.md's domain-stack wiring of
// golang.org/x/sync.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions sessionMap

	// snapshot holds an immutable copy of sessions, replaced under mu
	// on every insert/delete, so Get can read it without taking mu at
	// all (§4.1's "Get is lock-free on the fast path").
	snapshot atomic.Pointer[sessionMap]

	cap    *semaphore.Weighted
	cfg    Config
	deps   RegistryDeps
	logger Logger
}

func NewSessionRegistry(cfg Config, deps RegistryDeps) *SessionRegistry {
	if deps.Logger == nil {
		deps.Logger = &NoOpLogger{}
	}
	r := &SessionRegistry{
		sessions: make(sessionMap),
		cap:      semaphore.NewWeighted(int64(cfg.MaxConcurrentSessions)),
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
	}
	empty := make(sessionMap)
	r.snapshot.Store(&empty)
	return r
}

// publishSnapshotLocked copies the authoritative map and atomically
// publishes it for Get's lock-free reads. Callers must hold r.mu.
func (r *SessionRegistry) publishSnapshotLocked() {
	snap := make(sessionMap, len(r.sessions))
	for k, v := range r.sessions {
		snap[k] = v
	}
	r.snapshot.Store(&snap)
}

// Start creates and runs a new Orchestrator for sessionID bound to
// channel. Fails with ErrAlreadyExists if sessionID is already live, or
// ErrCapacityExceeded if the registry is full (§4.1).
func (r *SessionRegistry) Start(sessionID SessionID, channel ClientChannel) (*Orchestrator, error) {
	r.mu.Lock()
	if _, exists := r.sessions[sessionID]; exists {
		r.mu.Unlock()
		return nil, ErrAlreadyExists
	}
	r.mu.Unlock()

	if !r.cap.TryAcquire(1) {
		return nil, ErrCapacityExceeded
	}

	orch := New(sessionID, r.cfg, Deps{
		Transcriber: r.deps.Transcriber,
		Generator:   r.deps.Generator,
		Channel:     channel,
		Buffers:     r.deps.Buffers,
		Logger:      r.deps.Logger,
		Meter:       r.deps.Meter,
	})

	r.mu.Lock()
	if _, exists := r.sessions[sessionID]; exists {
		r.mu.Unlock()
		r.cap.Release(1)
		return nil, ErrAlreadyExists
	}
	r.sessions[sessionID] = orch
	r.publishSnapshotLocked()
	r.mu.Unlock()

	go func() {
		orch.Run()
		r.mu.Lock()
		delete(r.sessions, sessionID)
		r.publishSnapshotLocked()
		r.mu.Unlock()
		r.cap.Release(1)
	}()

	return orch, nil
}

// StartFromChannel reads the first inbound message off channel, which must
// be a session.start control message carrying the client-chosen session ID
// (§6), and starts an Orchestrator under that ID instead of one minted by
// the transport. It fails with a VALIDATION error if the first message
// isn't a well-formed session.start, or with ErrAlreadyExists/
// ErrCapacityExceeded from Start under the usual conditions. The consumed
// session.start message is forwarded into the new Orchestrator so its own
// run loop still observes the Idle -> Listening transition.
func (r *SessionRegistry) StartFromChannel(ctx context.Context, channel ClientChannel) (*Orchestrator, error) {
	payload, isControl, err := channel.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	if !isControl {
		return nil, NewRecoverableError(ErrValidation, "expected session.start before audio", nil)
	}
	ctrl, err := parseControlMessage(payload)
	if err != nil || ctrl.Type != controlSessionStart {
		return nil, NewRecoverableError(ErrValidation, "first message must be session.start", err)
	}
	sessionID, err := ParseSessionID(ctrl.SessionID)
	if err != nil {
		return nil, err
	}

	orch, err := r.Start(sessionID, channel)
	if err != nil {
		return nil, err
	}
	orch.handleInboundControl(payload)
	return orch, nil
}

// Get looks up a live session. It never takes r.mu: it reads the
// copy-on-write snapshot published by Start/End instead, so lookups never
// contend with a concurrent Start or End (§4.1).
func (r *SessionRegistry) Get(sessionID SessionID) (*Orchestrator, bool) {
	snap := r.snapshot.Load()
	orch, ok := (*snap)[sessionID]
	return orch, ok
}

// End destroys a session, awaiting its Orchestrator's shutdown so no
// in-flight tokens are left dangling (§4.1).
func (r *SessionRegistry) End(ctx context.Context, sessionID SessionID) error {
	r.mu.Lock()
	orch, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	orch.Shutdown()
	select {
	case <-orch.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep shuts down every session whose last activity predates
// now-idleTTL (§4.1), grounded on kylesean's cleanupInactiveSessions. It
// does not wait for the shutdowns to finish; Run's cleanup goroutine
// removes each session from the map as its Orchestrator exits.
func (r *SessionRegistry) Sweep(now time.Time) (expired int) {
	idleTTL := time.Duration(r.cfg.SessionIdleTTLMs) * time.Millisecond
	for _, orch := range r.Sessions() {
		_, lastActivity := orch.Snapshot()
		if now.Sub(lastActivity) >= idleTTL {
			orch.Shutdown()
			expired++
		}
	}
	return expired
}

// Len returns the number of currently tracked sessions, for diagnostics.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns a snapshot slice of live orchestrators, for the
// Supervisor's sweep and shutdown passes.
func (r *SessionRegistry) Sessions() []*Orchestrator {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Orchestrator, 0, len(r.sessions))
	for _, o := range r.sessions {
		out = append(out, o)
	}
	return out
}
