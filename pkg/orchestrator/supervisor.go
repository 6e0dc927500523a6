package orchestrator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Supervisor runs the registry sweeper, enforces per-session inactivity
// timeout, and arranges graceful shutdown (§4.10). Grounded on kylesean's
// startCleanupRoutine/cleanupInactiveSessions idle sweep combined with
// BaSui01-agentflow's internal/server/manager.go Manager pattern for
// coordinating a long-running background task with a shutdown signal via
// golang.org/x/sync/errgroup instead of a bare WaitGroup.
type Supervisor struct {
	registry       *SessionRegistry
	logger         Logger
	sweepInterval  time.Duration
}

func NewSupervisor(registry *SessionRegistry, logger Logger) *Supervisor {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Supervisor{
		registry:      registry,
		logger:        logger,
		sweepInterval: 30 * time.Second,
	}
}

// SetSweepInterval overrides the default 30s idle-sweep cadence, mainly
// for tests.
func (s *Supervisor) SetSweepInterval(d time.Duration) {
	s.sweepInterval = d
}

// Run blocks running the idle sweeper until ctx is cancelled, then
// gracefully shuts down every live session before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				if n := s.registry.Sweep(now); n > 0 {
					s.logger.Info("idle sessions expired", "count", n)
				}
			}
		}
	})

	<-gctx.Done()
	s.shutdown()
	return g.Wait()
}

// shutdown cancels every live session and waits (bounded) for each to
// finish draining its EventBus and emitting session.ended.
func (s *Supervisor) shutdown() {
	sessions := s.registry.Sessions()
	s.logger.Info("supervisor shutting down", "sessions", len(sessions))

	for _, orch := range sessions {
		orch.Shutdown()
	}

	deadline := time.After(10 * time.Second)
	for _, orch := range sessions {
		select {
		case <-orch.Done():
		case <-deadline:
			s.logger.Warn("session shutdown timed out", "sessionID", orch.ID().String())
		}
	}
}
