package orchestrator

import (
	"context"
	"testing"
	"time"
)

func TestSupervisorSweepsIdleSessions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionIdleTTLMs = 5
	r := NewSessionRegistry(cfg, newRegistryDeps())
	orch, err := r.Start(NewSessionID(), &fakeChannel{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	sup := NewSupervisor(r, nil)
	sup.SetSweepInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case <-orch.Done():
	case <-time.After(time.Second):
		t.Fatal("idle session was never swept")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() never returned after ctx cancellation")
	}
}

func TestSupervisorShutdownClosesLiveSessions(t *testing.T) {
	cfg := DefaultConfig()
	r := NewSessionRegistry(cfg, newRegistryDeps())
	orch, err := r.Start(NewSessionID(), &fakeChannel{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	sup := NewSupervisor(r, nil)
	sup.SetSweepInterval(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	cancel()

	select {
	case <-orch.Done():
	case <-time.After(time.Second):
		t.Fatal("session not shut down by supervisor on ctx cancellation")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() never returned")
	}
}
