package orchestrator

import (
	"testing"
	"time"
)

func TestTranscriptBufferLiveReplacement(t *testing.T) {
	m := NewTranscriptBufferManager()
	sid := NewSessionID()
	now := time.Now()

	m.UpdateLive(sid, "hello", 0.4, now)
	m.UpdateLive(sid, "hello there", 0.6, now)

	live := m.CurrentLive(sid)
	if live == nil {
		t.Fatal("CurrentLive() = nil, want a live segment")
	}
	if live.Text != "hello there" {
		t.Fatalf("Text = %q, want replacement to win, not accumulate", live.Text)
	}
}

func TestTranscriptBufferConfirmFinalClearsLive(t *testing.T) {
	m := NewTranscriptBufferManager()
	sid := NewSessionID()
	now := time.Now()

	m.UpdateLive(sid, "partial", 0.5, now)
	m.ConfirmFinal(sid, "final text", 0.9, now)

	if m.CurrentLive(sid) != nil {
		t.Fatal("CurrentLive() != nil after ConfirmFinal, want cleared")
	}
	turn := m.Turn(sid)
	if turn.ConfirmedConcat != "final text" {
		t.Fatalf("ConfirmedConcat = %q, want %q", turn.ConfirmedConcat, "final text")
	}
}

func TestTranscriptBufferTurnConcatenatesOrderedConfirmedSegments(t *testing.T) {
	m := NewTranscriptBufferManager()
	sid := NewSessionID()
	now := time.Now()

	m.ConfirmFinal(sid, "one", 0.9, now)
	m.ConfirmFinal(sid, "two", 0.9, now)
	m.UpdateLive(sid, "thr", 0.3, now)

	turn := m.Turn(sid)
	if turn.ConfirmedConcat != "one two" {
		t.Fatalf("ConfirmedConcat = %q, want %q", turn.ConfirmedConcat, "one two")
	}
	if turn.LiveSuffix != "thr" {
		t.Fatalf("LiveSuffix = %q, want %q", turn.LiveSuffix, "thr")
	}
	if turn.Text() != "one two thr" {
		t.Fatalf("Text() = %q, want %q", turn.Text(), "one two thr")
	}
}

func TestTranscriptBufferArchiveAndResetClearsState(t *testing.T) {
	m := NewTranscriptBufferManager()
	sid := NewSessionID()
	now := time.Now()

	m.ConfirmFinal(sid, "one", 0.9, now)
	prior := m.ArchiveAndReset(sid)
	if prior.ConfirmedConcat != "one" {
		t.Fatalf("prior.ConfirmedConcat = %q, want %q", prior.ConfirmedConcat, "one")
	}

	after := m.Turn(sid)
	if after.HasText() {
		t.Fatalf("Turn() after ArchiveAndReset = %+v, want empty", after)
	}
}

func TestTranscriptBufferRestoreReinsertsArchivedTurn(t *testing.T) {
	m := NewTranscriptBufferManager()
	sid := NewSessionID()
	now := time.Now()

	m.ConfirmFinal(sid, "order my usual", 0.9, now)
	archived := m.ArchiveAndReset(sid)

	m.Restore(sid, archived)

	turn := m.Turn(sid)
	if turn.ConfirmedConcat != "order my usual" {
		t.Fatalf("ConfirmedConcat after Restore = %q, want %q", turn.ConfirmedConcat, "order my usual")
	}
}

func TestTranscriptBufferRestoreNoOpOnEmptyTurn(t *testing.T) {
	m := NewTranscriptBufferManager()
	sid := NewSessionID()

	m.Restore(sid, Turn{})

	turn := m.Turn(sid)
	if turn.HasText() {
		t.Fatalf("Turn() after Restore(empty) = %+v, want still empty", turn)
	}
}

func TestTranscriptBufferDropRemovesSession(t *testing.T) {
	m := NewTranscriptBufferManager()
	sid := NewSessionID()
	m.UpdateLive(sid, "x", 0.1, time.Now())

	m.Drop(sid)

	// bufferFor recreates a fresh entry for an unseen session, so the
	// live segment from before the drop must not resurface.
	if m.CurrentLive(sid) != nil {
		t.Fatal("CurrentLive() != nil after Drop, want fresh empty buffer")
	}
}
