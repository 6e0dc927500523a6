package orchestrator

import (
	"sync"
	"time"
)

// sessionBuffer holds one session's dual-buffer transcript state (§3): zero
// or one Live segment, plus an ordered confirmed log.
type sessionBuffer struct {
	mu        sync.Mutex
	live      *TranscriptSegment
	confirmed []TranscriptSegment
}

// TranscriptBufferManager is the dual-buffer transcript manager (§4.5),
// sharded per session the way kylesean's session Manager shards its
// per-connection state.
type TranscriptBufferManager struct {
	mu       sync.RWMutex
	sessions map[SessionID]*sessionBuffer
}

func NewTranscriptBufferManager() *TranscriptBufferManager {
	return &TranscriptBufferManager{
		sessions: make(map[SessionID]*sessionBuffer),
	}
}

func (m *TranscriptBufferManager) bufferFor(sessionID SessionID) *sessionBuffer {
	m.mu.RLock()
	b, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.sessions[sessionID]; ok {
		return b
	}
	b = &sessionBuffer{}
	m.sessions[sessionID] = b
	return b
}

// Drop releases a session's buffer state, called on session destruction.
func (m *TranscriptBufferManager) Drop(sessionID SessionID) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// UpdateLive replaces the single live segment, creating one if absent.
func (m *TranscriptBufferManager) UpdateLive(sessionID SessionID, text string, conf float64, t time.Time) {
	b := m.bufferFor(sessionID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live = &TranscriptSegment{Text: text, Confidence: conf, Start: t, End: t, Kind: SegmentLive}
}

// ConfirmFinal appends a Confirmed segment and clears the live segment,
// returning the new confirmed segment.
func (m *TranscriptBufferManager) ConfirmFinal(sessionID SessionID, text string, conf float64, t time.Time) TranscriptSegment {
	b := m.bufferFor(sessionID)
	b.mu.Lock()
	defer b.mu.Unlock()
	seg := TranscriptSegment{Text: text, Confidence: conf, Start: t, End: t, Kind: SegmentConfirmed}
	b.confirmed = append(b.confirmed, seg)
	b.live = nil
	return seg
}

// CurrentLive returns the current live segment, or nil if absent.
func (m *TranscriptBufferManager) CurrentLive(sessionID SessionID) *TranscriptSegment {
	b := m.bufferFor(sessionID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.live == nil {
		return nil
	}
	cp := *b.live
	return &cp
}

// Turn returns the prompt-building view: the concatenation of confirmed
// segments since the last archival, plus the current live suffix.
func (m *TranscriptBufferManager) Turn(sessionID SessionID) Turn {
	b := m.bufferFor(sessionID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.turnLocked()
}

func (b *sessionBuffer) turnLocked() Turn {
	concat := ""
	for i, seg := range b.confirmed {
		if i > 0 {
			concat += " "
		}
		concat += seg.Text
	}
	live := ""
	if b.live != nil {
		live = b.live.Text
	}
	return Turn{ConfirmedConcat: concat, LiveSuffix: live}
}

// ArchiveAndReset clears the confirmed log and live segment, returning the
// prior turn so it can become the committed user message.
func (m *TranscriptBufferManager) ArchiveAndReset(sessionID SessionID) Turn {
	b := m.bufferFor(sessionID)
	b.mu.Lock()
	defer b.mu.Unlock()
	prior := b.turnLocked()
	b.confirmed = nil
	b.live = nil
	return prior
}

// Restore re-inserts a previously archived turn as the confirmed log,
// used when a debounced commit is cancelled by resumed speech after
// ArchiveAndReset already fired (Open Question: debounced-commit
// cancellation, see DESIGN.md).
func (m *TranscriptBufferManager) Restore(sessionID SessionID, turn Turn) {
	if !turn.HasText() {
		return
	}
	b := m.bufferFor(sessionID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if turn.ConfirmedConcat != "" {
		b.confirmed = append([]TranscriptSegment{{
			Text: turn.ConfirmedConcat,
			Kind: SegmentConfirmed,
		}}, b.confirmed...)
	}
	if turn.LiveSuffix != "" && b.live == nil {
		b.live = &TranscriptSegment{Text: turn.LiveSuffix, Kind: SegmentLive}
	}
}
