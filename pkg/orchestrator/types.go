package orchestrator

import (
	"time"

	"github.com/google/uuid"
)

// SessionID is a 16-byte random identifier rendered in canonical 36-char
// dashed hex form, satisfying §6's ^[a-fA-F0-9-]{36}$ wire format exactly.
type SessionID = uuid.UUID

// NewSessionID mints a random session identifier.
func NewSessionID() SessionID {
	return uuid.New()
}

// ParseSessionID validates and parses a canonical session ID string.
func ParseSessionID(s string) (SessionID, error) {
	if len(s) != 36 {
		return SessionID{}, NewRecoverableError(ErrValidation, "invalid session id", nil)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return SessionID{}, NewRecoverableError(ErrValidation, "invalid session id", err)
	}
	return id, nil
}

// State is the per-session state machine position (§4.2).
type State string

const (
	StateIdle           State = "Idle"
	StateListening       State = "Listening"
	StateUserSpeaking    State = "UserSpeaking"
	StateAwaitingCommit  State = "AwaitingCommit"
	StateAIResponding    State = "AIResponding"
	StateClosed          State = "Closed"
)

// AudioFrame is an immutable PCM chunk produced by the ClientChannel and
// consumed once by VADEngine and once by Transcriber (§3).
type AudioFrame struct {
	SessionID SessionID
	PCM       []byte
	Seq       uint64
	Received  time.Time
}

// VADEventKind tags a VADEvent (§3).
type VADEventKind int

const (
	VADSpeechStarted VADEventKind = iota
	VADSpeechContinuing
	VADSpeechEnded
	VADSilence
)

// VADEvent is the tagged variant VADEngine emits per processed frame.
type VADEvent struct {
	Kind       VADEventKind
	Energy     float64 // set for SpeechContinuing
	SilenceMs  int64   // set for SpeechEnded and Silence, cumulative
	Timestamp  time.Time
}

// SegmentKind distinguishes a mutable-by-replacement Live segment from an
// immutable Confirmed one (§3).
type SegmentKind int

const (
	SegmentLive SegmentKind = iota
	SegmentConfirmed
)

// TranscriptSegment is a piece of transcript text with its provenance.
type TranscriptSegment struct {
	Text      string
	Confidence float64
	Start     time.Time
	End       time.Time
	Kind      SegmentKind
	Language  string
}

// PauseType classifies accumulated silence (§4.4).
type PauseType string

const (
	PauseNaturalGap   PauseType = "natural_gap"
	PauseEndOfThought PauseType = "end_of_thought"
	PauseLongPause    PauseType = "long_pause"
)

// PauseClassification is the pure-function result of ClassifyPause.
type PauseClassification struct {
	Type         PauseType
	DurationMs   int64
	ShouldCommit bool
}

// Turn is the concatenation of confirmed segments plus the current live
// segment since the last commit (§3).
type Turn struct {
	ConfirmedConcat string
	LiveSuffix      string
}

// Text returns the turn's full user-facing text.
func (t Turn) Text() string {
	if t.LiveSuffix == "" {
		return t.ConfirmedConcat
	}
	if t.ConfirmedConcat == "" {
		return t.LiveSuffix
	}
	return t.ConfirmedConcat + " " + t.LiveSuffix
}

// HasText reports whether the turn carries any user text at all, confirmed
// or still-live.
func (t Turn) HasText() bool {
	return t.ConfirmedConcat != "" || t.LiveSuffix != ""
}

// HasConfirmedText reports whether the turn's confirmed log is non-empty,
// ignoring any still-unconfirmed live segment.
func (t Turn) HasConfirmedText() bool {
	return t.ConfirmedConcat != ""
}

// OrchestrationEventType tags outbound events (§3, §6).
type OrchestrationEventType string

const (
	EventSessionStarted    OrchestrationEventType = "session.ready"
	EventSessionEnded      OrchestrationEventType = "session.ended"
	EventTranscriptPartial OrchestrationEventType = "transcript.partial"
	EventTranscriptFinal   OrchestrationEventType = "transcript.final"
	EventAIThinking        OrchestrationEventType = "assistant.thinking"
	EventAIResponseDelta   OrchestrationEventType = "assistant.delta"
	EventAIResponseDone    OrchestrationEventType = "assistant.done"
	EventAIInterrupted     OrchestrationEventType = "assistant.interrupted"
	EventError             OrchestrationEventType = "error"
)

// OrchestrationEvent is the outbound tagged variant emitted by the
// orchestrator, strictly ordered per session (§3, §5).
type OrchestrationEvent struct {
	Type      OrchestrationEventType
	SessionID SessionID
	Payload   interface{}
	Timestamp time.Time
}

// Payload shapes matching §6's JSON schemas exactly.
type EmptyPayload struct{}

type TranscriptPayload struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"isFinal"`
}

type AssistantDeltaPayload struct {
	Text string `json:"text"`
}

type AssistantDonePayload struct {
	Text string `json:"text"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Config holds the tunables enumerated in §6, with teacher-style
// DefaultConfig() defaults.
type Config struct {
	VADEnterThreshold float64
	VADExitThreshold  float64
	VADMinSpeechMs    int64

	PauseNaturalGapMs   int64
	PauseEndOfThoughtMs int64

	BargeInCancelBudgetMs int64

	SessionIdleTTLMs int64

	EventBusCapacity    int
	AudioIngestCapacity int

	TranscriberMaxRetries      int
	TranscriberBackoffInitialMs int64

	MaxConcurrentSessions int
	MaxAudioFrameBytes    int
	MaxInboundMessageBytes int
}

func DefaultConfig() Config {
	return Config{
		VADEnterThreshold:           0.01,
		VADExitThreshold:            0.005,
		VADMinSpeechMs:              100,
		PauseNaturalGapMs:           1000,
		PauseEndOfThoughtMs:         3000,
		BargeInCancelBudgetMs:       200,
		SessionIdleTTLMs:            1_800_000,
		EventBusCapacity:            256,
		AudioIngestCapacity:         64,
		TranscriberMaxRetries:       2,
		TranscriberBackoffInitialMs: 250,
		MaxConcurrentSessions:       256,
		MaxAudioFrameBytes:          64 * 1024,
		MaxInboundMessageBytes:      1024 * 1024,
	}
}

// Session is the data owned exclusively by one Orchestrator (§3). External
// readers must go through snapshot accessors (Orchestrator.Snapshot), never
// this struct directly.
type Session struct {
	ID           SessionID
	CreatedAt    time.Time
	LastActivity time.Time
	State        State
	Language     string
}
