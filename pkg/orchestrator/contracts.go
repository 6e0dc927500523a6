package orchestrator

import "context"

// TranscriptKind tags a chunk delivered by a Transcriber.
type TranscriptKind int

const (
	TranscriptPartialKind TranscriptKind = iota
	TranscriptFinalKind
)

// TranscriptChunk is what a Transcriber callback delivers (§4.6).
type TranscriptChunk struct {
	Kind       TranscriptKind
	Text       string
	Confidence float64
	Language   string
}

// Transcriber is the consumed STT capability (§4.6, Out of scope §1). The
// contract guarantees that for any finalized utterance a Final eventually
// arrives after zero or more Partials; the core tolerates reordering of
// Partials but not of Finals.
type Transcriber interface {
	// FeedAudio submits one frame's worth of PCM for this session.
	FeedAudio(ctx context.Context, sessionID SessionID, frame []byte) error
	// Subscribe registers the callback invoked for every transcript chunk
	// produced for sessionID until the returned cancel func is called.
	Subscribe(sessionID SessionID, onChunk func(TranscriptChunk)) (cancel func())
}

// GeneratorToken is one element of a ResponseGenerator's token stream
// (§4.7). Exactly one of Delta/Done/Err is meaningful per token, matching
// the spec's "{delta} until a terminal {done, fullText} or {error}" shape.
type GeneratorToken struct {
	Delta    string
	Done     bool
	FullText string
	Err      error
}

// ResponseGenerator is the consumed LLM capability (§4.7, Out of scope §1).
// Start must check ctx on every token emission and stop promptly once ctx
// is done; tokens produced after cancellation are discarded by the core.
type ResponseGenerator interface {
	Start(ctx context.Context, prompt string, context_ []string) (<-chan GeneratorToken, error)
}

// ClientChannel is the consumed bidirectional transport contract (§4.9). It
// delivers inbound control JSON and binary audio frames, and accepts
// outbound JSON event objects; it is responsible for framing and for
// surfacing disconnects.
type ClientChannel interface {
	// ReadMessage blocks for the next inbound message: either a control
	// message (isControl=true, payload is the raw JSON) or an audio frame
	// (isControl=false, payload is raw PCM).
	ReadMessage(ctx context.Context) (payload []byte, isControl bool, err error)
	// WriteEvent sends one outbound event, framed as JSON by the channel.
	WriteEvent(ctx context.Context, event OrchestrationEvent) error
	Close() error
}
