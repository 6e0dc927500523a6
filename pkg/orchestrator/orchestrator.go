package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Deps are the Orchestrator's explicit constructor dependencies (Design
// Notes: avoid globals, SessionRegistry/Supervisor/Orchestrator all take
// explicit deps).
type Deps struct {
	Transcriber Transcriber
	Generator   ResponseGenerator
	Channel     ClientChannel
	Buffers     *TranscriptBufferManager
	Logger      Logger
	Meter       Meter
}

type msgKind int

const (
	msgControlStart msgKind = iota
	msgControlEnd
	msgAudio
	msgTranscript
	msgGenToken
	msgSTTFailed
	msgTransportClosed
	msgVADFatal
)

type inboxMsg struct {
	kind       msgKind
	audio      []byte
	language   string
	transcript TranscriptChunk
	genToken   GeneratorToken
	generation uint64
	err        error
}

// Orchestrator is the per-session single-writer state machine (§4.2). All
// session-state mutation happens inside its run loop; everything else
// (ClientChannel reads, Transcriber callbacks, ResponseGenerator tokens)
// delivers messages through the bounded inbox instead of touching state
// directly, per Design Notes' "per-session owned actor" guidance. This
// supersedes the teacher's mutex-guarded ManagedStream with an explicit
// message-passing actor, keeping its barge-in generation-counter idea.
type Orchestrator struct {
	id     SessionID
	cfg    Config
	logger Logger
	meter  Meter

	vad         *VADEngine
	transcriber Transcriber
	generator   ResponseGenerator
	buffers     *TranscriptBufferManager
	bus         *EventBus
	channel     ClientChannel

	inbox chan inboxMsg
	ctx   context.Context
	cancel context.CancelFunc
	done  chan struct{}

	sttWarnSometimes rate.Sometimes

	// run-loop-owned state; never touched outside run().
	state          State
	language       string
	silenceMs      int64
	generation     uint64
	genCancel      context.CancelFunc
	genActive      bool
	firstTokenSeen bool
	commitStarted  time.Time
	pendingTurn    Turn

	snapMu       sync.Mutex
	snapState    State
	snapActivity time.Time
}

func New(id SessionID, cfg Config, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = &NoOpLogger{}
	}
	if deps.Meter == nil {
		deps.Meter = NoOpMeter{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		id:          id,
		cfg:         cfg,
		logger:      deps.Logger,
		meter:       deps.Meter,
		vad:         NewVADEngine(cfg),
		transcriber: deps.Transcriber,
		generator:   deps.Generator,
		buffers:     deps.Buffers,
		bus:         NewEventBus(cfg.EventBusCapacity, deps.Meter),
		channel:     deps.Channel,
		inbox:       make(chan inboxMsg, cfg.AudioIngestCapacity),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		state:       StateIdle,
	}
	o.snapState = StateIdle
	o.snapActivity = time.Now()
	return o
}

// ID returns the session identifier this orchestrator owns.
func (o *Orchestrator) ID() SessionID { return o.id }

// Events exposes the event bus for the ClientChannel writer.
func (o *Orchestrator) Events() <-chan OrchestrationEvent { return o.bus.Events() }

// Snapshot is the concurrency-safe accessor external readers (Supervisor,
// SessionRegistry) must use instead of touching session state directly.
func (o *Orchestrator) Snapshot() (state State, lastActivity time.Time) {
	o.snapMu.Lock()
	defer o.snapMu.Unlock()
	return o.snapState, o.snapActivity
}

func (o *Orchestrator) publishSnapshot() {
	o.snapMu.Lock()
	o.snapState = o.state
	o.snapActivity = time.Now()
	o.snapMu.Unlock()
}

// Run starts the actor's background goroutines: the transcript
// subscription, the channel reader pump, and the run loop itself. It
// returns once the run loop exits; the reader pump exits on its own once
// the orchestrator's context is cancelled.
func (o *Orchestrator) Run() {
	unsubscribe := o.transcriber.Subscribe(o.id, func(chunk TranscriptChunk) {
		select {
		case o.inbox <- inboxMsg{kind: msgTranscript, transcript: chunk}:
		case <-o.ctx.Done():
		}
	})
	defer unsubscribe()

	go o.readLoop()
	o.runLoop()
}

// readLoop pumps the ClientChannel into the inbox; it exits once the
// channel errors or the orchestrator's context is cancelled.
func (o *Orchestrator) readLoop() {
	for {
		payload, isControl, err := o.channel.ReadMessage(o.ctx)
		if err != nil {
			select {
			case o.inbox <- inboxMsg{kind: msgTransportClosed, err: err}:
			case <-o.ctx.Done():
			}
			return
		}
		if isControl {
			o.handleInboundControl(payload)
			continue
		}
		o.PushAudio(payload)
	}
}

// PushAudio submits one inbound audio frame. It's safe to call
// concurrently with the run loop since it only ever writes to the bounded
// inbox; size validation and the 500ms ingest-overrun rule (§5) are
// enforced here, ahead of the run loop, so an overrun can be reported
// even while the loop itself is busy.
func (o *Orchestrator) PushAudio(frame []byte) {
	if len(frame) > o.cfg.MaxAudioFrameBytes {
		o.bus.Publish(o.errorEvent(ErrValidation, "audio frame exceeds maximum size"))
		return
	}
	select {
	case o.inbox <- inboxMsg{kind: msgAudio, audio: frame}:
	case <-time.After(500 * time.Millisecond):
		o.bus.Publish(o.errorEvent(ErrIngestOverrun, "inbound audio queue saturated"))
		o.cancel()
	case <-o.ctx.Done():
	}
}

func (o *Orchestrator) runLoop() {
	defer close(o.done)
	for {
		select {
		case <-o.ctx.Done():
			o.closeSession()
			return
		case msg := <-o.inbox:
			o.dispatch(msg)
			o.publishSnapshot()
			if o.state == StateClosed {
				return
			}
		}
	}
}

func (o *Orchestrator) dispatch(msg inboxMsg) {
	switch msg.kind {
	case msgControlStart:
		o.handleStart(msg.language)
	case msgControlEnd:
		o.closeSession()
	case msgAudio:
		o.handleAudio(msg.audio)
	case msgTranscript:
		o.handleTranscript(msg.transcript)
	case msgGenToken:
		o.handleGenToken(msg.generation, msg.genToken)
	case msgSTTFailed:
		o.handleSTTFailed(msg.err)
	case msgTransportClosed:
		o.fatal(ErrTransportLost, "transport closed", msg.err)
	case msgVADFatal:
		o.fatal(ErrVADFailed, "vad engine failed", msg.err)
	}
}

func (o *Orchestrator) handleStart(language string) {
	if o.state != StateIdle {
		return
	}
	o.language = language
	o.state = StateListening
	o.meter.SessionOpened()
	o.bus.Publish(OrchestrationEvent{Type: EventSessionStarted, SessionID: o.id, Payload: EmptyPayload{}, Timestamp: time.Now()})
}

func (o *Orchestrator) handleAudio(frame []byte) {
	if o.state == StateIdle {
		o.bus.Publish(o.errorEvent(ErrSessionUninit, "audio arrived before session.start"))
		return
	}
	if o.state == StateClosed {
		return
	}

	event := o.vad.Process(frame)
	o.feedTranscriber(frame)

	switch o.state {
	case StateListening:
		if event.Kind == VADSpeechStarted {
			o.state = StateUserSpeaking
			o.silenceMs = 0
		}
	case StateUserSpeaking, StateAwaitingCommit:
		switch event.Kind {
		case VADSpeechStarted:
			if o.state == StateAwaitingCommit {
				o.state = StateUserSpeaking
			}
			o.silenceMs = 0
		case VADSpeechEnded, VADSilence:
			o.silenceMs = event.SilenceMs
			o.evaluateCommit()
		case VADSpeechContinuing:
			o.silenceMs = 0
		}
	case StateAIResponding:
		if event.Kind == VADSpeechStarted {
			o.handleBargeIn()
		}
	}
}

// evaluateCommit re-runs ClassifyPause against the accumulated silence and
// fires a commit once the threshold is crossed. It's invoked on every
// silence tick rather than once off VAD.SpeechEnded, because VADEngine's
// own speech-end hangover (exit hysteresis, default 200ms) is far shorter
// than the 1,000ms natural-gap floor — see DESIGN.md.
func (o *Orchestrator) evaluateCommit() {
	turn := o.buffers.Turn(o.id)
	classification := ClassifyPause(o.cfg, o.silenceMs, turn.HasConfirmedText(), turn.HasText())
	if !classification.ShouldCommit {
		return
	}
	o.state = StateAwaitingCommit
	o.commit(turn)
}

func (o *Orchestrator) commit(turn Turn) {
	archived := o.buffers.ArchiveAndReset(o.id)
	o.pendingTurn = archived
	o.commitStarted = time.Now()
	o.generation++
	gen := o.generation
	o.firstTokenSeen = false

	genCtx, genCancel := context.WithCancel(o.ctx)

	tokens, err := o.generator.Start(genCtx, archived.Text(), nil)
	if err != nil {
		genCancel()
		o.bus.Publish(o.errorEvent(ErrAIUnavailable, "response generator failed to start"))
		o.state = StateListening
		return
	}

	o.genCancel = genCancel
	o.genActive = true
	o.state = StateAIResponding
	o.bus.Publish(OrchestrationEvent{Type: EventAIThinking, SessionID: o.id, Payload: EmptyPayload{}, Timestamp: time.Now()})

	go o.forwardGeneratorTokens(gen, tokens)
}

func (o *Orchestrator) forwardGeneratorTokens(generation uint64, tokens <-chan GeneratorToken) {
	for {
		select {
		case tok, ok := <-tokens:
			if !ok {
				return
			}
			select {
			case o.inbox <- inboxMsg{kind: msgGenToken, generation: generation, genToken: tok}:
			case <-o.ctx.Done():
				return
			}
		case <-o.ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) handleGenToken(generation uint64, tok GeneratorToken) {
	if !o.genActive || generation != o.generation {
		// Stale token from a cancelled generation: discarded, never
		// reaches the EventBus (§8 barge-in safety).
		return
	}

	if tok.Err != nil {
		o.bus.Publish(o.errorEvent(ErrAIUnavailable, "response generator failed"))
		o.finishGeneration()
		o.state = StateListening
		return
	}

	if !o.firstTokenSeen {
		o.firstTokenSeen = true
		o.meter.ObserveCommitLatencyMs(float64(time.Since(o.commitStarted).Milliseconds()))
	}

	if tok.Done {
		o.bus.Publish(OrchestrationEvent{Type: EventAIResponseDone, SessionID: o.id, Payload: AssistantDonePayload{Text: tok.FullText}, Timestamp: time.Now()})
		o.finishGeneration()
		o.state = StateListening
		o.vad.Reset()
		return
	}

	o.bus.Publish(OrchestrationEvent{Type: EventAIResponseDelta, SessionID: o.id, Payload: AssistantDeltaPayload{Text: tok.Delta}, Timestamp: time.Now()})
}

func (o *Orchestrator) finishGeneration() {
	if o.genCancel != nil {
		o.genCancel()
		o.genCancel = nil
	}
	o.genActive = false
	o.pendingTurn = Turn{}
}

// handleBargeIn implements §4.2's barge-in: cancel the active
// ResponseStream, emit AIInterrupted, resume UserSpeaking. If no token had
// been observed yet, this is really the debounced-commit-cancellation
// case from §4.2 ("if SpeechStarted occurs before the generator yields
// its first token, the commit is cancelled and the turn continues") — the
// archived turn is restored so the user's text isn't lost.
func (o *Orchestrator) handleBargeIn() {
	if !o.genActive {
		return
	}
	start := time.Now()
	hadFirstToken := o.firstTokenSeen
	pending := o.pendingTurn
	o.generation++ // invalidates any in-flight tokens structurally
	o.finishGeneration()

	if !hadFirstToken {
		o.buffers.Restore(o.id, pending)
	}

	o.bus.Publish(OrchestrationEvent{Type: EventAIInterrupted, SessionID: o.id, Payload: EmptyPayload{}, Timestamp: time.Now()})
	o.meter.ObserveBargeInLatencyMs(float64(time.Since(start).Milliseconds()))
	o.state = StateUserSpeaking
	o.silenceMs = 0
}

func (o *Orchestrator) handleTranscript(chunk TranscriptChunk) {
	if o.state == StateIdle || o.state == StateClosed {
		return
	}
	now := time.Now()
	switch chunk.Kind {
	case TranscriptPartialKind:
		o.buffers.UpdateLive(o.id, chunk.Text, chunk.Confidence, now)
		o.bus.Publish(OrchestrationEvent{
			Type: EventTranscriptPartial, SessionID: o.id, Timestamp: now,
			Payload: TranscriptPayload{Text: chunk.Text, Confidence: chunk.Confidence, IsFinal: false},
		})
	case TranscriptFinalKind:
		o.buffers.ConfirmFinal(o.id, chunk.Text, chunk.Confidence, now)
		o.bus.Publish(OrchestrationEvent{
			Type: EventTranscriptFinal, SessionID: o.id, Timestamp: now,
			Payload: TranscriptPayload{Text: chunk.Text, Confidence: chunk.Confidence, IsFinal: true},
		})
	}
}

// feedTranscriber submits a frame to the Transcriber with retry/backoff on
// failure (§4.2). Retries run off the run loop so a slow or failing
// Transcriber never blocks audio/VAD processing.
func (o *Orchestrator) feedTranscriber(frame []byte) {
	go func() {
		backoff := time.Duration(o.cfg.TranscriberBackoffInitialMs) * time.Millisecond
		var lastErr error
		for attempt := 0; attempt <= o.cfg.TranscriberMaxRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-time.After(backoff):
				case <-o.ctx.Done():
					return
				}
				backoff *= 2
			}
			if err := o.transcriber.FeedAudio(o.ctx, o.id, frame); err == nil {
				return
			} else {
				lastErr = err
				o.sttWarnSometimes.Do(func() {
					o.logger.Warn("transcriber feed failing", "sessionID", o.id.String(), "error", err)
				})
			}
		}
		select {
		case o.inbox <- inboxMsg{kind: msgSTTFailed, err: lastErr}:
		case <-o.ctx.Done():
		}
	}()
}

func (o *Orchestrator) handleSTTFailed(err error) {
	if o.state == StateIdle || o.state == StateClosed {
		return
	}
	o.bus.Publish(o.errorEvent(ErrSTTUnavailable, "speech-to-text unavailable after retries"))
	o.state = StateListening
}

func (o *Orchestrator) handleInboundControl(payload []byte) {
	ctrl, err := parseControlMessage(payload)
	if err != nil {
		o.bus.Publish(o.errorEvent(ErrValidation, "malformed control message"))
		return
	}
	switch ctrl.Type {
	case controlSessionStart:
		select {
		case o.inbox <- inboxMsg{kind: msgControlStart, language: ctrl.Language}:
		case <-o.ctx.Done():
		}
	case controlSessionEnd:
		select {
		case o.inbox <- inboxMsg{kind: msgControlEnd}:
		case <-o.ctx.Done():
		}
	case controlHeartbeat:
		// Heartbeats are answered by the transport layer directly and
		// never reach the run loop: per §8's idempotence law, repeated
		// heartbeats must never change session state, which is trivially
		// true if they're never state-machine input at all.
	default:
		o.bus.Publish(o.errorEvent(ErrValidation, "unknown control message type"))
	}
}

func (o *Orchestrator) fatal(code ErrorCode, msg string, cause error) {
	if o.state == StateClosed {
		return
	}
	o.logger.Error(msg, "sessionID", o.id.String(), "error", cause)
	o.bus.Publish(o.errorEvent(code, msg))
	o.closeSession()
}

func (o *Orchestrator) closeSession() {
	if o.state == StateClosed {
		return
	}
	o.finishGeneration()
	o.state = StateClosed
	o.bus.Publish(OrchestrationEvent{Type: EventSessionEnded, SessionID: o.id, Payload: EmptyPayload{}, Timestamp: time.Now()})
	o.bus.Close()
	o.buffers.Drop(o.id)
	o.meter.SessionClosed()
	o.cancel()
}

func (o *Orchestrator) errorEvent(code ErrorCode, message string) OrchestrationEvent {
	return OrchestrationEvent{
		Type: EventError, SessionID: o.id, Timestamp: time.Now(),
		Payload: ErrorPayload{Code: string(code), Message: message},
	}
}

// Done reports when the run loop has exited.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Shutdown cancels the orchestrator's context, used by the Supervisor for
// idle expiry and graceful process shutdown.
func (o *Orchestrator) Shutdown() { o.cancel() }
