package orchestrator

import (
	"math"
	"time"
)

// VADEngine is a windowed RMS energy estimator with true hysteresis:
// energy above enterThreshold for at least the longer of the enter
// hysteresis window and minSpeechMs confirms speech start, counted from
// the arrival of the frame before the first loud one (or from engine
// creation, for the very first frame); once speaking, energy must stay below exitThreshold for the exit
// hysteresis window before speech end fires. Cumulative silence since the
// last SpeechEnded is tracked to feed pause classification (§4.3).
type VADEngine struct {
	enterThreshold float64
	exitThreshold  float64
	minSpeechMs    int64

	enterHysteresis time.Duration
	exitHysteresis  time.Duration

	speaking bool

	aboveEnterSince time.Time // zero when not currently above enter
	belowExitSince  time.Time // zero when not currently below exit

	silenceSinceLastEnd time.Duration
	lastFrameTime        time.Time
}

const (
	defaultEnterHysteresis = 100 * time.Millisecond
	defaultExitHysteresis  = 200 * time.Millisecond
)

func NewVADEngine(cfg Config) *VADEngine {
	return &VADEngine{
		enterThreshold:  cfg.VADEnterThreshold,
		exitThreshold:   cfg.VADExitThreshold,
		minSpeechMs:     cfg.VADMinSpeechMs,
		enterHysteresis: defaultEnterHysteresis,
		exitHysteresis:  defaultExitHysteresis,
		lastFrameTime:   time.Now(),
	}
}

// Process consumes one frame and emits exactly one VADEvent (§4.3).
func (v *VADEngine) Process(frame []byte) VADEvent {
	now := time.Now()
	energy := rmsEnergy(frame)
	frameStart := v.lastFrameTime
	v.lastFrameTime = now

	if energy >= v.enterThreshold {
		v.belowExitSince = time.Time{}

		if !v.speaking {
			if v.aboveEnterSince.IsZero() {
				v.aboveEnterSince = frameStart
			}
			confirmWindow := v.enterHysteresis
			minSpeech := time.Duration(v.minSpeechMs) * time.Millisecond
			if confirmWindow < minSpeech {
				confirmWindow = minSpeech
			}
			if now.Sub(v.aboveEnterSince) >= confirmWindow {
				v.speaking = true
				v.aboveEnterSince = time.Time{}
				v.silenceSinceLastEnd = 0
				return VADEvent{Kind: VADSpeechStarted, Timestamp: now}
			}
			return VADEvent{Kind: VADSilence, Timestamp: now}
		}
		return VADEvent{Kind: VADSpeechContinuing, Energy: energy, Timestamp: now}
	}

	// Below enter threshold.
	v.aboveEnterSince = time.Time{}

	if energy <= v.exitThreshold {
		if v.speaking {
			if v.belowExitSince.IsZero() {
				v.belowExitSince = now
			}
			if now.Sub(v.belowExitSince) >= v.exitHysteresis {
				v.speaking = false
				v.belowExitSince = time.Time{}
				v.silenceSinceLastEnd = v.exitHysteresis
				return VADEvent{Kind: VADSpeechEnded, SilenceMs: v.silenceSinceLastEnd.Milliseconds(), Timestamp: now}
			}
			// Still within the speaking hangover; report as continuing
			// speech so the caller doesn't mistake this for accumulated
			// silence yet.
			return VADEvent{Kind: VADSpeechContinuing, Energy: energy, Timestamp: now}
		}

		v.silenceSinceLastEnd += frameDuration(frame)
		return VADEvent{Kind: VADSilence, SilenceMs: v.silenceSinceLastEnd.Milliseconds(), Timestamp: now}
	}

	// Between exit and enter thresholds (the hysteresis band): hold current
	// state without accumulating silence or confirming speech.
	if v.speaking {
		return VADEvent{Kind: VADSpeechContinuing, Energy: energy, Timestamp: now}
	}
	v.silenceSinceLastEnd += frameDuration(frame)
	return VADEvent{Kind: VADSilence, SilenceMs: v.silenceSinceLastEnd.Milliseconds(), Timestamp: now}
}

// SetHysteresisWindows overrides the default 100ms/200ms enter/exit
// confirmation windows, mirroring the teacher's SetMinConfirmed/
// SetThreshold test-support setters. Mainly useful for tests that can't
// afford to wait out the real defaults. The enter window is still floored
// at the configured minSpeechMs.
func (v *VADEngine) SetHysteresisWindows(enter, exit time.Duration) {
	v.enterHysteresis = enter
	v.exitHysteresis = exit
}

// IsSpeaking reports the engine's current speech/silence state.
func (v *VADEngine) IsSpeaking() bool {
	return v.speaking
}

// Reset clears all accumulated hysteresis/silence state; the orchestrator
// calls it when an assistant response completes, so the next turn starts
// fresh.
func (v *VADEngine) Reset() {
	v.speaking = false
	v.aboveEnterSince = time.Time{}
	v.belowExitSince = time.Time{}
	v.silenceSinceLastEnd = 0
}

// frameDuration assumes the fixed wire format: 16-bit mono PCM at 16kHz
// (§6), so duration is directly derivable from byte length.
func frameDuration(frame []byte) time.Duration {
	const bytesPerSecond = 16000 * 2
	samples := len(frame)
	return time.Duration(samples) * time.Second / time.Duration(bytesPerSecond)
}

func rmsEnergy(frame []byte) float64 {
	if len(frame) < 2 {
		return 0
	}
	var sum float64
	n := len(frame) / 2
	for i := 0; i < n; i++ {
		sample := int16(frame[2*i]) | int16(frame[2*i+1])<<8
		f := float64(sample) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}
