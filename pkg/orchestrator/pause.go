package orchestrator

// ClassifyPause is the pure function mapping accumulated silence duration
// to a turn-taking decision (§4.4). It holds no state of its own.
//
// Bands (§4.2): natural_gap < PauseNaturalGapMs; end_of_thought in
// [PauseNaturalGapMs, PauseEndOfThoughtMs); long_pause >= PauseEndOfThoughtMs.
// A silence of exactly PauseEndOfThoughtMs is long_pause, matching §8's
// boundary rule that it commits whenever the turn has text.
//
// The two non-trivial bands commit on different predicates (§4.2):
// end_of_thought only commits once the confirmed log itself is non-empty
// (hasConfirmedText), while long_pause commits on any user text at all,
// confirmed or still-live (hasAnyText) — a lingering unconfirmed partial is
// enough once the silence has gone on that long.
func ClassifyPause(cfg Config, silenceMs int64, hasConfirmedText, hasAnyText bool) PauseClassification {
	switch {
	case silenceMs < cfg.PauseNaturalGapMs:
		return PauseClassification{Type: PauseNaturalGap, DurationMs: silenceMs, ShouldCommit: false}
	case silenceMs < cfg.PauseEndOfThoughtMs:
		return PauseClassification{Type: PauseEndOfThought, DurationMs: silenceMs, ShouldCommit: hasConfirmedText}
	default:
		return PauseClassification{Type: PauseLongPause, DurationMs: silenceMs, ShouldCommit: hasAnyText}
	}
}
