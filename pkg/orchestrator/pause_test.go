package orchestrator

import "testing"

func TestClassifyPauseBands(t *testing.T) {
	cfg := DefaultConfig()

	cases := []struct {
		name             string
		silenceMs        int64
		hasConfirmedText bool
		hasAnyText       bool
		wantType         PauseType
		wantCommit       bool
	}{
		{"short silence never commits", 200, true, true, PauseNaturalGap, false},
		{"just under natural gap floor", 999, true, true, PauseNaturalGap, false},
		{"end of thought with confirmed text commits", 1500, true, true, PauseEndOfThought, true},
		{"end of thought without confirmed text does not commit", 1500, false, false, PauseEndOfThought, false},
		{"end of thought with only live text does not commit", 1500, false, true, PauseEndOfThought, false},
		{"exactly end of thought boundary is long pause", 3000, true, true, PauseLongPause, true},
		{"long pause without any text never commits", 5000, false, false, PauseLongPause, false},
		{"long pause with only live text commits", 5000, false, true, PauseLongPause, true},
		{"long pause with confirmed text commits", 5000, true, true, PauseLongPause, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyPause(cfg, tc.silenceMs, tc.hasConfirmedText, tc.hasAnyText)
			if got.Type != tc.wantType {
				t.Errorf("Type = %v, want %v", got.Type, tc.wantType)
			}
			if got.ShouldCommit != tc.wantCommit {
				t.Errorf("ShouldCommit = %v, want %v", got.ShouldCommit, tc.wantCommit)
			}
			if got.DurationMs != tc.silenceMs {
				t.Errorf("DurationMs = %d, want %d", got.DurationMs, tc.silenceMs)
			}
		})
	}
}
