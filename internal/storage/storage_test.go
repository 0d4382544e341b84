package storage

import "testing"

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusStarted, StatusSearching, true},
		{StatusSearching, StatusExtracting, true},
		{StatusExtracting, StatusGenerating, true},
		{StatusGenerating, StatusCompleted, true},
		{StatusStarted, StatusFailed, true},
		{StatusSearching, StatusFailed, true},
		{StatusExtracting, StatusFailed, true},
		{StatusGenerating, StatusFailed, true},
		{StatusStarted, StatusExtracting, false},
		{StatusSearching, StatusCompleted, false},
		{StatusExtracting, StatusSearching, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusSearching, false},
		{StatusFailed, StatusFailed, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Errorf("expected completed and failed to be terminal")
	}
	if StatusGenerating.Terminal() {
		t.Errorf("expected generating to be non-terminal")
	}
	if Status("pending").Valid() {
		t.Errorf("expected unknown status to be invalid")
	}
}

func TestCountExtracted(t *testing.T) {
	sources := []Source{{Success: true}, {Success: false}, {Success: true}}
	if got := CountExtracted(sources); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
	if got := CountExtracted(nil); got != 0 {
		t.Errorf("expected 0 for nil, got %d", got)
	}
}
