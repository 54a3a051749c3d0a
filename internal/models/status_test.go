package models

import (
	"math"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from, to Status
		expected bool
	}{
		{"processing to detection", StatusProcessing, StatusCompletedDetection, true},
		{"processing to completed", StatusProcessing, StatusCompleted, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"detection to completed", StatusCompletedDetection, StatusCompleted, true},
		{"detection to failed", StatusCompletedDetection, StatusFailed, true},
		{"detection back to processing", StatusCompletedDetection, StatusProcessing, false},
		{"completed to failed", StatusCompleted, StatusFailed, false},
		{"failed to completed", StatusFailed, StatusCompleted, false},
		{"completed to processing", StatusCompleted, StatusProcessing, false},
		{"self transition", StatusProcessing, StatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.expected {
				t.Errorf("CanTransition(%s, %s) = %v, expected %v", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestPredecessors(t *testing.T) {
	got := Predecessors(StatusFailed)
	if len(got) != 2 || got[0] != StatusProcessing || got[1] != StatusCompletedDetection {
		t.Errorf("unexpected predecessors of failed: %v", got)
	}

	got = Predecessors(StatusCompletedDetection)
	if len(got) != 1 || got[0] != StatusProcessing {
		t.Errorf("unexpected predecessors of completed_detection: %v", got)
	}

	if got := Predecessors(StatusProcessing); len(got) != 0 {
		t.Errorf("processing must not be reachable, got %v", got)
	}
}

func TestIsTerminal(t *testing.T) {
	if StatusProcessing.IsTerminal() || StatusCompletedDetection.IsTerminal() {
		t.Error("non-terminal status reported terminal")
	}
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Error("terminal status reported non-terminal")
	}
}

func TestClamp01(t *testing.T) {
	tests := []struct {
		in       float64
		expected float64
	}{
		{1.5, 1.0},
		{-0.2, 0.0},
		{0.42, 0.42},
		{0, 0},
		{1, 1},
		{math.NaN(), 0},
		{math.Inf(1), 1},
		{math.Inf(-1), 0},
	}

	for _, tt := range tests {
		if got := Clamp01(tt.in); got != tt.expected {
			t.Errorf("Clamp01(%v) = %v, expected %v", tt.in, got, tt.expected)
		}
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"Dune", "dune"},
		{"  The Left Hand of Darkness ", "the left hand of darkness"},
		{"Harry Potter & the Philosopher's Stone", "harry potter the philosopher s stone"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeTitle(tt.in); got != tt.expected {
			t.Errorf("NormalizeTitle(%q) = %q, expected %q", tt.in, got, tt.expected)
		}
	}
}

func TestBookMetadataIsEmpty(t *testing.T) {
	if !(BookMetadata{}).IsEmpty() {
		t.Error("zero metadata should be empty")
	}
	if (BookMetadata{Source: "google_books"}).IsEmpty() {
		t.Error("metadata with a source should not be empty")
	}
}
