package models

import "math"

// Status is the phase a scan session is in.
type Status string

const (
	StatusProcessing         Status = "processing"
	StatusCompletedDetection Status = "completed_detection"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

var transitions = map[Status][]Status{
	StatusProcessing:         {StatusCompletedDetection, StatusCompleted, StatusFailed},
	StatusCompletedDetection: {StatusCompleted, StatusFailed},
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompletedDetection, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a session may move from one status to another.
// Status never moves backwards.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors lists the statuses from which to is reachable in one step.
func Predecessors(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusProcessing, StatusCompletedDetection} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Clamp01 pins confidence and score values to [0,1].
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
