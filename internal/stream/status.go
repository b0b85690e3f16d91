package stream

import (
	"time"

	"github.com/nightmare634/voidstream/internal/domain"
)

// DisplayStatus is the state shown to readers, derived from a stream's raw
// fields and the current time.
type DisplayStatus string

const (
	StatusLive      DisplayStatus = "live"
	StatusPaused    DisplayStatus = "paused"
	StatusCompleted DisplayStatus = "completed"
	StatusCliff     DisplayStatus = "cliff"
	StatusCancelled DisplayStatus = "cancelled"
)

// Classify derives the display state for a stream. Precedence is a hard
// contract, first match wins: explicit cancellation, explicit pause, past end,
// before start/cliff, else live. Cancellation and pause always override
// time-derived states.
func Classify(s domain.Stream, now time.Time) DisplayStatus {
	if s.Status == domain.StreamCancelled {
		return StatusCancelled
	}
	if s.Status == domain.StreamPaused {
		return StatusPaused
	}
	if !s.EndAt.IsZero() && !now.Before(s.EndAt) {
		return StatusCompleted
	}
	cliff := s.CliffAt
	if cliff.IsZero() || cliff.Before(s.StartAt) {
		cliff = s.StartAt
	}
	if now.Before(cliff) {
		return StatusCliff
	}
	return StatusLive
}

// Label returns the human-readable name for a display status.
func Label(status DisplayStatus) string {
	switch status {
	case StatusLive:
		return "Live"
	case StatusPaused:
		return "Paused"
	case StatusCompleted:
		return "Completed"
	case StatusCliff:
		return "Cliff"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}
