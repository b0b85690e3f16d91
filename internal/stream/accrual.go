// Package stream holds the pure read-side derivations for payment streams:
// linear accrual, display-status classification, and forward projections.
// Nothing here touches the store or mutates state; these functions are safe
// to call at arbitrary frequency.
package stream

import (
	"time"

	"github.com/nightmare634/voidstream/internal/domain"
)

// Accrual is the point-in-time accrual snapshot of a stream.
type Accrual struct {
	Progress float64   `json:"progress"`
	Accrued  int64     `json:"accrued"`
	Total    int64     `json:"total"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// ComputeAccrual derives linear accrual for a stream at the given instant.
//
// Total is floor(rate * streamDuration); accrued is floor(rate * elapsed)
// clamped into [0, total]. While paused, evaluation time freezes at PausedAt.
// Degenerate inputs (rate < 1, missing timeline, end <= start) yield an
// all-zero result: accrual is a presentational derivation, never an error
// source.
func ComputeAccrual(s domain.Stream, at time.Time) Accrual {
	out := Accrual{Start: s.StartAt, End: s.EndAt}

	if s.RatePerSec < 1 || s.StartAt.IsZero() || s.EndAt.IsZero() || !s.EndAt.After(s.StartAt) {
		return out
	}

	effective := at
	if !s.PausedAt.IsZero() && s.PausedAt.Before(effective) {
		effective = s.PausedAt
	}

	out.Total = s.RatePerSec * s.EndAt.Sub(s.StartAt).Milliseconds() / 1000
	accrued := s.RatePerSec * effective.Sub(s.StartAt).Milliseconds() / 1000
	out.Accrued = clamp(accrued, 0, out.Total)
	if out.Total > 0 {
		out.Progress = float64(out.Accrued) / float64(out.Total)
	}
	return out
}

// ProjectAccrual produces a forward-looking accrual series: the accrued amount
// at each of the next `months` month boundaries after from.
func ProjectAccrual(s domain.Stream, months int, from time.Time) []int64 {
	out := make([]int64, 0, months)
	for i := 1; i <= months; i++ {
		t := monthBoundary(from, i)
		out = append(out, ComputeAccrual(s, t).Accrued)
	}
	return out
}

// monthBoundary is midnight on the first day of the month, addMonths ahead.
func monthBoundary(from time.Time, addMonths int) time.Time {
	return time.Date(from.Year(), from.Month()+time.Month(addMonths), 1, 0, 0, 0, 0, from.Location())
}

func clamp(n, min, max int64) int64 {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
