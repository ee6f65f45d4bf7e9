package service

import (
	"time"

	"github.com/haatos/runbatch/internal/store"
)

// Aggregate recomputes the counters, status and timestamps of b from the
// current state of its runs.
func Aggregate(b store.Batch, runs []store.Run) store.Batch {
	b = b.Clone()
	b.TotalRuns = int64(len(runs))
	b.CompletedRuns, b.PassedRuns, b.FailedRuns = 0, 0, 0
	b.StartedOn, b.EndedOn = nil, nil

	var ended *time.Time
	for _, r := range runs {
		if r.StartedOn != nil && (b.StartedOn == nil || r.StartedOn.Before(*b.StartedOn)) {
			t := *r.StartedOn
			b.StartedOn = &t
		}
		if !r.Status.IsTerminal() {
			continue
		}
		b.CompletedRuns++
		switch r.Status {
		case store.StatusSuccess:
			b.PassedRuns++
		case store.StatusFailed:
			b.FailedRuns++
		}
		if r.EndedOn != nil && (ended == nil || r.EndedOn.After(*ended)) {
			t := *r.EndedOn
			ended = &t
		}
	}

	if b.CompletedRuns < b.TotalRuns {
		b.Status = store.BatchRunning
	} else {
		b.Status = store.BatchCompleted
		b.EndedOn = ended
	}
	return b
}
