package service

import "github.com/haatos/runbatch/internal/store"

// ProgressTracker holds a run's live counters. Total is fixed by the first
// start it sees; done, passed and failed only move forward.
type ProgressTracker struct {
	Total  int64
	Done   int64
	Passed int64
	Failed int64
}

func progressOf(r store.Run) ProgressTracker {
	return ProgressTracker{
		Total:  r.ProgressTotal,
		Done:   r.ProgressDone,
		Passed: r.ProgressPassed,
		Failed: r.ProgressFailed,
	}
}

// Start records the total number of tests. It reports whether the tracker
// changed.
func (p *ProgressTracker) Start(total int64) bool {
	if p.Total > 0 || total <= 0 {
		return false
	}
	p.Total = total
	p.Done = p.clamp(p.Done)
	return true
}

// Observe replaces the counters with the reported ones, keeping each at its
// highest value seen so far.
func (p *ProgressTracker) Observe(done, passed, failed int64) bool {
	before := *p
	p.Done = p.clamp(max(p.Done, done))
	p.Passed = max(p.Passed, passed)
	p.Failed = max(p.Failed, failed)
	return before != *p
}

func (p *ProgressTracker) clamp(done int64) int64 {
	if p.Total > 0 && done > p.Total {
		return p.Total
	}
	return done
}

func (p ProgressTracker) ApplyTo(r *store.Run) {
	r.ProgressTotal = p.Total
	r.ProgressDone = p.Done
	r.ProgressPassed = p.Passed
	r.ProgressFailed = p.Failed
}
