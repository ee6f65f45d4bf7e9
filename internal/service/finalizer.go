package service

import (
	"context"
	"log"

	"github.com/haatos/runbatch/internal/events"
	"github.com/haatos/runbatch/internal/store"
)

// Trigger starts the finalization of a run. Event is the terminal event
// when there was one, Err the transport error otherwise.
type Trigger struct {
	RunID    int64
	Event    *events.Event
	Declared store.RunStatus
	Err      error
}

func (t Trigger) terminalStatus() (store.RunStatus, bool) {
	if t.Event == nil || !t.Event.IsTerminal() {
		return "", false
	}
	return t.Event.DeclaredStatus()
}

// Commit is everything the controller needs to finalize a run in one step.
type Commit struct {
	RunID     int64
	Status    store.RunStatus
	Run       *store.Run
	Result    *store.Result
	ResultErr error
	Cause     error
}

type Finalizer struct {
	runs RunReader
}

func NewFinalizer(runs RunReader) *Finalizer {
	return &Finalizer{runs: runs}
}

// Finalize fetches the run record, unless the trigger already declared a
// terminal status, and then the authoritative result of the run. The record
// is read first so a run finishing in between still gets its result. Fetch
// failures are logged and left in the commit.
func (f *Finalizer) Finalize(ctx context.Context, t Trigger) Commit {
	c := Commit{RunID: t.RunID, Status: t.Declared, Cause: t.Err}

	if status, ok := t.terminalStatus(); ok {
		c.Status = status
	} else if r, err := f.runs.GetRun(ctx, t.RunID); err != nil {
		log.Printf("err fetching run %d: %+v\n", t.RunID, err)
	} else {
		c.Run = r
		if r.Status.Rank() > c.Status.Rank() {
			c.Status = r.Status
		}
	}

	res, err := f.runs.GetRunResult(ctx, t.RunID)
	if err != nil {
		log.Printf("err fetching result of run %d: %+v\n", t.RunID, err)
		c.ResultErr = err
	} else {
		c.Result = res
	}
	return c
}
