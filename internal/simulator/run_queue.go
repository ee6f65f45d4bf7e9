package simulator

import (
	"context"
	"sync"

	"github.com/haatos/runbatch/internal/store"
)

// ProcessFunc executes one run. ctx is cancelled when the run is cancelled
// or the queue shuts down.
type ProcessFunc func(ctx context.Context, run *store.Run)

type queuedRun struct {
	ctx context.Context
	run *store.Run
}

func NewRunQueue(process ProcessFunc, workers, maxRuns int64) *RunQueue {
	return &RunQueue{
		process:      process,
		workers:      max(workers, 1),
		queue:        make(chan queuedRun, max(maxRuns, 1)),
		done:         make(chan struct{}),
		cancelRunMap: NewCancelMap[int64](),
	}
}

// RunQueue executes the runs of one batch with at most workers runs in
// flight.
type RunQueue struct {
	process ProcessFunc
	workers int64

	queue        chan queuedRun
	done         chan struct{}
	cancelRunMap *CancelMap[int64]

	wg   sync.WaitGroup
	once sync.Once
}

// CancelRun cancels a queued or running run. It reports whether the run was
// known to the queue.
func (rq *RunQueue) CancelRun(runID int64) bool {
	return rq.cancelRunMap.Call(runID)
}

func (rq *RunQueue) Enqueue(r *store.Run) error {
	ctx, cancel := context.WithCancel(context.Background())
	rq.cancelRunMap.AddCancel(r.RunID, cancel)
	select {
	case rq.queue <- queuedRun{ctx: ctx, run: r}:
		return nil
	default:
		rq.cancelRunMap.Call(r.RunID)
		return NewErrRunQueueFull()
	}
}

// Run starts the workers and returns immediately.
func (rq *RunQueue) Run() {
	for range rq.workers {
		rq.wg.Go(rq.work)
	}
}

func (rq *RunQueue) work() {
	for {
		select {
		case <-rq.done:
			return
		default:
		}

		select {
		case qr := <-rq.queue:
			rq.process(qr.ctx, qr.run)
			rq.cancelRunMap.Call(qr.run.RunID)
		case <-rq.done:
			return
		}
	}
}

// Shutdown cancels every queued and running run and waits for the workers
// to return.
func (rq *RunQueue) Shutdown() {
	rq.once.Do(func() {
		close(rq.done)
		rq.cancelRunMap.CallAll()
	})
	rq.wg.Wait()
}
