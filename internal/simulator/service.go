// Package simulator is a local execution service. It allocates batches and
// runs in sqlite, executes runs against mock targets and publishes their
// events for push and pull consumers.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haatos/runbatch/internal/events"
	"github.com/haatos/runbatch/internal/service"
	"github.com/haatos/runbatch/internal/store"
	"github.com/haatos/runbatch/internal/util"
)

type SimulatorServicer interface {
	CreateBatch(context.Context, store.BatchRequest) (*store.BatchRuns, error)
	GetBatch(context.Context, int64) (*store.BatchRuns, error)
	ListBatches(context.Context, int64) ([]store.BatchRuns, error)
	RenameBatch(context.Context, int64, string) error
	DeleteBatch(context.Context, int64) error
	GetRun(context.Context, int64) (*store.Run, error)
	GetRunResult(context.Context, int64) (*store.Result, error)
	ListRunEvents(context.Context, int64, int64) ([]store.RunEvent, error)
	RetryTest(context.Context, int64, string) error
	CancelRun(context.Context, int64) error
	SubscribeRunEvents(int64) (string, <-chan store.RunEvent)
	UnsubscribeRunEvents(int64, string)
}

type Options struct {
	QueueSize int64
	// TimeScale multiplies every simulated test duration. Zero runs tests
	// instantly.
	TimeScale float64
	HubBuffer int
}

type Simulator struct {
	batchStore store.BatchStore
	runStore   store.RunStore
	eventStore store.RunEventStore
	testStore  store.RunTestStore
	suite      *Suite
	hub        *EventHub
	opts       Options

	mu     sync.Mutex
	queues map[int64]*RunQueue
	// one lock per run, held for the whole of a single-test retry
	runLocks map[int64]*sync.Mutex
	// serializes read-aggregate-write of batch counters
	foldMu sync.Mutex
}

func NewSimulator(
	batchStore store.BatchStore,
	runStore store.RunStore,
	eventStore store.RunEventStore,
	testStore store.RunTestStore,
	suite *Suite,
	opts Options,
) *Simulator {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.TimeScale < 0 {
		opts.TimeScale = 0
	}
	if opts.HubBuffer <= 0 {
		opts.HubBuffer = 64
	}
	return &Simulator{
		batchStore: batchStore,
		runStore:   runStore,
		eventStore: eventStore,
		testStore:  testStore,
		suite:      suite,
		hub:        NewEventHub(opts.HubBuffer),
		opts:       opts,
		queues:     make(map[int64]*RunQueue),
		runLocks:   make(map[int64]*sync.Mutex),
	}
}

func (s *Simulator) CreateBatch(
	ctx context.Context,
	br store.BatchRequest,
) (*store.BatchRuns, error) {
	if len(br.Runs) == 0 {
		return nil, ErrNoRuns
	}
	if int64(len(br.Runs)) > s.opts.QueueSize {
		return nil, NewErrRunQueueFull()
	}
	targets := make([]*Target, 0, len(br.Runs))
	for _, spec := range br.Runs {
		t, err := s.suite.Lookup(spec.Target, spec.Version)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	if br.Mode == "" {
		br.Mode = store.ModeMock
	}
	if br.Concurrency <= 0 {
		br.Concurrency = 1
	}
	br.Name = strings.TrimSpace(br.Name)
	if br.Name == "" {
		br.Name = "batch " + time.Now().UTC().Format(time.DateTime)
	}

	created, err := s.batchStore.CreateBatch(ctx, br)
	if err != nil {
		return nil, err
	}
	for i, r := range created.Runs {
		if err := s.testStore.CreateRunTests(ctx, r.RunID, targets[i].TestNames()); err != nil {
			if delErr := s.batchStore.DeleteBatch(context.Background(), created.Batch.BatchID); delErr != nil {
				log.Println("err removing partially created batch:", delErr)
			}
			return nil, err
		}
	}

	rq := NewRunQueue(s.processRun, created.Batch.Concurrency, s.opts.QueueSize)
	for i := range created.Runs {
		r := created.Runs[i].Clone()
		if err := rq.Enqueue(&r); err != nil {
			rq.Shutdown()
			return nil, err
		}
	}
	s.mu.Lock()
	s.queues[created.Batch.BatchID] = rq
	s.mu.Unlock()
	rq.Run()

	return created, nil
}

func (s *Simulator) GetBatch(ctx context.Context, id int64) (*store.BatchRuns, error) {
	return s.batchStore.ReadBatchByID(ctx, id)
}

func (s *Simulator) ListBatches(ctx context.Context, limit int64) ([]store.BatchRuns, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.batchStore.ListLatestBatches(ctx, limit)
}

func (s *Simulator) RenameBatch(ctx context.Context, id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return service.ErrEmptyBatchName
	}
	return s.batchStore.UpdateBatchName(ctx, id, name)
}

// DeleteBatch stops the batch's remaining runs and removes it with its runs,
// events and test outcomes.
func (s *Simulator) DeleteBatch(ctx context.Context, id int64) error {
	br, err := s.batchStore.ReadBatchByID(ctx, id)
	if err != nil {
		return err
	}
	s.retireQueue(id)
	if err := s.batchStore.DeleteBatch(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	for _, r := range br.Runs {
		delete(s.runLocks, r.RunID)
	}
	s.mu.Unlock()
	for _, r := range br.Runs {
		s.hub.CloseRun(r.RunID)
	}
	return nil
}

func (s *Simulator) GetRun(ctx context.Context, id int64) (*store.Run, error) {
	return s.runStore.ReadRunByID(ctx, id)
}

// GetRunResult returns the per-test outcomes of a finished run.
func (s *Simulator) GetRunResult(ctx context.Context, runID int64) (*store.Result, error) {
	r, err := s.runStore.ReadRunByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !r.Status.IsTerminal() {
		return nil, ErrRunNotFinished
	}
	tests, err := s.testStore.ListRunTests(ctx, runID)
	if err != nil {
		return nil, err
	}
	return store.NewResult(runID, tests), nil
}

func (s *Simulator) ListRunEvents(
	ctx context.Context,
	runID, since int64,
) ([]store.RunEvent, error) {
	if _, err := s.runStore.ReadRunByID(ctx, runID); err != nil {
		return nil, err
	}
	return s.eventStore.ListRunEvents(ctx, runID, since)
}

// RetryTest re-executes a single test of a finished run and rewrites the
// run's outcome from the stored test results. Retries of the same run are
// serialized.
func (s *Simulator) RetryTest(ctx context.Context, runID int64, testName string) error {
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	r, err := s.runStore.ReadRunByID(ctx, runID)
	if err != nil {
		return err
	}
	if !r.Status.IsTerminal() {
		return ErrRunNotFinished
	}
	target, err := s.suite.Lookup(r.Target, r.TargetVersion)
	if err != nil {
		return err
	}
	def, ok := target.Test(testName)
	if !ok {
		return &UnknownTestError{RunID: runID, TestName: testName}
	}
	tests, err := s.testStore.ListRunTests(ctx, runID)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(tests, func(t store.TestOutcome) bool { return t.Name == testName })
	if idx < 0 {
		return &UnknownTestError{RunID: runID, TestName: testName}
	}

	if !s.sleep(ctx, def.DurationMs) {
		return ctx.Err()
	}
	t := outcomeOf(def, tests[idx].Attempts+1)
	if err := s.testStore.UpdateRunTest(ctx, runID, &t); err != nil {
		return err
	}

	tests, err = s.testStore.ListRunTests(ctx, runID)
	if err != nil {
		return err
	}
	summary := store.Summarize(tests)
	status := r.Status
	if status != store.StatusCancelled {
		status = store.StatusSuccess
		if summary.Failed > 0 {
			status = store.StatusFailed
		}
	}
	if err := s.runStore.UpdateRunOutcome(ctx, runID, status, summary.Passed, summary.Failed); err != nil {
		return err
	}
	if r.RunBatchID != nil {
		s.refold(ctx, *r.RunBatchID)
	}
	return nil
}

func (s *Simulator) runLock(runID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.runLocks[runID]
	if !ok {
		l = &sync.Mutex{}
		s.runLocks[runID] = l
	}
	return l
}

func (s *Simulator) CancelRun(ctx context.Context, runID int64) error {
	r, err := s.runStore.ReadRunByID(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status.IsTerminal() || r.RunBatchID == nil {
		return ErrRunNotActive
	}
	s.mu.Lock()
	rq, ok := s.queues[*r.RunBatchID]
	s.mu.Unlock()
	if !ok || !rq.CancelRun(runID) {
		return ErrRunNotActive
	}
	return nil
}

func (s *Simulator) SubscribeRunEvents(runID int64) (string, <-chan store.RunEvent) {
	uid := uuid.NewString()
	return uid, s.hub.AddClient(runID, uid)
}

func (s *Simulator) UnsubscribeRunEvents(runID int64, uid string) {
	s.hub.RemoveClient(runID, uid)
}

// RecoverUnfinishedRuns cancels runs left queued or running by a previous
// process, so that every run reaches a terminal state.
func (s *Simulator) RecoverUnfinishedRuns(ctx context.Context) error {
	runs, err := s.runStore.ListUnfinishedRuns(ctx)
	if err != nil {
		return err
	}
	for i := range runs {
		r := &runs[i]
		s.mu.Lock()
		_, active := s.queues[batchIDOf(r)]
		s.mu.Unlock()
		if active {
			continue
		}
		tests, err := s.testStore.ListRunTests(ctx, r.RunID)
		if err != nil {
			log.Printf("err listing tests of run %d: %+v\n", r.RunID, err)
			continue
		}
		s.cancelRun(ctx, r, tests, 0, "execution service restarted")
	}
	return nil
}

func (s *Simulator) Shutdown() {
	s.mu.Lock()
	queues := s.queues
	s.queues = make(map[int64]*RunQueue)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, rq := range queues {
		wg.Go(rq.Shutdown)
	}
	wg.Wait()
}

func (s *Simulator) retireQueue(batchID int64) {
	s.mu.Lock()
	rq, ok := s.queues[batchID]
	delete(s.queues, batchID)
	s.mu.Unlock()
	if ok {
		rq.Shutdown()
	}
}

func (s *Simulator) processRun(ctx context.Context, run *store.Run) {
	bg := context.Background()
	tests, err := s.testStore.ListRunTests(bg, run.RunID)
	if err != nil {
		log.Printf("err listing tests of run %d: %+v\n", run.RunID, err)
		s.failRun(bg, run, tests, err)
		return
	}
	if ctx.Err() != nil {
		s.cancelRun(bg, run, tests, 0, "cancelled before start")
		return
	}

	target, err := s.suite.Lookup(run.Target, run.TargetVersion)
	if err != nil {
		s.failRun(bg, run, tests, err)
		return
	}

	total := int64(len(tests))
	if err := s.runStore.UpdateRunStartedOn(bg, run.RunID, total, util.AsPtr(time.Now().UTC())); err != nil {
		s.failRun(bg, run, tests, err)
		return
	}
	s.emit(bg, run.RunID, events.RunStarted{ProgressTotal: total})
	s.refold(bg, batchIDOf(run))

	var done, passed, failed int64
	for i := range tests {
		t := &tests[i]
		s.emit(bg, run.RunID, events.TestStarted{TestName: t.Name})

		def, _ := target.Test(t.Name)
		if !s.sleep(ctx, def.DurationMs) {
			s.cancelRun(bg, run, tests, i, "cancelled by user")
			return
		}

		*t = outcomeOf(def, t.Attempts+1)
		if err := s.testStore.UpdateRunTest(bg, run.RunID, t); err != nil {
			s.failRun(bg, run, tests, err)
			return
		}
		done++
		switch t.Status {
		case store.TestPassed:
			passed++
		case store.TestFailed:
			failed++
		}
		if err := s.runStore.UpdateRunProgress(bg, run.RunID, done, passed, failed); err != nil {
			log.Printf("err updating progress of run %d: %+v\n", run.RunID, err)
		}
		s.emit(bg, run.RunID, events.TestFinished{
			TestName:       t.Name,
			TestStatus:     t.Status,
			DurationMs:     t.DurationMs,
			ProgressDone:   done,
			ProgressPassed: passed,
			ProgressFailed: failed,
		})
	}

	status := store.StatusSuccess
	var message *string
	if failed > 0 {
		status = store.StatusFailed
		message = util.AsPtr(fmt.Sprintf("%d of %d tests failed", failed, total))
		s.emit(bg, run.RunID, events.RunFailed{Error: *message})
	}
	s.finishRun(bg, run, status, message, store.Summarize(tests))
}

// cancelRun marks the tests from position from onwards as skipped and ends
// the run as cancelled.
func (s *Simulator) cancelRun(
	ctx context.Context,
	run *store.Run,
	tests []store.TestOutcome,
	from int,
	reason string,
) {
	for i := from; i < len(tests); i++ {
		if tests[i].Status != store.TestPending {
			continue
		}
		tests[i].Status = store.TestSkipped
		if err := s.testStore.UpdateRunTest(ctx, run.RunID, &tests[i]); err != nil {
			log.Printf("err skipping test %q of run %d: %+v\n", tests[i].Name, run.RunID, err)
		}
	}
	s.emit(ctx, run.RunID, events.RunCancelled{Reason: reason})
	s.finishRun(ctx, run, store.StatusCancelled, util.AsPtr(reason), store.Summarize(tests))
}

func (s *Simulator) failRun(ctx context.Context, run *store.Run, tests []store.TestOutcome, err error) {
	message := err.Error()
	s.emit(ctx, run.RunID, events.RunFailed{Error: message})
	s.finishRun(ctx, run, store.StatusFailed, &message, store.Summarize(tests))
}

func (s *Simulator) finishRun(
	ctx context.Context,
	run *store.Run,
	status store.RunStatus,
	message *string,
	summary store.ResultSummary,
) {
	if err := s.runStore.UpdateRunEndedOn(
		ctx, run.RunID, status, message, util.AsPtr(time.Now().UTC()),
	); err != nil {
		log.Printf("err updating run %d ended on: %+v\n", run.RunID, err)
	}
	s.emit(ctx, run.RunID, events.RunFinished{Status: status, Summary: &summary})

	batchID := batchIDOf(run)
	if b := s.refold(ctx, batchID); b != nil && b.Status == store.BatchCompleted {
		go s.retireQueue(batchID)
	}
}

// emit persists the event, assigning the run's next sequence number, and
// publishes it to live subscribers.
func (s *Simulator) emit(ctx context.Context, runID int64, p events.Payload) {
	data, err := events.Encode(p)
	if err != nil {
		log.Printf("err encoding %s event: %+v\n", events.TypeOf(p), err)
		return
	}
	re, err := s.eventStore.AppendRunEvent(ctx, runID, string(events.TypeOf(p)), string(data))
	if err != nil {
		log.Printf("err appending %s event of run %d: %+v\n", events.TypeOf(p), runID, err)
		return
	}
	s.hub.Publish(*re)
}

func (s *Simulator) refold(ctx context.Context, batchID int64) *store.Batch {
	if batchID == 0 {
		return nil
	}
	s.foldMu.Lock()
	defer s.foldMu.Unlock()

	br, err := s.batchStore.ReadBatchByID(ctx, batchID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("err reading batch %d: %+v\n", batchID, err)
		}
		return nil
	}
	b := service.Aggregate(br.Batch, br.Runs)
	if err := s.batchStore.UpdateBatchCounts(ctx, &b); err != nil {
		log.Printf("err updating batch %d counts: %+v\n", batchID, err)
		return nil
	}
	return &b
}

func (s *Simulator) sleep(ctx context.Context, durationMs int64) bool {
	d := time.Duration(float64(durationMs)*s.opts.TimeScale) * time.Millisecond
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func outcomeOf(def TestDef, attempt int64) store.TestOutcome {
	t := store.TestOutcome{
		Name:       def.Name,
		Status:     def.StatusFor(attempt),
		DurationMs: def.DurationMs,
		Attempts:   attempt,
	}
	if t.Status == store.TestFailed {
		t.Error = util.AsPtr(fmt.Sprintf("assertion failed in %q", def.Name))
	}
	return t
}

func batchIDOf(r *store.Run) int64 {
	if r.RunBatchID == nil {
		return 0
	}
	return *r.RunBatchID
}
