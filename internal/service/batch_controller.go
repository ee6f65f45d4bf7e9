package service

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haatos/runbatch/internal/events"
	"github.com/haatos/runbatch/internal/store"
)

type Options struct {
	EventLogCapacity   int
	DefaultConcurrency int64
	HistoryLimit       int64
	WatcherBuffer      int
}

func (o Options) withDefaults() Options {
	if o.EventLogCapacity <= 0 {
		o.EventLogCapacity = DefaultEventLogCapacity
	}
	if o.DefaultConcurrency <= 0 {
		o.DefaultConcurrency = 3
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 20
	}
	if o.WatcherBuffer <= 0 {
		o.WatcherBuffer = 256
	}
	return o
}

type CreateBatchParams struct {
	Name        string
	Targets     []store.RunSpec
	Mode        store.Mode
	Concurrency int64
}

// RunView is a consistent snapshot of one run.
type RunView struct {
	Run           store.Run
	Result        *store.Result
	ResultPending bool
	Finalized     bool
	Subscribed    bool
}

type runEntry struct {
	run           store.Run
	log           *EventLog
	progress      ProgressTracker
	result        *store.Result
	resultPending bool
	finalized     bool
	sub           *subscriber
}

// BatchController owns every batch, run, event log and result. All state is
// read and written on a single loop goroutine; subscribers and callers hand
// it closures through the inbox.
type BatchController struct {
	svc       ExecutionService
	finalizer *Finalizer
	opts      Options
	watchers  *WatcherMap[Update]

	inbox   chan func()
	done    chan struct{}
	stopped chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once

	batches map[int64]*store.Batch
	runs    map[int64]*runEntry
}

func NewBatchController(svc ExecutionService, opts Options) *BatchController {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &BatchController{
		svc:       svc,
		finalizer: NewFinalizer(svc),
		opts:      opts,
		watchers:  NewWatcherMap[Update](opts.WatcherBuffer),
		inbox:     make(chan func()),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		batches:   make(map[int64]*store.Batch),
		runs:      make(map[int64]*runEntry),
	}
	go c.loop()
	return c
}

func (c *BatchController) loop() {
	defer close(c.stopped)
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.done:
			return
		}
	}
}

// Shutdown closes every subscription and stops the loop.
func (c *BatchController) Shutdown() {
	c.once.Do(func() {
		close(c.done)
		<-c.stopped
		c.cancel()
		c.wg.Wait()
		c.watchers.RemoveAll()
	})
}

func (c *BatchController) post(ctx context.Context, fn func()) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case c.inbox <- fn:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

// do runs fn on the loop and waits for it to return.
func (c *BatchController) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !c.post(ctx, func() {
		defer close(finished)
		fn()
	}) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrControllerClosed
	}
	<-finished
	return nil
}

// Watch returns a channel receiving every update until ctx is done.
func (c *BatchController) Watch(ctx context.Context) <-chan Update {
	uid := uuid.NewString()
	ch := c.watchers.AddClient(uid)
	context.AfterFunc(ctx, func() { c.watchers.RemoveClient(uid) })
	return ch
}

func (c *BatchController) publish(u Update) {
	c.watchers.SendToClients(u)
}

func (c *BatchController) publishRun(kind UpdateKind, e *runEntry) {
	r := e.run.Clone()
	u := Update{
		Kind:       kind,
		RunID:      r.RunID,
		Run:        &r,
		Result:     e.result.Clone(),
		Subscribed: e.sub != nil,
	}
	if r.RunBatchID != nil {
		u.BatchID = *r.RunBatchID
	}
	c.publish(u)
}

func (c *BatchController) notice(runID int64, err error) {
	log.Println("err:", err)
	c.publish(Update{Kind: Notice, RunID: runID, Err: err})
}

func (c *BatchController) CreateBatch(
	ctx context.Context,
	p CreateBatchParams,
) (*store.BatchRuns, error) {
	if len(p.Targets) == 0 {
		return nil, &CreateBatchError{Message: "no targets selected"}
	}
	for _, t := range p.Targets {
		if strings.TrimSpace(t.Target) == "" || strings.TrimSpace(t.Version) == "" {
			return nil, &CreateBatchError{Message: "target and version are required"}
		}
	}
	if p.Mode == "" {
		p.Mode = store.ModeMock
	}
	if !p.Mode.IsValid() {
		return nil, &CreateBatchError{Message: fmt.Sprintf("invalid mode %q", p.Mode)}
	}
	if p.Concurrency <= 0 {
		p.Concurrency = c.opts.DefaultConcurrency
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = "batch " + time.Now().UTC().Format("2006-01-02 15:04:05")
	}

	br, err := c.svc.CreateBatch(ctx, store.BatchRequest{
		Name:        p.Name,
		Mode:        p.Mode,
		Concurrency: p.Concurrency,
		Runs:        p.Targets,
	})
	if err != nil {
		return nil, &CreateBatchError{Message: "execution service rejected the batch", Err: err}
	}

	var out store.BatchRuns
	if err := c.do(ctx, func() {
		c.register(*br, nil)
		out, _ = c.snapshotBatch(br.Batch.BatchID)
	}); err != nil {
		return nil, &CreateBatchError{Message: "batch was not registered", Err: err}
	}
	return &out, nil
}

// DeleteBatch closes the subscriptions of the batch's runs, deletes the
// batch from the execution service and then forgets it.
func (c *BatchController) DeleteBatch(ctx context.Context, batchID int64) error {
	found := false
	if err := c.do(ctx, func() {
		b, ok := c.batches[batchID]
		if !ok {
			return
		}
		found = true
		for _, id := range b.RunIDs {
			if e, ok := c.runs[id]; ok {
				c.closeSubscription(e)
			}
		}
	}); err != nil {
		return err
	}
	if !found {
		return ErrBatchNotFound
	}

	if err := c.svc.DeleteBatch(ctx, batchID); err != nil {
		_ = c.do(context.WithoutCancel(ctx), func() { c.resubscribe(batchID) })
		return fmt.Errorf("err deleting batch %d: %w", batchID, err)
	}

	return c.do(context.WithoutCancel(ctx), func() { c.evict(batchID) })
}

func (c *BatchController) RenameBatch(ctx context.Context, batchID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyBatchName
	}
	found := false
	if err := c.do(ctx, func() { _, found = c.batches[batchID] }); err != nil {
		return err
	}
	if !found {
		return ErrBatchNotFound
	}
	if err := c.svc.RenameBatch(ctx, batchID, name); err != nil {
		return fmt.Errorf("err renaming batch %d: %w", batchID, err)
	}
	return c.do(ctx, func() {
		b, ok := c.batches[batchID]
		if !ok {
			return
		}
		b.Name = name
		nb := b.Clone()
		c.publish(Update{Kind: BatchUpdated, BatchID: batchID, Batch: &nb})
	})
}

// RetryTest re-executes one test of a finished run and replaces that run's
// result and status. Failures leave the controller state untouched.
func (c *BatchController) RetryTest(ctx context.Context, runID int64, testName string) error {
	fail := func(err error) error {
		re := &RetryError{RunID: runID, TestName: testName, Err: err}
		c.notice(runID, re)
		return re
	}

	found, terminal := false, false
	if err := c.do(ctx, func() {
		e, ok := c.runs[runID]
		if !ok {
			return
		}
		found = true
		terminal = e.run.Status.IsTerminal()
	}); err != nil {
		return err
	}
	if !found {
		return fail(ErrRunNotFound)
	}
	if !terminal {
		return fail(ErrRunNotFinished)
	}

	if err := c.svc.RetryTest(ctx, runID, testName); err != nil {
		return fail(err)
	}
	res, err := c.svc.GetRunResult(ctx, runID)
	if err != nil {
		return fail(err)
	}
	r, err := c.svc.GetRun(ctx, runID)
	if err != nil {
		return fail(err)
	}

	return c.do(ctx, func() {
		e, ok := c.runs[runID]
		if !ok {
			return
		}
		c.replace(e, *r, res)
		c.publishRun(RunFinalized, e)
		c.refold(e.run.RunBatchID)
	})
}

// LoadHistory rebuilds the latest batches from their persisted state.
// Finished runs get their result loaded, unfinished runs are resubscribed
// from their last known sequence number.
func (c *BatchController) LoadHistory(ctx context.Context, limit int64) ([]store.BatchRuns, error) {
	if limit <= 0 {
		limit = c.opts.HistoryLimit
	}
	list, err := c.svc.ListBatches(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("err listing batches: %w", err)
	}

	var need []int64
	if err := c.do(ctx, func() {
		for _, br := range list {
			for _, r := range br.Runs {
				if !r.Status.IsTerminal() {
					continue
				}
				if e, ok := c.runs[r.RunID]; !ok || e.result == nil {
					need = append(need, r.RunID)
				}
			}
		}
	}); err != nil {
		return nil, err
	}

	results := make(map[int64]*store.Result, len(need))
	for _, id := range need {
		res, err := c.svc.GetRunResult(ctx, id)
		if err != nil {
			log.Printf("err fetching result of run %d: %+v\n", id, err)
			continue
		}
		results[id] = res
	}

	out := make([]store.BatchRuns, 0, len(list))
	err = c.do(ctx, func() {
		for _, br := range list {
			c.register(br, results)
			if snap, ok := c.snapshotBatch(br.Batch.BatchID); ok {
				out = append(out, snap)
			}
		}
	})
	return out, err
}

// ResumeRun catches a run up through the pull endpoint and then opens a new
// live subscription from the newest sequence number.
func (c *BatchController) ResumeRun(ctx context.Context, runID int64) error {
	var since int64
	var lookupErr error
	if err := c.do(ctx, func() {
		e, ok := c.runs[runID]
		switch {
		case !ok:
			lookupErr = ErrRunNotFound
		case e.finalized:
			lookupErr = ErrRunFinalized
		default:
			c.closeSubscription(e)
			since = e.run.LastSeq
		}
	}); err != nil {
		return err
	}
	if lookupErr != nil {
		return lookupErr
	}

	evs, err := c.svc.ListRunEvents(ctx, runID, since)
	if err != nil {
		_ = c.do(context.WithoutCancel(ctx), func() {
			if e, ok := c.runs[runID]; ok && !e.finalized && e.sub == nil {
				c.subscribe(e)
			}
		})
		return fmt.Errorf("err listing events of run %d: %w", runID, err)
	}

	var terminal *events.Event
	if err := c.do(ctx, func() {
		e, ok := c.runs[runID]
		if !ok {
			return
		}
		for _, ev := range evs {
			if c.apply(ev) && ev.IsTerminal() {
				terminal = &ev
			}
		}
		if terminal == nil && !e.finalized && e.sub == nil {
			c.subscribe(e)
		}
	}); err != nil {
		return err
	}

	if terminal != nil {
		commit := c.finalizer.Finalize(ctx, Trigger{RunID: runID, Event: terminal})
		return c.do(ctx, func() { c.commit(nil, commit) })
	}
	return nil
}

func (c *BatchController) CancelRun(ctx context.Context, runID int64) error {
	var lookupErr error
	if err := c.do(ctx, func() {
		e, ok := c.runs[runID]
		if !ok {
			lookupErr = ErrRunNotFound
		} else if e.finalized || e.run.Status.IsTerminal() {
			lookupErr = ErrRunFinalized
		}
	}); err != nil {
		return err
	}
	if lookupErr != nil {
		return lookupErr
	}
	if err := c.svc.CancelRun(ctx, runID); err != nil {
		return fmt.Errorf("err cancelling run %d: %w", runID, err)
	}
	return nil
}

func (c *BatchController) Batch(ctx context.Context, batchID int64) (*store.BatchRuns, error) {
	var out store.BatchRuns
	found := false
	if err := c.do(ctx, func() { out, found = c.snapshotBatch(batchID) }); err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrBatchNotFound
	}
	return &out, nil
}

// Batches returns every known batch, newest first.
func (c *BatchController) Batches(ctx context.Context) ([]store.Batch, error) {
	var out []store.Batch
	err := c.do(ctx, func() {
		out = make([]store.Batch, 0, len(c.batches))
		for _, b := range c.batches {
			out = append(out, b.Clone())
		}
	})
	slices.SortFunc(out, func(a, b store.Batch) int {
		if n := b.CreatedOn.Compare(a.CreatedOn); n != 0 {
			return n
		}
		return cmp.Compare(b.BatchID, a.BatchID)
	})
	return out, err
}

func (c *BatchController) Run(ctx context.Context, runID int64) (*RunView, error) {
	var out *RunView
	if err := c.do(ctx, func() {
		if e, ok := c.runs[runID]; ok {
			out = e.view()
		}
	}); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrRunNotFound
	}
	return out, nil
}

// Events returns the event log of a run, newest first.
func (c *BatchController) Events(ctx context.Context, runID int64) ([]events.Event, error) {
	var out []events.Event
	found := false
	if err := c.do(ctx, func() {
		if e, ok := c.runs[runID]; ok {
			found = true
			out = e.log.Events()
		}
	}); err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrRunNotFound
	}
	return out, nil
}

func (c *BatchController) Result(ctx context.Context, runID int64) (*store.Result, error) {
	v, err := c.Run(ctx, runID)
	if err != nil {
		return nil, err
	}
	return v.Result, nil
}

func (e *runEntry) view() *RunView {
	return &RunView{
		Run:           e.run.Clone(),
		Result:        e.result.Clone(),
		ResultPending: e.resultPending,
		Finalized:     e.finalized,
		Subscribed:    e.sub != nil,
	}
}

func (c *BatchController) snapshotBatch(batchID int64) (store.BatchRuns, bool) {
	b, ok := c.batches[batchID]
	if !ok {
		return store.BatchRuns{}, false
	}
	out := store.BatchRuns{Batch: b.Clone(), Runs: make([]store.Run, 0, len(b.RunIDs))}
	for _, id := range b.RunIDs {
		if e, ok := c.runs[id]; ok {
			out.Runs = append(out.Runs, e.run.Clone())
		}
	}
	return out, true
}

// register adds or merges a batch and its runs as reported by the
// execution service. It is safe to call repeatedly with the same data.
func (c *BatchController) register(br store.BatchRuns, results map[int64]*store.Result) {
	batchID := br.Batch.BatchID
	b, ok := c.batches[batchID]
	if !ok {
		nb := br.Batch.Clone()
		nb.RunIDs = make([]int64, 0, len(br.Runs))
		for _, r := range br.Runs {
			nb.RunIDs = append(nb.RunIDs, r.RunID)
		}
		b = &nb
		c.batches[batchID] = b
	} else {
		b.Name = br.Batch.Name
	}

	for _, r := range br.Runs {
		if r.RunBatchID == nil {
			r.RunBatchID = &batchID
		}
		e, ok := c.runs[r.RunID]
		if !ok {
			e = &runEntry{
				run:      r.Clone(),
				log:      NewEventLog(c.opts.EventLogCapacity),
				progress: progressOf(r),
			}
			c.runs[r.RunID] = e
		}
		c.settle(e, r.Status, &r, results[r.RunID])
		if !e.finalized && e.sub == nil {
			c.subscribe(e)
		}
		c.publishRun(RunUpdated, e)
	}
	c.refold(&batchID)
}

func (c *BatchController) subscribe(e *runEntry) {
	ctx, cancel := context.WithCancel(c.ctx)
	s := &subscriber{
		c:        c,
		runID:    e.run.RunID,
		since:    e.run.LastSeq,
		declared: e.run.Status,
		cancel:   cancel,
	}
	e.sub = s
	c.wg.Go(func() {
		defer cancel()
		s.run(ctx)
	})
}

func (c *BatchController) closeSubscription(e *runEntry) {
	if e.sub != nil {
		e.sub.cancel()
		e.sub = nil
	}
}

func (c *BatchController) resubscribe(batchID int64) {
	b, ok := c.batches[batchID]
	if !ok {
		return
	}
	for _, id := range b.RunIDs {
		if e, ok := c.runs[id]; ok && !e.finalized && e.sub == nil {
			c.subscribe(e)
		}
	}
}

func (c *BatchController) evict(batchID int64) {
	b, ok := c.batches[batchID]
	if !ok {
		return
	}
	for _, id := range b.RunIDs {
		if e, ok := c.runs[id]; ok {
			c.closeSubscription(e)
			delete(c.runs, id)
		}
	}
	delete(c.batches, batchID)
	c.publish(Update{Kind: BatchDeleted, BatchID: batchID})
}

// apply folds one event into its run. It reports whether the event was
// taken; duplicates, events of unknown runs and events arriving after the
// run was finalized are dropped.
func (c *BatchController) apply(ev events.Event) bool {
	e, ok := c.runs[ev.RunID]
	if !ok {
		return false
	}
	if e.finalized {
		log.Printf("dropping %s event %d of finalized run %d\n", ev.Type, ev.Seq, ev.RunID)
		return false
	}
	if ev.Seq > 0 {
		if ev.Seq <= e.run.LastSeq {
			return false
		}
		e.run.LastSeq = ev.Seq
	}
	e.log.Append(ev)

	switch p := ev.Payload.(type) {
	case events.RunStarted:
		e.progress.Start(p.ProgressTotal)
		markRunning(&e.run, ev.ReceivedOn)
	case events.TestStarted:
		markRunning(&e.run, ev.ReceivedOn)
	case events.TestFinished:
		e.progress.Observe(p.ProgressDone, p.ProgressPassed, p.ProgressFailed)
		markRunning(&e.run, ev.ReceivedOn)
	case events.RunFailed:
		msg := p.Error
		e.run.ErrorMessage = &msg
	case events.RunCancelled:
		if e.run.ErrorMessage == nil && p.Reason != "" {
			msg := p.Reason
			e.run.ErrorMessage = &msg
		}
	}
	e.progress.ApplyTo(&e.run)

	c.publishRun(RunUpdated, e)
	c.refold(e.run.RunBatchID)
	return true
}

// commit applies the outcome of a finalization. Status and result change
// together in this one step.
func (c *BatchController) commit(s *subscriber, cm Commit) {
	e, ok := c.runs[cm.RunID]
	if !ok {
		return
	}
	if s != nil && e.sub == s {
		e.sub = nil
	}
	if e.finalized {
		log.Printf("dropping commit of finalized run %d\n", cm.RunID)
		return
	}
	c.settle(e, cm.Status, cm.Run, cm.Result)
	if e.finalized {
		c.publishRun(RunFinalized, e)
	} else {
		c.publishRun(RunUpdated, e)
	}
	c.refold(e.run.RunBatchID)
}

// settle merges an authoritative run record, a declared status and a
// result into e, finalizing it when the status is terminal.
func (c *BatchController) settle(
	e *runEntry,
	status store.RunStatus,
	record *store.Run,
	res *store.Result,
) {
	if e.finalized {
		if e.result == nil && res != nil {
			e.result = res.Clone()
			e.resultPending = false
		}
		return
	}

	if record != nil {
		if record.Status.Rank() > status.Rank() {
			status = record.Status
		}
		e.progress.Start(record.ProgressTotal)
		e.progress.Observe(record.ProgressDone, record.ProgressPassed, record.ProgressFailed)
		if record.ErrorMessage != nil {
			msg := *record.ErrorMessage
			e.run.ErrorMessage = &msg
		}
		if e.run.StartedOn == nil && record.StartedOn != nil {
			t := *record.StartedOn
			e.run.StartedOn = &t
		}
		if e.run.EndedOn == nil && record.EndedOn != nil {
			t := *record.EndedOn
			e.run.EndedOn = &t
		}
	}
	if status.Rank() > e.run.Status.Rank() {
		e.run.Status = status
	}

	if e.run.Status.IsTerminal() {
		e.finalized = true
		if res != nil {
			e.result = res.Clone()
			e.progress.Observe(0, res.Summary.Passed, res.Summary.Failed)
		}
		e.resultPending = e.result == nil
		if e.run.EndedOn == nil {
			now := time.Now().UTC()
			e.run.EndedOn = &now
		}
		c.closeSubscription(e)
	}
	e.progress.ApplyTo(&e.run)
}

// replace overwrites a finished run with the outcome of a retry.
func (c *BatchController) replace(e *runEntry, record store.Run, res *store.Result) {
	if record.Status.IsTerminal() {
		e.run.Status = record.Status
	}
	e.progress = progressOf(record)
	e.progress.ApplyTo(&e.run)
	e.run.ErrorMessage = record.ErrorMessage
	if record.EndedOn != nil {
		t := *record.EndedOn
		e.run.EndedOn = &t
	}
	e.result = res.Clone()
	e.resultPending = false
	e.finalized = e.run.Status.IsTerminal()
}

func (c *BatchController) refold(batchID *int64) {
	if batchID == nil {
		return
	}
	b, ok := c.batches[*batchID]
	if !ok {
		return
	}
	runs := make([]store.Run, 0, len(b.RunIDs))
	for _, id := range b.RunIDs {
		if e, ok := c.runs[id]; ok {
			runs = append(runs, e.run)
		}
	}
	next := Aggregate(*b, runs)
	if batchEqual(*b, next) {
		return
	}
	*b = next
	nb := next.Clone()
	c.publish(Update{Kind: BatchUpdated, BatchID: nb.BatchID, Batch: &nb})
}

func batchEqual(a, b store.Batch) bool {
	return a.Name == b.Name &&
		a.Status == b.Status &&
		a.TotalRuns == b.TotalRuns &&
		a.CompletedRuns == b.CompletedRuns &&
		a.PassedRuns == b.PassedRuns &&
		a.FailedRuns == b.FailedRuns &&
		timeEqual(a.StartedOn, b.StartedOn) &&
		timeEqual(a.EndedOn, b.EndedOn)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func markRunning(r *store.Run, at time.Time) {
	if r.Status.Rank() < store.StatusRunning.Rank() {
		r.Status = store.StatusRunning
	}
	if r.StartedOn == nil {
		if at.IsZero() {
			at = time.Now().UTC()
		}
		r.StartedOn = &at
	}
}
