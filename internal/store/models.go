package store

import (
	"slices"
	"time"
)

type Mode string

const (
	ModeReal Mode = "real"
	ModeMock Mode = "mock"
)

func (m Mode) IsValid() bool {
	return m == ModeReal || m == ModeMock
}

type BatchStatus string

const (
	BatchQueued    BatchStatus = "queued"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchCancelled BatchStatus = "cancelled"
)

type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusSuccess   RunStatus = "success"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transitions can follow s.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Rank orders statuses along queued -> running -> terminal.
func (s RunStatus) Rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusRunning:
		return 1
	case StatusSuccess, StatusFailed, StatusCancelled:
		return 2
	}
	return -1
}

type Batch struct {
	BatchID       int64       `json:"batch_id"       param:"batch_id"`
	Name          string      `json:"name"`
	Mode          Mode        `json:"mode"`
	Status        BatchStatus `json:"status"`
	Concurrency   int64       `json:"concurrency"`
	TotalRuns     int64       `json:"total_runs"`
	CompletedRuns int64       `json:"completed_runs"`
	PassedRuns    int64       `json:"passed_runs"`
	FailedRuns    int64       `json:"failed_runs"`
	CreatedOn     time.Time   `json:"created_on"`
	StartedOn     *time.Time  `json:"started_on,omitempty"`
	EndedOn       *time.Time  `json:"ended_on,omitempty"`

	RunIDs []int64 `json:"run_ids" db:"-"`
}

func (b Batch) Clone() Batch {
	b.RunIDs = slices.Clone(b.RunIDs)
	b.StartedOn = clonePtr(b.StartedOn)
	b.EndedOn = clonePtr(b.EndedOn)
	return b
}

type Run struct {
	RunID          int64      `json:"run_id"                  param:"run_id"`
	RunBatchID     *int64     `json:"batch_id,omitempty"`
	Target         string     `json:"target"`
	TargetVersion  string     `json:"target_version"`
	Status         RunStatus  `json:"status"`
	ProgressTotal  int64      `json:"progress_total"`
	ProgressDone   int64      `json:"progress_done"`
	ProgressPassed int64      `json:"progress_passed"`
	ProgressFailed int64      `json:"progress_failed"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	LastSeq        int64      `json:"last_seq"`
	CreatedOn      time.Time  `json:"created_on"`
	StartedOn      *time.Time `json:"started_on,omitempty"`
	EndedOn        *time.Time `json:"ended_on,omitempty"`
}

func (r Run) Clone() Run {
	r.RunBatchID = clonePtr(r.RunBatchID)
	r.ErrorMessage = clonePtr(r.ErrorMessage)
	r.StartedOn = clonePtr(r.StartedOn)
	r.EndedOn = clonePtr(r.EndedOn)
	return r
}

type TestStatus string

const (
	TestPending TestStatus = "pending"
	TestPassed  TestStatus = "passed"
	TestFailed  TestStatus = "failed"
	TestSkipped TestStatus = "skipped"
)

type TestOutcome struct {
	TestRunID  int64      `json:"-"`
	Position   int64      `json:"-"`
	Name       string     `json:"name"`
	Status     TestStatus `json:"status"`
	DurationMs int64      `json:"duration_ms"`
	Error      *string    `json:"error,omitempty"`
	Attempts   int64      `json:"attempts"`
}

type ResultSummary struct {
	Total  int64 `json:"total"`
	Passed int64 `json:"passed"`
	Failed int64 `json:"failed"`
}

// Result is the authoritative terminal payload of a run.
type Result struct {
	RunID   int64         `json:"run_id"`
	Summary ResultSummary `json:"summary"`
	Tests   []TestOutcome `json:"tests"`
}

func NewResult(runID int64, tests []TestOutcome) *Result {
	r := &Result{RunID: runID, Tests: tests}
	r.Summary = Summarize(tests)
	return r
}

func Summarize(tests []TestOutcome) ResultSummary {
	s := ResultSummary{Total: int64(len(tests))}
	for _, t := range tests {
		switch t.Status {
		case TestPassed:
			s.Passed++
		case TestFailed:
			s.Failed++
		}
	}
	return s
}

func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	c.Tests = make([]TestOutcome, len(r.Tests))
	for i, t := range r.Tests {
		t.Error = clonePtr(t.Error)
		c.Tests[i] = t
	}
	return &c
}

// Test returns the outcome of the named test, or nil.
func (r *Result) Test(name string) *TestOutcome {
	for i := range r.Tests {
		if r.Tests[i].Name == name {
			return &r.Tests[i]
		}
	}
	return nil
}

// RunEvent is a persisted event row. Data holds the JSON payload.
type RunEvent struct {
	EventRunID int64     `json:"run_id"`
	Seq        int64     `json:"seq"`
	Type       string    `json:"type"`
	Data       string    `json:"data"`
	CreatedOn  time.Time `json:"created_on"`
}

type RunSpec struct {
	Target  string `json:"target"`
	Version string `json:"version"`
}

type BatchRequest struct {
	Name        string    `json:"name"`
	Mode        Mode      `json:"mode"`
	Concurrency int64     `json:"concurrency"`
	Runs        []RunSpec `json:"runs"`
}

// BatchRuns is a batch together with its owned runs in batch order.
type BatchRuns struct {
	Batch Batch `json:"batch"`
	Runs  []Run `json:"runs"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
