package service

import (
	"context"

	"github.com/haatos/runbatch/internal/events"
	"github.com/haatos/runbatch/internal/store"
)

type BatchReader interface {
	GetBatch(ctx context.Context, batchID int64) (*store.BatchRuns, error)
	ListBatches(ctx context.Context, limit int64) ([]store.BatchRuns, error)
}

type BatchWriter interface {
	CreateBatch(ctx context.Context, br store.BatchRequest) (*store.BatchRuns, error)
	RenameBatch(ctx context.Context, batchID int64, name string) error
	DeleteBatch(ctx context.Context, batchID int64) error
}

type RunReader interface {
	GetRun(ctx context.Context, runID int64) (*store.Run, error)
	GetRunResult(ctx context.Context, runID int64) (*store.Result, error)
	ListRunEvents(ctx context.Context, runID, since int64) ([]events.Event, error)
}

type RunWriter interface {
	RetryTest(ctx context.Context, runID int64, testName string) error
	CancelRun(ctx context.Context, runID int64) error
}

type EventSubscriber interface {
	SubscribeRunEvents(ctx context.Context, runID, since int64) (events.Stream, error)
}

// ExecutionService is the remote service that owns batch allocation and
// test execution.
type ExecutionService interface {
	BatchReader
	BatchWriter
	RunReader
	RunWriter
	EventSubscriber
}
