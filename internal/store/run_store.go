package store

import (
	"context"
	"time"
)

type RunStore interface {
	ReadRunByID(context.Context, int64) (*Run, error)
	UpdateRunStartedOn(context.Context, int64, int64, *time.Time) error
	UpdateRunProgress(context.Context, int64, int64, int64, int64) error
	UpdateRunEndedOn(context.Context, int64, RunStatus, *string, *time.Time) error
	UpdateRunOutcome(context.Context, int64, RunStatus, int64, int64) error
	ListBatchRuns(context.Context, int64) ([]Run, error)
	ListUnfinishedRuns(context.Context) ([]Run, error)
}
