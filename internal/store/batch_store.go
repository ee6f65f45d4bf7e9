package store

import (
	"context"
	"time"
)

type BatchStore interface {
	CreateBatch(context.Context, BatchRequest) (*BatchRuns, error)
	ReadBatchByID(context.Context, int64) (*BatchRuns, error)
	UpdateBatchName(context.Context, int64, string) error
	UpdateBatchCounts(context.Context, *Batch) error
	DeleteBatch(context.Context, int64) error
	ListLatestBatches(context.Context, int64) ([]BatchRuns, error)
	DeleteBatchesEndedBefore(context.Context, time.Time) (int64, error)
}
