package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/haatos/runbatch/internal"
)

type BatchSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewBatchSQLiteStore(rdb, rwdb *sql.DB) *BatchSQLiteStore {
	return &BatchSQLiteStore{rdb, rwdb}
}

// CreateBatch inserts the batch and one queued run per spec in a single transaction.
func (store *BatchSQLiteStore) CreateBatch(
	ctx context.Context,
	req BatchRequest,
) (*BatchRuns, error) {
	tx, err := store.rwdb.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	b := &Batch{
		Name:        req.Name,
		Mode:        req.Mode,
		Status:      BatchQueued,
		Concurrency: req.Concurrency,
		TotalRuns:   int64(len(req.Runs)),
	}
	batchQuery := `insert into batches (
		name,
		mode,
		status,
		concurrency,
		total_runs
	)
	values ($1, $2, $3, $4, $5)
	returning batch_id, created_on`
	if err := sqlscan.Get(
		ctx, tx, b, batchQuery,
		b.Name, b.Mode, b.Status, b.Concurrency, b.TotalRuns,
	); err != nil {
		return nil, err
	}

	runs := make([]Run, 0, len(req.Runs))
	runQuery := `insert into runs (
		run_batch_id,
		target,
		target_version,
		status
	)
	values ($1, $2, $3, $4)
	returning run_id, created_on`
	for _, spec := range req.Runs {
		r := Run{
			RunBatchID:    &b.BatchID,
			Target:        spec.Target,
			TargetVersion: spec.Version,
			Status:        StatusQueued,
		}
		if err := sqlscan.Get(
			ctx, tx, &r, runQuery,
			b.BatchID, r.Target, r.TargetVersion, r.Status,
		); err != nil {
			return nil, err
		}
		r.RunBatchID = &b.BatchID
		runs = append(runs, r)
		b.RunIDs = append(b.RunIDs, r.RunID)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &BatchRuns{Batch: *b, Runs: runs}, nil
}

func (store *BatchSQLiteStore) ReadBatchByID(ctx context.Context, id int64) (*BatchRuns, error) {
	b := &Batch{}
	query := "select * from batches where batch_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, b, query, id); err != nil {
		return nil, err
	}
	runs, err := store.listBatchRuns(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		b.RunIDs = append(b.RunIDs, r.RunID)
	}
	return &BatchRuns{Batch: *b, Runs: runs}, nil
}

func (store *BatchSQLiteStore) listBatchRuns(ctx context.Context, batchID int64) ([]Run, error) {
	query := `select * from runs
	where run_batch_id = $1
	order by run_id`
	runs := make([]Run, 0)
	err := sqlscan.Select(ctx, store.rdb, &runs, query, batchID)
	return runs, err
}

func (store *BatchSQLiteStore) UpdateBatchName(ctx context.Context, id int64, name string) error {
	query := `update batches set name = $1 where batch_id = $2`
	res, err := store.rwdb.ExecContext(ctx, query, name, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (store *BatchSQLiteStore) UpdateBatchCounts(ctx context.Context, b *Batch) error {
	query := `update batches
	set status = $1,
		completed_runs = $2,
		passed_runs = $3,
		failed_runs = $4,
		started_on = $5,
		ended_on = $6
	where batch_id = $7`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		b.Status,
		b.CompletedRuns,
		b.PassedRuns,
		b.FailedRuns,
		formatTimestamp(b.StartedOn),
		formatTimestamp(b.EndedOn),
		b.BatchID,
	)
	return err
}

func (store *BatchSQLiteStore) DeleteBatch(ctx context.Context, id int64) error {
	query := "delete from batches where batch_id = $1"
	res, err := store.rwdb.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (store *BatchSQLiteStore) ListLatestBatches(
	ctx context.Context,
	limit int64,
) ([]BatchRuns, error) {
	query := `select * from batches
	order by created_on desc, batch_id desc limit $1`
	batches := make([]Batch, 0)
	if err := sqlscan.Select(ctx, store.rdb, &batches, query, limit); err != nil {
		return nil, err
	}
	out := make([]BatchRuns, 0, len(batches))
	for _, b := range batches {
		runs, err := store.listBatchRuns(ctx, b.BatchID)
		if err != nil {
			return nil, err
		}
		for _, r := range runs {
			b.RunIDs = append(b.RunIDs, r.RunID)
		}
		out = append(out, BatchRuns{Batch: b, Runs: runs})
	}
	return out, nil
}

func (store *BatchSQLiteStore) DeleteBatchesEndedBefore(
	ctx context.Context,
	before time.Time,
) (int64, error) {
	query := `delete from batches
	where status = $1 and ended_on is not null and ended_on < $2`
	res, err := store.rwdb.ExecContext(
		ctx, query,
		BatchCompleted,
		before.UTC().Format(internal.DBTimestampLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func formatTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(internal.DBTimestampLayout)
	return &s
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
