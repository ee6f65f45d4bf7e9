package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/haatos/runbatch/internal"
)

type RunSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewRunSQLiteStore(rdb, rwdb *sql.DB) *RunSQLiteStore {
	return &RunSQLiteStore{rdb, rwdb}
}

func (store *RunSQLiteStore) ReadRunByID(ctx context.Context, id int64) (*Run, error) {
	r := &Run{RunID: id}
	query := "select * from runs where run_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, r, query, r.RunID); err != nil {
		return nil, err
	}
	return r, nil
}

func (store *RunSQLiteStore) UpdateRunStartedOn(
	ctx context.Context,
	id int64,
	total int64,
	startedOn *time.Time,
) error {
	query := `update runs
	set status = $1,
		progress_total = $2,
		started_on = $3
	where run_id = $4`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		StatusRunning,
		total,
		startedOn.UTC().Format(internal.DBTimestampLayout),
		id,
	)
	return err
}

// UpdateRunProgress never lowers a counter.
func (store *RunSQLiteStore) UpdateRunProgress(
	ctx context.Context,
	id int64,
	done, passed, failed int64,
) error {
	query := `update runs
	set progress_done = max(progress_done, $1),
		progress_passed = max(progress_passed, $2),
		progress_failed = max(progress_failed, $3)
	where run_id = $4`
	_, err := store.rwdb.ExecContext(ctx, query, done, passed, failed, id)
	return err
}

func (store *RunSQLiteStore) UpdateRunEndedOn(
	ctx context.Context,
	id int64,
	status RunStatus,
	errorMessage *string,
	endedOn *time.Time,
) error {
	query := `update runs
	set status = $1,
		error_message = $2,
		ended_on = $3
	where run_id = $4`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		status,
		errorMessage,
		endedOn.UTC().Format(internal.DBTimestampLayout),
		id,
	)
	return err
}

// UpdateRunOutcome rewrites status and pass/fail counters after a single test retry.
func (store *RunSQLiteStore) UpdateRunOutcome(
	ctx context.Context,
	id int64,
	status RunStatus,
	passed, failed int64,
) error {
	query := `update runs
	set status = $1,
		progress_passed = $2,
		progress_failed = $3
	where run_id = $4`
	res, err := store.rwdb.ExecContext(ctx, query, status, passed, failed, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (store *RunSQLiteStore) ListBatchRuns(ctx context.Context, batchID int64) ([]Run, error) {
	query := `select * from runs
	where run_batch_id = $1
	order by run_id`
	runs := make([]Run, 0)
	err := sqlscan.Select(ctx, store.rdb, &runs, query, batchID)
	return runs, err
}

func (store *RunSQLiteStore) ListUnfinishedRuns(ctx context.Context) ([]Run, error) {
	query := `select * from runs
	where status in ($1, $2)
	order by run_id`
	runs := make([]Run, 0)
	err := sqlscan.Select(ctx, store.rdb, &runs, query, StatusQueued, StatusRunning)
	return runs, err
}
