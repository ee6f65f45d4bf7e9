package store

import (
	"context"
	"database/sql"

	"github.com/georgysavva/scany/v2/sqlscan"
)

type RunTestSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewRunTestSQLiteStore(rdb, rwdb *sql.DB) *RunTestSQLiteStore {
	return &RunTestSQLiteStore{rdb, rwdb}
}

// CreateRunTests registers the planned tests of a run as pending, in order.
func (store *RunTestSQLiteStore) CreateRunTests(
	ctx context.Context,
	runID int64,
	names []string,
) error {
	tx, err := store.rwdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `insert into run_tests (test_run_id, position, name, status)
	values ($1, $2, $3, $4)`
	for i, name := range names {
		if _, err := tx.ExecContext(ctx, query, runID, i, name, TestPending); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (store *RunTestSQLiteStore) UpdateRunTest(
	ctx context.Context,
	runID int64,
	t *TestOutcome,
) error {
	query := `update run_tests
	set status = $1,
		duration_ms = $2,
		error = $3,
		attempts = attempts + 1
	where test_run_id = $4 and name = $5`
	res, err := store.rwdb.ExecContext(
		ctx, query,
		t.Status,
		t.DurationMs,
		t.Error,
		runID,
		t.Name,
	)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (store *RunTestSQLiteStore) ListRunTests(
	ctx context.Context,
	runID int64,
) ([]TestOutcome, error) {
	query := `select * from run_tests
	where test_run_id = $1
	order by position`
	tests := make([]TestOutcome, 0)
	err := sqlscan.Select(ctx, store.rdb, &tests, query, runID)
	return tests, err
}
