package store

import (
	"context"
	"database/sql"

	"github.com/georgysavva/scany/v2/sqlscan"
)

type RunEventSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewRunEventSQLiteStore(rdb, rwdb *sql.DB) *RunEventSQLiteStore {
	return &RunEventSQLiteStore{rdb, rwdb}
}

// AppendRunEvent assigns the next sequence number of the run to the event
// and mirrors it into runs.last_seq.
func (store *RunEventSQLiteStore) AppendRunEvent(
	ctx context.Context,
	runID int64,
	eventType, data string,
) (*RunEvent, error) {
	tx, err := store.rwdb.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ev := &RunEvent{EventRunID: runID, Type: eventType, Data: data}
	insertQuery := `insert into run_events (event_run_id, seq, type, data)
	values (
		$1,
		(select coalesce(max(seq), 0) + 1 from run_events where event_run_id = $1),
		$2,
		$3
	)
	returning seq, created_on`
	if err := sqlscan.Get(ctx, tx, ev, insertQuery, runID, eventType, data); err != nil {
		return nil, err
	}

	updateQuery := `update runs set last_seq = $1 where run_id = $2`
	if _, err := tx.ExecContext(ctx, updateQuery, ev.Seq, runID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ev, nil
}

func (store *RunEventSQLiteStore) ListRunEvents(
	ctx context.Context,
	runID, since int64,
) ([]RunEvent, error) {
	query := `select * from run_events
	where event_run_id = $1 and seq > $2
	order by seq`
	evs := make([]RunEvent, 0)
	err := sqlscan.Select(ctx, store.rdb, &evs, query, runID, since)
	return evs, err
}
