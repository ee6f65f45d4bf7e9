package simulator

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/haatos/runbatch/internal/events"
	"github.com/haatos/runbatch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type simFixture struct {
	sim    *Simulator
	batch  *store.BatchSQLiteStore
	runs   *store.RunSQLiteStore
	events *store.RunEventSQLiteStore
	tests  *store.RunTestSQLiteStore
}

func newSimFixture(t *testing.T, timeScale float64) *simFixture {
	t.Helper()
	suite, err := LoadSuite("")
	require.NoError(t, err)
	return newSuiteFixture(t, timeScale, suite)
}

func newSuiteFixture(t *testing.T, timeScale float64, suite *Suite) *simFixture {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "sim.sqlite"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)
	store.RunMigrations(db)

	f := &simFixture{
		batch:  store.NewBatchSQLiteStore(db, db),
		runs:   store.NewRunSQLiteStore(db, db),
		events: store.NewRunEventSQLiteStore(db, db),
		tests:  store.NewRunTestSQLiteStore(db, db),
	}
	f.sim = NewSimulator(f.batch, f.runs, f.events, f.tests, suite, Options{
		QueueSize: 10,
		TimeScale: timeScale,
	})
	t.Cleanup(func() {
		f.sim.Shutdown()
		db.Close()
	})
	return f
}

func (f *simFixture) waitBatch(t *testing.T, batchID int64, status store.BatchStatus) *store.BatchRuns {
	t.Helper()
	var br *store.BatchRuns
	require.Eventually(t, func() bool {
		var err error
		br, err = f.sim.GetBatch(context.Background(), batchID)
		return err == nil && br.Batch.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return br
}

func (f *simFixture) waitRun(t *testing.T, runID int64, status store.RunStatus) *store.Run {
	t.Helper()
	var r *store.Run
	require.Eventually(t, func() bool {
		var err error
		r, err = f.sim.GetRun(context.Background(), runID)
		return err == nil && r.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return r
}

func eventTypes(res []store.RunEvent) []string {
	out := make([]string, 0, len(res))
	for _, re := range res {
		out = append(out, re.Type)
	}
	return out
}

func TestSimulator_CreateBatch(t *testing.T) {
	t.Run("success - runs execute to completion", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 0)
		ctx := context.Background()

		// act
		br, err := f.sim.CreateBatch(ctx, store.BatchRequest{
			Name:        "nightly",
			Concurrency: 2,
			Runs: []store.RunSpec{
				{Target: "weather", Version: "v3"},
				{Target: "petstore", Version: "v1"},
			},
		})

		// assert
		require.NoError(t, err)
		assert.Equal(t, store.ModeMock, br.Batch.Mode)
		require.Len(t, br.Runs, 2)

		done := f.waitBatch(t, br.Batch.BatchID, store.BatchCompleted)
		assert.Equal(t, int64(2), done.Batch.CompletedRuns)
		assert.Equal(t, int64(1), done.Batch.PassedRuns)
		assert.Equal(t, int64(1), done.Batch.FailedRuns)
		assert.NotNil(t, done.Batch.EndedOn)

		weather := br.Runs[0].RunID
		res, err := f.sim.ListRunEvents(ctx, weather, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"run_started",
			"test_started", "test_finished",
			"test_started", "test_finished",
			"run_finished",
		}, eventTypes(res))
		for i, re := range res {
			assert.Equal(t, int64(i+1), re.Seq)
		}
		last := events.FromRunEvent(res[len(res)-1])
		assert.Equal(t, store.StatusSuccess, last.Payload.(events.RunFinished).Status)

		petstore := br.Runs[1].RunID
		result, err := f.sim.GetRunResult(ctx, petstore)
		require.NoError(t, err)
		assert.Equal(t, store.ResultSummary{Total: 3, Passed: 2, Failed: 1}, result.Summary)
		assert.Equal(t, store.TestFailed, result.Test("create pet").Status)

		res, err = f.sim.ListRunEvents(ctx, petstore, 0)
		require.NoError(t, err)
		assert.Contains(t, eventTypes(res), "run_failed")
	})
	t.Run("failure - unknown target", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 0)

		// act
		_, err := f.sim.CreateBatch(context.Background(), store.BatchRequest{
			Runs: []store.RunSpec{{Target: "nope", Version: "v1"}},
		})

		// assert
		var ute *UnknownTargetError
		assert.ErrorAs(t, err, &ute)
	})
	t.Run("failure - no runs", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 0)

		// act
		_, err := f.sim.CreateBatch(context.Background(), store.BatchRequest{})

		// assert
		assert.ErrorIs(t, err, ErrNoRuns)
	})
	t.Run("failure - more runs than the queue holds", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 0)
		runs := make([]store.RunSpec, 11)
		for i := range runs {
			runs[i] = store.RunSpec{Target: "weather", Version: "v3"}
		}

		// act
		_, err := f.sim.CreateBatch(context.Background(), store.BatchRequest{Runs: runs})

		// assert
		var full *ErrRunQueueFull
		assert.ErrorAs(t, err, &full)
	})
}

func TestSimulator_RetryTest(t *testing.T) {
	t.Run("success - flaky test passes on retry", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 0)
		ctx := context.Background()
		br, err := f.sim.CreateBatch(ctx, store.BatchRequest{
			Runs: []store.RunSpec{{Target: "petstore", Version: "v2"}},
		})
		require.NoError(t, err)
		f.waitBatch(t, br.Batch.BatchID, store.BatchCompleted)
		runID := br.Runs[0].RunID

		// act
		err = f.sim.RetryTest(ctx, runID, "create pet")

		// assert
		require.NoError(t, err)
		r, err := f.sim.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, store.StatusSuccess, r.Status)
		assert.Equal(t, int64(3), r.ProgressPassed)
		assert.Equal(t, int64(0), r.ProgressFailed)

		result, err := f.sim.GetRunResult(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.Test("create pet").Attempts)

		b, err := f.sim.GetBatch(ctx, br.Batch.BatchID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), b.Batch.PassedRuns)
		assert.Equal(t, int64(0), b.Batch.FailedRuns)
	})
	t.Run("failure - test keeps failing", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 0)
		ctx := context.Background()
		br, err := f.sim.CreateBatch(ctx, store.BatchRequest{
			Runs: []store.RunSpec{{Target: "billing", Version: "2024-01"}},
		})
		require.NoError(t, err)
		f.waitBatch(t, br.Batch.BatchID, store.BatchCompleted)
		runID := br.Runs[0].RunID

		// act
		err = f.sim.RetryTest(ctx, runID, "refund invoice")

		// assert
		require.NoError(t, err)
		r, err := f.sim.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, store.StatusFailed, r.Status)
	})
	t.Run("failure - unknown test", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 0)
		ctx := context.Background()
		br, err := f.sim.CreateBatch(ctx, store.BatchRequest{
			Runs: []store.RunSpec{{Target: "weather", Version: "v3"}},
		})
		require.NoError(t, err)
		f.waitBatch(t, br.Batch.BatchID, store.BatchCompleted)

		// act
		err = f.sim.RetryTest(ctx, br.Runs[0].RunID, "nope")

		// assert
		var ute *UnknownTestError
		assert.ErrorAs(t, err, &ute)
	})
	t.Run("success - concurrent retries on one run keep record and result in step", func(t *testing.T) {
		// arrange
		suite, err := ParseSuite([]byte(`
targets:
  - name: inventory
    versions: [v1]
    tests:
      - name: a
        duration_ms: 20
        outcome: fail
        flaky: true
      - name: b
        duration_ms: 20
        outcome: fail
        flaky: true
`))
		require.NoError(t, err)
		f := newSuiteFixture(t, 1, suite)
		ctx := context.Background()
		br, err := f.sim.CreateBatch(ctx, store.BatchRequest{
			Runs: []store.RunSpec{{Target: "inventory", Version: "v1"}},
		})
		require.NoError(t, err)
		f.waitBatch(t, br.Batch.BatchID, store.BatchCompleted)
		runID := br.Runs[0].RunID

		// act
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, name := range []string{"a", "b"} {
			wg.Go(func() { errs[i] = f.sim.RetryTest(ctx, runID, name) })
		}
		wg.Wait()

		// assert
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		result, err := f.sim.GetRunResult(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, store.ResultSummary{Total: 2, Passed: 2, Failed: 0}, result.Summary)

		r, err := f.sim.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, store.StatusSuccess, r.Status)
		assert.Equal(t, int64(2), r.ProgressPassed)
		assert.Equal(t, int64(0), r.ProgressFailed)

		b, err := f.sim.GetBatch(ctx, br.Batch.BatchID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), b.Batch.PassedRuns)
		assert.Equal(t, int64(0), b.Batch.FailedRuns)
	})
	t.Run("failure - cancelled retry writes nothing", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 1)
		ctx := context.Background()
		br, err := f.sim.CreateBatch(ctx, store.BatchRequest{
			Runs: []store.RunSpec{{Target: "petstore", Version: "v1"}},
		})
		require.NoError(t, err)
		f.waitBatch(t, br.Batch.BatchID, store.BatchCompleted)
		runID := br.Runs[0].RunID
		short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		// act
		err = f.sim.RetryTest(short, runID, "create pet")

		// assert
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		result, err := f.sim.GetRunResult(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, store.TestFailed, result.Test("create pet").Status)
		assert.Equal(t, int64(1), result.Test("create pet").Attempts)
	})
	t.Run("failure - unknown run", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 0)

		// act
		err := f.sim.RetryTest(context.Background(), 999, "x")

		// assert
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}

func TestSimulator_CancelRun(t *testing.T) {
	t.Run("success - running run ends cancelled", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 100)
		ctx := context.Background()
		br, err := f.sim.CreateBatch(ctx, store.BatchRequest{
			Runs: []store.RunSpec{{Target: "weather", Version: "v3"}},
		})
		require.NoError(t, err)
		runID := br.Runs[0].RunID
		f.waitRun(t, runID, store.StatusRunning)

		_, err = f.sim.GetRunResult(ctx, runID)
		assert.ErrorIs(t, err, ErrRunNotFinished)

		// act
		err = f.sim.CancelRun(ctx, runID)

		// assert
		require.NoError(t, err)
		r := f.waitRun(t, runID, store.StatusCancelled)
		assert.NotNil(t, r.ErrorMessage)

		res, err := f.sim.ListRunEvents(ctx, runID, 0)
		require.NoError(t, err)
		types := eventTypes(res)
		assert.Equal(t, "run_finished", types[len(types)-1])
		assert.Equal(t, "run_cancelled", types[len(types)-2])

		result, err := f.sim.GetRunResult(ctx, runID)
		require.NoError(t, err)
		for _, to := range result.Tests {
			assert.Equal(t, store.TestSkipped, to.Status)
		}
		f.waitBatch(t, br.Batch.BatchID, store.BatchCompleted)
	})
	t.Run("failure - finished run cannot be cancelled", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 0)
		ctx := context.Background()
		br, err := f.sim.CreateBatch(ctx, store.BatchRequest{
			Runs: []store.RunSpec{{Target: "weather", Version: "v3"}},
		})
		require.NoError(t, err)
		f.waitBatch(t, br.Batch.BatchID, store.BatchCompleted)

		// act
		err = f.sim.CancelRun(ctx, br.Runs[0].RunID)

		// assert
		assert.ErrorIs(t, err, ErrRunNotActive)
	})
}

func TestSimulator_SubscribeRunEvents(t *testing.T) {
	t.Run("success - live events arrive in order", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 1)
		ctx := context.Background()
		br, err := f.sim.CreateBatch(ctx, store.BatchRequest{
			Runs: []store.RunSpec{{Target: "weather", Version: "v3"}},
		})
		require.NoError(t, err)
		runID := br.Runs[0].RunID

		// act
		uid, ch := f.sim.SubscribeRunEvents(runID)
		defer f.sim.UnsubscribeRunEvents(runID, uid)

		// assert
		var last int64
		timeout := time.After(5 * time.Second)
		for {
			select {
			case re := <-ch:
				assert.Greater(t, re.Seq, last)
				last = re.Seq
				if re.Type == string(events.TypeRunFinished) {
					return
				}
			case <-timeout:
				t.Fatal("run_finished was not delivered")
			}
		}
	})
}

func TestSimulator_DeleteBatch(t *testing.T) {
	t.Run("success - batch and runs are removed", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 100)
		ctx := context.Background()
		br, err := f.sim.CreateBatch(ctx, store.BatchRequest{
			Runs: []store.RunSpec{{Target: "weather", Version: "v3"}},
		})
		require.NoError(t, err)
		runID := br.Runs[0].RunID
		_, ch := f.sim.SubscribeRunEvents(runID)

		// act
		err = f.sim.DeleteBatch(ctx, br.Batch.BatchID)

		// assert
		require.NoError(t, err)
		_, err = f.sim.GetBatch(ctx, br.Batch.BatchID)
		assert.ErrorIs(t, err, sql.ErrNoRows)
		_, err = f.sim.GetRun(ctx, runID)
		assert.ErrorIs(t, err, sql.ErrNoRows)
		for range ch {
		}
	})
	t.Run("failure - unknown batch", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 0)

		// act
		err := f.sim.DeleteBatch(context.Background(), 404)

		// assert
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}

func TestSimulator_RenameBatch(t *testing.T) {
	t.Run("success - batch is renamed", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 0)
		ctx := context.Background()
		br, err := f.sim.CreateBatch(ctx, store.BatchRequest{
			Runs: []store.RunSpec{{Target: "weather", Version: "v3"}},
		})
		require.NoError(t, err)

		// act
		err = f.sim.RenameBatch(ctx, br.Batch.BatchID, "  smoke  ")

		// assert
		require.NoError(t, err)
		got, err := f.sim.GetBatch(ctx, br.Batch.BatchID)
		require.NoError(t, err)
		assert.Equal(t, "smoke", got.Batch.Name)
	})
}

func TestSimulator_RecoverUnfinishedRuns(t *testing.T) {
	t.Run("success - orphaned runs are cancelled", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 0)
		ctx := context.Background()
		br, err := f.batch.CreateBatch(ctx, store.BatchRequest{
			Name: "orphan",
			Mode: store.ModeMock,
			Runs: []store.RunSpec{{Target: "weather", Version: "v3"}},
		})
		require.NoError(t, err)
		runID := br.Runs[0].RunID
		require.NoError(t, f.tests.CreateRunTests(ctx, runID, []string{"current conditions", "forecast"}))

		// act
		err = f.sim.RecoverUnfinishedRuns(ctx)

		// assert
		require.NoError(t, err)
		r, err := f.sim.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, store.StatusCancelled, r.Status)
		res, err := f.sim.ListRunEvents(ctx, runID, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"run_cancelled", "run_finished"}, eventTypes(res))

		b, err := f.sim.GetBatch(ctx, br.Batch.BatchID)
		require.NoError(t, err)
		assert.Equal(t, store.BatchCompleted, b.Batch.Status)
	})
}

func TestPruneBatches(t *testing.T) {
	t.Run("success - completed batches are pruned", func(t *testing.T) {
		// arrange
		f := newSimFixture(t, 0)
		ctx := context.Background()
		br, err := f.sim.CreateBatch(ctx, store.BatchRequest{
			Runs: []store.RunSpec{{Target: "weather", Version: "v3"}},
		})
		require.NoError(t, err)
		f.waitBatch(t, br.Batch.BatchID, store.BatchCompleted)

		// act
		kept, err := PruneBatches(ctx, f.batch, time.Hour)
		require.NoError(t, err)
		pruned, err := PruneBatches(ctx, f.batch, -time.Hour)

		// assert
		require.NoError(t, err)
		assert.Equal(t, int64(0), kept)
		assert.Equal(t, int64(1), pruned)
	})
}
