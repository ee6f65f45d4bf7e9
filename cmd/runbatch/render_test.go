package main

import (
	"testing"
	"time"

	"github.com/haatos/runbatch/internal/events"
	"github.com/haatos/runbatch/internal/service"
	"github.com/haatos/runbatch/internal/store"
	"github.com/haatos/runbatch/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTargets(t *testing.T) {
	t.Run("success - targets with versions", func(t *testing.T) {
		// act
		specs, err := parseTargets([]string{"petstore@v1", " weather @ v3 "})

		// assert
		require.NoError(t, err)
		assert.Equal(t, []store.RunSpec{
			{Target: "petstore", Version: "v1"},
			{Target: "weather", Version: "v3"},
		}, specs)
	})

	t.Run("failure - missing version", func(t *testing.T) {
		// act
		_, err := parseTargets([]string{"petstore@v1", "billing"})

		// assert
		assert.ErrorContains(t, err, `"billing"`)
	})

	t.Run("failure - empty target", func(t *testing.T) {
		// act
		_, err := parseTargets([]string{"@v1"})

		// assert
		assert.Error(t, err)
	})
}

func TestProgressBar(t *testing.T) {
	t.Run("success - partially done", func(t *testing.T) {
		assert.Equal(t, "█████░░░░░", progressBar(1, 2, 10))
	})

	t.Run("success - nothing to do", func(t *testing.T) {
		assert.Equal(t, "░░░░", progressBar(0, 0, 4))
	})

	t.Run("success - done is clamped to total", func(t *testing.T) {
		assert.Equal(t, "████", progressBar(7, 3, 4))
	})
}

func TestRenderBatch(t *testing.T) {
	// arrange
	b := store.Batch{
		BatchID:       7,
		Name:          "nightly petstore",
		Status:        store.BatchRunning,
		TotalRuns:     4,
		CompletedRuns: 2,
		PassedRuns:    1,
		FailedRuns:    1,
		CreatedOn:     time.Now().Add(-3 * time.Minute),
	}

	// act
	out := renderBatch(b, 80)

	// assert
	assert.Contains(t, out, "#7")
	assert.Contains(t, out, "nightly petstore")
	assert.Contains(t, out, "2/4 done")
	assert.Contains(t, out, "3 minutes ago")
}

func TestRenderResult(t *testing.T) {
	// arrange
	res := store.NewResult(3, []store.TestOutcome{
		{Name: "list pets", Status: store.TestPassed, DurationMs: 120, Attempts: 1},
		{
			Name:       "create pet",
			Status:     store.TestFailed,
			DurationMs: 80,
			Attempts:   2,
			Error:      util.AsPtr(`assertion failed in "create pet"`),
		},
	})

	// act
	out := renderResult(res)

	// assert
	assert.Contains(t, out, "2 tests, 1 passed, 1 failed")
	assert.Contains(t, out, "list pets")
	assert.Contains(t, out, "attempt 2")
	assert.Contains(t, out, `assertion failed in "create pet"`)
}

func TestRenderEvent(t *testing.T) {
	t.Run("success - test finished", func(t *testing.T) {
		// arrange
		ev := events.Event{
			RunID: 1,
			Seq:   3,
			Type:  events.TypeTestFinished,
			Payload: events.TestFinished{
				TestName:   "get pet by id",
				TestStatus: store.TestPassed,
				DurationMs: 45,
			},
		}

		// act
		out := renderEvent(ev)

		// assert
		assert.Contains(t, out, "test_finished")
		assert.Contains(t, out, "get pet by id")
		assert.Contains(t, out, "45ms")
	})

	t.Run("success - diagnostic", func(t *testing.T) {
		// arrange
		ev := events.Decode(1, 4, "heartbeat", []byte(`{"n":1}`))

		// act
		out := renderEvent(ev)

		// assert
		assert.Contains(t, out, "heartbeat")
	})
}

func TestResumeHint(t *testing.T) {
	t.Run("success - unsubscribed unfinished run points to resume", func(t *testing.T) {
		// arrange
		u := service.Update{
			Kind:  service.RunUpdated,
			RunID: 12,
			Run:   &store.Run{RunID: 12, Status: store.StatusRunning},
		}

		// act
		hint := resumeHint(u)

		// assert
		assert.Contains(t, hint, "runbatch resume 12")
	})

	t.Run("success - subscribed run needs no hint", func(t *testing.T) {
		// arrange
		u := service.Update{
			Kind:       service.RunUpdated,
			RunID:      12,
			Run:        &store.Run{RunID: 12, Status: store.StatusRunning},
			Subscribed: true,
		}

		// act & assert
		assert.Empty(t, resumeHint(u))
	})

	t.Run("success - finished run needs no hint", func(t *testing.T) {
		// arrange
		u := service.Update{
			Kind:  service.RunUpdated,
			RunID: 12,
			Run:   &store.Run{RunID: 12, Status: store.StatusFailed},
		}

		// act & assert
		assert.Empty(t, resumeHint(u))
	})
}
