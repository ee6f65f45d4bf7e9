package events

import (
	"testing"

	"github.com/haatos/runbatch/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestDecode(t *testing.T) {
	t.Run("success - run_started carries total", func(t *testing.T) {
		// act
		ev := Decode(7, 1, "run_started", []byte(`{"progress_total":2}`))

		// assert
		assert.Equal(t, int64(7), ev.RunID)
		assert.Equal(t, int64(1), ev.Seq)
		assert.Equal(t, TypeRunStarted, ev.Type)
		assert.Equal(t, RunStarted{ProgressTotal: 2}, ev.Payload)
		status, ok := ev.DeclaredStatus()
		assert.True(t, ok)
		assert.Equal(t, store.StatusRunning, status)
	})
	t.Run("success - test_finished carries counters", func(t *testing.T) {
		// act
		ev := Decode(7, 3, "test_finished", []byte(
			`{"test_name":"list pets","test_status":"passed","progress_done":1,"progress_passed":1,"progress_failed":0}`,
		))

		// assert
		tf, ok := ev.Payload.(TestFinished)
		assert.True(t, ok)
		assert.Equal(t, "list pets", tf.TestName)
		assert.Equal(t, store.TestPassed, tf.TestStatus)
		assert.Equal(t, int64(1), tf.ProgressDone)
		assert.Equal(t, int64(1), tf.ProgressPassed)
	})
	t.Run("success - run_finished is terminal with its status", func(t *testing.T) {
		// act
		ev := Decode(7, 9, "run_finished", []byte(`{"status":"failed","summary":{"total":2,"passed":1,"failed":1}}`))

		// assert
		assert.True(t, ev.IsTerminal())
		status, ok := ev.DeclaredStatus()
		assert.True(t, ok)
		assert.Equal(t, store.StatusFailed, status)
		assert.Equal(t, int64(1), ev.Payload.(RunFinished).Summary.Failed)
	})
	t.Run("success - run_failed declares nothing", func(t *testing.T) {
		// act
		ev := Decode(7, 8, "run_failed", []byte(`{"error":"1 test failed"}`))

		// assert
		_, ok := ev.DeclaredStatus()
		assert.False(t, ok)
		assert.False(t, ev.IsTerminal())
	})
	t.Run("success - terminator has no data", func(t *testing.T) {
		// act
		ev := Decode(7, 0, "connection_closed", nil)

		// assert
		assert.Equal(t, ConnectionClosed{}, ev.Payload)
	})
	t.Run("failure - unknown type becomes a diagnostic", func(t *testing.T) {
		// act
		ev := Decode(7, 4, "heartbeat", []byte(`{"n":1}`))

		// assert
		d, ok := ev.Payload.(Diagnostic)
		assert.True(t, ok)
		assert.Equal(t, "heartbeat", d.Name)
		assert.Equal(t, `{"n":1}`, d.Data)
		assert.Equal(t, Type(""), TypeOf(d))
	})
	t.Run("failure - malformed payload becomes a diagnostic", func(t *testing.T) {
		// act
		ev := Decode(7, 4, "run_started", []byte(`{"progress_total":"two"}`))

		// assert
		_, ok := ev.Payload.(Diagnostic)
		assert.True(t, ok)
		assert.Equal(t, TypeRunStarted, ev.Type)
	})
}

func TestEncode(t *testing.T) {
	t.Run("success - payload round trips through an envelope", func(t *testing.T) {
		// arrange
		data, err := Encode(RunStarted{ProgressTotal: 3})
		assert.NoError(t, err)

		// act
		ev := EnvelopeOf(store.RunEvent{
			EventRunID: 2, Seq: 1, Type: "run_started", Data: string(data),
		}).Event()

		// assert
		assert.Equal(t, RunStarted{ProgressTotal: 3}, ev.Payload)
	})
}
