package internal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_UnmarshalJSON(t *testing.T) {
	t.Run("success - unmarshal json works as expected", func(t *testing.T) {
		// arrange
		jsonInput := []byte(`{"retention_hours": 24, "request_timeout_seconds": 1.5, "queue_size": 4, "event_log_capacity": 50}`)
		var config Configuration

		// act
		err := json.Unmarshal(jsonInput, &config)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, 24*time.Hour, time.Duration(config.RetentionHours))
		assert.Equal(t, 1500*time.Millisecond, time.Duration(config.RequestTimeout))
		assert.Equal(t, int64(4), config.QueueSize)
		assert.Equal(t, int64(50), config.EventLogCapacity)
	})
}

func TestConfig_MarshalJSON(t *testing.T) {
	t.Run("success - marshal json works as expected", func(t *testing.T) {
		// arrange
		config := Configuration{
			RetentionHours: NewHoursDuration(24),
			RequestTimeout: NewSecondsDuration(30),
			QueueSize:      5,
		}

		// act
		b, err := json.Marshal(config)

		// assert
		assert.NoError(t, err)
		assert.Contains(t, string(b), `"retention_hours":24`)
		assert.Contains(t, string(b), `"request_timeout_seconds":30`)
		assert.Contains(t, string(b), `"queue_size":5`)
	})
}

func TestConfig_InitializeConfiguration(t *testing.T) {
	t.Run("success - defaults are written when the file is missing", func(t *testing.T) {
		// arrange
		path := filepath.Join(t.TempDir(), ConfigPath)

		// act
		InitializeConfiguration(path)

		// assert
		assert.Equal(t, DefaultConfiguration(), Config)
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(b), `"event_log_capacity": 120`)
	})
	t.Run("success - existing file overrides defaults", func(t *testing.T) {
		// arrange
		path := filepath.Join(t.TempDir(), ConfigPath)
		require.NoError(t, os.WriteFile(path, []byte(`{"history_limit": 5}`), 0o644))

		// act
		InitializeConfiguration(path)

		// assert
		assert.Equal(t, int64(5), Config.HistoryLimit)
		assert.Equal(t, int64(120), Config.EventLogCapacity)
	})
	t.Run("success - update writes and swaps the configuration", func(t *testing.T) {
		// arrange
		path := filepath.Join(t.TempDir(), ConfigPath)
		next := DefaultConfiguration()
		next.DefaultConcurrency = 8

		// act
		err := UpdateConfiguration(path, next)

		// assert
		assert.NoError(t, err)
		assert.Same(t, next, Config)
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(b), `"default_concurrency": 8`)
	})
}
