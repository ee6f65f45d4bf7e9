package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

func TestAPIKeySQLiteStore_CreateAPIKey(t *testing.T) {
	t.Run("success - api key is created", func(t *testing.T) {
		// arrange
		value := uuid.NewString()

		// act
		ak, err := apiKeyStore.CreateAPIKey(context.Background(), value)

		// assert
		assert.NoError(t, err)
		assert.NotNil(t, ak)
		assert.Equal(t, value, ak.Value)
		assert.NotZero(t, ak.ID)
	})
	t.Run("failure - duplicate value", func(t *testing.T) {
		// arrange
		value := uuid.NewString()
		_, err := apiKeyStore.CreateAPIKey(context.Background(), value)
		assert.NoError(t, err)

		// act
		ak, err := apiKeyStore.CreateAPIKey(context.Background(), value)

		// assert
		assert.Nil(t, ak)
		var sqErr *sqlite.Error
		assert.True(t, errors.As(err, &sqErr))
		assert.Equal(t, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqErr.Code())
	})
}

func TestAPIKeySQLiteStore_ReadAPIKeyByValue(t *testing.T) {
	t.Run("success - key is found by value", func(t *testing.T) {
		// arrange
		expected, err := apiKeyStore.CreateAPIKey(context.Background(), uuid.NewString())
		assert.NoError(t, err)

		// act
		ak, err := apiKeyStore.ReadAPIKeyByValue(context.Background(), expected.Value)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, expected.ID, ak.ID)
	})
	t.Run("failure - key is not found by value", func(t *testing.T) {
		// act
		ak, err := apiKeyStore.ReadAPIKeyByValue(context.Background(), uuid.NewString())

		// assert
		assert.True(t, errors.Is(err, sql.ErrNoRows))
		assert.Nil(t, ak)
	})
}

func TestAPIKeySQLiteStore_DeleteAPIKey(t *testing.T) {
	t.Run("success - key is deleted", func(t *testing.T) {
		// arrange
		ak, err := apiKeyStore.CreateAPIKey(context.Background(), uuid.NewString())
		assert.NoError(t, err)

		// act
		err = apiKeyStore.DeleteAPIKey(context.Background(), ak.ID)

		// assert
		assert.NoError(t, err)
		_, err = apiKeyStore.ReadAPIKeyByValue(context.Background(), ak.Value)
		assert.ErrorIs(t, err, sql.ErrNoRows)
		count, err := apiKeyStore.CountAPIKeys(context.Background())
		assert.NoError(t, err)
		keys, err := apiKeyStore.ListAPIKeys(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, int64(len(keys)), count)
	})
}
