package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haatos/runbatch/internal/simulator"
	"github.com/haatos/runbatch/internal/store"
	"github.com/haatos/runbatch/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newJSONContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func withParam(c echo.Context, name, value string) echo.Context {
	c.SetParamNames(name)
	c.SetParamValues(value)
	return c
}

func TestBatchHandler_PostBatch(t *testing.T) {
	t.Run("success - batch is created", func(t *testing.T) {
		// arrange
		mockService := new(testutil.MockSimulatorService)
		expected := &store.BatchRuns{Batch: store.Batch{BatchID: 1, Name: "nightly"}}
		mockService.On("CreateBatch", context.Background(), store.BatchRequest{
			Name:        "nightly",
			Concurrency: 2,
			Runs:        []store.RunSpec{{Target: "weather", Version: "v3"}},
		}).Return(expected, nil)
		c, rec := newJSONContext(http.MethodPost, "/api/batches",
			`{"name":"nightly","concurrency":2,"runs":[{"target":"weather","version":"v3"}]}`)
		h := NewBatchHandler(mockService)

		// act
		err := h.PostBatch(c)

		// assert
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, rec.Code)
		var got store.BatchRuns
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, int64(1), got.Batch.BatchID)
	})
	t.Run("failure - invalid mode", func(t *testing.T) {
		// arrange
		mockService := new(testutil.MockSimulatorService)
		c, _ := newJSONContext(http.MethodPost, "/api/batches", `{"mode":"turbo","runs":[]}`)
		h := NewBatchHandler(mockService)

		// act
		err := h.PostBatch(c)

		// assert
		assertHTTPError(t, err, http.StatusUnprocessableEntity)
	})
	t.Run("failure - unknown target", func(t *testing.T) {
		// arrange
		mockService := new(testutil.MockSimulatorService)
		mockService.On("CreateBatch", mock.Anything, mock.Anything).
			Return(nil, &simulator.UnknownTargetError{Target: "nope"})
		c, _ := newJSONContext(http.MethodPost, "/api/batches", `{"runs":[{"target":"nope"}]}`)
		h := NewBatchHandler(mockService)

		// act
		err := h.PostBatch(c)

		// assert
		assertHTTPError(t, err, http.StatusUnprocessableEntity)
	})
	t.Run("failure - queue is full", func(t *testing.T) {
		// arrange
		mockService := new(testutil.MockSimulatorService)
		mockService.On("CreateBatch", mock.Anything, mock.Anything).
			Return(nil, simulator.NewErrRunQueueFull())
		c, _ := newJSONContext(http.MethodPost, "/api/batches", `{"runs":[{"target":"weather"}]}`)
		h := NewBatchHandler(mockService)

		// act
		err := h.PostBatch(c)

		// assert
		assertHTTPError(t, err, http.StatusServiceUnavailable)
	})
}

func TestBatchHandler_GetBatches(t *testing.T) {
	t.Run("success - default limit is used", func(t *testing.T) {
		// arrange
		mockService := new(testutil.MockSimulatorService)
		mockService.On("ListBatches", context.Background(), int64(20)).
			Return([]store.BatchRuns{{Batch: store.Batch{BatchID: 3}}}, nil)
		c, rec := newJSONContext(http.MethodGet, "/api/batches", "")
		h := NewBatchHandler(mockService)

		// act
		err := h.GetBatches(c)

		// assert
		require.NoError(t, err)
		assert.Contains(t, rec.Body.String(), `"batch_id":3`)
	})
	t.Run("success - limit query is used", func(t *testing.T) {
		// arrange
		mockService := new(testutil.MockSimulatorService)
		mockService.On("ListBatches", context.Background(), int64(5)).Return([]store.BatchRuns{}, nil)
		c, rec := newJSONContext(http.MethodGet, "/api/batches?limit=5", "")
		h := NewBatchHandler(mockService)

		// act
		err := h.GetBatches(c)

		// assert
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		mockService.AssertExpectations(t)
	})
}

func TestBatchHandler_GetBatch(t *testing.T) {
	t.Run("failure - batch not found", func(t *testing.T) {
		// arrange
		mockService := new(testutil.MockSimulatorService)
		mockService.On("GetBatch", context.Background(), int64(9)).Return(nil, sql.ErrNoRows)
		c, _ := newJSONContext(http.MethodGet, "/api/batches/9", "")
		h := NewBatchHandler(mockService)

		// act
		err := h.GetBatch(withParam(c, "batch_id", "9"))

		// assert
		assertHTTPError(t, err, http.StatusNotFound)
	})
}

func TestBatchHandler_PatchBatch(t *testing.T) {
	t.Run("success - batch is renamed", func(t *testing.T) {
		// arrange
		mockService := new(testutil.MockSimulatorService)
		mockService.On("RenameBatch", context.Background(), int64(2), "smoke").Return(nil)
		c, rec := newJSONContext(http.MethodPatch, "/api/batches/2", `{"name":"smoke"}`)
		h := NewBatchHandler(mockService)

		// act
		err := h.PatchBatch(withParam(c, "batch_id", "2"))

		// assert
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestBatchHandler_DeleteBatch(t *testing.T) {
	t.Run("success - batch is deleted", func(t *testing.T) {
		// arrange
		mockService := new(testutil.MockSimulatorService)
		mockService.On("DeleteBatch", context.Background(), int64(2)).Return(nil)
		c, rec := newJSONContext(http.MethodDelete, "/api/batches/2", "")
		h := NewBatchHandler(mockService)

		// act
		err := h.DeleteBatch(withParam(c, "batch_id", "2"))

		// assert
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
