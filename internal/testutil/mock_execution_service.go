package testutil

import (
	"context"

	"github.com/haatos/runbatch/internal/events"
	"github.com/haatos/runbatch/internal/store"
	"github.com/stretchr/testify/mock"
)

type MockExecutionService struct {
	mock.Mock
}

func (m *MockExecutionService) CreateBatch(
	ctx context.Context,
	br store.BatchRequest,
) (*store.BatchRuns, error) {
	args := m.Called(ctx, br)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.BatchRuns), nil
}

func (m *MockExecutionService) GetBatch(ctx context.Context, batchID int64) (*store.BatchRuns, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.BatchRuns), nil
}

func (m *MockExecutionService) ListBatches(ctx context.Context, limit int64) ([]store.BatchRuns, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.BatchRuns), nil
}

func (m *MockExecutionService) RenameBatch(ctx context.Context, batchID int64, name string) error {
	args := m.Called(ctx, batchID, name)
	return args.Error(0)
}

func (m *MockExecutionService) DeleteBatch(ctx context.Context, batchID int64) error {
	args := m.Called(ctx, batchID)
	return args.Error(0)
}

func (m *MockExecutionService) GetRun(ctx context.Context, runID int64) (*store.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), nil
}

func (m *MockExecutionService) GetRunResult(ctx context.Context, runID int64) (*store.Result, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Result), nil
}

func (m *MockExecutionService) ListRunEvents(
	ctx context.Context,
	runID, since int64,
) ([]events.Event, error) {
	args := m.Called(ctx, runID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]events.Event), nil
}

func (m *MockExecutionService) RetryTest(ctx context.Context, runID int64, testName string) error {
	args := m.Called(ctx, runID, testName)
	return args.Error(0)
}

func (m *MockExecutionService) CancelRun(ctx context.Context, runID int64) error {
	args := m.Called(ctx, runID)
	return args.Error(0)
}

func (m *MockExecutionService) SubscribeRunEvents(
	ctx context.Context,
	runID, since int64,
) (events.Stream, error) {
	args := m.Called(ctx, runID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(events.Stream), nil
}
