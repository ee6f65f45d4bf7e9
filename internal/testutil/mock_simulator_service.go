package testutil

import (
	"context"

	"github.com/haatos/runbatch/internal/store"
	"github.com/stretchr/testify/mock"
)

type MockSimulatorService struct {
	mock.Mock
}

func (m *MockSimulatorService) CreateBatch(
	ctx context.Context,
	br store.BatchRequest,
) (*store.BatchRuns, error) {
	args := m.Called(ctx, br)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.BatchRuns), args.Error(1)
}

func (m *MockSimulatorService) GetBatch(ctx context.Context, id int64) (*store.BatchRuns, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.BatchRuns), args.Error(1)
}

func (m *MockSimulatorService) ListBatches(
	ctx context.Context,
	limit int64,
) ([]store.BatchRuns, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.BatchRuns), args.Error(1)
}

func (m *MockSimulatorService) RenameBatch(ctx context.Context, id int64, name string) error {
	args := m.Called(ctx, id, name)
	return args.Error(0)
}

func (m *MockSimulatorService) DeleteBatch(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSimulatorService) GetRun(ctx context.Context, id int64) (*store.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), args.Error(1)
}

func (m *MockSimulatorService) GetRunResult(ctx context.Context, id int64) (*store.Result, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Result), args.Error(1)
}

func (m *MockSimulatorService) ListRunEvents(
	ctx context.Context,
	runID, since int64,
) ([]store.RunEvent, error) {
	args := m.Called(ctx, runID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.RunEvent), args.Error(1)
}

func (m *MockSimulatorService) RetryTest(ctx context.Context, runID int64, testName string) error {
	args := m.Called(ctx, runID, testName)
	return args.Error(0)
}

func (m *MockSimulatorService) CancelRun(ctx context.Context, runID int64) error {
	args := m.Called(ctx, runID)
	return args.Error(0)
}

func (m *MockSimulatorService) SubscribeRunEvents(runID int64) (string, <-chan store.RunEvent) {
	args := m.Called(runID)
	return args.String(0), args.Get(1).(<-chan store.RunEvent)
}

func (m *MockSimulatorService) UnsubscribeRunEvents(runID int64, uid string) {
	m.Called(runID, uid)
}
