package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/trace-pprof/internal/repository"
	"github.com/trace-pprof/internal/tracestore"
)

// MockTraceRepository is a mock implementation of the TraceRepository interface.
type MockTraceRepository struct {
	mock.Mock
}

// SaveTrace mocks the SaveTrace method.
func (m *MockTraceRepository) SaveTrace(ctx context.Context, name string, store *tracestore.Storage) (string, error) {
	args := m.Called(ctx, name, store)
	return args.String(0), args.Error(1)
}

// LoadTrace mocks the LoadTrace method.
func (m *MockTraceRepository) LoadTrace(ctx context.Context, uuid string) (*tracestore.Storage, error) {
	args := m.Called(ctx, uuid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tracestore.Storage), args.Error(1)
}

// ListTraces mocks the ListTraces method.
func (m *MockTraceRepository) ListTraces(ctx context.Context, limit int) ([]repository.TraceSummary, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.TraceSummary), args.Error(1)
}

// DeleteTrace mocks the DeleteTrace method.
func (m *MockTraceRepository) DeleteTrace(ctx context.Context, uuid string) error {
	args := m.Called(ctx, uuid)
	return args.Error(0)
}

// ExpectLoadTrace sets up an expectation for LoadTrace.
func (m *MockTraceRepository) ExpectLoadTrace(uuid string, store *tracestore.Storage, err error) *mock.Call {
	if err != nil {
		return m.On("LoadTrace", mock.Anything, uuid).Return(nil, err)
	}
	return m.On("LoadTrace", mock.Anything, uuid).Return(store, nil)
}

// ExpectSaveTrace sets up an expectation for SaveTrace with any store.
func (m *MockTraceRepository) ExpectSaveTrace(name, uuid string, err error) *mock.Call {
	return m.On("SaveTrace", mock.Anything, name, mock.Anything).Return(uuid, err)
}
