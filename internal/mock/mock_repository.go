package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ipo-callgraph/pkg/model"
)

// MockBuildRepository is a mock implementation of the BuildRepository interface.
type MockBuildRepository struct {
	mock.Mock
}

// SaveReport mocks the SaveReport method.
func (m *MockBuildRepository) SaveReport(ctx context.Context, report *model.BuildReport) (int64, error) {
	args := m.Called(ctx, report)
	return args.Get(0).(int64), args.Error(1)
}

// UpdateStatus mocks the UpdateStatus method.
func (m *MockBuildRepository) UpdateStatus(ctx context.Context, id int64, status model.BuildStatus, info string) error {
	args := m.Called(ctx, id, status, info)
	return args.Error(0)
}

// GetReport mocks the GetReport method.
func (m *MockBuildRepository) GetReport(ctx context.Context, id int64) (*model.BuildReport, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BuildReport), args.Error(1)
}

// LatestReport mocks the LatestReport method.
func (m *MockBuildRepository) LatestReport(ctx context.Context, name string) (*model.BuildReport, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BuildReport), args.Error(1)
}

// ExpectSaveReport sets up an expectation for SaveReport.
func (m *MockBuildRepository) ExpectSaveReport(id int64, err error) *mock.Call {
	return m.On("SaveReport", mock.Anything, mock.AnythingOfType("*model.BuildReport")).Return(id, err)
}

// MockReportReader is a mock implementation of the ReportReader interface.
type MockReportReader struct {
	mock.Mock
}

// ListRuns mocks the ListRuns method.
func (m *MockReportReader) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RunSummary), args.Error(1)
}

// RemovedEdges mocks the RemovedEdges method.
func (m *MockReportReader) RemovedEdges(ctx context.Context, runID int64) ([]model.RemovedEdge, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RemovedEdge), args.Error(1)
}

// Waves mocks the Waves method.
func (m *MockReportReader) Waves(ctx context.Context, runID int64) ([][]string, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]string), args.Error(1)
}
