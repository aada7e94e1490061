package mocks

import (
	"context"

	"github.com/dukex/crmflow/pkg/workflow"
	"github.com/stretchr/testify/mock"
)

// MockDispatcher is a mock implementation of workflow.Dispatcher interface.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Send(ctx context.Context, request workflow.DispatchRequest) (workflow.DispatchResult, error) {
	args := m.Called(ctx, request)

	return args.Get(0).(workflow.DispatchResult), args.Error(1)
}

// MockCRM is a mock implementation of workflow.CRM interface.
type MockCRM struct {
	mock.Mock
}

func (m *MockCRM) Apply(ctx context.Context, request workflow.MutationRequest) (workflow.MutationResult, error) {
	args := m.Called(ctx, request)

	return args.Get(0).(workflow.MutationResult), args.Error(1)
}
