package mocks

import (
	"context"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Workflows    *MockWorkflowRepository
	Executions   *MockExecutionRepository
	CustomFields *MockCustomFieldRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Workflows:    &MockWorkflowRepository{},
		Executions:   &MockExecutionRepository{},
		CustomFields: &MockCustomFieldRepository{},
	}
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return m.Workflows
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.Executions
}

func (m *MockPersistence) CustomFieldRepository() persistence.CustomFieldRepository {
	return m.CustomFields
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) ListWorkflows(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.WorkflowListResult), args.Error(1)
}

func (m *MockWorkflowRepository) ActiveByTrigger(ctx context.Context, workspaceID string, trigger models.TriggerType) ([]*models.Workflow, error) {
	args := m.Called(ctx, workspaceID, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit, offset int) (*persistence.ExecutionListResult, error) {
	args := m.Called(ctx, workflowID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.ExecutionListResult), args.Error(1)
}

func (m *MockExecutionRepository) Claim(ctx context.Context, id, workerID string, now time.Time) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id, workerID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) Heartbeat(ctx context.Context, id, workerID string, now time.Time) error {
	args := m.Called(ctx, id, workerID, now)

	return args.Error(0)
}

func (m *MockExecutionRepository) Save(ctx context.Context, workerID string, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, workerID, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) RequestCancel(ctx context.Context, id string, now time.Time) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) CancelRequested(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)

	return args.Bool(0), args.Error(1)
}

func (m *MockExecutionRepository) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

func (m *MockExecutionRepository) ReleaseStale(ctx context.Context, before, now time.Time) (int, error) {
	args := m.Called(ctx, before, now)

	return args.Int(0), args.Error(1)
}

// MockCustomFieldRepository is a mock implementation of persistence.CustomFieldRepository interface.
type MockCustomFieldRepository struct {
	mock.Mock
}

func (m *MockCustomFieldRepository) Value(ctx context.Context, workspaceID, entityID, fieldID string) (any, bool, error) {
	args := m.Called(ctx, workspaceID, entityID, fieldID)

	return args.Get(0), args.Bool(1), args.Error(2)
}

func (m *MockCustomFieldRepository) SetValue(ctx context.Context, workspaceID, entityID, fieldID string, value any) error {
	args := m.Called(ctx, workspaceID, entityID, fieldID, value)

	return args.Error(0)
}
