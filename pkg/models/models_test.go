package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nestedWorkflow() *Workflow {
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	return &Workflow{
		ID:            "wf-1",
		WorkspaceID:   "ws-1",
		UserID:        "user-1",
		Name:          "Won leads",
		Description:   "Follow up on status changes",
		TriggerType:   TriggerLeadStatusChanged,
		TriggerConfig: map[string]any{"status": "won"},
		IsActive:      true,
		Actions: []WorkflowAction{
			{
				ID:    "cond-1",
				Type:  ActionCondition,
				Order: 2,
				Config: &ConditionActionConfig{
					Condition: WorkflowCondition{
						FieldSource: FieldSourceTrigger,
						FieldPath:   "lead.status",
						Operator:    OperatorEquals,
						Value:       "won",
					},
					IfBranch: []WorkflowAction{
						{ID: "task-1", Type: ActionCreateTask, Order: 1, Config: &CreateTaskConfig{Title: "Send contract", DueInDays: 2}},
						{
							ID:    "cond-2",
							Type:  ActionCondition,
							Order: 0,
							Config: &ConditionActionConfig{
								Condition: WorkflowCondition{
									FieldSource: FieldSourcePreviousAction,
									FieldPath:   "action.task-1.success",
									Operator:    OperatorEquals,
									Value:       "true",
								},
								IfBranch:   []WorkflowAction{{ID: "tag-1", Type: ActionAddTag, Order: 0, Config: &AddTagConfig{Tag: "contract"}}},
								ElseBranch: []WorkflowAction{},
							},
						},
					},
					ElseBranch: []WorkflowAction{
						{ID: "notify-1", Type: ActionSendNotification, Order: 0, Config: &SendNotificationConfig{Message: "Lead still open"}},
					},
				},
			},
			{ID: "wait-1", Type: ActionWait, Order: 1, Config: &WaitConfig{Duration: 1, Unit: WaitHours}},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestWorkflow_JSONRoundTrip_PreservesNestedTree(t *testing.T) {
	t.Parallel()

	original := nestedWorkflow()

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Workflow
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original, &decoded)

	cond, ok := decoded.Actions[0].Config.(*ConditionActionConfig)
	require.True(t, ok)
	assert.Equal(t, 2, decoded.Actions[0].Order)
	assert.Equal(t, 1, cond.IfBranch[0].Order)
	assert.Equal(t, "Send contract", cond.IfBranch[0].Config.(*CreateTaskConfig).Title)
}

func TestWorkflow_JSONShape(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(nestedWorkflow())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{"id", "user_id", "name", "description", "trigger_type", "trigger_config", "is_active", "actions", "created_at", "updated_at"} {
		assert.Contains(t, raw, key)
	}

	action := raw["actions"].([]any)[1].(map[string]any)
	assert.Equal(t, "wait", action["type"])
	assert.Equal(t, float64(1), action["order"])
	assert.Equal(t, map[string]any{"duration": float64(1), "unit": "hours"}, action["config"])
}

func TestWorkflowAction_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    ActionConfig
		wantErr error
	}{
		{
			name:  "send_email payload",
			input: `{"id":"a","type":"send_email","config":{"recipient":"{{lead.email}}","subject":"Hi","body":"Hello"},"order":3}`,
			want:  &SendEmailConfig{Recipient: "{{lead.email}}", Subject: "Hi", Body: "Hello"},
		},
		{
			name:  "missing config decodes to empty payload",
			input: `{"id":"a","type":"add_tag","order":0}`,
			want:  &AddTagConfig{},
		},
		{
			name:  "null config decodes to empty payload",
			input: `{"id":"a","type":"close_deal","config":null,"order":0}`,
			want:  &CloseDealConfig{},
		},
		{
			name:    "unknown type",
			input:   `{"id":"a","type":"launch_rocket","config":{},"order":0}`,
			wantErr: ErrUnknownActionType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var action WorkflowAction

			err := json.Unmarshal([]byte(tt.input), &action)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, action.Config)
		})
	}
}

func TestWorkflowAction_UnmarshalJSON_WrongFieldType(t *testing.T) {
	t.Parallel()

	var action WorkflowAction

	err := json.Unmarshal([]byte(`{"id":"a","type":"wait","config":{"duration":"soon","unit":"hours"}}`), &action)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid wait config")
}

func TestWorkflowAction_MarshalJSON_MismatchedConfig(t *testing.T) {
	t.Parallel()

	_, err := json.Marshal(WorkflowAction{ID: "a", Type: ActionSendSMS, Config: &SendEmailConfig{}})
	require.Error(t, err)
}

func TestSortedActions_UsesOrderNotStorageOrder(t *testing.T) {
	t.Parallel()

	actions := []WorkflowAction{
		{ID: "c", Order: 30},
		{ID: "a", Order: 10},
		{ID: "b", Order: 20},
	}

	sorted := SortedActions(actions)

	assert.Equal(t, []string{"a", "b", "c"}, []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})
	assert.Equal(t, "c", actions[0].ID, "input must not be reordered")
}

func TestWorkflow_Validate(t *testing.T) {
	t.Parallel()

	t.Run("valid nested workflow", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, nestedWorkflow().Validate())
	})

	t.Run("duplicate ids across branches", func(t *testing.T) {
		t.Parallel()

		wf := nestedWorkflow()
		wf.Actions[1].ID = "task-1"

		err := wf.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidWorkflow)
		assert.Contains(t, err.Error(), `duplicate action id "task-1"`)
	})

	t.Run("duplicate order in one list", func(t *testing.T) {
		t.Parallel()

		wf := nestedWorkflow()
		wf.Actions[1].Order = 2

		err := wf.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "order 2 already used")
	})

	t.Run("malformed flow control", func(t *testing.T) {
		t.Parallel()

		wf := nestedWorkflow()
		wf.Actions[1].Config = &WaitConfig{Duration: 0, Unit: WaitHours}
		wf.Actions[0].Config.(*ConditionActionConfig).Condition.Operator = "matches"

		var validationErr *WorkflowValidationError

		err := wf.Validate()
		require.ErrorAs(t, err, &validationErr)
		assert.Len(t, validationErr.Problems, 2)
	})

	t.Run("unknown trigger", func(t *testing.T) {
		t.Parallel()

		wf := nestedWorkflow()
		wf.TriggerType = "invoice_paid"

		assert.ErrorIs(t, wf.Validate(), ErrInvalidWorkflow)
	})
}

func TestWorkflow_StructTags(t *testing.T) {
	t.Parallel()

	wf := nestedWorkflow()
	wf.Name = ""

	err := validator.New().Struct(wf)
	require.Error(t, err)

	var validationErrors validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrors))
	assert.Equal(t, "Name", validationErrors[0].Field())
}

func TestWaitConfig_Delay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		config  WaitConfig
		want    time.Duration
		wantErr bool
	}{
		{config: WaitConfig{Duration: 15, Unit: WaitMinutes}, want: 15 * time.Minute},
		{config: WaitConfig{Duration: 1, Unit: WaitHours}, want: time.Hour},
		{config: WaitConfig{Duration: 2, Unit: WaitDays}, want: 48 * time.Hour},
		{config: WaitConfig{Duration: 0, Unit: WaitDays}, wantErr: true},
		{config: WaitConfig{Duration: 3, Unit: "weeks"}, wantErr: true},
	}

	for _, tt := range tests {
		got, err := tt.config.Delay()
		if tt.wantErr {
			assert.Error(t, err)

			continue
		}

		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestWorkflowCondition_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		condition WorkflowCondition
		wantErr   bool
	}{
		{name: "trigger", condition: WorkflowCondition{FieldSource: FieldSourceTrigger, FieldPath: "lead.status", Operator: OperatorEquals}},
		{name: "custom field", condition: WorkflowCondition{FieldSource: FieldSourceCustomField, FieldID: "cf-1", Operator: OperatorIsEmpty}},
		{name: "previous action", condition: WorkflowCondition{FieldSource: FieldSourcePreviousAction, FieldPath: "action.a1.success", Operator: OperatorEquals}},
		{name: "previous action without id", condition: WorkflowCondition{FieldSource: FieldSourcePreviousAction, FieldPath: "action.", Operator: OperatorEquals}, wantErr: true},
		{name: "custom field without id", condition: WorkflowCondition{FieldSource: FieldSourceCustomField, Operator: OperatorEquals}, wantErr: true},
		{name: "unknown source", condition: WorkflowCondition{FieldSource: "weather", FieldPath: "x", Operator: OperatorEquals}, wantErr: true},
		{name: "unknown operator", condition: WorkflowCondition{FieldSource: FieldSourceTrigger, FieldPath: "x", Operator: "regex"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.condition.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSubjectEntityID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "lead-1", SubjectEntityID(map[string]any{"lead": map[string]any{"id": "lead-1"}, "deal_id": "deal-1"}))
	assert.Equal(t, "deal-1", SubjectEntityID(map[string]any{"deal_id": "deal-1"}))
	assert.Equal(t, "x", SubjectEntityID(map[string]any{"entity_id": "x"}))
	assert.Empty(t, SubjectEntityID(map[string]any{}))
}
