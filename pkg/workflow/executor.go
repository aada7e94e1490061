// Package workflow implements trigger matching, condition evaluation, action
// execution and the run state machine of CRM workflows.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
)

var (
	ErrNoDispatcher     = errors.New("no communication dispatcher configured")
	ErrNoCRM            = errors.New("no CRM collaborator configured")
	ErrFlowControlLeaf  = errors.New("flow-control actions are walked by the runner")
	ErrMissingEntityRef = errors.New("missing entity reference")
)

// Executor runs a single leaf action against its collaborator and turns the
// result into an ActionOutcome.
type Executor struct {
	dispatcher Dispatcher
	crm        CRM
	evaluator  *ConditionEvaluator
	validate   *validator.Validate
	clock      clockwork.Clock
	logger     *slog.Logger
}

func NewExecutor(dispatcher Dispatcher, crm CRM, clock clockwork.Clock, logger *slog.Logger) *Executor {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Executor{
		dispatcher: dispatcher,
		crm:        crm,
		evaluator:  NewConditionEvaluator(),
		validate:   validate,
		clock:      clock,
		logger:     logger.With("module", "action_executor"),
	}
}

// ChooseBranch evaluates a condition action and returns the branch to walk.
// Errors are fatal for the run.
func (e *Executor) ChooseBranch(ctx context.Context, config *models.ConditionActionConfig, evalCtx EvalContext) (string, bool, []models.WorkflowAction, error) {
	result, err := e.evaluator.Evaluate(ctx, config.Condition, evalCtx)
	if err != nil {
		return "", false, nil, err
	}

	if result {
		return models.BranchIf, true, config.IfBranch, nil
	}

	return models.BranchElse, false, config.ElseBranch, nil
}

// Execute runs one communication or CRM action. It never returns an error:
// every problem is reported on the outcome.
func (e *Executor) Execute(ctx context.Context, action models.WorkflowAction, evalCtx EvalContext) models.ActionOutcome {
	outcome := models.ActionOutcome{
		ActionID:   action.ID,
		ActionType: action.Type,
		StartedAt:  e.clock.Now().UTC(),
	}

	output, err := e.execute(ctx, action, evalCtx)
	outcome.Output = output
	outcome.CompletedAt = e.clock.Now().UTC()

	if err != nil {
		outcome.Error = err.Error()

		e.logger.InfoContext(ctx, "Action failed",
			"execution_id", evalCtx.ExecutionID,
			"action_id", action.ID,
			"action_type", action.Type,
			"error", err)

		return outcome
	}

	outcome.Success = true

	return outcome
}

func (e *Executor) execute(ctx context.Context, action models.WorkflowAction, evalCtx EvalContext) (map[string]any, error) {
	if action.Config == nil {
		return nil, fmt.Errorf("action %s has no config", action.ID)
	}

	if action.Type.Category() == models.CategoryFlowControl {
		return nil, ErrFlowControlLeaf
	}

	config, unresolved, err := e.render(action, evalCtx)
	if err != nil {
		return nil, err
	}

	output := map[string]any{}
	if len(unresolved) > 0 {
		output["unresolved_placeholders"] = unresolved
	}

	err = e.validateConfig(config)
	if err != nil {
		return output, err
	}

	switch action.Type.Category() {
	case models.CategoryCommunication:
		return e.dispatch(ctx, action, config, evalCtx, output)
	default:
		return e.mutate(ctx, action, config, evalCtx, output)
	}
}

func (e *Executor) dispatch(ctx context.Context, action models.WorkflowAction, config models.ActionConfig, evalCtx EvalContext, output map[string]any) (map[string]any, error) {
	channel, _ := ChannelFor(action.Type)
	output["channel"] = string(channel)

	if e.dispatcher == nil {
		return output, ErrNoDispatcher
	}

	result, err := e.dispatcher.Send(ctx, DispatchRequest{
		ExecutionID: evalCtx.ExecutionID,
		WorkspaceID: evalCtx.WorkspaceID,
		ActionID:    action.ID,
		Channel:     channel,
		Config:      config,
	})
	if err != nil {
		return output, fmt.Errorf("dispatch %s: %w", channel, err)
	}

	if result.ProviderRef != "" {
		output["provider_ref"] = result.ProviderRef
	}

	if !result.Success {
		if result.Error == "" {
			result.Error = "dispatch rejected"
		}

		return output, errors.New(result.Error)
	}

	return output, nil
}

func (e *Executor) mutate(ctx context.Context, action models.WorkflowAction, config models.ActionConfig, evalCtx EvalContext, output map[string]any) (map[string]any, error) {
	request := MutationRequest{
		ExecutionID: evalCtx.ExecutionID,
		WorkspaceID: evalCtx.WorkspaceID,
		ActionID:    action.ID,
		ActionType:  action.Type,
		Config:      config,
	}

	if targeted, ok := config.(models.EntityTargeted); ok {
		kind, id := targeted.Target()
		if id == "" {
			id = models.EntityIDFromContext(evalCtx.Trigger, kind)
		}

		if id == "" {
			return output, fmt.Errorf("%w: %s action needs a %s id in config or trigger context", ErrMissingEntityRef, action.Type, kind)
		}

		request.EntityKind = kind
		request.EntityID = id
		output["entity_id"] = id
	}

	if e.crm == nil {
		return output, ErrNoCRM
	}

	result, err := e.crm.Apply(ctx, request)
	if err != nil {
		return output, fmt.Errorf("apply %s: %w", action.Type, err)
	}

	for key, value := range result.Output {
		output[key] = value
	}

	if !result.Success {
		if result.Error == "" {
			result.Error = "mutation rejected"
		}

		return output, errors.New(result.Error)
	}

	return output, nil
}

// render resolves placeholders in a copy of the action config. The stored
// workflow is never modified.
func (e *Executor) render(action models.WorkflowAction, evalCtx EvalContext) (models.ActionConfig, []string, error) {
	encoded, err := json.Marshal(action.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s config: %w", action.Type, err)
	}

	var raw map[string]any

	err = json.Unmarshal(encoded, &raw)
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s config: %w", action.Type, err)
	}

	data := templateData(evalCtx)

	var unresolved []string

	rendered := renderValue(raw, data, &unresolved)
	sort.Strings(unresolved)

	encoded, err = json.Marshal(rendered)
	if err != nil {
		return nil, nil, fmt.Errorf("encode rendered %s config: %w", action.Type, err)
	}

	config, err := models.DecodeActionConfig(action.Type, encoded)
	if err != nil {
		return nil, nil, err
	}

	return config, unresolved, nil
}

func (e *Executor) validateConfig(config models.ActionConfig) error {
	err := e.validate.Struct(config)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}

	messages := make([]string, 0, len(fieldErrors))

	for _, fieldErr := range fieldErrors {
		if fieldErr.Tag() == "required" {
			messages = append(messages, "missing required field "+fieldErr.Field())

			continue
		}

		messages = append(messages, fmt.Sprintf("field %s failed %s validation", fieldErr.Field(), fieldErr.Tag()))
	}

	return fmt.Errorf("invalid %s config: %s", config.ActionType(), strings.Join(messages, ", "))
}

// templateData exposes the trigger payload plus prior outcomes under action.<id>.
func templateData(evalCtx EvalContext) map[string]any {
	data := make(map[string]any, len(evalCtx.Trigger)+1)
	for key, value := range evalCtx.Trigger {
		data[key] = value
	}

	if len(evalCtx.Outcomes) > 0 {
		actions := make(map[string]any, len(evalCtx.Outcomes))
		for id, outcome := range evalCtx.Outcomes {
			actions[id] = map[string]any{
				"success": outcome.Success,
				"output":  outcome.Output,
				"error":   outcome.Error,
			}
		}

		if _, taken := data["action"]; !taken {
			data["action"] = actions
		}
	}

	return data
}
