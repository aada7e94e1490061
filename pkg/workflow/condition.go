package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/crmflow/pkg/models"
)

// ErrFieldResolution marks a condition that references an action which has
// not produced an outcome in the current run.
var ErrFieldResolution = errors.New("field resolution failed")

// FieldResolutionError is a configuration error: the run cannot continue.
type FieldResolutionError struct {
	ActionID string
	Path     string
}

func (e *FieldResolutionError) Error() string {
	return fmt.Sprintf("condition field %q references action %q which has not executed in this run", e.Path, e.ActionID)
}

func (e *FieldResolutionError) Is(target error) bool {
	return target == ErrFieldResolution
}

// ConditionConfigError wraps a structurally invalid condition.
type ConditionConfigError struct {
	Err error
}

func (e *ConditionConfigError) Error() string {
	return "invalid condition: " + e.Err.Error()
}

func (e *ConditionConfigError) Unwrap() error {
	return e.Err
}

// CustomFieldStore resolves workspace-scoped custom field values.
type CustomFieldStore interface {
	Value(ctx context.Context, workspaceID, entityID, fieldID string) (any, bool, error)
}

// EvalContext is the trigger payload plus the outcomes recorded so far.
type EvalContext struct {
	ExecutionID  string
	WorkspaceID  string
	Trigger      map[string]any
	Outcomes     map[string]models.ActionOutcome
	CustomFields CustomFieldStore
}

// ConditionEvaluator applies WorkflowConditions. It holds no state; the same
// condition against the same EvalContext always yields the same result.
type ConditionEvaluator struct{}

func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{}
}

// Evaluate resolves the condition field and applies its operator.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, condition models.WorkflowCondition, evalCtx EvalContext) (bool, error) {
	err := condition.Validate()
	if err != nil {
		return false, &ConditionConfigError{Err: err}
	}

	value, found, err := e.resolve(ctx, condition, evalCtx)
	if err != nil {
		return false, err
	}

	return compare(condition.Operator, value, found, condition.Value), nil
}

func (e *ConditionEvaluator) resolve(ctx context.Context, condition models.WorkflowCondition, evalCtx EvalContext) (any, bool, error) {
	switch condition.FieldSource {
	case models.FieldSourceTrigger:
		value, found := lookupPath(evalCtx.Trigger, condition.FieldPath)

		return value, found, nil

	case models.FieldSourceCustomField:
		if evalCtx.CustomFields == nil {
			return nil, false, nil
		}

		entityID := models.SubjectEntityID(evalCtx.Trigger)

		value, found, err := evalCtx.CustomFields.Value(ctx, evalCtx.WorkspaceID, entityID, condition.FieldID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load custom field %s: %w", condition.FieldID, err)
		}

		if !found || condition.FieldPath == "" {
			return value, found, nil
		}

		nested, ok := value.(map[string]any)
		if !ok {
			return nil, false, nil
		}

		value, found = lookupPath(nested, condition.FieldPath)

		return value, found, nil

	case models.FieldSourcePreviousAction:
		rest := strings.TrimPrefix(condition.FieldPath, models.PreviousActionPrefix)
		actionID, subPath, _ := strings.Cut(rest, ".")

		outcome, ok := evalCtx.Outcomes[actionID]
		if !ok {
			return nil, false, &FieldResolutionError{ActionID: actionID, Path: condition.FieldPath}
		}

		view := map[string]any{
			"success": outcome.Success,
			"output":  outcome.Output,
			"error":   outcome.Error,
		}

		if subPath == "" {
			return outcome.Success, true, nil
		}

		value, found := lookupPath(view, subPath)

		return value, found, nil
	}

	return nil, false, &ConditionConfigError{Err: fmt.Errorf("unknown field source %q", condition.FieldSource)}
}

func compare(operator models.Operator, value any, found bool, expected string) bool {
	switch operator {
	case models.OperatorIsEmpty:
		return isEmpty(value, found)
	case models.OperatorIsNotEmpty:
		return !isEmpty(value, found)
	case models.OperatorEquals:
		return equal(value, expected)
	case models.OperatorNotEquals:
		return !equal(value, expected)
	case models.OperatorContains:
		return strings.Contains(toString(value), expected)
	case models.OperatorStartsWith:
		return strings.HasPrefix(toString(value), expected)
	case models.OperatorGreaterThan, models.OperatorLessThan:
		left, ok := toNumber(value)
		if !ok {
			return false
		}

		right, ok := toNumber(expected)
		if !ok {
			return false
		}

		if operator == models.OperatorGreaterThan {
			return left > right
		}

		return left < right
	}

	return false
}

// equal compares numerically when both sides are numbers, else as strings.
func equal(value any, expected string) bool {
	left, leftOK := toNumber(value)
	right, rightOK := toNumber(expected)

	if leftOK && rightOK {
		return left == right
	}

	return toString(value) == expected
}
