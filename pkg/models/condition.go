package models

import (
	"fmt"
	"slices"
	"strings"
)

// FieldSource tells the evaluator where a condition field is resolved.
type FieldSource string

const (
	FieldSourceTrigger        FieldSource = "trigger"
	FieldSourceCustomField    FieldSource = "custom_field"
	FieldSourcePreviousAction FieldSource = "previous_action"
)

// Operator is a comparison applied to a resolved field.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorContains    Operator = "contains"
	OperatorStartsWith  Operator = "starts_with"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorIsEmpty     Operator = "is_empty"
	OperatorIsNotEmpty  Operator = "is_not_empty"
)

var Operators = []Operator{
	OperatorEquals, OperatorNotEquals, OperatorContains, OperatorStartsWith,
	OperatorGreaterThan, OperatorLessThan, OperatorIsEmpty, OperatorIsNotEmpty,
}

// PreviousActionPrefix starts every previous_action field path: action.<id>.success.
const PreviousActionPrefix = "action."

type WorkflowCondition struct {
	FieldSource FieldSource `json:"field_source"`
	FieldPath   string      `json:"field_path"`
	FieldID     string      `json:"field_id,omitempty"`
	Operator    Operator    `json:"operator"`
	Value       string      `json:"value"`
}

// Validate checks the condition is structurally evaluable.
func (c WorkflowCondition) Validate() error {
	if !slices.Contains(Operators, c.Operator) {
		return fmt.Errorf("unknown operator %q", c.Operator)
	}

	switch c.FieldSource {
	case FieldSourceTrigger:
		if strings.TrimSpace(c.FieldPath) == "" {
			return fmt.Errorf("trigger condition requires field_path")
		}
	case FieldSourceCustomField:
		if strings.TrimSpace(c.FieldID) == "" {
			return fmt.Errorf("custom_field condition requires field_id")
		}
	case FieldSourcePreviousAction:
		rest, ok := strings.CutPrefix(c.FieldPath, PreviousActionPrefix)
		if !ok || rest == "" || strings.HasPrefix(rest, ".") {
			return fmt.Errorf("previous_action field_path must look like action.<id>.success, got %q", c.FieldPath)
		}
	default:
		return fmt.Errorf("unknown field source %q", c.FieldSource)
	}

	return nil
}
