package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidWorkflow = errors.New("invalid workflow")

// WorkflowValidationError lists every structural problem found in a workflow.
type WorkflowValidationError struct {
	Problems []string
}

func (e *WorkflowValidationError) Error() string {
	return "invalid workflow: " + strings.Join(e.Problems, "; ")
}

func (e *WorkflowValidationError) Is(target error) bool {
	return target == ErrInvalidWorkflow
}

// Validate checks the parts of a workflow the runner depends on: a known
// trigger, known action types with matching configs, ids unique across the
// tree, unique order keys per list and evaluable flow-control configs.
func (w *Workflow) Validate() error {
	var problems []string

	if strings.TrimSpace(w.Name) == "" {
		problems = append(problems, "name is required")
	}

	if !w.TriggerType.Valid() {
		problems = append(problems, fmt.Sprintf("unknown trigger_type %q", w.TriggerType))
	}

	seen := make(map[string]bool)
	problems = validateActionList(w.Actions, "actions", seen, problems)

	if len(problems) > 0 {
		return &WorkflowValidationError{Problems: problems}
	}

	return nil
}

func validateActionList(actions []WorkflowAction, path string, seen map[string]bool, problems []string) []string {
	orders := make(map[int]string, len(actions))

	for i, action := range actions {
		at := fmt.Sprintf("%s[%d]", path, i)

		if action.ID == "" {
			problems = append(problems, at+": id is required")
		} else if seen[action.ID] {
			problems = append(problems, fmt.Sprintf("%s: duplicate action id %q", at, action.ID))
		}

		seen[action.ID] = true

		if other, ok := orders[action.Order]; ok {
			problems = append(problems, fmt.Sprintf("%s: order %d already used by %s", at, action.Order, other))
		}

		orders[action.Order] = action.ID

		if !action.Type.Valid() {
			problems = append(problems, fmt.Sprintf("%s: unknown action type %q", at, action.Type))

			continue
		}

		if action.Config == nil {
			problems = append(problems, at+": config is required")

			continue
		}

		if action.Config.ActionType() != action.Type {
			problems = append(problems, fmt.Sprintf("%s: config does not match type %s", at, action.Type))

			continue
		}

		switch cfg := action.Config.(type) {
		case *WaitConfig:
			_, err := cfg.Delay()
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", at, err))
			}
		case *ConditionActionConfig:
			err := cfg.Condition.Validate()
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", at, err))
			}

			problems = validateActionList(cfg.IfBranch, at+".if_branch", seen, problems)
			problems = validateActionList(cfg.ElseBranch, at+".else_branch", seen, problems)
		}
	}

	return problems
}

// AssignActionIDs fills empty action ids across the tree using newID.
func AssignActionIDs(actions []WorkflowAction, newID func() string) {
	for i := range actions {
		if actions[i].ID == "" {
			actions[i].ID = newID()
		}

		if cfg, ok := actions[i].Config.(*ConditionActionConfig); ok {
			AssignActionIDs(cfg.IfBranch, newID)
			AssignActionIDs(cfg.ElseBranch, newID)
		}
	}
}
