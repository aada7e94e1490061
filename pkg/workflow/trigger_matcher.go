package workflow

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/dukex/crmflow/pkg/models"
)

// triggerFilters maps the trigger_config keys each trigger understands to the
// context paths they are compared with. The first path that resolves wins.
var triggerFilters = map[models.TriggerType]map[string][]string{
	models.TriggerLeadCreated: {
		"source":      {"lead.source", "source"},
		"pipeline_id": {"lead.pipeline_id", "pipeline_id"},
	},
	models.TriggerLeadStatusChanged: {
		"status":      {"new_status", "lead.status", "status"},
		"from_status": {"previous_status", "old_status", "from_status"},
	},
	models.TriggerLeadStageChanged: {
		"stage_id":      {"new_stage_id", "lead.stage_id", "stage_id"},
		"from_stage_id": {"previous_stage_id", "from_stage_id"},
		"pipeline_id":   {"lead.pipeline_id", "pipeline_id"},
	},
	models.TriggerLeadContacted: {
		"channel": {"channel", "activity.channel"},
	},
	models.TriggerDealCreated: {
		"pipeline_id": {"deal.pipeline_id", "pipeline_id"},
		"stage_id":    {"deal.stage_id", "stage_id"},
	},
	models.TriggerDealStageChanged: {
		"stage_id":      {"new_stage_id", "deal.stage_id", "stage_id"},
		"from_stage_id": {"previous_stage_id", "from_stage_id"},
		"pipeline_id":   {"deal.pipeline_id", "pipeline_id"},
	},
	models.TriggerDealWon: {
		"pipeline_id": {"deal.pipeline_id", "pipeline_id"},
	},
	models.TriggerDealLost: {
		"pipeline_id": {"deal.pipeline_id", "pipeline_id"},
		"reason":      {"deal.lost_reason", "reason"},
	},
	models.TriggerActivityLogged: {
		"activity_type": {"activity.type", "activity_type"},
	},
	models.TriggerActivityCompleted: {
		"activity_type": {"activity.type", "activity_type"},
	},
	models.TriggerTaskCompleted: {
		"priority":    {"task.priority", "priority"},
		"assignee_id": {"task.assignee_id", "assignee_id"},
	},
}

// TriggerConfigKeys lists the recognized trigger_config keys for a trigger.
func TriggerConfigKeys(triggerType models.TriggerType) []string {
	keys := make([]string, 0, len(triggerFilters[triggerType]))
	for key := range triggerFilters[triggerType] {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// ValidateTriggerConfig returns a warning per unrecognized trigger_config key.
func ValidateTriggerConfig(triggerType models.TriggerType, config map[string]any) []string {
	known := triggerFilters[triggerType]

	var warnings []string

	for _, key := range sortedKeys(config) {
		if _, ok := known[key]; !ok {
			warnings = append(warnings, fmt.Sprintf("trigger_config key %q is not recognized for %s and is ignored", key, triggerType))
		}
	}

	return warnings
}

// TriggerMatcher handles matching trigger events against workflow configurations
type TriggerMatcher struct {
	logger *slog.Logger
}

// MatchResult represents the result of trigger matching
type MatchResult struct {
	Workflow *models.Workflow
	// Warnings lists trigger_config keys that were ignored while matching.
	Warnings []string
}

// NewTriggerMatcher creates a new trigger matcher
func NewTriggerMatcher(logger *slog.Logger) *TriggerMatcher {
	return &TriggerMatcher{
		logger: logger.With("module", "trigger_matcher"),
	}
}

// Match selects the active workflows whose trigger type and trigger_config
// accept the event. It has no side effects besides logging.
func (tm *TriggerMatcher) Match(event models.TriggerEvent, workflows []*models.Workflow) []MatchResult {
	var results []MatchResult

	tm.logger.Debug("Matching trigger event against workflows",
		"trigger_type", event.Type,
		"workspace_id", event.WorkspaceID,
		"workflows_count", len(workflows))

	for _, workflow := range workflows {
		if workflow == nil || !workflow.IsActive {
			continue
		}

		if workflow.TriggerType != event.Type {
			continue
		}

		matched, warnings := tm.matchConfig(event, workflow.TriggerConfig)
		if !matched {
			continue
		}

		for _, warning := range warnings {
			tm.logger.Warn("Permissive trigger match", "workflow_id", workflow.ID, "warning", warning)
		}

		results = append(results, MatchResult{Workflow: workflow, Warnings: warnings})
	}

	tm.logger.Info("Completed trigger matching",
		"trigger_type", event.Type,
		"workspace_id", event.WorkspaceID,
		"matches_found", len(results))

	return results
}

// matchConfig requires every recognized, non-empty filter to equal the
// context value. Unknown keys never reject a match.
func (tm *TriggerMatcher) matchConfig(event models.TriggerEvent, config map[string]any) (bool, []string) {
	known := triggerFilters[event.Type]

	var warnings []string

	for _, key := range sortedKeys(config) {
		expected := config[key]

		paths, ok := known[key]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("trigger_config key %q is not recognized for %s and is ignored", key, event.Type))

			continue
		}

		if isEmpty(expected, true) {
			continue
		}

		if !matchFilter(event.Context, paths, expected) {
			return false, nil
		}
	}

	return true, warnings
}

// matchFilter accepts a scalar or a list of alternatives.
func matchFilter(context map[string]any, paths []string, expected any) bool {
	var actual any

	found := false

	for _, path := range paths {
		actual, found = lookupPath(context, path)
		if found {
			break
		}
	}

	if !found {
		return false
	}

	if alternatives, ok := expected.([]any); ok {
		return slices.ContainsFunc(alternatives, func(alternative any) bool {
			return equal(actual, toString(alternative))
		})
	}

	return equal(actual, toString(expected))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
