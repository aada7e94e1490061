package postgresql

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWorkflowRepository_ListWorkflows_InvalidSortField checks the allowlist runs before any query.
func TestWorkflowRepository_ListWorkflows_InvalidSortField(t *testing.T) {
	t.Parallel()

	repo := &WorkflowRepository{
		db:     nil,
		logger: slog.Default(),
	}

	for _, sortBy := range []string{
		"invalid_field",
		"name; DROP TABLE workflows; --",
		"'; SELECT * FROM users; --",
	} {
		_, err := repo.ListWorkflows(context.Background(), persistence.ListWorkflowsOptions{SortBy: sortBy})
		require.Error(t, err, sortBy)
		assert.True(t, persistence.IsInvalidSortField(err), sortBy)
	}
}

func TestBuildListFilter(t *testing.T) {
	t.Parallel()

	active := true

	tests := []struct {
		name      string
		opts      persistence.ListWorkflowsOptions
		wantWhere string
		wantArgs  []any
	}{
		{
			name:      "no filters",
			wantWhere: " WHERE deleted_at IS NULL",
			wantArgs:  []any{},
		},
		{
			name:      "workspace only",
			opts:      persistence.ListWorkflowsOptions{WorkspaceID: "ws-1"},
			wantWhere: " WHERE deleted_at IS NULL AND workspace_id = $1",
			wantArgs:  []any{"ws-1"},
		},
		{
			name: "all filters",
			opts: persistence.ListWorkflowsOptions{
				WorkspaceID: "ws-1",
				UserID:      "user-1",
				TriggerType: models.TriggerDealWon,
				IsActive:    &active,
			},
			wantWhere: " WHERE deleted_at IS NULL AND workspace_id = $1 AND user_id = $2 AND trigger_type = $3 AND is_active = $4",
			wantArgs:  []any{"ws-1", "user-1", "deal_won", true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			where, args := buildListFilter(tt.opts)
			assert.Equal(t, tt.wantWhere, where)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}
