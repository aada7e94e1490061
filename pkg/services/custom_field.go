package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/crmflow/pkg/persistence"
)

// CustomField reads and writes per-entity custom field values used by
// custom_field conditions.
type CustomField struct {
	repository persistence.CustomFieldRepository
}

func NewCustomField(persistence persistence.Persistence) *CustomField {
	return &CustomField{repository: persistence.CustomFieldRepository()}
}

// Set stores value; a nil value removes it.
func (c *CustomField) Set(ctx context.Context, workspaceID, entityID, fieldID string, value any) error {
	if err := validateFieldKey(workspaceID, entityID, fieldID); err != nil {
		return err
	}

	if err := c.repository.SetValue(ctx, workspaceID, entityID, fieldID, value); err != nil {
		return fmt.Errorf("failed to set custom field: %w", err)
	}

	return nil
}

// Get returns the stored value and whether it exists.
func (c *CustomField) Get(ctx context.Context, workspaceID, entityID, fieldID string) (any, bool, error) {
	if err := validateFieldKey(workspaceID, entityID, fieldID); err != nil {
		return nil, false, err
	}

	value, found, err := c.repository.Value(ctx, workspaceID, entityID, fieldID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get custom field: %w", err)
	}

	return value, found, nil
}

func validateFieldKey(workspaceID, entityID, fieldID string) error {
	if strings.TrimSpace(workspaceID) == "" {
		return ErrWorkspaceRequired
	}

	if strings.TrimSpace(entityID) == "" || strings.TrimSpace(fieldID) == "" {
		return NewValidationError("CustomField", "INVALID_FIELD", "entity and field ids are required", ErrInvalidRequest)
	}

	return nil
}
