package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dukex/crmflow/pkg/persistence"
)

// CustomFieldRepository keeps one JSON object of field values per entity,
// stored under custom_fields/<workspace>/<entity>.json.
type CustomFieldRepository struct {
	root string
	mu   sync.RWMutex
}

func NewCustomFieldRepository(root string) *CustomFieldRepository {
	return &CustomFieldRepository{root: root}
}

func (cr *CustomFieldRepository) entityPath(workspaceID, entityID string) (string, error) {
	if err := validKey(workspaceID); err != nil {
		return "", err
	}

	return recordPath(filepath.Join(cr.root, "custom_fields", workspaceID), entityID)
}

func (cr *CustomFieldRepository) Value(_ context.Context, workspaceID, entityID, fieldID string) (any, bool, error) {
	filePath, err := cr.entityPath(workspaceID, entityID)
	if err != nil {
		return nil, false, err
	}

	cr.mu.RLock()
	defer cr.mu.RUnlock()

	values := map[string]any{}

	if _, err := readJSON(filePath, &values); err != nil {
		return nil, false, fmt.Errorf("failed to read custom fields of %s: %w", entityID, err)
	}

	value, ok := values[fieldID]

	return value, ok, nil
}

func (cr *CustomFieldRepository) SetValue(_ context.Context, workspaceID, entityID, fieldID string, value any) error {
	if fieldID == "" {
		return fmt.Errorf("%w: empty field id", persistence.ErrInvalidIdentifier)
	}

	filePath, err := cr.entityPath(workspaceID, entityID)
	if err != nil {
		return err
	}

	cr.mu.Lock()
	defer cr.mu.Unlock()

	values := map[string]any{}

	if _, err := readJSON(filePath, &values); err != nil {
		return fmt.Errorf("failed to read custom fields of %s: %w", entityID, err)
	}

	if value == nil {
		delete(values, fieldID)
	} else {
		values[fieldID] = value
	}

	return writeJSON(filePath, values)
}
