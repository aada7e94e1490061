package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type CustomFieldRepository struct {
	db *sql.DB
}

func NewCustomFieldRepository(db *sql.DB) *CustomFieldRepository {
	return &CustomFieldRepository{db: db}
}

func (r *CustomFieldRepository) Value(ctx context.Context, workspaceID, entityID, fieldID string) (any, bool, error) {
	var raw []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT value FROM custom_field_values
		WHERE workspace_id = $1 AND entity_id = $2 AND field_id = $3`,
		workspaceID, entityID, fieldID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to query custom field %s: %w", fieldID, err)
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal custom field %s: %w", fieldID, err)
	}

	return value, true, nil
}

// SetValue upserts a value; nil removes it.
func (r *CustomFieldRepository) SetValue(ctx context.Context, workspaceID, entityID, fieldID string, value any) error {
	if value == nil {
		_, err := r.db.ExecContext(ctx, `
			DELETE FROM custom_field_values
			WHERE workspace_id = $1 AND entity_id = $2 AND field_id = $3`,
			workspaceID, entityID, fieldID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete custom field %s: %w", fieldID, err)
		}

		return nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal custom field %s: %w", fieldID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO custom_field_values (workspace_id, entity_id, field_id, value, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (workspace_id, entity_id, field_id) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`,
		workspaceID, entityID, fieldID, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to save custom field %s: %w", fieldID, err)
	}

	return nil
}
