// Package file provides a JSON file persistence implementation for workflows, executions and custom fields.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/crmflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root            string
	workflowRepo    *WorkflowRepository
	executionRepo   *ExecutionRepository
	customFieldRepo *CustomFieldRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:            cleanRoot,
		workflowRepo:    NewWorkflowRepository(cleanRoot),
		executionRepo:   NewExecutionRepository(cleanRoot),
		customFieldRepo: NewCustomFieldRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) CustomFieldRepository() persistence.CustomFieldRepository {
	return fp.customFieldRepo
}

// validKey refuses ids that could escape their directory.
func validKey(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", persistence.ErrInvalidIdentifier, id)
	}

	return nil
}

func recordPath(dir, id string) (string, error) {
	if err := validKey(id); err != nil {
		return "", err
	}

	return filepath.Join(dir, id+".json"), nil
}

func readJSON(filePath string, target any) (bool, error) {
	body, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	if err := json.Unmarshal(body, target); err != nil {
		return false, err
	}

	return true, nil
}

// writeJSON replaces filePath atomically so readers never see a partial record.
func writeJSON(filePath string, value any) error {
	err := os.MkdirAll(filepath.Dir(filePath), 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}

	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmp, filePath)
}
