package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/crmflow/pkg/mocks"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T, root string) *fiber.App {
	t.Helper()

	app, err := NewAPI(slog.Default(), file.NewPersistence(root), &mocks.MockEventBus{}).App()
	require.NoError(t, err)

	return app
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	t.Parallel()

	status, body := get(t, setupTestApp(t, t.TempDir()), "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "crmflow API", body)
}

func TestAPI_Liveness(t *testing.T) {
	t.Parallel()

	status, _ := get(t, setupTestApp(t, t.TempDir()), "/livez")
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_ReadinessFollowsPersistence(t *testing.T) {
	t.Parallel()

	status, _ := get(t, setupTestApp(t, t.TempDir()), "/readyz")
	assert.Equal(t, http.StatusOK, status)

	status, _ = get(t, setupTestApp(t, "/nonexistent/crmflow-data"), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestAPI_MountsWorkflowRoutes(t *testing.T) {
	t.Parallel()

	status, _ := get(t, setupTestApp(t, t.TempDir()), "/catalog/actions")
	assert.Equal(t, http.StatusOK, status)
}
