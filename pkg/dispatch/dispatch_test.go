package dispatch_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/dispatch"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smsRequest() workflow.DispatchRequest {
	return workflow.DispatchRequest{
		ExecutionID: "exec-1",
		WorkspaceID: "ws-1",
		ActionID:    "act-1",
		Channel:     workflow.ChannelSMS,
		Config:      &models.SendSMSConfig{To: "+15550100", Message: "Hi Ana"},
	}
}

func TestLogDispatcher_Send(t *testing.T) {
	t.Parallel()

	result, err := dispatch.NewLogDispatcher(slog.Default()).Send(context.Background(), smsRequest())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.ProviderRef, "log-")
}

func TestLogCRM_Apply(t *testing.T) {
	t.Parallel()

	crm := dispatch.NewLogCRM(slog.Default())

	result, err := crm.Apply(context.Background(), workflow.MutationRequest{
		ActionType: models.ActionCreateTask,
		Config:     &models.CreateTaskConfig{},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.Output["task_id"])

	result, err = crm.Apply(context.Background(), workflow.MutationRequest{
		ActionType: models.ActionAddTag,
		EntityKind: models.EntityLead,
		EntityID:   "lead-1",
		Config:     &models.AddTagConfig{Tag: "vip"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Output)
}

func TestNewHTTPDispatcher_RequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := dispatch.NewHTTPDispatcher(" ", slog.Default())
	require.ErrorIs(t, err, dispatch.ErrEndpointRequired)

	_, err = dispatch.NewHTTPCRM("", slog.Default())
	require.ErrorIs(t, err, dispatch.ErrEndpointRequired)
}

func TestHTTPDispatcher_Send(t *testing.T) {
	t.Parallel()

	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "exec-1:act-1", r.Header.Get(dispatch.IdempotencyKeyHeader))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"provider_ref":"SM123"}`))
	}))
	defer server.Close()

	dispatcher, err := dispatch.NewHTTPDispatcher(server.URL, slog.Default(), dispatch.WithHeader("Authorization", "Bearer token"))
	require.NoError(t, err)

	result, err := dispatcher.Send(context.Background(), smsRequest())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "SM123", result.ProviderRef)

	assert.Equal(t, "sms", received["channel"])
	config, ok := received["config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Hi Ana", config["message"])
}

func TestHTTPDispatcher_EmptyBodyIsSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	dispatcher, err := dispatch.NewHTTPDispatcher(server.URL, slog.Default())
	require.NoError(t, err)

	result, err := dispatcher.Send(context.Background(), smsRequest())
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestHTTPDispatcher_ClientErrorIsRejection(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid phone number", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	dispatcher, err := dispatch.NewHTTPDispatcher(server.URL, slog.Default(), dispatch.WithRetry(dispatch.Retry{Attempts: 3}))
	require.NoError(t, err)

	result, err := dispatcher.Send(context.Background(), smsRequest())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "422")
	assert.Contains(t, result.Error, "invalid phone number")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPCRM_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		_, _ = w.Write([]byte(`{"success":true,"output":{"deal_id":"deal-9"}}`))
	}))
	defer server.Close()

	crm, err := dispatch.NewHTTPCRM(server.URL, slog.Default(),
		dispatch.WithRetry(dispatch.Retry{Attempts: 3, Delay: time.Millisecond}))
	require.NoError(t, err)

	result, err := crm.Apply(context.Background(), workflow.MutationRequest{
		ExecutionID: "exec-1",
		ActionID:    "act-2",
		ActionType:  models.ActionCreateDeal,
		Config:      &models.CreateDealConfig{},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "deal-9", result.Output["deal_id"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPCRM_ServerErrorAfterRetries(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	crm, err := dispatch.NewHTTPCRM(server.URL, slog.Default(),
		dispatch.WithRetry(dispatch.Retry{Attempts: 2, Delay: time.Millisecond}))
	require.NoError(t, err)

	_, err = crm.Apply(context.Background(), workflow.MutationRequest{ActionType: models.ActionCloseDeal})
	require.ErrorIs(t, err, dispatch.ErrServerError)
}
