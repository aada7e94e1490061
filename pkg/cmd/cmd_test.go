package cmd

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/crmflow/pkg/dispatch"
	"github.com/dukex/crmflow/pkg/timers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url          string
		wantProvider string
		wantLocation string
	}{
		{"", "file", "./data"},
		{"./state", "file", "./state"},
		{"file:///var/lib/crmflow", "file", "/var/lib/crmflow"},
		{"file://", "file", "./data"},
		{"postgres://u:p@db:5432/crm", "postgresql", "postgres://u:p@db:5432/crm"},
		{"postgresql://db/crm?sslmode=disable", "postgresql", "postgresql://db/crm?sslmode=disable"},
	}

	for _, tt := range tests {
		provider, location := parsePersistenceURL(tt.url)
		assert.Equal(t, tt.wantProvider, provider, tt.url)
		assert.Equal(t, tt.wantLocation, location, tt.url)
	}
}

func TestNewPersistence_File(t *testing.T) {
	t.Parallel()

	store, err := NewPersistence(context.Background(), slog.Default(), "file://"+t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.HealthCheck(context.Background()))
}

func TestNewEventBus(t *testing.T) {
	t.Parallel()

	bus, err := NewEventBus(EventBusGoChannel, nil, "crmflow", slog.Default())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus("nats", nil, "crmflow", slog.Default())
	require.ErrorIs(t, err, ErrUnsupportedEventBus)

	_, err = NewEventBus(EventBusKafka, nil, "crmflow", slog.Default())
	require.Error(t, err)
}

func TestNewTimerStore_DefaultsToPersistence(t *testing.T) {
	t.Parallel()

	store, err := NewPersistence(context.Background(), slog.Default(), t.TempDir())
	require.NoError(t, err)

	timerStore, err := NewTimerStore(context.Background(), "", store)
	require.NoError(t, err)
	assert.IsType(t, &timers.PersistenceStore{}, timerStore)
}

func TestCollaboratorSelection(t *testing.T) {
	t.Parallel()

	dispatcher, err := NewDispatcher("", "", slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &dispatch.LogDispatcher{}, dispatcher)

	dispatcher, err = NewDispatcher("http://gateway.local/send", "secret", slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &dispatch.HTTPDispatcher{}, dispatcher)

	crm, err := NewCRM("", "", slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &dispatch.LogCRM{}, crm)

	crm, err = NewCRM("http://crm.local/mutations", "", slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &dispatch.HTTPCRM{}, crm)
}
