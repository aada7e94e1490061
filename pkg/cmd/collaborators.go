package cmd

import (
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/dispatch"
	"github.com/dukex/crmflow/pkg/workflow"
)

var collaboratorRetry = dispatch.Retry{Attempts: 3, Delay: 2 * time.Second}

// NewDispatcher posts to url when set and only logs otherwise.
func NewDispatcher(url, token string, logger *slog.Logger) (workflow.Dispatcher, error) {
	if url == "" {
		return dispatch.NewLogDispatcher(logger), nil
	}

	return dispatch.NewHTTPDispatcher(url, logger, collaboratorOptions(token)...)
}

// NewCRM posts to url when set and only logs otherwise.
func NewCRM(url, token string, logger *slog.Logger) (workflow.CRM, error) {
	if url == "" {
		return dispatch.NewLogCRM(logger), nil
	}

	return dispatch.NewHTTPCRM(url, logger, collaboratorOptions(token)...)
}

func collaboratorOptions(token string) []dispatch.Option {
	opts := []dispatch.Option{dispatch.WithRetry(collaboratorRetry)}
	if token != "" {
		opts = append(opts, dispatch.WithHeader("Authorization", "Bearer "+token))
	}

	return opts
}
