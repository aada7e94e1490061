package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/crmflow/pkg/workflow"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10

	IdempotencyKeyHeader = "Idempotency-Key"
)

var (
	ErrEndpointRequired = errors.New("endpoint is required")
	ErrServerError      = errors.New("server error from collaborator")
)

// Retry controls how often a request is repeated after a transport error or a
// 5xx response. Attempts counts the first try.
type Retry struct {
	Attempts int
	Delay    time.Duration
}

type Option func(*client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *client) { c.http = httpClient }
}

func WithRetry(retry Retry) Option {
	return func(c *client) {
		if retry.Attempts > 0 {
			c.retry = retry
		}
	}
}

// WithHeader adds a static header (for example Authorization) to every request.
func WithHeader(key, value string) Option {
	return func(c *client) { c.headers[key] = value }
}

type client struct {
	endpoint string
	http     *http.Client
	retry    Retry
	headers  map[string]string
	logger   *slog.Logger
}

func newClient(endpoint string, logger *slog.Logger, opts ...Option) (*client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, ErrEndpointRequired
	}

	c := &client{
		endpoint: endpoint,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   defaultTimeout,
		},
		retry:   Retry{Attempts: 1},
		headers: map[string]string{},
		logger:  logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// post sends body as JSON and decodes a 2xx response into target. A 4xx
// response is returned as a rejection message with a nil error.
func (c *client) post(ctx context.Context, idempotencyKey string, body, target any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	var lastErr error

	for attempt := 1; attempt <= c.retry.Attempts; attempt++ {
		if attempt > 1 {
			c.logger.InfoContext(ctx, "retrying collaborator request", "attempt", attempt, "max_attempts", c.retry.Attempts)

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.retry.Delay):
			}
		}

		rejection, retryable, err := c.do(ctx, idempotencyKey, payload, target)
		if err == nil {
			return rejection, nil
		}

		lastErr = err

		if !retryable {
			break
		}
	}

	return "", lastErr
}

func (c *client) do(ctx context.Context, idempotencyKey string, payload []byte, target any) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, idempotencyKey)

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("request to %s failed: %w", c.endpoint, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return "", true, fmt.Errorf("%w: status %d", ErrServerError, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		message := strings.TrimSpace(string(raw))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}

		return fmt.Sprintf("rejected with status %d: %s", resp.StatusCode, message), false, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return "", false, fmt.Errorf("failed to decode response: %w", err)
	}

	return "", false, nil
}

// HTTPDispatcher posts each DispatchRequest as JSON to a delivery gateway and
// expects a DispatchResult back.
type HTTPDispatcher struct {
	client *client
}

func NewHTTPDispatcher(endpoint string, logger *slog.Logger, opts ...Option) (*HTTPDispatcher, error) {
	c, err := newClient(endpoint, logger.With("module", "http_dispatcher"), opts...)
	if err != nil {
		return nil, err
	}

	return &HTTPDispatcher{client: c}, nil
}

func (d *HTTPDispatcher) Send(ctx context.Context, request workflow.DispatchRequest) (workflow.DispatchResult, error) {
	// An empty 2xx body counts as accepted.
	result := workflow.DispatchResult{Success: true}

	rejection, err := d.client.post(ctx, request.ExecutionID+":"+request.ActionID, request, &result)
	if err != nil {
		return workflow.DispatchResult{}, err
	}

	if rejection != "" {
		return workflow.DispatchResult{Success: false, Error: rejection}, nil
	}

	return result, nil
}

// HTTPCRM posts each MutationRequest as JSON to the CRM and expects a
// MutationResult back.
type HTTPCRM struct {
	client *client
}

func NewHTTPCRM(endpoint string, logger *slog.Logger, opts ...Option) (*HTTPCRM, error) {
	c, err := newClient(endpoint, logger.With("module", "http_crm"), opts...)
	if err != nil {
		return nil, err
	}

	return &HTTPCRM{client: c}, nil
}

func (c *HTTPCRM) Apply(ctx context.Context, request workflow.MutationRequest) (workflow.MutationResult, error) {
	result := workflow.MutationResult{Success: true}

	rejection, err := c.client.post(ctx, request.ExecutionID+":"+request.ActionID, request, &result)
	if err != nil {
		return workflow.MutationResult{}, err
	}

	if rejection != "" {
		return workflow.MutationResult{Success: false, Error: rejection}, nil
	}

	return result, nil
}
