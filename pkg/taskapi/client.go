// Package taskapi implements task.Repository over the task REST API with
// retries, client-side rate limiting, conditional list requests and
// connectivity reporting.
package taskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/tasksync/pkg/apierr"
	"github.com/Sternrassler/tasksync/pkg/connectivity"
	"github.com/Sternrassler/tasksync/pkg/logging"
	"github.com/Sternrassler/tasksync/pkg/task"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Routes, used as metric labels.
const (
	routeTasks = "/tasks"
	routeTask  = "/tasks/{id}"
)

// Client is the task API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	list       validator
	tracker    *connectivity.Tracker
	config     Config
	logger     zerolog.Logger
}

var _ task.Repository = (*Client)(nil)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, e.g. "https://api.example.com" (required)
	BaseURL string

	// UserID is sent as the userId header on every request
	UserID string

	// Timeout bounds each HTTP attempt
	Timeout time.Duration

	// Rate Limiting
	RateLimit float64 // Requests per second
	Burst     int

	// Retry
	ReadRetry  RetryConfig
	WriteRetry RetryConfig

	// Tracker receives every request outcome, if set
	Tracker *connectivity.Tracker
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userID string) Config {
	return Config{
		BaseURL:    baseURL,
		UserID:     userID,
		Timeout:    10 * time.Second,
		RateLimit:  10,
		Burst:      5,
		ReadRetry:  DefaultReadRetry(),
		WriteRetry: DefaultWriteRetry(),
	}
}

// New creates a new task API client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base_url must be an absolute URL (got %q)", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}
	if cfg.RateLimit <= 0 {
		return nil, fmt.Errorf("rate_limit must be > 0 (got %v)", cfg.RateLimit)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if err := cfg.ReadRetry.validate("read_retry"); err != nil {
		return nil, err
	}
	if err := cfg.WriteRetry.validate("write_retry"); err != nil {
		return nil, err
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		tracker:    cfg.Tracker,
		config:     cfg,
		logger:     logging.NewLogger("taskapi"),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// List implements task.Repository.
func (c *Client) List(ctx context.Context) ([]task.Task, error) {
	var tasks []task.Task
	err := c.do(ctx, request{method: http.MethodGet, path: "/tasks", route: routeTasks, conditional: true}, &tasks)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	return tasks, nil
}

// Get implements task.Repository.
func (c *Client) Get(ctx context.Context, id string) (task.Task, error) {
	var t task.Task
	if err := c.do(ctx, request{method: http.MethodGet, path: taskPath(id), route: routeTask}, &t); err != nil {
		return task.Task{}, err
	}
	if t.ID == "" {
		return task.Task{}, apierr.NotFound(id)
	}
	return t, nil
}

// Create implements task.Repository.
func (c *Client) Create(ctx context.Context, in task.Input) (task.Task, error) {
	var t task.Task
	if err := c.do(ctx, request{method: http.MethodPost, path: "/tasks", route: routeTasks, body: in}, &t); err != nil {
		return task.Task{}, err
	}
	if t.ID == "" {
		return task.Task{}, &apierr.Error{Kind: apierr.KindServer, Message: "create response carries no task id"}
	}
	return t, nil
}

// Update implements task.Repository.
func (c *Client) Update(ctx context.Context, id string, patch task.Patch) (task.Task, error) {
	var t task.Task
	if err := c.do(ctx, request{method: http.MethodPut, path: taskPath(id), route: routeTask, body: patch}, &t); err != nil {
		return task.Task{}, err
	}
	if t.ID == "" {
		return task.Task{}, &apierr.Error{Kind: apierr.KindServer, Message: "update response carries no task id"}
	}
	return t, nil
}

// Delete implements task.Repository.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: taskPath(id), route: routeTask}, nil)
}

// Ping performs one unconditional list request and reports whether the API
// answered. It is meant as a connectivity probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.attempt(ctx, request{method: http.MethodGet, path: "/tasks", route: routeTasks})
	return err
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

type request struct {
	method      string
	path        string
	route       string
	body        any
	conditional bool
}

// do runs r under the retry policy for its method and decodes the body into out.
func (c *Client) do(ctx context.Context, r request, out any) error {
	policy := c.config.WriteRetry
	if r.method == http.MethodGet {
		policy = c.config.ReadRetry
	}

	logger := c.logger.With().Str("method", r.method).Str("path", r.path).Logger()

	var body []byte
	err := retryWithBackoff(ctx, policy, logger, func() error {
		b, err := c.attempt(ctx, r)
		body = b
		return err
	})
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		if r.conditional {
			c.list.reset()
		}
		return &apierr.Error{Kind: apierr.KindServer, Message: "decode response", Err: err}
	}
	return nil
}

// attempt performs a single HTTP exchange.
func (c *Client) attempt(ctx context.Context, r request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var payload io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, payload)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.UserID != "" {
		req.Header.Set("userId", c.config.UserID)
	}
	if r.conditional && c.list.addHeaders(req) {
		conditionalRequestsSent.Inc()
	}

	c.logger.Debug().
		Str("method", r.method).
		Str("path", r.path).
		Msg("Executing task API request")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	apiRequestDuration.WithLabelValues(r.route).Observe(time.Since(startTime).Seconds())

	if err != nil {
		apiErr := apierr.Network(err)
		c.fail(r, apiErr, "network_error")
		return nil, apiErr
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		apiErr := apierr.Network(fmt.Errorf("read response body: %w", err))
		c.fail(r, apiErr, "network_error")
		return nil, apiErr
	}
	c.record(nil)
	status := strconv.Itoa(resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusNotModified && r.conditional:
		cached, ok := c.list.cached()
		if !ok {
			apiErr := &apierr.Error{Kind: apierr.KindServer, Status: resp.StatusCode, Message: "not modified without a cached body"}
			c.fail(r, apiErr, status)
			return nil, apiErr
		}
		apiRequestsTotal.WithLabelValues(r.route, status).Inc()
		notModifiedResponses.Inc()
		c.logger.Debug().Str("path", r.path).Msg("304 Not Modified - reusing last body")
		return cached, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		apiRequestsTotal.WithLabelValues(r.route, status).Inc()
		if r.conditional {
			c.list.store(resp.Header, data)
		}
		return data, nil

	default:
		apiErr := decodeError(resp.StatusCode, data)
		c.fail(r, apiErr, status)
		return nil, apiErr
	}
}

func (c *Client) fail(r request, err *apierr.Error, status string) {
	apiRequestsTotal.WithLabelValues(r.route, status).Inc()
	apiErrorsTotal.WithLabelValues(string(err.Kind)).Inc()
	if err.Kind == apierr.KindNetwork {
		c.record(err)
	}

	c.logger.Warn().
		Err(err).
		Str("method", r.method).
		Str("path", r.path).
		Int("status", err.Status).
		Str("error_kind", string(err.Kind)).
		Msg("Task API request error")
}

func (c *Client) record(err error) {
	if c.tracker != nil {
		c.tracker.Record(err)
	}
}

func taskPath(id string) string {
	return "/tasks/" + url.PathEscape(id)
}
