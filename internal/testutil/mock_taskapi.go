// Package testutil provides testing utilities for tasksync: a mock task API
// server, an in-memory repository and a manual clock.
package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/tasksync/pkg/apierr"
	"github.com/Sternrassler/tasksync/pkg/task"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockTaskAPI is a task REST API backed by a FakeRepository. Individual
// routes can be overridden with canned responses.
type MockTaskAPI struct {
	Repo *FakeRepository

	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	version  int

	// Tracking
	RequestCount      int
	ConditionalCount  int
	LastRequestHeader http.Header
}

// NewMockTaskAPI starts a mock server holding seed.
func NewMockTaskAPI(seed ...task.Task) *MockTaskAPI {
	mock := &MockTaskAPI{
		Repo:     NewFakeRepository(seed...),
		handlers: make(map[string]http.HandlerFunc),
		version:  1,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.ConditionalCount++
		}
		handler, exists := mock.handlers[r.Method+" "+r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockTaskAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockTaskAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockTaskAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.LastRequestHeader = nil
}

// SetHandler overrides one route, e.g. "GET /tasks".
func (m *MockTaskAPI) SetHandler(route string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[route] = handler
}

// ClearHandler restores the default behavior for route.
func (m *MockTaskAPI) ClearHandler(route string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, route)
}

// SetResponse configures a canned response for route.
func (m *MockTaskAPI) SetResponse(route string, resp MockResponse) {
	m.SetHandler(route, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetSequence answers route with resps in order; the last one repeats.
func (m *MockTaskAPI) SetSequence(route string, resps ...MockResponse) {
	var mu sync.Mutex
	i := 0
	m.SetHandler(route, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := resps[i]
		if i < len(resps)-1 {
			i++
		}
		mu.Unlock()

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockTaskAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockTaskAPI) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetLastRequestHeader returns the headers of the latest request.
func (m *MockTaskAPI) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

// defaultHandler serves the REST routes from Repo.
func (m *MockTaskAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	ctx := r.Context()

	id, hasID := strings.CutPrefix(r.URL.Path, "/tasks/")
	switch {
	case r.URL.Path == "/tasks" && r.Method == http.MethodGet:
		etag := m.etag()
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		tasks, err := m.Repo.List(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("ETag", etag)
		writeJSON(w, http.StatusOK, tasks)

	case r.URL.Path == "/tasks" && r.Method == http.MethodPost:
		var in task.Input
		if err := decodeBody(r.Body, &in); err != nil {
			writeError(w, err)
			return
		}
		t, err := m.Repo.Create(ctx, in)
		if err != nil {
			writeError(w, err)
			return
		}
		m.bump()
		writeJSON(w, http.StatusCreated, t)

	case hasID && r.Method == http.MethodGet:
		t, err := m.Repo.Get(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)

	case hasID && r.Method == http.MethodPut:
		var p task.Patch
		if err := decodeBody(r.Body, &p); err != nil {
			writeError(w, err)
			return
		}
		t, err := m.Repo.Update(ctx, id, p)
		if err != nil {
			writeError(w, err)
			return
		}
		m.bump()
		writeJSON(w, http.StatusOK, t)

	case hasID && r.Method == http.MethodDelete:
		if err := m.Repo.Delete(ctx, id); err != nil {
			writeError(w, err)
			return
		}
		m.bump()
		w.WriteHeader(http.StatusNoContent)

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "route not found", "code": "NO_ROUTE"})
	}
}

func (m *MockTaskAPI) etag() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf(`"tasks-v%d"`, m.version)
}

func (m *MockTaskAPI) bump() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
}

func decodeBody(body io.Reader, v any) error {
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return &apierr.Error{Kind: apierr.KindValidation, Status: http.StatusBadRequest, Message: "malformed JSON body", Code: "BAD_JSON"}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps repository errors back onto HTTP responses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) && apiErr.Status != 0 {
		status = apiErr.Status
	} else if errors.Is(err, apierr.ErrNotFound) {
		status = http.StatusNotFound
	}
	code := ""
	if apiErr != nil {
		code = apiErr.Code
	}
	writeJSON(w, status, map[string]string{"message": err.Error(), "code": code})
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Internal server error", "code": "INTERNAL"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewJSONResponse creates a 200 OK response with body and optional ETag.
func NewJSONResponse(body, etag string) MockResponse {
	headers := map[string]string{"Content-Type": "application/json; charset=utf-8"}
	if etag != "" {
		headers["ETag"] = etag
	}
	return MockResponse{StatusCode: http.StatusOK, Body: body, Headers: headers}
}

// NewNotModifiedResponse creates a 304 Not Modified response.
func NewNotModifiedResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusNotModified}
}
