package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/tasksync/internal/testutil"
	"github.com/Sternrassler/tasksync/pkg/connectivity"
	"github.com/Sternrassler/tasksync/pkg/task"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var created = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// writeConfig points taskctl at baseURL and the given storage section.
func writeConfig(t *testing.T, baseURL, storage string) string {
	t.Helper()
	content := fmt.Sprintf(`api:
  base_url: %s
  user_id: user-1
  read_attempts: 1
  rate_limit: 1000
log:
  level: disabled
%s`, baseURL, storage)

	path := filepath.Join(t.TempDir(), "taskctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func memoryStorage() string {
	return "storage:\n  backend: memory\n"
}

func sqliteStorage(t *testing.T) string {
	return fmt.Sprintf("storage:\n  backend: sqlite\n  sqlite_path: %s\n", filepath.Join(t.TempDir(), "tasksync.db"))
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := newRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "taskctl", cmd.Use)

	for _, name := range []string{"list", "get", "add", "update", "delete", "watch", "local"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	output := cmd.PersistentFlags().Lookup("output")
	require.NotNil(t, output)
	assert.Equal(t, "o", output.Shorthand)
	assert.Equal(t, "table", output.DefValue)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestInvalidOutput(t *testing.T) {
	_, _, err := execute(t, "list", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output")
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	tracker := connectivity.NewTracker(1, zerolog.Nop())
	handler := readyHandler(tracker)

	t.Run("online", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest("GET", "/ready", nil))
		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})

	t.Run("offline", func(t *testing.T) {
		tracker.Set(false)
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest("GET", "/ready", nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", w.Code)
		}

		var state connectivity.State
		require.NoError(t, json.NewDecoder(w.Body).Decode(&state))
		assert.False(t, state.Online)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(newMux(connectivity.NewTracker(1, zerolog.Nop())))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tasksync_online")
}

func TestAddUpdateGetDelete(t *testing.T) {
	mock := testutil.NewMockTaskAPI()
	defer mock.Close()
	cfg := writeConfig(t, mock.URL(), memoryStorage())

	out, _, err := execute(t, "--config", cfg, "add", "--title", "Buy milk", "-o", "json")
	require.NoError(t, err)

	var added task.Task
	require.NoError(t, json.Unmarshal([]byte(out), &added))
	assert.Equal(t, "Buy milk", added.Title)
	assert.False(t, task.IsProvisional(added.ID))

	out, _, err = execute(t, "--config", cfg, "update", added.ID, "--status", "complete", "-o", "yaml")
	require.NoError(t, err)
	var updated task.Task
	require.NoError(t, yaml.Unmarshal([]byte(out), &updated))
	assert.Equal(t, task.StatusComplete, updated.Status)

	out, _, err = execute(t, "--config", cfg, "get", added.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Completed")

	out, _, err = execute(t, "--config", cfg, "delete", added.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted task "+added.ID)
	assert.Empty(t, mock.Repo.Tasks())
}

func TestAdd_ValidationError(t *testing.T) {
	mock := testutil.NewMockTaskAPI()
	defer mock.Close()
	cfg := writeConfig(t, mock.URL(), memoryStorage())

	_, _, err := execute(t, "--config", cfg, "add", "--title", "ab")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title")
	assert.Equal(t, 0, mock.GetRequestCount())
}

func TestList_Filters(t *testing.T) {
	mock := testutil.NewMockTaskAPI(
		task.Task{ID: "1", Title: "Walk dog", Status: task.StatusPending, CreatedAt: created},
		task.Task{ID: "2", Title: "Buy milk", Status: task.StatusComplete, CreatedAt: created.Add(time.Minute)},
	)
	defer mock.Close()
	cfg := writeConfig(t, mock.URL(), memoryStorage())

	out, _, err := execute(t, "--config", cfg, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Walk dog")
	assert.Contains(t, out, "Buy milk")

	out, _, err = execute(t, "--config", cfg, "list", "--status", "complete")
	require.NoError(t, err)
	assert.NotContains(t, out, "Walk dog")
	assert.Contains(t, out, "Buy milk")

	out, _, err = execute(t, "--config", cfg, "list", "--search", "DOG")
	require.NoError(t, err)
	assert.Contains(t, out, "Walk dog")
	assert.NotContains(t, out, "Buy milk")

	_, _, err = execute(t, "--config", cfg, "list", "--status", "done")
	assert.Error(t, err)
}

func TestList_ServesPersistedCacheOffline(t *testing.T) {
	mock := testutil.NewMockTaskAPI(task.Task{ID: "1", Title: "Walk dog", Status: task.StatusPending, CreatedAt: created})
	cfg := writeConfig(t, mock.URL(), sqliteStorage(t)+"query:\n  stale_time: 0s\n")

	_, _, err := execute(t, "--config", cfg, "list")
	require.NoError(t, err)

	mock.Close()

	out, errOut, err := execute(t, "--config", cfg, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Walk dog")
	assert.Contains(t, errOut, "showing cached data")
}

func TestList_OfflineWithoutCache(t *testing.T) {
	mock := testutil.NewMockTaskAPI()
	url := mock.URL()
	mock.Close()

	cfg := writeConfig(t, url, memoryStorage())
	_, _, err := execute(t, "--config", cfg, "list")
	assert.Error(t, err)
}

func TestLocal(t *testing.T) {
	cfg := writeConfig(t, "http://localhost:1", sqliteStorage(t))

	out, _, err := execute(t, "--config", cfg, "local", "add", "--title", "Pay rent", "-o", "json")
	require.NoError(t, err)
	var added task.Task
	require.NoError(t, json.Unmarshal([]byte(out), &added))

	out, _, err = execute(t, "--config", cfg, "local", "update", added.ID, "--title", "Pay rent today", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "Pay rent today")

	out, _, err = execute(t, "--config", cfg, "local", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Pay rent today")

	out, _, err = execute(t, "--config", cfg, "local", "clean")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 local tasks")

	out, _, err = execute(t, "--config", cfg, "local", "list", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	_, _, err = execute(t, "--config", cfg, "local", "delete", added.ID)
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	mock := testutil.NewMockTaskAPI(task.Task{ID: "1", Title: "Walk dog", Status: task.StatusPending, CreatedAt: created})
	defer mock.Close()
	cfg := writeConfig(t, mock.URL(), memoryStorage())

	out, _, err := execute(t, "--config", cfg, "watch", "--metrics-addr", "", "--refresh", "20ms", "--duration", "300ms")
	require.NoError(t, err)
	assert.Contains(t, out, "Walk dog")
}
