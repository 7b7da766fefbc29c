package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"playbookd/internal/coordinator"
	"playbookd/internal/handler"
	"playbookd/internal/history"
	"playbookd/internal/registry"
	"playbookd/internal/stats"
	"playbookd/internal/workspace"

	"github.com/stretchr/testify/require"
)

// newTestAPI stands up the full stack against a temp workspace and a stub
// playbook command, and returns the assembled router.
func newTestAPI(t *testing.T, script string) http.Handler {
	t.Helper()
	base := t.TempDir()

	dir := filepath.Join(base, "web-servers")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inventory.ini"),
		[]byte("[web]\nweb1 ansible_host=10.0.0.1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vars.yml"),
		[]byte("app_port: 8080\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deploy.yml"),
		[]byte("---\n- hosts: web\n"), 0o644))

	stub := filepath.Join(t.TempDir(), "fake-ansible-playbook")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\n"+script), 0o755))

	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	logger := log.New(io.Discard, "", 0)
	ws := workspace.New(base)
	reg := registry.New()
	coord := coordinator.New(logger, ws, reg, hist, coordinator.Options{
		PlaybookCommand: stub,
		Retention:       time.Minute,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		coord.Shutdown(ctx)
	})

	api := handler.NewAPI(logger, ws, coord, reg, hist, stats.New(hist))
	return api.Routes()
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var decoded map[string]any
	if rr.Body.Len() > 0 && strings.HasPrefix(rr.Body.String(), "{") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &decoded))
	}
	return rr, decoded
}

func pollUntilTerminal(t *testing.T, h http.Handler, jobID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rr, job := doJSON(t, h, http.MethodGet, "/api/jobs/"+jobID, "")
		require.Equal(t, http.StatusOK, rr.Code)
		switch job["status"] {
		case "completed", "failed", "errored", "cancelled":
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return nil
}

func TestRunPollHistoryLifecycle(t *testing.T) {
	t.Parallel()
	h := newTestAPI(t, "echo 'PLAY [web]'\nexit 0\n")

	rr, resp := doJSON(t, h, http.MethodPost, "/api/run",
		`{"folder":"web-servers","playbook":"deploy.yml","vars":{"app_port":9999}}`)
	require.Equal(t, http.StatusOK, rr.Code)
	jobID, _ := resp["job_id"].(string)
	require.NotEmpty(t, jobID)

	job := pollUntilTerminal(t, h, jobID)
	require.Equal(t, "completed", job["status"])
	require.EqualValues(t, 0, job["return_code"])
	require.Contains(t, job["output"], "PLAY [web]")
	require.NotNil(t, job["completed_at"])

	// the archived record carries the same output
	deadline := time.Now().Add(5 * time.Second)
	for {
		rr, rec := doJSON(t, h, http.MethodGet, "/api/history/"+jobID, "")
		if rr.Code == http.StatusOK {
			require.Equal(t, "completed", rec["status"])
			require.Equal(t, job["output"], rec["output"])
			break
		}
		require.Equal(t, http.StatusNotFound, rr.Code)
		require.True(t, time.Now().Before(deadline), "history record never appeared")
		time.Sleep(10 * time.Millisecond)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history?limit=10", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	require.Equal(t, jobID, recs[0]["job_id"])

	rr, resp = doJSON(t, h, http.MethodDelete, "/api/history", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualValues(t, 1, resp["cleared"])

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Empty(t, recs)
}

func TestRunFailedPlaybook(t *testing.T) {
	t.Parallel()
	h := newTestAPI(t, "echo 'fatal: boom' 1>&2\nexit 2\n")

	rr, resp := doJSON(t, h, http.MethodPost, "/api/run",
		`{"folder":"web-servers","playbook":"deploy.yml"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	job := pollUntilTerminal(t, h, resp["job_id"].(string))
	require.Equal(t, "failed", job["status"])
	require.EqualValues(t, 2, job["return_code"])
	require.Contains(t, job["output"], "fatal: boom")
}

func TestRunRejections(t *testing.T) {
	t.Parallel()
	h := newTestAPI(t, "echo started\nsleep 30\n")

	cases := []struct {
		name string
		body string
		code int
	}{
		{"unknown folder", `{"folder":"nope","playbook":"deploy.yml"}`, http.StatusBadRequest},
		{"unknown playbook", `{"folder":"web-servers","playbook":"nope.yml"}`, http.StatusBadRequest},
		{"traversal", `{"folder":"../etc","playbook":"deploy.yml"}`, http.StatusBadRequest},
		{"malformed body", `{"folder":`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, resp := doJSON(t, h, http.MethodPost, "/api/run", tc.body)
			require.Equal(t, tc.code, rr.Code)
			require.NotEmpty(t, resp["detail"])
		})
	}
}

func TestRunConflictAndCancel(t *testing.T) {
	t.Parallel()
	h := newTestAPI(t, "echo started\nsleep 30\n")

	rr, resp := doJSON(t, h, http.MethodPost, "/api/run",
		`{"folder":"web-servers","playbook":"deploy.yml"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	jobID := resp["job_id"].(string)

	// wait until the job is visibly running before poking at it
	deadline := time.Now().Add(10 * time.Second)
	for {
		_, job := doJSON(t, h, http.MethodGet, "/api/jobs/"+jobID, "")
		if job["status"] == "running" && job["output"] != "" {
			break
		}
		require.True(t, time.Now().Before(deadline))
		time.Sleep(10 * time.Millisecond)
	}

	rr, resp = doJSON(t, h, http.MethodPost, "/api/run",
		`{"folder":"web-servers","playbook":"deploy.yml"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.NotEmpty(t, resp["detail"])

	rr, _ = doJSON(t, h, http.MethodDelete, "/api/jobs/"+jobID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	job := pollUntilTerminal(t, h, jobID)
	require.Equal(t, "cancelled", job["status"])

	// terminal jobs are no longer cancellable
	rr, _ = doJSON(t, h, http.MethodDelete, "/api/jobs/"+jobID, "")
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestJobNotFound(t *testing.T) {
	t.Parallel()
	h := newTestAPI(t, "exit 0\n")

	rr, resp := doJSON(t, h, http.MethodGet, "/api/jobs/unknown-id", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.NotEmpty(t, resp["detail"])

	rr, _ = doJSON(t, h, http.MethodDelete, "/api/jobs/unknown-id", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = doJSON(t, h, http.MethodGet, "/api/history/unknown-id", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStatisticsEmpty(t *testing.T) {
	t.Parallel()
	h := newTestAPI(t, "exit 0\n")

	rr, snap := doJSON(t, h, http.MethodGet, "/api/statistics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualValues(t, 0, snap["total_executions"])
	require.EqualValues(t, 0, snap["success_rate"])
	require.EqualValues(t, 0, snap["average_duration"])
	require.Empty(t, snap["most_used_folders"])
	require.Empty(t, snap["recent_activity"])
}

func TestFolderEndpoints(t *testing.T) {
	t.Parallel()
	h := newTestAPI(t, "exit 0\n")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/folders", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var folders []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &folders))
	require.Len(t, folders, 1)
	require.Equal(t, "web-servers", folders[0]["name"])
	require.Equal(t, true, folders[0]["has_inventory"])
	require.Equal(t, []any{"deploy.yml"}, folders[0]["playbooks"])

	rr, inv := doJSON(t, h, http.MethodGet, "/api/folders/web-servers/inventory", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, inv["raw"], "[web]")

	rr, _ = doJSON(t, h, http.MethodPost, "/api/folders/web-servers/inventory",
		`{"raw":"[app]\napp1 ansible_host=10.1.1.1\n"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr, inv = doJSON(t, h, http.MethodGet, "/api/folders/web-servers/inventory", "")
	require.Equal(t, http.StatusOK, rr.Code)
	content := inv["content"].(map[string]any)
	require.Contains(t, content, "app")

	rr, vars := doJSON(t, h, http.MethodGet, "/api/folders/web-servers/vars", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualValues(t, 8080, vars["content"].(map[string]any)["app_port"])

	rr, _ = doJSON(t, h, http.MethodPost, "/api/folders/web-servers/vars",
		`{"app_port": 9090, "app_name": "shop"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr, vars = doJSON(t, h, http.MethodGet, "/api/folders/web-servers/vars", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualValues(t, 9090, vars["content"].(map[string]any)["app_port"])

	rr, _ = doJSON(t, h, http.MethodGet, "/api/folders/missing/inventory", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	h := newTestAPI(t, "exit 0\n")

	req := httptest.NewRequest(http.MethodOptions, "/api/folders", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
