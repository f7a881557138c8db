// Copyright 2025 Forgeflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeflow/forgeflow/internal/config"
	"github.com/forgeflow/forgeflow/internal/daemon/httputil"
	"github.com/forgeflow/forgeflow/internal/daemon/runner"
	"github.com/forgeflow/forgeflow/internal/daemon/scheduler"
	"github.com/forgeflow/forgeflow/internal/store"
	"github.com/forgeflow/forgeflow/pkg/llm"
	"github.com/forgeflow/forgeflow/pkg/materialize"
	"github.com/forgeflow/forgeflow/pkg/workflow"
)

// echoCompleter replies with the payload wrapped in a code fence and
// remembers which endpoint asked.
type echoCompleter struct {
	mu        sync.Mutex
	endpoints []string
}

func (c *echoCompleter) completerFor(name string) llm.Completer {
	return completerFunc(func(_ context.Context, messages []llm.Message) (llm.Result, error) {
		c.mu.Lock()
		c.endpoints = append(c.endpoints, name)
		c.mu.Unlock()
		payload := messages[len(messages)-1].Content
		return llm.Result{Content: "```\necho: " + payload + "\n```"}, nil
	})
}

type completerFunc func(ctx context.Context, messages []llm.Message) (llm.Result, error)

func (f completerFunc) Complete(ctx context.Context, messages []llm.Message) (llm.Result, error) {
	return f(ctx, messages)
}

type testServer struct {
	srv   *Server
	dir   string
	echo  *echoCompleter
	cfg   *config.Store
	sched *scheduler.Scheduler

	mu       sync.Mutex
	sessions []string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	echo := &echoCompleter{}
	files := store.New()
	exec := workflow.NewExecutor(files, func(ep workflow.Endpoint) (llm.Completer, error) {
		switch ep {
		// steps without an apiEndpoint default to qianwen, as in the daemon
		case "", workflow.EndpointQianwen:
			return echo.completerFor(string(workflow.EndpointQianwen)), nil
		case workflow.EndpointChat, workflow.EndpointDeepseek:
			return echo.completerFor(string(ep)), nil
		default:
			return nil, fmt.Errorf("unknown endpoint %q", ep)
		}
	})

	cfg := config.NewStore(filepath.Join(dir, "configs"))
	groupRunner := runner.New(exec, runner.WithWorkflowPause(time.Millisecond))
	sched := scheduler.New(groupRunner, 2, scheduler.WithTaskPause(time.Millisecond))

	ts := &testServer{dir: dir, echo: echo, cfg: cfg, sched: sched}
	ts.srv = NewServer(Options{
		Exec:    exec,
		Files:   files,
		Config:  cfg,
		Sched:   sched,
		Relay:   echo.completerFor("relay"),
		Version: "test",
		RelayFor: func(sessionID string) llm.Completer {
			ts.mu.Lock()
			ts.sessions = append(ts.sessions, sessionID)
			ts.mu.Unlock()
			return echo.completerFor("relay")
		},
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func envelope(t *testing.T, rec *httptest.ResponseRecorder) httputil.Envelope {
	t.Helper()
	var env httputil.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHealthAndVersion(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)

	rec = ts.do(t, http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"test"`)
}

func TestProcessFile(t *testing.T) {
	ts := newTestServer(t)

	input := filepath.Join(ts.dir, "in.txt")
	require.NoError(t, os.WriteFile(input, []byte("SOURCE"), 0o644))

	rec := ts.do(t, http.MethodPost, "/api/process-file", processRequest{
		Inputs: []processInput{
			{Type: "prompt", Value: "convert"},
			{Type: "file", Value: input},
		},
		OutputFolder:   filepath.Join(ts.dir, "out"),
		OutputFileName: "result.txt",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env := envelope(t, rec)
	assert.True(t, env.Success)

	written, err := os.ReadFile(filepath.Join(ts.dir, "out", "result.txt"))
	require.NoError(t, err)
	assert.Equal(t, "echo: convert\nSOURCE", string(written))
	assert.Equal(t, []string{"chat"}, ts.echo.endpoints)
}

func TestProcessFileDirectModelSelection(t *testing.T) {
	ts := newTestServer(t)
	input := filepath.Join(ts.dir, "in.txt")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o644))

	body := processRequest{
		Inputs:         []processInput{{Type: "file", Value: input}},
		OutputFolder:   filepath.Join(ts.dir, "out"),
		OutputFileName: "r.txt",
	}

	rec := ts.do(t, http.MethodPost, "/api/process-file-direct", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/process-file-direct?model=deepseek", body)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"qianwen", "deepseek"}, ts.echo.endpoints)

	rec = ts.do(t, http.MethodPost, "/api/process-file-direct?model=gpt5", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessFileValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/process-file", processRequest{
		OutputFolder:   "/tmp",
		OutputFileName: "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/process-file", processRequest{
		Inputs: []processInput{{Type: "banana", Value: "x"}},

		OutputFolder:   "/tmp",
		OutputFileName: "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, envelope(t, rec).Error, "unknown input type")
}

func TestGenerateReact(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/generate-react", generateReactRequest{
		Message: "make a button",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	env := envelope(t, rec)
	require.True(t, env.Success)
	data := env.Data.(map[string]any)
	assert.Contains(t, data["reply"], "make a button")

	rec = ts.do(t, http.MethodPost, "/api/generate-react", generateReactRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateReactSession(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/generate-react", generateReactRequest{
		Message:   "make a button",
		SessionID: "sess-42",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	ts.mu.Lock()
	sessions := append([]string(nil), ts.sessions...)
	ts.mu.Unlock()
	assert.Equal(t, []string{"sess-42"}, sessions, "request sessionId must reach the relay")

	// without a sessionId the default relay serves the call
	rec = ts.do(t, http.MethodPost, "/api/generate-react", generateReactRequest{Message: "again"})
	require.Equal(t, http.StatusOK, rec.Code)
	ts.mu.Lock()
	n := len(ts.sessions)
	ts.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestListFiles(t *testing.T) {
	ts := newTestServer(t)
	sub := filepath.Join(ts.dir, "tree", "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ts.dir, "tree", "a.java"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.java"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "c.txt"), []byte("x"), 0o644))

	rec := ts.do(t, http.MethodPost, "/api/list-files", listFilesRequest{
		FolderPath: filepath.Join(ts.dir, "tree"),
		FileType:   "java",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	env := envelope(t, rec)
	files := env.Data.(map[string]any)["files"].([]any)
	assert.ElementsMatch(t, []any{"a.java", "sub/b.java"}, files)

	rec = ts.do(t, http.MethodPost, "/api/list-files", listFilesRequest{FolderPath: filepath.Join(ts.dir, "missing")})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/config/load", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/config/save", map[string]any{"workflows": []any{}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/config/load", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env := envelope(t, rec)
	doc := env.Data.(map[string]any)
	assert.NotEmpty(t, doc["lastUpdated"])

	rec = ts.do(t, http.MethodGet, "/api/config/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := envelope(t, rec).Data.(map[string]any)
	assert.Equal(t, true, info["exists"])

	rec = ts.do(t, http.MethodDelete, "/api/config/delete", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/config/load", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multiStreamDoc(ts *testServer, t *testing.T, inputPath string) {
	t.Helper()
	doc := map[string]any{
		"workflowGroups": []any{
			map[string]any{
				"id":     "g1",
				"name":   "Group One",
				"status": "idle",
				"template": map[string]any{
					"workflows": []any{
						map[string]any{
							"id": "w1",
							"steps": []any{
								map[string]any{
									"id":    "s1",
									"order": 1,
									"config": map[string]any{
										"fileInputs":     []any{map[string]any{"name": "in", "path": inputPath}},
										"promptInputs":   []any{map[string]any{"content": "{{in}}"}},
										"outputFolder":   filepath.Join(ts.dir, "out"),
										"outputFileName": "g1.txt",
									},
								},
							},
						},
					},
				},
			},
		},
	}
	rec := ts.do(t, http.MethodPost, "/api/multi-stream/save", doc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestMultiStreamInfoAndProcess(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/multi-stream/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := envelope(t, rec).Data.(map[string]any)
	assert.Equal(t, false, info["exists"])

	input := filepath.Join(ts.dir, "in.txt")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o644))
	multiStreamDoc(ts, t, input)

	rec = ts.do(t, http.MethodGet, "/api/multi-stream/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info = envelope(t, rec).Data.(map[string]any)
	assert.Equal(t, float64(1), info["streamGroupsCount"])

	rec = ts.do(t, http.MethodPost, "/api/multi-stream/process", multiStreamProcessRequest{StreamGroupID: "g1"})
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/multi-stream/process", multiStreamProcessRequest{StreamGroupID: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupExecuteAndStatus(t *testing.T) {
	ts := newTestServer(t)
	input := filepath.Join(ts.dir, "in.txt")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o644))
	multiStreamDoc(ts, t, input)

	rec := ts.do(t, http.MethodPost, "/api/groups/g1/execute", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/api/groups/g1/status", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		g := envelope(t, rec).Data.(map[string]any)
		return g["status"] == "completed"
	}, 5*time.Second, 10*time.Millisecond)

	// the terminal view stays queryable after the slot is released
	rec = ts.do(t, http.MethodGet, "/api/groups/g1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	g := envelope(t, rec).Data.(map[string]any)
	assert.Equal(t, "completed", g["status"])
	results, ok := g["executionResults"].(map[string]any)
	require.True(t, ok, "terminal status must carry executionResults")
	assert.Equal(t, float64(1), results["completedWorkflows"])
	assert.NotEmpty(t, results["endTime"])
	assert.NotEmpty(t, results["recentLogs"])

	rec = ts.do(t, http.MethodGet, "/api/groups/ghost/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupExecuteOutlivesRequest(t *testing.T) {
	ts := newTestServer(t)
	input := filepath.Join(ts.dir, "in.txt")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o644))
	multiStreamDoc(ts, t, input)

	// net/http cancels the request context as soon as the handler returns;
	// the execution must not ride on it
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/groups/g1/execute", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	cancel()
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/api/groups/g1/status", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		g := envelope(t, rec).Data.(map[string]any)
		return g["status"] == "completed"
	}, 5*time.Second, 10*time.Millisecond)

	written, err := os.ReadFile(filepath.Join(ts.dir, "out", "g1.txt"))
	require.NoError(t, err)
	assert.NotEmpty(t, written)
}

func TestGroupExecuteAllAndStopAll(t *testing.T) {
	ts := newTestServer(t)
	input := filepath.Join(ts.dir, "in.txt")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o644))
	multiStreamDoc(ts, t, input)

	rec := ts.do(t, http.MethodPost, "/api/groups/execute-all", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	data := envelope(t, rec).Data.(map[string]any)
	assert.Equal(t, float64(1), data["totalGroups"])

	rec = ts.do(t, http.MethodPost, "/api/groups/stop-all", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/groups/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGroupStopUnknown(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/groups/ghost/stop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMaterializeRoute(t *testing.T) {
	ts := newTestServer(t)

	tmpl := &workflow.Template{
		Workflows: []*workflow.Workflow{{
			ID: "w1",
			Steps: []*workflow.Step{{
				ID:    "s1",
				Order: 1,
				Config: workflow.StepConfig{
					FileInputs:     []workflow.FileInput{{Name: "src", Path: "/tpl/Foo.jsp"}},
					PromptInputs:   []workflow.PromptInput{{Content: "{{src}}"}},
					OutputFolder:   "/out",
					OutputFileName: "Foo.tsx",
				},
			}},
		}},
	}

	rec := ts.do(t, http.MethodPost, "/api/groups/materialize", materializeRequest{
		Template:   tmpl,
		Selections: []materialize.Selection{{SourcePath: "/src", FilePath: "pages/bar.jsp"}},
		Options:    materialize.Options{NamePrefix: "Task-"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	groups := envelope(t, rec).Data.(map[string]any)["groups"].([]any)
	require.Len(t, groups, 1)
	g := groups[0].(map[string]any)
	assert.Equal(t, "Task-Bar", g["name"])

	// missing selections is a validation error
	rec = ts.do(t, http.MethodPost, "/api/groups/materialize", materializeRequest{Template: tmpl})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
