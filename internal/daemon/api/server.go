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

// Package api implements the HTTP control surface of the daemon.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/forgeflow/forgeflow/internal/config"
	"github.com/forgeflow/forgeflow/internal/daemon/httputil"
	"github.com/forgeflow/forgeflow/internal/daemon/scheduler"
	"github.com/forgeflow/forgeflow/internal/metrics"
	"github.com/forgeflow/forgeflow/internal/store"
	"github.com/forgeflow/forgeflow/pkg/llm"
	"github.com/forgeflow/forgeflow/pkg/workflow"
)

// Server routes control requests to the engine. All /api responses use the
// uniform envelope.
type Server struct {
	logger   *slog.Logger
	exec     *workflow.Executor
	files    *store.FileStore
	config   *config.Store
	sched    *scheduler.Scheduler
	relay    llm.Completer
	relayFor func(sessionID string) llm.Completer
	metrics  *metrics.Recorder
	version  string

	mux *http.ServeMux
}

// Options carries the server's collaborators.
type Options struct {
	Logger  *slog.Logger
	Exec    *workflow.Executor
	Files   *store.FileStore
	Config  *config.Store
	Sched   *scheduler.Scheduler
	Relay   llm.Completer
	Metrics *metrics.Recorder
	Version string

	// RelayFor builds a relay completer pinned to the given chat session.
	// When nil, Relay serves every request regardless of session.
	RelayFor func(sessionID string) llm.Completer
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	s := &Server{
		logger:   opts.Logger,
		exec:     opts.Exec,
		files:    opts.Files,
		config:   opts.Config,
		sched:    opts.Sched,
		relay:    opts.Relay,
		relayFor: opts.RelayFor,
		metrics:  opts.Metrics,
		version:  opts.Version,
		mux:      http.NewServeMux(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/process-file", s.handleProcessFile)
	s.mux.HandleFunc("POST /api/process-file-direct", s.handleProcessFileDirect)
	s.mux.HandleFunc("POST /api/generate-react", s.handleGenerateReact)
	s.mux.HandleFunc("POST /api/list-files", s.handleListFiles)

	s.mux.HandleFunc("POST /api/config/save", s.handleConfigSave(config.DocumentApp))
	s.mux.HandleFunc("GET /api/config/load", s.handleConfigLoad(config.DocumentApp))
	s.mux.HandleFunc("DELETE /api/config/delete", s.handleConfigDelete(config.DocumentApp))
	s.mux.HandleFunc("GET /api/config/info", s.handleConfigInfo(config.DocumentApp))

	s.mux.HandleFunc("POST /api/multi-stream/save", s.handleConfigSave(config.DocumentMultiStream))
	s.mux.HandleFunc("GET /api/multi-stream/load", s.handleConfigLoad(config.DocumentMultiStream))
	s.mux.HandleFunc("GET /api/multi-stream/info", s.handleMultiStreamInfo)
	s.mux.HandleFunc("POST /api/multi-stream/process", s.handleMultiStreamProcess)

	s.mux.HandleFunc("POST /api/groups/{id}/execute", s.handleGroupExecute)
	s.mux.HandleFunc("POST /api/groups/execute-all", s.handleGroupExecuteAll)
	s.mux.HandleFunc("POST /api/groups/{id}/stop", s.handleGroupStop)
	s.mux.HandleFunc("POST /api/groups/stop-all", s.handleGroupStopAll)
	s.mux.HandleFunc("GET /api/groups/{id}/status", s.handleGroupStatus)
	s.mux.HandleFunc("GET /api/groups/status", s.handleGroupsStatus)
	s.mux.HandleFunc("POST /api/groups/materialize", s.handleMaterialize)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /version", s.handleVersion)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

// ServeHTTP applies the logging and metrics middleware around the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	s.mux.ServeHTTP(rec, r)

	route := r.Pattern
	if route == "" {
		route = r.URL.Path
	}
	if s.metrics != nil {
		s.metrics.RecordHTTPRequest(r.Method, route, rec.status)
	}
	s.logger.Info("request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration_ms", time.Since(start).Milliseconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
