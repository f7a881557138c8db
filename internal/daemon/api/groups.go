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
	"encoding/json"
	"net/http"

	"github.com/forgeflow/forgeflow/internal/daemon/httputil"
	"github.com/forgeflow/forgeflow/pkg/errors"
	"github.com/forgeflow/forgeflow/pkg/materialize"
	"github.com/forgeflow/forgeflow/pkg/workflow"
)

// loadGroup fetches a group from the persisted multi-stream document.
func (s *Server) loadGroup(id string) (*workflow.Group, error) {
	doc, err := s.config.LoadMultiStream()
	if err != nil {
		return nil, err
	}
	g := doc.Group(id)
	if g == nil {
		return nil, &errors.NotFoundError{Resource: "workflow group", ID: id}
	}
	return g, nil
}

func (s *Server) handleGroupExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	g, err := s.loadGroup(id)
	if err != nil {
		httputil.WriteErrorFrom(w, err)
		return
	}

	if _, err := s.sched.Execute(g); err != nil {
		httputil.WriteErrorFrom(w, err)
		return
	}
	httputil.WriteMessage(w, http.StatusAccepted, "group execution started")
}

func (s *Server) handleGroupExecuteAll(w http.ResponseWriter, r *http.Request) {
	doc, err := s.config.LoadMultiStream()
	if err != nil {
		httputil.WriteErrorFrom(w, err)
		return
	}

	batch := s.sched.ExecuteAll(doc.WorkflowGroups)
	httputil.WriteData(w, http.StatusAccepted, map[string]int{"totalGroups": batch.Total})
}

func (s *Server) handleGroupStop(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Stop(r.PathValue("id")); err != nil {
		httputil.WriteErrorFrom(w, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "stop requested")
}

func (s *Server) handleGroupStopAll(w http.ResponseWriter, _ *http.Request) {
	stopped := s.sched.StopAll()
	httputil.WriteData(w, http.StatusOK, map[string]int{"stoppedGroups": stopped})
}

func (s *Server) handleGroupStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// prefer the scheduler's view (live or last-run) over the persisted
	// document
	if g, ok := s.sched.Snapshot(id); ok {
		httputil.WriteData(w, http.StatusOK, g)
		return
	}

	g, err := s.loadGroup(id)
	if err != nil {
		httputil.WriteErrorFrom(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, g)
}

func (s *Server) handleGroupsStatus(w http.ResponseWriter, _ *http.Request) {
	doc, err := s.config.LoadMultiStream()
	if err != nil {
		httputil.WriteErrorFrom(w, err)
		return
	}

	groups := make([]*workflow.Group, 0, len(doc.WorkflowGroups))
	for _, g := range doc.WorkflowGroups {
		if snap, ok := s.sched.Snapshot(g.ID); ok {
			groups = append(groups, snap)
			continue
		}
		groups = append(groups, g)
	}
	httputil.WriteData(w, http.StatusOK, map[string]any{
		"groups": groups,
		"active": s.sched.ActiveCount(),
	})
}

type multiStreamProcessRequest struct {
	StreamGroupID string `json:"streamGroupId"`
}

func (s *Server) handleMultiStreamProcess(w http.ResponseWriter, r *http.Request) {
	var req multiStreamProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StreamGroupID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "streamGroupId is required")
		return
	}

	g, err := s.loadGroup(req.StreamGroupID)
	if err != nil {
		httputil.WriteErrorFrom(w, err)
		return
	}
	if _, err := s.sched.Execute(g); err != nil {
		httputil.WriteErrorFrom(w, err)
		return
	}
	httputil.WriteMessage(w, http.StatusAccepted, "stream group execution started")
}

type materializeRequest struct {
	Template   *workflow.Template      `json:"template"`
	Selections []materialize.Selection `json:"selections"`
	Options    materialize.Options     `json:"options"`
}

func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	var req materializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	groups, err := materialize.Materialize(req.Template, req.Selections, req.Options)
	if err != nil {
		httputil.WriteErrorFrom(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, map[string]any{"groups": groups})
}
