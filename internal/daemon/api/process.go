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
	"github.com/forgeflow/forgeflow/pkg/llm"
	"github.com/forgeflow/forgeflow/pkg/workflow"
)

type processInput struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type processRequest struct {
	Inputs         []processInput `json:"inputs"`
	OutputFolder   string         `json:"outputFolder"`
	OutputFileName string         `json:"outputFileName"`
}

func (s *Server) handleProcessFile(w http.ResponseWriter, r *http.Request) {
	s.processWith(w, r, workflow.EndpointChat)
}

func (s *Server) handleProcessFileDirect(w http.ResponseWriter, r *http.Request) {
	var ep workflow.Endpoint
	switch model := r.URL.Query().Get("model"); model {
	case "", "qianwen":
		ep = workflow.EndpointQianwen
	case "deepseek":
		ep = workflow.EndpointDeepseek
	default:
		httputil.WriteError(w, http.StatusBadRequest, "unknown model: "+model)
		return
	}
	s.processWith(w, r, ep)
}

func (s *Server) processWith(w http.ResponseWriter, r *http.Request, ep workflow.Endpoint) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Inputs) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "inputs are required")
		return
	}
	if req.OutputFolder == "" || req.OutputFileName == "" {
		httputil.WriteError(w, http.StatusBadRequest, "outputFolder and outputFileName are required")
		return
	}

	segments := make([]workflow.Segment, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		switch in.Type {
		case "file":
			segments = append(segments, workflow.Segment{Kind: workflow.SegmentFile, Value: in.Value})
		case "prompt":
			segments = append(segments, workflow.Segment{Kind: workflow.SegmentPrompt, Value: in.Value})
		default:
			httputil.WriteError(w, http.StatusBadRequest, "unknown input type: "+in.Type)
			return
		}
	}

	result := s.exec.ExecuteSegments(r.Context(), segments, ep, req.OutputFolder, req.OutputFileName)
	if !result.Success {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.Envelope{
			Success: false,
			Error:   result.Message,
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Success: true,
		Message: result.Message,
		Data:    result.Data,
	})
}

type generateReactRequest struct {
	Message      string `json:"message"`
	SessionID    string `json:"sessionId,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

func (s *Server) handleGenerateReact(w http.ResponseWriter, r *http.Request) {
	var req generateReactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		httputil.WriteError(w, http.StatusBadRequest, "message is required")
		return
	}

	messages := make([]llm.Message, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Message})

	completer := s.relay
	if req.SessionID != "" && s.relayFor != nil {
		completer = s.relayFor(req.SessionID)
	}

	res, err := completer.Complete(r.Context(), messages)
	if err != nil {
		httputil.WriteErrorFrom(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, map[string]string{"reply": res.Content})
}

type listFilesRequest struct {
	FolderPath string `json:"folderPath"`
	FileType   string `json:"fileType,omitempty"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	var req listFilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FolderPath == "" {
		httputil.WriteError(w, http.StatusBadRequest, "folderPath is required")
		return
	}

	paths, err := s.files.ListFiles(req.FolderPath, req.FileType)
	if err != nil {
		httputil.WriteErrorFrom(w, err)
		return
	}
	if paths == nil {
		paths = []string{}
	}
	httputil.WriteData(w, http.StatusOK, map[string]any{"files": paths})
}
