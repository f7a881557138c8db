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
	"io"
	"net/http"

	"github.com/forgeflow/forgeflow/internal/config"
	"github.com/forgeflow/forgeflow/internal/daemon/httputil"
)

func (s *Server) handleConfigSave(doc config.Document) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if err := s.config.Save(doc, json.RawMessage(body)); err != nil {
			httputil.WriteErrorFrom(w, err)
			return
		}
		httputil.WriteMessage(w, http.StatusOK, "configuration saved")
	}
}

func (s *Server) handleConfigLoad(doc config.Document) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		raw, err := s.config.Load(doc)
		if err != nil {
			httputil.WriteErrorFrom(w, err)
			return
		}
		httputil.WriteData(w, http.StatusOK, raw)
	}
}

func (s *Server) handleConfigDelete(doc config.Document) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := s.config.Delete(doc); err != nil {
			httputil.WriteErrorFrom(w, err)
			return
		}
		httputil.WriteMessage(w, http.StatusOK, "configuration deleted")
	}
}

func (s *Server) handleConfigInfo(doc config.Document) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteData(w, http.StatusOK, s.config.Stat(doc))
	}
}

func (s *Server) handleMultiStreamInfo(w http.ResponseWriter, _ *http.Request) {
	info := s.config.Stat(config.DocumentMultiStream)

	groups := 0
	if info.Exists {
		if doc, err := s.config.LoadMultiStream(); err == nil {
			groups = len(doc.WorkflowGroups)
		}
	}

	httputil.WriteData(w, http.StatusOK, map[string]any{
		"configPath":        info.Path,
		"exists":            info.Exists,
		"size":              info.Size,
		"lastModified":      info.LastModified,
		"streamGroupsCount": groups,
	})
}
