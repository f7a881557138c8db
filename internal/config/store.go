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

package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/forgeflow/forgeflow/pkg/errors"
	"github.com/forgeflow/forgeflow/pkg/workflow"
)

// Document names one of the two persisted JSON documents.
type Document string

const (
	// DocumentApp holds standalone workflow configuration.
	DocumentApp Document = "app-config.json"
	// DocumentMultiStream holds workflow groups and group templates.
	DocumentMultiStream Document = "multi-file-stream-config.json"
)

// Info describes a persisted document on disk.
type Info struct {
	Path         string    `json:"configPath"`
	Exists       bool      `json:"exists"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified,omitzero"`
}

// Store persists the JSON configuration documents. Writes to the same
// document are serialized through a per-document lock; loads read a
// consistent snapshot because writes are atomic renames.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[Document]*sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the store's logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, opts ...StoreOption) *Store {
	s := &Store{
		dir:    dir,
		logger: slog.Default(),
		locks:  map[Document]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) lock(doc Document) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[doc]; !ok {
		s.locks[doc] = &sync.Mutex{}
	}
	return s.locks[doc]
}

// Path returns the on-disk location of a document.
func (s *Store) Path(doc Document) string {
	return filepath.Join(s.dir, string(doc))
}

// Load returns the raw document. A missing file is a NotFoundError, never
// an empty default.
func (s *Store) Load(doc Document) (json.RawMessage, error) {
	data, err := os.ReadFile(s.Path(doc))
	if os.IsNotExist(err) {
		return nil, &errors.NotFoundError{Resource: "config", ID: string(doc)}
	}
	if err != nil {
		return nil, &errors.IOError{Op: "read", Path: s.Path(doc), Cause: err}
	}
	return json.RawMessage(data), nil
}

// Save sanitizes and persists a document atomically. Transient step state
// is stripped (status back to pending, result removed) and the top level is
// stamped with lastUpdated and a monotonically increasing version.
func (s *Store) Save(doc Document, raw json.RawMessage) error {
	lock := s.lock(doc)
	lock.Lock()
	defer lock.Unlock()

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return &errors.ValidationError{Field: "body", Message: "invalid JSON document"}
	}

	sanitizeSteps(value)

	if obj, ok := value.(map[string]any); ok {
		obj["lastUpdated"] = time.Now().UTC().Format(time.RFC3339)
		obj["version"] = s.nextVersion(doc)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return &errors.IOError{Op: "encode", Path: s.Path(doc), Cause: err}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &errors.IOError{Op: "mkdir", Path: s.dir, Cause: err}
	}

	path := s.Path(doc)
	tmp, err := os.CreateTemp(s.dir, "."+string(doc)+".tmp-*")
	if err != nil {
		return &errors.IOError{Op: "write", Path: path, Cause: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &errors.IOError{Op: "write", Path: path, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &errors.IOError{Op: "write", Path: path, Cause: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &errors.IOError{Op: "rename", Path: path, Cause: err}
	}

	s.logger.Info("config saved", "document", string(doc), "bytes", len(data))
	return nil
}

// Delete removes a document. Deleting an absent document is a NotFoundError.
func (s *Store) Delete(doc Document) error {
	lock := s.lock(doc)
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(s.Path(doc))
	if os.IsNotExist(err) {
		return &errors.NotFoundError{Resource: "config", ID: string(doc)}
	}
	if err != nil {
		return &errors.IOError{Op: "delete", Path: s.Path(doc), Cause: err}
	}
	s.logger.Info("config deleted", "document", string(doc))
	return nil
}

// Stat describes a document without reading it.
func (s *Store) Stat(doc Document) Info {
	info := Info{Path: s.Path(doc)}
	fi, err := os.Stat(info.Path)
	if err != nil {
		return info
	}
	info.Exists = true
	info.Size = fi.Size()
	info.LastModified = fi.ModTime().UTC()
	return info
}

// MultiStreamDocument is the typed shape of the multi-stream document.
type MultiStreamDocument struct {
	WorkflowGroups         []*workflow.Group    `json:"workflowGroups"`
	WorkflowGroupTemplates []*workflow.Template `json:"workflowGroupTemplates,omitempty"`
	LastUpdated            string               `json:"lastUpdated,omitempty"`
	Version                int                  `json:"version,omitempty"`
}

// LoadMultiStream loads and decodes the multi-stream document.
func (s *Store) LoadMultiStream() (*MultiStreamDocument, error) {
	raw, err := s.Load(DocumentMultiStream)
	if err != nil {
		return nil, err
	}
	var doc MultiStreamDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &errors.ValidationError{Field: string(DocumentMultiStream), Message: "malformed multi-stream document"}
	}
	return &doc, nil
}

// Group returns the workflow group with the given id.
func (d *MultiStreamDocument) Group(id string) *workflow.Group {
	for _, g := range d.WorkflowGroups {
		if g.ID == id {
			return g
		}
	}
	return nil
}

// nextVersion reads the current on-disk version and increments it. Missing
// or malformed documents start the sequence at 1.
func (s *Store) nextVersion(doc Document) int {
	data, err := os.ReadFile(s.Path(doc))
	if err != nil {
		return 1
	}
	var existing struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &existing); err != nil || existing.Version < 1 {
		return 1
	}
	return existing.Version + 1
}

// sanitizeSteps walks an arbitrary JSON tree and resets transient execution
// state: every step object's status returns to pending with its result
// removed, and a workflow group saved mid-run reverts to idle so it reloads
// executable. Covers steps under workflowGroups[*].template.workflows[*],
// top-level workflows[*], and group templates alike.
func sanitizeSteps(value any) {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			switch key {
			case "steps":
				if steps, ok := child.([]any); ok {
					for _, raw := range steps {
						if step, ok := raw.(map[string]any); ok {
							step["status"] = string(workflow.StatusPending)
							delete(step, "result")
						}
					}
					continue
				}
			case "workflowGroups":
				if groups, ok := child.([]any); ok {
					for _, raw := range groups {
						if g, ok := raw.(map[string]any); ok {
							if g["status"] == string(workflow.GroupRunning) {
								g["status"] = string(workflow.GroupIdle)
								g["progress"] = float64(0)
							}
							sanitizeSteps(g)
						}
					}
					continue
				}
			}
			sanitizeSteps(child)
		}
	case []any:
		for _, child := range v {
			sanitizeSteps(child)
		}
	}
}
