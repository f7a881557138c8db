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

// Package store provides the filesystem surface used by the execution
// engine and the HTTP API: fresh reads, atomic writes, and glob listing.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/forgeflow/forgeflow/pkg/errors"
)

// FileStore performs all step I/O. The zero value is usable.
type FileStore struct{}

// New returns a FileStore.
func New() *FileStore {
	return &FileStore{}
}

// ReadFile reads the full contents of path. Input files are never cached;
// every materialization reads fresh.
func (s *FileStore) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.InputError{Path: path, Cause: err}
	}
	return data, nil
}

// EnsureDir creates dir and any missing parents.
func (s *FileStore) EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &errors.IOError{Op: "mkdir", Path: dir, Cause: err}
	}
	return nil
}

// WriteFile writes data to path atomically: content lands in a temp file in
// the same directory and is renamed into place, so a crash never leaves a
// half-written output.
func (s *FileStore) WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
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
	return nil
}

// FileExists reports whether path exists and is a regular file.
func (s *FileStore) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// ListFiles returns the relative paths of all regular files under root,
// sorted. When ext is non-empty only files with that extension (leading dot
// optional) are returned.
func (s *FileStore) ListFiles(root, ext string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &errors.InputError{Path: root, Cause: err}
	}
	if !info.IsDir() {
		return nil, &errors.InputError{Path: root, Cause: fmt.Errorf("not a directory")}
	}

	pattern := "**/*"
	if ext != "" {
		pattern += "." + strings.TrimPrefix(ext, ".")
	}

	fsys := os.DirFS(root)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, &errors.InputError{Path: root, Cause: err}
	}

	var out []string
	for _, m := range matches {
		fi, err := os.Stat(filepath.Join(root, filepath.FromSlash(m)))
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}
