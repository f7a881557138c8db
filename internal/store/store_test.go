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

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeflow/forgeflow/pkg/errors"
)

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	s := New()
	data, err := s.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	_, err = s.ReadFile(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
	assert.True(t, errors.IsInput(err))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	s := New()
	path := filepath.Join(dir, "out.go")

	require.NoError(t, s.WriteFile(path, []byte("v1")))
	require.NoError(t, s.WriteFile(path, []byte("v2")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteFileMissingDir(t *testing.T) {
	s := New()
	err := s.WriteFile(filepath.Join(t.TempDir(), "nope", "out.go"), []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.IsIO(err))
}

func TestEnsureDir(t *testing.T) {
	dir := t.TempDir()
	s := New()
	nested := filepath.Join(dir, "a", "b", "c")

	require.NoError(t, s.EnsureDir(nested))
	require.NoError(t, s.EnsureDir(nested)) // idempotent

	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	s := New()

	assert.False(t, s.FileExists(filepath.Join(dir, "nope")))

	path := filepath.Join(dir, "yes.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.True(t, s.FileExists(path))

	assert.False(t, s.FileExists(dir), "directories are not files")
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub", "deep"), 0o755))
	for _, f := range []string{"a.java", "b.go", "sub/c.java", "sub/deep/d.java"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, filepath.FromSlash(f)), []byte("x"), 0o644))
	}

	s := New()

	all, err := s.ListFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.java", "b.go", "sub/c.java", "sub/deep/d.java"}, all)

	java, err := s.ListFiles(dir, "java")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.java", "sub/c.java", "sub/deep/d.java"}, java)

	// leading dot accepted
	dotted, err := s.ListFiles(dir, ".java")
	require.NoError(t, err)
	assert.Equal(t, java, dotted)
}

func TestListFilesErrors(t *testing.T) {
	s := New()

	_, err := s.ListFiles(filepath.Join(t.TempDir(), "missing"), "")
	require.Error(t, err)
	assert.True(t, errors.IsInput(err))

	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = s.ListFiles(file, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}
