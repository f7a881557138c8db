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

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeflow/forgeflow/internal/daemon/runner"
	"github.com/forgeflow/forgeflow/pkg/errors"
	"github.com/forgeflow/forgeflow/pkg/llm"
	"github.com/forgeflow/forgeflow/pkg/workflow"
)

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemStore() *memStore { return &memStore{files: map[string][]byte{}} }

func (m *memStore) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such file", path)
	}
	return data, nil
}

func (m *memStore) EnsureDir(string) error { return nil }

func (m *memStore) WriteFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = data
	return nil
}

func (m *memStore) FileExists(string) bool { return false }

// gaugedCompleter tracks the number of in-flight completions and the
// high-water mark.
type gaugedCompleter struct {
	delay   time.Duration
	current atomic.Int64
	peak    atomic.Int64
}

func (c *gaugedCompleter) Complete(ctx context.Context, _ []llm.Message) (llm.Result, error) {
	n := c.current.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer c.current.Add(-1)

	select {
	case <-ctx.Done():
		return llm.Result{}, ctx.Err()
	case <-time.After(c.delay):
	}
	return llm.Result{Content: "ok"}, nil
}

func newScheduler(t *testing.T, max int, completer llm.Completer, opts ...Option) *Scheduler {
	t.Helper()
	store := newMemStore()
	store.files["/in/a.txt"] = []byte("a")
	exec := workflow.NewExecutor(store, func(workflow.Endpoint) (llm.Completer, error) {
		return completer, nil
	})
	r := runner.New(exec, runner.WithWorkflowPause(time.Millisecond))
	return New(r, max, append([]Option{WithTaskPause(time.Millisecond)}, opts...)...)
}

func group(id string) *workflow.Group {
	return &workflow.Group{
		ID:     id,
		Name:   id,
		Status: workflow.GroupIdle,
		Template: &workflow.Template{Workflows: []*workflow.Workflow{{
			ID: id + "-w1",
			Steps: []*workflow.Step{{
				ID:    id + "-s1",
				Order: 1,
				Config: workflow.StepConfig{
					FileInputs:     []workflow.FileInput{{Name: "in", Path: "/in/a.txt"}},
					PromptInputs:   []workflow.PromptInput{{Content: "{{in}}"}},
					OutputFolder:   "/out",
					OutputFileName: id + ".txt",
				},
			}},
		}}},
	}
}

func TestExecuteAdmitsUnderCap(t *testing.T) {
	s := newScheduler(t, 2, &gaugedCompleter{delay: 50 * time.Millisecond})

	e1, err := s.Execute(group("g1"))
	require.NoError(t, err)
	e2, err := s.Execute(group("g2"))
	require.NoError(t, err)

	assert.Equal(t, 2, s.ActiveCount())

	_, err = s.Execute(group("g3"))
	require.Error(t, err)
	assert.True(t, errors.IsConcurrencyLimit(err))

	<-e1.Done()
	<-e2.Done()
}

func TestExecuteRejectsDuplicate(t *testing.T) {
	s := newScheduler(t, 4, &gaugedCompleter{delay: 50 * time.Millisecond})

	g := group("g1")
	e, err := s.Execute(g)
	require.NoError(t, err)

	_, err = s.Execute(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	<-e.Done()
}

func TestExecuteRejectsEmptyGroup(t *testing.T) {
	s := newScheduler(t, 4, &gaugedCompleter{})

	g := &workflow.Group{ID: "empty", Template: &workflow.Template{}}
	_, err := s.Execute(g)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestSlotFreedAfterCompletion(t *testing.T) {
	s := newScheduler(t, 1, &gaugedCompleter{delay: 10 * time.Millisecond})

	e, err := s.Execute(group("g1"))
	require.NoError(t, err)
	<-e.Done()

	require.Eventually(t, func() bool { return s.ActiveCount() == 0 }, time.Second, time.Millisecond)

	_, err = s.Execute(group("g2"))
	assert.NoError(t, err)
}

func TestExecuteAllRespectsCap(t *testing.T) {
	completer := &gaugedCompleter{delay: 20 * time.Millisecond}
	s := newScheduler(t, 2, completer)

	groups := []*workflow.Group{group("g1"), group("g2"), group("g3"), group("g4"), group("g5")}
	b := s.ExecuteAll(groups)
	assert.Equal(t, 5, b.Total)

	select {
	case <-b.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("batch did not drain")
	}

	assert.LessOrEqual(t, completer.peak.Load(), int64(2), "concurrency cap exceeded")
	assert.Zero(t, s.ActiveCount())
}

func TestExecuteAllSkipsIneligible(t *testing.T) {
	s := newScheduler(t, 2, &gaugedCompleter{delay: time.Millisecond})

	running := group("busy")
	running.Status = workflow.GroupRunning
	empty := &workflow.Group{ID: "empty", Template: &workflow.Template{}}

	b := s.ExecuteAll([]*workflow.Group{running, empty, group("ok")})
	assert.Equal(t, 1, b.Total)
	<-b.Done()
}

func TestExecuteAllEmptySet(t *testing.T) {
	s := newScheduler(t, 2, &gaugedCompleter{})
	b := s.ExecuteAll(nil)
	assert.Zero(t, b.Total)

	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("empty batch must settle immediately")
	}
}

func TestStop(t *testing.T) {
	s := newScheduler(t, 2, &gaugedCompleter{delay: time.Minute})

	e, err := s.Execute(group("g1"))
	require.NoError(t, err)

	require.NoError(t, s.Stop("g1"))
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stopped execution did not settle")
	}

	assert.Equal(t, workflow.GroupIdle, e.Snapshot().Status)
}

func TestStopUnknown(t *testing.T) {
	s := newScheduler(t, 2, &gaugedCompleter{})
	err := s.Stop("ghost")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestStopAll(t *testing.T) {
	s := newScheduler(t, 4, &gaugedCompleter{delay: time.Minute})

	for _, id := range []string{"g1", "g2", "g3"} {
		_, err := s.Execute(group(id))
		require.NoError(t, err)
	}

	stopped := s.StopAll()
	assert.Equal(t, 3, stopped)

	require.Eventually(t, func() bool { return s.ActiveCount() == 0 }, 5*time.Second, time.Millisecond)
}

type failingCompleter struct{}

func (failingCompleter) Complete(context.Context, []llm.Message) (llm.Result, error) {
	return llm.Result{}, fmt.Errorf("endpoint down")
}

func TestTerminalSnapshotRetained(t *testing.T) {
	s := newScheduler(t, 2, &gaugedCompleter{delay: time.Millisecond})

	e, err := s.Execute(group("g1"))
	require.NoError(t, err)
	<-e.Done()

	snap, ok := s.Snapshot("g1")
	require.True(t, ok, "terminal view must outlive the execution")
	assert.Equal(t, workflow.GroupCompleted, snap.Status)
	require.NotNil(t, snap.ExecutionResults)
	assert.False(t, snap.ExecutionResults.EndTime.IsZero())
	assert.Equal(t, 1, snap.ExecutionResults.CompletedWorkflows)

	require.Eventually(t, func() bool { return s.ActiveCount() == 0 }, time.Second, time.Millisecond)
	snap, ok = s.Snapshot("g1")
	require.True(t, ok, "terminal view must survive slot release")
	assert.Equal(t, workflow.GroupCompleted, snap.Status)
}

func TestTerminalSnapshotReportsFailure(t *testing.T) {
	s := newScheduler(t, 2, failingCompleter{})

	e, err := s.Execute(group("g1"))
	require.NoError(t, err)
	<-e.Done()

	snap, ok := s.Snapshot("g1")
	require.True(t, ok)
	assert.Equal(t, workflow.GroupFailed, snap.Status)
	require.NotNil(t, snap.ExecutionResults)
	assert.Equal(t, 1, snap.ExecutionResults.FailedWorkflows)
}

func TestSnapshotReplacedByNewRun(t *testing.T) {
	s := newScheduler(t, 2, &gaugedCompleter{delay: 20 * time.Millisecond})

	e, err := s.Execute(group("g1"))
	require.NoError(t, err)
	<-e.Done()
	require.Eventually(t, func() bool { return s.ActiveCount() == 0 }, time.Second, time.Millisecond)

	e, err = s.Execute(group("g1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, ok := s.Snapshot("g1")
		return ok && snap.Status == workflow.GroupRunning
	}, time.Second, time.Millisecond, "new run must replace the retained terminal view")
	<-e.Done()
}

type gaugeMetrics struct {
	mu   sync.Mutex
	last int
	peak int
}

func (m *gaugeMetrics) SetActiveGroups(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = n
	if n > m.peak {
		m.peak = n
	}
}

func (m *gaugeMetrics) read() (last, peak int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.peak
}

func TestActiveGroupsGauge(t *testing.T) {
	m := &gaugeMetrics{}
	s := newScheduler(t, 2, &gaugedCompleter{delay: 20 * time.Millisecond}, WithMetrics(m))

	e, err := s.Execute(group("g1"))
	require.NoError(t, err)
	last, _ := m.read()
	assert.Equal(t, 1, last)

	<-e.Done()
	require.Eventually(t, func() bool {
		last, _ := m.read()
		return last == 0
	}, time.Second, time.Millisecond)

	_, peak := m.read()
	assert.Equal(t, 1, peak)
}
