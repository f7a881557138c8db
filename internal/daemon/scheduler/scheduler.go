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

// Package scheduler admits workflow group executions under a global
// concurrency cap and drives batch execute-all runs with a bounded worker
// pool. Admission is strict: a request over the cap is rejected, never
// queued.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forgeflow/forgeflow/internal/daemon/runner"
	"github.com/forgeflow/forgeflow/internal/log"
	"github.com/forgeflow/forgeflow/pkg/errors"
	"github.com/forgeflow/forgeflow/pkg/workflow"
)

// DefaultTaskPause is the idle pause between a batch worker's successive
// groups.
const DefaultTaskPause = 200 * time.Millisecond

// Metrics receives scheduler-level observations.
type Metrics interface {
	SetActiveGroups(n int)
}

// Scheduler tracks in-flight group executions. It is not durable: a
// process restart loses all running state, and persisted groups reload as
// idle. Executions run on the scheduler's own background context, so their
// lifetime is the daemon's, not the admitting HTTP request's.
type Scheduler struct {
	runner    *runner.Runner
	max       int
	taskPause time.Duration
	logger    *slog.Logger
	metrics   Metrics
	base      context.Context

	mu       sync.Mutex
	active   map[string]*runner.Execution
	finished map[string]*workflow.Group
	batches  map[*Batch]struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithTaskPause overrides the pause between a batch worker's groups.
func WithTaskPause(d time.Duration) Option {
	return func(s *Scheduler) { s.taskPause = d }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a scheduler with the given concurrency cap.
func New(r *runner.Runner, maxConcurrent int, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:    r,
		max:       maxConcurrent,
		taskPause: DefaultTaskPause,
		logger:    slog.Default(),
		base:      context.Background(),
		active:    map[string]*runner.Execution{},
		finished:  map[string]*workflow.Group{},
		batches:   map[*Batch]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute admits one group for execution. Admission fails with a
// ConcurrencyLimitError when the cap is reached, and with a validation
// error when the group has nothing to run or is already running. The run
// outlives the caller; cancellation goes through Stop or StopAll.
func (s *Scheduler) Execute(g *workflow.Group) (*runner.Execution, error) {
	if !g.Executable() {
		return nil, &errors.ValidationError{Field: "group", Message: fmt.Sprintf("group %q has no executable workflow", g.ID)}
	}

	s.mu.Lock()
	if _, running := s.active[g.ID]; running {
		s.mu.Unlock()
		return nil, &errors.ValidationError{Field: "group", Message: fmt.Sprintf("group %q is already running", g.ID)}
	}
	if len(s.active) >= s.max {
		limit := s.max
		n := len(s.active)
		s.mu.Unlock()
		return nil, &errors.ConcurrencyLimitError{Limit: limit, Active: n}
	}

	e := s.runner.Start(s.base, g)
	s.active[g.ID] = e
	delete(s.finished, g.ID)
	s.publishActive()
	s.mu.Unlock()

	s.logger.Info("group admitted", log.GroupIDKey, g.ID)

	go func() {
		<-e.Done()
		s.mu.Lock()
		s.finished[g.ID] = e.Snapshot()
		delete(s.active, g.ID)
		s.publishActive()
		s.mu.Unlock()
	}()

	return e, nil
}

// publishActive pushes the in-flight count to the metrics sink. Callers
// hold s.mu.
func (s *Scheduler) publishActive() {
	if s.metrics != nil {
		s.metrics.SetActiveGroups(len(s.active))
	}
}

// Batch tracks one execute-all run.
type Batch struct {
	// Total is the number of groups the batch will attempt.
	Total int

	done   chan struct{}
	cancel context.CancelFunc
}

// Done is closed when every worker has drained.
func (b *Batch) Done() <-chan struct{} { return b.done }

// ExecuteAll launches a batch over the idle, executable members of groups.
// Up to the concurrency cap independent workers each pull the next group by
// shared index and run it to completion, pausing briefly between groups.
// ExecuteAll returns immediately; the batch drains in the background on the
// scheduler's context and is cancelled by StopAll.
func (s *Scheduler) ExecuteAll(groups []*workflow.Group) *Batch {
	var eligible []*workflow.Group
	for _, g := range groups {
		if !g.Executable() {
			continue
		}
		if g.Status != "" && g.Status != workflow.GroupIdle &&
			g.Status != workflow.GroupCompleted && g.Status != workflow.GroupFailed {
			continue
		}
		if s.isActive(g.ID) {
			continue
		}
		eligible = append(eligible, g)
	}

	ctx, cancel := context.WithCancel(s.base)
	b := &Batch{Total: len(eligible), done: make(chan struct{}), cancel: cancel}

	workers := s.max
	if workers > len(eligible) {
		workers = len(eligible)
	}
	if workers == 0 {
		cancel()
		close(b.done)
		return b
	}

	s.mu.Lock()
	s.batches[b] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("batch started", "groups", len(eligible), "workers", workers)

	var next atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := int(next.Add(1)) - 1
				if idx >= len(eligible) || ctx.Err() != nil {
					return
				}
				s.runBatchGroup(ctx, eligible[idx])

				select {
				case <-ctx.Done():
					return
				case <-time.After(s.taskPause):
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		cancel()
		s.mu.Lock()
		delete(s.batches, b)
		s.mu.Unlock()
		close(b.done)
		s.logger.Info("batch finished", "groups", len(eligible))
	}()

	return b
}

// runBatchGroup executes one group to completion, retrying admission while
// slots are occupied by executions outside the batch.
func (s *Scheduler) runBatchGroup(ctx context.Context, g *workflow.Group) {
	for {
		e, err := s.Execute(g)
		if err == nil {
			select {
			case <-e.Done():
			case <-ctx.Done():
			}
			return
		}
		if !errors.IsConcurrencyLimit(err) {
			s.logger.Warn("batch group skipped", log.GroupIDKey, g.ID, "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.taskPause):
		}
	}
}

// Stop cancels one running execution.
func (s *Scheduler) Stop(groupID string) error {
	s.mu.Lock()
	e, ok := s.active[groupID]
	s.mu.Unlock()
	if !ok {
		return &errors.NotFoundError{Resource: "execution", ID: groupID}
	}
	e.Stop()
	return nil
}

// StopAll cancels outstanding batches and every running execution, then
// blocks until all executions have acknowledged.
func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	executions := make([]*runner.Execution, 0, len(s.active))
	for _, e := range s.active {
		executions = append(executions, e)
	}
	for b := range s.batches {
		b.cancel()
	}
	s.mu.Unlock()

	for _, e := range executions {
		e.Stop()
	}
	for _, e := range executions {
		<-e.Done()
	}
	return len(executions)
}

// Execution returns the live execution for a group, if any.
func (s *Scheduler) Execution(groupID string) (*runner.Execution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.active[groupID]
	return e, ok
}

// Snapshot returns the scheduler's view of a group: the live view while it
// runs, then the terminal view of its last run until a new run replaces it.
func (s *Scheduler) Snapshot(groupID string) (*workflow.Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.active[groupID]; ok {
		return e.Snapshot(), true
	}
	g, ok := s.finished[groupID]
	return g, ok
}

// ActiveCount reports the number of in-flight executions.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) isActive(groupID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[groupID]
	return ok
}
