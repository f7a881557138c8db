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

// Package runner executes workflow groups: each group's workflows run
// strictly sequentially, with per-group progress, aggregated results, and
// cooperative cancellation between workflows.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forgeflow/forgeflow/internal/log"
	"github.com/forgeflow/forgeflow/pkg/workflow"
)

// DefaultWorkflowPause is the cooperative pause between successive
// workflows of one group.
const DefaultWorkflowPause = 500 * time.Millisecond

// logRingSize bounds the per-run log ring kept in ExecutionResults.
const logRingSize = 200

// addLog appends a timestamped line to the run's log ring, dropping the
// oldest line once the ring is full.
func addLog(results *workflow.ExecutionResults, format string, args ...any) {
	line := time.Now().UTC().Format(time.RFC3339) + " " + fmt.Sprintf(format, args...)
	if len(results.RecentLogs) >= logRingSize {
		results.RecentLogs = append(results.RecentLogs[1:], line)
		return
	}
	results.RecentLogs = append(results.RecentLogs, line)
}

// GroupMetrics receives group-level execution observations.
type GroupMetrics interface {
	RecordGroup(status workflow.GroupStatus, duration time.Duration)
}

// Runner drives workflow groups to completion.
type Runner struct {
	exec    *workflow.Executor
	logger  *slog.Logger
	pause   time.Duration
	metrics GroupMetrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithWorkflowPause overrides the inter-workflow pause.
func WithWorkflowPause(d time.Duration) Option {
	return func(r *Runner) { r.pause = d }
}

// WithGroupMetrics attaches a metrics sink.
func WithGroupMetrics(m GroupMetrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New creates a group runner on top of a step executor.
func New(exec *workflow.Executor, opts ...Option) *Runner {
	r := &Runner{
		exec:   exec,
		logger: slog.Default(),
		pause:  DefaultWorkflowPause,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execution is one in-flight group run. The executing goroutine owns a
// private copy of the group and publishes read-only snapshots at every
// progress boundary, so observers never race with step mutation.
type Execution struct {
	id string

	mu   sync.RWMutex
	view *workflow.Group

	cancel context.CancelFunc
	done   chan struct{}
}

// ID returns the group id this execution runs.
func (e *Execution) ID() string { return e.id }

// Snapshot returns the most recently published view of the group.
func (e *Execution) Snapshot() *workflow.Group {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view
}

// Stop requests cancellation. The runner observes it at the next workflow
// or step boundary.
func (e *Execution) Stop() { e.cancel() }

// Done is closed when the execution has fully terminated.
func (e *Execution) Done() <-chan struct{} { return e.done }

func (e *Execution) publish(g *workflow.Group) {
	snap := g.Clone()
	e.mu.Lock()
	e.view = snap
	e.mu.Unlock()
}

// Start launches a group run. The supplied group is copied; the caller's
// instance is never mutated. The run terminates on completion or when the
// context is cancelled, whichever comes first.
func (r *Runner) Start(ctx context.Context, g *workflow.Group) *Execution {
	runCtx, cancel := context.WithCancel(ctx)
	e := &Execution{
		id:     g.ID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	live := g.Clone()
	e.publish(live)

	go func() {
		defer close(e.done)
		defer cancel()
		r.run(runCtx, live, e)
	}()

	return e
}

func (r *Runner) run(ctx context.Context, g *workflow.Group, e *Execution) {
	start := time.Now()
	logger := r.logger.With(log.GroupIDKey, g.ID)

	workflows := orderedExecutable(g)
	results := &workflow.ExecutionResults{
		TotalWorkflows: len(workflows),
		StartTime:      start.UTC(),
	}

	g.Status = workflow.GroupRunning
	g.Progress = 0
	g.ExecutionResults = results
	g.UpdatedAt = start.UTC()
	addLog(results, "group started: %d workflows", len(workflows))
	e.publish(g)

	logger.Info("group started", "workflows", len(workflows))

	for i, w := range workflows {
		if ctx.Err() != nil {
			r.finishCancelled(g, results, logger, e)
			return
		}

		// the workflow runner tags its own workflow_id on every record
		wfRunner := workflow.NewRunner(r.exec, workflow.WithRunnerLogger(logger))
		ok, err := wfRunner.Run(ctx, w)
		if ctx.Err() != nil {
			r.finishCancelled(g, results, logger, e)
			return
		}
		if err != nil {
			logger.Error("workflow refused", log.WorkflowIDKey, w.ID, "error", err)
			ok = false
		}

		if ok {
			results.CompletedWorkflows++
			addLog(results, "workflow %s completed", w.ID)
		} else {
			results.FailedWorkflows++
			addLog(results, "workflow %s failed", w.ID)
		}
		g.Progress = float64(i+1) / float64(len(workflows))
		g.UpdatedAt = time.Now().UTC()
		e.publish(g)

		if i < len(workflows)-1 {
			select {
			case <-ctx.Done():
				r.finishCancelled(g, results, logger, e)
				return
			case <-time.After(r.pause):
			}
		}
	}

	results.EndTime = time.Now().UTC()
	results.Duration = results.EndTime.Sub(results.StartTime).Milliseconds()

	if results.CompletedWorkflows > 0 {
		g.Status = workflow.GroupCompleted
	} else {
		g.Status = workflow.GroupFailed
	}
	g.UpdatedAt = results.EndTime
	addLog(results, "group finished: status=%s completed=%d failed=%d",
		g.Status, results.CompletedWorkflows, results.FailedWorkflows)
	e.publish(g)

	if r.metrics != nil {
		r.metrics.RecordGroup(g.Status, time.Since(start))
	}
	logger.Info("group finished",
		"status", g.Status,
		"completed", results.CompletedWorkflows,
		"failed", results.FailedWorkflows,
		log.DurationKey, results.Duration)
}

// finishCancelled settles a cancelled run: the group returns to idle with
// its partial results closed out. Workflows not yet started stay untouched.
func (r *Runner) finishCancelled(g *workflow.Group, results *workflow.ExecutionResults, logger *slog.Logger, e *Execution) {
	results.EndTime = time.Now().UTC()
	results.Duration = results.EndTime.Sub(results.StartTime).Milliseconds()
	g.Status = workflow.GroupIdle
	g.UpdatedAt = results.EndTime
	addLog(results, "group cancelled: completed=%d failed=%d",
		results.CompletedWorkflows, results.FailedWorkflows)
	e.publish(g)

	if r.metrics != nil {
		r.metrics.RecordGroup(workflow.GroupIdle, results.EndTime.Sub(results.StartTime))
	}
	logger.Info("group cancelled",
		"completed", results.CompletedWorkflows,
		"failed", results.FailedWorkflows)
}

// orderedExecutable returns the group's workflows in template order,
// dropping empty ones.
func orderedExecutable(g *workflow.Group) []*workflow.Workflow {
	if g.Template == nil {
		return nil
	}
	var out []*workflow.Workflow
	for _, w := range g.Template.OrderedWorkflows() {
		if len(w.Steps) > 0 {
			out = append(out, w)
		}
	}
	return out
}
