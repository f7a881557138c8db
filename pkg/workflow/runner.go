package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/forgeflow/forgeflow/pkg/errors"
)

// ProgressFunc receives (completed, total) after every step reaches a
// terminal status. Skipped steps count as completed for progress purposes.
type ProgressFunc func(completed, total int)

// Runner drives a workflow's steps sequentially in topological order.
// Steps downstream of a failure are skipped, not attempted.
type Runner struct {
	exec       *Executor
	logger     *slog.Logger
	onProgress ProgressFunc
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the runner's logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) RunnerOption {
	return func(r *Runner) { r.onProgress = fn }
}

// NewRunner creates a workflow runner on top of a step executor.
func NewRunner(exec *Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		exec:   exec,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every step of the workflow in topological order, mutating
// step statuses and results in place. It returns true when every step
// finished successfully. A validation failure aborts before any step runs;
// context cancellation stops between steps and leaves the remainder pending.
func (r *Runner) Run(ctx context.Context, w *Workflow) (bool, error) {
	order, err := TopoOrder(w)
	if err != nil {
		return false, err
	}

	w.ResetRuntime()

	total := len(order)
	completed := 0
	r.report(completed, total)

	ok := true
	for _, step := range order {
		if ctx.Err() != nil {
			return false, &errors.CancelledError{Operation: "workflow " + w.ID}
		}

		if failed := r.failedAncestor(w, step); failed != "" {
			step.Status = StatusSkipped
			step.Result = &StepResult{
				Success: false,
				Message: fmt.Sprintf("skipped: dependency %q did not succeed", failed),
			}
			ok = false
			completed++
			r.report(completed, total)
			r.logger.Warn("step skipped", "workflow_id", w.ID, "step_id", step.ID, "failed_dependency", failed)
			continue
		}

		r.runStep(ctx, w, step)
		if step.Status != StatusSuccess {
			ok = false
		}
		completed++
		r.report(completed, total)
	}

	return ok, nil
}

// RerunStep re-executes a single step against the current results of its
// dependencies. Dependencies that are not in a success state are logged as
// warnings but do not block execution.
func (r *Runner) RerunStep(ctx context.Context, w *Workflow, stepID string) (*StepResult, error) {
	step := w.Step(stepID)
	if step == nil {
		return nil, &errors.NotFoundError{Resource: "step", ID: stepID}
	}

	for _, dep := range step.Dependencies {
		if d := w.Step(dep); d != nil && d.Status != StatusSuccess {
			r.logger.Warn("re-running step with unsatisfied dependency",
				"workflow_id", w.ID, "step_id", stepID, "dependency", dep, "dependency_status", d.Status)
		}
	}

	step.Status = StatusPending
	step.Result = nil
	r.runStep(ctx, w, step)
	return step.Result, nil
}

// RerunFrom re-executes a step and every transitive downstream step whose
// order is not below the start step's, in topological order. Steps outside
// the closure keep their existing results and serve as upstream inputs.
func (r *Runner) RerunFrom(ctx context.Context, w *Workflow, stepID string) (bool, error) {
	start := w.Step(stepID)
	if start == nil {
		return false, &errors.NotFoundError{Resource: "step", ID: stepID}
	}

	order, err := TopoOrder(w)
	if err != nil {
		return false, err
	}

	closure := map[string]bool{}
	for id := range Downstream(w, stepID) {
		if s := w.Step(id); s != nil && s.Order >= start.Order {
			closure[id] = true
		}
	}

	for id := range closure {
		s := w.Step(id)
		s.Status = StatusPending
		s.Result = nil
	}

	ok := true
	for _, step := range order {
		if !closure[step.ID] {
			continue
		}
		if ctx.Err() != nil {
			return false, &errors.CancelledError{Operation: "workflow " + w.ID}
		}
		if failed := r.failedAncestor(w, step); failed != "" {
			step.Status = StatusSkipped
			step.Result = &StepResult{
				Success: false,
				Message: fmt.Sprintf("skipped: dependency %q did not succeed", failed),
			}
			ok = false
			continue
		}
		r.runStep(ctx, w, step)
		if step.Status != StatusSuccess {
			ok = false
		}
	}

	return ok, nil
}

// runStep transitions one step through running to a terminal status.
func (r *Runner) runStep(ctx context.Context, w *Workflow, step *Step) {
	step.Status = StatusRunning
	r.logger.Info("step started", "workflow_id", w.ID, "step_id", step.ID, "endpoint", step.Config.APIEndpoint)

	result := r.exec.ExecuteStep(ctx, step, r.priorResults(w, step))
	step.Result = result
	if result.Success {
		step.Status = StatusSuccess
		r.logger.Info("step finished", "workflow_id", w.ID, "step_id", step.ID)
	} else {
		step.Status = StatusError
		r.logger.Error("step failed", "workflow_id", w.ID, "step_id", step.ID, "error", result.Message)
	}
}

// priorResults gathers the current results of a step's dependencies.
func (r *Runner) priorResults(w *Workflow, step *Step) map[string]*StepResult {
	prior := make(map[string]*StepResult, len(step.Dependencies))
	for _, dep := range step.Dependencies {
		if d := w.Step(dep); d != nil && d.Result != nil {
			prior[dep] = d.Result
		}
	}
	// file inputs may depend on steps not declared in dependencies
	for _, f := range step.Config.FileInputs {
		if f.DependsOn == "" {
			continue
		}
		if d := w.Step(f.DependsOn); d != nil && d.Result != nil {
			prior[f.DependsOn] = d.Result
		}
	}
	return prior
}

// failedAncestor reports the first declared dependency that reached a
// non-success terminal status, or "" when all dependencies succeeded.
func (r *Runner) failedAncestor(w *Workflow, step *Step) string {
	deps := append([]string(nil), step.Dependencies...)
	for _, f := range step.Config.FileInputs {
		if f.DependsOn != "" {
			deps = append(deps, f.DependsOn)
		}
	}
	sort.Strings(deps)
	for _, dep := range deps {
		d := w.Step(dep)
		if d == nil {
			continue
		}
		if d.Status == StatusError || d.Status == StatusSkipped {
			return dep
		}
	}
	return ""
}

// report invokes the progress callback when one is registered.
func (r *Runner) report(completed, total int) {
	if r.onProgress != nil {
		r.onProgress(completed, total)
	}
}
