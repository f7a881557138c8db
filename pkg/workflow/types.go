// Package workflow defines the data model of the execution engine and
// implements step execution and topological workflow runs.
//
// A workflow group (the user-facing "task") holds a template; a template
// holds workflows; a workflow is a DAG of steps. Each step renders a prompt
// from file inputs, invokes an LLM endpoint, and persists the extracted
// code as its output.
package workflow

import (
	"encoding/json"
	"time"
)

// StepStatus represents the execution state of a step.
// Transitions: pending → running → {success, error, skipped};
// a reset moves a terminal status back to pending.
type StepStatus string

const (
	// StatusPending indicates a step that has not started execution.
	StatusPending StepStatus = "pending"
	// StatusRunning indicates a step that is currently executing.
	// Persisted documents never carry this status.
	StatusRunning StepStatus = "running"
	// StatusSuccess indicates a step that completed without error.
	StatusSuccess StepStatus = "success"
	// StatusError indicates a step that failed.
	StatusError StepStatus = "error"
	// StatusSkipped indicates a step that was not executed because an
	// upstream dependency failed.
	StatusSkipped StepStatus = "skipped"
)

// Endpoint names the LLM transport variant a step uses.
type Endpoint string

const (
	// EndpointChat routes through the external chat relay (no streaming).
	EndpointChat Endpoint = "chat"
	// EndpointQianwen streams from the primary direct model.
	EndpointQianwen Endpoint = "qianwen"
	// EndpointDeepseek streams from the coder direct model.
	EndpointDeepseek Endpoint = "deepseek"
)

// FileInput is one named file source for a step. Exactly one of Path or
// DependsOn is effective: when DependsOn is set, the path is taken from the
// named upstream step's result at execution time and Path is ignored.
type FileInput struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	DependsOn string `json:"dependsOn,omitempty"`
}

// PromptInput is one prompt fragment. Content may contain {{name}} tokens
// referring to the step's file inputs by name.
type PromptInput struct {
	Content        string   `json:"content"`
	FileReferences []string `json:"fileReferences,omitempty"`
}

// StepConfig holds the user-authored configuration of a step.
type StepConfig struct {
	FileInputs     []FileInput   `json:"fileInputs"`
	PromptInputs   []PromptInput `json:"promptInputs"`
	OutputFolder   string        `json:"outputFolder"`
	OutputFileName string        `json:"outputFileName"`
	APIEndpoint    Endpoint      `json:"apiEndpoint,omitempty"`
}

// StepData carries the output descriptor of a successful step. Path is the
// canonical handle downstream steps consume.
type StepData struct {
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	Size    int    `json:"size,omitempty"`
}

// StepResult is the runtime outcome of one step execution. Results live in
// memory for the duration of a run and are never persisted.
type StepResult struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Data    *StepData `json:"data,omitempty"`
}

// Step is one LLM-backed transformation unit.
type Step struct {
	ID           string     `json:"id"`
	Name         string     `json:"name,omitempty"`
	Order        int        `json:"order"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Config       StepConfig `json:"config"`

	// Runtime fields. Stripped on save: persisted steps are always
	// pending with no result.
	Status StepStatus  `json:"status,omitempty"`
	Result *StepResult `json:"result,omitempty"`
}

// Workflow is a named DAG of steps.
type Workflow struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Steps       []*Step `json:"steps"`
}

// Step returns the step with the given id, or nil.
func (w *Workflow) Step(id string) *Step {
	for _, s := range w.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Template is a frozen, reusable blueprint of workflows. Unlike a workflow,
// a template may be referenced by many groups.
type Template struct {
	ID            string      `json:"id,omitempty"`
	Name          string      `json:"name,omitempty"`
	Description   string      `json:"description,omitempty"`
	Workflows     []*Workflow `json:"workflows"`
	WorkflowOrder []string    `json:"workflowOrder,omitempty"`
	CreatedAt     time.Time   `json:"createdAt,omitempty"`
	UpdatedAt     time.Time   `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy of the template via a JSON round trip.
func (t *Template) Clone() *Template {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil
	}
	var out Template
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return &out
}

// GroupStatus represents the lifecycle state of a workflow group.
type GroupStatus string

const (
	// GroupIdle indicates a group that is not executing.
	GroupIdle GroupStatus = "idle"
	// GroupRunning indicates a group admitted by the scheduler.
	GroupRunning GroupStatus = "running"
	// GroupCompleted indicates a finished run with at least one
	// completed workflow.
	GroupCompleted GroupStatus = "completed"
	// GroupFailed indicates a finished run in which every workflow failed.
	GroupFailed GroupStatus = "failed"
)

// ExecutionResults aggregates the outcome of a group run.
type ExecutionResults struct {
	TotalWorkflows     int       `json:"totalWorkflows"`
	CompletedWorkflows int       `json:"completedWorkflows"`
	FailedWorkflows    int       `json:"failedWorkflows"`
	StartTime          time.Time `json:"startTime"`
	EndTime            time.Time `json:"endTime,omitzero"`
	// Duration is wall-clock milliseconds from StartTime to EndTime.
	Duration int64 `json:"duration,omitempty"`
	// RecentLogs is a bounded ring of timestamped log lines from the run,
	// oldest first.
	RecentLogs []string `json:"recentLogs,omitempty"`
}

// Group is the user-facing unit of work: a runnable instance of a template
// (a "workflow group" in the persisted document).
type Group struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Template         *Template         `json:"template"`
	Status           GroupStatus       `json:"status,omitempty"`
	Progress         float64           `json:"progress,omitempty"`
	ExecutionResults *ExecutionResults `json:"executionResults,omitempty"`
	CreatedAt        time.Time         `json:"createdAt,omitempty"`
	UpdatedAt        time.Time         `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy of the group via a JSON round trip.
func (g *Group) Clone() *Group {
	raw, err := json.Marshal(g)
	if err != nil {
		return nil
	}
	var out Group
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return &out
}

// Executable reports whether the group has at least one workflow holding at
// least one step. Only executable groups are admitted by the scheduler.
func (g *Group) Executable() bool {
	if g.Template == nil {
		return false
	}
	for _, w := range g.Template.Workflows {
		if len(w.Steps) > 0 {
			return true
		}
	}
	return false
}

// OrderedWorkflows returns the template's workflows in workflowOrder, with
// any workflows absent from the order appended in declaration order.
func (t *Template) OrderedWorkflows() []*Workflow {
	if len(t.WorkflowOrder) == 0 {
		return t.Workflows
	}
	byID := make(map[string]*Workflow, len(t.Workflows))
	for _, w := range t.Workflows {
		byID[w.ID] = w
	}
	out := make([]*Workflow, 0, len(t.Workflows))
	seen := make(map[string]bool, len(t.Workflows))
	for _, id := range t.WorkflowOrder {
		if w, ok := byID[id]; ok && !seen[id] {
			out = append(out, w)
			seen[id] = true
		}
	}
	for _, w := range t.Workflows {
		if !seen[w.ID] {
			out = append(out, w)
		}
	}
	return out
}

// ResetRuntime clears a workflow's transient execution state: every step
// returns to pending with no result.
func (w *Workflow) ResetRuntime() {
	for _, s := range w.Steps {
		s.Status = StatusPending
		s.Result = nil
	}
}
