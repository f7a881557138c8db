package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/forgeflow/forgeflow/pkg/errors"
	"github.com/forgeflow/forgeflow/pkg/llm"
)

// ContentStore is the filesystem surface the executor needs. Reads always
// hit the filesystem; the executor never caches input content.
type ContentStore interface {
	ReadFile(path string) ([]byte, error)
	EnsureDir(path string) error
	WriteFile(path string, data []byte) error
	FileExists(path string) bool
}

// CompleterSelector resolves an endpoint variant to a configured completion
// client. Selection errors surface as provider failures on the step.
type CompleterSelector func(ep Endpoint) (llm.Completer, error)

// StepMetrics receives execution observations. Implementations must be safe
// for concurrent use.
type StepMetrics interface {
	RecordStep(status StepStatus, duration time.Duration)
	RecordLLMCall(endpoint string)
}

// Executor runs individual steps: it resolves file inputs against upstream
// results, renders the prompt, invokes the selected LLM endpoint, and
// persists the extracted code. It never panics or errors into the caller;
// every failure becomes an unsuccessful StepResult.
type Executor struct {
	store           ContentStore
	selector        CompleterSelector
	logger          *slog.Logger
	tracer          trace.Tracer
	metrics         StepMetrics
	refuseOverwrite bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithStepMetrics attaches a metrics sink.
func WithStepMetrics(m StepMetrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithRefuseOverwrite makes the executor fail a step whose output file
// already exists instead of overwriting it. Off by default: the canonical
// write path overwrites unconditionally.
func WithRefuseOverwrite() ExecutorOption {
	return func(e *Executor) { e.refuseOverwrite = true }
}

// NewExecutor creates a step executor.
func NewExecutor(store ContentStore, selector CompleterSelector, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:    store,
		selector: selector,
		logger:   slog.Default(),
		tracer:   otel.Tracer("forgeflow/workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteStep runs one step against the results already produced by its
// dependencies. prior must contain an entry for every dependency that ran.
func (e *Executor) ExecuteStep(ctx context.Context, step *Step, prior map[string]*StepResult) *StepResult {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "step.execute", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.endpoint", string(step.Config.APIEndpoint)),
	))
	defer span.End()

	result := e.executeStep(ctx, step, prior)

	status := StatusSuccess
	if !result.Success {
		status = StatusError
	}
	if e.metrics != nil {
		e.metrics.RecordStep(status, time.Since(start))
	}
	return result
}

func (e *Executor) executeStep(ctx context.Context, step *Step, prior map[string]*StepResult) *StepResult {
	if err := validateStepConfig(step); err != nil {
		return failure(err)
	}

	nameToPath, err := e.resolveInputs(step, prior)
	if err != nil {
		return failure(err)
	}

	segments, err := RenderPrompts(step.Config.PromptInputs, nameToPath)
	if err != nil {
		return failure(err)
	}

	return e.ExecuteSegments(ctx, segments, step.Config.APIEndpoint, step.Config.OutputFolder, step.Config.OutputFileName)
}

// ExecuteSegments materializes a rendered segment sequence into a single
// user message, invokes the endpoint, and persists the extracted code.
// Also the execution path for ad-hoc (non-step) requests from the API.
func (e *Executor) ExecuteSegments(ctx context.Context, segments []Segment, ep Endpoint, outputFolder, outputFileName string) *StepResult {
	payload, err := e.materialize(segments)
	if err != nil {
		return failure(err)
	}

	completer, err := e.selector(ep)
	if err != nil {
		return failure(&errors.ProviderError{Provider: string(ep), Message: err.Error(), Cause: err})
	}

	if e.metrics != nil {
		e.metrics.RecordLLMCall(string(ep))
	}
	res, err := completer.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: payload}})
	if err != nil {
		return failure(err)
	}

	code := llm.ExtractCode(res.Content)

	outputPath := filepath.Join(outputFolder, outputFileName)
	if e.refuseOverwrite && e.store.FileExists(outputPath) {
		return failure(&errors.IOError{Op: "write", Path: outputPath, Cause: fmt.Errorf("output file already exists")})
	}
	if err := e.store.EnsureDir(outputFolder); err != nil {
		return failure(err)
	}
	if err := e.store.WriteFile(outputPath, []byte(code)); err != nil {
		return failure(err)
	}

	message := "success"
	if res.Warning != "" {
		message = res.Warning
	}

	return &StepResult{
		Success: true,
		Message: message,
		Data: &StepData{
			Path:    outputPath,
			Content: code,
			Size:    len(code),
		},
	}
}

// resolveInputs builds the name → path map for a step's file inputs.
// Dependent inputs take their path from the upstream result, which must be
// successful and carry an output path; literal inputs use path verbatim.
func (e *Executor) resolveInputs(step *Step, prior map[string]*StepResult) (map[string]string, error) {
	nameToPath := make(map[string]string, len(step.Config.FileInputs))

	for _, f := range step.Config.FileInputs {
		if f.DependsOn != "" {
			res, ok := prior[f.DependsOn]
			if !ok {
				return nil, &errors.DependencyError{StepID: step.ID, Dependency: f.DependsOn, Reason: "no result available"}
			}
			if !res.Success {
				return nil, &errors.DependencyError{StepID: step.ID, Dependency: f.DependsOn, Reason: "dependency failed"}
			}
			if res.Data == nil || res.Data.Path == "" {
				return nil, &errors.DependencyError{StepID: step.ID, Dependency: f.DependsOn, Reason: "dependency produced no output path"}
			}
			nameToPath[f.Name] = res.Data.Path
			continue
		}
		if f.Path == "" {
			return nil, &errors.ValidationError{Field: "fileInputs", Message: fmt.Sprintf("input %q has neither path nor dependsOn", f.Name)}
		}
		nameToPath[f.Name] = f.Path
	}

	return nameToPath, nil
}

// materialize joins segment contents with newlines into the single user
// message payload. File segments contribute the full contents of the named
// file, read fresh.
func (e *Executor) materialize(segments []Segment) (string, error) {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg.Kind {
		case SegmentFile:
			data, err := e.store.ReadFile(seg.Value)
			if err != nil {
				return "", err
			}
			parts = append(parts, string(data))
		default:
			parts = append(parts, seg.Value)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// validateStepConfig enforces the minimum executable configuration.
func validateStepConfig(step *Step) error {
	if len(step.Config.FileInputs) == 0 {
		return &errors.ValidationError{Field: "fileInputs", Message: fmt.Sprintf("step %q has no file inputs", step.ID)}
	}
	if len(step.Config.PromptInputs) == 0 {
		return &errors.ValidationError{Field: "promptInputs", Message: fmt.Sprintf("step %q has no prompt inputs", step.ID)}
	}
	if step.Config.OutputFolder == "" {
		return &errors.ValidationError{Field: "outputFolder", Message: fmt.Sprintf("step %q has no output folder", step.ID)}
	}
	if step.Config.OutputFileName == "" {
		return &errors.ValidationError{Field: "outputFileName", Message: fmt.Sprintf("step %q has no output file name", step.ID)}
	}
	return nil
}

// failure converts an error into an unsuccessful StepResult.
func failure(err error) *StepResult {
	return &StepResult{Success: false, Message: err.Error()}
}
