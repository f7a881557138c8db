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

// Package errors defines the error taxonomy of the execution engine.
// Every failure that can reach a step result or the control API boundary
// maps onto exactly one of these types.
package errors

import "fmt"

// ValidationError represents an invalid step or workflow configuration:
// missing required fields, bad prompt references, or a cyclic dependency
// graph. Validation errors are never retried.
type ValidationError struct {
	// Field identifies which configuration field failed validation
	Field string

	// Message is the human-readable error description
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid configuration at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid configuration: %s", e.Message)
}

// DependencyError represents a runtime gap between a step's declared
// dependency and the results actually available when the step executes.
type DependencyError struct {
	// StepID is the step whose dependency could not be satisfied
	StepID string

	// Dependency is the id of the missing or failed upstream step
	Dependency string

	// Reason explains why the dependency result is unusable
	Reason string
}

// Error implements the error interface.
func (e *DependencyError) Error() string {
	return fmt.Sprintf("step %s: dependency %s: %s", e.StepID, e.Dependency, e.Reason)
}

// InputError represents a named input file that cannot be read.
type InputError struct {
	// Path is the file path that could not be read
	Path string

	// Cause is the underlying filesystem error
	Cause error
}

// Error implements the error interface.
func (e *InputError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("input file %s: %v", e.Path, e.Cause)
	}
	return fmt.Sprintf("input file not found: %s", e.Path)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *InputError) Unwrap() error {
	return e.Cause
}

// ProviderError represents LLM endpoint failures: transport errors, non-2xx
// responses, malformed streaming payloads, or exhausted continuations with
// no terminal finish reason.
type ProviderError struct {
	// Provider is the name of the LLM transport (e.g. "relay", "qianwen")
	Provider string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Message is the human-readable error message, carrying the vendor's
	// message string when one is available
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s error", e.Provider)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", msg, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// IOError represents an output-write failure.
type IOError struct {
	// Op describes the failed operation (e.g. "write", "mkdir")
	Op string

	// Path is the filesystem path involved
	Path string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *IOError) Unwrap() error {
	return e.Cause
}

// ConcurrencyLimitError is returned when scheduler admission is refused.
// It is surfaced at the control boundary and never reaches a runner.
type ConcurrencyLimitError struct {
	// Limit is the configured maximum of concurrently executing groups
	Limit int

	// Active is the number of groups executing at admission time
	Active int
}

// Error implements the error interface.
func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("concurrency limit reached: %d of %d groups executing", e.Active, e.Limit)
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	// Resource is the type of resource (e.g. "config", "group", "step")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// CancelledError marks an observed abort signal. Cancellation is distinct
// from failure: the interrupted step or workflow is not counted as failed.
type CancelledError struct {
	// Operation describes what was interrupted (e.g. "workflow", "group")
	Operation string
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s cancelled", e.Operation)
}
