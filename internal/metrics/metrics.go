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

// Package metrics exposes Prometheus instrumentation for the execution
// engine and the HTTP control surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgeflow/forgeflow/pkg/workflow"
)

var (
	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forgeflow_step_duration_seconds",
			Help:    "Duration of step executions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	llmCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forgeflow_llm_calls_total",
			Help: "Total LLM completion calls by endpoint",
		},
		[]string{"endpoint"},
	)

	groupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forgeflow_group_runs_total",
			Help: "Total workflow group runs by terminal status",
		},
		[]string{"status"},
	)

	groupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forgeflow_group_duration_seconds",
		Help:    "Wall-clock duration of workflow group runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	activeGroups = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forgeflow_active_groups",
		Help: "Number of currently executing workflow groups",
	})

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forgeflow_http_requests_total",
			Help: "Total HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "code"},
	)
)

// Recorder feeds engine observations into the Prometheus collectors. It
// satisfies both the step-level and group-level metric interfaces.
type Recorder struct{}

// NewRecorder returns the process-wide metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordStep records one step execution.
func (Recorder) RecordStep(status workflow.StepStatus, duration time.Duration) {
	stepDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// RecordLLMCall counts one completion call.
func (Recorder) RecordLLMCall(endpoint string) {
	llmCalls.WithLabelValues(endpoint).Inc()
}

// RecordGroup records one terminated group run.
func (Recorder) RecordGroup(status workflow.GroupStatus, duration time.Duration) {
	groupRuns.WithLabelValues(string(status)).Inc()
	groupDuration.Observe(duration.Seconds())
}

// SetActiveGroups publishes the scheduler's in-flight count.
func (Recorder) SetActiveGroups(n int) {
	activeGroups.Set(float64(n))
}

// RecordHTTPRequest counts one served request.
func (Recorder) RecordHTTPRequest(method, route string, code int) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
