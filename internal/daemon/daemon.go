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

// Package daemon assembles the engine, scheduler and HTTP control surface
// into one long-running process.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/forgeflow/forgeflow/internal/config"
	"github.com/forgeflow/forgeflow/internal/daemon/api"
	"github.com/forgeflow/forgeflow/internal/daemon/runner"
	"github.com/forgeflow/forgeflow/internal/daemon/scheduler"
	"github.com/forgeflow/forgeflow/internal/log"
	"github.com/forgeflow/forgeflow/internal/metrics"
	"github.com/forgeflow/forgeflow/internal/store"
	"github.com/forgeflow/forgeflow/internal/tracing"
	"github.com/forgeflow/forgeflow/pkg/errors"
	"github.com/forgeflow/forgeflow/pkg/llm"
	"github.com/forgeflow/forgeflow/pkg/llm/providers"
	"github.com/forgeflow/forgeflow/pkg/workflow"
)

// shutdownTimeout bounds the graceful drain on termination.
const shutdownTimeout = 30 * time.Second

// Daemon is the assembled forgeflow process.
type Daemon struct {
	settings config.Settings
	logger   *slog.Logger
	server   *http.Server
	sched    *scheduler.Scheduler
	tracer   *tracing.Provider
}

// New wires all components from settings.
func New(settings config.Settings, version string, logger *slog.Logger) (*Daemon, error) {
	tracer, err := tracing.Setup("forgeflowd", version)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	files := store.New()
	recorder := metrics.NewRecorder()

	selector, err := buildSelector(settings, logger)
	if err != nil {
		return nil, err
	}

	exec := workflow.NewExecutor(files, selector,
		workflow.WithExecutorLogger(log.WithComponent(logger, "executor")),
		workflow.WithStepMetrics(recorder),
	)

	groupRunner := runner.New(exec,
		runner.WithLogger(log.WithComponent(logger, "runner")),
		runner.WithGroupMetrics(recorder),
	)
	sched := scheduler.New(groupRunner, settings.MaxConcurrentTasks,
		scheduler.WithLogger(log.WithComponent(logger, "scheduler")),
		scheduler.WithMetrics(recorder),
	)

	cfgStore := config.NewStore(settings.ConfigDir,
		config.WithStoreLogger(log.WithComponent(logger, "config")),
	)

	relayLogger := log.WithComponent(logger, "llm")
	relayFor := func(sessionID string) llm.Completer {
		var relayOpts []providers.RelayOption
		if sessionID != "" {
			relayOpts = append(relayOpts, providers.WithSessionID(sessionID))
		}
		return llm.NewClient(
			providers.NewRelay(settings.GenerateReactAPIURL, relayOpts...),
			llm.WithLogger(relayLogger),
		)
	}

	handler := api.NewServer(api.Options{
		Logger:   log.WithComponent(logger, "api"),
		Exec:     exec,
		Files:    files,
		Config:   cfgStore,
		Sched:    sched,
		Relay:    relayFor(""),
		RelayFor: relayFor,
		Metrics:  recorder,
		Version:  version,
	})

	return &Daemon{
		settings: settings,
		logger:   logger,
		sched:    sched,
		tracer:   tracer,
		server: &http.Server{
			Addr:              net.JoinHostPort("", settings.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// buildSelector maps endpoint variants onto configured completion clients.
// Direct-streaming endpoints are rate limited; the chat relay is not.
func buildSelector(settings config.Settings, logger *slog.Logger) (workflow.CompleterSelector, error) {
	llmLogger := log.WithComponent(logger, "llm")

	chat := llm.NewClient(providers.NewRelay(settings.ChatAPIURL), llm.WithLogger(llmLogger))

	qianwen := llm.NewClient(
		llm.NewRateLimited(
			providers.NewOpenAIStream("qianwen", settings.OpenAIAPIKey, settings.OpenAIModel, settings.OpenAIAPIBase),
			2, 4),
		llm.WithLogger(llmLogger),
	)
	deepseek := llm.NewClient(
		llm.NewRateLimited(
			providers.NewOpenAIStream("deepseek", settings.OpenAIAPIKeyCoder, settings.OpenAIModelCoder, settings.OpenAIAPIBaseCoder),
			2, 4),
		llm.WithLogger(llmLogger),
	)

	return func(ep workflow.Endpoint) (llm.Completer, error) {
		switch ep {
		case workflow.EndpointChat:
			return chat, nil
		case "", workflow.EndpointQianwen:
			return qianwen, nil
		case workflow.EndpointDeepseek:
			return deepseek, nil
		default:
			return nil, &errors.ValidationError{Field: "apiEndpoint", Message: fmt.Sprintf("unknown endpoint %q", ep)}
		}
	}, nil
}

// Run serves until the context is cancelled, then drains: running groups
// are stopped, the listener shuts down gracefully, and tracing flushes.
func (d *Daemon) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("daemon listening", "addr", d.server.Addr)
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	d.logger.Info("daemon shutting down")

	stopped := d.sched.StopAll()
	if stopped > 0 {
		d.logger.Info("stopped running groups", "count", stopped)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return d.tracer.Shutdown(shutdownCtx)
}
