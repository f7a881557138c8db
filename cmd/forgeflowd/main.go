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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgeflow/forgeflow/internal/config"
	"github.com/forgeflow/forgeflow/internal/daemon"
	"github.com/forgeflow/forgeflow/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		port          string
		configDir     string
		maxConcurrent int
	)

	root := &cobra.Command{
		Use:   "forgeflowd",
		Short: "Batch LLM code-transformation daemon",
		Long: `forgeflowd runs workflow groups of LLM-backed code transformation
steps and exposes an HTTP control API for configuration, execution and
monitoring.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := log.New(log.FromEnv())
			slog.SetDefault(logger)

			settings := config.FromEnv()
			if port != "" {
				settings.Port = port
			}
			if configDir != "" {
				settings.ConfigDir = configDir
			}
			if maxConcurrent > 0 {
				settings.MaxConcurrentTasks = maxConcurrent
			}

			d, err := daemon.New(settings, version, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return d.Run(ctx)
		},
	}

	root.Flags().StringVar(&port, "port", "", "HTTP listen port (overrides PORT)")
	root.Flags().StringVar(&configDir, "config-dir", "", "configuration directory (overrides FORGEFLOW_CONFIG_DIR)")
	root.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "max simultaneously running workflow groups")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("forgeflowd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
