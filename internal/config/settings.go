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

// Package config holds runtime settings and the persisted JSON
// configuration store.
package config

import (
	"os"
	"strconv"
)

// Default values applied when the corresponding variable is unset.
const (
	DefaultPort               = "3001"
	DefaultConfigDir          = "configs"
	DefaultMaxConcurrentTasks = 6
)

// Settings is the closed set of environment-derived configuration. The
// engine receives it at construction and never reads the environment again.
type Settings struct {
	// Port is the HTTP listen port.
	Port string

	// ConfigDir is the directory holding the persisted JSON documents.
	ConfigDir string

	// Primary direct-streaming model.
	OpenAIAPIKey  string
	OpenAIAPIBase string
	OpenAIModel   string

	// Coder direct-streaming model.
	OpenAIAPIKeyCoder  string
	OpenAIAPIBaseCoder string
	OpenAIModelCoder   string

	// Chat relay endpoints.
	ChatAPIURL          string
	GenerateReactAPIURL string

	// MaxConcurrentTasks bounds simultaneous group executions.
	MaxConcurrentTasks int
}

// FromEnv builds Settings from the process environment.
func FromEnv() Settings {
	s := Settings{
		Port:                envOr("PORT", DefaultPort),
		ConfigDir:           envOr("FORGEFLOW_CONFIG_DIR", DefaultConfigDir),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIAPIBase:       os.Getenv("OPENAI_API_BASE"),
		OpenAIModel:         os.Getenv("OPENAI_MODEL"),
		OpenAIAPIKeyCoder:   os.Getenv("OPENAI_API_KEY_CODER"),
		OpenAIAPIBaseCoder:  os.Getenv("OPENAI_API_BASE_CODER"),
		OpenAIModelCoder:    os.Getenv("OPENAI_MODEL_CODER"),
		ChatAPIURL:          os.Getenv("CHAT_API_URL"),
		GenerateReactAPIURL: os.Getenv("GENERATE_REACT_API_URL"),
		MaxConcurrentTasks:  DefaultMaxConcurrentTasks,
	}
	if v := os.Getenv("FORGEFLOW_MAX_CONCURRENT_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.MaxConcurrentTasks = n
		}
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
