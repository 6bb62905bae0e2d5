// Copyright 2026 The Hearth Authors
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

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const DefaultShutdownTimeout = "30s"

type Config struct {
	ServerName      string `yaml:"serverName"      envconfig:"HEARTH_SERVER_NAME"`
	SigningKeySeed  string `yaml:"signingKeySeed"  envconfig:"HEARTH_SIGNING_KEY_SEED"`
	SigningKeyID    string `yaml:"signingKeyId"    envconfig:"HEARTH_SIGNING_KEY_ID"`
	DatabasePath    string `yaml:"databasePath"                                      split_words:"true"`
	BindAddr        string `yaml:"bindAddr"                                          split_words:"true"`
	ShutdownTimeout string `yaml:"shutdownTimeout"                                   split_words:"true"`
	Port            uint   `yaml:"port"            envconfig:"port"`
	MetricsPort     uint   `yaml:"metricsPort"                                       split_words:"true"`
	Tracing         bool   `yaml:"tracing"`
	TracingStdout   bool   `yaml:"tracingStdout"                                     split_words:"true"`
}

// Singleton config instance with default values
var globalConfig = &Config{
	BindAddr:        "0.0.0.0",
	Port:            8008,
	MetricsPort:     12798,
	ShutdownTimeout: DefaultShutdownTimeout,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.hearth/hearth.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".hearth", "hearth.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/hearth/hearth.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/hearth/hearth.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, globalConfig); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	// Load config values from environment variables
	// We use "dummy" as the app name here to (mostly) prevent picking
	// up env vars that we hadn't explicitly specified in annotations
	// above
	if err := envconfig.Process("dummy", globalConfig); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	return globalConfig, nil
}

// GetConfig returns the global config instance
func GetConfig() *Config {
	return globalConfig
}
