// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the notify client configuration.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	// Broker locates the broker process and its shared state.
	Broker BrokerConfig `yaml:"broker"`

	// Client tunes the client library's caching and delivery.
	Client ClientConfig `yaml:"client"`

	// Regeneration controls how the client re-resolves a restarted
	// broker.
	Regeneration RegenerationConfig `yaml:"regeneration"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the fields that may differ per environment.
// Pointer fields distinguish "not set" from the zero value.
type Overrides struct {
	SocketPath       string `yaml:"socket_path,omitempty"`
	SharedMemoryPath string `yaml:"shared_memory_path,omitempty"`
	Multiplex        *bool  `yaml:"multiplex,omitempty"`
	AutoRegenerate   *bool  `yaml:"auto_regenerate,omitempty"`
	ImplicitEnable   *bool  `yaml:"implicit_enable,omitempty"`
}

// BrokerConfig locates the broker.
type BrokerConfig struct {
	// SocketPath is the broker's Unix socket.
	// Default: ${XDG_RUNTIME_DIR:-/run}/notify/broker.sock
	SocketPath string `yaml:"socket_path"`

	// SharedMemoryPath is the counter array file the broker exports
	// for check registrations. Clients map it read-only.
	// Default: ${XDG_RUNTIME_DIR:-/run}/notify/counters
	SharedMemoryPath string `yaml:"shared_memory_path"`

	// Executable is the broker's executable name. A client running
	// under this name refuses to register, because it would be making
	// blocking calls into itself.
	// Default: notifyd
	Executable string `yaml:"executable"`
}

// ClientConfig tunes the client library.
type ClientConfig struct {
	// Multiplex routes port and file deliveries through one shared
	// endpoint that the client demultiplexes locally.
	Multiplex bool `yaml:"multiplex"`

	// AutoRegenerate watches for broker restarts and replays
	// registrations automatically.
	AutoRegenerate bool `yaml:"auto_regenerate"`

	// ImplicitEnable turns on Multiplex and AutoRegenerate the first
	// time a callback registration is made.
	// Default: true (development), false (production)
	ImplicitEnable bool `yaml:"implicit_enable"`

	// LeakWarningInterval logs a warning every time one name has been
	// registered this many more times in the life of the process.
	// Zero disables the warning.
	// Default: 20
	LeakWarningInterval int `yaml:"leak_warning_interval"`

	// FetchIDAfter is the post count at which the client pays one
	// round trip to learn a name's numeric id. Earlier posts send the
	// name string. Values below 2 are treated as 2.
	// Default: 2
	FetchIDAfter int `yaml:"fetch_id_after"`
}

// RegenerationConfig bounds the retry loop that waits for a restarted
// broker to accept connections again.
type RegenerationConfig struct {
	// InitialInterval is the first retry delay. Default: 50ms
	InitialInterval time.Duration `yaml:"initial_interval"`

	// MaxInterval caps a single retry delay. Default: 2s
	MaxInterval time.Duration `yaml:"max_interval"`

	// MaxElapsed gives up re-resolving after this long. Default: 30s
	MaxElapsed time.Duration `yaml:"max_elapsed"`

	// WatchInterval is how often the restart watcher checks its stop
	// channel between inotify reads. Default: 100ms
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Environment: Development,
		Broker: BrokerConfig{
			SocketPath:       "${XDG_RUNTIME_DIR:-/run}/notify/broker.sock",
			SharedMemoryPath: "${XDG_RUNTIME_DIR:-/run}/notify/counters",
			Executable:       "notifyd",
		},
		Client: ClientConfig{
			ImplicitEnable:      true,
			LeakWarningInterval: 20,
			FetchIDAfter:        2,
		},
		Regeneration: RegenerationConfig{
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			MaxElapsed:      30 * time.Second,
			WatchInterval:   100 * time.Millisecond,
		},
	}
	cfg.expandVariables()
	return cfg
}

// Load loads the file named by NOTIFY_CONFIG. It fails if the variable
// is not set; callers that want defaults call Default explicitly.
func Load() (*Config, error) {
	configPath := os.Getenv("NOTIFY_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("NOTIFY_CONFIG environment variable not set; " +
			"set it to the path of a notify.yaml file, or use --config")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path on top of Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil {
			disabled := false
			overrides = &Overrides{ImplicitEnable: &disabled}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.SocketPath != "" {
		c.Broker.SocketPath = overrides.SocketPath
	}
	if overrides.SharedMemoryPath != "" {
		c.Broker.SharedMemoryPath = overrides.SharedMemoryPath
	}
	if overrides.Multiplex != nil {
		c.Client.Multiplex = *overrides.Multiplex
	}
	if overrides.AutoRegenerate != nil {
		c.Client.AutoRegenerate = *overrides.AutoRegenerate
	}
	if overrides.ImplicitEnable != nil {
		c.Client.ImplicitEnable = *overrides.ImplicitEnable
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Broker.SocketPath = expandVars(c.Broker.SocketPath, vars)
	c.Broker.SharedMemoryPath = expandVars(c.Broker.SharedMemoryPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. Explicit vars win over
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	if c.Broker.SocketPath == "" {
		errs = append(errs, errors.New("broker.socket_path is required"))
	}
	if c.Client.LeakWarningInterval < 0 {
		errs = append(errs, fmt.Errorf("client.leak_warning_interval must not be negative, got %d", c.Client.LeakWarningInterval))
	}
	if c.Regeneration.InitialInterval <= 0 {
		errs = append(errs, errors.New("regeneration.initial_interval must be positive"))
	}
	if c.Regeneration.MaxInterval < c.Regeneration.InitialInterval {
		errs = append(errs, errors.New("regeneration.max_interval must not be below initial_interval"))
	}
	if c.Regeneration.WatchInterval <= 0 {
		errs = append(errs, errors.New("regeneration.watch_interval must be positive"))
	}

	return errors.Join(errs...)
}
