package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Swind/go-uthread/core"
	"gopkg.in/yaml.v3"
)

// Config holds configuration for the uthread command.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Workload  WorkloadConfig  `yaml:"workload"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SchedulerConfig mirrors the file-configurable part of core.SchedulerConfig.
type SchedulerConfig struct {
	Name            string `yaml:"name"`
	StackSize       int    `yaml:"stack_size"`
	MaxThreads      int    `yaml:"max_threads"` // 0 = unbounded
	Queue           string `yaml:"queue"`       // circular or heap
	HistoryCapacity int    `yaml:"history_capacity"`
}

// WorkloadConfig controls the fan-out workload run by the CLI.
type WorkloadConfig struct {
	Limit int `yaml:"limit"` // Stop spawning once this many children exist
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig controls the metrics HTTP endpoint.
type MetricsConfig struct {
	Addr         string `yaml:"addr"` // Empty disables the endpoint
	PollInterval string `yaml:"poll_interval"`
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Scheduler: SchedulerConfig{
			Name:            "uthread",
			StackSize:       core.DefaultStackSize,
			Queue:           string(core.QueueCircular),
			HistoryCapacity: 100,
		},
		Workload: WorkloadConfig{Limit: 10},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{PollInterval: "1s"},
	}
}

// Load reads a YAML file on top of Default. An empty path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Scheduler.StackSize <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.stack_size must be positive, got %d", c.Scheduler.StackSize))
	}
	if c.Scheduler.MaxThreads < 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_threads must not be negative, got %d", c.Scheduler.MaxThreads))
	}
	switch core.QueueKind(c.Scheduler.Queue) {
	case "", core.QueueCircular, core.QueueHeap:
	default:
		errs = append(errs, fmt.Errorf("scheduler.queue must be %q or %q, got %q", core.QueueCircular, core.QueueHeap, c.Scheduler.Queue))
	}
	if c.Workload.Limit < 0 {
		errs = append(errs, fmt.Errorf("workload.limit must not be negative, got %d", c.Workload.Limit))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Metrics.PollInterval != "" {
		if _, err := time.ParseDuration(c.Metrics.PollInterval); err != nil {
			errs = append(errs, fmt.Errorf("metrics.poll_interval: %w", err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", core.ErrInvalidConfig, errors.Join(errs...))
}

// PollInterval returns the parsed metrics poll interval, defaulting to one second.
func (c Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Metrics.PollInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// SchedulerConfig converts the file settings into a core.SchedulerConfig
// with default handlers. Callers set Logger and Metrics as needed.
func (c Config) SchedulerConfig() *core.SchedulerConfig {
	sc := core.DefaultSchedulerConfig()
	if c.Scheduler.Name != "" {
		sc.Name = c.Scheduler.Name
	}
	sc.StackSize = c.Scheduler.StackSize
	sc.MaxThreads = c.Scheduler.MaxThreads
	sc.Queue = core.QueueKind(c.Scheduler.Queue)
	if c.Scheduler.HistoryCapacity > 0 {
		sc.HistoryCapacity = c.Scheduler.HistoryCapacity
	}
	return sc
}
