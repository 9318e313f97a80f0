// Package config loads application configuration from a YAML file, BIZCIRCLE_*
// environment variables, an optional .env file, and built-in defaults.
package config

import "time"

// Config holds the configuration for every component.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Driver        string        `mapstructure:"driver"         validate:"required,oneof=sqlite postgres"`
	DSN           string        `mapstructure:"dsn"            validate:"required"`
	PartitionSpan time.Duration `mapstructure:"partition_span" validate:"min=1h"`
}

// ExtractorConfig configures the extraction service client.
type ExtractorConfig struct {
	Provider          string        `mapstructure:"provider"            validate:"required,oneof=gemini openai"`
	APIKey            string        `mapstructure:"api_key"             masq:"secret"`
	BaseURL           string        `mapstructure:"base_url"            validate:"omitempty,url"`
	Model             string        `mapstructure:"model"               validate:"required"`
	Temperature       float32       `mapstructure:"temperature"         validate:"min=0,max=2"`
	Timeout           time.Duration `mapstructure:"timeout"             validate:"min=1s,max=30m"`
	MaxRetries        int           `mapstructure:"max_retries"         validate:"min=0,max=10"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"         validate:"min=0"`
	BreakerFailures   int           `mapstructure:"breaker_failures"    validate:"min=1"`
	BreakerReset      time.Duration `mapstructure:"breaker_reset"       validate:"min=1s"`
	// RequestsPerMinute caps extraction calls; 0 disables the limit.
	RequestsPerMinute int           `mapstructure:"requests_per_minute" validate:"min=0"`
}

// PipelineConfig tunes the extraction pipeline.
type PipelineConfig struct {
	BatchSize            int      `mapstructure:"batch_size"             validate:"min=1,max=5000"`
	Groups               []string `mapstructure:"groups"                 validate:"dive,required"`
	MaxParallelGroups    int      `mapstructure:"max_parallel_groups"    validate:"min=1"`
	MergeConflictRetries int      `mapstructure:"merge_conflict_retries" validate:"min=0"`
}

// TaskConfig enables a scheduled task and sets its cron schedule.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// SchedulerConfig maps task names to their schedule.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}
