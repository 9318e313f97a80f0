package config

import "time"

// Default values for configuration
const (
	DefaultLogLevel = "info"

	DefaultDBDriver      = "sqlite"
	DefaultDBPath        = "storage.db"
	DefaultPartitionSpan = 90 * 24 * time.Hour

	DefaultProvider        = "gemini"
	DefaultGeminiModel     = "gemini-2.0-flash"
	DefaultOpenAIModel     = "deepseek-chat"
	DefaultOpenAIBaseURL   = "https://api.deepseek.com/v1"
	DefaultTimeout         = 5 * time.Minute
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = 2 * time.Second
	DefaultBreakerFailures = 5
	DefaultBreakerReset    = time.Minute

	DefaultBatchSize            = 500
	DefaultMaxParallelGroups    = 1
	DefaultMergeConflictRetries = 3

	DefaultKnowledgeSyncSchedule  = "0 0 * * * *"
	DefaultSQLMaintenanceSchedule = "0 30 3 * * 0"
)

var defaults = map[string]any{
	"log.level": DefaultLogLevel,
	"log.json":  false,

	"database.driver":         DefaultDBDriver,
	"database.dsn":            DefaultDBPath,
	"database.partition_span": DefaultPartitionSpan,

	"extractor.provider":            DefaultProvider,
	"extractor.temperature":         0.0,
	"extractor.timeout":             DefaultTimeout,
	"extractor.max_retries":         DefaultMaxRetries,
	"extractor.retry_delay":         DefaultRetryDelay,
	"extractor.breaker_failures":    DefaultBreakerFailures,
	"extractor.breaker_reset":       DefaultBreakerReset,
	"extractor.requests_per_minute": 0,

	"pipeline.batch_size":             DefaultBatchSize,
	"pipeline.max_parallel_groups":    DefaultMaxParallelGroups,
	"pipeline.merge_conflict_retries": DefaultMergeConflictRetries,

	"scheduler.tasks.knowledge_sync.enabled":   true,
	"scheduler.tasks.knowledge_sync.schedule":  DefaultKnowledgeSyncSchedule,
	"scheduler.tasks.sql_maintenance.enabled":  true,
	"scheduler.tasks.sql_maintenance.schedule": DefaultSQLMaintenanceSchedule,
}

// defaultModel depends on the provider, so it is applied after unmarshalling.
func defaultModel(provider string) string {
	if provider == "openai" {
		return DefaultOpenAIModel
	}
	return DefaultGeminiModel
}
