package tasks

import "context"

// Task names, matching the keys of the scheduler.tasks configuration.
const (
	KnowledgeSyncTask  = "knowledge_sync"
	SQLMaintenanceTask = "sql_maintenance"
)

// ScheduledTaskFunc defines the standard signature for all scheduled tasks.
// The context provided by the scheduler should be respected for cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// RegisterAllTasks returns every task keyed by its configuration name.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := map[string]ScheduledTaskFunc{
		KnowledgeSyncTask:  newKnowledgeSyncTask(deps),
		SQLMaintenanceTask: newSQLMaintenanceTask(deps),
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
