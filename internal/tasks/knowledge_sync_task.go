package tasks

import (
	"context"
	"fmt"
	"time"
)

// newKnowledgeSyncTask creates the task that runs the extraction pipeline
// over every group.
func newKnowledgeSyncTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", KnowledgeSyncTask)

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting knowledge sync...")
		startTime := time.Now()

		report, err := deps.Pipeline.Run(ctx)
		duration := time.Since(startTime)
		if report != nil {
			for _, g := range report.Failed() {
				log.WarnContext(ctx, "Group did not finish",
					"run_id", report.RunID,
					"group_id", g.GroupID,
					"cursor", g.Cursor,
					"error", g.Err)
			}
		}
		if err != nil {
			log.ErrorContext(ctx, "Knowledge sync failed", "error", err, "duration", duration)
			return fmt.Errorf("knowledge sync failed: %w", err)
		}

		log.InfoContext(ctx, "Knowledge sync completed",
			"run_id", report.RunID,
			"groups", len(report.Groups),
			"batches", report.Committed(),
			"duration", duration)
		return nil
	}
}
