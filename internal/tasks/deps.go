// Package tasks implements the scheduled jobs of the bizcircle service.
package tasks

import (
	"context"
	"log/slog"

	"github.com/edgard/bizcircle/internal/database"
	"github.com/edgard/bizcircle/internal/pipeline"
)

// Maintainer runs database maintenance over the message partitions.
type Maintainer interface {
	ListPartitions(ctx context.Context) ([]database.Partition, error)
	RunSQLMaintenance(ctx context.Context) error
}

// PipelineRunner runs the extraction pipeline over all groups.
type PipelineRunner interface {
	Run(ctx context.Context) (*pipeline.Report, error)
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger   *slog.Logger
	Store    Maintainer
	Pipeline PipelineRunner
}
