package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/bizcircle/internal/config"
	"github.com/edgard/bizcircle/internal/database"
	apperrors "github.com/edgard/bizcircle/internal/errors"
	"github.com/edgard/bizcircle/internal/knowledge"
)

// Store is everything the orchestrator reads and writes.
type Store interface {
	PartitionReader
	SnapshotStore
	ListGroups(ctx context.Context) ([]string, error)
}

// Extractor turns a batch into an extraction document.
type Extractor interface {
	Extract(ctx context.Context, messages []database.Message) (*knowledge.Document, error)
}

// Resolver rewrites user references in a document.
type Resolver interface {
	Resolve(ctx context.Context, doc *knowledge.Document) *knowledge.Document
}

// Deps holds the collaborators of an Orchestrator.
type Deps struct {
	Store     Store
	Extractor Extractor
	Resolver  Resolver
	// Source defaults to a BatchSource over Store.
	Source Source
	Config config.PipelineConfig
	Logger *slog.Logger
}

// Orchestrator runs the extraction pipeline for each group.
type Orchestrator struct {
	store     Store
	source    Source
	extractor Extractor
	resolver  Resolver
	writer    *Writer
	cfg       config.PipelineConfig
	log       *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps Deps) *Orchestrator {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	source := deps.Source
	if source == nil {
		source = NewBatchSource(deps.Store, deps.Config.BatchSize, log)
	}
	return &Orchestrator{
		store:     deps.Store,
		source:    source,
		extractor: deps.Extractor,
		resolver:  deps.Resolver,
		writer:    NewWriter(deps.Store, log),
		cfg:       deps.Config,
		log:       log.With("component", "orchestrator"),
	}
}

// Run processes every configured group, or every group found in the message
// store when none is configured. Groups run concurrently up to
// MaxParallelGroups. A SourceUnavailable error stops all groups; other
// failures stop only their group. The returned error joins the failures.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), StartedAt: time.Now()}
	log := o.log.With("run_id", report.RunID)

	groups := o.cfg.Groups
	if len(groups) == 0 {
		var err error
		groups, err = o.store.ListGroups(ctx)
		if err != nil {
			report.FinishedAt = time.Now()
			return report, apperrors.NewSourceUnavailable("failed to list groups", err)
		}
	}
	if len(groups) == 0 {
		log.InfoContext(ctx, "No groups to process")
		report.FinishedAt = time.Now()
		return report, nil
	}

	log.InfoContext(ctx, "Pipeline run started", "groups", len(groups))
	report.Groups = make([]GroupReport, len(groups))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.cfg.MaxParallelGroups, 1))
	for i, groupID := range groups {
		g.Go(func() error {
			report.Groups[i] = o.runGroup(gCtx, log, groupID)
			if apperrors.Is(report.Groups[i].Err, apperrors.CodeSourceUnavailable) {
				return report.Groups[i].Err
			}
			return nil
		})
	}
	abortErr := g.Wait()
	report.FinishedAt = time.Now()

	var errs []error
	for _, gr := range report.Groups {
		if gr.Err != nil {
			errs = append(errs, gr.Err)
		}
	}
	err := errors.Join(errs...)

	attrs := []any{
		"groups", len(groups),
		"failed", len(errs),
		"committed", report.Committed(),
		"duration", report.FinishedAt.Sub(report.StartedAt),
	}
	switch {
	case abortErr != nil:
		log.ErrorContext(ctx, "Pipeline run aborted", append(attrs, "error", abortErr)...)
	case err != nil:
		log.WarnContext(ctx, "Pipeline run finished with errors", append(attrs, "error", err)...)
	default:
		log.InfoContext(ctx, "Pipeline run finished", attrs...)
	}
	return report, err
}

// RunGroup processes the batches of one group until the source is exhausted.
func (o *Orchestrator) RunGroup(ctx context.Context, groupID string) (GroupReport, error) {
	report := o.runGroup(ctx, o.log.With("run_id", uuid.NewString()), groupID)
	return report, report.Err
}

func (o *Orchestrator) runGroup(ctx context.Context, log *slog.Logger, groupID string) GroupReport {
	log = log.With("group_id", groupID)
	report := GroupReport{GroupID: groupID}

	current, err := o.store.GetLatestCursor(ctx, groupID)
	if err != nil {
		report.Err = &BatchError{GroupID: groupID, Err: apperrors.NewPersistenceFailure("failed to read cursor", err)}
		return report
	}
	cursor := time.Unix(0, 0).UTC()
	if current != nil {
		cursor = current.LastSyncTimestamp
	}
	report.Cursor = cursor
	log.DebugContext(ctx, "Processing group", "cursor", cursor)

	for {
		if err := ctx.Err(); err != nil {
			log.InfoContext(ctx, "Group processing interrupted", "cursor", cursor)
			report.Err = &BatchError{GroupID: groupID, Start: cursor, Err: err}
			return report
		}

		batch, err := o.source.NextBatch(ctx, groupID, cursor)
		if err != nil {
			report.Err = &BatchError{GroupID: groupID, Start: cursor, Err: err}
			log.ErrorContext(ctx, "Failed to fetch batch", "cursor", cursor, "error", err)
			return report
		}
		if len(batch.Messages) == 0 {
			break
		}

		snapshotID, err := o.processBatch(ctx, log, batch)
		switch {
		case apperrors.Is(err, apperrors.CodeEmptyBatch):
			log.WarnContext(ctx, "Skipping batch without valid messages",
				"batch_start", batch.Start(), "batch_end", batch.End())
			report.Skipped++
		case err != nil:
			report.Err = newBatchError(groupID, batch, err)
			log.ErrorContext(ctx, "Batch failed",
				"batch_start", batch.Start(),
				"batch_end", batch.End(),
				"code", apperrors.Code(err),
				"error", err)
			return report
		default:
			report.Batches++
			report.Messages += len(batch.Messages)
			report.SnapshotID = snapshotID
		}

		cursor = batch.End()
		if err == nil {
			report.Cursor = cursor
		}
		if batch.Exhausted {
			break
		}
	}

	log.InfoContext(ctx, "Group processed",
		"batches", report.Batches,
		"skipped", report.Skipped,
		"messages", report.Messages,
		"cursor", report.Cursor)
	return report
}

// processBatch extracts, resolves and commits one batch and returns the id of
// the snapshot written.
func (o *Orchestrator) processBatch(ctx context.Context, log *slog.Logger, batch Batch) (int64, error) {
	doc, err := o.extractor.Extract(ctx, batch.Messages)
	if err != nil {
		return 0, err
	}
	doc = o.resolver.Resolve(ctx, doc)
	// Lookups cut short by cancellation leave keys unresolved.
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// A started commit runs to completion.
	commitCtx := context.WithoutCancel(ctx)
	for attempt := 0; ; attempt++ {
		base, parentID, err := o.writer.Latest(commitCtx)
		if err != nil {
			return 0, err
		}
		merged := knowledge.Merge(base, doc)

		snapshot, err := o.writer.Commit(commitCtx, parentID, merged, batch)
		if errors.Is(err, database.ErrSnapshotConflict) {
			if attempt < o.cfg.MergeConflictRetries {
				log.DebugContext(ctx, "Snapshot moved during merge, merging again", "parent_id", parentID, "attempt", attempt+1)
				continue
			}
			return 0, apperrors.NewPersistenceFailure(
				fmt.Sprintf("snapshot kept moving after %d merges", attempt+1), err)
		}
		if err != nil {
			return 0, err
		}
		return snapshot.ID, nil
	}
}
