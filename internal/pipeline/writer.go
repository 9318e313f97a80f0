package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/edgard/bizcircle/internal/database"
	apperrors "github.com/edgard/bizcircle/internal/errors"
	"github.com/edgard/bizcircle/internal/knowledge"
)

// SnapshotStore is the part of the store the writer and orchestrator use
// for snapshots and cursors.
type SnapshotStore interface {
	GetLatestSnapshot(ctx context.Context) (*database.Snapshot, error)
	AppendSnapshot(ctx context.Context, snapshot *database.Snapshot) error
	GetLatestCursor(ctx context.Context, groupID string) (*database.SyncCursor, error)
	InsertCursor(ctx context.Context, cursor *database.SyncCursor) error
}

// Writer persists merged knowledge bases and advances cursors.
type Writer struct {
	store SnapshotStore
	log   *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(store SnapshotStore, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{
		store: store,
		log:   log.With("component", "snapshot_writer"),
	}
}

// Commit appends kb as a snapshot on top of parentID covering the batch's
// time range, then moves the group's cursor to the batch's last timestamp.
// The cursor is only written once the snapshot is stored. A stale parent
// yields an error wrapping database.ErrSnapshotConflict.
func (w *Writer) Commit(ctx context.Context, parentID int64, kb *knowledge.Document, batch Batch) (*database.Snapshot, error) {
	if len(batch.Messages) == 0 {
		return nil, fmt.Errorf("cannot commit an empty batch")
	}

	data, err := kb.Encode()
	if err != nil {
		return nil, apperrors.NewPersistenceFailure("failed to encode knowledge base", err)
	}

	snapshot := &database.Snapshot{
		ParentID:            parentID,
		AnalysisData:        string(data),
		AnalysisPeriodStart: batch.Start(),
		AnalysisPeriodEnd:   batch.End(),
	}
	if err := w.store.AppendSnapshot(ctx, snapshot); err != nil {
		if errors.Is(err, database.ErrSnapshotConflict) {
			return nil, fmt.Errorf("append on parent %d: %w", parentID, err)
		}
		return nil, apperrors.NewPersistenceFailure("failed to append snapshot", err)
	}

	cursor := &database.SyncCursor{
		GroupID:           batch.GroupID,
		LastSyncTimestamp: batch.End(),
	}
	if err := w.store.InsertCursor(ctx, cursor); err != nil {
		w.log.WarnContext(ctx, "Snapshot stored but cursor not advanced, batch will be merged again on the next run",
			"group_id", batch.GroupID,
			"snapshot_id", snapshot.ID,
			"batch_end", batch.End(),
			"error", err)
		return snapshot, apperrors.NewPersistenceFailure(
			fmt.Sprintf("snapshot %d stored but cursor for group %s not advanced", snapshot.ID, batch.GroupID), err)
	}

	w.log.InfoContext(ctx, "Batch committed",
		"group_id", batch.GroupID,
		"snapshot_id", snapshot.ID,
		"parent_id", parentID,
		"cursor", cursor.LastSyncTimestamp)
	return snapshot, nil
}

// Latest returns the newest persisted knowledge base and its snapshot id.
// An empty store yields an empty document and id 0.
func (w *Writer) Latest(ctx context.Context) (*knowledge.Document, int64, error) {
	snapshot, err := w.store.GetLatestSnapshot(ctx)
	if err != nil {
		return nil, 0, apperrors.NewPersistenceFailure("failed to read latest snapshot", err)
	}
	if snapshot == nil {
		return knowledge.NewDocument(), 0, nil
	}
	kb, err := knowledge.Decode([]byte(snapshot.AnalysisData))
	if err != nil {
		return nil, 0, apperrors.NewPersistenceFailure(fmt.Sprintf("snapshot %d is unreadable", snapshot.ID), err)
	}
	return kb, snapshot.ID, nil
}
