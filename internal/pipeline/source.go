// Package pipeline drives incremental knowledge extraction: it pulls message
// batches after each group's cursor, extracts and resolves them, merges the
// result into the latest snapshot and advances the cursor.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edgard/bizcircle/internal/database"
	apperrors "github.com/edgard/bizcircle/internal/errors"
)

// DefaultBatchSize is used when no batch size is configured.
const DefaultBatchSize = 500

// Batch is an ordered run of messages of one group.
type Batch struct {
	GroupID  string
	Messages []database.Message
	// Exhausted is set when no message after this batch exists yet.
	Exhausted bool
}

// Start returns the timestamp of the first message, or the zero time.
func (b Batch) Start() time.Time {
	if len(b.Messages) == 0 {
		return time.Time{}
	}
	return b.Messages[0].Timestamp
}

// End returns the timestamp of the last message, or the zero time.
func (b Batch) End() time.Time {
	if len(b.Messages) == 0 {
		return time.Time{}
	}
	return b.Messages[len(b.Messages)-1].Timestamp
}

// Source yields batches of messages after a cursor.
type Source interface {
	NextBatch(ctx context.Context, groupID string, cursor time.Time) (Batch, error)
}

// PartitionReader is the part of the store the batch source reads.
type PartitionReader interface {
	ResolvePartition(ctx context.Context, ts time.Time) (*database.Partition, error)
	NextPartition(ctx context.Context, p *database.Partition) (*database.Partition, error)
	GetMessagesAfter(ctx context.Context, partition, groupID string, after time.Time, limit int) ([]database.Message, error)
	GetMessagesAt(ctx context.Context, partition, groupID string, at time.Time, afterID int64) ([]database.Message, error)
}

// BatchSource reads batches from the partitioned message tables.
type BatchSource struct {
	store PartitionReader
	size  int
	log   *slog.Logger
}

// NewBatchSource creates a BatchSource returning at most size messages per batch.
func NewBatchSource(store PartitionReader, size int, log *slog.Logger) *BatchSource {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &BatchSource{
		store: store,
		size:  size,
		log:   log.With("component", "batch_source"),
	}
}

// NextBatch returns the messages of groupID strictly after cursor, oldest
// first. A full batch also carries every later message sharing its last
// timestamp, so it may exceed the batch size. It starts in the partition covering cursor and moves to later
// partitions while they hold nothing newer. Failing to resolve or read a
// partition is a SourceUnavailable error.
func (s *BatchSource) NextBatch(ctx context.Context, groupID string, cursor time.Time) (Batch, error) {
	batch := Batch{GroupID: groupID}

	partition, err := s.store.ResolvePartition(ctx, cursor)
	if err != nil {
		return batch, apperrors.NewSourceUnavailable(
			fmt.Sprintf("cannot resolve partition for cursor %s", cursor.UTC().Format(time.RFC3339Nano)), err)
	}

	for {
		messages, err := s.store.GetMessagesAfter(ctx, partition.TableName, groupID, cursor, s.size)
		if err != nil {
			return batch, apperrors.NewSourceUnavailable(
				fmt.Sprintf("cannot read partition %s", partition.TableName), err)
		}

		if len(messages) == s.size {
			// The cursor is a timestamp, so a full batch takes every message
			// sharing its last timestamp or the rest would be skipped.
			last := messages[len(messages)-1]
			ties, err := s.store.GetMessagesAt(ctx, partition.TableName, groupID, last.Timestamp, last.ID)
			if err != nil {
				return batch, apperrors.NewSourceUnavailable(
					fmt.Sprintf("cannot read partition %s", partition.TableName), err)
			}
			if len(ties) > 0 {
				s.log.DebugContext(ctx, "Extending batch with messages sharing its last timestamp",
					"group_id", groupID, "extra", len(ties))
			}
			batch.Messages = append(messages, ties...)
			return batch, nil
		}

		next, err := s.store.NextPartition(ctx, partition)
		if err != nil {
			return batch, apperrors.NewSourceUnavailable("cannot read partition registry", err)
		}

		if len(messages) > 0 {
			batch.Messages = messages
			batch.Exhausted = next == nil
			return batch, nil
		}
		if next == nil {
			batch.Exhausted = true
			return batch, nil
		}

		s.log.DebugContext(ctx, "Moving to next partition",
			"group_id", groupID,
			"from", partition.TableName,
			"to", next.TableName)
		partition = next
	}
}
