package pipeline

import (
	"fmt"
	"time"
)

// BatchError is a failure while processing one batch of a group.
type BatchError struct {
	GroupID string
	Start   time.Time
	End     time.Time
	Err     error
}

func (e *BatchError) Error() string {
	if e.Start.IsZero() {
		return fmt.Sprintf("group %s: %v", e.GroupID, e.Err)
	}
	return fmt.Sprintf("group %s batch %s..%s: %v", e.GroupID,
		e.Start.UTC().Format(time.RFC3339Nano), e.End.UTC().Format(time.RFC3339Nano), e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

func newBatchError(groupID string, batch Batch, err error) *BatchError {
	return &BatchError{GroupID: groupID, Start: batch.Start(), End: batch.End(), Err: err}
}

// GroupReport summarizes the processing of one group.
type GroupReport struct {
	GroupID string
	// Batches is the number of batches committed.
	Batches int
	// Skipped is the number of batches without valid messages.
	Skipped  int
	Messages int
	// Cursor is the group's cursor when processing stopped.
	Cursor     time.Time
	SnapshotID int64
	Err        error
}

// Report summarizes a run over all groups.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Groups     []GroupReport
}

// Failed returns the reports of groups that stopped on an error.
func (r *Report) Failed() []GroupReport {
	var failed []GroupReport
	for _, g := range r.Groups {
		if g.Err != nil {
			failed = append(failed, g)
		}
	}
	return failed
}

// Committed returns the number of batches committed across groups.
func (r *Report) Committed() int {
	n := 0
	for _, g := range r.Groups {
		n += g.Batches
	}
	return n
}
