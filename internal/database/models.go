package database

import (
	"database/sql"
	"fmt"
	"time"
)

// User is a chat participant identified by phone number.
type User struct {
	ID          int64          `db:"id"`
	PhoneNumber string         `db:"phone_number"`
	Name        sql.NullString `db:"name"`
	CreatedAt   time.Time      `db:"created_at"`
}

// DisplayName returns the user's name, or "" when none is recorded.
func (u *User) DisplayName() string {
	if u == nil || !u.Name.Valid {
		return ""
	}
	return u.Name.String
}

// Message is one chat message stored in a time partition.
type Message struct {
	ID        int64     `db:"id"`
	GroupID   string    `db:"group_id"`
	UserID    int64     `db:"user_id"`
	Content   string    `db:"content"`
	Timestamp time.Time `db:"timestamp"`
}

// Partition is a message table covering timestamps from StartDate up to the
// StartDate of the next partition.
type Partition struct {
	TableName string    `db:"table_name"`
	StartDate time.Time `db:"start_date"`
	CreatedAt time.Time `db:"created_at"`
}

// Snapshot is one immutable version of the cumulative knowledge base.
// ParentID is the id of the snapshot it was merged against, 0 for the first.
type Snapshot struct {
	ID                  int64     `db:"id"`
	ParentID            int64     `db:"parent_id"`
	AnalysisData        string    `db:"analysis_data"`
	AnalysisPeriodStart time.Time `db:"analysis_period_start"`
	AnalysisPeriodEnd   time.Time `db:"analysis_period_end"`
	CreatedAt           time.Time `db:"created_at"`
}

// SyncCursor records how far a group has been processed.
// The latest row for a group is its current cursor.
type SyncCursor struct {
	ID                int64     `db:"id"`
	GroupID           string    `db:"group_id"`
	LastSyncTimestamp time.Time `db:"last_sync_timestamp"`
	CreatedAt         time.Time `db:"created_at"`
}

func (c SyncCursor) String() string {
	return fmt.Sprintf("%s@%s", c.GroupID, c.LastSyncTimestamp.UTC().Format(time.RFC3339Nano))
}
