package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrNoPartition is returned when no message partition covers a timestamp.
	ErrNoPartition = errors.New("no message partition covers timestamp")
	// ErrSnapshotConflict is returned when a snapshot was appended against a
	// parent that is no longer the latest snapshot.
	ErrSnapshotConflict = errors.New("snapshot parent is not the latest snapshot")
	// ErrCursorRegression is returned when a cursor would move backwards.
	ErrCursorRegression = errors.New("sync cursor cannot move backwards")
)

// DefaultPartitionSpan is how far past a partition's start a message may be
// before a new partition is opened.
const DefaultPartitionSpan = 90 * 24 * time.Hour

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetUserByID retrieves a user. Returns nil, nil if not found.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetOrCreateUser returns the user with phone, creating it if needed.
	// A missing name on an existing user is backfilled from name.
	GetOrCreateUser(ctx context.Context, phone, name string) (*User, error)

	// UpsertUsers inserts users, skipping phone numbers that already exist.
	// Returns the number of users inserted.
	UpsertUsers(ctx context.Context, users []User) (int, error)

	// ListPartitions returns all message partitions ordered by start date.
	ListPartitions(ctx context.Context) ([]Partition, error)

	// ResolvePartition returns the partition covering ts.
	ResolvePartition(ctx context.Context, ts time.Time) (*Partition, error)

	// NextPartition returns the partition following p, or nil, nil if p is the newest.
	NextPartition(ctx context.Context, p *Partition) (*Partition, error)

	// SaveMessage stores a message in the partition covering its timestamp,
	// opening a new partition when the message is past the newest one's span.
	SaveMessage(ctx context.Context, message *Message) error

	// GetMessagesAfter returns up to limit messages of a group from one
	// partition with timestamp strictly after the given time, oldest first.
	GetMessagesAfter(ctx context.Context, partition, groupID string, after time.Time, limit int) ([]Message, error)

	// GetMessagesAt returns the messages of a group from one partition with
	// exactly timestamp at and an id greater than afterID, in id order.
	GetMessagesAt(ctx context.Context, partition, groupID string, at time.Time, afterID int64) ([]Message, error)

	// ListGroups returns the distinct group ids across all partitions.
	ListGroups(ctx context.Context) ([]string, error)

	// GetLatestSnapshot returns the newest snapshot. Returns nil, nil if none exists.
	GetLatestSnapshot(ctx context.Context) (*Snapshot, error)

	// AppendSnapshot inserts a snapshot whose ParentID must be the latest snapshot id
	// (0 when there is none). Returns ErrSnapshotConflict otherwise.
	AppendSnapshot(ctx context.Context, snapshot *Snapshot) error

	// GetLatestCursor returns the current cursor of a group. Returns nil, nil if none exists.
	GetLatestCursor(ctx context.Context, groupID string) (*SyncCursor, error)

	// InsertCursor appends a cursor row. Returns ErrCursorRegression if it
	// is older than the group's current cursor.
	InsertCursor(ctx context.Context, cursor *SyncCursor) error

	// ListCursors returns the current cursor of every group.
	ListCursors(ctx context.Context) ([]SyncCursor, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db            *sqlx.DB
	logger        *slog.Logger
	dialect       string
	partitionSpan time.Duration
}

// NewStore creates a new Store implementation backed by sqlx.
// A non-positive partitionSpan selects DefaultPartitionSpan.
func NewStore(db *sqlx.DB, logger *slog.Logger, partitionSpan time.Duration) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if partitionSpan <= 0 {
		partitionSpan = DefaultPartitionSpan
	}
	dialect := DriverSQLite
	if db.DriverName() == DriverPostgres {
		dialect = DriverPostgres
	}
	return &sqlxStore{
		db:            db,
		logger:        logger.With("component", "store"),
		dialect:       dialect,
		partitionSpan: partitionSpan,
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// rollback is deferred by every transactional method; it is a no-op once
// the transaction has been committed and the pointer cleared.
func (s *sqlxStore) rollback(ctx context.Context, tx *sqlx.Tx) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.WarnContext(ctx, "Error rolling back transaction", "error", err)
	}
}

// --- Users ---

func (s *sqlxStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	if id == 0 {
		return nil, fmt.Errorf("user id cannot be zero")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var user User
	err := s.db.GetContext(ctx, &user,
		s.db.Rebind(`SELECT id, phone_number, name, created_at FROM users WHERE id = ?`), id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No user found", "user_id", id)
		return nil, nil
	case isContextErr(err):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching user", "user_id", id, "error", err)
		return nil, err
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user by ID", "user_id", id, "error", err)
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &user, nil
}

func (s *sqlxStore) GetOrCreateUser(ctx context.Context, phone, name string) (*User, error) {
	phone = strings.TrimSpace(phone)
	name = strings.TrimSpace(name)
	if phone == "" {
		return nil, fmt.Errorf("phone number cannot be empty")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { s.rollback(ctx, tx) }()

	var user User
	err = tx.GetContext(ctx, &user,
		tx.Rebind(`SELECT id, phone_number, name, created_at FROM users WHERE phone_number = ?`), phone)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		user = User{
			PhoneNumber: phone,
			Name:        sql.NullString{String: name, Valid: name != ""},
			CreatedAt:   time.Now().UTC(),
		}
		err = tx.GetContext(ctx, &user.ID,
			tx.Rebind(`INSERT INTO users (phone_number, name, created_at) VALUES (?, ?, ?) RETURNING id`),
			user.PhoneNumber, user.Name, user.CreatedAt)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error creating user", "phone_number", phone, "error", err)
			return nil, fmt.Errorf("failed to create user %s: %w", phone, err)
		}
		s.logger.DebugContext(ctx, "Created user", "user_id", user.ID)
	case err != nil:
		return nil, fmt.Errorf("failed to look up user %s: %w", phone, err)
	case !user.Name.Valid && name != "":
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE users SET name = ? WHERE id = ?`), name, user.ID); err != nil {
			return nil, fmt.Errorf("failed to backfill name for user %d: %w", user.ID, err)
		}
		user.Name = sql.NullString{String: name, Valid: true}
		s.logger.DebugContext(ctx, "Backfilled user name", "user_id", user.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil
	return &user, nil
}

func (s *sqlxStore) UpsertUsers(ctx context.Context, users []User) (int, error) {
	if len(users) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { s.rollback(ctx, tx) }()

	now := time.Now().UTC()
	query := `
        INSERT INTO users (phone_number, name, created_at)
        VALUES (:phone_number, :name, :created_at)
        ON CONFLICT (phone_number) DO NOTHING;
    `
	inserted := 0
	for i := range users {
		u := users[i]
		u.PhoneNumber = strings.TrimSpace(u.PhoneNumber)
		if u.PhoneNumber == "" {
			continue
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		result, err := tx.NamedExecContext(ctx, query, &u)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error upserting user", "phone_number", u.PhoneNumber, "error", err)
			return 0, fmt.Errorf("failed to upsert user %s: %w", u.PhoneNumber, err)
		}
		if affected, err := result.RowsAffected(); err == nil {
			inserted += int(affected)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Upserted users", "requested", len(users), "inserted", inserted)
	return inserted, nil
}

// --- Snapshots ---

func (s *sqlxStore) GetLatestSnapshot(ctx context.Context) (*Snapshot, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var snap Snapshot
	err := s.db.GetContext(ctx, &snap, `
        SELECT id, parent_id, analysis_data, analysis_period_start, analysis_period_end, created_at
        FROM business_analysis
        ORDER BY id DESC
        LIMIT 1`)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case isContextErr(err):
		return nil, err
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting latest snapshot", "error", err)
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return &snap, nil
}

func (s *sqlxStore) AppendSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("cannot save nil snapshot")
	}
	if snapshot.AnalysisData == "" {
		return fmt.Errorf("snapshot must have analysis data")
	}

	snapshot.AnalysisPeriodStart = snapshot.AnalysisPeriodStart.UTC()
	snapshot.AnalysisPeriodEnd = snapshot.AnalysisPeriodEnd.UTC()
	snapshot.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { s.rollback(ctx, tx) }()

	var latest int64
	if err := tx.GetContext(ctx, &latest, `SELECT COALESCE(MAX(id), 0) FROM business_analysis`); err != nil {
		return fmt.Errorf("failed to read latest snapshot id: %w", err)
	}
	if latest != snapshot.ParentID {
		s.logger.DebugContext(ctx, "Snapshot parent is stale", "parent_id", snapshot.ParentID, "latest_id", latest)
		return ErrSnapshotConflict
	}

	err = tx.GetContext(ctx, &snapshot.ID, tx.Rebind(`
        INSERT INTO business_analysis (parent_id, analysis_data, analysis_period_start, analysis_period_end, created_at)
        VALUES (?, ?, ?, ?, ?)
        RETURNING id`),
		snapshot.ParentID, snapshot.AnalysisData, snapshot.AnalysisPeriodStart, snapshot.AnalysisPeriodEnd, snapshot.CreatedAt)
	if err != nil {
		// parent_id is unique, so a concurrent append against the same parent lands here.
		if isUniqueViolation(err) {
			return ErrSnapshotConflict
		}
		s.logger.ErrorContext(ctx, "Error saving snapshot", "parent_id", snapshot.ParentID, "error", err)
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ErrSnapshotConflict
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Snapshot saved", "snapshot_id", snapshot.ID, "parent_id", snapshot.ParentID)
	return nil
}

// --- Cursors ---

func (s *sqlxStore) GetLatestCursor(ctx context.Context, groupID string) (*SyncCursor, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return s.latestCursor(ctx, s.db, groupID)
}

func (s *sqlxStore) latestCursor(ctx context.Context, q sqlx.QueryerContext, groupID string) (*SyncCursor, error) {
	var cursor SyncCursor
	err := sqlx.GetContext(ctx, q, &cursor, s.db.Rebind(`
        SELECT id, group_id, last_sync_timestamp, created_at
        FROM message_sync_status
        WHERE group_id = ?
        ORDER BY id DESC
        LIMIT 1`), groupID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get cursor for group %s: %w", groupID, err)
	}
	return &cursor, nil
}

func (s *sqlxStore) InsertCursor(ctx context.Context, cursor *SyncCursor) error {
	if cursor == nil {
		return fmt.Errorf("cannot save nil cursor")
	}
	if cursor.GroupID == "" {
		return fmt.Errorf("cursor must have a group id")
	}
	cursor.LastSyncTimestamp = cursor.LastSyncTimestamp.UTC()
	cursor.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { s.rollback(ctx, tx) }()

	current, err := s.latestCursor(ctx, tx, cursor.GroupID)
	if err != nil {
		return err
	}
	if current != nil && cursor.LastSyncTimestamp.Before(current.LastSyncTimestamp) {
		return fmt.Errorf("%w: group %s at %s, got %s", ErrCursorRegression, cursor.GroupID,
			current.LastSyncTimestamp.Format(time.RFC3339Nano), cursor.LastSyncTimestamp.Format(time.RFC3339Nano))
	}

	err = tx.GetContext(ctx, &cursor.ID, tx.Rebind(`
        INSERT INTO message_sync_status (group_id, last_sync_timestamp, created_at)
        VALUES (?, ?, ?)
        RETURNING id`), cursor.GroupID, cursor.LastSyncTimestamp, cursor.CreatedAt)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving cursor", "group_id", cursor.GroupID, "error", err)
		return fmt.Errorf("failed to save cursor for group %s: %w", cursor.GroupID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil
	return nil
}

func (s *sqlxStore) ListCursors(ctx context.Context) ([]SyncCursor, error) {
	var cursors []SyncCursor
	err := s.db.SelectContext(ctx, &cursors, `
        SELECT c.id, c.group_id, c.last_sync_timestamp, c.created_at
        FROM message_sync_status c
        JOIN (SELECT group_id, MAX(id) AS id FROM message_sync_status GROUP BY group_id) latest
          ON latest.id = c.id
        ORDER BY c.group_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	return cursors, nil
}

// RunSQLMaintenance executes VACUUM, which must run outside a transaction.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")
	_, err := s.db.ExecContext(ctx, "VACUUM")

	switch {
	case isContextErr(err):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}
