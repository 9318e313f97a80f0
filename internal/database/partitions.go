package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Partition tables are named msgtable_<n>, numbered from 1.
const partitionPrefix = "msgtable_"

var partitionNameRe = regexp.MustCompile(`^msgtable_(\d+)$`)

// validPartition guards every table name that is interpolated into SQL.
func validPartition(name string) (int, error) {
	m := partitionNameRe.FindStringSubmatch(name)
	if m == nil {
		return 0, fmt.Errorf("invalid partition name %q", name)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid partition name %q: %w", name, err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func (s *sqlxStore) ListPartitions(ctx context.Context) ([]Partition, error) {
	return s.listPartitions(ctx, s.db)
}

func (s *sqlxStore) listPartitions(ctx context.Context, q sqlx.QueryerContext) ([]Partition, error) {
	var parts []Partition
	err := sqlx.SelectContext(ctx, q, &parts, `
        SELECT table_name, start_date, created_at
        FROM message_partitions
        ORDER BY start_date ASC, table_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list message partitions: %w", err)
	}
	return parts, nil
}

func (s *sqlxStore) ResolvePartition(ctx context.Context, ts time.Time) (*Partition, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var p Partition
	err := s.db.GetContext(ctx, &p, s.db.Rebind(`
        SELECT table_name, start_date, created_at
        FROM message_partitions
        WHERE start_date <= ?
        ORDER BY start_date DESC
        LIMIT 1`), ts.UTC())
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: %s", ErrNoPartition, ts.UTC().Format(time.RFC3339Nano))
	case err != nil:
		return nil, fmt.Errorf("failed to resolve partition for %s: %w", ts.UTC().Format(time.RFC3339Nano), err)
	}
	return &p, nil
}

func (s *sqlxStore) NextPartition(ctx context.Context, p *Partition) (*Partition, error) {
	if p == nil {
		return nil, fmt.Errorf("partition cannot be nil")
	}
	var next Partition
	err := s.db.GetContext(ctx, &next, s.db.Rebind(`
        SELECT table_name, start_date, created_at
        FROM message_partitions
        WHERE start_date > ?
        ORDER BY start_date ASC
        LIMIT 1`), p.StartDate.UTC())
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to find partition after %s: %w", p.TableName, err)
	}
	return &next, nil
}

// SaveMessage inserts a message into the partition covering its timestamp.
func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.GroupID == "" {
		return fmt.Errorf("message must have a non-empty group_id")
	}
	if message.UserID == 0 {
		return fmt.Errorf("message must have a non-zero user_id")
	}
	if strings.TrimSpace(message.Content) == "" {
		return fmt.Errorf("message must have non-empty content")
	}
	if message.Timestamp.IsZero() {
		return fmt.Errorf("message must have a non-zero timestamp")
	}
	message.Timestamp = message.Timestamp.UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving message",
			"group_id", message.GroupID, "user_id", message.UserID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { s.rollback(ctx, tx) }()

	parts, err := s.listPartitions(ctx, tx)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return ErrNoPartition
	}

	newest := parts[len(parts)-1]
	if message.Timestamp.Sub(newest.StartDate) > s.partitionSpan {
		created, err := s.createPartition(ctx, tx, parts, message.Timestamp)
		if err != nil {
			return err
		}
		parts = append(parts, *created)
	}

	target := ""
	for _, p := range parts {
		if !p.StartDate.After(message.Timestamp) {
			target = p.TableName
		}
	}
	if target == "" {
		return fmt.Errorf("%w: %s", ErrNoPartition, message.Timestamp.Format(time.RFC3339Nano))
	}
	if _, err := validPartition(target); err != nil {
		return err
	}

	query := `INSERT INTO ` + target + ` (group_id, user_id, content, timestamp)
        VALUES (:group_id, :user_id, :content, :timestamp)`
	query, args, err := sqlx.Named(query, message)
	if err != nil {
		return fmt.Errorf("failed to bind message insert: %w", err)
	}
	err = tx.GetContext(ctx, &message.ID, tx.Rebind(query+` RETURNING id`), args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message",
			"group_id", message.GroupID, "user_id", message.UserID, "partition", target, "error", err)
		return fmt.Errorf("failed to save message (group %s, user %d): %w", message.GroupID, message.UserID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"group_id", message.GroupID, "user_id", message.UserID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Message saved successfully",
		"group_id", message.GroupID, "message_id", message.ID, "partition", target)
	return nil
}

// createPartition opens the next numbered partition starting at start.
func (s *sqlxStore) createPartition(ctx context.Context, tx *sqlx.Tx, existing []Partition, start time.Time) (*Partition, error) {
	highest := 0
	for _, p := range existing {
		n, err := validPartition(p.TableName)
		if err != nil {
			return nil, err
		}
		if n > highest {
			highest = n
		}
	}
	name := partitionPrefix + strconv.Itoa(highest+1)

	for _, stmt := range s.partitionDDL(name) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create partition %s: %w", name, err)
		}
	}

	p := &Partition{TableName: name, StartDate: start.UTC(), CreatedAt: time.Now().UTC()}
	_, err := tx.NamedExecContext(ctx, `
        INSERT INTO message_partitions (table_name, start_date, created_at)
        VALUES (:table_name, :start_date, :created_at)`, p)
	if err != nil {
		return nil, fmt.Errorf("failed to register partition %s: %w", name, err)
	}

	s.logger.InfoContext(ctx, "Opened new message partition", "partition", name, "start_date", p.StartDate)
	return p, nil
}

func (s *sqlxStore) partitionDDL(name string) []string {
	idType, userType, tsType := "INTEGER PRIMARY KEY AUTOINCREMENT", "INTEGER", "DATETIME"
	if s.dialect == DriverPostgres {
		idType, userType, tsType = "BIGSERIAL PRIMARY KEY", "BIGINT", "TIMESTAMPTZ"
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            id %s,
            group_id TEXT NOT NULL,
            user_id %s NOT NULL REFERENCES users(id),
            content TEXT NOT NULL,
            timestamp %s NOT NULL
        )`, name, idType, userType, tsType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_group_ts ON %s (group_id, timestamp)`, name, name),
	}
}

func (s *sqlxStore) GetMessagesAfter(ctx context.Context, partition, groupID string, after time.Time, limit int) ([]Message, error) {
	if _, err := validPartition(partition); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var messages []Message
	query := s.db.Rebind(`
        SELECT id, group_id, user_id, content, timestamp
        FROM ` + partition + `
        WHERE group_id = ? AND timestamp > ?
        ORDER BY timestamp ASC, id ASC
        LIMIT ?`)
	err := s.db.SelectContext(ctx, &messages, query, groupID, after.UTC(), limit)
	switch {
	case isContextErr(err):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching messages",
			"group_id", groupID, "partition", partition, "error", err)
		return nil, err
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting messages", "group_id", groupID, "partition", partition, "error", err)
		return nil, fmt.Errorf("failed to get messages for group %s from %s: %w", groupID, partition, err)
	}

	s.logger.DebugContext(ctx, "Fetched messages", "group_id", groupID, "partition", partition, "count", len(messages))
	return messages, nil
}

func (s *sqlxStore) GetMessagesAt(ctx context.Context, partition, groupID string, at time.Time, afterID int64) ([]Message, error) {
	if _, err := validPartition(partition); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var messages []Message
	query := s.db.Rebind(`
        SELECT id, group_id, user_id, content, timestamp
        FROM ` + partition + `
        WHERE group_id = ? AND timestamp = ? AND id > ?
        ORDER BY id ASC`)
	if err := s.db.SelectContext(ctx, &messages, query, groupID, at.UTC(), afterID); err != nil {
		if isContextErr(err) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Error getting messages at timestamp", "group_id", groupID, "partition", partition, "error", err)
		return nil, fmt.Errorf("failed to get messages for group %s at %s from %s: %w",
			groupID, at.UTC().Format(time.RFC3339Nano), partition, err)
	}
	return messages, nil
}

func (s *sqlxStore) ListGroups(ctx context.Context) ([]string, error) {
	parts, err := s.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, p := range parts {
		if _, err := validPartition(p.TableName); err != nil {
			return nil, err
		}
		var groups []string
		if err := s.db.SelectContext(ctx, &groups, `SELECT DISTINCT group_id FROM `+p.TableName); err != nil {
			return nil, fmt.Errorf("failed to list groups in %s: %w", p.TableName, err)
		}
		for _, g := range groups {
			seen[g] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}
