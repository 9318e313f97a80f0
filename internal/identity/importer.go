package identity

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/edgard/bizcircle/internal/database"
	apperrors "github.com/edgard/bizcircle/internal/errors"
)

// UserImportBatchSize is the number of users written per upsert.
const UserImportBatchSize = 50

// UserStore is the persistence needed by the importers.
type UserStore interface {
	UpsertUsers(ctx context.Context, users []database.User) (int, error)
	GetOrCreateUser(ctx context.Context, phone, name string) (*database.User, error)
	SaveMessage(ctx context.Context, message *database.Message) error
}

// ImportResult summarizes an import.
type ImportResult struct {
	Rows     int
	Imported int
	Skipped  int
}

type userRow struct {
	PhoneNumber string `validate:"required,max=32"`
	Name        string `validate:"max=200"`
}

type messageRow struct {
	Timestamp   time.Time `validate:"required"`
	PhoneNumber string    `validate:"required,max=32"`
	Name        string    `validate:"max=200"`
	GroupID     string    `validate:"required"`
	Content     string    `validate:"required"`
}

// Importer loads users and messages from CSV exports.
type Importer struct {
	store    UserStore
	validate *validator.Validate
	log      *slog.Logger
}

// NewImporter creates an Importer writing to store.
func NewImporter(store UserStore, log *slog.Logger) *Importer {
	if log == nil {
		log = slog.Default()
	}
	return &Importer{
		store:    store,
		validate: validator.New(),
		log:      log.With("component", "importer"),
	}
}

// ImportUsers reads a CSV with a phone_number and an optional name column and
// inserts the users in batches, leaving existing phone numbers untouched.
func (im *Importer) ImportUsers(ctx context.Context, r io.Reader) (ImportResult, error) {
	var result ImportResult
	batch := make([]database.User, 0, UserImportBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := im.store.UpsertUsers(ctx, batch)
		if err != nil {
			return apperrors.NewPersistenceFailure(fmt.Sprintf("failed to insert batch of %d users", len(batch)), err)
		}
		result.Imported += n
		result.Skipped += len(batch) - n
		im.log.InfoContext(ctx, "Processed user batch", "users", len(batch), "inserted", n)
		batch = batch[:0]
		return nil
	}

	err := readCSV(r, []string{"phone_number"}, func(line int, get func(string) string) error {
		result.Rows++
		row := userRow{
			PhoneNumber: strings.TrimSpace(get("phone_number")),
			Name:        strings.TrimSpace(get("name")),
		}
		if err := im.validate.Struct(row); err != nil {
			im.log.WarnContext(ctx, "Skipping invalid user row", "line", line, "error", err)
			result.Skipped++
			return nil
		}
		batch = append(batch, database.User{
			PhoneNumber: row.PhoneNumber,
			Name:        sql.NullString{String: row.Name, Valid: row.Name != ""},
		})
		if len(batch) == UserImportBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	if err := flush(); err != nil {
		return result, err
	}
	return result, nil
}

// ImportMessages reads a CSV with timestamp, phone_number, group_id, content
// and an optional name column. Each sender is created on first sight, backfilling a
// missing name, and each message is stored in the partition covering its
// timestamp. Timestamps are RFC 3339 or Unix seconds.
func (im *Importer) ImportMessages(ctx context.Context, r io.Reader) (ImportResult, error) {
	var result ImportResult
	users := make(map[string]int64)

	err := readCSV(r, []string{"timestamp", "phone_number", "group_id", "content"}, func(line int, get func(string) string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.Rows++

		ts, tsErr := parseTimestamp(get("timestamp"))
		row := messageRow{
			Timestamp:   ts,
			PhoneNumber: strings.TrimSpace(get("phone_number")),
			Name:        strings.TrimSpace(get("name")),
			GroupID:     strings.TrimSpace(get("group_id")),
			Content:     strings.TrimSpace(get("content")),
		}
		if err := errors.Join(tsErr, im.validate.Struct(row)); err != nil {
			im.log.WarnContext(ctx, "Skipping invalid message row", "line", line, "error", err)
			result.Skipped++
			return nil
		}

		userID, ok := users[row.PhoneNumber]
		if !ok {
			user, err := im.store.GetOrCreateUser(ctx, row.PhoneNumber, row.Name)
			if err != nil {
				return apperrors.NewPersistenceFailure(fmt.Sprintf("failed to resolve sender on line %d", line), err)
			}
			userID = user.ID
			users[row.PhoneNumber] = userID
		}

		msg := &database.Message{
			GroupID:   row.GroupID,
			UserID:    userID,
			Content:   row.Content,
			Timestamp: row.Timestamp,
		}
		if err := im.store.SaveMessage(ctx, msg); err != nil {
			return apperrors.NewPersistenceFailure(fmt.Sprintf("failed to save message on line %d", line), err)
		}
		result.Imported++
		return nil
	})

	im.log.InfoContext(ctx, "Message import finished",
		"rows", result.Rows,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"senders", len(users))
	return result, err
}

// readCSV reads a headed CSV and calls fn for each record with an accessor
// by column name. Every name in required must appear in the header.
func readCSV(r io.Reader, required []string, fn func(line int, get func(string) string) error) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.NewValidationError("csv input is empty", nil)
		}
		return apperrors.NewValidationError("failed to read csv header", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, name := range required {
		if _, ok := columns[name]; !ok {
			return apperrors.NewValidationError(fmt.Sprintf("csv header is missing column %q", name), nil)
		}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return apperrors.NewValidationError(fmt.Sprintf("malformed csv on line %d", parseErr.Line), err)
			}
			return apperrors.NewValidationError("failed to read csv", err)
		}
		line, _ := reader.FieldPos(0)
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		get := func(name string) string {
			i, ok := columns[name]
			if !ok || i >= len(record) {
				return ""
			}
			return record[i]
		}
		if err := fn(line, get); err != nil {
			return err
		}
	}
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05Z07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
