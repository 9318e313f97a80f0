// Package extractor turns a batch of chat messages into a knowledge document
// by calling a generative extraction service.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/edgard/bizcircle/internal/database"
	apperrors "github.com/edgard/bizcircle/internal/errors"
	"github.com/edgard/bizcircle/internal/knowledge"
)

// TimestampLayout is the ISO-8601 form used for transcript lines and entry keys.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Service is a generative text service that answers with a JSON document.
type Service interface {
	Generate(ctx context.Context, systemInstruction, prompt string) (string, error)
}

// Adapter formats batches as transcripts and parses the service's answer.
type Adapter struct {
	service Service
	log     *slog.Logger
}

// NewAdapter creates an Adapter using service.
func NewAdapter(service Service, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		service: service,
		log:     log.With("component", "extractor"),
	}
}

// Extract sends the valid messages of a batch to the extraction service and
// returns the decoded document. It fails with an EmptyBatch error when no
// message survives validation, an ExtractionService error when the service
// call fails and a MalformedExtraction error when the answer is not a
// structurally valid document.
func (a *Adapter) Extract(ctx context.Context, messages []database.Message) (*knowledge.Document, error) {
	transcript, kept := FormatTranscript(messages)
	if kept == 0 {
		return nil, apperrors.NewEmptyBatch(fmt.Sprintf("no valid messages in batch of %d", len(messages)))
	}
	if dropped := len(messages) - kept; dropped > 0 {
		a.log.DebugContext(ctx, "Dropped invalid messages", "dropped", dropped, "kept", kept)
	}

	start := time.Now()
	raw, err := a.service.Generate(ctx, SystemInstruction, UserPrompt(transcript))
	if err != nil {
		return nil, apperrors.NewExtractionService("extraction request failed", err)
	}

	doc, err := knowledge.Decode([]byte(raw))
	if err != nil {
		a.log.WarnContext(ctx, "Extraction response rejected", "error", err, "response_bytes", len(raw))
		return nil, err
	}

	a.log.InfoContext(ctx, "Batch extracted",
		"messages", kept,
		"categories", doc.Len(),
		"businesses", doc.BusinessCount(),
		"duration", time.Since(start))
	return doc, nil
}

// FormatTranscript serializes the valid messages one per line, keeping their
// order, and reports how many were kept.
func FormatTranscript(messages []database.Message) (string, int) {
	var sb strings.Builder
	kept := 0
	for _, m := range messages {
		if !validMessage(m) {
			continue
		}
		if kept > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(FormatLine(m))
		kept++
	}
	return sb.String(), kept
}

// FormatLine renders one message as "<timestamp>, <user_id>: <content>".
func FormatLine(m database.Message) string {
	return m.Timestamp.UTC().Format(TimestampLayout) + ", " +
		strconv.FormatInt(m.UserID, 10) + ": " +
		strings.TrimSpace(m.Content)
}

func validMessage(m database.Message) bool {
	return !m.Timestamp.IsZero() && m.UserID != 0 && strings.TrimSpace(m.Content) != ""
}
