// Package audit keeps a long-term record of every completed exchange.
// Appends happen in the background and their failures never reach users.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kaundiverse/fear-investigator/internal/types"
)

// Record is one completed exchange.
type Record struct {
	ID        string    `json:"record_id"`
	UserID    int64     `json:"id"`
	IsBot     bool      `json:"is_bot"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Username  string    `json:"username"`
	Locale    string    `json:"language_code"`
	MessageID int       `json:"message_id"`
	MessageAt time.Time `json:"date"`
	ChatID    int64     `json:"chat_id"`
	ChatType  string    `json:"chat_type"`
	ChatTitle string    `json:"chat_title"`
	UserText  string    `json:"text"`
	BotReply  string    `json:"bot_response"`
	LoggedAt  time.Time `json:"logged_at"`
}

// NewRecord builds the record for ev answered with botReply.
func NewRecord(ev *types.Event, botReply string, now time.Time) Record {
	return Record{
		ID:        uuid.NewString(),
		UserID:    ev.Sender.ID,
		IsBot:     ev.Sender.IsBot,
		FirstName: ev.Sender.FirstName,
		LastName:  ev.Sender.LastName,
		Username:  ev.Sender.Username,
		Locale:    ev.Sender.Locale,
		MessageID: ev.MessageID,
		MessageAt: ev.SentAt.UTC(),
		ChatID:    ev.Chat.ID,
		ChatType:  ev.Chat.Type,
		ChatTitle: ev.Chat.Title,
		UserText:  ev.Text,
		BotReply:  botReply,
		LoggedAt:  now.UTC(),
	}
}

// Sink stores records.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

// AuditLogError wraps a failed append.
type AuditLogError struct {
	RecordID string
	Err      error
}

func (e *AuditLogError) Error() string {
	return fmt.Sprintf("audit append %s failed: %v", e.RecordID, e.Err)
}

func (e *AuditLogError) Unwrap() error { return e.Err }

// NopSink discards records.
type NopSink struct{}

func (NopSink) Append(context.Context, Record) error { return nil }
func (NopSink) Close() error                         { return nil }

// Open creates the sink named kind ("sqlite", "jsonl" or "none").
func Open(kind, path string) (Sink, error) {
	switch kind {
	case "sqlite":
		return NewSQLiteSink(path)
	case "jsonl":
		return NewJSONLSink(path)
	case "none", "":
		return NopSink{}, nil
	default:
		return nil, fmt.Errorf("unknown audit sink %q", kind)
	}
}
