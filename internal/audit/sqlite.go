package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/kaundiverse/fear-investigator/internal/logging"
)

const currentSchemaVersion = 1

// Fixed-width so that timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteSink stores records in a SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (creating if needed) the database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		L_warn("audit: failed to enable WAL mode", "error", err)
	}

	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit migration failed: %w", err)
	}

	L_info("audit: sqlite sink opened", "path", path)
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	var version int
	if err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version); err != nil {
		version = 0
	}
	if version >= currentSchemaVersion {
		return nil
	}

	migrations := []func(*sql.DB) error{migrateV1}
	for i := version; i < len(migrations); i++ {
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d failed: %w", i+1, err)
		}
		L_debug("audit: applied migration", "version", i+1)
	}
	return nil
}

func migrateV1(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);
	INSERT INTO schema_version (version, applied_at) VALUES (1, ?);

	CREATE TABLE IF NOT EXISTS exchanges (
		record_id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		is_bot INTEGER NOT NULL DEFAULT 0,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		locale TEXT NOT NULL DEFAULT '',
		message_id INTEGER NOT NULL,
		message_at TEXT NOT NULL,
		chat_id INTEGER NOT NULL,
		chat_type TEXT NOT NULL DEFAULT '',
		chat_title TEXT NOT NULL DEFAULT '',
		user_text TEXT NOT NULL,
		bot_reply TEXT NOT NULL,
		logged_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_exchanges_user ON exchanges(user_id, logged_at);
	`
	_, err := db.Exec(schema, time.Now().Unix())
	return err
}

// Append inserts rec.
func (s *SQLiteSink) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (
			record_id, user_id, is_bot, first_name, last_name, username, locale,
			message_id, message_at, chat_id, chat_type, chat_title,
			user_text, bot_reply, logged_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.IsBot, rec.FirstName, rec.LastName, rec.Username, rec.Locale,
		rec.MessageID, rec.MessageAt.UTC().Format(timeLayout), rec.ChatID, rec.ChatType, rec.ChatTitle,
		rec.UserText, rec.BotReply, rec.LoggedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert exchange: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, user_id, is_bot, first_name, last_name, username, locale,
			message_id, message_at, chat_id, chat_type, chat_title,
			user_text, bot_reply, logged_at
		FROM exchanges ORDER BY logged_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec                 Record
			messageAt, loggedAt string
		)
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.IsBot, &rec.FirstName, &rec.LastName, &rec.Username, &rec.Locale,
			&rec.MessageID, &messageAt, &rec.ChatID, &rec.ChatType, &rec.ChatTitle,
			&rec.UserText, &rec.BotReply, &loggedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		rec.MessageAt, _ = time.Parse(timeLayout, messageAt)
		rec.LoggedAt, _ = time.Parse(timeLayout, loggedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
