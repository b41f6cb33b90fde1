package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaundiverse/fear-investigator/internal/types"
)

func testEvent() *types.Event {
	return &types.Event{
		Kind: types.EventText,
		Sender: types.Sender{
			ID: 1001, FirstName: "Ada", LastName: "L", Username: "ada", Locale: "en",
		},
		Chat:      types.Chat{ID: 1001, Type: "private"},
		MessageID: 77,
		SentAt:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Text:      "I fear public speaking",
	}
}

func TestNewRecord(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	rec := NewRecord(testEvent(), "Why?", now)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, int64(1001), rec.UserID)
	assert.Equal(t, "ada", rec.Username)
	assert.Equal(t, "en", rec.Locale)
	assert.Equal(t, 77, rec.MessageID)
	assert.Equal(t, int64(1001), rec.ChatID)
	assert.Equal(t, "private", rec.ChatType)
	assert.Equal(t, "I fear public speaking", rec.UserText)
	assert.Equal(t, "Why?", rec.BotReply)
	assert.True(t, rec.LoggedAt.Equal(now))

	other := NewRecord(testEvent(), "Why?", now)
	assert.NotEqual(t, rec.ID, other.ID)
}

func TestSQLiteSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.db")
	sink, err := NewSQLiteSink(path)
	require.NoError(t, err)

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, reply := range []string{"first", "second", "third"} {
		require.NoError(t, sink.Append(ctx, NewRecord(testEvent(), reply, base.Add(time.Duration(i)*time.Second))))
	}

	recs, err := sink.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "third", recs[0].BotReply)
	assert.Equal(t, "second", recs[1].BotReply)
	assert.Equal(t, "I fear public speaking", recs[0].UserText)
	assert.True(t, recs[0].MessageAt.Equal(testEvent().SentAt))
	require.NoError(t, sink.Close())

	// reopening runs no migration and keeps the rows
	sink, err = NewSQLiteSink(path)
	require.NoError(t, err)
	defer sink.Close()
	recs, err = sink.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestJSONLSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewJSONLSink(path)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, sink.Append(ctx, NewRecord(testEvent(), "one", now)))
	require.NoError(t, sink.Append(ctx, NewRecord(testEvent(), "two", now)))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var replies []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var fields map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &fields))
		assert.Equal(t, "ada", fields["username"])
		assert.Contains(t, fields, "language_code")
		assert.Contains(t, fields, "chat_title")
		replies = append(replies, fields["bot_response"].(string))
	}
	assert.Equal(t, []string{"one", "two"}, replies)
}

func TestOpen(t *testing.T) {
	sink, err := Open("none", "")
	require.NoError(t, err)
	assert.IsType(t, NopSink{}, sink)

	sink, err = Open("jsonl", filepath.Join(t.TempDir(), "a.jsonl"))
	require.NoError(t, err)
	assert.NoError(t, sink.Close())

	_, err = Open("sheets", "")
	assert.Error(t, err)
}

type failingSink struct{}

func (failingSink) Append(context.Context, Record) error { return errors.New("disk full") }
func (failingSink) Close() error                         { return nil }

type memorySink struct {
	mu      sync.Mutex
	records []Record
	closed  bool
}

func (m *memorySink) Append(_ context.Context, rec Record) error {
	time.Sleep(5 * time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestLoggerSwallowsFailures(t *testing.T) {
	l := NewLogger(failingSink{})
	l.Append(NewRecord(testEvent(), "x", time.Now()))
	l.Append(NewRecord(testEvent(), "y", time.Now()))
	require.NoError(t, l.Close())

	assert.Equal(t, int64(2), l.Failed())
	assert.Equal(t, int64(0), l.Written())
}

func TestLoggerCloseDrains(t *testing.T) {
	sink := &memorySink{}
	l := NewLogger(sink)
	for i := 0; i < 10; i++ {
		l.Append(NewRecord(testEvent(), "r", time.Now()))
	}
	require.NoError(t, l.Close())

	assert.Len(t, sink.records, 10)
	assert.True(t, sink.closed)
	assert.Equal(t, int64(10), l.Written())

	l.Append(NewRecord(testEvent(), "late", time.Now()))
	assert.NoError(t, l.Close())
	assert.Len(t, sink.records, 10)
}

func TestAuditLogErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := error(&AuditLogError{RecordID: "r1", Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "r1")
}
