package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/kaundiverse/fear-investigator/internal/logging"
	. "github.com/kaundiverse/fear-investigator/internal/metrics"
)

// AppendTimeout bounds a single background append.
const AppendTimeout = 10 * time.Second

// Logger appends records to a sink off the caller's goroutine.
type Logger struct {
	sink Sink
	wg   sync.WaitGroup

	mu     sync.RWMutex // orders Append's wg.Add before Close's Wait
	closed bool

	failed  atomic.Int64
	written atomic.Int64
}

// NewLogger wraps sink. A nil sink discards records.
func NewLogger(sink Sink) *Logger {
	if sink == nil {
		sink = NopSink{}
	}
	return &Logger{sink: sink}
}

// Append stores rec in the background. Failures are logged, counted and
// otherwise dropped. Records appended after Close are dropped.
func (l *Logger) Append(rec Record) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		L_warn("audit: append after close dropped", "record", rec.ID)
		return
	}
	l.wg.Add(1)
	l.mu.RUnlock()

	go func() {
		defer l.wg.Done()
		l.append(rec)
	}()
}

func (l *Logger) append(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), AppendTimeout)
	defer cancel()

	start := time.Now()
	if err := l.sink.Append(ctx, rec); err != nil {
		l.failed.Add(1)
		MetricFail("audit", "append")
		L_error("audit: append failed", "error", &AuditLogError{RecordID: rec.ID, Err: err})
		return
	}
	l.written.Add(1)
	MetricSuccess("audit", "append")
	MetricSince("audit", "append", start)
}

// Failed returns how many appends failed.
func (l *Logger) Failed() int64 { return l.failed.Load() }

// Written returns how many appends succeeded.
func (l *Logger) Written() int64 { return l.written.Load() }

// Close waits for pending appends and closes the sink.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.wg.Wait()
	return l.sink.Close()
}
