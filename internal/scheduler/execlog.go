package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"crashsync/internal/models"
)

// flushEvery bounds how many entries buffer before a ledger write.
const flushEvery = 20

// execLog buffers structured log lines for one execution and flushes
// them to the ledger in chunks, which keeps row churn down during
// large runs. Sequence numbers are assigned by the ledger on append.
type execLog struct {
	mu          sync.Mutex
	store       ExecutionStore
	executionID string
	logger      *zap.Logger
	pending     []models.ExecutionLogEntry
}

func newExecLog(store ExecutionStore, executionID string, logger *zap.Logger) *execLog {
	return &execLog{
		store:       store,
		executionID: executionID,
		logger:      logger,
	}
}

// Append is safe for concurrent use; endpoint tasks log from their own
// goroutines.
func (l *execLog) Append(level, message string) {
	l.mu.Lock()
	l.pending = append(l.pending, models.ExecutionLogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})
	shouldFlush := len(l.pending) >= flushEvery
	l.mu.Unlock()

	if shouldFlush {
		l.Flush()
	}
}

func (l *execLog) Flush() {
	l.mu.Lock()
	entries := l.pending
	l.pending = nil
	l.mu.Unlock()

	if len(entries) == 0 {
		return
	}
	if err := l.store.AppendLogs(l.executionID, entries); err != nil {
		l.logger.Warn("Execution log flush failed",
			zap.String("execution_id", l.executionID),
			zap.Error(err))
	}
}
