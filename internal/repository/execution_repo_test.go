package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashsync/internal/models"
)

func logEntries(n int) []models.ExecutionLogEntry {
	out := make([]models.ExecutionLogEntry, n)
	for i := range out {
		out[i] = models.ExecutionLogEntry{
			Timestamp: time.Now(),
			Level:     "info",
			Message:   fmt.Sprintf("line %d", i),
		}
	}
	return out
}

func TestAppendCappedContinuesSequence(t *testing.T) {
	logs := appendCapped(nil, logEntries(3))
	require.Len(t, logs, 3)
	assert.Equal(t, 1, logs[0].Seq)
	assert.Equal(t, 3, logs[2].Seq)

	logs = appendCapped(logs, logEntries(2))
	require.Len(t, logs, 5)
	assert.Equal(t, 4, logs[3].Seq)
	assert.Equal(t, 5, logs[4].Seq)
}

func TestAppendCappedTruncatesAtLimit(t *testing.T) {
	logs := appendCapped(nil, logEntries(maxLogEntries-5))
	require.Len(t, logs, maxLogEntries-5)

	// The batch overshoots the cap: the remainder is dropped and one
	// marker entry closes the log.
	logs = appendCapped(logs, logEntries(20))
	require.Len(t, logs, maxLogEntries)
	tail := logs[len(logs)-1]
	assert.Equal(t, "warn", tail.Level)
	assert.Contains(t, tail.Message, "truncated")
	assert.Equal(t, logs[len(logs)-2].Seq+1, tail.Seq)
}

func TestAppendCappedNoopWhenFull(t *testing.T) {
	logs := appendCapped(nil, logEntries(maxLogEntries-1))
	logs = appendCapped(logs, logEntries(10))
	require.Len(t, logs, maxLogEntries)

	// Further appends never grow the array or add more markers.
	again := appendCapped(logs, logEntries(50))
	assert.Len(t, again, maxLogEntries)
	assert.Equal(t, logs[len(logs)-1].Seq, again[len(again)-1].Seq)
}

func TestDecodeLogsTolerant(t *testing.T) {
	assert.Nil(t, decodeLogs(""))
	assert.Nil(t, decodeLogs("not json"))

	logs := decodeLogs(`[{"seq":1,"level":"info","message":"started"}]`)
	require.Len(t, logs, 1)
	assert.Equal(t, "started", logs[0].Message)
}
