package eventlog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/planact/internal/classifier"
	"github.com/iambrandonn/planact/internal/ndjson"
	"github.com/iambrandonn/planact/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readRecords(t *testing.T, path string) []Record {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	decoder := ndjson.NewDecoder(file, discardLogger())
	var records []Record
	for {
		var rec Record
		if err := decoder.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("failed to decode record: %v", err)
		}
		records = append(records, rec)
	}
	return records
}

func TestEventLogWriteRead(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "results", "task.events.ndjson")

	eventLog, err := NewEventLog(logPath, discardLogger())
	require.NoError(t, err)

	require.NoError(t, eventLog.Write(protocol.ModePlan, classifier.Event{
		ID: 1, Channel: classifier.ChannelSay, Subtype: classifier.SubtypeText, Partial: true, Text: "I will",
	}))
	require.NoError(t, eventLog.Write(protocol.ModePlan, classifier.Event{
		ID: 1, Channel: classifier.ChannelSay, Subtype: classifier.SubtypeText, Text: "I will create hello.py",
	}))
	require.NoError(t, eventLog.Write(protocol.ModeAct, classifier.Event{
		ID: 2, Channel: classifier.ChannelAsk, Subtype: classifier.SubtypeCommand, Text: "python hello.py",
	}))
	require.NoError(t, eventLog.Close())

	records := readRecords(t, logPath)
	require.Len(t, records, 3)

	assert.True(t, records[0].Partial)
	assert.Equal(t, int64(1), records[1].Ts)
	assert.Equal(t, protocol.ModePlan, records[1].Phase)
	assert.Equal(t, classifier.ChannelAsk, records[2].Channel)
	assert.Equal(t, classifier.SubtypeCommand, records[2].Subtype)
	assert.Equal(t, protocol.ModeAct, records[2].Phase)
	assert.False(t, records[2].At.IsZero())
}

func TestEventLogAppends(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "task.events.ndjson")
	evt := classifier.Event{ID: 7, Channel: classifier.ChannelSay, Subtype: classifier.SubtypeCompletionResult}

	for i := 0; i < 2; i++ {
		eventLog, err := NewEventLog(logPath, discardLogger())
		require.NoError(t, err)
		require.NoError(t, eventLog.Write(protocol.ModeAct, evt))
		require.NoError(t, eventLog.Close())
	}

	assert.Len(t, readRecords(t, logPath), 2)
}

func TestEventLogWriteAfterClose(t *testing.T) {
	eventLog, err := NewEventLog(filepath.Join(t.TempDir(), "events.ndjson"), discardLogger())
	require.NoError(t, err)

	require.NoError(t, eventLog.Close())
	require.NoError(t, eventLog.Close())

	assert.Error(t, eventLog.WriteRecord(Record{Ts: 1}))
}

func TestEventLogFilePermissions(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.ndjson")

	eventLog, err := NewEventLog(logPath, discardLogger())
	require.NoError(t, err)
	defer eventLog.Close()

	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
