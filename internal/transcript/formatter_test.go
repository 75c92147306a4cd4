package transcript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/planact/internal/classifier"
	"github.com/iambrandonn/planact/internal/protocol"
	"github.com/iambrandonn/planact/internal/recorder"
	"github.com/iambrandonn/planact/internal/workspace"
)

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name     string
		event    classifier.Event
		expected string
	}{
		{
			name:     "plain text",
			event:    classifier.Event{Channel: classifier.ChannelSay, Subtype: classifier.SubtypeText, Text: "I will create hello.py"},
			expected: "[say:text] I will create hello.py",
		},
		{
			name:     "partial",
			event:    classifier.Event{Channel: classifier.ChannelSay, Subtype: classifier.SubtypeText, Partial: true, Text: "I will"},
			expected: "[say:text] (partial) I will",
		},
		{
			name:     "tool call",
			event:    classifier.Event{Channel: classifier.ChannelSay, Subtype: classifier.SubtypeTool, Text: `{"tool":"newFileCreated","path":"hello.py"}`},
			expected: "[say:tool] newFileCreated hello.py",
		},
		{
			name:     "tool with unparseable payload",
			event:    classifier.Event{Channel: classifier.ChannelAsk, Subtype: classifier.SubtypeTool, Text: "not json"},
			expected: "[ask:tool] not json",
		},
		{
			name:     "tool failure",
			event:    classifier.Event{Channel: classifier.ChannelSay, Subtype: classifier.SubtypeError, Text: "Error executing tool: readFile"},
			expected: "[say:error] tool failed: readFile",
		},
		{
			name:     "other error",
			event:    classifier.Event{Channel: classifier.ChannelSay, Subtype: classifier.SubtypeError, Text: "rate limited"},
			expected: "[say:error] rate limited",
		},
		{
			name:     "no text",
			event:    classifier.Event{Channel: classifier.ChannelAsk, Subtype: classifier.SubtypeResumeTask},
			expected: "[ask:resume_task]",
		},
		{
			name:     "whitespace collapsed",
			event:    classifier.Event{Channel: classifier.ChannelSay, Subtype: classifier.SubtypeCommandOutput, Text: "line one\n  line two"},
			expected: "[say:command_output] line one line two",
		},
	}

	formatter := NewFormatter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, formatter.FormatEvent(tt.event))
		})
	}
}

func TestFormatEventTruncates(t *testing.T) {
	formatter := &Formatter{MaxText: 5}
	got := formatter.FormatEvent(classifier.Event{
		Channel: classifier.ChannelSay, Subtype: classifier.SubtypeText, Text: "héllo world",
	})
	require.Equal(t, "[say:text] héllo...", got)
}

func TestFormatHeartbeat(t *testing.T) {
	formatter := NewFormatter()

	require.Equal(t, "[engine] heartbeat seq=3 uptime=1.5s",
		formatter.FormatHeartbeat(&protocol.Heartbeat{Seq: 3, UptimeS: 1.5}))
	require.Equal(t, "[engine] heartbeat seq=4 task=t-1 uptime=2.0s",
		formatter.FormatHeartbeat(&protocol.Heartbeat{Seq: 4, UptimeS: 2, TaskID: "t-1"}))
}

func TestFormatLog(t *testing.T) {
	formatter := NewFormatter()
	require.Equal(t, "[LOG:WARN] disk almost full",
		formatter.FormatLog(&protocol.Log{Level: protocol.LogLevelWarn, Message: "disk almost full"}))
}

func TestFormatSummary(t *testing.T) {
	formatter := NewFormatter()

	snap := recorder.Snapshot{
		TaskID:    "t-1",
		Completed: true,
		Files: &workspace.FileChanges{
			Created:  []string{"hello.py"},
			Modified: []string{},
			Deleted:  []string{},
		},
		Metrics: &recorder.Metrics{
			TokensIn:          1200,
			TokensOut:         340,
			Cost:              0.0123,
			Duration:          83_500,
			TotalToolCalls:    4,
			TotalToolFailures: 1,
			ToolSuccessRate:   0.75,
		},
	}

	expected := strings.Join([]string{
		"task t-1: completed",
		"files: 1 created, 0 modified, 0 deleted",
		"tokens: 1200 in, 340 out, cost $0.0123",
		"tools: 4 calls, 1 failures (75% success)",
		"duration: 1m23s",
	}, "\n")
	require.Equal(t, expected, formatter.FormatSummary(snap))
}

func TestFormatSummaryIncomplete(t *testing.T) {
	formatter := NewFormatter()
	require.Equal(t, "task t-2: incomplete", formatter.FormatSummary(recorder.Snapshot{TaskID: "t-2"}))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms       int64
		expected string
	}{
		{0, "0ms"},
		{999, "999ms"},
		{1500, "1.5s"},
		{60_000, "1m00s"},
		{3_725_000, "62m05s"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.expected, formatDuration(tt.ms))
	}
}
