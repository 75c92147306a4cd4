package transcript

import (
	"fmt"
	"strings"

	"github.com/iambrandonn/planact/internal/classifier"
	"github.com/iambrandonn/planact/internal/protocol"
	"github.com/iambrandonn/planact/internal/recorder"
)

// DefaultMaxText caps the message text shown on one line
const DefaultMaxText = 80

// Formatter renders engine traffic and run results for console output
type Formatter struct {
	MaxText int
}

// NewFormatter creates a new transcript formatter
func NewFormatter() *Formatter {
	return &Formatter{MaxText: DefaultMaxText}
}

// FormatEvent formats a classified message as one line
func (f *Formatter) FormatEvent(evt classifier.Event) string {
	label := fmt.Sprintf("[%s:%s]", evt.Channel, evt.Subtype)
	if evt.Partial {
		label += " (partial)"
	}

	var details string
	switch {
	case evt.Subtype == classifier.SubtypeTool:
		payload, err := classifier.ParseToolPayload(evt.Text)
		if err == nil && payload.IsToolCall() {
			details = payload.Tool
			if payload.Path != "" {
				details += " " + payload.Path
			}
		} else {
			details = f.truncate(evt.Text)
		}

	case evt.Subtype == classifier.SubtypeError:
		if tool, ok := classifier.FailedTool(evt); ok {
			details = "tool failed: " + tool
		} else {
			details = f.truncate(evt.Text)
		}

	default:
		details = f.truncate(evt.Text)
	}

	if details == "" {
		return label
	}
	return label + " " + details
}

// FormatHeartbeat formats a heartbeat for console display
func (f *Formatter) FormatHeartbeat(hb *protocol.Heartbeat) string {
	if hb.TaskID != "" {
		return fmt.Sprintf("[engine] heartbeat seq=%d task=%s uptime=%.1fs", hb.Seq, hb.TaskID, hb.UptimeS)
	}
	return fmt.Sprintf("[engine] heartbeat seq=%d uptime=%.1fs", hb.Seq, hb.UptimeS)
}

// FormatLog formats a log message for console display
func (f *Formatter) FormatLog(log *protocol.Log) string {
	level := strings.ToUpper(string(log.Level))
	return fmt.Sprintf("[LOG:%s] %s", level, log.Message)
}

// FormatSummary renders a result snapshot as a short multi-line report
func (f *Formatter) FormatSummary(snap recorder.Snapshot) string {
	var b strings.Builder

	status := "completed"
	if !snap.Completed {
		status = "incomplete"
	}
	fmt.Fprintf(&b, "task %s: %s\n", snap.TaskID, status)

	if snap.Files != nil {
		fmt.Fprintf(&b, "files: %d created, %d modified, %d deleted\n",
			len(snap.Files.Created), len(snap.Files.Modified), len(snap.Files.Deleted))
	}

	if m := snap.Metrics; m != nil {
		fmt.Fprintf(&b, "tokens: %d in, %d out, cost $%.4f\n", m.TokensIn, m.TokensOut, m.Cost)
		fmt.Fprintf(&b, "tools: %d calls, %d failures (%.0f%% success)\n",
			m.TotalToolCalls, m.TotalToolFailures, m.ToolSuccessRate*100)
		fmt.Fprintf(&b, "duration: %s\n", formatDuration(m.Duration))
	}

	return strings.TrimRight(b.String(), "\n")
}

func (f *Formatter) truncate(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	limit := f.MaxText
	if limit <= 0 {
		limit = DefaultMaxText
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

// formatDuration renders milliseconds in a human-readable format
func formatDuration(ms int64) string {
	const (
		second = 1000
		minute = 60 * second
	)

	switch {
	case ms >= minute:
		return fmt.Sprintf("%dm%02ds", ms/minute, (ms%minute)/second)
	case ms >= second:
		return fmt.Sprintf("%.1fs", float64(ms)/float64(second))
	default:
		return fmt.Sprintf("%dms", ms)
	}
}
