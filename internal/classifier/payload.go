package classifier

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ToolPayload is the JSON body the engine attaches to tool messages
type ToolPayload struct {
	Tool    string `json:"tool"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
}

// IsToolCall reports whether the payload names a tool
func (p ToolPayload) IsToolCall() bool {
	return p.Tool != ""
}

// ParseToolPayload decodes a message body as a tool invocation.
// Empty text is treated as an empty object.
func ParseToolPayload(text string) (ToolPayload, error) {
	if strings.TrimSpace(text) == "" {
		text = "{}"
	}

	var p ToolPayload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return ToolPayload{}, fmt.Errorf("failed to parse tool payload: %w", err)
	}
	return p, nil
}

// Tool-name keys for messages that do not carry a "tool" field
const (
	ToolExecuteCommand = "execute_command"
	ToolUseMCPServer   = "use_mcp_server"
	ToolUnknown        = "unknown"
)

// ToolName returns the counter key for a tool-related event.
// ok is false for events that do not represent a tool invocation.
func ToolName(e Event) (name string, ok bool) {
	switch e.Subtype {
	case SubtypeTool:
		p, err := ParseToolPayload(e.Text)
		if err != nil || !p.IsToolCall() {
			return ToolUnknown, true
		}
		return p.Tool, true
	case SubtypeCommand:
		return ToolExecuteCommand, true
	case SubtypeUseMCPServer:
		return ToolUseMCPServer, true
	default:
		return "", false
	}
}

var toolFailurePattern = regexp.MustCompile(`Error executing tool: ([A-Za-z0-9_.\-]+)`)

// FailedTool extracts the tool name from a say/error event reporting a tool failure
func FailedTool(e Event) (string, bool) {
	if !e.Is(ChannelSay, SubtypeError) {
		return "", false
	}
	m := toolFailurePattern.FindStringSubmatch(e.Text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
