package protocol

import (
	"encoding/json"
	"time"
)

// MessageKind represents the envelope type on the engine NDJSON stream
type MessageKind string

const (
	MessageKindCommand       MessageKind = "command"
	MessageKindEvent         MessageKind = "event"
	MessageKindMessage       MessageKind = "message"
	MessageKindModelResponse MessageKind = "model_response"
	MessageKindHeartbeat     MessageKind = "heartbeat"
	MessageKindLog           MessageKind = "log"
)

// Action represents a command action sent to the engine
type Action string

const (
	// ActionClearTask aborts and forgets any in-flight task.
	ActionClearTask Action = "clear_task"
	// ActionInitTask starts a new task; the result payload carries "task_id".
	ActionInitTask Action = "init_task"
	// ActionGetMode reads the current operating mode; the result payload carries "mode".
	ActionGetMode Action = "get_mode"
	// ActionSetMode switches the operating mode.
	ActionSetMode Action = "set_mode"
	// ActionAskResponse answers the outstanding interactive ask.
	ActionAskResponse Action = "ask_response"
	// ActionUpdateAPIConfig stores credentials and provider selection.
	ActionUpdateAPIConfig Action = "update_api_config"
	// ActionUpdateAutoApproval replaces the engine's auto-approval settings.
	ActionUpdateAutoApproval Action = "update_auto_approval"
	// ActionGetTaskHistory reads the history item for a task.
	ActionGetTaskHistory Action = "get_task_history"
	// ActionGetMessages reads the persisted UI messages of a task.
	ActionGetMessages Action = "get_messages"
	// ActionGetConversation reads the persisted API conversation of a task.
	ActionGetConversation Action = "get_conversation"
)

// Command is sent from the harness to the engine
type Command struct {
	Kind      MessageKind    `json:"kind"`
	MessageID string         `json:"message_id"`
	TaskID    string         `json:"task_id,omitempty"`
	Action    Action         `json:"action"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Deadline  time.Time      `json:"deadline"`
}

// Event is sent from the engine in reply to a Command
type Event struct {
	Kind          MessageKind     `json:"kind"`
	MessageID     string          `json:"message_id"`
	CorrelationID string          `json:"correlation_id"`
	Event         string          `json:"event"`
	Error         string          `json:"error,omitempty"`
	ErrorCode     string          `json:"error_code,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Well-known command result events
const (
	EventCommandCompleted = "command.completed"
	EventCommandFailed    = "command.failed"
)

// Well-known error codes carried on EventCommandFailed
const (
	ErrorCodeNoPendingAsk = "no_pending_ask"
	ErrorCodeNoTask       = "no_task"
)

// MessageEnvelope wraps a streamed UI message
type MessageEnvelope struct {
	Kind    MessageKind `json:"kind"`
	Message Message     `json:"message"`
}

// ModelResponse is a raw request/response pair captured from the model provider
type ModelResponse struct {
	Kind     MessageKind     `json:"kind"`
	Request  json.RawMessage `json:"request,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Heartbeat is sent from the engine for liveness
type Heartbeat struct {
	Kind           MessageKind `json:"kind"`
	Seq            int64       `json:"seq"`
	PID            int         `json:"pid"`
	UptimeS        float64     `json:"uptime_s"`
	LastActivityAt time.Time   `json:"last_activity_at"`
	TaskID         string      `json:"task_id,omitempty"`
}

// LogLevel represents log severity
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Log is a diagnostic message
type Log struct {
	Kind      MessageKind    `json:"kind"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Mode is the operating mode of the driven agent
type Mode string

const (
	ModePlan Mode = "plan"
	ModeAct  Mode = "act"
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	return m == ModePlan || m == ModeAct
}

// AskResponse is the operator's answer to an interactive ask
type AskResponse string

const (
	AskResponseYes     AskResponse = "yesButtonClicked"
	AskResponseNo      AskResponse = "noButtonClicked"
	AskResponseMessage AskResponse = "messageResponse"
)

// APIConfig carries provider credentials for the engine
type APIConfig struct {
	APIProvider         string `json:"apiProvider"`
	APIKey              string `json:"apiKey"`
	PlanModeAPIProvider string `json:"planModeApiProvider"`
	ActModeAPIProvider  string `json:"actModeApiProvider"`
}

// AutoApprovalActions enumerates what the engine may do without asking
type AutoApprovalActions struct {
	ReadFiles           bool `json:"readFiles"`
	ReadFilesExternally bool `json:"readFilesExternally"`
	EditFiles           bool `json:"editFiles"`
	EditFilesExternally bool `json:"editFilesExternally"`
	ExecuteSafeCommands bool `json:"executeSafeCommands"`
	ExecuteAllCommands  bool `json:"executeAllCommands"`
	UseBrowser          bool `json:"useBrowser"`
	UseMCP              bool `json:"useMcp"`
}

// AutoApprovalSettings is the engine-side auto-approval policy
type AutoApprovalSettings struct {
	Enabled     bool                `json:"enabled"`
	Actions     AutoApprovalActions `json:"actions"`
	MaxRequests int                 `json:"maxRequests"`
}

// PermissiveAutoApproval enables every action, used when the harness drives a run
func PermissiveAutoApproval() AutoApprovalSettings {
	return AutoApprovalSettings{
		Enabled: true,
		Actions: AutoApprovalActions{
			ReadFiles:           true,
			ReadFilesExternally: true,
			EditFiles:           true,
			EditFilesExternally: true,
			ExecuteSafeCommands: true,
			ExecuteAllCommands:  true,
			UseBrowser:          true,
			UseMCP:              true,
		},
		MaxRequests: 10000,
	}
}

// HistoryItem is the engine's per-task usage record
type HistoryItem struct {
	ID        string  `json:"id"`
	Task      string  `json:"task,omitempty"`
	TokensIn  int64   `json:"tokensIn"`
	TokensOut int64   `json:"tokensOut"`
	TotalCost float64 `json:"totalCost"`
}
