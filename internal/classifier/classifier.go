// Package classifier turns raw engine messages into typed events.
//
// Classification of the message shape (channel, subtype, completeness) and
// parsing of the payload body are separate steps: a payload that is not JSON
// still yields a classified event.
package classifier

import (
	"github.com/iambrandonn/planact/internal/protocol"
)

// Channel is the direction of a message: a prompt that expects an answer, or an announcement.
type Channel string

const (
	ChannelAsk Channel = "ask"
	ChannelSay Channel = "say"
)

// Subtype names what a message is about
type Subtype string

const (
	SubtypeFollowup                  Subtype = "followup"
	SubtypePlanResponse              Subtype = "plan_mode_respond"
	SubtypeCommand                   Subtype = "command"
	SubtypeCommandOutput             Subtype = "command_output"
	SubtypeCompletionResult          Subtype = "completion_result"
	SubtypeTool                      Subtype = "tool"
	SubtypeAPIReqFailed              Subtype = "api_req_failed"
	SubtypeResumeTask                Subtype = "resume_task"
	SubtypeResumeCompletedTask       Subtype = "resume_completed_task"
	SubtypeMistakeLimitReached       Subtype = "mistake_limit_reached"
	SubtypeAutoApprovalMaxReqReached Subtype = "auto_approval_max_req_reached"
	SubtypeBrowserActionLaunch       Subtype = "browser_action_launch"
	SubtypeUseMCPServer              Subtype = "use_mcp_server"
	SubtypeNewTask                   Subtype = "new_task"
	SubtypeCondense                  Subtype = "condense"
	SubtypeReportBug                 Subtype = "report_bug"

	SubtypeTask                    Subtype = "task"
	SubtypeError                   Subtype = "error"
	SubtypeAPIReqStarted           Subtype = "api_req_started"
	SubtypeAPIReqFinished          Subtype = "api_req_finished"
	SubtypeText                    Subtype = "text"
	SubtypeReasoning               Subtype = "reasoning"
	SubtypeUserFeedback            Subtype = "user_feedback"
	SubtypeUserFeedbackDiff        Subtype = "user_feedback_diff"
	SubtypeAPIReqRetried           Subtype = "api_req_retried"
	SubtypeShellIntegrationWarning Subtype = "shell_integration_warning"
	SubtypeBrowserAction           Subtype = "browser_action"
	SubtypeBrowserActionResult     Subtype = "browser_action_result"
	SubtypeMCPServerRequestStarted Subtype = "mcp_server_request_started"
	SubtypeMCPServerResponse       Subtype = "mcp_server_response"
	SubtypeDiffError               Subtype = "diff_error"
	SubtypeDeletedAPIReqs          Subtype = "deleted_api_reqs"
	SubtypeClineignoreError        Subtype = "clineignore_error"
	SubtypeCheckpointCreated       Subtype = "checkpoint_created"
	SubtypeLoadMCPDocumentation    Subtype = "load_mcp_documentation"
	SubtypeInfo                    Subtype = "info"
)

// askSubtypes is indexed by the engine's ask code
var askSubtypes = [...]Subtype{
	protocol.AskFollowup:                  SubtypeFollowup,
	protocol.AskPlanModeRespond:           SubtypePlanResponse,
	protocol.AskCommand:                   SubtypeCommand,
	protocol.AskCommandOutput:             SubtypeCommandOutput,
	protocol.AskCompletionResult:          SubtypeCompletionResult,
	protocol.AskTool:                      SubtypeTool,
	protocol.AskAPIReqFailed:              SubtypeAPIReqFailed,
	protocol.AskResumeTask:                SubtypeResumeTask,
	protocol.AskResumeCompletedTask:       SubtypeResumeCompletedTask,
	protocol.AskMistakeLimitReached:       SubtypeMistakeLimitReached,
	protocol.AskAutoApprovalMaxReqReached: SubtypeAutoApprovalMaxReqReached,
	protocol.AskBrowserActionLaunch:       SubtypeBrowserActionLaunch,
	protocol.AskUseMCPServer:              SubtypeUseMCPServer,
	protocol.AskNewTask:                   SubtypeNewTask,
	protocol.AskCondense:                  SubtypeCondense,
	protocol.AskReportBug:                 SubtypeReportBug,
}

// saySubtypes is indexed by the engine's say code
var saySubtypes = [...]Subtype{
	protocol.SayTask:                    SubtypeTask,
	protocol.SayError:                   SubtypeError,
	protocol.SayAPIReqStarted:           SubtypeAPIReqStarted,
	protocol.SayAPIReqFinished:          SubtypeAPIReqFinished,
	protocol.SayText:                    SubtypeText,
	protocol.SayReasoning:               SubtypeReasoning,
	protocol.SayCompletionResult:        SubtypeCompletionResult,
	protocol.SayUserFeedback:            SubtypeUserFeedback,
	protocol.SayUserFeedbackDiff:        SubtypeUserFeedbackDiff,
	protocol.SayAPIReqRetried:           SubtypeAPIReqRetried,
	protocol.SayCommand:                 SubtypeCommand,
	protocol.SayCommandOutput:           SubtypeCommandOutput,
	protocol.SayTool:                    SubtypeTool,
	protocol.SayShellIntegrationWarning: SubtypeShellIntegrationWarning,
	protocol.SayBrowserActionLaunch:     SubtypeBrowserActionLaunch,
	protocol.SayBrowserAction:           SubtypeBrowserAction,
	protocol.SayBrowserActionResult:     SubtypeBrowserActionResult,
	protocol.SayMCPServerRequestStarted: SubtypeMCPServerRequestStarted,
	protocol.SayMCPServerResponse:       SubtypeMCPServerResponse,
	protocol.SayUseMCPServer:            SubtypeUseMCPServer,
	protocol.SayDiffError:               SubtypeDiffError,
	protocol.SayDeletedAPIReqs:          SubtypeDeletedAPIReqs,
	protocol.SayClineignoreError:        SubtypeClineignoreError,
	protocol.SayCheckpointCreated:       SubtypeCheckpointCreated,
	protocol.SayLoadMCPDocumentation:    SubtypeLoadMCPDocumentation,
	protocol.SayInfo:                    SubtypeInfo,
}

// Event is a classified engine message
type Event struct {
	// ID is the logical identity shared by every revision of one message.
	ID      int64
	Channel Channel
	Subtype Subtype
	Partial bool
	Text    string
}

// Final reports whether this is the settled revision of the message.
// Only final events may drive a mode switch, a completion or an approval.
func (e Event) Final() bool {
	return !e.Partial
}

// Is reports whether the event is on channel ch with subtype st
func (e Event) Is(ch Channel, st Subtype) bool {
	return e.Channel == ch && e.Subtype == st
}

// Classify maps a raw message onto the subtype table.
// The second result is false for an unknown type or code; callers pass such
// messages through without taking any decision.
func Classify(msg protocol.Message) (Event, bool) {
	var (
		ch    Channel
		table []Subtype
		code  int
	)

	switch msg.Type {
	case protocol.MessageTypeAsk:
		ch, table, code = ChannelAsk, askSubtypes[:], msg.Ask
	case protocol.MessageTypeSay:
		ch, table, code = ChannelSay, saySubtypes[:], msg.Say
	default:
		return Event{}, false
	}

	if code < 0 || code >= len(table) {
		return Event{}, false
	}

	return Event{
		ID:      msg.Ts,
		Channel: ch,
		Subtype: table[code],
		Partial: msg.Partial,
		Text:    msg.Text,
	}, true
}
