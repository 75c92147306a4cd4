package protocol

// MessageType is the integer-coded channel of a streamed UI message
type MessageType int

const (
	MessageTypeAsk MessageType = 0
	MessageTypeSay MessageType = 1
)

// Message is a single streamed UI message as emitted by the engine.
// Ask and Say carry integer subtype codes; only the one matching Type is meaningful.
// Ts is the logical identity: partial revisions and the final revision share it.
type Message struct {
	Ts      int64       `json:"ts"`
	Type    MessageType `json:"type"`
	Ask     int         `json:"ask,omitempty"`
	Say     int         `json:"say,omitempty"`
	Text    string      `json:"text,omitempty"`
	Partial bool        `json:"partial,omitempty"`
}

// Ask subtype codes
const (
	AskFollowup                  = 0
	AskPlanModeRespond           = 1
	AskCommand                   = 2
	AskCommandOutput             = 3
	AskCompletionResult          = 4
	AskTool                      = 5
	AskAPIReqFailed              = 6
	AskResumeTask                = 7
	AskResumeCompletedTask       = 8
	AskMistakeLimitReached       = 9
	AskAutoApprovalMaxReqReached = 10
	AskBrowserActionLaunch       = 11
	AskUseMCPServer              = 12
	AskNewTask                   = 13
	AskCondense                  = 14
	AskReportBug                 = 15
)

// Say subtype codes
const (
	SayTask                    = 0
	SayError                   = 1
	SayAPIReqStarted           = 2
	SayAPIReqFinished          = 3
	SayText                    = 4
	SayReasoning               = 5
	SayCompletionResult        = 6
	SayUserFeedback            = 7
	SayUserFeedbackDiff        = 8
	SayAPIReqRetried           = 9
	SayCommand                 = 10
	SayCommandOutput           = 11
	SayTool                    = 12
	SayShellIntegrationWarning = 13
	SayBrowserActionLaunch     = 14
	SayBrowserAction           = 15
	SayBrowserActionResult     = 16
	SayMCPServerRequestStarted = 17
	SayMCPServerResponse       = 18
	SayUseMCPServer            = 19
	SayDiffError               = 20
	SayDeletedAPIReqs          = 21
	SayClineignoreError        = 22
	SayCheckpointCreated       = 23
	SayLoadMCPDocumentation    = 24
	SayInfo                    = 25
)
