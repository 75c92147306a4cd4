package testharness

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/iambrandonn/planact/internal/protocol"
)

// Scenario names understood by ScenarioScript
const (
	ScenarioPlanAct     = "plan-act"
	ScenarioStuck       = "stuck"
	ScenarioToolFailure = "tool-failure"
)

var scenarios = map[string]func(pace time.Duration) Script{
	ScenarioPlanAct:     planActScript,
	ScenarioStuck:       stuckScript,
	ScenarioToolFailure: toolFailureScript,
}

// Scenarios lists the built-in scenario names
func Scenarios() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ScenarioScript returns a built-in script. pace is the delay between steps.
func ScenarioScript(name string, pace time.Duration) (Script, error) {
	build, ok := scenarios[name]
	if !ok {
		return Script{}, fmt.Errorf("unknown scenario %q (known: %v)", name, Scenarios())
	}
	return build(pace), nil
}

// LoadScript reads a JSON-encoded Script from path
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("failed to read script file: %w", err)
	}
	var script Script
	if err := json.Unmarshal(data, &script); err != nil {
		return Script{}, fmt.Errorf("failed to parse script file: %w", err)
	}
	return script, nil
}

func say(code int, text string) protocol.Message {
	return protocol.Message{Type: protocol.MessageTypeSay, Say: code, Text: text}
}

func ask(code int, text string) protocol.Message {
	return protocol.Message{Type: protocol.MessageTypeAsk, Ask: code, Text: text}
}

// planActScript plans in prose, writes a file after the switch to act,
// runs an approved command and completes.
func planActScript(pace time.Duration) Script {
	return Script{
		Plan: []Step{
			{Delay: pace, Message: say(protocol.SayAPIReqStarted, `{"request":"plan"}`)},
			{Delay: pace, Message: say(protocol.SayText, "I will create hello.py that prints a greeting."),
				ModelResponse: &protocol.ModelResponse{
					Request:  json.RawMessage(`{"mode":"plan"}`),
					Response: json.RawMessage(`{"text":"I will create hello.py"}`),
				}},
		},
		Act: []Step{
			{Delay: pace, Message: say(protocol.SayTool, `{"tool":"newFileCreated","path":"hello.py","content":"print('hello')"}`)},
			{Delay: pace, Message: ask(protocol.AskCommand, "python hello.py"), AwaitResponse: true},
			{Delay: pace, Message: say(protocol.SayCommandOutput, "hello")},
			{Delay: pace, Message: say(protocol.SayCompletionResult, "Created hello.py")},
		},
	}
}

// stuckScript answers in plan mode with a tool call only and never completes
func stuckScript(pace time.Duration) Script {
	return Script{
		Plan: []Step{
			{Delay: pace, Message: say(protocol.SayTool, `{"tool":"readFile","path":"README.md"}`)},
			{Delay: pace, Message: ask(protocol.AskPlanModeRespond, `{"tool":"listFiles","path":"."}`)},
		},
	}
}

// toolFailureScript reports a failing tool before completing
func toolFailureScript(pace time.Duration) Script {
	return Script{
		Plan: []Step{
			{Delay: pace, Message: ask(protocol.AskPlanModeRespond, "Plan: run the tests, then fix them.")},
		},
		Act: []Step{
			{Delay: pace, Message: say(protocol.SayTool, `{"tool":"readFile","path":"missing.py"}`)},
			{Delay: pace, Message: say(protocol.SayError, "Error executing tool: readFile")},
			{Delay: pace, Message: say(protocol.SayCompletionResult, "Could not read missing.py")},
		},
	}
}
