package protocol

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMessageEnvelopeDecodesEngineLine(t *testing.T) {
	line := `{"kind":"message","message":{"ts":1718000000123,"type":0,"ask":2,"text":"npm test","partial":false}}`

	var env MessageEnvelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		t.Fatalf("failed to unmarshal envelope: %v", err)
	}

	want := MessageEnvelope{
		Kind: MessageKindMessage,
		Message: Message{
			Ts:   1718000000123,
			Type: MessageTypeAsk,
			Ask:  AskCommand,
			Text: "npm test",
		},
	}
	if diff := cmp.Diff(want, env); diff != "" {
		t.Errorf("envelope mismatch (-want +got):\n%s", diff)
	}
}

func TestMessageOmitsZeroSubtypeCodes(t *testing.T) {
	// A say/task message carries code 0, which encodes as an absent field
	// and must decode back to the same code.
	msg := Message{Ts: 1, Type: MessageTypeSay, Say: SayTask, Text: "do it"}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Say != SayTask || decoded.Type != MessageTypeSay {
		t.Errorf("decoded = %+v, want say/task", decoded)
	}
}

func TestModeValid(t *testing.T) {
	tests := []struct {
		mode Mode
		want bool
	}{
		{ModePlan, true},
		{ModeAct, true},
		{Mode(""), false},
		{Mode("ACT"), false},
	}

	for _, tt := range tests {
		if got := tt.mode.Valid(); got != tt.want {
			t.Errorf("Mode(%q).Valid() = %v, want %v", tt.mode, got, tt.want)
		}
	}
}

func TestPermissiveAutoApprovalEnablesEverything(t *testing.T) {
	settings := PermissiveAutoApproval()

	if !settings.Enabled {
		t.Error("settings should be enabled")
	}
	if settings.MaxRequests != 10000 {
		t.Errorf("MaxRequests = %d, want 10000", settings.MaxRequests)
	}

	want := AutoApprovalActions{
		ReadFiles:           true,
		ReadFilesExternally: true,
		EditFiles:           true,
		EditFilesExternally: true,
		ExecuteSafeCommands: true,
		ExecuteAllCommands:  true,
		UseBrowser:          true,
		UseMCP:              true,
	}
	if diff := cmp.Diff(want, settings.Actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
}
