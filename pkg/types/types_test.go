package types

import (
	"encoding/json"
	"testing"
)

func TestAppState_JSON(t *testing.T) {
	phase := "phase-1"
	state := AppState{
		BaseSessionState: BaseSessionState{
			ProjectName: "my-counter-app",
			Query:       "make a counter",
			SessionID:   "session-123",
			GeneratedFilesMap: map[string]FileRecord{
				"src/App.tsx": {FilePath: "src/App.tsx", FileContents: "x"},
			},
		},
		CurrentDevState: DevStatePhaseImplementing,
		PhasesCounter:   1,
		CurrentPhase:    &phase,
	}

	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded AppState
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.ProjectName != state.ProjectName {
		t.Errorf("ProjectName mismatch: got %s, want %s", decoded.ProjectName, state.ProjectName)
	}
	if decoded.CurrentDevState != DevStatePhaseImplementing {
		t.Errorf("CurrentDevState mismatch: got %s", decoded.CurrentDevState)
	}
	if decoded.CurrentPhase == nil || *decoded.CurrentPhase != phase {
		t.Error("CurrentPhase not round-tripped")
	}
}

func TestWorkflowState_WorkflowCode(t *testing.T) {
	ws := WorkflowState{
		BaseSessionState: BaseSessionState{
			GeneratedFilesMap: map[string]FileRecord{
				WorkflowEntrySourcePath: {FilePath: WorkflowEntrySourcePath, FileContents: "export class MyWorkflow {}"},
			},
		},
	}
	if ws.WorkflowCode() != "export class MyWorkflow {}" {
		t.Errorf("WorkflowCode mismatch: got %q", ws.WorkflowCode())
	}

	empty := WorkflowState{}
	if empty.WorkflowCode() != "" {
		t.Error("WorkflowCode should be empty when src/index.ts is absent")
	}
}

func TestConversationMessage_JSON(t *testing.T) {
	msg := ConversationMessage{
		ConversationID: "m1",
		Role:           "user",
		Content:        "make a counter",
		CreatedAt:      1700000000000,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded ConversationMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.ConversationID != "m1" {
		t.Errorf("ConversationID mismatch: got %s", decoded.ConversationID)
	}
}

func TestBinding_Kinds(t *testing.T) {
	b := Binding{Name: "CACHE", Kind: BindingKindKV}
	data, _ := json.Marshal(b)
	var raw map[string]any
	json.Unmarshal(data, &raw)
	if raw["kind"] != "kv" {
		t.Errorf("kind mismatch: got %v", raw["kind"])
	}
}
