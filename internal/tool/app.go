package tool

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/sessionagent/runtime/internal/event"
	"github.com/sessionagent/runtime/pkg/types"
)

// The tools in this file are only registered for app-variant sessions
// (spec §4.9 — "App-only"). Dispatching them against a workflow session
// is a registration-time impossibility, not a runtime check: the
// dispatcher only ever builds an app session's registry with these tools.

// --- alter_blueprint -------------------------------------------------------

// AlterBlueprintTool implements the alter_blueprint app-only tool: replaces
// the phasic app controller's blueprint document.
type AlterBlueprintTool struct{}

func NewAlterBlueprintTool() *AlterBlueprintTool { return &AlterBlueprintTool{} }

func (t *AlterBlueprintTool) ID() string          { return "alter_blueprint" }
func (t *AlterBlueprintTool) Description() string { return "Replaces the app's blueprint document with a revised plan." }
func (t *AlterBlueprintTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"blueprint":{"type":"object"}},"required":["blueprint"]}`)
}

func (t *AlterBlueprintTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params struct {
		Blueprint json.RawMessage `json:"blueprint"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if toolCtx.Capabilities == nil {
		return nil, fmt.Errorf("alter_blueprint: no session capabilities bound")
	}
	if err := toolCtx.Capabilities.UpdateBlueprint(ctx, params.Blueprint); err != nil {
		return nil, fmt.Errorf("alter_blueprint: %w", err)
	}
	return &Result{Title: "alter_blueprint", Output: "blueprint updated"}, nil
}

func (t *AlterBlueprintTool) EinoTool() einotool.InvokableTool { return &einoToolWrapper{tool: t} }

// --- regenerate_file -------------------------------------------------------

// RegenerateFileTool implements the regenerate_file app-only tool: rewrites
// one file's contents through the File Manager (C3), producing a new
// committed version and a fresh lastDiff.
type RegenerateFileTool struct{}

func NewRegenerateFileTool() *RegenerateFileTool { return &RegenerateFileTool{} }

func (t *RegenerateFileTool) ID() string          { return "regenerate_file" }
func (t *RegenerateFileTool) Description() string { return "Regenerates one file's full contents and commits the new version." }
func (t *RegenerateFileTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"filePath":{"type":"string"},"fileContents":{"type":"string"},"filePurpose":{"type":"string"}},"required":["filePath","fileContents"]}`)
}

func (t *RegenerateFileTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params struct {
		FilePath     string `json:"filePath"`
		FileContents string `json:"fileContents"`
		FilePurpose  string `json:"filePurpose,omitempty"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if toolCtx.Capabilities == nil {
		return nil, fmt.Errorf("regenerate_file: no session capabilities bound")
	}
	saved, err := toolCtx.Capabilities.WriteFiles(ctx, []types.FileRecord{{
		FilePath:     params.FilePath,
		FileContents: params.FileContents,
		FilePurpose:  params.FilePurpose,
	}}, fmt.Sprintf("regenerate %s", params.FilePath))
	if err != nil {
		return nil, fmt.Errorf("regenerate_file: %w", err)
	}
	toolCtx.Capabilities.Broadcast(event.FileGenerated, event.FileEventData{SessionID: toolCtx.Capabilities.SessionID(), FilePath: params.FilePath})
	return &Result{Title: "regenerate_file", Output: saved[0].LastDiff, Metadata: map[string]any{"filePath": params.FilePath}}, nil
}

func (t *RegenerateFileTool) EinoTool() einotool.InvokableTool { return &einoToolWrapper{tool: t} }
