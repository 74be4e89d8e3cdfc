package tool

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/sessionagent/runtime/pkg/types"
)

// ConfigureWorkflowMetadataTool implements the configure_workflow_metadata
// workflow-only tool (spec §4.9). The merge semantics (per-field union for
// maps, last-writer-wins for scalars) live in the capability's
// MergeWorkflowMetadata implementation, not here — this tool only
// validates shape and forwards the patch.
type ConfigureWorkflowMetadataTool struct{}

func NewConfigureWorkflowMetadataTool() *ConfigureWorkflowMetadataTool {
	return &ConfigureWorkflowMetadataTool{}
}

func (t *ConfigureWorkflowMetadataTool) ID() string { return "configure_workflow_metadata" }
func (t *ConfigureWorkflowMetadataTool) Description() string {
	return "Declares or updates the workflow's name, description, params schema, env vars, secrets, and resource bindings. Repeated calls merge: scalar fields are last-writer-wins, map fields (envVars/secrets/resources) are unioned field-by-field."
}
func (t *ConfigureWorkflowMetadataTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"description": {"type": "string"},
			"paramsSchema": {"type": "object"},
			"envVars": {"type": "object", "additionalProperties": {"type": "string"}},
			"secrets": {"type": "object", "additionalProperties": {"type": "string"}},
			"resources": {
				"type": "object",
				"additionalProperties": {
					"type": "object",
					"properties": {
						"name": {"type": "string"},
						"kind": {"type": "string", "enum": ["kv", "r2", "d1", "queue", "ai"]},
						"resourceId": {"type": "string"}
					},
					"required": ["name", "kind"]
				}
			}
		},
		"required": []
	}`)
}

func (t *ConfigureWorkflowMetadataTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var patch types.WorkflowMetadata
	if err := json.Unmarshal(input, &patch); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if toolCtx.Capabilities == nil {
		return nil, fmt.Errorf("configure_workflow_metadata: no session capabilities bound")
	}
	if err := toolCtx.Capabilities.MergeWorkflowMetadata(ctx, patch); err != nil {
		return nil, fmt.Errorf("configure_workflow_metadata: %w", err)
	}
	return &Result{Title: "configure_workflow_metadata", Output: "metadata merged"}, nil
}

func (t *ConfigureWorkflowMetadataTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
