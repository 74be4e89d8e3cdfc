package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/sessionagent/runtime/internal/logging"
)

// Registry manages tool registration and dispatch for one session. It
// enforces schema validation and doom-loop detection before invoking a
// tool's Execute — a failure at either stage returns {error} without
// calling the implementation (spec §4.9).
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	sessionID string
	doomLoop  *DoomLoopDetector
}

// NewRegistry creates an empty registry for one session.
func NewRegistry(sessionID string) *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		sessionID: sessionID,
		doomLoop:  NewDoomLoopDetector(),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.ID()] = t
}

// Get retrieves a tool by ID.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	return t, ok
}

// List returns all registered tools.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}

// IDs returns all tool IDs.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tools))
	for id := range r.tools {
		ids = append(ids, id)
	}
	return ids
}

// EinoTools returns Eino-compatible tools for the provider's tool-calling loop.
func (r *Registry) EinoTools() []einotool.BaseTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]einotool.BaseTool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t.EinoTool())
	}
	return tools
}

// ToolInfos returns Eino tool infos for all tools.
func (r *Registry) ToolInfos() ([]*schema.ToolInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]*schema.ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		params := parseJSONSchemaToParams(t.Parameters())
		infos = append(infos, &schema.ToolInfo{
			Name:        t.ID(),
			Desc:        t.Description(),
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return infos, nil
}

// DispatchError is returned for failures caught before a tool's
// implementation runs — missing tool, schema mismatch, doom-loop trip. The
// LLM sees {error: message}, never a Go panic or an unhandled exception
// (spec §4.9/§7 "Tool failure").
type DispatchError struct{ Message string }

func (e *DispatchError) Error() string { return e.Message }

// Dispatch validates input against the tool's declared schema and the
// doom-loop guard before calling Execute. A schema or doom-loop failure
// returns a *DispatchError without invoking the tool at all.
func (r *Registry) Dispatch(ctx context.Context, toolID string, input json.RawMessage, toolCtx *Context) (*Result, error) {
	t, ok := r.Get(toolID)
	if !ok {
		return nil, &DispatchError{Message: fmt.Sprintf("unknown tool: %s", toolID)}
	}

	if err := validateAgainstSchema(t.Parameters(), input); err != nil {
		return nil, &DispatchError{Message: fmt.Sprintf("schema validation failed for %s: %v", toolID, err)}
	}

	if r.doomLoop.Check(r.sessionID, toolID, json.RawMessage(input)) {
		logging.Logger.Warn().Str("sessionID", r.sessionID).Str("tool", toolID).Msg("doom loop detected, refusing to dispatch")
		return nil, &DispatchError{Message: fmt.Sprintf("%s: identical call repeated %d times in a row, refusing to dispatch", toolID, DoomLoopThreshold)}
	}

	return t.Execute(ctx, input, toolCtx)
}

// validateAgainstSchema checks input against schema's top-level "required"
// array and, where present, each property's declared JSON type. This is
// deliberately not a full JSON-Schema implementation (no $ref, oneOf,
// nested validation) — the tool set here is fixed and shallow, and a full
// validator would be unjustified weight for what spec §4.9 actually needs:
// reject malformed calls before they reach a tool's Execute.
func validateAgainstSchema(schemaJSON, input json.RawMessage) error {
	var sch struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schemaJSON, &sch); err != nil {
		return fmt.Errorf("invalid tool schema: %w", err)
	}

	var got map[string]json.RawMessage
	if err := json.Unmarshal(input, &got); err != nil {
		return fmt.Errorf("input is not a JSON object: %w", err)
	}

	for _, req := range sch.Required {
		if _, ok := got[req]; !ok {
			return fmt.Errorf("missing required field %q", req)
		}
	}

	for name, raw := range got {
		prop, known := sch.Properties[name]
		if !known || prop.Type == "" {
			continue
		}
		if !jsonValueMatchesType(raw, prop.Type) {
			return fmt.Errorf("field %q: expected type %q", name, prop.Type)
		}
	}
	return nil
}

func jsonValueMatchesType(raw json.RawMessage, want string) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "integer", "number":
		_, ok := v.(float64)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}
