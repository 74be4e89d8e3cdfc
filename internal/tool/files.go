package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/sessionagent/runtime/pkg/types"
)

// The tools in this file are common to both project variants: generate_files
// is how the LLM produces code (the phasic app controller's per-phase
// implement step and the agentic workflow controller's single dialogue both
// expose it, spec §4.8/§4.10), read_files lets the model inspect what has
// already been committed before deciding what to write next.

// --- generate_files ----------------------------------------------------

// GenerateFilesTool implements the generate_files common tool: writes one
// or more full files through the File Manager (C3), producing a commit and
// a file_generated event per file (handled by Capabilities.WriteFiles).
type GenerateFilesTool struct{}

func NewGenerateFilesTool() *GenerateFilesTool { return &GenerateFilesTool{} }

func (t *GenerateFilesTool) ID() string { return "generate_files" }
func (t *GenerateFilesTool) Description() string {
	return "Writes one or more files with their full contents, committing them to version control."
}
func (t *GenerateFilesTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"files": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"filePath": {"type": "string"},
						"fileContents": {"type": "string"},
						"filePurpose": {"type": "string"}
					},
					"required": ["filePath", "fileContents"]
				}
			},
			"commitMessage": {"type": "string"}
		},
		"required": ["files"]
	}`)
}

func (t *GenerateFilesTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params struct {
		Files []struct {
			FilePath     string `json:"filePath"`
			FileContents string `json:"fileContents"`
			FilePurpose  string `json:"filePurpose,omitempty"`
		} `json:"files"`
		CommitMessage string `json:"commitMessage,omitempty"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if toolCtx.Capabilities == nil {
		return nil, fmt.Errorf("generate_files: no session capabilities bound")
	}
	if len(params.Files) == 0 {
		return nil, fmt.Errorf("generate_files: files must not be empty")
	}

	records := make([]types.FileRecord, 0, len(params.Files))
	for _, f := range params.Files {
		records = append(records, types.FileRecord{
			FilePath:     f.FilePath,
			FileContents: f.FileContents,
			FilePurpose:  f.FilePurpose,
		})
	}

	message := params.CommitMessage
	if message == "" {
		message = fmt.Sprintf("generate %d file(s)", len(records))
	}

	saved, err := toolCtx.Capabilities.WriteFiles(ctx, records, message)
	if err != nil {
		return nil, fmt.Errorf("generate_files: %w", err)
	}

	var sb strings.Builder
	for _, f := range saved {
		fmt.Fprintf(&sb, "%s\n", f.FilePath)
	}
	return &Result{Title: "generate_files", Output: sb.String(), Metadata: map[string]any{"count": len(saved)}}, nil
}

func (t *GenerateFilesTool) EinoTool() einotool.InvokableTool { return &einoToolWrapper{tool: t} }

// --- read_files ----------------------------------------------------------

// ReadFilesTool implements the read_files common tool: lists every
// generated file, optionally filtered by a path-prefix glob set, with its
// current contents.
type ReadFilesTool struct{}

func NewReadFilesTool() *ReadFilesTool { return &ReadFilesTool{} }

func (t *ReadFilesTool) ID() string          { return "read_files" }
func (t *ReadFilesTool) Description() string { return "Lists generated files and their current contents, optionally filtered by path prefix." }
func (t *ReadFilesTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"pathPrefixes":{"type":"array","items":{"type":"string"}}},"required":[]}`)
}

func (t *ReadFilesTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params struct {
		PathPrefixes []string `json:"pathPrefixes,omitempty"`
	}
	_ = json.Unmarshal(input, &params)
	if toolCtx.Capabilities == nil {
		return nil, fmt.Errorf("read_files: no session capabilities bound")
	}

	files := toolCtx.Capabilities.ReadFiles(ctx)
	var sb strings.Builder
	count := 0
	for _, f := range files {
		if !matchesAnyPrefix(f.FilePath, params.PathPrefixes) {
			continue
		}
		fmt.Fprintf(&sb, "--- %s ---\n%s\n\n", f.FilePath, f.FileContents)
		count++
	}
	return &Result{Title: "read_files", Output: sb.String(), Metadata: map[string]any{"count": count}}, nil
}

func (t *ReadFilesTool) EinoTool() einotool.InvokableTool { return &einoToolWrapper{tool: t} }

func matchesAnyPrefix(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
