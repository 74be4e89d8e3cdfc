package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/sessionagent/runtime/internal/event"
	"github.com/sessionagent/runtime/pkg/types"
)

// The tools in this file make up the common tool catalogue (spec §4.9):
// available to both the phasic app controller and the agentic workflow
// controller. App-only and workflow-only tools live in app.go/workflow.go.

// --- web_search --------------------------------------------------------

const webSearchDescription = `Searches the web for the given query and returns the top results rendered
as readable text. Read-only; never modifies session state.`

// SearchProvider is the external web-search backend web_search calls into.
// Kept as an interface so the tool doesn't hardcode a single search vendor.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
}

// SearchHit is one web-search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchTool implements the web_search common tool.
type WebSearchTool struct {
	provider SearchProvider
}

// NewWebSearchTool creates the web_search tool bound to a SearchProvider.
func NewWebSearchTool(provider SearchProvider) *WebSearchTool {
	return &WebSearchTool{provider: provider}
}

type webSearchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (t *WebSearchTool) ID() string          { return "web_search" }
func (t *WebSearchTool) Description() string { return webSearchDescription }
func (t *WebSearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search query"},"limit":{"type":"integer","description":"Max results, default 5"}},"required":["query"]}`)
}

func (t *WebSearchTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params webSearchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 5
	}
	hits, err := t.provider.Search(ctx, params.Query, limit)
	if err != nil {
		return nil, fmt.Errorf("web_search: %w", err)
	}

	var sb strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&sb, "%d. %s\n%s\n%s\n\n", i+1, h.Title, h.URL, h.Snippet)
	}
	return &Result{Title: fmt.Sprintf("web_search: %s", params.Query), Output: sb.String()}, nil
}

func (t *WebSearchTool) EinoTool() einotool.InvokableTool { return &einoToolWrapper{tool: t} }

// fetchRendered fetches a URL and renders it to text, for search providers
// that only return URLs and need the tool to render the page itself.
func fetchRendered(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return "", err
	}
	return extractTextFromHTML(string(body))
}

// --- feedback ------------------------------------------------------------

const feedbackDescription = `Records user-facing feedback or a status note for this session without
triggering any further generation. Use to acknowledge a request that needs
no code change.`

// FeedbackTool implements the feedback common tool.
type FeedbackTool struct{}

func NewFeedbackTool() *FeedbackTool { return &FeedbackTool{} }

func (t *FeedbackTool) ID() string          { return "feedback" }
func (t *FeedbackTool) Description() string { return feedbackDescription }
func (t *FeedbackTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`)
}

func (t *FeedbackTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if toolCtx.Capabilities != nil {
		toolCtx.Capabilities.Broadcast(event.TextDelta, event.TextDeltaData{SessionID: toolCtx.Capabilities.SessionID(), Delta: params.Message})
	}
	return &Result{Title: "feedback", Output: params.Message}, nil
}

func (t *FeedbackTool) EinoTool() einotool.InvokableTool { return &einoToolWrapper{tool: t} }

// --- queue_request ---------------------------------------------------------

const queueRequestDescription = `Queues a follow-up user request to be addressed at the next phase/dialogue
boundary rather than interrupting in-flight generation.`

// QueueRequestTool implements the queue_request common tool.
type QueueRequestTool struct{}

func NewQueueRequestTool() *QueueRequestTool { return &QueueRequestTool{} }

func (t *QueueRequestTool) ID() string          { return "queue_request" }
func (t *QueueRequestTool) Description() string { return queueRequestDescription }
func (t *QueueRequestTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
}

func (t *QueueRequestTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if toolCtx.Capabilities == nil {
		return nil, fmt.Errorf("queue_request: no session capabilities bound")
	}
	if err := toolCtx.Capabilities.QueueUserInput(ctx, params.Text); err != nil {
		return nil, fmt.Errorf("queue_request: %w", err)
	}
	return &Result{Title: "queue_request", Output: "queued"}, nil
}

func (t *QueueRequestTool) EinoTool() einotool.InvokableTool { return &einoToolWrapper{tool: t} }

// --- get_logs --------------------------------------------------------------

// GetLogsTool implements the get_logs common tool.
type GetLogsTool struct{}

func NewGetLogsTool() *GetLogsTool { return &GetLogsTool{} }

func (t *GetLogsTool) ID() string { return "get_logs" }
func (t *GetLogsTool) Description() string {
	return "Fetches recent sandbox runtime logs for this session, optionally clearing the buffer after reading."
}
func (t *GetLogsTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"clear":{"type":"boolean"}},"required":[]}`)
}

func (t *GetLogsTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params struct {
		Clear bool `json:"clear"`
	}
	_ = json.Unmarshal(input, &params)
	if toolCtx.Capabilities == nil {
		return nil, fmt.Errorf("get_logs: no session capabilities bound")
	}
	lines, err := toolCtx.Capabilities.GetLogs(ctx, params.Clear)
	if err != nil {
		return nil, fmt.Errorf("get_logs: %w", err)
	}
	return &Result{Title: "get_logs", Output: strings.Join(lines, "\n")}, nil
}

func (t *GetLogsTool) EinoTool() einotool.InvokableTool { return &einoToolWrapper{tool: t} }

// --- deploy_preview ----------------------------------------------------

// DeployPreviewTool implements the deploy_preview common tool.
type DeployPreviewTool struct{}

func NewDeployPreviewTool() *DeployPreviewTool { return &DeployPreviewTool{} }

func (t *DeployPreviewTool) ID() string { return "deploy_preview" }
func (t *DeployPreviewTool) Description() string {
	return "Triggers (or refreshes) a sandbox preview deployment of the current generated files and returns its URL."
}
func (t *DeployPreviewTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{},"required":[]}`)
}

func (t *DeployPreviewTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	if toolCtx.Capabilities == nil {
		return nil, fmt.Errorf("deploy_preview: no session capabilities bound")
	}
	url, err := toolCtx.Capabilities.DeployPreview(ctx)
	if err != nil {
		return nil, fmt.Errorf("deploy_preview: %w", err)
	}
	return &Result{Title: "deploy_preview", Output: url, Metadata: map[string]any{"previewUrl": url}}, nil
}

func (t *DeployPreviewTool) EinoTool() einotool.InvokableTool { return &einoToolWrapper{tool: t} }

// --- wait_for_generation / wait_for_debug -------------------------------

// WaitForGenerationTool blocks until the current generation operation's
// cancellation token signals completion or cancellation.
type WaitForGenerationTool struct{}

func NewWaitForGenerationTool() *WaitForGenerationTool { return &WaitForGenerationTool{} }

func (t *WaitForGenerationTool) ID() string          { return "wait_for_generation" }
func (t *WaitForGenerationTool) Description() string { return "Waits until the in-flight generation finishes or is cancelled." }
func (t *WaitForGenerationTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{},"required":[]}`)
}

func (t *WaitForGenerationTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	if toolCtx.Capabilities == nil {
		return nil, fmt.Errorf("wait_for_generation: no session capabilities bound")
	}
	select {
	case <-toolCtx.Capabilities.GenerationDone(ctx):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Result{Title: "wait_for_generation", Output: "done"}, nil
}

func (t *WaitForGenerationTool) EinoTool() einotool.InvokableTool { return &einoToolWrapper{tool: t} }

// WaitForDebugTool blocks until the session's in-flight deep-debug
// operation finishes.
type WaitForDebugTool struct{}

func NewWaitForDebugTool() *WaitForDebugTool { return &WaitForDebugTool{} }

func (t *WaitForDebugTool) ID() string          { return "wait_for_debug" }
func (t *WaitForDebugTool) Description() string { return "Waits until the in-flight deep-debug run finishes." }
func (t *WaitForDebugTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{},"required":[]}`)
}

func (t *WaitForDebugTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	if toolCtx.Capabilities == nil {
		return nil, fmt.Errorf("wait_for_debug: no session capabilities bound")
	}
	select {
	case <-toolCtx.Capabilities.DeepDebugDone(ctx):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Result{Title: "wait_for_debug", Output: "done"}, nil
}

func (t *WaitForDebugTool) EinoTool() einotool.InvokableTool { return &einoToolWrapper{tool: t} }

// --- rename_project ------------------------------------------------------

// RenameProjectTool implements the rename_project common tool.
type RenameProjectTool struct{}

func NewRenameProjectTool() *RenameProjectTool { return &RenameProjectTool{} }

func (t *RenameProjectTool) ID() string          { return "rename_project" }
func (t *RenameProjectTool) Description() string { return "Renames the project, validating against the project-name pattern." }
func (t *RenameProjectTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)
}

func (t *RenameProjectTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if !regexp.MustCompile(types.ProjectNamePattern).MatchString(params.Name) {
		return nil, fmt.Errorf("rename_project: %q does not match %s", params.Name, types.ProjectNamePattern)
	}
	if toolCtx.Capabilities == nil {
		return nil, fmt.Errorf("rename_project: no session capabilities bound")
	}
	if err := toolCtx.Capabilities.UpdateProjectName(ctx, params.Name); err != nil {
		return nil, fmt.Errorf("rename_project: %w", err)
	}
	toolCtx.Capabilities.Broadcast(event.ProjectNameUpdated, event.ProjectNameUpdatedData{SessionID: toolCtx.Capabilities.SessionID(), ProjectName: params.Name})
	return &Result{Title: "rename_project", Output: params.Name}, nil
}

func (t *RenameProjectTool) EinoTool() einotool.InvokableTool { return &einoToolWrapper{tool: t} }

// --- git (safe subset) ----------------------------------------------------

// gitSafeSubcommands are the only git-like operations exposed to the LLM —
// strictly read-only, since commits happen only through the File Manager
// (spec §4.9's "safe subset" qualifier).
var gitSafeSubcommands = map[string]bool{
	"log":  true,
	"show": true,
	"diff": true,
}

// GitTool implements the git (safe subset) common tool: log/show/diff only,
// validated against gitSafeSubcommands before touching the VCS store.
type GitTool struct{}

func NewGitTool() *GitTool { return &GitTool{} }

func (t *GitTool) ID() string          { return "git" }
func (t *GitTool) Description() string { return "Read-only git operations: log, show <commit>, diff. No write subcommands are exposed." }
func (t *GitTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"subcommand":{"type":"string","enum":["log","show","diff"]},"ref":{"type":"string"}},"required":["subcommand"]}`)
}

func (t *GitTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params struct {
		Subcommand string `json:"subcommand"`
		Ref        string `json:"ref,omitempty"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if !gitSafeSubcommands[params.Subcommand] {
		return nil, fmt.Errorf("git: subcommand %q is not in the safe subset (log, show, diff)", params.Subcommand)
	}
	if toolCtx.Capabilities == nil {
		return nil, fmt.Errorf("git: no session capabilities bound")
	}

	switch params.Subcommand {
	case "log":
		commits := toolCtx.Capabilities.GitLog(ctx)
		var sb strings.Builder
		for _, c := range commits {
			fmt.Fprintf(&sb, "%s %s\n", c.Hash[:12], c.Message)
		}
		return &Result{Title: "git log", Output: sb.String()}, nil
	case "show":
		if params.Ref == "" {
			return nil, fmt.Errorf("git show: ref is required")
		}
		tree, ok := toolCtx.Capabilities.GitShow(ctx, params.Ref)
		if !ok {
			return nil, fmt.Errorf("git show: unknown ref %q", params.Ref)
		}
		var sb strings.Builder
		for _, e := range tree.Entries {
			fmt.Fprintf(&sb, "%s %s\n", e.Hash[:12], e.Path)
		}
		return &Result{Title: "git show " + params.Ref, Output: sb.String()}, nil
	case "diff":
		files := toolCtx.Capabilities.ReadFiles(ctx)
		var sb strings.Builder
		for _, f := range files {
			if f.LastDiff != "" {
				sb.WriteString(f.LastDiff)
				sb.WriteString("\n")
			}
		}
		return &Result{Title: "git diff", Output: sb.String()}, nil
	}
	return nil, fmt.Errorf("git: unreachable subcommand %q", params.Subcommand)
}

func (t *GitTool) EinoTool() einotool.InvokableTool { return &einoToolWrapper{tool: t} }

// --- deep_debugger -------------------------------------------------------

// DeepDebuggerTool implements the deep_debugger common tool: hands an
// issue description off to the Deep-Debug Assistant (C12) and returns its
// transcript.
type DeepDebuggerTool struct{}

func NewDeepDebuggerTool() *DeepDebuggerTool { return &DeepDebuggerTool{} }

func (t *DeepDebuggerTool) ID() string          { return "deep_debugger" }
func (t *DeepDebuggerTool) Description() string { return "Runs a focused tool-using debug session against the sandbox's runtime errors and returns its transcript." }
func (t *DeepDebuggerTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"issue":{"type":"string"},"priorTranscript":{"type":"string"},"focusPathPrefixes":{"type":"array","items":{"type":"string"}}},"required":["issue"]}`)
}

func (t *DeepDebuggerTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params struct {
		Issue             string   `json:"issue"`
		PriorTranscript    string   `json:"priorTranscript,omitempty"`
		FocusPathPrefixes  []string `json:"focusPathPrefixes,omitempty"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if toolCtx.Capabilities == nil {
		return nil, fmt.Errorf("deep_debugger: no session capabilities bound")
	}
	transcript, err := toolCtx.Capabilities.StartDeepDebug(ctx, params.Issue, params.PriorTranscript, params.FocusPathPrefixes)
	if err != nil {
		return &Result{Title: "deep_debugger", Output: "", Metadata: map[string]any{"error": err.Error()}}, nil
	}
	return &Result{Title: "deep_debugger", Output: transcript}, nil
}

func (t *DeepDebuggerTool) EinoTool() einotool.InvokableTool { return &einoToolWrapper{tool: t} }
