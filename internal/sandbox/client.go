// Package sandbox implements the Sandbox Client (C8): a narrow RPC
// surface against the external build/run sandbox that backs preview
// deployments, log retrieval, and static/runtime analysis. Every method
// returns a Result rather than panicking across the boundary — sandbox
// failures are data, not exceptions, so the Deployment Manager (C7) can
// retry or surface them without a recover().
package sandbox

import (
	"context"
	"net/http"
	"time"

	"github.com/sessionagent/runtime/pkg/types"
)

// Result is the uniform {success, error} envelope every sandbox RPC
// returns (spec §4.7 — "no exceptions cross this boundary").
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func ok() Result         { return Result{Success: true} }
func fail(err error) Result {
	if err == nil {
		return ok()
	}
	return Result{Success: false, Error: err.Error()}
}

// Instance describes a provisioned sandbox.
type Instance struct {
	ID       string `json:"id"`
	Hostname string `json:"hostname,omitempty"`
}

// CreateInstanceResult carries the provisioned instance alongside the
// standard envelope.
type CreateInstanceResult struct {
	Result
	Instance *Instance `json:"instance,omitempty"`
}

// FilesResult carries a snapshot of the sandbox's working tree.
type FilesResult struct {
	Result
	Files []types.FileRecord `json:"files,omitempty"`
}

// CommandResult is the outcome of one executed command.
type CommandResult struct {
	Command  string `json:"command"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// ExecuteResult carries the per-command results of a batch.
type ExecuteResult struct {
	Result
	Commands []CommandResult `json:"commands,omitempty"`
}

// LogsResult carries runtime log lines.
type LogsResult struct {
	Result
	Lines []string `json:"lines,omitempty"`
}

// AnalysisResult carries static-analysis or runtime-error findings.
type AnalysisResult struct {
	Result
	Issues []string `json:"issues,omitempty"`
}

// DeployResult carries the outcome of a Cloudflare (or equivalent)
// deployment request.
type DeployResult struct {
	Result
	DeploymentURL string `json:"deploymentUrl,omitempty"`
}

// PreviewStatus reports whether a sandbox's preview URL is reachable.
type PreviewStatus struct {
	Result
	Ready bool   `json:"ready"`
	URL   string `json:"url,omitempty"`
}

// Client is the transport-level contract the Deployment Manager drives.
// Implementations may be a real HTTP-backed sandbox or a fake for tests.
type Client interface {
	CreateInstance(ctx context.Context, sessionID string) CreateInstanceResult
	GetFiles(ctx context.Context, instanceID string) FilesResult
	ExecuteCommands(ctx context.Context, instanceID string, commands []string) ExecuteResult
	GetLogs(ctx context.Context, instanceID string, clear bool) LogsResult
	RunStaticAnalysis(ctx context.Context, instanceID string) AnalysisResult
	FetchRuntimeErrors(ctx context.Context, instanceID string, clear bool) AnalysisResult
	UpdateProjectName(ctx context.Context, instanceID, name string) Result
	Deploy(ctx context.Context, instanceID string) DeployResult
	PreviewStatus(ctx context.Context, instanceID string) PreviewStatus
}

// HTTPClient is the production Client, talking to the configured sandbox
// endpoint over HTTP. It never lets a transport error escape as a panic —
// every method converts errors into a failed Result.
type HTTPClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewHTTPClient creates a sandbox client bound to endpoint, authenticating
// with apiKey, bounding every call by timeout.
func NewHTTPClient(endpoint, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{endpoint: endpoint, apiKey: apiKey, http: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) CreateInstance(ctx context.Context, sessionID string) CreateInstanceResult {
	var out struct {
		Instance Instance `json:"instance"`
	}
	if err := c.call(ctx, "POST", "/instances", map[string]any{"sessionId": sessionID}, &out); err != nil {
		return CreateInstanceResult{Result: fail(err)}
	}
	return CreateInstanceResult{Result: ok(), Instance: &out.Instance}
}

func (c *HTTPClient) GetFiles(ctx context.Context, instanceID string) FilesResult {
	var out struct {
		Files []types.FileRecord `json:"files"`
	}
	if err := c.call(ctx, "GET", "/instances/"+instanceID+"/files", nil, &out); err != nil {
		return FilesResult{Result: fail(err)}
	}
	return FilesResult{Result: ok(), Files: out.Files}
}

func (c *HTTPClient) ExecuteCommands(ctx context.Context, instanceID string, commands []string) ExecuteResult {
	var out struct {
		Commands []CommandResult `json:"commands"`
	}
	if err := c.call(ctx, "POST", "/instances/"+instanceID+"/exec", map[string]any{"commands": commands}, &out); err != nil {
		return ExecuteResult{Result: fail(err)}
	}
	return ExecuteResult{Result: ok(), Commands: out.Commands}
}

func (c *HTTPClient) GetLogs(ctx context.Context, instanceID string, clear bool) LogsResult {
	var out struct {
		Lines []string `json:"lines"`
	}
	if err := c.call(ctx, "POST", "/instances/"+instanceID+"/logs", map[string]any{"clear": clear}, &out); err != nil {
		return LogsResult{Result: fail(err)}
	}
	return LogsResult{Result: ok(), Lines: out.Lines}
}

func (c *HTTPClient) RunStaticAnalysis(ctx context.Context, instanceID string) AnalysisResult {
	var out struct {
		Issues []string `json:"issues"`
	}
	if err := c.call(ctx, "POST", "/instances/"+instanceID+"/analyze", nil, &out); err != nil {
		return AnalysisResult{Result: fail(err)}
	}
	return AnalysisResult{Result: ok(), Issues: out.Issues}
}

func (c *HTTPClient) FetchRuntimeErrors(ctx context.Context, instanceID string, clear bool) AnalysisResult {
	var out struct {
		Issues []string `json:"issues"`
	}
	if err := c.call(ctx, "POST", "/instances/"+instanceID+"/runtime-errors", map[string]any{"clear": clear}, &out); err != nil {
		return AnalysisResult{Result: fail(err)}
	}
	return AnalysisResult{Result: ok(), Issues: out.Issues}
}

func (c *HTTPClient) UpdateProjectName(ctx context.Context, instanceID, name string) Result {
	if err := c.call(ctx, "POST", "/instances/"+instanceID+"/name", map[string]any{"name": name}, nil); err != nil {
		return fail(err)
	}
	return ok()
}

func (c *HTTPClient) Deploy(ctx context.Context, instanceID string) DeployResult {
	var out struct {
		DeploymentURL string `json:"deploymentUrl"`
	}
	if err := c.call(ctx, "POST", "/instances/"+instanceID+"/deploy", nil, &out); err != nil {
		return DeployResult{Result: fail(err)}
	}
	return DeployResult{Result: ok(), DeploymentURL: out.DeploymentURL}
}

func (c *HTTPClient) PreviewStatus(ctx context.Context, instanceID string) PreviewStatus {
	var out struct {
		Ready bool   `json:"ready"`
		URL   string `json:"url"`
	}
	if err := c.call(ctx, "GET", "/instances/"+instanceID+"/preview", nil, &out); err != nil {
		return PreviewStatus{Result: fail(err)}
	}
	return PreviewStatus{Result: ok(), Ready: out.Ready, URL: out.URL}
}

// call is the shared HTTP plumbing; request/response marshaling is kept
// deliberately simple since the wire format is the sandbox vendor's own
// contract, not something this repo controls.
func (c *HTTPClient) call(ctx context.Context, method, path string, body any, out any) error {
	return doJSONRequest(ctx, c.http, c.endpoint+path, method, c.apiKey, body, out)
}
