// Package agentcap declares the trimmed capability surface tools are given
// instead of a reference to the whole session (spec §9's "cyclic
// references" design note). internal/tool depends on this interface, and
// internal/session provides the concrete implementation — neither package
// needs to import the other, so there's no cycle between the dispatcher
// and the tools it dispatches to.
package agentcap

import (
	"context"

	"github.com/sessionagent/runtime/internal/event"
	"github.com/sessionagent/runtime/internal/sandbox"
	"github.com/sessionagent/runtime/internal/vcs"
	"github.com/sessionagent/runtime/pkg/types"
)

// Capabilities is the full set of session operations any tool may need.
// A given tool only calls the handful of methods relevant to it — the
// point of the interface is to bound what a tool *could* reach, not to
// force every tool to use every method.
type Capabilities interface {
	SessionID() string
	ProjectType() types.ProjectType

	// File Manager (C3) access.
	ReadFile(ctx context.Context, path string) (types.FileRecord, bool)
	ReadFiles(ctx context.Context) []types.FileRecord
	WriteFiles(ctx context.Context, files []types.FileRecord, commitMessage string) ([]types.FileRecord, error)
	DeleteFiles(ctx context.Context, paths []string, commitMessage string) error

	// Sandbox/Deployment (C7/C8) access.
	ExecCommands(ctx context.Context, commands []string) ([]sandbox.CommandResult, error)
	DeployPreview(ctx context.Context) (previewURL string, err error)
	GetLogs(ctx context.Context, clear bool) ([]string, error)
	RuntimeErrors(ctx context.Context, clear bool) ([]string, error)
	UpdateProjectName(ctx context.Context, name string) error

	// Version control (C4), read-only — tools never push/commit directly.
	GitLog(ctx context.Context) []vcs.Commit
	GitShow(ctx context.Context, commitHash string) (vcs.Tree, bool)

	// Event Bus (C5) access for tool-originated progress events.
	Broadcast(eventType event.EventType, data any)

	// Cancellation (C6) — used by wait_for_generation/wait_for_debug.
	GenerationDone(ctx context.Context) <-chan struct{}
	DeepDebugDone(ctx context.Context) <-chan struct{}

	// App-only mutators (no-op/error on a workflow session).
	UpdateBlueprint(ctx context.Context, blueprint []byte) error

	// Workflow-only mutators (no-op/error on an app session).
	MergeWorkflowMetadata(ctx context.Context, patch types.WorkflowMetadata) error

	// Lifecycle helpers.
	QueueUserInput(ctx context.Context, text string) error
	StartDeepDebug(ctx context.Context, issue, priorTranscript string, focusPrefixes []string) (transcript string, err error)
}
