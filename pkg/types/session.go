// Package types provides the core data types for the session agent runtime.
package types

import "encoding/json"

// ProjectType selects which controller a session is bound to. Immutable
// after session creation.
type ProjectType string

const (
	ProjectTypeApp      ProjectType = "app"
	ProjectTypeWorkflow ProjectType = "workflow"
)

// AgentMode controls how aggressively a controller acts without confirmation.
type AgentMode string

const (
	AgentModeDeterministic AgentMode = "deterministic"
	AgentModeSmart         AgentMode = "smart"
)

// FileRecord is one entry of a session's generated-file map.
type FileRecord struct {
	FilePath     string `json:"filePath"`
	FileContents string `json:"fileContents"`
	FilePurpose  string `json:"filePurpose,omitempty"`
	LastDiff     string `json:"lastDiff,omitempty"`
}

// BaseSessionState is common to both the app and workflow variants.
type BaseSessionState struct {
	ProjectName  string `json:"projectName"`
	Query        string `json:"query"`
	SessionID    string `json:"sessionId"`
	Hostname     string `json:"hostname"`
	TemplateName string `json:"templateName"`

	// CompactConversation is the working-memory log. The full audit log is
	// stored out-of-band in the conversation store (C2).
	CompactConversation []ConversationMessage `json:"compactConversation"`

	ShouldBeGenerating bool      `json:"shouldBeGenerating"`
	AgentMode          AgentMode `json:"agentMode"`

	GeneratedFilesMap map[string]FileRecord `json:"generatedFilesMap"`

	SandboxInstanceID string   `json:"sandboxInstanceId,omitempty"`
	CommandsHistory   []string `json:"commandsHistory"`
	LastPackageJSON   string   `json:"lastPackageJson,omitempty"`

	PendingUserInputs  []string `json:"pendingUserInputs,omitempty"`
	ProjectUpdateNotes []string `json:"projectUpdateNotes,omitempty"`

	LastDeepDebugTranscript string `json:"lastDeepDebugTranscript,omitempty"`

	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// DevState is the phasic app controller's state machine position.
type DevState string

const (
	DevStateIdle              DevState = "IDLE"
	DevStatePhaseGenerating   DevState = "PHASE_GENERATING"
	DevStatePhaseImplementing DevState = "PHASE_IMPLEMENTING"
	DevStateReviewing         DevState = "REVIEWING"
	DevStateFinalizing        DevState = "FINALIZING"
)

// Phase is one unit of app-generation work.
type Phase struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed"`
}

// AppState extends BaseSessionState with phasic-generation bookkeeping.
type AppState struct {
	BaseSessionState

	Blueprint          json.RawMessage `json:"blueprint,omitempty"`
	GeneratedPhases    []Phase         `json:"generatedPhases,omitempty"`
	MVPGenerated       bool            `json:"mvpGenerated"`
	ReviewingInitiated bool            `json:"reviewingInitiated"`
	PhasesCounter      int             `json:"phasesCounter"`
	CurrentDevState    DevState        `json:"currentDevState"`
	CurrentPhase       *string         `json:"currentPhase,omitempty"`
	ReviewCycles       int             `json:"reviewCycles"`
}

// BindingKind enumerates the resource kinds a workflow binding may use.
type BindingKind string

const (
	BindingKindKV    BindingKind = "kv"
	BindingKindR2    BindingKind = "r2"
	BindingKindD1    BindingKind = "d1"
	BindingKindQueue BindingKind = "queue"
	BindingKindAI    BindingKind = "ai"
)

// Binding is one declared env-var/secret/resource a workflow depends on.
type Binding struct {
	Name       string      `json:"name"`
	Kind       BindingKind `json:"kind"`
	ResourceID string      `json:"resourceId,omitempty"`
}

// WorkflowMetadata is the structured configuration record the workflow
// controller builds up via configure_workflow_metadata tool calls.
type WorkflowMetadata struct {
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	ParamsSchema json.RawMessage    `json:"paramsSchema,omitempty"`
	EnvVars      map[string]string  `json:"envVars,omitempty"`
	Secrets      map[string]string  `json:"secrets,omitempty"`
	Resources    map[string]Binding `json:"resources,omitempty"`
}

// DeploymentStatus is the workflow controller's Cloudflare deployment state.
type DeploymentStatus string

const (
	DeploymentStatusIdle      DeploymentStatus = "idle"
	DeploymentStatusDeploying DeploymentStatus = "deploying"
	DeploymentStatusDeployed  DeploymentStatus = "deployed"
	DeploymentStatusFailed    DeploymentStatus = "failed"
)

// WorkflowEntrySourcePath is where the workflow's single-source code lives
// in GeneratedFilesMap. Kept as a constant rather than a stored field so the
// workflow code is always derived, never duplicated (see DESIGN.md, C11).
const WorkflowEntrySourcePath = "src/index.ts"

// WorkflowState extends BaseSessionState with Cloudflare-workflow metadata.
type WorkflowState struct {
	BaseSessionState

	WorkflowMetadata *WorkflowMetadata `json:"workflowMetadata,omitempty"`
	DeploymentURL    string            `json:"deploymentUrl,omitempty"`
	DeploymentStatus DeploymentStatus  `json:"deploymentStatus"`
	DeploymentError  string            `json:"deploymentError,omitempty"`
}

// WorkflowCode returns the workflow's single source of truth for its code:
// the contents of src/index.ts in the generated-file map. There is no
// separate stored copy.
func (w *WorkflowState) WorkflowCode() string {
	if rec, ok := w.GeneratedFilesMap[WorkflowEntrySourcePath]; ok {
		return rec.FileContents
	}
	return ""
}
