package event

import "github.com/sessionagent/runtime/pkg/types"

// GenerationStartedData is the payload for generation_started.
type GenerationStartedData struct {
	SessionID string `json:"sessionId"`
}

// GenerationCompletedData is the payload for generation_completed.
type GenerationCompletedData struct {
	SessionID string `json:"sessionId"`
}

// GenerationStoppedData is the payload for generation_stopped.
type GenerationStoppedData struct {
	SessionID string `json:"sessionId"`
}

// GenerationResumedData is the payload for generation_resumed.
type GenerationResumedData struct {
	SessionID string `json:"sessionId"`
}

// PhaseEventData is the payload for phase_generating/phase_generated/
// phase_implementing/phase_implemented.
type PhaseEventData struct {
	SessionID string `json:"sessionId"`
	Phase     string `json:"phase"`
}

// FileEventData is the payload for file_generating/file_chunk_generated/
// file_generated.
type FileEventData struct {
	SessionID string `json:"sessionId"`
	FilePath  string `json:"filePath"`
	Chunk     string `json:"chunk,omitempty"`
}

// DeploymentEventData is the payload for deployment_started/completed/failed.
type DeploymentEventData struct {
	SessionID  string `json:"sessionId"`
	PreviewURL string `json:"previewURL,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CloudflareDeploymentEventData is the payload for cloudflare_deployment_*.
type CloudflareDeploymentEventData struct {
	SessionID        string `json:"sessionId"`
	DeploymentURL    string `json:"deploymentUrl,omitempty"`
	Error            string `json:"error,omitempty"`
	PreviewExpired   bool   `json:"previewExpired,omitempty"`
}

// PreviewForceRefreshData is the payload for preview_force_refresh.
type PreviewForceRefreshData struct {
	SessionID string `json:"sessionId"`
}

// RuntimeErrorFoundData is the payload for runtime_error_found.
type RuntimeErrorFoundData struct {
	SessionID string `json:"sessionId"`
	Errors    []string `json:"errors"`
}

// StaticAnalysisResultsData is the payload for static_analysis_results.
type StaticAnalysisResultsData struct {
	SessionID string   `json:"sessionId"`
	Issues    []string `json:"issues"`
}

// ConversationClearedData is the payload for conversation_cleared.
type ConversationClearedData struct {
	SessionID string `json:"sessionId"`
}

// ConversationStateData is the payload for conversation_state.
type ConversationStateData struct {
	Running           []types.ConversationMessage `json:"running"`
	Full              []types.ConversationMessage `json:"full"`
	DeepDebugSession  *string                     `json:"deep_debug_session,omitempty"`
}

// ProjectNameUpdatedData is the payload for project_name_updated.
type ProjectNameUpdatedData struct {
	SessionID   string `json:"sessionId"`
	ProjectName string `json:"projectName"`
}

// GitHubExportEventData is the payload for github_export_*.
type GitHubExportEventData struct {
	SessionID     string `json:"sessionId"`
	RepositoryURL string `json:"repositoryUrl,omitempty"`
	ShareURL      string `json:"shareUrl,omitempty"`
	Progress      string `json:"progress,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ModelConfigsInfoData is the payload for model_configs_info.
type ModelConfigsInfoData struct {
	Models []types.Model `json:"models"`
}

// TextDeltaData is the payload for text_delta.
type TextDeltaData struct {
	SessionID string `json:"sessionId"`
	Delta     string `json:"delta"`
}

// ErrorData is the payload for the generic error event.
type ErrorData struct {
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}
