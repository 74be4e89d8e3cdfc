package tool

// NewCommonRegistry builds the tool registry shared by both project
// variants (spec §4.9 "Common tools"): web_search, feedback,
// queue_request, get_logs, deploy_preview, wait_for_generation,
// wait_for_debug, rename_project, git (safe subset), deep_debugger, plus
// generate_files/read_files (named in spec.md's C9 overview line and
// required by both controllers' generation step, though absent from the
// detailed Common/App-only/Workflow-only breakdown — see DESIGN.md).
func NewCommonRegistry(sessionID string, search SearchProvider) *Registry {
	r := NewRegistry(sessionID)
	r.Register(NewWebSearchTool(search))
	r.Register(NewFeedbackTool())
	r.Register(NewQueueRequestTool())
	r.Register(NewGetLogsTool())
	r.Register(NewDeployPreviewTool())
	r.Register(NewWaitForGenerationTool())
	r.Register(NewWaitForDebugTool())
	r.Register(NewRenameProjectTool())
	r.Register(NewGitTool())
	r.Register(NewDeepDebuggerTool())
	r.Register(NewGenerateFilesTool())
	r.Register(NewReadFilesTool())
	return r
}

// NewAppRegistry builds the full tool registry for an app-variant session:
// the common set plus alter_blueprint and regenerate_file.
func NewAppRegistry(sessionID string, search SearchProvider) *Registry {
	r := NewCommonRegistry(sessionID, search)
	r.Register(NewAlterBlueprintTool())
	r.Register(NewRegenerateFileTool())
	return r
}

// NewWorkflowRegistry builds the full tool registry for a workflow-variant
// session: the common set plus configure_workflow_metadata.
func NewWorkflowRegistry(sessionID string, search SearchProvider) *Registry {
	r := NewCommonRegistry(sessionID, search)
	r.Register(NewConfigureWorkflowMetadataTool())
	return r
}
