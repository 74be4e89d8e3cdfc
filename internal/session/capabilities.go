package session

import (
	"context"
	"fmt"

	"github.com/sessionagent/runtime/internal/agentcap"
	"github.com/sessionagent/runtime/internal/cancel"
	"github.com/sessionagent/runtime/internal/deploy"
	"github.com/sessionagent/runtime/internal/event"
	"github.com/sessionagent/runtime/internal/files"
	"github.com/sessionagent/runtime/internal/sandbox"
	"github.com/sessionagent/runtime/internal/vcs"
	"github.com/sessionagent/runtime/pkg/types"
)

// DeepDebugStarter starts a deep-debug run and blocks until a transcript is
// available. Bound late (via Capabilities.SetDeepDebugStarter) once the
// debug assistant (C12) exists, so this package never has to import it —
// the dependency runs session -> debug, not the other way.
type DeepDebugStarter func(ctx context.Context, sessionID, issue, priorTranscript string, focusPrefixes []string) (string, error)

// Capabilities is the concrete, per-session implementation of
// agentcap.Capabilities (spec §9's trimmed tool-facing surface). It wires
// together the State Store (C1), File Manager (C3), Version-Control Store
// (C4), Event Bus (C5), Cancellation Controller (C6), Deployment Manager
// (C7), and Sandbox Client (C8) behind the one interface C9's tools call
// into.
type Capabilities struct {
	sessionID   string
	projectType types.ProjectType

	state   *StateStore
	files   *files.Manager
	vcs     *vcs.Store
	bus     *event.SessionBus
	cancel  *cancel.Controller
	deploy  *deploy.Manager
	sandbox sandbox.Client

	deepDebug DeepDebugStarter
}

// NewCapabilities wires one session's components into a Capabilities. The
// files.Manager passed in must already be bound to the right StateAccessor
// for projectType (see NewAppFilesAccessor/NewWorkflowFilesAccessor).
func NewCapabilities(
	sessionID string,
	projectType types.ProjectType,
	state *StateStore,
	fileMgr *files.Manager,
	vcsStore *vcs.Store,
	bus *event.SessionBus,
	cancelCtl *cancel.Controller,
	deployMgr *deploy.Manager,
	sandboxClient sandbox.Client,
) *Capabilities {
	return &Capabilities{
		sessionID:   sessionID,
		projectType: projectType,
		state:       state,
		files:       fileMgr,
		vcs:         vcsStore,
		bus:         bus,
		cancel:      cancelCtl,
		deploy:      deployMgr,
		sandbox:     sandboxClient,
	}
}

// SetDeepDebugStarter binds the deep-debug entry point once C12 exists.
func (c *Capabilities) SetDeepDebugStarter(fn DeepDebugStarter) { c.deepDebug = fn }

var _ agentcap.Capabilities = (*Capabilities)(nil)

func (c *Capabilities) SessionID() string             { return c.sessionID }
func (c *Capabilities) ProjectType() types.ProjectType { return c.projectType }

func (c *Capabilities) ReadFile(ctx context.Context, path string) (types.FileRecord, bool) {
	return c.files.GetGeneratedFile(ctx, path)
}

func (c *Capabilities) ReadFiles(ctx context.Context) []types.FileRecord {
	return c.files.GetGeneratedFiles(ctx)
}

func (c *Capabilities) WriteFiles(ctx context.Context, files []types.FileRecord, commitMessage string) ([]types.FileRecord, error) {
	saved, err := c.files.SaveGeneratedFiles(ctx, files, commitMessage)
	if err != nil {
		return nil, err
	}
	for _, f := range saved {
		c.bus.Broadcast(event.FileGenerated, event.FileEventData{SessionID: c.sessionID, FilePath: f.FilePath})
	}
	return saved, nil
}

func (c *Capabilities) DeleteFiles(ctx context.Context, paths []string, commitMessage string) error {
	return c.files.DeleteFiles(ctx, paths, commitMessage)
}

func (c *Capabilities) instanceID() string {
	switch c.projectType {
	case types.ProjectTypeApp:
		return c.state.GetApp().SandboxInstanceID
	default:
		return c.state.GetWorkflow().SandboxInstanceID
	}
}

func (c *Capabilities) ExecCommands(ctx context.Context, commands []string) ([]sandbox.CommandResult, error) {
	instanceID := c.instanceID()
	if instanceID == "" {
		return nil, fmt.Errorf("session %s: no sandbox instance bound yet", c.sessionID)
	}
	res := c.sandbox.ExecuteCommands(ctx, instanceID, commands)
	if !res.Success {
		return nil, fmt.Errorf("sandbox: execute commands: %s", res.Error)
	}
	c.recordCommandsHistory(ctx, commands)
	return res.Commands, nil
}

func (c *Capabilities) recordCommandsHistory(ctx context.Context, commands []string) {
	switch c.projectType {
	case types.ProjectTypeApp:
		_ = c.state.UpdateApp(ctx, func(s *types.AppState) {
			s.CommandsHistory = append(s.CommandsHistory, commands...)
		})
	default:
		_ = c.state.UpdateWorkflow(ctx, func(s *types.WorkflowState) {
			s.CommandsHistory = append(s.CommandsHistory, commands...)
		})
	}
}

// DeployPreview pushes the current generated-file set to the session's
// sandbox instance (creating one on first use) and waits for the preview
// to become reachable (C7).
func (c *Capabilities) DeployPreview(ctx context.Context) (string, error) {
	tok := c.cancel.GetOrCreate(cancel.OpDeploy)
	instanceID := c.instanceID()
	files := c.files.GetGeneratedFiles(ctx)

	var lastPackageJSON string
	if c.projectType == types.ProjectTypeApp {
		lastPackageJSON = c.state.GetApp().LastPackageJSON
	} else {
		lastPackageJSON = c.state.GetWorkflow().LastPackageJSON
	}

	c.bus.Broadcast(event.DeploymentStarted, event.DeploymentEventData{SessionID: c.sessionID})

	inst, previewURL, newPackageJSON, err := c.deploy.DeployToSandbox(
		tok.Context(ctx), c.sessionID, instanceID, files, nil, lastPackageJSON,
		deploy.Callbacks{
			OnCompleted: func(url string) {
				c.bus.Broadcast(event.DeploymentCompleted, event.DeploymentEventData{SessionID: c.sessionID, PreviewURL: url})
			},
			OnError: func(err error) {
				c.bus.Broadcast(event.DeploymentFailed, event.DeploymentEventData{SessionID: c.sessionID, Error: err.Error()})
			},
		},
	)
	if err != nil {
		return "", err
	}
	if inst != nil {
		instanceID = inst.ID
	}

	c.persistDeployResult(ctx, instanceID, newPackageJSON)
	return previewURL, nil
}

func (c *Capabilities) persistDeployResult(ctx context.Context, instanceID, newPackageJSON string) {
	switch c.projectType {
	case types.ProjectTypeApp:
		_ = c.state.UpdateApp(ctx, func(s *types.AppState) {
			if s.SandboxInstanceID == "" {
				s.SandboxInstanceID = instanceID
			}
			s.LastPackageJSON = newPackageJSON
		})
	default:
		_ = c.state.UpdateWorkflow(ctx, func(s *types.WorkflowState) {
			if s.SandboxInstanceID == "" {
				s.SandboxInstanceID = instanceID
			}
			s.LastPackageJSON = newPackageJSON
		})
	}
}

func (c *Capabilities) GetLogs(ctx context.Context, clear bool) ([]string, error) {
	instanceID := c.instanceID()
	if instanceID == "" {
		return nil, nil
	}
	res := c.sandbox.GetLogs(ctx, instanceID, clear)
	if !res.Success {
		return nil, fmt.Errorf("sandbox: get logs: %s", res.Error)
	}
	return res.Lines, nil
}

func (c *Capabilities) RuntimeErrors(ctx context.Context, clear bool) ([]string, error) {
	instanceID := c.instanceID()
	if instanceID == "" {
		return nil, nil
	}
	res := c.sandbox.FetchRuntimeErrors(ctx, instanceID, clear)
	if !res.Success {
		return nil, fmt.Errorf("sandbox: fetch runtime errors: %s", res.Error)
	}
	if len(res.Issues) > 0 {
		c.bus.Broadcast(event.RuntimeErrorFound, event.RuntimeErrorFoundData{SessionID: c.sessionID, Errors: res.Issues})
	}
	return res.Issues, nil
}

func (c *Capabilities) UpdateProjectName(ctx context.Context, name string) error {
	instanceID := c.instanceID()
	if instanceID != "" {
		if res := c.sandbox.UpdateProjectName(ctx, instanceID, name); !res.Success {
			return fmt.Errorf("sandbox: update project name: %s", res.Error)
		}
	}
	switch c.projectType {
	case types.ProjectTypeApp:
		_ = c.state.UpdateApp(ctx, func(s *types.AppState) { s.ProjectName = name })
	default:
		_ = c.state.UpdateWorkflow(ctx, func(s *types.WorkflowState) { s.ProjectName = name })
	}
	c.bus.Broadcast(event.ProjectNameUpdated, event.ProjectNameUpdatedData{SessionID: c.sessionID, ProjectName: name})
	return nil
}

func (c *Capabilities) GitLog(ctx context.Context) []vcs.Commit { return c.vcs.Log() }

func (c *Capabilities) GitShow(ctx context.Context, commitHash string) (vcs.Tree, bool) {
	return c.vcs.Show(commitHash)
}

func (c *Capabilities) Broadcast(eventType event.EventType, data any) { c.bus.Broadcast(eventType, data) }

func (c *Capabilities) GenerationDone(ctx context.Context) <-chan struct{} {
	return c.cancel.GetOrCreate(cancel.OpGeneration).Done()
}

func (c *Capabilities) DeepDebugDone(ctx context.Context) <-chan struct{} {
	return c.cancel.GetOrCreate(cancel.OpDeepDebug).Done()
}

func (c *Capabilities) UpdateBlueprint(ctx context.Context, blueprint []byte) error {
	if c.projectType != types.ProjectTypeApp {
		return fmt.Errorf("update blueprint: session %s is not an app session", c.sessionID)
	}
	return c.state.UpdateApp(ctx, func(s *types.AppState) { s.Blueprint = blueprint })
}

// MergeWorkflowMetadata applies patch to the workflow's metadata: scalar
// fields are last-writer-wins, map fields (envVars/secrets/resources) are
// unioned key-by-key (spec §4.9's configure_workflow_metadata semantics).
func (c *Capabilities) MergeWorkflowMetadata(ctx context.Context, patch types.WorkflowMetadata) error {
	if c.projectType != types.ProjectTypeWorkflow {
		return fmt.Errorf("configure workflow metadata: session %s is not a workflow session", c.sessionID)
	}
	return c.state.UpdateWorkflow(ctx, func(s *types.WorkflowState) {
		if s.WorkflowMetadata == nil {
			s.WorkflowMetadata = &types.WorkflowMetadata{}
		}
		m := s.WorkflowMetadata
		if patch.Name != "" {
			m.Name = patch.Name
		}
		if patch.Description != "" {
			m.Description = patch.Description
		}
		if patch.ParamsSchema != nil {
			m.ParamsSchema = patch.ParamsSchema
		}
		mergeStringMap(&m.EnvVars, patch.EnvVars)
		mergeStringMap(&m.Secrets, patch.Secrets)
		mergeBindingMap(&m.Resources, patch.Resources)
	})
}

func mergeStringMap(dst *map[string]string, src map[string]string) {
	if len(src) == 0 {
		return
	}
	if *dst == nil {
		*dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		(*dst)[k] = v
	}
}

func mergeBindingMap(dst *map[string]types.Binding, src map[string]types.Binding) {
	if len(src) == 0 {
		return
	}
	if *dst == nil {
		*dst = make(map[string]types.Binding, len(src))
	}
	for k, v := range src {
		(*dst)[k] = v
	}
}

func (c *Capabilities) QueueUserInput(ctx context.Context, text string) error {
	switch c.projectType {
	case types.ProjectTypeApp:
		return c.state.UpdateApp(ctx, func(s *types.AppState) {
			s.PendingUserInputs = append(s.PendingUserInputs, text)
		})
	default:
		return c.state.UpdateWorkflow(ctx, func(s *types.WorkflowState) {
			s.PendingUserInputs = append(s.PendingUserInputs, text)
		})
	}
}

func (c *Capabilities) StartDeepDebug(ctx context.Context, issue, priorTranscript string, focusPrefixes []string) (string, error) {
	if c.deepDebug == nil {
		return "", fmt.Errorf("session %s: deep debug assistant not wired", c.sessionID)
	}
	return c.deepDebug(ctx, c.sessionID, issue, priorTranscript, focusPrefixes)
}
