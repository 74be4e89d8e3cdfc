// Package dispatch implements the Project-Type Dispatcher (C13) and
// Control-Message Handler (C14, spec §4.12-§4.13): the per-session
// front door that owns no generation state of its own, delegating every
// external call to whichever controller (app or workflow) matches the
// session's projectType, and translating inbound client frames into
// calls against it.
//
// Grounded on the teacher's internal/agent/registry.go ordered
// dispatch-by-name pattern (the same file C15's plugin.Manager
// generalizes), repurposed here to dispatch by project type instead of
// by agent name.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sessionagent/runtime/internal/agentcap"
	"github.com/sessionagent/runtime/internal/cancel"
	"github.com/sessionagent/runtime/internal/credentials"
	"github.com/sessionagent/runtime/internal/debug"
	"github.com/sessionagent/runtime/internal/deploy"
	"github.com/sessionagent/runtime/internal/event"
	"github.com/sessionagent/runtime/internal/session"
	"github.com/sessionagent/runtime/internal/sharing"
	"github.com/sessionagent/runtime/internal/storage"
	"github.com/sessionagent/runtime/internal/vcs"
	"github.com/sessionagent/runtime/pkg/types"
)

// Controller is the subset of behavior both variant controllers expose.
type Controller interface {
	GenerateAll(ctx context.Context) error
	StopGeneration(ctx context.Context) error
}

// AppController adds the app-only operations (spec §4.13's resume_generation
// and user_suggestion rows).
type AppController interface {
	Controller
	ResumeGeneration(ctx context.Context) error
	QueueSuggestion(ctx context.Context, text string) error
}

// Dispatcher is the Project-Type Dispatcher (C13): it holds exactly the
// active controller and, if a start is requested before the controller is
// attached, a single deferred start request that gets replayed once it is.
type Dispatcher struct {
	sessionID   string
	projectType types.ProjectType

	mu            sync.Mutex
	controller    Controller
	appController AppController // same value as controller when projectType is app; nil otherwise
	pendingStart  *pendingStart
}

type pendingStart struct {
	ctx    context.Context
	result chan error
}

// NewDispatcher creates a Dispatcher for a session whose project type is
// already known (from init props or rehydrated state); the controller
// itself is attached separately via Attach once C16 finishes constructing
// it, since building a controller needs the dispatcher's session id first.
func NewDispatcher(sessionID string, projectType types.ProjectType) *Dispatcher {
	return &Dispatcher{sessionID: sessionID, projectType: projectType}
}

// Attach binds the active controller, replaying any deferred start
// request queued by RequestStart before this call.
func (d *Dispatcher) Attach(ctrl Controller) {
	d.mu.Lock()
	d.controller = ctrl
	if app, ok := ctrl.(AppController); ok && d.projectType == types.ProjectTypeApp {
		d.appController = app
	}
	pending := d.pendingStart
	d.pendingStart = nil
	d.mu.Unlock()

	if pending != nil {
		go func() { pending.result <- ctrl.GenerateAll(pending.ctx) }()
	}
}

// RequestStart implements generate_all's dispatch to whichever controller
// is active. If no controller is attached yet, the request is queued in
// the single deferred-start slot (replacing any previous one) and
// replayed on Attach.
func (d *Dispatcher) RequestStart(ctx context.Context) error {
	d.mu.Lock()
	ctrl := d.controller
	if ctrl == nil {
		result := make(chan error, 1)
		d.pendingStart = &pendingStart{ctx: ctx, result: result}
		d.mu.Unlock()
		return <-result
	}
	d.mu.Unlock()
	return ctrl.GenerateAll(ctx)
}

func (d *Dispatcher) StopGeneration(ctx context.Context) error {
	d.mu.Lock()
	ctrl := d.controller
	d.mu.Unlock()
	if ctrl == nil {
		return fmt.Errorf("dispatch: no controller attached for session %s", d.sessionID)
	}
	return ctrl.StopGeneration(ctx)
}

func (d *Dispatcher) ResumeGeneration(ctx context.Context) error {
	d.mu.Lock()
	app := d.appController
	d.mu.Unlock()
	if app == nil {
		return fmt.Errorf("dispatch: resume_generation is app-only")
	}
	return app.ResumeGeneration(ctx)
}

func (d *Dispatcher) QueueSuggestion(ctx context.Context, text string) error {
	d.mu.Lock()
	app := d.appController
	d.mu.Unlock()
	if app == nil {
		return fmt.Errorf("dispatch: user_suggestion is app-only")
	}
	return app.QueueSuggestion(ctx, text)
}

func (d *Dispatcher) ProjectType() types.ProjectType { return d.projectType }

// --- Control-Message Handler (C14) -----------------------------------------

// Frame is one inbound client frame (spec §6's closed type set). Only the
// fields relevant to its Type are populated by callers; extra fields are
// ignored.
type Frame struct {
	Type string `json:"type"`

	// user_suggestion
	Text   string      `json:"text,omitempty"`
	Images []ImageData `json:"images,omitempty"`

	// get_conversation_state seeds the compact log if it was never loaded.
	SeedCompact []types.ConversationMessage `json:"-"`

	// github_export
	Owner       string `json:"owner,omitempty"`
	Repo        string `json:"repo,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	Private     bool   `json:"private,omitempty"`
	CommitMsg   string `json:"commitMsg,omitempty"`
}

// ImageData is one image attached to a user_suggestion frame.
type ImageData struct {
	Data string `json:"data"`
	Size int    `json:"size"`
}

// Handler parses and executes inbound frames, replying on the session's
// event bus and never letting a handler panic/error propagate past the
// channel boundary (spec §4.13: "All exceptions thrown by handlers are
// caught and surfaced as per-channel errors, never propagated").
type Handler struct {
	sessionID   string
	projectType types.ProjectType
	dispatcher  *Dispatcher
	state       *session.StateStore
	convo       *session.ConversationStore
	caps        agentcap.Capabilities
	deployMgr   *deploy.Manager
	debugAsst   *debug.Assistant
	cancelCtl   *cancel.Controller
	vcsStore    *vcs.Store
	store       *storage.Storage
	shareMgr    *sharing.Manager
	logger      zerolog.Logger
}

// NewHandler builds a Control-Message Handler bound to one session's
// collaborators. vcsStore, store and shareMgr back the github_export
// frame (spec §4.16); shareMgr may be nil, in which case a completed
// export simply carries no share URL.
func NewHandler(
	sessionID string,
	projectType types.ProjectType,
	dispatcher *Dispatcher,
	state *session.StateStore,
	convo *session.ConversationStore,
	caps agentcap.Capabilities,
	deployMgr *deploy.Manager,
	debugAsst *debug.Assistant,
	cancelCtl *cancel.Controller,
	vcsStore *vcs.Store,
	store *storage.Storage,
	shareMgr *sharing.Manager,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		sessionID:   sessionID,
		projectType: projectType,
		dispatcher:  dispatcher,
		state:       state,
		convo:       convo,
		caps:        caps,
		deployMgr:   deployMgr,
		debugAsst:   debugAsst,
		cancelCtl:   cancelCtl,
		vcsStore:    vcsStore,
		store:       store,
		shareMgr:    shareMgr,
		logger:      logger.With().Str("component", "control_message_handler").Logger(),
	}
}

// Handle dispatches one inbound frame, broadcasting the outcome on the
// session event bus. It never returns an error to its caller — every
// failure becomes an `error` event instead, matching spec §4.13's
// never-propagate rule.
func (h *Handler) Handle(ctx context.Context, frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			h.emitError(fmt.Sprintf("panic handling %q: %v", frame.Type, r))
		}
	}()

	var err error
	switch frame.Type {
	case "generate_all":
		err = h.handleGenerateAll(ctx)
	case "preview":
		_, err = h.caps.DeployPreview(ctx)
	case "deploy":
		err = h.handleDeploy(ctx)
	case "capture_screenshot":
		err = h.handleCaptureScreenshot()
	case "stop_generation":
		err = h.handleStopGeneration(ctx)
	case "resume_generation":
		err = h.dispatcher.ResumeGeneration(ctx)
	case "user_suggestion":
		err = h.handleUserSuggestion(ctx, frame)
	case "clear_conversation":
		err = h.handleClearConversation(ctx)
	case "get_conversation_state":
		err = h.handleGetConversationState(ctx, frame)
	case "get_model_configs":
		err = h.handleGetModelConfigs()
	case "github_export":
		err = h.handleGithubExport(ctx, frame)
	default:
		err = fmt.Errorf("unknown inbound frame type %q", frame.Type)
	}

	if err != nil {
		h.emitError(err.Error())
	}
}

func (h *Handler) handleGenerateAll(ctx context.Context) error {
	if h.cancelCtl.Active(cancel.OpGeneration) {
		// Already generating: ignore per spec §4.13.
		return nil
	}

	if err := h.setShouldBeGenerating(ctx, true); err != nil {
		return err
	}
	err := h.dispatcher.RequestStart(ctx)
	if err == nil {
		// Generation actually completed: clear the flag. On error the
		// controller's own cleanup path (stop/cancel/finalize) is
		// responsible for clearing it, matching spec's "clear the flag
		// only if generation actually completed".
		_ = h.setShouldBeGenerating(ctx, false)
	}
	return err
}

func (h *Handler) setShouldBeGenerating(ctx context.Context, v bool) error {
	switch h.projectType {
	case types.ProjectTypeApp:
		return h.state.UpdateApp(ctx, func(s *types.AppState) { s.ShouldBeGenerating = v })
	case types.ProjectTypeWorkflow:
		return h.state.UpdateWorkflow(ctx, func(s *types.WorkflowState) { s.ShouldBeGenerating = v })
	}
	return nil
}

func (h *Handler) handleDeploy(ctx context.Context) error {
	instanceID := h.sandboxInstanceID()
	deploymentURL, err := h.deployMgr.DeployToCloudflare(ctx, instanceID, deploy.Callbacks{
		OnStarted: func() {
			h.caps.Broadcast(event.CloudflareDeploymentStarted, event.CloudflareDeploymentEventData{SessionID: h.sessionID})
		},
	})
	if err != nil {
		h.caps.Broadcast(event.CloudflareDeploymentError, event.CloudflareDeploymentEventData{SessionID: h.sessionID, Error: err.Error()})
		return err
	}
	h.caps.Broadcast(event.CloudflareDeploymentCompleted, event.CloudflareDeploymentEventData{SessionID: h.sessionID, DeploymentURL: deploymentURL})
	return nil
}

func (h *Handler) sandboxInstanceID() string {
	if h.projectType == types.ProjectTypeApp {
		return h.state.GetApp().SandboxInstanceID
	}
	return h.state.GetWorkflow().SandboxInstanceID
}

// handleCaptureScreenshot: the spec reserves capture_screenshot for app
// sessions, but the Sandbox Client contract (C8) this runtime targets has
// no screenshot RPC (CreateInstance/GetFiles/ExecuteCommands/GetLogs/
// RunStaticAnalysis/FetchRuntimeErrors/UpdateProjectName/Deploy/
// PreviewStatus only) — there is nothing to invoke even on an app
// session, so this always replies with an explicit not-implemented error
// rather than silently no-op-succeeding (see DESIGN.md, C14).
func (h *Handler) handleCaptureScreenshot() error {
	if h.projectType != types.ProjectTypeApp {
		return fmt.Errorf("capture_screenshot is app-only")
	}
	return fmt.Errorf("capture_screenshot: not supported by the current sandbox client")
}

func (h *Handler) handleStopGeneration(ctx context.Context) error {
	if err := h.dispatcher.StopGeneration(ctx); err != nil {
		return err
	}
	h.caps.Broadcast(event.GenerationStopped, event.GenerationStoppedData{SessionID: h.sessionID})
	return nil
}

func (h *Handler) handleUserSuggestion(ctx context.Context, frame Frame) error {
	if h.projectType != types.ProjectTypeApp {
		return fmt.Errorf("user_suggestion is app-only")
	}
	if len(frame.Images) > types.MaxImagesPerMessage {
		return fmt.Errorf("user_suggestion: at most %d images are allowed", types.MaxImagesPerMessage)
	}
	for _, img := range frame.Images {
		if img.Size > types.MaxImageSizeBytes {
			return fmt.Errorf("user_suggestion: image exceeds %d bytes", types.MaxImageSizeBytes)
		}
	}
	return h.dispatcher.QueueSuggestion(ctx, frame.Text)
}

func (h *Handler) handleClearConversation(ctx context.Context) error {
	h.convo.ClearCompact(ctx)
	h.caps.Broadcast(event.ConversationCleared, event.ConversationClearedData{SessionID: h.sessionID})
	return nil
}

func (h *Handler) handleGetConversationState(ctx context.Context, frame Frame) error {
	state := h.convo.GetState(ctx, frame.SeedCompact)
	h.caps.Broadcast(event.ConversationState, event.ConversationStateData{Running: state.Running, Full: state.Full})
	return nil
}

// handleGithubExport implements spec §4.16's export-to-GitHub frame: it
// pulls the session's VCS history through credentials.ExportGitObjects,
// pushes it via credentials.PushToGitHub, and broadcasts the resulting
// repository and share URLs on github_export_completed.
func (h *Handler) handleGithubExport(ctx context.Context, frame Frame) error {
	if h.vcsStore == nil || h.store == nil {
		return fmt.Errorf("github_export: not available for this session")
	}
	if frame.Owner == "" || frame.Repo == "" || frame.AccessToken == "" {
		return fmt.Errorf("github_export: owner, repo and accessToken are required")
	}

	query, templateDetails := h.exportContext()
	export := credentials.ExportGitObjects(h.vcsStore, query, templateDetails)

	_, err := credentials.PushToGitHub(ctx, credentials.GitHubPushRequest{
		SessionID:   h.sessionID,
		Owner:       frame.Owner,
		Repo:        frame.Repo,
		Private:     frame.Private,
		AccessToken: frame.AccessToken,
		CommitMsg:   frame.CommitMsg,
		Export:      export,
	}, h.caps, h.store, h.shareMgr)
	return err
}

// exportContext reads the query string and template details a
// github_export needs out of whichever state variant is active.
func (h *Handler) exportContext() (string, credentials.TemplateDetails) {
	switch h.projectType {
	case types.ProjectTypeApp:
		s := h.state.GetApp()
		return s.Query, credentials.TemplateDetails{ProjectType: h.projectType, TemplateName: s.TemplateName}
	case types.ProjectTypeWorkflow:
		s := h.state.GetWorkflow()
		return s.Query, credentials.TemplateDetails{ProjectType: h.projectType, TemplateName: s.TemplateName}
	default:
		return "", credentials.TemplateDetails{ProjectType: h.projectType}
	}
}

func (h *Handler) handleGetModelConfigs() error {
	if h.projectType != types.ProjectTypeApp {
		return fmt.Errorf("get_model_configs is app-only")
	}
	h.caps.Broadcast(event.ModelConfigsInfo, event.ModelConfigsInfoData{})
	return nil
}

func (h *Handler) emitError(message string) {
	h.logger.Warn().Str("session", h.sessionID).Msg(message)
	h.caps.Broadcast(event.Error, event.ErrorData{SessionID: h.sessionID, Message: message})
}
