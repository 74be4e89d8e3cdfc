// Session Lifecycle (C16, spec §4.15): the one place that constructs a
// whole session's collaborator graph and either seeds it fresh or
// rehydrates it from durable storage. Lives in this package, not
// internal/session, for the same import-cycle reason as C13/C14 — it is
// the one place that legitimately knows both the app and workflow
// controllers.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sessionagent/runtime/internal/agentcap"
	"github.com/sessionagent/runtime/internal/cancel"
	"github.com/sessionagent/runtime/internal/debug"
	"github.com/sessionagent/runtime/internal/deploy"
	"github.com/sessionagent/runtime/internal/event"
	"github.com/sessionagent/runtime/internal/files"
	"github.com/sessionagent/runtime/internal/plugin"
	"github.com/sessionagent/runtime/internal/project"
	"github.com/sessionagent/runtime/internal/provider"
	"github.com/sessionagent/runtime/internal/sandbox"
	"github.com/sessionagent/runtime/internal/scaffold"
	"github.com/sessionagent/runtime/internal/session"
	"github.com/sessionagent/runtime/internal/session/app"
	"github.com/sessionagent/runtime/internal/session/workflow"
	"github.com/sessionagent/runtime/internal/sharing"
	"github.com/sessionagent/runtime/internal/storage"
	"github.com/sessionagent/runtime/internal/tool"
	"github.com/sessionagent/runtime/internal/vcs"
	"github.com/sessionagent/runtime/pkg/types"
)

// InitArgs is the input to a brand-new session (spec §4.15 step 1-3): the
// caller-supplied identity and the opening request.
type InitArgs struct {
	AgentID      string
	UserID       string
	SessionID    string
	Query        string
	Hostname     string
	TemplateName string
	ProjectType  types.ProjectType

	// InferenceContext is opaque caller-supplied context (provider/model
	// hints, feature flags) folded into the seeded state verbatim.
	InferenceContext map[string]string

	// ScaffoldBaseFiles are the static, non-template scaffold files
	// (tsconfig.json, package.json, .gitignore, ...) copied into every new
	// project, keyed by path. Only consulted for workflow sessions — app
	// sessions start from an empty generated-files map and build their own
	// scaffold during phase generation.
	ScaffoldBaseFiles map[string]string

	// BootstrapCommands run once against the fresh sandbox instance before
	// the first deploy (e.g. `npm install`).
	BootstrapCommands []string
}

// Session bundles one session's fully-wired collaborator graph: the
// pieces C16 constructs and every other component (Handler, controllers,
// tools) is handed references into.
type Session struct {
	SessionID   string
	ProjectType types.ProjectType

	State        *session.StateStore
	Convo        *session.ConversationStore
	Caps         *session.Capabilities
	Bus          *event.SessionBus
	CancelCtl    *cancel.Controller
	VCS          *vcs.Store
	Files        *files.Manager
	DeployMgr    *deploy.Manager
	DebugAsst    *debug.Assistant
	Plugins      *plugin.Manager
	Dispatcher   *Dispatcher
	Handler      *Handler
	Scaffold     *scaffold.Provider // nil for app sessions
	Logger       zerolog.Logger
}

// Lifecycle owns the process-wide collaborators every session shares
// (storage, sandbox transport, provider registry, share-link registry)
// and builds per-session graphs on top of them.
type Lifecycle struct {
	storage  *storage.Storage
	sandbox  sandbox.Client
	models   *provider.Registry
	search   tool.SearchProvider
	shareMgr *sharing.Manager
	baseLog  zerolog.Logger
}

// NewLifecycle builds the Session Lifecycle against the process-wide
// collaborators it composes every session from. shareBaseURL prefixes
// every share link PushToGitHub issues; pass "" to fall back to a
// path-only prefix (see sharing.NewManager).
func NewLifecycle(store *storage.Storage, sandboxClient sandbox.Client, models *provider.Registry, search tool.SearchProvider, shareBaseURL string, baseLog zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		storage:  store,
		sandbox:  sandboxClient,
		models:   models,
		search:   search,
		shareMgr: sharing.NewManager(shareBaseURL),
		baseLog:  baseLog,
	}
}

// Initialize runs the 6-step procedure spec §4.15 describes for a brand
// new session: allocate identity, pick a project name, seed state,
// commit the scaffold to VCS, save it and deploy once.
func (l *Lifecycle) Initialize(ctx context.Context, args InitArgs) (*Session, error) {
	// Step 1: allocate a sandbox session id (the runtime session id
	// itself, already allocated by the caller) and a scoped logger.
	logger := l.baseLog.With().
		Str("agentId", args.AgentID).
		Str("sessionId", args.SessionID).
		Str("userId", args.UserID).
		Logger()

	// Step 2: pick a deterministic projectName — a short, lowercase
	// prefix of the query plus a stable per-session suffix, matching
	// types.ProjectNamePattern. Cached through internal/project so a
	// retried Initialize after a partial failure reuses the same name
	// instead of minting a new one.
	projectName := project.FromSession(args.SessionID, args.Query).Name()

	sess, err := l.build(args.SessionID, args.ProjectType, logger)
	if err != nil {
		return nil, err
	}

	base := types.BaseSessionState{
		ProjectName:       projectName,
		Query:             args.Query,
		SessionID:         args.SessionID,
		Hostname:          args.Hostname,
		TemplateName:      args.TemplateName,
		GeneratedFilesMap: make(map[string]types.FileRecord),
		Created:           nowMillis(),
		Updated:           nowMillis(),
	}

	var scaffoldFiles []types.FileRecord
	switch args.ProjectType {
	case types.ProjectTypeApp:
		// Step 3: seed initial app state. Phase generation itself builds
		// the scaffold during PHASE_GENERATING, so there is nothing to
		// commit here.
		sess.State.Seed(&types.AppState{BaseSessionState: base, CurrentDevState: types.DevStateIdle}, nil)
	case types.ProjectTypeWorkflow:
		scaffoldProvider := sess.Scaffold
		if len(args.ScaffoldBaseFiles) > 0 {
			scaffoldProvider = scaffold.New(args.ScaffoldBaseFiles)
		}
		out, err := scaffoldProvider.Build(projectName, types.WorkflowMetadata{Name: projectName}, "")
		if err != nil {
			return nil, fmt.Errorf("lifecycle: build scaffold: %w", err)
		}
		scaffoldFiles = out.AllFiles
		base.GeneratedFilesMap = filesMapFrom(scaffoldFiles)
		sess.State.Seed(nil, &types.WorkflowState{BaseSessionState: base, DeploymentStatus: types.DeploymentStatusIdle})
	default:
		return nil, fmt.Errorf("lifecycle: unknown project type %q", args.ProjectType)
	}

	// Step 4: initialize VCS and create the initial commit from the
	// scaffold (no commit for app sessions — their first commit lands
	// with the first generated phase).
	sess.VCS.Init()
	if len(scaffoldFiles) > 0 {
		contents := make([]vcs.FileContents, 0, len(scaffoldFiles))
		for _, f := range scaffoldFiles {
			contents = append(contents, vcs.FileContents{Path: f.FilePath, Contents: f.FileContents})
		}
		if _, err := sess.VCS.Commit(contents, "initial scaffold"); err != nil {
			return nil, fmt.Errorf("lifecycle: initial commit: %w", err)
		}
	}

	if err := sess.Plugins.OnInitialize(ctx); err != nil {
		logger.Warn().Err(err).Msg("plugin OnInitialize reported errors")
	}

	// Step 5: save the scaffold through the File Manager (so generated
	// file bookkeeping — diffs, sort order — goes through the same path
	// every later write does) and deploy once with a clean log slate.
	if len(scaffoldFiles) > 0 {
		if _, err := sess.Files.SaveGeneratedFiles(ctx, scaffoldFiles, "initial scaffold"); err != nil {
			return nil, fmt.Errorf("lifecycle: save scaffold files: %w", err)
		}
	}

	instance, previewURL, _, err := sess.DeployMgr.DeployToSandbox(ctx, args.SessionID, "", scaffoldFiles, args.BootstrapCommands, "", deploy.Callbacks{
		OnStarted: func() {
			sess.Bus.Broadcast(event.DeploymentStarted, event.DeploymentEventData{SessionID: args.SessionID})
		},
		OnCompleted: func(url string) {
			sess.Bus.Broadcast(event.DeploymentCompleted, event.DeploymentEventData{SessionID: args.SessionID, PreviewURL: url})
		},
		OnError: func(err error) {
			sess.Bus.Broadcast(event.DeploymentFailed, event.DeploymentEventData{SessionID: args.SessionID, Error: err.Error()})
		},
	})
	if err != nil {
		logger.Warn().Err(err).Msg("initial deploy failed; session still created")
	} else {
		_, _ = sess.Caps.GetLogs(ctx, true) // clearLogs=true per spec step 5
		if instance != nil {
			switch args.ProjectType {
			case types.ProjectTypeApp:
				_ = sess.State.UpdateApp(ctx, func(s *types.AppState) { s.SandboxInstanceID = instance.ID })
			case types.ProjectTypeWorkflow:
				_ = sess.State.UpdateWorkflow(ctx, func(s *types.WorkflowState) { s.SandboxInstanceID = instance.ID })
			}
		}
		_ = previewURL
	}

	// Step 6: the caller (server handler) reads the new state back off
	// sess.State itself; nothing further to return here.
	return sess, nil
}

// RehydrateAuto is Rehydrate for a caller that doesn't already know the
// session's project type (e.g. a server reattaching a channel after a
// process restart) — it peeks the persisted envelope's projectType field
// before building the collaborator graph.
func (l *Lifecycle) RehydrateAuto(ctx context.Context, sessionID string) (*Session, error) {
	var env struct {
		ProjectType types.ProjectType `json:"projectType"`
	}
	if err := l.storage.Get(ctx, storage.SessionPath(sessionID, "state"), &env); err != nil {
		return nil, fmt.Errorf("lifecycle: peek project type: %w", err)
	}
	return l.Rehydrate(ctx, sessionID, env.ProjectType)
}

// Rehydrate reconstructs a session's collaborator graph from durable
// state on cold start. In-memory caches that no component persists —
// the cancellation controller's current-operation token, the deep-debug
// in-flight promise, any cached preview URL, pending image attachments —
// start empty, matching spec §4.15's rehydration note; only the State
// Store and VCS restore from storage.
func (l *Lifecycle) Rehydrate(ctx context.Context, sessionID string, projectType types.ProjectType) (*Session, error) {
	logger := l.baseLog.With().Str("sessionId", sessionID).Logger()
	sess, err := l.build(sessionID, projectType, logger)
	if err != nil {
		return nil, err
	}
	if err := sess.State.Load(ctx); err != nil {
		return nil, fmt.Errorf("lifecycle: rehydrate state: %w", err)
	}
	sess.VCS.Init()
	return sess, nil
}

// build constructs every per-session collaborator and wires them
// together, without seeding or loading any state — the common core of
// Initialize and Rehydrate.
func (l *Lifecycle) build(sessionID string, projectType types.ProjectType, logger zerolog.Logger) (*Session, error) {
	model, err := l.models.DefaultModel()
	if err != nil {
		return nil, fmt.Errorf("lifecycle: no default model available: %w", err)
	}
	providers := l.models.List()
	if len(providers) == 0 {
		return nil, fmt.Errorf("lifecycle: no providers registered")
	}
	prov, err := l.models.Get(providers[0].ID())
	if err != nil {
		return nil, fmt.Errorf("lifecycle: resolve provider: %w", err)
	}

	stateStore := session.NewStateStore(l.storage, sessionID, projectType)
	convoStore := session.NewConversationStore(l.storage, sessionID)
	vcsStore := vcs.NewStore()
	bus := event.NewSessionBus(sessionID)
	cancelCtl := cancel.NewController()
	deployMgr := deploy.NewManager(l.sandbox)

	var fileMgr *files.Manager
	var toolRegistry *tool.Registry
	switch projectType {
	case types.ProjectTypeApp:
		fileMgr = files.NewManager(session.NewAppFilesAccessor(stateStore), vcsStore)
		toolRegistry = tool.NewAppRegistry(sessionID, l.search)
	case types.ProjectTypeWorkflow:
		fileMgr = files.NewManager(session.NewWorkflowFilesAccessor(stateStore), vcsStore)
		toolRegistry = tool.NewWorkflowRegistry(sessionID, l.search)
	default:
		return nil, fmt.Errorf("lifecycle: unknown project type %q", projectType)
	}

	caps := session.NewCapabilities(sessionID, projectType, stateStore, fileMgr, vcsStore, bus, cancelCtl, deployMgr, l.sandbox)
	plugins := plugin.NewManager(caps, logger)

	debugAsst := debug.New(sessionID, projectType, stateStore, caps, toolRegistry, prov, model, cancelCtl, logger)
	caps.SetDeepDebugStarter(debugAsst.Start)

	dispatcher := NewDispatcher(sessionID, projectType)

	var scaffoldProvider *scaffold.Provider
	switch projectType {
	case types.ProjectTypeApp:
		ctrl := app.New(sessionID, stateStore, convoStore, caps, toolRegistry, prov, model, cancelCtl, plugins, logger)
		dispatcher.Attach(ctrl)
	case types.ProjectTypeWorkflow:
		scaffoldProvider = scaffold.New(nil)
		ctrl := workflow.New(sessionID, stateStore, convoStore, caps, toolRegistry, prov, model, cancelCtl, plugins, scaffoldProvider, logger)
		dispatcher.Attach(ctrl)
	}

	handler := NewHandler(sessionID, projectType, dispatcher, stateStore, convoStore, caps, deployMgr, debugAsst, cancelCtl, vcsStore, l.storage, l.shareMgr, logger)

	return &Session{
		SessionID:   sessionID,
		ProjectType: projectType,
		State:       stateStore,
		Convo:       convoStore,
		Caps:        caps,
		Bus:         bus,
		CancelCtl:   cancelCtl,
		VCS:         vcsStore,
		Files:       fileMgr,
		DeployMgr:   deployMgr,
		DebugAsst:   debugAsst,
		Plugins:     plugins,
		Dispatcher:  dispatcher,
		Handler:     handler,
		Scaffold:    scaffoldProvider,
		Logger:      logger,
	}, nil
}

func filesMapFrom(records []types.FileRecord) map[string]types.FileRecord {
	m := make(map[string]types.FileRecord, len(records))
	for _, r := range records {
		m[r.FilePath] = r
	}
	return m
}

// nowMillis is the one place Initialize needs a timestamp; callers outside
// workflow scripts may use time.Now freely since this package isn't driven
// by the workflow tool's deterministic-replay constraint.
func nowMillis() int64 { return time.Now().UnixMilli() }
