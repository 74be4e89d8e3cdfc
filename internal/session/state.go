// Package session implements the per-session agent runtime's state and
// conversation layers: the State Store (C1) and Conversation Store (C2),
// plus the Capabilities (spec §9) that bind them to the File Manager,
// VCS, Event Bus, Cancellation Controller, Deployment Manager, and
// Sandbox Client behind one tool-facing interface. The phasic app and
// agentic workflow controllers (C10/C11, in the app and workflow
// subpackages) depend on this package for state/conversation access but
// never on each other; the Project-Type Dispatcher and Control-Message
// Handler (C13/C14, internal/dispatch) and Session Lifecycle (C16) sit a
// level above all three, since they are the one place that legitimately
// knows both variants and therefore cannot itself live in a package either
// variant imports without a cycle.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sessionagent/runtime/internal/storage"
	"github.com/sessionagent/runtime/pkg/types"
)

// StateStore offers get/set/updateField/batchUpdate over a single session's
// authoritative record (C1). All writes are synchronous with respect to
// the session's single-threaded execution context; snapshots returned by
// Get never reflect later writes.
type StateStore struct {
	mu      sync.RWMutex
	store   *storage.Storage
	path    []string
	project types.ProjectType

	app *types.AppState
	wf  *types.WorkflowState
}

// NewStateStore creates a state store for one session, backed by the given
// storage at sessions/<id>/state.json.
func NewStateStore(store *storage.Storage, sessionID string, project types.ProjectType) *StateStore {
	return &StateStore{
		store:   store,
		path:    storage.SessionPath(sessionID, "state"),
		project: project,
	}
}

// GetApp returns an immutable snapshot of the app-variant state. Panics if
// this store was not created for an app session — callers must check
// ProjectType first (the dispatcher already guarantees this).
func (s *StateStore) GetApp() types.AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAppState(*s.app)
}

// GetWorkflow returns an immutable snapshot of the workflow-variant state.
func (s *StateStore) GetWorkflow() types.WorkflowState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneWorkflowState(*s.wf)
}

// SetApp replaces the whole app state and persists it.
func (s *StateStore) SetApp(ctx context.Context, state types.AppState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := cloneAppState(state)
	s.app = &clone
	return s.persistLocked(ctx)
}

// SetWorkflow replaces the whole workflow state and persists it.
func (s *StateStore) SetWorkflow(ctx context.Context, state types.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := cloneWorkflowState(state)
	s.wf = &clone
	return s.persistLocked(ctx)
}

// UpdateApp applies fn to the live app state in place and persists the
// result; a persistence error does not undo fn's changes. fn runs under
// the store's lock, matching the session's single-actor execution
// discipline.
func (s *StateStore) UpdateApp(ctx context.Context, fn func(*types.AppState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.app)
	return s.persistLocked(ctx)
}

// UpdateWorkflow applies fn to the live workflow state in place and
// persists the result; a persistence error does not undo fn's changes.
func (s *StateStore) UpdateWorkflow(ctx context.Context, fn func(*types.WorkflowState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.wf)
	return s.persistLocked(ctx)
}

// persistEnvelope wraps whichever variant is active for storage, since the
// backing row is one opaque serialized record (spec §6).
type persistEnvelope struct {
	ProjectType types.ProjectType    `json:"projectType"`
	App         *types.AppState      `json:"app,omitempty"`
	Workflow    *types.WorkflowState `json:"workflow,omitempty"`
}

func (s *StateStore) persistLocked(ctx context.Context) error {
	env := persistEnvelope{ProjectType: s.project, App: s.app, Workflow: s.wf}
	return s.store.Put(ctx, s.path, env)
}

// Load rehydrates state from durable storage on cold start. In-memory
// caches owned by other components (current-operation token, deep-debug
// promise, preview URL cache, pending images) are cleared by the caller,
// not here — this only restores the persisted record.
func (s *StateStore) Load(ctx context.Context) error {
	var env persistEnvelope
	if err := s.store.Get(ctx, s.path, &env); err != nil {
		return fmt.Errorf("session: load state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.app = env.App
	s.wf = env.Workflow
	if s.app == nil {
		s.app = &types.AppState{}
	}
	if s.wf == nil {
		s.wf = &types.WorkflowState{}
	}
	return nil
}

// Seed installs an initial in-memory state without persisting (used during
// initialize, before the first commit/save happens).
func (s *StateStore) Seed(app *types.AppState, wf *types.WorkflowState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if app == nil {
		app = &types.AppState{}
	}
	if wf == nil {
		wf = &types.WorkflowState{}
	}
	s.app, s.wf = app, wf
}

func cloneAppState(in types.AppState) types.AppState {
	data, _ := json.Marshal(in)
	var out types.AppState
	_ = json.Unmarshal(data, &out)
	return out
}

func cloneWorkflowState(in types.WorkflowState) types.WorkflowState {
	data, _ := json.Marshal(in)
	var out types.WorkflowState
	_ = json.Unmarshal(data, &out)
	return out
}
