package session

import (
	"context"

	"github.com/sessionagent/runtime/pkg/types"
)

// appFilesAccessor and workflowFilesAccessor adapt StateStore to
// files.StateAccessor for each project variant, so the File Manager (C3)
// never needs to know which variant it is attached to.

type appFilesAccessor struct{ store *StateStore }

// NewAppFilesAccessor returns the files.StateAccessor for an app session.
func NewAppFilesAccessor(store *StateStore) *appFilesAccessor { return &appFilesAccessor{store} }

func (a *appFilesAccessor) FilesMap(ctx context.Context) map[string]types.FileRecord {
	return a.store.GetApp().GeneratedFilesMap
}

func (a *appFilesAccessor) UpdateFilesMap(ctx context.Context, fn func(map[string]types.FileRecord)) error {
	return a.store.UpdateApp(ctx, func(s *types.AppState) {
		if s.GeneratedFilesMap == nil {
			s.GeneratedFilesMap = make(map[string]types.FileRecord)
		}
		fn(s.GeneratedFilesMap)
	})
}

type workflowFilesAccessor struct{ store *StateStore }

// NewWorkflowFilesAccessor returns the files.StateAccessor for a workflow session.
func NewWorkflowFilesAccessor(store *StateStore) *workflowFilesAccessor {
	return &workflowFilesAccessor{store}
}

func (w *workflowFilesAccessor) FilesMap(ctx context.Context) map[string]types.FileRecord {
	return w.store.GetWorkflow().GeneratedFilesMap
}

func (w *workflowFilesAccessor) UpdateFilesMap(ctx context.Context, fn func(map[string]types.FileRecord)) error {
	return w.store.UpdateWorkflow(ctx, func(s *types.WorkflowState) {
		if s.GeneratedFilesMap == nil {
			s.GeneratedFilesMap = make(map[string]types.FileRecord)
		}
		fn(s.GeneratedFilesMap)
	})
}
