package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionagent/runtime/internal/cancel"
	"github.com/sessionagent/runtime/internal/deploy"
	"github.com/sessionagent/runtime/internal/event"
	"github.com/sessionagent/runtime/internal/files"
	"github.com/sessionagent/runtime/internal/sandbox"
	"github.com/sessionagent/runtime/internal/storage"
	"github.com/sessionagent/runtime/internal/vcs"
	"github.com/sessionagent/runtime/pkg/types"
)

func newTestCapabilities(t *testing.T) (*Capabilities, *StateStore) {
	t.Helper()
	store := storage.New(t.TempDir())
	state := NewStateStore(store, "sess-1", types.ProjectTypeApp)
	state.Seed(&types.AppState{}, nil)

	vcsStore := vcs.NewStore()
	fileMgr := files.NewManager(NewAppFilesAccessor(state), vcsStore)
	bus := event.NewSessionBus("sess-1")
	cancelCtl := cancel.NewController()
	fake := sandbox.NewFake()
	deployMgr := deploy.NewManager(fake)

	caps := NewCapabilities("sess-1", types.ProjectTypeApp, state, fileMgr, vcsStore, bus, cancelCtl, deployMgr, fake)
	return caps, state
}

func TestCapabilities_WriteFilesCommitsAndBroadcasts(t *testing.T) {
	caps, _ := newTestCapabilities(t)

	received := make(chan event.FileEventData, 1)
	eventBusOf(t, caps).Attach(recorderChannel(func(e event.Event) {
		if d, ok := e.Data.(event.FileEventData); ok {
			received <- d
		}
	}))
	defer eventBusOf(t, caps).Close()

	saved, err := caps.WriteFiles(context.Background(), []types.FileRecord{
		{FilePath: "src/index.ts", FileContents: "export default {}"},
	}, "initial commit")
	require.NoError(t, err)
	assert.Len(t, saved, 1)

	files := caps.ReadFiles(context.Background())
	assert.Len(t, files, 1)
	assert.Equal(t, "src/index.ts", files[0].FilePath)

	select {
	case d := <-received:
		assert.Equal(t, "src/index.ts", d.FilePath)
	case <-time.After(time.Second):
		t.Fatal("expected a file_generated event to be broadcast")
	}
}

func TestCapabilities_UpdateBlueprintRejectedForWorkflowSession(t *testing.T) {
	caps, _ := newTestCapabilities(t)
	caps.projectType = types.ProjectTypeWorkflow
	err := caps.UpdateBlueprint(context.Background(), []byte(`{}`))
	assert.Error(t, err)
}

func TestCapabilities_GenerationDoneClosesOnCancel(t *testing.T) {
	caps, _ := newTestCapabilities(t)
	done := caps.GenerationDone(context.Background())
	select {
	case <-done:
		t.Fatal("expected generation token to be open")
	default:
	}
	caps.cancel.Cancel(cancel.OpGeneration)
	<-done
}

func TestCapabilities_MergeWorkflowMetadata_UnionsMapsLastWriterWinsScalars(t *testing.T) {
	store := storage.New(t.TempDir())
	state := NewStateStore(store, "sess-2", types.ProjectTypeWorkflow)
	state.Seed(nil, &types.WorkflowState{})
	vcsStore := vcs.NewStore()
	fileMgr := files.NewManager(NewWorkflowFilesAccessor(state), vcsStore)
	bus := event.NewSessionBus("sess-2")
	fake := sandbox.NewFake()
	caps := NewCapabilities("sess-2", types.ProjectTypeWorkflow, state, fileMgr, vcsStore, bus, cancel.NewController(), deploy.NewManager(fake), fake)

	ctx := context.Background()
	require.NoError(t, caps.MergeWorkflowMetadata(ctx, types.WorkflowMetadata{
		Name:    "first",
		EnvVars: map[string]string{"A": "1"},
	}))
	require.NoError(t, caps.MergeWorkflowMetadata(ctx, types.WorkflowMetadata{
		Name:    "second",
		EnvVars: map[string]string{"B": "2"},
	}))

	got := state.GetWorkflow().WorkflowMetadata
	assert.Equal(t, "second", got.Name)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, got.EnvVars)
}

// --- test helpers -----------------------------------------------------------

type recorderChannel func(event.Event)

func (f recorderChannel) Send(e event.Event) error { f(e); return nil }

func eventBusOf(t *testing.T, c *Capabilities) *event.SessionBus {
	t.Helper()
	return c.bus
}
