package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionagent/runtime/internal/agentcap"
	"github.com/sessionagent/runtime/internal/event"
	"github.com/sessionagent/runtime/internal/sandbox"
	"github.com/sessionagent/runtime/internal/vcs"
	"github.com/sessionagent/runtime/pkg/types"
)

// stubCapabilities is a minimal agentcap.Capabilities for hook tests;
// every method beyond SessionID/ProjectType is unused here.
type stubCapabilities struct{ sessionID string }

func (s *stubCapabilities) SessionID() string                  { return s.sessionID }
func (s *stubCapabilities) ProjectType() types.ProjectType      { return types.ProjectTypeApp }
func (s *stubCapabilities) ReadFile(context.Context, string) (types.FileRecord, bool) {
	return types.FileRecord{}, false
}
func (s *stubCapabilities) ReadFiles(context.Context) []types.FileRecord { return nil }
func (s *stubCapabilities) WriteFiles(context.Context, []types.FileRecord, string) ([]types.FileRecord, error) {
	return nil, nil
}
func (s *stubCapabilities) DeleteFiles(context.Context, []string, string) error { return nil }
func (s *stubCapabilities) ExecCommands(context.Context, []string) ([]sandbox.CommandResult, error) {
	return nil, nil
}
func (s *stubCapabilities) DeployPreview(context.Context) (string, error)         { return "", nil }
func (s *stubCapabilities) GetLogs(context.Context, bool) ([]string, error)       { return nil, nil }
func (s *stubCapabilities) RuntimeErrors(context.Context, bool) ([]string, error) { return nil, nil }
func (s *stubCapabilities) UpdateProjectName(context.Context, string) error       { return nil }
func (s *stubCapabilities) GitLog(context.Context) []vcs.Commit                   { return nil }
func (s *stubCapabilities) GitShow(context.Context, string) (vcs.Tree, bool) {
	return vcs.Tree{}, false
}
func (s *stubCapabilities) Broadcast(event.EventType, any) {}
func (s *stubCapabilities) GenerationDone(context.Context) <-chan struct{} { return nil }
func (s *stubCapabilities) DeepDebugDone(context.Context) <-chan struct{}  { return nil }
func (s *stubCapabilities) UpdateBlueprint(context.Context, []byte) error  { return nil }
func (s *stubCapabilities) MergeWorkflowMetadata(context.Context, types.WorkflowMetadata) error {
	return nil
}
func (s *stubCapabilities) QueueUserInput(context.Context, string) error { return nil }
func (s *stubCapabilities) StartDeepDebug(context.Context, string, string, []string) (string, error) {
	return "", nil
}

var _ agentcap.Capabilities = (*stubCapabilities)(nil)

func newTestManager() *Manager {
	return NewManager(&stubCapabilities{sessionID: "sess-1"}, zerolog.Nop())
}

func TestRegister_RunsOnRegisterHook(t *testing.T) {
	m := newTestManager()
	called := false
	err := m.Register(context.Background(), Plugin{
		Name: "logger",
		Hooks: Hooks{
			OnRegister: func(ctx context.Context, agent agentcap.Capabilities) error {
				called = true
				assert.Equal(t, "sess-1", agent.SessionID())
				return nil
			},
		},
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, []string{"logger"}, m.Names())
}

func TestRegister_DuplicateNameIsNoOp(t *testing.T) {
	m := newTestManager()
	calls := 0
	hook := Hooks{OnRegister: func(context.Context, agentcap.Capabilities) error { calls++; return nil }}

	require.NoError(t, m.Register(context.Background(), Plugin{Name: "dup", Hooks: hook}))
	require.NoError(t, m.Register(context.Background(), Plugin{Name: "dup", Hooks: hook}))

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"dup"}, m.Names())
}

func TestHooks_RunInRegistrationOrder(t *testing.T) {
	m := newTestManager()
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		require.NoError(t, m.Register(context.Background(), Plugin{
			Name: name,
			Hooks: Hooks{
				OnGenerationStart: func(context.Context, agentcap.Capabilities) error {
					order = append(order, name)
					return nil
				},
			},
		}))
	}

	require.NoError(t, m.OnGenerationStart(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestHooks_OneFailureDoesNotStopLaterHooks(t *testing.T) {
	m := newTestManager()
	var ran []string
	require.NoError(t, m.Register(context.Background(), Plugin{
		Name: "failing",
		Hooks: Hooks{
			OnGenerationComplete: func(context.Context, agentcap.Capabilities) error {
				ran = append(ran, "failing")
				return errors.New("boom")
			},
		},
	}))
	require.NoError(t, m.Register(context.Background(), Plugin{
		Name: "ok",
		Hooks: Hooks{
			OnGenerationComplete: func(context.Context, agentcap.Capabilities) error {
				ran = append(ran, "ok")
				return nil
			},
		},
	}))

	err := m.OnGenerationComplete(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"failing", "ok"}, ran)
}

func TestUnregister_RunsOnUnregisterAndRemoves(t *testing.T) {
	m := newTestManager()
	called := false
	require.NoError(t, m.Register(context.Background(), Plugin{
		Name: "temp",
		Hooks: Hooks{
			OnUnregister: func(context.Context, agentcap.Capabilities) error { called = true; return nil },
		},
	}))

	m.Unregister(context.Background(), "temp")

	assert.True(t, called)
	assert.Empty(t, m.Names())
}
