// Package debug implements the Deep-Debug Assistant (C12, spec §4.11): an
// isolated tool-using LLM run investigating a reported issue against the
// session's current files and runtime errors, producing a transcript.
//
// Grounded on the teacher's internal/executor/subagent.go shape (an
// isolated LLM run spawned against a provider/tool registry, tracked by
// session id, returning a result rather than mutating shared state
// directly) — generalized here to drive through the shared
// internal/session/agentloop package instead of the teacher's own
// subagent wiring, which depended on package types this module dropped.
package debug

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sessionagent/runtime/internal/agentcap"
	"github.com/sessionagent/runtime/internal/cancel"
	"github.com/sessionagent/runtime/internal/provider"
	"github.com/sessionagent/runtime/internal/session"
	"github.com/sessionagent/runtime/internal/session/agentloop"
	"github.com/sessionagent/runtime/internal/tool"
	"github.com/sessionagent/runtime/pkg/types"
)

// Assistant runs deep-debug investigations for one session. Only one run
// may be in flight at a time (spec §4.11): a second call while one is
// running awaits the first's result rather than being rejected or
// starting a concurrent second run.
type Assistant struct {
	sessionID   string
	projectType types.ProjectType
	state       *session.StateStore
	caps        agentcap.Capabilities
	tools       *tool.Registry
	prov        provider.Provider
	model       *types.Model
	cancelCtl   *cancel.Controller
	logger      zerolog.Logger

	mu      sync.Mutex
	current *run
}

type run struct {
	done       chan struct{}
	transcript string
	err        error
}

// New builds a Deep-Debug Assistant bound to one session's collaborators.
func New(
	sessionID string,
	projectType types.ProjectType,
	state *session.StateStore,
	caps agentcap.Capabilities,
	tools *tool.Registry,
	prov provider.Provider,
	model *types.Model,
	cancelCtl *cancel.Controller,
	logger zerolog.Logger,
) *Assistant {
	return &Assistant{
		sessionID:   sessionID,
		projectType: projectType,
		state:       state,
		caps:        caps,
		tools:       tools,
		prov:        prov,
		model:       model,
		cancelCtl:   cancelCtl,
		logger:      logger.With().Str("component", "deep_debug").Logger(),
	}
}

// Start matches session.DeepDebugStarter's signature so it can be bound
// directly via Capabilities.SetDeepDebugStarter. If a run is already in
// flight, Start awaits its completion instead of launching a second one.
func (a *Assistant) Start(ctx context.Context, sessionID, issue, priorTranscript string, focusPrefixes []string) (string, error) {
	a.mu.Lock()
	if a.current != nil {
		r := a.current
		a.mu.Unlock()
		select {
		case <-r.done:
			return r.transcript, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	r := &run{done: make(chan struct{})}
	a.current = r
	a.mu.Unlock()

	transcript, err := a.execute(ctx, issue, priorTranscript, focusPrefixes)

	a.mu.Lock()
	r.transcript, r.err = transcript, err
	close(r.done)
	if a.current == r {
		a.current = nil
	}
	a.mu.Unlock()

	return transcript, err
}

// execute runs the procedure spec §4.11 describes: clear runtime errors,
// build a focus-filtered file index, run a tool-using LLM loop, persist
// the resulting transcript.
func (a *Assistant) execute(ctx context.Context, issue, priorTranscript string, focusPrefixes []string) (string, error) {
	tok := a.cancelCtl.GetOrCreate(cancel.OpDeepDebug)
	runCtx := tok.Context(ctx)
	defer a.cancelCtl.Cancel(cancel.OpDeepDebug)

	errs, err := a.caps.RuntimeErrors(runCtx, true)
	if err != nil {
		return "", fmt.Errorf("deep debug: fetch runtime errors: %w", err)
	}

	files := a.caps.ReadFiles(runCtx)
	var filesIndex strings.Builder
	for _, f := range files {
		if !matchesAnyPrefix(f.FilePath, focusPrefixes) {
			continue
		}
		fmt.Fprintf(&filesIndex, "--- %s ---\n%s\n\n", f.FilePath, f.FileContents)
	}

	var sb strings.Builder
	sb.WriteString("Issue reported:\n")
	sb.WriteString(issue)
	sb.WriteString("\n\nRecent runtime errors:\n")
	if len(errs) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, e := range errs {
		sb.WriteString(e)
		sb.WriteString("\n")
	}
	if priorTranscript != "" {
		sb.WriteString("\nPrior deep-debug transcript:\n")
		sb.WriteString(priorTranscript)
		sb.WriteString("\n")
	}
	sb.WriteString("\nFiles in scope:\n")
	sb.WriteString(filesIndex.String())

	systemPrompt := `You are a debugging assistant investigating a reported issue in a generated project. ` +
		`Use read_files and get_logs to gather more context, and regenerate_file (if available) to propose ` +
		`fixes. Conclude with a clear diagnosis and, if you changed anything, a summary of the change.`

	history := []types.ConversationMessage{{ConversationID: "deep-debug-issue", Role: "user", Content: sb.String()}}
	toolCtx := &tool.Context{SessionID: a.sessionID, Capabilities: a.caps}

	result, err := agentloop.Run(runCtx, agentloop.Deps{Provider: a.prov, Model: a.model, Tools: a.tools, ToolCtx: toolCtx}, systemPrompt, history)
	if err != nil {
		return "", fmt.Errorf("deep debug: %w", err)
	}
	if result.Stop == agentloop.StopCancelled {
		return "", context.Canceled
	}

	transcript := result.FinalText
	a.persistTranscript(ctx, transcript)
	return transcript, nil
}

func (a *Assistant) persistTranscript(ctx context.Context, transcript string) {
	switch a.projectType {
	case types.ProjectTypeApp:
		_ = a.state.UpdateApp(ctx, func(s *types.AppState) { s.LastDeepDebugTranscript = transcript })
	case types.ProjectTypeWorkflow:
		_ = a.state.UpdateWorkflow(ctx, func(s *types.WorkflowState) { s.LastDeepDebugTranscript = transcript })
	}
}

func matchesAnyPrefix(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
