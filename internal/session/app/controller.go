// Package app implements the Phasic App Controller (C10): the
// plan-implement-review-finalize state machine driving app-variant
// sessions. It is the app-specific half of the cross-variant
// polymorphism the dispatcher (C13) chooses between at session creation
// (spec §4.9, §9 "Cross-variant polymorphism").
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sessionagent/runtime/internal/agentcap"
	"github.com/sessionagent/runtime/internal/cancel"
	"github.com/sessionagent/runtime/internal/event"
	"github.com/sessionagent/runtime/internal/plugin"
	"github.com/sessionagent/runtime/internal/provider"
	"github.com/sessionagent/runtime/internal/session"
	"github.com/sessionagent/runtime/internal/session/agentloop"
	"github.com/sessionagent/runtime/internal/tool"
	"github.com/sessionagent/runtime/pkg/types"
)

// Controller drives one app session's currentDevState state machine:
//
//	IDLE --generate_all--> PHASE_GENERATING --plan ok--> PHASE_IMPLEMENTING
//	                                                          |
//	                                      (loop while phases remain)
//	                                                          |
//	                                              PHASE_IMPLEMENTING --last phase--> REVIEWING --> FINALIZING --> IDLE
//
// Transitions happen only from within Run (spec §4.9's "no external
// component may write currentDevState directly").
type Controller struct {
	sessionID string
	state     *session.StateStore
	convo     *session.ConversationStore
	caps      agentcap.Capabilities
	tools     *tool.Registry
	prov      provider.Provider
	model     *types.Model
	cancelCtl *cancel.Controller
	plugins   *plugin.Manager
	logger    zerolog.Logger
}

// New builds a Phasic App Controller bound to one app session's
// collaborators.
func New(
	sessionID string,
	state *session.StateStore,
	convo *session.ConversationStore,
	caps agentcap.Capabilities,
	tools *tool.Registry,
	prov provider.Provider,
	model *types.Model,
	cancelCtl *cancel.Controller,
	plugins *plugin.Manager,
	logger zerolog.Logger,
) *Controller {
	return &Controller{
		sessionID: sessionID,
		state:     state,
		convo:     convo,
		caps:      caps,
		tools:     tools,
		prov:      prov,
		model:     model,
		cancelCtl: cancelCtl,
		plugins:   plugins,
		logger:    logger.With().Str("controller", "app").Logger(),
	}
}

// GenerateAll is the generate_all entry point (spec §4.13): it runs the
// state machine to completion or until cancelled, returning once
// shouldBeGenerating should be cleared by the caller.
func (c *Controller) GenerateAll(ctx context.Context) error {
	tok := c.cancelCtl.GetOrCreate(cancel.OpGeneration)
	runCtx := tok.Context(ctx)

	if err := c.plugins.OnGenerationStart(runCtx); err != nil {
		c.logger.Warn().Err(err).Msg("onGenerationStart hooks reported errors")
	}
	c.caps.Broadcast(event.GenerationStarted, event.GenerationStartedData{SessionID: c.sessionID})

	cancelled, err := c.runStateMachine(runCtx, tok)
	c.cancelCtl.Cancel(cancel.OpGeneration)

	if err != nil {
		c.caps.Broadcast(event.Error, event.ErrorData{SessionID: c.sessionID, Message: err.Error()})
		_ = c.plugins.OnError(ctx, err, "generate_all")
		return err
	}
	if cancelled {
		c.caps.Broadcast(event.GenerationStopped, event.GenerationStoppedData{SessionID: c.sessionID})
		return nil
	}

	if err := c.plugins.OnGenerationComplete(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("onGenerationComplete hooks reported errors")
	}
	c.caps.Broadcast(event.GenerationCompleted, event.GenerationCompletedData{SessionID: c.sessionID})
	return nil
}

// runStateMachine advances currentDevState from wherever it currently
// sits through to IDLE (or until tok is aborted), returning cancelled=true
// if it stopped early because of that.
func (c *Controller) runStateMachine(ctx context.Context, tok *cancel.Token) (cancelled bool, err error) {
	for {
		if tok.Cancelled() || ctx.Err() != nil {
			return true, nil
		}

		st := c.state.GetApp()
		switch st.CurrentDevState {
		case types.DevStateIdle, "":
			if err := c.state.UpdateApp(ctx, func(s *types.AppState) { s.CurrentDevState = types.DevStatePhaseGenerating }); err != nil {
				return false, err
			}

		case types.DevStatePhaseGenerating:
			if err := c.runPlanning(ctx); err != nil {
				return false, err
			}

		case types.DevStatePhaseImplementing:
			done, err := c.runOnePhase(ctx)
			if err != nil {
				return false, err
			}
			if !done {
				continue
			}

		case types.DevStateReviewing:
			if err := c.runReview(ctx); err != nil {
				return false, err
			}

		case types.DevStateFinalizing:
			if err := c.runFinalize(ctx); err != nil {
				return false, err
			}
			return false, nil

		default:
			return false, fmt.Errorf("app controller: unknown currentDevState %q", st.CurrentDevState)
		}
	}
}

// runPlanning drives the PHASE_GENERATING step: one LLM dialogue with the
// alter_blueprint tool enabled, producing a blueprint and an ordered phase
// list. The phase list is read back off the blueprint document (an
// `phases: [{name, description}]` array) — the spec names alter_blueprint
// as the only blueprint-mutating tool and does not add a dedicated
// declare-phases tool, so the blueprint doubles as the phase-list source
// of truth (see DESIGN.md, C10 Open Question).
func (c *Controller) runPlanning(ctx context.Context) error {
	const systemPrompt = `You are planning a multi-phase application build. Call alter_blueprint ` +
		`exactly once with a JSON object containing a "phases" array of {"name","description"} ` +
		`objects describing the ordered implementation phases, plus any other plan detail you need.`

	history := c.recentHistory(ctx)
	toolCtx := c.toolContext(ctx)

	result, err := agentloop.Run(ctx, agentloop.Deps{Provider: c.prov, Model: c.model, Tools: c.tools, ToolCtx: toolCtx}, systemPrompt, history)
	if err != nil {
		return fmt.Errorf("app controller: planning: %w", err)
	}
	c.recordMessages(ctx, result.NewMessages)
	if result.Stop == agentloop.StopCancelled {
		return nil
	}

	phases := phasesFromBlueprint(c.state.GetApp().Blueprint)
	if len(phases) == 0 {
		phases = []types.Phase{{Name: "implementation", Description: "Implement the requested application."}}
	}
	if len(phases) > types.MaxPhases {
		phases = phases[:types.MaxPhases]
	}

	return c.state.UpdateApp(ctx, func(s *types.AppState) {
		s.GeneratedPhases = phases
		s.CurrentDevState = types.DevStatePhaseImplementing
	})
}

// runOnePhase implements the first non-completed phase, draining any
// pendingUserInputs queued since the last boundary first (spec §4.9:
// "drained at the next phase boundary"). done reports whether every
// phase is now complete (the caller should move to REVIEWING).
func (c *Controller) runOnePhase(ctx context.Context) (done bool, err error) {
	c.drainPendingInputs(ctx)

	st := c.state.GetApp()
	idx := firstIncomplete(st.GeneratedPhases)
	if idx < 0 || st.PhasesCounter >= types.MaxPhases {
		if err := c.state.UpdateApp(ctx, func(s *types.AppState) { s.CurrentDevState = types.DevStateReviewing }); err != nil {
			return false, err
		}
		return true, nil
	}
	phase := st.GeneratedPhases[idx]

	c.caps.Broadcast(event.PhaseGenerating, event.PhaseEventData{SessionID: c.sessionID, Phase: phase.Name})
	if err := c.state.UpdateApp(ctx, func(s *types.AppState) {
		name := phase.Name
		s.CurrentPhase = &name
	}); err != nil {
		return false, err
	}
	_ = c.plugins.BeforeFilesGenerated(ctx, phase.Name, phase.Description)
	c.caps.Broadcast(event.PhaseImplementing, event.PhaseEventData{SessionID: c.sessionID, Phase: phase.Name})

	systemPrompt := fmt.Sprintf(
		"You are implementing phase %q of a multi-phase application build. "+
			"Phase goal: %s. Use generate_files/regenerate_file to write the files this phase needs.",
		phase.Name, phase.Description,
	)
	history := c.recentHistory(ctx)
	toolCtx := c.toolContext(ctx)

	result, err := agentloop.Run(ctx, agentloop.Deps{Provider: c.prov, Model: c.model, Tools: c.tools, ToolCtx: toolCtx}, systemPrompt, history)
	if err != nil {
		return false, fmt.Errorf("app controller: phase %q: %w", phase.Name, err)
	}
	c.recordMessages(ctx, result.NewMessages)

	if result.Stop == agentloop.StopCancelled {
		// Leave completed=false: resume picks this phase back up (spec §4.9).
		return false, nil
	}

	_ = c.plugins.AfterFilesGenerated(ctx, phase.Name, result.FinalText)
	c.caps.Broadcast(event.PhaseImplemented, event.PhaseEventData{SessionID: c.sessionID, Phase: phase.Name})

	if err := c.state.UpdateApp(ctx, func(s *types.AppState) {
		for i := range s.GeneratedPhases {
			if s.GeneratedPhases[i].Name == phase.Name {
				s.GeneratedPhases[i].Completed = true
				break
			}
		}
		s.PhasesCounter++
		s.MVPGenerated = true
	}); err != nil {
		return false, err
	}
	return false, nil
}

// runReview runs one review dialogue over the generated files before
// finalizing. It is deliberately a single pass, not a loop, to bound
// review cost; reviewCycles is incremented for observability.
func (c *Controller) runReview(ctx context.Context) error {
	if err := c.state.UpdateApp(ctx, func(s *types.AppState) { s.ReviewingInitiated = true }); err != nil {
		return err
	}

	const systemPrompt = `Review the files generated so far with read_files. Use regenerate_file to fix ` +
		`anything broken. When satisfied, stop calling tools.`
	history := c.recentHistory(ctx)
	toolCtx := c.toolContext(ctx)

	result, err := agentloop.Run(ctx, agentloop.Deps{Provider: c.prov, Model: c.model, Tools: c.tools, ToolCtx: toolCtx}, systemPrompt, history)
	if err != nil {
		return fmt.Errorf("app controller: review: %w", err)
	}
	c.recordMessages(ctx, result.NewMessages)
	if result.Stop == agentloop.StopCancelled {
		return nil
	}

	return c.state.UpdateApp(ctx, func(s *types.AppState) {
		s.ReviewCycles++
		s.CurrentDevState = types.DevStateFinalizing
	})
}

// runFinalize deploys the reviewed files to the sandbox preview and
// returns the state machine to IDLE.
func (c *Controller) runFinalize(ctx context.Context) error {
	_ = c.plugins.BeforeDeployment(ctx)
	previewURL, err := c.caps.DeployPreview(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("finalize: deploy preview failed")
	} else {
		_ = c.plugins.AfterDeployment(ctx, previewURL)
	}

	return c.state.UpdateApp(ctx, func(s *types.AppState) {
		s.CurrentDevState = types.DevStateIdle
		s.CurrentPhase = nil
		s.ShouldBeGenerating = false
	})
}

// StopGeneration implements stop_generation (spec §4.13): aborts the
// current generation token and clears shouldBeGenerating.
func (c *Controller) StopGeneration(ctx context.Context) error {
	c.cancelCtl.Cancel(cancel.OpGeneration)
	return c.state.UpdateApp(ctx, func(s *types.AppState) { s.ShouldBeGenerating = false })
}

// ResumeGeneration implements resume_generation (app-only, spec §4.13):
// sets shouldBeGenerating and restarts the state machine, which picks up
// at the first non-completed phase.
func (c *Controller) ResumeGeneration(ctx context.Context) error {
	if c.cancelCtl.Active(cancel.OpGeneration) {
		return nil
	}
	if err := c.state.UpdateApp(ctx, func(s *types.AppState) { s.ShouldBeGenerating = true }); err != nil {
		return err
	}
	c.caps.Broadcast(event.GenerationResumed, event.GenerationResumedData{SessionID: c.sessionID})
	return c.GenerateAll(ctx)
}

// QueueSuggestion implements user_suggestion for app sessions (spec
// §4.13): image-count/size validation happens in the control-message
// handler (C14) before this is called.
func (c *Controller) QueueSuggestion(ctx context.Context, text string) error {
	return c.caps.QueueUserInput(ctx, text)
}

func (c *Controller) drainPendingInputs(ctx context.Context) {
	st := c.state.GetApp()
	if len(st.PendingUserInputs) == 0 {
		return
	}
	for i, in := range st.PendingUserInputs {
		c.convo.AddMessage(ctx, types.ConversationMessage{
			ConversationID: fmt.Sprintf("suggestion-%d-%d", st.PhasesCounter, i),
			Role:           "user",
			Content:        in,
			CreatedAt:      time.Now().UnixMilli(),
		})
	}
	_ = c.state.UpdateApp(ctx, func(s *types.AppState) { s.PendingUserInputs = nil })
}

func (c *Controller) recentHistory(ctx context.Context) []types.ConversationMessage {
	return c.convo.GetState(ctx, c.state.GetApp().CompactConversation).Running
}

func (c *Controller) recordMessages(ctx context.Context, msgs []types.ConversationMessage) {
	for _, m := range msgs {
		c.convo.AddMessage(ctx, m)
	}
}

func (c *Controller) toolContext(ctx context.Context) *tool.Context {
	return &tool.Context{
		SessionID:    c.sessionID,
		Capabilities: c.caps,
	}
}

// firstIncomplete returns the index of the first phase with
// Completed=false, or -1 if every phase is done.
func firstIncomplete(phases []types.Phase) int {
	for i, p := range phases {
		if !p.Completed {
			return i
		}
	}
	return -1
}

// phasesFromBlueprint extracts an ordered phase list from the blueprint
// document's "phases" array, if present.
func phasesFromBlueprint(blueprint []byte) []types.Phase {
	if len(blueprint) == 0 {
		return nil
	}
	var doc struct {
		Phases []types.Phase `json:"phases"`
	}
	if err := json.Unmarshal(blueprint, &doc); err != nil {
		return nil
	}
	return doc.Phases
}
