// Package workflow implements the Agentic Workflow Controller (C11): a
// single tool-using LLM dialogue that produces a Cloudflare Workflow's
// source and metadata, followed by a scaffold regeneration so the
// deployable project matches the declared metadata (spec §4.10).
package workflow

import (
	"context"
	"fmt"

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

const systemPrompt = `You are building a single Cloudflare Workflow. Call generate_files to write ` +
	`src/index.ts (a class extending WorkflowEntrypoint) and any supporting files, and call ` +
	`configure_workflow_metadata to declare the workflow's name, description, params schema, env ` +
	`vars, secrets, and resource bindings. Both tools may be called more than once; ` +
	`configure_workflow_metadata calls merge onto the prior record. Stop calling tools once the ` +
	`workflow is complete.`

// ScaffoldRegenerator rebuilds the non-code project files (wrangler.jsonc,
// README.md, ...) from the current workflow metadata, per spec §4.17. It is
// satisfied by internal/scaffold's provider; left unset in tests that don't
// care about scaffold output.
type ScaffoldRegenerator interface {
	Regenerate(ctx context.Context, metadata types.WorkflowMetadata, workflowCode string) ([]types.FileRecord, error)
}

// Controller drives one workflow session's single generation dialogue.
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
	scaffold  ScaffoldRegenerator
	logger    zerolog.Logger
}

// New builds an Agentic Workflow Controller. scaffold may be nil, in which
// case GenerateAll skips the post-generation scaffold regeneration step.
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
	scaffold ScaffoldRegenerator,
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
		scaffold:  scaffold,
		logger:    logger.With().Str("controller", "workflow").Logger(),
	}
}

// GenerateAll runs the workflow's single dialogue to completion (or until
// cancelled), then regenerates the scaffold from the resulting metadata.
func (c *Controller) GenerateAll(ctx context.Context) error {
	tok := c.cancelCtl.GetOrCreate(cancel.OpGeneration)
	runCtx := tok.Context(ctx)

	if err := c.plugins.OnGenerationStart(runCtx); err != nil {
		c.logger.Warn().Err(err).Msg("onGenerationStart hooks reported errors")
	}
	c.caps.Broadcast(event.GenerationStarted, event.GenerationStartedData{SessionID: c.sessionID})

	history := c.recentHistory(runCtx)
	toolCtx := &tool.Context{SessionID: c.sessionID, Capabilities: c.caps}

	_ = c.plugins.BeforeFilesGenerated(runCtx, "workflow", nil)
	result, err := agentloop.Run(runCtx, agentloop.Deps{Provider: c.prov, Model: c.model, Tools: c.tools, ToolCtx: toolCtx}, systemPrompt, history)
	c.cancelCtl.Cancel(cancel.OpGeneration)

	if err != nil {
		c.caps.Broadcast(event.Error, event.ErrorData{SessionID: c.sessionID, Message: err.Error()})
		_ = c.plugins.OnError(ctx, err, "generate_all")
		return err
	}
	c.recordMessages(ctx, result.NewMessages)

	if result.Stop == agentloop.StopCancelled {
		if err := c.state.UpdateWorkflow(ctx, func(s *types.WorkflowState) { s.ShouldBeGenerating = false }); err != nil {
			return err
		}
		c.caps.Broadcast(event.GenerationStopped, event.GenerationStoppedData{SessionID: c.sessionID})
		return nil
	}
	_ = c.plugins.AfterFilesGenerated(ctx, "workflow", result.FinalText)

	if err := c.regenerateScaffold(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("scaffold regeneration failed")
	}

	if err := c.state.UpdateWorkflow(ctx, func(s *types.WorkflowState) { s.ShouldBeGenerating = false }); err != nil {
		return err
	}
	if err := c.plugins.OnGenerationComplete(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("onGenerationComplete hooks reported errors")
	}
	c.caps.Broadcast(event.GenerationCompleted, event.GenerationCompletedData{SessionID: c.sessionID})
	return nil
}

// regenerateScaffold rebuilds wrangler.jsonc/README.md (and any other
// scaffold-owned files) from the workflow metadata accumulated by
// configure_workflow_metadata, so the deployable project always reflects
// the latest declared metadata (spec §4.10, §4.17).
func (c *Controller) regenerateScaffold(ctx context.Context) error {
	if c.scaffold == nil {
		return nil
	}
	st := c.state.GetWorkflow()
	if st.WorkflowMetadata == nil {
		return nil
	}
	files, err := c.scaffold.Regenerate(ctx, *st.WorkflowMetadata, st.WorkflowCode())
	if err != nil {
		return fmt.Errorf("workflow controller: regenerate scaffold: %w", err)
	}
	if len(files) == 0 {
		return nil
	}
	_, err = c.caps.WriteFiles(ctx, files, "update project scaffold from workflow metadata")
	return err
}

// StopGeneration implements stop_generation (spec §4.13).
func (c *Controller) StopGeneration(ctx context.Context) error {
	c.cancelCtl.Cancel(cancel.OpGeneration)
	return c.state.UpdateWorkflow(ctx, func(s *types.WorkflowState) { s.ShouldBeGenerating = false })
}

func (c *Controller) recentHistory(ctx context.Context) []types.ConversationMessage {
	return c.convo.GetState(ctx, c.state.GetWorkflow().CompactConversation).Running
}

func (c *Controller) recordMessages(ctx context.Context, msgs []types.ConversationMessage) {
	for _, m := range msgs {
		c.convo.AddMessage(ctx, m)
	}
}
