// Package agentloop drives one tool-using LLM dialogue: it converts the
// session's compact conversation log to Eino messages, streams a
// completion, dispatches any tool calls the model makes through the
// session's tool registry, and repeats until the model stops calling
// tools, the step budget is exhausted, or the context is cancelled.
//
// Both the phasic app controller (one call per implement step) and the
// agentic workflow controller (one call for the whole dialogue) drive
// their LLM interaction through Run — the generalized shape of the
// teacher's Processor.runLoop/processStream (internal/session/loop.go,
// stream.go).
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"

	"github.com/sessionagent/runtime/internal/event"
	"github.com/sessionagent/runtime/internal/logging"
	"github.com/sessionagent/runtime/internal/provider"
	"github.com/sessionagent/runtime/internal/tool"
	"github.com/sessionagent/runtime/pkg/types"
)

// MaxSteps bounds one Run call's tool-calling iterations, distinct from
// the app controller's MAX_PHASES (which bounds phases, not LLM round
// trips within a phase).
const MaxSteps = 50

// Retry tuning for transient provider/stream errors, mirroring the
// teacher's newRetryBackoff (internal/session/loop.go).
const (
	retryInitialInterval = time.Second
	retryMaxInterval     = 30 * time.Second
	retryMaxElapsedTime  = 2 * time.Minute
	retryMaxRetries      = 3
)

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, retryMaxRetries), ctx)
}

// StopReason classifies why Run returned.
type StopReason string

const (
	StopNormal    StopReason = "stop"
	StopMaxSteps  StopReason = "max_steps"
	StopCancelled StopReason = "cancelled"
)

// Deps are the collaborators one Run call needs.
type Deps struct {
	Provider provider.Provider
	Model    *types.Model
	Tools    *tool.Registry
	ToolCtx  *tool.Context
	MaxSteps int
}

// Result is what one dialogue produced.
type Result struct {
	// NewMessages are the conversation rows produced during this run (in
	// order): assistant turns (with any tool events attached) only — the
	// caller is responsible for appending the originating user/system
	// messages to the log before calling Run.
	NewMessages []types.ConversationMessage
	FinalText   string
	StepsUsed   int
	Stop        StopReason
}

// Run executes the tool-calling loop. history is the full prior
// conversation (already including the turn that triggered this call);
// systemPrompt is prepended as the Eino system message.
func Run(ctx context.Context, deps Deps, systemPrompt string, history []types.ConversationMessage) (Result, error) {
	maxSteps := deps.MaxSteps
	if maxSteps <= 0 {
		maxSteps = MaxSteps
	}

	messages := toEinoMessages(systemPrompt, history)
	toolInfos, err := deps.Tools.ToolInfos()
	if err != nil {
		return Result{}, fmt.Errorf("agentloop: resolve tools: %w", err)
	}

	maxTokens := 8192
	if deps.Model != nil && deps.Model.MaxOutputTokens > 0 {
		maxTokens = deps.Model.MaxOutputTokens
	}

	var result Result
	retry := newRetryBackoff(ctx)

	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			result.Stop = StopCancelled
			return result, nil
		default:
		}

		if step >= maxSteps {
			result.Stop = StopMaxSteps
			return result, nil
		}

		req := &provider.CompletionRequest{
			Model:     modelID(deps.Model),
			Messages:  messages,
			Tools:     toolInfos,
			MaxTokens: maxTokens,
		}

		stream, err := deps.Provider.CreateCompletion(ctx, req)
		if err != nil {
			if wait := retry.NextBackOff(); wait != backoff.Stop {
				time.Sleep(wait)
				step--
				continue
			}
			return result, fmt.Errorf("agentloop: create completion: %w", err)
		}

		reply, finishReason, err := drainStream(ctx, stream, deps.ToolCtx)
		stream.Close()
		if err != nil {
			if ctx.Err() != nil {
				result.Stop = StopCancelled
				return result, nil
			}
			if wait := retry.NextBackOff(); wait != backoff.Stop {
				time.Sleep(wait)
				step--
				continue
			}
			return result, fmt.Errorf("agentloop: stream: %w", err)
		}
		retry.Reset()

		assistantMsg := types.ConversationMessage{
			ConversationID: newConversationID(),
			Role:           "assistant",
			Content:        reply.text,
			CreatedAt:      time.Now().UnixMilli(),
		}
		result.FinalText = reply.text
		messages = append(messages, &schema.Message{Role: schema.Assistant, Content: reply.text, ToolCalls: reply.toolCalls})

		if len(reply.toolCalls) == 0 || finishReason == "stop" || finishReason == "end_turn" {
			result.NewMessages = append(result.NewMessages, assistantMsg)
			result.Stop = StopNormal
			return result, nil
		}

		toolEvents := make([]types.ToolEvent, 0, len(reply.toolCalls))
		for _, tc := range reply.toolCalls {
			ev, toolMsg := dispatchToolCall(ctx, deps.Tools, deps.ToolCtx, tc)
			toolEvents = append(toolEvents, ev)
			messages = append(messages, toolMsg)
		}
		assistantMsg.ToolEvents = toolEvents
		result.NewMessages = append(result.NewMessages, assistantMsg)
	}
}

func modelID(m *types.Model) string {
	if m == nil {
		return ""
	}
	return m.ID
}

func newConversationID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// streamReply accumulates one completion's text and tool calls.
type streamReply struct {
	text      string
	toolCalls []schema.ToolCall
}

// drainStream reads every chunk of stream, broadcasting text deltas as
// they arrive and accumulating tool-call arguments keyed by index (the
// same accumulation shape as the teacher's processMessageChunk, stream.go).
func drainStream(ctx context.Context, stream *provider.CompletionStream, toolCtx *tool.Context) (streamReply, string, error) {
	var reply streamReply
	byIndex := make(map[int]*schema.ToolCall)
	var order []int
	var finishReason string

	for {
		select {
		case <-ctx.Done():
			return reply, "", ctx.Err()
		default:
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return reply, "", err
		}

		if msg.Content != "" {
			reply.text += msg.Content
			if toolCtx != nil && toolCtx.Capabilities != nil {
				toolCtx.Capabilities.Broadcast(event.TextDelta, event.TextDeltaData{
					SessionID: toolCtx.Capabilities.SessionID(),
					Delta:     msg.Content,
				})
			}
		}

		for _, tc := range msg.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			cur, ok := byIndex[idx]
			if !ok {
				copyTC := tc
				byIndex[idx] = &copyTC
				order = append(order, idx)
				continue
			}
			cur.Function.Arguments += tc.Function.Arguments
			if tc.ID != "" {
				cur.ID = tc.ID
			}
			if tc.Function.Name != "" {
				cur.Function.Name = tc.Function.Name
			}
		}

		if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason != "" {
			finishReason = msg.ResponseMeta.FinishReason
		}
	}

	for _, idx := range order {
		reply.toolCalls = append(reply.toolCalls, *byIndex[idx])
	}
	if finishReason == "" && len(reply.toolCalls) > 0 {
		finishReason = "tool_calls"
	}
	return reply, finishReason, nil
}

// dispatchToolCall runs one accumulated tool call through the registry
// and renders both the ToolEvent (for the conversation log) and the
// Eino tool-result message fed back into the next completion request.
func dispatchToolCall(ctx context.Context, tools *tool.Registry, toolCtx *tool.Context, tc schema.ToolCall) (types.ToolEvent, *schema.Message) {
	ev := types.ToolEvent{ToolName: tc.Function.Name, Input: json.RawMessage(tc.Function.Arguments)}

	result, err := tools.Dispatch(ctx, tc.Function.Name, json.RawMessage(tc.Function.Arguments), toolCtx)
	var output string
	if err != nil {
		ev.Error = err.Error()
		output = fmt.Sprintf("error: %s", err.Error())
		logging.Logger.Warn().Str("tool", tc.Function.Name).Err(err).Msg("tool dispatch failed")
	} else {
		ev.Output, _ = json.Marshal(result)
		output = result.Output
	}

	return ev, &schema.Message{Role: schema.Tool, Content: output, ToolCallID: tc.ID}
}

// toEinoMessages renders the system prompt and the compact conversation
// log as an Eino message slice (teacher's buildCompletionRequest, loop.go).
func toEinoMessages(systemPrompt string, history []types.ConversationMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(history)+1)
	out = append(out, &schema.Message{Role: schema.System, Content: systemPrompt})
	for _, m := range history {
		role := schema.Assistant
		switch m.Role {
		case "user":
			role = schema.User
		case "system":
			role = schema.System
		}
		out = append(out, &schema.Message{Role: role, Content: m.Content})
	}
	return out
}
