/*
Package event provides a type-safe, pub/sub event system for the session
agent runtime, plus the per-session fan-out layer (SessionBus) that
delivers events to attached client channels.

# Architecture

The package is built on top of watermill's gochannel for infrastructure while
maintaining direct-call semantics to preserve type information. It provides
both synchronous and asynchronous event publishing patterns, and a
per-session wrapper (session.go) that fans a session's events out to every
attached channel with independent FIFO ordering.

# Event Types

Generation Lifecycle:
  - generation_started, generation_completed, generation_stopped, generation_resumed

Phase Events (phasic app controller):
  - phase_generating, phase_generated, phase_implementing, phase_implemented

File Events:
  - file_generating, file_chunk_generated, file_generated

Deployment Events:
  - deployment_started, deployment_completed, deployment_failed
  - cloudflare_deployment_started, cloudflare_deployment_completed, cloudflare_deployment_error
  - preview_force_refresh

Diagnostics:
  - runtime_error_found, static_analysis_results

Conversation Events:
  - conversation_cleared, conversation_state

Project Events:
  - project_name_updated

GitHub Export:
  - github_export_started, github_export_progress, github_export_completed, github_export_error

Misc:
  - model_configs_info, text_delta, error

# Basic Usage

Publishing events on the process-wide bus:

	event.Publish(event.Event{
		Type: event.GenerationStarted,
		Data: event.GenerationStartedData{SessionID: sessionID},
	})

Subscribing:

	unsubscribe := event.Subscribe(event.FileGenerated, func(e event.Event) {
		data := e.Data.(event.FileEventData)
		log.Info("file generated", "path", data.FilePath)
	})
	defer unsubscribe()

# Per-Session Fan-Out

Each session owns a SessionBus, which holds one goroutine per attached
client channel so a slow or failing channel only drops its own events
(logged) rather than blocking delivery to other channels:

	bus := event.NewSessionBus(sessionID)
	id, detach := bus.Attach(channel)
	defer detach()

	bus.Broadcast(event.PhaseGenerated, event.PhaseEventData{SessionID: sessionID, Phase: "mvp"})
	bus.SendError(id, "tool dispatch failed: unknown tool")

# Subscriber Safety Guidelines

When using PublishSync, subscribers are called synchronously in the
publisher's goroutine. To avoid blocking or deadlocks, subscribers MUST:

  - Complete quickly (avoid long-running operations)
  - Use non-blocking channel sends (select with default case)
  - Never call Publish/PublishSync from within a subscriber (no re-entrant publishing)
  - Never acquire locks that the publisher might hold

# Testing

	// Reset global bus state (use in test cleanup)
	event.Reset()

# Thread Safety

The event bus and SessionBus are both safe for concurrent use.
*/
package event
