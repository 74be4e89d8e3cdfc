// Package server provides the HTTP transport for the session agent
// runtime: a chi-based router exposing the two endpoints spec §6
// describes — session creation and the bidirectional client↔session
// channel — on top of the Session Lifecycle (C16) and Control-Message
// Handler (C14) built in internal/dispatch.
//
// # Endpoints
//
//   - POST /session: allocates a session, runs the Session Lifecycle's
//     Initialize procedure, and streams back a newline-delimited JSON
//     sequence of {agentId?, websocketUrl?, message?, chunk?} events
//     until the session is ready or initialization fails.
//   - GET /session/{sessionID}/channel: upgrades to a websocket carrying
//     inbound control frames (spec §6's closed type set) to the
//     Control-Message Handler and relaying every event the session's
//     Event Bus broadcasts back out.
//   - GET /healthz: a liveness probe, no session dependency.
//
// Everything the teacher's original server exposed beyond this — MCP
// server management, LSP/formatter/command passthroughs, TUI remote
// control, client-tool registration, multi-project directory listing —
// has no counterpart in this runtime's scope and was dropped; see
// DESIGN.md's dropped-teacher-module ledger for the per-file
// justification.
package server
