package server

import (
	"encoding/json"
	"net/http"

	"github.com/oklog/ulid/v2"

	"github.com/sessionagent/runtime/internal/dispatch"
	"github.com/sessionagent/runtime/pkg/types"
)

// createSessionRequest is the POST /session body. agentId/userId identify
// the caller for logging and secrets-provider lookups (spec §4.16);
// everything else seeds the new session's opening state (spec §4.15).
type createSessionRequest struct {
	AgentID           string            `json:"agentId"`
	UserID            string            `json:"userId"`
	Query             string            `json:"query"`
	Hostname          string            `json:"hostname"`
	TemplateName      string            `json:"templateName"`
	ProjectType       types.ProjectType `json:"projectType"`
	InferenceContext  map[string]string `json:"inferenceContext,omitempty"`
	ScaffoldBaseFiles map[string]string `json:"scaffoldBaseFiles,omitempty"`
	BootstrapCommands []string          `json:"bootstrapCommands,omitempty"`
}

// sessionStreamEvent is one line of the newline-delimited JSON response
// spec §6 describes: "{agentId?, websocketUrl?, message?, chunk?}".
type sessionStreamEvent struct {
	AgentID      string `json:"agentId,omitempty"`
	WebsocketURL string `json:"websocketUrl,omitempty"`
	Message      string `json:"message,omitempty"`
	Chunk        string `json:"chunk,omitempty"`
}

// createSession handles POST /session: allocates a session id, runs the
// Session Lifecycle's Initialize procedure, and streams back an
// newline-delimited JSON sequence of progress/result events until the
// stream closes.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProjectType != types.ProjectTypeApp && req.ProjectType != types.ProjectTypeWorkflow {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "projectType must be \"app\" or \"workflow\"")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)

	emit := func(ev sessionStreamEvent) {
		_ = enc.Encode(ev)
		if flusher != nil {
			flusher.Flush()
		}
	}

	sessionID := "sess_" + ulid.Make().String()
	emit(sessionStreamEvent{AgentID: sessionID, Message: "initializing session"})

	sess, err := s.lifecycle.Initialize(r.Context(), dispatch.InitArgs{
		AgentID:           req.AgentID,
		UserID:            req.UserID,
		SessionID:         sessionID,
		Query:             req.Query,
		Hostname:          req.Hostname,
		TemplateName:      req.TemplateName,
		ProjectType:       req.ProjectType,
		InferenceContext:  req.InferenceContext,
		ScaffoldBaseFiles: req.ScaffoldBaseFiles,
		BootstrapCommands: req.BootstrapCommands,
	})
	if err != nil {
		emit(sessionStreamEvent{Message: "error: " + err.Error()})
		return
	}

	s.registerSession(sess)
	emit(sessionStreamEvent{
		AgentID:      sessionID,
		WebsocketURL: "/session/" + sessionID + "/channel",
		Message:      "session ready",
	})
}

// healthz is a liveness probe with no session dependency.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w)
}
