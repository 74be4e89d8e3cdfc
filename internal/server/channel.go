package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/sessionagent/runtime/internal/dispatch"
	"github.com/sessionagent/runtime/internal/event"
	"github.com/sessionagent/runtime/pkg/types"
)

// wireFrame is the JSON shape of one inbound client frame (spec §6's
// closed type set). Only the fields relevant to Type matter to the
// Control-Message Handler; extras are ignored.
type wireFrame struct {
	Type        string                      `json:"type"`
	Text        string                      `json:"text,omitempty"`
	Images      []dispatch.ImageData        `json:"images,omitempty"`
	SeedCompact []types.ConversationMessage `json:"seedCompact,omitempty"`

	// github_export
	Owner       string `json:"owner,omitempty"`
	Repo        string `json:"repo,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	Private     bool   `json:"private,omitempty"`
	CommitMsg   string `json:"commitMsg,omitempty"`
}

// wsChannel adapts a coder/websocket connection to event.Channel, so the
// session's Event Bus can fan outbound events out to it like any other
// client channel.
type wsChannel struct {
	conn *websocket.Conn
}

func (c *wsChannel) Send(e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.conn.Write(context.Background(), websocket.MessageText, data)
}

// sessionChannel handles GET /session/{sessionID}/channel: the
// bidirectional client↔session channel (spec §6). Inbound frames are
// handed to the Control-Message Handler; every event the session's Event
// Bus broadcasts is relayed back out over the same socket.
func (s *Server) sessionChannel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.getOrRehydrate(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := &wsChannel{conn: conn}
	_, detach := sess.Bus.Attach(ch)
	defer detach()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var in wireFrame
		if err := json.Unmarshal(data, &in); err != nil {
			sess.Logger.Warn().Err(err).Msg("channel: malformed inbound frame")
			continue
		}

		frame := dispatch.Frame{
			Type:        in.Type,
			Text:        in.Text,
			Images:      in.Images,
			SeedCompact: in.SeedCompact,
			Owner:       in.Owner,
			Repo:        in.Repo,
			AccessToken: in.AccessToken,
			Private:     in.Private,
			CommitMsg:   in.CommitMsg,
		}
		// generate_all and other long-running frame types must not block
		// this read loop — stop_generation on the same connection needs to
		// reach the Control-Message Handler while a prior frame is still
		// in flight (spec §5's cooperative-scheduling model serializes
		// state mutation inside the controller, not inbound frame
		// delivery).
		go sess.Handler.Handle(ctx, frame)
	}
}
