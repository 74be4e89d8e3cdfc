package session

import (
	"context"
	"time"

	"github.com/sessionagent/runtime/internal/logging"
	"github.com/sessionagent/runtime/internal/storage"
	"github.com/sessionagent/runtime/pkg/types"
)

// ConversationStore persists the full (audit) and compact (working-memory)
// message logs for one session, deduplicated by ConversationID (C2).
// Persistence failures are logged and swallowed — the conversation is
// best-effort durable and fully reconstructable from the in-memory compact
// log carried in BaseSessionState.
type ConversationStore struct {
	store     *storage.Storage
	sessionID string
}

// NewConversationStore creates a conversation store for one session.
func NewConversationStore(store *storage.Storage, sessionID string) *ConversationStore {
	return &ConversationStore{store: store, sessionID: sessionID}
}

func (c *ConversationStore) fullPath() []string {
	return storage.SessionPath(c.sessionID, "conversation_full")
}

func (c *ConversationStore) compactPath() []string {
	return storage.SessionPath(c.sessionID, "conversation_compact")
}

// GetState returns {running, full}, each deduplicated by ConversationID. If
// the backing row is missing it is seeded from seedCompact (the in-memory
// compact log already held in session state).
func (c *ConversationStore) GetState(ctx context.Context, seedCompact []types.ConversationMessage) types.ConversationState {
	full := c.readLog(ctx, c.fullPath())
	running := c.readLog(ctx, c.compactPath())
	if running == nil && seedCompact != nil {
		running = seedCompact
	}
	return types.ConversationState{Running: dedup(running), Full: dedup(full)}
}

// SetState replaces both logs wholesale.
func (c *ConversationStore) SetState(ctx context.Context, state types.ConversationState) {
	c.writeLog(ctx, c.fullPath(), dedup(state.Full))
	c.writeLog(ctx, c.compactPath(), dedup(state.Running))
}

// AddMessage upserts msg by ConversationID into both logs.
func (c *ConversationStore) AddMessage(ctx context.Context, msg types.ConversationMessage) {
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}
	full := upsert(c.readLog(ctx, c.fullPath()), msg)
	running := upsert(c.readLog(ctx, c.compactPath()), msg)
	c.writeLog(ctx, c.fullPath(), full)
	c.writeLog(ctx, c.compactPath(), running)
}

// ClearCompact empties the compact log while leaving the full log
// untouched (clear_conversation, §4.13).
func (c *ConversationStore) ClearCompact(ctx context.Context) {
	c.writeLog(ctx, c.compactPath(), []types.ConversationMessage{})
}

// ReplaceCompact replaces the compact log wholesale, e.g. with a
// summarized log.
func (c *ConversationStore) ReplaceCompact(ctx context.Context, msgs []types.ConversationMessage) {
	c.writeLog(ctx, c.compactPath(), dedup(msgs))
}

func (c *ConversationStore) readLog(ctx context.Context, path []string) []types.ConversationMessage {
	var msgs []types.ConversationMessage
	if err := c.store.Get(ctx, path, &msgs); err != nil {
		if err != storage.ErrNotFound {
			logging.Logger.Warn().Str("sessionID", c.sessionID).Err(err).Msg("conversation store read failed")
		}
		return nil
	}
	return msgs
}

func (c *ConversationStore) writeLog(ctx context.Context, path []string, msgs []types.ConversationMessage) {
	if err := c.store.Put(ctx, path, msgs); err != nil {
		logging.Logger.Warn().Str("sessionID", c.sessionID).Err(err).Msg("conversation store write failed")
	}
}

// dedup keeps the last occurrence of each ConversationID, preserving the
// first-seen order of distinct ids.
func dedup(msgs []types.ConversationMessage) []types.ConversationMessage {
	if msgs == nil {
		return []types.ConversationMessage{}
	}
	order := make([]string, 0, len(msgs))
	byID := make(map[string]types.ConversationMessage, len(msgs))
	for _, m := range msgs {
		if _, ok := byID[m.ConversationID]; !ok {
			order = append(order, m.ConversationID)
		}
		byID[m.ConversationID] = m
	}
	out := make([]types.ConversationMessage, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// upsert inserts msg or updates it in place if its ConversationID already
// exists in log.
func upsert(log []types.ConversationMessage, msg types.ConversationMessage) []types.ConversationMessage {
	for i, m := range log {
		if m.ConversationID == msg.ConversationID {
			log[i] = msg
			return log
		}
	}
	return append(log, msg)
}
