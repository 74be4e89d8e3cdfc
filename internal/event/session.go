package event

import (
	"sync"
	"sync/atomic"

	"github.com/sessionagent/runtime/internal/logging"
)

// Channel is the minimal interface a transport (websocket/SSE) implements so
// the session bus can hand it typed events and per-channel errors. Send must
// not block indefinitely; SessionBus already serializes per channel.
type Channel interface {
	Send(Event) error
}

const channelQueueDepth = 256

// SessionBus fans typed events out to every client channel attached to one
// session (C5). Each channel gets its own FIFO delivery goroutine so a slow
// or failing channel never blocks delivery to the others; serialization
// failures on one channel are logged and do not propagate.
type SessionBus struct {
	mu        sync.RWMutex
	sessionID string
	channels  map[uint64]*channelWorker
	nextID    uint64
}

type channelWorker struct {
	ch     Channel
	queue  chan Event
	done   chan struct{}
}

// NewSessionBus creates an event fan-out scoped to one session.
func NewSessionBus(sessionID string) *SessionBus {
	return &SessionBus{
		sessionID: sessionID,
		channels:  make(map[uint64]*channelWorker),
	}
}

// Attach registers a client channel and returns its id plus a detach func.
// Detaching never mutates session state — channels are non-owning readers.
func (s *SessionBus) Attach(ch Channel) (id uint64, detach func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = atomic.AddUint64(&s.nextID, 1)
	w := &channelWorker{
		ch:    ch,
		queue: make(chan Event, channelQueueDepth),
		done:  make(chan struct{}),
	}
	s.channels[id] = w
	go w.run(s.sessionID)

	return id, func() { s.detach(id) }
}

func (s *SessionBus) detach(id uint64) {
	s.mu.Lock()
	w, ok := s.channels[id]
	if ok {
		delete(s.channels, id)
	}
	s.mu.Unlock()
	if ok {
		close(w.done)
	}
}

func (w *channelWorker) run(sessionID string) {
	for {
		select {
		case <-w.done:
			return
		case e := <-w.queue:
			if err := w.ch.Send(e); err != nil {
				logging.Logger.Warn().
					Str("sessionID", sessionID).
					Str("eventType", string(e.Type)).
					Err(err).
					Msg("event channel send failed")
			}
		}
	}
}

// Broadcast sends a typed event to every channel currently attached to this
// session. Delivery is FIFO per channel; ordering across channels is not
// guaranteed.
func (s *SessionBus) Broadcast(t EventType, data any) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := Event{Type: t, Data: data}
	for id, w := range s.channels {
		select {
		case w.queue <- e:
		default:
			logging.Logger.Warn().
				Str("sessionID", s.sessionID).
				Uint64("channelID", id).
				Msg("event channel queue full, dropping event")
		}
	}
}

// SendError sends an error event to exactly one channel, identified by the
// id returned from Attach. Other channels are unaffected.
func (s *SessionBus) SendError(id uint64, message string) {
	s.mu.RLock()
	w, ok := s.channels[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case w.queue <- Event{Type: Error, Data: ErrorData{SessionID: s.sessionID, Message: message}}:
	default:
	}
}

// ChannelCount returns the number of attached channels (for tests/metrics).
func (s *SessionBus) ChannelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels)
}

// Close detaches all channels.
func (s *SessionBus) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.channels {
		close(w.done)
		delete(s.channels, id)
	}
}
