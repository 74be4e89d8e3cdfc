package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ChannelEvent is one event received off a session's bidirectional
// channel (spec §6's outbound frame set).
type ChannelEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WSClient drives one session's /session/{id}/channel connection for
// black-box tests: send inbound control frames, collect outbound events.
// Grounded on the same coder/websocket client idiom as the production
// wsChannel adapter — connect, read loop into a buffered channel, a
// mutex-guarded write.
type WSClient struct {
	conn *websocket.Conn

	mu     sync.Mutex
	events []ChannelEvent

	eventsCh chan ChannelEvent
	errCh    chan error
	cancel   context.CancelFunc
}

// DialChannel connects to baseURL's session channel over ws(s).
func DialChannel(ctx context.Context, baseURL, sessionID string) (*WSClient, error) {
	wsURL := strings.Replace(baseURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = fmt.Sprintf("%s/session/%s/channel", wsURL, sessionID)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("testutil: dial channel: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c := &WSClient{
		conn:     conn,
		eventsCh: make(chan ChannelEvent, 100),
		errCh:    make(chan error, 1),
		cancel:   cancel,
	}
	go c.readLoop(readCtx)
	return c, nil
}

func (c *WSClient) readLoop(ctx context.Context) {
	defer close(c.eventsCh)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			select {
			case c.errCh <- err:
			default:
			}
			return
		}
		var evt ChannelEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		c.mu.Lock()
		c.events = append(c.events, evt)
		c.mu.Unlock()
		select {
		case c.eventsCh <- evt:
		default:
		}
	}
}

// Send writes one inbound control frame as a JSON text message.
func (c *WSClient) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.conn.Write(context.Background(), websocket.MessageText, data)
}

// SendType is a convenience for frames whose only field is the type
// discriminator (stop_generation, clear_conversation, ...).
func (c *WSClient) SendType(frameType string) error {
	return c.Send(map[string]string{"type": frameType})
}

// WaitForEvent blocks until an event of eventType arrives or timeout elapses.
func (c *WSClient) WaitForEvent(eventType string, timeout time.Duration) (*ChannelEvent, error) {
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-c.eventsCh:
			if !ok {
				return nil, fmt.Errorf("channel closed")
			}
			if evt.Type == eventType {
				return &evt, nil
			}
		case err := <-c.errCh:
			return nil, err
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event %q", eventType)
		}
	}
}

// GetAllEvents returns every event received so far.
func (c *WSClient) GetAllEvents() []ChannelEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChannelEvent, len(c.events))
	copy(out, c.events)
	return out
}

// Close tears down the connection.
func (c *WSClient) Close() {
	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "")
}
