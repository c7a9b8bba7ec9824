// Package signal owns the WebSocket control channel to the SFU. The
// channel is strictly single-shot: once closed it never reconnects, the
// owning client instance is done.
package signal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

// Channel is the client side of the signaling socket. All outbound traffic
// from every component funnels through Send; inbound frames are decoded
// and handed to a single message callback in read order.
type Channel struct {
	dialer *websocket.Dialer
	logger *zap.SugaredLogger

	mu   sync.Mutex
	conn *websocket.Conn
	open bool

	closeOnce sync.Once
	onMessage func(Message)
	onClose   func(err error)
}

// NewChannel creates an unopened channel.
func NewChannel(logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		dialer: websocket.DefaultDialer,
		logger: logger.Sugar(),
	}
}

// OnMessage registers the inbound message callback. Must be set before
// Open; messages arriving with no callback are dropped.
func (c *Channel) OnMessage(fn func(Message)) {
	c.onMessage = fn
}

// OnClose registers the close callback, invoked exactly once when the
// socket closes for any reason after a successful Open.
func (c *Channel) OnClose(fn func(err error)) {
	c.onClose = fn
}

// Open dials the signaling endpoint and starts the read loop. It returns
// an error when the socket cannot be established; it never retries.
func (c *Channel) Open(ctx context.Context, url string) error {
	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.open = true
	c.mu.Unlock()

	c.logger.Infow("signaling channel open", "url", url)
	go c.readLoop(conn)
	return nil
}

// Send marshals and writes one message. Calling Send on a channel that is
// not open is a logged no-op: it never throws and never queues.
func (c *Channel) Send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open || c.conn == nil {
		c.logger.Warnw("cannot send, signaling channel not open", "type", msg.Type)
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Errorw("failed to marshal signaling message", "type", msg.Type, "error", err)
		return
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warnw("signaling write failed", "type", msg.Type, "error", err)
	}
}

// Close shuts the socket down. Safe to call multiple times and before Open.
func (c *Channel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.open = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed frames never crash the client.
			c.logger.Debugw("dropping malformed signaling frame", "error", err)
			continue
		}

		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func (c *Channel) handleClosed(err error) {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			c.logger.Warnw("signaling channel closed unexpectedly", "error", err)
		} else {
			c.logger.Infow("signaling channel closed")
		}
		if c.onClose != nil {
			c.onClose(err)
		}
	})
}

// Outbound helpers used by the core services (ports.SignalOut).

func (c *Channel) SendMediaState(audio, video, screen bool) {
	c.Send(Message{
		Type:          TypeMediaState,
		AudioEnabled:  BoolPtr(audio),
		VideoEnabled:  BoolPtr(video),
		ScreenEnabled: BoolPtr(screen),
	})
}

func (c *Channel) SendSpeaking(speaking bool) {
	c.Send(Message{Type: TypeSpeaking, Speaking: BoolPtr(speaking)})
}

func (c *Channel) SendScreenStream(enabled bool, streamID string) {
	c.Send(Message{
		Type:           TypeScreenStream,
		ScreenEnabled:  BoolPtr(enabled),
		ScreenStreamID: streamID,
	})
}

func (c *Channel) SendTrackRemoved(trackKind, streamID string) {
	c.Send(Message{Type: TypeTrackRemoved, TrackKind: trackKind, StreamID: streamID})
}
