package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomlink/internal/core/domain"
	"roomlink/internal/infrastructure/signal"
	"roomlink/pkg/errors"
)

// stubSFU is a minimal signaling endpoint: it records every message the
// client sends and lets tests script the server side.
type stubSFU struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received []signal.Message

	onMessage func(signal.Message)
}

func newStubSFU(t *testing.T, onMessage func(signal.Message)) *stubSFU {
	s := &stubSFU{t: t, onMessage: onMessage}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		for {
			var msg signal.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, msg)
			s.mu.Unlock()
			if s.onMessage != nil {
				s.onMessage(msg)
			}
		}
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *stubSFU) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *stubSFU) push(msg signal.Message) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	require.NotNil(s.t, conn, "no client connection yet")
	require.NoError(s.t, conn.WriteJSON(msg))
}

func (s *stubSFU) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *stubSFU) receivedTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	for i, m := range s.received {
		out[i] = m.Type
	}
	return out
}

func (s *stubSFU) messagesOfType(msgType string) []signal.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []signal.Message
	for _, m := range s.received {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func newTestClient(t *testing.T, url string) *Client {
	c, err := New(Options{
		URL:       url,
		UserID:    "user-1",
		UserName:  "Test User",
		SessionID: "session-1",
	})
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c
}

func eventChan(c *Client, t EventType) <-chan Event {
	ch := make(chan Event, 16)
	c.Subscribe(t, func(e Event) { ch <- e })
	return ch
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{URL: "http://not-ws", UserID: "u", SessionID: "s"})
	require.Error(t, err)

	_, err = New(Options{URL: "wss://sfu.example", SessionID: "s"})
	require.Error(t, err)

	_, err = New(Options{URL: "wss://sfu.example", UserID: "u"})
	require.Error(t, err)

	_, err = New(Options{URL: "wss://sfu.example", UserID: "u", SessionID: "s"})
	require.NoError(t, err)
}

func TestConnectJoinFlow(t *testing.T) {
	var sfu *stubSFU
	sfu = newStubSFU(t, func(msg signal.Message) {
		if msg.Type != signal.TypeJoin {
			return
		}
		// Roster may arrive before the join acknowledgment.
		sfu.push(signal.Message{Type: signal.TypePeerList, Users: []signal.UserInfo{
			{PeerID: "p-self", UserID: "user-1", AudioEnabled: true},
			{PeerID: "p-2", UserID: "user-2", UserName: "Other", AudioEnabled: true, VideoEnabled: true},
		}})
		sfu.push(signal.Message{Type: signal.TypeJoined, PeerID: "p-self"})
	})

	c := newTestClient(t, sfu.url())
	authorizing := eventChan(c, EventAuthorizing)
	connected := eventChan(c, EventConnected)

	require.NoError(t, c.Connect(context.Background()))
	waitEvent(t, authorizing)
	waitEvent(t, connected)

	assert.Equal(t, domain.ConnectionConnected, c.ConnectionState())
	assert.Equal(t, domain.AuthAuthorized, c.AuthState())

	state := c.State()
	assert.True(t, state.Connected)
	assert.Equal(t, domain.PeerID("p-self"), state.PeerID)

	// The self entry from the early roster is filtered once the peer id
	// assignment lands.
	peers := c.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "Other", peers["p-2"].UserName)

	joins := sfu.messagesOfType(signal.TypeJoin)
	require.Len(t, joins, 1)
	assert.Equal(t, "user-1", joins[0].UserID)
	assert.Equal(t, "Test User", joins[0].UserName)
	assert.Equal(t, "session-1", joins[0].SessionID)

	// Local media publishes once devices come up.
	require.Eventually(t, func() bool {
		return len(sfu.messagesOfType(signal.TypePubOffer)) >= 1
	}, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(sfu.messagesOfType(signal.TypeMediaState)) >= 1
	}, 3*time.Second, 20*time.Millisecond)

	// The subscribe acknowledgment goes out on joined, ahead of any
	// publish negotiation.
	types := sfu.receivedTypes()
	assert.Equal(t, signal.TypeJoin, types[0])
	readyAt, offerAt := indexOf(types, signal.TypeSubReady), indexOf(types, signal.TypePubOffer)
	require.NotEqual(t, -1, readyAt)
	require.NotEqual(t, -1, offerAt)
	assert.Less(t, readyAt, offerAt)
}

func indexOf(types []string, want string) int {
	for i, t := range types {
		if t == want {
			return i
		}
	}
	return -1
}

func TestAccessDenied(t *testing.T) {
	var sfu *stubSFU
	sfu = newStubSFU(t, func(msg signal.Message) {
		if msg.Type == signal.TypeJoin {
			sfu.push(signal.Message{Type: signal.TypeError, Message: "access denied: not a member"})
		}
	})

	c := newTestClient(t, sfu.url())
	denied := eventChan(c, EventAuthorizationFailed)

	require.NoError(t, c.Connect(context.Background()))
	e := waitEvent(t, denied)

	require.Error(t, e.Err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(e.Err))
	assert.Equal(t, domain.AuthDenied, c.AuthState())
	assert.Eventually(t, func() bool {
		return c.ConnectionState() == domain.ConnectionFailed
	}, 3*time.Second, 20*time.Millisecond)
}

func TestConnectEntersAuthorizing(t *testing.T) {
	sfu := newStubSFU(t, nil)
	c := newTestClient(t, sfu.url())
	authorizing := eventChan(c, EventAuthorizing)

	// The server never answers the join; the client reports it is
	// waiting on the authorization decision.
	require.NoError(t, c.Connect(context.Background()))
	waitEvent(t, authorizing)
	assert.Equal(t, domain.AuthAuthorizing, c.AuthState())
	assert.Equal(t, domain.ConnectionConnecting, c.ConnectionState())
}

func TestConnectTwiceFails(t *testing.T) {
	sfu := newStubSFU(t, nil)
	c := newTestClient(t, sfu.url())

	require.NoError(t, c.Connect(context.Background()))
	assert.ErrorIs(t, c.Connect(context.Background()), domain.ErrAlreadyConnected)
}

func TestConnectFailsWhenServerUnreachable(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:1")

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTransport, errors.CodeOf(err))
	assert.Equal(t, domain.ConnectionFailed, c.ConnectionState())
}

func TestOperationsRequireConnection(t *testing.T) {
	sfu := newStubSFU(t, nil)
	c := newTestClient(t, sfu.url())

	ctx := context.Background()
	assert.ErrorIs(t, c.ToggleAudio(ctx, false), domain.ErrNotConnected)
	assert.ErrorIs(t, c.ToggleVideo(ctx, false), domain.ErrNotConnected)
	assert.ErrorIs(t, c.StartScreenShare(ctx), domain.ErrNotConnected)
	assert.ErrorIs(t, c.StopScreenShare(), domain.ErrNotConnected)
}

func TestPeerLifecycleEvents(t *testing.T) {
	var sfu *stubSFU
	sfu = newStubSFU(t, func(msg signal.Message) {
		if msg.Type == signal.TypeJoin {
			sfu.push(signal.Message{Type: signal.TypeJoined, PeerID: "p-self"})
		}
	})

	c := newTestClient(t, sfu.url())
	connected := eventChan(c, EventConnected)
	joined := eventChan(c, EventPeerJoined)
	left := eventChan(c, EventPeerLeft)
	mediaChanged := eventChan(c, EventPeerMediaChanged)

	require.NoError(t, c.Connect(context.Background()))
	waitEvent(t, connected)

	sfu.push(signal.Message{Type: signal.TypePeerJoined, PeerID: "p-2", UserID: "user-2"})
	e := waitEvent(t, joined)
	require.NotNil(t, e.Peer)
	assert.True(t, e.Peer.AudioEnabled)

	sfu.push(signal.Message{
		Type: signal.TypeMediaState, PeerID: "p-2",
		AudioEnabled: signal.BoolPtr(false),
	})
	e = waitEvent(t, mediaChanged)
	assert.False(t, e.Audio)
	assert.True(t, e.Video)

	sfu.push(signal.Message{Type: signal.TypePeerLeft, PeerID: "p-2"})
	e = waitEvent(t, left)
	assert.Equal(t, domain.PeerID("p-2"), e.Peer.PeerID)
	assert.Empty(t, c.Peers())
}

func TestServerErrorIsSurfacedNotFatal(t *testing.T) {
	var sfu *stubSFU
	sfu = newStubSFU(t, func(msg signal.Message) {
		if msg.Type == signal.TypeJoin {
			sfu.push(signal.Message{Type: signal.TypeJoined, PeerID: "p-self"})
		}
	})

	c := newTestClient(t, sfu.url())
	connected := eventChan(c, EventConnected)
	errs := eventChan(c, EventError)

	require.NoError(t, c.Connect(context.Background()))
	waitEvent(t, connected)

	sfu.push(signal.Message{Type: signal.TypeError, Message: "temporary overload"})
	e := waitEvent(t, errs)
	require.Error(t, e.Err)
	assert.Equal(t, domain.ConnectionConnected, c.ConnectionState())
}

func TestChannelLossEndsSession(t *testing.T) {
	var sfu *stubSFU
	sfu = newStubSFU(t, func(msg signal.Message) {
		if msg.Type == signal.TypeJoin {
			sfu.push(signal.Message{Type: signal.TypeJoined, PeerID: "p-self"})
		}
	})

	c := newTestClient(t, sfu.url())
	connected := eventChan(c, EventConnected)
	disconnected := eventChan(c, EventDisconnected)

	require.NoError(t, c.Connect(context.Background()))
	waitEvent(t, connected)

	sfu.closeConn()
	e := waitEvent(t, disconnected)
	assert.ErrorIs(t, e.Err, domain.ErrChannelClosed)
	assert.Equal(t, domain.ConnectionDisconnected, c.ConnectionState())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	var sfu *stubSFU
	sfu = newStubSFU(t, func(msg signal.Message) {
		if msg.Type == signal.TypeJoin {
			sfu.push(signal.Message{Type: signal.TypeJoined, PeerID: "p-self"})
		}
	})

	c := newTestClient(t, sfu.url())
	connected := eventChan(c, EventConnected)
	disconnected := eventChan(c, EventDisconnected)

	require.NoError(t, c.Connect(context.Background()))
	waitEvent(t, connected)

	c.Disconnect()
	waitEvent(t, disconnected)
	c.Disconnect()

	select {
	case <-disconnected:
		t.Fatal("disconnected fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	sfu := newStubSFU(t, nil)
	c := newTestClient(t, sfu.url())

	var calls int
	off := c.Subscribe(EventConnectionStateChanged, func(Event) { calls++ })
	off()

	require.NoError(t, c.Connect(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls)
}
