package client

import (
	"sync"

	"github.com/pion/webrtc/v3"

	"roomlink/internal/core/domain"
)

// EventType names one observable client event.
type EventType string

const (
	// Session lifecycle.
	EventAuthorizing            EventType = "authorizing"
	EventConnected              EventType = "connected"
	EventDisconnected           EventType = "disconnected"
	EventConnectionStateChanged EventType = "connection-state-changed"
	EventAuthorizationFailed    EventType = "authorization-failed"
	EventError                  EventType = "error"

	// Remote participants.
	EventPeerJoined          EventType = "peer-joined"
	EventPeerLeft            EventType = "peer-left"
	EventRosterUpdated       EventType = "roster-updated"
	EventPeerMediaChanged    EventType = "peer-media-changed"
	EventPeerSpeakingChanged EventType = "peer-speaking-changed"

	// Inbound media.
	EventTileAdded   EventType = "tile-added"
	EventTileRemoved EventType = "tile-removed"
	EventTileUpdated EventType = "tile-updated"

	// Local media.
	EventLocalMediaChanged    EventType = "local-media-changed"
	EventLocalSpeakingChanged EventType = "local-speaking-changed"
	EventScreenShareStarted   EventType = "screen-share-started"
	EventScreenShareStopped   EventType = "screen-share-stopped"
	EventToggleAudioError     EventType = "toggle-audio-error"
	EventToggleVideoError     EventType = "toggle-video-error"
)

// Event is the payload delivered to listeners. Only the fields relevant
// to the event type are set.
type Event struct {
	Type EventType

	Peer  *domain.PeerRecord
	Tile  *domain.Tile
	Track *webrtc.TrackRemote

	State    domain.ConnectionState
	Speaking bool
	Audio    bool
	Video    bool
	Screen   bool

	Err error
}

// emitter is a minimal synchronous listener registry. Handlers run on the
// emitting goroutine, usually the signaling read loop, and must not block.
type emitter struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[EventType]map[int]func(Event)
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[EventType]map[int]func(Event))}
}

// on registers fn for events of type t and returns an unsubscribe func.
func (e *emitter) on(t EventType, fn func(Event)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	if e.handlers[t] == nil {
		e.handlers[t] = make(map[int]func(Event))
	}
	e.handlers[t][id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.handlers[t], id)
		e.mu.Unlock()
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	fns := make([]func(Event), 0, len(e.handlers[ev.Type]))
	for _, fn := range e.handlers[ev.Type] {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
