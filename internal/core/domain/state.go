package domain

// ConnectionState is the coarse lifecycle of one client instance.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionFailed       ConnectionState = "failed"
)

// AuthState refines ConnectionConnecting: the join request has its own
// authorization round-trip before the session is usable.
type AuthState string

const (
	AuthIdle        AuthState = "idle"
	AuthAuthorizing AuthState = "authorizing"
	AuthAuthorized  AuthState = "authorized"
	AuthDenied      AuthState = "denied"
)

// ClientState is an observable snapshot of the whole client. Consumers
// always receive a deep copy, never live references.
type ClientState struct {
	Connected       bool
	PeerID          PeerID
	AudioEnabled    bool
	VideoEnabled    bool
	ScreenEnabled   bool
	LocalStreamID   StreamID
	Peers           map[PeerID]PeerRecord
	ConnectionState ConnectionState
}

// Clone returns a deep copy safe to hand out.
func (s ClientState) Clone() ClientState {
	out := s
	out.Peers = make(map[PeerID]PeerRecord, len(s.Peers))
	for id, p := range s.Peers {
		out.Peers[id] = p
	}
	return out
}
