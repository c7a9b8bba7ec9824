package domain

// PeerID identifies one remote connection attempt. The server assigns a
// fresh PeerID on every join, so the same user reconnecting shows up under
// a new PeerID but the same UserID.
type PeerID string

// UserID identifies a user across reconnects.
type UserID string

// StreamID identifies one media stream. The SFU forwards streams renamed to
// "<ownerPeerID>:<originalStreamID>" so subscribers can attribute them.
type StreamID string

// PeerRecord is the roster entry for one remote participant.
type PeerRecord struct {
	PeerID        PeerID `json:"peerId"`
	UserID        UserID `json:"userId"`
	UserName      string `json:"userName,omitempty"`
	AudioEnabled  bool   `json:"audioEnabled"`
	VideoEnabled  bool   `json:"videoEnabled"`
	ScreenEnabled bool   `json:"screenEnabled"`
	Speaking      bool   `json:"speaking"`
}
