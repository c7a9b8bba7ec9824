package signal

// Message types exchanged with the SFU over the control channel.
const (
	TypeJoin         = "join"
	TypeJoined       = "joined"
	TypeSubReady     = "sub_ready"
	TypePubOffer     = "pub_offer"
	TypePubAnswer    = "pub_answer"
	TypeSubOffer     = "sub_offer"
	TypeSubAnswer    = "sub_answer"
	TypeCandidate    = "candidate"
	TypePeerList     = "peer_list"
	TypePeerJoined   = "peer_joined"
	TypePeerLeft     = "peer_left"
	TypeMediaState   = "media_state"
	TypeSpeaking     = "speaking"
	TypeScreenStream = "screen_stream"
	TypeTrackRemoved = "track_removed"
	TypeError        = "error"
)

// Candidate targets.
const (
	TargetPub = "pub"
	TargetSub = "sub"
)

// Message is the flat JSON envelope used in both directions. Boolean media
// flags are pointers so a missing field is distinguishable from false:
// peer_joined defaults audio/video to enabled when the server omits them.
type Message struct {
	Type           string     `json:"type"`
	UserID         string     `json:"userId,omitempty"`
	UserName       string     `json:"userName,omitempty"`
	SessionID      string     `json:"sessionId,omitempty"`
	PeerID         string     `json:"peerId,omitempty"`
	Target         string     `json:"target,omitempty"`
	Users          []UserInfo `json:"users,omitempty"`
	AudioEnabled   *bool      `json:"audioEnabled,omitempty"`
	VideoEnabled   *bool      `json:"videoEnabled,omitempty"`
	ScreenEnabled  *bool      `json:"screenEnabled,omitempty"`
	Speaking       *bool      `json:"speaking,omitempty"`
	ScreenStreamID string     `json:"screenStreamId,omitempty"`
	TrackKind      string     `json:"trackKind,omitempty"`
	StreamID       string     `json:"streamId,omitempty"`
	SDP            string     `json:"sdp,omitempty"`
	Candidate      string     `json:"candidate,omitempty"`
	SDPMid         string     `json:"sdpMid,omitempty"`
	SDPMLineIndex  uint16     `json:"sdpMLineIndex,omitempty"`
	Message        string     `json:"message,omitempty"`
}

// UserInfo is one roster entry in a peer_list message. The server always
// sends complete records here, so the flags are plain booleans.
type UserInfo struct {
	PeerID        string `json:"peerId"`
	UserID        string `json:"userId"`
	UserName      string `json:"userName,omitempty"`
	AudioEnabled  bool   `json:"audioEnabled"`
	VideoEnabled  bool   `json:"videoEnabled"`
	ScreenEnabled bool   `json:"screenEnabled"`
	Speaking      bool   `json:"speaking"`
}

// Bool dereferences a flag pointer applying the given default for a
// missing field.
func Bool(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// BoolPtr builds a flag pointer for outbound messages.
func BoolPtr(v bool) *bool {
	return &v
}
