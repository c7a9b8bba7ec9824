package domain

import (
	"fmt"
	"strings"
	"time"
)

// TrackKind is the media kind of a tile.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// TrackSource distinguishes camera video from screen-share video.
type TrackSource string

const (
	SourceCamera TrackSource = "camera"
	SourceScreen TrackSource = "screen"
)

// Tile is one playable inbound stream attributed to a peer. Its ID is
// derived from stream, kind and track so it stays unique across
// renegotiations that reuse stream ids.
type Tile struct {
	ID        string
	PeerID    PeerID
	StreamID  StreamID
	TrackID   string
	Kind      TrackKind
	Source    TrackSource
	UpdatedAt time.Time
}

// TileID derives the system-wide unique tile identifier.
func TileID(streamID StreamID, kind TrackKind, trackID string) string {
	return fmt.Sprintf("%s/%s/%s", streamID, kind, trackID)
}

// StreamOwner extracts the owning peer id from a forwarded stream id of the
// form "<peerID>:<streamID>". It returns "" when the stream carries no
// owner prefix.
func StreamOwner(streamID StreamID) PeerID {
	if i := strings.IndexByte(string(streamID), ':'); i > 0 {
		return PeerID(streamID[:i])
	}
	return ""
}
