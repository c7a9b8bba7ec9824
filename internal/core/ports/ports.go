// Package ports declares the seams between the core services and the
// infrastructure adapters (signaling, peer connections, media devices).
package ports

import (
	"context"

	"github.com/pion/webrtc/v3"
)

// PeerConn is the subset of *webrtc.PeerConnection the negotiators drive.
// Tests substitute fakes; production always passes the real connection.
type PeerConn interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	SignalingState() webrtc.SignalingState
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTransceiverFromTrack(track webrtc.TrackLocal, init ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error)
	Close() error
}

// Sender is one outbound track slot on the publish connection.
// *webrtc.RTPSender satisfies it.
type Sender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// Publisher is what the media controller needs from the publish negotiator:
// attach a track (single-encoding enforced) and trigger renegotiation.
type Publisher interface {
	AttachTrack(track webrtc.TrackLocal) (Sender, error)
	Negotiate()
}

// SignalOut is the outbound half of the signaling channel used by the core
// services. Sends on a closed channel are logged no-ops, never errors.
type SignalOut interface {
	SendMediaState(audio, video, screen bool)
	SendSpeaking(speaking bool)
	SendScreenStream(enabled bool, streamID string)
	SendTrackRemoved(trackKind, streamID string)
}

// MediaSource is one acquired local device: a sendable track plus, for
// audio, a feed of energy samples on a 0-255 scale.
type MediaSource interface {
	Track() webrtc.TrackLocal
	StreamID() string
	// Levels is nil for video sources.
	Levels() <-chan uint8
	// Done is closed when the source ends on its own (file drained,
	// capture stopped externally).
	Done() <-chan struct{}
	Close() error
}

// DeviceProvider acquires local media. Implementations map acquisition
// failures to the device error codes in pkg/errors.
type DeviceProvider interface {
	OpenMicrophone(ctx context.Context) (MediaSource, error)
	OpenCamera(ctx context.Context) (MediaSource, error)
	OpenScreen(ctx context.Context) (MediaSource, error)
}
