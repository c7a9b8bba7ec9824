// Package rtc owns the two peer connections of one client session: the
// publish connection carrying local tracks to the SFU and the subscribe
// connection receiving forwarded tracks back.
package rtc

import (
	"github.com/pion/webrtc/v3"

	"roomlink/internal/infrastructure/monitoring"
	"roomlink/internal/infrastructure/signal"
)

// Factory builds peer connections on a shared webrtc.API configured the
// way the SFU expects: default codecs plus the sdes mid/stream-id header
// extensions used for track attribution.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewFactory prepares the shared API. iceServers may be empty for
// host-only connectivity.
func NewFactory(iceServers []webrtc.ICEServer) (*Factory, error) {
	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	if err := media.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: "urn:ietf:params:rtp-hdrext:sdes:mid"}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}
	if err := media.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: "urn:ietf:params:rtp-hdrext:sdes:mid"}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}

	return &Factory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(media)),
		config: webrtc.Configuration{ICEServers: iceServers},
	}, nil
}

// NewPublishConnection creates the outbound peer connection. Tracks are
// attached later by the media controller.
func (f *Factory) NewPublishConnection() (*webrtc.PeerConnection, error) {
	return f.api.NewPeerConnection(f.config)
}

// NewSubscribeConnection creates the inbound peer connection with the
// receive-only audio and video baseline; additional tracks arrive through
// renegotiation offers from the server.
func (f *Factory) NewSubscribeConnection() (*webrtc.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}
	return pc, nil
}

// ForwardICECandidates sends every locally gathered candidate to the SFU
// tagged with its connection target. The nil end-of-candidates marker is
// not forwarded.
func ForwardICECandidates(pc *webrtc.PeerConnection, target string, send func(signal.Message), metrics *monitoring.Collector) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		candidate := c.ToJSON()
		msg := signal.Message{
			Type:      signal.TypeCandidate,
			Target:    target,
			Candidate: candidate.Candidate,
		}
		if candidate.SDPMid != nil {
			msg.SDPMid = *candidate.SDPMid
		}
		if candidate.SDPMLineIndex != nil {
			msg.SDPMLineIndex = *candidate.SDPMLineIndex
		}
		send(msg)
		metrics.CandidateSent(target)
	})
}
