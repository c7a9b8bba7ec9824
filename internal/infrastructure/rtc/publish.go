package rtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"roomlink/internal/core/domain"
	"roomlink/internal/core/ports"
	"roomlink/internal/infrastructure/monitoring"
	"roomlink/internal/infrastructure/signal"
	"roomlink/pkg/errors"
	"roomlink/pkg/tracing"
)

// PublishNegotiator drives offer/answer on the publish connection. Track
// changes while an exchange is in flight are coalesced: at most one
// renegotiation is deferred, fired when the connection returns to stable.
type PublishNegotiator struct {
	pc      ports.PeerConn
	send    func(signal.Message)
	buffer  *CandidateBuffer
	logger  *zap.SugaredLogger
	metrics *monitoring.Collector

	mu          sync.Mutex
	negotiating bool
	pending     bool
}

func NewPublishNegotiator(pc ports.PeerConn, send func(signal.Message), buffer *CandidateBuffer, logger *zap.SugaredLogger, metrics *monitoring.Collector) *PublishNegotiator {
	return &PublishNegotiator{
		pc:      pc,
		send:    send,
		buffer:  buffer,
		logger:  logger,
		metrics: metrics,
	}
}

// AttachTrack adds a sendonly transceiver for track, forcing a single
// encoding so the SFU receives exactly one RTP stream per track. The
// caller renegotiates separately.
func (n *PublishNegotiator) AttachTrack(track webrtc.TrackLocal) (ports.Sender, error) {
	transceiver, err := n.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction:     webrtc.RTPTransceiverDirectionSendonly,
		SendEncodings: []webrtc.RTPEncodingParameters{{}},
	})
	if err != nil {
		return nil, errors.NewNegotiationError(err, "adding track to publish connection")
	}
	sender := transceiver.Sender()
	if sender == nil {
		return nil, domain.ErrNoSender
	}
	return sender, nil
}

// Negotiate starts a fresh offer/answer exchange, or marks one pending if
// the connection is mid-exchange. Repeated calls while busy collapse into
// a single deferred renegotiation.
func (n *PublishNegotiator) Negotiate() {
	n.mu.Lock()
	if n.negotiating || n.pc.SignalingState() != webrtc.SignalingStateStable {
		n.pending = true
		n.mu.Unlock()
		n.logger.Debugw("publish renegotiation deferred")
		return
	}
	n.negotiating = true
	n.mu.Unlock()

	ctx, span := tracing.TraceNegotiation(context.Background(), signal.TargetPub)
	defer span.End()

	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		n.logger.Errorw("creating publish offer", "error", err)
		tracing.RecordError(ctx, err)
		n.reset()
		return
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		n.logger.Errorw("applying local publish offer", "error", err)
		tracing.RecordError(ctx, err)
		n.reset()
		return
	}

	n.send(signal.Message{Type: signal.TypePubOffer, SDP: offer.SDP})
	n.metrics.PubOfferSent()
}

// HandleAnswer applies the server's answer, replays any candidates that
// arrived early and fires the deferred renegotiation if one was requested.
func (n *PublishNegotiator) HandleAnswer(sdp string) {
	if sdp == "" {
		n.logger.Warnw("ignoring empty publish answer")
		return
	}
	if err := n.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		n.logger.Errorw("applying publish answer", "error", err)
		n.reset()
		return
	}
	n.buffer.Flush(signal.TargetPub, n.pc.AddICECandidate)
	n.OnStable()
}

// HandleRemoteCandidate applies a server candidate, buffering it when the
// remote description is not yet set.
func (n *PublishNegotiator) HandleRemoteCandidate(c webrtc.ICECandidateInit) {
	if n.pc.RemoteDescription() == nil {
		n.buffer.Add(signal.TargetPub, c)
		return
	}
	if err := n.pc.AddICECandidate(c); err != nil {
		n.logger.Warnw("dropping publish candidate", "error", err)
		n.metrics.CandidateDiscarded(signal.TargetPub)
		return
	}
	n.metrics.CandidateApplied(signal.TargetPub)
}

// OnStable marks the exchange finished and fires the deferred
// renegotiation, if any. Wired to the connection's signaling state
// callback and also invoked directly after a successful answer.
func (n *PublishNegotiator) OnStable() {
	n.mu.Lock()
	n.negotiating = false
	rerun := n.pending
	n.pending = false
	n.mu.Unlock()

	if rerun {
		n.Negotiate()
	}
}

func (n *PublishNegotiator) reset() {
	n.mu.Lock()
	n.negotiating = false
	n.pending = false
	n.mu.Unlock()
}
