package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"roomlink/internal/core/ports"
	"roomlink/internal/infrastructure/monitoring"
	"roomlink/internal/infrastructure/signal"
	"roomlink/pkg/tracing"
)

// stableWait bounds how long the drain loop waits for a stable-state
// notification before re-checking the connection itself.
const stableWait = 200 * time.Millisecond

// SubscribeNegotiator answers renegotiation offers from the SFU. Offers
// are queued and applied strictly in arrival order, one at a time; an
// offer that fails to apply is skipped and the queue moves on.
type SubscribeNegotiator struct {
	pc      ports.PeerConn
	send    func(signal.Message)
	buffer  *CandidateBuffer
	logger  *zap.SugaredLogger
	metrics *monitoring.Collector

	mu       sync.Mutex
	queue    []string
	draining bool

	stable chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewSubscribeNegotiator(pc ports.PeerConn, send func(signal.Message), buffer *CandidateBuffer, logger *zap.SugaredLogger, metrics *monitoring.Collector) *SubscribeNegotiator {
	return &SubscribeNegotiator{
		pc:      pc,
		send:    send,
		buffer:  buffer,
		logger:  logger,
		metrics: metrics,
		stable:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// EnqueueOffer appends a server offer to the queue and starts the drain
// loop if it is not already running.
func (n *SubscribeNegotiator) EnqueueOffer(sdp string) {
	if sdp == "" {
		n.logger.Warnw("ignoring empty subscribe offer")
		return
	}

	n.mu.Lock()
	n.queue = append(n.queue, sdp)
	start := !n.draining
	if start {
		n.draining = true
	}
	n.mu.Unlock()

	n.metrics.SubOfferQueued()
	if start {
		go n.drain()
	}
}

// OnStable wakes the drain loop. Wired to the connection's signaling
// state callback.
func (n *SubscribeNegotiator) OnStable() {
	select {
	case n.stable <- struct{}{}:
	default:
	}
}

// HandleRemoteCandidate applies a server candidate, buffering it when the
// remote description is not yet set.
func (n *SubscribeNegotiator) HandleRemoteCandidate(c webrtc.ICECandidateInit) {
	if n.pc.RemoteDescription() == nil {
		n.buffer.Add(signal.TargetSub, c)
		return
	}
	if err := n.pc.AddICECandidate(c); err != nil {
		n.logger.Warnw("dropping subscribe candidate", "error", err)
		n.metrics.CandidateDiscarded(signal.TargetSub)
		return
	}
	n.metrics.CandidateApplied(signal.TargetSub)
}

// Close stops the drain loop. Queued offers are abandoned.
func (n *SubscribeNegotiator) Close() {
	n.once.Do(func() { close(n.done) })
}

func (n *SubscribeNegotiator) drain() {
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.draining = false
			n.mu.Unlock()
			return
		}

		if n.pc.SignalingState() != webrtc.SignalingStateStable {
			n.mu.Unlock()
			select {
			case <-n.stable:
			case <-time.After(stableWait):
			case <-n.done:
				return
			}
			continue
		}

		sdp := n.queue[0]
		n.queue = n.queue[1:]
		n.mu.Unlock()

		if err := n.apply(sdp); err != nil {
			n.logger.Warnw("skipping subscribe offer", "error", err)
			n.metrics.SubOfferSkipped()
		}
	}
}

func (n *SubscribeNegotiator) apply(sdp string) error {
	ctx, span := tracing.TraceNegotiation(context.Background(), signal.TargetSub)
	defer span.End()

	err := n.applyOffer(sdp)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (n *SubscribeNegotiator) applyOffer(sdp string) error {
	if err := n.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return err
	}

	n.buffer.Flush(signal.TargetSub, n.pc.AddICECandidate)

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return err
	}

	n.send(signal.Message{Type: signal.TypeSubAnswer, SDP: answer.SDP})
	n.metrics.SubOfferApplied()
	n.metrics.SubAnswerSent()
	return nil
}
