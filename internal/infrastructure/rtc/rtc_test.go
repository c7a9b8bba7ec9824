package rtc

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roomlink/internal/core/domain"
	"roomlink/internal/infrastructure/signal"
)

// fakePeerConn models just enough of a peer connection for the
// negotiators: signaling state follows the usual offer/answer
// transitions, and individual descriptions can be made slow or failing.
type fakePeerConn struct {
	mu     sync.Mutex
	state  webrtc.SignalingState
	remote *webrtc.SessionDescription

	offersCreated  int
	localSet       []string
	candidates     []webrtc.ICECandidateInit
	remoteErr      map[string]error
	remoteDelay    map[string]time.Duration
	candidateErrOn string
	transceiver    *webrtc.RTPTransceiver
}

func newFakePeerConn() *fakePeerConn {
	return &fakePeerConn{
		state:       webrtc.SignalingStateStable,
		remoteErr:   make(map[string]error),
		remoteDelay: make(map[string]time.Duration),
	}
}

func (f *fakePeerConn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offersCreated++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("offer-%d", f.offersCreated),
	}, nil
}

func (f *fakePeerConn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("no remote description")
	}
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  "answer-to-" + f.remote.SDP,
	}, nil
}

func (f *fakePeerConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localSet = append(f.localSet, desc.SDP)
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		f.state = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeAnswer:
		f.state = webrtc.SignalingStateStable
	}
	return nil
}

func (f *fakePeerConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	delay := f.remoteDelay[desc.SDP]
	err := f.remoteErr[desc.SDP]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = &desc
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		f.state = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		f.state = webrtc.SignalingStateStable
	}
	return nil
}

func (f *fakePeerConn) RemoteDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

func (f *fakePeerConn) SignalingState() webrtc.SignalingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePeerConn) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.candidateErrOn != "" && c.Candidate == f.candidateErrOn {
		return fmt.Errorf("bad candidate")
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakePeerConn) AddTransceiverFromTrack(webrtc.TrackLocal, ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error) {
	if f.transceiver == nil {
		return nil, fmt.Errorf("not supported by fake")
	}
	return f.transceiver, nil
}

func (f *fakePeerConn) Close() error { return nil }

func (f *fakePeerConn) appliedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.candidates))
	for i, c := range f.candidates {
		out[i] = c.Candidate
	}
	return out
}

type sentLog struct {
	mu   sync.Mutex
	msgs []signal.Message
}

func (s *sentLog) send(m signal.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
}

func (s *sentLog) ofType(t string) []signal.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []signal.Message
	for _, m := range s.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestAttachTrackRejectsMissingSender(t *testing.T) {
	pc := newFakePeerConn()
	// A transceiver that never got a sender assigned.
	pc.transceiver = &webrtc.RTPTransceiver{}
	n := NewPublishNegotiator(pc, (&sentLog{}).send, NewCandidateBuffer(testLogger(), nil), testLogger(), nil)

	_, err := n.AttachTrack(nil)
	assert.ErrorIs(t, err, domain.ErrNoSender)
}

func TestPublishNegotiateSendsOffer(t *testing.T) {
	pc := newFakePeerConn()
	sent := &sentLog{}
	n := NewPublishNegotiator(pc, sent.send, NewCandidateBuffer(testLogger(), nil), testLogger(), nil)

	n.Negotiate()

	offers := sent.ofType(signal.TypePubOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, "offer-1", offers[0].SDP)
	assert.Equal(t, []string{"offer-1"}, pc.localSet)
}

func TestPublishCoalescesWhileNegotiating(t *testing.T) {
	pc := newFakePeerConn()
	sent := &sentLog{}
	n := NewPublishNegotiator(pc, sent.send, NewCandidateBuffer(testLogger(), nil), testLogger(), nil)

	n.Negotiate()
	require.Len(t, sent.ofType(signal.TypePubOffer), 1)

	// Three track changes while the first exchange is in flight.
	n.Negotiate()
	n.Negotiate()
	n.Negotiate()
	assert.Len(t, sent.ofType(signal.TypePubOffer), 1)

	// Answer arrives: exactly one deferred renegotiation fires.
	n.HandleAnswer("answer-1")
	offers := sent.ofType(signal.TypePubOffer)
	require.Len(t, offers, 2)
	assert.Equal(t, "offer-2", offers[1].SDP)

	// No further negotiation after the second answer.
	n.HandleAnswer("answer-2")
	assert.Len(t, sent.ofType(signal.TypePubOffer), 2)
}

func TestPublishNegotiateWhenIdleIsImmediate(t *testing.T) {
	pc := newFakePeerConn()
	sent := &sentLog{}
	n := NewPublishNegotiator(pc, sent.send, NewCandidateBuffer(testLogger(), nil), testLogger(), nil)

	n.Negotiate()
	n.HandleAnswer("answer-1")
	n.Negotiate()

	assert.Len(t, sent.ofType(signal.TypePubOffer), 2)
}

func TestPublishBuffersEarlyCandidates(t *testing.T) {
	pc := newFakePeerConn()
	sent := &sentLog{}
	n := NewPublishNegotiator(pc, sent.send, NewCandidateBuffer(testLogger(), nil), testLogger(), nil)

	n.HandleRemoteCandidate(webrtc.ICECandidateInit{Candidate: "c1"})
	n.HandleRemoteCandidate(webrtc.ICECandidateInit{Candidate: "c2"})
	assert.Empty(t, pc.appliedCandidates())

	n.Negotiate()
	n.HandleAnswer("answer-1")
	assert.Equal(t, []string{"c1", "c2"}, pc.appliedCandidates())

	// With the remote description set, candidates apply directly.
	n.HandleRemoteCandidate(webrtc.ICECandidateInit{Candidate: "c3"})
	assert.Equal(t, []string{"c1", "c2", "c3"}, pc.appliedCandidates())
}

func TestSubscribeAnswersOffersInOrder(t *testing.T) {
	pc := newFakePeerConn()
	// The second offer is slow to apply; ordering must still hold.
	pc.remoteDelay["o2"] = 50 * time.Millisecond
	sent := &sentLog{}
	n := NewSubscribeNegotiator(pc, sent.send, NewCandidateBuffer(testLogger(), nil), testLogger(), nil)
	defer n.Close()

	n.EnqueueOffer("o1")
	n.EnqueueOffer("o2")
	n.EnqueueOffer("o3")

	require.Eventually(t, func() bool {
		return len(sent.ofType(signal.TypeSubAnswer)) == 3
	}, 2*time.Second, 10*time.Millisecond)

	answers := sent.ofType(signal.TypeSubAnswer)
	assert.Equal(t, "answer-to-o1", answers[0].SDP)
	assert.Equal(t, "answer-to-o2", answers[1].SDP)
	assert.Equal(t, "answer-to-o3", answers[2].SDP)
}

func TestSubscribeSkipsBadOffer(t *testing.T) {
	pc := newFakePeerConn()
	pc.remoteErr["bad"] = fmt.Errorf("malformed sdp")
	sent := &sentLog{}
	n := NewSubscribeNegotiator(pc, sent.send, NewCandidateBuffer(testLogger(), nil), testLogger(), nil)
	defer n.Close()

	n.EnqueueOffer("o1")
	n.EnqueueOffer("bad")
	n.EnqueueOffer("o3")

	require.Eventually(t, func() bool {
		return len(sent.ofType(signal.TypeSubAnswer)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	answers := sent.ofType(signal.TypeSubAnswer)
	assert.Equal(t, "answer-to-o1", answers[0].SDP)
	assert.Equal(t, "answer-to-o3", answers[1].SDP)
}

func TestSubscribeIgnoresEmptyOffer(t *testing.T) {
	pc := newFakePeerConn()
	sent := &sentLog{}
	n := NewSubscribeNegotiator(pc, sent.send, NewCandidateBuffer(testLogger(), nil), testLogger(), nil)
	defer n.Close()

	n.EnqueueOffer("")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sent.ofType(signal.TypeSubAnswer))
}

func TestSubscribeFlushesBufferedCandidatesOnFirstOffer(t *testing.T) {
	pc := newFakePeerConn()
	sent := &sentLog{}
	buf := NewCandidateBuffer(testLogger(), nil)
	n := NewSubscribeNegotiator(pc, sent.send, buf, testLogger(), nil)
	defer n.Close()

	n.HandleRemoteCandidate(webrtc.ICECandidateInit{Candidate: "c1"})
	n.HandleRemoteCandidate(webrtc.ICECandidateInit{Candidate: "c2"})
	assert.Equal(t, 2, buf.Len(signal.TargetSub))

	n.EnqueueOffer("o1")
	require.Eventually(t, func() bool {
		return len(sent.ofType(signal.TypeSubAnswer)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"c1", "c2"}, pc.appliedCandidates())
	assert.Zero(t, buf.Len(signal.TargetSub))
}

func TestCandidateBufferSkipsFailingCandidate(t *testing.T) {
	pc := newFakePeerConn()
	pc.candidateErrOn = "broken"
	buf := NewCandidateBuffer(testLogger(), nil)

	buf.Add(signal.TargetSub, webrtc.ICECandidateInit{Candidate: "c1"})
	buf.Add(signal.TargetSub, webrtc.ICECandidateInit{Candidate: "broken"})
	buf.Add(signal.TargetSub, webrtc.ICECandidateInit{Candidate: "c3"})

	buf.Flush(signal.TargetSub, pc.AddICECandidate)

	assert.Equal(t, []string{"c1", "c3"}, pc.appliedCandidates())
	assert.Zero(t, buf.Len(signal.TargetSub))
}
