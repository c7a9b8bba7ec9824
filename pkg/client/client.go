// Package client is the public face of roomlink: one Client joins one
// session on an SFU, publishes local media over a send-only peer
// connection and receives the room's media over a second, receive-only
// one. A Client is single-shot; after Disconnect or a failed session a
// fresh instance is needed.
package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"roomlink/internal/core/domain"
	"roomlink/internal/core/ports"
	"roomlink/internal/core/services"
	"roomlink/internal/infrastructure/media"
	"roomlink/internal/infrastructure/monitoring"
	"roomlink/internal/infrastructure/rtc"
	"roomlink/internal/infrastructure/signal"
	"roomlink/pkg/errors"
	"roomlink/pkg/tracing"
	"roomlink/pkg/validation"
)

const (
	defaultSpeakingInterval  = 250 * time.Millisecond
	defaultSpeakingThreshold = 12
)

// Options configures one client instance. URL, UserID and SessionID are
// required; everything else has a default.
type Options struct {
	URL       string
	UserID    string
	UserName  string
	SessionID string

	ICEServers []webrtc.ICEServer

	// Devices defaults to the synthetic provider.
	Devices ports.DeviceProvider

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics may be nil, in which case nothing is recorded.
	Metrics prometheus.Registerer

	SpeakingInterval  time.Duration
	SpeakingThreshold uint8
}

// Client drives one session. All methods are safe for concurrent use.
type Client struct {
	opts    Options
	logger  *zap.SugaredLogger
	metrics *monitoring.Collector
	events  *emitter

	channel *signal.Channel
	factory *rtc.Factory

	roster *services.Roster
	tiles  *services.TileRegistry

	mu         sync.Mutex
	connState  domain.ConnectionState
	authState  domain.AuthState
	selfPeerID domain.PeerID
	used       bool
	closing    bool
	tornDown   bool

	pubPC, subPC *webrtc.PeerConnection
	pubNeg       *rtc.PublishNegotiator
	subNeg       *rtc.SubscribeNegotiator
	media        *services.MediaController
	detector     *services.SpeakingDetector
	drained      map[*webrtc.RTPSender]bool
}

// New validates opts and builds an unconnected client.
func New(opts Options) (*Client, error) {
	if err := validation.ValidateSignalingURL(opts.URL); err != nil {
		return nil, err
	}
	if err := validation.ValidateUserID(opts.UserID); err != nil {
		return nil, err
	}
	if err := validation.ValidateSessionID(opts.SessionID); err != nil {
		return nil, err
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Devices == nil {
		opts.Devices = media.NewSyntheticProvider(opts.Logger.Sugar())
	}
	if opts.SpeakingInterval <= 0 {
		opts.SpeakingInterval = defaultSpeakingInterval
	}
	if opts.SpeakingThreshold == 0 {
		opts.SpeakingThreshold = defaultSpeakingThreshold
	}

	factory, err := rtc.NewFactory(opts.ICEServers)
	if err != nil {
		return nil, errors.NewNegotiationError(err, "preparing WebRTC engine")
	}

	logger := opts.Logger.Sugar().With("userId", opts.UserID, "sessionId", opts.SessionID)
	metrics := monitoring.NewCollector(opts.Metrics)

	return &Client{
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
		events:    newEmitter(),
		channel:   signal.NewChannel(opts.Logger),
		factory:   factory,
		roster:    services.NewRoster(domain.UserID(opts.UserID), logger, metrics),
		tiles:     services.NewTileRegistry(logger, metrics),
		connState: domain.ConnectionDisconnected,
		authState: domain.AuthIdle,
		drained:   make(map[*webrtc.RTPSender]bool),
	}, nil
}

// Subscribe registers a listener for events of type t and returns its
// unsubscribe func. Listeners run on internal goroutines and must not
// block.
func (c *Client) Subscribe(t EventType, fn func(Event)) func() {
	return c.events.on(t, fn)
}

// Connect opens the signaling channel, builds both peer connections and
// sends the join request. It returns once the request is on the wire; the
// connected event fires when the server admits the session, the
// authorization-failed event when it refuses.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.used {
		c.mu.Unlock()
		return domain.ErrAlreadyConnected
	}
	c.used = true
	c.mu.Unlock()

	ctx, span := tracing.TraceConnect(ctx, c.opts.UserID, c.opts.SessionID)
	defer span.End()

	c.setConnState(domain.ConnectionConnecting)

	// Both connections exist before the socket opens; the read loop may
	// hand over messages immediately.
	if err := c.buildPeerConnections(); err != nil {
		c.setConnState(domain.ConnectionFailed)
		tracing.RecordError(ctx, err)
		return err
	}

	c.channel.OnMessage(c.handleSignal)
	c.channel.OnClose(c.handleChannelClosed)
	if err := c.channel.Open(ctx, c.opts.URL); err != nil {
		c.teardown(domain.ConnectionFailed, err)
		wrapped := errors.NewTransportError(err, "opening signaling channel")
		tracing.RecordError(ctx, wrapped)
		return wrapped
	}

	c.mu.Lock()
	c.authState = domain.AuthAuthorizing
	c.mu.Unlock()
	c.events.emit(Event{Type: EventAuthorizing})

	c.channel.Send(signal.Message{
		Type:      signal.TypeJoin,
		UserID:    c.opts.UserID,
		UserName:  c.opts.UserName,
		SessionID: c.opts.SessionID,
	})
	c.logger.Infow("join requested")
	return nil
}

// Disconnect ends the session. Safe on an unconnected or already
// disconnected client.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	c.teardown(domain.ConnectionDisconnected, nil)
}

// ToggleAudio enables or disables the microphone.
func (c *Client) ToggleAudio(ctx context.Context, enabled bool) error {
	mc := c.mediaController()
	if mc == nil {
		return domain.ErrNotConnected
	}
	if err := mc.ToggleAudio(ctx, enabled); err != nil {
		c.events.emit(Event{Type: EventToggleAudioError, Err: err})
		return err
	}
	c.emitLocalMedia()
	return nil
}

// ToggleVideo enables or disables the camera.
func (c *Client) ToggleVideo(ctx context.Context, enabled bool) error {
	mc := c.mediaController()
	if mc == nil {
		return domain.ErrNotConnected
	}
	if err := mc.ToggleVideo(ctx, enabled); err != nil {
		c.events.emit(Event{Type: EventToggleVideoError, Err: err})
		return err
	}
	c.emitLocalMedia()
	return nil
}

// StartScreenShare begins publishing a screen capture.
func (c *Client) StartScreenShare(ctx context.Context) error {
	mc := c.mediaController()
	if mc == nil {
		return domain.ErrNotConnected
	}
	if err := mc.StartScreenShare(ctx); err != nil {
		c.events.emit(Event{Type: EventError, Err: err})
		return err
	}
	c.events.emit(Event{Type: EventScreenShareStarted})
	c.emitLocalMedia()
	return nil
}

// StopScreenShare ends the screen capture.
func (c *Client) StopScreenShare() error {
	mc := c.mediaController()
	if mc == nil {
		return domain.ErrNotConnected
	}
	return mc.StopScreenShare()
}

// State returns a snapshot of the whole client.
func (c *Client) State() domain.ClientState {
	c.mu.Lock()
	state := domain.ClientState{
		Connected:       c.connState == domain.ConnectionConnected,
		PeerID:          c.selfPeerID,
		ConnectionState: c.connState,
	}
	mc := c.media
	c.mu.Unlock()

	if mc != nil {
		state.AudioEnabled, state.VideoEnabled, state.ScreenEnabled = mc.States()
		state.LocalStreamID = mc.LocalStreamID()
	}
	state.Peers = c.roster.Snapshot()
	return state
}

// IsConnected reports whether the session is established.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState == domain.ConnectionConnected
}

// PeerID returns the server-assigned peer id, empty before joined.
func (c *Client) PeerID() domain.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfPeerID
}

// Peers returns the current remote roster.
func (c *Client) Peers() map[domain.PeerID]domain.PeerRecord {
	return c.roster.Snapshot()
}

// Tiles returns the current inbound tiles.
func (c *Client) Tiles() []domain.Tile {
	return c.tiles.Snapshot()
}

// ConnectionState returns the coarse lifecycle state.
func (c *Client) ConnectionState() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// AuthState returns the authorization state of the join request.
func (c *Client) AuthState() domain.AuthState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authState
}

func (c *Client) buildPeerConnections() error {
	pubPC, err := c.factory.NewPublishConnection()
	if err != nil {
		return errors.NewNegotiationError(err, "creating publish connection")
	}
	subPC, err := c.factory.NewSubscribeConnection()
	if err != nil {
		_ = pubPC.Close()
		return errors.NewNegotiationError(err, "creating subscribe connection")
	}

	buffer := rtc.NewCandidateBuffer(c.logger, c.metrics)
	pubNeg := rtc.NewPublishNegotiator(pubPC, c.channel.Send, buffer, c.logger, c.metrics)
	subNeg := rtc.NewSubscribeNegotiator(subPC, c.channel.Send, buffer, c.logger, c.metrics)

	rtc.ForwardICECandidates(pubPC, signal.TargetPub, c.channel.Send, c.metrics)
	rtc.ForwardICECandidates(subPC, signal.TargetSub, c.channel.Send, c.metrics)

	pubPC.OnSignalingStateChange(func(s webrtc.SignalingState) {
		if s == webrtc.SignalingStateStable {
			pubNeg.OnStable()
		}
	})
	subPC.OnSignalingStateChange(func(s webrtc.SignalingState) {
		if s == webrtc.SignalingStateStable {
			subNeg.OnStable()
		}
	})
	subPC.OnTrack(c.handleTrack)

	pubPC.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Infow("publish connection state", "state", s.String())
		if s == webrtc.PeerConnectionStateFailed {
			c.events.emit(Event{Type: EventError, Err: errors.New(errors.ErrCodeNegotiation, "publish connection failed")})
		}
	})
	subPC.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Infow("subscribe connection state", "state", s.String())
	})

	detector := services.NewSpeakingDetector(
		c.opts.SpeakingInterval, c.opts.SpeakingThreshold, c.emitSpeaking, c.logger, c.metrics,
	)
	mc := services.NewMediaController(c.opts.Devices, pubNeg, c.channel, detector, c.logger)
	mc.OnScreenStopped(func() {
		c.events.emit(Event{Type: EventScreenShareStopped})
		c.emitLocalMedia()
	})

	c.mu.Lock()
	c.pubPC, c.subPC = pubPC, subPC
	c.pubNeg, c.subNeg = pubNeg, subNeg
	c.media, c.detector = mc, detector
	c.mu.Unlock()
	return nil
}

func (c *Client) handleSignal(msg signal.Message) {
	switch msg.Type {
	case signal.TypeJoined:
		c.handleJoined(msg)

	case signal.TypePubAnswer:
		c.pubNeg.HandleAnswer(msg.SDP)
		c.drainNewSenders()

	case signal.TypeSubOffer:
		c.subNeg.EnqueueOffer(msg.SDP)

	case signal.TypeCandidate:
		c.handleCandidate(msg)

	case signal.TypePeerList:
		added := c.roster.ApplyList(msg.Users)
		for i := range added {
			c.events.emit(Event{Type: EventPeerJoined, Peer: &added[i]})
		}
		c.events.emit(Event{Type: EventRosterUpdated})

	case signal.TypePeerJoined:
		if rec, ok := c.roster.ApplyJoined(msg); ok {
			c.events.emit(Event{Type: EventPeerJoined, Peer: &rec})
			c.events.emit(Event{Type: EventRosterUpdated})
		}

	case signal.TypePeerLeft:
		c.handlePeerLeft(msg)

	case signal.TypeMediaState:
		if rec, ok := c.roster.ApplyMediaState(msg); ok {
			c.events.emit(Event{
				Type: EventPeerMediaChanged, Peer: &rec,
				Audio: rec.AudioEnabled, Video: rec.VideoEnabled, Screen: rec.ScreenEnabled,
			})
		}

	case signal.TypeSpeaking:
		speaking := signal.Bool(msg.Speaking, false)
		if rec, ok := c.roster.ApplySpeaking(domain.PeerID(msg.PeerID), speaking); ok {
			c.events.emit(Event{Type: EventPeerSpeakingChanged, Peer: &rec, Speaking: speaking})
		}

	case signal.TypeScreenStream:
		if msg.ScreenStreamID != "" {
			if err := validation.ValidateStreamID(msg.ScreenStreamID); err != nil {
				c.logger.Warnw("ignoring malformed screen stream id", "error", err)
				return
			}
		}
		enabled := signal.Bool(msg.ScreenEnabled, false)
		changed := c.tiles.SetScreenStream(
			domain.PeerID(msg.PeerID), domain.StreamID(msg.ScreenStreamID), enabled,
		)
		for i := range changed {
			c.events.emit(Event{Type: EventTileUpdated, Tile: &changed[i]})
		}

	case signal.TypeTrackRemoved:
		removed := c.tiles.RemoveByStream(domain.StreamID(msg.StreamID))
		for i := range removed {
			c.events.emit(Event{Type: EventTileRemoved, Tile: &removed[i]})
		}

	case signal.TypeError:
		c.handleServerError(msg)

	default:
		c.logger.Debugw("ignoring unknown signaling message", "type", msg.Type)
	}
}

func (c *Client) handleJoined(msg signal.Message) {
	peerID := domain.PeerID(msg.PeerID)

	c.mu.Lock()
	c.selfPeerID = peerID
	c.authState = domain.AuthAuthorized
	mc := c.media
	c.mu.Unlock()

	c.roster.SetSelfPeerID(peerID)
	mc.SetSelfPeerID(peerID)

	c.setConnState(domain.ConnectionConnected)
	c.logger.Infow("joined session", "peerId", msg.PeerID)
	c.events.emit(Event{Type: EventConnected})

	// The server holds back subscribe offers until this acknowledgment;
	// it must go out before local media starts negotiating.
	c.channel.Send(signal.Message{Type: signal.TypeSubReady})

	// Device acquisition must not stall the signaling read loop.
	go func() {
		audioErr, videoErr := mc.Start(context.Background())
		if audioErr != nil {
			c.logger.Warnw("microphone unavailable", "error", audioErr)
			c.events.emit(Event{Type: EventToggleAudioError, Err: audioErr})
		}
		if videoErr != nil {
			c.logger.Warnw("camera unavailable", "error", videoErr)
			c.events.emit(Event{Type: EventToggleVideoError, Err: videoErr})
		}
		c.emitLocalMedia()
		c.drainNewSenders()
	}()
}

func (c *Client) handleCandidate(msg signal.Message) {
	init := webrtc.ICECandidateInit{Candidate: msg.Candidate}
	if msg.SDPMid != "" {
		mid := msg.SDPMid
		init.SDPMid = &mid
	}
	idx := msg.SDPMLineIndex
	init.SDPMLineIndex = &idx

	switch msg.Target {
	case signal.TargetPub:
		c.pubNeg.HandleRemoteCandidate(init)
	case signal.TargetSub:
		c.subNeg.HandleRemoteCandidate(init)
	default:
		c.logger.Warnw("candidate for unknown target", "target", msg.Target)
	}
}

func (c *Client) handlePeerLeft(msg signal.Message) {
	peerID := domain.PeerID(msg.PeerID)

	removed := c.tiles.RemoveByPeer(peerID)
	for i := range removed {
		c.events.emit(Event{Type: EventTileRemoved, Tile: &removed[i]})
	}

	if rec, ok := c.roster.ApplyLeft(peerID); ok {
		c.events.emit(Event{Type: EventPeerLeft, Peer: &rec})
		c.events.emit(Event{Type: EventRosterUpdated})
	}
}

func (c *Client) handleServerError(msg signal.Message) {
	reason := strings.ToLower(msg.Message)
	denial := strings.Contains(reason, "access denied") || strings.Contains(reason, "authorization failed")

	c.mu.Lock()
	authorizing := c.authState == domain.AuthAuthorizing
	if denial && authorizing {
		c.authState = domain.AuthDenied
	}
	c.mu.Unlock()

	if denial && authorizing {
		err := errors.NewUnauthorizedError(msg.Message)
		c.logger.Warnw("session refused", "reason", msg.Message)
		c.events.emit(Event{Type: EventAuthorizationFailed, Err: err})
		c.teardown(domain.ConnectionFailed, err)
		return
	}

	c.logger.Warnw("server error", "message", msg.Message)
	c.events.emit(Event{Type: EventError, Err: errors.New(errors.ErrCodeTransport, msg.Message)})
}

func (c *Client) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind := domain.TrackKindVideo
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		kind = domain.TrackKindAudio
	}

	streamID := track.StreamID()
	if streamID == "" {
		// A track without msid still needs a stable tile identity.
		streamID = "unknown:" + uuid.NewString()
	}

	tile := c.tiles.Add(domain.StreamID(streamID), kind, track.ID())
	c.events.emit(Event{Type: EventTileAdded, Tile: &tile, Track: track})

	go c.pumpRTP(track)
}

// pumpRTP keeps an inbound track flowing. Consumers that want the media
// read it via the tile-added event's Track; this loop only accounts for
// it when nobody else does.
func (c *Client) pumpRTP(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		c.accountPacket(pkt)
	}
}

func (c *Client) accountPacket(pkt *rtp.Packet) {
	c.metrics.InboundRTP(pkt.MarshalSize())
}

// drainNewSenders starts an RTCP reader for every publish sender that
// does not have one yet. Without a reader the interceptors never see
// feedback and the sender's buffers fill up.
func (c *Client) drainNewSenders() {
	c.mu.Lock()
	pubPC := c.pubPC
	c.mu.Unlock()
	if pubPC == nil {
		return
	}

	for _, sender := range pubPC.GetSenders() {
		c.mu.Lock()
		seen := c.drained[sender]
		if !seen {
			c.drained[sender] = true
		}
		c.mu.Unlock()
		if !seen {
			go c.drainRTCP(sender)
		}
	}
}

func (c *Client) drainRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication:
				c.metrics.PLIReceived()
			case *rtcp.TransportLayerNack:
				c.metrics.NACKReceived()
			}
		}
	}
}

func (c *Client) handleChannelClosed(err error) {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return
	}
	c.logger.Warnw("signaling channel lost", "error", err)
	c.teardown(domain.ConnectionDisconnected, domain.ErrChannelClosed)
}

func (c *Client) emitSpeaking(speaking bool) {
	c.channel.SendSpeaking(speaking)
	c.events.emit(Event{Type: EventLocalSpeakingChanged, Speaking: speaking})
}

func (c *Client) emitLocalMedia() {
	mc := c.mediaController()
	if mc == nil {
		return
	}
	audio, video, screen := mc.States()
	c.events.emit(Event{Type: EventLocalMediaChanged, Audio: audio, Video: video, Screen: screen})
}

func (c *Client) mediaController() *services.MediaController {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connState != domain.ConnectionConnected {
		return nil
	}
	return c.media
}

func (c *Client) setConnState(state domain.ConnectionState) {
	c.mu.Lock()
	if c.connState == state {
		c.mu.Unlock()
		return
	}
	c.connState = state
	c.mu.Unlock()
	c.events.emit(Event{Type: EventConnectionStateChanged, State: state})
}

func (c *Client) teardown(state domain.ConnectionState, cause error) {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	c.tornDown = true
	c.closing = true
	mc := c.media
	subNeg := c.subNeg
	pubPC, subPC := c.pubPC, c.subPC
	c.mu.Unlock()

	if mc != nil {
		mc.Shutdown()
	}
	if subNeg != nil {
		subNeg.Close()
	}
	if pubPC != nil {
		_ = pubPC.Close()
	}
	if subPC != nil {
		_ = subPC.Close()
	}
	_ = c.channel.Close()

	c.roster.Clear()
	c.tiles.Clear()

	c.setConnState(state)
	c.events.emit(Event{Type: EventDisconnected, Err: cause})
	c.logger.Infow("session ended", "state", string(state))
}
