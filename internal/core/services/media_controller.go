package services

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"roomlink/internal/core/domain"
	"roomlink/internal/core/ports"
)

// MediaController owns the local media: acquisition from the device
// provider, attachment to the publish connection, the enabled flags the
// rest of the session reads, and the signaling that tells the room about
// local media changes.
type MediaController struct {
	devices   ports.DeviceProvider
	publisher ports.Publisher
	out       ports.SignalOut
	detector  *SpeakingDetector
	logger    *zap.SugaredLogger

	mu              sync.Mutex
	started         bool
	selfPeerID      domain.PeerID
	onScreenStopped func()

	mic, camera, screen        ports.MediaSource
	micSender, cameraSender    ports.Sender
	screenSender               ports.Sender
	audioEnabled, videoEnabled bool
	screenEnabled              bool
	screenGen                  int
}

func NewMediaController(devices ports.DeviceProvider, publisher ports.Publisher, out ports.SignalOut, detector *SpeakingDetector, logger *zap.SugaredLogger) *MediaController {
	return &MediaController{
		devices:   devices,
		publisher: publisher,
		out:       out,
		detector:  detector,
		logger:    logger,
	}
}

// SetSelfPeerID records the server-assigned peer id, needed for the
// track_removed announcements which name forwarded stream ids.
func (m *MediaController) SetSelfPeerID(id domain.PeerID) {
	m.mu.Lock()
	m.selfPeerID = id
	m.mu.Unlock()
}

// OnScreenStopped registers a callback fired whenever a screen share
// ends, whether stopped deliberately or by the capture itself.
func (m *MediaController) OnScreenStopped(fn func()) {
	m.mu.Lock()
	m.onScreenStopped = fn
	m.mu.Unlock()
}

// Start acquires microphone and camera and publishes whatever succeeded.
// Each device failure is returned separately so the caller can surface
// them as the matching toggle errors; a session with no working devices
// is still valid, receive-only.
func (m *MediaController) Start(ctx context.Context) (audioErr, videoErr error) {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()

	audioErr = m.enableAudio(ctx)
	videoErr = m.enableVideo(ctx)

	if audioErr == nil || videoErr == nil {
		m.publisher.Negotiate()
	}
	m.sendMediaState()
	return audioErr, videoErr
}

// ToggleAudio enables or disables the microphone. Toggling to the current
// state is a no-op. Disabling mutes the sender, releases the device and
// renegotiates; enabling reacquires, reusing the sender slot if one exists.
func (m *MediaController) ToggleAudio(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return domain.ErrNotConnected
	}
	if enabled == m.audioEnabled {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if enabled {
		if err := m.enableAudio(ctx); err != nil {
			return err
		}
	} else {
		m.mu.Lock()
		mic := m.mic
		sender := m.micSender
		m.mic = nil
		m.audioEnabled = false
		m.mu.Unlock()

		m.detector.Stop()
		if sender != nil {
			if err := sender.ReplaceTrack(nil); err != nil {
				m.logger.Warnw("muting microphone sender", "error", err)
			}
		}
		if mic != nil {
			mic.Close()
		}
	}

	m.publisher.Negotiate()
	m.sendMediaState()
	return nil
}

// ToggleVideo enables or disables the camera, mirroring ToggleAudio's
// release-on-disable policy.
func (m *MediaController) ToggleVideo(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return domain.ErrNotConnected
	}
	if enabled == m.videoEnabled {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if enabled {
		if err := m.enableVideo(ctx); err != nil {
			return err
		}
	} else {
		m.mu.Lock()
		camera := m.camera
		sender := m.cameraSender
		m.camera = nil
		m.videoEnabled = false
		m.mu.Unlock()

		if sender != nil {
			if err := sender.ReplaceTrack(nil); err != nil {
				m.logger.Warnw("muting camera sender", "error", err)
			}
		}
		if camera != nil {
			camera.Close()
		}
	}

	m.publisher.Negotiate()
	m.sendMediaState()
	return nil
}

// StartScreenShare begins a screen capture. Starting while already
// sharing is a no-op. A capture that ends on its own, file drained or
// cancelled by the system, tears itself down as if stopped.
func (m *MediaController) StartScreenShare(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return domain.ErrNotConnected
	}
	if m.screenEnabled {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	source, err := m.devices.OpenScreen(ctx)
	if err != nil {
		return err
	}

	// Every share cycle gets a fresh transceiver; the announced stream id
	// changes each time.
	sender, err := m.publish(source, nil)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.screen = source
	m.screenSender = sender
	m.screenEnabled = true
	m.screenGen++
	gen := m.screenGen
	m.mu.Unlock()

	go m.watchScreenEnd(source, gen)

	m.publisher.Negotiate()
	m.out.SendScreenStream(true, source.StreamID())
	m.sendMediaState()
	m.logger.Infow("screen share started", "streamId", source.StreamID())
	return nil
}

// StopScreenShare ends the capture and announces the removed stream.
// Stopping while not sharing is a no-op.
func (m *MediaController) StopScreenShare() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return domain.ErrNotConnected
	}
	if !m.screenEnabled {
		m.mu.Unlock()
		return nil
	}
	source := m.screen
	sender := m.screenSender
	selfPeerID := m.selfPeerID
	stopped := m.onScreenStopped
	m.screen = nil
	m.screenSender = nil
	m.screenEnabled = false
	m.screenGen++
	m.mu.Unlock()

	if sender != nil {
		if err := sender.ReplaceTrack(nil); err != nil {
			m.logger.Warnw("detaching screen sender", "error", err)
		}
	}

	streamID := source.StreamID()
	source.Close()

	m.publisher.Negotiate()
	m.out.SendScreenStream(false, streamID)
	m.out.SendTrackRemoved("screen", string(selfPeerID)+":"+streamID)
	m.sendMediaState()
	if stopped != nil {
		stopped()
	}
	m.logger.Infow("screen share stopped", "streamId", streamID)
	return nil
}

// States returns the current local media flags.
func (m *MediaController) States() (audio, video, screen bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioEnabled, m.videoEnabled, m.screenEnabled
}

// LocalStreamID is the stream carrying microphone and camera.
func (m *MediaController) LocalStreamID() domain.StreamID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mic != nil {
		return domain.StreamID(m.mic.StreamID())
	}
	if m.camera != nil {
		return domain.StreamID(m.camera.StreamID())
	}
	return ""
}

// Shutdown releases every device without signaling; the session is going
// away and the server announces the departure itself.
func (m *MediaController) Shutdown() {
	m.detector.Stop()

	m.mu.Lock()
	sources := []ports.MediaSource{m.mic, m.camera, m.screen}
	m.mic, m.camera, m.screen = nil, nil, nil
	m.micSender, m.cameraSender, m.screenSender = nil, nil, nil
	m.audioEnabled, m.videoEnabled, m.screenEnabled = false, false, false
	m.started = false
	m.screenGen++
	m.mu.Unlock()

	for _, s := range sources {
		if s != nil {
			s.Close()
		}
	}
}

func (m *MediaController) enableAudio(ctx context.Context) error {
	m.mu.Lock()
	sender := m.micSender
	m.mu.Unlock()

	source, err := m.devices.OpenMicrophone(ctx)
	if err != nil {
		return err
	}
	sender, err = m.publish(source, sender)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.mic = source
	m.micSender = sender
	m.audioEnabled = true
	m.mu.Unlock()

	m.detector.Start(source.Levels())
	return nil
}

func (m *MediaController) enableVideo(ctx context.Context) error {
	m.mu.Lock()
	sender := m.cameraSender
	m.mu.Unlock()

	source, err := m.devices.OpenCamera(ctx)
	if err != nil {
		return err
	}
	sender, err = m.publish(source, sender)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.camera = source
	m.cameraSender = sender
	m.videoEnabled = true
	m.mu.Unlock()
	return nil
}

// publish puts source's track on the wire, reusing sender's slot when one
// exists from an earlier enable. The source is closed on failure.
func (m *MediaController) publish(source ports.MediaSource, sender ports.Sender) (ports.Sender, error) {
	track := source.Track()
	if track == nil {
		source.Close()
		return nil, domain.ErrNoTrack
	}

	if sender != nil {
		if err := sender.ReplaceTrack(track); err != nil {
			source.Close()
			return nil, err
		}
		return sender, nil
	}

	sender, err := m.publisher.AttachTrack(track)
	if err != nil {
		source.Close()
		return nil, err
	}
	return sender, nil
}

func (m *MediaController) watchScreenEnd(source ports.MediaSource, gen int) {
	<-source.Done()

	m.mu.Lock()
	current := m.screenEnabled && m.screenGen == gen
	m.mu.Unlock()
	if !current {
		return
	}

	m.logger.Infow("screen capture ended by source")
	if err := m.StopScreenShare(); err != nil {
		m.logger.Warnw("stopping ended screen share", "error", err)
	}
}

func (m *MediaController) sendMediaState() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	audio, video, screen := m.audioEnabled, m.videoEnabled, m.screenEnabled
	m.mu.Unlock()
	m.out.SendMediaState(audio, video, screen)
}
