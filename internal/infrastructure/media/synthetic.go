package media

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"roomlink/internal/core/ports"
	"roomlink/pkg/errors"
)

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 66 * time.Millisecond
)

// opusSilence is a single DTX comfort-noise frame; enough for the SFU to
// keep the audio stream alive.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// syntheticLevels drives the speaking detector through a full
// talk-then-pause cycle when replayed frame by frame.
var syntheticLevels = []uint8{4, 4, 40, 44, 48, 44, 40, 36, 4, 4, 4, 4}

// SyntheticProvider fabricates media without touching any real device.
// Microphone and camera tracks share one stream so the far end groups
// them into a single tile pair; every screen capture gets its own stream.
type SyntheticProvider struct {
	logger       *zap.SugaredLogger
	mainStreamID string
}

func NewSyntheticProvider(logger *zap.SugaredLogger) *SyntheticProvider {
	return &SyntheticProvider{
		logger:       logger,
		mainStreamID: uuid.NewString(),
	}
}

func (p *SyntheticProvider) OpenMicrophone(ctx context.Context) (ports.MediaSource, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio-"+uuid.NewString(), p.mainStreamID,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDeviceUnknown, "creating synthetic microphone track")
	}

	s := newSource(track, p.mainStreamID, true)
	go p.pumpAudio(s, track)
	return s, nil
}

func (p *SyntheticProvider) OpenCamera(ctx context.Context) (ports.MediaSource, error) {
	return p.openVideo("video", p.mainStreamID)
}

func (p *SyntheticProvider) OpenScreen(ctx context.Context) (ports.MediaSource, error) {
	return p.openVideo("screen", uuid.NewString())
}

func (p *SyntheticProvider) openVideo(label, streamID string) (ports.MediaSource, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		label+"-"+uuid.NewString(), streamID,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDeviceUnknown, "creating synthetic "+label+" track")
	}

	s := newSource(track, streamID, false)
	go p.pumpVideo(s, track)
	return s, nil
}

func (p *SyntheticProvider) pumpAudio(s *source, track *webrtc.TrackLocalStaticSample) {
	defer close(s.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	limiter := rate.NewLimiter(rate.Every(audioFrameInterval), 1)
	frame := 0
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if err := track.WriteSample(media.Sample{Data: opusSilence, Duration: audioFrameInterval}); err != nil {
			p.logger.Debugw("synthetic audio write failed", "error", err)
			return
		}
		s.pushLevel(syntheticLevels[frame%len(syntheticLevels)])
		frame++
	}
}

func (p *SyntheticProvider) pumpVideo(s *source, track *webrtc.TrackLocalStaticSample) {
	defer close(s.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	// Not a decodable bitstream, only a steady payload for plumbing.
	payload := make([]byte, 1200)
	limiter := rate.NewLimiter(rate.Every(videoFrameInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if err := track.WriteSample(media.Sample{Data: payload, Duration: videoFrameInterval}); err != nil {
			p.logger.Debugw("synthetic video write failed", "error", err)
			return
		}
	}
}
