package media

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"roomlink/internal/core/ports"
	"roomlink/pkg/errors"
)

const oggSampleRate = 48000

// FileProvider replays recorded media from disk: OGG/Opus for the
// microphone, IVF for camera and screen. Microphone and camera loop
// forever; the screen file plays once and then ends like an aborted
// capture, which triggers the usual share teardown upstream.
type FileProvider struct {
	logger       *zap.SugaredLogger
	audioPath    string
	videoPath    string
	screenPath   string
	mainStreamID string
}

func NewFileProvider(logger *zap.SugaredLogger, audioPath, videoPath, screenPath string) *FileProvider {
	return &FileProvider{
		logger:       logger,
		audioPath:    audioPath,
		videoPath:    videoPath,
		screenPath:   screenPath,
		mainStreamID: uuid.NewString(),
	}
}

func (p *FileProvider) OpenMicrophone(ctx context.Context) (ports.MediaSource, error) {
	file, err := openDevice(p.audioPath)
	if err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio-"+uuid.NewString(), p.mainStreamID,
	)
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, errors.ErrCodeDeviceUnknown, "creating microphone track")
	}

	s := newSource(track, p.mainStreamID, true)
	go p.pumpOgg(s, track, file)
	return s, nil
}

func (p *FileProvider) OpenCamera(ctx context.Context) (ports.MediaSource, error) {
	return p.openIVF("video", p.videoPath, p.mainStreamID, true)
}

func (p *FileProvider) OpenScreen(ctx context.Context) (ports.MediaSource, error) {
	return p.openIVF("screen", p.screenPath, uuid.NewString(), false)
}

func (p *FileProvider) openIVF(label, path, streamID string, loop bool) (ports.MediaSource, error) {
	file, err := openDevice(path)
	if err != nil {
		return nil, err
	}

	_, header, err := ivfreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, errors.ErrCodeDeviceUnknown, "reading IVF header from "+path)
	}

	mimeType := webrtc.MimeTypeVP8
	if header.FourCC == "VP90" {
		mimeType = webrtc.MimeTypeVP9
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType},
		label+"-"+uuid.NewString(), streamID,
	)
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, errors.ErrCodeDeviceUnknown, "creating "+label+" track")
	}

	interval := time.Millisecond * time.Duration(
		float64(header.TimebaseNumerator)/float64(header.TimebaseDenominator)*1000,
	)
	if interval <= 0 {
		interval = videoFrameInterval
	}

	s := newSource(track, streamID, false)
	go p.pumpIVF(s, track, file, interval, loop)
	return s, nil
}

func (p *FileProvider) pumpOgg(s *source, track *webrtc.TrackLocalStaticSample, file *os.File) {
	defer close(s.done)
	defer file.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	limiter := rate.NewLimiter(rate.Every(audioFrameInterval), 1)
	for {
		reader, _, err := oggreader.NewWith(file)
		if err != nil {
			p.logger.Errorw("reading OGG header", "path", file.Name(), "error", err)
			return
		}

		var lastGranule uint64
		for {
			page, pageHeader, err := reader.ParseNextPage()
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Errorw("reading OGG page", "path", file.Name(), "error", err)
				return
			}

			samples := pageHeader.GranulePosition - lastGranule
			lastGranule = pageHeader.GranulePosition
			duration := time.Duration(samples) * time.Second / oggSampleRate

			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if err := track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
				p.logger.Debugw("audio write failed", "error", err)
				return
			}
			// Approximate energy from page size; DTX silence pages are
			// a few bytes, voiced pages run into the hundreds.
			level := len(page) / 3
			if level > 255 {
				level = 255
			}
			s.pushLevel(uint8(level))
		}

		if s.stopped() {
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			p.logger.Errorw("rewinding audio file", "path", file.Name(), "error", err)
			return
		}
	}
}

func (p *FileProvider) pumpIVF(s *source, track *webrtc.TrackLocalStaticSample, file *os.File, interval time.Duration, loop bool) {
	defer close(s.done)
	defer file.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			p.logger.Errorw("rewinding video file", "path", file.Name(), "error", err)
			return
		}
		reader, _, err := ivfreader.NewWith(file)
		if err != nil {
			p.logger.Errorw("reading IVF header", "path", file.Name(), "error", err)
			return
		}

		for {
			frame, _, err := reader.ParseNextFrame()
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Errorw("reading IVF frame", "path", file.Name(), "error", err)
				return
			}

			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if err := track.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
				p.logger.Debugw("video write failed", "error", err)
				return
			}
		}

		if !loop || s.stopped() {
			return
		}
	}
}

// openDevice translates filesystem failures into the device error codes
// the session surfaces to its consumer.
func openDevice(path string) (*os.File, error) {
	if path == "" {
		return nil, errors.New(errors.ErrCodeDeviceNotFound, "no media file configured")
	}
	file, err := os.Open(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, errors.Wrap(err, errors.ErrCodeDeviceNotFound, "media file not found: "+path)
		case os.IsPermission(err):
			return nil, errors.Wrap(err, errors.ErrCodeDevicePermission, "media file not readable: "+path)
		default:
			return nil, errors.Wrap(err, errors.ErrCodeDeviceUnknown, "opening media file: "+path)
		}
	}
	return file, nil
}
