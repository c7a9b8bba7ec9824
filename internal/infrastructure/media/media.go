// Package media provides local media sources for the publish connection.
// The synthetic provider fabricates frames in-process; the file provider
// replays recorded OGG/IVF files.
package media

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// source is the common carrier behind both providers. The pump goroutine
// owns the track writes and closes done when it exits on its own.
type source struct {
	track    webrtc.TrackLocal
	streamID string
	levels   chan uint8
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func newSource(track webrtc.TrackLocal, streamID string, withLevels bool) *source {
	s := &source{
		track:    track,
		streamID: streamID,
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
	if withLevels {
		s.levels = make(chan uint8, 8)
	}
	return s
}

func (s *source) Track() webrtc.TrackLocal { return s.track }

func (s *source) StreamID() string { return s.streamID }

func (s *source) Levels() <-chan uint8 { return s.levels }

func (s *source) Done() <-chan struct{} { return s.done }

func (s *source) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// pushLevel offers an energy sample without blocking: a consumer that
// samples slower than the source produces simply sees the latest window.
func (s *source) pushLevel(v uint8) {
	select {
	case s.levels <- v:
	default:
	}
}

func (s *source) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}
