package services

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"roomlink/internal/infrastructure/monitoring"
)

// SpeakingDetector turns the microphone's energy feed into edge-triggered
// speaking transitions: one emission when the level crosses above the
// threshold, one when it falls back. Levels are sampled on a fixed
// interval; between ticks only the most recent value counts.
type SpeakingDetector struct {
	interval  time.Duration
	threshold uint8
	emit      func(speaking bool)

	logger  *zap.SugaredLogger
	metrics *monitoring.Collector

	mu       sync.Mutex
	running  bool
	speaking bool
	stop     chan struct{}
}

func NewSpeakingDetector(interval time.Duration, threshold uint8, emit func(bool), logger *zap.SugaredLogger, metrics *monitoring.Collector) *SpeakingDetector {
	return &SpeakingDetector{
		interval:  interval,
		threshold: threshold,
		emit:      emit,
		logger:    logger,
		metrics:   metrics,
	}
}

// Start begins sampling levels. A second Start without an intervening
// Stop is a no-op.
func (d *SpeakingDetector) Start(levels <-chan uint8) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	stop := d.stop
	d.mu.Unlock()

	go d.run(levels, stop)
}

// Stop ends sampling. A detector that was mid-speech emits the closing
// "not speaking" so listeners never see a stuck indicator.
func (d *SpeakingDetector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stop)
	wasSpeaking := d.speaking
	d.speaking = false
	d.mu.Unlock()

	if wasSpeaking {
		d.metrics.SpeakingTransition()
		d.emit(false)
	}
}

// Speaking reports the current detection state.
func (d *SpeakingDetector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

func (d *SpeakingDetector) run(levels <-chan uint8, stop chan struct{}) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	var latest uint8
	for {
		select {
		case <-stop:
			return
		case v, ok := <-levels:
			if !ok {
				levels = nil
				continue
			}
			latest = v
		case <-ticker.C:
			d.evaluate(latest)
		}
	}
}

func (d *SpeakingDetector) evaluate(level uint8) {
	now := level > d.threshold

	d.mu.Lock()
	if !d.running || now == d.speaking {
		d.mu.Unlock()
		return
	}
	d.speaking = now
	d.mu.Unlock()

	d.metrics.SpeakingTransition()
	d.emit(now)
}
