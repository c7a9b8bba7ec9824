package rtc

import (
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"roomlink/internal/infrastructure/monitoring"
)

// CandidateBuffer holds remote ICE candidates that arrive before the
// matching remote description is set. Candidates are kept per connection
// target and replayed in arrival order.
type CandidateBuffer struct {
	mu      sync.Mutex
	pending map[string][]webrtc.ICECandidateInit

	logger  *zap.SugaredLogger
	metrics *monitoring.Collector
}

func NewCandidateBuffer(logger *zap.SugaredLogger, metrics *monitoring.Collector) *CandidateBuffer {
	return &CandidateBuffer{
		pending: make(map[string][]webrtc.ICECandidateInit),
		logger:  logger,
		metrics: metrics,
	}
}

// Add buffers a candidate for later replay.
func (b *CandidateBuffer) Add(target string, c webrtc.ICECandidateInit) {
	b.mu.Lock()
	b.pending[target] = append(b.pending[target], c)
	b.mu.Unlock()
	b.metrics.CandidateBuffered(target)
}

// Flush replays all buffered candidates for target through apply, in the
// order they were added. A candidate that fails to apply is logged and
// discarded; the rest of the buffer is still replayed.
func (b *CandidateBuffer) Flush(target string, apply func(webrtc.ICECandidateInit) error) {
	b.mu.Lock()
	buffered := b.pending[target]
	delete(b.pending, target)
	b.mu.Unlock()

	for _, c := range buffered {
		if err := apply(c); err != nil {
			b.logger.Warnw("dropping buffered candidate", "target", target, "error", err)
			b.metrics.CandidateDiscarded(target)
			continue
		}
		b.metrics.CandidateApplied(target)
	}
}

// Len reports how many candidates are buffered for target.
func (b *CandidateBuffer) Len(target string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[target])
}
