// Package monitoring exposes client-side counters over Prometheus. A nil
// *Collector is valid and records nothing, so components never need to
// guard their metric calls.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	pubOffersSent    prometheus.Counter
	subAnswersSent   prometheus.Counter
	subOffersQueued  prometheus.Counter
	subOffersApplied prometheus.Counter
	subOffersSkipped prometheus.Counter

	candidatesSent      *prometheus.CounterVec
	candidatesBuffered  *prometheus.CounterVec
	candidatesApplied   *prometheus.CounterVec
	candidatesDiscarded *prometheus.CounterVec

	peersConnected prometheus.Gauge
	tilesActive    prometheus.Gauge

	speakingTransitions prometheus.Counter

	inboundPackets prometheus.Counter
	inboundBytes   prometheus.Counter
	rtcpPLI        prometheus.Counter
	rtcpNACK       prometheus.Counter
}

// NewCollector registers the client metrics on reg. Each client instance
// should get its own registry; tests rely on that isolation.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		pubOffersSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomlink_pub_offers_sent_total",
			Help: "Publish offers sent to the SFU",
		}),
		subAnswersSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomlink_sub_answers_sent_total",
			Help: "Subscribe answers sent to the SFU",
		}),
		subOffersQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomlink_sub_offers_queued_total",
			Help: "Subscribe offers received and queued",
		}),
		subOffersApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomlink_sub_offers_applied_total",
			Help: "Subscribe offers applied as remote description",
		}),
		subOffersSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomlink_sub_offers_skipped_total",
			Help: "Subscribe offers skipped after an apply failure",
		}),
		candidatesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomlink_candidates_sent_total",
			Help: "Local ICE candidates sent, by connection target",
		}, []string{"target"}),
		candidatesBuffered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomlink_candidates_buffered_total",
			Help: "Remote ICE candidates buffered before the remote description",
		}, []string{"target"}),
		candidatesApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomlink_candidates_applied_total",
			Help: "Remote ICE candidates applied, by connection target",
		}, []string{"target"}),
		candidatesDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomlink_candidates_discarded_total",
			Help: "Remote ICE candidates that failed to apply",
		}, []string{"target"}),
		peersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomlink_peers",
			Help: "Remote peers currently in the roster",
		}),
		tilesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomlink_tiles",
			Help: "Inbound media tiles currently active",
		}),
		speakingTransitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomlink_speaking_transitions_total",
			Help: "Local speaking state edge transitions reported",
		}),
		inboundPackets: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomlink_inbound_rtp_packets_total",
			Help: "RTP packets read from subscribed tracks",
		}),
		inboundBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomlink_inbound_rtp_bytes_total",
			Help: "RTP payload bytes read from subscribed tracks",
		}),
		rtcpPLI: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomlink_rtcp_pli_total",
			Help: "Picture loss indications received on publish senders",
		}),
		rtcpNACK: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomlink_rtcp_nack_total",
			Help: "NACKs received on publish senders",
		}),
	}
}

func (c *Collector) PubOfferSent() {
	if c != nil {
		c.pubOffersSent.Inc()
	}
}

func (c *Collector) SubAnswerSent() {
	if c != nil {
		c.subAnswersSent.Inc()
	}
}

func (c *Collector) SubOfferQueued() {
	if c != nil {
		c.subOffersQueued.Inc()
	}
}

func (c *Collector) SubOfferApplied() {
	if c != nil {
		c.subOffersApplied.Inc()
	}
}

func (c *Collector) SubOfferSkipped() {
	if c != nil {
		c.subOffersSkipped.Inc()
	}
}

func (c *Collector) CandidateSent(target string) {
	if c != nil {
		c.candidatesSent.WithLabelValues(target).Inc()
	}
}

func (c *Collector) CandidateBuffered(target string) {
	if c != nil {
		c.candidatesBuffered.WithLabelValues(target).Inc()
	}
}

func (c *Collector) CandidateApplied(target string) {
	if c != nil {
		c.candidatesApplied.WithLabelValues(target).Inc()
	}
}

func (c *Collector) CandidateDiscarded(target string) {
	if c != nil {
		c.candidatesDiscarded.WithLabelValues(target).Inc()
	}
}

func (c *Collector) SetPeerCount(n int) {
	if c != nil {
		c.peersConnected.Set(float64(n))
	}
}

func (c *Collector) SetTileCount(n int) {
	if c != nil {
		c.tilesActive.Set(float64(n))
	}
}

func (c *Collector) SpeakingTransition() {
	if c != nil {
		c.speakingTransitions.Inc()
	}
}

func (c *Collector) InboundRTP(bytes int) {
	if c != nil {
		c.inboundPackets.Inc()
		c.inboundBytes.Add(float64(bytes))
	}
}

func (c *Collector) PLIReceived() {
	if c != nil {
		c.rtcpPLI.Inc()
	}
}

func (c *Collector) NACKReceived() {
	if c != nil {
		c.rtcpNACK.Inc()
	}
}
