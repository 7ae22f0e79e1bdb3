package monitoring

import (
	"time"

	"aircast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	liveStreams    prometheus.Gauge
	connections    *prometheus.GaugeVec
	streamViewers  *prometheus.GaugeVec
	audioListeners *prometheus.GaugeVec

	// Counters
	chatMessagesTotal    prometheus.Counter
	signalFramesTotal    *prometheus.CounterVec
	audioFramesTotal     prometheus.Counter
	audioBytesTotal      prometheus.Counter
	droppedFramesTotal   prometheus.Counter
	persistFailuresTotal prometheus.Counter

	// Histograms
	streamDuration prometheus.Histogram
}

// NewPrometheusCollector registers the relay metrics on the given
// registerer. Pass prometheus.DefaultRegisterer in production; tests use
// their own registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		liveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aircast_live_streams",
			Help: "Number of streams currently live",
		}),

		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aircast_connections",
			Help: "Open websocket connections by channel",
		}, []string{"channel"}),

		streamViewers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aircast_stream_viewers",
			Help: "Chat-channel viewer count per stream",
		}, []string{"stream_id"}),

		audioListeners: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aircast_stream_audio_listeners",
			Help: "Audio listener count per stream",
		}, []string{"stream_id"}),

		chatMessagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aircast_chat_messages_total",
			Help: "Chat messages accepted and broadcast",
		}),

		signalFramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aircast_signal_frames_total",
			Help: "Signaling frames relayed by type",
		}, []string{"type"}),

		audioFramesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aircast_audio_frames_total",
			Help: "Binary audio frames fanned out",
		}),

		audioBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aircast_audio_bytes_total",
			Help: "Binary audio payload bytes fanned out",
		}),

		droppedFramesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aircast_dropped_frames_total",
			Help: "Frames dropped because a send queue was full",
		}),

		persistFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aircast_store_persist_failures_total",
			Help: "Stream store writes that failed",
		}),

		streamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aircast_stream_duration_seconds",
			Help:    "Duration of finished live sessions",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10),
		}),
	}
}

func (p *PrometheusCollector) RecordConnectionOpened(channel domain.Channel) {
	p.connections.WithLabelValues(string(channel)).Inc()
}

func (p *PrometheusCollector) RecordConnectionClosed(channel domain.Channel) {
	p.connections.WithLabelValues(string(channel)).Dec()
}

func (p *PrometheusCollector) SetStreamViewers(streamID domain.StreamID, count int) {
	p.streamViewers.WithLabelValues(streamID.String()).Set(float64(count))
}

func (p *PrometheusCollector) SetAudioListeners(streamID domain.StreamID, count int) {
	p.audioListeners.WithLabelValues(streamID.String()).Set(float64(count))
}

// RecordStreamReleased drops the per-stream series once the registry entry
// is gone, so ended streams do not pile up label values.
func (p *PrometheusCollector) RecordStreamReleased(streamID domain.StreamID) {
	p.streamViewers.DeleteLabelValues(streamID.String())
	p.audioListeners.DeleteLabelValues(streamID.String())
}

func (p *PrometheusCollector) RecordStreamLive() {
	p.liveStreams.Inc()
}

func (p *PrometheusCollector) RecordStreamEnded(duration time.Duration) {
	p.liveStreams.Dec()
	p.streamDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordChatMessage() {
	p.chatMessagesTotal.Inc()
}

func (p *PrometheusCollector) RecordSignalFrame(msgType string) {
	p.signalFramesTotal.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) RecordAudioFrame(bytes int) {
	p.audioFramesTotal.Inc()
	p.audioBytesTotal.Add(float64(bytes))
}

func (p *PrometheusCollector) RecordFrameDropped() {
	p.droppedFramesTotal.Inc()
}

func (p *PrometheusCollector) RecordPersistFailure() {
	p.persistFailuresTotal.Inc()
}
