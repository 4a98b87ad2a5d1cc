package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the agent.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	DetectionPasses     *prometheus.CounterVec
	Observations        *prometheus.CounterVec
	HistorySize         prometheus.Gauge
	ConversationPhases  *prometheus.CounterVec
	ConversationLatency prometheus.Histogram
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DetectionPasses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_passes_total",
			Help:      "Detection passes by result.",
		}, []string{"result"}),
		Observations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emotion_observations_total",
			Help:      "Recorded dominant emotions by label.",
		}, []string{"emotion"}),
		HistorySize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "emotion_history_size",
			Help:      "Observations currently held in the rolling history.",
		}),
		ConversationPhases: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_phases_total",
			Help:      "Conversation loop phases by phase and result.",
		}, []string{"phase", "result"}),
		ConversationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversation_request_latency_ms",
			Help:      "Round trip of the remote conversation request in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
	}
}

func (m *Metrics) ObserveDetectionPass(result string) {
	if m == nil {
		return
	}
	m.DetectionPasses.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveEmotion(label string, historySize int) {
	if m == nil {
		return
	}
	m.Observations.WithLabelValues(label).Inc()
	m.HistorySize.Set(float64(historySize))
}

func (m *Metrics) ObservePhase(phase string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ConversationPhases.WithLabelValues(phase, result).Inc()
}

func (m *Metrics) ObserveConversationLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.ConversationLatency.Observe(float64(d.Milliseconds()))
}

// MetricsHandler serves the given gatherer, or the default registry when nil.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
