package metrics

import (
	"errors"
	"time"

	"crypto-rug-graph-detector/internal/domain/entity"
	"crypto-rug-graph-detector/internal/domain/service"

	"github.com/prometheus/client_golang/prometheus"
)

// DetectorMetrics collects detection engine and ingest metrics
type DetectorMetrics struct {
	Analyses         *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	Findings         *prometheus.CounterVec
	RugProbability   prometheus.Histogram
	DetectorDuration *prometheus.HistogramVec
	DetectorErrors   *prometheus.CounterVec
	DetectorTimeouts *prometheus.CounterVec
	SkippedEvents    *prometheus.CounterVec
	DecodeFailures   *prometheus.CounterVec
	SinkFailures     *prometheus.CounterVec
	DroppedBatches   prometheus.Counter
	ActiveSessions   prometheus.Gauge
}

// NewDetectorMetrics creates the metric collectors without registering them
func NewDetectorMetrics() *DetectorMetrics {
	return &DetectorMetrics{
		Analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rug_detector_analyses_total",
			Help: "Total number of token analyses by verdict and decision status",
		}, []string{"verdict", "status"}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rug_detector_analysis_duration_seconds",
			Help:    "Time taken to build, analyze and score one snapshot",
			Buckets: prometheus.DefBuckets,
		}),
		Findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rug_detector_findings_total",
			Help: "Total number of detector findings by type",
		}, []string{"type"}),
		RugProbability: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rug_detector_rug_probability",
			Help:    "Distribution of rug probabilities of scored decisions",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		DetectorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rug_detector_detector_duration_seconds",
			Help:    "Time taken by each pattern detector",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"detector"}),
		DetectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rug_detector_detector_errors_total",
			Help: "Total number of failed detector runs, timeouts included",
		}, []string{"detector"}),
		DetectorTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rug_detector_detector_timeouts_total",
			Help: "Total number of detector runs that exceeded their time budget",
		}, []string{"detector"}),
		SkippedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rug_detector_skipped_events_total",
			Help: "Total number of transfer events rejected by the graph builder",
		}, []string{"reason"}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rug_detector_decode_failures_total",
			Help: "Total number of relay messages that could not be decoded",
		}, []string{"reason"}),
		SinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rug_detector_sink_failures_total",
			Help: "Total number of failed persistence, publish or alert operations",
		}, []string{"sink"}),
		DroppedBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rug_detector_dropped_batches_total",
			Help: "Total number of event batches dropped because a session queue was full",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rug_detector_active_sessions",
			Help: "Current number of monitored tokens",
		}),
	}
}

// Register registers every collector with the given registerer
func (m *DetectorMetrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.Analyses, m.AnalysisDuration, m.Findings, m.RugProbability,
		m.DetectorDuration, m.DetectorErrors, m.DetectorTimeouts,
		m.SkippedEvents, m.DecodeFailures, m.SinkFailures,
		m.DroppedBatches, m.ActiveSessions,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

var _ service.Observer = (*DetectorMetrics)(nil)

// ObserveSkippedEvent counts events rejected by the graph builder
func (m *DetectorMetrics) ObserveSkippedEvent(reason string, count int) {
	m.SkippedEvents.WithLabelValues(reason).Add(float64(count))
}

// ObserveDetectorRun records one detector execution
func (m *DetectorMetrics) ObserveDetectorRun(name string, elapsed time.Duration, err error) {
	m.DetectorDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err == nil {
		return
	}
	m.DetectorErrors.WithLabelValues(name).Inc()
	if errors.Is(err, service.ErrDetectorTimeout) {
		m.DetectorTimeouts.WithLabelValues(name).Inc()
	}
}

// ObserveDecision records the outcome of one analysis
func (m *DetectorMetrics) ObserveDecision(decision *entity.RiskDecision, elapsed time.Duration) {
	if decision == nil {
		return
	}
	m.Analyses.WithLabelValues(string(decision.Verdict), string(decision.Status)).Inc()
	m.AnalysisDuration.Observe(elapsed.Seconds())
	for _, f := range decision.Findings {
		m.Findings.WithLabelValues(string(f.Type)).Inc()
	}
	if decision.Status == entity.DecisionStatusScored {
		m.RugProbability.Observe(decision.RugProbability)
	}
}

// ObserveDecodeFailure counts relay messages that could not be decoded
func (m *DetectorMetrics) ObserveDecodeFailure(reason string) {
	m.DecodeFailures.WithLabelValues(reason).Inc()
}

// ObserveSinkFailure counts a failed sink operation
func (m *DetectorMetrics) ObserveSinkFailure(sink string) {
	m.SinkFailures.WithLabelValues(sink).Inc()
}

// ObserveDroppedBatch counts a batch rejected by a full session queue
func (m *DetectorMetrics) ObserveDroppedBatch() {
	m.DroppedBatches.Inc()
}

// SetActiveSessions updates the monitored token gauge
func (m *DetectorMetrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}
