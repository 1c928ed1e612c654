package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"logsentinel/internal/model"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logsentinel",
			Name:      "records_total",
			Help:      "Records pulled by the stream processor, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "logsentinel",
			Name:      "analysis_seconds",
			Help:      "Per-record analysis latency in seconds.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
		},
	)

	riskTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logsentinel",
			Name:      "summaries_total",
			Help:      "Analysis summaries produced, partitioned by risk level.",
		},
		[]string{"risk_level"},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logsentinel",
			Name:      "anomalies_total",
			Help:      "Records flagged anomalous, partitioned by dominant signal.",
		},
		[]string{"signal"},
	)

	callbackFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "logsentinel",
			Name:      "callback_failures_total",
			Help:      "Alert callbacks that returned an error or panicked.",
		},
	)

	bundleLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logsentinel",
			Name:      "bundle_loads_total",
			Help:      "Bundle load attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	throughput = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "logsentinel",
			Name:      "stream_throughput_records_per_second",
			Help:      "Processed records divided by elapsed time since the processor started.",
		},
	)

	modelStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "logsentinel",
			Name:      "model_health_status",
			Help:      "Model health: 0 healthy, 1 warning, 2 critical.",
		},
		[]string{"model"},
	)

	modelErrorRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "logsentinel",
			Name:      "model_error_rate",
			Help:      "Errors divided by predictions for each model.",
		},
		[]string{"model"},
	)

	modelLatency = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "logsentinel",
			Name:      "model_avg_latency_ms",
			Help:      "Average latency over the retained window for each model.",
		},
		[]string{"model"},
	)
)

// Register attaches logsentinel collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		recordsTotal,
		analysisSeconds,
		riskTotal,
		anomaliesTotal,
		callbackFailures,
		bundleLoads,
		throughput,
		modelStatus,
		modelErrorRate,
		modelLatency,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveRecord(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	recordsTotal.WithLabelValues(label).Inc()
	if label == OutcomeError {
		return
	}
	if duration < 0 {
		duration = 0
	}
	analysisSeconds.Observe(duration.Seconds())
}

func ObserveSummary(s model.AnalysisSummary) {
	riskTotal.WithLabelValues(string(s.RiskLevel)).Inc()
	if s.Anomaly != nil && s.Anomaly.IsAnomaly {
		anomaliesTotal.WithLabelValues(s.Anomaly.DominantSignal).Inc()
	}
}

func ObserveCallbackFailure() {
	callbackFailures.Inc()
}

func ObserveBundleLoad(err error) {
	if err != nil {
		bundleLoads.WithLabelValues(OutcomeError).Inc()
		return
	}
	bundleLoads.WithLabelValues(OutcomeSuccess).Inc()
}

func SetThroughput(perSecond float64) {
	throughput.Set(perSecond)
}

func ObserveHealth(snap model.HealthSnapshot) {
	for name, r := range snap.Models {
		modelStatus.WithLabelValues(name).Set(statusValue(r.Status))
		modelErrorRate.WithLabelValues(name).Set(r.ErrorRate)
		modelLatency.WithLabelValues(name).Set(r.AvgLatencyMS)
	}
}

func statusValue(s model.HealthStatus) float64 {
	switch s {
	case model.HealthWarning:
		return 1
	case model.HealthCritical:
		return 2
	default:
		return 0
	}
}
