package metrics

import (
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "geoagg"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg           *prom.Registry
	stageDuration *prom.HistogramVec
	stageResults  *prom.CounterVec
	features      *prom.CounterVec
	yearOutcomes  *prom.CounterVec
	runDuration   prom.Gauge
}

// NewPrometheusRecorder constructs and registers the run metrics on reg, or
// on a fresh registry when reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{reg: reg}
	pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of individual pipeline stages",
		Buckets:   prom.ExponentialBuckets(0.01, 4, 10),
	}, []string{"stage"})
	pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "stage_results_total",
		Help:      "Stage result counts by outcome",
	}, []string{"stage", "result"})
	pr.features = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "features_processed_total",
		Help:      "Features aggregated by geometry kind",
	}, []string{"kind"})
	pr.yearOutcomes = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "year_outcomes_total",
		Help:      "Processed years by final status",
	}, []string{"outcome"})
	pr.runDuration = prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_duration_seconds",
		Help:      "Wall time of the last run",
	})
	reg.MustRegister(pr.stageDuration, pr.stageResults, pr.features, pr.yearOutcomes, pr.runDuration)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) AddFeatures(kind string, n int) {
	if p == nil || p.features == nil || n <= 0 {
		return
	}
	p.features.WithLabelValues(kind).Add(float64(n))
}

func (p *PrometheusRecorder) IncYearOutcome(outcome string) {
	if p == nil || p.yearOutcomes == nil {
		return
	}
	p.yearOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Set(d.Seconds())
}

// WriteTextfile writes every registered metric in the node-exporter textfile
// format. The file is replaced atomically.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	if err := prom.WriteToTextfile(path, p.reg); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
