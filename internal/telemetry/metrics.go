package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"metarecon/pkg/domain"
)

// MetricsRecorder receives one observation per completed operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	ObserveReport(ctx context.Context, rep domain.Report)
}

// NoopRecorder discards observations.
type NoopRecorder struct{}

func (NoopRecorder) Observe(context.Context, string, bool, time.Duration) {}
func (NoopRecorder) ObserveReport(context.Context, domain.Report)         {}

// PrometheusRecorder aggregates observations in a private registry. A batch
// tool has no scrape endpoint, so the registry is flushed to a node_exporter
// textfile with WriteFile.
type PrometheusRecorder struct {
	registry *prometheus.Registry
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	issues   *prometheus.CounterVec
	records  *prometheus.CounterVec
}

// NewPrometheusRecorder registers the metarecon collectors on a fresh registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metarecon",
			Name:      "operations_total",
			Help:      "Completed operations by result.",
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "metarecon",
			Name:      "operation_duration_seconds",
			Help:      "Operation wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"operation"}),
		issues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metarecon",
			Name:      "report_issues_total",
			Help:      "Report issues by code and severity.",
		}, []string{"operation", "code", "severity"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metarecon",
			Name:      "records_total",
			Help:      "Records by report disposition.",
		}, []string{"operation", "disposition"}),
	}
	r.registry.MustRegister(r.runs, r.duration, r.issues, r.records)
	return r
}

// Registry exposes the underlying registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

// Observe records an operation outcome.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.runs.WithLabelValues(operation, status).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveReport counts a report's issues and record dispositions.
func (r *PrometheusRecorder) ObserveReport(_ context.Context, rep domain.Report) {
	for _, i := range rep.Issues {
		r.issues.WithLabelValues(rep.Operation, i.Code, string(i.Severity)).Inc()
	}
	r.records.WithLabelValues(rep.Operation, "changed").Add(float64(rep.Changed))
	r.records.WithLabelValues(rep.Operation, "unchanged").Add(float64(rep.Unchanged))
	r.records.WithLabelValues(rep.Operation, "skipped").Add(float64(rep.Skipped))
	r.records.WithLabelValues(rep.Operation, "failed").Add(float64(rep.Failed))
}

// WriteFile writes the registry in text exposition format to path.
func (r *PrometheusRecorder) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
