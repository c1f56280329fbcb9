package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/josepht96/scoutrun/internal/storage"
)

// adHocLabel is the collection label of runs without a collection.
const adHocLabel = "ad-hoc"

// PrometheusExporter exports run, result and report metrics to Prometheus
type PrometheusExporter struct {
	runsTotal             *prometheus.CounterVec
	resultsTotal          *prometheus.CounterVec
	requestDuration       *prometheus.HistogramVec
	collectionLastRun     *prometheus.GaugeVec
	collectionLastSuccess *prometheus.GaugeVec
	collectionDuration    *prometheus.GaugeVec
	collectionRequests    *prometheus.GaugeVec
	reportTotals          *prometheus.GaugeVec
}

// NewPrometheusExporter creates a new Prometheus exporter registered on reg.
// A nil reg uses the default registerer.
func NewPrometheusExporter(reg prometheus.Registerer) *PrometheusExporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusExporter{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scoutrun_runs_total",
				Help: "Finished runs by terminal status",
			},
			[]string{"status"},
		),
		resultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scoutrun_results_total",
				Help: "Recorded request results by status",
			},
			[]string{"status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scoutrun_request_duration_ms",
				Help:    "Response time of executed requests in milliseconds",
				Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
			},
			[]string{"method"},
		),
		collectionLastRun: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scoutrun_collection_last_run_timestamp",
				Help: "Timestamp of the last run for each collection",
			},
			[]string{"collection"},
		),
		collectionLastSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scoutrun_collection_last_success_timestamp",
				Help: "Timestamp of the last passed run for each collection",
			},
			[]string{"collection"},
		),
		collectionDuration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scoutrun_collection_duration_ms",
				Help: "Duration of the last run of each collection in milliseconds",
			},
			[]string{"collection"},
		),
		collectionRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scoutrun_collection_requests",
				Help: "Request outcomes of the last run of each collection",
			},
			[]string{"collection", "status"},
		),
		reportTotals: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scoutrun_report_totals",
				Help: "Verdict totals of automation reports",
			},
			[]string{"report_id", "verdict"},
		),
	}
}

// ObserveResult records one request outcome.
func (e *PrometheusExporter) ObserveResult(method string, result *storage.Result) {
	e.resultsTotal.WithLabelValues(result.Status).Inc()
	if result.ResponseStatus != nil || result.ResponseTimeMS > 0 {
		e.requestDuration.WithLabelValues(method).Observe(result.ResponseTimeMS)
	}
}

// ObserveRun records a finished run.
func (e *PrometheusExporter) ObserveRun(collection *storage.Collection, run *storage.Run) {
	e.runsTotal.WithLabelValues(run.Status).Inc()

	name := adHocLabel
	if collection != nil {
		name = collection.Slug
	}
	e.collectionLastRun.WithLabelValues(name).Set(float64(run.StartedAt.Unix()))
	if run.Status == storage.RunPassed {
		e.collectionLastSuccess.WithLabelValues(name).Set(float64(run.StartedAt.Unix()))
	}
	if run.FinishedAt != nil {
		e.collectionDuration.WithLabelValues(name).Set(float64(run.FinishedAt.Sub(run.StartedAt).Milliseconds()))
	}

	e.collectionRequests.WithLabelValues(name, "total").Set(float64(run.Summary.TotalRequests))
	e.collectionRequests.WithLabelValues(name, storage.ResultPassed).Set(float64(run.Summary.PassedRequests))
	e.collectionRequests.WithLabelValues(name, storage.ResultFailed).Set(float64(run.Summary.FailedRequests))
	e.collectionRequests.WithLabelValues(name, storage.ResultError).Set(float64(run.Summary.ErrorRequests))
}

// ObserveReport records the totals of a report.
func (e *PrometheusExporter) ObserveReport(r *storage.AutomationReport) {
	e.reportTotals.WithLabelValues(r.ReportID, "passed").Set(float64(r.TotalPassed))
	e.reportTotals.WithLabelValues(r.ReportID, "failed").Set(float64(r.TotalFailed))
	e.reportTotals.WithLabelValues(r.ReportID, "blocked").Set(float64(r.TotalBlocked))
}
