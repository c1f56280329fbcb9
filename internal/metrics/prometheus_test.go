package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josepht96/scoutrun/internal/storage"
)

// sample returns the value of the series name{labels}, and for histograms
// its sample count.
func sample(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("no series %s%v", name, labels)
	return 0
}

func TestObserveRunAndResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewPrometheusExporter(reg)

	code := 200
	e.ObserveResult("GET", &storage.Result{Status: storage.ResultPassed, ResponseStatus: &code, ResponseTimeMS: 12})
	e.ObserveResult("GET", &storage.Result{Status: storage.ResultError})

	started := time.Unix(1_700_000_000, 0)
	finished := started.Add(1500 * time.Millisecond)
	e.ObserveRun(&storage.Collection{Slug: "orders"}, &storage.Run{
		Status:     storage.RunPassed,
		StartedAt:  started,
		FinishedAt: &finished,
		Summary:    storage.Summary{TotalRequests: 2, PassedRequests: 2},
	})
	e.ObserveRun(nil, &storage.Run{Status: storage.RunFailed, StartedAt: started})

	assert.Equal(t, 1.0, sample(t, reg, "scoutrun_results_total", map[string]string{"status": "passed"}))
	assert.Equal(t, 1.0, sample(t, reg, "scoutrun_results_total", map[string]string{"status": "error"}))
	assert.Equal(t, 1.0, sample(t, reg, "scoutrun_request_duration_ms", map[string]string{"method": "GET"}))
	assert.Equal(t, 1.0, sample(t, reg, "scoutrun_runs_total", map[string]string{"status": "passed"}))
	assert.Equal(t, 1.0, sample(t, reg, "scoutrun_runs_total", map[string]string{"status": "failed"}))
	assert.Equal(t, float64(started.Unix()),
		sample(t, reg, "scoutrun_collection_last_success_timestamp", map[string]string{"collection": "orders"}))
	assert.Equal(t, 1500.0, sample(t, reg, "scoutrun_collection_duration_ms", map[string]string{"collection": "orders"}))
	assert.Equal(t, 2.0, sample(t, reg, "scoutrun_collection_requests",
		map[string]string{"collection": "orders", "status": "total"}))
	assert.Equal(t, float64(started.Unix()),
		sample(t, reg, "scoutrun_collection_last_run_timestamp", map[string]string{"collection": adHocLabel}))
}

func TestObserveReport(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewPrometheusExporter(reg)
	e.ObserveReport(&storage.AutomationReport{ReportID: "abc", TotalPassed: 3, TotalBlocked: 1})

	assert.Equal(t, 3.0, sample(t, reg, "scoutrun_report_totals", map[string]string{"report_id": "abc", "verdict": "passed"}))
	assert.Equal(t, 0.0, sample(t, reg, "scoutrun_report_totals", map[string]string{"report_id": "abc", "verdict": "failed"}))
	assert.Equal(t, 1.0, sample(t, reg, "scoutrun_report_totals", map[string]string{"report_id": "abc", "verdict": "blocked"}))
}
