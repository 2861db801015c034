package infrastructure

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics holds the per-run gauges the batch commands write in
// node-exporter textfile format. Each run overwrites the file, so
// values describe the latest run rather than accumulating.
type PipelineMetrics struct {
	registry *prometheus.Registry

	PanelRows            prometheus.Gauge
	PanelCounties        prometheus.Gauge
	CountiesDropped      prometheus.Gauge
	CellsImputed         prometheus.Gauge
	ImputationDegenerate prometheus.Gauge
	FitsCompleted        prometheus.Gauge
	FitFailures          prometheus.Gauge
	RunDurationSeconds   prometheus.Gauge
	LastRunTimestamp     prometheus.Gauge
}

// NewPipelineMetrics creates the metric set on a private registry so
// the textfile contains only pipeline series
func NewPipelineMetrics() *PipelineMetrics {
	m := &PipelineMetrics{
		registry: prometheus.NewRegistry(),
		PanelRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rxpanel_panel_rows",
			Help: "Rows in the assembled county-year panel.",
		}),
		PanelCounties: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rxpanel_panel_counties",
			Help: "Counties surviving the suppression filter.",
		}),
		CountiesDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rxpanel_counties_dropped",
			Help: "Counties removed by the suppression filter.",
		}),
		CellsImputed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rxpanel_cells_imputed",
			Help: "Mortality cells filled by the imputer.",
		}),
		ImputationDegenerate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rxpanel_imputation_degenerate",
			Help: "1 when no observed rows were available to anchor imputation.",
		}),
		FitsCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rxpanel_fits_completed",
			Help: "Regressions that produced estimates.",
		}),
		FitFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rxpanel_fit_failures",
			Help: "Regressions that failed with a reported reason.",
		}),
		RunDurationSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rxpanel_run_duration_seconds",
			Help: "Wall-clock duration of the run.",
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rxpanel_last_run_timestamp_seconds",
			Help: "Unix time the run finished.",
		}),
	}

	m.registry.MustRegister(
		m.PanelRows,
		m.PanelCounties,
		m.CountiesDropped,
		m.CellsImputed,
		m.ImputationDegenerate,
		m.FitsCompleted,
		m.FitFailures,
		m.RunDurationSeconds,
		m.LastRunTimestamp,
	)

	return m
}

// WriteTextfile stamps the completion time and writes all gauges to
// path. An empty path disables the write.
func (m *PipelineMetrics) WriteTextfile(path string, started time.Time) error {
	if path == "" {
		return nil
	}

	m.RunDurationSeconds.Set(time.Since(started).Seconds())
	m.LastRunTimestamp.Set(float64(time.Now().Unix()))

	return prometheus.WriteToTextfile(path, m.registry)
}
