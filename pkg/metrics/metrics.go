// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "seevideo_automation"

var (
	AutomationRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "automation_runs_total",
		Help:      "Browser automation runs by operation and result.",
	}, []string{"operation", "result"})

	AutomationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "automation_duration_seconds",
		Help:      "Wall time of browser automation runs.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"operation"})

	AssetDownloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "asset_downloads_total",
		Help:      "Generated asset downloads by kind (video, cover) and result.",
	}, []string{"kind", "result"})

	RefundsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refunds_total",
		Help:      "Credits refunded after failed generations.",
	})

	BrowserPages = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "browser_open_pages",
		Help:      "Pages currently open in the shared browser context.",
	})
)

func init() {
	prometheus.MustRegister(AutomationRuns, AutomationDuration, AssetDownloads, RefundsTotal, BrowserPages)
}

// ObserveRun records one automation run.
func ObserveRun(operation string, started time.Time, err error, ok bool) {
	result := "success"
	switch {
	case err != nil:
		result = "error"
	case !ok:
		result = "failure"
	}
	AutomationRuns.WithLabelValues(operation, result).Inc()
	AutomationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
