// Package metrics defines Prometheus metrics for scan runs, breach lookups,
// breach discovery and operator notifications.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScanRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "breachwatch_scan_runs_total",
		Help: "Total number of finished scan runs by terminal status",
	}, []string{"status"})
	ScanRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "breachwatch_scan_run_duration_seconds",
		Help:    "Wall-clock duration of scan runs",
		Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
	})
	ScansSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "breachwatch_scans_skipped_total",
		Help: "Total number of run requests rejected because another run was in progress",
	})
	Lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "breachwatch_lookups_total",
		Help: "Total number of breach lookups by outcome",
	}, []string{"outcome"})
	NewBreaches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "breachwatch_new_breaches_total",
		Help: "Total number of breach records created",
	})
	// kind is alert or summary; result is sent or failed.
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "breachwatch_notifications_total",
		Help: "Total number of operator emails by kind and result",
	}, []string{"kind", "result"})
	PendingAlerts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "breachwatch_pending_alert_breaches",
		Help: "Breach records whose alert has not been delivered, as of the last recovery pass",
	})
)

func init() {
	prometheus.MustRegister(ScanRuns)
	prometheus.MustRegister(ScanRunDuration)
	prometheus.MustRegister(ScansSkipped)
	prometheus.MustRegister(Lookups)
	prometheus.MustRegister(NewBreaches)
	prometheus.MustRegister(Notifications)
	prometheus.MustRegister(PendingAlerts)
}

// Handler returns an http.Handler exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
