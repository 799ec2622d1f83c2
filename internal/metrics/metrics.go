// Package metrics registers the Prometheus collectors for training and
// inference.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Training
	TrainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "funnelcast_training_runs_total",
		Help: "Training runs by outcome",
	}, []string{"outcome"})

	TrainingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "funnelcast_training_duration_seconds",
		Help:    "Time taken to train and publish a bundle",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	ConstituentFits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "funnelcast_constituent_fits_total",
		Help: "Constituent model fits by model and outcome",
	}, []string{"model", "outcome"})

	ExcludedMonths = promauto.NewCounter(prometheus.CounterOpts{
		Name: "funnelcast_incomplete_months_excluded_total",
		Help: "Trailing months dropped as incomplete",
	})

	// Inference
	Forecasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "funnelcast_forecasts_total",
		Help: "Forecast requests by outcome and conversion rate source",
	}, []string{"outcome", "rates_source"})

	ForecastDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "funnelcast_forecast_duration_seconds",
		Help:    "Time taken to produce a forecast",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	JumpCaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "funnelcast_first_month_caps_total",
		Help: "Forecasts whose first month was capped against the anchor",
	})

	AnchorCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "funnelcast_anchor_corrections_total",
		Help: "Forecasts that replaced an anomalously low anchor with the trailing average",
	})

	BundleLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "funnelcast_bundle_loaded",
		Help: "Whether a trained bundle is loaded (1=yes, 0=no)",
	})
)

// Outcome label for an error.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
