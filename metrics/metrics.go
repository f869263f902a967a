package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PredictionsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxi_api_predictions_served_total",
		Help: "Total number of successful predictions.",
	})
	PredictionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxi_api_predictions_failed_total",
		Help: "Total number of failed predictions by reason.",
	}, []string{"reason"})
	PredictionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taxi_api_prediction_duration_seconds",
		Help:    "Latency of the prediction hot path.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
	})
	ModelReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxi_api_model_reloads_total",
		Help: "Total number of successful model reloads.",
	})
	ModelRMSE = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taxi_api_loaded_model_rmse",
		Help: "Reported error metric of the currently loaded model.",
	})
)
