package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	predictions      *prometheus.CounterVec
	modelPredictions *prometheus.CounterVec
	trainings        *prometheus.CounterVec
	trainingSeconds  *prometheus.HistogramVec
	errorsTotal      *prometheus.CounterVec
	latency          *prometheus.HistogramVec
	cachedModels     prometheus.Gauge
	jobs             *prometheus.CounterVec
}

// New registers collectors on reg. Pass prometheus.DefaultRegisterer in production and a
// fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		predictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincast_predictions_total",
				Help: "Ensemble predictions served, by outcome",
			},
			[]string{"symbol", "method", "outcome"},
		),
		modelPredictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincast_model_predictions_total",
				Help: "Per-model prediction attempts, by outcome",
			},
			[]string{"model_type", "outcome"},
		),
		trainings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincast_model_trainings_total",
				Help: "Model trainings and updates, by outcome",
			},
			[]string{"model_type", "outcome"},
		),
		trainingSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fincast_model_training_duration_seconds",
				Help:    "Wall time spent training a model",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"model_type"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincast_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fincast_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		cachedModels: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fincast_cached_models",
				Help: "Number of deserialized models held in memory",
			},
		),
		jobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincast_queue_jobs_total",
				Help: "Background jobs handled, by type and outcome",
			},
			[]string{"job_type", "outcome"},
		),
	}
}

func (r *Recorder) RecordPrediction(symbol, method, outcome string) {
	r.predictions.WithLabelValues(symbol, method, outcome).Inc()
}

func (r *Recorder) RecordModelPrediction(modelType, outcome string) {
	r.modelPredictions.WithLabelValues(modelType, outcome).Inc()
}

func (r *Recorder) RecordTraining(modelType, outcome string, seconds float64) {
	r.trainings.WithLabelValues(modelType, outcome).Inc()
	r.trainingSeconds.WithLabelValues(modelType).Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) SetCachedModels(n int) {
	r.cachedModels.Set(float64(n))
}

// RecordJob has the queue.Observer signature.
func (r *Recorder) RecordJob(jobType, outcome string, seconds float64) {
	r.jobs.WithLabelValues(jobType, outcome).Inc()
	r.latency.WithLabelValues("job:" + jobType).Observe(seconds)
}

// Noop discards all measurements.
type Noop struct{}

func (Noop) RecordPrediction(string, string, string) {}
func (Noop) RecordModelPrediction(string, string) {}
func (Noop) RecordTraining(string, string, float64) {}
func (Noop) RecordError(string) {}
func (Noop) RecordLatency(string, float64) {}
func (Noop) SetCachedModels(int) {}
func (Noop) RecordJob(string, string, float64) {}
