package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_jobs_submitted_total",
			Help: "Total jobs accepted for execution, by kind.",
		},
		[]string{"kind"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_jobs_finished_total",
			Help: "Total jobs reaching a terminal state, by outcome.",
		},
		[]string{"state"},
	)

	jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_jobs_in_flight",
			Help: "Number of pipelines currently executing.",
		},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "courier_job_duration_seconds",
			Help:    "Wall time from pipeline start to terminal state.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 7200},
		},
	)

	credentialRotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_credential_rotations_total",
			Help: "Total credential pool rotations triggered by quota failures.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		jobsSubmitted,
		jobsFinished,
		jobsInFlight,
		jobDuration,
		credentialRotations,
	)
}
