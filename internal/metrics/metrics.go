// Package metrics provides Prometheus metrics for the transcription pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// jobsSubmittedTotal counts accepted jobs.
	// Labels:
	//   - kind: "single" or "batch"
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcriber_jobs_submitted_total",
			Help: "Total number of accepted transcription jobs",
		},
		[]string{"kind"},
	)

	// jobsFinishedTotal counts jobs reaching a terminal state.
	// Labels:
	//   - status: completed, failed or cancelled
	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcriber_jobs_finished_total",
			Help: "Total number of transcription jobs by terminal status",
		},
		[]string{"status"},
	)

	jobsProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "transcriber_jobs_processing",
			Help: "Number of jobs currently holding a processing slot",
		},
	)

	// engineCallDuration records the duration of engine calls.
	// Labels:
	//   - engine: engine name (e.g. "whisper.cpp", "pyannote")
	//   - stage: "transcribe" or "diarize"
	// Buckets: 0.5s, 1s, 5s, 10s, 30s, 60s, 120s, 300s, 600s
	engineCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcriber_engine_call_duration_seconds",
			Help:    "Duration of recognition and diarization calls in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"engine", "stage"},
	)

	engineErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcriber_engine_errors_total",
			Help: "Total number of failed engine calls",
		},
		[]string{"engine", "stage"},
	)

	audioSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "transcriber_audio_seconds_total",
			Help: "Total seconds of audio in completed jobs",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsSubmittedTotal)
	prometheus.MustRegister(jobsFinishedTotal)
	prometheus.MustRegister(jobsProcessing)
	prometheus.MustRegister(engineCallDuration)
	prometheus.MustRegister(engineErrorsTotal)
	prometheus.MustRegister(audioSecondsTotal)
}

// RecordSubmitted adds n accepted jobs of the given kind.
func RecordSubmitted(kind string, n int) {
	jobsSubmittedTotal.WithLabelValues(kind).Add(float64(n))
}

// RecordFinished records a job reaching a terminal status.
func RecordFinished(status string) {
	jobsFinishedTotal.WithLabelValues(status).Inc()
}

// ProcessingStarted and ProcessingEnded track slot occupancy.
func ProcessingStarted() { jobsProcessing.Inc() }

func ProcessingEnded() { jobsProcessing.Dec() }

// RecordEngineCall records the duration of one engine call and whether it failed.
func RecordEngineCall(engine, stage string, durationSeconds float64, err error) {
	engineCallDuration.WithLabelValues(engine, stage).Observe(durationSeconds)
	if err != nil {
		engineErrorsTotal.WithLabelValues(engine, stage).Inc()
	}
}

// RecordAudioSeconds adds the duration of a completed job's audio.
func RecordAudioSeconds(seconds float64) {
	audioSecondsTotal.Add(seconds)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
