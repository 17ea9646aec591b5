package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestRecordSubmitted(t *testing.T) {
	jobsSubmittedTotal.Reset()

	RecordSubmitted("batch", 3)
	RecordSubmitted("single", 1)
	RecordSubmitted("batch", 2)

	assert.Equal(t, 5.0, counterValue(t, jobsSubmittedTotal.WithLabelValues("batch")))
	assert.Equal(t, 1.0, counterValue(t, jobsSubmittedTotal.WithLabelValues("single")))
}

func TestRecordFinished(t *testing.T) {
	jobsFinishedTotal.Reset()

	RecordFinished("completed")
	RecordFinished("failed")
	RecordFinished("completed")

	assert.Equal(t, 2.0, counterValue(t, jobsFinishedTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, counterValue(t, jobsFinishedTotal.WithLabelValues("failed")))
}

func TestProcessingGauge(t *testing.T) {
	jobsProcessing.Set(0)

	ProcessingStarted()
	ProcessingStarted()
	ProcessingEnded()

	m := &dto.Metric{}
	require.NoError(t, jobsProcessing.Write(m))
	assert.Equal(t, 1.0, m.GetGauge().GetValue())
}

func TestRecordEngineCall_CountsErrors(t *testing.T) {
	engineErrorsTotal.Reset()
	engineCallDuration.Reset()

	RecordEngineCall("whisper.cpp", "transcribe", 2.5, nil)
	RecordEngineCall("whisper.cpp", "transcribe", 1.0, errors.New("boom"))

	assert.Equal(t, 1.0, counterValue(t, engineErrorsTotal.WithLabelValues("whisper.cpp", "transcribe")))

	m := &dto.Metric{}
	require.NoError(t, engineCallDuration.WithLabelValues("whisper.cpp", "transcribe").(interface{ Write(*dto.Metric) error }).Write(m))
	assert.Equal(t, uint64(2), m.GetHistogram().GetSampleCount())
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordAudioSeconds(12)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "transcriber_audio_seconds_total")
}
