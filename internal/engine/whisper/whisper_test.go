package whisper

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/video-stream/transcriber/internal/engine"
	"github.com/video-stream/transcriber/internal/ffmpeg"
)

type extractCall struct {
	src            string
	offset, length float64
	enc            ffmpeg.Encoding
}

func fakeExtractor(t *testing.T, size int64, calls *[]extractCall) ExtractFunc {
	t.Helper()
	dir := t.TempDir()
	return func(_ context.Context, src string, offset, length float64, enc ffmpeg.Encoding) (string, error) {
		*calls = append(*calls, extractCall{src, offset, length, enc})
		f, err := os.CreateTemp(dir, "chunk-*."+string(enc))
		if err != nil {
			return "", err
		}
		defer f.Close()
		return f.Name(), f.Truncate(size)
	}
}

const cppBody = `{
	"language": "german",
	"duration": 12.0,
	"text": " Guten Morgen. Wie geht's?",
	"segments": [
		{"start": 0.0, "end": 4.0, "text": " Guten Morgen.", "avg_logprob": -0.1, "no_speech_prob": 0.0,
		 "words": [{"word": " Guten", "start": 0.0, "end": 1.5, "probability": 0.95}, {"word": " Morgen.", "start": 1.5, "end": 4.0, "probability": 0.9}]},
		{"start": 4.0, "end": 5.0, "text": "  ", "avg_logprob": -2.0},
		{"start": 5.0, "end": 9.0, "text": " Wie geht's?", "avg_logprob": -0.5, "no_speech_prob": 0.5}
	]
}`

func TestCppClient_Transcribe(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/inference", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		form = r.MultipartForm.Value
		_, _, err := r.FormFile("file")
		assert.NoError(t, err)
		w.Write([]byte(cppBody))
	}))
	defer srv.Close()

	var calls []extractCall
	c := NewCppClient(srv.URL+"/", WithExtractor(fakeExtractor(t, 64, &calls)))
	_, concurrent := any(c).(engine.Concurrent)
	assert.False(t, concurrent)

	out, err := c.Transcribe(context.Background(), engine.ChunkRequest{
		JobID: "j1", Path: "/audio/talk.m4a", Index: 1, Total: 3,
		OffsetSeconds: 600, LengthSeconds: 600, Language: "de",
	})
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.Equal(t, extractCall{"/audio/talk.m4a", 600, 600, ffmpeg.WAV}, calls[0])
	assert.Equal(t, []string{"verbose_json"}, form["response_format"])
	assert.Equal(t, []string{"de"}, form["language"])

	assert.Equal(t, "de", out.Language)
	require.Len(t, out.Segments, 2)
	assert.Equal(t, "Guten Morgen.", out.Segments[0].Text)
	assert.InDelta(t, math.Exp(-0.1), out.Segments[0].Confidence, 1e-9)
	require.Len(t, out.Segments[0].Words, 2)
	assert.Equal(t, "Guten", out.Segments[0].Words[0].Text)
	assert.Equal(t, 0.95, out.Segments[0].Words[0].Confidence)
	assert.InDelta(t, math.Exp(-0.5)*0.5, out.Segments[1].Confidence, 1e-9)
}

func TestCppClient_AutoLanguageOmitsField(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		form = r.MultipartForm.Value
		w.Write([]byte(`{"language": "en", "segments": []}`))
	}))
	defer srv.Close()

	var calls []extractCall
	c := NewCppClient(srv.URL, WithExtractor(fakeExtractor(t, 64, &calls)))
	out, err := c.Transcribe(context.Background(), engine.ChunkRequest{Path: "a.wav", Language: "auto"})
	require.NoError(t, err)
	assert.NotContains(t, form, "language")
	assert.Equal(t, "en", out.Language)
	assert.Empty(t, out.Segments)
}

func TestCppClient_RetriesTransientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"segments": [{"start": 0, "end": 1, "text": "hi"}]}`))
	}))
	defer srv.Close()

	var calls []extractCall
	c := NewCppClient(srv.URL, WithExtractor(fakeExtractor(t, 64, &calls)), WithRetryBackoff(time.Millisecond))
	out, err := c.Transcribe(context.Background(), engine.ChunkRequest{Path: "a.wav"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	require.Len(t, out.Segments, 1)
	assert.Equal(t, 1.0, out.Segments[0].Confidence)
}

func TestCppClient_PermanentErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantOOM  bool
		wantHits int32
	}{
		{"out of memory fails immediately", http.StatusInternalServerError, "CUDA error: out of memory", true, 1},
		{"bad request is not retried", http.StatusBadRequest, "unsupported format", false, 1},
		{"gives up after retries", http.StatusBadGateway, "upstream down", false, maxRetries + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				http.Error(w, tt.body, tt.status)
			}))
			defer srv.Close()

			var calls []extractCall
			c := NewCppClient(srv.URL, WithExtractor(fakeExtractor(t, 64, &calls)), WithRetryBackoff(time.Millisecond))
			_, err := c.Transcribe(context.Background(), engine.ChunkRequest{Path: "a.wav"})
			require.Error(t, err)
			assert.Equal(t, tt.wantOOM, errors.Is(err, ErrOutOfMemory))
			assert.Contains(t, err.Error(), tt.body)
			assert.Equal(t, tt.wantHits, hits.Load())
		})
	}
}

func TestOpenAIClient_Transcribe(t *testing.T) {
	var form map[string][]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		form = r.MultipartForm.Value
		w.Write([]byte(`{
			"language": "english",
			"segments": [
				{"start": 0, "end": 2, "text": " Hello there.", "avg_logprob": -0.2},
				{"start": 2, "end": 4, "text": " General Kenobi."}
			],
			"words": [
				{"word": "Hello", "start": 0.0, "end": 0.8},
				{"word": "there.", "start": 0.8, "end": 2.0},
				{"word": "General", "start": 2.1, "end": 3.0},
				{"word": "Kenobi.", "start": 3.0, "end": 4.0}
			]
		}`))
	}))
	defer srv.Close()

	var calls []extractCall
	c := NewOpenAIClient(srv.URL, "sk-test", "whisper-1", WithExtractor(fakeExtractor(t, 64, &calls)))
	assert.True(t, c.Concurrent())

	out, err := c.Transcribe(context.Background(), engine.ChunkRequest{Path: "a.wav", ModelSize: "small"})
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.Equal(t, ffmpeg.MP3, calls[0].enc)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, []string{"whisper-1"}, form["model"])
	assert.ElementsMatch(t, []string{"segment", "word"}, form["timestamp_granularities[]"])

	assert.Equal(t, "en", out.Language)
	require.Len(t, out.Segments, 2)
	require.Len(t, out.Segments[0].Words, 2)
	require.Len(t, out.Segments[1].Words, 2)
	assert.Equal(t, "Kenobi.", out.Segments[1].Words[1].Text)
	assert.InDelta(t, math.Exp(-0.2), out.Segments[0].Words[0].Confidence, 1e-9)
}

func TestOpenAIClient_SelfHostedUsesModelSize(t *testing.T) {
	var form map[string][]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		form = r.MultipartForm.Value
		w.Write([]byte(`{"segments": []}`))
	}))
	defer srv.Close()

	var calls []extractCall
	c := NewOpenAIClient(srv.URL, "", "", WithExtractor(fakeExtractor(t, 64, &calls)))
	_, err := c.Transcribe(context.Background(), engine.ChunkRequest{Path: "a.wav", ModelSize: "large-v3"})
	require.NoError(t, err)
	assert.Empty(t, auth)
	assert.Equal(t, []string{"large-v3"}, form["model"])
}

func TestOpenAIClient_Errors(t *testing.T) {
	var calls []extractCall

	c := NewOpenAIClient("", "", "", WithExtractor(fakeExtractor(t, 64, &calls)))
	_, err := c.Transcribe(context.Background(), engine.ChunkRequest{Path: "a.wav"})
	assert.ErrorContains(t, err, "API key not configured")
	assert.Empty(t, calls)

	c = NewOpenAIClient("http://127.0.0.1:1", "sk", "", WithExtractor(fakeExtractor(t, maxOpenAIFileSize+1, &calls)))
	_, err = c.Transcribe(context.Background(), engine.ChunkRequest{Path: "a.wav"})
	assert.ErrorIs(t, err, ErrChunkTooLarge)
}

type stubRecognizer struct {
	name       string
	err        error
	concurrent bool
	calls      int
}

func (s *stubRecognizer) Name() string     { return s.name }
func (s *stubRecognizer) Concurrent() bool { return s.concurrent }

func (s *stubRecognizer) Transcribe(context.Context, engine.ChunkRequest) (*engine.Transcription, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &engine.Transcription{Language: s.name}, nil
}

func TestService_FallsBackInOrder(t *testing.T) {
	primary := &stubRecognizer{name: "primary", err: errors.New("connection refused")}
	secondary := &stubRecognizer{name: "secondary", concurrent: true}

	s := NewService("", "", "", "", nil)
	s.RegisterEngine("primary", primary)
	s.RegisterEngine("secondary", secondary)
	assert.Equal(t, []string{"primary", "secondary"}, s.Engines())
	assert.Equal(t, "whisper", s.Name())
	assert.False(t, s.Concurrent())

	out, err := s.Transcribe(context.Background(), engine.ChunkRequest{})
	require.NoError(t, err)
	assert.Equal(t, "secondary", out.Language)
	assert.Equal(t, 1, primary.calls)

	secondary.err = errors.New("bad audio")
	_, err = s.Transcribe(context.Background(), engine.ChunkRequest{})
	assert.EqualError(t, err, "primary: connection refused; secondary: bad audio")
}

func TestService_RegistersConfiguredEngines(t *testing.T) {
	s := NewService("http://whisper:8080", "", "sk", "whisper-1", nil)
	assert.Equal(t, []string{"whisper.cpp", "openai"}, s.Engines())

	s = NewService("", "http://openvino:8000", "", "", nil)
	assert.Equal(t, []string{"openai"}, s.Engines())
	assert.Equal(t, "openai", s.Name())
	assert.True(t, s.Concurrent())

	s = NewService("", "", "", "", nil)
	_, err := s.Transcribe(context.Background(), engine.ChunkRequest{})
	assert.Error(t, err)
}

func TestParseVerbose_Invalid(t *testing.T) {
	_, err := parseVerbose([]byte("WEBVTT"))
	assert.Error(t, err)
}
