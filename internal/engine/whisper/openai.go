package whisper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/video-stream/transcriber/internal/engine"
	"github.com/video-stream/transcriber/internal/ffmpeg"
)

const (
	DefaultOpenAIURL  = "https://api.openai.com"
	maxOpenAIFileSize = 25 * 1024 * 1024 // 25MB limit
)

// ErrChunkTooLarge is returned when an extracted chunk exceeds the upload
// limit of the hosted API. A shorter chunk length avoids it.
var ErrChunkTooLarge = errors.New("chunk exceeds 25MB upload limit")

// OpenAIClient uses the OpenAI audio transcription API. It also serves
// self-hosted OpenAI-compatible servers such as the OpenVINO GenAI pipeline,
// in which case apiKey may be empty.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	opts    options
}

// NewOpenAIClient creates a client. An empty model sends the job's model
// size, which is what self-hosted servers expect.
func NewOpenAIClient(baseURL, apiKey, model string, opts ...Option) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultOpenAIURL
	}
	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		opts:    buildOptions("openai", 10*time.Minute, opts),
	}
}

func (c *OpenAIClient) Name() string {
	return "openai"
}

// Concurrent reports that the API accepts parallel requests.
func (c *OpenAIClient) Concurrent() bool {
	return true
}

func (c *OpenAIClient) Transcribe(ctx context.Context, req engine.ChunkRequest) (*engine.Transcription, error) {
	if c.apiKey == "" && c.baseURL == DefaultOpenAIURL {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}

	// MP3 is smaller than WAV for upload
	audioPath, err := c.opts.extract(ctx, req.Path, req.OffsetSeconds, req.LengthSeconds, ffmpeg.MP3)
	if err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}
	defer os.Remove(audioPath)

	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxOpenAIFileSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, info.Size())
	}

	model := c.model
	if model == "" {
		model = req.ModelSize
	}
	fields := [][2]string{
		{"model", model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
		{"timestamp_granularities[]", "word"},
		{"language", languageField(req.Language)},
	}
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	url := c.baseURL + "/v1/audio/transcriptions"
	log := c.opts.logger.With("job_id", req.JobID, "chunk", req.Index+1, "total", req.Total)
	log.Debug("sending chunk", "url", url, "model", model)

	body, err := withRetry(ctx, log, c.opts.retryBackoff, func() ([]byte, error) {
		return postAudio(ctx, c.opts.httpClient, url, audioPath, fields, header)
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API: %w", err)
	}
	return parseVerbose(body)
}
