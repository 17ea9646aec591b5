package whisper

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/video-stream/transcriber/internal/engine"
	"github.com/video-stream/transcriber/internal/ffmpeg"
)

// CppClient talks to the whisper.cpp HTTP server (whisper-server). The server
// runs one inference at a time, so it does not advertise concurrency.
type CppClient struct {
	baseURL string
	opts    options
}

// NewCppClient creates a client for the whisper.cpp server
func NewCppClient(baseURL string, opts ...Option) *CppClient {
	return &CppClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    buildOptions("whisper.cpp", 30*time.Minute, opts), // transcription can be very long
	}
}

func (c *CppClient) Name() string {
	return "whisper.cpp"
}

func (c *CppClient) Transcribe(ctx context.Context, req engine.ChunkRequest) (*engine.Transcription, error) {
	audioPath, err := c.opts.extract(ctx, req.Path, req.OffsetSeconds, req.LengthSeconds, ffmpeg.WAV)
	if err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}
	defer os.Remove(audioPath)

	url := c.baseURL + "/inference"
	fields := [][2]string{
		{"response_format", "verbose_json"},
		{"temperature", "0.0"},
		{"language", languageField(req.Language)},
	}

	log := c.opts.logger.With("job_id", req.JobID, "chunk", req.Index+1, "total", req.Total)
	log.Debug("sending chunk", "url", url)

	body, err := withRetry(ctx, log, c.opts.retryBackoff, func() ([]byte, error) {
		return postAudio(ctx, c.opts.httpClient, url, audioPath, fields, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("whisper server: %w", err)
	}
	return parseVerbose(body)
}
