// Package diarize binds the diarizer contract to speaker diarization services.
package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/video-stream/transcriber/internal/engine"
	"github.com/video-stream/transcriber/internal/ffmpeg"
	"github.com/video-stream/transcriber/internal/transcript"
)

// Noop reports no speaker windows, which leaves every segment unassigned.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) Disabled() bool { return true }

func (Noop) Diarize(context.Context, engine.DiarizeRequest) ([]transcript.SpeakerWindow, error) {
	return nil, nil
}

// ExtractFunc converts the source file into the WAV the service expects.
type ExtractFunc func(ctx context.Context, src string, offset, length float64, enc ffmpeg.Encoding) (string, error)

// HTTPClient talks to a pyannote-style diarization server that accepts a
// multipart "file" upload on /diarize and answers
//
//	{"segments": [{"start": 0.0, "end": 1.5, "speaker": "SPEAKER_00", "confidence": 0.9}], "error": ""}
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	extract    ExtractFunc
	logger     *slog.Logger
}

func NewHTTPClient(baseURL string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Minute,
		},
		extract: ffmpeg.ExtractChunk,
		logger:  logger.With("component", "diarize"),
	}
}

func (c *HTTPClient) Name() string {
	return "pyannote"
}

type response struct {
	Segments []struct {
		Start      float64  `json:"start"`
		End        float64  `json:"end"`
		Speaker    string   `json:"speaker"`
		Confidence *float64 `json:"confidence"`
	} `json:"segments"`
	Error string `json:"error"`
}

func (c *HTTPClient) Diarize(ctx context.Context, req engine.DiarizeRequest) ([]transcript.SpeakerWindow, error) {
	audioPath, err := c.extract(ctx, req.Path, 0, 0, ffmpeg.WAV)
	if err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}
	defer os.Remove(audioPath)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	audioFile, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer audioFile.Close()

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audioFile); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}
	if req.Device != "" {
		writer.WriteField("device", req.Device)
	}
	writer.Close()

	url := c.baseURL + "/diarize"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Debug("sending audio", "url", url, "job_id", req.JobID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("diarization server request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("diarization server error (status %d): %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("diarization server error (status %d): %s", resp.StatusCode, out.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("diarization server error (status %d)", resp.StatusCode)
	}

	windows := make([]transcript.SpeakerWindow, 0, len(out.Segments))
	for _, s := range out.Segments {
		if s.End <= s.Start || s.Speaker == "" {
			continue
		}
		conf := 1.0
		if s.Confidence != nil {
			conf = *s.Confidence
		}
		windows = append(windows, transcript.SpeakerWindow{
			Speaker:    s.Speaker,
			Start:      s.Start,
			End:        s.End,
			Confidence: conf,
		})
	}
	return windows, nil
}
