// Package whisper binds the recognizer contract to whisper inference servers.
package whisper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/video-stream/transcriber/internal/ffmpeg"
)

type options struct {
	httpClient   *http.Client
	extract      ExtractFunc
	logger       *slog.Logger
	retryBackoff time.Duration
}

// Option configures a client.
type Option func(*options)

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithExtractor replaces ffmpeg chunk extraction.
func WithExtractor(fn ExtractFunc) Option {
	return func(o *options) { o.extract = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRetryBackoff sets the first retry wait; it doubles afterwards.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *options) { o.retryBackoff = d }
}

func buildOptions(name string, timeout time.Duration, opts []Option) options {
	o := options{
		httpClient:   &http.Client{Timeout: timeout},
		extract:      ffmpeg.ExtractChunk,
		logger:       slog.Default(),
		retryBackoff: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", "whisper", "engine", name)
	return o
}

// postAudio uploads audioPath as the "file" field of a multipart form and
// returns the response body. The form is rebuilt on every call so it can be
// retried.
func postAudio(ctx context.Context, client *http.Client, url, audioPath string, fields [][2]string, header http.Header) ([]byte, error) {
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
	for _, f := range fields {
		if f[1] != "" {
			writer.WriteField(f[0], f[1])
		}
	}
	writer.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
