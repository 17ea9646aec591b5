package whisper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/video-stream/transcriber/internal/ffmpeg"
)

// ExtractFunc cuts a chunk out of the source file and returns a temporary
// path the caller removes.
type ExtractFunc func(ctx context.Context, src string, offset, length float64, enc ffmpeg.Encoding) (string, error)

const maxRetries = 3

// statusError is a non-200 response from an inference server.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// ErrOutOfMemory marks a backend that ran out of device memory. It is never
// retried; a smaller model is the usual fix.
var ErrOutOfMemory = errors.New("out of memory, try a smaller model")

// isOOMError checks if an error response indicates GPU out-of-memory
func isOOMError(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "out of memory") ||
		strings.Contains(lower, "allocation") ||
		strings.Contains(lower, "oom") ||
		strings.Contains(lower, "memory") && strings.Contains(lower, "failed") ||
		strings.Contains(lower, "sycl") && strings.Contains(lower, "error")
}

// isRetryableError checks if an error is transient and worth retrying
func isRetryableError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == 429 || se.Code == 502 || se.Code == 503 || se.Code == 504
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "timeout")
}

// withRetry runs send until it succeeds, fails permanently or the retries are
// used up. The wait doubles on each attempt starting at base.
func withRetry[T any](ctx context.Context, log *slog.Logger, base time.Duration, send func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := base * time.Duration(1<<uint(attempt-1))
			log.Info("retrying", "attempt", attempt, "max", maxRetries, "backoff", backoff)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
		}

		out, err := send()
		if err == nil {
			return out, nil
		}
		lastErr = err

		if isOOMError(err.Error()) {
			return zero, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !isRetryableError(err) {
			return zero, err
		}
		log.Warn("transient error", "attempt", attempt+1, "error", err)
	}

	return zero, fmt.Errorf("failed after %d attempts: %w", maxRetries+1, lastErr)
}

func languageField(lang string) string {
	if lang == "auto" {
		return ""
	}
	return lang
}
