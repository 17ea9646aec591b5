package job

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// DefaultAllowedFormats are the accepted file extensions when none are configured.
var DefaultAllowedFormats = []string{"wav", "mp3", "m4a", "flac", "ogg", "opus", "webm", "mp4", "aac"}

// validateAudio checks that path is a readable audio file within the
// configured limits and probes its properties.
func (q *JobQueue) validateAudio(ctx context.Context, path string) (AudioFile, error) {
	if strings.TrimSpace(path) == "" {
		return AudioFile{}, invalid("path", "is required")
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return AudioFile{}, invalid("path", "file not found: %s", path)
		}
		return AudioFile{}, invalid("path", "cannot access %s: %v", path, err)
	}
	if info.IsDir() {
		return AudioFile{}, invalid("path", "%s is a directory", path)
	}
	if info.Size() == 0 {
		return AudioFile{}, invalid("path", "%s is empty", path)
	}
	if max := q.cfg.MaxFileSizeBytes; max > 0 && info.Size() > max {
		return AudioFile{}, invalid("path", "file is %d bytes, limit is %d", info.Size(), max)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if !oneOf(format, q.cfg.AllowedFormats) {
		return AudioFile{}, invalid("format", "%q is not one of %s", format, strings.Join(q.cfg.AllowedFormats, ", "))
	}

	probe, err := q.prober.Probe(ctx, path)
	if err != nil {
		return AudioFile{}, invalid("path", "cannot decode audio: %v", err)
	}
	if probe.DurationSeconds <= 0 {
		return AudioFile{}, invalid("path", "audio has no duration")
	}

	return AudioFile{
		Path:            path,
		Name:            filepath.Base(path),
		SizeBytes:       info.Size(),
		DurationSeconds: probe.DurationSeconds,
		Format:          format,
		SampleRate:      probe.SampleRate,
		Channels:        probe.Channels,
	}, nil
}
