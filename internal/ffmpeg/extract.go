package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// Encoding selects the container of an extracted chunk.
type Encoding string

const (
	// WAV is 16 kHz mono PCM, the input whisper.cpp expects.
	WAV Encoding = "wav"
	// MP3 is a ~130 kbps VBR file, small enough for hosted APIs.
	MP3 Encoding = "mp3"
)

// Extractor cuts time slices out of media files.
type Extractor struct {
	Binary string
}

func NewExtractor() *Extractor {
	return &Extractor{Binary: "ffmpeg"}
}

// Extract writes [offset, offset+length) of src to a temporary file and
// returns its path. length <= 0 extracts until the end. The caller removes
// the file.
func (e *Extractor) Extract(ctx context.Context, src string, offset, length float64, enc Encoding) (string, error) {
	tmpFile, err := os.CreateTemp("", "transcriber-chunk-*."+string(enc))
	if err != nil {
		return "", err
	}
	tmpFile.Close()

	cmd := exec.CommandContext(ctx, e.Binary, chunkArgs(src, tmpFile.Name(), offset, length, enc)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("ffmpeg: %s: %w", string(output), err)
	}

	return tmpFile.Name(), nil
}

func chunkArgs(src, dst string, offset, length float64, enc Encoding) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if offset > 0 {
		args = append(args, "-ss", formatSeconds(offset))
	}
	args = append(args, "-i", src)
	if length > 0 {
		args = append(args, "-t", formatSeconds(length))
	}
	args = append(args, "-vn")

	switch enc {
	case MP3:
		args = append(args,
			"-acodec", "libmp3lame",
			"-q:a", "4", // ~130kbps VBR
		)
	default:
		args = append(args,
			"-acodec", "pcm_s16le",
			"-ar", "16000", // 16kHz
			"-ac", "1", // mono
		)
	}
	return append(args, "-y", dst)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// ExtractChunk extracts a slice with the ffmpeg binary on PATH.
func ExtractChunk(ctx context.Context, src string, offset, length float64, enc Encoding) (string, error) {
	return NewExtractor().Extract(ctx, src, offset, length, enc)
}
