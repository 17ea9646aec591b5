package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/video-stream/transcriber/internal/engine"
)

type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

type ProbeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type ProbeStream struct {
	Index         int               `json:"index"`
	CodecName     string            `json:"codec_name"`
	CodecType     string            `json:"codec_type"` // video, audio, subtitle
	Duration      string            `json:"duration,omitempty"`
	SampleRate    string            `json:"sample_rate,omitempty"`
	Channels      int               `json:"channels,omitempty"`
	ChannelLayout string            `json:"channel_layout,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// ErrNoAudio is returned for files without an audio stream.
var ErrNoAudio = errors.New("no audio stream")

// Prober inspects files with ffprobe.
type Prober struct {
	Binary string
}

func NewProber() *Prober {
	return &Prober{Binary: "ffprobe"}
}

func (p *Prober) Probe(ctx context.Context, filePath string) (engine.AudioInfo, error) {
	cmd := exec.CommandContext(ctx, p.Binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)

	output, err := cmd.Output()
	if err != nil {
		return engine.AudioInfo{}, fmt.Errorf("ffprobe %s: %w", filePath, err)
	}
	return ParseProbe(output)
}

// ParseProbe extracts the audio properties from ffprobe JSON output. The
// duration of the first audio stream is used when the container has none.
func ParseProbe(output []byte) (engine.AudioInfo, error) {
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return engine.AudioInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	var audio *ProbeStream
	for i := range result.Streams {
		if result.Streams[i].CodecType == "audio" {
			audio = &result.Streams[i]
			break
		}
	}
	if audio == nil {
		return engine.AudioInfo{}, ErrNoAudio
	}

	info := engine.AudioInfo{
		Channels: audio.Channels,
		Format:   strings.Split(result.Format.FormatName, ",")[0],
	}
	info.SampleRate, _ = strconv.Atoi(audio.SampleRate)

	duration := result.Format.Duration
	if duration == "" || duration == "N/A" {
		duration = audio.Duration
	}
	if d, err := strconv.ParseFloat(duration, 64); err == nil {
		info.DurationSeconds = d
	}
	return info, nil
}
