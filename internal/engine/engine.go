// Package engine defines the contracts of the external inference and decoding
// collaborators used by the job pipeline.
package engine

import (
	"context"

	"github.com/video-stream/transcriber/internal/transcript"
)

// ChunkRequest asks a recognizer to transcribe one time slice of an audio file.
// LengthSeconds <= 0 means "until the end of the file".
type ChunkRequest struct {
	JobID         string
	Path          string
	Index         int // zero-based
	Total         int
	OffsetSeconds float64
	LengthSeconds float64
	ModelSize     string
	Language      string // "" or "auto" for detection
	Device        string
	ComputeType   string
}

// Transcription is the recognizer output for one chunk. Segment and word
// times are relative to the start of the chunk.
type Transcription struct {
	Segments []transcript.Segment
	Language string
}

// Recognizer is a speech-to-text engine.
type Recognizer interface {
	Transcribe(ctx context.Context, req ChunkRequest) (*Transcription, error)
	Name() string
}

// DiarizeRequest asks a diarizer to segment a whole file by speaker.
type DiarizeRequest struct {
	JobID  string
	Path   string
	Device string
}

// Diarizer is a speaker diarization engine.
type Diarizer interface {
	Diarize(ctx context.Context, req DiarizeRequest) ([]transcript.SpeakerWindow, error)
	Name() string
}

// AudioInfo is what the decoder reports about an audio file.
type AudioInfo struct {
	DurationSeconds float64
	SampleRate      int
	Channels        int
	Format          string
}

// Prober inspects audio files before a job is created.
type Prober interface {
	Probe(ctx context.Context, path string) (AudioInfo, error)
}

// Concurrent is implemented by engines that accept parallel calls on the same
// device. Engines that do not implement it are treated as single-flight.
type Concurrent interface {
	Concurrent() bool
}

// Disabled is implemented by engines that stand in for a missing binding.
type Disabled interface {
	Disabled() bool
}

// IsDisabled reports whether v is a stand-in engine.
func IsDisabled(v any) bool {
	d, ok := v.(Disabled)
	return ok && d.Disabled()
}

func isConcurrent(v any) bool {
	c, ok := v.(Concurrent)
	return ok && c.Concurrent()
}
