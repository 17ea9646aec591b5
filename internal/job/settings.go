package job

import (
	"regexp"
	"strings"
)

// Settings are the per-job transcription options.
type Settings struct {
	ModelSize          string  `json:"model_size" yaml:"model_size"`
	Language           string  `json:"language,omitempty" yaml:"language"`
	Diarization        bool    `json:"diarization" yaml:"diarization"`
	RequireDiarization bool    `json:"require_diarization,omitempty" yaml:"require_diarization"`
	ChunkLengthSeconds float64 `json:"chunk_length_seconds" yaml:"chunk_length_seconds"`
	Device             string  `json:"device" yaml:"device"`
	ComputeType        string  `json:"compute_type" yaml:"compute_type"`
}

const (
	MinChunkLengthSeconds = 30
	MaxChunkLengthSeconds = 3600
)

var (
	ModelSizes   = []string{"tiny", "base", "small", "medium", "large-v2", "large-v3", "turbo"}
	Devices      = []string{"auto", "cpu", "cuda", "mps"}
	ComputeTypes = []string{"auto", "int8", "float16", "float32"}

	languageRe = regexp.MustCompile(`^[a-z]{2,3}$`)
)

// DefaultSettings are used when neither the configuration nor the request set a value.
var DefaultSettings = Settings{
	ModelSize:          "base",
	Language:           "auto",
	Diarization:        true,
	ChunkLengthSeconds: 600,
	Device:             "auto",
	ComputeType:        "auto",
}

// WithDefaults fills unset fields from d. Booleans are taken as given.
func (s Settings) WithDefaults(d Settings) Settings {
	if s.ModelSize == "" {
		s.ModelSize = d.ModelSize
	}
	if s.Language == "" {
		s.Language = d.Language
	}
	if s.ChunkLengthSeconds == 0 {
		s.ChunkLengthSeconds = d.ChunkLengthSeconds
	}
	if s.Device == "" {
		s.Device = d.Device
	}
	if s.ComputeType == "" {
		s.ComputeType = d.ComputeType
	}
	return s
}

// Validate checks every option against its recognised values.
func (s Settings) Validate() error {
	if !oneOf(s.ModelSize, ModelSizes) {
		return invalid("model_size", "must be one of %s", strings.Join(ModelSizes, ", "))
	}
	if s.Language != "" && s.Language != "auto" && !languageRe.MatchString(s.Language) {
		return invalid("language", "must be auto or an ISO 639 code, got %q", s.Language)
	}
	if s.ChunkLengthSeconds < MinChunkLengthSeconds || s.ChunkLengthSeconds > MaxChunkLengthSeconds {
		return invalid("chunk_length_seconds", "must be between %d and %d", MinChunkLengthSeconds, MaxChunkLengthSeconds)
	}
	if !oneOf(s.Device, Devices) {
		return invalid("device", "must be one of %s", strings.Join(Devices, ", "))
	}
	if !oneOf(s.ComputeType, ComputeTypes) {
		return invalid("compute_type", "must be one of %s", strings.Join(ComputeTypes, ", "))
	}
	if s.RequireDiarization && !s.Diarization {
		return invalid("require_diarization", "requires diarization to be enabled")
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
