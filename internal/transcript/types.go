// Package transcript holds the timed text model shared by the recognition
// engines, the diarization engines and the job pipeline, plus the merge step
// that attributes transcript segments to speakers.
package transcript

// Word is a single recognised token with its timing.
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Segment is a contiguous span of recognised speech. Speaker is empty until
// the merger attributes the segment to a diarization window.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
	Speaker    string  `json:"speaker,omitempty"`
}

// Duration returns End-Start in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// SpeakerWindow is a time window the diarization engine attributed to one speaker.
type SpeakerWindow struct {
	Speaker    string  `json:"speaker"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Speaker aggregates the segments assigned to one speaker.
type Speaker struct {
	ID                 string  `json:"speaker_id"`
	TotalSpeechSeconds float64 `json:"total_speech_seconds"`
	SegmentCount       int     `json:"segment_count"`
	Confidence         float64 `json:"confidence"`
}

// Result is the final transcript of a completed job.
type Result struct {
	JobID                 string    `json:"job_id"`
	Text                  string    `json:"text"`
	Segments              []Segment `json:"segments"`
	Speakers              []Speaker `json:"speakers"`
	LanguageCode          string    `json:"language_code"`
	ProcessingTimeSeconds float64   `json:"processing_time_seconds"`
}
