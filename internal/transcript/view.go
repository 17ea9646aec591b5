package transcript

// ViewOptions selects which optional parts of a result are exposed.
type ViewOptions struct {
	Timestamps bool
	Confidence bool
	Speakers   bool
}

// DefaultViewOptions exposes everything.
var DefaultViewOptions = ViewOptions{Timestamps: true, Confidence: true, Speakers: true}

// WordView is the caller-facing shape of a Word.
type WordView struct {
	Text       string   `json:"text"`
	Start      *float64 `json:"start,omitempty"`
	End        *float64 `json:"end,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// SegmentView is the caller-facing shape of a Segment. SpeakerID is always
// present when speakers are requested and null when the segment is unassigned.
type SegmentView struct {
	Start      *float64   `json:"start,omitempty"`
	End        *float64   `json:"end,omitempty"`
	Text       string     `json:"text"`
	Confidence *float64   `json:"confidence,omitempty"`
	SpeakerID  **string   `json:"speaker_id,omitempty"`
	Words      []WordView `json:"words,omitempty"`
}

// ResultView is the caller-facing shape of a Result.
type ResultView struct {
	JobID                 string        `json:"job_id"`
	Text                  string        `json:"text"`
	LanguageCode          string        `json:"language_code"`
	ProcessingTimeSeconds float64       `json:"processing_time_seconds"`
	Segments              []SegmentView `json:"segments"`
	Speakers              *[]Speaker    `json:"speakers,omitempty"`
}

// NewView shapes r according to opts.
func NewView(r *Result, opts ViewOptions) ResultView {
	v := ResultView{
		JobID:                 r.JobID,
		Text:                  r.Text,
		LanguageCode:          r.LanguageCode,
		ProcessingTimeSeconds: r.ProcessingTimeSeconds,
		Segments:              make([]SegmentView, 0, len(r.Segments)),
	}
	for _, s := range r.Segments {
		sv := SegmentView{Text: s.Text}
		if opts.Timestamps {
			sv.Start, sv.End = ptr(s.Start), ptr(s.End)
		}
		if opts.Confidence {
			sv.Confidence = ptr(s.Confidence)
		}
		if opts.Speakers {
			var id *string
			if s.Speaker != "" {
				id = ptr(s.Speaker)
			}
			sv.SpeakerID = &id
		}
		if opts.Timestamps || opts.Confidence {
			for _, w := range s.Words {
				wv := WordView{Text: w.Text}
				if opts.Timestamps {
					wv.Start, wv.End = ptr(w.Start), ptr(w.End)
				}
				if opts.Confidence {
					wv.Confidence = ptr(w.Confidence)
				}
				sv.Words = append(sv.Words, wv)
			}
		}
		v.Segments = append(v.Segments, sv)
	}
	if opts.Speakers {
		speakers := r.Speakers
		if speakers == nil {
			speakers = []Speaker{}
		}
		v.Speakers = &speakers
	}
	return v
}

func ptr[T any](v T) *T {
	return &v
}
