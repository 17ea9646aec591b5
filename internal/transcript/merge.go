package transcript

import (
	"sort"
	"strings"
)

// overlap returns the length of the intersection of [aStart,aEnd) and [bStart,bEnd).
func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	start := maxFloat(aStart, bStart)
	end := minFloat(aEnd, bEnd)
	if end <= start {
		return 0
	}
	return end - start
}

// AssignSpeakers attributes every segment to the window it overlaps the most.
// Equal overlaps go to the window that starts first. A segment that overlaps
// no window keeps an empty speaker. The inputs are not modified; the returned
// segments are ordered by start time.
func AssignSpeakers(segments []Segment, windows []SpeakerWindow) []Segment {
	out := make([]Segment, len(segments))
	copy(out, segments)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	if len(windows) == 0 {
		for i := range out {
			out[i].Speaker = ""
		}
		return out
	}

	sorted := make([]SpeakerWindow, len(windows))
	copy(sorted, windows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	// lo only moves past windows that end before the current segment starts;
	// since segments are sorted, those windows cannot overlap any later segment.
	lo := 0
	for i := range out {
		seg := &out[i]
		for lo < len(sorted) && sorted[lo].End <= seg.Start {
			lo++
		}

		best := -1
		bestOverlap := 0.0
		for w := lo; w < len(sorted) && sorted[w].Start < seg.End; w++ {
			ov := overlap(seg.Start, seg.End, sorted[w].Start, sorted[w].End)
			if ov > bestOverlap {
				best = w
				bestOverlap = ov
			}
		}

		if best >= 0 {
			seg.Speaker = sorted[best].Speaker
		} else {
			seg.Speaker = ""
		}
	}
	return out
}

// SummarizeSpeakers derives per-speaker totals from merged segments.
// Unassigned segments are excluded. The result is sorted by speaker id.
func SummarizeSpeakers(segments []Segment) []Speaker {
	type acc struct {
		seconds    float64
		count      int
		confidence float64
	}
	totals := make(map[string]*acc)
	for _, s := range segments {
		if s.Speaker == "" {
			continue
		}
		a, ok := totals[s.Speaker]
		if !ok {
			a = &acc{}
			totals[s.Speaker] = a
		}
		a.seconds += s.Duration()
		a.count++
		a.confidence += s.Confidence
	}

	speakers := make([]Speaker, 0, len(totals))
	for id, a := range totals {
		speakers = append(speakers, Speaker{
			ID:                 id,
			TotalSpeechSeconds: a.seconds,
			SegmentCount:       a.count,
			Confidence:         a.confidence / float64(a.count),
		})
	}
	sort.Slice(speakers, func(i, j int) bool { return speakers[i].ID < speakers[j].ID })
	return speakers
}

// Merge builds the final result of a job from the recognised segments and the
// diarization windows. windows may be empty when diarization is disabled or
// produced nothing.
func Merge(jobID string, segments []Segment, windows []SpeakerWindow, language string, processingSeconds float64) *Result {
	merged := AssignSpeakers(segments, windows)
	return &Result{
		JobID:                 jobID,
		Text:                  JoinText(merged),
		Segments:              merged,
		Speakers:              SummarizeSpeakers(merged),
		LanguageCode:          language,
		ProcessingTimeSeconds: processingSeconds,
	}
}

// JoinText concatenates segment texts separated by single spaces.
func JoinText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Shift moves chunk-relative segments to absolute time by adding offset, and
// clamps them (and their words) to [offset, offset+length]. A length <= 0
// disables the upper clamp. Segments that collapse to zero length are dropped.
func Shift(segments []Segment, offset, length float64) []Segment {
	lower := offset
	upper := offset + length
	clamp := func(v float64) float64 {
		v += offset
		if v < lower {
			v = lower
		}
		if length > 0 && v > upper {
			v = upper
		}
		return v
	}

	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		s.Start = clamp(s.Start)
		s.End = clamp(s.End)
		if s.End <= s.Start {
			continue
		}
		if len(s.Words) > 0 {
			words := make([]Word, 0, len(s.Words))
			for _, w := range s.Words {
				w.Start = clamp(w.Start)
				w.End = clamp(w.End)
				words = append(words, w)
			}
			s.Words = words
		}
		out = append(out, s)
	}
	return out
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
