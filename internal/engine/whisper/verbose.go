package whisper

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/video-stream/transcriber/internal/engine"
	"github.com/video-stream/transcriber/internal/transcript"
)

// verboseResponse is the verbose_json body shared by whisper.cpp and the
// OpenAI-compatible servers. whisper.cpp nests words in segments, OpenAI
// returns them at the top level when word granularity is requested.
type verboseResponse struct {
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Text     string           `json:"text"`
	Segments []verboseSegment `json:"segments"`
	Words    []verboseWord    `json:"words"`
}

type verboseSegment struct {
	Start        float64       `json:"start"`
	End          float64       `json:"end"`
	Text         string        `json:"text"`
	AvgLogprob   *float64      `json:"avg_logprob"`
	NoSpeechProb float64       `json:"no_speech_prob"`
	Words        []verboseWord `json:"words"`
}

type verboseWord struct {
	Word        string   `json:"word"`
	Start       float64  `json:"start"`
	End         float64  `json:"end"`
	Probability *float64 `json:"probability"`
}

// languageNames maps the full names some servers report back to codes.
var languageNames = map[string]string{
	"english":    "en",
	"german":     "de",
	"french":     "fr",
	"spanish":    "es",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"russian":    "ru",
}

func parseVerbose(body []byte) (*engine.Transcription, error) {
	var resp verboseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode verbose_json: %w", err)
	}

	out := &engine.Transcription{Language: normalizeLanguage(resp.Language)}
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		seg := transcript.Segment{
			Start:      s.Start,
			End:        s.End,
			Text:       text,
			Confidence: segmentConfidence(s),
		}
		for _, w := range s.Words {
			seg.Words = append(seg.Words, toWord(w, seg.Confidence))
		}
		out.Segments = append(out.Segments, seg)
	}

	if len(resp.Words) > 0 {
		attachWords(out.Segments, resp.Words)
	}
	return out, nil
}

// segmentConfidence is exp(avg_logprob), discounted by the no-speech
// probability. Servers that report neither get 1.
func segmentConfidence(s verboseSegment) float64 {
	conf := 1.0
	if s.AvgLogprob != nil {
		conf = math.Exp(*s.AvgLogprob)
	}
	conf *= 1 - s.NoSpeechProb
	return clamp01(conf)
}

func toWord(w verboseWord, fallback float64) transcript.Word {
	conf := fallback
	if w.Probability != nil {
		conf = clamp01(*w.Probability)
	}
	return transcript.Word{
		Text:       strings.TrimSpace(w.Word),
		Start:      w.Start,
		End:        w.End,
		Confidence: conf,
	}
}

// attachWords distributes top-level words to the segment containing their
// midpoint. Both lists are in time order.
func attachWords(segs []transcript.Segment, words []verboseWord) {
	i := 0
	for _, w := range words {
		mid := (w.Start + w.End) / 2
		for i < len(segs)-1 && mid >= segs[i].End {
			i++
		}
		if i < len(segs) && mid >= segs[i].Start && mid <= segs[i].End {
			segs[i].Words = append(segs[i].Words, toWord(w, segs[i].Confidence))
		}
	}
}

func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageNames[lang]; ok {
		return code
	}
	return lang
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
