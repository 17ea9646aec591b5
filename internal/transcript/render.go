package transcript

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// Format is a textual output format for a result.
type Format string

const (
	FormatJSON     Format = "json"
	FormatText     Format = "text"
	FormatSRT      Format = "srt"
	FormatVTT      Format = "vtt"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates a format name; the empty string means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatText, FormatSRT, FormatVTT, FormatMarkdown:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// ContentType returns the HTTP content type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatVTT:
		return "text/vtt; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatText, FormatSRT:
		return "text/plain; charset=utf-8"
	default:
		return "application/json"
	}
}

// Render writes r in a textual format. FormatJSON is handled by the caller.
func Render(w io.Writer, r *Result, f Format, opts ViewOptions) error {
	switch f {
	case FormatText:
		for _, s := range r.Segments {
			writeSegmentText(w, s, opts)
		}
	case FormatSRT:
		for i, s := range r.Segments {
			fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n", i+1, formatTimestampSrt(s.Start), formatTimestampSrt(s.End), cueText(s, opts))
		}
	case FormatVTT:
		io.WriteString(w, "WEBVTT\n\n")
		for _, s := range r.Segments {
			fmt.Fprintf(w, "%s --> %s\n%s\n\n", formatTimestamp(s.Start), formatTimestamp(s.End), cueText(s, opts))
		}
	case FormatMarkdown:
		renderMarkdown(w, r, opts)
	default:
		return fmt.Errorf("format %s is not a text format", f)
	}
	return nil
}

// writeSegmentText writes "[HH:MM:SS.mmm --> HH:MM:SS.mmm] [Speaker] Text".
func writeSegmentText(w io.Writer, s Segment, opts ViewOptions) {
	var b strings.Builder
	if opts.Timestamps {
		fmt.Fprintf(&b, "[%s --> %s] ", formatTimestamp(s.Start), formatTimestamp(s.End))
	}
	if opts.Speakers && s.Speaker != "" {
		fmt.Fprintf(&b, "[%s] ", s.Speaker)
	}
	b.WriteString(strings.TrimSpace(s.Text))
	if opts.Confidence {
		fmt.Fprintf(&b, " (%.2f)", s.Confidence)
	}
	b.WriteString("\n")
	io.WriteString(w, b.String())
}

func cueText(s Segment, opts ViewOptions) string {
	text := strings.TrimSpace(s.Text)
	if opts.Speakers && s.Speaker != "" {
		return s.Speaker + ": " + text
	}
	return text
}

func renderMarkdown(w io.Writer, r *Result, opts ViewOptions) {
	io.WriteString(w, "# Transcript\n\n")
	if r.LanguageCode != "" {
		fmt.Fprintf(w, "- Language: `%s`\n", r.LanguageCode)
	}
	fmt.Fprintf(w, "- Processing time: %s\n", time.Duration(r.ProcessingTimeSeconds*float64(time.Second)).Truncate(time.Second))
	if opts.Speakers && len(r.Speakers) > 0 {
		ids := make([]string, 0, len(r.Speakers))
		for _, sp := range r.Speakers {
			ids = append(ids, sp.ID)
		}
		fmt.Fprintf(w, "- Speakers: %s\n", strings.Join(ids, ", "))
	}
	io.WriteString(w, "\n---\n\n")

	for _, s := range r.Segments {
		ts := ""
		if opts.Timestamps {
			ts = fmt.Sprintf("[%s-%s] ", secToTS(s.Start), secToTS(s.End))
		}
		spk := ""
		if opts.Speakers && s.Speaker != "" {
			spk = "**" + s.Speaker + "**: "
		}
		fmt.Fprintf(w, "%s%s%s\n\n", ts, spk, strings.TrimSpace(s.Text))
	}
}

func toDuration(sec float64) time.Duration {
	return time.Duration(math.Round(sec*1000)) * time.Millisecond
}

// formatTimestamp formats as HH:MM:SS.mmm
func formatTimestamp(sec float64) string {
	d := toDuration(sec)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// formatTimestampSrt formats as HH:MM:SS,mmm
func formatTimestampSrt(sec float64) string {
	return strings.Replace(formatTimestamp(sec), ".", ",", 1)
}

func secToTS(sec float64) string {
	d := toDuration(sec)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
