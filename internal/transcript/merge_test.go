package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignSpeakers_LargestOverlapWins(t *testing.T) {
	segs := []Segment{{Start: 0.0, End: 3.5, Text: "hello there", Confidence: 0.9}}
	windows := []SpeakerWindow{
		{Speaker: "B", Start: 2.0, End: 3.5},
		{Speaker: "A", Start: 0.0, End: 2.0},
	}

	out := AssignSpeakers(segs, windows)

	require.Len(t, out, 1)
	assert.Equal(t, "A", out[0].Speaker)
}

func TestAssignSpeakers_GapLeavesSpeakerUnset(t *testing.T) {
	segs := []Segment{{Start: 5.0, End: 6.0, Text: "uh"}}
	windows := []SpeakerWindow{
		{Speaker: "A", Start: 0.0, End: 4.0},
		{Speaker: "B", Start: 7.0, End: 9.0},
	}

	out := AssignSpeakers(segs, windows)

	assert.Equal(t, "", out[0].Speaker)
}

func TestAssignSpeakers_TieGoesToEarliestWindow(t *testing.T) {
	segs := []Segment{{Start: 1.0, End: 3.0}}
	windows := []SpeakerWindow{
		{Speaker: "late", Start: 2.0, End: 4.0},
		{Speaker: "early", Start: 0.0, End: 2.0},
	}

	for i := 0; i < 5; i++ {
		out := AssignSpeakers(segs, windows)
		assert.Equal(t, "early", out[0].Speaker)
	}
}

func TestAssignSpeakers_TouchingWindowDoesNotCount(t *testing.T) {
	segs := []Segment{{Start: 2.0, End: 3.0}}
	windows := []SpeakerWindow{{Speaker: "A", Start: 0.0, End: 2.0}}

	out := AssignSpeakers(segs, windows)

	assert.Equal(t, "", out[0].Speaker)
}

func TestAssignSpeakers_DoesNotMutateInput(t *testing.T) {
	segs := []Segment{{Start: 0, End: 1, Speaker: "stale"}}
	_ = AssignSpeakers(segs, []SpeakerWindow{{Speaker: "A", Start: 0, End: 1}})

	assert.Equal(t, "stale", segs[0].Speaker)
}

func TestAssignSpeakers_NoWindowsClearsSpeakers(t *testing.T) {
	segs := []Segment{{Start: 0, End: 1, Speaker: "stale"}, {Start: 1, End: 2}}

	out := AssignSpeakers(segs, nil)

	for _, s := range out {
		assert.Empty(t, s.Speaker)
	}
	assert.Empty(t, SummarizeSpeakers(out))
}

func TestAssignSpeakers_SlidingScanMatchesBruteForce(t *testing.T) {
	windows := []SpeakerWindow{
		{Speaker: "A", Start: 0, End: 4},
		{Speaker: "B", Start: 4, End: 6},
		{Speaker: "A", Start: 8, End: 12},
		{Speaker: "C", Start: 12, End: 20},
	}
	segs := []Segment{
		{Start: 0.5, End: 3},
		{Start: 3, End: 5.5},
		{Start: 6, End: 8},
		{Start: 7, End: 9},
		{Start: 11, End: 14},
		{Start: 19, End: 25},
	}

	out := AssignSpeakers(segs, windows)

	want := []string{"A", "B", "", "A", "C", "C"}
	for i, s := range out {
		assert.Equal(t, want[i], s.Speaker, "segment %d", i)
	}
}

func TestAssignSpeakers_SortsSegmentsByStart(t *testing.T) {
	segs := []Segment{{Start: 5, End: 6, Text: "second"}, {Start: 0, End: 1, Text: "first"}}

	out := AssignSpeakers(segs, []SpeakerWindow{{Speaker: "A", Start: 0, End: 10}})

	assert.Equal(t, "first", out[0].Text)
	assert.Equal(t, "second", out[1].Text)
}

func TestSummarizeSpeakers_CountsMatchSegments(t *testing.T) {
	segs := []Segment{
		{Start: 0, End: 2, Confidence: 0.8, Speaker: "A"},
		{Start: 2, End: 3, Confidence: 0.6, Speaker: "B"},
		{Start: 3, End: 6, Confidence: 1.0, Speaker: "A"},
		{Start: 6, End: 7, Confidence: 0.1},
	}

	speakers := SummarizeSpeakers(segs)

	require.Len(t, speakers, 2)
	assert.Equal(t, "A", speakers[0].ID)
	assert.InDelta(t, 5.0, speakers[0].TotalSpeechSeconds, 1e-9)
	assert.Equal(t, 2, speakers[0].SegmentCount)
	assert.InDelta(t, 0.9, speakers[0].Confidence, 1e-9)
	assert.Equal(t, "B", speakers[1].ID)
	assert.Equal(t, 1, speakers[1].SegmentCount)

	for _, sp := range speakers {
		n := 0
		for _, s := range segs {
			if s.Speaker == sp.ID {
				n++
			}
		}
		assert.Equal(t, n, sp.SegmentCount)
	}
}

func TestMerge_BuildsResult(t *testing.T) {
	segs := []Segment{
		{Start: 0, End: 1, Text: " hello ", Confidence: 1},
		{Start: 1, End: 2, Text: "world", Confidence: 1},
	}
	windows := []SpeakerWindow{{Speaker: "SPEAKER_00", Start: 0, End: 2}}

	r := Merge("job-1", segs, windows, "en", 12.5)

	assert.Equal(t, "job-1", r.JobID)
	assert.Equal(t, "hello world", r.Text)
	assert.Equal(t, "en", r.LanguageCode)
	require.Len(t, r.Speakers, 1)
	assert.Equal(t, 2, r.Speakers[0].SegmentCount)
}

func TestShift_OffsetsAndClamps(t *testing.T) {
	segs := []Segment{
		{Start: 0, End: 2, Words: []Word{{Text: "a", Start: 0, End: 1}}},
		{Start: 9, End: 12},
		{Start: 11, End: 12},
	}

	out := Shift(segs, 600, 10)

	require.Len(t, out, 2)
	assert.Equal(t, 600.0, out[0].Start)
	assert.Equal(t, 602.0, out[0].End)
	assert.Equal(t, 601.0, out[0].Words[0].End)
	assert.Equal(t, 609.0, out[1].Start)
	assert.Equal(t, 610.0, out[1].End)
	assert.Equal(t, 0.0, segs[0].Start)
}
