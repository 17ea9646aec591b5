package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/video-stream/transcriber/internal/db"
	"github.com/video-stream/transcriber/internal/job"
	"github.com/video-stream/transcriber/internal/transcript"
)

var base = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.NewSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	s := New(d.DB())
	s.now = func() time.Time { return base.Add(24 * time.Hour) }
	return s
}

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func completedJob(id, name string, started time.Duration) job.Job {
	return job.Job{
		ID:           id,
		Audio:        job.AudioFile{Path: "/audio/" + name, Name: name, SizeBytes: 1024, DurationSeconds: 120, Format: "wav"},
		Status:       job.StatusCompleted,
		Progress:     1,
		CurrentChunk: 1,
		TotalChunks:  1,
		Settings:     job.DefaultSettings,
		StartedAt:    base.Add(started),
		ProcessingAt: at(started + time.Second),
		CompletedAt:  at(started + 31*time.Second),
	}
}

func TestRecord_UpdatesRunningRecordInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := job.Job{ID: "j1", Audio: job.AudioFile{Name: "a.wav", Path: "/a.wav"}, Status: job.StatusPending, Settings: job.DefaultSettings, StartedAt: base}
	require.NoError(t, s.Record(ctx, j, nil))

	j.Status = job.StatusProcessing
	j.ProcessingAt = at(time.Second)
	j.TotalChunks = 3
	require.NoError(t, s.Record(ctx, j, nil))

	versions, err := s.Versions(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, job.StatusProcessing, versions[0].Status)
	assert.Equal(t, 3, versions[0].TotalChunks)
	assert.Equal(t, job.DefaultSettings, versions[0].Settings)
	assert.True(t, base.Equal(versions[0].StartedAt))
}

func TestRecord_TerminalRecordIsNeverOverwritten(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := completedJob("j1", "a.wav", 0)
	require.NoError(t, s.Record(ctx, j, nil))
	require.NoError(t, s.Record(ctx, j, nil))

	versions, err := s.Versions(ctx, "j1")
	require.NoError(t, err)
	assert.Len(t, versions, 1, "identical terminal snapshot is not duplicated")

	rerun := j
	rerun.Status = job.StatusFailed
	rerun.Error = "decoder crashed"
	rerun.CompletedAt = at(time.Hour)
	require.NoError(t, s.Record(ctx, rerun, nil))

	versions, err = s.Versions(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, job.StatusCompleted, versions[0].Status)
	assert.Equal(t, job.StatusFailed, versions[1].Status)

	latest, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "decoder crashed", latest.Error)
}

func TestResults_AreInsertOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := completedJob("j1", "a.wav", 0)
	res := &transcript.Result{
		JobID:    "j1",
		Text:     "hello there",
		Segments: []transcript.Segment{{Start: 0, End: 2, Text: "hello there", Confidence: 0.9, Speaker: "SPEAKER_00"}},
		Speakers: []transcript.Speaker{{ID: "SPEAKER_00", TotalSpeechSeconds: 2, SegmentCount: 1, Confidence: 0.9}},
	}
	require.NoError(t, s.Record(ctx, j, res))

	got, err := s.Result(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, res, got)

	err = s.SaveResult(ctx, &transcript.Result{JobID: "j1", Text: "replaced"})
	assert.ErrorIs(t, err, ErrResultExists)

	got, err = s.Result(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "hello there", got.Text)
}

func TestGet_UnknownIsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	assert.True(t, job.IsNotFound(err))
	_, err = s.Result(context.Background(), "nope")
	assert.True(t, job.IsNotFound(err))
}

func TestQuery_LimitAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, s.Record(ctx, completedJob(fmt.Sprintf("j%02d", i), fmt.Sprintf("file%02d.wav", i), time.Duration(i)*time.Minute), nil))
	}

	page, err := s.Query(ctx, job.ListFilter{Limit: 10}, 0)
	require.NoError(t, err)
	require.Len(t, page.Jobs, 10)
	assert.Equal(t, 25, page.Total)
	assert.Nil(t, page.Stats)
	for i, j := range page.Jobs {
		assert.Equal(t, fmt.Sprintf("j%02d", 24-i), j.ID)
	}

	page, err = s.Query(ctx, job.ListFilter{}, 0)
	require.NoError(t, err)
	assert.Len(t, page.Jobs, DefaultLimit)

	_, err = s.Query(ctx, job.ListFilter{Limit: 101}, 0)
	assert.True(t, job.IsValidation(err))
}

func TestQuery_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, completedJob("a", "Meeting_Monday.wav", 0), nil))
	failed := completedJob("b", "standup.mp3", time.Hour)
	failed.Status = job.StatusFailed
	failed.Error = "boom"
	require.NoError(t, s.Record(ctx, failed, nil))
	batched := completedJob("c", "meeting_tuesday.wav", 2*time.Hour)
	batched.BatchID = "batch-1"
	require.NoError(t, s.Record(ctx, batched, nil))
	require.NoError(t, s.Record(ctx, completedJob("d", "50%_done.wav", 3*time.Hour), nil))

	tests := []struct {
		name   string
		filter job.ListFilter
		want   []string
	}{
		{"status", job.ListFilter{Status: job.StatusFailed}, []string{"b"}},
		{"search is case insensitive", job.ListFilter{Search: "MEETING"}, []string{"c", "a"}},
		{"search escapes wildcards", job.ListFilter{Search: "50%"}, []string{"d"}},
		{"batch", job.ListFilter{BatchID: "batch-1"}, []string{"c"}},
		{"date range", job.ListFilter{From: at(30 * time.Minute), To: at(150 * time.Minute)}, []string{"c", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.Query(ctx, tt.filter, 0)
			require.NoError(t, err)
			var ids []string
			for _, j := range page.Jobs {
				ids = append(ids, j.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestQuery_Stats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, completedJob("a", "a.wav", 0), nil))
	second := completedJob("b", "b.wav", time.Hour)
	second.CompletedAt = at(time.Hour + 11*time.Second)
	require.NoError(t, s.Record(ctx, second, nil))
	cancelled := completedJob("c", "c.wav", 2*time.Hour)
	cancelled.Status = job.StatusCancelled
	require.NoError(t, s.Record(ctx, cancelled, nil))

	old := completedJob("old", "old.wav", -30*24*time.Hour)
	require.NoError(t, s.Record(ctx, old, nil))

	page, err := s.Query(ctx, job.ListFilter{}, 7)
	require.NoError(t, err)
	require.NotNil(t, page.Stats)
	assert.Equal(t, 3, page.Stats.Total)
	assert.Equal(t, 2, page.Stats.ByStatus[job.StatusCompleted])
	assert.Equal(t, 1, page.Stats.ByStatus[job.StatusCancelled])
	assert.InDelta(t, 20.0, page.Stats.AvgProcessingSeconds, 1e-9)
	assert.InDelta(t, 240.0, page.Stats.TotalAudioSeconds, 1e-9)
}

func TestMarkInterrupted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	running := job.Job{ID: "run", Audio: job.AudioFile{Name: "r.wav"}, Status: job.StatusProcessing, Settings: job.DefaultSettings, StartedAt: base}
	require.NoError(t, s.Record(ctx, running, nil))
	require.NoError(t, s.Record(ctx, completedJob("done", "d.wav", 0), nil))

	n, err := s.MarkInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	j, err := s.Get(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, j.Status)
	assert.Equal(t, "interrupted by service restart", j.Error)
	assert.NotNil(t, j.CompletedAt)

	n, err = s.MarkInterrupted(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	oldJob := completedJob("old", "old.wav", -48*time.Hour)
	require.NoError(t, s.Record(ctx, oldJob, &transcript.Result{JobID: "old"}))
	require.NoError(t, s.Record(ctx, completedJob("new", "new.wav", 0), nil))
	pending := job.Job{ID: "pending", Audio: job.AudioFile{Name: "p.wav"}, Status: job.StatusPending, Settings: job.DefaultSettings, StartedAt: base.Add(-72 * time.Hour)}
	require.NoError(t, s.Record(ctx, pending, nil))

	ids, err := s.Prune(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)

	_, err = s.Get(ctx, "old")
	assert.True(t, job.IsNotFound(err))
	_, err = s.Result(ctx, "old")
	assert.True(t, job.IsNotFound(err))
	_, err = s.Get(ctx, "pending")
	assert.NoError(t, err)
}
