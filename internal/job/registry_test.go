package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/video-stream/transcriber/internal/transcript"
)

func TestCanTransition(t *testing.T) {
	all := []JobStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}
	allowed := map[[2]JobStatus]bool{
		{StatusPending, StatusProcessing}:    true,
		{StatusPending, StatusCancelled}:     true,
		{StatusProcessing, StatusCompleted}:  true,
		{StatusProcessing, StatusFailed}:     true,
		{StatusProcessing, StatusCancelled}:  true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]JobStatus{from, to}], canTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func newPendingRegistry(t *testing.T) (*Registry, time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := NewRegistry()
	r.add(nil, Job{ID: "j1", Status: StatusPending, StartedAt: now, Audio: AudioFile{Name: "a.wav"}})
	return r, now
}

func TestRegistry_ChunkDoneRefusedAfterCancelRequest(t *testing.T) {
	r, now := newPendingRegistry(t)

	_, err := r.startProcessing("j1", 3, now)
	require.NoError(t, err)
	_, err = r.chunkDone("j1", 1, now.Add(time.Second))
	require.NoError(t, err)

	ack, _, changed, err := r.cancel("j1", "user", now.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, ack.CancelRequested)

	j, err := r.chunkDone("j1", 2, now.Add(3*time.Second))
	assert.ErrorIs(t, err, errCancelled)
	assert.Equal(t, StatusCancelled, j.Status)
	assert.Equal(t, 1, j.CurrentChunk)

	_, err = r.complete("j1", &transcript.Result{}, now.Add(4*time.Second))
	assert.Error(t, err)
	got, _ := r.Get("j1")
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestRegistry_CompleteSetsFullProgress(t *testing.T) {
	r, now := newPendingRegistry(t)

	_, err := r.startProcessing("j1", 2, now)
	require.NoError(t, err)
	j, err := r.chunkDone("j1", 2, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, maxIncompleteProgress, j.Progress)

	j, err = r.complete("j1", &transcript.Result{JobID: "j1"}, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, 1.0, j.Progress)
	require.NotNil(t, j.CompletedAt)

	res, ok := r.Result("j1")
	require.True(t, ok)
	assert.Equal(t, "j1", res.JobID)
}

func TestRegistry_TerminalStateIsFinal(t *testing.T) {
	r, now := newPendingRegistry(t)

	_, _, _, err := r.cancel("j1", "", now)
	require.NoError(t, err)

	_, err = r.startProcessing("j1", 1, now)
	assert.ErrorIs(t, err, errNotPending)

	ack, j, changed, err := r.cancel("j1", "again", now)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, StatusCancelled, ack.Status)
	assert.Empty(t, j.CancelReason)
}

func TestRegistry_SnapshotsAreIsolated(t *testing.T) {
	r, now := newPendingRegistry(t)

	before, err := r.Get("j1")
	require.NoError(t, err)
	_, err = r.startProcessing("j1", 1, now)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, before.Status)
	after, _ := r.Get("j1")
	assert.Equal(t, StatusProcessing, after.Status)
}

func TestRegistry_WatchClosesAtTerminal(t *testing.T) {
	r, now := newPendingRegistry(t)

	ch, stop, err := r.Watch("j1")
	require.NoError(t, err)
	defer stop()

	first := <-ch
	assert.Equal(t, StatusPending, first.Status)

	_, _, _, err = r.cancel("j1", "", now)
	require.NoError(t, err)

	last, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, last.Status)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestRegistry_ForgetKeepsLiveJobs(t *testing.T) {
	r, now := newPendingRegistry(t)
	r.add(&Batch{ID: "b1", JobIDs: []string{"j2"}}, Job{ID: "j2", BatchID: "b1", Status: StatusPending, StartedAt: now})

	assert.Equal(t, 0, r.Forget("j1", "j2"))

	_, _, _, err := r.cancel("j2", "", now)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Forget("j1", "j2"))

	_, err = r.Batch("b1")
	assert.True(t, IsNotFound(err))
	_, err = r.Get("j1")
	assert.NoError(t, err)
}

func TestProgressReport_ETA(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	j := Job{ID: "j", Status: StatusProcessing, ProcessingAt: &start, CurrentChunk: 2, TotalChunks: 4}

	rep := j.Report(start.Add(time.Minute))
	require.NotNil(t, rep.ETASeconds)
	assert.Equal(t, 60.0, *rep.ETASeconds)

	j.CurrentChunk = 0
	assert.Nil(t, j.Report(start.Add(time.Minute)).ETASeconds)

	j.Status = StatusCompleted
	j.CurrentChunk = 4
	assert.Nil(t, j.Report(start.Add(time.Minute)).ETASeconds)
}
