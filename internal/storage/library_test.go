package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLibrary(t *testing.T) (*Library, string) {
	t.Helper()
	root := t.TempDir()
	for _, p := range []string{"b.wav", "notes.txt", ".hidden.wav", "podcasts/Episode1.MP3", "podcasts/episode2.flac", ".cache/episode3.wav"} {
		full := filepath.Join(root, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("data"), 0o644))
	}
	return NewLibrary(root, []string{"wav", "mp3", "flac"}), root
}

func TestLibrary_List(t *testing.T) {
	l, _ := newLibrary(t)

	entries, err := l.List(".")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "podcasts", entries[0].Name)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "b.wav", entries[1].Name)
	assert.Equal(t, int64(4), entries[1].Size)

	entries, err = l.List("podcasts")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, filepath.Join("podcasts", "Episode1.MP3"), entries[0].Path)
}

func TestLibrary_RejectsTraversal(t *testing.T) {
	l, root := newLibrary(t)

	_, err := l.List("../")
	assert.ErrorIs(t, err, ErrOutsideRoot)
	_, err = l.Resolve("podcasts/../../etc")
	assert.ErrorIs(t, err, ErrOutsideRoot)

	p, err := l.Resolve("podcasts/episode2.flac")
	require.NoError(t, err)
	abs, _ := filepath.Abs(filepath.Join(root, "podcasts", "episode2.flac"))
	assert.Equal(t, abs, p)
}

func TestLibrary_Search(t *testing.T) {
	l, _ := newLibrary(t)

	results, err := l.Search("EPISODE", 10)
	require.NoError(t, err)
	var names []string
	for _, r := range results {
		names = append(names, r.Name)
	}
	assert.ElementsMatch(t, []string{"Episode1.MP3", "episode2.flac"}, names)

	results, err = l.Search("episode", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
