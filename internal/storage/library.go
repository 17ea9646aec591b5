// Package storage exposes a directory of audio files to clients picking
// files to transcribe.
package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for paths escaping the library root.
var ErrOutsideRoot = errors.New("path outside library root")

type FileEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"` // relative to the library root
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

// Library lists directories and audio files below Root. Files whose
// extension is not in the format list are hidden.
type Library struct {
	root    string
	formats map[string]bool
}

func NewLibrary(root string, formats []string) *Library {
	l := &Library{root: root, formats: make(map[string]bool, len(formats))}
	for _, f := range formats {
		l.formats["."+strings.ToLower(strings.TrimPrefix(f, "."))] = true
	}
	return l
}

func (l *Library) IsAudioFile(name string) bool {
	return l.formats[strings.ToLower(filepath.Ext(name))]
}

// Resolve returns the absolute path of rel, refusing traversal out of the root.
func (l *Library) Resolve(rel string) (string, error) {
	absBase, err := filepath.Abs(l.root)
	if err != nil {
		return "", err
	}
	absFull, err := filepath.Abs(filepath.Join(absBase, rel))
	if err != nil {
		return "", err
	}
	r, err := filepath.Rel(absBase, absFull)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return absFull, nil
}

// List returns the visible entries of one directory, directories first.
func (l *Library) List(rel string) ([]*FileEntry, error) {
	full, err := l.Resolve(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}

	var dirs, files []*FileEntry
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		fe := &FileEntry{
			Name:  entry.Name(),
			Path:  filepath.Join(rel, entry.Name()),
			IsDir: entry.IsDir(),
		}
		if entry.IsDir() {
			dirs = append(dirs, fe)
			continue
		}
		if !l.IsAudioFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		fe.Size = info.Size()
		files = append(files, fe)
	}
	return append(dirs, files...), nil
}

// Search walks the library for audio files whose name contains query,
// case-insensitively, stopping after maxResults hits.
func (l *Library) Search(query string, maxResults int) ([]*FileEntry, error) {
	base, err := l.Resolve(".")
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(query)
	results := []*FileEntry{}

	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if len(results) >= maxResults {
			return filepath.SkipAll
		}
		if strings.HasPrefix(d.Name(), ".") && path != base {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !l.IsAudioFile(d.Name()) || !strings.Contains(strings.ToLower(d.Name()), query) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(base, path)
		results = append(results, &FileEntry{Name: d.Name(), Path: rel, Size: info.Size()})
		return nil
	})
	return results, err
}
