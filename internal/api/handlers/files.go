package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/video-stream/transcriber/internal/engine"
	"github.com/video-stream/transcriber/internal/storage"
)

const maxSearchResults = 50

// extractPath extracts and URL-decodes the wildcard path from chi router
func extractPath(r *http.Request) string {
	path := chi.URLParam(r, "*")
	decoded, err := url.PathUnescape(path)
	if err != nil {
		return path
	}
	decoded = strings.TrimPrefix(decoded, "/")
	decoded = strings.TrimSuffix(decoded, "/")
	return decoded
}

// FilesHandler browses the audio library so clients can pick files to submit.
type FilesHandler struct {
	library *storage.Library
	prober  engine.Prober
}

func NewFilesHandler(library *storage.Library, prober engine.Prober) *FilesHandler {
	return &FilesHandler{library: library, prober: prober}
}

func libraryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrOutsideRoot):
		jsonError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, os.ErrNotExist):
		jsonError(w, "not found", http.StatusNotFound)
	default:
		jsonError(w, "failed to read library", http.StatusInternalServerError)
	}
}

func (h *FilesHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	path := extractPath(r)
	if path == "" {
		path = "."
	}

	entries, err := h.library.List(path)
	if err != nil {
		libraryError(w, err)
		return
	}
	if entries == nil {
		entries = []*storage.FileEntry{}
	}

	jsonResponse(w, map[string]interface{}{
		"path":    path,
		"entries": entries,
	}, http.StatusOK)
}

// GetInfo probes one library file and returns its absolute path, ready to
// be passed as file_path in a submission.
func (h *FilesHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	path := extractPath(r)
	if !h.library.IsAudioFile(path) {
		jsonError(w, "not an audio file", http.StatusBadRequest)
		return
	}
	full, err := h.library.Resolve(path)
	if err != nil {
		libraryError(w, err)
		return
	}
	if _, err := os.Stat(full); err != nil {
		libraryError(w, err)
		return
	}

	info, err := h.prober.Probe(r.Context(), full)
	if err != nil {
		jsonError(w, "failed to probe file", http.StatusUnprocessableEntity)
		return
	}

	jsonResponse(w, map[string]interface{}{
		"path":             path,
		"file_path":        full,
		"duration_seconds": info.DurationSeconds,
		"sample_rate":      info.SampleRate,
		"channels":         info.Channels,
		"format":           info.Format,
	}, http.StatusOK)
}

func (h *FilesHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		jsonError(w, "query parameter 'q' is required", http.StatusBadRequest)
		return
	}

	results, err := h.library.Search(q, maxSearchResults)
	if err != nil {
		libraryError(w, err)
		return
	}

	jsonResponse(w, map[string]interface{}{
		"query":   q,
		"results": results,
	}, http.StatusOK)
}
