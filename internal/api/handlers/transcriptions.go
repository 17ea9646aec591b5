package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/video-stream/transcriber/internal/job"
)

type TranscriptionHandler struct {
	queue *job.JobQueue
}

func NewTranscriptionHandler(queue *job.JobQueue) *TranscriptionHandler {
	return &TranscriptionHandler{queue: queue}
}

// submitRequest carries the settings inline next to the file path. Fields
// left out of the body keep the configured defaults.
type submitRequest struct {
	FilePath string `json:"file_path"`
	job.Settings
}

type submitResponse struct {
	JobID  string        `json:"job_id"`
	Status job.JobStatus `json:"status"`
}

type batchRequest struct {
	FilePaths     []string `json:"file_paths"`
	MaxConcurrent int      `json:"max_concurrent"`
	job.Settings
}

type batchResponse struct {
	BatchID       string   `json:"batch_id"`
	JobIDs        []string `json:"job_ids"`
	MaxConcurrent int      `json:"max_concurrent"`
}

// Submit creates one transcription job
func (h *TranscriptionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	req := submitRequest{Settings: h.queue.Defaults()}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	j, err := h.queue.Submit(r.Context(), req.FilePath, req.Settings)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Location", "/api/jobs/"+j.ID)
	jsonResponse(w, submitResponse{JobID: j.ID, Status: j.Status}, http.StatusAccepted)
}

// SubmitBatch creates one job per file under a shared concurrency bound
func (h *TranscriptionHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	req := batchRequest{Settings: h.queue.Defaults()}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	b, err := h.queue.SubmitBatch(r.Context(), req.FilePaths, req.Settings, req.MaxConcurrent)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Location", "/api/batches/"+b.ID)
	jsonResponse(w, batchResponse{BatchID: b.ID, JobIDs: b.JobIDs, MaxConcurrent: b.MaxConcurrent}, http.StatusAccepted)
}

// GetBatch returns the member jobs and status counts of a batch
func (h *TranscriptionHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	summary, err := h.queue.Batch(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, summary, http.StatusOK)
}
