package job

import (
	"strings"
	"time"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition can leave s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ParseStatus validates a status name.
func ParseStatus(s string) (JobStatus, error) {
	switch st := JobStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	default:
		return "", &ValidationError{Field: "status", Reason: "unknown status " + s}
	}
}

// canTransition enforces the job state machine edges.
func canTransition(from, to JobStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusCancelled
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// AudioFile describes a validated input file.
type AudioFile struct {
	Path            string  `json:"path"`
	Name            string  `json:"name"`
	SizeBytes       int64   `json:"size_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate"`
	Channels        int     `json:"channels"`
}

// Job is a transcription request and its lifecycle state. Values handed out
// by the registry are snapshots and are never mutated afterwards.
type Job struct {
	ID              string     `json:"id"`
	BatchID         string     `json:"batch_id,omitempty"`
	Audio           AudioFile  `json:"audio"`
	Status          JobStatus  `json:"status"`
	Progress        float64    `json:"progress"`
	CurrentChunk    int        `json:"current_chunk"`
	TotalChunks     int        `json:"total_chunks"`
	Settings        Settings   `json:"settings"`
	Error           string     `json:"error,omitempty"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	ProcessingAt    *time.Time `json:"processing_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// ProcessingSeconds is the time spent between entering processing and
// reaching a terminal state, or 0 when either is unknown.
func (j Job) ProcessingSeconds() float64 {
	if j.ProcessingAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.ProcessingAt).Seconds()
}

// ProgressReport is the caller-facing progress view of a job.
type ProgressReport struct {
	JobID           string    `json:"job_id"`
	BatchID         string    `json:"batch_id,omitempty"`
	FileName        string    `json:"file_name"`
	Status          JobStatus `json:"status"`
	Progress        float64   `json:"progress"`
	CurrentChunk    int       `json:"current_chunk"`
	TotalChunks     int       `json:"total_chunks"`
	ETASeconds      *float64  `json:"eta_seconds"`
	CancelRequested bool      `json:"cancel_requested,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// Report builds the progress view of j as of now.
func (j Job) Report(now time.Time) ProgressReport {
	r := ProgressReport{
		JobID:           j.ID,
		BatchID:         j.BatchID,
		FileName:        j.Audio.Name,
		Status:          j.Status,
		Progress:        j.Progress,
		CurrentChunk:    j.CurrentChunk,
		TotalChunks:     j.TotalChunks,
		CancelRequested: j.CancelRequested,
		Error:           j.Error,
	}
	if j.Status == StatusProcessing && j.ProcessingAt != nil {
		if eta := EstimateETA(now.Sub(*j.ProcessingAt), j.CurrentChunk, j.TotalChunks); eta != nil {
			secs := eta.Seconds()
			r.ETASeconds = &secs
		}
	}
	return r
}

// CancelAck acknowledges a cancellation request.
type CancelAck struct {
	JobID           string    `json:"job_id"`
	Status          JobStatus `json:"status"`
	CancelRequested bool      `json:"cancel_requested"`
	Message         string    `json:"message"`
}

// Batch is a set of jobs submitted together under a shared concurrency bound.
// It has no state of its own; Summary derives it from the member jobs.
type Batch struct {
	ID            string    `json:"batch_id"`
	JobIDs        []string  `json:"job_ids"`
	MaxConcurrent int       `json:"max_concurrent"`
	CreatedAt     time.Time `json:"created_at"`
}

// BatchSummary is a view over the member jobs of a batch.
type BatchSummary struct {
	Batch
	Jobs   []Job             `json:"jobs"`
	Counts map[JobStatus]int `json:"counts"`
	Done   bool              `json:"done"`
}

// ListFilter selects jobs for List and history queries.
type ListFilter struct {
	Status  JobStatus
	BatchID string
	From    *time.Time
	To      *time.Time
	Search  string
	Limit   int
}

// Matches reports whether j passes every set criterion except Limit.
func (f ListFilter) Matches(j Job) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.BatchID != "" && j.BatchID != f.BatchID {
		return false
	}
	if f.From != nil && j.StartedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && j.StartedAt.After(*f.To) {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(j.Audio.Name), strings.ToLower(f.Search)) {
		return false
	}
	return true
}
