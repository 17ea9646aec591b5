package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/video-stream/transcriber/internal/api/middleware"
	"github.com/video-stream/transcriber/internal/db/models"
	"github.com/video-stream/transcriber/internal/history"
	"github.com/video-stream/transcriber/internal/job"
	"github.com/video-stream/transcriber/internal/transcript"
)

// Tool is one operation exposed to tool-calling clients. The arguments are
// a JSON object described by InputSchema.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`

	mutating bool
	call     func(ctx context.Context, args []byte) (any, error)
}

type ToolHandler struct {
	queue *job.JobQueue
	store *history.Store
	tools []*Tool
}

func NewToolHandler(queue *job.JobQueue, store *history.Store) *ToolHandler {
	h := &ToolHandler{queue: queue, store: store}
	h.tools = []*Tool{
		{
			Name:        "transcribe_audio",
			Description: "Queue a local audio file for transcription and return its job id.",
			InputSchema: object(map[string]any{
				"file_path":            prop("string", "Absolute path of the audio file"),
				"model_size":           enum(job.ModelSizes...),
				"language":             prop("string", "ISO 639 code, or auto to detect"),
				"diarization":          prop("boolean", "Label segments by speaker"),
				"device":               enum(job.Devices...),
				"compute_type":         enum(job.ComputeTypes...),
				"chunk_length_seconds": prop("number", "Chunk length for long audio"),
			}, "file_path"),
			mutating: true,
			call:     h.transcribe,
		},
		{
			Name:        "batch_transcribe",
			Description: "Queue up to 10 audio files with shared settings and a concurrency limit.",
			InputSchema: object(map[string]any{
				"file_paths":     map[string]any{"type": "array", "items": prop("string", ""), "minItems": 1, "maxItems": job.MaxBatchFiles},
				"max_concurrent": map[string]any{"type": "integer", "minimum": 1, "maximum": job.MaxBatchConcurrency},
				"model_size":     enum(job.ModelSizes...),
				"language":       prop("string", "ISO 639 code, or auto to detect"),
				"diarization":    prop("boolean", "Label segments by speaker"),
				"device":         enum(job.Devices...),
			}, "file_paths"),
			mutating: true,
			call:     h.batch,
		},
		{
			Name:        "get_progress",
			Description: "Report status, progress and ETA of a job, or of all active jobs.",
			InputSchema: object(map[string]any{
				"job_id":     prop("string", "Job to report on"),
				"all_active": prop("boolean", "Report every pending or processing job instead"),
			}),
			call: h.progress,
		},
		{
			Name:        "get_result",
			Description: "Fetch the transcript of a completed job.",
			InputSchema: object(map[string]any{
				"job_id":             prop("string", ""),
				"include_timestamps": prop("boolean", "Default true"),
				"include_confidence": prop("boolean", "Default true"),
				"include_speakers":   prop("boolean", "Default true"),
				"format":             enum("json", "text", "srt", "vtt", "markdown"),
			}, "job_id"),
			call: h.result,
		},
		{
			Name:        "list_history",
			Description: "List past jobs, newest first, with optional statistics.",
			InputSchema: object(map[string]any{
				"limit":         map[string]any{"type": "integer", "minimum": 1, "maximum": history.MaxLimit},
				"status":        enum("pending", "processing", "completed", "failed", "cancelled"),
				"from":          prop("string", "RFC 3339 time or YYYY-MM-DD"),
				"to":            prop("string", "RFC 3339 time or YYYY-MM-DD"),
				"search":        prop("string", "Case-insensitive file name match"),
				"include_stats": prop("boolean", ""),
				"stats_days":    prop("integer", "Statistics window, default 30"),
			}),
			call: h.listHistory,
		},
		{
			Name:        "cancel_transcription",
			Description: "Cancel a pending or processing job.",
			InputSchema: object(map[string]any{
				"job_id": prop("string", ""),
				"reason": prop("string", ""),
			}, "job_id"),
			mutating: true,
			call:     h.cancel,
		},
	}
	return h
}

func object(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props, "additionalProperties": false}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, description string) map[string]any {
	p := map[string]any{"type": typ}
	if description != "" {
		p["description"] = description
	}
	return p
}

func enum(values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values}
}

// List returns the tool catalogue
func (h *ToolHandler) List(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]any{"tools": h.tools}, http.StatusOK)
}

// Call runs one tool with the request body as its arguments
func (h *ToolHandler) Call(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var tool *Tool
	for _, t := range h.tools {
		if t.Name == name {
			tool = t
			break
		}
	}
	if tool == nil {
		writeError(w, &job.NotFoundError{Kind: "tool", ID: name})
		return
	}
	if tool.mutating && !middleware.HasRole(middleware.GetClaims(r), models.RoleAdmin, models.RoleEditor) {
		jsonError(w, "forbidden", http.StatusForbidden)
		return
	}

	args, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, &job.ValidationError{Reason: "read arguments: " + err.Error()})
		return
	}
	if len(bytes.TrimSpace(args)) == 0 {
		args = []byte("{}")
	}

	out, err := tool.call(r.Context(), args)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, map[string]any{"tool": name, "result": out}, http.StatusOK)
}

func decodeArgs(args []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &job.ValidationError{Reason: "invalid arguments: " + err.Error()}
	}
	return nil
}

func (h *ToolHandler) transcribe(ctx context.Context, args []byte) (any, error) {
	req := submitRequest{Settings: h.queue.Defaults()}
	if err := decodeArgs(args, &req); err != nil {
		return nil, err
	}
	j, err := h.queue.Submit(ctx, req.FilePath, req.Settings)
	if err != nil {
		return nil, err
	}
	return submitResponse{JobID: j.ID, Status: j.Status}, nil
}

func (h *ToolHandler) batch(ctx context.Context, args []byte) (any, error) {
	req := batchRequest{Settings: h.queue.Defaults()}
	if err := decodeArgs(args, &req); err != nil {
		return nil, err
	}
	b, err := h.queue.SubmitBatch(ctx, req.FilePaths, req.Settings, req.MaxConcurrent)
	if err != nil {
		return nil, err
	}
	return batchResponse{BatchID: b.ID, JobIDs: b.JobIDs, MaxConcurrent: b.MaxConcurrent}, nil
}

func (h *ToolHandler) progress(ctx context.Context, args []byte) (any, error) {
	var req struct {
		JobID     string `json:"job_id"`
		AllActive bool   `json:"all_active"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return nil, err
	}
	if req.AllActive || req.JobID == "" {
		reports := h.queue.Active()
		return map[string]any{"jobs": reports, "count": len(reports)}, nil
	}
	return h.queue.Progress(ctx, req.JobID)
}

func (h *ToolHandler) result(ctx context.Context, args []byte) (any, error) {
	var req struct {
		JobID      string `json:"job_id"`
		Timestamps *bool  `json:"include_timestamps"`
		Confidence *bool  `json:"include_confidence"`
		Speakers   *bool  `json:"include_speakers"`
		Format     string `json:"format"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return nil, err
	}
	format, err := transcript.ParseFormat(req.Format)
	if err != nil {
		return nil, &job.ValidationError{Field: "format", Reason: err.Error()}
	}
	opts := transcript.DefaultViewOptions
	if req.Timestamps != nil {
		opts.Timestamps = *req.Timestamps
	}
	if req.Confidence != nil {
		opts.Confidence = *req.Confidence
	}
	if req.Speakers != nil {
		opts.Speakers = *req.Speakers
	}

	res, err := h.queue.Result(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	if format == transcript.FormatJSON {
		return transcript.NewView(res, opts), nil
	}
	var sb strings.Builder
	if err := transcript.Render(&sb, res, format, opts); err != nil {
		return nil, err
	}
	return map[string]string{"job_id": res.JobID, "format": string(format), "content": sb.String()}, nil
}

func (h *ToolHandler) listHistory(ctx context.Context, args []byte) (any, error) {
	var req struct {
		listQuery
		IncludeStats bool `json:"include_stats"`
		StatsDays    int  `json:"stats_days"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return nil, err
	}
	f, err := req.filter()
	if err != nil {
		return nil, err
	}
	statsDays := 0
	if req.IncludeStats {
		statsDays = defaultStatsDays
		if req.StatsDays > 0 {
			statsDays = req.StatsDays
		}
	}
	return h.store.Query(ctx, f, statsDays)
}

func (h *ToolHandler) cancel(ctx context.Context, args []byte) (any, error) {
	var req struct {
		JobID  string `json:"job_id"`
		Reason string `json:"reason"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return nil, err
	}
	return h.queue.Cancel(ctx, req.JobID, req.Reason)
}
