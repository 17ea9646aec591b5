package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/video-stream/transcriber/internal/job"
	"github.com/video-stream/transcriber/internal/transcript"
)

const sseHeartbeat = 15 * time.Second

type JobHandler struct {
	queue *job.JobQueue
	now   func() time.Time
}

func NewJobHandler(queue *job.JobQueue) *JobHandler {
	return &JobHandler{queue: queue, now: time.Now}
}

// ListJobs returns the jobs known to this process, newest first
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	lq, err := listQueryFromURL(r)
	if err != nil {
		writeError(w, err)
		return
	}
	f, err := lq.filter()
	if err != nil {
		writeError(w, err)
		return
	}

	jobs := h.queue.List(f)
	if jobs == nil {
		jobs = []job.Job{}
	}
	jsonResponse(w, map[string]any{"jobs": jobs, "total": len(jobs)}, http.StatusOK)
}

// GetJob returns a single job by ID
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, j, http.StatusOK)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelJob cancels a pending or running job. The reason comes from the
// JSON body or the reason query parameter.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	req := cancelRequest{Reason: r.URL.Query().Get("reason")}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	ack, err := h.queue.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, ack, http.StatusOK)
}

// Progress returns status, progress and ETA of one job
func (h *JobHandler) Progress(w http.ResponseWriter, r *http.Request) {
	rep, err := h.queue.Progress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, rep, http.StatusOK)
}

// Active returns the progress of every pending or processing job
func (h *JobHandler) Active(w http.ResponseWriter, r *http.Request) {
	reports := h.queue.Active()
	jsonResponse(w, map[string]any{"jobs": reports, "count": len(reports)}, http.StatusOK)
}

// Events streams progress reports as server-sent events until the job
// reaches a terminal state or the client goes away.
func (h *JobHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates, stop, err := h.queue.Registry().Watch(id)
	if err != nil {
		// Jobs from an earlier run only exist in history.
		j, herr := h.queue.Get(r.Context(), id)
		if herr != nil {
			writeError(w, herr)
			return
		}
		startStream(w)
		writeEvent(w, "progress", j.Report(h.now()))
		writeEvent(w, "done", j.Report(h.now()))
		flusher.Flush()
		return
	}
	defer stop()

	startStream(w)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case j, ok := <-updates:
			if !ok {
				return
			}
			rep := j.Report(h.now())
			writeEvent(w, "progress", rep)
			if j.Status.IsTerminal() {
				writeEvent(w, "done", rep)
				flusher.Flush()
				return
			}
			flusher.Flush()
		}
	}
}

func startStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func writeEvent(w http.ResponseWriter, event string, data any) {
	b, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
}

// Result returns the transcript of a completed job, as JSON shaped by the
// timestamps/confidence/speakers flags or rendered as text, srt, vtt or
// markdown.
func (h *JobHandler) Result(w http.ResponseWriter, r *http.Request) {
	format, err := transcript.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		jsonResponse(w, map[string]string{"error": err.Error(), "field": "format"}, http.StatusBadRequest)
		return
	}
	opts, err := viewOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	res, err := h.queue.Result(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	if format == transcript.FormatJSON {
		jsonResponse(w, transcript.NewView(res, opts), http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	if r.URL.Query().Get("download") == "1" {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, id, extension(format)))
	}
	transcript.Render(w, res, format, opts)
}

func viewOptions(r *http.Request) (transcript.ViewOptions, error) {
	opts := transcript.DefaultViewOptions
	var err error
	if opts.Timestamps, err = boolParam(r, "timestamps", opts.Timestamps); err != nil {
		return opts, err
	}
	if opts.Confidence, err = boolParam(r, "confidence", opts.Confidence); err != nil {
		return opts, err
	}
	if opts.Speakers, err = boolParam(r, "speakers", opts.Speakers); err != nil {
		return opts, err
	}
	return opts, nil
}

func extension(f transcript.Format) string {
	switch f {
	case transcript.FormatText:
		return "txt"
	case transcript.FormatMarkdown:
		return "md"
	}
	return string(f)
}
