package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/video-stream/transcriber/internal/history"
	"github.com/video-stream/transcriber/internal/job"
)

const defaultStatsDays = 30

type HistoryHandler struct {
	store *history.Store
	queue *job.JobQueue
	log   *slog.Logger
	now   func() time.Time
}

func NewHistoryHandler(store *history.Store, queue *job.JobQueue, log *slog.Logger) *HistoryHandler {
	return &HistoryHandler{store: store, queue: queue, log: log.With("component", "history"), now: time.Now}
}

// List queries persisted jobs with optional statistics
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
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
	withStats, err := boolParam(r, "stats", false)
	if err != nil {
		writeError(w, err)
		return
	}
	statsDays := 0
	if withStats {
		statsDays = defaultStatsDays
		if v := r.URL.Query().Get("stats_days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, &job.ValidationError{Field: "stats_days", Reason: "must be a positive integer"})
				return
			}
			statsDays = n
		}
	}

	page, err := h.store.Query(r.Context(), f, statsDays)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, page, http.StatusOK)
}

// Prune deletes terminal jobs older than older_than_days and forgets them
// in memory.
func (h *HistoryHandler) Prune(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("older_than_days"))
	if err != nil || days < 1 {
		writeError(w, &job.ValidationError{Field: "older_than_days", Reason: "must be a positive integer"})
		return
	}

	ids, err := h.store.Prune(r.Context(), h.now().AddDate(0, 0, -days))
	if err != nil {
		writeError(w, err)
		return
	}
	h.queue.Forget(ids...)
	h.log.Info("history pruned", "older_than_days", days, "jobs", len(ids))
	jsonResponse(w, map[string]int{"pruned": len(ids)}, http.StatusOK)
}
