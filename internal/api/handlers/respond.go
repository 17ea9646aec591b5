package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/video-stream/transcriber/internal/job"
)

func jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	jsonResponse(w, map[string]string{"error": msg}, status)
}

// writeError maps queue and store errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		validation *job.ValidationError
		notFound   *job.NotFoundError
		notReady   *job.NotReadyError
	)
	switch {
	case errors.As(err, &validation):
		jsonResponse(w, map[string]string{"error": validation.Error(), "field": validation.Field}, http.StatusBadRequest)
	case errors.As(err, &notFound):
		jsonError(w, notFound.Error(), http.StatusNotFound)
	case errors.As(err, &notReady):
		jsonResponse(w, map[string]string{"error": notReady.Error(), "status": string(notReady.Status)}, http.StatusConflict)
	case errors.Is(err, job.ErrQueueStopped):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		slog.Error("request failed", "component", "http", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &job.ValidationError{Reason: "invalid request body: " + err.Error()}
	}
	return nil
}

// listQuery holds the raw list and history query parameters, shared by the
// REST routes and the tool arguments.
type listQuery struct {
	Limit   int    `json:"limit"`
	Status  string `json:"status"`
	From    string `json:"from"`
	To      string `json:"to"`
	Search  string `json:"search"`
	BatchID string `json:"batch_id"`
}

func listQueryFromURL(r *http.Request) (listQuery, error) {
	q := r.URL.Query()
	lq := listQuery{
		Status:  q.Get("status"),
		From:    q.Get("from"),
		To:      q.Get("to"),
		Search:  q.Get("q"),
		BatchID: q.Get("batch_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return lq, &job.ValidationError{Field: "limit", Reason: "must be an integer"}
		}
		lq.Limit = n
	}
	return lq, nil
}

func (lq listQuery) filter() (job.ListFilter, error) {
	f := job.ListFilter{Search: strings.TrimSpace(lq.Search), BatchID: lq.BatchID, Limit: lq.Limit}
	if lq.Status != "" {
		s, err := job.ParseStatus(lq.Status)
		if err != nil {
			return f, err
		}
		f.Status = s
	}
	var err error
	if f.From, err = parseTime("from", lq.From, false); err != nil {
		return f, err
	}
	if f.To, err = parseTime("to", lq.To, true); err != nil {
		return f, err
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, &job.ValidationError{Field: "to", Reason: "must not be before from"}
	}
	return f, nil
}

// parseTime accepts RFC 3339 or a plain date. A plain date used as an upper
// bound covers the whole day.
func parseTime(field, v string, endOfDay bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, &job.ValidationError{Field: field, Reason: "must be RFC 3339 or YYYY-MM-DD"}
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func boolParam(r *http.Request, name string, def bool) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, &job.ValidationError{Field: name, Reason: "must be a boolean"}
	}
	return b, nil
}
