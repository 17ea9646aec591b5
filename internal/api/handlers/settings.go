package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/video-stream/transcriber/internal/db"
	"github.com/video-stream/transcriber/internal/job"
)

// defaultsKey is the settings row holding the persisted job defaults.
const defaultsKey = "job_defaults"

type SettingsHandler struct {
	database *db.Database
	queue    *job.JobQueue
	log      *slog.Logger
}

func NewSettingsHandler(database *db.Database, queue *job.JobQueue, log *slog.Logger) *SettingsHandler {
	return &SettingsHandler{database: database, queue: queue, log: log.With("component", "settings")}
}

type settingsOptions struct {
	ModelSizes            []string `json:"model_sizes"`
	Devices               []string `json:"devices"`
	ComputeTypes          []string `json:"compute_types"`
	MinChunkLengthSeconds float64  `json:"min_chunk_length_seconds"`
	MaxChunkLengthSeconds float64  `json:"max_chunk_length_seconds"`
}

type settingsResponse struct {
	Defaults job.Settings    `json:"defaults"`
	Options  settingsOptions `json:"options"`
}

func (h *SettingsHandler) response() settingsResponse {
	return settingsResponse{
		Defaults: h.queue.Defaults(),
		Options: settingsOptions{
			ModelSizes:            job.ModelSizes,
			Devices:               job.Devices,
			ComputeTypes:          job.ComputeTypes,
			MinChunkLengthSeconds: job.MinChunkLengthSeconds,
			MaxChunkLengthSeconds: job.MaxChunkLengthSeconds,
		},
	}
}

// GetSettings returns the job defaults and the accepted values
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, h.response(), http.StatusOK)
}

// UpdateSettings replaces the job defaults. Omitted fields keep their
// current value.
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	s := h.queue.Defaults()
	if err := decodeJSON(r, &s); err != nil {
		writeError(w, err)
		return
	}
	if err := h.queue.SetDefaults(s); err != nil {
		writeError(w, err)
		return
	}

	raw, err := json.Marshal(h.queue.Defaults())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.database.SetSetting(defaultsKey, string(raw)); err != nil {
		h.log.Error("persist defaults", "error", err)
		jsonError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, h.response(), http.StatusOK)
}

// RestoreDefaults applies job defaults saved by a previous run. A stored
// value that no longer validates is ignored.
func RestoreDefaults(database *db.Database, queue *job.JobQueue) error {
	raw := database.GetSetting(defaultsKey, "")
	if raw == "" {
		return nil
	}
	s := queue.Defaults()
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return fmt.Errorf("decode stored defaults: %w", err)
	}
	return queue.SetDefaults(s)
}
