package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/video-stream/transcriber/internal/gpu"
	"github.com/video-stream/transcriber/internal/job"
)

type SystemHandler struct {
	queue         *job.JobQueue
	engines       []string
	diarizer      string
	maxConcurrent int
	started       time.Time
}

func NewSystemHandler(queue *job.JobQueue, engines []string, diarizer string, maxConcurrent int) *SystemHandler {
	return &SystemHandler{
		queue:         queue,
		engines:       engines,
		diarizer:      diarizer,
		maxConcurrent: maxConcurrent,
		started:       time.Now(),
	}
}

func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// Info reports the inference setup and current load
func (h *SystemHandler) Info(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	jsonResponse(w, map[string]interface{}{
		"gpu":            gpu.DetectGPU(),
		"device":         gpu.ResolveDevice("auto"),
		"engines":        h.engines,
		"diarizer":       h.diarizer,
		"active_jobs":    len(h.queue.Active()),
		"max_concurrent": h.maxConcurrent,
		"system": map[string]interface{}{
			"go_version":     runtime.Version(),
			"goroutines":     runtime.NumGoroutine(),
			"uptime_seconds": int(time.Since(h.started).Seconds()),
			"mem_alloc":      mem.Alloc,
			"mem_sys":        mem.Sys,
		},
	}, http.StatusOK)
}
