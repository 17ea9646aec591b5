package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/video-stream/transcriber/internal/transcript"
	"golang.org/x/sync/semaphore"
)

// Gate allows one in-flight inference call per device.
type Gate struct {
	mu         sync.Mutex
	semaphores map[string]*semaphore.Weighted
}

// NewGate creates an empty gate; device slots are created on first use.
func NewGate() *Gate {
	return &Gate{semaphores: make(map[string]*semaphore.Weighted)}
}

func (g *Gate) slot(device string) *semaphore.Weighted {
	if device == "" {
		device = "default"
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	sem, ok := g.semaphores[device]
	if !ok {
		sem = semaphore.NewWeighted(1)
		g.semaphores[device] = sem
	}
	return sem
}

// Do runs fn while holding the device slot.
func (g *Gate) Do(ctx context.Context, device string, fn func() error) error {
	sem := g.slot(device)
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire device %q: %w", device, err)
	}
	defer sem.Release(1)
	return fn()
}

type gatedRecognizer struct {
	Recognizer
	gate *Gate
}

func (r gatedRecognizer) Transcribe(ctx context.Context, req ChunkRequest) (*Transcription, error) {
	var out *Transcription
	err := r.gate.Do(ctx, req.Device, func() error {
		var err error
		out, err = r.Recognizer.Transcribe(ctx, req)
		return err
	})
	return out, err
}

type gatedDiarizer struct {
	Diarizer
	gate *Gate
}

func (d gatedDiarizer) Diarize(ctx context.Context, req DiarizeRequest) ([]transcript.SpeakerWindow, error) {
	var out []transcript.SpeakerWindow
	err := d.gate.Do(ctx, req.Device, func() error {
		var err error
		out, err = d.Diarizer.Diarize(ctx, req)
		return err
	})
	return out, err
}

// SerializeRecognizer wraps r so that calls on the same device do not overlap,
// unless r advertises concurrent use.
func (g *Gate) SerializeRecognizer(r Recognizer) Recognizer {
	if r == nil || isConcurrent(r) {
		return r
	}
	return gatedRecognizer{Recognizer: r, gate: g}
}

// SerializeDiarizer is SerializeRecognizer for diarizers.
func (g *Gate) SerializeDiarizer(d Diarizer) Diarizer {
	if d == nil || isConcurrent(d) {
		return d
	}
	return gatedDiarizer{Diarizer: d, gate: g}
}
