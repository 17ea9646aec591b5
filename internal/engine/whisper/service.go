package whisper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/video-stream/transcriber/internal/engine"
)

// Service tries the registered engines in registration order and falls back
// to the next one when an engine fails.
type Service struct {
	engines map[string]engine.Recognizer
	order   []string
	logger  *slog.Logger
}

// NewService creates a whisper service with the engines that are configured.
// whisper.cpp is preferred when both are present.
func NewService(whisperURL, openAIURL, openAIKey, openAIModel string, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		engines: make(map[string]engine.Recognizer),
		logger:  logger.With("component", "whisper"),
	}
	opts = append([]Option{WithLogger(logger)}, opts...)

	if whisperURL != "" {
		s.RegisterEngine("whisper.cpp", NewCppClient(whisperURL, opts...))
	}
	if openAIKey != "" || (openAIURL != "" && openAIURL != DefaultOpenAIURL) {
		s.RegisterEngine("openai", NewOpenAIClient(openAIURL, openAIKey, openAIModel, opts...))
	}
	return s
}

// RegisterEngine adds an engine at the end of the fallback order.
func (s *Service) RegisterEngine(name string, r engine.Recognizer) {
	if _, ok := s.engines[name]; !ok {
		s.order = append(s.order, name)
	}
	s.engines[name] = r
	s.logger.Info("registered engine", "engine", name)
}

// Engines returns the engine names in fallback order.
func (s *Service) Engines() []string {
	return append([]string(nil), s.order...)
}

func (s *Service) Name() string {
	if len(s.order) == 1 {
		return s.order[0]
	}
	return "whisper"
}

// Concurrent holds only when every engine accepts parallel calls.
func (s *Service) Concurrent() bool {
	if len(s.order) == 0 {
		return false
	}
	for _, name := range s.order {
		c, ok := s.engines[name].(engine.Concurrent)
		if !ok || !c.Concurrent() {
			return false
		}
	}
	return true
}

func (s *Service) Transcribe(ctx context.Context, req engine.ChunkRequest) (*engine.Transcription, error) {
	if len(s.order) == 0 {
		return nil, errors.New("no whisper engine configured")
	}

	var errs []string
	for i, name := range s.order {
		out, err := s.engines[name].Transcribe(ctx, req)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		if i < len(s.order)-1 {
			s.logger.Warn("engine failed, falling back",
				"engine", name, "next", s.order[i+1], "job_id", req.JobID, "error", err)
		}
	}
	return nil, errors.New(strings.Join(errs, "; "))
}
