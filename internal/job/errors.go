package job

import (
	"errors"
	"fmt"
)

// ErrQueueStopped is returned by submissions after Stop.
var ErrQueueStopped = errors.New("job queue stopped")

// ValidationError rejects a submission before any job is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown job or batch id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NotReadyError is returned for the result of a job that has not completed.
type NotReadyError struct {
	ID      string
	Status  JobStatus
	Message string
}

func (e *NotReadyError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("job %s is %s: %s", e.ID, e.Status, e.Message)
	}
	return fmt.Sprintf("job %s is %s", e.ID, e.Status)
}

// EngineError is a recognition or diarization failure. It is recorded on the
// job and never returned to callers of the queue.
type EngineError struct {
	Engine string
	Stage  string // "transcribe" or "diarize"
	Chunk  int    // 1-based; 0 when not chunk-scoped
	Err    error
}

func (e *EngineError) Error() string {
	if e.Chunk > 0 {
		return fmt.Sprintf("%s %s failed on chunk %d: %v", e.Engine, e.Stage, e.Chunk, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Engine, e.Stage, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsNotReady reports whether err is a NotReadyError.
func IsNotReady(err error) bool {
	var nr *NotReadyError
	return errors.As(err, &nr)
}
