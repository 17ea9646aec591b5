package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/video-stream/transcriber/internal/engine"
	"github.com/video-stream/transcriber/internal/metrics"
	"github.com/video-stream/transcriber/internal/transcript"
)

const (
	MaxBatchFiles           = 10
	MaxBatchConcurrency     = 5
	DefaultBatchConcurrency = 2

	DefaultMaxConcurrent            = 2
	DefaultChunkingThresholdSeconds = 300
)

// History persists job snapshots and results beyond the lifetime of the process.
type History interface {
	Record(ctx context.Context, j Job, res *transcript.Result) error
	Get(ctx context.Context, id string) (Job, error)
	Result(ctx context.Context, id string) (*transcript.Result, error)
	MarkInterrupted(ctx context.Context) (int, error)
}

// Config holds the queue limits and submission defaults.
type Config struct {
	MaxConcurrent            int
	ChunkingThresholdSeconds float64
	MaxFileSizeBytes         int64
	AllowedFormats           []string
	Defaults                 Settings
	// ResolveDevice maps a requested device ("auto", "cuda", ...) to the
	// device the engines run on. Nil keeps the request as is.
	ResolveDevice func(string) string
}

// Deps are the collaborators of the queue. Diarizer and History may be nil.
type Deps struct {
	Prober     engine.Prober
	Recognizer engine.Recognizer
	Diarizer   engine.Diarizer
	History    History
	Logger     *slog.Logger
	Now        func() time.Time
}

type task struct {
	id      string
	release func()
}

// JobQueue schedules transcription jobs in submission order onto a bounded
// number of processing slots.
type JobQueue struct {
	cfg        Config
	reg        *Registry
	prober     engine.Prober
	recognizer engine.Recognizer
	diarizer   engine.Diarizer
	canDiarize bool
	history    History
	log        *slog.Logger
	now        func() time.Time

	slots *semaphore.Weighted

	mu      sync.Mutex
	pending []task
	wake    chan struct{}
	started bool
	stopped bool

	defaultsMu sync.RWMutex
	defaults   Settings

	ctx      context.Context // dispatcher and batch feeders
	cancel   context.CancelFunc
	workCtx  context.Context // engine calls; only aborted when Stop times out
	abort    context.CancelFunc
	wg       sync.WaitGroup
	dispDone chan struct{}
}

// NewJobQueue creates a queue. Call Start to begin processing.
func NewJobQueue(cfg Config, deps Deps) *JobQueue {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.ChunkingThresholdSeconds <= 0 {
		cfg.ChunkingThresholdSeconds = DefaultChunkingThresholdSeconds
	}
	if len(cfg.AllowedFormats) == 0 {
		cfg.AllowedFormats = DefaultAllowedFormats
	}
	if cfg.Defaults == (Settings{}) {
		cfg.Defaults = DefaultSettings
	}
	if cfg.ResolveDevice == nil {
		cfg.ResolveDevice = func(d string) string { return d }
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	gate := engine.NewGate()
	ctx, cancel := context.WithCancel(context.Background())
	workCtx, abort := context.WithCancel(context.Background())
	return &JobQueue{
		cfg:        cfg,
		defaults:   cfg.Defaults,
		reg:        NewRegistry(),
		prober:     deps.Prober,
		recognizer: gate.SerializeRecognizer(deps.Recognizer),
		diarizer:   gate.SerializeDiarizer(deps.Diarizer),
		canDiarize: deps.Diarizer != nil && !engine.IsDisabled(deps.Diarizer),
		history:    deps.History,
		log:        deps.Logger.With("component", "job"),
		now:        deps.Now,
		slots:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		workCtx:    workCtx,
		abort:      abort,
		dispDone:   make(chan struct{}),
	}
}

// Registry exposes the in-memory job state, e.g. for progress streaming.
func (q *JobQueue) Registry() *Registry {
	return q.reg
}

// Start launches the dispatcher.
func (q *JobQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true
	go q.dispatch()
}

// Stop rejects new submissions and waits for running jobs to finish. When ctx
// expires first, in-flight engine calls are cancelled and their jobs fail.
// Jobs still pending are left pending.
func (q *JobQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	started := q.started
	q.mu.Unlock()

	q.cancel()
	if started {
		<-q.dispDone
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		q.abort()
		<-done
		return ctx.Err()
	}
}

// RecoverInterrupted marks history records left unfinished by a previous
// process as failed.
func (q *JobQueue) RecoverInterrupted(ctx context.Context) (int, error) {
	if q.history == nil {
		return 0, nil
	}
	n, err := q.history.MarkInterrupted(ctx)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted jobs: %w", err)
	}
	if n > 0 {
		q.log.Warn("marked interrupted jobs as failed", "count", n)
	}
	return n, nil
}

// Submit validates one file and queues a job for it.
func (q *JobQueue) Submit(ctx context.Context, path string, s Settings) (Job, error) {
	s, err := q.resolveSettings(s)
	if err != nil {
		return Job{}, err
	}
	audio, err := q.validateAudio(ctx, path)
	if err != nil {
		return Job{}, err
	}

	j := q.newJob(audio, s, "")
	if err := q.admit(nil, j); err != nil {
		return Job{}, err
	}
	metrics.RecordSubmitted("single", 1)
	q.persist(ctx, j.ID)
	q.enqueue(task{id: j.ID, release: func() {}})

	q.log.Info("job queued", "job_id", j.ID, "file", audio.Name, "duration_s", audio.DurationSeconds)
	return j, nil
}

// SubmitBatch validates every file first and then queues one job per file.
// At most maxConcurrent of the batch's jobs are processing at any time.
func (q *JobQueue) SubmitBatch(ctx context.Context, paths []string, s Settings, maxConcurrent int) (Batch, error) {
	if len(paths) == 0 || len(paths) > MaxBatchFiles {
		return Batch{}, invalid("paths", "must contain between 1 and %d files, got %d", MaxBatchFiles, len(paths))
	}
	if maxConcurrent == 0 {
		maxConcurrent = DefaultBatchConcurrency
	}
	if maxConcurrent < 1 || maxConcurrent > MaxBatchConcurrency {
		return Batch{}, invalid("max_concurrent", "must be between 1 and %d, got %d", MaxBatchConcurrency, maxConcurrent)
	}
	s, err := q.resolveSettings(s)
	if err != nil {
		return Batch{}, err
	}

	files := make([]AudioFile, 0, len(paths))
	for i, p := range paths {
		audio, err := q.validateAudio(ctx, p)
		if err != nil {
			var v *ValidationError
			if errors.As(err, &v) {
				return Batch{}, invalid(fmt.Sprintf("paths[%d]", i), "%s", v.Reason)
			}
			return Batch{}, err
		}
		files = append(files, audio)
	}

	b := Batch{
		ID:            uuid.New().String(),
		MaxConcurrent: maxConcurrent,
		CreatedAt:     q.now(),
	}
	jobs := make([]Job, 0, len(files))
	for _, f := range files {
		j := q.newJob(f, s, b.ID)
		jobs = append(jobs, j)
		b.JobIDs = append(b.JobIDs, j.ID)
	}
	if err := q.admit(&b, jobs...); err != nil {
		return Batch{}, err
	}
	metrics.RecordSubmitted("batch", len(jobs))
	for _, j := range jobs {
		q.persist(ctx, j.ID)
	}
	gate := semaphore.NewWeighted(int64(maxConcurrent))
	rest := q.enqueueReady(gate, b.JobIDs)
	go q.feed(gate, rest)

	q.log.Info("batch queued", "batch_id", b.ID, "jobs", len(jobs), "max_concurrent", maxConcurrent)
	return b, nil
}

// Get returns a job snapshot, falling back to history for jobs this process
// no longer holds.
func (q *JobQueue) Get(ctx context.Context, id string) (Job, error) {
	j, err := q.reg.Get(id)
	if err == nil || !IsNotFound(err) || q.history == nil {
		return j, err
	}
	return q.history.Get(ctx, id)
}

// Progress returns the progress report of a job.
func (q *JobQueue) Progress(ctx context.Context, id string) (ProgressReport, error) {
	j, err := q.Get(ctx, id)
	if err != nil {
		return ProgressReport{}, err
	}
	return j.Report(q.now()), nil
}

// Active returns progress reports for every pending or processing job.
func (q *JobQueue) Active() []ProgressReport {
	now := q.now()
	out := []ProgressReport{}
	for _, j := range q.reg.List(ListFilter{}) {
		if !j.Status.IsTerminal() {
			out = append(out, j.Report(now))
		}
	}
	return out
}

// Result returns the transcript of a completed job.
func (q *JobQueue) Result(ctx context.Context, id string) (*transcript.Result, error) {
	j, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status != StatusCompleted {
		return nil, &NotReadyError{ID: id, Status: j.Status, Message: j.Error}
	}
	if res, ok := q.reg.Result(id); ok {
		return res, nil
	}
	if q.history == nil {
		return nil, &NotFoundError{Kind: "result", ID: id}
	}
	return q.history.Result(ctx, id)
}

// List returns in-memory jobs matching f, newest first.
func (q *JobQueue) List(f ListFilter) []Job {
	return q.reg.List(f)
}

// Batch returns a batch with its member jobs.
func (q *JobQueue) Batch(id string) (BatchSummary, error) {
	return q.reg.Batch(id)
}

// Cancel requests cancellation of a job. Pending jobs are cancelled at once;
// processing jobs stop at the next chunk boundary.
func (q *JobQueue) Cancel(ctx context.Context, id, reason string) (CancelAck, error) {
	ack, j, changed, err := q.reg.cancel(id, reason, q.now())
	if err != nil {
		if IsNotFound(err) && q.history != nil {
			if hj, herr := q.history.Get(ctx, id); herr == nil {
				return CancelAck{JobID: id, Status: hj.Status, Message: fmt.Sprintf("job already %s", hj.Status)}, nil
			}
		}
		return CancelAck{}, err
	}
	if changed {
		q.log.Info("cancellation requested", "job_id", id, "status", j.Status, "reason", reason)
		if j.Status == StatusCancelled {
			metrics.RecordFinished(string(StatusCancelled))
		}
		q.persist(ctx, id)
	}
	return ack, nil
}

// Forget drops terminal jobs from memory, e.g. after history pruning.
func (q *JobQueue) Forget(ids ...string) int {
	return q.reg.Forget(ids...)
}

// Defaults returns the settings applied to fields a submission leaves unset.
func (q *JobQueue) Defaults() Settings {
	q.defaultsMu.RLock()
	defer q.defaultsMu.RUnlock()
	return q.defaults
}

// SetDefaults replaces the submission defaults. Jobs already created keep
// their settings.
func (q *JobQueue) SetDefaults(s Settings) error {
	s = s.WithDefaults(DefaultSettings)
	if err := q.checkSettings(s); err != nil {
		return err
	}
	q.defaultsMu.Lock()
	q.defaults = s
	q.defaultsMu.Unlock()
	q.log.Info("default settings updated", "model_size", s.ModelSize, "language", s.Language, "device", s.Device)
	return nil
}

func (q *JobQueue) resolveSettings(s Settings) (Settings, error) {
	s = s.WithDefaults(q.Defaults())
	if err := q.checkSettings(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (q *JobQueue) checkSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.RequireDiarization && !q.canDiarize {
		return invalid("require_diarization", "no diarization engine is configured")
	}
	return nil
}

func (q *JobQueue) newJob(audio AudioFile, s Settings, batchID string) Job {
	return Job{
		ID:        uuid.New().String(),
		BatchID:   batchID,
		Audio:     audio,
		Status:    StatusPending,
		Settings:  s,
		StartedAt: q.now(),
	}
}

// admit registers jobs unless the queue is stopped.
func (q *JobQueue) admit(b *Batch, jobs ...Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrQueueStopped
	}
	q.reg.add(b, jobs...)
	if b != nil {
		q.wg.Add(1)
	}
	return nil
}

// persist writes the latest snapshot of a job to history. Failures are logged;
// the in-memory state stays authoritative for the running process.
func (q *JobQueue) persist(ctx context.Context, id string) {
	if q.history == nil {
		return
	}
	err := q.reg.withLatest(id, func(j Job, res *transcript.Result) error {
		return q.history.Record(context.WithoutCancel(ctx), j, res)
	})
	if err != nil {
		q.log.Error("failed to record job history", "job_id", id, "error", err)
	}
}

func (q *JobQueue) enqueue(t task) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		t.release()
		return
	}
	q.pending = append(q.pending, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *JobQueue) next() (task, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			t := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return t, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.ctx.Done():
			return task{}, false
		}
	}
}

// dispatch hands queued jobs to workers in FIFO order as slots free up.
func (q *JobQueue) dispatch() {
	defer close(q.dispDone)
	for {
		t, ok := q.next()
		if !ok {
			return
		}
		if j, err := q.reg.Get(t.id); err != nil || j.Status != StatusPending {
			t.release()
			continue
		}
		if err := q.slots.Acquire(q.ctx, 1); err != nil {
			t.release()
			return
		}

		q.wg.Add(1)
		go func(t task) {
			defer q.wg.Done()
			defer q.slots.Release(1)
			defer t.release()
			q.process(t.id)
		}(t)
	}
}

// enqueueReady queues a batch's leading jobs while its bound has room and
// returns the rest. Those jobs are ahead of anything submitted afterwards.
func (q *JobQueue) enqueueReady(gate *semaphore.Weighted, ids []string) []string {
	for i, id := range ids {
		if !gate.TryAcquire(1) {
			return ids[i:]
		}
		q.enqueue(task{id: id, release: func() { gate.Release(1) }})
	}
	return nil
}

// feed enqueues the remaining jobs of a batch in order, never letting more
// than the batch's bound be queued or processing at once.
func (q *JobQueue) feed(gate *semaphore.Weighted, ids []string) {
	defer q.wg.Done()
	for _, id := range ids {
		if err := gate.Acquire(q.ctx, 1); err != nil {
			return
		}
		if j, err := q.reg.Get(id); err != nil || j.Status != StatusPending {
			gate.Release(1)
			continue
		}
		q.enqueue(task{id: id, release: func() { gate.Release(1) }})
	}
}

// process runs one job from processing to a terminal state.
func (q *JobQueue) process(id string) {
	snap, err := q.reg.Get(id)
	if err != nil {
		return
	}
	total := PlanChunks(snap.Audio.DurationSeconds, snap.Settings.ChunkLengthSeconds, q.cfg.ChunkingThresholdSeconds)
	j, err := q.reg.startProcessing(id, total, q.now())
	if err != nil {
		// cancelled while queued
		return
	}

	metrics.ProcessingStarted()
	defer metrics.ProcessingEnded()

	log := q.log.With("job_id", id)
	if j.BatchID != "" {
		log = log.With("batch_id", j.BatchID)
	}
	log.Info("job started", "file", j.Audio.Name, "chunks", j.TotalChunks)
	q.persist(q.workCtx, id)

	res, err := q.transcribe(q.workCtx, j, log)
	if err == nil {
		_, err = q.reg.complete(id, res, q.now())
	}
	if err != nil && !errors.Is(err, errCancelled) {
		if _, ferr := q.reg.fail(id, err.Error(), q.now()); ferr != nil {
			log.Error("failed to mark job failed", "error", ferr)
		}
	}

	final, _ := q.reg.Get(id)
	switch final.Status {
	case StatusCompleted:
		log.Info("job completed", "segments", len(res.Segments), "speakers", len(res.Speakers), "elapsed_s", final.ProcessingSeconds())
		metrics.RecordAudioSeconds(final.Audio.DurationSeconds)
	case StatusCancelled:
		log.Info("job cancelled", "reason", final.CancelReason, "chunks_done", final.CurrentChunk)
	default:
		log.Error("job failed", "error", final.Error)
	}
	metrics.RecordFinished(string(final.Status))
	q.persist(q.workCtx, id)
}

// transcribe runs the recognizer over every chunk, then the diarizer, and
// merges the two. It returns errCancelled when cancellation is observed at a
// chunk boundary.
func (q *JobQueue) transcribe(ctx context.Context, j Job, log *slog.Logger) (*transcript.Result, error) {
	s := j.Settings
	device := q.cfg.ResolveDevice(s.Device)
	chunkLen := s.ChunkLengthSeconds
	if j.TotalChunks <= 1 {
		chunkLen = 0
	}

	language := s.Language
	if language == "auto" {
		language = ""
	}
	detected := ""

	var segments []transcript.Segment
	for i := 0; i < j.TotalChunks; i++ {
		if _, err := q.reg.checkpoint(j.ID, q.now()); err != nil {
			return nil, err
		}

		offset := float64(i) * chunkLen
		length := chunkLen
		if i == j.TotalChunks-1 {
			length = 0
		}
		req := engine.ChunkRequest{
			JobID:         j.ID,
			Path:          j.Audio.Path,
			Index:         i,
			Total:         j.TotalChunks,
			OffsetSeconds: offset,
			LengthSeconds: length,
			ModelSize:     s.ModelSize,
			Language:      language,
			Device:        device,
			ComputeType:   s.ComputeType,
		}

		start := time.Now()
		out, err := q.recognizer.Transcribe(ctx, req)
		metrics.RecordEngineCall(q.recognizer.Name(), "transcribe", time.Since(start).Seconds(), err)
		if err != nil {
			return nil, &EngineError{Engine: q.recognizer.Name(), Stage: "transcribe", Chunk: i + 1, Err: err}
		}
		if _, err := q.reg.chunkDone(j.ID, i+1, q.now()); err != nil {
			return nil, err
		}
		if out == nil {
			continue
		}
		segments = append(segments, transcript.Shift(out.Segments, offset, length)...)
		if detected == "" {
			detected = out.Language
		}
		log.Debug("chunk transcribed", "chunk", i+1, "total", j.TotalChunks, "segments", len(out.Segments))
	}

	var windows []transcript.SpeakerWindow
	if s.Diarization && q.diarizer != nil {
		if _, err := q.reg.checkpoint(j.ID, q.now()); err != nil {
			return nil, err
		}
		start := time.Now()
		w, err := q.diarizer.Diarize(ctx, engine.DiarizeRequest{JobID: j.ID, Path: j.Audio.Path, Device: device})
		metrics.RecordEngineCall(q.diarizer.Name(), "diarize", time.Since(start).Seconds(), err)
		switch {
		case err != nil && s.RequireDiarization:
			return nil, &EngineError{Engine: q.diarizer.Name(), Stage: "diarize", Err: err}
		case err != nil:
			log.Warn("diarization failed, continuing without speakers", "error", err)
		default:
			windows = w
		}
	}

	if language == "" {
		language = detected
	}
	elapsed := 0.0
	if j.ProcessingAt != nil {
		elapsed = q.now().Sub(*j.ProcessingAt).Seconds()
	}
	return transcript.Merge(j.ID, segments, windows, language, elapsed), nil
}
