package job

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/video-stream/transcriber/internal/transcript"
)

// entry is the canonical state of one job. Writers hold mu; readers load the
// published snapshot and never take mu.
type entry struct {
	mu       sync.Mutex
	syncMu   sync.Mutex // orders history writes
	job      Job
	progress *Progress
	result   *transcript.Result
	watchers map[int]chan Job
	nextW    int

	snap atomic.Pointer[Job]
}

// publish stores a copy of e.job for readers and notifies watchers. Callers hold e.mu.
func (e *entry) publish() Job {
	s := e.job
	e.snap.Store(&s)
	for id, ch := range e.watchers {
		// Latest wins: drop a stale undelivered snapshot before sending.
		select {
		case <-ch:
		default:
		}
		ch <- s
		if s.Status.IsTerminal() {
			close(ch)
			delete(e.watchers, id)
		}
	}
	return s
}

// Registry owns the canonical state of every job known to this process.
// The map lock only guards membership; each job has its own lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	batches map[string]Batch
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		batches: make(map[string]Batch),
	}
}

// add registers new pending jobs and, optionally, the batch they belong to,
// under one map lock so they become visible together.
func (r *Registry) add(b *Batch, jobs ...Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range jobs {
		e := &entry{job: j, watchers: make(map[int]chan Job)}
		e.publish()
		r.entries[j.ID] = e
	}
	if b != nil {
		r.batches[b.ID] = *b
	}
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: "job", ID: id}
	}
	return e, nil
}

// Get returns the latest published snapshot of a job.
func (r *Registry) Get(id string) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}
	return *e.snap.Load(), nil
}

// Result returns the in-memory result of a completed job, if any.
func (r *Registry) Result(id string) (*transcript.Result, bool) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result, e.result != nil
}

// List returns snapshots matching f, newest StartedAt first, bounded by f.Limit.
func (r *Registry) List(f ListFilter) []Job {
	r.mu.RLock()
	out := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		if j := *e.snap.Load(); f.Matches(j) {
			out = append(out, j)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Batch returns a batch and its member snapshots.
func (r *Registry) Batch(id string) (BatchSummary, error) {
	r.mu.RLock()
	b, ok := r.batches[id]
	r.mu.RUnlock()
	if !ok {
		return BatchSummary{}, &NotFoundError{Kind: "batch", ID: id}
	}

	sum := BatchSummary{Batch: b, Counts: make(map[JobStatus]int), Done: true}
	for _, id := range b.JobIDs {
		j, err := r.Get(id)
		if err != nil {
			continue
		}
		sum.Jobs = append(sum.Jobs, j)
		sum.Counts[j.Status]++
		if !j.Status.IsTerminal() {
			sum.Done = false
		}
	}
	return sum, nil
}

// Watch returns a channel that receives the current snapshot and every later
// one. Slow readers only see the latest snapshot. The channel is closed once
// the job is terminal, or when stop is called.
func (r *Registry) Watch(id string) (<-chan Job, func(), error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan Job, 1)
	e.mu.Lock()
	defer e.mu.Unlock()

	ch <- e.job
	if e.job.Status.IsTerminal() {
		close(ch)
		return ch, func() {}, nil
	}
	wid := e.nextW
	e.nextW++
	e.watchers[wid] = ch

	var once sync.Once
	stop := func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, ok := e.watchers[wid]; ok {
				delete(e.watchers, wid)
				close(ch)
			}
		})
	}
	return ch, stop, nil
}

// Forget drops jobs from memory. Only terminal jobs are removed.
func (r *Registry) Forget(ids ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range ids {
		e, ok := r.entries[id]
		if !ok || !e.snap.Load().Status.IsTerminal() {
			continue
		}
		delete(r.entries, id)
		n++
	}
	for bid, b := range r.batches {
		alive := false
		for _, id := range b.JobIDs {
			if _, ok := r.entries[id]; ok {
				alive = true
				break
			}
		}
		if !alive {
			delete(r.batches, bid)
		}
	}
	return n
}

// update runs fn under the job's lock and publishes the result if fn
// succeeds. fn must leave e.job in a valid state.
func (r *Registry) update(id string, fn func(e *entry) error) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(e); err != nil {
		return e.job, err
	}
	return e.publish(), nil
}

// withLatest hands fn the latest snapshot and result of a job. Calls for the same
// job never overlap, so a later call always observes a state at least as new.
func (r *Registry) withLatest(id string, fn func(Job, *transcript.Result) error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	e.mu.Lock()
	j, res := e.job, e.result
	e.mu.Unlock()
	return fn(j, res)
}

// errNotPending and errCancelled are internal control-flow signals for the worker.
var (
	errNotPending = fmt.Errorf("job is not pending")
	errCancelled  = fmt.Errorf("job cancelled")
)

func transition(e *entry, to JobStatus, now time.Time) error {
	if !canTransition(e.job.Status, to) {
		return fmt.Errorf("invalid transition: %s -> %s", e.job.Status, to)
	}
	e.job.Status = to
	if to.IsTerminal() {
		e.job.CompletedAt = &now
	}
	return nil
}

// startProcessing moves a pending job to processing with a fresh tracker.
func (r *Registry) startProcessing(id string, totalChunks int, now time.Time) (Job, error) {
	return r.update(id, func(e *entry) error {
		if e.job.Status != StatusPending {
			return errNotPending
		}
		if err := transition(e, StatusProcessing, now); err != nil {
			return err
		}
		e.progress = NewProgress(totalChunks, now)
		e.job.ProcessingAt = &now
		e.job.TotalChunks = e.progress.Total()
		e.job.CurrentChunk = 0
		e.job.Progress = 0
		return nil
	})
}

// chunkDone applies a chunk completion unless cancellation was requested, in
// which case the job becomes cancelled and errCancelled is returned.
func (r *Registry) chunkDone(id string, k int, now time.Time) (Job, error) {
	var cancelled bool
	j, err := r.update(id, func(e *entry) error {
		if e.job.CancelRequested {
			cancelled = true
			return transition(e, StatusCancelled, now)
		}
		if e.job.Status != StatusProcessing {
			return fmt.Errorf("chunk completion for %s job", e.job.Status)
		}
		if e.progress.ChunkDone(k) {
			e.job.CurrentChunk = e.progress.Done()
			e.job.Progress = e.progress.Fraction()
		}
		return nil
	})
	if err == nil && cancelled {
		return j, errCancelled
	}
	return j, err
}

// checkpoint is a cancellation boundary without progress.
func (r *Registry) checkpoint(id string, now time.Time) (Job, error) {
	var cancelled bool
	j, err := r.update(id, func(e *entry) error {
		if e.job.CancelRequested && e.job.Status == StatusProcessing {
			cancelled = true
			return transition(e, StatusCancelled, now)
		}
		return nil
	})
	if err == nil && cancelled {
		return j, errCancelled
	}
	return j, err
}

// complete stores the result and moves the job to completed with progress 1.0
// in one critical section. A pending cancellation wins over completion.
func (r *Registry) complete(id string, res *transcript.Result, now time.Time) (Job, error) {
	var cancelled bool
	j, err := r.update(id, func(e *entry) error {
		if e.job.CancelRequested {
			cancelled = true
			return transition(e, StatusCancelled, now)
		}
		if err := transition(e, StatusCompleted, now); err != nil {
			return err
		}
		e.progress.Complete()
		e.job.CurrentChunk = e.progress.Done()
		e.job.Progress = e.progress.Fraction()
		e.result = res
		return nil
	})
	if err == nil && cancelled {
		return j, errCancelled
	}
	return j, err
}

// fail moves a processing job to failed, keeping msg.
func (r *Registry) fail(id, msg string, now time.Time) (Job, error) {
	return r.update(id, func(e *entry) error {
		if e.job.CancelRequested {
			return transition(e, StatusCancelled, now)
		}
		if err := transition(e, StatusFailed, now); err != nil {
			return err
		}
		e.job.Error = msg
		return nil
	})
}

// cancel applies a cancellation request: pending jobs are cancelled at once,
// processing jobs are flagged for the worker, terminal jobs are left alone.
// changed reports whether the request altered the job.
func (r *Registry) cancel(id, reason string, now time.Time) (ack CancelAck, j Job, changed bool, err error) {
	j, err = r.update(id, func(e *entry) error {
		ack.JobID = e.job.ID
		switch e.job.Status {
		case StatusPending:
			e.job.CancelReason = reason
			if err := transition(e, StatusCancelled, now); err != nil {
				return err
			}
			ack.Message = "job cancelled before processing started"
			changed = true
		case StatusProcessing:
			if !e.job.CancelRequested {
				e.job.CancelRequested = true
				e.job.CancelReason = reason
				changed = true
			}
			ack.CancelRequested = true
			ack.Message = "cancellation requested; the job stops after the current chunk"
		default:
			ack.Message = fmt.Sprintf("job already %s", e.job.Status)
		}
		ack.Status = e.job.Status
		return nil
	})
	return ack, j, changed, err
}
