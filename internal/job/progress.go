package job

import (
	"math"
	"time"
)

// maxIncompleteProgress caps the fraction reported before completion so that
// 1.0 is only ever observed together with the completed status.
const maxIncompleteProgress = 0.99

// PlanChunks returns how many chunks a file of the given duration is split
// into. Files at or under the threshold are processed as a single chunk.
func PlanChunks(durationSeconds, chunkLengthSeconds, thresholdSeconds float64) int {
	if durationSeconds <= thresholdSeconds || chunkLengthSeconds <= 0 {
		return 1
	}
	return int(math.Ceil(durationSeconds / chunkLengthSeconds))
}

// EstimateETA returns (elapsed/done)*(total-done), or nil before the first
// chunk has completed.
func EstimateETA(elapsed time.Duration, done, total int) *time.Duration {
	if done <= 0 || total <= 0 {
		return nil
	}
	remaining := total - done
	if remaining < 0 {
		remaining = 0
	}
	eta := time.Duration(float64(elapsed) / float64(done) * float64(remaining))
	return &eta
}

// Progress converts chunk completions into a monotonic fraction. It is not
// safe for concurrent use; the owning registry entry serialises access.
type Progress struct {
	total     int
	done      int
	started   time.Time
	completed bool
}

// NewProgress starts tracking a job of total chunks at started.
func NewProgress(total int, started time.Time) *Progress {
	if total < 1 {
		total = 1
	}
	return &Progress{total: total, started: started}
}

// ChunkDone records that chunk k (1-based) finished. Notifications may arrive
// out of order; only the largest k is kept. It reports whether the tracker advanced.
func (p *Progress) ChunkDone(k int) bool {
	if k > p.total {
		k = p.total
	}
	if k <= p.done {
		return false
	}
	p.done = k
	return true
}

// Complete marks the job finished; Fraction becomes exactly 1.
func (p *Progress) Complete() {
	p.done = p.total
	p.completed = true
}

// Done returns the highest completed chunk.
func (p *Progress) Done() int { return p.done }

// Total returns the number of chunks.
func (p *Progress) Total() int { return p.total }

// Fraction is done/total, held below 1 until Complete. A single-chunk job
// reports 0 until Complete.
func (p *Progress) Fraction() float64 {
	if p.completed {
		return 1.0
	}
	if p.total == 1 {
		return 0
	}
	f := float64(p.done) / float64(p.total)
	if f > maxIncompleteProgress {
		f = maxIncompleteProgress
	}
	return f
}

// ETA estimates the remaining time at now.
func (p *Progress) ETA(now time.Time) *time.Duration {
	if p.completed {
		zero := time.Duration(0)
		return &zero
	}
	return EstimateETA(now.Sub(p.started), p.done, p.total)
}
